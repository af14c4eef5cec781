package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ieee0824/ctceval/dump"
)

type decodedSample struct {
	Sample     int          `json:"sample" yaml:"sample"`
	Reference  string       `json:"reference,omitempty" yaml:"reference,omitempty"`
	Hypotheses []decodedHyp `json:"hypotheses" yaml:"hypotheses"`
}

type decodedHyp struct {
	Rank    int     `json:"rank" yaml:"rank"`
	Text    string  `json:"text" yaml:"text"`
	Score   float64 `json:"score" yaml:"score"`
	LMScore float64 `json:"lm_score,omitempty" yaml:"lm_score,omitempty"`
}

func renderDecoded(samples []decodedSample) string {
	var b strings.Builder
	for _, s := range samples {
		fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(fmt.Sprintf("#%d", s.Sample)), labelStyle.Render(s.Reference))
		for _, h := range s.Hypotheses {
			fmt.Fprintf(&b, "  %2d  %-40s %10.3f\n", h.Rank, h.Text, h.Score+h.LMScore)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *CLI) newDecodeCommand() *cobra.Command {
	var (
		rf     runFlags
		format string
		top    int
	)

	cmd := &cobra.Command{
		Use:     "decode",
		Short:   "Decode a dump file and print ranked transcripts",
		Example: `  ctceval decode --dump test.msgpack --labels labels.json --decoder beam --top 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.resolve(cmd)
			if err != nil {
				return err
			}
			s, err := newSession(cfg)
			if err != nil {
				return err
			}
			r, err := dump.Open(rf.dumpPath)
			if err != nil {
				return err
			}
			defer r.Close()

			var out []decodedSample
			n := 0
			for in, err := range dump.Batches(r.Records(), s.Labels, cfg.BatchSize) {
				if err != nil {
					return err
				}
				hyps, err := s.Decode(in.Batch)
				if err != nil {
					return err
				}
				offset := 0
				for i, hs := range hyps {
					ref, err := s.Labels.Join(in.Targets[offset : offset+in.TargetLengths[i]])
					if err != nil {
						return err
					}
					offset += in.TargetLengths[i]
					ds := decodedSample{Sample: n, Reference: ref}
					for rank, h := range hs {
						if rank == top {
							break
						}
						ds.Hypotheses = append(ds.Hypotheses, decodedHyp{
							Rank: rank + 1, Text: h.Text, Score: h.Score, LMScore: h.LMScore,
						})
					}
					out = append(out, ds)
					n++
				}
			}
			slog.Debug("Decoding completed", "samples", n)
			return writeResult(cmd.OutOrStdout(), format, out, func() string { return renderDecoded(out) })
		},
	}

	rf.register(cmd, false)
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, yaml or json")
	cmd.Flags().IntVar(&top, "top", 1, "hypotheses printed per sample")
	return cmd
}
