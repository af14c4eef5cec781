package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ieee0824/ctceval"
	"github.com/ieee0824/ctceval/evaluate"
)

type evalReport struct {
	Decoder    string         `json:"decoder" yaml:"decoder"`
	Batches    int            `json:"batches" yaml:"batches"`
	Samples    int            `json:"samples" yaml:"samples"`
	Skipped    int            `json:"skipped" yaml:"skipped"`
	WordErrors int            `json:"word_errors" yaml:"word_errors"`
	RefWords   int            `json:"ref_words" yaml:"ref_words"`
	CharErrors int            `json:"char_errors" yaml:"char_errors"`
	RefChars   int            `json:"ref_chars" yaml:"ref_chars"`
	WER        float64        `json:"wer" yaml:"wer"`
	CER        float64        `json:"cer" yaml:"cer"`
	Details    []sampleReport `json:"samples_detail,omitempty" yaml:"samples_detail,omitempty"`
}

type sampleReport struct {
	Batch      int     `json:"batch" yaml:"batch"`
	Index      int     `json:"index" yaml:"index"`
	Reference  string  `json:"reference" yaml:"reference"`
	Hypothesis string  `json:"hypothesis" yaml:"hypothesis"`
	WER        float64 `json:"wer" yaml:"wer"`
	CER        float64 `json:"cer" yaml:"cer"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r *evalReport) table() string {
	return box("Evaluation", [][2]string{
		{"Decoder", r.Decoder},
		{"Samples", fmt.Sprintf("%d (%d skipped, %d batches)", r.Samples, r.Skipped, r.Batches)},
		{"Average WER", fmt.Sprintf("%.3f", r.WER)},
		{"Average CER", fmt.Sprintf("%.3f", r.CER)},
	})
}

func newEvalReport(decoderName string, res *evaluate.Result) *evalReport {
	t := res.Tally
	r := &evalReport{
		Decoder:    decoderName,
		Batches:    res.Batches,
		Samples:    t.Samples,
		Skipped:    t.Skipped,
		WordErrors: t.WordErrors,
		RefWords:   t.RefWords,
		CharErrors: t.CharErrors,
		RefChars:   t.RefChars,
		WER:        res.WER,
		CER:        res.CER,
	}
	for _, s := range res.Samples {
		sr := sampleReport{
			Batch:      s.Batch,
			Index:      s.Index,
			Reference:  s.Reference,
			Hypothesis: s.Hypothesis,
			WER:        s.WER(),
			CER:        s.CER(),
		}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		r.Details = append(r.Details, sr)
	}
	return r
}

func (c *CLI) newEvalCommand() *cobra.Command {
	var (
		rf      runFlags
		format  string
		samples bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Decode a dump file and report average WER and CER",
		Example: `  ctceval eval --dump test.msgpack --labels labels.json
  ctceval eval --dump test.msgpack --labels labels.json --decoder beam --lm lm.arpa --alpha 0.8 --beta 1
  ctceval eval --config run.yaml --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.resolve(cmd)
			if err != nil {
				return err
			}
			sink, closeOutputs, err := outputs(cfg)
			defer func() {
				if cerr := closeOutputs(); cerr != nil {
					slog.Error("close output", "error", cerr)
				}
			}()
			if err != nil {
				return err
			}

			opts := []ctceval.Option{ctceval.WithKeepSamples(samples)}
			if sink != nil {
				opts = append(opts, ctceval.WithOutput(sink))
			}
			s, err := newSession(cfg, opts...)
			if err != nil {
				return err
			}

			slog.Info("Evaluating", "dump", rf.dumpPath, "decoder", cfg.Decoder, "batch-size", cfg.BatchSize)
			start := time.Now()
			res, err := s.EvaluateFile(cmd.Context(), rf.dumpPath, cfg.BatchSize)
			if err != nil && !(errors.Is(err, evaluate.ErrEmptyReference) && res != nil) {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			report := newEvalReport(cfg.Decoder, res)
			if werr := writeResult(cmd.OutOrStdout(), format, report, report.table); werr != nil {
				return werr
			}
			return err
		},
	}

	rf.register(cmd, true)
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, yaml or json")
	cmd.Flags().BoolVar(&samples, "samples", false, "include per-sample results in yaml/json output")
	return cmd
}
