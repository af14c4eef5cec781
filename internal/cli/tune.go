package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ieee0824/ctceval/decoder"
	"github.com/ieee0824/ctceval/dump"
	"github.com/ieee0824/ctceval/evaluate"
	"github.com/ieee0824/ctceval/internal/config"
	"github.com/ieee0824/ctceval/internal/parallel"
	"github.com/ieee0824/ctceval/labels"
	"github.com/ieee0824/ctceval/language"
)

type tuneResult struct {
	Alpha   float64 `json:"alpha" yaml:"alpha"`
	Beta    float64 `json:"beta" yaml:"beta"`
	WER     float64 `json:"wer" yaml:"wer"`
	CER     float64 `json:"cer" yaml:"cer"`
	Samples int     `json:"samples" yaml:"samples"`
	Error   string  `json:"error,omitempty" yaml:"error,omitempty"`
}

func renderTune(results []tuneResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%-8s %-8s %8s %8s %8s", "Alpha", "Beta", "WER", "CER", "Samples")))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(strings.Repeat("-", 44)))
	for _, r := range results {
		b.WriteString("\n")
		if r.Error != "" {
			fmt.Fprintf(&b, "%-8.2f %-8.2f %s", r.Alpha, r.Beta, r.Error)
			continue
		}
		fmt.Fprintf(&b, "%-8.2f %-8.2f %8.3f %8.3f %8d", r.Alpha, r.Beta, r.WER, r.CER, r.Samples)
	}
	return b.String()
}

// sortTuneResults orders by WER, then CER, then the smaller weights; failed
// combinations go last.
func sortTuneResults(results []tuneResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if (a.Error == "") != (b.Error == "") {
			return a.Error == ""
		}
		if a.WER != b.WER {
			return a.WER < b.WER
		}
		if a.CER != b.CER {
			return a.CER < b.CER
		}
		if a.Alpha != b.Alpha {
			return a.Alpha < b.Alpha
		}
		return a.Beta < b.Beta
	})
}

// tuneCombo scores every input with one alpha/beta pair and sums the tallies.
func tuneCombo(set *labels.Set, cfg decoder.BeamConfig, lm decoder.Scorer, alpha, beta float64,
	inputs []evaluate.Input, noSpaceCER bool) tuneResult {
	res := tuneResult{Alpha: alpha, Beta: beta}
	cfg.LM = decoder.WithLanguageModel{Scorer: lm, Alpha: alpha, Beta: beta}
	bs, err := decoder.NewBeamSearch(set, cfg)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	ev := evaluate.New(bs, decoder.NewGreedy(set), evaluate.Options{NoSpaceCER: noSpaceCER, Logger: slog.Default()})
	var total evaluate.Tally
	for _, in := range inputs {
		t, _, err := ev.ScoreBatch(evaluate.Tally{}, in)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		total = total.Merge(t)
	}
	res.Samples = total.Samples
	if res.WER, err = total.WER(); err == nil {
		res.CER, err = total.CER()
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (c *CLI) newTuneCommand() *cobra.Command {
	var (
		rf     runFlags
		format string
		alphas []float64
		betas  []float64
		combos int
	)

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Grid search language model weight and word bonus",
		Example: `  ctceval tune --dump dev.msgpack --labels labels.json --lm lm.arpa \
    --alphas 0.5,0.8,1.2 --betas 0,1,2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.resolve(cmd)
			if err != nil {
				return err
			}
			if cfg.LM.Path == "" {
				return errors.New("--lm is required")
			}
			if len(alphas) == 0 || len(betas) == 0 {
				return errors.New("--alphas and --betas must not be empty")
			}
			if combos <= 0 {
				combos = runtime.NumCPU()
			}

			set, err := labels.Load(cfg.Labels, cfg.Blank)
			if err != nil {
				return fmt.Errorf("load labels: %w", err)
			}
			lm, err := language.LoadARPAFile(cfg.LM.Path, cfg.LM.OOVLog10)
			if err != nil {
				return err
			}

			r, err := dump.Open(rf.dumpPath)
			if err != nil {
				return err
			}
			var inputs []evaluate.Input
			for in, err := range dump.Batches(r.Records(), set, cfg.BatchSize) {
				if err != nil {
					r.Close()
					return err
				}
				inputs = append(inputs, in)
			}
			r.Close()

			type combo struct{ alpha, beta float64 }
			var grid []combo
			for _, a := range alphas {
				for _, b := range betas {
					grid = append(grid, combo{a, b})
				}
			}
			slog.Info("Running grid search", "combos", len(grid), "batches", len(inputs), "parallel", combos)

			beamCfg := cfg.BeamConfig(set.Len())
			results := make([]tuneResult, len(grid))
			parallel.For(len(grid), combos, func(i int) {
				results[i] = tuneCombo(set, beamCfg, lm, grid[i].alpha, grid[i].beta, inputs, cfg.NoSpaceCER)
				slog.Debug("combo finished", "alpha", results[i].Alpha, "beta", results[i].Beta, "wer", results[i].WER)
			})
			sortTuneResults(results)

			return writeResult(cmd.OutOrStdout(), format, results, func() string { return renderTune(results) })
		},
	}

	rf.register(cmd, false)
	rf.decoder = config.DecoderBeam
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, yaml or json")
	cmd.Flags().Float64SliceVar(&alphas, "alphas", []float64{0.5, 0.8, 1.0, 1.5, 2.0}, "language model weights to try")
	cmd.Flags().Float64SliceVar(&betas, "betas", []float64{0, 0.5, 1.0, 2.0}, "word bonuses to try")
	cmd.Flags().IntVar(&combos, "parallel", 0, "combinations evaluated in parallel (default: NumCPU)")
	return cmd
}
