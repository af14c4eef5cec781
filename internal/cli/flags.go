package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ieee0824/ctceval"
	"github.com/ieee0824/ctceval/dump"
	"github.com/ieee0824/ctceval/evaluate"
	"github.com/ieee0824/ctceval/internal/config"
	"github.com/ieee0824/ctceval/labels"
)

// runFlags binds the run configuration to command flags. Flags given on the
// command line override values from --config.
type runFlags struct {
	configPath string
	dumpPath   string
	flags      *config.Config
	// decoder, when set, replaces the configured decoder.
	decoder string
}

// overrides copies one flag's value into a loaded configuration.
var overrides = map[string]func(dst, src *config.Config){
	"labels":       func(d, s *config.Config) { d.Labels = s.Labels },
	"blank":        func(d, s *config.Config) { d.Blank = s.Blank },
	"decoder":      func(d, s *config.Config) { d.Decoder = s.Decoder },
	"beam-width":   func(d, s *config.Config) { d.Beam.Width = s.Beam.Width },
	"cutoff-top-n": func(d, s *config.Config) { d.Beam.CutoffTopN = s.Beam.CutoffTopN },
	"cutoff-prob":  func(d, s *config.Config) { d.Beam.CutoffProb = s.Beam.CutoffProb },
	"workers":      func(d, s *config.Config) { d.Beam.Workers = s.Beam.Workers },
	"lm":           func(d, s *config.Config) { d.LM.Path = s.LM.Path },
	"alpha":        func(d, s *config.Config) { d.LM.Alpha = s.LM.Alpha },
	"beta":         func(d, s *config.Config) { d.LM.Beta = s.LM.Beta },
	"oov-prob":     func(d, s *config.Config) { d.LM.OOVLog10 = s.LM.OOVLog10 },
	"batch-size":   func(d, s *config.Config) { d.BatchSize = s.BatchSize },
	"prefetch":     func(d, s *config.Config) { d.Prefetch = s.Prefetch },
	"no-space-cer": func(d, s *config.Config) { d.NoSpaceCER = s.NoSpaceCER },
	"save-output":  func(d, s *config.Config) { d.Output.File = s.Output.File },
	"badger":       func(d, s *config.Config) { d.Output.Badger = s.Output.Badger },
}

func (f *runFlags) register(cmd *cobra.Command, withOutput bool) {
	f.flags = config.Default()
	c := f.flags
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML run configuration")
	fl.StringVar(&f.dumpPath, "dump", "", "msgpack dump file of model output (required)")
	fl.StringVar(&c.Labels, "labels", c.Labels, "label file (JSON array or YAML list)")
	fl.StringVar(&c.Blank, "blank", c.Blank, "blank label")
	fl.StringVar(&c.Decoder, "decoder", c.Decoder, "decoder: greedy or beam")
	fl.IntVar(&c.Beam.Width, "beam-width", c.Beam.Width, "beams kept per step")
	fl.IntVar(&c.Beam.CutoffTopN, "cutoff-top-n", c.Beam.CutoffTopN, "labels expanded per step (0: min(40, labels))")
	fl.Float64Var(&c.Beam.CutoffProb, "cutoff-prob", c.Beam.CutoffProb, "cumulative probability kept per step")
	fl.IntVar(&c.Beam.Workers, "workers", c.Beam.Workers, "samples decoded in parallel")
	fl.StringVar(&c.LM.Path, "lm", c.LM.Path, "ARPA language model for beam rescoring")
	fl.Float64Var(&c.LM.Alpha, "alpha", c.LM.Alpha, "language model weight")
	fl.Float64Var(&c.LM.Beta, "beta", c.LM.Beta, "word insertion bonus")
	fl.Float64Var(&c.LM.OOVLog10, "oov-prob", c.LM.OOVLog10, "OOV log10 probability (0: disabled)")
	fl.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "records per batch")
	fl.IntVar(&c.Prefetch, "prefetch", c.Prefetch, "batches read ahead of scoring")
	fl.BoolVar(&c.NoSpaceCER, "no-space-cer", c.NoSpaceCER, "remove spaces before character scoring")
	if withOutput {
		fl.StringVar(&c.Output.File, "save-output", c.Output.File, "write decoded samples to a msgpack dump file")
		fl.StringVar(&c.Output.Badger, "badger", c.Output.Badger, "write decoded samples to a BadgerDB directory")
	}
}

func (f *runFlags) resolve(cmd *cobra.Command) (*config.Config, error) {
	if f.dumpPath == "" {
		return nil, errors.New("--dump is required")
	}
	cfg := f.flags
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		for name, apply := range overrides {
			if cmd.Flags().Changed(name) {
				apply(loaded, f.flags)
			}
		}
		cfg = loaded
	}
	if f.decoder != "" {
		cfg.Decoder = f.decoder
	}
	if cfg.Labels == "" {
		return nil, errors.New("--labels is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newSession(cfg *config.Config, extra ...ctceval.Option) (*ctceval.Session, error) {
	set, err := labels.Load(cfg.Labels, cfg.Blank)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	opts := []ctceval.Option{
		ctceval.WithLogger(slog.Default()),
		ctceval.WithPrefetch(cfg.Prefetch),
		ctceval.WithNoSpaceCER(cfg.NoSpaceCER),
	}
	if cfg.Decoder == config.DecoderBeam {
		opts = append(opts, ctceval.WithBeamSearch(cfg.BeamConfig(set.Len())))
	}
	if cfg.LM.Path != "" {
		opts = append(opts,
			ctceval.WithOOVLogProb(cfg.LM.OOVLog10),
			ctceval.WithLanguageModelFile(cfg.LM.Path, cfg.LM.Alpha, cfg.LM.Beta))
	}
	return ctceval.NewSession(set, append(opts, extra...)...)
}

// outputs opens the sinks named in cfg.Output. closeAll must be called even on error paths.
func outputs(cfg *config.Config) (sink evaluate.Sink, closeAll func() error, err error) {
	var (
		sinks   []evaluate.Sink
		closers []func() error
	)
	closeAll = func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	if cfg.Output.File != "" {
		w, err := dump.Create(cfg.Output.File)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, w)
		closers = append(closers, w.Close)
	}
	if cfg.Output.Badger != "" {
		db, err := dump.OpenBadger(dump.BadgerOptions{Dir: cfg.Output.Badger, Logger: slog.Default()})
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, db)
		closers = append(closers, db.Close)
	}
	switch len(sinks) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	}
	return evaluate.SinkFunc(func(r evaluate.Record) error {
		for _, s := range sinks {
			if err := s.Write(r); err != nil {
				return err
			}
		}
		return nil
	}), closeAll, nil
}
