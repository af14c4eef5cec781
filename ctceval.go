// Package ctceval decodes CTC model output and scores it against reference
// transcripts.
//
// A Session bundles a label set, a decoder (greedy or prefix beam search with
// optional n-gram rescoring) and the evaluation options:
//
//	s, err := ctceval.NewSessionFromFile("labels.json", "_",
//		ctceval.WithBeamSearch(decoder.DefaultBeamConfig(29)),
//		ctceval.WithLanguageModelFile("lm.arpa", 0.8, 1.0))
//	res, err := s.EvaluateFile(ctx, "dump.msgpack", 20)
//	fmt.Printf("WER %.2f CER %.2f\n", res.WER, res.CER)
package ctceval

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ieee0824/ctceval/decoder"
	"github.com/ieee0824/ctceval/dump"
	"github.com/ieee0824/ctceval/evaluate"
	"github.com/ieee0824/ctceval/labels"
	"github.com/ieee0824/ctceval/language"
)

// Session is the top-level decode-and-score entry point.
type Session struct {
	Labels  *labels.Set
	Decoder decoder.Decoder

	greedy *decoder.Greedy
	beam   *decoder.BeamConfig
	lm     *lmSource
	oov    float64
	opts   evaluate.Options
}

type lmSource struct {
	path   string
	scorer decoder.Scorer
	alpha  float64
	beta   float64
}

// Option configures a Session.
type Option func(*Session)

// WithGreedy selects greedy decoding. This is the default.
func WithGreedy() Option {
	return func(s *Session) {
		s.beam = nil
	}
}

// WithBeamSearch selects prefix beam search with cfg. cfg.LM is replaced when
// a language model option is also given.
func WithBeamSearch(cfg decoder.BeamConfig) Option {
	return func(s *Session) {
		s.beam = &cfg
	}
}

// WithLanguageModelFile rescores beams with the ARPA model at path. It
// enables beam search with default parameters unless WithBeamSearch is given.
func WithLanguageModelFile(path string, alpha, beta float64) Option {
	return func(s *Session) {
		s.lm = &lmSource{path: path, alpha: alpha, beta: beta}
	}
}

// WithOOVLogProb sets the log10 probability of words missing from the
// language model (e.g. -5.0). It defaults to language.DefaultOOVLog10;
// 0 leaves them at zero probability.
func WithOOVLogProb(log10prob float64) Option {
	return func(s *Session) {
		s.oov = log10prob
	}
}

// WithLanguageModel rescores beams with an already loaded scorer.
func WithLanguageModel(scorer decoder.Scorer, alpha, beta float64) Option {
	return func(s *Session) {
		s.lm = &lmSource{scorer: scorer, alpha: alpha, beta: beta}
	}
}

// WithOutput sends a Record for every scored sample to sink.
func WithOutput(sink evaluate.Sink) Option {
	return func(s *Session) {
		s.opts.Sink = sink
	}
}

// WithNoSpaceCER removes spaces before character scoring.
func WithNoSpaceCER(enabled bool) Option {
	return func(s *Session) {
		s.opts.NoSpaceCER = enabled
	}
}

// WithKeepSamples keeps per-sample results in evaluate.Result.Samples.
func WithKeepSamples(enabled bool) Option {
	return func(s *Session) {
		s.opts.KeepSamples = enabled
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.opts.Logger = l
	}
}

// WithPrefetch sets how many batches are read ahead of scoring.
func WithPrefetch(n int) Option {
	return func(s *Session) {
		s.opts.Prefetch = n
	}
}

// NewSession creates a Session for set.
func NewSession(set *labels.Set, opts ...Option) (*Session, error) {
	s := &Session{
		Labels: set,
		greedy: decoder.NewGreedy(set),
		oov:    language.DefaultOOVLog10,
		opts:   evaluate.Options{Prefetch: 2},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.lm == nil && s.beam == nil {
		s.Decoder = s.greedy
		return s, nil
	}
	cfg := decoder.DefaultBeamConfig(set.Len())
	if s.beam != nil {
		cfg = *s.beam
	}
	if s.lm != nil {
		scorer := s.lm.scorer
		if scorer == nil {
			m, err := language.LoadARPAFile(s.lm.path, s.oov)
			if err != nil {
				return nil, err
			}
			scorer = m
		}
		cfg.LM = decoder.WithLanguageModel{Scorer: scorer, Alpha: s.lm.alpha, Beta: s.lm.beta}
	}
	bs, err := decoder.NewBeamSearch(set, cfg)
	if err != nil {
		return nil, err
	}
	s.Decoder = bs
	return s, nil
}

// NewSessionFromFile creates a Session from a label file.
func NewSessionFromFile(labelsPath, blank string, opts ...Option) (*Session, error) {
	set, err := labels.Load(labelsPath, blank)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	return NewSession(set, opts...)
}

// Evaluator returns a new evaluator bound to the session's decoder.
func (s *Session) Evaluator() *evaluate.Evaluator {
	return evaluate.New(s.Decoder, s.greedy, s.opts)
}

// Evaluate decodes and scores every batch of src.
func (s *Session) Evaluate(ctx context.Context, src iter.Seq2[evaluate.Input, error]) (*evaluate.Result, error) {
	return s.Evaluator().Run(ctx, src)
}

// EvaluateFile evaluates a dump file, grouping records into batches of batchSize.
func (s *Session) EvaluateFile(ctx context.Context, dumpPath string, batchSize int) (*evaluate.Result, error) {
	r, err := dump.Open(dumpPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return s.Evaluate(ctx, dump.Batches(r.Records(), s.Labels, batchSize))
}

// Decode decodes b without scoring.
func (s *Session) Decode(b *decoder.Batch) ([]decoder.Hypotheses, error) {
	return s.Decoder.Decode(b)
}
