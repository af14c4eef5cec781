// Package evaluate decodes batches of model output and scores the transcripts
// against references with word and character error rates.
package evaluate

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ieee0824/ctceval/decoder"
	"github.com/ieee0824/ctceval/editdist"
)

// ErrMalformedBatch is decoder.ErrMalformedBatch, re-exported for callers of this package.
var ErrMalformedBatch = decoder.ErrMalformedBatch

// Input is one batch as produced by the data loader: padded probabilities plus
// flattened reference label indices and their per-sample lengths.
type Input struct {
	Batch         *decoder.Batch
	Targets       []int
	TargetLengths []int
}

// SampleResult is the outcome of scoring one sample.
type SampleResult struct {
	Batch      int // batch number within a run
	Index      int // sample index within the batch
	Hypothesis string
	Reference  string
	WordErrors int
	CharErrors int
	RefWords   int
	RefChars   int
	Err        error // set when the sample was skipped
}

// WER returns the sample's word error rate in percent.
func (s SampleResult) WER() float64 {
	if s.RefWords == 0 {
		return 0
	}
	return 100 * float64(s.WordErrors) / float64(s.RefWords)
}

// CER returns the sample's character error rate in percent.
func (s SampleResult) CER() float64 {
	if s.RefChars == 0 {
		return 0
	}
	return 100 * float64(s.CharErrors) / float64(s.RefChars)
}

// Options configures an Evaluator.
type Options struct {
	// NoSpaceCER removes spaces before computing character errors and counts.
	NoSpaceCER bool
	// KeepSamples retains every SampleResult in Result.Samples.
	KeepSamples bool
	// Sink receives a Record per decoded sample. Nil disables output.
	Sink Sink
	// Prefetch is the number of batches read ahead of scoring in Run.
	Prefetch int
	// Logger receives per-sample debug lines. Nil uses slog.Default().
	Logger *slog.Logger
}

// Result is the outcome of a run.
type Result struct {
	WER     float64
	CER     float64
	Tally   Tally
	Batches int
	Samples []SampleResult
}

// Evaluator decodes and scores batches.
type Evaluator struct {
	decoder   decoder.Decoder
	reference *decoder.Greedy
	opts      Options
	log       *slog.Logger
}

// New creates an Evaluator. ref converts targets to reference strings; it must
// share the label set dec was built with.
func New(dec decoder.Decoder, ref *decoder.Greedy, opts Options) *Evaluator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{decoder: dec, reference: ref, opts: opts, log: log}
}

// SplitTargets cuts a flattened target sequence into per-sample slices.
// The lengths must sum to len(flat).
func SplitTargets(flat, lengths []int) ([][]int, error) {
	total := 0
	for i, n := range lengths {
		if n < 0 {
			return nil, fmt.Errorf("target %d: negative length %d: %w", i, n, ErrMalformedBatch)
		}
		total += n
	}
	if total != len(flat) {
		return nil, fmt.Errorf("target lengths sum to %d, flattened targets have %d: %w",
			total, len(flat), ErrMalformedBatch)
	}
	out := make([][]int, len(lengths))
	offset := 0
	for i, n := range lengths {
		out[i] = flat[offset : offset+n]
		offset += n
	}
	return out, nil
}

// ScoreBatch decodes one batch, scores every sample against its reference and
// returns t with the batch added. Malformed samples and empty references are
// reported in the returned results and skipped; the error return is kept for
// failures that make the whole batch unusable, such as a decoder error.
func (e *Evaluator) ScoreBatch(t Tally, in Input) (Tally, []SampleResult, error) {
	return e.scoreBatch(t, in, 0)
}

func (e *Evaluator) scoreBatch(t Tally, in Input, batchNo int) (Tally, []SampleResult, error) {
	if in.Batch == nil {
		return t, nil, fmt.Errorf("nil batch: %w", ErrMalformedBatch)
	}
	n := in.Batch.Len()
	results := make([]SampleResult, n)
	for i := range results {
		results[i].Batch = batchNo
		results[i].Index = i
	}

	if len(in.Batch.Lengths) != n || len(in.TargetLengths) != n {
		return e.skipAll(t, results, fmt.Errorf("%d samples, %d lengths, %d target lengths: %w",
			n, len(in.Batch.Lengths), len(in.TargetLengths), ErrMalformedBatch))
	}
	targets, err := SplitTargets(in.Targets, in.TargetLengths)
	if err != nil {
		return e.skipAll(t, results, err)
	}

	numLabels := e.reference.Labels().Len()
	valid := make([]int, 0, n)
	for i := range results {
		if err := in.Batch.ValidateSample(i, numLabels); err != nil {
			results[i].Err = err
			continue
		}
		refs, err := e.reference.ConvertToStrings(targets[i : i+1])
		if err != nil {
			results[i].Err = fmt.Errorf("sample %d reference: %w", i, err)
			continue
		}
		results[i].Reference = refs[0]
		valid = append(valid, i)
	}

	var hyps []decoder.Hypotheses
	if len(valid) > 0 {
		hyps, err = e.decoder.Decode(in.Batch.Subset(valid))
		if err != nil {
			return t, nil, fmt.Errorf("decode: %w", err)
		}
	}

	for k, i := range valid {
		res := &results[i]
		res.Hypothesis = hyps[k].Best().Text
		e.score(res)
		if e.opts.Sink != nil {
			rec := Record{
				Probs:      in.Batch.Probs[i][:in.Batch.Lengths[i]],
				Length:     in.Batch.Lengths[i],
				Log:        in.Batch.Log,
				Reference:  res.Reference,
				Hypothesis: res.Hypothesis,
			}
			if err := e.opts.Sink.Write(rec); err != nil {
				return t, nil, fmt.Errorf("write output: %w", err)
			}
		}
	}

	for _, res := range results {
		t = t.Add(res)
		e.logSample(res)
	}
	return t, results, nil
}

func (e *Evaluator) score(res *SampleResult) {
	ref, hyp := res.Reference, res.Hypothesis
	res.RefWords = editdist.WordCount(ref)
	if e.opts.NoSpaceCER {
		res.RefChars = editdist.CharCountNoSpace(ref)
	} else {
		res.RefChars = editdist.CharCount(ref)
	}
	if res.RefWords == 0 || res.RefChars == 0 {
		res.Err = fmt.Errorf("sample %d: %w", res.Index, ErrEmptyReference)
		return
	}
	res.WordErrors = editdist.Words(hyp, ref)
	if e.opts.NoSpaceCER {
		res.CharErrors = editdist.CharsNoSpace(hyp, ref)
	} else {
		res.CharErrors = editdist.Chars(hyp, ref)
	}
}

func (e *Evaluator) skipAll(t Tally, results []SampleResult, err error) (Tally, []SampleResult, error) {
	e.log.Warn("skipping batch", "samples", len(results), "error", err)
	for i := range results {
		results[i].Err = err
		t = t.Add(results[i])
	}
	return t, results, nil
}

func (e *Evaluator) logSample(res SampleResult) {
	if res.Err != nil {
		e.log.Warn("skipping sample", "batch", res.Batch, "index", res.Index, "error", res.Err)
		return
	}
	e.log.Debug("scored sample",
		"batch", res.Batch,
		"index", res.Index,
		"ref", res.Reference,
		"hyp", res.Hypothesis,
		"wer", res.WER(),
		"cer", res.CER(),
	)
}

type pending struct {
	in  Input
	err error
}

// Run scores every batch of src. Batches are read on a separate goroutine,
// up to Options.Prefetch ahead, while the current batch is being scored; the
// tally is only touched by the calling goroutine. An error from src aborts
// the run. When the totals leave WER or CER undefined, Run returns the partial
// Result together with ErrEmptyReference.
func (e *Evaluator) Run(ctx context.Context, src iter.Seq2[Input, error]) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan pending, max(e.opts.Prefetch, 0))
	go func() {
		defer close(ch)
		for in, err := range src {
			select {
			case ch <- pending{in: in, err: err}:
			case <-runCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	res := &Result{}
	var tally Tally
	for p := range ch {
		if p.err != nil {
			return nil, fmt.Errorf("read batch %d: %w", res.Batches, p.err)
		}
		var (
			samples []SampleResult
			err     error
		)
		tally, samples, err = e.scoreBatch(tally, p.in, res.Batches)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", res.Batches, err)
		}
		if e.opts.KeepSamples {
			res.Samples = append(res.Samples, samples...)
		}
		res.Batches++
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Tally = tally
	wer, werErr := tally.WER()
	cer, cerErr := tally.CER()
	res.WER, res.CER = wer, cer
	if werErr != nil {
		return res, werErr
	}
	if cerErr != nil {
		return res, cerErr
	}
	e.log.Info("evaluation finished",
		"batches", res.Batches,
		"samples", tally.Samples,
		"skipped", tally.Skipped,
		"wer", wer,
		"cer", cer,
	)
	return res, nil
}

// Slice returns a source over in-memory batches.
func Slice(inputs []Input) iter.Seq2[Input, error] {
	return func(yield func(Input, error) bool) {
		for _, in := range inputs {
			if !yield(in, nil) {
				return
			}
		}
	}
}
