package dump

import (
	"fmt"
	"iter"

	"github.com/ieee0824/ctceval/decoder"
	"github.com/ieee0824/ctceval/evaluate"
	"github.com/ieee0824/ctceval/internal/mathutil"
	"github.com/ieee0824/ctceval/labels"
)

// Batches groups records into padded batches of up to size samples and
// encodes each reference transcript into flattened targets. Records within one
// batch must agree on the Log flag; a change of flag starts a new batch.
func Batches(records iter.Seq2[evaluate.Record, error], set *labels.Set, size int) iter.Seq2[evaluate.Input, error] {
	if size < 1 {
		size = 1
	}
	return func(yield func(evaluate.Input, error) bool) {
		var pending []evaluate.Record
		n := 0
		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			in, err := makeInput(pending, set)
			pending = pending[:0]
			if err != nil {
				yield(evaluate.Input{}, fmt.Errorf("batch ending at record %d: %w", n, err))
				return false
			}
			return yield(in, nil)
		}
		for rec, err := range records {
			if err != nil {
				yield(evaluate.Input{}, err)
				return
			}
			if len(pending) > 0 && pending[0].Log != rec.Log {
				if !flush() {
					return
				}
			}
			pending = append(pending, rec)
			n++
			if len(pending) == size {
				if !flush() {
					return
				}
			}
		}
		flush()
	}
}

// makeInput pads every record to the longest one in recs. A record whose
// Length does not fit its own rows is left unpadded so that the evaluator
// reports it as malformed instead of decoding filler rows.
func makeInput(recs []evaluate.Record, set *labels.Set) (evaluate.Input, error) {
	steps := 0
	for _, r := range recs {
		steps = max(steps, len(r.Probs))
	}
	b := &decoder.Batch{
		Probs:   make([][][]float64, len(recs)),
		Lengths: make([]int, len(recs)),
		Log:     recs[0].Log,
	}
	in := evaluate.Input{Batch: b, TargetLengths: make([]int, len(recs))}
	for i, r := range recs {
		b.Probs[i] = padFrames(r, steps, set.Len())
		b.Lengths[i] = r.Length

		target, err := set.Encode(r.Reference)
		if err != nil {
			return evaluate.Input{}, fmt.Errorf("reference %q: %w", r.Reference, err)
		}
		in.Targets = append(in.Targets, target...)
		in.TargetLengths[i] = len(target)
	}
	return in, nil
}

func padFrames(r evaluate.Record, steps, numLabels int) mathutil.Mat {
	if r.Length < 0 || r.Length > len(r.Probs) || len(r.Probs) == steps {
		return r.Probs
	}
	frames := make(mathutil.Mat, 0, steps)
	frames = append(frames, r.Probs...)
	return append(frames, mathutil.NewMat(steps-len(r.Probs), numLabels)...)
}
