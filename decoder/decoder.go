// Package decoder turns per-frame CTC label probabilities into ranked text
// hypotheses.
package decoder

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when decoder parameters are malformed.
	ErrInvalidConfig = errors.New("decoder: invalid config")
	// ErrMalformedBatch is returned when a batch violates its shape contract.
	ErrMalformedBatch = errors.New("decoder: malformed batch")
)

// Decoder decodes a batch into ranked hypotheses, one entry per sample in
// input order.
type Decoder interface {
	Decode(b *Batch) ([]Hypotheses, error)
}

// Batch is a set of probability matrices padded to a common time dimension.
// Decoders read it without mutation.
type Batch struct {
	Probs   [][][]float64 // samples x time x labels
	Lengths []int         // valid time steps per sample
	Log     bool          // Probs holds natural-log probabilities
}

// Len returns the number of samples.
func (b *Batch) Len() int { return len(b.Probs) }

// Steps returns the padded time dimension.
func (b *Batch) Steps() int {
	steps := 0
	for _, p := range b.Probs {
		if len(p) > steps {
			steps = len(p)
		}
	}
	return steps
}

// ValidateSample checks sample i against a label set of numLabels labels.
func (b *Batch) ValidateSample(i, numLabels int) error {
	if i < 0 || i >= len(b.Probs) {
		return fmt.Errorf("sample %d of %d: %w", i, len(b.Probs), ErrMalformedBatch)
	}
	if i >= len(b.Lengths) {
		return fmt.Errorf("sample %d: missing length: %w", i, ErrMalformedBatch)
	}
	n := b.Lengths[i]
	if n < 0 || n > len(b.Probs[i]) {
		return fmt.Errorf("sample %d: length %d exceeds padded dimension %d: %w",
			i, n, len(b.Probs[i]), ErrMalformedBatch)
	}
	for t := 0; t < n; t++ {
		if len(b.Probs[i][t]) != numLabels {
			return fmt.Errorf("sample %d step %d: %d probabilities for %d labels: %w",
				i, t, len(b.Probs[i][t]), numLabels, ErrMalformedBatch)
		}
	}
	return nil
}

// Validate checks every sample. It returns the first violation found.
func (b *Batch) Validate(numLabels int) error {
	if len(b.Lengths) != len(b.Probs) {
		return fmt.Errorf("%d lengths for %d samples: %w", len(b.Lengths), len(b.Probs), ErrMalformedBatch)
	}
	for i := range b.Probs {
		if err := b.ValidateSample(i, numLabels); err != nil {
			return err
		}
	}
	return nil
}

// Subset returns a batch holding the given samples in the given order.
// Matrices are shared, not copied.
func (b *Batch) Subset(idx []int) *Batch {
	sub := &Batch{
		Probs:   make([][][]float64, len(idx)),
		Lengths: make([]int, len(idx)),
		Log:     b.Log,
	}
	for k, i := range idx {
		sub.Probs[k] = b.Probs[i]
		sub.Lengths[k] = b.Lengths[i]
	}
	return sub
}

// frames returns the valid rows of sample i.
func (b *Batch) frames(i int) [][]float64 {
	return b.Probs[i][:b.Lengths[i]]
}
