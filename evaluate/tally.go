package evaluate

import (
	"errors"
	"fmt"
)

// ErrEmptyReference is returned when a reference has no words or characters,
// leaving an error rate undefined.
var ErrEmptyReference = errors.New("evaluate: empty reference")

// Tally holds running error counts across an evaluation. It is a value:
// Add and Merge return a new Tally and never modify the receiver.
type Tally struct {
	WordErrors int
	CharErrors int
	RefWords   int
	RefChars   int
	Samples    int // samples scored
	Skipped    int // samples skipped because of per-sample errors
}

// Add returns t with the counts of one sample added. Samples carrying an
// error only count as skipped.
func (t Tally) Add(s SampleResult) Tally {
	if s.Err != nil {
		t.Skipped++
		return t
	}
	t.WordErrors += s.WordErrors
	t.CharErrors += s.CharErrors
	t.RefWords += s.RefWords
	t.RefChars += s.RefChars
	t.Samples++
	return t
}

// Merge returns the sum of two tallies.
func (t Tally) Merge(o Tally) Tally {
	return Tally{
		WordErrors: t.WordErrors + o.WordErrors,
		CharErrors: t.CharErrors + o.CharErrors,
		RefWords:   t.RefWords + o.RefWords,
		RefChars:   t.RefChars + o.RefChars,
		Samples:    t.Samples + o.Samples,
		Skipped:    t.Skipped + o.Skipped,
	}
}

// WER returns the word error rate in percent.
func (t Tally) WER() (float64, error) {
	if t.RefWords == 0 {
		return 0, fmt.Errorf("no reference words: %w", ErrEmptyReference)
	}
	return 100 * float64(t.WordErrors) / float64(t.RefWords), nil
}

// CER returns the character error rate in percent.
func (t Tally) CER() (float64, error) {
	if t.RefChars == 0 {
		return 0, fmt.Errorf("no reference characters: %w", ErrEmptyReference)
	}
	return 100 * float64(t.CharErrors) / float64(t.RefChars), nil
}
