package evaluate

import (
	"errors"
	"math"
	"testing"
)

func TestTally_AddMerge(t *testing.T) {
	var a Tally
	a = a.Add(SampleResult{WordErrors: 1, CharErrors: 2, RefWords: 4, RefChars: 10})
	a = a.Add(SampleResult{Err: ErrEmptyReference, WordErrors: 99})
	if a.Samples != 1 || a.Skipped != 1 || a.WordErrors != 1 {
		t.Errorf("a = %+v", a)
	}

	b := Tally{}.Add(SampleResult{WordErrors: 1, CharErrors: 0, RefWords: 4, RefChars: 10})
	m := a.Merge(b)
	want := Tally{WordErrors: 2, CharErrors: 2, RefWords: 8, RefChars: 20, Samples: 2, Skipped: 1}
	if m != want {
		t.Errorf("Merge = %+v, want %+v", m, want)
	}

	wer, err := m.WER()
	if err != nil || math.Abs(wer-25) > 1e-9 {
		t.Errorf("WER = %f, %v, want 25", wer, err)
	}
	cer, err := m.CER()
	if err != nil || math.Abs(cer-10) > 1e-9 {
		t.Errorf("CER = %f, %v, want 10", cer, err)
	}
}

func TestTally_Empty(t *testing.T) {
	var z Tally
	if _, err := z.WER(); !errors.Is(err, ErrEmptyReference) {
		t.Errorf("WER err = %v, want ErrEmptyReference", err)
	}
	if _, err := z.CER(); !errors.Is(err, ErrEmptyReference) {
		t.Errorf("CER err = %v, want ErrEmptyReference", err)
	}
}

func TestSampleResult_Rates(t *testing.T) {
	s := SampleResult{WordErrors: 1, RefWords: 2, CharErrors: 1, RefChars: 4}
	if s.WER() != 50 || s.CER() != 25 {
		t.Errorf("WER/CER = %f/%f", s.WER(), s.CER())
	}
	if (SampleResult{}).WER() != 0 {
		t.Error("zero reference WER should be 0")
	}
}
