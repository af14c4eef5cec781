package dump

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ieee0824/ctceval/decoder"
	"github.com/ieee0824/ctceval/evaluate"
	"github.com/ieee0824/ctceval/labels"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testSet(t *testing.T) *labels.Set {
	t.Helper()
	s, err := labels.New([]string{"_", "a", "b", " "}, 0)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func onehot(path ...int) [][]float64 {
	frames := make([][]float64, len(path))
	for t, l := range path {
		row := []float64{0.1, 0.1, 0.1, 0.1}
		row[l] = 0.7
		frames[t] = row
	}
	return frames
}

func sampleRecords() []evaluate.Record {
	return []evaluate.Record{
		{Probs: onehot(1, 2), Length: 2, Reference: "ab"},
		{Probs: onehot(2, 0, 3, 1), Length: 4, Reference: "b a"},
		{Probs: onehot(1), Length: 1, Reference: "b"},
	}
}

func collect(t *testing.T, seq iter.Seq2[evaluate.Record, error]) []evaluate.Record {
	t.Helper()
	var out []evaluate.Record
	for r, err := range seq {
		if err != nil {
			t.Fatalf("records: %v", err)
		}
		out = append(out, r)
	}
	return out
}

func sameRecords(t *testing.T, got, want []evaluate.Record) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Reference != want[i].Reference || got[i].Length != want[i].Length ||
			len(got[i].Probs) != len(want[i].Probs) {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
			continue
		}
		for s := range want[i].Probs {
			for c := range want[i].Probs[s] {
				if got[i].Probs[s][c] != want[i].Probs[s][c] {
					t.Errorf("record %d probs[%d][%d] = %f, want %f", i, s, c, got[i].Probs[s][c], want[i].Probs[s][c])
				}
			}
		}
	}
}

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range sampleRecords() {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if w.Count() != 3 {
		t.Errorf("Count = %d, want 3", w.Count())
	}
	sameRecords(t, collect(t, NewReader(&buf).Records()), sampleRecords())
}

func TestCreateOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.msgpack")
	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range sampleRecords() {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	sameRecords(t, collect(t, r.Records()), sampleRecords())

	if _, err := Open(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReader_Corrupt(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Write(sampleRecords()[1]); err != nil {
		t.Fatal(err)
	}
	w.Flush()
	buf.WriteByte(0xc1) // never-used msgpack code
	var (
		n      int
		gotErr error
	)
	for _, err := range NewReader(&buf).Records() {
		if err != nil {
			gotErr = err
			break
		}
		n++
	}
	if n != 1 || gotErr == nil {
		t.Errorf("decoded %d records, err = %v; want 1 and a decode error", n, gotErr)
	}
}

func TestBatches(t *testing.T) {
	set := testSet(t)
	src := func(yield func(evaluate.Record, error) bool) {
		for _, r := range sampleRecords() {
			if !yield(r, nil) {
				return
			}
		}
	}
	var inputs []evaluate.Input
	for in, err := range Batches(src, set, 2) {
		if err != nil {
			t.Fatal(err)
		}
		inputs = append(inputs, in)
	}
	if len(inputs) != 2 {
		t.Fatalf("got %d batches, want 2", len(inputs))
	}
	first := inputs[0]
	if first.Batch.Len() != 2 || first.Batch.Steps() != 4 {
		t.Errorf("first batch: %d samples, %d steps", first.Batch.Len(), first.Batch.Steps())
	}
	if err := first.Batch.Validate(set.Len()); err != nil {
		t.Errorf("Validate: %v", err)
	}
	wantTargets := []int{1, 2, 2, 3, 1}
	if len(first.Targets) != len(wantTargets) {
		t.Fatalf("targets = %v, want %v", first.Targets, wantTargets)
	}
	for i := range wantTargets {
		if first.Targets[i] != wantTargets[i] {
			t.Fatalf("targets = %v, want %v", first.Targets, wantTargets)
		}
	}
	if first.TargetLengths[0] != 2 || first.TargetLengths[1] != 3 {
		t.Errorf("target lengths = %v", first.TargetLengths)
	}
	if inputs[1].Batch.Len() != 1 || inputs[1].TargetLengths[0] != 1 {
		t.Errorf("second batch = %+v", inputs[1])
	}
}

func TestBatches_Errors(t *testing.T) {
	set := testSet(t)
	t.Run("unknown_reference_char", func(t *testing.T) {
		src := func(yield func(evaluate.Record, error) bool) {
			yield(evaluate.Record{Probs: onehot(1), Length: 1, Reference: "z"}, nil)
		}
		var gotErr error
		for _, err := range Batches(src, set, 4) {
			gotErr = err
		}
		if !errors.Is(gotErr, labels.ErrUnknownLabel) {
			t.Errorf("err = %v, want ErrUnknownLabel", gotErr)
		}
	})
	t.Run("source_error", func(t *testing.T) {
		boom := errors.New("read failed")
		src := func(yield func(evaluate.Record, error) bool) {
			yield(evaluate.Record{}, boom)
		}
		var gotErr error
		for _, err := range Batches(src, set, 4) {
			gotErr = err
		}
		if !errors.Is(gotErr, boom) {
			t.Errorf("err = %v, want source error", gotErr)
		}
	})
}

func TestBatches_LogFlagSplits(t *testing.T) {
	set := testSet(t)
	src := func(yield func(evaluate.Record, error) bool) {
		yield(evaluate.Record{Probs: onehot(1), Length: 1, Reference: "a"}, nil)
		yield(evaluate.Record{Probs: onehot(1), Length: 1, Reference: "a", Log: true}, nil)
	}
	n := 0
	for in, err := range Batches(src, set, 8) {
		if err != nil {
			t.Fatal(err)
		}
		if in.Batch.Log != (n == 1) {
			t.Errorf("batch %d Log = %v", n, in.Batch.Log)
		}
		n++
	}
	if n != 2 {
		t.Errorf("got %d batches, want 2", n)
	}
}

func TestBadgerSink(t *testing.T) {
	s, err := OpenBadger(BadgerOptions{InMemory: true, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	for _, r := range sampleRecords() {
		if err := s.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Len()
	if err != nil || n != 3 {
		t.Fatalf("Len = %d, %v; want 3", n, err)
	}
	sameRecords(t, collect(t, s.Records()), sampleRecords())

	rec, err := s.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Reference != "b a" {
		t.Errorf("Get(1).Reference = %q", rec.Reference)
	}
	if _, err := s.Get(99); err == nil {
		t.Error("expected error for missing sample")
	}
}

func TestBadgerSink_Reopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadger(BadgerOptions{Dir: dir, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	recs := sampleRecords()
	if err := s.Write(recs[0]); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenBadger(BadgerOptions{Dir: dir, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Write(recs[1]); err != nil {
		t.Fatal(err)
	}
	sameRecords(t, collect(t, s.Records()), recs[:2])
}

func TestOpenBadger_RequiresDir(t *testing.T) {
	if _, err := OpenBadger(BadgerOptions{}); err == nil {
		t.Error("expected error without Dir")
	}
}

func TestEvaluateFromDump(t *testing.T) {
	set := testSet(t)
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range sampleRecords() {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	w.Flush()

	out, err := OpenBadger(BadgerOptions{InMemory: true, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	g := decoder.NewGreedy(set)
	ev := evaluate.New(g, g, evaluate.Options{Sink: out, Prefetch: 1, Logger: quiet})
	res, err := ev.Run(context.Background(), Batches(NewReader(&buf).Records(), set, 2))
	if err != nil {
		t.Fatal(err)
	}
	// "ab"/"ab", "b a"/"b a", "a"/"b": 1 word error of 4, 1 char error of 6.
	if res.Tally.WordErrors != 1 || res.Tally.RefWords != 4 || res.Tally.CharErrors != 1 || res.Tally.RefChars != 6 {
		t.Errorf("tally = %+v", res.Tally)
	}
	stored := collect(t, out.Records())
	if len(stored) != 3 || stored[2].Hypothesis != "a" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestBatches_LengthBeyondRows(t *testing.T) {
	set := testSet(t)
	src := func(yield func(evaluate.Record, error) bool) {
		if !yield(evaluate.Record{Probs: onehot(1, 2), Length: 5, Reference: "ab"}, nil) {
			return
		}
		yield(evaluate.Record{Probs: onehot(1, 0, 2, 2, 0, 1), Length: 6, Reference: "aba"}, nil)
	}

	g := decoder.NewGreedy(set)
	ev := evaluate.New(g, g, evaluate.Options{KeepSamples: true, Logger: quiet})
	res, err := ev.Run(context.Background(), Batches(src, set, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(res.Samples))
	}
	if err := res.Samples[0].Err; !errors.Is(err, evaluate.ErrMalformedBatch) {
		t.Errorf("sample 0 err = %v, want ErrMalformedBatch", err)
	}
	if res.Samples[0].Hypothesis != "" {
		t.Errorf("sample 0 decoded to %q", res.Samples[0].Hypothesis)
	}
	if s := res.Samples[1]; s.Err != nil || s.Hypothesis != "aba" {
		t.Errorf("sample 1 = %+v, want hypothesis aba", s)
	}
	if res.Tally.Skipped != 1 || res.Tally.WordErrors != 0 || res.Tally.RefWords != 1 {
		t.Errorf("tally = %+v", res.Tally)
	}
}
