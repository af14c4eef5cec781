package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ieee0824/ctceval/dump"
	"github.com/ieee0824/ctceval/evaluate"
	"github.com/ieee0824/ctceval/language"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	c := New("test")
	c.logOut = io.Discard
	var out bytes.Buffer
	c.rootCmd.SetOut(&out)
	c.rootCmd.SetErr(io.Discard)
	c.rootCmd.SetArgs(args)
	err := c.rootCmd.Execute()
	return out.String(), err
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

type fixture struct {
	dir    string
	labels string
	dump   string
}

// newFixture writes a label file and a three-sample dump: two exact
// matches and one substitution ("a" for "b").
func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:    dir,
		labels: filepath.Join(dir, "labels.json"),
		dump:   filepath.Join(dir, "test.msgpack"),
	}
	if err := os.WriteFile(f.labels, []byte(`["_", "a", "b", " "]`), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := dump.Create(f.dump)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range []evaluate.Record{
		{Probs: onehot(1, 2, 0, 3, 2), Length: 5, Reference: "ab b"},
		{Probs: onehot(2, 2, 1), Length: 3, Reference: "ba"},
		{Probs: onehot(1, 1), Length: 2, Reference: "b"},
	} {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestEval_JSON(t *testing.T) {
	f := newFixture(t)
	for _, dec := range []string{"greedy", "beam"} {
		t.Run(dec, func(t *testing.T) {
			out, err := run(t, "eval", "--dump", f.dump, "--labels", f.labels, "--decoder", dec, "--format", "json", "--samples")
			if err != nil {
				t.Fatal(err)
			}
			var r evalReport
			if err := json.Unmarshal([]byte(out), &r); err != nil {
				t.Fatalf("unmarshal %q: %v", out, err)
			}
			if r.Samples != 3 || r.WordErrors != 1 || r.RefWords != 4 || r.CharErrors != 1 || r.RefChars != 7 {
				t.Errorf("report = %+v", r)
			}
			if math.Abs(r.WER-25) > 1e-9 || math.Abs(r.CER-100.0/7) > 1e-9 {
				t.Errorf("WER/CER = %f/%f", r.WER, r.CER)
			}
			if len(r.Details) != 3 || r.Details[2].Hypothesis != "a" {
				t.Errorf("details = %+v", r.Details)
			}
		})
	}
}

func TestEval_Table(t *testing.T) {
	f := newFixture(t)
	out, err := run(t, "eval", "--dump", f.dump, "--labels", f.labels)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Average WER", "Average CER", "25.000"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEval_ConfigWithOverride(t *testing.T) {
	f := newFixture(t)
	cfgPath := filepath.Join(f.dir, "run.yaml")
	cfg := "labels: " + f.labels + "\ndecoder: beam\nbatch_size: 8\nbeam:\n  width: 4\n  workers: 2\n  cutoff_prob: 1\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "eval", "--config", cfgPath, "--dump", f.dump, "--batch-size", "1", "--format", "yaml")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "decoder: beam") || !strings.Contains(out, "batches: 3") {
		t.Errorf("output:\n%s", out)
	}
}

func TestEval_SaveOutput(t *testing.T) {
	f := newFixture(t)
	outFile := filepath.Join(f.dir, "out.msgpack")
	badgerDir := filepath.Join(f.dir, "badger")
	if _, err := run(t, "eval", "--dump", f.dump, "--labels", f.labels,
		"--save-output", outFile, "--badger", badgerDir, "--format", "json"); err != nil {
		t.Fatal(err)
	}

	r, err := dump.Open(outFile)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	var hyps []string
	for rec, err := range r.Records() {
		if err != nil {
			t.Fatal(err)
		}
		hyps = append(hyps, rec.Hypothesis)
	}
	if strings.Join(hyps, "|") != "ab b|ba|a" {
		t.Errorf("saved hypotheses = %q", hyps)
	}

	db, err := dump.OpenBadger(dump.BadgerOptions{Dir: badgerDir})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if n, err := db.Len(); err != nil || n != 3 {
		t.Errorf("badger Len = %d, %v; want 3", n, err)
	}
}

func TestEval_Errors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		args []string
	}{
		{"missing_dump", []string{"eval", "--labels", f.labels}},
		{"missing_labels", []string{"eval", "--dump", f.dump}},
		{"bad_decoder", []string{"eval", "--dump", f.dump, "--labels", f.labels, "--decoder", "viterbi"}},
		{"top_n_too_large", []string{"eval", "--dump", f.dump, "--labels", f.labels, "--decoder", "beam", "--cutoff-top-n", "9"}},
		{"bad_format", []string{"eval", "--dump", f.dump, "--labels", f.labels, "--format", "xml"}},
		{"missing_file", []string{"eval", "--dump", filepath.Join(f.dir, "nope"), "--labels", f.labels}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecode(t *testing.T) {
	f := newFixture(t)
	out, err := run(t, "decode", "--dump", f.dump, "--labels", f.labels, "--decoder", "beam", "--top", "2", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var samples []decodedSample
	if err := json.Unmarshal([]byte(out), &samples); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	for i, want := range []string{"ab b", "ba", "a"} {
		s := samples[i]
		if len(s.Hypotheses) == 0 || len(s.Hypotheses) > 2 || s.Hypotheses[0].Text != want {
			t.Errorf("sample %d = %+v, want best %q", i, s, want)
		}
	}
	if samples[2].Reference != "b" {
		t.Errorf("reference = %q, want %q", samples[2].Reference, "b")
	}
}

func TestLMBuild(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "train.txt")
	if err := os.WriteFile(text, []byte("ab b\nba ab\n\nab b ba\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	arpa := filepath.Join(dir, "lm.arpa")
	if _, err := run(t, "lmbuild", "--order", "2", "--output", arpa, text); err != nil {
		t.Fatal(err)
	}
	m, err := language.LoadARPAFile(arpa, 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.Order != 2 || len(m.Vocab()) == 0 {
		t.Errorf("model order %d, vocab %v", m.Order, m.Vocab())
	}

	if _, err := run(t, "lmbuild", filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestTune(t *testing.T) {
	f := newFixture(t)
	text := filepath.Join(f.dir, "train.txt")
	arpa := filepath.Join(f.dir, "lm.arpa")
	if err := os.WriteFile(text, []byte("ab b\nba\nb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "lmbuild", "--order", "2", "--output", arpa, text); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "tune", "--dump", f.dump, "--labels", f.labels, "--lm", arpa,
		"--alphas", "0,0.5", "--betas", "0,1", "--parallel", "2", "--workers", "1", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var results []tuneResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	for i, r := range results {
		if r.Error != "" || r.Samples != 3 {
			t.Errorf("result %d = %+v", i, r)
		}
		if i > 0 && results[i-1].WER > r.WER {
			t.Errorf("results not sorted by WER: %+v", results)
		}
	}

	if _, err := run(t, "tune", "--dump", f.dump, "--labels", f.labels); err == nil {
		t.Error("expected error without --lm")
	}
}

func TestSortTuneResults(t *testing.T) {
	results := []tuneResult{
		{Alpha: 1, Beta: 0, WER: 10, CER: 5},
		{Alpha: 0, Beta: 0, Error: "boom"},
		{Alpha: 2, Beta: 0, WER: 10, CER: 4},
		{Alpha: 0.5, Beta: 1, WER: 8, CER: 9},
		{Alpha: 0.5, Beta: 0, WER: 8, CER: 9},
	}
	sortTuneResults(results)
	want := []struct{ alpha, beta float64 }{{0.5, 0}, {0.5, 1}, {2, 0}, {1, 0}, {0, 0}}
	for i, w := range want {
		if results[i].Alpha != w.alpha || results[i].Beta != w.beta {
			t.Fatalf("order = %+v", results)
		}
	}
}
