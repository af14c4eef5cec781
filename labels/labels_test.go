package labels

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testSet(t *testing.T) *Set {
	t.Helper()
	s, err := New([]string{"_", "a", "b", " "}, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		blank  int
	}{
		{"empty", nil, 0},
		{"blank_negative", []string{"_", "a"}, -1},
		{"blank_too_large", []string{"_", "a"}, 2},
		{"duplicate", []string{"_", "a", "a"}, 0},
		{"empty_label", []string{"_", ""}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.labels, tt.blank); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCharAndIndex(t *testing.T) {
	s := testSet(t)
	if s.Len() != 4 || s.Blank() != 0 || !s.IsBlank(0) || s.IsBlank(1) {
		t.Fatalf("Len/Blank = %d/%d", s.Len(), s.Blank())
	}
	c, err := s.Char(2)
	if err != nil || c != "b" {
		t.Errorf("Char(2) = %q, %v, want b", c, err)
	}
	i, err := s.Index(" ")
	if err != nil || i != 3 {
		t.Errorf("Index(space) = %d, %v, want 3", i, err)
	}
	if _, err := s.Char(4); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("Char(4) err = %v, want ErrUnknownLabel", err)
	}
	if _, err := s.Char(-1); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("Char(-1) err = %v, want ErrUnknownLabel", err)
	}
	if _, err := s.Index("z"); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("Index(z) err = %v, want ErrUnknownLabel", err)
	}
}

func TestEncodeJoin(t *testing.T) {
	s := testSet(t)
	idx, err := s.Encode("ab a")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []int{1, 2, 3, 1}
	if len(idx) != len(want) {
		t.Fatalf("Encode = %v, want %v", idx, want)
	}
	for i := range want {
		if idx[i] != want[i] {
			t.Fatalf("Encode = %v, want %v", idx, want)
		}
	}
	text, err := s.Join([]int{1, 1, 0, 2})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	// Join does not collapse; blank is a label like any other here.
	if text != "aa_b" {
		t.Errorf("Join = %q, want %q", text, "aa_b")
	}
	if _, err := s.Encode("abc"); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("Encode(abc) err = %v, want ErrUnknownLabel", err)
	}
}

func TestLabelsIsCopy(t *testing.T) {
	s := testSet(t)
	l := s.Labels()
	l[1] = "z"
	if c, _ := s.Char(1); c != "a" {
		t.Errorf("Set mutated through Labels(): Char(1) = %q", c)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		blank int
	}{
		{"json", `["_", "'", "A", "B", " "]`, 0},
		{"yaml", "- \"'\"\n- A\n- B\n- \" \"\n- _\n", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(tt.data), DefaultBlank)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if s.Len() != 5 {
				t.Errorf("Len = %d, want 5", s.Len())
			}
			if s.Blank() != tt.blank {
				t.Errorf("Blank = %d, want %d", s.Blank(), tt.blank)
			}
			if i, err := s.Index(" "); err != nil || i < 0 {
				t.Errorf("Index(space) = %d, %v", i, err)
			}
		})
	}
}

func TestParse_MissingBlank(t *testing.T) {
	if _, err := Parse([]byte(`["a", "b"]`), DefaultBlank); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("err = %v, want ErrUnknownLabel", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")
	if err := os.WriteFile(path, []byte(`["_", "a", "b", " "]`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path, "_")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 4 {
		t.Errorf("Len = %d, want 4", s.Len())
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json"), "_"); err == nil {
		t.Error("expected error for missing file")
	}
}
