// Package labels maps between output-label indices of a CTC model and the
// characters they stand for.
package labels

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// ErrUnknownLabel is returned when an index or label is not part of the set.
var ErrUnknownLabel = errors.New("labels: unknown label")

// DefaultBlank is the blank label used by DeepSpeech-style label files.
const DefaultBlank = "_"

// Set is an immutable, ordered label set with one designated blank label.
// It is safe for concurrent use.
type Set struct {
	labels []string
	index  map[string]int
	blank  int
}

// New creates a label set. blank is the index of the blank label.
func New(labels []string, blank int) (*Set, error) {
	if len(labels) == 0 {
		return nil, errors.New("labels: empty label set")
	}
	if blank < 0 || blank >= len(labels) {
		return nil, fmt.Errorf("labels: blank index %d out of range [0, %d)", blank, len(labels))
	}
	s := &Set{
		labels: make([]string, len(labels)),
		index:  make(map[string]int, len(labels)),
		blank:  blank,
	}
	copy(s.labels, labels)
	for i, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("labels: empty label at index %d", i)
		}
		if j, dup := s.index[l]; dup {
			return nil, fmt.Errorf("labels: duplicate label %q at %d and %d", l, j, i)
		}
		s.index[l] = i
	}
	return s, nil
}

// NewWithBlank creates a label set whose blank is the given label.
func NewWithBlank(labels []string, blank string) (*Set, error) {
	for i, l := range labels {
		if l == blank {
			return New(labels, i)
		}
	}
	return nil, fmt.Errorf("blank %q: %w", blank, ErrUnknownLabel)
}

// Parse reads a label list (a JSON array or a YAML sequence of strings).
func Parse(data []byte, blank string) (*Set, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	return NewWithBlank(list, blank)
}

// Load reads a label file from disk. See Parse.
func Load(path, blank string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return Parse(data, blank)
}

// Len returns the number of labels, blank included.
func (s *Set) Len() int { return len(s.labels) }

// Blank returns the index of the blank label.
func (s *Set) Blank() int { return s.blank }

// IsBlank reports whether i is the blank index.
func (s *Set) IsBlank(i int) bool { return i == s.blank }

// Labels returns a copy of the ordered labels.
func (s *Set) Labels() []string {
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

// Char returns the label at index i.
func (s *Set) Char(i int) (string, error) {
	if i < 0 || i >= len(s.labels) {
		return "", fmt.Errorf("index %d of %d: %w", i, len(s.labels), ErrUnknownLabel)
	}
	return s.labels[i], nil
}

// Index returns the index of label l.
func (s *Set) Index(l string) (int, error) {
	i, ok := s.index[l]
	if !ok {
		return 0, fmt.Errorf("label %q: %w", l, ErrUnknownLabel)
	}
	return i, nil
}

// Join maps indices to labels and concatenates them. Nothing is collapsed.
func (s *Set) Join(indices []int) (string, error) {
	var b strings.Builder
	for _, i := range indices {
		c, err := s.Char(i)
		if err != nil {
			return "", err
		}
		b.WriteString(c)
	}
	return b.String(), nil
}

// Encode maps a transcript to label indices one rune at a time.
func (s *Set) Encode(text string) ([]int, error) {
	out := make([]int, 0, len(text))
	for _, r := range text {
		i, err := s.Index(string(r))
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}
