package decoder

import (
	"fmt"

	"github.com/ieee0824/ctceval/internal/mathutil"
	"github.com/ieee0824/ctceval/labels"
)

// Greedy picks the most probable label at every step and collapses the result.
type Greedy struct {
	labels *labels.Set
}

// NewGreedy creates a greedy decoder over the given label set.
func NewGreedy(set *labels.Set) *Greedy {
	return &Greedy{labels: set}
}

// Labels returns the label set the decoder was built with.
func (g *Greedy) Labels() *labels.Set { return g.labels }

// Decode implements Decoder. Every sample gets exactly one hypothesis.
func (g *Greedy) Decode(b *Batch) ([]Hypotheses, error) {
	if err := b.Validate(g.labels.Len()); err != nil {
		return nil, err
	}
	out := make([]Hypotheses, b.Len())
	for i := range b.Probs {
		h, err := g.decodeSample(b.frames(i), b.Log)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = Hypotheses{h}
	}
	return out, nil
}

func (g *Greedy) decodeSample(frames [][]float64, isLog bool) (Hypothesis, error) {
	raw := make([]int, len(frames))
	score := 0.0
	for t, row := range frames {
		best := mathutil.Argmax(row)
		raw[t] = best
		score += mathutil.LogProb(row[best], isLog)
	}
	tokens, offsets := Collapse(raw, g.labels.Blank())
	text, err := g.labels.Join(tokens)
	if err != nil {
		return Hypothesis{}, err
	}
	return Hypothesis{Text: text, Tokens: tokens, Offsets: offsets, Score: score}, nil
}

// ConvertToStrings maps label index sequences to text without collapsing.
// Reference targets go through here: they carry no blanks, and genuine
// double letters must survive.
func (g *Greedy) ConvertToStrings(seqs [][]int) ([]string, error) {
	out := make([]string, len(seqs))
	for i, seq := range seqs {
		s, err := g.labels.Join(seq)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// Collapse applies the CTC rule to a raw per-step label sequence: blanks are
// dropped and uninterrupted runs of the same label become one emission.
// A blank between two equal labels keeps both. offsets holds the step of
// each kept token.
func Collapse(raw []int, blank int) (tokens, offsets []int) {
	tokens = make([]int, 0, len(raw))
	offsets = make([]int, 0, len(raw))
	prev := blank
	for t, l := range raw {
		if l != blank && l != prev {
			tokens = append(tokens, l)
			offsets = append(offsets, t)
		}
		prev = l
	}
	return tokens, offsets
}
