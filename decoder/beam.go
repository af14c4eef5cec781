package decoder

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ieee0824/ctceval/internal/mathutil"
	"github.com/ieee0824/ctceval/internal/parallel"
	"github.com/ieee0824/ctceval/labels"
)

// wordSeparator is the label that ends a word for language-model scoring.
const wordSeparator = " "

// BeamConfig holds prefix beam search parameters.
type BeamConfig struct {
	BeamWidth  int           // beams kept per step
	CutoffTopN int           // labels expanded per step, by probability
	CutoffProb float64       // cumulative probability kept among the top-N; 1 disables
	NumWorkers int           // samples decoded in parallel
	LM         LanguageModel // nil means NoLanguageModel
}

// DefaultTopN is the default CutoffTopN for large label sets.
const DefaultTopN = 40

// DefaultBeamConfig returns the parameters the command-line tools start from,
// for a label set of numLabels labels.
func DefaultBeamConfig(numLabels int) BeamConfig {
	return BeamConfig{
		BeamWidth:  10,
		CutoffTopN: min(DefaultTopN, numLabels),
		CutoffProb: 1.0,
		NumWorkers: 4,
		LM:         NoLanguageModel{},
	}
}

// BeamSearch is a CTC prefix beam search decoder.
//
// Beams are kept per (prefix, ends-in-blank) pair and pruned on each entry's
// own probability, so a text whose mass is split across both entries occupies
// two slots and may lose to a text held in one. The two entries are combined
// only after the last step: when the width is below twice the number of
// distinct texts in play, the rank-1 Score can be lower than that text's total
// probability over all paths.
type BeamSearch struct {
	labels *labels.Set
	cfg    BeamConfig
	lm     *WithLanguageModel
	space  int // index of the word separator, -1 if the label set has none
}

// NewBeamSearch validates cfg and creates a beam search decoder.
func NewBeamSearch(set *labels.Set, cfg BeamConfig) (*BeamSearch, error) {
	if cfg.BeamWidth < 1 {
		return nil, fmt.Errorf("beam width %d < 1: %w", cfg.BeamWidth, ErrInvalidConfig)
	}
	if cfg.CutoffTopN < 1 || cfg.CutoffTopN > set.Len() {
		return nil, fmt.Errorf("cutoff top-n %d outside [1, %d]: %w", cfg.CutoffTopN, set.Len(), ErrInvalidConfig)
	}
	if math.IsNaN(cfg.CutoffProb) || cfg.CutoffProb < 0 || cfg.CutoffProb > 1 {
		return nil, fmt.Errorf("cutoff prob %g outside [0, 1]: %w", cfg.CutoffProb, ErrInvalidConfig)
	}
	if cfg.NumWorkers < 1 {
		return nil, fmt.Errorf("num workers %d < 1: %w", cfg.NumWorkers, ErrInvalidConfig)
	}
	bs := &BeamSearch{labels: set, cfg: cfg, space: -1}
	switch lm := cfg.LM.(type) {
	case nil, NoLanguageModel:
		bs.cfg.LM = NoLanguageModel{}
	case WithLanguageModel:
		if lm.Scorer == nil {
			return nil, fmt.Errorf("language model without scorer: %w", ErrInvalidConfig)
		}
		bs.lm = &lm
	default:
		return nil, fmt.Errorf("unsupported language model %T: %w", cfg.LM, ErrInvalidConfig)
	}
	if i, err := set.Index(wordSeparator); err == nil {
		bs.space = i
	}
	return bs, nil
}

// Config returns the decoder's configuration.
func (bs *BeamSearch) Config() BeamConfig { return bs.cfg }

// Decode implements Decoder. Samples are decoded on NumWorkers goroutines;
// results come back in input order.
func (bs *BeamSearch) Decode(b *Batch) ([]Hypotheses, error) {
	if err := b.Validate(bs.labels.Len()); err != nil {
		return nil, err
	}
	results, errs := parallel.Map(b.Len(), bs.cfg.NumWorkers, func(i int) (Hypotheses, error) {
		return bs.decodeSample(b.frames(i), b.Log)
	})
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return results, nil
}

// beam is one live prefix. Prefixes ending in a blank and prefixes ending in
// a label are separate beams so that repeats collapse correctly.
type beam struct {
	key       string
	tokens    []int
	offsets   []int
	endsBlank bool
	logP      float64 // acoustic
	lmBonus   float64
}

func (b *beam) rank() float64 { return b.logP + b.lmBonus }

func (b *beam) last() int {
	if len(b.tokens) == 0 {
		return -1
	}
	return b.tokens[len(b.tokens)-1]
}

func prefixKey(tokens []int) string {
	buf := make([]byte, 0, len(tokens)*2)
	for _, t := range tokens {
		buf = binary.AppendUvarint(buf, uint64(t))
	}
	return string(buf)
}

// beamSet collects next-step beams, merging mass of identical keys and
// remembering insertion order for stable ranking.
type beamSet struct {
	byKey map[beamKey]*beam
	order []*beam
}

type beamKey struct {
	prefix    string
	endsBlank bool
}

func newBeamSet(capacity int) *beamSet {
	return &beamSet{
		byKey: make(map[beamKey]*beam, capacity),
		order: make([]*beam, 0, capacity),
	}
}

func (s *beamSet) add(nb beam) {
	k := beamKey{nb.key, nb.endsBlank}
	if cur, ok := s.byKey[k]; ok {
		cur.logP = mathutil.LogAdd(cur.logP, nb.logP)
		return
	}
	p := &nb
	s.byKey[k] = p
	s.order = append(s.order, p)
}

// prune keeps the width best beams by rank. Ties keep insertion order.
func prune(beams []*beam, width int) []*beam {
	sort.SliceStable(beams, func(i, j int) bool {
		return beams[i].rank() > beams[j].rank()
	})
	if len(beams) > width {
		beams = beams[:width]
	}
	return beams
}

func (bs *BeamSearch) decodeSample(frames [][]float64, isLog bool) (Hypotheses, error) {
	blank := bs.labels.Blank()
	beams := []*beam{{key: "", endsBlank: true}}

	logRow := make([]float64, bs.labels.Len())
	probRow := make([]float64, bs.labels.Len())
	for t, row := range frames {
		for c, v := range row {
			logRow[c] = mathutil.LogProb(v, isLog)
			probRow[c] = mathutil.Prob(v, isLog)
		}
		cands := bs.candidates(probRow)

		next := newBeamSet(len(beams) * len(cands))
		for _, b := range beams {
			for _, c := range cands {
				lp := b.logP + logRow[c]
				switch {
				case c == blank:
					next.add(beam{key: b.key, tokens: b.tokens, offsets: b.offsets,
						endsBlank: true, logP: lp, lmBonus: b.lmBonus})
				case c == b.last() && !b.endsBlank:
					next.add(beam{key: b.key, tokens: b.tokens, offsets: b.offsets,
						logP: lp, lmBonus: b.lmBonus})
				default:
					next.add(bs.extend(b, c, t, lp))
				}
			}
		}
		beams = prune(next.order, bs.cfg.BeamWidth)
	}

	return bs.finish(beams)
}

// candidates returns the labels to expand at one step, in index order.
func (bs *BeamSearch) candidates(probs []float64) []int {
	top := mathutil.TopN(probs, bs.cfg.CutoffTopN)
	if bs.cfg.CutoffProb < 1.0 {
		cum := 0.0
		for n, c := range top {
			cum += probs[c]
			if cum >= bs.cfg.CutoffProb {
				top = top[:n+1]
				break
			}
		}
	}
	sort.Ints(top)
	return top
}

func (bs *BeamSearch) extend(b *beam, c, t int, logP float64) beam {
	tokens := make([]int, len(b.tokens)+1)
	copy(tokens, b.tokens)
	tokens[len(b.tokens)] = c
	offsets := make([]int, len(b.offsets)+1)
	copy(offsets, b.offsets)
	offsets[len(b.offsets)] = t

	nb := beam{key: prefixKey(tokens), tokens: tokens, offsets: offsets, logP: logP, lmBonus: b.lmBonus}
	if bs.lm != nil && c == bs.space && len(b.tokens) > 0 && b.last() != bs.space {
		nb.lmBonus = bs.lmBonusFor(b.tokens)
	}
	return nb
}

// lmBonusFor scores the text of tokens as a complete word sequence.
func (bs *BeamSearch) lmBonusFor(tokens []int) float64 {
	text, err := bs.labels.Join(tokens)
	if err != nil {
		return 0
	}
	text = strings.TrimSpace(text)
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return bs.lm.Alpha*bs.lm.Scorer.Score(text) + bs.lm.Beta*float64(words)
}

func (bs *BeamSearch) finish(beams []*beam) (Hypotheses, error) {
	// Close the last word of every beam before the final ranking.
	if bs.lm != nil {
		for _, b := range beams {
			if len(b.tokens) > 0 && b.last() != bs.space {
				b.lmBonus = bs.lmBonusFor(b.tokens)
			}
		}
	}

	// Merge the blank and non-blank beams of the same text.
	merged := make(map[string]*beam, len(beams))
	order := make([]*beam, 0, len(beams))
	for _, b := range beams {
		if cur, ok := merged[b.key]; ok {
			cur.logP = mathutil.LogAdd(cur.logP, b.logP)
			continue
		}
		cp := *b
		merged[b.key] = &cp
		order = append(order, &cp)
	}
	order = prune(order, bs.cfg.BeamWidth)

	out := make(Hypotheses, 0, len(order))
	for _, b := range order {
		text, err := bs.labels.Join(b.tokens)
		if err != nil {
			return nil, err
		}
		out = append(out, Hypothesis{
			Text:    text,
			Tokens:  b.tokens,
			Offsets: b.offsets,
			Score:   b.logP,
			LMScore: b.lmBonus,
		})
	}
	return out, nil
}
