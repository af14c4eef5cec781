package decoder

// Hypothesis is one decoded transcript candidate for a sample.
type Hypothesis struct {
	Text    string  // decoded text
	Tokens  []int   // collapsed label indices
	Offsets []int   // time step at which each token was emitted
	Score   float64 // acoustic log probability
	LMScore float64 // language-model bonus used for ranking only
}

// Rank returns the score the hypothesis was ranked by.
func (h Hypothesis) Rank() float64 {
	return h.Score + h.LMScore
}

// Hypotheses holds the ranked candidates of one sample, best first.
type Hypotheses []Hypothesis

// Best returns the rank-1 hypothesis, or the zero value if there is none.
func (hs Hypotheses) Best() Hypothesis {
	if len(hs) == 0 {
		return Hypothesis{}
	}
	return hs[0]
}
