package decoder

// Scorer scores a text prefix with an external language model.
// Implementations must be safe for concurrent use.
type Scorer interface {
	// Score returns the natural-log probability of the words in prefix.
	Score(prefix string) float64
}

// LanguageModel selects whether beam search rescoring is active.
// It is either NoLanguageModel or WithLanguageModel.
type LanguageModel interface {
	languageModel()
}

// NoLanguageModel ranks beams by acoustic probability alone.
type NoLanguageModel struct{}

// WithLanguageModel adds Alpha*Scorer.Score(prefix) + Beta*words to a beam's
// ranking score at every word boundary.
type WithLanguageModel struct {
	Scorer Scorer
	Alpha  float64 // LM weight
	Beta   float64 // word insertion bonus
}

func (NoLanguageModel) languageModel()   {}
func (WithLanguageModel) languageModel() {}
