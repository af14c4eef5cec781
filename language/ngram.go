// Package language provides the n-gram language model used to rescore
// beam search prefixes.
package language

import (
	"strings"

	"github.com/ieee0824/ctceval/internal/mathutil"
)

// Sentence boundary tokens.
const (
	SentenceStart = "<s>"
	SentenceEnd   = "</s>"
)

// NGramModel represents an n-gram language model.
// It is read-only after loading and safe for concurrent use.
type NGramModel struct {
	Order      int // 1 to 3
	Unigrams   map[string]ngramEntry
	Bigrams    map[[2]string]ngramEntry
	Trigrams   map[[3]string]ngramEntry
	OOVLogProb float64 // natural-log unigram probability for unseen words; 0 means LogZero
}

type ngramEntry struct {
	LogProb    float64
	LogBackoff float64
}

// NewNGramModel creates an empty n-gram model.
func NewNGramModel(order int) *NGramModel {
	return &NGramModel{
		Order:    order,
		Unigrams: make(map[string]ngramEntry),
		Bigrams:  make(map[[2]string]ngramEntry),
		Trigrams: make(map[[3]string]ngramEntry),
	}
}

// LogProb returns the log probability of a word given its history.
// Uses backoff when the exact n-gram is not found.
func (m *NGramModel) LogProb(history []string, word string) float64 {
	if m.Order >= 3 && len(history) >= 2 {
		h1, h2 := history[len(history)-2], history[len(history)-1]
		if e, ok := m.Trigrams[[3]string{h1, h2, word}]; ok {
			return e.LogProb
		}
		if e, ok := m.Bigrams[[2]string{h1, h2}]; ok {
			return e.LogBackoff + m.logProbBigram(h2, word)
		}
	}

	if m.Order >= 2 && len(history) >= 1 {
		return m.logProbBigram(history[len(history)-1], word)
	}

	return m.logProbUnigram(word)
}

func (m *NGramModel) logProbBigram(prev, word string) float64 {
	if e, ok := m.Bigrams[[2]string{prev, word}]; ok {
		return e.LogProb
	}
	if e, ok := m.Unigrams[prev]; ok {
		return e.LogBackoff + m.logProbUnigram(word)
	}
	return m.logProbUnigram(word)
}

func (m *NGramModel) logProbUnigram(word string) float64 {
	if e, ok := m.Unigrams[word]; ok {
		return e.LogProb
	}
	if m.OOVLogProb != 0 {
		return m.OOVLogProb
	}
	return mathutil.LogZero
}

// SentenceLogProb returns the total log probability of a sentence (word sequence).
// Automatically adds <s> at the beginning and </s> at the end.
func (m *NGramModel) SentenceLogProb(words []string) float64 {
	total, history := m.wordsLogProb(words)
	return total + m.LogProb(history, SentenceEnd)
}

// Score returns the log probability of the whitespace-separated words of
// prefix, starting from <s>. No </s> is added since the prefix may continue.
func (m *NGramModel) Score(prefix string) float64 {
	total, _ := m.wordsLogProb(strings.Fields(prefix))
	return total
}

func (m *NGramModel) wordsLogProb(words []string) (float64, []string) {
	total := 0.0
	history := make([]string, 1, len(words)+1)
	history[0] = SentenceStart
	for _, w := range words {
		total += m.LogProb(history, w)
		history = append(history, w)
	}
	return total, history
}

// Vocab returns all words in the unigram vocabulary.
func (m *NGramModel) Vocab() []string {
	words := make([]string, 0, len(m.Unigrams))
	for w := range m.Unigrams {
		words = append(words, w)
	}
	return words
}
