package language

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// Builder accumulates sentences and builds a Witten-Bell smoothed n-gram
// language model.
type Builder struct {
	order     int
	sentences int
	unigrams  map[string]int
	bigrams   map[[2]string]int
	trigrams  map[[3]string]int
}

// NewBuilder creates a new N-gram builder. order is clamped to [2, 3].
func NewBuilder(order int) *Builder {
	order = min(max(order, 2), 3)
	return &Builder{
		order:    order,
		unigrams: make(map[string]int),
		bigrams:  make(map[[2]string]int),
		trigrams: make(map[[3]string]int),
	}
}

// Order returns the n-gram order being built.
func (b *Builder) Order() int { return b.order }

// Sentences returns the number of sentences added so far.
func (b *Builder) Sentences() int { return b.sentences }

// AddSentence adds a tokenized sentence. <s> and </s> are added automatically.
func (b *Builder) AddSentence(words []string) {
	if len(words) == 0 {
		return
	}
	b.sentences++
	seq := make([]string, 0, len(words)+2)
	seq = append(seq, SentenceStart)
	seq = append(seq, words...)
	seq = append(seq, SentenceEnd)

	for i, w := range seq {
		b.unigrams[w]++
		if i >= 1 {
			b.bigrams[[2]string{seq[i-1], w}]++
		}
		if b.order >= 3 && i >= 2 {
			b.trigrams[[3]string{seq[i-2], seq[i-1], w}]++
		}
	}
}

// AddText adds one transcript; words are separated by whitespace.
func (b *Builder) AddText(text string) {
	b.AddSentence(strings.Fields(text))
}

// ReadLines adds every non-empty line of r as a sentence and returns how
// many were added.
func (b *Builder) ReadLines(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		b.AddText(line)
		n++
	}
	return n, scanner.Err()
}

// contextStats holds Witten-Bell statistics of one history.
type contextStats struct {
	count int     // N(h): tokens following h
	types int     // T(h): distinct words following h
	mass  float64 // discounted probability of the seen continuations
	lower float64 // lower-order probability of the same continuations
}

func (c contextStats) denom() float64 { return float64(c.count + c.types) }

// backoff returns the log10 backoff weight, or 0 when none applies.
func (c contextStats) backoff() float64 {
	if c.lower >= 1.0 {
		return 0
	}
	return math.Log10((1.0 - c.mass) / (1.0 - c.lower))
}

// WriteARPA writes the model in ARPA format (log10 probabilities) to w.
func (b *Builder) WriteARPA(w io.Writer) error {
	uniTotal := 0
	for _, c := range b.unigrams {
		uniTotal += c
	}
	if uniTotal == 0 {
		return fmt.Errorf("language: no sentences added")
	}
	uniProb := func(word string) float64 {
		return float64(b.unigrams[word]) / float64(uniTotal)
	}

	biCtx := make(map[string]contextStats)
	for key, c := range b.bigrams {
		s := biCtx[key[0]]
		s.count += c
		s.types++
		biCtx[key[0]] = s
	}
	biProb := func(key [2]string) float64 {
		return float64(b.bigrams[key]) / biCtx[key[0]].denom()
	}
	for key := range b.bigrams {
		s := biCtx[key[0]]
		s.mass += biProb(key)
		s.lower += uniProb(key[1])
		biCtx[key[0]] = s
	}

	triCtx := make(map[[2]string]contextStats)
	for key, c := range b.trigrams {
		h := [2]string{key[0], key[1]}
		s := triCtx[h]
		s.count += c
		s.types++
		triCtx[h] = s
	}
	for key, c := range b.trigrams {
		h := [2]string{key[0], key[1]}
		s := triCtx[h]
		s.mass += float64(c) / s.denom()
		if _, ok := b.bigrams[[2]string{key[1], key[2]}]; ok {
			s.lower += biProb([2]string{key[1], key[2]})
		} else {
			s.lower += uniProb(key[2])
		}
		triCtx[h] = s
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "\\data\\")
	fmt.Fprintf(bw, "ngram 1=%d\n", len(b.unigrams))
	fmt.Fprintf(bw, "ngram 2=%d\n", len(b.bigrams))
	if len(b.trigrams) > 0 {
		fmt.Fprintf(bw, "ngram 3=%d\n", len(b.trigrams))
	}

	fmt.Fprintln(bw, "\n\\1-grams:")
	for _, word := range sortedKeys(b.unigrams, func(a, c string) bool { return a < c }) {
		writeEntry(bw, math.Log10(uniProb(word)), word, biCtx[word].backoff())
	}

	fmt.Fprintln(bw, "\n\\2-grams:")
	for _, key := range sortedKeys(b.bigrams, lessKey2) {
		bo := 0.0
		if b.order >= 3 {
			bo = triCtx[key].backoff()
		}
		writeEntry(bw, math.Log10(biProb(key)), key[0]+" "+key[1], bo)
	}

	if len(b.trigrams) > 0 {
		fmt.Fprintln(bw, "\n\\3-grams:")
		for _, key := range sortedKeys(b.trigrams, lessKey3) {
			lp := math.Log10(float64(b.trigrams[key]) / triCtx[[2]string{key[0], key[1]}].denom())
			writeEntry(bw, lp, key[0]+" "+key[1]+" "+key[2], 0)
		}
	}

	fmt.Fprintln(bw, "\n\\end\\")
	return bw.Flush()
}

func writeEntry(w io.Writer, logProb float64, words string, backoff float64) {
	if backoff != 0 {
		fmt.Fprintf(w, "%.6f\t%s\t%.6f\n", logProb, words, backoff)
		return
	}
	fmt.Fprintf(w, "%.6f\t%s\n", logProb, words)
}

func sortedKeys[K comparable](m map[K]int, less func(a, b K) bool) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}

func lessKey2(a, b [2]string) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

func lessKey3(a, b [3]string) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	if a[1] != b[1] {
		return a[1] < b[1]
	}
	return a[2] < b[2]
}
