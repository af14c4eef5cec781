package language

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// DefaultOOVLog10 is the log10 probability the command-line tools and Session
// give to words missing from a loaded model.
const DefaultOOVLog10 = -10.0

// LoadARPAFile reads an ARPA language model from disk.
// oovLog10 is the log10 probability given to unseen words; 0 keeps them at LogZero.
func LoadARPAFile(path string, oovLog10 float64) (*NGramModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open language model: %w", err)
	}
	defer f.Close()
	m, err := LoadARPA(f)
	if err != nil {
		return nil, fmt.Errorf("load language model %s: %w", path, err)
	}
	m.OOVLogProb = oovLog10 * math.Ln10
	return m, nil
}

// LoadARPA reads a language model in ARPA format.
// Log probabilities in ARPA files are base-10; they are converted to natural log.
// The entry count of every section must match its "ngram N=count" header line.
func LoadARPA(r io.Reader) (*NGramModel, error) {
	p := &arpaParser{sc: bufio.NewScanner(r)}
	p.sc.Buffer(make([]byte, 64*1024), 1024*1024)
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.model, nil
}

type arpaParser struct {
	sc       *bufio.Scanner
	line     int
	model    *NGramModel
	declared []int // header counts, by order-1
	found    []int
}

// next returns the next non-blank line, trimmed.
func (p *arpaParser) next() (string, bool) {
	for p.sc.Scan() {
		p.line++
		if s := strings.TrimSpace(p.sc.Text()); s != "" {
			return s, true
		}
	}
	return "", false
}

func (p *arpaParser) parse() error {
	s, ok := p.next()
	for ok && s != `\data\` {
		s, ok = p.next()
	}
	if !ok {
		return p.eof(`missing \data\ header`)
	}

	s, ok = p.next()
	for ok && strings.HasPrefix(s, "ngram ") {
		if err := p.header(s); err != nil {
			return fmt.Errorf("line %d: %w", p.line, err)
		}
		s, ok = p.next()
	}
	order := len(p.declared)
	if order < 1 || order > 3 {
		return fmt.Errorf("unsupported n-gram order %d", order)
	}
	p.model = NewNGramModel(order)
	p.found = make([]int, order)

	section := 0
	for ; ok; s, ok = p.next() {
		switch {
		case s == `\end\`:
			return p.checkCounts()
		case strings.HasPrefix(s, `\`) && strings.HasSuffix(s, "-grams:"):
			n, err := strconv.Atoi(strings.TrimSuffix(s[1:], "-grams:"))
			if err != nil || n < 1 || n > order {
				return fmt.Errorf("line %d: section %q in order-%d model", p.line, s, order)
			}
			section = n
		case section == 0:
			return fmt.Errorf("line %d: entry outside an n-gram section", p.line)
		default:
			if err := p.entry(section, s); err != nil {
				return fmt.Errorf("line %d: %w", p.line, err)
			}
		}
	}
	if err := p.eof(""); err != nil {
		return err
	}
	return p.checkCounts()
}

// eof reports a read error, or msg when the input simply ended.
func (p *arpaParser) eof(msg string) error {
	if err := p.sc.Err(); err != nil {
		return fmt.Errorf("read ARPA: %w", err)
	}
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

// header parses "ngram N=count". Orders must appear in sequence from 1.
func (p *arpaParser) header(s string) error {
	n, c, found := strings.Cut(strings.TrimPrefix(s, "ngram "), "=")
	if !found {
		return fmt.Errorf("malformed count line %q", s)
	}
	order, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil {
		return fmt.Errorf("count line %q: %w", s, err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(c))
	if err != nil || count < 0 {
		return fmt.Errorf("count line %q: bad count", s)
	}
	if order != len(p.declared)+1 {
		return fmt.Errorf("count line %q: expected order %d", s, len(p.declared)+1)
	}
	p.declared = append(p.declared, count)
	return nil
}

// entry parses "logprob w1 .. wN [backoff]" of an order-N section.
func (p *arpaParser) entry(order int, s string) error {
	fields := strings.Fields(s)
	if len(fields) < order+1 {
		return fmt.Errorf("too few fields for %d-gram: %q", order, s)
	}
	lp, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("log prob of %q: %w", s, err)
	}
	e := ngramEntry{LogProb: lp * math.Ln10}
	if len(fields) > order+1 {
		bo, err := strconv.ParseFloat(fields[order+1], 64)
		if err != nil {
			return fmt.Errorf("backoff of %q: %w", s, err)
		}
		e.LogBackoff = bo * math.Ln10
	}

	w := fields[1 : order+1]
	switch order {
	case 1:
		p.model.Unigrams[w[0]] = e
	case 2:
		p.model.Bigrams[[2]string{w[0], w[1]}] = e
	case 3:
		p.model.Trigrams[[3]string{w[0], w[1], w[2]}] = e
	}
	p.found[order-1]++
	return nil
}

func (p *arpaParser) checkCounts() error {
	for i, want := range p.declared {
		if p.found[i] != want {
			return fmt.Errorf("%d-grams: header declares %d entries, found %d", i+1, want, p.found[i])
		}
	}
	return nil
}
