// Package editdist computes Levenshtein distances between hypothesis and
// reference transcripts at word and character granularity.
package editdist

import "strings"

// Distance computes the Levenshtein edit distance between two token sequences.
// Insertion, deletion and substitution each cost 1.
func Distance[T comparable](a, b []T) int {
	// Keep the DP row as short as the shorter sequence.
	if len(a) < len(b) {
		a, b = b, a
	}
	la, lb := len(a), len(b)
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}

// Words returns the word-level distance. Both strings are split on whitespace.
func Words(hyp, ref string) int {
	return Distance(strings.Fields(hyp), strings.Fields(ref))
}

// Chars returns the character-level distance over runes, whitespace included.
func Chars(hyp, ref string) int {
	return Distance([]rune(hyp), []rune(ref))
}

// CharsNoSpace returns the character-level distance with spaces removed from both strings.
func CharsNoSpace(hyp, ref string) int {
	return Chars(stripSpaces(hyp), stripSpaces(ref))
}

// WordCount returns the number of whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// CharCount returns the number of runes in s.
func CharCount(s string) int {
	return len([]rune(s))
}

// CharCountNoSpace returns the number of runes in s excluding spaces.
func CharCountNoSpace(s string) int {
	return CharCount(stripSpaces(s))
}

func stripSpaces(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
