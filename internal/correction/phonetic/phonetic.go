// Package phonetic snaps near-miss words in a transcript to a user vocabulary
// using Double Metaphone encoding combined with Jaro-Winkler similarity.
//
// Matching runs in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each input token and for each vocabulary term. A term whose codes
//     overlap the input's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the term with the
//     highest case-insensitive similarity wins, provided it clears the
//     phonetic threshold. Without any phonetic candidate a pure
//     Jaro-Winkler pass runs against a stricter fuzzy threshold.
//
// Multi-word terms ("Kubernetes operator") are matched against n-gram
// windows of the transcript; the longest match wins.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
	minTokenLen              = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matched term. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the pure string
// similarity fallback. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Replacement records one substitution made by [Matcher.Snap].
type Replacement struct {
	Original   string
	Term       string
	Confidence float64
}

// Match finds the vocabulary term most similar to word. word may be a single
// token or a space-separated phrase. When matched is false, term equals word
// and confidence is 0.
func (m *Matcher) Match(word string, terms []string) (term string, confidence float64, matched bool) {
	if len(terms) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, t := range terms {
		termLower := strings.ToLower(strings.TrimSpace(t))
		if termLower == "" {
			continue
		}
		if termLower == wordLower {
			return t, 1, true
		}
		termTokens := strings.Fields(termLower)
		if len(termTokens) != len(wordTokens) {
			continue
		}

		score := jwScore(wordTokens, termTokens, wordLower, termLower)
		if codesOverlap(inputCodes, codesForTokens(termTokens)) {
			if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{term: t, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= m.fuzzyThreshold && score > best.score {
			best = candidate{term: t, score: score}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// Snap replaces near-miss words and phrases in text with their vocabulary
// spelling. At each position n-gram windows from the longest term length down
// to one token are tried; surrounding punctuation is preserved. Tokens shorter
// than three letters are never replaced.
func (m *Matcher) Snap(text string, terms []string) (string, []Replacement) {
	tokens := strings.Fields(text)
	maxWords := maxWordCount(terms)
	if len(tokens) == 0 || maxWords == 0 {
		return text, nil
	}

	var out []string
	var reps []Replacement

	for i := 0; i < len(tokens); {
		n := min(maxWords, len(tokens)-i)
		matched := false
		for ; n >= 1; n-- {
			lead, _, _ := splitPunct(tokens[i])
			_, _, trail := splitPunct(tokens[i+n-1])
			words := make([]string, n)
			for k := range n {
				_, core, _ := splitPunct(tokens[i+k])
				words[k] = core
			}
			window := strings.Join(words, " ")
			if len([]rune(strings.ReplaceAll(window, " ", ""))) < minTokenLen {
				continue
			}
			term, conf, ok := m.Match(window, terms)
			if !ok {
				continue
			}
			out = append(out, lead+term+trail)
			if term != window {
				reps = append(reps, Replacement{Original: window, Term: term, Confidence: conf})
			}
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	if len(reps) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), reps
}

// splitPunct separates leading and trailing punctuation from a token.
func splitPunct(tok string) (lead, core, trail string) {
	start := strings.IndexFunc(tok, isWordRune)
	if start < 0 {
		return tok, "", ""
	}
	end := strings.LastIndexFunc(tok, isWordRune)
	_, size := utf8.DecodeRuneInString(tok[end:])
	return tok[:start], tok[start : end+size], tok[end+size:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// codesForTokens returns the union of the non-empty Double Metaphone codes
// of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// jwScore is the higher of the full-string and the space-stripped
// Jaro-Winkler similarity.
func jwScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)
	if len(inputTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}

func maxWordCount(terms []string) int {
	n := 0
	for _, t := range terms {
		n = max(n, len(strings.Fields(t)))
	}
	return n
}
