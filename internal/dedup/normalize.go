// Package dedup resolves discovered candidates against tracked opportunities
// and known grantees.
package dedup

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are trailing tokens stripped from organization names.
var legalSuffixes = map[string]bool{
	"inc":          true,
	"incorporated": true,
	"llc":          true,
	"ltd":          true,
	"limited":      true,
	"corp":         true,
	"corporation":  true,
	"co":           true,
	"company":      true,
	"lp":           true,
	"llp":          true,
	"pc":           true,
	"pllc":         true,
	"plc":          true,
}

// stopwords are ignored when computing token overlap.
var stopwords = map[string]bool{
	"the":  true,
	"of":   true,
	"for":  true,
	"and":  true,
	"a":    true,
	"an":   true,
	"in":   true,
	"to":   true,
	"on":   true,
	"at":   true,
	"by":   true,
	"with": true,
}

// Normalize lowercases name, folds accents, strips punctuation, a leading
// "the" and trailing legal suffixes, and collapses whitespace.
func Normalize(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(strings.ReplaceAll(folded, "&", " and "))

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// "Children's" and "Childrens" should compare equal.
		default:
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	if len(tokens) > 1 && tokens[0] == "the" {
		tokens = tokens[1:]
	}
	for len(tokens) > 1 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// Tokens returns the normalized tokens of name without stopwords.
func Tokens(name string) []string {
	var out []string
	for _, t := range strings.Fields(Normalize(name)) {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

// TokenOverlap returns |A∩B| / |A∪B| over the stopword-free token sets of
// a and b. It is 0 when either side has no tokens.
func TokenOverlap(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]int, len(ta)+len(tb))
	for _, t := range ta {
		set[t] |= 1
	}
	for _, t := range tb {
		set[t] |= 2
	}
	inter := 0
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

// Similarity returns the edit-distance ratio of two already normalized
// strings: 1 - levenshtein(a, b) / max(len(a), len(b)), counted in runes.
// It runs in O(n·m) time. Identical strings score 1, and an empty string
// scores 0 against any non-empty one.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	d := levenshtein.Distance(a, b, nil)
	return 1 - float64(d)/float64(max(la, lb))
}

// NameSimilarity normalizes both names before comparing them.
func NameSimilarity(a, b string) float64 {
	return Similarity(Normalize(a), Normalize(b))
}

// NormalizeEIN keeps only the digits of a tax id.
func NormalizeEIN(ein string) string {
	var b strings.Builder
	for _, r := range ein {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
