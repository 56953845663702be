package fingerprint

import (
	"strings"
	"unicode"

	"sentinel-guard/internal/utils"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Fingerprint is the normalized form of a message body. Two fingerprints with
// equal Hash were built from the same normalized text.
type Fingerprint struct {
	Text string
	Hash uint64
}

func (f Fingerprint) Empty() bool {
	return f.Text == ""
}

// Compute normalizes text and hashes the result. With linksOnly set, only the
// URLs found in text contribute, normalized and sorted so their order in the
// message does not matter.
func Compute(text string, caseSensitive, linksOnly bool) Fingerprint {
	var normalized string
	if linksOnly {
		normalized = strings.Join(utils.CanonicalLinks(text), " ")
	} else {
		normalized = Normalize(text, caseSensitive)
	}
	return Fingerprint{Text: normalized, Hash: xxhash.Sum64String(normalized)}
}

// Normalize applies NFKC, trims, collapses runs of whitespace, and folds case
// unless caseSensitive is set.
func Normalize(text string, caseSensitive bool) string {
	text = norm.NFKC.String(text)
	text = strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	if !caseSensitive {
		text = cases.Fold().String(text)
	}
	return text
}

// Similarity returns the Dice coefficient over rune bigrams of the two
// normalized texts, in [0, 1].
func Similarity(a, b Fingerprint) float64 {
	if a.Hash == b.Hash && a.Text == b.Text {
		return 1
	}
	if a.Empty() || b.Empty() {
		return 0
	}
	left := bigrams(a.Text)
	right := bigrams(b.Text)
	if len(left) == 0 || len(right) == 0 {
		// single-rune texts that differ
		return 0
	}

	total := 0
	for _, n := range left {
		total += n
	}
	for _, n := range right {
		total += n
	}
	shared := 0
	for gram, n := range left {
		if m, ok := right[gram]; ok {
			shared += min(n, m)
		}
	}
	return 2 * float64(shared) / float64(total)
}

// Match reports whether a and b count as the same content. requireIdentical
// short-circuits to an exact comparison.
func Match(a, b Fingerprint, threshold float64, requireIdentical bool) bool {
	if requireIdentical {
		return a.Hash == b.Hash && a.Text == b.Text
	}
	return Similarity(a, b) >= threshold
}

func bigrams(text string) map[[2]rune]int {
	runes := []rune(text)
	if len(runes) < 2 {
		return nil
	}
	grams := make(map[[2]rune]int, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		grams[[2]rune{runes[i], runes[i+1]}]++
	}
	return grams
}
