// Package similarity scores textual closeness between two strings. The same
// scorer backs outlet-code resolution and watchlist screening; each caller
// applies its own acceptance threshold.
package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Result is the outcome of comparing two strings.
type Result struct {
	Score float64 // in [0, 1]
	Exact bool    // equal after normalization
}

// Normalize lowercases, strips diacritics and anything outside [a-z0-9 ],
// and collapses whitespace. "Juan Pérez" and "juan perez" normalize to the
// same string.
func Normalize(s string) string {
	decomposed := norm.NFD.String(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark left over from decomposition
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Score compares two strings, first match wins:
//
//  1. empty after normalization: 0
//  2. equal after normalization: 1, exact
//  3. one contains the other, spaces ignored ("abc123" inside "abc 123
//     extra"): 0.70-0.95 scaled by length ratio — a short fragment inside a
//     long string is weaker evidence than two strings of comparable length
//  4. token overlap: shared tokens over the larger token set, capped at 0.9
func Score(a, b string) Result {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return Result{}
	}
	if na == nb {
		return Result{Score: 1, Exact: true}
	}

	// Containment is checked on space-stripped forms so spacing differences
	// in identifiers do not defeat it.
	sa := strings.ReplaceAll(na, " ", "")
	sb := strings.ReplaceAll(nb, " ", "")
	if strings.Contains(sa, sb) || strings.Contains(sb, sa) {
		shorter, longer := len(sa), len(sb)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		ratio := float64(shorter) / float64(longer)
		if ratio < 0.3 {
			return Result{Score: 0.70 + 0.25*ratio}
		}
		return Result{Score: 0.95}
	}

	return Result{Score: tokenOverlap(na, nb)}
}

func tokenOverlap(na, nb string) float64 {
	ta := significantTokens(na)
	tb := significantTokens(nb)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for _, t := range ta {
		for _, u := range tb {
			if t == u || strings.Contains(t, u) || strings.Contains(u, t) {
				shared++
				break
			}
		}
	}

	size := len(ta)
	if len(tb) > size {
		size = len(tb)
	}
	score := float64(shared) / float64(size)
	if score > 0.9 {
		score = 0.9
	}
	return score
}

// significantTokens splits on whitespace and drops tokens too short to carry
// signal.
func significantTokens(s string) []string {
	var out []string
	for _, t := range strings.Fields(s) {
		if len(t) > 2 {
			out = append(out, t)
		}
	}
	return out
}
