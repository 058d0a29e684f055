// Package outlets resolves codes detected in files to registered retail
// outlets. Resolution never guesses: a code that cannot be matched leaves the
// file pending manual assignment, because filing transactions under the wrong
// outlet is worse than asking an operator.
package outlets

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aureopos/aureo/internal/similarity"
	"github.com/aureopos/aureo/internal/storage"
)

// Resolve finds the registered outlet for a detected code: exact equality
// first, then equality with all internal whitespace stripped (manual
// spreadsheet entry leaves trailing and embedded spaces). Returns nil when
// neither matches.
func Resolve(detectedCode string, registered []storage.Outlet) *storage.Outlet {
	for i := range registered {
		if registered[i].Code == detectedCode {
			return &registered[i]
		}
	}

	squeezed := stripSpaces(detectedCode)
	if squeezed == "" {
		return nil
	}
	for i := range registered {
		if stripSpaces(registered[i].Code) == squeezed {
			return &registered[i]
		}
	}
	return nil
}

// Suggest returns the registered outlet whose code scores closest to the
// detected one, with its similarity score. Used to pre-fill the manual
// assignment workflow; never used to resolve automatically.
func Suggest(detectedCode string, registered []storage.Outlet) (*storage.Outlet, float64) {
	var best *storage.Outlet
	bestScore := 0.0
	for i := range registered {
		if r := similarity.Score(detectedCode, registered[i].Code); r.Score > bestScore {
			best = &registered[i]
			bestScore = r.Score
		}
	}
	return best, bestScore
}

// Filename code patterns, tried strictest first.
var (
	strictCodeRe = regexp.MustCompile(`(?i)\b(J\d{5}[A-Z0-9]{4,5})\b`)
	looseCodeRe  = regexp.MustCompile(`(?i)\b([A-Z]\d{1,6}|J\d{2,6}[a-z]{1,3})\b`)
)

// knownNames are human-readable outlet names that historically show up in
// document filenames instead of codes.
var knownNames = []string{"Montera", "Central", "Plaza", "Norte", "Sur"}

// DetectCodeFromFilename extracts a probable outlet code from a document
// filename. Strategy order: strict J-code pattern, loose letter+digit
// pattern, substring search of every registered code, then known outlet
// names. Returns "" when nothing plausible is found.
func DetectCodeFromFilename(filename string, registered []storage.Outlet) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	if m := strictCodeRe.FindStringSubmatch(base); m != nil {
		return m[1]
	}
	if m := looseCodeRe.FindStringSubmatch(base); m != nil {
		return m[1]
	}

	lower := strings.ToLower(filename)
	for _, o := range registered {
		if o.Code != "" && strings.Contains(lower, strings.ToLower(o.Code)) {
			return o.Code
		}
	}
	for _, name := range knownNames {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
