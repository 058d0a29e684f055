// Package normalize turns raw spreadsheet cell values into validated domain
// values. Spreadsheet exports routinely contain corrupted or placeholder
// cells, so every function here degrades instead of failing: a bad date falls
// back to the current time with ok=false so the caller can reject the row
// without aborting the file.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Accepted calendar year range. Anything outside is treated as corrupted.
const (
	minYear = 1900
	maxYear = 2100
)

// excelEpoch is day zero of the spreadsheet date serial system.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// String date layouts tried in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
}

// Date converts a raw cell value to a calendar date. It accepts native
// times, spreadsheet date serials (days since 1899-12-30, fractional part is
// time of day) and strings. When the value cannot be parsed, or the parsed
// year falls outside [1900, 2100], it returns the current time and ok=false.
func Date(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return checkRange(v)
	case float64:
		return checkRange(FromSerial(v))
	case int:
		return checkRange(FromSerial(float64(v)))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Now().UTC(), false
		}
		// A bare number is a date serial that survived as text.
		if serial, err := strconv.ParseFloat(s, 64); err == nil {
			return checkRange(FromSerial(serial))
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return checkRange(t)
			}
		}
		return time.Now().UTC(), false
	default:
		return time.Now().UTC(), false
	}
}

// FromSerial converts a spreadsheet date serial to a UTC time.
func FromSerial(serial float64) time.Time {
	days := math.Floor(serial)
	frac := serial - days
	t := excelEpoch.AddDate(0, 0, int(days))
	return t.Add(time.Duration(frac * 24 * float64(time.Hour)))
}

func checkRange(t time.Time) (time.Time, bool) {
	if t.Year() < minYear || t.Year() > maxYear {
		return time.Now().UTC(), false
	}
	return t.UTC(), true
}

// Cell is a defensive positional accessor over loosely-typed cells: an
// out-of-range index or a missing (nil) cell yields "", and every value comes
// back trimmed. A nil cell means the source had no cell there at all, which
// is distinct from a present-but-empty string.
func Cell(values []any, index int) string {
	if index < 0 || index >= len(values) {
		return ""
	}
	switch v := values[index].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
