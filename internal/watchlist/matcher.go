// Package watchlist screens extracted transaction records against the active
// watchlists of flagged persons and items.
package watchlist

import (
	"time"

	"github.com/google/uuid"

	"github.com/aureopos/aureo/internal/similarity"
	"github.com/aureopos/aureo/internal/storage"
)

// Acceptance thresholds per match type. Identifiers are expected to match
// more precisely than names; free-text item descriptions vary the most.
const (
	NameThreshold        = 0.70
	IDNumberThreshold    = 0.80
	DescriptionThreshold = 0.65
	SerialThreshold      = 0.85
)

// Matched-field labels recorded on candidates.
const (
	FieldFullName     = "fullName"
	FieldIDNumber     = "identificationNumber"
	FieldDescription  = "description"
	FieldSerialNumber = "serialNumber"
)

// Matcher compares records against a fixed snapshot of watchlist entries.
type Matcher struct {
	persons []storage.WatchlistPerson
	items   []storage.WatchlistItem
}

// New builds a Matcher over the given active watchlist entries.
func New(persons []storage.WatchlistPerson, items []storage.WatchlistItem) *Matcher {
	return &Matcher{persons: persons, items: items}
}

// Screen compares one record against every watchlist entry and returns all
// qualifying match candidates. There is no early exit: multiple independent
// signals can co-occur on one record and reviewers want all of them.
func (m *Matcher) Screen(rec storage.TransactionRecord) []storage.MatchCandidate {
	var out []storage.MatchCandidate

	for _, p := range m.persons {
		if r := similarity.Score(p.FullName, rec.CustomerName); r.Score >= NameThreshold {
			out = append(out, candidate(rec.ID, r, FieldFullName, rec.CustomerName, p.ID, ""))
		}
		if r := similarity.Score(p.IdentificationNumber, rec.CustomerContact); r.Score >= IDNumberThreshold {
			out = append(out, candidate(rec.ID, r, FieldIDNumber, rec.CustomerContact, p.ID, ""))
		}
	}

	for _, it := range m.items {
		if r := similarity.Score(it.Description, rec.ItemDetails); r.Score >= DescriptionThreshold {
			out = append(out, candidate(rec.ID, r, FieldDescription, rec.ItemDetails, "", it.ID))
		}
		if r := similarity.Score(it.SerialNumber, rec.ItemDetails); r.Score >= SerialThreshold {
			out = append(out, candidate(rec.ID, r, FieldSerialNumber, rec.ItemDetails, "", it.ID))
		}
	}

	return out
}

func candidate(recordID string, r similarity.Result, field, value, personID, itemID string) storage.MatchCandidate {
	kind := storage.MatchPartial
	if r.Exact {
		kind = storage.MatchExact
	}
	return storage.MatchCandidate{
		ID:         uuid.New().String(),
		RecordID:   recordID,
		PersonID:   personID,
		ItemID:     itemID,
		MatchKind:  kind,
		Field:      field,
		Value:      value,
		Confidence: r.Score * 100,
		Status:     "Nueva",
		CreatedAt:  time.Now().UTC(),
	}
}
