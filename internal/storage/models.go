package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// FileActivity lifecycle statuses. Pending and Processing are transient;
// the other three are terminal for a given processing attempt.
const (
	StatusPending                = "Pending"
	StatusProcessing             = "Processing"
	StatusProcessed              = "Processed"
	StatusFailed                 = "Failed"
	StatusPendingStoreAssignment = "PendingStoreAssignment"
)

// File types handled by the pipeline.
const (
	FileTypeExcel = "Excel"
	FileTypePDF   = "PDF"
)

// FileActivity is the persisted record of one detected file and its
// processing lifecycle. Created by the watch coordinator on first sighting,
// mutated only by the processing pipeline.
type FileActivity struct {
	ID                string
	Filename          string
	StoreCode         string // resolved outlet code, or "UNKNOWN"
	FileType          string // FileTypeExcel or FileTypePDF
	Status            string
	ProcessingDate    time.Time
	ProcessedBy       string
	ErrorMessage      string
	DetectedStoreCode string // raw code seen in the file/filename when resolution fails
	CreatedAt         time.Time
}

// TransactionRecord is one extracted spreadsheet row. Dates are kept as
// RFC 3339 strings; the storage contract is textual, not a date column.
type TransactionRecord struct {
	ID              string
	StoreCode       string
	OrderNumber     string
	OrderDate       string
	CustomerName    string
	CustomerContact string
	CustomerAddress string
	CustomerLoc     string
	ItemDetails     string
	ItemWeight      string
	Metals          string
	Engravings      string
	Stones          string
	Carats          string
	Price           string
	PawnTicket      string
	SaleDate        string
	FileActivityID  string
	CreatedAt       time.Time
}

// DocumentRecord is one ingested PDF document.
type DocumentRecord struct {
	ID             string
	StoreCode      string
	DocumentType   string
	Title          string
	Path           string
	UploadDate     time.Time
	FileSize       int64
	FileActivityID string
}

// Outlet is a registered retail outlet. Outlets are reference data for the
// pipeline: read for code resolution, never written by it.
type Outlet struct {
	ID     string
	Code   string
	Name   string
	Type   string // FileTypeExcel or FileTypePDF
	Active bool
}

// WatchlistPerson is a flagged person screened against customer fields.
type WatchlistPerson struct {
	ID                   string
	FullName             string
	IdentificationNumber string
	Notes                string
	Active               bool
}

// WatchlistItem is a flagged item screened against item descriptions.
type WatchlistItem struct {
	ID           string
	Description  string
	SerialNumber string
	Notes        string
	Active       bool
}

// Match kinds recorded on a MatchCandidate.
const (
	MatchExact   = "Exact"
	MatchPartial = "Partial"
)

// MatchCandidate links a transaction record to a watchlist entity with a
// confidence score. Review state belongs to the operator workflow; the
// pipeline only ever inserts candidates with status "Nueva".
type MatchCandidate struct {
	ID           string
	RecordID     string
	PersonID     string // set for person matches
	ItemID       string // set for item matches
	MatchKind    string // MatchExact or MatchPartial
	Field        string // which watchlist field matched
	Value        string // the literal record value that matched
	Confidence   float64
	Status       string
	CreatedAt    time.Time
}
