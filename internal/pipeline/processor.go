// Package pipeline drives one detected file from Pending to a terminal
// status. A file either ends Processed (rows persisted, watchlists screened,
// file moved aside), Failed (error captured, file left in place for
// inspection) or PendingStoreAssignment (no outlet could be resolved, nothing
// persisted). Errors never escape a single file's handling.
package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aureopos/aureo/internal/extract"
	"github.com/aureopos/aureo/internal/outlets"
	"github.com/aureopos/aureo/internal/storage"
	"github.com/aureopos/aureo/internal/watchlist"
)

// UnknownStoreCode is the placeholder recorded when no outlet is resolved yet.
const UnknownStoreCode = "UNKNOWN"

// StatusNotifier receives per-file status transitions, intended for a
// real-time operator UI. Delivery is at-least-once; receivers are idempotent.
type StatusNotifier interface {
	ProcessingStatus(activityID, status, errorMessage string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ProcessingStatus(string, string, string) {}

// Processor owns the per-file status transitions and coordinates row
// extraction, outlet resolution, watchlist screening and the move-to-processed
// step.
type Processor struct {
	store  *storage.Store
	notify StatusNotifier
	logger *slog.Logger

	// Reader seams, replaced in tests.
	readRows    func(path string) ([][]any, error)
	readPDFText func(path string) (string, error)
}

// NewProcessor creates a Processor backed by the real spreadsheet and PDF
// readers.
func NewProcessor(store *storage.Store, notify StatusNotifier) *Processor {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Processor{
		store:       store,
		notify:      notify,
		logger:      slog.Default(),
		readRows:    extract.Rows,
		readPDFText: pdfPlainText,
	}
}

// Process runs one processing attempt for the activity's file and returns the
// terminal status reached. The caller has already created the activity in
// Pending.
func (p *Processor) Process(path string, a storage.FileActivity) string {
	p.setStatus(a.ID, storage.StatusProcessing, "")

	var status string
	var err error
	switch a.FileType {
	case storage.FileTypePDF:
		status, err = p.processPDF(path, a)
	default:
		status, err = p.processExcel(path, a)
	}
	if err != nil {
		p.logger.Warn("file processing failed", "activity_id", a.ID, "filename", a.Filename, "error", err)
		p.setStatus(a.ID, storage.StatusFailed, err.Error())
		return storage.StatusFailed
	}
	return status
}

// Reprocess starts a fresh attempt for an activity after an operator assigned
// an outlet manually. The assigned code is written to the activity before the
// attempt begins.
func (p *Processor) Reprocess(path, activityID, storeCode string) (string, error) {
	if err := p.store.UpdateFileActivityStore(activityID, storeCode, ""); err != nil {
		return "", fmt.Errorf("assigning outlet: %w", err)
	}
	a, err := p.store.GetFileActivity(activityID)
	if err != nil {
		return "", fmt.Errorf("loading activity: %w", err)
	}
	p.setStatus(a.ID, storage.StatusPending, "")
	a.Status = storage.StatusPending
	return p.Process(path, a), nil
}

func (p *Processor) processExcel(path string, a storage.FileActivity) (string, error) {
	rows, err := p.readRows(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", a.Filename, err)
	}

	// Extract every data row first. Invalid rows are skipped silently; the
	// gathered set is only persisted once an outlet resolves.
	var records []*storage.TransactionRecord
	for i := 1; i < len(rows); i++ {
		if rec := extract.Record(rows[i], a.StoreCode, a.ID); rec != nil {
			records = append(records, rec)
		}
	}

	detected := extract.StoreCodeCell(rows)
	codeToResolve := detected
	if codeToResolve == "" && a.StoreCode != UnknownStoreCode {
		codeToResolve = a.StoreCode
	}
	if codeToResolve == "" || codeToResolve == UnknownStoreCode {
		// No code in the file and only a placeholder to fall back on.
		return p.pendAssignment(a, detected)
	}

	registered, err := p.store.ListOutlets(storage.FileTypeExcel)
	if err != nil {
		return "", fmt.Errorf("listing outlets: %w", err)
	}
	outlet := outlets.Resolve(codeToResolve, registered)
	if outlet == nil {
		return p.pendAssignment(a, codeToResolve)
	}
	if outlet.Code != a.StoreCode {
		if err := p.store.UpdateFileActivityStore(a.ID, outlet.Code, ""); err != nil {
			return "", fmt.Errorf("updating activity outlet: %w", err)
		}
	}

	matcher, err := p.loadMatcher()
	if err != nil {
		return "", err
	}

	for _, rec := range records {
		rec.StoreCode = outlet.Code
		if err := p.store.CreateTransactionRecord(*rec); err != nil {
			return "", fmt.Errorf("persisting record %s: %w", rec.OrderNumber, err)
		}
		for _, m := range matcher.Screen(*rec) {
			if err := p.store.CreateMatchCandidate(m); err != nil {
				return "", fmt.Errorf("persisting match candidate: %w", err)
			}
			p.logger.Info("watchlist match",
				"activity_id", a.ID, "record_id", rec.ID,
				"field", m.Field, "confidence", m.Confidence)
		}
	}

	if _, err := moveToProcessed(path); err != nil {
		return "", fmt.Errorf("moving %s to processed: %w", a.Filename, err)
	}

	p.setStatus(a.ID, storage.StatusProcessed, "")
	p.logger.Info("file processed", "activity_id", a.ID, "filename", a.Filename, "records", len(records))
	return storage.StatusProcessed, nil
}

func (p *Processor) processPDF(path string, a storage.FileActivity) (string, error) {
	registered, err := p.store.ListOutlets(storage.FileTypePDF)
	if err != nil {
		return "", fmt.Errorf("listing outlets: %w", err)
	}

	detected := outlets.DetectCodeFromFilename(a.Filename, registered)
	outlet := outlets.Resolve(detected, registered)
	if outlet == nil {
		return p.pendAssignment(a, detected)
	}
	if outlet.Code != a.StoreCode {
		if err := p.store.UpdateFileActivityStore(a.ID, outlet.Code, ""); err != nil {
			return "", fmt.Errorf("updating activity outlet: %w", err)
		}
	}

	// Text extraction is best-effort: an unreadable PDF still produces a
	// document record, just without a classified type.
	docType := "PDF"
	if text, err := p.readPDFText(path); err != nil {
		p.logger.Warn("pdf text extraction failed", "activity_id", a.ID, "filename", a.Filename, "error", err)
	} else {
		docType = classifyDocument(text)
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	doc := storage.DocumentRecord{
		ID:             uuid.New().String(),
		StoreCode:      outlet.Code,
		DocumentType:   docType,
		Title:          strings.TrimSuffix(a.Filename, filepath.Ext(a.Filename)),
		Path:           path,
		UploadDate:     time.Now().UTC(),
		FileSize:       size,
		FileActivityID: a.ID,
	}
	if err := p.store.CreateDocumentRecord(doc); err != nil {
		return "", fmt.Errorf("persisting document record: %w", err)
	}

	movedTo, err := moveToProcessed(path)
	if err != nil {
		return "", fmt.Errorf("moving %s to processed: %w", a.Filename, err)
	}
	if err := p.store.UpdateDocumentRecordPath(doc.ID, movedTo); err != nil {
		return "", fmt.Errorf("updating document path: %w", err)
	}

	p.setStatus(a.ID, storage.StatusProcessed, "")
	p.logger.Info("document processed", "activity_id", a.ID, "filename", a.Filename, "type", docType)
	return storage.StatusProcessed, nil
}

// pendAssignment halts the attempt for manual outlet resolution. Nothing has
// been persisted for the attempt and the file stays in the watch directory.
func (p *Processor) pendAssignment(a storage.FileActivity, detectedCode string) (string, error) {
	if err := p.store.UpdateFileActivityStore(a.ID, UnknownStoreCode, detectedCode); err != nil {
		return "", fmt.Errorf("recording detected code: %w", err)
	}
	p.setStatus(a.ID, storage.StatusPendingStoreAssignment, "")
	p.logger.Info("outlet unresolved, awaiting manual assignment",
		"activity_id", a.ID, "filename", a.Filename, "detected_code", detectedCode)
	return storage.StatusPendingStoreAssignment, nil
}

func (p *Processor) loadMatcher() (*watchlist.Matcher, error) {
	persons, err := p.store.ListActiveWatchlistPersons()
	if err != nil {
		return nil, fmt.Errorf("listing watchlist persons: %w", err)
	}
	items, err := p.store.ListActiveWatchlistItems()
	if err != nil {
		return nil, fmt.Errorf("listing watchlist items: %w", err)
	}
	return watchlist.New(persons, items), nil
}

func (p *Processor) setStatus(activityID, status, errorMessage string) {
	if err := p.store.UpdateFileActivityStatus(activityID, status, errorMessage); err != nil {
		p.logger.Error("updating activity status", "activity_id", activityID, "status", status, "error", err)
	}
	p.notify.ProcessingStatus(activityID, status, errorMessage)
}

func classifyDocument(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "factura") || strings.Contains(lower, "invoice"):
		return "Factura"
	case strings.Contains(lower, "informe") || strings.Contains(lower, "report"):
		return "Informe"
	case strings.Contains(lower, "recibo") || strings.Contains(lower, "receipt"):
		return "Recibo"
	case strings.Contains(lower, "contrato") || strings.Contains(lower, "contract"):
		return "Contrato"
	default:
		return "PDF"
	}
}
