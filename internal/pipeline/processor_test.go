package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aureopos/aureo/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedOutlet(t *testing.T, s *storage.Store, code, fileType string) {
	t.Helper()
	err := s.CreateOutlet(storage.Outlet{
		ID: "outlet-" + code, Code: code, Name: "Tienda " + code,
		Type: fileType, Active: true,
	})
	if err != nil {
		t.Fatalf("seeding outlet %s: %v", code, err)
	}
}

func seedActivity(t *testing.T, s *storage.Store, id, filename, storeCode, fileType string) storage.FileActivity {
	t.Helper()
	a := storage.FileActivity{
		ID:             id,
		Filename:       filename,
		StoreCode:      storeCode,
		FileType:       fileType,
		Status:         storage.StatusPending,
		ProcessingDate: time.Now().UTC(),
		ProcessedBy:    "System",
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.CreateFileActivity(a); err != nil {
		t.Fatalf("seeding activity: %v", err)
	}
	return a
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("contenido"), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// recordingNotifier captures status notifications for assertions.
type recordingNotifier struct {
	mu       sync.Mutex
	statuses []string
}

func (n *recordingNotifier) ProcessingStatus(activityID, status, errorMessage string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, status)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.statuses...)
}

func excelRows() [][]any {
	return [][]any{
		{"Tienda", "Pedido", "Fecha", "Cliente"},
		{"ST01", "ORD-1001", "2024-03-15", "Juan Pérez", "555-0134", "", "", "Anillo de oro", "", "", "", "18K", "350", "", ""},
		{"ST01", "ORD-1002", "2024-03-16", "María López", "", "", "", "Pulsera de plata", "", "", "", "", "120", "", ""},
	}
}

func newTestProcessor(s *storage.Store, notify StatusNotifier, rows [][]any) *Processor {
	p := NewProcessor(s, notify)
	p.readRows = func(string) ([][]any, error) { return rows, nil }
	p.readPDFText = func(string) (string, error) { return "", errors.New("no text") }
	return p
}

func TestProcessExcel(t *testing.T) {
	s := openTestStore(t)
	seedOutlet(t, s, "ST01", storage.FileTypeExcel)
	a := seedActivity(t, s, "a-1", "ventas.xlsx", "UNKNOWN", storage.FileTypeExcel)

	dir := t.TempDir()
	path := filepath.Join(dir, "ventas.xlsx")
	writeFile(t, path)

	notify := &recordingNotifier{}
	p := newTestProcessor(s, notify, excelRows())

	status := p.Process(path, a)
	if status != storage.StatusProcessed {
		t.Fatalf("status = %q, want Processed", status)
	}

	got, err := s.GetFileActivity("a-1")
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	if got.Status != storage.StatusProcessed || got.StoreCode != "ST01" {
		t.Fatalf("activity = %+v", got)
	}

	recs, err := s.ListTransactionRecords("a-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].StoreCode != "ST01" || recs[0].Carats != "18" {
		t.Fatalf("record = %+v", recs[0])
	}

	// File moved aside, original path gone.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("original file should have been moved")
	}
	if _, err := os.Stat(filepath.Join(dir, ProcessedDirName, "ventas.xlsx")); err != nil {
		t.Fatalf("moved file missing: %v", err)
	}

	statuses := notify.all()
	if len(statuses) < 2 || statuses[0] != storage.StatusProcessing || statuses[len(statuses)-1] != storage.StatusProcessed {
		t.Fatalf("notified statuses = %v", statuses)
	}
}

func TestProcessExcelUnresolvedOutletPendsAssignment(t *testing.T) {
	s := openTestStore(t)
	// No outlets registered: ST01 in the sheet cannot resolve.
	a := seedActivity(t, s, "a-1", "ventas.xlsx", "UNKNOWN", storage.FileTypeExcel)

	dir := t.TempDir()
	path := filepath.Join(dir, "ventas.xlsx")
	writeFile(t, path)

	p := newTestProcessor(s, NopNotifier{}, excelRows())

	status := p.Process(path, a)
	if status != storage.StatusPendingStoreAssignment {
		t.Fatalf("status = %q, want PendingStoreAssignment", status)
	}

	got, err := s.GetFileActivity("a-1")
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	if got.StoreCode != UnknownStoreCode || got.DetectedStoreCode != "ST01" {
		t.Fatalf("activity = %+v", got)
	}

	// All-or-nothing: no rows persisted, file stays put.
	recs, err := s.ListTransactionRecords("a-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("got %d records, want 0", len(recs))
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file must remain in the watch directory: %v", err)
	}
}

func TestProcessExcelScreensWatchlist(t *testing.T) {
	s := openTestStore(t)
	seedOutlet(t, s, "ST01", storage.FileTypeExcel)
	if err := s.CreateWatchlistPerson(storage.WatchlistPerson{
		ID: "p-1", FullName: "Juan Pérez", Active: true,
	}); err != nil {
		t.Fatalf("seeding person: %v", err)
	}
	a := seedActivity(t, s, "a-1", "ventas.xlsx", "UNKNOWN", storage.FileTypeExcel)

	path := filepath.Join(t.TempDir(), "ventas.xlsx")
	writeFile(t, path)

	p := newTestProcessor(s, NopNotifier{}, excelRows())
	if status := p.Process(path, a); status != storage.StatusProcessed {
		t.Fatalf("status = %q", status)
	}

	recs, err := s.ListTransactionRecords("a-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	var matched []storage.MatchCandidate
	for _, r := range recs {
		ms, err := s.ListMatchCandidates(r.ID)
		if err != nil {
			t.Fatalf("list matches: %v", err)
		}
		matched = append(matched, ms...)
	}
	if len(matched) != 1 {
		t.Fatalf("got %d match candidates, want 1", len(matched))
	}
	if matched[0].PersonID != "p-1" || matched[0].MatchKind != storage.MatchExact {
		t.Fatalf("candidate = %+v", matched[0])
	}
}

func TestProcessExcelReadFailure(t *testing.T) {
	s := openTestStore(t)
	a := seedActivity(t, s, "a-1", "roto.xlsx", "UNKNOWN", storage.FileTypeExcel)

	p := NewProcessor(s, NopNotifier{})
	p.readRows = func(string) ([][]any, error) { return nil, errors.New("zip: not a valid zip file") }

	if status := p.Process("/nonexistent/roto.xlsx", a); status != storage.StatusFailed {
		t.Fatalf("status = %q, want Failed", status)
	}
	got, err := s.GetFileActivity("a-1")
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	if got.Status != storage.StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("activity = %+v", got)
	}
}

func TestProcessPDF(t *testing.T) {
	s := openTestStore(t)
	seedOutlet(t, s, "ST01", storage.FileTypePDF)
	a := seedActivity(t, s, "a-1", "factura st01 enero.pdf", "UNKNOWN", storage.FileTypePDF)

	dir := t.TempDir()
	path := filepath.Join(dir, "factura st01 enero.pdf")
	writeFile(t, path)

	p := NewProcessor(s, NopNotifier{})
	p.readPDFText = func(string) (string, error) { return "FACTURA N.º 42", nil }

	if status := p.Process(path, a); status != storage.StatusProcessed {
		t.Fatalf("status = %q, want Processed", status)
	}

	docs, err := s.ListDocumentRecords("a-1")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	d := docs[0]
	if d.DocumentType != "Factura" || d.StoreCode != "ST01" {
		t.Fatalf("document = %+v", d)
	}
	wantPath := filepath.Join(dir, ProcessedDirName, "factura st01 enero.pdf")
	if d.Path != wantPath {
		t.Fatalf("path = %q, want %q", d.Path, wantPath)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("moved file missing: %v", err)
	}
}

func TestProcessPDFUnreadableTextStillRecords(t *testing.T) {
	s := openTestStore(t)
	seedOutlet(t, s, "ST01", storage.FileTypePDF)
	a := seedActivity(t, s, "a-1", "informe st01.pdf", "UNKNOWN", storage.FileTypePDF)

	path := filepath.Join(t.TempDir(), "informe st01.pdf")
	writeFile(t, path)

	p := NewProcessor(s, NopNotifier{})
	p.readPDFText = func(string) (string, error) { return "", errors.New("malformed xref") }

	if status := p.Process(path, a); status != storage.StatusProcessed {
		t.Fatalf("status = %q, want Processed", status)
	}
	docs, err := s.ListDocumentRecords("a-1")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 1 || docs[0].DocumentType != "PDF" {
		t.Fatalf("documents = %+v", docs)
	}
}

func TestProcessPDFNoOutletPendsAssignment(t *testing.T) {
	s := openTestStore(t)
	a := seedActivity(t, s, "a-1", "escaneo.pdf", "UNKNOWN", storage.FileTypePDF)

	path := filepath.Join(t.TempDir(), "escaneo.pdf")
	writeFile(t, path)

	p := NewProcessor(s, NopNotifier{})
	if status := p.Process(path, a); status != storage.StatusPendingStoreAssignment {
		t.Fatalf("status = %q, want PendingStoreAssignment", status)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file must remain in the watch directory: %v", err)
	}
}

func TestReprocessAfterAssignment(t *testing.T) {
	s := openTestStore(t)
	seedOutlet(t, s, "ST02", storage.FileTypeExcel)
	a := seedActivity(t, s, "a-1", "ventas.xlsx", "UNKNOWN", storage.FileTypeExcel)
	a.Status = storage.StatusPendingStoreAssignment

	dir := t.TempDir()
	path := filepath.Join(dir, "ventas.xlsx")
	writeFile(t, path)

	// Rows with an empty outlet column: only the operator assignment can
	// resolve the outlet.
	rows := [][]any{
		{"Tienda", "Pedido", "Fecha", "Cliente"},
		{"", "ORD-1001", "2024-03-15", "Juan Pérez"},
	}
	p := newTestProcessor(s, NopNotifier{}, rows)

	status, err := p.Reprocess(path, "a-1", "ST02")
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if status != storage.StatusProcessed {
		t.Fatalf("status = %q, want Processed", status)
	}

	recs, err := s.ListTransactionRecords("a-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(recs) != 1 || recs[0].StoreCode != "ST02" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestMoveToProcessedCollision(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ventas.xlsx")
	writeFile(t, path)

	// Occupy the destination name.
	if err := os.MkdirAll(filepath.Join(dir, ProcessedDirName), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, ProcessedDirName, "ventas.xlsx"))

	dest, err := moveToProcessed(path)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if dest == filepath.Join(dir, ProcessedDirName, "ventas.xlsx") {
		t.Fatal("collision must not overwrite the existing file")
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("timestamped copy missing: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("original should be gone")
	}
}

func TestClassifyDocument(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"FACTURA Nº 42", "Factura"},
		{"Monthly report for January", "Informe"},
		{"recibo de compra", "Recibo"},
		{"CONTRATO DE EMPEÑO", "Contrato"},
		{"texto sin palabras clave", "PDF"},
		{"", "PDF"},
	}
	for _, tt := range tests {
		if got := classifyDocument(tt.text); got != tt.want {
			t.Fatalf("classifyDocument(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
