package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for file activities, extracted
// records, outlets, watchlists and match candidates.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "aureo.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- File activities ---

func (s *Store) CreateFileActivity(a FileActivity) error {
	_, err := s.db.Exec(`
		INSERT INTO file_activities (id, filename, store_code, file_type, status, processing_date, processed_by, error_message, detected_store_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Filename, a.StoreCode, a.FileType, a.Status,
		a.ProcessingDate.UTC().Format(time.RFC3339), a.ProcessedBy,
		a.ErrorMessage, a.DetectedStoreCode, a.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetFileActivity(id string) (FileActivity, error) {
	row := s.db.QueryRow(`
		SELECT id, filename, store_code, file_type, status, processing_date, processed_by, error_message, detected_store_code, created_at
		FROM file_activities WHERE id = ?`, id,
	)
	return scanFileActivity(row)
}

// LatestFileActivityByFilename returns the most recently created activity for
// a filename. Used by the watch coordinator as the persisted line of defense
// against duplicate dispatch.
func (s *Store) LatestFileActivityByFilename(filename string) (FileActivity, error) {
	row := s.db.QueryRow(`
		SELECT id, filename, store_code, file_type, status, processing_date, processed_by, error_message, detected_store_code, created_at
		FROM file_activities WHERE filename = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, filename,
	)
	return scanFileActivity(row)
}

// ListFileActivities returns activities, newest first. An empty status lists
// all of them.
func (s *Store) ListFileActivities(status string) ([]FileActivity, error) {
	q := `SELECT id, filename, store_code, file_type, status, processing_date, processed_by, error_message, detected_store_code, created_at
		FROM file_activities`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FileActivity
	for rows.Next() {
		a, err := scanFileActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

func (s *Store) UpdateFileActivityStatus(id, status, errorMessage string) error {
	res, err := s.db.Exec(`
		UPDATE file_activities SET status = ?, error_message = ?, processing_date = ? WHERE id = ?`,
		status, errorMessage, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) UpdateFileActivityStore(id, storeCode, detectedStoreCode string) error {
	res, err := s.db.Exec(`
		UPDATE file_activities SET store_code = ?, detected_store_code = ? WHERE id = ?`,
		storeCode, detectedStoreCode, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileActivity(r rowScanner) (FileActivity, error) {
	var a FileActivity
	var processingDate, createdAt string
	err := r.Scan(&a.ID, &a.Filename, &a.StoreCode, &a.FileType, &a.Status,
		&processingDate, &a.ProcessedBy, &a.ErrorMessage, &a.DetectedStoreCode, &createdAt)
	if err == sql.ErrNoRows {
		return FileActivity{}, ErrNotFound
	}
	if err != nil {
		return FileActivity{}, err
	}
	if a.ProcessingDate, err = time.Parse(time.RFC3339, processingDate); err != nil {
		return FileActivity{}, fmt.Errorf("parsing processing_date: %w", err)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return FileActivity{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return a, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Transaction records ---

func (s *Store) CreateTransactionRecord(r TransactionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO transaction_records (id, store_code, order_number, order_date, customer_name, customer_contact, customer_address, customer_location, item_details, item_weight, metals, engravings, stones, carats, price, pawn_ticket, sale_date, file_activity_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StoreCode, r.OrderNumber, r.OrderDate, r.CustomerName,
		r.CustomerContact, r.CustomerAddress, r.CustomerLoc, r.ItemDetails,
		r.ItemWeight, r.Metals, r.Engravings, r.Stones, r.Carats, r.Price,
		r.PawnTicket, r.SaleDate, r.FileActivityID,
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListTransactionRecords(fileActivityID string) ([]TransactionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, store_code, order_number, order_date, customer_name, customer_contact, customer_address, customer_location, item_details, item_weight, metals, engravings, stones, carats, price, pawn_ticket, sale_date, file_activity_id, created_at
		FROM transaction_records WHERE file_activity_id = ? ORDER BY rowid`, fileActivityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TransactionRecord
	for rows.Next() {
		var r TransactionRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.StoreCode, &r.OrderNumber, &r.OrderDate,
			&r.CustomerName, &r.CustomerContact, &r.CustomerAddress, &r.CustomerLoc,
			&r.ItemDetails, &r.ItemWeight, &r.Metals, &r.Engravings, &r.Stones,
			&r.Carats, &r.Price, &r.PawnTicket, &r.SaleDate, &r.FileActivityID, &createdAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Document records ---

func (s *Store) CreateDocumentRecord(d DocumentRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO document_records (id, store_code, document_type, title, path, upload_date, file_size, file_activity_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.StoreCode, d.DocumentType, d.Title, d.Path,
		d.UploadDate.UTC().Format(time.RFC3339), d.FileSize, d.FileActivityID,
	)
	return err
}

func (s *Store) UpdateDocumentRecordPath(id, path string) error {
	res, err := s.db.Exec(`UPDATE document_records SET path = ? WHERE id = ?`, path, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ListDocumentRecords(fileActivityID string) ([]DocumentRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, store_code, document_type, title, path, upload_date, file_size, file_activity_id
		FROM document_records WHERE file_activity_id = ? ORDER BY rowid`, fileActivityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DocumentRecord
	for rows.Next() {
		var d DocumentRecord
		var uploadDate string
		if err := rows.Scan(&d.ID, &d.StoreCode, &d.DocumentType, &d.Title,
			&d.Path, &uploadDate, &d.FileSize, &d.FileActivityID); err != nil {
			return nil, err
		}
		if d.UploadDate, err = time.Parse(time.RFC3339, uploadDate); err != nil {
			return nil, fmt.Errorf("parsing upload_date: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// --- Outlets ---

func (s *Store) CreateOutlet(o Outlet) error {
	_, err := s.db.Exec(`
		INSERT INTO outlets (id, code, name, type, active) VALUES (?, ?, ?, ?, ?)`,
		o.ID, o.Code, o.Name, o.Type, boolToInt(o.Active),
	)
	return err
}

func (s *Store) GetOutletByCode(code string) (Outlet, error) {
	var o Outlet
	var active int
	err := s.db.QueryRow(`
		SELECT id, code, name, type, active FROM outlets WHERE code = ?`, code,
	).Scan(&o.ID, &o.Code, &o.Name, &o.Type, &active)
	if err == sql.ErrNoRows {
		return Outlet{}, ErrNotFound
	}
	if err != nil {
		return Outlet{}, err
	}
	o.Active = active != 0
	return o, nil
}

// ListOutlets returns registered outlets, optionally filtered by file type.
func (s *Store) ListOutlets(fileType string) ([]Outlet, error) {
	q := `SELECT id, code, name, type, active FROM outlets`
	args := []any{}
	if fileType != "" {
		q += ` WHERE type = ?`
		args = append(args, fileType)
	}
	q += ` ORDER BY code`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Outlet
	for rows.Next() {
		var o Outlet
		var active int
		if err := rows.Scan(&o.ID, &o.Code, &o.Name, &o.Type, &active); err != nil {
			return nil, err
		}
		o.Active = active != 0
		results = append(results, o)
	}
	return results, rows.Err()
}

// --- Watchlists ---

func (s *Store) CreateWatchlistPerson(p WatchlistPerson) error {
	_, err := s.db.Exec(`
		INSERT INTO watchlist_persons (id, full_name, identification_number, notes, active)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.FullName, p.IdentificationNumber, p.Notes, boolToInt(p.Active),
	)
	return err
}

func (s *Store) ListActiveWatchlistPersons() ([]WatchlistPerson, error) {
	rows, err := s.db.Query(`
		SELECT id, full_name, identification_number, notes, active
		FROM watchlist_persons WHERE active = 1 ORDER BY full_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []WatchlistPerson
	for rows.Next() {
		var p WatchlistPerson
		var active int
		if err := rows.Scan(&p.ID, &p.FullName, &p.IdentificationNumber, &p.Notes, &active); err != nil {
			return nil, err
		}
		p.Active = active != 0
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) CreateWatchlistItem(i WatchlistItem) error {
	_, err := s.db.Exec(`
		INSERT INTO watchlist_items (id, description, serial_number, notes, active)
		VALUES (?, ?, ?, ?, ?)`,
		i.ID, i.Description, i.SerialNumber, i.Notes, boolToInt(i.Active),
	)
	return err
}

func (s *Store) ListActiveWatchlistItems() ([]WatchlistItem, error) {
	rows, err := s.db.Query(`
		SELECT id, description, serial_number, notes, active
		FROM watchlist_items WHERE active = 1 ORDER BY description`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []WatchlistItem
	for rows.Next() {
		var i WatchlistItem
		var active int
		if err := rows.Scan(&i.ID, &i.Description, &i.SerialNumber, &i.Notes, &active); err != nil {
			return nil, err
		}
		i.Active = active != 0
		results = append(results, i)
	}
	return results, rows.Err()
}

// --- Match candidates ---

func (s *Store) CreateMatchCandidate(m MatchCandidate) error {
	status := m.Status
	if status == "" {
		status = "Nueva"
	}
	_, err := s.db.Exec(`
		INSERT INTO match_candidates (id, record_id, person_id, item_id, match_kind, field, value, confidence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.RecordID, m.PersonID, m.ItemID, m.MatchKind, m.Field, m.Value,
		m.Confidence, status, m.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListMatchCandidates returns candidates, optionally filtered by record.
func (s *Store) ListMatchCandidates(recordID string) ([]MatchCandidate, error) {
	q := `SELECT id, record_id, person_id, item_id, match_kind, field, value, confidence, status, created_at
		FROM match_candidates`
	args := []any{}
	if recordID != "" {
		q += ` WHERE record_id = ?`
		args = append(args, recordID)
	}
	q += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MatchCandidate
	for rows.Next() {
		var m MatchCandidate
		var createdAt string
		if err := rows.Scan(&m.ID, &m.RecordID, &m.PersonID, &m.ItemID,
			&m.MatchKind, &m.Field, &m.Value, &m.Confidence, &m.Status, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// --- System config ---

func (s *Store) SetConfigValue(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetConfigValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
