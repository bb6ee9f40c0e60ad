package storage

import (
	"database/sql"
	"embed"
	"errors"
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

// Store wraps a SQLite database holding diagnosis records and the
// notification log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "dermadx.db")
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
	// Ensure schema_version table exists (bootstrap).
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

		// Check if already applied.
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

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// timeFormat is fixed-width so that text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// --- Analyses ---

const analysisColumns = `id, created_at, updated_at, analysis_type, prompt, additional_info, label, label_code,
	confidence, summary, similar_json, parse_status, raw_response, metadata_json, notes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var (
		a                    Analysis
		createdAt, updatedAt string
		confidence           sql.NullFloat64
		summary              sql.NullString
	)
	if err := row.Scan(&a.ID, &createdAt, &updatedAt, &a.AnalysisType, &a.Prompt, &a.AdditionalInfo,
		&a.Label, &a.LabelCode, &confidence, &summary, &a.SimilarJSON, &a.ParseStatus,
		&a.RawResponse, &a.MetadataJSON, &a.Notes); err != nil {
		return Analysis{}, err
	}
	if confidence.Valid {
		a.Confidence = &confidence.Float64
	}
	if summary.Valid {
		a.Summary = &summary.String
	}

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return Analysis{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Analysis{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return a, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// CreateAnalysis stores a new record. UpdatedAt defaults to CreatedAt.
func (s *Store) CreateAnalysis(a Analysis) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	if a.SimilarJSON == "" {
		a.SimilarJSON = "[]"
	}
	if a.MetadataJSON == "" {
		a.MetadataJSON = "{}"
	}
	_, err := s.db.Exec(`INSERT INTO analyses (`+analysisColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, formatTime(a.CreatedAt), formatTime(a.UpdatedAt), a.AnalysisType, a.Prompt, a.AdditionalInfo,
		a.Label, a.LabelCode, nullFloat(a.Confidence), nullString(a.Summary), a.SimilarJSON, a.ParseStatus,
		a.RawResponse, a.MetadataJSON, a.Notes,
	)
	return err
}

func (s *Store) GetAnalysis(id string) (Analysis, error) {
	a, err := scanAnalysis(s.db.QueryRow(`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Analysis{}, ErrNotFound
	}
	return a, err
}

// ListAnalyses returns one page of records, newest first, and the total
// number of stored records.
func (s *Store) ListAnalyses(limit, offset int) ([]Analysis, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM analyses`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting analyses: %w", err)
	}

	rows, err := s.db.Query(`SELECT `+analysisColumns+` FROM analyses
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err := collectAnalyses(rows)
	return results, total, err
}

// SearchAnalyses returns records whose prompt, label or summary contains q,
// case-insensitively for ASCII, newest first.
func (s *Store) SearchAnalyses(q string, limit int) ([]Analysis, error) {
	pattern := "%" + escapeLike(q) + "%"
	rows, err := s.db.Query(`SELECT `+analysisColumns+` FROM analyses
		WHERE prompt LIKE ? ESCAPE '\' OR label LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAnalyses(rows)
}

func collectAnalyses(rows *sql.Rows) ([]Analysis, error) {
	results := []Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// UpdateAnalysis applies the non-nil fields of u and bumps updated_at.
func (s *Store) UpdateAnalysis(id string, u AnalysisUpdate, now time.Time) (Analysis, error) {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(now)}
	if u.Label != nil {
		sets = append(sets, "label = ?")
		args = append(args, *u.Label)
	}
	if u.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *u.Summary)
	}
	if u.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *u.Notes)
	}
	args = append(args, id)

	res, err := s.db.Exec(`UPDATE analyses SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return Analysis{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Analysis{}, err
	}
	if n == 0 {
		return Analysis{}, ErrNotFound
	}
	return s.GetAnalysis(id)
}

// DeleteAnalysis removes a record together with its notification log.
func (s *Store) DeleteAnalysis(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM notifications WHERE analysis_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Notifications ---

func (s *Store) RecordNotification(n Notification) error {
	_, err := s.db.Exec(`
		INSERT INTO notifications (id, analysis_id, sink, status, detail, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.AnalysisID, n.Sink, n.Status, n.Detail, n.DurationMs, formatTime(n.CreatedAt),
	)
	return err
}

// ListNotifications returns the delivery log of one record, oldest first.
func (s *Store) ListNotifications(analysisID string) ([]Notification, error) {
	rows, err := s.db.Query(`
		SELECT id, analysis_id, sink, status, detail, duration_ms, created_at
		FROM notifications WHERE analysis_id = ? ORDER BY created_at ASC, rowid ASC`, analysisID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Notification{}
	for rows.Next() {
		var n Notification
		var createdAt string
		if err := rows.Scan(&n.ID, &n.AnalysisID, &n.Sink, &n.Status, &n.Detail, &n.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		n.CreatedAt = t
		results = append(results, n)
	}
	return results, rows.Err()
}
