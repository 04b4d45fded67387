// Package sqlite persists records and verdicts in a single-file SQLite
// database. The schema is managed by embedded golang-migrate migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/labelkit/labelkit/compliance"
	"github.com/labelkit/labelkit/observability"
	"github.com/labelkit/labelkit/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const recordColumns = `application_num, brand_name, class, fanciful_name,
	bottler_name, bottler_address, alcohol_content, net_contents`

// Store is a SQLite-backed store.Store.
type Store struct {
	db     *sql.DB
	logger observability.Logger
}

// Option configures Open.
type Option func(*Store)

// WithLogger routes store logging to l.
func WithLogger(l observability.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	s := &Store{db: db, logger: observability.NopLogger{}}
	for _, opt := range opts {
		opt(s)
	}

	// busy_timeout and foreign_keys are per-connection pragmas, so the
	// pool is pinned to one connection to keep them applied.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Debug("store open", observability.String("path", path))
	return s, nil
}

// migrate applies all pending embedded migrations.
func (s *Store) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// The migrate instance is not closed: closing it would close the
	// underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Record(ctx context.Context, appNum string) (compliance.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM applications WHERE application_num = ?`, appNum)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.Record{}, store.ErrNotFound
	}
	return rec, err
}

func (s *Store) List(ctx context.Context) ([]compliance.Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM applications ORDER BY application_num`)
}

func (s *Store) Search(ctx context.Context, query string) ([]compliance.Record, error) {
	if query == "" {
		return s.List(ctx)
	}
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM applications
		 WHERE instr(lower(application_num || ' ' || brand_name || ' ' || class || ' ' ||
		              fanciful_name || ' ' || bottler_name || ' ' || bottler_address), lower(?)) > 0
		 ORDER BY application_num`, query)
}

func (s *Store) queryRecords(ctx context.Context, q string, args ...interface{}) ([]compliance.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []compliance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (compliance.Record, error) {
	var rec compliance.Record
	err := row.Scan(
		&rec.ApplicationNum,
		&rec.BrandName,
		&rec.ClassType,
		&rec.FancifulName,
		&rec.BottlerName,
		&rec.BottlerAddress,
		&rec.AlcoholContent,
		&rec.NetContents,
	)
	return rec, err
}

func (s *Store) SaveVerdict(ctx context.Context, v compliance.Verdict) error {
	results, err := json.Marshal(v.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	degraded, err := json.Marshal(degradedOrEmpty(v.Degraded))
	if err != nil {
		return fmt.Errorf("encode degraded: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO verdicts
		 (application_num, compliant, results, run_id, degraded, scanned_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ApplicationNum, boolToInt(v.Compliant), string(results),
		v.RunID, string(degraded), v.ScannedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) Verdict(ctx context.Context, appNum string) (compliance.Verdict, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT application_num, compliant, results, run_id, degraded, scanned_at
		 FROM verdicts WHERE application_num = ?`, appNum)
	v, err := scanVerdict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.Verdict{}, store.ErrNotFound
	}
	return v, err
}

func (s *Store) Verdicts(ctx context.Context) (map[string]compliance.Verdict, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT application_num, compliant, results, run_id, degraded, scanned_at FROM verdicts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	verdicts := make(map[string]compliance.Verdict)
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		verdicts[v.ApplicationNum] = v
	}
	return verdicts, rows.Err()
}

func scanVerdict(row rowScanner) (compliance.Verdict, error) {
	var (
		v         compliance.Verdict
		compliant int
		results   string
		degraded  string
		scannedAt string
	)
	if err := row.Scan(&v.ApplicationNum, &compliant, &results, &v.RunID, &degraded, &scannedAt); err != nil {
		return compliance.Verdict{}, err
	}
	if err := json.Unmarshal([]byte(results), &v.Results); err != nil {
		return compliance.Verdict{}, fmt.Errorf("decode results for %s: %w", v.ApplicationNum, err)
	}
	if err := json.Unmarshal([]byte(degraded), &v.Degraded); err != nil {
		return compliance.Verdict{}, fmt.Errorf("decode degraded for %s: %w", v.ApplicationNum, err)
	}
	if len(v.Degraded) == 0 {
		v.Degraded = nil
	}
	ts, err := time.Parse(time.RFC3339Nano, scannedAt)
	if err != nil {
		return compliance.Verdict{}, fmt.Errorf("decode scanned_at for %s: %w", v.ApplicationNum, err)
	}
	v.ScannedAt = ts
	v.Compliant = compliant != 0
	return v, nil
}

func (s *Store) ClearVerdicts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM verdicts`)
	return err
}

// Seed inserts records, replacing existing rows with the same
// application number.
func (s *Store) Seed(ctx context.Context, records []compliance.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO applications (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.ApplicationNum == "" {
			return fmt.Errorf("record without application number: %+v", rec)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ApplicationNum, rec.BrandName, rec.ClassType, rec.FancifulName,
			rec.BottlerName, rec.BottlerAddress, rec.AlcoholContent, rec.NetContents); err != nil {
			return fmt.Errorf("seed %s: %w", rec.ApplicationNum, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info("seeded applications", observability.Int("count", len(records)))
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func degradedOrEmpty(d []string) []string {
	if d == nil {
		return []string{}
	}
	return d
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)
