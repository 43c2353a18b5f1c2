package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store wraps SQL persistence for reconciliation reports, alerts, sends, and dedupe.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and runs minimal schema setup. dsn is a file path for
// sqlite and a connection string for postgres.
func Open(driver, dsn string) (*Store, error) {
	driver = strings.ToLower(driver)
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) configure() error {
	if s.driver != DriverSQLite {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS reports (
  id             TEXT PRIMARY KEY,
  kind           TEXT NOT NULL,
  mode           TEXT NOT NULL,
  checked_at     BIGINT NOT NULL,
  discrepancies  INTEGER NOT NULL DEFAULT 0,
  payload_json   TEXT NOT NULL,
  created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS reports_kind_checked ON reports (kind, checked_at);

CREATE TABLE IF NOT EXISTS alerts (
  id            TEXT PRIMARY KEY,
  rule_id       TEXT NOT NULL,
  fingerprint   TEXT,
  txhash        TEXT,
  payload_json  TEXT,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sends (
  alert_id      TEXT NOT NULL,
  sink_id       TEXT NOT NULL,
  status        TEXT NOT NULL,
  response_code INTEGER,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(alert_id, sink_id)
);

CREATE TABLE IF NOT EXISTS dedupe (
  key         TEXT PRIMARY KEY,
  expires_at  TIMESTAMP NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into the driver's native form.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Report kinds.
const (
	ReportEvents   = "events"
	ReportBalances = "balances"
)

// Report is one stored reconciliation snapshot.
type Report struct {
	ID            string
	Kind          string
	Mode          string
	CheckedAt     int64
	Discrepancies int
	PayloadJSON   string
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertReport stores a snapshot and returns its id, generating one when r.ID is empty.
func (s *Store) InsertReport(ctx context.Context, r Report) (string, error) {
	return s.insertReport(ctx, s.db, r)
}

// InsertReports stores several snapshots atomically: either all are written or none are.
func (s *Store) InsertReports(ctx context.Context, reports ...Report) ([]string, error) {
	ids := make([]string, 0, len(reports))
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, r := range reports {
			id, err := s.insertReport(ctx, tx, r)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) insertReport(ctx context.Context, ex execer, r Report) (string, error) {
	if r.Kind == "" || r.PayloadJSON == "" {
		return "", errors.New("report kind and payload required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := ex.ExecContext(ctx, s.rebind(`
INSERT INTO reports (id, kind, mode, checked_at, discrepancies, payload_json)
VALUES (?, ?, ?, ?, ?, ?);
`), r.ID, r.Kind, r.Mode, r.CheckedAt, r.Discrepancies, r.PayloadJSON)
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	return r.ID, nil
}

// LatestReport returns the most recent snapshot of kind.
func (s *Store) LatestReport(ctx context.Context, kind string) (Report, bool, error) {
	reports, err := s.ListReports(ctx, kind, 1)
	if err != nil {
		return Report{}, false, err
	}
	if len(reports) == 0 {
		return Report{}, false, nil
	}
	return reports[0], true, nil
}

// ListReports returns up to limit snapshots, newest first. An empty kind lists all kinds.
func (s *Store) ListReports(ctx context.Context, kind string, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, kind, mode, checked_at, discrepancies, payload_json FROM reports`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY checked_at DESC, created_at DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.Kind, &r.Mode, &r.CheckedAt, &r.Discrepancies, &r.PayloadJSON); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return out, nil
}

// MarkDedupe sets or refreshes a dedupe key until expiresAt.
func (s *Store) MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return errors.New("key required")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO dedupe (key, expires_at)
VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at=excluded.expires_at;
`), key, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("mark dedupe: %w", err)
	}
	return nil
}

// IsDuplicate returns true if the key exists and is not expired; expired entries are pruned.
func (s *Store) IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error) {
	if key == "" {
		return false, errors.New("key required")
	}

	var expires time.Time
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT expires_at FROM dedupe WHERE key = ?;
`), key).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dedupe: %w", err)
	}

	if expires.After(now.UTC()) {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM dedupe WHERE key = ?;`), key); err != nil {
		return false, fmt.Errorf("prune dedupe: %w", err)
	}
	return false, nil
}

// Alert represents an emitted alert record.
type Alert struct {
	ID          string
	RuleID      string
	Fingerprint string
	TxHash      string
	PayloadJSON string
	CreatedAt   time.Time
}

// InsertAlert stores an alert; primary key enforces exactly-once insertion.
func (s *Store) InsertAlert(ctx context.Context, a Alert) error {
	if a.ID == "" || a.RuleID == "" {
		return errors.New("alert id and rule_id required")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO alerts (id, rule_id, fingerprint, txhash, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`), a.ID, a.RuleID, a.Fingerprint, a.TxHash, a.PayloadJSON, nullTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// CountAlerts returns the number of alerts recorded for a rule.
func (s *Store) CountAlerts(ctx context.Context, ruleID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM alerts WHERE rule_id = ?;`), ruleID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

// Send represents a sink delivery record.
type Send struct {
	AlertID      string
	SinkID       string
	Status       string
	ResponseCode int
	CreatedAt    time.Time
}

// InsertSend records a sink delivery attempt; primary key enforces exactly-once per alert/sink.
func (s *Store) InsertSend(ctx context.Context, srec Send) error {
	if srec.AlertID == "" || srec.SinkID == "" || srec.Status == "" {
		return errors.New("alert_id, sink_id, and status are required")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO sends (alert_id, sink_id, status, response_code, created_at)
VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`), srec.AlertID, srec.SinkID, srec.Status, srec.ResponseCode, nullTime(srec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert send: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction, rolling back when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
