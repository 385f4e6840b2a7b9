package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"argus/core"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rules (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS alerts (
	alert_id   TEXT PRIMARY KEY,
	rule_id    TEXT NOT NULL,
	severity   TEXT NOT NULL,
	status     TEXT NOT NULL,
	dedupe_key TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	doc        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(rule_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE TABLE IF NOT EXISTS overflow_alerts (
	alert_id  TEXT PRIMARY KEY,
	parked_at TIMESTAMP NOT NULL,
	doc       TEXT NOT NULL
);
`

// SQLiteStore is the embedded persistence backend. Single-file, no server,
// good enough for a single engine node; heavier deployments would swap in
// a networked store behind the same interfaces.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLiteStore opens (creating if needed) the database at path
func NewSQLiteStore(path string, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// modernc sqlite is serialized per connection; one writer avoids
	// SQLITE_BUSY under concurrent alert appends.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	logger.Infow("SQLite store opened", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadRules returns all persisted rules. Rows that no longer decode are
// skipped with a log so one corrupt row cannot block startup.
func (s *SQLiteStore) LoadRules(ctx context.Context) ([]*core.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []*core.Rule
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		var r core.Rule
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			s.logger.Errorw("Skipping undecodable rule row", "rule_id", id, "error", err)
			continue
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// SaveRules replaces the persisted rule set in one transaction
func (s *SQLiteStore) SaveRules(ctx context.Context, rules []*core.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rules transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		return fmt.Errorf("failed to clear rules: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO rules (id, doc, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare rule insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rules {
		doc, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode rule %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, string(doc), now); err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// AppendAlert journals an emitted alert
func (s *SQLiteStore) AppendAlert(ctx context.Context, alert *core.Alert) error {
	doc, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert %s: %w", alert.AlertID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO alerts (alert_id, rule_id, severity, status, dedupe_key, created_at, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.AlertID, alert.RuleID, alert.Severity, string(alert.Status),
		alert.DedupeKey, alert.Timestamp, string(doc))
	if err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", alert.AlertID, err)
	}
	return nil
}

// GetAlert loads one alert by ID
func (s *SQLiteStore) GetAlert(ctx context.Context, alertID string) (*core.Alert, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM alerts WHERE alert_id = ?`, alertID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert %s not found", alertID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", alertID, err)
	}
	var a core.Alert
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, fmt.Errorf("failed to decode alert %s: %w", alertID, err)
	}
	return &a, nil
}

// UpdateAlertStatus persists a lifecycle transition. Transition validity
// is enforced by the caller against the in-memory alert.
func (s *SQLiteStore) UpdateAlertStatus(ctx context.Context, alertID string, status core.AlertStatus) error {
	alert, err := s.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	alert.Status = status
	doc, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert %s: %w", alertID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, doc = ? WHERE alert_id = ?`,
		string(status), string(doc), alertID)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", alertID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %s not found", alertID)
	}
	return nil
}

// ListAlerts returns the most recent alerts, newest first
func (s *SQLiteStore) ListAlerts(ctx context.Context, limit int) ([]*core.Alert, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []*core.Alert
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		var a core.Alert
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			s.logger.Errorw("Skipping undecodable alert row", "error", err)
			continue
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// SaveOverflow parks an undeliverable alert
func (s *SQLiteStore) SaveOverflow(ctx context.Context, alert *core.Alert) error {
	doc, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode overflow alert %s: %w", alert.AlertID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO overflow_alerts (alert_id, parked_at, doc) VALUES (?, ?, ?)`,
		alert.AlertID, time.Now().UTC(), string(doc))
	if err != nil {
		return fmt.Errorf("failed to park overflow alert %s: %w", alert.AlertID, err)
	}
	return nil
}
