// Package journal provides SQLite persistence for the ingest log, which keeps
// rejected reports as a dead-letter record, and the alert log.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/darshan-rambhia/diskmon/internal/model"
	_ "modernc.org/sqlite"
)

// MaxPayloadBytes caps how much of a rejected report is kept.
const MaxPayloadBytes = 64 << 10

// Journal wraps a SQLite database.
type Journal struct {
	db *sql.DB
}

// New opens or creates a SQLite database at the given path, creating its
// directory if needed, and applies the schema.
func New(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", dbPath, err)
	}
	// One writer at a time; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging journal: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores one batch of ingest events in a single transaction.
func (j *Journal) Record(events []model.IngestEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	stmt, err := tx.Prepare(`
		INSERT INTO ingest_log
		(ts, batch_id, file, machine_id, report_type, device, outcome, error, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing ingest insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var payload []byte
		if e.Outcome == model.OutcomeRejected {
			payload = e.Payload
			if len(payload) > MaxPayloadBytes {
				payload = payload[:MaxPayloadBytes]
			}
		}
		if _, err := stmt.Exec(
			e.Timestamp, e.BatchID, e.File, nullString(e.MachineID), nullString(e.ReportType),
			nullString(e.Device), e.Outcome, nullString(e.Error), payload,
		); err != nil {
			return fmt.Errorf("inserting ingest event for %s: %w", e.File, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ingest events: %w", err)
	}
	return nil
}

const ingestColumns = `id, ts, batch_id, file, machine_id, report_type, device, outcome, error, payload`

// Recent returns the newest ingest events first.
func (j *Journal) Recent(limit int) ([]model.IngestEvent, error) {
	rows, err := j.db.Query(`
		SELECT `+ingestColumns+` FROM ingest_log
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ingest log: %w", err)
	}
	return scanEvents(rows)
}

// RejectedAfter returns rejected events with id greater than afterID, oldest first.
func (j *Journal) RejectedAfter(afterID int64, limit int) ([]model.IngestEvent, error) {
	rows, err := j.db.Query(`
		SELECT `+ingestColumns+` FROM ingest_log
		WHERE outcome = ? AND id > ?
		ORDER BY id ASC LIMIT ?`, model.OutcomeRejected, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rejected reports: %w", err)
	}
	return scanEvents(rows)
}

// LatestID returns the highest ingest event id, or 0 for an empty log.
func (j *Journal) LatestID() (int64, error) {
	var id sql.NullInt64
	if err := j.db.QueryRow(`SELECT MAX(id) FROM ingest_log`).Scan(&id); err != nil {
		return 0, fmt.Errorf("querying latest ingest id: %w", err)
	}
	return id.Int64, nil
}

func scanEvents(rows *sql.Rows) ([]model.IngestEvent, error) {
	defer rows.Close()

	var events []model.IngestEvent
	for rows.Next() {
		var e model.IngestEvent
		var machineID, reportType, device, errStr sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.BatchID, &e.File, &machineID,
			&reportType, &device, &e.Outcome, &errStr, &e.Payload); err != nil {
			return nil, fmt.Errorf("scanning ingest event: %w", err)
		}
		e.MachineID = machineID.String
		e.ReportType = reportType.String
		e.Device = device.String
		e.Error = errStr.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertAlert logs an alert.
func (j *Journal) InsertAlert(ts int64, alertType, subject, message, severity string) error {
	_, err := j.db.Exec(`
		INSERT INTO alert_log (ts, alert_type, subject, message, severity)
		VALUES (?, ?, ?, ?, ?)`,
		ts, alertType, subject, message, severity,
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// RecentAlerts returns the newest alerts first.
func (j *Journal) RecentAlerts(limit int) ([]model.AlertEntry, error) {
	rows, err := j.db.Query(`
		SELECT id, ts, alert_type, subject, message, severity FROM alert_log
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying alert log: %w", err)
	}
	defer rows.Close()

	var alerts []model.AlertEntry
	for rows.Next() {
		var a model.AlertEntry
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.AlertType, &a.Subject, &a.Message, &a.Severity); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
