// Package database persists the most recent directory record per device.
// It backs the admin API when upstream is unreachable and seeds the
// directory cache on startup. Message and roster history is deliberately
// not stored.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"classwatch/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id      TEXT PRIMARY KEY,
	serial_number  TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT '',
	last_sync      TEXT NOT NULL DEFAULT '',
	mac_address    TEXT NOT NULL DEFAULT '',
	annotated_user TEXT NOT NULL DEFAULT '',
	org_unit_path  TEXT NOT NULL DEFAULT '',
	model          TEXT NOT NULL DEFAULT '',
	os_version     TEXT NOT NULL DEFAULT '',
	boot_mode      TEXT NOT NULL DEFAULT '',
	fetched_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_devices_org_unit ON devices(org_unit_path);
CREATE INDEX IF NOT EXISTS idx_devices_mac ON devices(mac_address);
`

// Manager is the sqlite-backed device snapshot store. Writes funnel
// through a single goroutine; SQLite handles concurrent reads fine under
// WAL but serializing writers avoids busy-lock churn.
type Manager struct {
	db           *sql.DB
	timeout      time.Duration
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	log          zerolog.Logger
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens (and if needed creates) the snapshot store at path.
func NewManager(path string, timeout time.Duration, log zerolog.Logger) (*Manager, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(timeout)
	db.SetConnMaxIdleTime(timeout / 3)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	m := &Manager{
		db:           db,
		timeout:      timeout,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		log:          log,
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(m.timeout):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrStoreClosed
	}
}

// UpsertDevices stores records, superseding any prior snapshot of the same
// device wholesale. fetched_at is stamped now for every record in the batch.
func (m *Manager) UpsertDevices(ctx context.Context, records []*types.DirectoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin upsert: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO devices (device_id, serial_number, status, last_sync, mac_address,
				annotated_user, org_unit_path, model, os_version, boot_mode, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(device_id) DO UPDATE SET
				serial_number = excluded.serial_number,
				status = excluded.status,
				last_sync = excluded.last_sync,
				mac_address = excluded.mac_address,
				annotated_user = excluded.annotated_user,
				org_unit_path = excluded.org_unit_path,
				model = excluded.model,
				os_version = excluded.os_version,
				boot_mode = excluded.boot_mode,
				fetched_at = excluded.fetched_at`)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if r.DeviceID == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx, r.DeviceID, r.SerialNumber, r.Status, r.LastSync,
				r.MACAddress, r.AnnotatedUser, r.OrgUnitPath, r.Model, r.OSVersion, r.BootMode, now); err != nil {
				return fmt.Errorf("upsert device %s: %w", r.DeviceID, err)
			}
		}
		return tx.Commit()
	})
}

const selectColumns = `device_id, serial_number, status, last_sync, mac_address,
	annotated_user, org_unit_path, model, os_version, boot_mode`

// ListDevices returns the stored snapshots for an org unit, oldest id first.
func (m *Manager) ListDevices(ctx context.Context, orgUnit string) ([]*types.DirectoryRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM devices WHERE org_unit_path = ? ORDER BY device_id`, orgUnit)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListDevicesSince returns snapshots persisted at or after since.
func (m *Manager) ListDevicesSince(ctx context.Context, since time.Time) ([]*types.DirectoryRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM devices WHERE fetched_at >= ? ORDER BY device_id`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list devices since: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetDevice returns one stored snapshot, or ErrDeviceNotFound.
func (m *Manager) GetDevice(ctx context.Context, deviceID string) (*types.DirectoryRecord, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM devices WHERE device_id = ?`, deviceID)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", deviceID, err)
	}
	return record, nil
}

// HealthCheck verifies the store answers a trivial query.
func (m *Manager) HealthCheck(ctx context.Context) error {
	var one int
	if err := m.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	return m.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*types.DirectoryRecord, error) {
	var r types.DirectoryRecord
	err := row.Scan(&r.DeviceID, &r.SerialNumber, &r.Status, &r.LastSync, &r.MACAddress,
		&r.AnnotatedUser, &r.OrgUnitPath, &r.Model, &r.OSVersion, &r.BootMode)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]*types.DirectoryRecord, error) {
	var records []*types.DirectoryRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device rows: %w", err)
	}
	return records, nil
}
