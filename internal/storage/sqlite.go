package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"selfray/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS admins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at TEXT DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS inbounds (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tag TEXT UNIQUE NOT NULL,
	protocol TEXT NOT NULL,
	listen TEXT DEFAULT '',
	port INTEGER NOT NULL,
	settings TEXT NOT NULL DEFAULT '{}',
	stream_settings TEXT NOT NULL DEFAULT '{}',
	sniffing TEXT NOT NULL DEFAULT '{}',
	allocate TEXT NOT NULL DEFAULT '{}',
	enabled INTEGER DEFAULT 1,
	remark TEXT DEFAULT '',
	created_at TEXT DEFAULT (datetime('now')),
	updated_at TEXT DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	inbound_id INTEGER NOT NULL,
	email TEXT NOT NULL,
	uuid TEXT NOT NULL,
	flow TEXT DEFAULT '',
	enabled INTEGER DEFAULT 1,
	expiry_time INTEGER DEFAULT 0,
	traffic_limit INTEGER DEFAULT 0,
	upload INTEGER DEFAULT 0,
	download INTEGER DEFAULT 0,
	ip_limit INTEGER DEFAULT 0,
	created_at TEXT DEFAULT (datetime('now')),
	FOREIGN KEY (inbound_id) REFERENCES inbounds(id) ON DELETE CASCADE
);
`

// SQLite is the Store implementation backing the panel. Each method uses
// database/sql's pooled connections; batched mutations run in one
// transaction.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) GetSetting(key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key=?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLite) SetSetting(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	return err
}

func (s *SQLite) GetAdmin(username string) (models.Admin, error) {
	var a models.Admin
	err := s.db.QueryRow(
		"SELECT id, username, password_hash FROM admins WHERE username=?", username,
	).Scan(&a.ID, &a.Username, &a.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Admin{}, ErrNotFound
	}
	return a, err
}

func (s *SQLite) FirstAdmin() (models.Admin, error) {
	var a models.Admin
	err := s.db.QueryRow(
		"SELECT id, username, password_hash FROM admins ORDER BY id LIMIT 1",
	).Scan(&a.ID, &a.Username, &a.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Admin{}, ErrNotFound
	}
	return a, err
}

func (s *SQLite) CreateAdmin(username, passwordHash string) error {
	_, err := s.db.Exec(
		"INSERT INTO admins (username, password_hash) VALUES (?, ?)", username, passwordHash,
	)
	return translateErr(err)
}

func (s *SQLite) UpdateAdminPassword(username, passwordHash string) error {
	res, err := s.db.Exec("UPDATE admins SET password_hash=? WHERE username=?", passwordHash, username)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *SQLite) CountAdmins() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM admins").Scan(&n)
	return n, err
}

const inboundColumns = "id, tag, protocol, listen, port, settings, stream_settings, sniffing, allocate, enabled, remark"

func (s *SQLite) CreateInbound(inb models.Inbound) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO inbounds (tag, protocol, listen, port, settings, stream_settings, sniffing, allocate, enabled, remark)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inb.Tag, inb.Protocol, inb.Listen, inb.Port,
		inb.Settings, inb.StreamSettings, inb.Sniffing, orEmptyBlob(inb.Allocate), inb.Enabled, inb.Remark,
	)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.LastInsertId()
}

func (s *SQLite) GetInbound(id int64) (models.Inbound, error) {
	row := s.db.QueryRow("SELECT "+inboundColumns+" FROM inbounds WHERE id=?", id)
	return scanInbound(row)
}

func (s *SQLite) ListInbounds() ([]models.Inbound, error) {
	return s.queryInbounds("SELECT " + inboundColumns + " FROM inbounds ORDER BY id")
}

func (s *SQLite) ListEnabledInbounds() ([]models.Inbound, error) {
	return s.queryInbounds("SELECT " + inboundColumns + " FROM inbounds WHERE enabled=1 ORDER BY id")
}

func (s *SQLite) queryInbounds(query string, args ...any) ([]models.Inbound, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Inbound
	for rows.Next() {
		inb, err := scanInbound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inb)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInbound(row rowScanner) (models.Inbound, error) {
	var inb models.Inbound
	err := row.Scan(
		&inb.ID, &inb.Tag, &inb.Protocol, &inb.Listen, &inb.Port,
		&inb.Settings, &inb.StreamSettings, &inb.Sniffing, &inb.Allocate, &inb.Enabled, &inb.Remark,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Inbound{}, ErrNotFound
	}
	return inb, err
}

func (s *SQLite) UpdateInbound(inb models.Inbound) error {
	res, err := s.db.Exec(
		`UPDATE inbounds SET protocol=?, listen=?, port=?, settings=?, stream_settings=?,
		 sniffing=?, allocate=?, remark=?, updated_at=datetime('now') WHERE id=?`,
		inb.Protocol, inb.Listen, inb.Port, inb.Settings, inb.StreamSettings,
		inb.Sniffing, orEmptyBlob(inb.Allocate), inb.Remark, inb.ID,
	)
	if err != nil {
		return translateErr(err)
	}
	return requireRows(res)
}

func (s *SQLite) ToggleInbound(id int64) (bool, error) {
	var enabled bool
	err := s.db.QueryRow("SELECT enabled FROM inbounds WHERE id=?", id).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	_, err = s.db.Exec("UPDATE inbounds SET enabled=? WHERE id=?", !enabled, id)
	return !enabled, err
}

// DeleteInbound removes the inbound and cascades to its clients in one
// transaction.
func (s *SQLite) DeleteInbound(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM clients WHERE inbound_id=?", id); err != nil {
		return err
	}
	res, err := tx.Exec("DELETE FROM inbounds WHERE id=?", id)
	if err != nil {
		return err
	}
	if err := requireRows(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) CountInbounds() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM inbounds").Scan(&n)
	return n, err
}

const clientColumns = "id, inbound_id, email, uuid, flow, enabled, expiry_time, traffic_limit, upload, download, ip_limit"

func (s *SQLite) CreateClient(c models.Client) error {
	_, err := s.db.Exec(
		`INSERT INTO clients (id, inbound_id, email, uuid, flow, enabled, expiry_time, traffic_limit, upload, download, ip_limit)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.InboundID, c.Email, c.UUID, c.Flow, c.Enabled,
		c.ExpiryTime, c.TrafficLimit, c.Upload, c.Download, c.IPLimit,
	)
	return translateErr(err)
}

func (s *SQLite) GetClient(id string) (models.Client, error) {
	row := s.db.QueryRow("SELECT "+clientColumns+" FROM clients WHERE id=?", id)
	return scanClient(row)
}

func (s *SQLite) ListClients(inboundID int64) ([]models.Client, error) {
	return s.queryClients("SELECT "+clientColumns+" FROM clients WHERE inbound_id=? ORDER BY created_at", inboundID)
}

func (s *SQLite) ListEnabledClients(inboundID int64) ([]models.Client, error) {
	return s.queryClients("SELECT "+clientColumns+" FROM clients WHERE inbound_id=? AND enabled=1 ORDER BY created_at", inboundID)
}

func (s *SQLite) ListAllEnabledClients() ([]models.Client, error) {
	return s.queryClients("SELECT " + clientColumns + " FROM clients WHERE enabled=1")
}

func (s *SQLite) queryClients(query string, args ...any) ([]models.Client, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanClient(row rowScanner) (models.Client, error) {
	var c models.Client
	err := row.Scan(
		&c.ID, &c.InboundID, &c.Email, &c.UUID, &c.Flow, &c.Enabled,
		&c.ExpiryTime, &c.TrafficLimit, &c.Upload, &c.Download, &c.IPLimit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Client{}, ErrNotFound
	}
	return c, err
}

func (s *SQLite) UpdateClient(c models.Client) error {
	res, err := s.db.Exec(
		`UPDATE clients SET email=?, flow=?, enabled=?, expiry_time=?, traffic_limit=?, ip_limit=? WHERE id=?`,
		c.Email, c.Flow, c.Enabled, c.ExpiryTime, c.TrafficLimit, c.IPLimit, c.ID,
	)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *SQLite) DeleteClient(id string) error {
	res, err := s.db.Exec("DELETE FROM clients WHERE id=?", id)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *SQLite) ResetClientTraffic(id string) error {
	res, err := s.db.Exec("UPDATE clients SET upload=0, download=0 WHERE id=?", id)
	if err != nil {
		return err
	}
	return requireRows(res)
}

func (s *SQLite) AddClientUsage(id string, upload, download int64) error {
	res, err := s.db.Exec(
		"UPDATE clients SET upload=upload+?, download=download+? WHERE id=?",
		upload, download, id,
	)
	if err != nil {
		return err
	}
	return requireRows(res)
}

// DisableClients flips enabled off for all given ids in one transaction so
// the reconciler's "disable N clients, restart once" pass is atomic to
// outside observers.
func (s *SQLite) DisableClients(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := tx.Exec("UPDATE clients SET enabled=0 WHERE id IN ("+placeholders+")", args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) CountClients() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM clients").Scan(&n)
	return n, err
}

// orEmptyBlob keeps optional JSON blob columns NOT NULL-friendly.
func orEmptyBlob(blob string) string {
	if blob == "" {
		return "{}"
	}
	return blob
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
