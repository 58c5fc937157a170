package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/freebox-portal/freebox-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and ensures the schema exists.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function before
// the schema is applied. Useful for tests.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		stored_name    TEXT NOT NULL UNIQUE,
		original_name  TEXT NOT NULL,
		size           INTEGER NOT NULL,
		mime_type      TEXT,
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		download_count INTEGER NOT NULL DEFAULT 0,
		uploader_addr  TEXT,
		description    TEXT,
		sha256         TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_files_sha256 ON files(sha256);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		username   TEXT NOT NULL,
		message    TEXT NOT NULL,
		room       TEXT NOT NULL DEFAULT 'main',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		addr       TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room, created_at DESC);

	CREATE TABLE IF NOT EXISTS visitors (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		addr        TEXT NOT NULL UNIQUE,
		first_visit DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_visit  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		visit_count INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS counters (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	seed := `
		INSERT OR IGNORE INTO counters (name, value) VALUES
		(?, 0), (?, 0), (?, 0), (?, 0), (?, 0), (?, 0)
	`
	_, err := s.db.ExecContext(ctx, seed,
		store.CounterVisits,
		store.CounterUniqueVisitors,
		store.CounterMessages,
		store.CounterFilesUploaded,
		store.CounterDownloads,
		store.CounterBytesUploaded,
	)
	if err != nil {
		return fmt.Errorf("seed counters: %w", err)
	}

	return nil
}

func incrementCounterTx(ctx context.Context, tx *sql.Tx, name string, amount int64) error {
	query := `
		INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = value + excluded.value
	`
	if _, err := tx.ExecContext(ctx, query, name, amount); err != nil {
		return fmt.Errorf("increment counter %s: %w", name, err)
	}
	return nil
}

// ==== FileStore implementation ====

// AddFile records an uploaded file and bumps the upload counters.
func (s *SQLiteStore) AddFile(ctx context.Context, f *store.File) (*store.File, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO files (stored_name, original_name, size, mime_type, uploader_addr, description, sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		f.StoredName, f.OriginalName, f.Size, f.MimeType, f.UploaderAddr, f.Description, f.SHA256)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if err := incrementCounterTx(ctx, tx, store.CounterFilesUploaded, 1); err != nil {
		return nil, err
	}
	if err := incrementCounterTx(ctx, tx, store.CounterBytesUploaded, f.Size); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.FileByID(ctx, id)
}

const fileColumns = `
	id, stored_name, original_name, size, COALESCE(mime_type, ''), created_at,
	download_count, COALESCE(uploader_addr, ''), COALESCE(description, ''), COALESCE(sha256, '')
`

func scanFile(row interface{ Scan(...any) error }) (*store.File, error) {
	var f store.File
	err := row.Scan(
		&f.ID,
		&f.StoredName,
		&f.OriginalName,
		&f.Size,
		&f.MimeType,
		&f.CreatedAt,
		&f.DownloadCount,
		&f.UploaderAddr,
		&f.Description,
		&f.SHA256,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FileByID retrieves a file record by ID.
func (s *SQLiteStore) FileByID(ctx context.Context, id int64) (*store.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ?`
	f, err := scanFile(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("file %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query file: %w", err)
	}
	return f, nil
}

// FileByStoredName retrieves a file record by its on-disk name.
func (s *SQLiteStore) FileByStoredName(ctx context.Context, name string) (*store.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE stored_name = ?`
	f, err := scanFile(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("file %q: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query file: %w", err)
	}
	return f, nil
}

// FileByHash retrieves a file record by content hash.
func (s *SQLiteStore) FileByHash(ctx context.Context, hash string) (*store.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE sha256 = ?`
	f, err := scanFile(s.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("file hash %q: %w", hash, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query file: %w", err)
	}
	return f, nil
}

// ListFiles returns file records newest first.
func (s *SQLiteStore) ListFiles(ctx context.Context, limit, offset int) ([]*store.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []*store.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

// IncrementDownloads bumps a file's download count and the global download
// counter, returning the updated record.
func (s *SQLiteStore) IncrementDownloads(ctx context.Context, id int64) (*store.File, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `UPDATE files SET download_count = download_count + 1 WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("update download count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("file %d: %w", id, store.ErrNotFound)
	}

	if err := incrementCounterTx(ctx, tx, store.CounterDownloads, 1); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.FileByID(ctx, id)
}

// DeleteFile removes a file record.
func (s *SQLiteStore) DeleteFile(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("file %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// ==== ChatStore implementation ====

// AddMessage persists a chat message and bumps the message counter.
func (s *SQLiteStore) AddMessage(ctx context.Context, username, message, room, addr string) (*store.ChatMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO chat_messages (username, message, room, addr)
		VALUES (?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query, username, message, room, addr)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if err := incrementCounterTx(ctx, tx, store.CounterMessages, 1); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.messageByID(ctx, id)
}

func (s *SQLiteStore) messageByID(ctx context.Context, id int64) (*store.ChatMessage, error) {
	query := `
		SELECT id, username, message, room, created_at, COALESCE(addr, '')
		FROM chat_messages
		WHERE id = ?
	`
	var m store.ChatMessage
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID,
		&m.Username,
		&m.Message,
		&m.Room,
		&m.CreatedAt,
		&m.Addr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return &m, nil
}

// RecentMessages returns up to limit messages for a room, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, room string, limit int) ([]*store.ChatMessage, error) {
	query := `
		SELECT id, username, message, room, created_at, COALESCE(addr, '')
		FROM chat_messages
		WHERE room = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, room, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.ChatMessage
	for rows.Next() {
		var m store.ChatMessage
		if err := rows.Scan(&m.ID, &m.Username, &m.Message, &m.Room, &m.CreatedAt, &m.Addr); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}

	return messages, rows.Err()
}

// ==== VisitorStore implementation ====

// RecordVisit upserts a visitor by address and bumps the visit counters.
func (s *SQLiteStore) RecordVisit(ctx context.Context, addr string) (*store.Visitor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE visitors SET visit_count = visit_count + 1, last_visit = CURRENT_TIMESTAMP
		WHERE addr = ?
	`, addr)
	if err != nil {
		return nil, fmt.Errorf("update visitor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO visitors (addr) VALUES (?)`, addr); err != nil {
			return nil, fmt.Errorf("insert visitor: %w", err)
		}
		if err := incrementCounterTx(ctx, tx, store.CounterUniqueVisitors, 1); err != nil {
			return nil, err
		}
	}

	if err := incrementCounterTx(ctx, tx, store.CounterVisits, 1); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.visitorByAddr(ctx, addr)
}

func (s *SQLiteStore) visitorByAddr(ctx context.Context, addr string) (*store.Visitor, error) {
	query := `
		SELECT id, addr, first_visit, last_visit, visit_count
		FROM visitors
		WHERE addr = ?
	`
	var v store.Visitor
	err := s.db.QueryRowContext(ctx, query, addr).Scan(
		&v.ID,
		&v.Addr,
		&v.FirstVisit,
		&v.LastVisit,
		&v.VisitCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("visitor %q: %w", addr, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query visitor: %w", err)
	}
	return &v, nil
}

// ==== StatsStore implementation ====

// IncrementCounter adds amount to a named counter.
func (s *SQLiteStore) IncrementCounter(ctx context.Context, name string, amount int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := incrementCounterTx(ctx, tx, name, amount); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Totals reads all counters and derived aggregates.
func (s *SQLiteStore) Totals(ctx context.Context) (*store.Totals, error) {
	totals := &store.Totals{Counters: make(map[string]int64)}

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		totals.Counters[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counters: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM chat_messages),
			(SELECT COUNT(*) FROM visitors),
			(SELECT COALESCE(SUM(size), 0) FROM files)
	`)
	if err := row.Scan(&totals.FilesCount, &totals.MessagesCount, &totals.VisitorsCount, &totals.TotalStorage); err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}

	var md store.MostDownloaded
	err = s.db.QueryRowContext(ctx, `
		SELECT id, original_name, download_count
		FROM files
		ORDER BY download_count DESC, id ASC
		LIMIT 1
	`).Scan(&md.ID, &md.Filename, &md.DownloadCount)
	switch {
	case err == nil:
		totals.MostDownloaded = &md
	case errors.Is(err, sql.ErrNoRows):
		// no files yet
	default:
		return nil, fmt.Errorf("query most downloaded: %w", err)
	}

	return totals, nil
}
