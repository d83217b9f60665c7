package sqlite

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/piebus/lib/auth"
	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/lib/search"
	"github.com/lni/dragonboat/v4/logger"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty database
// 1 - credentials, settings, frames, raft_state
const currentSchemaVersion = 1

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var log = logger.GetLogger("db")

// readConns bounds the read pool of file databases.
const readConns = 8

const frameColumns = "id, identity, kind, name, data, meta, publish, publish_rev, render, source, tags, timestamp"

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

type sqliteImpl struct {
	db     *sql.DB // single writer connection
	reader *sql.DB // query-only pool, the writer itself for MemoryPath
	path   string
}

// DBOptions configures the database during initialization
type DBOptions struct {
	Path        string        // Database file (MemoryPath for a private in-memory database)
	BusyTimeout time.Duration // How long a statement waits on a locked database
}

// DefaultOptions returns an in-memory configuration.
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Path:        MemoryPath,
		BusyTimeout: 5 * time.Second,
	}
}

// NewSQLiteDB opens (and if needed creates) the database described by opts
// (optional). The schema is applied and migrated on open.
func NewSQLiteDB(opts *DBOptions) (db.FrameDB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = DefaultOptions().BusyTimeout
	}

	conn, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// One connection: SQLite has a single writer, and every connection to
	// :memory: would see a different database.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := applyPragmas(conn, opts.BusyTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	reader, err := openReader(conn, opts)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}

	return &sqliteImpl{db: conn, reader: reader, path: opts.Path}, nil
}

// openReader opens the pool that serves queries. In WAL mode its
// connections read the last committed state while Update holds the writer.
func openReader(writer *sql.DB, opts *DBOptions) (*sql.DB, error) {
	if opts.Path == MemoryPath {
		return writer, nil
	}
	dsn := fmt.Sprintf("%s?_query_only=true&_busy_timeout=%d", opts.Path, opts.BusyTimeout.Milliseconds())
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(readConns)
	conn.SetMaxIdleConns(readConns)
	return conn, nil
}

func applyPragmas(conn *sql.DB, busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Row helpers
// --------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func scanFrame(s scanner) (int64, frame.Frame, error) {
	var (
		rowID      int64
		f          frame.Frame
		kind       int64
		data, meta string
		publishRev int64
		ts         int64
	)
	err := s.Scan(&rowID, &f.Identity, &kind, &f.Name, &data, &meta, &f.Publish, &publishRev, &f.Render, &f.Source, &f.Tags, &ts)
	if err != nil {
		return 0, frame.Frame{}, err
	}
	f.Kind = frame.Kind(kind)
	f.PublishRev = uint64(publishRev)
	f.Timestamp = time.Unix(0, ts).UTC()
	if f.Data, err = frame.MappingOrEmpty(data); err != nil {
		log.Warningf("frame %s: cannot decode data, using empty payload: %v", f.Identity, err)
	}
	if f.Meta, err = frame.MappingOrEmpty(meta); err != nil {
		log.Warningf("frame %s: cannot decode meta, using empty payload: %v", f.Identity, err)
	}
	return rowID, f, nil
}

func queryFrames(q querier, query string, args ...any) ([]search.RowFrame, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []search.RowFrame{}
	for rows.Next() {
		rowID, f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		out = append(out, search.RowFrame{RowID: rowID, Frame: f})
	}
	return out, rows.Err()
}

func framesOnly(rfs []search.RowFrame) []frame.Frame {
	out := make([]frame.Frame, len(rfs))
	for i, rf := range rfs {
		out[i] = rf.Frame
	}
	return out
}

func loadFrame(q querier, identity string) (int64, frame.Frame, bool, error) {
	rowID, f, err := scanFrame(q.QueryRow("SELECT "+frameColumns+" FROM frames WHERE identity = ?", identity))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, frame.Frame{}, false, nil
	}
	if err != nil {
		return 0, frame.Frame{}, false, fmt.Errorf("load frame %s: %w", identity, err)
	}
	return rowID, f, true, nil
}

func appliedIndex(q querier) (uint64, error) {
	var idx int64
	err := q.QueryRow("SELECT applied_index FROM raft_state WHERE id = 1").Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load applied index: %w", err)
	}
	return uint64(idx), nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

type txImpl struct {
	tx *sql.Tx
}

func (d *sqliteImpl) Update(fn func(tx db.Tx) error) (err error) {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&txImpl{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *txImpl) Credential(username string) (auth.Credential, bool, error) {
	var (
		c  auth.Credential
		ts int64
	)
	err := t.tx.QueryRow("SELECT username, password_hash, note, timestamp FROM credentials WHERE username = ?", username).
		Scan(&c.Username, &c.PasswordHash, &c.Note, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Credential{}, false, nil
	}
	if err != nil {
		return auth.Credential{}, false, fmt.Errorf("load credential: %w", err)
	}
	c.Timestamp = time.Unix(0, ts).UTC()
	return c, true, nil
}

func (t *txImpl) InsertCredential(c auth.Credential) (bool, error) {
	_, found, err := t.Credential(c.Username)
	if err != nil || found {
		return false, err
	}
	_, err = t.tx.Exec("INSERT INTO credentials (username, password_hash, note, timestamp) VALUES (?, ?, ?, ?)",
		c.Username, c.PasswordHash, c.Note, c.Timestamp.UnixNano())
	if err != nil {
		return false, fmt.Errorf("insert credential: %w", err)
	}
	return true, nil
}

func (t *txImpl) PutSetting(key, value string) error {
	_, err := t.tx.Exec("INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

func (t *txImpl) Frame(identity string) (frame.Frame, int64, bool, error) {
	rowID, f, found, err := loadFrame(t.tx, identity)
	return f, rowID, found, err
}

func (t *txImpl) InsertFrame(f frame.Frame) (int64, error) {
	res, err := t.tx.Exec("INSERT INTO frames (identity, kind, name, data, meta, publish, publish_rev, render, source, tags, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		f.Identity, int64(f.Kind), f.Name, f.Data.JSON(), f.Meta.JSON(), f.Publish, int64(f.PublishRev), f.Render, f.Source, f.Tags, f.Timestamp.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert frame %s: %w", f.Identity, err)
	}
	return res.LastInsertId()
}

func (t *txImpl) SetPublish(identity string, status bool, rev uint64) error {
	res, err := t.tx.Exec("UPDATE frames SET publish = ?, publish_rev = ? WHERE identity = ?", status, int64(rev), identity)
	if err != nil {
		return fmt.Errorf("publish frame %s: %w", identity, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("publish frame %s: no such frame", identity)
	}
	return nil
}

func (t *txImpl) IndexFrame(rowID int64, f frame.Frame) error {
	return search.IndexFrame(t.tx, rowID, f)
}

func (t *txImpl) RebuildIndex() error {
	frames, err := queryFrames(t.tx, "SELECT "+frameColumns+" FROM frames ORDER BY timestamp DESC, id DESC")
	if err != nil {
		return fmt.Errorf("load frames: %w", err)
	}
	return search.Rebuild(t.tx, frames)
}

func (t *txImpl) SetAppliedIndex(index uint64) error {
	_, err := t.tx.Exec("INSERT INTO raft_state (id, applied_index) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET applied_index = excluded.applied_index", int64(index))
	if err != nil {
		return fmt.Errorf("store applied index: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (d *sqliteImpl) Setting(key string) (string, bool, error) {
	var value string
	err := d.reader.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load setting %s: %w", key, err)
	}
	return value, true, nil
}

func (d *sqliteImpl) Frame(identity string) (frame.Frame, bool, error) {
	_, f, found, err := loadFrame(d.reader, identity)
	return f, found, err
}

func (d *sqliteImpl) ListFrames(limit int, publicOnly bool) ([]frame.Frame, error) {
	if limit <= 0 {
		limit = -1
	}
	where := ""
	if publicOnly {
		where = "WHERE publish = 1 "
	}
	frames, err := queryFrames(d.reader, "SELECT "+frameColumns+" FROM frames "+where+"ORDER BY timestamp DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	return framesOnly(frames), nil
}

func (d *sqliteImpl) SearchFrames(query string, publicOnly bool) ([]frame.Frame, error) {
	public := ""
	if publicOnly {
		public = "AND publish = 1 "
	}
	frames, err := queryFrames(d.reader, "SELECT "+frameColumns+" FROM frames WHERE id IN (SELECT docid FROM "+search.Table+" WHERE "+search.Table+" MATCH ?) "+public+"ORDER BY timestamp DESC, id DESC", query)
	switch {
	case search.IsMissingTable(err):
		return []frame.Frame{}, nil
	case err != nil && isQuerySyntaxError(err):
		return nil, fmt.Errorf("%w: %v", db.ErrInvalidQuery, err)
	case err != nil:
		return nil, fmt.Errorf("search frames: %w", err)
	}
	return framesOnly(frames), nil
}

func isQuerySyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "MATCH") || strings.Contains(msg, "fts") || strings.Contains(msg, "syntax error")
}

func (d *sqliteImpl) CountFrames() (int, error) {
	var n int
	if err := d.reader.QueryRow("SELECT count(*) FROM frames").Scan(&n); err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}
	return n, nil
}

func (d *sqliteImpl) AppliedIndex() (uint64, error) {
	return appliedIndex(d.reader)
}

func (d *sqliteImpl) GetInfo() (db.DatabaseInfo, error) {
	info := db.DatabaseInfo{DbType: db.ImplSQLite}

	var pageCount, pageSize int64
	if err := d.reader.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return info, fmt.Errorf("page count: %w", err)
	}
	if err := d.reader.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return info, fmt.Errorf("page size: %w", err)
	}
	info.SizeBytes = pageCount * pageSize

	var err error
	if info.Frames, err = d.CountFrames(); err != nil {
		return info, err
	}
	if err := d.reader.QueryRow("SELECT count(*) FROM credentials").Scan(&info.Users); err != nil {
		return info, fmt.Errorf("count credentials: %w", err)
	}
	if info.AppliedIndex, err = d.AppliedIndex(); err != nil {
		return info, err
	}
	info.Metadata = map[string]string{"path": d.path, "schema_version": strconv.Itoa(currentSchemaVersion)}
	return info, nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

func (d *sqliteImpl) Snapshot() (*db.Snapshot, error) {
	tx, err := d.reader.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	s := &db.Snapshot{
		Credentials: []auth.Credential{},
		Settings:    []db.Setting{},
		Frames:      []db.StoredFrame{},
	}
	if s.AppliedIndex, err = appliedIndex(tx); err != nil {
		return nil, err
	}

	rows, err := tx.Query("SELECT username, password_hash, note, timestamp FROM credentials ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("snapshot credentials: %w", err)
	}
	for rows.Next() {
		var (
			c  auth.Credential
			ts int64
		)
		if err := rows.Scan(&c.Username, &c.PasswordHash, &c.Note, &ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("snapshot credentials: %w", err)
		}
		c.Timestamp = time.Unix(0, ts).UTC()
		s.Credentials = append(s.Credentials, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot credentials: %w", err)
	}

	rows, err = tx.Query("SELECT key, value FROM settings ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("snapshot settings: %w", err)
	}
	for rows.Next() {
		var st db.Setting
		if err := rows.Scan(&st.Key, &st.Value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("snapshot settings: %w", err)
		}
		s.Settings = append(s.Settings, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot settings: %w", err)
	}

	frames, err := queryFrames(tx, "SELECT "+frameColumns+" FROM frames ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("snapshot frames: %w", err)
	}
	for _, rf := range frames {
		s.Frames = append(s.Frames, db.StoredFrame{RowID: rf.RowID, Frame: rf.Frame})
	}
	return s, nil
}

func (d *sqliteImpl) Restore(s *db.Snapshot) error {
	return d.Update(func(dtx db.Tx) error {
		tx := dtx.(*txImpl).tx
		for _, stmt := range []string{
			"DELETE FROM credentials",
			"DELETE FROM settings",
			"DELETE FROM frames",
			"DELETE FROM raft_state",
			"DROP TABLE IF EXISTS " + search.Table,
		} {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("restore: %q: %w", stmt, err)
			}
		}

		for _, c := range s.Credentials {
			if _, err := dtx.InsertCredential(c); err != nil {
				return err
			}
		}
		for _, st := range s.Settings {
			if err := dtx.PutSetting(st.Key, st.Value); err != nil {
				return err
			}
		}
		for _, sf := range s.Frames {
			f := sf.Frame
			_, err := tx.Exec("INSERT INTO frames (id, identity, kind, name, data, meta, publish, publish_rev, render, source, tags, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
				sf.RowID, f.Identity, int64(f.Kind), f.Name, f.Data.JSON(), f.Meta.JSON(), f.Publish, int64(f.PublishRev), f.Render, f.Source, f.Tags, f.Timestamp.UnixNano())
			if err != nil {
				return fmt.Errorf("restore frame %s: %w", f.Identity, err)
			}
		}
		if err := dtx.SetAppliedIndex(s.AppliedIndex); err != nil {
			return err
		}
		return dtx.RebuildIndex()
	})
}

func (d *sqliteImpl) Sync() error {
	if _, err := d.db.Exec("PRAGMA wal_checkpoint(FULL)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (d *sqliteImpl) Close() error {
	if d.db == nil {
		return nil
	}
	var readErr error
	if d.reader != nil && d.reader != d.db {
		readErr = d.reader.Close()
	}
	return errors.Join(d.db.Close(), readErr)
}
