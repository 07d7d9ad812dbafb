// Package sqlstore keeps blocks in a SQL table, on SQLite (modernc, pure
// Go) or PostgreSQL (pgx).
//
//	CREATE TABLE blocks (cid TEXT PRIMARY KEY, data BLOB NOT NULL)
//
// data holds a compress frame of the block.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/compress"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	Name   string
	Driver string

	createTable string
	insert      string
	selectData  string
	exists      string
}

var (
	SQLite = Dialect{
		Name:        "sqlite",
		Driver:      "sqlite",
		createTable: `CREATE TABLE IF NOT EXISTS blocks (cid TEXT PRIMARY KEY, data BLOB NOT NULL)`,
		insert:      `INSERT INTO blocks (cid, data) VALUES (?, ?) ON CONFLICT (cid) DO NOTHING`,
		selectData:  `SELECT data FROM blocks WHERE cid = ?`,
		exists:      `SELECT 1 FROM blocks WHERE cid = ?`,
	}
	Postgres = Dialect{
		Name:        "postgres",
		Driver:      "pgx",
		createTable: `CREATE TABLE IF NOT EXISTS blocks (cid TEXT PRIMARY KEY, data BYTEA NOT NULL)`,
		insert:      `INSERT INTO blocks (cid, data) VALUES ($1, $2) ON CONFLICT (cid) DO NOTHING`,
		selectData:  `SELECT data FROM blocks WHERE cid = $1`,
		exists:      `SELECT 1 FROM blocks WHERE cid = $1`,
	}
)

// ParseDialect maps "sqlite" or "postgres" to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("sqlstore: unknown dialect %q", name)
	}
}

// CAS implements storage.CAS on a database/sql handle.
type CAS struct {
	db          *sql.DB
	dialect     Dialect
	prefix      cid.Prefix
	compression compress.Algorithm
}

var _ storage.CAS = (*CAS)(nil)

type Option func(*CAS)

// WithCompression compresses blocks at rest. Reads accept any algorithm.
func WithCompression(a compress.Algorithm) Option {
	return func(c *CAS) { c.compression = a }
}

// Open connects to dsn, creates the blocks table if needed and returns a
// store that derives CIDs with prefix p. For SQLite the DSN is a file path.
func Open(ctx context.Context, d Dialect, dsn string, p cid.Prefix, opts ...Option) (*CAS, error) {
	if dsn == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}
	if d.Driver == SQLite.Driver {
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("sqlstore: create dirs: %w", err)
			}
		}
		if !strings.Contains(dsn, "_pragma=") {
			dsn += sqliteDefaults(dsn)
		}
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d.Name, err)
	}
	if d.Driver == SQLite.Driver {
		// One writer at a time; busy_timeout covers other processes.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storage.Unavailable("sqlstore ping", err)
	}
	c, err := New(ctx, db, d, p, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func sqliteDefaults(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// New wraps an open handle. The blocks table is created if missing.
func New(ctx context.Context, db *sql.DB, d Dialect, p cid.Prefix, opts ...Option) (*CAS, error) {
	if _, err := db.ExecContext(ctx, d.createTable); err != nil {
		return nil, fmt.Errorf("sqlstore: create blocks table: %w", err)
	}
	if p == (cid.Prefix{}) {
		p = cidutil.DefaultPrefix
	}
	c := &CAS{db: db, dialect: d, prefix: p}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Close closes the database handle.
func (c *CAS) Close() error { return c.db.Close() }

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.Sum(c.prefix, data)
	if err != nil {
		return cid.Undef, storage.WriteFailed("sqlstore put", err)
	}
	frame, err := compress.Encode(data, c.compression)
	if err != nil {
		return cid.Undef, storage.WriteFailed("sqlstore compress", err)
	}
	res, err := c.db.ExecContext(ctx, c.dialect.insert, id.String(), frame)
	if err != nil {
		return cid.Undef, storage.WriteFailed("sqlstore insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cid.Undef, storage.WriteFailed("sqlstore insert", err)
	}
	if n == 0 {
		existing, err := c.Get(ctx, id)
		if err != nil || !bytes.Equal(existing, data) {
			return cid.Undef, storage.ErrImmutable
		}
	}
	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if err := storage.CheckCID(id); err != nil {
		return nil, err
	}
	var frame []byte
	err := c.db.QueryRowContext(ctx, c.dialect.selectData, id.String()).Scan(&frame)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable("sqlstore select", err)
	}
	b, err := compress.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCIDMismatch, err)
	}
	if err := storage.VerifyBlock(id, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	var one int
	err := c.db.QueryRowContext(ctx, c.dialect.exists, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.Unavailable("sqlstore select", err)
	}
	return true, nil
}

// Prefix returns the prefix new blocks are addressed under.
func (c *CAS) Prefix() cid.Prefix { return c.prefix }
