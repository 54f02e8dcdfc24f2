package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jpalmerr/storefinder/internal/locator"
)

// ErrNoSnapshot is returned by [DB.LoadStores] when nothing has been saved.
var ErrNoSnapshot = errors.New("no store snapshot")

// DB is a SQLite database holding the store snapshot.
type DB struct {
	*sql.DB
	path string
}

// Open creates or opens the database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging cache database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path}
	if err := d.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return d, nil
}

// OpenMemory creates an in-memory database, for tests.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory cache: %w", err)
	}
	// every connection would get its own empty database
	sqlDB.SetMaxOpenConns(1)

	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return d, nil
}

// Path returns the database path.
func (d *DB) Path() string {
	return d.path
}

func (d *DB) migrate() error {
	_, err := d.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS stores (
    position INTEGER PRIMARY KEY,
    id INTEGER NOT NULL,
    lcbo_id INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL DEFAULT '',
    address_line_1 TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    is_dead INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS snapshots (
    name TEXT PRIMARY KEY,
    saved_at INTEGER NOT NULL,
    store_count INTEGER NOT NULL
);
`

const snapshotName = "stores"

// SaveStores replaces the snapshot with stores in a single transaction.
func (d *DB) SaveStores(ctx context.Context, stores []locator.Store) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stores`); err != nil {
		return fmt.Errorf("clearing stores: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stores (position, id, lcbo_id, name, address_line_1, city, latitude, longitude, is_dead)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, s := range stores {
		if _, err := stmt.ExecContext(ctx, i, s.ID, s.PartnerID, s.Name, s.AddressLine1, s.City,
			s.Latitude, s.Longitude, s.IsDead); err != nil {
			return fmt.Errorf("inserting store %d: %w", s.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (name, saved_at, store_count) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET saved_at = excluded.saved_at, store_count = excluded.store_count`,
		snapshotName, time.Now().Unix(), len(stores)); err != nil {
		return fmt.Errorf("recording snapshot: %w", err)
	}

	return tx.Commit()
}

// LoadStores returns the snapshot in its saved order along with the time it
// was saved. It returns [ErrNoSnapshot] if nothing has been saved yet.
func (d *DB) LoadStores(ctx context.Context) ([]locator.Store, time.Time, error) {
	var savedAt int64
	err := d.QueryRowContext(ctx, `SELECT saved_at FROM snapshots WHERE name = ?`, snapshotName).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading snapshot: %w", err)
	}

	rows, err := d.QueryContext(ctx, `
		SELECT id, lcbo_id, name, address_line_1, city, latitude, longitude, is_dead
		FROM stores ORDER BY position`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("querying stores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stores := []locator.Store{}
	for rows.Next() {
		var s locator.Store
		if err := rows.Scan(&s.ID, &s.PartnerID, &s.Name, &s.AddressLine1, &s.City,
			&s.Latitude, &s.Longitude, &s.IsDead); err != nil {
			return nil, time.Time{}, fmt.Errorf("scanning store: %w", err)
		}
		stores = append(stores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("iterating stores: %w", err)
	}

	return stores, time.Unix(savedAt, 0), nil
}
