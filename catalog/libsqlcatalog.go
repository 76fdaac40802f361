package catalog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/business-tech-dev/errthang/snapshot"
)

// LibsqlCatalog is a reference Catalog implementation backed by
// go-libsql, a SQLite-wire-compatible embedded database. It stores
// one row per path with a unique index on path.
type LibsqlCatalog struct {
	db *sql.DB
}

// Open opens (creating if absent) the catalog database at dsn and
// ensures its schema exists.
func Open(dsn string) (*LibsqlCatalog, error) {
	db, err := openDB(dsn)
	if err != nil {
		return nil, err
	}
	c := &LibsqlCatalog{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// openDB opens a *sql.DB against the libsql driver. The teacher's own
// db package calls a ConnectToDB helper that is never defined
// anywhere in that tree; this is a from-scratch replacement rather
// than a perpetuation of that gap. A dsn with no URL scheme is treated
// as a local file path and given the "file:" scheme the driver expects.
func openDB(dsn string) (*sql.DB, error) {
	if !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, "://") {
		dsn = "file:" + dsn
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog database: %w", err)
	}
	return db, nil
}

func (c *LibsqlCatalog) initSchema() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS items (
		path TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_dir INTEGER NOT NULL,
		size INTEGER NOT NULL,
		mod_time REAL NOT NULL,
		has_mod_time INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("init catalog schema: %w", err)
	}
	_, err = c.db.Exec(`CREATE INDEX IF NOT EXISTS idx_items_name ON items(name)`)
	if err != nil {
		return fmt.Errorf("init catalog name index: %w", err)
	}
	return nil
}

// BulkInsert implements Catalog.
func (c *LibsqlCatalog) BulkInsert(items []snapshot.Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin bulk insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO items (path, name, is_dir, size, mod_time, has_mod_time)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	for i, it := range items {
		if _, err := stmt.Exec(it.Path, it.Name, boolToInt(it.IsDir), it.Size, modTimeSeconds(it), boolToInt(it.HasModTime)); err != nil {
			return fmt.Errorf("insert item %d (%s): %w", i, it.Path, err)
		}
	}
	return tx.Commit()
}

// RangeAll implements Catalog.
func (c *LibsqlCatalog) RangeAll() ([]snapshot.Item, error) {
	rows, err := c.db.Query(`SELECT path, name, is_dir, size, mod_time, has_mod_time FROM items ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("range all items: %w", err)
	}
	defer rows.Close()

	var items []snapshot.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("range all items: row iteration: %w", err)
	}
	return items, nil
}

// Upsert implements Catalog.
func (c *LibsqlCatalog) Upsert(item snapshot.Item) error {
	_, err := c.db.Exec(`INSERT OR REPLACE INTO items (path, name, is_dir, size, mod_time, has_mod_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.Path, item.Name, boolToInt(item.IsDir), item.Size, modTimeSeconds(item), boolToInt(item.HasModTime))
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.Path, err)
	}
	return nil
}

// Delete implements Catalog.
func (c *LibsqlCatalog) Delete(path string) error {
	_, err := c.db.Exec(`DELETE FROM items WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", path, err)
	}
	return nil
}

// DeletePrefix implements Catalog.
func (c *LibsqlCatalog) DeletePrefix(prefix string) error {
	_, err := c.db.Exec(`DELETE FROM items WHERE path >= ? AND path < ?`, prefix, prefixUpperBound(prefix))
	if err != nil {
		return fmt.Errorf("delete prefix %s: %w", prefix, err)
	}
	return nil
}

// Close implements Catalog.
func (c *LibsqlCatalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(rows rowScanner) (snapshot.Item, error) {
	var (
		path, name               string
		isDirInt, hasModTimeInt  int
		size                     int64
		modTimeSec               float64
	)
	if err := rows.Scan(&path, &name, &isDirInt, &size, &modTimeSec, &hasModTimeInt); err != nil {
		return snapshot.Item{}, err
	}
	item := snapshot.Item{
		Path:       path,
		Name:       name,
		IsDir:      isDirInt != 0,
		Size:       size,
		HasModTime: hasModTimeInt != 0,
	}
	if item.HasModTime {
		item.ModTime = secondsToItemTime(modTimeSec)
	}
	return item, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func modTimeSeconds(it snapshot.Item) float64 {
	if !it.HasModTime {
		return 0
	}
	return float64(it.ModTime.UnixNano()) / 1e9
}

func secondsToItemTime(seconds float64) time.Time {
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// prefixUpperBound returns the smallest string greater than every
// string starting with prefix, for use with a `path >= ? AND path < ?`
// range scan over a lexicographically indexed column.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return strings.Repeat("\xff", len(b)+1)
}
