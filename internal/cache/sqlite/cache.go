// Package sqlite implements provider.EmbeddingCache as a durable sqlite
// table, the system of record backing every derived per-tag vector table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vecindex/engine/internal/vectorstore/sqlitevec"
	"github.com/vecindex/engine/pkg/provider"
	"github.com/vecindex/engine/pkg/types"
)

// Cache implements provider.EmbeddingCache backed by a single sqlite table
// named lance_db_cache, echoing the naming of the LanceDB-backed cache this
// design generalizes from.
type Cache struct {
	mu sync.RWMutex
	db *sql.DB
}

// New creates a new sqlite-backed embedding cache.
func New() *Cache {
	return &Cache{}
}

// Init opens or creates the cache database at path.
func (c *Cache) Init(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}
	c.db = db

	cols, err := tableColumns(db, "lance_db_cache")
	if err != nil {
		return fmt.Errorf("failed to inspect lance_db_cache schema: %w", err)
	}

	switch {
	case len(cols) == 0:
		// Fresh database: create the table with the current schema directly,
		// nothing to migrate.
		if _, err := db.Exec(`
			CREATE TABLE lance_db_cache (
				uuid TEXT PRIMARY KEY,
				cache_key TEXT NOT NULL,
				path TEXT NOT NULL,
				artifact_id TEXT NOT NULL,
				start_line INTEGER NOT NULL,
				end_line INTEGER NOT NULL,
				contents TEXT NOT NULL,
				vector BLOB NOT NULL
			)
		`); err != nil {
			return fmt.Errorf("failed to create lance_db_cache table: %w", err)
		}
	case !cols["artifact_id"]:
		// Legacy database predating the artifact_id column: the one
		// documented migration, defaulting existing rows to UNDEFINED so
		// they remain queryable (if not reconstructible) under the new key.
		if _, err := db.Exec(`ALTER TABLE lance_db_cache ADD COLUMN artifact_id TEXT NOT NULL DEFAULT 'UNDEFINED'`); err != nil {
			return fmt.Errorf("failed to migrate lance_db_cache.artifact_id: %w", err)
		}
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_lance_db_cache_lookup
		ON lance_db_cache(artifact_id, cache_key, path)
	`)
	if err != nil {
		return fmt.Errorf("failed to create cache lookup index: %w", err)
	}

	return nil
}

// tableColumns returns the set of column names for table, or an empty set if
// the table does not exist. PRAGMA table_info reports no rows for a missing
// table rather than erroring, so an empty result is the table-doesn't-exist
// signal used to pick between a fresh CREATE TABLE and an in-place migration.
func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Insert durably records rows, replacing any existing row with the same uuid.
func (c *Cache) Insert(ctx context.Context, records []types.CacheRecord) error {
	if len(records) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO lance_db_cache
		(uuid, cache_key, path, artifact_id, start_line, end_line, contents, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		vecBytes, err := marshalVector(r.Vector)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.UUID, r.CacheKey, r.Path, r.ArtifactID, r.StartLine, r.EndLine, r.Contents, vecBytes); err != nil {
			return fmt.Errorf("failed to insert cache record %s: %w", r.UUID, err)
		}
	}

	return tx.Commit()
}

// SelectByKey returns cache rows for artifactID whose (cacheKey, path) match items.
func (c *Cache) SelectByKey(ctx context.Context, artifactID string, items []types.RefreshItem) ([]types.CacheRecord, error) {
	if len(items) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var records []types.CacheRecord
	stmt, err := c.db.PrepareContext(ctx, `
		SELECT uuid, cache_key, path, artifact_id, start_line, end_line, contents, vector
		FROM lance_db_cache WHERE artifact_id = ? AND cache_key = ? AND path = ?
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, item := range items {
		rows, err := stmt.QueryContext(ctx, artifactID, item.CacheKey, item.Path)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			rec, err := scanCacheRecord(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return records, nil
}

// SelectByUUIDs returns cache rows by primary key.
func (c *Cache) SelectByUUIDs(ctx context.Context, uuids []string) ([]types.CacheRecord, error) {
	if len(uuids) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	placeholders := make([]byte, 0, len(uuids)*2)
	args := make([]any, len(uuids))
	for i, u := range uuids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = u
	}

	query := fmt.Sprintf(`
		SELECT uuid, cache_key, path, artifact_id, start_line, end_line, contents, vector
		FROM lance_db_cache WHERE uuid IN (%s)
	`, string(placeholders))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.CacheRecord
	for rows.Next() {
		rec, err := scanCacheRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes rows for artifactID matching items.
func (c *Cache) Delete(ctx context.Context, artifactID string, items []types.RefreshItem) error {
	if len(items) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM lance_db_cache WHERE artifact_id = ? AND cache_key = ? AND path = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, artifactID, item.CacheKey, item.Path); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Stats reports cache size broken down by artifact.
func (c *Cache) Stats(ctx context.Context) (provider.CacheStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var stats provider.CacheStats
	stats.ArtifactCounts = make(map[string]int64)

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lance_db_cache`).Scan(&stats.Rows); err != nil {
		return stats, err
	}

	rows, err := c.db.QueryContext(ctx, `SELECT artifact_id, COUNT(*) FROM lance_db_cache GROUP BY artifact_id`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var artifactID string
		var count int64
		if err := rows.Scan(&artifactID, &count); err != nil {
			return stats, err
		}
		stats.ArtifactCounts[artifactID] = count
	}

	return stats, rows.Err()
}

// Close releases resources.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func scanCacheRecord(rows *sql.Rows) (types.CacheRecord, error) {
	var rec types.CacheRecord
	var vecBytes []byte
	if err := rows.Scan(&rec.UUID, &rec.CacheKey, &rec.Path, &rec.ArtifactID, &rec.StartLine, &rec.EndLine, &rec.Contents, &vecBytes); err != nil {
		return rec, err
	}
	rec.Vector = unmarshalVector(vecBytes)
	return rec, nil
}

// marshalVector and unmarshalVector reuse the vector store's sqlite-vec byte
// layout so a cached vector can be written straight into a vec0 table
// without reformatting.
func marshalVector(v []float32) ([]byte, error) {
	return sqlitevec.FloatsToBytes(v), nil
}

func unmarshalVector(b []byte) []float32 {
	return sqlitevec.BytesToFloats(b)
}

var _ provider.EmbeddingCache = (*Cache)(nil)
