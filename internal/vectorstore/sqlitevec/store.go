// Package sqlitevec implements provider.VectorStore using sqlite-vec, with
// one vec0 virtual table per sanitized tag.
package sqlitevec

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vecindex/engine/pkg/provider"
	"github.com/vecindex/engine/pkg/types"
)

var vecAutoOnce sync.Once

// tableIdentPattern restricts table names to characters that are safe to
// interpolate into DDL statements. Sanitized tags only ever produce
// characters from this set (see types.Sanitize), so a name failing this
// check indicates a caller bug, not untrusted input.
var tableIdentPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Store implements provider.VectorStore using one vec0 table per tag.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// New creates a new sqlite-vec-backed vector store.
func New() *Store {
	return &Store{}
}

// Init opens the underlying database, creating it if necessary.
func (s *Store) Init(path string) error {
	s.path = path

	vecAutoOnce.Do(func() {
		sqlite_vec.Auto()
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	if _, err := db.Exec("SELECT vec_version()"); err != nil {
		return fmt.Errorf("sqlite-vec extension not available: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vecindex_tables (
			name TEXT PRIMARY KEY,
			dimensions INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table registry: %w", err)
	}

	return nil
}

func quoteIdent(table string) string {
	return `"` + table + `"`
}

func rowsTable(table string) string {
	return table + "__rows"
}

// TableNames lists every registered tag table.
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM vecindex_tables`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateTable creates the vec0 table and its metadata sidecar table for the
// given sanitized tag name, if it does not already exist.
func (s *Store) CreateTable(ctx context.Context, table string, dimensions int) error {
	if !tableIdentPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
			uuid TEXT PRIMARY KEY,
			embedding float[%d]
		)
	`, quoteIdent(table), dimensions))
	if err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			uuid TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			cache_key TEXT NOT NULL
		)
	`, quoteIdent(rowsTable(table))))
	if err != nil {
		return fmt.Errorf("failed to create row metadata table: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s(path)`,
		quoteIdent(rowsTable(table)+"_path_idx"), quoteIdent(rowsTable(table))))
	if err != nil {
		return fmt.Errorf("failed to create path index: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO vecindex_tables(name, dimensions) VALUES (?, ?)`,
		table, dimensions)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// OpenTable reports whether a table has been created.
func (s *Store) OpenTable(ctx context.Context, table string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM vecindex_tables WHERE name = ?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddRows inserts rows into the given table.
func (s *Store) AddRows(ctx context.Context, table string, rows []types.ChunkRow) error {
	if len(rows) == 0 {
		return nil
	}
	if !tableIdentPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	vecStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO %s(uuid, embedding) VALUES (?, ?)`, quoteIdent(table)))
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	metaStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO %s(uuid, path, cache_key) VALUES (?, ?, ?)`, quoteIdent(rowsTable(table))))
	if err != nil {
		return err
	}
	defer metaStmt.Close()

	for _, r := range rows {
		if _, err := vecStmt.ExecContext(ctx, r.UUID, FloatsToBytes(r.Vector)); err != nil {
			return fmt.Errorf("failed to insert row %s: %w", r.UUID, err)
		}
		if _, err := metaStmt.ExecContext(ctx, r.UUID, r.Path, r.CacheKey); err != nil {
			return fmt.Errorf("failed to insert row metadata %s: %w", r.UUID, err)
		}
	}

	return tx.Commit()
}

// DeleteWhere removes every row matching pred from the given table.
func (s *Store) DeleteWhere(ctx context.Context, table string, pred provider.Predicate) error {
	if !tableIdentPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if pred.CacheKey == "" && pred.Path == "" {
		return fmt.Errorf("DeleteWhere requires at least one predicate field")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var clauses []string
	var args []any
	if pred.CacheKey != "" {
		clauses = append(clauses, "cache_key = ?")
		args = append(args, pred.CacheKey)
	}
	if pred.Path != "" {
		clauses = append(clauses, "path = ?")
		args = append(args, pred.Path)
	}
	where := ""
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rowsTbl := rowsTable(table)
	selectQuery := fmt.Sprintf(`SELECT uuid FROM %s WHERE %s`, quoteIdent(rowsTbl), where)
	rows, err := tx.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return err
	}
	var uuids []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			rows.Close()
			return err
		}
		uuids = append(uuids, uuid)
	}
	rows.Close()

	delMeta := fmt.Sprintf(`DELETE FROM %s WHERE %s`, quoteIdent(rowsTbl), where)
	if _, err := tx.ExecContext(ctx, delMeta, args...); err != nil {
		return err
	}

	delVecStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE uuid = ?`, quoteIdent(table)))
	if err != nil {
		return err
	}
	defer delVecStmt.Close()

	for _, uuid := range uuids {
		if _, err := delVecStmt.ExecContext(ctx, uuid); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DropTable removes a table entirely.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if !tableIdentPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(table))); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(rowsTable(table)))); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vecindex_tables WHERE name = ?`, table); err != nil {
		return err
	}

	return tx.Commit()
}

// Search returns the topK nearest neighbors to vector in table, optionally
// restricted to paths under pathPrefix.
func (s *Store) Search(ctx context.Context, table string, vector []float32, topK int, pathPrefix string) ([]provider.SearchHit, error) {
	if !tableIdentPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	embBytes := FloatsToBytes(vector)
	rowsTbl := rowsTable(table)

	filterClause := ""
	args := []any{embBytes, embBytes, topK}
	if pathPrefix != "" {
		filterClause = "AND r.path LIKE ? ESCAPE '\\'"
		args = append(args, escapeLike(pathPrefix)+"%")
	}

	query := fmt.Sprintf(`
		SELECT r.uuid, r.path, r.cache_key, vec_distance_cosine(v.embedding, ?) as distance
		FROM %s v
		JOIN %s r ON r.uuid = v.uuid
		WHERE v.embedding MATCH ? AND k = ? %s
		ORDER BY distance ASC
	`, quoteIdent(table), quoteIdent(rowsTbl), filterClause)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var hits []provider.SearchHit
	for rows.Next() {
		var hit provider.SearchHit
		if err := rows.Scan(&hit.UUID, &hit.Path, &hit.CacheKey, &hit.Distance); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// escapeLike escapes '%' and '_' so a directory prefix can be used safely as
// a LIKE pattern.
func escapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			r = append(r, '\\', s[i])
		default:
			r = append(r, s[i])
		}
	}
	return string(r)
}

// Close releases resources and closes connections.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// FloatsToBytes converts a float32 slice to the little-endian byte layout
// sqlite-vec expects for a float[N] column.
func FloatsToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		bits := math.Float32bits(f)
		buf[i*4+0] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

// BytesToFloats is the inverse of FloatsToBytes.
func BytesToFloats(buf []byte) []float32 {
	n := len(buf) / 4
	floats := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		floats[i] = math.Float32frombits(bits)
	}
	return floats
}

var _ provider.VectorStore = (*Store)(nil)
