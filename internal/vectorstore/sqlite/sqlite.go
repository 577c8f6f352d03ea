// Package sqlite keeps a vector collection in a SQLite database and answers
// queries by brute-force cosine ranking. It suits single-node deployments
// with up to a few hundred thousand chunks.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"ragkb/internal/domain"
	"ragkb/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
  collection TEXT NOT NULL,
  id TEXT NOT NULL,
  source TEXT NOT NULL,
  file_path TEXT NOT NULL DEFAULT '',
  file_type TEXT NOT NULL DEFAULT '',
  chunk_index INTEGER NOT NULL DEFAULT 0,
  text TEXT NOT NULL,
  vector BLOB NOT NULL,
  PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_chunks_collection_source ON chunks(collection, source);
`

// Storage is a vectorstore.Storage backed by one table shared by all
// collections in the database file.
type Storage struct {
	db         *sql.DB
	collection string
}

var _ vectorstore.Storage = (*Storage)(nil)

// Open opens (creating if needed) the database at path and prepares the schema.
func Open(ctx context.Context, path, collection string) (*Storage, error) {
	if collection == "" {
		collection = vectorstore.DefaultCollection
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	// Writers take the lock when the transaction begins. A deferred
	// transaction that reads first gets SQLITE_BUSY on upgrade without
	// waiting on busy_timeout.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Storage{db: db, collection: collection}, nil
}

// Upsert writes all records in one transaction.
func (s *Storage) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	dim, err := storedDimension(ctx, tx, s.collection)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks(collection, id, source, file_path, file_type, chunk_index, text, vector)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET
  source=excluded.source,
  file_path=excluded.file_path,
  file_type=excluded.file_type,
  chunk_index=excluded.chunk_index,
  text=excluded.text,
  vector=excluded.vector`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ID == "" {
			return errors.New("record id is required")
		}
		if len(r.Vector) == 0 {
			return fmt.Errorf("record %s has an empty vector", r.ID)
		}
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: expected %d, got %d", vectorstore.ErrDimensionMismatch, dim, len(r.Vector))
		}
		m := r.Metadata
		if _, err := stmt.ExecContext(ctx, s.collection, r.ID, m.Source, m.FilePath, m.FileType, m.ChunkIndex, r.Text, encodeVector(r.Vector)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Storage) Query(ctx context.Context, vector []float64, topK int, sources []string) ([]domain.Match, error) {
	query := `SELECT id, source, file_path, file_type, chunk_index, text, vector FROM chunks WHERE collection = ?`
	args := []any{s.collection}
	if len(sources) > 0 {
		query += ` AND source IN (` + strings.TrimSuffix(strings.Repeat("?,", len(sources)), ",") + `)`
		for _, src := range sources {
			args = append(args, src)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []vectorstore.Record
	for rows.Next() {
		var r vectorstore.Record
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Metadata.Source, &r.Metadata.FilePath, &r.Metadata.FileType, &r.Metadata.ChunkIndex, &r.Text, &blob); err != nil {
			return nil, err
		}
		r.Vector = decodeVector(blob)
		if len(r.Vector) != len(vector) {
			return nil, fmt.Errorf("%w: expected %d, got %d", vectorstore.ErrDimensionMismatch, len(r.Vector), len(vector))
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vectorstore.RankRecords(candidates, vector, topK), nil
}

func (s *Storage) Scan(ctx context.Context) ([]domain.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, file_path, file_type, chunk_index FROM chunks WHERE collection = ? ORDER BY id`, s.collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Metadata
	for rows.Next() {
		var m domain.Metadata
		if err := rows.Scan(&m.Source, &m.FilePath, &m.FileType, &m.ChunkIndex); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE collection = ?`, s.collection).Scan(&n)
	return n, err
}

func (s *Storage) DeleteStale(ctx context.Context, source string, keep []string) (int, error) {
	query := `DELETE FROM chunks WHERE collection = ? AND source = ?`
	args := []any{s.collection, source}
	if len(keep) > 0 {
		query += ` AND id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Storage) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, s.collection)
	return err
}

func (s *Storage) Close() error { return s.db.Close() }

func storedDimension(ctx context.Context, tx *sql.Tx, collection string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT length(vector) FROM chunks WHERE collection = ? LIMIT 1`, collection).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n / 8, nil
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
