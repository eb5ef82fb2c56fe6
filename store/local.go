package store

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	_ "modernc.org/sqlite" // SQLite driver

	"portfolio-rag/types"
)

const collectionFile = "collection.db"

var localSchema = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		ins INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		char_offset INTEGER NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		embedding TEXT NOT NULL
	)`,
}

// queryExecer is satisfied by both *sql.DB and *sql.Tx.
type queryExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LocalStore keeps the collection in a SQLite file under dir. Every call reads
// the file, so a server and a loader sharing the directory see each other's
// writes. The dimension is fixed by the first insert unless configured up front.
type LocalStore struct {
	db         *sql.DB
	path       string
	configured int
}

func NewLocalStore(dir string, dimension int) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("local store needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	path := filepath.Join(dir, collectionFile)
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &LocalStore{db: db, path: path, configured: dimension}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) init(ctx context.Context) error {
	for _, stmt := range localSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	stored, err := storedDimension(ctx, s.db)
	if err != nil {
		return err
	}
	if stored != 0 && s.configured != 0 && stored != s.configured {
		return types.ConfigurationError("store.open", fmt.Errorf("%w: collection has %d, configured %d",
			types.ErrDimensionMismatch, stored, s.configured))
	}

	n, err := s.Count(ctx)
	if err != nil {
		return err
	}
	slog.Info("local vector store opened", "path", s.path, "records", n, "dimension", cmp.Or(stored, s.configured))
	return nil
}

func storedDimension(ctx context.Context, q queryExecer) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'dimension'`).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return dim, err
}

func setDimension(ctx context.Context, q queryExecer, dim int) error {
	if dim == 0 {
		_, err := q.ExecContext(ctx, `DELETE FROM settings WHERE key = 'dimension'`)
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ('dimension', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, dim)
	return err
}

// Upsert adds chunks to the collection. A record with an existing ID is replaced in place.
func (s *LocalStore) Upsert(ctx context.Context, chunks []types.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.write(ctx, false, chunks)
}

// Replace swaps the whole collection for chunks in one transaction. On failure
// the previous collection is left untouched.
func (s *LocalStore) Replace(ctx context.Context, chunks []types.EmbeddedChunk) error {
	return s.write(ctx, true, chunks)
}

// Reset drops every record. A dimension inferred from data is forgotten.
func (s *LocalStore) Reset(ctx context.Context) error {
	return s.write(ctx, true, nil)
}

func (s *LocalStore) write(ctx context.Context, replace bool, chunks []types.EmbeddedChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dim := s.configured
	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
			return err
		}
	} else if stored, err := storedDimension(ctx, tx); err != nil {
		return err
	} else if stored != 0 {
		dim = stored
	}
	if dim == 0 && len(chunks) > 0 {
		dim = len(chunks[0].Embedding)
		if dim == 0 {
			return types.ConfigurationError("store.upsert", fmt.Errorf("%w: empty embedding", types.ErrDimensionMismatch))
		}
	}

	if err := insertChunks(ctx, tx, dim, chunks); err != nil {
		return err
	}
	if err := setDimension(ctx, tx, dim); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("chunks stored", "backend", "local", "count", len(chunks), "replace", replace)
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, dim int, chunks []types.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source_id, seq, char_offset, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_id = excluded.source_id,
			seq = excluded.seq,
			char_offset = excluded.char_offset,
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if err := checkDimension(dim, []types.EmbeddedChunk{c}); err != nil {
			return err
		}
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		var metadata any
		if c.Metadata != nil {
			raw, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("encoding metadata: %w", err)
			}
			metadata = string(raw)
		}
		if _, err := stmt.ExecContext(ctx,
			id.String(), c.Chunk.SourceID, c.Chunk.SequenceIndex, c.Chunk.Offset, c.Chunk.Text, metadata,
			pgvector.NewVector(c.Embedding),
		); err != nil {
			return err
		}
	}
	return nil
}

// Search scores every record against vec. Equal scores keep insertion order.
func (s *LocalStore) Search(ctx context.Context, vec []float32, k int) ([]types.SearchHit, error) {
	if k <= 0 {
		return []types.SearchHit{}, nil
	}

	dim, err := storedDimension(ctx, s.db)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source_id, seq, content, embedding FROM chunks ORDER BY ins`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := []types.SearchHit{}
	var embeddings [][]float32
	for rows.Next() {
		var (
			hit types.SearchHit
			v   pgvector.Vector
		)
		if err := rows.Scan(&hit.SourceID, &hit.SequenceIndex, &hit.Text, &v); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
		embeddings = append(embeddings, v.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return hits, nil
	}
	if err := checkQueryDimension(dim, vec); err != nil {
		return nil, err
	}

	for i := range hits {
		hits[i].Score = cosine(vec, embeddings[i])
	}
	slices.SortStableFunc(hits, func(a, b types.SearchHit) int {
		return cmp.Compare(b.Score, a.Score)
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *LocalStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM chunks`).Scan(&n)
	return n, err
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}
