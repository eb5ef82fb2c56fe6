package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"portfolio-rag/types"
)

const chunksTable = "rag_chunks"

type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPostgresStore(ctx context.Context, connStr string, dimension int) (*PostgresStore, error) {
	if dimension <= 0 {
		return nil, errors.New("postgres store needs a positive dimension")
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:      pool,
		dimension: dimension,
	}, nil
}

// Init creates the schema if needed and verifies the stored dimension.
func (p *PostgresStore) Init(ctx context.Context) error {
	if err := p.createTables(ctx); err != nil {
		return err
	}
	return p.verifyDimension(ctx)
}

func (p *PostgresStore) createTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS %[1]s (
		id UUID PRIMARY KEY,
		ins BIGSERIAL,
		source_id TEXT NOT NULL,
		seq INT NOT NULL,
		content TEXT NOT NULL,
		metadata JSONB,
		embedding vector(%[2]d) NOT NULL
	);

	DROP INDEX IF EXISTS idx_%[1]s_embedding;
	CREATE INDEX IF NOT EXISTS idx_%[1]s_hnsw ON %[1]s USING hnsw (embedding vector_cosine_ops);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_source ON %[1]s(source_id);
	`, chunksTable, p.dimension)

	_, err := p.pool.Exec(ctx, query)
	return err
}

// verifyDimension compares the declared vector width of an existing table with
// the configured one. For the vector type atttypmod holds the dimension.
func (p *PostgresStore) verifyDimension(ctx context.Context) error {
	var existing int
	err := p.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = to_regclass($1) AND attname = 'embedding'`, chunksTable).Scan(&existing)
	if err != nil {
		return err
	}
	if existing > 0 && existing != p.dimension {
		return types.ConfigurationError("store.init", fmt.Errorf("%w: table %s has %d, configured %d",
			types.ErrDimensionMismatch, chunksTable, existing, p.dimension))
	}
	return nil
}

func (p *PostgresStore) Upsert(ctx context.Context, chunks []types.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return p.write(ctx, false, chunks)
}

// Replace truncates the table and inserts chunks in the same transaction.
func (p *PostgresStore) Replace(ctx context.Context, chunks []types.EmbeddedChunk) error {
	return p.write(ctx, true, chunks)
}

func (p *PostgresStore) write(ctx context.Context, replace bool, chunks []types.EmbeddedChunk) error {
	if err := checkDimension(p.dimension, chunks); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if replace {
		if _, err := tx.Exec(ctx, "TRUNCATE "+chunksTable); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, source_id, seq, content, metadata, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		source_id = EXCLUDED.source_id,
		seq = EXCLUDED.seq,
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding
	`, chunksTable)

	if len(chunks) > 0 {
		if err := sendChunks(ctx, tx, query, chunks); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	slog.Debug("chunks stored", "backend", "postgres", "count", len(chunks), "replace", replace)
	return nil
}

func sendChunks(ctx context.Context, tx pgx.Tx, query string, chunks []types.EmbeddedChunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(query,
			c.ID, c.Chunk.SourceID, c.Chunk.SequenceIndex, c.Chunk.Text, c.Metadata, pgvector.NewVector(c.Embedding),
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func (p *PostgresStore) Search(ctx context.Context, queryVec []float32, limit int) ([]types.SearchHit, error) {
	if limit <= 0 {
		return []types.SearchHit{}, nil
	}
	if err := checkQueryDimension(p.dimension, queryVec); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT source_id, seq, content, 1-(embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, ins
		LIMIT $2
	`, chunksTable)

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// an hnsw scan returns at most ef_search candidates
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch(limit))); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, query, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]types.SearchHit, 0, limit)
	for rows.Next() {
		var hit types.SearchHit
		if err := rows.Scan(&hit.SourceID, &hit.SequenceIndex, &hit.Text, &hit.Score); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func efSearch(limit int) int {
	return min(max(limit, 40), 1000)
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+chunksTable).Scan(&n)
	return n, err
}

func (p *PostgresStore) Reset(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, "TRUNCATE "+chunksTable)
	return err
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		slog.Info("postgres connection pool is closed")
	}
	return nil
}
