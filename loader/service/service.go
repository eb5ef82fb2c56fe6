package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"portfolio-rag/loader/internal"
	"portfolio-rag/model"
	"portfolio-rag/store"
	"portfolio-rag/types"
)

// Service turns a document directory into embedded chunks in the vector store.
// It is not safe to run two ingestions against one store at the same time.
type Service struct {
	logger   *slog.Logger
	store    store.VectorStorer
	embedder model.EmbedderInterface
	source   *internal.Source
	splitter *internal.Splitter
	watcher  *internal.Watcher
	reset    bool
}

type Option func(*Service)

// WithReset clears the store before writing the new chunks.
func WithReset(reset bool) Option {
	return func(s *Service) { s.reset = reset }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithWatcher(w *internal.Watcher) Option {
	return func(s *Service) { s.watcher = w }
}

func New(storer store.VectorStorer, embedder model.EmbedderInterface, source *internal.Source, splitter *internal.Splitter, opts ...Option) *Service {
	s := &Service{
		logger:   slog.Default(),
		store:    storer,
		embedder: embedder,
		source:   source,
		splitter: splitter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest loads, chunks and embeds every document below dir and writes the
// result in one batch. Nothing is written unless all embeddings succeed. With
// reset the stored collection is swapped in a single store transaction, so a
// failed write keeps the previous index.
func (s *Service) Ingest(ctx context.Context, dir string) (types.IngestionReport, error) {
	report := types.IngestionReport{}

	scan, err := s.source.Scan(ctx, dir)
	if err != nil {
		return report, types.IngestionError("ingest.scan", err)
	}
	report.Skipped = len(scan.Skipped)
	report.SkippedFiles = scan.Skipped

	if len(scan.Documents) == 0 {
		s.logger.Info("no documents to ingest", "dir", dir, "skipped", report.Skipped)
		return report, nil
	}

	var chunks []types.Chunk
	var docs []types.Document
	for _, doc := range scan.Documents {
		n := 0
		for c := range s.splitter.Split(doc) {
			chunks = append(chunks, c)
			docs = append(docs, doc)
			n++
		}
		s.logger.Debug("document chunked", "source", doc.SourceID, "chunks", n)
	}
	report.DocumentsProcessed = len(scan.Documents)

	if len(chunks) == 0 {
		s.logger.Info("documents contained no text", "dir", dir, "documents", report.DocumentsProcessed)
		return report, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return report, types.IngestionError("ingest.embed", err)
	}
	if len(vectors) != len(chunks) {
		return report, types.IngestionError("ingest.embed",
			fmt.Errorf("provider returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	embedded := make([]types.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		embedded[i] = types.EmbeddedChunk{
			ID:        uuid.New(),
			Chunk:     c,
			Embedding: vectors[i],
			Metadata:  chunkMetadata(docs[i], c),
		}
	}

	if s.reset {
		if err := s.store.Replace(ctx, embedded); err != nil {
			return report, types.IngestionError("ingest.replace", err)
		}
		report.Reset = true
		s.logger.Info("vector store contents replaced")
	} else if err := s.store.Upsert(ctx, embedded); err != nil {
		return report, types.IngestionError("ingest.write", err)
	}
	report.ChunksWritten = len(embedded)

	s.logger.Info("ingestion finished",
		"dir", dir,
		"documents", report.DocumentsProcessed,
		"chunks", report.ChunksWritten,
		"skipped", report.Skipped,
		"embedder", s.embedder.Name(),
	)
	return report, nil
}

func chunkMetadata(doc types.Document, c types.Chunk) map[string]any {
	return map[string]any{
		"document_id": internal.DocumentID(doc.SourceID).String(),
		"source":      doc.SourceID,
		"title":       doc.Title,
		"media_type":  string(doc.MediaType),
		"seq":         c.SequenceIndex,
		"offset":      c.Offset,
	}
}

// Watch ingests dir once and then again, with reset, after every quiet burst
// of file changes. It returns when ctx ends. Failed runs are logged and the
// previous index stays in place.
func (s *Service) Watch(ctx context.Context, dir string) error {
	if s.watcher == nil {
		s.watcher = internal.NewWatcher(0, s.logger)
	}

	changes, err := s.watcher.Watch(ctx, dir)
	if err != nil {
		return types.ConfigurationError("ingest.watch", err)
	}

	s.runOnce(ctx, dir)
	s.reset = true

	for range changes {
		if ctx.Err() != nil {
			break
		}
		s.logger.Info("source directory changed, re-ingesting", "dir", dir)
		s.runOnce(ctx, dir)
	}

	s.logger.Info("loader service stopped")
	return nil
}

func (s *Service) runOnce(ctx context.Context, dir string) {
	if _, err := s.Ingest(ctx, dir); err != nil {
		s.logger.Error("ingestion failed", "dir", dir, "error", err)
	}
}
