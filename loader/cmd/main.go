package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"portfolio-rag/config"
	"portfolio-rag/loader/internal"
	"portfolio-rag/loader/service"
	"portfolio-rag/model"
	"portfolio-rag/store"
)

type options struct {
	configPath string
	dir        string
	reset      bool
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	slog.SetDefault(config.NewLogger(os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("loader failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "loader",
		Short:         "Load documents into the vector store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVarP(&opts.dir, "dir", "d", "", "document directory (overrides loader.source_dir)")

	ingest := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest the document directory once",
		Long: `Reads every supported document below the source directory, splits it into
chunks, embeds them and writes them to the vector store in one batch.
Without --reset the chunks are appended to what is already stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, dir, closeFn, err := build(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := svc.Ingest(cmd.Context(), dir)
			if err != nil {
				return err
			}
			cmd.Printf("Ingested %d documents into %d chunks (%d files skipped)\n",
				report.DocumentsProcessed, report.ChunksWritten, report.Skipped)
			return nil
		},
	}
	ingest.Flags().BoolVar(&opts.reset, "reset", false, "clear the vector store before writing")

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Ingest and keep re-ingesting when the directory changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, dir, closeFn, err := build(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()
			return svc.Watch(cmd.Context(), dir)
		},
	}
	watch.Flags().BoolVar(&opts.reset, "reset", false, "clear the vector store before the first run")

	root.AddCommand(ingest, watch)
	return root
}

// build wires the ingestion service from configuration. The returned func
// closes the vector store.
func build(ctx context.Context, opts *options) (*service.Service, string, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, "", nil, err
	}
	if opts.dir != "" {
		cfg.Loader.SourceDir = opts.dir
	}
	logger := slog.Default()

	splitter, err := internal.NewSplitter(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		return nil, "", nil, err
	}

	embedder, err := model.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, "", nil, fmt.Errorf("error to create embedder: %w", err)
	}

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, "", nil, err
	}

	source := internal.NewSource(internal.PDFLoader{
		CropTop:    cfg.Loader.PDFCropTop,
		CropBottom: cfg.Loader.PDFCropBottom,
	}, logger)

	svc := service.New(st, embedder, source, splitter,
		service.WithLogger(logger),
		service.WithReset(opts.reset),
		service.WithWatcher(internal.NewWatcher(cfg.Loader.WatchDebounce, logger)),
	)

	closeFn := func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing vector store", "error", err)
		}
	}
	return svc, cfg.Loader.SourceDir, closeFn, nil
}
