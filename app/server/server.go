package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"portfolio-rag/app/agent"
	"portfolio-rag/app/api"
	"portfolio-rag/app/middleware"
	"portfolio-rag/app/rag"
	"portfolio-rag/config"
	"portfolio-rag/model"
	"portfolio-rag/store"
)

type Server struct {
	cfg    *config.Config
	app    *fiber.App
	store  store.VectorStorer
	logger *slog.Logger
}

// NewServer opens the vector store and the model clients named in cfg.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	embedder, err := model.NewEmbedder(cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, err
	}

	completer, err := model.NewCompleter(cfg.Completion)
	if err != nil {
		st.Close()
		return nil, err
	}

	return New(cfg, st, rag.NewRetriever(embedder, st, cfg.Retrieval.MinScore), agent.New(completer, cfg.Generation)), nil
}

// New wires the HTTP surface from already constructed parts.
func New(cfg *config.Config, st store.VectorStorer, grounder api.Grounder, answerer api.Answerer) *Server {
	logger := slog.Default()

	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
		AppName:      "portfolio-rag",
	})
	app.Use(recover.New())
	origins := strings.Join(cfg.Server.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
		// fiber rejects credentials together with a wildcard origin
		AllowCredentials: origins != "" && !strings.Contains(origins, "*"),
	}))
	app.Use(middleware.RequestLogger(logger, "/check"))

	var (
		checkHandler   = api.NewCheckHandler()
		requestHandler = api.NewRequestHandler(grounder, answerer, cfg.Retrieval.ContextK, cfg.Retrieval.ChatK)
		configHandler  = api.NewConfigHandler(cfg, st)
		fileHandler    = api.NewFileHandler(cfg.Loader.SourceDir)
		check          = app.Group("/check")
		apiv1          = app.Group("/api/v1")
	)

	app.Get("/", checkHandler.HandleRoot)
	app.Post("/retrieve-context", requestHandler.HandleRetrieveContext)
	app.Post("/chat", requestHandler.HandleChat)

	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1.Post("/answer", requestHandler.HandleAnswer)
	apiv1.Get("/config", configHandler.HandleGetConfig)
	apiv1.Post("/documents", fileHandler.HandleUpload)

	return &Server{
		cfg:    cfg,
		app:    app,
		store:  st,
		logger: logger,
	}
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run blocks serving HTTP until Stop is called or listening fails.
func (s *Server) Run() error {
	s.logger.Info("server starting", "addr", s.cfg.Server.Addr)
	if err := s.app.Listen(s.cfg.Server.Addr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) Stop() {
	if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
		s.logger.Warn("server shutdown", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing vector store", "error", err)
	}
	s.logger.Info("server stopped")
}
