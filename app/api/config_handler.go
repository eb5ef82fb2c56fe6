package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"portfolio-rag/config"
)

// Counter reports how many chunks are indexed.
type Counter interface {
	Count(context.Context) (int, error)
}

// ConfigHandler exposes the non-secret runtime settings and index size.
type ConfigHandler struct {
	cfg   *config.Config
	store Counter
}

func NewConfigHandler(cfg *config.Config, store Counter) *ConfigHandler {
	return &ConfigHandler{
		cfg:   cfg,
		store: store,
	}
}

type configView struct {
	EmbeddingProvider  string `json:"embedding_provider"`
	EmbeddingModel     string `json:"embedding_model"`
	CompletionProvider string `json:"completion_provider"`
	CompletionModel    string `json:"completion_model"`
	StoreBackend       string `json:"store_backend"`
	ChunkSize          int    `json:"chunk_size"`
	ChunkOverlap       int    `json:"chunk_overlap"`
	ContextK           int    `json:"context_k"`
	ChatK              int    `json:"chat_k"`
	Chunks             int    `json:"chunks"`
}

func (h *ConfigHandler) HandleGetConfig(c *fiber.Ctx) error {
	n, err := h.store.Count(c.UserContext())
	if err != nil {
		return err
	}

	return c.JSON(configView{
		EmbeddingProvider:  h.cfg.Embedding.Provider,
		EmbeddingModel:     h.cfg.Embedding.Model,
		CompletionProvider: h.cfg.Completion.Provider,
		CompletionModel:    h.cfg.Completion.Model,
		StoreBackend:       h.cfg.Store.Backend,
		ChunkSize:          h.cfg.Chunking.ChunkSize,
		ChunkOverlap:       h.cfg.Chunking.ChunkOverlap,
		ContextK:           h.cfg.Retrieval.ContextK,
		ChatK:              h.cfg.Retrieval.ChatK,
		Chunks:             n,
	})
}
