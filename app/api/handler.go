package api

import (
	"bufio"
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"portfolio-rag/types"
)

// Grounder retrieves context for a query.
type Grounder interface {
	Ground(ctx context.Context, query string, k int) (types.GroundedQuery, []types.RetrievalResult, error)
}

// Answerer generates answers from a query and its context.
type Answerer interface {
	Answer(ctx context.Context, query, contextText string) (string, error)
	AnswerStream(ctx context.Context, query, contextText string) (iter.Seq[types.StreamEvent], error)
}

type RequestHandler struct {
	grounder Grounder
	answerer Answerer
	contextK int
	chatK    int
	logger   *slog.Logger
}

func NewRequestHandler(grounder Grounder, answerer Answerer, contextK, chatK int) *RequestHandler {
	return &RequestHandler{
		grounder: grounder,
		answerer: answerer,
		contextK: contextK,
		chatK:    chatK,
		logger:   slog.Default(),
	}
}

func parseQuery(c *fiber.Ctx) (types.QueryParams, error) {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return params, ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return params, NewValidationError(errors)
	}
	return params, nil
}

// HandleRetrieveContext returns the raw chunk texts for a query.
func (h *RequestHandler) HandleRetrieveContext(c *fiber.Ctx) error {
	params, err := parseQuery(c)
	if err != nil {
		return err
	}
	h.logger.Info("received query", "route", "retrieve-context", "query", params.Query)

	_, results, err := h.grounder.Ground(c.UserContext(), params.Query, h.contextK)
	if err != nil {
		return err
	}

	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.ChunkText
	}
	return c.JSON(types.ContextResponse{Context: texts})
}

// HandleChat streams the answer as plain text, one flush per fragment. A
// failure after the first byte is reported in band as a trailing line.
func (h *RequestHandler) HandleChat(c *fiber.Ctx) error {
	params, err := parseQuery(c)
	if err != nil {
		return err
	}
	h.logger.Info("received query", "route", "chat", "query", params.Query)

	// the body writer runs after the handler returns, so it must not touch c
	ctx := c.UserContext()

	grounded, _, err := h.grounder.Ground(ctx, params.Query, h.chatK)
	if err != nil {
		return err
	}

	events, err := h.answerer.AnswerStream(ctx, grounded.QueryText, grounded.ContextText)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		for event := range events {
			if _, err := w.WriteString(event.InBand()); err != nil {
				logger.Debug("client went away", "error", err)
				return
			}
			if err := w.Flush(); err != nil {
				logger.Debug("client went away", "error", err)
				return
			}
		}
	})
	return nil
}

// HandleAnswer returns the full answer together with its sources.
func (h *RequestHandler) HandleAnswer(c *fiber.Ctx) error {
	params, err := parseQuery(c)
	if err != nil {
		return err
	}

	grounded, results, err := h.grounder.Ground(c.UserContext(), params.Query, h.chatK)
	if err != nil {
		return err
	}

	output, err := h.answerer.Answer(c.UserContext(), grounded.QueryText, grounded.ContextText)
	if err != nil {
		return err
	}

	sources := make([]types.Source, len(results))
	for i, res := range results {
		sources[i] = types.Source{
			SourceID:  res.SourceID,
			ChunkText: res.ChunkText,
			Score:     res.Score,
			Rank:      res.Rank,
		}
	}

	confidence := 0.0
	if len(results) > 0 {
		confidence = results[0].Score
	}

	return c.JSON(&types.SearchResponse{
		Answer:     output,
		Sources:    sources,
		Confidence: confidence,
		Timestamp:  time.Now(),
	})
}
