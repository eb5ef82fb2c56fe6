package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-rag/config"
	"portfolio-rag/types"
)

type fakeGrounder struct {
	results []types.RetrievalResult
	err     error
	gotK    int
}

func (f *fakeGrounder) Ground(_ context.Context, query string, k int) (types.GroundedQuery, []types.RetrievalResult, error) {
	f.gotK = k
	if f.err != nil {
		return types.GroundedQuery{}, nil, f.err
	}
	res := f.results
	if len(res) > k {
		res = res[:k]
	}
	texts := make([]string, len(res))
	for i, r := range res {
		texts[i] = r.ChunkText
	}
	return types.GroundedQuery{QueryText: query, ContextText: strings.Join(texts, "\n\n"), RetrievedCount: len(res)}, res, nil
}

type fakeAnswerer struct {
	events   []types.StreamEvent
	answer   string
	startErr error

	gotContext string
}

func (f *fakeAnswerer) Answer(_ context.Context, _, contextText string) (string, error) {
	f.gotContext = contextText
	return f.answer, f.startErr
}

func (f *fakeAnswerer) AnswerStream(_ context.Context, _, contextText string) (iter.Seq[types.StreamEvent], error) {
	f.gotContext = contextText
	if f.startErr != nil {
		return nil, f.startErr
	}
	return func(yield func(types.StreamEvent) bool) {
		for _, e := range f.events {
			if !yield(e) {
				return
			}
		}
	}, nil
}

func chunks(n int) []types.RetrievalResult {
	out := make([]types.RetrievalResult, n)
	for i := range out {
		out[i] = types.RetrievalResult{ChunkText: string(rune('a' + i)), SourceID: "cv.md", Score: 1 - float64(i)/10, Rank: i}
	}
	return out
}

func newTestApp(g Grounder, a Answerer) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	h := NewRequestHandler(g, a, 10, 5)
	app.Get("/", NewCheckHandler().HandleRoot)
	app.Post("/retrieve-context", h.HandleRetrieveContext)
	app.Post("/chat", h.HandleChat)
	app.Post("/api/v1/answer", h.HandleAnswer)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHandleRoot(t *testing.T) {
	app := newTestApp(&fakeGrounder{}, &fakeAnswerer{})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Portfolio RAG Backend is running."}`, readBody(t, resp))
}

func TestHandleRetrieveContext(t *testing.T) {
	g := &fakeGrounder{results: chunks(12)}
	app := newTestApp(g, &fakeAnswerer{})

	resp := postJSON(t, app, "/retrieve-context", `{"query":"What does she build?"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body types.ContextResponse
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &body))
	assert.Equal(t, 10, g.gotK)
	assert.Len(t, body.Context, 10)
	assert.Equal(t, "a", body.Context[0])
}

func TestHandleRetrieveContext_Underfilled(t *testing.T) {
	app := newTestApp(&fakeGrounder{results: chunks(3)}, &fakeAnswerer{})

	resp := postJSON(t, app, "/retrieve-context", `{"query":"anything"}`)
	var body types.ContextResponse
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &body))
	assert.Len(t, body.Context, 3)
}

func TestHandleRetrieveContext_EmptyStore(t *testing.T) {
	app := newTestApp(&fakeGrounder{}, &fakeAnswerer{})

	resp := postJSON(t, app, "/retrieve-context", `{"query":"anything"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"context":[]}`, readBody(t, resp))
}

func TestHandlers_BadInput(t *testing.T) {
	app := newTestApp(&fakeGrounder{}, &fakeAnswerer{})

	resp := postJSON(t, app, "/retrieve-context", `{"query":`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, app, "/chat", `{"query":"   "}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Query")
}

func TestHandleChat_Streams(t *testing.T) {
	g := &fakeGrounder{results: chunks(8)}
	a := &fakeAnswerer{events: []types.StreamEvent{
		types.Fragment("Hel"), types.Fragment("lo"), types.Fragment("!"),
	}}
	app := newTestApp(g, a)

	resp := postJSON(t, app, "/chat", `{"query":"Say hi"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	assert.Equal(t, "Hello!", readBody(t, resp))
	assert.Equal(t, 5, g.gotK)
	assert.Equal(t, "a\n\nb\n\nc\n\nd\n\ne", a.gotContext)
}

func TestHandleChat_InBandError(t *testing.T) {
	a := &fakeAnswerer{events: []types.StreamEvent{
		types.Fragment("Partial"),
		types.StreamError(types.StreamTimeout, "no output"),
	}}
	app := newTestApp(&fakeGrounder{results: chunks(1)}, a)

	resp := postJSON(t, app, "/chat", `{"query":"q"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Partial\n\n[error: timeout] no output", readBody(t, resp))
}

func TestHandleChat_ErrorsBeforeStreaming(t *testing.T) {
	t.Run("generation", func(t *testing.T) {
		a := &fakeAnswerer{startErr: types.GenerationError("generate.stream", errors.New("connection refused"))}
		resp := postJSON(t, newTestApp(&fakeGrounder{}, a), "/chat", `{"query":"q"}`)
		assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	})

	t.Run("retrieval", func(t *testing.T) {
		g := &fakeGrounder{err: types.RetrievalError("retrieve.search", errors.New("db down"))}
		resp := postJSON(t, newTestApp(g, &fakeAnswerer{}), "/chat", `{"query":"q"}`)
		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("configuration", func(t *testing.T) {
		g := &fakeGrounder{err: types.ConfigurationError("store.search", types.ErrDimensionMismatch)}
		resp := postJSON(t, newTestApp(g, &fakeAnswerer{}), "/retrieve-context", `{"query":"q"}`)
		assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), "dimension mismatch")
	})
}

func TestHandleAnswer(t *testing.T) {
	a := &fakeAnswerer{answer: "She builds RAG systems."}
	app := newTestApp(&fakeGrounder{results: chunks(2)}, a)

	resp := postJSON(t, app, "/api/v1/answer", `{"query":"What does she build?"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body types.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &body))
	assert.Equal(t, "She builds RAG systems.", body.Answer)
	require.Len(t, body.Sources, 2)
	assert.Equal(t, 1, body.Sources[1].Rank)
	assert.InDelta(t, 1.0, body.Confidence, 1e-9)
	assert.False(t, body.Timestamp.IsZero())
}

type countStore struct{ n int }

func (c countStore) Count(context.Context) (int, error) { return c.n, nil }

func TestHandleGetConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.APIKey = "secret"

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/api/v1/config", NewConfigHandler(cfg, countStore{n: 42}).HandleGetConfig)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/config", nil), -1)
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Contains(t, body, `"chunks":42`)
	assert.Contains(t, body, `"chunk_size":750`)
	assert.NotContains(t, body, "secret")
}

func multipartUpload(t *testing.T, name, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHandleUpload(t *testing.T) {
	dir := t.TempDir()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Post("/api/v1/documents", NewFileHandler(dir).HandleUpload)

	resp, err := app.Test(multipartUpload(t, "about.md", "# About"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	data, err := os.ReadFile(filepath.Join(dir, "about.md"))
	require.NoError(t, err)
	assert.Equal(t, "# About", string(data))

	resp, err = app.Test(multipartUpload(t, "photo.png", "png"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}
