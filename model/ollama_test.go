package model

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		calls++

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic", req.Model)

		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(len(req.Input[i])), 0})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "nomic", 2, time.Second)
	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "three texts with batch size 2 need two requests")
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.InDelta(t, 1.0, v[0], 1e-6, "vectors are normalised")
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not loaded"))
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "nomic", 8, time.Second)
	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[[1,0]]}`))
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "nomic", 8, time.Second)
	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestOllamaCompleter_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "be brief", req.System)

		json.NewEncoder(w).Encode(map[string]any{"response": "Hello there!", "done": true})
	}))
	defer server.Close()

	c := NewOllamaCompleter(server.URL, "llama3.2")
	out, err := c.Complete(context.Background(), Prompt{System: "be brief", User: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", out)
}

func TestOllamaCompleter_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"Hel","done":false}` + "\n"))
		w.Write([]byte(`{"response":"","done":false}` + "\n"))
		w.Write([]byte(`{"response":"lo","done":false}` + "\n"))
		w.Write([]byte(`{"response":"!","done":true}` + "\n"))
	}))
	defer server.Close()

	c := NewOllamaCompleter(server.URL, "llama3.2")
	stream, err := c.Stream(context.Background(), Prompt{User: "test"})
	require.NoError(t, err)
	defer stream.Close()

	var fragments []string
	for {
		text, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		fragments = append(fragments, text)
	}
	assert.Equal(t, []string{"Hel", "lo", "!"}, fragments)
	assert.NoError(t, stream.Close())
}

func TestOllamaCompleter_StreamTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"partial","done":false}` + "\n"))
	}))
	defer server.Close()

	stream, err := NewOllamaCompleter(server.URL, "m").Stream(context.Background(), Prompt{User: "q"})
	require.NoError(t, err)
	defer stream.Close()

	text, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "partial", text)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestOllamaCompleter_StartFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewOllamaCompleter(server.URL, "m").Stream(context.Background(), Prompt{User: "q"})
	assert.Error(t, err)
}

func TestOllamaDefaults(t *testing.T) {
	c := NewOllamaCompleter("", "m")
	assert.Equal(t, defaultOllamaURL, c.baseURL)

	e := NewOllamaEmbedder("http://host:11434/", "m", 1, 0)
	assert.Equal(t, "http://host:11434", e.baseURL)
	assert.Equal(t, "ollama:m", e.Name())
}

func TestEmbedInBatches_Limiter(t *testing.T) {
	calls := 0
	fn := func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		return make([][]float32, len(texts)), nil
	}

	limiter := newLimiter(1000)
	out, err := embedInBatches(context.Background(), []string{"a", "b", "c"}, 1, limiter, fn)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, 3, calls)

	assert.Nil(t, newLimiter(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = embedInBatches(ctx, []string{"a"}, 1, newLimiter(0.001), fn)
	assert.Error(t, err)
}
