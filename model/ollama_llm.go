package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

var _ Completer = (*OllamaCompleter)(nil)

// OllamaCompleter generates answers with Ollama's /api/generate endpoint.
type OllamaCompleter struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func NewOllamaCompleter(baseURL, model string) *OllamaCompleter {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &OllamaCompleter{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// no client timeout, streams are bounded by the caller's context
		client: &http.Client{},
	}
}

func (c *OllamaCompleter) Name() string {
	return "ollama:" + c.model
}

func (c *OllamaCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	resp, err := c.post(ctx, p, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if genResp.Error != "" {
		return "", fmt.Errorf("ollama: %s", genResp.Error)
	}
	return genResp.Response, nil
}

func (c *OllamaCompleter) Stream(ctx context.Context, p Prompt) (FragmentStream, error) {
	resp, err := c.post(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return &ollamaStream{body: resp.Body, decoder: json.NewDecoder(resp.Body)}, nil
}

func (c *OllamaCompleter) post(ctx context.Context, p Prompt, stream bool) (*http.Response, error) {
	reqBody, err := json.Marshal(ollamaGenerateRequest{
		Model:  c.model,
		System: p.System,
		Prompt: p.User,
		Stream: stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// ollamaStream decodes one NDJSON object per Next call.
type ollamaStream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	done    bool
	once    sync.Once
}

func (s *ollamaStream) Next() (string, error) {
	for !s.done {
		var chunk ollamaGenerateResponse
		if err := s.decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("decode response: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama: %s", chunk.Error)
		}
		s.done = chunk.Done
		if chunk.Response != "" {
			return chunk.Response, nil
		}
	}
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}
