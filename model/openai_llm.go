package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

var _ Completer = (*OpenAICompleter)(nil)

// OpenAICompleter generates answers with the chat completions API.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

func NewOpenAICompleter(apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAICompleter {
	return &OpenAICompleter{
		client: openai.NewClient(clientOptions(apiKey, baseURL, 0, opts)...),
		model:  model,
	}
}

func (c *OpenAICompleter) Name() string {
	return "openai:" + c.model
}

func (c *OpenAICompleter) params(p Prompt) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if p.System != "" {
		messages = append(messages, openai.SystemMessage(p.System))
	}
	messages = append(messages, openai.UserMessage(p.User))
	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.params(p))
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("openai completion: no choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *OpenAICompleter) Stream(ctx context.Context, p Prompt) (FragmentStream, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(p))
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	once   sync.Once
}

func (s *openAIStream) Next() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("openai stream: %w", err)
	}
	return "", io.EOF
}

func (s *openAIStream) Close() error {
	var err error
	s.once.Do(func() { err = s.stream.Close() })
	return err
}
