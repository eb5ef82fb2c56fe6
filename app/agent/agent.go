// Package agent turns a query and its retrieved context into an answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"portfolio-rag/config"
	"portfolio-rag/model"
	"portfolio-rag/types"
)

// emptyContext is sent in place of a missing context so the model takes the
// fallback branch of the instruction.
const emptyContext = "empty"

const systemTemplate = `You are an assistant that answers questions strictly from the provided context.
Use only facts stated in the context. Do not use prior knowledge and do not guess.
If the context is empty or does not contain the answer, reply with exactly: %s
Answer clearly and to the point, without introductions like 'Of course!' or 'Here is the answer:'.`

type Agent struct {
	completer        model.Completer
	fallback         string
	budget           TokenBudget
	maxContextTokens int
	timeout          time.Duration
	streamTimeout    time.Duration
	logger           *slog.Logger
}

type Option func(*Agent)

func WithTokenBudget(b TokenBudget) Option {
	return func(a *Agent) { a.budget = b }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

func New(completer model.Completer, cfg config.GenerationConfig, opts ...Option) *Agent {
	a := &Agent{
		completer:        completer,
		fallback:         cfg.FallbackPhrase,
		maxContextTokens: cfg.MaxContextTokens,
		timeout:          cfg.Timeout,
		streamTimeout:    cfg.StreamTimeout,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.budget == nil {
		a.budget = newTiktokenBudget()
	}
	if a.timeout <= 0 {
		a.timeout = 2 * time.Minute
	}
	if a.streamTimeout <= 0 {
		a.streamTimeout = 30 * time.Second
	}
	return a
}

// FallbackPhrase is the reply the model is told to give when the context has no answer.
func (a *Agent) FallbackPhrase() string {
	return a.fallback
}

func (a *Agent) prompt(query, contextText string) model.Prompt {
	contextText = strings.TrimSpace(contextText)
	if a.maxContextTokens > 0 {
		contextText = a.budget.Truncate(contextText, a.maxContextTokens)
	}
	if contextText == "" {
		contextText = emptyContext
	}

	return model.Prompt{
		System: fmt.Sprintf(systemTemplate, a.fallback),
		User: fmt.Sprintf(`Context:
%s

Question:
%s

Answer:`, contextText, strings.TrimSpace(query)),
	}
}

// Answer generates the complete answer in one call.
func (a *Agent) Answer(ctx context.Context, query, contextText string) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.completer.Complete(ctx, a.prompt(query, contextText))
	if err != nil {
		return "", types.GenerationError("generate.answer", err)
	}

	a.logger.Debug("answer generated", "model", a.completer.Name(), "took", time.Since(start))
	return strings.TrimSpace(out), nil
}

// Stream states. A sequence is ranged at most once; an unranged stream is
// released by the idle timer.
const (
	streamPending int32 = iota
	streamRanged
	streamReleased
)

// AnswerStream starts a streamed answer. Failures to start are returned as a
// generation error. Once started, fragments are yielded in model order and a
// failure becomes a single trailing error event. The sequence can be consumed
// once; the upstream request is released when the range loop ends. A sequence
// that is not ranged within the stream timeout is closed, and ranging it later
// yields only the timeout event.
func (a *Agent) AnswerStream(ctx context.Context, query, contextText string) (iter.Seq[types.StreamEvent], error) {
	sctx, cancel := context.WithCancelCause(ctx)

	var (
		state atomic.Int32
		held  atomic.Pointer[model.FragmentStream]
	)
	release := func() {
		if p := held.Load(); p != nil && state.CompareAndSwap(streamPending, streamReleased) {
			(*p).Close()
		}
	}
	idle := time.AfterFunc(a.streamTimeout, func() {
		cancel(types.ErrStreamTimeout)
		release()
	})

	stream, err := a.completer.Stream(sctx, a.prompt(query, contextText))
	if err != nil {
		idle.Stop()
		cause := context.Cause(sctx)
		cancel(nil)
		if errors.Is(cause, types.ErrStreamTimeout) {
			err = fmt.Errorf("%w: %w", types.ErrStreamTimeout, err)
		}
		return nil, types.GenerationError("generate.stream", err)
	}
	held.Store(&stream)
	if sctx.Err() != nil {
		// the timer fired while connecting
		release()
	}

	return func(yield func(types.StreamEvent) bool) {
		if !state.CompareAndSwap(streamPending, streamRanged) {
			if state.CompareAndSwap(streamReleased, streamRanged) {
				defer cancel(nil)
				yield(a.streamFailure(sctx, context.Cause(sctx)))
			}
			return
		}
		defer cancel(nil)
		defer stream.Close()
		defer idle.Stop()

		fragments := 0
		for {
			idle.Reset(a.streamTimeout)
			text, err := stream.Next()
			idle.Stop()

			if errors.Is(err, io.EOF) {
				a.logger.Debug("answer streamed", "model", a.completer.Name(), "fragments", fragments)
				return
			}
			if err != nil {
				event := a.streamFailure(sctx, err)
				a.logger.Warn("answer stream ended early", "kind", event.ErrKind, "fragments", fragments, "error", err)
				yield(event)
				return
			}
			if text == "" {
				continue
			}
			fragments++
			if !yield(types.Fragment(text)) {
				return
			}
		}
	}, nil
}

func (a *Agent) streamFailure(ctx context.Context, err error) types.StreamEvent {
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, types.ErrStreamTimeout):
		return types.StreamError(types.StreamTimeout, fmt.Sprintf("no output from the model for %s", a.streamTimeout))
	case cause != nil:
		return types.StreamError(types.StreamCanceled, "request canceled")
	default:
		return types.StreamError(types.StreamUpstream, err.Error())
	}
}
