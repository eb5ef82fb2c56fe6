package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-rag/config"
	"portfolio-rag/model"
	"portfolio-rag/types"
)

type fakeStream struct {
	ctx       context.Context
	fragments []string
	tailErr   error
	block     bool
	closed    atomic.Bool
}

func (s *fakeStream) Next() (string, error) {
	if len(s.fragments) > 0 {
		f := s.fragments[0]
		s.fragments = s.fragments[1:]
		return f, nil
	}
	if s.block {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if s.tailErr != nil {
		return "", s.tailErr
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeCompleter struct {
	answer    string
	fragments []string
	tailErr   error
	block     bool
	startErr  error

	lastPrompt model.Prompt
	stream     *fakeStream
}

func (f *fakeCompleter) Complete(_ context.Context, p model.Prompt) (string, error) {
	f.lastPrompt = p
	return f.answer, f.startErr
}

func (f *fakeCompleter) Stream(ctx context.Context, p model.Prompt) (model.FragmentStream, error) {
	f.lastPrompt = p
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.stream = &fakeStream{ctx: ctx, fragments: f.fragments, tailErr: f.tailErr, block: f.block}
	return f.stream, nil
}

func (f *fakeCompleter) Name() string { return "fake" }

type cutBudget struct{}

func (cutBudget) Truncate(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}

func testConfig() config.GenerationConfig {
	cfg := config.Default().Generation
	cfg.StreamTimeout = 100 * time.Millisecond
	return cfg
}

func collect(seq func(func(types.StreamEvent) bool)) []types.StreamEvent {
	var events []types.StreamEvent
	for e := range seq {
		events = append(events, e)
	}
	return events
}

func TestAnswerStream_ForwardsFragmentsInOrder(t *testing.T) {
	c := &fakeCompleter{fragments: []string{"Hel", "lo", "!"}}
	a := New(c, testConfig(), WithTokenBudget(cutBudget{}))

	seq, err := a.AnswerStream(context.Background(), "Greet me", "greeting: hello")
	require.NoError(t, err)

	events := collect(seq)
	require.Len(t, events, 3)
	var sb strings.Builder
	for i, e := range events {
		assert.False(t, e.IsError())
		assert.Equal(t, []string{"Hel", "lo", "!"}[i], e.Text)
		sb.WriteString(e.InBand())
	}
	assert.Equal(t, "Hello!", sb.String())
	assert.True(t, c.stream.closed.Load())

	assert.Empty(t, collect(seq), "a consumed stream yields nothing")
}

func TestAnswerStream_StartFailure(t *testing.T) {
	c := &fakeCompleter{startErr: errors.New("connection refused")}
	a := New(c, testConfig(), WithTokenBudget(cutBudget{}))

	_, err := a.AnswerStream(context.Background(), "q", "ctx")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindGeneration))
}

func TestAnswerStream_UpstreamFailureBecomesTrailingEvent(t *testing.T) {
	c := &fakeCompleter{fragments: []string{"partial"}, tailErr: errors.New("connection reset")}
	a := New(c, testConfig(), WithTokenBudget(cutBudget{}))

	seq, err := a.AnswerStream(context.Background(), "q", "ctx")
	require.NoError(t, err)

	events := collect(seq)
	require.Len(t, events, 2)
	assert.Equal(t, "partial", events[0].Text)
	assert.True(t, events[1].IsError())
	assert.Equal(t, types.StreamUpstream, events[1].ErrKind)
	assert.Contains(t, events[1].InBand(), "[error: upstream]")
}

func TestAnswerStream_IdleTimeout(t *testing.T) {
	c := &fakeCompleter{fragments: []string{"slow"}, block: true}
	a := New(c, testConfig(), WithTokenBudget(cutBudget{}))

	seq, err := a.AnswerStream(context.Background(), "q", "ctx")
	require.NoError(t, err)

	start := time.Now()
	events := collect(seq)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, events, 2)
	assert.Equal(t, types.StreamTimeout, events[1].ErrKind)
}

func TestAnswerStream_CallerCancel(t *testing.T) {
	c := &fakeCompleter{block: true}
	cfg := testConfig()
	cfg.StreamTimeout = time.Minute
	a := New(c, cfg, WithTokenBudget(cutBudget{}))

	ctx, cancel := context.WithCancel(context.Background())
	seq, err := a.AnswerStream(ctx, "q", "ctx")
	require.NoError(t, err)

	time.AfterFunc(50*time.Millisecond, cancel)
	events := collect(seq)
	require.Len(t, events, 1)
	assert.Equal(t, types.StreamCanceled, events[0].ErrKind)
}

func TestAnswerStream_EarlyStopReleasesStream(t *testing.T) {
	c := &fakeCompleter{fragments: []string{"a", "b", "c"}}
	a := New(c, testConfig(), WithTokenBudget(cutBudget{}))

	seq, err := a.AnswerStream(context.Background(), "q", "ctx")
	require.NoError(t, err)

	for range seq {
		break
	}
	assert.True(t, c.stream.closed.Load())
}

func TestAnswerStream_UnrangedStreamIsClosedOnTimeout(t *testing.T) {
	c := &fakeCompleter{fragments: []string{"never read"}}
	a := New(c, testConfig(), WithTokenBudget(cutBudget{}))

	seq, err := a.AnswerStream(context.Background(), "q", "ctx")
	require.NoError(t, err)

	require.Eventually(t, c.stream.closed.Load, 2*time.Second, 10*time.Millisecond)

	events := collect(seq)
	require.Len(t, events, 1)
	assert.Equal(t, types.StreamTimeout, events[0].ErrKind)
	assert.Empty(t, collect(seq), "a sequence is consumed once")
}

func TestAnswer(t *testing.T) {
	c := &fakeCompleter{answer: "  Go and Python.  "}
	a := New(c, testConfig(), WithTokenBudget(cutBudget{}))

	out, err := a.Answer(context.Background(), "Which languages?", "Skills: Go, Python")
	require.NoError(t, err)
	assert.Equal(t, "Go and Python.", out)

	c.startErr = errors.New("boom")
	_, err = a.Answer(context.Background(), "q", "c")
	assert.True(t, types.IsKind(err, types.KindGeneration))
}

func TestPrompt(t *testing.T) {
	c := &fakeCompleter{answer: "x"}
	cfg := testConfig()
	cfg.MaxContextTokens = 3
	a := New(c, cfg, WithTokenBudget(cutBudget{}))

	_, err := a.Answer(context.Background(), " Who? ", "one two three four five")
	require.NoError(t, err)
	assert.Contains(t, c.lastPrompt.System, cfg.FallbackPhrase)
	assert.Contains(t, c.lastPrompt.User, "one two three\n")
	assert.NotContains(t, c.lastPrompt.User, "four")
	assert.Contains(t, c.lastPrompt.User, "Question:\nWho?\n")

	_, err = a.Answer(context.Background(), "Who?", "   ")
	require.NoError(t, err)
	assert.Contains(t, c.lastPrompt.User, "Context:\nempty\n")
	assert.Equal(t, cfg.FallbackPhrase, a.FallbackPhrase())
}
