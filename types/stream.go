package types

import "fmt"

// StreamEventKind tags the events of an answer stream.
type StreamEventKind int

const (
	EventFragment StreamEventKind = iota
	EventError
)

// StreamErrorKind describes why a stream ended early.
type StreamErrorKind string

const (
	StreamTimeout  StreamErrorKind = "timeout"
	StreamCanceled StreamErrorKind = "canceled"
	StreamUpstream StreamErrorKind = "upstream"
)

// StreamEvent is either a text fragment or a terminal error.
type StreamEvent struct {
	Kind    StreamEventKind
	Text    string
	ErrKind StreamErrorKind
	Message string
}

func Fragment(text string) StreamEvent {
	return StreamEvent{Kind: EventFragment, Text: text}
}

func StreamError(kind StreamErrorKind, message string) StreamEvent {
	return StreamEvent{Kind: EventError, ErrKind: kind, Message: message}
}

// IsError reports whether the event terminates the stream with a failure.
func (e StreamEvent) IsError() bool {
	return e.Kind == EventError
}

// InBand renders the event the way it is written to a plain-text response body.
// Error events become a trailing marker line so readers can tell the answer is incomplete.
func (e StreamEvent) InBand() string {
	if e.Kind == EventError {
		return fmt.Sprintf("\n\n[error: %s] %s", e.ErrKind, e.Message)
	}
	return e.Text
}
