package types

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the store dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMissingCredentials is returned when a cloud provider is selected without an API key.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrInvalidInput indicates malformed input such as an empty query or k < 1.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStreamTimeout is the cancellation cause of a stalled completion stream.
	ErrStreamTimeout = errors.New("completion stream timed out")
)

// ErrorKind classifies failures of the RAG pipeline.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindIngestion     ErrorKind = "ingestion"
	KindRetrieval     ErrorKind = "retrieval"
	KindGeneration    ErrorKind = "generation"
)

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	// keep the innermost classification
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// ConfigurationError marks a fatal setup problem: dimension mismatch, missing
// credentials, unreadable document source.
func ConfigurationError(op string, err error) error {
	return newError(KindConfiguration, op, err)
}

// IngestionError marks an aborted ingestion run.
func IngestionError(op string, err error) error {
	return newError(KindIngestion, op, err)
}

// RetrievalError marks a failed similarity search.
func RetrievalError(op string, err error) error {
	return newError(KindRetrieval, op, err)
}

// GenerationError marks a completion failure before streaming started.
func GenerationError(op string, err error) error {
	return newError(KindGeneration, op, err)
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
