package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRequestFailed = errors.New("API request failed")
	ErrStreamError   = errors.New("stream error")
	// ErrTruncated means the model stopped at its output token limit, so the
	// returned text is incomplete.
	ErrTruncated = errors.New("model output truncated at token limit")
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-agnostic chat completion request.
type Request struct {
	Model           string
	Temperature     float64
	ReasoningEffort string
	MaxTokens       int
	Messages        []Message
}

// Streamer streams one completion, calling onChunk for every text delta and
// returning the accumulated text. Cancelling ctx aborts the request.
type Streamer interface {
	StreamCompletion(ctx context.Context, req Request, onChunk func(chunk string)) (string, error)
	Provider() string
}

// StatusError is a non-2xx response from the model endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d - %s", ErrRequestFailed, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrRequestFailed }

// IsRetryable reports whether a failed request may succeed when repeated.
// Cancellation and client errors that no retry can fix are not retryable;
// network failures, rate limits and server errors are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTruncated) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusUnprocessableEntity:
			return false
		}
	}
	return true
}
