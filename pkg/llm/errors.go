package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrStreamInFlight is returned when Stream is called on an adapter that is still streaming.
	ErrStreamInFlight = errors.New("llm: stream already in flight for this adapter")
	// ErrMalformedStream marks a vendor response that cannot be parsed at all.
	ErrMalformedStream = errors.New("llm: malformed stream")
	// ErrUnknownProvider is returned by the registry for unregistered vendor names.
	ErrUnknownProvider = errors.New("llm: unknown provider")
	// ErrMissingAPIKey is returned when a vendor that needs a key has none.
	ErrMissingAPIKey = errors.New("llm: missing API key")
)

// IsHardFailure reports whether err means the vendor response was
// structurally unusable, as opposed to a reported vendor or network error.
func IsHardFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedStream) || errors.Is(err, ErrStreamInFlight) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}

// malformed wraps a decode failure so IsHardFailure recognizes it.
func malformed(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedStream, provider, err)
}

func errInvalidChunk(chunk string) error {
	const preview = 120
	if len(chunk) > preview {
		chunk = chunk[:preview] + "..."
	}
	return fmt.Errorf("invalid JSON chunk %q", chunk)
}

// describe renders a vendor error for an error event.
func describe(provider string, err error) string {
	if errors.Is(err, context.Canceled) {
		return fmt.Sprintf("%s: request cancelled", provider)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s: request timed out", provider)
	}
	return fmt.Sprintf("%s: %v", provider, err)
}
