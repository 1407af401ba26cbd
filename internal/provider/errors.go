package provider

import (
	"errors"
	"fmt"
)

// ErrMissingCredential indicates a request lacked its required credential.
// Detected before any outbound network call.
var ErrMissingCredential = errors.New("credential is required")

// ErrInvalidInput indicates a malformed or empty conversation payload.
// Detected before any outbound network call.
var ErrInvalidInput = errors.New("invalid input")

// ErrMalformedResponse indicates a success HTTP status with an unparseable
// response envelope.
var ErrMalformedResponse = errors.New("malformed upstream response")

// ErrEmptyResponse indicates an upstream stream that terminated before any
// text fragment arrived.
var ErrEmptyResponse = errors.New("upstream stream ended without content")

// UpstreamError reports a non-success HTTP status from a backend, carrying
// the upstream status code and any embedded error message.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream error status %d", e.Status)
	}
	return fmt.Sprintf("upstream error status %d: %s", e.Status, e.Message)
}
