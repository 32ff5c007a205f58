package types

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownDatatype   = errors.New("unknown datatype")
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrMissingCredential = errors.New("missing credential: set jwt_token, api_key or credential")
	ErrInvalidSince      = errors.New("invalid since timestamp")
	ErrMalformedRow      = errors.New("upstream row is not a JSON object")
	ErrNoAccounts        = errors.New("no eligible accounts found")
	ErrMissingAccount    = errors.New("missing account: provider has no account lookup, set enrollment_number, account or license")
)

// TransientError is an upstream failure worth retrying: a non-2xx status, a
// body that is not the expected envelope, or a network failure.
type TransientError struct {
	Endpoint   string
	StatusCode int
	Reason     string
	Err        error
}

func (e *TransientError) Error() string {
	msg := fmt.Sprintf("transient upstream error from %s", e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// TerminalFetchError is raised once a fetch unit gave up: retries were
// exhausted or the failure was not retryable.
type TerminalFetchError struct {
	Unit     string
	Endpoint string
	Attempts int
	Err      error
}

func (e *TerminalFetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s at %s after %d attempt(s): %v", e.Unit, e.Endpoint, e.Attempts, e.Err)
}

func (e *TerminalFetchError) Unwrap() error {
	return e.Err
}

// StreamError reports a failure that happened after the output array was
// opened. The array has been closed, so the output is valid JSON holding the
// first Emitted entities only.
type StreamError struct {
	Emitted int
	Err     error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream aborted after %d entit(ies): %v", e.Emitted, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
