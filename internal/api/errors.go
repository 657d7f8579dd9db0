package api

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks requests refused before any model is bound.
var ErrInvalidRequest = errors.New("invalid_request")

// Request error codes returned in the error envelope.
const (
	codeMalformedBody = "malformed_body"
	codeUnknownMode   = "unknown_mode"
	codeModeNotServed = "mode_not_served"
	codeUnknownOutput = "unknown_output"
	codeUnknownOp     = "unknown_operation"
)

// requestError names the request field at fault.
type requestError struct {
	param string
	code  string
	msg   string
}

func (e *requestError) Error() string {
	if e.param == "" {
		return e.msg
	}
	return e.param + ": " + e.msg
}

func (e *requestError) Unwrap() error {
	return ErrInvalidRequest
}

func newRequestError(param, code, format string, args ...any) error {
	return &requestError{param: param, code: code, msg: fmt.Sprintf(format, args...)}
}
