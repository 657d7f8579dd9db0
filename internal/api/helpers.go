package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/nnaccel/internal/engine"
	"github.com/samcharles93/nnaccel/internal/status"
)

func writeJSON(c *echo.Context, code int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.JSONBlob(code, b)
}

// writeRequestError reports a refused request, naming the field at fault
// when the error carries one.
func writeRequestError(c *echo.Context, err error) error {
	var re *requestError
	if errors.As(err, &re) {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", re.msg, re.param, re.code)
	}
	return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, code int, errType, msg, param, errCode string) error {
	return writeJSON(c, code, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    errCode,
			Param:   param,
		},
	})
}

// writeModelError reports a model that failed to bind, configure or run. The
// flattened issues ride along so clients see every failing operand.
func writeModelError(c *echo.Context, err error) error {
	if errors.Is(err, ErrInvalidRequest) {
		return writeRequestError(c, err)
	}
	return writeJSON(c, http.StatusUnprocessableEntity, map[string]any{
		"error": ResponseError{
			Message: err.Error(),
			Type:    "invalid_model_error",
			Code:    status.CodeOf(err).String(),
		},
		"issues": engine.Issues(err),
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, newRequestError("body", codeMalformedBody, "%v", err)
	}
	return out, nil
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
