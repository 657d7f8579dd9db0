package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/engine"
	"github.com/samcharles93/nnaccel/internal/logger"
	"github.com/samcharles93/nnaccel/internal/model"
	"github.com/samcharles93/nnaccel/internal/status"
	"github.com/samcharles93/nnaccel/internal/transform"
)

// handleValidate binds and configures every layer, reporting all failures
// unless describe_all is false. An invalid model is still a 200.
func (s *Server) handleValidate(c *echo.Context) error {
	req, err := decodeJSON[ValidateRequest](c.Request().Body)
	if err != nil {
		return writeRequestError(c, err)
	}
	describeAll := req.DescribeAll == nil || *req.DescribeAll

	resp := ValidateResponse{Object: "validation", Model: req.Model.Name, Issues: []engine.Issue{}}
	m, err := model.New(req.Model)
	if err != nil {
		resp.Issues = engine.Issues(err)
		return writeJSON(c, http.StatusOK, resp)
	}
	defer m.Close()

	plan, err := engine.Build(transform.Config{Kernels: s.kernels, DescribeAll: describeAll}, m.Operations())
	if err != nil {
		resp.Issues = engine.Issues(err)
		return writeJSON(c, http.StatusOK, resp)
	}
	resp.Valid = true
	resp.Layers = plan.Len()
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleRun(c *echo.Context) error {
	req, err := decodeJSON[RunRequest](c.Request().Body)
	if err != nil {
		return writeRequestError(c, err)
	}
	opts, label, err := runOptions(req.Mode)
	if err != nil {
		return writeRequestError(c, err)
	}
	ctx := s.context(c)
	log := logger.Component(ctx, "api")

	m, err := model.New(req.Model)
	if err != nil {
		return writeModelError(c, err)
	}
	defer m.Close()
	if err := checkOutputs(m, req.Outputs); err != nil {
		return writeRequestError(c, err)
	}

	plan, err := engine.Build(transform.Config{Kernels: s.kernels}, m.Operations())
	if err != nil {
		return writeModelError(c, err)
	}
	eng, err := engine.New(ctx, plan, nil, nil)
	if err != nil {
		return writeModelError(c, err)
	}
	defer eng.Close()

	results, err := eng.Run(ctx, opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return writeError(c, http.StatusServiceUnavailable, "server_error", err.Error(), "", "cancelled")
		}
		log.Warn("run failed", "model", m.Name(), "error", err)
		return writeModelError(c, err)
	}

	resp := RunResponse{
		ID:        newRunID(),
		Object:    "run",
		CreatedAt: s.clock().Unix(),
		Model:     m.Name(),
		Mode:      label,
		Status:    runStatus(results).String(),
		Results:   results,
		Buffers:   collectBuffers(m, req.Outputs),
	}
	if req.Store == nil || *req.Store {
		s.store.Save(resp)
	}
	log.Debug("run completed", "id", resp.ID, "model", resp.Model, "layers", len(results), "status", resp.Status)
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleGetRun(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "run not found")
	}
	run, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "run not found")
	}
	return writeJSON(c, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	if id == "" || !s.store.Delete(id) {
		return writeNotFound(c, "run not found")
	}
	return writeJSON(c, http.StatusOK, DeleteRunResponse{
		ID:      id,
		Object:  "run",
		Deleted: true,
	})
}

// runOptions maps a request mode to engine options. Runs served over HTTP
// never touch the device, so only software modes are accepted.
func runOptions(name string) (engine.RunOptions, string, error) {
	mode, ok, err := accel.ParseMode(name)
	if err != nil {
		return engine.RunOptions{}, "", newRequestError("mode", codeUnknownMode, "%v", err)
	}
	if !ok {
		return engine.RunOptions{}, accel.Auto, nil
	}
	if !mode.IsSoftware() {
		return engine.RunOptions{}, "", newRequestError("mode", codeModeNotServed, "%s needs the accelerator; use a software mode", mode)
	}
	return engine.RunOptions{Mode: mode, Force: true}, mode.String(), nil
}

// runStatus is the worst layer status: a warning wins over success.
func runStatus(results []engine.Result) status.Code {
	for _, r := range results {
		if r.Code() != status.Success {
			return r.Code()
		}
	}
	return status.Success
}

func checkOutputs(m *model.Model, names []string) error {
	for _, name := range names {
		if _, ok := m.Buffer(name); !ok {
			return newRequestError("outputs", codeUnknownOutput, "unknown buffer %q", name)
		}
	}
	return nil
}

func collectBuffers(m *model.Model, names []string) map[string][]int64 {
	out := make(map[string][]int64)
	if len(names) == 0 {
		for _, b := range m.Buffers() {
			out[b.Name] = b.Values()
		}
		return out
	}
	for _, name := range names {
		if b, ok := m.Buffer(name); ok {
			out[name] = b.Values()
		}
	}
	return out
}
