// Package api serves the runtime over HTTP: kernel and capability listings,
// model validation and host-side runs.
package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/nnaccel/internal/accel"
	"github.com/samcharles93/nnaccel/internal/capability"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/logger"
	"github.com/samcharles93/nnaccel/internal/version"
)

type Server struct {
	store   *RunStore
	kernels *kernel.Set
	log     logger.Logger
	clock   func() time.Time
}

// NewServer builds a server. A nil store gets a fresh one; nil kernels use
// kernel.Default.
func NewServer(store *RunStore, kernels *kernel.Set, log logger.Logger) *Server {
	if store == nil {
		store = NewRunStore()
	}
	if kernels == nil {
		kernels = kernel.Default()
	}
	return &Server{
		store:   store,
		kernels: kernels,
		log:     log,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/version", s.handleVersion)
	e.GET("/v1/modes", s.handleModes)
	e.GET("/v1/kernels", s.handleKernels)
	e.GET("/v1/capabilities", s.handleCapabilities)

	e.POST("/v1/validate", s.handleValidate)
	e.POST("/v1/run", s.handleRun)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.DELETE("/v1/runs/:id", s.handleDeleteRun)
}

// context attaches the server logger to the request context.
func (s *Server) context(c *echo.Context) context.Context {
	ctx := c.Request().Context()
	if s.log != nil {
		ctx = logger.WithContext(ctx, s.log)
	}
	return ctx
}

func (s *Server) handleVersion(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, version.Resolve())
}

func (s *Server) handleModes(c *echo.Context) error {
	f := accel.Detected()
	return writeJSON(c, http.StatusOK, ModesResponse{
		Object:     "modes",
		Detected:   modeNames(f.Available()),
		Preference: modeNames(accel.Preference(false)),
		Features:   FeaturesInfo{SSE42: f.SSE42, AVX: f.AVX, AVX2: f.AVX2},
		NoSimd:     accel.NoSimdEnv(),
		Vector:     kernel.VectorTier,
	})
}

func (s *Server) handleKernels(c *echo.Context) error {
	listings := s.kernels.Describe()
	out := make([]KernelInfo, 0, len(listings))
	for _, l := range listings {
		in, w, b := l.Signature.Modes()
		info := KernelInfo{
			Registry:  l.Registry,
			Op:        l.Op.String(),
			Signature: l.Signature.String(),
			Input:     in.String(),
			Weight:    w.String(),
			Bias:      b.String(),
			Modes:     modeNames(l.Modes),
		}
		if l.AliasOf != nil {
			info.AliasOf = l.AliasOf.String()
		}
		out = append(out, info)
	}
	return writeJSON(c, http.StatusOK, ListResponse[KernelInfo]{Object: "list", Data: out})
}

// handleCapabilities lists operand rules, optionally for ?operation=name only.
func (s *Server) handleCapabilities(c *echo.Context) error {
	ops := capability.Operations()
	if name := c.QueryParam("operation"); name != "" {
		op, err := capability.ParseOperation(name)
		if err != nil {
			return writeRequestError(c, newRequestError("operation", codeUnknownOp, "%v", err))
		}
		ops = []capability.Operation{op}
	}
	var out []CapabilityInfo
	for _, op := range ops {
		for _, idx := range capability.Operands(op) {
			entry, err := capability.Lookup(op, idx)
			if err != nil {
				return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
			}
			out = append(out, capabilityInfo(op, idx, entry))
		}
	}
	return writeJSON(c, http.StatusOK, ListResponse[CapabilityInfo]{Object: "list", Data: out})
}

func capabilityInfo(op capability.Operation, idx int, e *capability.Entry) CapabilityInfo {
	info := CapabilityInfo{
		Operation: op.String(),
		Operand:   capability.OperandName(idx),
		Index:     idx,
		Layouts:   slices.Clone(e.Layouts),
		Modes:     make([]string, len(e.Modes)),
	}
	for i, m := range e.Modes {
		info.Modes[i] = m.String()
	}
	if len(e.Dims) > 0 {
		info.Dims = make(map[string]string, len(e.Dims))
		for d, l := range e.Dims {
			info.Dims[d.String()] = l.String()
		}
	}
	return info
}

func modeNames(modes []accel.Mode) []string {
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = m.String()
	}
	return out
}
