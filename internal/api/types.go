package api

import (
	"github.com/samcharles93/nnaccel/internal/engine"
	"github.com/samcharles93/nnaccel/internal/model"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

type ListResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

// KernelInfo is one registered kernel.
type KernelInfo struct {
	Registry  string   `json:"registry"`
	Op        string   `json:"op"`
	Signature string   `json:"signature"`
	Input     string   `json:"input"`
	Weight    string   `json:"weight"`
	Bias      string   `json:"bias"`
	Modes     []string `json:"modes"`
	AliasOf   string   `json:"alias_of,omitempty"`
}

type FeaturesInfo struct {
	SSE42 bool `json:"sse4_2"`
	AVX   bool `json:"avx"`
	AVX2  bool `json:"avx2"`
}

type ModesResponse struct {
	Object     string       `json:"object"`
	Detected   []string     `json:"detected"`
	Preference []string     `json:"preference"`
	Features   FeaturesInfo `json:"features"`
	NoSimd     bool         `json:"no_simd"`
	Vector     bool         `json:"vector_kernels"`
}

// CapabilityInfo is the rule set of one operand of one operation. Dims maps
// a dimension letter to its allowed range.
type CapabilityInfo struct {
	Operation string            `json:"operation"`
	Operand   string            `json:"operand"`
	Index     int               `json:"index"`
	Layouts   []string          `json:"layouts,omitempty"`
	Modes     []string          `json:"modes"`
	Dims      map[string]string `json:"dims,omitempty"`
}

type ValidateRequest struct {
	Model       model.File `json:"model"`
	DescribeAll *bool      `json:"describe_all,omitempty"`
}

type ValidateResponse struct {
	Object string         `json:"object"`
	Model  string         `json:"model,omitempty"`
	Valid  bool           `json:"valid"`
	Layers int            `json:"layers"`
	Issues []engine.Issue `json:"issues"`
}

// RunRequest executes a model on the host. Outputs names the buffers to
// return; empty returns every buffer.
type RunRequest struct {
	Model   model.File `json:"model"`
	Mode    string     `json:"mode,omitempty"`
	Outputs []string   `json:"outputs,omitempty"`
	Store   *bool      `json:"store,omitempty"`
}

type RunResponse struct {
	ID        string             `json:"id"`
	Object    string             `json:"object"`
	CreatedAt int64              `json:"created_at"`
	Model     string             `json:"model,omitempty"`
	Mode      string             `json:"mode"`
	Status    string             `json:"status"`
	Results   []engine.Result    `json:"results"`
	Buffers   map[string][]int64 `json:"buffers"`
}

type DeleteRunResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}
