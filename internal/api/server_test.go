package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/nnaccel/internal/kernel"
	"github.com/samcharles93/nnaccel/internal/logger"
)

const tinyModel = `{
  "name": "tiny",
  "buffers": [
    {"name": "input", "type": "int16", "count": 16, "fill": {"pattern": "ramp", "value": 1, "step": 1}},
    {"name": "weights", "type": "int8", "count": 32, "fill": {"pattern": "constant", "value": 1}},
    {"name": "biases", "type": "int32", "count": 4, "data": [0, 1, 2, 3]},
    {"name": "hidden", "type": "int32", "count": 8},
    {"name": "pooled", "type": "int16", "count": 4}
  ],
  "layers": [
    {
      "name": "fc",
      "operation": "affine",
      "operands": {
        "input": {"buffer": "input", "layout": "HW", "shape": [8, 2]},
        "weights": {"buffer": "weights", "layout": "HW", "shape": [4, 8]},
        "biases": {"buffer": "biases", "layout": "H", "shape": [4]},
        "output": {"buffer": "hidden", "layout": "HW", "shape": [4, 2]}
      }
    },
    {
      "name": "pool",
      "operation": "pooling",
      "operands": {
        "input": {"buffer": "hidden", "layout": "DW", "shape": [1, 8]},
        "output": {"buffer": "pooled", "layout": "DW", "shape": [1, 4]}
      },
      "params": {"pooling_mode": "max", "pooling_window": 2, "pooling_stride": 2},
      "activation": [
        {"x": -2147483648, "y": 0, "slope": 0, "shift": 0},
        {"x": 0, "y": 0, "slope": 1, "shift": 1}
      ]
    }
  ]
}`

// badModel has an input height that is not a multiple of 8 and a pooling
// window above the limit.
const badModel = `{
  "name": "bad",
  "buffers": [
    {"name": "input", "type": "int16", "count": 14},
    {"name": "weights", "type": "int8", "count": 28},
    {"name": "biases", "type": "int32", "count": 4},
    {"name": "hidden", "type": "int32", "count": 8},
    {"name": "pooled", "type": "int16", "count": 4}
  ],
  "layers": [
    {
      "name": "fc",
      "operation": "affine",
      "operands": {
        "input": {"buffer": "input", "layout": "HW", "shape": [7, 2]},
        "weights": {"buffer": "weights", "layout": "HW", "shape": [4, 7]},
        "biases": {"buffer": "biases", "layout": "H", "shape": [4]},
        "output": {"buffer": "hidden", "layout": "HW", "shape": [4, 2]}
      }
    },
    {
      "name": "pool",
      "operation": "pooling",
      "operands": {
        "input": {"buffer": "hidden", "layout": "DW", "shape": [1, 8]},
        "output": {"buffer": "pooled", "layout": "DW", "shape": [1, 4]}
      },
      "params": {"pooling_mode": "max", "pooling_window": 9, "pooling_stride": 2}
    }
  ]
}`

func newTestServer() (*Server, *echo.Echo) {
	server := NewServer(NewRunStore(), nil, logger.Discard())
	server.clock = func() time.Time { return time.Unix(1700000000, 0) }
	e := echo.New()
	server.Register(e)
	return server, e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error  ResponseError `json:"error"`
	Issues []struct {
		Layer int    `json:"layer"`
		Code  string `json:"code"`
	} `json:"issues"`
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	_, e := newTestServer()
	rec := doJSON(t, e, http.MethodPost, "/v1/run", `{"model":`+tinyModel+`,"mode":"generic","outputs":["hidden","pooled"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status: got %d body=%s", rec.Code, rec.Body.String())
	}
	run := decode[RunResponse](t, rec)
	if !strings.HasPrefix(run.ID, "run_") {
		t.Fatalf("id = %q", run.ID)
	}
	if run.Object != "run" || run.Model != "tiny" || run.Mode != "generic" || run.CreatedAt != 1700000000 {
		t.Fatalf("unexpected run header: %+v", run)
	}
	if len(run.Results) != 2 || run.Results[0].Name != "fc" || run.Results[1].Mode != "generic" {
		t.Fatalf("results = %+v", run.Results)
	}
	if len(run.Buffers) != 2 {
		t.Fatalf("buffers = %v", run.Buffers)
	}
	wantHidden := []int64{64, 72, 65, 73, 66, 74, 67, 75}
	for i, v := range wantHidden {
		if run.Buffers["hidden"][i] != v {
			t.Fatalf("hidden = %v, want %v", run.Buffers["hidden"], wantHidden)
		}
	}
	wantPooled := []int64{36, 36, 37, 37}
	for i, v := range wantPooled {
		if run.Buffers["pooled"][i] != v {
			t.Fatalf("pooled = %v, want %v", run.Buffers["pooled"], wantPooled)
		}
	}

	getRec := doJSON(t, e, http.MethodGet, "/v1/runs/"+run.ID, "")
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status: got %d", getRec.Code)
	}
	if got := decode[RunResponse](t, getRec); got.ID != run.ID || got.Status != run.Status {
		t.Fatalf("stored run = %+v", got)
	}

	delRec := doJSON(t, e, http.MethodDelete, "/v1/runs/"+run.ID, "")
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete status: got %d", delRec.Code)
	}
	if del := decode[DeleteRunResponse](t, delRec); !del.Deleted || del.ID != run.ID {
		t.Fatalf("delete = %+v", del)
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/runs/"+run.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d", rec.Code)
	}
}

func TestRunAutoModeReturnsAllBuffers(t *testing.T) {
	t.Parallel()

	s, e := newTestServer()
	rec := doJSON(t, e, http.MethodPost, "/v1/run", `{"model":`+tinyModel+`,"store":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status: got %d body=%s", rec.Code, rec.Body.String())
	}
	run := decode[RunResponse](t, rec)
	if run.Mode != "auto" || run.Status != "success" {
		t.Fatalf("mode=%q status=%q", run.Mode, run.Status)
	}
	if len(run.Buffers) != 5 {
		t.Fatalf("buffers = %d, want 5", len(run.Buffers))
	}
	if s.store.Len() != 0 {
		t.Fatalf("store=false run was saved")
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	t.Parallel()

	_, e := newTestServer()
	cases := []struct {
		name    string
		body    string
		code    int
		typ     string
		param   string
		errCode string
	}{
		{"malformed", `{"model":`, http.StatusBadRequest, "invalid_request_error", "body", "malformed_body"},
		{"unknown mode", `{"model":` + tinyModel + `,"mode":"neon"}`, http.StatusBadRequest, "invalid_request_error", "mode", "unknown_mode"},
		{"hardware", `{"model":` + tinyModel + `,"mode":"hardware"}`, http.StatusBadRequest, "invalid_request_error", "mode", "mode_not_served"},
		{"unknown output", `{"model":` + tinyModel + `,"outputs":["nope"]}`, http.StatusBadRequest, "invalid_request_error", "outputs", "unknown_output"},
		{"no layers", `{"model":{"name":"empty"}}`, http.StatusUnprocessableEntity, "invalid_model_error", "", "model configuration invalid"},
		{"invalid model", `{"model":` + badModel + `}`, http.StatusUnprocessableEntity, "invalid_model_error", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/v1/run", tc.body)
			if rec.Code != tc.code {
				t.Fatalf("status: got %d want %d body=%s", rec.Code, tc.code, rec.Body.String())
			}
			body := decode[errorBody](t, rec)
			if body.Error.Type != tc.typ || body.Error.Message == "" || body.Error.Param != tc.param {
				t.Fatalf("error = %+v", body.Error)
			}
			if tc.errCode != "" && body.Error.Code != tc.errCode {
				t.Fatalf("code: got %q want %q", body.Error.Code, tc.errCode)
			}
		})
	}
}

func TestRunInvalidModelCarriesFirstIssue(t *testing.T) {
	t.Parallel()

	_, e := newTestServer()
	rec := doJSON(t, e, http.MethodPost, "/v1/run", `{"model":`+badModel+`}`)
	body := decode[errorBody](t, rec)
	if len(body.Issues) != 1 || body.Issues[0].Layer != 0 {
		t.Fatalf("issues = %+v", body.Issues)
	}
	if body.Error.Code == "" || body.Error.Code == "success" {
		t.Fatalf("code = %q", body.Error.Code)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	_, e := newTestServer()
	rec := doJSON(t, e, http.MethodPost, "/v1/validate", `{"model":`+tinyModel+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	ok := decode[ValidateResponse](t, rec)
	if !ok.Valid || ok.Layers != 2 || len(ok.Issues) != 0 {
		t.Fatalf("valid model = %+v", ok)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/validate", `{"model":`+badModel+`}`)
	bad := decode[ValidateResponse](t, rec)
	if bad.Valid || len(bad.Issues) < 2 {
		t.Fatalf("describe-all report = %+v", bad)
	}
	if bad.Issues[0].Layer != 0 || bad.Issues[len(bad.Issues)-1].Layer != 1 {
		t.Fatalf("issues = %+v", bad.Issues)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/validate", `{"model":`+badModel+`,"describe_all":false}`)
	first := decode[ValidateResponse](t, rec)
	if first.Valid || len(first.Issues) != 1 {
		t.Fatalf("first-failure report = %+v", first)
	}
}

func TestValidateBindErrorsAreIssues(t *testing.T) {
	t.Parallel()

	_, e := newTestServer()
	rec := doJSON(t, e, http.MethodPost, "/v1/validate", `{"model":{"name":"x","layers":[{"operation":"softmax"}]}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	resp := decode[ValidateResponse](t, rec)
	if resp.Valid || len(resp.Issues) != 1 || resp.Issues[0].Layer != -1 {
		t.Fatalf("report = %+v", resp)
	}
}

func TestKernels(t *testing.T) {
	t.Parallel()

	_, e := newTestServer()
	rec := doJSON(t, e, http.MethodGet, "/v1/kernels", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	list := decode[ListResponse[KernelInfo]](t, rec)
	if list.Object != "list" || len(list.Data) == 0 {
		t.Fatalf("kernels = %+v", list)
	}
	registries := map[string]int{}
	for _, k := range list.Data {
		registries[k.Registry]++
		if len(k.Modes) == 0 || k.Signature == "" {
			t.Fatalf("incomplete kernel %+v", k)
		}
	}
	if registries["pooling"] != 1 || registries["affine"] == 0 || registries["affine_active_list"] == 0 {
		t.Fatalf("registries = %v", registries)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	_, e := newTestServer()
	rec := doJSON(t, e, http.MethodGet, "/v1/capabilities?operation=affine", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	list := decode[ListResponse[CapabilityInfo]](t, rec)
	var input *CapabilityInfo
	for i := range list.Data {
		if list.Data[i].Operation != "affine" {
			t.Fatalf("unfiltered entry %+v", list.Data[i])
		}
		if list.Data[i].Operand == "input" {
			input = &list.Data[i]
		}
	}
	if input == nil || input.Index != 0 || input.Dims["H"] == "" {
		t.Fatalf("affine input = %+v", input)
	}

	if rec := doJSON(t, e, http.MethodGet, "/v1/capabilities?operation=softmax", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown operation: got %d", rec.Code)
	}
}

func TestModesAndVersion(t *testing.T) {
	t.Parallel()

	_, e := newTestServer()
	modes := decode[ModesResponse](t, doJSON(t, e, http.MethodGet, "/v1/modes", ""))
	if len(modes.Detected) == 0 || modes.Detected[len(modes.Detected)-1] != "generic" {
		t.Fatalf("detected = %v", modes.Detected)
	}
	if modes.Vector != kernel.VectorTier {
		t.Fatalf("vector_kernels = %t", modes.Vector)
	}
	for _, m := range modes.Preference {
		if m == "hardware" {
			t.Fatalf("preference lists hardware: %v", modes.Preference)
		}
	}

	rec := doJSON(t, e, http.MethodGet, "/v1/version", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"version"`) {
		t.Fatalf("version: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRunStore(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	s.Save(RunResponse{ID: "run_a"})
	if _, ok := s.Get("run_a"); !ok {
		t.Fatalf("saved run missing")
	}
	if !s.Delete("run_a") || s.Delete("run_a") {
		t.Fatalf("delete should succeed exactly once")
	}
}
