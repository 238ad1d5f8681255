package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcascade/cascade/internal/auth"
	"github.com/modelcascade/cascade/internal/batch"
	"github.com/modelcascade/cascade/internal/config"
	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/experiment"
	"github.com/modelcascade/cascade/internal/gate"
	"github.com/modelcascade/cascade/internal/router"
	"github.com/modelcascade/cascade/internal/store/memory"
)

type fakeProvider struct {
	name   string
	output string
	err    error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.ProviderResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ProviderResult{
		OutputText: f.output,
		Model:      f.name + "-model",
		Usage:      domain.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
	}, nil
}

func passingOutput() string {
	labels := []string{
		"Clarity", "Accuracy", "Depth", "Structure", "Relevance",
		"Evidence", "Coverage", "Consistency", "Precision", "Thoroughness",
	}
	var rubric strings.Builder
	for i, label := range labels {
		fmt.Fprintf(&rubric, "%d) %s: 8/10\n", i+1, label)
	}
	rubric.WriteString("Total: 80/100\n")
	rubric.WriteString("The grade holds because each criterion was verifiable.")

	var b strings.Builder
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&b, "<response><text>%s</text><probability>0.07</probability></response>\n", rubric.String())
	}
	return b.String()
}

func newTestServer(t *testing.T, authenticator *auth.Authenticator) *Server {
	t.Helper()

	cheap := &fakeProvider{name: "cheap", output: passingOutput()}
	strong := &fakeProvider{name: "strong", output: passingOutput()}
	g := gate.New()

	rt, err := router.New([]router.Tier{
		{Name: "cheap", Provider: cheap, Model: "cheap-model", Cost: 1},
		{Name: "strong", Provider: strong, Model: "strong-model", Cost: 10},
	}, g)
	if err != nil {
		t.Fatal(err)
	}

	s := memory.New()
	engine, err := experiment.New(
		map[string]domain.Provider{"cheap": cheap, "strong": strong},
		g,
		router.Tier{Name: "strong", Provider: strong, Model: "strong-model", Cost: 10},
		s,
	)
	if err != nil {
		t.Fatal(err)
	}

	runner, err := batch.NewRunner(batch.EvaluatorFunc(rt.Evaluate))
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(8080, time.Minute, logger, authenticator, Deps{
		Router:  rt,
		Engine:  engine,
		Batch:   runner,
		Reports: s,
	})
}

func doJSON(t *testing.T, srv *Server, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := doJSON(t, srv, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, "POST", "/v1/evaluate", map[string]any{"prompt": "grade this"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result domain.EvaluationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Provider != "cheap" {
		t.Errorf("provider = %q, want cheap", result.Provider)
	}
	if result.ID == "" {
		t.Fatal("result has no report ID")
	}

	// Report persisted and retrievable.
	rec = doJSON(t, srv, "GET", "/v1/reports/"+result.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report fetch status = %d", rec.Code)
	}
	var fetched domain.EvaluationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatal(err)
	}
	if fetched.Quality != result.Quality {
		t.Errorf("fetched quality = %v, want %v", fetched.Quality, result.Quality)
	}
}

func TestEvaluateValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"missing prompt", `{}`, http.StatusBadRequest, "prompt is required"},
		{"bad threshold", `{"prompt":"x","threshold":2}`, http.StatusBadRequest, "threshold"},
		{"malformed body", `{`, http.StatusBadRequest, "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/evaluate", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Router.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if !strings.Contains(rec.Body.String(), tt.message) {
				t.Errorf("body = %s, want %q", rec.Body.String(), tt.message)
			}
		})
	}
}

func TestReportNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := doJSON(t, srv, "GET", "/v1/reports/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBatchEvaluateEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, "POST", "/v1/evaluate/batch", map[string]any{
		"requests": []map[string]any{
			{"prompt": "one"}, {"prompt": "two"}, {"prompt": "three"},
		},
		"concurrency": 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Items []batch.Item `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(resp.Items))
	}
	for i, item := range resp.Items {
		if item.Index != i {
			t.Errorf("item %d has index %d", i, item.Index)
		}
		if item.Result == nil || item.Result.ID == "" {
			t.Errorf("item %d missing persisted result", i)
		}
	}
}

func TestBatchEvaluateEmpty(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := doJSON(t, srv, "POST", "/v1/evaluate/batch", map[string]any{"requests": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestExperimentLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	create := map[string]any{
		"name": "cheap-vs-strong",
		"variants": []map[string]any{
			{"id": "a", "provider": "cheap", "weight": 0.5},
			{"id": "b", "provider": "strong", "weight": 0.5},
		},
	}

	rec := doJSON(t, srv, "POST", "/v1/experiments", create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Duplicate name conflicts.
	rec = doJSON(t, srv, "POST", "/v1/experiments", create)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", rec.Code)
	}

	// Invalid variants rejected.
	rec = doJSON(t, srv, "POST", "/v1/experiments", map[string]any{"name": "bad"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, srv, "GET", "/v1/experiments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cheap-vs-strong") {
		t.Error("list missing created experiment")
	}

	rec = doJSON(t, srv, "GET", "/v1/experiments/cheap-vs-strong", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d", rec.Code)
	}
	var detail struct {
		Experiment experiment.Experiment   `json:"experiment"`
		Stats      []experiment.VariantStats `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if len(detail.Stats) != 2 {
		t.Errorf("stats = %d variants, want 2", len(detail.Stats))
	}

	rec = doJSON(t, srv, "GET", "/v1/experiments/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown experiment status = %d, want 404", rec.Code)
	}
}

func TestExperimentEvaluateEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	doJSON(t, srv, "POST", "/v1/experiments", map[string]any{
		"name": "exp",
		"variants": []map[string]any{
			{"id": "a", "provider": "cheap", "weight": 1},
		},
	})

	rec := doJSON(t, srv, "POST", "/v1/experiments/exp/evaluate", map[string]any{"prompt": "grade this"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result domain.EvaluationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Provider != "cheap" || result.ID == "" {
		t.Errorf("result = %+v", result)
	}

	rec = doJSON(t, srv, "POST", "/v1/experiments/ghost/evaluate", map[string]any{"prompt": "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown experiment status = %d, want 404", rec.Code)
	}
}

func TestExperimentWinnerEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	doJSON(t, srv, "POST", "/v1/experiments", map[string]any{
		"name": "exp",
		"variants": []map[string]any{
			{"id": "a", "provider": "cheap", "weight": 1},
		},
	})

	rec := doJSON(t, srv, "GET", "/v1/experiments/exp/winner?mode=quality", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var winner experiment.Winner
	if err := json.Unmarshal(rec.Body.Bytes(), &winner); err != nil {
		t.Fatal(err)
	}
	if winner.Confidence != experiment.ConfidenceInsufficientData {
		t.Errorf("confidence = %q, want insufficient_data with no samples", winner.Confidence)
	}

	rec = doJSON(t, srv, "GET", "/v1/experiments/exp/winner?mode=speed", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad mode status = %d, want 400", rec.Code)
	}
}

func TestAuthProtectsV1(t *testing.T) {
	authenticator := auth.NewAuthenticator([]config.APIKeyConfig{
		{KeyHash: auth.HashAPIKey("sk-test")},
	})
	srv := newTestServer(t, authenticator)

	// Unauthenticated request rejected.
	rec := doJSON(t, srv, "POST", "/v1/evaluate", map[string]any{"prompt": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	// Health stays open.
	rec = doJSON(t, srv, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}

	// Authenticated request passes.
	body, _ := json.Marshal(map[string]any{"prompt": "x"})
	req := httptest.NewRequest("POST", "/v1/evaluate", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer sk-test")
	rec = httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authed status = %d, body %s", rec.Code, rec.Body.String())
	}
}
