package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/embeddings"
	"github.com/sifralabs/mesora/internal/extraction"
	"github.com/sifralabs/mesora/internal/feedback"
	"github.com/sifralabs/mesora/internal/finding"
	"github.com/sifralabs/mesora/internal/groundtruth"
	"github.com/sifralabs/mesora/internal/prefilter"
	"github.com/sifralabs/mesora/internal/vectorstore"
)

type testServer struct {
	server      *Server
	findings    *finding.Store
	groundTruth *groundtruth.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	embedder, err := embeddings.NewHashProvider(64)
	require.NoError(t, err)

	vs, err := vectorstore.NewInMemoryChromemStore(vectorstore.ChromemConfig{VectorSize: 64}, embedder, logger)
	require.NoError(t, err)

	gt, err := groundtruth.NewStore(vs, 64, logger)
	require.NoError(t, err)

	findings, err := finding.NewStore(finding.StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { findings.Close() })

	training, err := feedback.NewTrainingStore(findings.DB())
	require.NoError(t, err)

	recorder, err := feedback.NewRecorder(gt, training, nil, logger)
	require.NoError(t, err)

	lifecycle, err := finding.NewLifecycle(findings, recorder, logger)
	require.NoError(t, err)

	engine, err := prefilter.NewEngine(gt, prefilter.Config{}, logger)
	require.NoError(t, err)

	extractor, err := extraction.NewHeuristic(logger)
	require.NoError(t, err)

	server, err := NewServer(engine, lifecycle, findings, recorder, extractor, logger, nil)
	require.NoError(t, err)

	return &testServer{server: server, findings: findings, groundTruth: gt}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	ts.server.echo.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) putFinding(t *testing.T, f *finding.Finding) {
	t.Helper()
	require.NoError(t, ts.findings.Put(context.Background(), f))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestPrefilterValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body SpanRequest
	}{
		{name: "missing span", body: SpanRequest{Scope: "bavli"}},
		{name: "missing scope", body: SpanRequest{Span: "some text"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.request(t, http.MethodPost, "/api/v1/prefilter", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPrefilterNoMatchesProceeds(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/prefilter", SpanRequest{
		Span:  "a passage with no recorded history",
		Scope: "bavli",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result prefilter.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Skip)
	assert.Empty(t, result.AutoFindings)
}

func TestAnalyzePersistsFindings(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/analyze", SpanRequest{
		Span:  "The discussion follows Berakhot 2a on the evening Shema.",
		Scope: "bavli",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Skipped)
	require.NotEmpty(t, resp.Findings)
	assert.Equal(t, "Berakhot 2a", resp.Findings[0].Source)

	stored, err := ts.findings.List(context.Background(), finding.ListFilter{Scope: "bavli"})
	require.NoError(t, err)
	require.Len(t, stored, len(resp.Findings))
	assert.Equal(t, finding.StatusPending, stored[0].Status)
}

func TestListFindings(t *testing.T) {
	ts := newTestServer(t)

	f, err := finding.New("bavli", finding.TypeReference, "Shabbat 31a", "what is hateful to you")
	require.NoError(t, err)
	ts.putFinding(t, f)

	rec := ts.request(t, http.MethodGet, "/api/v1/findings?scope=bavli&status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []*finding.Finding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, f.ID, got[0].ID)
}

func TestListFindingsUnknownStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v1/findings?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransition(t *testing.T) {
	ts := newTestServer(t)

	f, err := finding.New("bavli", finding.TypeReference, "Shabbat 31a", "what is hateful to you")
	require.NoError(t, err)
	ts.putFinding(t, f)

	rec := ts.request(t, http.MethodPost, "/api/v1/findings/"+f.ID+"/transition", TransitionRequest{Status: "added"})
	require.Equal(t, http.StatusOK, rec.Code)

	var got finding.Finding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, finding.StatusAdded, got.Status)
}

func TestTransitionErrors(t *testing.T) {
	ts := newTestServer(t)

	f, err := finding.New("bavli", finding.TypeReference, "Shabbat 31a", "what is hateful to you")
	require.NoError(t, err)
	ts.putFinding(t, f)

	rec := ts.request(t, http.MethodPost, "/api/v1/findings/"+f.ID+"/transition", TransitionRequest{Status: "added"})
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name string
		id   string
		body TransitionRequest
		want int
	}{
		{name: "unknown finding", id: "no-such-id", body: TransitionRequest{Status: "added"}, want: http.StatusNotFound},
		{name: "already added", id: f.ID, body: TransitionRequest{Status: "added"}, want: http.StatusConflict},
		{name: "unknown status", id: f.ID, body: TransitionRequest{Status: "archived"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.request(t, http.MethodPost, fmt.Sprintf("/api/v1/findings/%s/transition", tt.id), tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSwap(t *testing.T) {
	ts := newTestServer(t)

	f, err := finding.New("bavli", finding.TypeReference, "Shabbat 31a", "what is hateful to you")
	require.NoError(t, err)
	f.Alternatives = []finding.Alternative{{Source: "Avot 1:14", Reasoning: "closer parallel"}}
	ts.putFinding(t, f)

	rec := ts.request(t, http.MethodPost, "/api/v1/findings/"+f.ID+"/swap", SwapRequest{Index: 0})
	require.Equal(t, http.StatusOK, rec.Code)

	var got finding.Finding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Avot 1:14", got.Source)
	assert.Empty(t, got.Alternatives)

	rec = ts.request(t, http.MethodPost, "/api/v1/findings/"+f.ID+"/swap", SwapRequest{Index: 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelete(t *testing.T) {
	ts := newTestServer(t)

	f, err := finding.New("bavli", finding.TypeReference, "Shabbat 31a", "what is hateful to you")
	require.NoError(t, err)
	ts.putFinding(t, f)

	rec := ts.request(t, http.MethodDelete, "/api/v1/findings/"+f.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(t, http.MethodDelete, "/api/v1/findings/"+f.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerdict(t *testing.T) {
	ts := newTestServer(t)

	f, err := finding.New("bavli", finding.TypeReference, "Shabbat 31a", "what is hateful to you")
	require.NoError(t, err)
	ts.putFinding(t, f)

	rec := ts.request(t, http.MethodPost, "/api/v1/verdicts", VerdictRequest{FindingID: f.ID, Positive: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VerdictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.GroundTruthID)
	assert.NotEmpty(t, resp.TrainingID)
	assert.False(t, resp.Deduped)
	assert.Empty(t, resp.Errors)
}

func TestVerdictUnknownFinding(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/verdicts", VerdictRequest{FindingID: "no-such-id", Positive: false})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
