package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contentgraph/internal/domain"
	"contentgraph/internal/metrics"
	"contentgraph/internal/repository/memory"
	"contentgraph/internal/service"
)

type fakeUpdater struct {
	payloads [][]byte
	err      error
}

func (f *fakeUpdater) ApplyIncrementalUpdate(_ context.Context, payload []byte) (*service.UpdateResult, error) {
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}
	return &service.UpdateResult{NodeID: "n-1", RemoteID: "r-1", Type: "node--article", Changed: true}, nil
}

func (f *fakeUpdater) Status() service.Status {
	return service.Status{State: service.StateIdle, KnownTypes: []string{"node--article"}}
}

type countingTrigger struct{ n int }

func (c *countingTrigger) Trigger() { c.n++ }

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	article := domain.NewNode("n-article", "article-1", "node--article")
	article.Attributes["title"] = "Hello"
	article.Relationships.Set("field_tags"+domain.LinkSuffix, domain.Many("n-tag"))
	tag := domain.NewNode("n-tag", "tag-1", "taxonomy_term--tags")
	tag.AddBackRef(domain.BackRefKey("node__article"), "n-article")

	store := memory.New()
	require.NoError(t, store.CommitNodes(context.Background(), []*domain.Node{article, tag}))
	return store
}

type fixture struct {
	router  http.Handler
	updater *fakeUpdater
	trigger *countingTrigger
}

func newFixture(t *testing.T, secret string) *fixture {
	f := &fixture{updater: &fakeUpdater{}, trigger: &countingTrigger{}}
	f.router = NewRouter(RouterConfig{
		Graph:   service.NewGraphService(seededStore(t)),
		Updater: f.updater,
		Trigger: f.trigger,
		Metrics: metrics.NewCollector("test"),
		Secret:  secret,
		Logger:  zap.NewNop(),
	})
	return f
}

func (f *fixture) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestGetNode(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/api/nodes/n-tag", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tag-1", body["remote_id"])
	rels := body["relationships"].(map[string]any)
	assert.Equal(t, []any{"n-article"}, rels["node__article___NODE"])

	rec = f.do(http.MethodGet, "/api/nodes/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListNodesByType(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/api/nodes?type=taxonomy_term--tags", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "n-tag", nodes[0]["id"])
}

func TestGetGraph(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/api/graph", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var g domain.Graph
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "field_tags", g.Edges[0].Label)
}

func TestExport(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/api/export?format=yaml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "remote_id: article-1")

	rec = f.do(http.MethodGet, "/api/export?format=ansible", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookSecret(t *testing.T) {
	f := newFixture(t, "s3cret")
	payload := `{"data": {"type": "node--article", "id": "r-1"}}`

	rec := f.do(http.MethodPost, "/webhook/update", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.updater.payloads)

	rec = f.do(http.MethodPost, "/webhook/update", payload, http.Header{SecretHeader: {"s3cret"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.updater.payloads, 1)
	assert.JSONEq(t, payload, string(f.updater.payloads[0]))

	var result service.UpdateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Changed)
}

func TestWebhookErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid payload", fmt.Errorf("%w: no id", service.ErrInvalidPayload), http.StatusBadRequest},
		{"store failure", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			f.updater.err = tt.err

			rec := f.do(http.MethodPost, "/webhook/update", "{}", nil)
			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Details, tt.err.Error())
		})
	}
}

func TestSyncTriggerAndStatus(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodPost, "/api/sync", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, f.trigger.n)

	rec = f.do(http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status service.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, service.StateIdle, status.State)
}

func TestSyncWithoutScheduler(t *testing.T) {
	router := NewRouter(RouterConfig{
		Graph:   service.NewGraphService(memory.New()),
		Updater: &fakeUpdater{},
		Logger:  zap.NewNop(),
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRecordRoutePattern(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodGet, "/api/nodes/n-tag", "", nil)

	rec := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/nodes/{id}"`)
}
