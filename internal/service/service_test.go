package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contentgraph/internal/attach"
	"contentgraph/internal/builder"
	"contentgraph/internal/config"
	"contentgraph/internal/domain"
	"contentgraph/internal/graph"
	"contentgraph/internal/jsonapi"
	"contentgraph/internal/jsonapitest"
	"contentgraph/internal/metrics"
	"contentgraph/internal/repository"
	"contentgraph/internal/repository/memory"
)

// fakeMaterializer hands out a handle per request without downloading
type fakeMaterializer struct {
	mu   sync.Mutex
	reqs []attach.FileRequest
}

func (f *fakeMaterializer) Materialize(_ context.Context, req attach.FileRequest) (*domain.FileHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &domain.FileHandle{Backend: "fake", Location: req.NodeID + "/" + req.Filename, Size: 1}, nil
}

func (f *fakeMaterializer) requests() []attach.FileRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]attach.FileRequest(nil), f.reqs...)
}

type harness struct {
	srv          *jsonapitest.Server
	cfg          *config.Config
	store        *memory.Store
	materializer *fakeMaterializer
	svc          *SyncService
	ids          *builder.UUIDGenerator
	client       *jsonapi.Client
	metrics      *metrics.Collector
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()
	srv := jsonapitest.NewServer(t)
	cfg := config.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.SkipFileDownloads = true
	if mutate != nil {
		mutate(cfg)
	}

	logger := zap.NewNop()
	m := metrics.NewCollector("test")
	transport := jsonapi.NewHTTPTransport(srv.Client(), jsonapi.DefaultBreakerConfig("test"), logger)
	client := jsonapi.NewClient(transport, cfg.BaseURL, cfg.APIBase, jsonapi.Credentials{}, logger, m)
	store := memory.New()
	materializer := &fakeMaterializer{}

	svc := NewSyncService(cfg, Deps{
		Client:   client,
		Store:    store,
		Attacher: attach.New(cfg, materializer, logger, m),
		Logger:   logger,
		Metrics:  m,
	})
	return &harness{
		srv:          srv,
		cfg:          cfg,
		store:        store,
		materializer: materializer,
		svc:          svc,
		ids:          builder.NewUUIDGenerator(cfg.BaseURL),
		client:       client,
		metrics:      m,
	}
}

// rerun returns a second service over the same store and remote with an
// adjusted config, as after a restart
func (h *harness) rerun(mutate func(cfg *config.Config)) *SyncService {
	cfg := *h.cfg
	cfg.DisallowedLinkTypes = append([]string(nil), h.cfg.DisallowedLinkTypes...)
	mutate(&cfg)
	return NewSyncService(&cfg, Deps{
		Client:  h.client,
		Store:   h.store,
		Logger:  zap.NewNop(),
		Metrics: h.metrics,
	})
}

func assertDigestCurrent(t *testing.T, n *domain.Node) {
	t.Helper()
	want, err := graph.Blake2bDigester{}.Digest(n)
	require.NoError(t, err)
	assert.Equal(t, want, n.Digest, "digest of %s", n.RemoteID)
}

func (h *harness) id(remoteID string) string {
	return h.ids.NodeID(remoteID)
}

func (h *harness) node(t *testing.T, remoteID string) *domain.Node {
	t.Helper()
	n, err := h.store.GetNode(context.Background(), h.id(remoteID))
	require.NoError(t, err, "node for %s", remoteID)
	return n
}

func (h *harness) nodeIDs(remoteIDs ...string) []string {
	out := make([]string, 0, len(remoteIDs))
	for _, r := range remoteIDs {
		out = append(out, h.id(r))
	}
	sort.Strings(out)
	return out
}

func (h *harness) importAll(t *testing.T) *ImportResult {
	t.Helper()
	result, err := h.svc.RunFullImport(context.Background())
	require.NoError(t, err)
	return result
}

const articleRefs = "node__article___NODE"

func TestFullImportBuildsArticle(t *testing.T) {
	h := newHarness(t, nil)
	result := h.importAll(t)

	assert.Equal(t, []string{"file--file", "node--article", "node--restricted", "taxonomy_term--tags"}, result.Types)
	assert.Equal(t, 9, result.Entities)
	assert.Equal(t, 9, result.Created)
	assert.Equal(t, 9, result.Committed)
	assert.Empty(t, result.FailedTypes)

	article := h.node(t, "article-2")
	assert.Equal(t, "node--article", article.ResourceType)
	assert.Equal(t, "node__article", article.InternalType)
	assert.Equal(t, "Article #2", article.Attributes["title"])
	assert.EqualValues(t, 22, article.Attributes[domain.AttributesIDKey])
	assert.NotContains(t, article.Attributes, "id")
	assert.NotEmpty(t, article.Digest)

	want := domain.Relationships{
		"field_main_image___NODE": domain.Single(h.id("file-1")),
	}
	assert.Empty(t, cmp.Diff(want, article.Relationships, cmp.Comparer(domain.Reference.Equal)))
}

func TestFullImportBackRefsAreSymmetric(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)

	assert.Equal(t, h.nodeIDs("article-1", "article-3"), h.node(t, "tag-1").BackRefs[articleRefs])
	assert.Equal(t, h.nodeIDs("article-1"), h.node(t, "tag-2").BackRefs[articleRefs])
	assert.Equal(t, h.nodeIDs("article-2", "article-3"), h.node(t, "file-1").BackRefs[articleRefs])
	assert.Empty(t, h.node(t, "file-2").BackRefs)

	nodes, err := h.store.ListNodes(context.Background(), "")
	require.NoError(t, err)
	byID := make(map[string]*domain.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, n := range nodes {
		for _, ref := range n.Relationships {
			for _, target := range ref.IDs() {
				tn, ok := byID[target]
				require.True(t, ok, "target %s of %s stored", target, n.ID)
				assert.True(t, tn.HasBackRef(domain.BackRefKey(n.InternalType), n.ID),
					"%s lists %s as back-reference", target, n.ID)
			}
		}
		for key, sources := range n.BackRefs {
			for _, src := range sources {
				sn := byID[src]
				require.NotNil(t, sn)
				assert.Equal(t, domain.BackRefKey(sn.InternalType), key)
				assert.Contains(t, sn.Relationships.Targets(), n.ID)
			}
		}
	}
}

func TestFullImportIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)
	first, err := h.store.ListNodes(context.Background(), "")
	require.NoError(t, err)

	result := h.importAll(t)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 9, result.Unchanged)

	second, err := h.store.ListNodes(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, second, cmp.Comparer(domain.Reference.Equal)))
}

func TestFullImportIsDeterministicAcrossStores(t *testing.T) {
	h1 := newHarness(t, nil)
	h1.importAll(t)
	h2 := newHarness(t, func(cfg *config.Config) { cfg.Concurrency.Collections = 1 })
	h2.importAll(t)

	for _, remote := range []string{"article-1", "article-3", "tag-1", "file-1"} {
		a, b := h1.node(t, remote), h2.node(t, remote)
		assert.Equal(t, a.Relationships.Keys(), b.Relationships.Keys(), remote)
		assert.Equal(t, len(a.BackRefs), len(b.BackRefs), remote)
	}
}

func TestFullImportDisallowedType(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.DisallowedLinkTypes = append(cfg.DisallowedLinkTypes, "taxonomy_term--tags")
	})
	result := h.importAll(t)

	assert.NotContains(t, result.Types, "taxonomy_term--tags")
	for _, r := range h.srv.Requests() {
		assert.NotEqual(t, "/jsonapi/taxonomy_term/tags", r.Path)
	}
	_, err := h.store.GetNode(context.Background(), h.id("tag-1"))
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NotContains(t, h.node(t, "article-1").Relationships, "field_tags___NODE")
}

func TestFullImportDetachesNowDisallowedType(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)
	before := h.node(t, "article-1").Digest

	svc := h.rerun(func(cfg *config.Config) {
		cfg.DisallowedLinkTypes = append(cfg.DisallowedLinkTypes, "node--article")
	})
	result, err := svc.RunFullImport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Detached)

	article := h.node(t, "article-1")
	assert.Empty(t, article.Relationships)
	assert.NotEqual(t, before, article.Digest)
	assertDigestCurrent(t, article)
	assert.NotContains(t, h.node(t, "tag-1").BackRefs, articleRefs)
	assert.NotContains(t, h.node(t, "file-1").BackRefs, articleRefs)
}

func TestFullImportRetainedNodeDropsExcludedTargets(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)
	payload := []byte(`{"type": "node--page", "id": "page-1", "attributes": {"title": "About"},
		"relationships": {"field_tags": {"data": [{"type": "taxonomy_term--tags", "id": "tag-2"}]}}}`)
	_, err := h.svc.ApplyIncrementalUpdate(context.Background(), payload)
	require.NoError(t, err)
	require.Contains(t, h.node(t, "page-1").Relationships, "field_tags___NODE")

	svc := h.rerun(func(cfg *config.Config) {
		cfg.DisallowedLinkTypes = append(cfg.DisallowedLinkTypes, "taxonomy_term--tags")
	})
	_, err = svc.RunFullImport(context.Background())
	require.NoError(t, err)

	page := h.node(t, "page-1")
	assert.Equal(t, "About", page.Attributes["title"], "node is retained")
	assert.NotContains(t, page.Relationships, "field_tags___NODE")
	assertDigestCurrent(t, page)
	assert.Empty(t, h.node(t, "tag-2").BackRefs)
}

func TestFullImportIncludedEntities(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.APIBase = "jsonapi-includes" })
	h.importAll(t)

	tag := h.node(t, "tag-3")
	assert.Equal(t, "Tag #3", tag.Attributes["name"])
	assert.Equal(t, h.nodeIDs("article-5"), tag.BackRefs[articleRefs])
	assert.Equal(t, []string{h.id("tag-3")}, h.node(t, "article-5").Relationships["field_tags___NODE"].IDs())
}

func TestFullImportMaterializesFiles(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.SkipFileDownloads = false })
	result := h.importAll(t)
	assert.Equal(t, 0, result.FilesFailed)

	reqs := h.materializer.requests()
	assert.Len(t, reqs, 4)
	file := h.node(t, "file-1")
	require.NotNil(t, file.LocalFile)
	assert.Equal(t, "fake", file.LocalFile.Backend)
	assert.Nil(t, h.node(t, "article-1").LocalFile)

	// unchanged files keep their handle without a second download
	h.importAll(t)
	assert.Len(t, h.materializer.requests(), 4)
	assert.NotNil(t, h.node(t, "file-1").LocalFile)
}

func TestFullImportSkipsFileDownloads(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)
	assert.Empty(t, h.materializer.requests())
	assert.Nil(t, h.node(t, "file-1").LocalFile)
}

func TestFullImportRestrictedCollectionIsEmpty(t *testing.T) {
	h := newHarness(t, nil)
	result := h.importAll(t)
	assert.Contains(t, result.Types, "node--restricted")
	nodes, err := h.store.ListNodes(context.Background(), "node--restricted")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestFullImportAbortsOnFetchError(t *testing.T) {
	h := newHarness(t, nil)
	h.srv.Fail("/jsonapi/taxonomy_term/tags", http.StatusInternalServerError)

	_, err := h.svc.RunFullImport(context.Background())
	require.Error(t, err)
	var fe *jsonapi.FetchError
	assert.ErrorAs(t, err, &fe)
	assert.Equal(t, 0, h.store.Len(), "nothing committed")
	assert.NotEmpty(t, h.svc.Status().LastError)
}

func TestFullImportSkipsFailedType(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.OnFetchError = config.FetchErrorSkip })
	h.srv.Fail("/jsonapi/taxonomy_term/tags", http.StatusInternalServerError)

	result := h.importAll(t)
	assert.Equal(t, []string{"taxonomy_term--tags"}, result.FailedTypes)
	assert.Error(t, result.FetchErrors)
	assert.Equal(t, 7, result.Committed)
	assert.NotContains(t, h.node(t, "article-1").Relationships, "field_tags___NODE")
}

func TestFullImportCanceled(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.RunFullImport(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, StateIdle, h.svc.State())
}

func TestFullImportPublishesEvents(t *testing.T) {
	h := newHarness(t, nil)
	ch := make(chan Event, 4)
	h.svc.Events().Subscribe(ch)
	defer h.svc.Events().Unsubscribe(ch)

	result := h.importAll(t)
	select {
	case ev := <-ch:
		assert.Equal(t, EventImportCompleted, ev.Type)
		assert.Same(t, result, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("no import event")
	}

	status := h.svc.Status()
	assert.Same(t, result, status.LastImport)
	assert.Contains(t, status.KnownTypes, "node--article")
}

func TestIncrementalUpdateMovesBackRefs(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)

	result, err := h.svc.ApplyIncrementalUpdate(context.Background(), jsonapitest.Payload(t, "webhook-update.json"))
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.False(t, result.Created)
	assert.Equal(t, h.nodeIDs("file-1", "tag-1", "tag-2"), result.Touched)

	article := h.node(t, "article-3")
	assert.Equal(t, "Article #3 - Updated", article.Attributes["title"])
	assert.NotContains(t, article.Relationships, "field_main_image___NODE")
	assert.Equal(t, []string{h.id("tag-2")}, article.Relationships["field_tags___NODE"].IDs())

	assert.Equal(t, h.nodeIDs("article-1"), h.node(t, "tag-1").BackRefs[articleRefs])
	assert.Equal(t, h.nodeIDs("article-1", "article-3"), h.node(t, "tag-2").BackRefs[articleRefs])
	assert.Equal(t, h.nodeIDs("article-2"), h.node(t, "file-1").BackRefs[articleRefs])
}

func TestIncrementalUpdateIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)
	payload := jsonapitest.Payload(t, "webhook-update.json")

	_, err := h.svc.ApplyIncrementalUpdate(context.Background(), payload)
	require.NoError(t, err)
	before, err := h.store.ListNodes(context.Background(), "")
	require.NoError(t, err)

	result, err := h.svc.ApplyIncrementalUpdate(context.Background(), payload)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Empty(t, result.Touched)

	after, err := h.store.ListNodes(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, after, cmp.Comparer(domain.Reference.Equal)))
}

func TestIncrementalInsert(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)
	ch := make(chan Event, 4)
	h.svc.Events().Subscribe(ch)
	defer h.svc.Events().Unsubscribe(ch)

	result, err := h.svc.ApplyIncrementalUpdate(context.Background(), jsonapitest.Payload(t, "webhook-insert.json"))
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, h.nodeIDs("article-1", "article-3", "article-4"), h.node(t, "tag-1").BackRefs[articleRefs])

	ev := <-ch
	assert.Equal(t, EventNodeCreated, ev.Type)
	ev = <-ch
	assert.Equal(t, EventBackRefsUpdated, ev.Type)
	assert.Equal(t, BackRefsPayload{Source: h.id("article-4"), Touched: []string{h.id("tag-1")}}, ev.Payload)
}

func TestIncrementalFileUpdateKeepsBackRefs(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.SkipFileDownloads = false })
	h.importAll(t)

	result, err := h.svc.ApplyIncrementalUpdate(context.Background(), jsonapitest.Payload(t, "webhook-file-update.json"))
	require.NoError(t, err)
	assert.True(t, result.Changed)

	file := h.node(t, "file-1")
	assert.Equal(t, "main-image-updated.png", file.Attributes["filename"])
	assert.Equal(t, h.nodeIDs("article-2", "article-3"), file.BackRefs[articleRefs])
	require.NotNil(t, file.LocalFile)
	assert.Equal(t, file.ID+"/main-image-updated.png", file.LocalFile.Location)
}

func TestIncrementalDisallowedTypeDetaches(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)
	h.svc.filter = builder.NewLinkFilter(append(h.cfg.DisallowedLinkTypes, "node--article"))

	result, err := h.svc.ApplyIncrementalUpdate(context.Background(), jsonapitest.Payload(t, "webhook-update.json"))
	require.NoError(t, err)
	assert.True(t, result.Excluded)
	assert.Equal(t, h.nodeIDs("file-1", "tag-1"), result.Touched)

	assert.Empty(t, h.node(t, "article-3").Relationships)
	assert.Equal(t, h.nodeIDs("article-1"), h.node(t, "tag-1").BackRefs[articleRefs])
	assert.Equal(t, "Article #3", h.node(t, "article-3").Attributes["title"], "node is detached, not rewritten")
	assertDigestCurrent(t, h.node(t, "article-3"))
}

func TestIncrementalTypeChangeMovesBackRefs(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)

	payload := []byte(`{"type": "node--page", "id": "article-1", "attributes": {"title": "Now a page"},
		"relationships": {"field_tags": {"data": [{"type": "taxonomy_term--tags", "id": "tag-2"}]}}}`)
	result, err := h.svc.ApplyIncrementalUpdate(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.False(t, result.Created)
	assert.Equal(t, h.nodeIDs("tag-1", "tag-2"), result.Touched)

	page := h.node(t, "article-1")
	assert.Equal(t, "node__page", page.InternalType)
	assertDigestCurrent(t, page)

	assert.Equal(t, h.nodeIDs("article-3"), h.node(t, "tag-1").BackRefs[articleRefs])
	tag2 := h.node(t, "tag-2")
	assert.NotContains(t, tag2.BackRefs, articleRefs)
	assert.Equal(t, h.nodeIDs("article-1"), tag2.BackRefs["node__page___NODE"])
}

func TestIncrementalUnknownType(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)

	payload := []byte(`{"type": "node--page", "id": "page-1", "attributes": {"title": "About"},
		"relationships": {"field_tags": {"data": [{"type": "taxonomy_term--tags", "id": "tag-2"}]}}}`)
	result, err := h.svc.ApplyIncrementalUpdate(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, result.UnknownType)
	assert.True(t, result.Created)

	page := h.node(t, "page-1")
	assert.Equal(t, "node__page", page.InternalType)
	assert.Equal(t, []string{h.id("page-1")}, h.node(t, "tag-2").BackRefs["node__page___NODE"])
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantID  string
		wantErr bool
	}{
		{"wrapped", `{"data": {"type": "node--article", "id": "a"}}`, "a", false},
		{"bare", `{"type": "node--article", "id": "b"}`, "b", false},
		{"not json", `{`, "", true},
		{"missing id", `{"data": {"type": "node--article"}}`, "", true},
		{"collection", `{"data": [{"type": "node--article", "id": "a"}]}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := DecodePayload([]byte(tt.payload))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidPayload), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, e.ID)
		})
	}
}

func TestGraphService(t *testing.T) {
	h := newHarness(t, nil)
	h.importAll(t)
	gs := NewGraphService(h.store)
	ctx := context.Background()

	n, err := gs.GetNode(ctx, h.id("article-1"))
	require.NoError(t, err)
	assert.Equal(t, "article-1", n.RemoteID)

	_, err = gs.GetNode(ctx, "missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	tags, err := gs.ListNodes(ctx, "taxonomy_term--tags")
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	g, err := gs.GetGraph(ctx, "")
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 9)
	// article-1: 2 tags; article-2: 1 image; article-3: image + tag
	assert.Len(t, g.Edges, 5)
}
