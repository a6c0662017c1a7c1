// Package attach materializes the binary behind file nodes. The Orchestrator
// works out where a file lives and which credentials it needs; a
// Materializer stores the bytes on disk or in S3.
package attach

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"contentgraph/internal/config"
	"contentgraph/internal/domain"
	"contentgraph/internal/jsonapi"
	"contentgraph/internal/metrics"
)

// Results recorded per attach call
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultError   = "error"
)

// ErrNoURL is returned for file nodes without any usable location
var ErrNoURL = errors.New("file has no url")

// FileRequest describes one download
type FileRequest struct {
	NodeID      string
	Digest      string
	URL         string
	Mount       string // empty when the file belongs to no configured mount
	Filename    string
	Credentials jsonapi.Credentials
}

// Materializer stores a remote file and returns where it ended up
type Materializer interface {
	Materialize(ctx context.Context, req FileRequest) (*domain.FileHandle, error)
}

// MaterializationError is a failed download. The node is still committed,
// without a file handle.
type MaterializationError struct {
	NodeID string
	URL    string
	Err    error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialize %s (%s): %v", e.NodeID, e.URL, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// Job is one file node to attach. SelfLink is the entity's links.self, the
// last resort for the download URL.
type Job struct {
	Node     *domain.Node
	Previous *domain.Node
	SelfLink string
}

// Orchestrator decides whether and how file nodes are materialized
type Orchestrator struct {
	cfg          *config.Config
	materializer Materializer
	logger       *zap.Logger
	metrics      *metrics.Collector

	group singleflight.Group

	mu   sync.Mutex
	done map[string]*domain.FileHandle // node id + digest -> handle
}

// New creates an orchestrator
func New(cfg *config.Config, m Materializer, logger *zap.Logger, mc *metrics.Collector) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		materializer: m,
		logger:       logger.Named("attach"),
		metrics:      mc,
		done:         make(map[string]*domain.FileHandle),
	}
}

// Attach materializes the node's file and sets node.LocalFile. Nodes that
// are not files are ignored. When previous has the same digest and already
// carries a handle, the handle is reused; otherwise nothing is downloaded
// while downloads are disabled by config.
func (o *Orchestrator) Attach(ctx context.Context, job Job) error {
	node := job.Node
	if !node.IsFile() {
		return nil
	}
	if prev := job.Previous; prev != nil && prev.LocalFile != nil && prev.Digest == node.Digest {
		lf := *prev.LocalFile
		node.LocalFile = &lf
		o.metrics.Materialized(ResultSkipped)
		return nil
	}
	if o.cfg.SkipFileDownloads {
		o.metrics.Materialized(ResultSkipped)
		return nil
	}

	req, err := o.Request(job)
	if err != nil {
		o.metrics.Materialized(ResultError)
		return &MaterializationError{NodeID: node.ID, Err: err}
	}

	key := node.ID + "@" + node.Digest
	o.mu.Lock()
	handle, ok := o.done[key]
	o.mu.Unlock()
	if ok {
		lf := *handle
		node.LocalFile = &lf
		o.metrics.Materialized(ResultSkipped)
		return nil
	}

	v, err, _ := o.group.Do(key, func() (any, error) {
		h, err := o.materializer.Materialize(ctx, req)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.done[key] = h
		o.mu.Unlock()
		return h, nil
	})
	if err != nil {
		o.metrics.Materialized(ResultError)
		return &MaterializationError{NodeID: node.ID, URL: req.URL, Err: err}
	}

	lf := *v.(*domain.FileHandle)
	node.LocalFile = &lf
	o.metrics.Materialized(ResultOK)
	o.logger.Debug("materialized",
		zap.String("node", node.ID),
		zap.String("url", req.URL),
		zap.String("mount", req.Mount),
		zap.String("location", lf.Location),
	)
	return nil
}

// AttachAll attaches jobs concurrently, at most concurrent_file_requests at
// a time. Failures are logged and returned; they never stop other jobs.
func (o *Orchestrator) AttachAll(ctx context.Context, jobs []Job) []*MaterializationError {
	limit := o.cfg.ConcurrentFileRequests
	if limit < 1 {
		limit = 1
	}

	var (
		mu     sync.Mutex
		failed []*MaterializationError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, job := range jobs {
		g.Go(func() error {
			err := o.Attach(gctx, job)
			var merr *MaterializationError
			if errors.As(err, &merr) {
				o.logger.Warn("file not materialized", zap.Error(merr))
				mu.Lock()
				failed = append(failed, merr)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	sort.Slice(failed, func(i, j int) bool { return failed[i].NodeID < failed[j].NodeID })
	return failed
}

// Request derives the download URL, mount and credentials of a file node
func (o *Orchestrator) Request(job Job) (FileRequest, error) {
	node := job.Node
	req := FileRequest{
		NodeID:   node.ID,
		Digest:   node.Digest,
		Filename: node.GetAttributeString("filename"),
	}

	raw, scheme := fileLocation(node)
	if raw == "" {
		raw = job.SelfLink
	}
	if raw == "" {
		return req, ErrNoURL
	}
	abs, err := resolveURL(o.cfg.BaseURL, raw)
	if err != nil {
		return req, err
	}
	req.URL = abs

	if scheme != "" {
		if _, ok := o.cfg.FileSystem(scheme); ok {
			req.Mount = scheme
		}
	} else {
		req.Mount = o.mountByPrefix(abs)
	}

	if req.Mount != "" {
		if auth := o.cfg.MountAuth(req.Mount); auth != nil {
			req.Credentials = jsonapi.Credentials{Username: auth.Username, Password: auth.Password}
		}
	}
	if req.Filename == "" {
		req.Filename = filenameFromURL(abs)
	}
	return req, nil
}

// fileLocation reads the file URL from the node's attributes. The object
// form {"value": "public://...", "url": "..."} also yields the mount scheme.
func fileLocation(node *domain.Node) (rawURL, scheme string) {
	if uri, ok := node.Attributes["uri"].(map[string]any); ok {
		if value, ok := uri["value"].(string); ok {
			if i := strings.Index(value, "://"); i > 0 {
				scheme = value[:i]
			}
		}
		if u, ok := uri["url"].(string); ok && u != "" {
			return u, scheme
		}
	}
	return node.GetAttributeString("url"), scheme
}

func (o *Orchestrator) mountByPrefix(abs string) string {
	for _, fs := range o.cfg.FileSystems {
		if fs.URLPrefix == "" {
			continue
		}
		prefix, err := resolveURL(o.cfg.BaseURL, fs.URLPrefix)
		if err != nil {
			continue
		}
		if strings.HasPrefix(abs, prefix) {
			return fs.Name
		}
	}
	return ""
}

func resolveURL(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse file url %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
