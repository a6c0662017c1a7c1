// Package jsonapi reads collections from a JSON:API server.
//
// Client.Index discovers the collections the server exposes. Client.
// FetchCollection walks one collection page by page, following links.next,
// and yields every resource in data and included as it goes.
package jsonapi

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"contentgraph/internal/domain"
	"contentgraph/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FetchError reports a collection page that could not be read
type FetchError struct {
	URL    string
	Status int // 0 when the failure was not an HTTP status
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newFetchError(url string, err error) *FetchError {
	fe := &FetchError{URL: url, Err: err}
	var se *StatusError
	if errors.As(err, &se) {
		fe.Status = se.Status
	}
	return fe
}

// FetchOptions tune one collection fetch. Filter and Include are appended to
// the first page URL only; next links already carry them.
type FetchOptions struct {
	Filter      string // raw query string, e.g. "filter[status]=1"
	Include     string // comma separated relationship paths
	Credentials Credentials
}

// Client reads from one JSON:API server
type Client struct {
	transport Transport
	baseURL   string
	apiBase   string
	creds     Credentials
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewClient creates a client for baseURL/apiBase
func NewClient(transport Transport, baseURL, apiBase string, creds Credentials, logger *zap.Logger, m *metrics.Collector) *Client {
	return &Client{
		transport: transport,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiBase:   strings.Trim(apiBase, "/"),
		creds:     creds,
		logger:    logger.Named("fetcher"),
		metrics:   m,
	}
}

// IndexURL returns the API root
func (c *Client) IndexURL() string {
	return c.baseURL + "/" + c.apiBase
}

// Credentials returns the credentials used for API requests
func (c *Client) Credentials() Credentials {
	return c.creds
}

type indexDocument struct {
	Links map[string]domain.Link `json:"links"`
}

// Index returns relation name -> collection URL from the API root
func (c *Client) Index(ctx context.Context) (map[string]string, error) {
	indexURL := c.IndexURL()
	body, err := c.transport.FetchPage(ctx, indexURL, c.creds)
	if err != nil {
		return nil, newFetchError(indexURL, err)
	}

	var doc indexDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, newFetchError(indexURL, fmt.Errorf("decode index: %w", err))
	}

	links := make(map[string]string, len(doc.Links))
	for rel, link := range doc.Links {
		if link.Href == "" {
			continue
		}
		links[rel] = resolveURL(indexURL, link.Href)
	}
	return links, nil
}

// FetchCollection lazily walks a collection. Each call starts over from the
// first page. A 405 on any page ends the collection without error; any
// other failure yields a *FetchError and stops.
func (c *Client) FetchCollection(ctx context.Context, entityType, collectionURL string, opts FetchOptions) iter.Seq2[domain.RawEntity, error] {
	return func(yield func(domain.RawEntity, error) bool) {
		creds := opts.Credentials
		if creds.IsZero() {
			creds = c.creds
		}

		next := firstPageURL(collectionURL, opts)
		seen := make(map[string]bool)
		for next != "" && !seen[next] {
			seen[next] = true
			if err := ctx.Err(); err != nil {
				yield(domain.RawEntity{}, err)
				return
			}

			body, err := c.transport.FetchPage(ctx, next, creds)
			if err != nil {
				var se *StatusError
				if errors.As(err, &se) && se.Status == http.StatusMethodNotAllowed {
					c.logger.Info("collection does not support GET, skipping",
						zap.String("type", entityType), zap.String("url", next))
					return
				}
				c.metrics.FetchFailed(entityType)
				yield(domain.RawEntity{}, newFetchError(next, err))
				return
			}

			var page domain.Page
			if err := json.Unmarshal(body, &page); err != nil {
				c.metrics.FetchFailed(entityType)
				yield(domain.RawEntity{}, newFetchError(next, fmt.Errorf("decode page: %w", err)))
				return
			}
			c.metrics.PageFetched(entityType)

			for _, batch := range [][]domain.RawEntity{page.Data, page.Included} {
				for _, entity := range batch {
					c.metrics.EntityFetched(entity.Type)
					if !yield(entity, nil) {
						return
					}
				}
			}

			if n := page.Next(); n != "" {
				next = resolveURL(next, n)
			} else {
				next = ""
			}
		}
	}
}

func firstPageURL(collectionURL string, opts FetchOptions) string {
	var params []string
	if opts.Filter != "" {
		params = append(params, strings.TrimPrefix(opts.Filter, "?"))
	}
	if opts.Include != "" {
		params = append(params, "include="+opts.Include)
	}
	if len(params) == 0 {
		return collectionURL
	}
	sep := "?"
	if strings.Contains(collectionURL, "?") {
		sep = "&"
	}
	return collectionURL + sep + strings.Join(params, "&")
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
