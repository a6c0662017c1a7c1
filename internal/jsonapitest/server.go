// Package jsonapitest serves a small JSON:API content repository over
// httptest for use in tests: articles that reference files and tags, a
// paginated article collection, a collection that rejects GET, and
// downloadable file bodies.
package jsonapitest

import (
	"bytes"
	"embed"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
)

//go:embed fixtures/*.json
var fixtures embed.FS

var routes = map[string]string{
	"/jsonapi":                             "jsonapi.json",
	"/jsonapi/node/article":                "node-article.json",
	"/jsonapi/node/article?page[offset]=2": "node-article-page2.json",
	"/jsonapi/file/file":                   "file-file.json",
	"/jsonapi/taxonomy_term/tags":          "taxonomy_term-tags.json",
	"/jsonapi-includes":                    "jsonapi-includes.json",
	"/jsonapi-includes/node/article":       "includes-node-article.json",
}

// RestrictedPath answers 405, like an endpoint without GET access
const RestrictedPath = "/jsonapi/node/restricted"

// FilesPath is where downloadable file bodies are served
const FilesPath = "/sites/default/files/"

// Request is one recorded request
type Request struct {
	Path     string
	RawQuery string
	Username string
	Password string
	Header   http.Header
}

// Server is a fixture JSON:API server
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	requests  []Request
	overrides map[string]int
}

// NewServer starts a fixture server that is closed when the test ends
func NewServer(t testing.TB) *Server {
	s := &Server{overrides: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Fail makes every request to p answer with status
func (s *Server) Fail(p string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[p] = status
}

// Requests returns the recorded requests in arrival order
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsFor returns the recorded requests for one path
func (s *Server) RequestsFor(p string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Path == p {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	user, pass, _ := r.BasicAuth()
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Username: user,
		Password: pass,
		Header:   r.Header.Clone(),
	})
	status, failed := s.overrides[r.URL.Path]
	s.mu.Unlock()

	if failed {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if r.URL.Path == RestrictedPath {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.HasPrefix(r.URL.Path, FilesPath) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("PNG:" + path.Base(r.URL.Path)))
		return
	}

	key := r.URL.Path
	if off := r.URL.Query().Get("page[offset]"); off != "" {
		key += "?page[offset]=" + off
	}
	name, ok := routes[key]
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := fixtures.ReadFile("fixtures/" + name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.Write(bytes.ReplaceAll(body, []byte("{{base}}"), []byte(s.URL)))
}

// Payload returns a fixture body, such as "webhook-update.json"
func Payload(t testing.TB, name string) []byte {
	t.Helper()
	body, err := fixtures.ReadFile("fixtures/" + name)
	if err != nil {
		t.Fatalf("fixture %s: %v", name, err)
	}
	return body
}
