package attach

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"contentgraph/internal/domain"
	"contentgraph/internal/jsonapi"
)

// Opener streams a remote file. *jsonapi.HTTPTransport implements it.
type Opener interface {
	Open(ctx context.Context, url string, creds jsonapi.Credentials) (io.ReadCloser, int64, error)
}

// DiskMaterializer downloads files to <dir>/<node id>/<filename>
type DiskMaterializer struct {
	dir    string
	opener Opener
}

// NewDiskMaterializer creates a materializer rooted at dir
func NewDiskMaterializer(dir string, opener Opener) *DiskMaterializer {
	return &DiskMaterializer{dir: dir, opener: opener}
}

func (d *DiskMaterializer) Materialize(ctx context.Context, req FileRequest) (*domain.FileHandle, error) {
	body, _, err := d.opener.Open(ctx, req.URL, req.Credentials)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	target := filepath.Join(d.dir, req.NodeID, safeName(req))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("create file dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return nil, fmt.Errorf("move %s: %w", target, err)
	}

	return &domain.FileHandle{Backend: "disk", Location: target, Size: n}, nil
}

// safeName keeps the stored name inside the node's directory
func safeName(req FileRequest) string {
	name := filepath.Base(filepath.Clean("/" + req.Filename))
	if name == "/" || name == "." || name == "" {
		return "file"
	}
	return name
}
