package attach

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"contentgraph/internal/config"
	"contentgraph/internal/domain"
)

// S3Materializer copies files into a bucket under <prefix>/<node id>/<filename>
type S3Materializer struct {
	client *s3.Client
	bucket string
	prefix string
	opener Opener
}

// NewS3Materializer creates an S3 client from cfg
func NewS3Materializer(cfg config.S3Config, opener Opener) (*S3Materializer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := s3.Options{
		Region:       region,
		UsePathStyle: true,
	}
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &S3Materializer{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		opener: opener,
	}, nil
}

// Key returns the object key for a request
func (m *S3Materializer) Key(req FileRequest) string {
	return path.Join(m.prefix, req.NodeID, safeName(req))
}

func (m *S3Materializer) Materialize(ctx context.Context, req FileRequest) (*domain.FileHandle, error) {
	body, _, err := m.opener.Open(ctx, req.URL, req.Credentials)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	// spooled so the upload has a known length and can be re-read for signing
	spool, err := os.CreateTemp("", "contentgraph-s3-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	n, err := io.Copy(spool, body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", req.URL, err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	key := m.Key(req)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          spool,
		ContentLength: aws.Int64(n),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return &domain.FileHandle{Backend: "s3", Location: "s3://" + m.bucket + "/" + key, Size: n}, nil
}
