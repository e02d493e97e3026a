// Package blob archives rendered exports in S3-compatible object storage and
// hands back time-limited download links.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotConfigured is returned when no archive endpoint is set.
var ErrNotConfigured = errors.New("archive storage not configured")

// Config holds object storage settings.
type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Prefix     string // Object key prefix, e.g. "exports/"
	UseSSL     bool
	LinkExpiry time.Duration
}

// Enabled reports whether an endpoint and bucket are configured.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// ArchiveStore uploads export files and returns presigned GET URLs.
type ArchiveStore struct {
	client *minio.Client
	cfg    Config
	now    func() time.Time
}

// New creates an archive store. Returns ErrNotConfigured when cfg is not enabled.
func New(cfg Config) (*ArchiveStore, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if cfg.LinkExpiry <= 0 {
		cfg.LinkExpiry = 24 * time.Hour
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &ArchiveStore{client: client, cfg: cfg, now: time.Now}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *ArchiveStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Deliver uploads content and returns a presigned download URL.
func (s *ArchiveStore) Deliver(ctx context.Context, content []byte, filename, contentType string) (string, error) {
	key := ObjectKey(s.cfg.Prefix, filename, s.now())

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", filename),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, s.cfg.LinkExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes an archived object.
func (s *ArchiveStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// ObjectKey builds the object name for an export. Keys are grouped by UTC day
// and carry a time suffix so repeated exports on the same day don't collide.
func ObjectKey(prefix, filename string, at time.Time) string {
	at = at.UTC()
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	return path.Join(prefix, at.Format("2006/01/02"), fmt.Sprintf("%s-%s%s", stem, at.Format("150405"), ext))
}
