// Package media stores uploaded profile and community images in an
// S3-compatible bucket.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/pwardo/nextjs-threads/internal/util"
)

// MaxUploadBytes matches the 4MB limit the frontend enforces.
const MaxUploadBytes = 4 << 20

var (
	ErrTooLarge    = errors.New("file too large")
	ErrUnsupported = errors.New("unsupported media type")
	ErrEmpty       = errors.New("empty file")
)

// ObjectStore is the subset of an object storage client the uploader needs.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
}

type Upload struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Uploader struct {
	objects   ObjectStore
	publicURL string
	now       func() time.Time
}

// NewUploader builds uploaded object URLs as publicURL + "/" + key.
func NewUploader(objects ObjectStore, publicURL string) *Uploader {
	return &Uploader{
		objects:   objects,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// Upload sniffs data, accepts only images, and stores it under a fresh key.
func (u *Uploader) Upload(ctx context.Context, filename string, data []byte) (Upload, error) {
	if len(data) == 0 {
		return Upload{}, ErrEmpty
	}
	if len(data) > MaxUploadBytes {
		return Upload{}, ErrTooLarge
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return Upload{}, fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}

	key := objectKey(u.now(), filename, contentType)
	if err := u.objects.Put(ctx, key, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
		return Upload{}, fmt.Errorf("store upload: %w", err)
	}

	return Upload{
		Key:         key,
		URL:         u.publicURL + "/" + key,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

func objectKey(now time.Time, filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("uploads/%s/%s%s", now.UTC().Format("2006/01"), util.NewID("img"), ext)
}
