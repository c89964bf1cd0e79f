package storage

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"alcyxob/filemanager/internal/config"
)

// Default expiry durations for presigned URLs
const (
	DefaultUploadExpiry   = time.Hour
	DefaultDownloadExpiry = 7 * 24 * time.Hour
)

// Used when the extension is unknown or missing
const defaultContentType = "application/octet-stream"

// UploadGrant is a storage key together with a URL the client can PUT the
// file to.
type UploadGrant struct {
	ObjectKey string `json:"objectKey"`
	UploadURL string `json:"uploadUrl"`
}

// FileStorage defines the object storage operations the file manager needs.
type FileStorage interface {
	// IssueUploadGrant derives a fresh object key from the original file
	// name and presigns a PUT for it.
	IssueUploadGrant(ctx context.Context, originalName string, expires time.Duration) (*UploadGrant, error)

	// IssueDownloadURL presigns a GET for objectKey. An empty key yields ""
	// without contacting the backend.
	IssueDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)

	// DeleteObject removes an object. An empty key is a no-op.
	DeleteObject(ctx context.Context, objectKey string) error
}

// New builds the backend selected by cfg.Driver.
func New(cfg config.StorageConfig, s3cfg config.S3Config) (FileStorage, error) {
	switch cfg.Driver {
	case "", "s3": // S3, R2, MinIO and other S3-compatible services
		return NewS3Storage(s3cfg)
	case "memory": // Local development and tests, nothing leaves the process
		return NewMemoryStorage(s3cfg.BucketName, s3cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ObjectKeyFor turns an original file name into a collision-resistant
// object key: "My Photo.PNG" becomes "<prefix>/my-photo1700000000000.PNG".
func ObjectKeyFor(prefix, originalName string, now time.Time) string {
	// Keep the extension as given so the content type still resolves
	ext := path.Ext(originalName)
	base := strings.TrimSuffix(originalName, ext)
	// Lowercase and dash-separate the rest
	base = strings.Join(strings.Split(strings.ToLower(base), " "), "-")
	// Millisecond timestamp keeps repeated uploads of one name apart
	key := base + strconv.FormatInt(now.UnixMilli(), 10) + ext
	if prefix != "" { // Optional folder inside the bucket
		key = path.Join(prefix, key)
	}
	return key
}

// ContentTypeFor guesses a MIME type from the file extension.
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return defaultContentType
}
