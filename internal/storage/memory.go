package storage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// MemoryStorage is an in-process FileStorage for local development. It
// signs nothing; URLs carry the key and expiry in plain text.
type MemoryStorage struct {
	mu        sync.Mutex
	bucket    string
	keyPrefix string
	now       func() time.Time
	objects   map[string]time.Time // key -> time the grant was issued
	deleted   []string
}

func NewMemoryStorage(bucket, keyPrefix string) *MemoryStorage {
	if bucket == "" {
		bucket = "local"
	}
	return &MemoryStorage{
		bucket:    bucket,
		keyPrefix: keyPrefix,
		now:       time.Now,
		objects:   make(map[string]time.Time),
	}
}

func (m *MemoryStorage) IssueUploadGrant(ctx context.Context, originalName string, expires time.Duration) (*UploadGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if expires <= 0 {
		expires = DefaultUploadExpiry
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	key := ObjectKeyFor(m.keyPrefix, originalName, now)
	// Two grants for the same name in the same millisecond would collide.
	for i := 1; ; i++ {
		if _, taken := m.objects[key]; !taken {
			break
		}
		key = ObjectKeyFor(m.keyPrefix, originalName, now.Add(time.Duration(i)*time.Millisecond))
	}
	m.objects[key] = now
	return &UploadGrant{ObjectKey: key, UploadURL: m.url("PUT", key, now.Add(expires))}, nil
}

func (m *MemoryStorage) IssueDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	if objectKey == "" {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if expires <= 0 {
		expires = DefaultDownloadExpiry
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url("GET", objectKey, m.now().Add(expires)), nil
}

func (m *MemoryStorage) DeleteObject(ctx context.Context, objectKey string) error {
	if objectKey == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey)
	m.deleted = append(m.deleted, objectKey)
	return nil
}

// Exists reports whether an upload grant was issued for key and the key has
// not been deleted since.
func (m *MemoryStorage) Exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Deleted returns the keys passed to DeleteObject, in call order.
func (m *MemoryStorage) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func (m *MemoryStorage) url(method, key string, expiresAt time.Time) string {
	u := url.URL{
		Scheme: "memory",
		Host:   m.bucket,
		Path:   "/" + key,
	}
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", fmt.Sprint(expiresAt.Unix()))
	u.RawQuery = q.Encode()
	return u.String()
}
