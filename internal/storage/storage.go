// Package storage keeps generated layers and exports in an S3 compatible
// object store.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/config"
)

// Store is the object storage used by the pipeline.
type Store interface {
	// Upload stores data under key and returns its URI.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Download reads an object previously returned by Upload.
	Download(ctx context.Context, uri string) ([]byte, error)
}

// BuildObjectKey joins prefix, id and extension as "{prefix}/{id}.{ext}".
func BuildObjectKey(prefix, objectID, extension string) string {
	return fmt.Sprintf("%s/%s.%s", prefix, objectID, strings.TrimLeft(extension, "."))
}

// locator maps between object URIs and bucket keys.
type locator struct {
	endpoint string
	bucket   string
	hosts    map[string]bool
}

func newLocator(endpoint, publicEndpoint, bucket string) locator {
	l := locator{endpoint: strings.TrimRight(endpoint, "/"), bucket: bucket, hosts: map[string]bool{}}
	for _, e := range []string{endpoint, publicEndpoint} {
		if u, err := url.Parse(e); err == nil && u.Host != "" {
			l.hosts[u.Host] = true
		}
	}
	return l
}

func (l locator) uri(key string) string {
	return l.endpoint + "/" + l.bucket + "/" + key
}

// key returns the object key of uri, or false when uri is not in the bucket.
func (l locator) key(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || !l.hosts[u.Host] {
		return "", false
	}
	prefix := "/" + l.bucket + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, prefix)
	return key, key != ""
}

// PublicEndpoint returns the endpoint browsers should use: the configured
// public endpoint, or the internal one with the "minio" docker host mapped
// to localhost.
func PublicEndpoint(cfg config.StorageConfig) string {
	if cfg.PublicEndpoint != "" {
		return cfg.PublicEndpoint
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return cfg.Endpoint
	}
	if u.Hostname() == "minio" {
		host := "localhost"
		if p := u.Port(); p != "" {
			host += ":" + p
		}
		return u.Scheme + "://" + host
	}
	return cfg.Endpoint
}

// MinioStore is a Store backed by minio-go.
type MinioStore struct {
	internal *minio.Client
	public   *minio.Client
	bucket   string
	loc      locator
}

func newClient(endpoint string, cfg config.StorageConfig) (*minio.Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid storage endpoint %q", endpoint)
	}
	return minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: u.Scheme == "https" || cfg.Secure,
		Region: cfg.Region,
	})
}

// NewMinioStore connects to the configured endpoint. Presigned URLs for
// external callers are signed against PublicEndpoint.
func NewMinioStore(cfg config.StorageConfig) (*MinioStore, error) {
	internal, err := newClient(cfg.Endpoint, cfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, err, "failed to create storage client")
	}
	public := internal
	if pe := PublicEndpoint(cfg); pe != cfg.Endpoint {
		if public, err = newClient(pe, cfg); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorage, err, "failed to create public storage client")
		}
	}
	return &MinioStore{
		internal: internal,
		public:   public,
		bucket:   cfg.Bucket,
		loc:      newLocator(cfg.Endpoint, cfg.PublicEndpoint, cfg.Bucket),
	}, nil
}

// EnsureBucket creates the bucket when missing.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.internal.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, err, "failed to check bucket")
	}
	if exists {
		return nil
	}
	if err := s.internal.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return apperr.Wrap(apperr.CodeStorage, err, "failed to create bucket")
	}
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.internal.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeStorage, err, "failed to upload "+key)
	}
	return s.loc.uri(key), nil
}

func (s *MinioStore) Download(ctx context.Context, uri string) ([]byte, error) {
	key, ok := s.loc.key(uri)
	if !ok {
		return nil, apperr.New(apperr.CodeStorage, "URI is not in configured object storage bucket")
	}
	obj, err := s.internal.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, err, "failed to download "+key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, err, "failed to read "+key)
	}
	return data, nil
}

// Presign returns a time-limited GET URL for uri. URIs outside the bucket
// are returned unchanged.
func (s *MinioStore) Presign(ctx context.Context, uri string, expires time.Duration, external bool) (string, error) {
	key, ok := s.loc.key(uri)
	if !ok {
		return uri, nil
	}
	client := s.internal
	if external {
		client = s.public
	}
	u, err := client.PresignedGetObject(ctx, s.bucket, key, expires, url.Values{})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeStorage, err, "failed to presign "+key)
	}
	return u.String(), nil
}

// MemoryStore keeps objects in memory. It is used by the one-shot CLI when
// no object store is configured, and by tests.
type MemoryStore struct {
	mu      sync.Mutex
	loc     locator
	objects map[string][]byte
	types   map[string]string
}

// NewMemoryStore returns an empty store whose URIs look like
// "{endpoint}/{bucket}/{key}".
func NewMemoryStore(endpoint, bucket string) *MemoryStore {
	return &MemoryStore{
		loc:     newLocator(endpoint, "", bucket),
		objects: map[string][]byte{},
		types:   map[string]string{},
	}
}

func (s *MemoryStore) Upload(_ context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	s.types[key] = contentType
	return s.loc.uri(key), nil
}

func (s *MemoryStore) Download(_ context.Context, uri string) ([]byte, error) {
	key, ok := s.loc.key(uri)
	if !ok {
		return nil, apperr.New(apperr.CodeStorage, "URI is not in configured object storage bucket")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, apperr.New(apperr.CodeStorage, "object not found: "+key)
	}
	return data, nil
}

// Keys lists stored keys.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

// ContentType returns the content type recorded for key.
func (s *MemoryStore) ContentType(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types[key]
}
