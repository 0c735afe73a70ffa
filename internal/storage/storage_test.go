package storage

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/config"
)

func TestBuildObjectKey(t *testing.T) {
	assert.Equal(t, "layers/1/2/native/ndvi-abc.tif", BuildObjectKey("layers/1/2/native", "ndvi-abc", ".tif"))
	assert.Equal(t, "exports/7.csv", BuildObjectKey("exports", "7", "csv"))
}

func TestLocatorExtractsKnownKeys(t *testing.T) {
	loc := newLocator("http://minio:9000", "http://localhost:9000", "fieldscan")

	key, ok := loc.key("http://minio:9000/fieldscan/layers/a.tif")
	require.True(t, ok)
	assert.Equal(t, "layers/a.tif", key)

	key, ok = loc.key("http://localhost:9000/fieldscan/exports/1.png")
	require.True(t, ok)
	assert.Equal(t, "exports/1.png", key)

	_, ok = loc.key("http://minio:9000/other/a.tif")
	assert.False(t, ok)
	_, ok = loc.key("https://example.com/fieldscan/a.tif")
	assert.False(t, ok)
	_, ok = loc.key("http://minio:9000/fieldscan/")
	assert.False(t, ok)

	assert.Equal(t, "http://minio:9000/fieldscan/k.tif", loc.uri("k.tif"))
}

func TestPublicEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", PublicEndpoint(config.StorageConfig{Endpoint: "http://minio:9000"}))
	assert.Equal(t, "https://s3.example.com", PublicEndpoint(config.StorageConfig{Endpoint: "https://s3.example.com"}))
	assert.Equal(t, "https://cdn.example.com", PublicEndpoint(config.StorageConfig{
		Endpoint:       "http://minio:9000",
		PublicEndpoint: "https://cdn.example.com",
	}))
}

func TestMinioStorePresignLeavesForeignURIs(t *testing.T) {
	store, err := NewMinioStore(config.StorageConfig{
		Endpoint:  "http://minio:9000",
		Region:    "us-east-1",
		Bucket:    "fieldscan",
		AccessKey: "access",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	ctx := context.Background()
	foreign := "https://example.com/scene.tif"
	out, err := store.Presign(ctx, foreign, time.Minute, true)
	require.NoError(t, err)
	assert.Equal(t, foreign, out)

	signed, err := store.Presign(ctx, "http://minio:9000/fieldscan/layers/a.tif", 15*time.Minute, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "http://localhost:9000/fieldscan/layers/a.tif?"), signed)
	assert.Contains(t, signed, "X-Amz-Signature=")

	_, err = store.Download(ctx, foreign)
	assert.True(t, apperr.HasCode(err, apperr.CodeStorage))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore("http://minio:9000", "fieldscan")
	ctx := context.Background()

	uri, err := store.Upload(ctx, "exports/1.csv", []byte("a,b\n"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/fieldscan/exports/1.csv", uri)

	data, err := store.Download(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))
	assert.Equal(t, "text/csv", store.ContentType("exports/1.csv"))

	keys := store.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"exports/1.csv"}, keys)

	_, err = store.Download(ctx, "http://minio:9000/fieldscan/missing")
	assert.Error(t, err)
}
