package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

var unitSquare = orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}}

func item(id, datetime string, cloud float64) map[string]interface{} {
	props := map[string]interface{}{"eo:cloud_cover": cloud}
	if datetime != "" {
		props["datetime"] = datetime
	}
	return map[string]interface{}{
		"type":       "Feature",
		"id":         id,
		"collection": models.CollectionSentinel2,
		"bbox":       []float64{-1, -1, 2, 2},
		"geometry": map[string]interface{}{
			"type":        "Polygon",
			"coordinates": [][][]float64{{{-1, -1}, {2, -1}, {2, 2}, {-1, 2}, {-1, -1}}},
		},
		"properties": props,
		"assets": map[string]interface{}{
			"B04":       map[string]string{"href": "https://acct.blob.core.windows.net/s2/" + id + "/B04.tif"},
			"thumbnail": map[string]string{"href": "https://example.com/" + id + ".png"},
		},
	}
}

type fakeCatalog struct {
	conformance []string
	items       []map[string]interface{}
	searches    int32
	lastBody    map[string]interface{}
	signCalls   int32
	signFails   bool
}

func (f *fakeCatalog) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"conformsTo": f.conformance})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.searches, 1)
		if r.Method == http.MethodPost {
			f.lastBody = map[string]interface{}{}
			json.NewDecoder(r.Body).Decode(&f.lastBody)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"type": "FeatureCollection", "features": f.items})
	})
	mux.HandleFunc("/collections/sentinel-2-l2a/items/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/collections/sentinel-2-l2a/items/")
		for _, it := range f.items {
			if it["id"] == id {
				json.NewEncoder(w).Encode(it)
				return
			}
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/sign", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.signCalls, 1)
		if f.signFails {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"href":        r.URL.Query().Get("href") + "?se=2099-01-01&sig=abc",
			"msft:expiry": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/token/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "se=2099-01-01&sig=tok"})
	})
	return mux
}

func newClient(t *testing.T, f *fakeCatalog, mode string) Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	client, err := New(context.Background(), config.CatalogConfig{
		URL:      srv.URL,
		SignURL:  srv.URL + "/sign",
		TokenURL: srv.URL + "/token",
		Mode:     mode,
	}, Options{HTTPClient: srv.Client()})
	require.NoError(t, err)
	return client
}

func TestAutoModeSelectsClientFromConformance(t *testing.T) {
	f := &fakeCatalog{conformance: []string{
		"https://api.stacspec.org/v1.0.0/item-search",
		"https://api.stacspec.org/v1.0.0/item-search#sort",
	}}
	_, ok := newClient(t, f, "auto").(*SearchClient)
	assert.True(t, ok)

	f = &fakeCatalog{conformance: []string{"https://api.stacspec.org/v1.0.0/core"}}
	_, ok = newClient(t, f, "auto").(*DirectClient)
	assert.True(t, ok)
}

func TestClientsProduceIdenticalScenes(t *testing.T) {
	f := &fakeCatalog{items: []map[string]interface{}{
		item("S2A_OLD", "2024-05-01T10:00:00Z", 5),
		item("S2A_NEW", "2024-05-11T10:00:00Z", 10),
		item("S2A_CLOUDY", "2024-05-06T10:00:00Z", 80),
		item("S2A_NODATE", "", 1),
	}}
	maxCloud := 20.0
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)

	direct, err := newClient(t, f, "direct").Search(context.Background(), unitSquare, from, to, &maxCloud, models.CollectionSentinel2)
	require.NoError(t, err)
	require.Len(t, direct, 2)
	assert.Equal(t, "S2A_NEW", direct[0].SceneID)
	assert.Equal(t, "S2A_OLD", direct[1].SceneID)

	// the fake ignores the server side filter, so restrict the items to what
	// a conforming catalog would return
	f.items = []map[string]interface{}{f.items[1], f.items[0], f.items[3]}
	search, err := newClient(t, f, "search").Search(context.Background(), unitSquare, from, to, &maxCloud, models.CollectionSentinel2)
	require.NoError(t, err)
	assert.Equal(t, direct, search)

	assert.Equal(t, "2024-05-01/2024-05-31", f.lastBody["datetime"])
	assert.NotNil(t, f.lastBody["query"])
	assert.NotNil(t, f.lastBody["intersects"])

	scene := search[0]
	assert.Equal(t, "https://example.com/S2A_NEW.png", scene.PreviewURL)
	assert.Contains(t, scene.Assets["B04"], "sig=abc")
	require.NotNil(t, scene.CloudCover)
	assert.Equal(t, 10.0, *scene.CloudCover)
	assert.NotNil(t, scene.Footprint)
}

func TestDirectSearchDropsScenesOutsideConcaveParcel(t *testing.T) {
	notch := item("S2A_NOTCH", "2024-05-02T10:00:00Z", 1)
	notch["bbox"] = []float64{1.2, 1.2, 1.8, 1.8}
	notch["geometry"] = map[string]interface{}{
		"type":        "Polygon",
		"coordinates": [][][]float64{{{1.2, 1.2}, {1.8, 1.2}, {1.8, 1.8}, {1.2, 1.8}, {1.2, 1.2}}},
	}
	f := &fakeCatalog{items: []map[string]interface{}{
		item("S2A_COVER", "2024-05-01T10:00:00Z", 1),
		notch,
	}}
	lShape := orb.MultiPolygon{{{{0, 0}, {2, 0}, {2, 1}, {1, 1}, {1, 2}, {0, 2}, {0, 0}}}}
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)

	scenes, err := newClient(t, f, "direct").Search(context.Background(), lShape, from, to, nil, models.CollectionSentinel2)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "S2A_COVER", scenes[0].SceneID)
}

func TestRadarSearchOmitsCloudFilter(t *testing.T) {
	radar := item("S1_A", "2024-05-02T10:00:00Z", 0)
	radar["collection"] = models.CollectionSentinel1
	f := &fakeCatalog{items: []map[string]interface{}{radar}}

	maxCloud := 100.0
	scenes, err := newClient(t, f, "search").Search(context.Background(), unitSquare,
		time.Now().AddDate(0, 0, -3), time.Now(), &maxCloud, models.CollectionSentinel1)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Nil(t, scenes[0].CloudCover)
	assert.Nil(t, f.lastBody["query"])
}

func TestGetByID(t *testing.T) {
	f := &fakeCatalog{items: []map[string]interface{}{item("S2A_ONE", "2024-05-11T10:00:00Z", 3)}}
	client := newClient(t, f, "direct")

	scene, err := client.GetByID(context.Background(), "S2A_ONE", models.CollectionSentinel2)
	require.NoError(t, err)
	require.NotNil(t, scene)
	assert.Equal(t, "S2A_ONE", scene.SceneID)

	scene, err = client.GetByID(context.Background(), "S2A_MISSING", models.CollectionSentinel2)
	require.NoError(t, err)
	assert.Nil(t, scene)
}

func TestSignerCachesPerContainerAndFallsBack(t *testing.T) {
	f := &fakeCatalog{}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	signer := NewSigner(config.CatalogConfig{SignURL: srv.URL + "/sign", TokenURL: srv.URL + "/token"}, srv.Client(), nil)
	ctx := context.Background()

	a := signer.Sign(ctx, "https://acct.blob.core.windows.net/s2/a/B04.tif", "sentinel-2-l2a")
	b := signer.Sign(ctx, "https://acct.blob.core.windows.net/s2/b/B08.tif", "sentinel-2-l2a")
	assert.Equal(t, "https://acct.blob.core.windows.net/s2/a/B04.tif?se=2099-01-01&sig=abc", a)
	assert.Equal(t, "https://acct.blob.core.windows.net/s2/b/B08.tif?se=2099-01-01&sig=abc", b)
	assert.Equal(t, int32(1), f.signCalls)

	assert.Equal(t, "https://example.com/x.tif", signer.Sign(ctx, "https://example.com/x.tif", "sentinel-2-l2a"))

	f.signFails = true
	c := signer.Sign(ctx, "https://other.blob.core.windows.net/s1/c.tif", "sentinel-1-rtc")
	assert.Equal(t, "https://other.blob.core.windows.net/s1/c.tif?se=2099-01-01&sig=tok", c)
}

func TestCoverageRatio(t *testing.T) {
	full := models.Scene{BBox: []float64{-1, -1, 2, 2}}
	assert.InDelta(t, 1.0, CoverageRatio(full, unitSquare), 1e-9)

	half := models.Scene{Footprint: orb.Polygon{{{0.5, 0}, {1.5, 0}, {1.5, 1}, {0.5, 1}, {0.5, 0}}}}
	assert.InDelta(t, 0.5, CoverageRatio(half, unitSquare), 1e-9)

	disjoint := models.Scene{BBox: []float64{5, 5, 6, 6}}
	assert.Equal(t, 0.0, CoverageRatio(disjoint, unitSquare))

	// footprint wins over the bounding box
	both := models.Scene{BBox: []float64{-1, -1, 2, 2}, Footprint: half.Footprint}
	assert.InDelta(t, 0.5, CoverageRatio(both, unitSquare), 1e-9)

	invalidBBox := models.Scene{BBox: []float64{2, 2, 1, 1}}
	assert.Equal(t, 0.0, CoverageRatio(invalidBBox, unitSquare))
	assert.Equal(t, 0.0, CoverageRatio(full, orb.MultiPolygon{}))
}
