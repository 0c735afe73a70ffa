package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

const (
	directPageSize = 100
	directMaxPages = 5
)

// DirectClient talks plain GET search to catalogs without sort or query
// extensions. The server filters by bounding box only, so footprint
// intersection and the remaining filters happen locally.
type DirectClient struct {
	baseURL string
	http    *http.Client
	signer  *Signer
	logger  *slog.Logger
}

func (c *DirectClient) Search(ctx context.Context, geom orb.MultiPolygon, from, to time.Time, maxCloud *float64, collection string) ([]models.Scene, error) {
	b := geom.Bound()
	q := url.Values{}
	q.Set("collections", collection)
	q.Set("bbox", fmt.Sprintf("%s,%s,%s,%s", ftoa(b.Min[0]), ftoa(b.Min[1]), ftoa(b.Max[0]), ftoa(b.Max[1])))
	q.Set("datetime", dateRange(from, to))
	q.Set("limit", strconv.Itoa(directPageSize))
	next := c.baseURL + "/search?" + q.Encode()

	var scenes []models.Scene
	for page := 0; next != "" && page < directMaxPages; page++ {
		var fc itemCollection
		if err := getJSON(ctx, c.http, next, nil, &fc); err != nil {
			return nil, catalogError(err, "catalog search failed")
		}
		for _, item := range fc.Features {
			scene, ok := toScene(ctx, item, collection, c.signer)
			if !ok {
				continue
			}
			if maxCloud != nil && scene.CloudCover != nil && *scene.CloudCover > *maxCloud {
				continue
			}
			if !overlapsParcel(scene, geom) {
				continue
			}
			scenes = append(scenes, scene)
		}
		next = ""
		if link := nextLink(fc.Links); link != nil && len(fc.Features) > 0 {
			next = link.Href
		}
	}

	sort.SliceStable(scenes, func(i, j int) bool {
		return scenes[i].AcquiredAt.After(scenes[j].AcquiredAt)
	})
	if len(scenes) > MaxResults {
		scenes = scenes[:MaxResults]
	}
	return scenes, nil
}

func (c *DirectClient) GetByID(ctx context.Context, sceneID, collection string) (*models.Scene, error) {
	u := fmt.Sprintf("%s/collections/%s/items/%s", c.baseURL, url.PathEscape(collection), url.PathEscape(sceneID))
	var item stacItem
	if err := getJSON(ctx, c.http, u, nil, &item); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, catalogError(err, "catalog lookup failed")
	}
	scene, ok := toScene(ctx, item, collection, c.signer)
	if !ok {
		return nil, nil
	}
	return &scene, nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
