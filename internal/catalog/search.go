package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

// SearchClient uses the STAC item-search endpoint with server side sorting
// and cloud filtering, following next links until MaxResults is reached.
type SearchClient struct {
	baseURL string
	http    *http.Client
	signer  *Signer
	logger  *slog.Logger
}

type sortField struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type searchRequest struct {
	Collections []string                      `json:"collections"`
	IDs         []string                      `json:"ids,omitempty"`
	Intersects  *geojson.Geometry             `json:"intersects,omitempty"`
	Datetime    string                        `json:"datetime,omitempty"`
	Query       map[string]map[string]float64 `json:"query,omitempty"`
	SortBy      []sortField                   `json:"sortby,omitempty"`
	Limit       int                           `json:"limit"`
}

func (c *SearchClient) Search(ctx context.Context, geom orb.MultiPolygon, from, to time.Time, maxCloud *float64, collection string) ([]models.Scene, error) {
	req := searchRequest{
		Collections: []string{collection},
		Intersects:  geojson.NewGeometry(geom),
		Datetime:    dateRange(from, to),
		SortBy:      []sortField{{Field: "properties.datetime", Direction: "desc"}},
		Limit:       MaxResults,
	}
	if maxCloud != nil && models.IsOptical(collection) {
		req.Query = map[string]map[string]float64{"eo:cloud_cover": {"lte": *maxCloud}}
	}
	return c.collect(ctx, req, collection, MaxResults)
}

func (c *SearchClient) GetByID(ctx context.Context, sceneID, collection string) (*models.Scene, error) {
	scenes, err := c.collect(ctx, searchRequest{
		Collections: []string{collection},
		IDs:         []string{sceneID},
		Limit:       1,
	}, collection, 1)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, nil
	}
	return &scenes[0], nil
}

func (c *SearchClient) collect(ctx context.Context, sr searchRequest, collection string, limit int) ([]models.Scene, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, catalogError(err, "failed to encode search")
	}
	method, url := http.MethodPost, c.baseURL+"/search"

	var scenes []models.Scene
	for page := 0; len(scenes) < limit; page++ {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := newRequest(ctx, method, url, reader)
		if err != nil {
			return nil, catalogError(err, "failed to build search request")
		}

		var fc itemCollection
		if err := doJSON(c.http, req, &fc); err != nil {
			return nil, catalogError(err, "catalog search failed")
		}
		for _, item := range fc.Features {
			if scene, ok := toScene(ctx, item, collection, c.signer); ok {
				scenes = append(scenes, scene)
				if len(scenes) == limit {
					break
				}
			}
		}

		next := nextLink(fc.Links)
		if next == nil || len(fc.Features) == 0 {
			break
		}
		url = next.Href
		method = http.MethodGet
		body = nil
		if next.Method == http.MethodPost {
			method = http.MethodPost
			body = next.Body
			if len(body) == 0 {
				body, _ = json.Marshal(sr)
			}
		}
		c.logger.Debug("following catalog next link", "page", page+1)
	}
	return scenes, nil
}

func newRequest(ctx context.Context, method, url string, body *bytes.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/geo+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func nextLink(links []stacLink) *stacLink {
	for i := range links {
		if links[i].Rel == "next" && links[i].Href != "" {
			return &links[i]
		}
	}
	return nil
}
