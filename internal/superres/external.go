package superres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/raster"
)

// External delegates generation to a provider outside the process, either
// an HTTP endpoint or a templated shell command. The endpoint wins when
// both are configured.
type External struct {
	cfg       config.ExternalConfig
	bandOrder []string
	http      *http.Client
	logger    *slog.Logger
	caps      Capabilities
}

// NewExternal builds the external backend.
func NewExternal(cfg config.ExternalConfig, opts Options) *External {
	opts = opts.withDefaults()
	order := ParseBandOrder(cfg.BandOrder)
	return &External{
		cfg:       cfg,
		bandOrder: order,
		http:      opts.HTTPClient,
		logger:    opts.Logger,
		caps: Capabilities{
			ModelName:      "s2dr3-external",
			Version:        "external",
			SupportedBands: append([]string(nil), order...),
			ScaleFactor:    max(cfg.ScaleFactor, 1),
			RuntimeClass:   RuntimeExternal,
		},
	}
}

func (e *External) Capabilities() Capabilities {
	return e.caps
}

func (e *External) Generate(ctx context.Context, req Request) (map[string]*raster.Grid, error) {
	if e.cfg.Endpoint != "" {
		return e.viaHTTP(ctx, req)
	}
	if e.cfg.CommandTemplate != "" {
		return e.viaCommand(ctx, req)
	}
	return nil, inferenceError("External SR provider selected but no integration is configured. Set SR_EXTERNAL_ENDPOINT or SR_EXTERNAL_COMMAND_TEMPLATE.")
}

type externalPayload struct {
	Date           string            `json:"date"`
	AOI            *geojson.Geometry `json:"aoi_geojson"`
	RequestedBands []string          `json:"requested_bands"`
	SourceAssets   map[string]string `json:"source_assets"`
}

type externalResponse struct {
	Bands       map[string][][]float64 `json:"bands"`
	GeoTIFFURL  string                 `json:"geotiff_url"`
	GeoTIFFPath string                 `json:"geotiff_path"`
}

func (e *External) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, tail(string(data), 200))
	}
	return data, nil
}

func (e *External) viaHTTP(ctx context.Context, req Request) (map[string]*raster.Grid, error) {
	payload, err := json.Marshal(externalPayload{
		Date:           req.AcquisitionDate.Format("2006-01-02"),
		AOI:            geojson.NewGeometry(req.AOI),
		RequestedBands: e.bandOrder,
		SourceAssets:   req.SourceAssets,
	})
	if err != nil {
		return nil, wrapInference(err, "failed to encode SR request")
	}

	data, err := e.do(ctx, http.MethodPost, e.cfg.Endpoint, payload)
	if err != nil {
		return nil, inferenceError("External SR HTTP provider failed: %v", err)
	}
	var body externalResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, inferenceError("External SR HTTP provider returned invalid JSON: %v", err)
	}

	if len(body.Bands) > 0 {
		out := map[string]*raster.Grid{}
		for _, name := range e.bandOrder {
			rows, ok := body.Bands[name]
			if !ok {
				continue
			}
			g, err := gridFromRows(rows)
			if err != nil {
				return nil, wrapInference(err, "invalid band "+name)
			}
			out[name] = g
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	if body.GeoTIFFURL != "" {
		tif, err := e.do(ctx, http.MethodGet, body.GeoTIFFURL, nil)
		if err != nil {
			return nil, inferenceError("External SR GeoTIFF download failed: %v", err)
		}
		return readStack(tif, e.bandOrder)
	}
	if body.GeoTIFFPath != "" {
		return readStackFile(body.GeoTIFFPath, e.bandOrder)
	}
	return nil, inferenceError("External SR provider response is unsupported. Expected `bands`, `geotiff_url`, or `geotiff_path`.")
}

func gridFromRows(rows [][]float64) (*raster.Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty band")
	}
	g := raster.NewGrid(len(rows[0]), len(rows))
	for y, row := range rows {
		if len(row) != g.Width {
			return nil, fmt.Errorf("row %d has %d samples, want %d", y, len(row), g.Width)
		}
		copy(g.Data[y*g.Width:], row)
	}
	return g, nil
}

// renderTemplate substitutes {date}, {geojson}, {output} and the
// {bbox_w,s,e,n} placeholders.
func renderTemplate(tmpl string, values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", values[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func (e *External) viaCommand(ctx context.Context, req Request) (map[string]*raster.Grid, error) {
	tmp, err := os.MkdirTemp("", "s2dr3_")
	if err != nil {
		return nil, wrapInference(err, "failed to create work directory")
	}
	defer os.RemoveAll(tmp)

	aoiPath := filepath.Join(tmp, "aoi.geojson")
	output := filepath.Join(tmp, "output.tif")
	feature, err := json.Marshal(geojson.NewFeature(req.AOI))
	if err != nil {
		return nil, wrapInference(err, "failed to encode AOI")
	}
	if err := os.WriteFile(aoiPath, feature, 0o644); err != nil {
		return nil, wrapInference(err, "failed to write AOI")
	}

	b := req.AOI.Bound()
	command := renderTemplate(e.cfg.CommandTemplate, map[string]string{
		"date":    req.AcquisitionDate.Format("2006-01-02"),
		"geojson": aoiPath,
		"output":  output,
		"bbox_w":  strconv.FormatFloat(b.Min[0], 'f', -1, 64),
		"bbox_s":  strconv.FormatFloat(b.Min[1], 'f', -1, 64),
		"bbox_e":  strconv.FormatFloat(b.Max[0], 'f', -1, 64),
		"bbox_n":  strconv.FormatFloat(b.Max[1], 'f', -1, 64),
	})

	res, err := runCommand(ctx, e.cfg.Timeout, tmp, "sh", "-c", command)
	switch {
	case err == errTimeout:
		return nil, inferenceError("External SR command timed out")
	case err != nil:
		return nil, inferenceError("External SR command failed. stdout=%s stderr=%s",
			tail(res.Stdout, outputTail), tail(res.Stderr, outputTail))
	}

	if _, err := os.Stat(output); err != nil {
		output = firstTIFF(tmp)
		if output == "" {
			return nil, inferenceError("External SR command completed without output GeoTIFF")
		}
	}
	return readStackFile(output, e.bandOrder)
}

func firstTIFF(root string) string {
	var found []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			ext := strings.ToLower(filepath.Ext(path))
			if ext == ".tif" || ext == ".tiff" {
				found = append(found, path)
			}
		}
		return nil
	})
	if len(found) == 0 {
		return ""
	}
	sort.Strings(found)
	return found[0]
}
