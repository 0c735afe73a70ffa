// Package superres raises the spatial resolution of Sentinel-2 bands through
// interchangeable backends: a local saved model run as a subprocess, an
// external HTTP or command provider, and a deterministic debug upsampler.
package superres

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/raster"
)

// Runtime classes
const (
	RuntimeGPU      = "GPU"
	RuntimeCPU      = "CPU"
	RuntimeExternal = "EXTERNAL"
)

// Capabilities describes a backend. (ModelName, Version) identifies its
// model profile.
type Capabilities struct {
	ModelName      string
	Version        string
	SupportedBands []string
	ScaleFactor    int
	RuntimeClass   string
}

// Request is the input of one generation.
type Request struct {
	AcquisitionDate time.Time
	AOI             orb.MultiPolygon
	NativeBands     map[string]*raster.Grid
	SourceAssets    map[string]string
}

// Engine is a super-resolution backend. Every failure is reported as an
// apperr.CodeSRInference error.
type Engine interface {
	Capabilities() Capabilities
	Generate(ctx context.Context, req Request) (map[string]*raster.Grid, error)
}

// Options carries shared dependencies for backends.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func inferenceError(format string, args ...interface{}) error {
	return apperr.Newf(apperr.CodeSRInference, format, args...)
}

func wrapInference(err error, message string) error {
	return apperr.Wrap(apperr.CodeSRInference, err, message)
}

// New builds the backend named by cfg.Provider.
func New(cfg config.SRConfig, opts Options) (Engine, error) {
	opts = opts.withDefaults()
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "local-model", "sr4rs", "sr4rs_local":
		return NewLocalModel(cfg.Local, opts), nil
	case "external", "s2dr3", "s2dr3_external":
		return NewExternal(cfg.External, opts), nil
	case "external-http":
		ext := cfg.External
		ext.CommandTemplate = ""
		return NewExternal(ext, opts), nil
	case "external-command":
		ext := cfg.External
		ext.Endpoint = ""
		return NewExternal(ext, opts), nil
	case "debug-upsample", "nearest":
		return NewDebug(), nil
	case "disabled", "":
		return nil, inferenceError("SR provider is disabled")
	}
	return nil, inferenceError("Unsupported SR provider '%s'", cfg.Provider)
}

// ParseBandOrder splits a comma separated band list.
func ParseBandOrder(value string) []string {
	var out []string
	for _, b := range strings.Split(value, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// tail keeps the last n bytes of process output for error messages.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
