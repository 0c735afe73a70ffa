package superres

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/raster"
)

// Model archive mirrors, tried after the configured URL.
const (
	ModelURLCurrent = "https://nextcloud.inrae.fr/s/boabW9yCjdpLPGX/download/sr4rs_sentinel2_bands4328_france2020_savedmodel.zip"
	ModelURLLegacy  = "https://nextcloud.inrae.fr/s/6xM4jRzYx2A9Qn4/download?path=%2F&files=sr4rs_sentinel2_bands4328_france2020_savedmodel.zip"
)

const savedModelFile = "saved_model.pb"

// localBandOrder is both the input and output band order of the model.
var localBandOrder = []string{"B04", "B03", "B02", "B08"}

// LocalModel runs a saved model through an inference script. The model is
// downloaded and unpacked on first use when it is not already present.
type LocalModel struct {
	cfg    config.LocalModelConfig
	http   *http.Client
	logger *slog.Logger
	caps   Capabilities

	mu       sync.Mutex
	modelDir string
}

// NewLocalModel builds the local backend.
func NewLocalModel(cfg config.LocalModelConfig, opts Options) *LocalModel {
	opts = opts.withDefaults()
	if cfg.PythonExecutable == "" {
		cfg.PythonExecutable = "python3"
	}
	return &LocalModel{
		cfg:      cfg,
		http:     opts.HTTPClient,
		logger:   opts.Logger,
		modelDir: cfg.ModelDir,
		caps: Capabilities{
			ModelName:      "sr4rs",
			Version:        "bands4328-france2020",
			SupportedBands: append([]string(nil), localBandOrder...),
			ScaleFactor:    max(cfg.ScaleFactor, 1),
			RuntimeClass:   RuntimeGPU,
		},
	}
}

func (m *LocalModel) Capabilities() Capabilities {
	return m.caps
}

func (m *LocalModel) candidateURLs() []string {
	var urls []string
	if u := strings.TrimSpace(m.cfg.ModelURL); u != "" {
		urls = append(urls, u)
	}
	for _, u := range []string{ModelURLCurrent, ModelURLLegacy} {
		dup := false
		for _, existing := range urls {
			dup = dup || existing == u
		}
		if !dup {
			urls = append(urls, u)
		}
	}
	return urls
}

// findSavedModelDir returns the shallowest directory under root holding a
// saved_model.pb.
func findSavedModelDir(root string) string {
	var found []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == savedModelFile {
			found = append(found, filepath.Dir(path))
		}
		return nil
	})
	if len(found) == 0 {
		return ""
	}
	sort.SliceStable(found, func(i, j int) bool { return len(found[i]) < len(found[j]) })
	return found[0]
}

func (m *LocalModel) ensureModel(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if strings.TrimSpace(m.modelDir) == "" {
		return "", inferenceError("SR model directory is not configured")
	}
	if _, err := os.Stat(filepath.Join(m.modelDir, savedModelFile)); err == nil {
		return m.modelDir, nil
	}
	if dir := findSavedModelDir(m.modelDir); dir != "" {
		m.modelDir = dir
		return dir, nil
	}

	parent := filepath.Dir(m.modelDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", wrapInference(err, "failed to create model directory")
	}

	var errs []string
	for _, u := range m.candidateURLs() {
		if err := m.fetchArchive(ctx, u, parent); err != nil {
			errs = append(errs, fmt.Sprintf("%s (%v)", u, err))
			continue
		}
		if dir := findSavedModelDir(parent); dir != "" {
			m.logger.Info("SR model installed", "dir", dir, "url", u)
			m.modelDir = dir
			return dir, nil
		}
		errs = append(errs, fmt.Sprintf("%s (%s not found after extraction)", u, savedModelFile))
	}
	return "", inferenceError("Could not download/load SR4RS model. Tried URLs: %s. Errors: %s",
		strings.Join(m.candidateURLs(), ", "), strings.Join(errs, " | "))
}

func (m *LocalModel) fetchArchive(ctx context.Context, u, dest string) error {
	tmp, err := os.CreateTemp("", "sr4rs-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return err
	}

	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return fmt.Errorf("invalid archive: %w", err)
	}
	if err := extractZip(zr, dest); err != nil {
		return fmt.Errorf("invalid archive: %w", err)
	}
	return nil
}

func extractZip(zr *zip.Reader, dest string) error {
	root := filepath.Clean(dest) + string(os.PathSeparator)
	for _, f := range zr.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (m *LocalModel) Generate(ctx context.Context, req Request) (map[string]*raster.Grid, error) {
	var missing []string
	for _, b := range localBandOrder {
		if _, ok := req.NativeBands[b]; !ok {
			missing = append(missing, b)
		}
	}
	if len(missing) > 0 {
		return nil, inferenceError("SR4RS requires bands %v; missing: %v", localBandOrder, missing)
	}
	if _, err := os.Stat(m.cfg.ScriptPath); err != nil {
		return nil, inferenceError("SR4RS script not found at %s. Install the inference code or set SR_LOCAL_SCRIPT_PATH.", m.cfg.ScriptPath)
	}

	modelDir, err := m.ensureModel(ctx)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "sr4rs_")
	if err != nil {
		return nil, wrapInference(err, "failed to create work directory")
	}
	defer os.RemoveAll(tmp)

	input := filepath.Join(tmp, "input.tif")
	output := filepath.Join(tmp, "output.tif")
	if err := writeStack(input, req.NativeBands, localBandOrder); err != nil {
		return nil, err
	}

	started := time.Now()
	res, err := runCommand(ctx, m.cfg.Timeout, tmp, m.cfg.PythonExecutable, m.cfg.ScriptPath,
		"--savedmodel", modelDir, "--input", input, "--output", output)
	switch {
	case err == errTimeout:
		return nil, inferenceError("SR4RS inference timed out")
	case err != nil:
		return nil, inferenceError("SR4RS inference failed. stdout=%s stderr=%s",
			tail(res.Stdout, outputTail), tail(res.Stderr, outputTail))
	}
	if _, err := os.Stat(output); err != nil {
		return nil, inferenceError("SR4RS command completed without an output file. stdout=%s", tail(res.Stdout, outputTail))
	}
	m.logger.Info("SR4RS inference finished", "duration", time.Since(started).Round(time.Millisecond))

	return readStackFile(output, localBandOrder)
}
