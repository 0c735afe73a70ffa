package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
)

// Config 应用配置
type Config struct {
	Port              string        `yaml:"port"`
	DBPath            string        `yaml:"db_path"`
	JWTSecret         string        `yaml:"jwt_secret"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	WorkerConcurrency int           `yaml:"worker_concurrency"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	StaleJobAfter     time.Duration `yaml:"stale_job_after"`
	TilerURL          string        `yaml:"tiler_url"`

	Quality QualityConfig `yaml:"quality"`
	Catalog CatalogConfig `yaml:"catalog"`
	Storage StorageConfig `yaml:"storage"`
	SR      SRConfig      `yaml:"sr"`
}

// QualityConfig holds the scene quality gates and the parcel size ceiling.
type QualityConfig struct {
	CloudCapPercent       float64 `yaml:"cloud_cap_percent"`
	MinValidPixelRatio    float64 `yaml:"min_valid_pixel_ratio"`
	MinSceneCoverageRatio float64 `yaml:"min_scene_coverage_ratio"`
	MaxParcelAreaHa       float64 `yaml:"max_parcel_area_ha"`
}

// CatalogConfig points at the STAC catalog and its asset signing endpoints.
type CatalogConfig struct {
	URL             string `yaml:"url"`
	SignURL         string `yaml:"sign_url"`
	TokenURL        string `yaml:"token_url"`
	SubscriptionKey string `yaml:"subscription_key"`
	// Mode is auto, search or direct.
	Mode string `yaml:"mode"`
}

// StorageConfig describes the S3 compatible object store.
type StorageConfig struct {
	Endpoint       string `yaml:"endpoint"`
	PublicEndpoint string `yaml:"public_endpoint"`
	Region         string `yaml:"region"`
	Bucket         string `yaml:"bucket"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Secure         bool   `yaml:"secure"`
}

// SRConfig selects and configures the super-resolution backend.
type SRConfig struct {
	Provider         string           `yaml:"provider"`
	AnalyticsDefault bool             `yaml:"analytics_default"`
	Local            LocalModelConfig `yaml:"local"`
	External         ExternalConfig   `yaml:"external"`
}

// LocalModelConfig configures the local saved-model backend.
type LocalModelConfig struct {
	ScriptPath       string        `yaml:"script_path"`
	ModelDir         string        `yaml:"model_dir"`
	ModelURL         string        `yaml:"model_url"`
	PythonExecutable string        `yaml:"python_executable"`
	ScaleFactor      int           `yaml:"scale_factor"`
	Timeout          time.Duration `yaml:"timeout"`
}

// ExternalConfig configures the external provider backends.
type ExternalConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	APIKey          string        `yaml:"api_key"`
	CommandTemplate string        `yaml:"command_template"`
	BandOrder       string        `yaml:"band_order"`
	ScaleFactor     int           `yaml:"scale_factor"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:              ":8080",
		DBPath:            "./data/fieldscan.db",
		JWTSecret:         "your-secret-key-change-in-production",
		HTTPTimeout:       30 * time.Second,
		WorkerConcurrency: 2,
		SchedulerInterval: 5 * time.Minute,
		StaleJobAfter:     2 * time.Hour,
		TilerURL:          "http://tiler:8000",
		Quality: QualityConfig{
			CloudCapPercent:       20,
			MinValidPixelRatio:    0.60,
			MinSceneCoverageRatio: 0.98,
			MaxParcelAreaHa:       10000,
		},
		Catalog: CatalogConfig{
			URL:      "https://planetarycomputer.microsoft.com/api/stac/v1",
			SignURL:  "https://planetarycomputer.microsoft.com/api/sas/v1/sign",
			TokenURL: "https://planetarycomputer.microsoft.com/api/sas/v1/token",
			Mode:     "auto",
		},
		Storage: StorageConfig{
			Endpoint: "http://minio:9000",
			Region:   "us-east-1",
			Bucket:   "fieldscan",
		},
		SR: SRConfig{
			Provider: "local-model",
			Local: LocalModelConfig{
				ScriptPath:       "/opt/sr4rs/code/sr.py",
				ModelDir:         "/opt/sr4rs/models/sr4rs_sentinel2_bands4328_france2020_savedmodel",
				PythonExecutable: "python3",
				ScaleFactor:      4,
				Timeout:          30 * time.Minute,
			},
			External: ExternalConfig{
				BandOrder:   "B02,B03,B04,B08",
				ScaleFactor: 10,
				Timeout:     30 * time.Minute,
			},
		},
	}
}

// Load 加载配置
// A .env file is read first, then the YAML file named by CONFIG_FILE (if any)
// replaces the defaults, and finally environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.Port, "PORT")
	setString(&c.DBPath, "DB_PATH")
	setString(&c.JWTSecret, "JWT_SECRET")
	setDuration(&c.HTTPTimeout, "HTTP_TIMEOUT")
	setInt(&c.WorkerConcurrency, "WORKER_CONCURRENCY")
	setDuration(&c.SchedulerInterval, "SCHEDULER_INTERVAL")
	setDuration(&c.StaleJobAfter, "STALE_JOB_AFTER")
	setString(&c.TilerURL, "TILER_URL")

	setFloat(&c.Quality.CloudCapPercent, "CLOUD_CAP_PERCENT")
	setFloat(&c.Quality.MinValidPixelRatio, "MIN_VALID_PIXEL_RATIO")
	setFloat(&c.Quality.MinSceneCoverageRatio, "MIN_SCENE_COVERAGE_RATIO")
	setFloat(&c.Quality.MaxParcelAreaHa, "MAX_PARCEL_AREA_HA")

	setString(&c.Catalog.URL, "STAC_URL")
	setString(&c.Catalog.SignURL, "STAC_SIGN_URL")
	setString(&c.Catalog.TokenURL, "STAC_TOKEN_URL")
	setString(&c.Catalog.SubscriptionKey, "STAC_SUBSCRIPTION_KEY")
	setString(&c.Catalog.Mode, "CATALOG_MODE")

	setString(&c.Storage.Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.PublicEndpoint, "S3_PUBLIC_ENDPOINT")
	setString(&c.Storage.Region, "S3_REGION")
	setString(&c.Storage.Bucket, "S3_BUCKET")
	setString(&c.Storage.AccessKey, "S3_ACCESS_KEY")
	setString(&c.Storage.SecretKey, "S3_SECRET_KEY")
	setBool(&c.Storage.Secure, "S3_SECURE")

	setString(&c.SR.Provider, "SR_PROVIDER")
	setBool(&c.SR.AnalyticsDefault, "SR_ANALYTICS_DEFAULT")
	setString(&c.SR.Local.ScriptPath, "SR_LOCAL_SCRIPT_PATH")
	setString(&c.SR.Local.ModelDir, "SR_LOCAL_MODEL_DIR")
	setString(&c.SR.Local.ModelURL, "SR_LOCAL_MODEL_URL")
	setString(&c.SR.Local.PythonExecutable, "SR_LOCAL_PYTHON")
	setInt(&c.SR.Local.ScaleFactor, "SR_LOCAL_SCALE_FACTOR")
	setDuration(&c.SR.Local.Timeout, "SR_LOCAL_TIMEOUT")
	setString(&c.SR.External.Endpoint, "SR_EXTERNAL_ENDPOINT")
	setString(&c.SR.External.APIKey, "SR_EXTERNAL_API_KEY")
	setString(&c.SR.External.CommandTemplate, "SR_EXTERNAL_COMMAND_TEMPLATE")
	setString(&c.SR.External.BandOrder, "SR_EXTERNAL_BAND_ORDER")
	setInt(&c.SR.External.ScaleFactor, "SR_EXTERNAL_SCALE_FACTOR")
	setDuration(&c.SR.External.Timeout, "SR_EXTERNAL_TIMEOUT")
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	q := c.Quality
	switch {
	case q.CloudCapPercent < 0 || q.CloudCapPercent > 100:
		return apperr.Newf(apperr.CodeInvalidConfig, "cloud_cap_percent must be within [0,100], got %v", q.CloudCapPercent)
	case q.MinValidPixelRatio < 0 || q.MinValidPixelRatio > 1:
		return apperr.Newf(apperr.CodeInvalidConfig, "min_valid_pixel_ratio must be within [0,1], got %v", q.MinValidPixelRatio)
	case q.MinSceneCoverageRatio < 0 || q.MinSceneCoverageRatio > 1:
		return apperr.Newf(apperr.CodeInvalidConfig, "min_scene_coverage_ratio must be within [0,1], got %v", q.MinSceneCoverageRatio)
	case q.MaxParcelAreaHa <= 0:
		return apperr.Newf(apperr.CodeInvalidConfig, "max_parcel_area_ha must be positive, got %v", q.MaxParcelAreaHa)
	case c.WorkerConcurrency < 1:
		return apperr.Newf(apperr.CodeInvalidConfig, "worker_concurrency must be at least 1, got %d", c.WorkerConcurrency)
	case c.Storage.Bucket == "":
		return apperr.New(apperr.CodeInvalidConfig, "storage bucket is required")
	}

	switch strings.ToLower(strings.TrimSpace(c.SR.Provider)) {
	case "local-model", "sr4rs", "sr4rs_local":
		if strings.TrimSpace(c.SR.Local.ModelDir) == "" {
			return apperr.New(apperr.CodeInvalidConfig, "SR_LOCAL_MODEL_DIR is required for the local-model provider")
		}
	}

	switch strings.ToLower(c.Catalog.Mode) {
	case "auto", "search", "direct":
	default:
		return apperr.Newf(apperr.CodeInvalidConfig, "unknown catalog mode %q", c.Catalog.Mode)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go durations ("90s") or a bare number of seconds.
func setDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
	}
}
