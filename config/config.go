package config

import (
	"fmt"
	"gopkg.in/yaml.v3"
	"math"
	"os"
	"regexp"
	"strings"
	"time"
)

type Config struct {
	Calibflow  CalibflowConfig  `yaml:"calibflow"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Simulation SimulationConfig `yaml:"simulation"`
	Grid       GridConfig       `yaml:"grid"`
	Surface    SurfaceConfig    `yaml:"surface"`
	Curve      CurveConfig      `yaml:"curve"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Surrogate  SurrogateConfig  `yaml:"surrogate"`
	Calibrate  CalibrateConfig  `yaml:"calibrate"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type CalibflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	Resources   bool `yaml:"resources"`
	ChannelSize bool `yaml:"channel_size"`
}

type ChannelsConfig struct {
	RecordBuffer int `yaml:"record_buffer"`
}

// SimulationConfig fixes the market state and discretisation shared by every
// grid cell. BaseSeed anchors the per-cell noise substreams, so two runs with
// the same seed and grid produce identical corpora.
type SimulationConfig struct {
	Spot     float64 `yaml:"spot"`
	Variance float64 `yaml:"variance"`
	Horizon  float64 `yaml:"horizon"`
	Steps    int     `yaml:"steps"`
	Paths    int     `yaml:"paths"`
	BaseSeed int64   `yaml:"base_seed"`
}

type AxisConfig struct {
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Count int     `yaml:"count"`
}

type GridConfig struct {
	Mu    AxisConfig `yaml:"mu"`
	Kappa AxisConfig `yaml:"kappa"`
	Theta AxisConfig `yaml:"theta"`
	Sigma AxisConfig `yaml:"sigma"`
	Rho   AxisConfig `yaml:"rho"`
}

type MaturityConfig struct {
	Steps int     `yaml:"steps"`
	Years float64 `yaml:"years"`
}

type SurfaceConfig struct {
	Strikes    []float64        `yaml:"strikes"`
	Maturities []MaturityConfig `yaml:"maturities"`
}

type CurveKnotConfig struct {
	Year float64 `yaml:"year"`
	Rate float64 `yaml:"rate"`
}

// CurveConfig selects the rate curve used for discounting. Type "flat" uses
// Rate at every tenor, "piecewise" interpolates linearly between Knots.
type CurveConfig struct {
	Type  string            `yaml:"type"`
	Rate  float64           `yaml:"rate"`
	Knots []CurveKnotConfig `yaml:"knots"`
}

type GeneratorConfig struct {
	MaxWorkers     int           `yaml:"max_workers"`
	BatchSize      int           `yaml:"batch_size"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	Progress       bool          `yaml:"progress"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type CorpusConfig struct {
	Dir              string        `yaml:"dir"`
	Dataset          string        `yaml:"dataset"`
	Compression      string        `yaml:"compression"`
	MaxWorkers       int           `yaml:"max_workers"`
	FileRecords      int           `yaml:"file_records"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	UploadRatePerSec int           `yaml:"upload_rate_per_sec"`
}

type SurrogateConfig struct {
	HiddenLayers    []int   `yaml:"hidden_layers"`
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batch_size"`
	LearningRate    float64 `yaml:"learning_rate"`
	Momentum        float64 `yaml:"momentum"`
	ValidationSplit float64 `yaml:"validation_split"`
	Seed            int64   `yaml:"seed"`
	Checkpoint      string  `yaml:"checkpoint"`
	Progress        bool    `yaml:"progress"`
}

type CalibrateConfig struct {
	Surface       string `yaml:"surface"`
	Checkpoint    string `yaml:"checkpoint"`
	MaxIterations int    `yaml:"max_iterations"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled           bool   `yaml:"enabled"`
	Bucket            string `yaml:"bucket"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	PathStyle         bool   `yaml:"path_style"`
	Prefix            string `yaml:"prefix"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
	AccessKeyID       string `yaml:"access_key_id"`
	SecretAccessKey   string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{
			Resources:   true,
			ChannelSize: true,
		},
		Curve: CurveConfig{
			Type: "flat",
		},
		Generator: GeneratorConfig{
			Progress:       true,
			ReportInterval: 30 * time.Second,
		},
		Surrogate: SurrogateConfig{
			HiddenLayers:    []int{64, 64},
			Epochs:          200,
			BatchSize:       32,
			LearningRate:    0.001,
			Momentum:        0.9,
			ValidationSplit: 0.1,
			Seed:            1,
			Checkpoint:      "surrogate.json",
			Progress:        true,
		},
		Calibrate: CalibrateConfig{
			Checkpoint:    "surrogate.json",
			MaxIterations: 400,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Calibflow.Name == "" {
		return fmt.Errorf("calibflow.name is required")
	}

	if cfg.Calibflow.Version == "" {
		return fmt.Errorf("calibflow.version is required")
	}

	if cfg.Channels.RecordBuffer <= 0 {
		return fmt.Errorf("channels.record_buffer must be greater than 0")
	}

	if cfg.Simulation.Spot <= 0 || math.IsInf(cfg.Simulation.Spot, 0) {
		return fmt.Errorf("simulation.spot must be greater than 0")
	}
	if cfg.Simulation.Variance < 0 || math.IsNaN(cfg.Simulation.Variance) {
		return fmt.Errorf("simulation.variance must not be negative")
	}
	if cfg.Simulation.Horizon <= 0 || math.IsInf(cfg.Simulation.Horizon, 0) {
		return fmt.Errorf("simulation.horizon must be greater than 0")
	}
	if cfg.Simulation.Steps <= 0 {
		return fmt.Errorf("simulation.steps must be greater than 0")
	}
	if cfg.Simulation.Paths <= 0 {
		return fmt.Errorf("simulation.paths must be greater than 0")
	}

	axes := []struct {
		name string
		axis AxisConfig
	}{
		{"grid.mu", cfg.Grid.Mu},
		{"grid.kappa", cfg.Grid.Kappa},
		{"grid.theta", cfg.Grid.Theta},
		{"grid.sigma", cfg.Grid.Sigma},
		{"grid.rho", cfg.Grid.Rho},
	}
	for _, a := range axes {
		if a.axis.Count <= 0 {
			return fmt.Errorf("%s.count must be greater than 0", a.name)
		}
		if a.axis.Min > a.axis.Max {
			return fmt.Errorf("%s.min must not exceed %s.max", a.name, a.name)
		}
	}

	if len(cfg.Surface.Strikes) == 0 {
		return fmt.Errorf("surface.strikes is required")
	}
	if len(cfg.Surface.Maturities) == 0 {
		return fmt.Errorf("surface.maturities is required")
	}
	for i, m := range cfg.Surface.Maturities {
		if m.Steps < 0 || m.Steps > cfg.Simulation.Steps {
			return fmt.Errorf("surface.maturities[%d].steps must be between 0 and simulation.steps", i)
		}
		if m.Years < 0 || math.IsNaN(m.Years) {
			return fmt.Errorf("surface.maturities[%d].years must not be negative", i)
		}
	}

	switch cfg.Curve.Type {
	case "flat":
	case "piecewise":
		if len(cfg.Curve.Knots) == 0 {
			return fmt.Errorf("curve.knots is required when curve.type is piecewise")
		}
	default:
		return fmt.Errorf("curve.type must be flat or piecewise")
	}

	if cfg.Generator.MaxWorkers <= 0 {
		return fmt.Errorf("generator.max_workers must be greater than 0")
	}
	if cfg.Generator.BatchSize <= 0 {
		return fmt.Errorf("generator.batch_size must be greater than 0")
	}
	if cfg.Generator.BatchTimeout <= 0 {
		return fmt.Errorf("generator.batch_timeout must be greater than 0")
	}
	if cfg.Generator.ReportInterval <= 0 {
		return fmt.Errorf("generator.report_interval must be greater than 0")
	}

	if cfg.Corpus.Dir == "" {
		return fmt.Errorf("corpus.dir is required")
	}
	if cfg.Corpus.Dataset == "" {
		return fmt.Errorf("corpus.dataset is required")
	}
	switch cfg.Corpus.Compression {
	case "", "snappy", "gzip", "zstd", "uncompressed":
	default:
		return fmt.Errorf("corpus.compression '%s' is not supported", cfg.Corpus.Compression)
	}
	if cfg.Corpus.MaxWorkers <= 0 {
		return fmt.Errorf("corpus.max_workers must be greater than 0")
	}
	if cfg.Corpus.FileRecords <= 0 {
		return fmt.Errorf("corpus.file_records must be greater than 0")
	}
	if cfg.Corpus.FlushInterval <= 0 {
		return fmt.Errorf("corpus.flush_interval must be greater than 0")
	}
	if cfg.Corpus.UploadRatePerSec < 0 {
		return fmt.Errorf("corpus.upload_rate_per_sec must not be negative")
	}

	if len(cfg.Surrogate.HiddenLayers) == 0 {
		return fmt.Errorf("surrogate.hidden_layers is required")
	}
	for i, width := range cfg.Surrogate.HiddenLayers {
		if width <= 0 {
			return fmt.Errorf("surrogate.hidden_layers[%d] must be greater than 0", i)
		}
	}
	if cfg.Surrogate.Epochs <= 0 {
		return fmt.Errorf("surrogate.epochs must be greater than 0")
	}
	if cfg.Surrogate.BatchSize <= 0 {
		return fmt.Errorf("surrogate.batch_size must be greater than 0")
	}
	if cfg.Surrogate.LearningRate <= 0 {
		return fmt.Errorf("surrogate.learning_rate must be greater than 0")
	}
	if cfg.Surrogate.Momentum < 0 || cfg.Surrogate.Momentum >= 1 {
		return fmt.Errorf("surrogate.momentum must be in [0, 1)")
	}
	if cfg.Surrogate.ValidationSplit < 0 || cfg.Surrogate.ValidationSplit >= 1 {
		return fmt.Errorf("surrogate.validation_split must be in [0, 1)")
	}
	if cfg.Surrogate.Checkpoint == "" {
		return fmt.Errorf("surrogate.checkpoint is required")
	}

	if cfg.Calibrate.MaxIterations <= 0 {
		return fmt.Errorf("calibrate.max_iterations must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
