// Package config holds all roadtest configuration. Configuration is loaded
// from a YAML file, overlaid with environment variables, and every key has a
// documented default so the agent runs with an empty config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all roadtest configuration.
type Config struct {
	// DataDir is the root for all persisted state (profiles, references,
	// history, logs, vector index). Default: "data".
	DataDir string `yaml:"data_dir"`

	Device    DeviceConfig    `yaml:"device"`
	Vision    VisionConfig    `yaml:"vision"`
	Verify    VerifyConfig    `yaml:"verify"`
	Model     ModelConfig     `yaml:"model"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Execution ExecutionConfig `yaml:"execution"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig configures the adb device driver.
type DeviceConfig struct {
	// Serial selects a device when several are attached. Empty uses the
	// single connected device. Default: "".
	Serial string `yaml:"serial"`

	// Timeout bounds a single shell round-trip. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// RetryCount is the transport retry budget per primitive. Default: 3.
	RetryCount int `yaml:"retry_count"`

	// ScreenshotQuality is the JPEG quality for downscaled stream frames
	// (the full-resolution PNG capture is never recompressed). Default: 80.
	ScreenshotQuality int `yaml:"screenshot_quality"`

	// ScreenshotMaxWidth bounds stream frame width. Default: 1280.
	ScreenshotMaxWidth int `yaml:"screenshot_max_width"`

	// StreamFPS is the frame rate offered to the streaming collaborator.
	// Default: 2.
	StreamFPS int `yaml:"stream_fps"`
}

// VisionConfig configures the element resolver.
type VisionConfig struct {
	// OCRMinConfidence discards OCR candidates below this confidence
	// (0-100). Default: 40.
	OCRMinConfidence float64 `yaml:"ocr_min_confidence"`

	// FuzzyThreshold is the minimum Ratcliff-Obershelp similarity for a
	// fuzzy text match. Default: 0.85.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// VerifyConfig configures step verification.
type VerifyConfig struct {
	// SSIMThreshold is the pass bar for the primary signal. Default: 0.85.
	SSIMThreshold float64 `yaml:"ssim_threshold"`

	// ChangeThreshold is the percentage of pixels that must differ for the
	// pixel-diff fallback to count as a change. Default: 1.0.
	ChangeThreshold float64 `yaml:"change_threshold"`

	// PixelDelta is the per-pixel gray difference that counts as changed.
	// Default: 30.
	PixelDelta int `yaml:"pixel_delta"`

	// SettleDelay is the wait between execute and the after-shot capture.
	// Default: 1s.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// ModelConfig configures the multimodal model endpoint.
type ModelConfig struct {
	// Endpoint is the REST base URL. Default: the public Gemini endpoint.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates requests. Default: "" (env GEMINI_API_KEY).
	APIKey string `yaml:"api_key"`

	// Model is the model identifier. Default: "gemini-2.0-flash".
	Model string `yaml:"model"`

	// EmbeddingModel generates test-case embeddings.
	// Default: "gemini-embedding-001".
	EmbeddingModel string `yaml:"embedding_model"`

	// Temperature for planning/guidance prompts. Default: 0.2.
	Temperature float64 `yaml:"temperature"`

	// VisionTemperature for localization prompts. Default: 0.0.
	VisionTemperature float64 `yaml:"vision_temperature"`

	// Timeout bounds a single model call. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	// BudgetThreshold is the per-run model-call budget before a warning is
	// logged. Default: 50.
	BudgetThreshold int `yaml:"budget_threshold"`

	// AlertThreshold is the per-run model-call budget before calls are
	// refused. Default: 200.
	AlertThreshold int `yaml:"alert_threshold"`
}

// KnowledgeConfig configures the knowledge store.
type KnowledgeConfig struct {
	// VectorDBPath is the sqlite database holding the test-case index.
	// Default: "<data_dir>/testcases.db" (resolved at load).
	VectorDBPath string `yaml:"vector_db_path"`

	// MinSimilarity is the semantic-search cutoff. Default: 0.5.
	MinSimilarity float64 `yaml:"min_similarity"`
}

// ExecutionConfig configures the step graph and orchestrator.
type ExecutionConfig struct {
	// MaxRetries is the per-step retry budget before HITL escalation.
	// Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// MaxTransitions caps graph node transitions per invocation.
	// Default: 200 (must be >= 100).
	MaxTransitions int `yaml:"max_transitions"`

	// RunWait is how long a second RunTest waits for the active run before
	// reporting a conflict. Default: 30s.
	RunWait time.Duration `yaml:"run_wait"`
}

// LoggingConfig configures the category loggers.
type LoggingConfig struct {
	// Debug enables debug-level logging. Default: false.
	Debug bool `yaml:"debug"`

	// Console mirrors logs to stderr. Default: true.
	Console bool `yaml:"console"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Device: DeviceConfig{
			Timeout:            10 * time.Second,
			RetryCount:         3,
			ScreenshotQuality:  80,
			ScreenshotMaxWidth: 1280,
			StreamFPS:          2,
		},
		Vision: VisionConfig{
			OCRMinConfidence: 40,
			FuzzyThreshold:   0.85,
		},
		Verify: VerifyConfig{
			SSIMThreshold:   0.85,
			ChangeThreshold: 1.0,
			PixelDelta:      30,
			SettleDelay:     time.Second,
		},
		Model: ModelConfig{
			Endpoint:          "https://generativelanguage.googleapis.com/v1beta",
			Model:             "gemini-2.0-flash",
			EmbeddingModel:    "gemini-embedding-001",
			Temperature:       0.2,
			VisionTemperature: 0.0,
			Timeout:           60 * time.Second,
			BudgetThreshold:   50,
			AlertThreshold:    200,
		},
		Knowledge: KnowledgeConfig{
			MinSimilarity: 0.5,
		},
		Execution: ExecutionConfig{
			MaxRetries:     3,
			MaxTransitions: 200,
			RunWait:        30 * time.Second,
		},
		Logging: LoggingConfig{
			Console: true,
		},
	}
}

// Load reads the YAML config at path, overlays environment variables, and
// fills derived defaults. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Model.APIKey = key
	}
	if serial := os.Getenv("ANDROID_SERIAL"); serial != "" {
		c.Device.Serial = serial
	}
	if dir := os.Getenv("ROADTEST_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if v := os.Getenv("ROADTEST_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.Debug = b
		}
	}
}

func (c *Config) fillDerived() {
	if c.Knowledge.VectorDBPath == "" {
		c.Knowledge.VectorDBPath = c.DataDir + "/testcases.db"
	}
	// The after-shot must wait at least a second for the UI to settle.
	if c.Verify.SettleDelay < time.Second {
		c.Verify.SettleDelay = time.Second
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Execution.MaxTransitions < 100 {
		return fmt.Errorf("execution.max_transitions must be >= 100, got %d", c.Execution.MaxTransitions)
	}
	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("execution.max_retries must be >= 0, got %d", c.Execution.MaxRetries)
	}
	if c.Verify.SSIMThreshold < 0 || c.Verify.SSIMThreshold > 1 {
		return fmt.Errorf("verify.ssim_threshold must be in [0,1], got %v", c.Verify.SSIMThreshold)
	}
	if c.Device.RetryCount < 1 {
		return fmt.Errorf("device.retry_count must be >= 1, got %d", c.Device.RetryCount)
	}
	return nil
}
