// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Capture() CaptureConfig
	Store() StoreConfig
	Input() InputConfig
	LLM() LLMConfig
	Bridge() BridgeConfig

	// DefaultSettings returns the per-task settings record derived from the
	// configured LLM section. Requests coming from the UI are merged over it.
	DefaultSettings() Settings
}

// Config holds the entire application configuration.
// Fields are exported for viper, callers go through the Interface getters.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	EngineCfg  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	CaptureCfg CaptureConfig `mapstructure:"capture" yaml:"capture"`
	StoreCfg   StoreConfig   `mapstructure:"store" yaml:"store"`
	InputCfg   InputConfig   `mapstructure:"input" yaml:"input"`
	LLMCfg     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	BridgeCfg  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
}

var _ Interface = (*Config)(nil)

// -- Interface Method Implementations (Getters) --

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Engine() EngineConfig   { return c.EngineCfg }
func (c *Config) Capture() CaptureConfig { return c.CaptureCfg }
func (c *Config) Store() StoreConfig     { return c.StoreCfg }
func (c *Config) Input() InputConfig     { return c.InputCfg }
func (c *Config) LLM() LLMConfig         { return c.LLMCfg }
func (c *Config) Bridge() BridgeConfig   { return c.BridgeCfg }

// DefaultSettings builds the baseline task settings from the llm section.
func (c *Config) DefaultSettings() Settings {
	return Settings{
		ModelProvider:    string(c.LLMCfg.Provider),
		SelectedModel:    c.LLMCfg.GeminiModel,
		OpenRouterModel:  c.LLMCfg.OpenRouterModel,
		OllamaModel:      c.LLMCfg.OllamaModel,
		OllamaURL:        c.LLMCfg.OllamaURL,
		OpenRouterAPIKey: c.LLMCfg.OpenRouterAPIKey,
	}
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig tunes the execution loop.
type EngineConfig struct {
	// MaxLoops bounds the number of perceive-plan-act iterations per task.
	MaxLoops int `mapstructure:"max_loops" yaml:"max_loops"`
	// SettleDelay is slept at the top of every iteration so the UI can catch up.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// ConfirmTimeout is how long a high-risk action waits for the user. Expiry denies.
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	// RestartSettle is waited after stopping an active session before a new one starts.
	RestartSettle time.Duration `mapstructure:"restart_settle" yaml:"restart_settle"`
	// WaitSlice is the granularity at which wait actions observe cancellation.
	WaitSlice time.Duration `mapstructure:"wait_slice" yaml:"wait_slice"`
}

// CaptureConfig controls screenshot capture and retention.
type CaptureConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Keep       int    `mapstructure:"keep" yaml:"keep"`
	MarkCursor bool   `mapstructure:"mark_cursor" yaml:"mark_cursor"`
}

// StoreConfig locates the preference and library documents.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// InputConfig holds actuator settings. Pointer motion tunables live in
// HumanoidConfig (humanoid_config.go).
type InputConfig struct {
	TerminalTimeout     time.Duration  `mapstructure:"terminal_timeout" yaml:"terminal_timeout"`
	TerminalOutputLimit int            `mapstructure:"terminal_output_limit" yaml:"terminal_output_limit"`
	TypeDelayMinMs      int            `mapstructure:"type_delay_min_ms" yaml:"type_delay_min_ms"`
	TypeDelayMaxMs      int            `mapstructure:"type_delay_max_ms" yaml:"type_delay_max_ms"`
	Humanoid            HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// LLMProvider defines the type for LLM providers.
type LLMProvider string

const (
	ProviderGemini     LLMProvider = "gemini"
	ProviderOpenRouter LLMProvider = "openrouter"
	ProviderOllama     LLMProvider = "ollama"
)

// LLMConfig defines the model client configuration.
type LLMConfig struct {
	Provider LLMProvider `mapstructure:"provider" yaml:"provider"`

	GeminiModel    string   `mapstructure:"gemini_model" yaml:"gemini_model"`
	GeminiAPIKeys  []string `mapstructure:"gemini_api_keys" yaml:"-"`
	GeminiEndpoint string   `mapstructure:"gemini_endpoint" yaml:"gemini_endpoint"`

	OpenRouterModel    string `mapstructure:"openrouter_model" yaml:"openrouter_model"`
	OpenRouterEndpoint string `mapstructure:"openrouter_endpoint" yaml:"openrouter_endpoint"`
	OpenRouterAPIKey   string `mapstructure:"openrouter_api_key" yaml:"-"`

	OllamaModel string `mapstructure:"ollama_model" yaml:"ollama_model"`
	OllamaURL   string `mapstructure:"ollama_url" yaml:"ollama_url"`

	APITimeout          time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature         float32       `mapstructure:"temperature" yaml:"temperature"`
	RequestsPerMinute   float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	AttachmentCacheSize int           `mapstructure:"attachment_cache_size" yaml:"attachment_cache_size"`
}

// BridgeConfig guards the WebSocket transport. Clients without an Origin
// header and loopback origins are always admitted.
type BridgeConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	// AllowConfirmationWaiver honors proceedWithoutConfirmation from
	// WebSocket clients. Stdio hosts are always trusted.
	AllowConfirmationWaiver bool `mapstructure:"allow_confirmation_waiver" yaml:"allow_confirmation_waiver"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	// A missing home directory leaves the "~" paths as they are.
	_ = cfg.expandPaths()
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.max_loops", 15)
	v.SetDefault("engine.settle_delay", "400ms")
	v.SetDefault("engine.confirm_timeout", "60s")
	v.SetDefault("engine.restart_settle", "200ms")
	v.SetDefault("engine.wait_slice", "100ms")

	// -- Capture --
	v.SetDefault("capture.dir", "~/.deskpilot/screenshots")
	v.SetDefault("capture.keep", 20)
	v.SetDefault("capture.mark_cursor", true)

	// -- Store --
	v.SetDefault("store.data_dir", "~/.deskpilot")

	// -- Input --
	v.SetDefault("input.terminal_timeout", "10s")
	v.SetDefault("input.terminal_output_limit", 200)
	v.SetDefault("input.type_delay_min_ms", 50)
	v.SetDefault("input.type_delay_max_ms", 200)
	setHumanoidDefaults(v)

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.gemini_model", "gemini-2.5-flash")
	v.SetDefault("llm.openrouter_model", "google/gemini-2.5-flash")
	v.SetDefault("llm.openrouter_endpoint", "https://openrouter.ai/api/v1/chat/completions")
	v.SetDefault("llm.ollama_model", "llava")
	v.SetDefault("llm.ollama_url", "http://localhost:11434")
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.requests_per_minute", 30.0)
	v.SetDefault("llm.attachment_cache_size", 32)

	// -- Bridge --
	v.SetDefault("bridge.allowed_origins", []string{})
	v.SetDefault("bridge.allow_confirmation_waiver", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("llm.openrouter_api_key", "OPENROUTER_API_KEY")
	v.BindEnv("llm.gemini_api_keys", "DESKPILOT_GEMINI_API_KEYS")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// A single key in the conventional variable is accepted as a one-entry ring.
	if len(cfg.LLMCfg.GeminiAPIKeys) == 0 {
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			cfg.LLMCfg.GeminiAPIKeys = []string{key}
		}
	}
	// Env vars arrive as one comma separated string.
	cfg.LLMCfg.GeminiAPIKeys = splitKeys(strings.Join(cfg.LLMCfg.GeminiAPIKeys, ","))

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// expandPaths resolves "~" in directory settings.
func (c *Config) expandPaths() error {
	dataDir, err := homedir.Expand(c.StoreCfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to expand store.data_dir: %w", err)
	}
	c.StoreCfg.DataDir = dataDir

	captureDir, err := homedir.Expand(c.CaptureCfg.Dir)
	if err != nil {
		return fmt.Errorf("failed to expand capture.dir: %w", err)
	}
	c.CaptureCfg.Dir = captureDir
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if c.InputCfg.TerminalTimeout <= 0 {
		return fmt.Errorf("input.terminal_timeout must be a positive duration")
	}
	if c.InputCfg.TypeDelayMinMs < 0 || c.InputCfg.TypeDelayMaxMs < c.InputCfg.TypeDelayMinMs {
		return fmt.Errorf("input.type_delay_min_ms/max_ms must satisfy 0 <= min <= max")
	}
	if c.StoreCfg.DataDir == "" {
		return fmt.Errorf("store.data_dir is a required configuration field")
	}
	switch c.LLMCfg.Provider {
	case ProviderGemini, ProviderOpenRouter, ProviderOllama:
	default:
		return fmt.Errorf("llm.provider %q is not one of [gemini openrouter ollama]", c.LLMCfg.Provider)
	}
	return nil
}

// Validate checks the EngineConfig settings.
func (e *EngineConfig) Validate() error {
	if e.MaxLoops <= 0 {
		return fmt.Errorf("max_loops must be greater than 0")
	}
	if e.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	if e.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm_timeout must be a positive duration")
	}
	if e.WaitSlice <= 0 || e.WaitSlice > 100*time.Millisecond {
		return fmt.Errorf("wait_slice must be in (0, 100ms]")
	}
	return nil
}
