package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Extraction providers.
const (
	ProviderKeyword   = "keyword"
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Session backends.
const (
	SessionBackendDuckDB = "duckdb"
	SessionBackendFile   = "file"
)

// Duration reads "500ms" / "5m" style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServerConfig struct {
	Addr           string   `toml:"addr"`
	RequestTimeout Duration `toml:"request_timeout"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type ComfyUIConfig struct {
	Host              string   `toml:"host"`
	InputDir          string   `toml:"input_dir"`
	PollInterval      Duration `toml:"poll_interval"`
	Timeout           Duration `toml:"timeout"`
	MaxConcurrentJobs int      `toml:"max_concurrent_jobs"`
}

type WorkflowConfig struct {
	UNet           string  `toml:"unet"`
	WeightDType    string  `toml:"weight_dtype"`
	CLIP           string  `toml:"clip"`
	CLIPType       string  `toml:"clip_type"`
	CLIPDevice     string  `toml:"clip_device"`
	VAE            string  `toml:"vae"`
	Sampler        string  `toml:"sampler"`
	Steps          int     `toml:"steps"`
	CFG            float64 `toml:"cfg"`
	Megapixels     float64 `toml:"megapixels"`
	UpscaleMethod  string  `toml:"upscale_method"`
	FilenamePrefix string  `toml:"filename_prefix"`
	Seed           *uint32 `toml:"seed"`
}

type ExtractionConfig struct {
	Provider      string `toml:"provider"`
	Model         string `toml:"model"`
	MinTextLength int    `toml:"min_text_length"`

	OpenAIAPIKey    string `toml:"openai_api_key"`
	OpenAIBaseURL   string `toml:"openai_base_url"`
	AzureEndpoint   string `toml:"azure_endpoint"`
	AzureDeployment string `toml:"azure_deployment"`
	AzureAPIKey     string `toml:"azure_api_key"`
	OllamaHost      string `toml:"ollama_host"`
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	GeminiAPIKey    string `toml:"gemini_api_key"`
}

type StorageConfig struct {
	OutputDir      string `toml:"output_dir"`
	SessionBackend string `toml:"session_backend"`
	DBPath         string `toml:"db_path"`
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	ComfyUI    ComfyUIConfig    `toml:"comfyui"`
	Workflow   WorkflowConfig   `toml:"workflow"`
	Extraction ExtractionConfig `toml:"extraction"`
	Storage    StorageConfig    `toml:"storage"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8000",
			RequestTimeout: Duration{6 * time.Minute},
			MaxUploadBytes: 32 << 20,
			AllowedOrigins: []string{"*"},
		},
		ComfyUI: ComfyUIConfig{
			Host:              "http://127.0.0.1:8188",
			PollInterval:      Duration{500 * time.Millisecond},
			Timeout:           Duration{300 * time.Second},
			MaxConcurrentJobs: 4,
		},
		Workflow: WorkflowConfig{
			UNet:           "flux-2-klein-9b-fp8.safetensors",
			WeightDType:    "default",
			CLIP:           "qwen_3_8b_fp8mixed.safetensors",
			CLIPType:       "flux2",
			CLIPDevice:     "default",
			VAE:            "flux2-vae.safetensors",
			Sampler:        "euler",
			Steps:          4,
			CFG:            1.0,
			Megapixels:     1.0,
			UpscaleMethod:  "nearest-exact",
			FilenamePrefix: "tryon_output",
		},
		Extraction: ExtractionConfig{
			Provider:      ProviderKeyword,
			MinTextLength: 20,
			OllamaHost:    "http://localhost:11434",
		},
		Storage: StorageConfig{
			OutputDir:      "output/sessions",
			SessionBackend: SessionBackendDuckDB,
			DBPath:         "vton.db",
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file and the environment,
// in that order. A .env file in the working directory is loaded first when present.
// path may be empty; $VTON_CONFIG is consulted then.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("VTON_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"COMFYUI_HOST":             &c.ComfyUI.Host,
		"COMFYUI_INPUT_DIR":        &c.ComfyUI.InputDir,
		"VTON_ADDR":                &c.Server.Addr,
		"VTON_DB_PATH":             &c.Storage.DBPath,
		"VTON_OUTPUT_DIR":          &c.Storage.OutputDir,
		"VTON_SESSION_BACKEND":     &c.Storage.SessionBackend,
		"VTON_EXTRACTION_PROVIDER": &c.Extraction.Provider,
		"VTON_EXTRACTION_MODEL":    &c.Extraction.Model,
		"OPENAI_API_KEY":           &c.Extraction.OpenAIAPIKey,
		"OPENAI_BASE_URL":          &c.Extraction.OpenAIBaseURL,
		"AZURE_OPENAI_ENDPOINT":    &c.Extraction.AzureEndpoint,
		"AZURE_OPENAI_DEPLOYMENT":  &c.Extraction.AzureDeployment,
		"AZURE_OPENAI_API_KEY":     &c.Extraction.AzureAPIKey,
		"OLLAMA_HOST":              &c.Extraction.OllamaHost,
		"ANTHROPIC_API_KEY":        &c.Extraction.AnthropicAPIKey,
		"GEMINI_API_KEY":           &c.Extraction.GeminiAPIKey,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	if v := strings.TrimSpace(os.Getenv("VTON_SEED")); v != "" {
		seed, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid VTON_SEED %q: %w", v, err)
		}
		s := uint32(seed)
		c.Workflow.Seed = &s
	}
	return nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ComfyUI.Host == "" {
		errs = append(errs, errors.New("comfyui.host is required"))
	}
	if c.ComfyUI.PollInterval.Duration <= 0 {
		errs = append(errs, errors.New("comfyui.poll_interval must be positive"))
	}
	if c.ComfyUI.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("comfyui.timeout must be positive"))
	}
	if c.ComfyUI.MaxConcurrentJobs <= 0 {
		errs = append(errs, errors.New("comfyui.max_concurrent_jobs must be positive"))
	}
	if c.Server.RequestTimeout.Duration <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	if c.Workflow.Steps <= 0 {
		errs = append(errs, errors.New("workflow.steps must be positive"))
	}
	if c.Workflow.CFG <= 0 || c.Workflow.Megapixels <= 0 {
		errs = append(errs, errors.New("workflow.cfg and workflow.megapixels must be positive"))
	}

	c.Extraction.Provider = strings.ToLower(strings.TrimSpace(c.Extraction.Provider))
	switch c.Extraction.Provider {
	case ProviderKeyword, ProviderOllama:
	case ProviderOpenAI:
		if c.Extraction.OpenAIAPIKey == "" && c.Extraction.OpenAIBaseURL == "" {
			errs = append(errs, errors.New("extraction provider openai needs OPENAI_API_KEY or openai_base_url"))
		}
	case ProviderAzure:
		if c.Extraction.AzureEndpoint == "" || c.Extraction.AzureDeployment == "" {
			errs = append(errs, errors.New("extraction provider azure needs an endpoint and a deployment"))
		}
	case ProviderAnthropic:
		if c.Extraction.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("extraction provider anthropic needs ANTHROPIC_API_KEY"))
		}
	case ProviderGemini:
		if c.Extraction.GeminiAPIKey == "" {
			errs = append(errs, errors.New("extraction provider gemini needs GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported extraction provider: %s", c.Extraction.Provider))
	}

	c.Storage.SessionBackend = strings.ToLower(strings.TrimSpace(c.Storage.SessionBackend))
	switch c.Storage.SessionBackend {
	case SessionBackendDuckDB:
		if c.Storage.DBPath == "" {
			errs = append(errs, errors.New("storage.db_path is required for the duckdb backend"))
		}
	case SessionBackendFile:
	default:
		errs = append(errs, fmt.Errorf("unsupported session backend: %s", c.Storage.SessionBackend))
	}
	if c.Storage.OutputDir == "" {
		errs = append(errs, errors.New("storage.output_dir is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// LogAttrs lists the settings worth logging at startup, with secrets masked.
func (c *Config) LogAttrs() []any {
	return []any{
		"addr", c.Server.Addr,
		"comfyui", c.ComfyUI.Host,
		"extraction", c.Extraction.Provider,
		"session_backend", c.Storage.SessionBackend,
		"output_dir", c.Storage.OutputDir,
		"openai_api_key", MaskSecret(c.Extraction.OpenAIAPIKey),
		"anthropic_api_key", MaskSecret(c.Extraction.AnthropicAPIKey),
		"gemini_api_key", MaskSecret(c.Extraction.GeminiAPIKey),
	}
}

// MaskSecret returns a masked version safe for display: "****abcd"
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
