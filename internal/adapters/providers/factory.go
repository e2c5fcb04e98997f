package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/manthysbr/aule-vton/internal/adapters/comfyui"
	"github.com/manthysbr/aule-vton/internal/adapters/duckdb"
	"github.com/manthysbr/aule-vton/internal/adapters/llm"
	"github.com/manthysbr/aule-vton/internal/adapters/storage"
	"github.com/manthysbr/aule-vton/internal/config"
	"github.com/manthysbr/aule-vton/internal/core/ports"
	"github.com/manthysbr/aule-vton/internal/core/services"
)

// Set is everything the orchestrator needs from the outside world.
type Set struct {
	Backend   *comfyui.Client
	Extractor ports.AttributeExtractor
	Sessions  ports.SessionRepository
	Artifacts *storage.FileStore
}

// Close releases the session repository and any extractor holding a connection.
func (s *Set) Close() error {
	errs := []error{closeExtractor(s.Extractor)}
	if s.Sessions != nil {
		errs = append(errs, s.Sessions.Close())
	}
	return errors.Join(errs...)
}

func closeExtractor(extractor ports.AttributeExtractor) error {
	if closer, ok := extractor.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Build creates the backend client, extractor and stores from configuration.
// It hides provider selection from callers.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Set, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	extractor, err := BuildExtractor(ctx, cfg.Extraction, logger)
	if err != nil {
		return nil, err
	}
	return buildSet(cfg, extractor, logger)
}

// buildSet takes ownership of extractor and closes it when the stores cannot be opened.
func buildSet(cfg *config.Config, extractor ports.AttributeExtractor, logger *slog.Logger) (*Set, error) {
	artifacts, err := storage.NewFileStore(cfg.Storage.OutputDir)
	if err != nil {
		return nil, errors.Join(err, closeExtractor(extractor))
	}

	sessions, err := buildSessions(cfg.Storage, artifacts, logger)
	if err != nil {
		return nil, errors.Join(err, closeExtractor(extractor))
	}

	backend := comfyui.NewClient(comfyui.Options{
		BaseURL:  cfg.ComfyUI.Host,
		InputDir: cfg.ComfyUI.InputDir,
		Logger:   logger.With("component", "comfyui"),
	})

	return &Set{
		Backend:   backend,
		Extractor: extractor,
		Sessions:  sessions,
		Artifacts: artifacts,
	}, nil
}

// BuildExtractor picks the attribute extraction provider.
func BuildExtractor(ctx context.Context, cfg config.ExtractionConfig, logger *slog.Logger) (ports.AttributeExtractor, error) {
	logger = logger.With("component", "extractor")
	model := strings.TrimSpace(cfg.Model)

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", config.ProviderKeyword:
		return services.NewKeywordExtractor(logger), nil
	case config.ProviderOpenAI:
		return llm.NewOpenAIExtractor(cfg.OpenAIAPIKey, strings.TrimSpace(cfg.OpenAIBaseURL), model, logger), nil
	case config.ProviderAzure:
		if cfg.AzureEndpoint == "" || cfg.AzureDeployment == "" {
			return nil, fmt.Errorf("azure extraction needs an endpoint and a deployment")
		}
		return llm.NewAzureOpenAIExtractor(cfg.AzureEndpoint, cfg.AzureAPIKey, cfg.AzureDeployment, logger), nil
	case config.ProviderOllama:
		return llm.NewOllamaExtractor(normalizeOllamaBaseURL(cfg.OllamaHost), model, logger), nil
	case config.ProviderAnthropic:
		return llm.NewClaudeExtractor(cfg.AnthropicAPIKey, model, "", logger), nil
	case config.ProviderGemini:
		extractor, err := llm.NewGeminiExtractor(ctx, cfg.GeminiAPIKey, model, logger)
		if err != nil {
			return nil, err
		}
		return extractor, nil
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %s", cfg.Provider)
	}
}

func buildSessions(cfg config.StorageConfig, artifacts *storage.FileStore, logger *slog.Logger) (ports.SessionRepository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SessionBackend)) {
	case "", config.SessionBackendDuckDB:
		repo, err := duckdb.NewRepository(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		return repo, nil
	case config.SessionBackendFile:
		return storage.NewSessionFiles(artifacts, logger.With("component", "sessions")), nil
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.SessionBackend)
	}
}

// WorkflowConfig maps the [workflow] section onto the graph builder settings.
func WorkflowConfig(cfg config.WorkflowConfig) services.WorkflowConfig {
	return services.WorkflowConfig{
		UNet:           cfg.UNet,
		WeightDType:    cfg.WeightDType,
		CLIP:           cfg.CLIP,
		CLIPType:       cfg.CLIPType,
		CLIPDevice:     cfg.CLIPDevice,
		VAE:            cfg.VAE,
		Sampler:        cfg.Sampler,
		Steps:          cfg.Steps,
		CFG:            cfg.CFG,
		Megapixels:     cfg.Megapixels,
		UpscaleMethod:  cfg.UpscaleMethod,
		FilenamePrefix: cfg.FilenamePrefix,
	}
}

// OrchestratorConfig maps polling and extraction settings onto the orchestrator.
func OrchestratorConfig(cfg *config.Config) services.OrchestratorConfig {
	return services.OrchestratorConfig{
		PollInterval:  cfg.ComfyUI.PollInterval.Duration,
		Timeout:       cfg.ComfyUI.Timeout.Duration,
		MinTextLength: cfg.Extraction.MinTextLength,
		Seed:          cfg.Workflow.Seed,
	}
}

// normalizeOllamaBaseURL accepts hosts written with the OpenAI-compatible /v1 suffix.
func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return strings.TrimSuffix(trimmed, "/v1")
	}
	return trimmed
}
