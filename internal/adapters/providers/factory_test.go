package providers

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/manthysbr/aule-vton/internal/adapters/duckdb"
	"github.com/manthysbr/aule-vton/internal/adapters/llm"
	"github.com/manthysbr/aule-vton/internal/adapters/storage"
	"github.com/manthysbr/aule-vton/internal/config"
	"github.com/manthysbr/aule-vton/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func TestBuildExtractor(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		cfg  config.ExtractionConfig
		want any
	}{
		{"default", config.ExtractionConfig{}, &services.KeywordExtractor{}},
		{"keyword", config.ExtractionConfig{Provider: "keyword"}, &services.KeywordExtractor{}},
		{"openai", config.ExtractionConfig{Provider: "OpenAI", OpenAIAPIKey: "sk"}, &llm.OpenAIExtractor{}},
		{"azure", config.ExtractionConfig{Provider: "azure", AzureEndpoint: "https://x.openai.azure.com", AzureDeployment: "gpt4o"}, &llm.OpenAIExtractor{}},
		{"ollama", config.ExtractionConfig{Provider: "ollama", OllamaHost: "http://localhost:11434/v1"}, &llm.OllamaExtractor{}},
		{"anthropic", config.ExtractionConfig{Provider: "anthropic", AnthropicAPIKey: "k"}, &llm.ClaudeExtractor{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildExtractor(ctx, tt.cfg, testLogger())
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}

	_, err := BuildExtractor(ctx, config.ExtractionConfig{Provider: "magic"}, testLogger())
	assert.Error(t, err)
	_, err = BuildExtractor(ctx, config.ExtractionConfig{Provider: "azure"}, testLogger())
	assert.Error(t, err)
}

func TestBuild_SessionBackends(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.OutputDir = filepath.Join(dir, "sessions")
	cfg.Storage.DBPath = filepath.Join(dir, "vton.db")

	set, err := Build(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &duckdb.Repository{}, set.Sessions)
	assert.Equal(t, cfg.Storage.OutputDir, set.Artifacts.BasePath())
	require.NoError(t, set.Close())

	cfg.Storage.SessionBackend = config.SessionBackendFile
	set, err = Build(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &storage.SessionFiles{}, set.Sessions)
	assert.NoError(t, set.Close())
}

type closingExtractor struct {
	*services.KeywordExtractor
	closed int
}

func (c *closingExtractor) Close() error {
	c.closed++
	return nil
}

func TestBuildSet_ClosesExtractorOnStoreFailure(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.OutputDir = filepath.Join(dir, "sessions")
	cfg.Storage.SessionBackend = "etcd"
	extractor := &closingExtractor{KeywordExtractor: services.NewKeywordExtractor(nil)}
	_, err := buildSet(cfg, extractor, testLogger())
	require.Error(t, err)
	assert.Equal(t, 1, extractor.closed)

	cfg.Storage.OutputDir = " "
	extractor = &closingExtractor{KeywordExtractor: services.NewKeywordExtractor(nil)}
	_, err = buildSet(cfg, extractor, testLogger())
	require.Error(t, err)
	assert.Equal(t, 1, extractor.closed)
}

func TestConfigMapping(t *testing.T) {
	cfg := config.Default()
	seed := uint32(5)
	cfg.Workflow.Seed = &seed
	cfg.Workflow.Steps = 6

	wf := WorkflowConfig(cfg.Workflow)
	assert.Equal(t, services.DefaultWorkflowConfig().UNet, wf.UNet)
	assert.Equal(t, 6, wf.Steps)

	oc := OrchestratorConfig(cfg)
	assert.Equal(t, cfg.ComfyUI.Timeout.Duration, oc.Timeout)
	require.NotNil(t, oc.Seed)
	assert.Equal(t, uint32(5), *oc.Seed)
}

func TestNormalizeOllamaBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:11434", normalizeOllamaBaseURL(" http://localhost:11434/v1/ "))
	assert.Equal(t, "http://gpu:11434", normalizeOllamaBaseURL("http://gpu:11434"))
}
