package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/aule-vton/internal/core/domain"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llava"
)

// OllamaExtractor calls a local Ollama instance through its native /api/generate
// endpoint, asking for JSON-formatted output.
type OllamaExtractor struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func NewOllamaExtractor(baseURL, model string, logger *slog.Logger) *OllamaExtractor {
	if baseURL == "" {
		baseURL = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  orDiscard(logger),
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Format  string         `json:"format"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (e *OllamaExtractor) ExtractFromText(ctx context.Context, description string) (domain.GarmentAttributes, error) {
	return e.generate(ctx, "text", generateRequest{Prompt: textRequest(description)})
}

func (e *OllamaExtractor) ExtractFromImage(ctx context.Context, image []byte) (domain.GarmentAttributes, error) {
	if len(image) == 0 {
		return domain.GarmentAttributes{}, fmt.Errorf("%w: empty image", domain.ErrExtractionDegraded)
	}
	return e.generate(ctx, "vision", generateRequest{
		Prompt: VisionExtractionPrompt,
		Images: []string{base64.StdEncoding.EncodeToString(image)},
	})
}

func (e *OllamaExtractor) generate(ctx context.Context, source string, reqBody generateRequest) (domain.GarmentAttributes, error) {
	reqBody.Model = e.model
	reqBody.Format = "json"
	reqBody.Stream = false
	reqBody.Options = map[string]any{"temperature": 0}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return domain.GarmentAttributes{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return domain.GarmentAttributes{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.GarmentAttributes{}, degraded(ctx, source, fmt.Errorf("ollama connection failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.GarmentAttributes{}, fmt.Errorf("%w: ollama returned status %d: %s",
			domain.ErrExtractionDegraded, resp.StatusCode, domain.Truncate(string(body)))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return domain.GarmentAttributes{}, degraded(ctx, source, fmt.Errorf("failed to decode response: %w", err))
	}

	attrs, err := ParseAttributes(genResp.Response)
	if err != nil {
		return domain.GarmentAttributes{}, err
	}
	e.logger.Debug("llm extraction", "source", source, "model", e.model, "garment_type", attrs.GarmentType)
	return attrs, nil
}
