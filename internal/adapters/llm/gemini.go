package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/manthysbr/aule-vton/internal/core/domain"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-1.5-flash"

type GeminiExtractor struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func NewGeminiExtractor(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiExtractor{
		client: client,
		model:  model,
		logger: orDiscard(logger),
	}, nil
}

func (e *GeminiExtractor) ExtractFromText(ctx context.Context, description string) (domain.GarmentAttributes, error) {
	return e.generate(ctx, "text", genai.Text(textRequest(description)))
}

func (e *GeminiExtractor) ExtractFromImage(ctx context.Context, image []byte) (domain.GarmentAttributes, error) {
	if len(image) == 0 {
		return domain.GarmentAttributes{}, fmt.Errorf("%w: empty image", domain.ErrExtractionDegraded)
	}
	format := strings.TrimPrefix(mediaType(image), "image/")
	return e.generate(ctx, "vision", genai.ImageData(format, image), genai.Text(VisionExtractionPrompt))
}

func (e *GeminiExtractor) generate(ctx context.Context, source string, parts ...genai.Part) (domain.GarmentAttributes, error) {
	model := e.client.GenerativeModel(e.model)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return domain.GarmentAttributes{}, degraded(ctx, source, err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			txt, ok := part.(genai.Text)
			if !ok {
				continue
			}
			attrs, err := ParseAttributes(string(txt))
			if err != nil {
				return domain.GarmentAttributes{}, err
			}
			e.logger.Debug("llm extraction", "source", source, "model", e.model, "garment_type", attrs.GarmentType)
			return attrs, nil
		}
	}
	return domain.GarmentAttributes{}, fmt.Errorf("%w: %s extraction returned no candidates", domain.ErrExtractionDegraded, source)
}

func (e *GeminiExtractor) Close() error {
	return e.client.Close()
}
