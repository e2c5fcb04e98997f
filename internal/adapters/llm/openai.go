package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/sashabaranov/go-openai"
)

const (
	DefaultOpenAIModel = "gpt-4o-mini"

	maxReplyTokens = 500
)

// OpenAIExtractor extracts garment attributes through an OpenAI-compatible chat API,
// including Azure OpenAI deployments.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIExtractor talks to api.openai.com, or to baseURL when it is set.
func NewOpenAIExtractor(apiKey, baseURL, model string, logger *slog.Logger) *OpenAIExtractor {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return newOpenAIExtractor(config, model, logger)
}

// NewAzureOpenAIExtractor routes every request to a single Azure deployment.
func NewAzureOpenAIExtractor(endpoint, apiKey, deployment string, logger *slog.Logger) *OpenAIExtractor {
	config := openai.DefaultAzureConfig(apiKey, endpoint)
	config.AzureModelMapperFunc = func(string) string { return deployment }
	return newOpenAIExtractor(config, deployment, logger)
}

func newOpenAIExtractor(config openai.ClientConfig, model string, logger *slog.Logger) *OpenAIExtractor {
	return &OpenAIExtractor{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: orDiscard(logger),
	}
}

func (e *OpenAIExtractor) ExtractFromText(ctx context.Context, description string) (domain.GarmentAttributes, error) {
	return e.complete(ctx, "text", []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleUser,
		Content: textRequest(description),
	}})
}

func (e *OpenAIExtractor) ExtractFromImage(ctx context.Context, image []byte) (domain.GarmentAttributes, error) {
	if len(image) == 0 {
		return domain.GarmentAttributes{}, fmt.Errorf("%w: empty image", domain.ErrExtractionDegraded)
	}
	return e.complete(ctx, "vision", []openai.ChatCompletionMessage{{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: VisionExtractionPrompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(image),
				Detail: openai.ImageURLDetailAuto,
			}},
		},
	}})
}

func (e *OpenAIExtractor) complete(ctx context.Context, source string, messages []openai.ChatCompletionMessage) (domain.GarmentAttributes, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    messages,
		MaxTokens:   maxReplyTokens,
		Temperature: 0,
	})
	if err != nil {
		return domain.GarmentAttributes{}, degraded(ctx, source, err)
	}
	if len(resp.Choices) == 0 {
		return domain.GarmentAttributes{}, fmt.Errorf("%w: %s extraction returned no choices", domain.ErrExtractionDegraded, source)
	}

	attrs, err := ParseAttributes(resp.Choices[0].Message.Content)
	if err != nil {
		return domain.GarmentAttributes{}, err
	}
	e.logger.Debug("llm extraction", "source", source, "model", e.model, "garment_type", attrs.GarmentType)
	return attrs, nil
}

// degraded classifies a provider failure. Caller cancellation passes through untouched.
func degraded(ctx context.Context, source string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %s extraction: %v", domain.ErrExtractionDegraded, source, err)
}

func dataURL(image []byte) string {
	return "data:" + mediaType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// mediaType sniffs the image type, defaulting to PNG for unrecognised data.
func mediaType(image []byte) string {
	mt := mimetype.Detect(image)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "image/png"
	}
	return strings.SplitN(mt.String(), ";", 2)[0]
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}
