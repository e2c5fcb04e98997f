package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/manthysbr/aule-vton/internal/core/domain"
)

const DefaultClaudeModel = "claude-3-5-haiku-latest"

type ClaudeExtractor struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

func NewClaudeExtractor(apiKey, model, baseURL string, logger *slog.Logger) *ClaudeExtractor {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultClaudeModel
	}
	return &ClaudeExtractor{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
		logger: orDiscard(logger),
	}
}

func (e *ClaudeExtractor) ExtractFromText(ctx context.Context, description string) (domain.GarmentAttributes, error) {
	return e.create(ctx, "text", []anthropic.MessageContent{
		anthropic.NewTextMessageContent(textRequest(description)),
	})
}

func (e *ClaudeExtractor) ExtractFromImage(ctx context.Context, image []byte) (domain.GarmentAttributes, error) {
	if len(image) == 0 {
		return domain.GarmentAttributes{}, fmt.Errorf("%w: empty image", domain.ErrExtractionDegraded)
	}
	return e.create(ctx, "vision", []anthropic.MessageContent{
		anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
			anthropic.MessagesContentSourceTypeBase64, mediaType(image), image,
		)),
		anthropic.NewTextMessageContent(VisionExtractionPrompt),
	})
}

func (e *ClaudeExtractor) create(ctx context.Context, source string, content []anthropic.MessageContent) (domain.GarmentAttributes, error) {
	resp, err := e.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(e.model),
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: content},
		},
		MaxTokens: maxReplyTokens,
	})
	if err != nil {
		return domain.GarmentAttributes{}, degraded(ctx, source, err)
	}

	for _, c := range resp.Content {
		if c.Text == nil {
			continue
		}
		attrs, err := ParseAttributes(*c.Text)
		if err != nil {
			return domain.GarmentAttributes{}, err
		}
		e.logger.Debug("llm extraction", "source", source, "model", e.model, "garment_type", attrs.GarmentType)
		return attrs, nil
	}
	return domain.GarmentAttributes{}, fmt.Errorf("%w: %s extraction returned no text content", domain.ErrExtractionDegraded, source)
}
