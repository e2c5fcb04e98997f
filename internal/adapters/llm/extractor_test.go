package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/manthysbr/aule-vton/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.AttributeExtractor = (*OpenAIExtractor)(nil)
	_ ports.AttributeExtractor = (*OllamaExtractor)(nil)
	_ ports.AttributeExtractor = (*ClaudeExtractor)(nil)
	_ ports.AttributeExtractor = (*GeminiExtractor)(nil)
)

var testPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

const attributesReply = `{"garment_type": "dress", "color": "red", "details": ["ruffles"]}`

func TestOpenAIExtractor_Text(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "```json\n" + attributesReply + "\n```"},
			}},
		})
	}))
	defer srv.Close()

	e := NewOpenAIExtractor("sk-test", srv.URL+"/v1/", "", nil)
	attrs, err := e.ExtractFromText(context.Background(), "Red ruffled dress")
	require.NoError(t, err)
	assert.Equal(t, "dress", attrs.GarmentType)
	assert.Equal(t, "red", attrs.Color)
	assert.Equal(t, []string{"ruffles"}, attrs.Details)

	assert.Equal(t, DefaultOpenAIModel, got["model"])
	messages := got["messages"].([]any)
	content := messages[0].(map[string]any)["content"].(string)
	assert.True(t, strings.HasPrefix(content, TextExtractionPrompt))
	assert.Contains(t, content, "Red ruffled dress")
}

func TestOpenAIExtractor_ImageSendsDataURL(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"garment_type\": \"jacket\"}"}}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIExtractor("sk-test", srv.URL, "gpt-4o", nil)
	attrs, err := e.ExtractFromImage(context.Background(), testPNG)
	require.NoError(t, err)
	assert.Equal(t, "jacket", attrs.GarmentType)
	assert.Contains(t, raw, "data:image/png;base64,")
	assert.Contains(t, raw, "image_url")
}

func TestOpenAIExtractor_FailureIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
	}))
	defer srv.Close()

	e := NewOpenAIExtractor("sk-test", srv.URL, "", nil)
	_, err := e.ExtractFromText(context.Background(), "a dress")
	assert.ErrorIs(t, err, domain.ErrExtractionDegraded)

	_, err = e.ExtractFromImage(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrExtractionDegraded)
}

func TestOllamaExtractor(t *testing.T) {
	var req generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(generateResponse{Response: attributesReply, Done: true})
	}))
	defer srv.Close()

	e := NewOllamaExtractor(srv.URL+"/", "", nil)
	attrs, err := e.ExtractFromImage(context.Background(), testPNG)
	require.NoError(t, err)
	assert.Equal(t, "dress", attrs.GarmentType)

	assert.Equal(t, DefaultOllamaModel, req.Model)
	assert.Equal(t, "json", req.Format)
	assert.False(t, req.Stream)
	assert.Len(t, req.Images, 1)
	assert.Equal(t, VisionExtractionPrompt, req.Prompt)
}

func TestOllamaExtractor_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaExtractor(srv.URL, "missing", nil).ExtractFromText(context.Background(), "a dress")
	require.ErrorIs(t, err, domain.ErrExtractionDegraded)
	assert.Contains(t, err.Error(), "404")
}

func TestClaudeExtractor(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       DefaultClaudeModel,
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": attributesReply}},
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	defer srv.Close()

	e := NewClaudeExtractor("key", "", srv.URL+"/v1", nil)
	attrs, err := e.ExtractFromImage(context.Background(), testPNG)
	require.NoError(t, err)
	assert.Equal(t, "red", attrs.Color)

	messages := got["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	image := content[0].(map[string]any)
	assert.Equal(t, "image", image["type"])
	assert.Equal(t, "image/png", image["source"].(map[string]any)["media_type"])
}

func TestExtractor_CanceledContextPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOllamaExtractor(srv.URL, "", nil).ExtractFromText(ctx, "a dress")
	assert.ErrorIs(t, err, context.Canceled)
}
