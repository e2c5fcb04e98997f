package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/manthysbr/aule-vton/internal/core/ports"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL      = "http://127.0.0.1:8188"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 300 * time.Second

	defaultRequestTimeout = 60 * time.Second
	cancelTimeout         = 5 * time.Second
)

// Options configures a Client. Zero values get defaults.
type Options struct {
	BaseURL string
	// InputDir is ComfyUI's input directory when it is reachable on this host. When empty,
	// inputs are uploaded through /upload/image instead.
	InputDir       string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Clock          ports.Clock
	Logger         *slog.Logger
}

// Client talks to a long-running ComfyUI server. One Client is shared by all requests;
// it holds no per-job state.
type Client struct {
	baseURL    string
	inputDir   string
	httpClient *http.Client
	clock      ports.Clock
	logger     *slog.Logger
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	clock := opts.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		inputDir:   opts.InputDir,
		httpClient: httpClient,
		clock:      clock,
		logger:     logger,
	}
}

// CheckAvailability probes /system_stats.
func (c *Client) CheckAvailability(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("comfyui liveness probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// StageInput writes the image into the input directory, or uploads it when no directory
// is configured.
func (c *Client) StageInput(ctx context.Context, data []byte, suggestedName string) (domain.StagedInput, error) {
	if len(data) == 0 {
		return domain.StagedInput{}, fmt.Errorf("%w: empty input image", domain.ErrValidation)
	}
	name := stagedName(suggestedName, data)

	if c.inputDir != "" {
		path := filepath.Join(c.inputDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return domain.StagedInput{}, fmt.Errorf("%w: write %s: %v", domain.ErrTransport, path, err)
		}
		c.logger.Debug("staged input", "path", path)
		return domain.StagedInput{Name: name, Path: path}, nil
	}
	return c.upload(ctx, data, name)
}

func (c *Client) upload(ctx context.Context, data []byte, name string) (domain.StagedInput, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", name)
	if err != nil {
		return domain.StagedInput{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return domain.StagedInput{}, fmt.Errorf("failed to write form file: %w", err)
	}
	_ = w.WriteField("type", "input")
	_ = w.WriteField("overwrite", "true")
	if err := w.Close(); err != nil {
		return domain.StagedInput{}, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &body)
	if err != nil {
		return domain.StagedInput{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	respBody, status, err := c.do(req)
	if err != nil {
		return domain.StagedInput{}, err
	}
	if status != http.StatusOK {
		return domain.StagedInput{}, fmt.Errorf("%w: upload returned status %d: %s", domain.ErrTransport, status, domain.Truncate(string(respBody)))
	}

	uploaded := gjson.GetBytes(respBody, "name").String()
	if uploaded == "" {
		uploaded = name
	}
	if sub := gjson.GetBytes(respBody, "subfolder").String(); sub != "" {
		uploaded = sub + "/" + uploaded
	}
	return domain.StagedInput{Name: uploaded}, nil
}

// Release deletes a file staged into the input directory. In upload mode it does nothing:
// ComfyUI has no delete endpoint, so uploaded inputs stay in its input directory.
func (c *Client) Release(ctx context.Context, input domain.StagedInput) error {
	if input.Path == "" {
		return nil
	}
	if err := os.Remove(input.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staged input: %w", err)
	}
	return nil
}

type promptRequest struct {
	Prompt   map[string]domain.WireNode `json:"prompt"`
	ClientID string                     `json:"client_id"`
}

// Submit posts the graph to /prompt.
func (c *Client) Submit(ctx context.Context, graph *domain.Graph) (domain.JobHandle, error) {
	if err := graph.Validate(); err != nil {
		return domain.JobHandle{}, err
	}
	clientID := uuid.New().String()
	payload, err := json.Marshal(promptRequest{Prompt: graph.Wire(), ClientID: clientID})
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("failed to marshal workflow: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return domain.JobHandle{}, err
	}
	if status != http.StatusOK {
		return domain.JobHandle{}, fmt.Errorf("%w: status %d: %s", domain.ErrBackendRejected, status, domain.Truncate(string(body)))
	}

	if nodeErrors := gjson.GetBytes(body, "node_errors"); nodeErrors.IsObject() && len(nodeErrors.Map()) > 0 {
		return domain.JobHandle{}, fmt.Errorf("%w: node errors: %s", domain.ErrBackendRejected, domain.Truncate(nodeErrors.Raw))
	}
	promptID := gjson.GetBytes(body, "prompt_id").String()
	if promptID == "" {
		return domain.JobHandle{}, fmt.Errorf("%w: no prompt_id returned: %s", domain.ErrBackendRejected, domain.Truncate(string(body)))
	}

	c.logger.Info("workflow queued", "prompt_id", promptID, "number", gjson.GetBytes(body, "number").Int())
	return domain.JobHandle{
		ID:         domain.JobID(promptID),
		ClientID:   clientID,
		OutputNode: graph.Output(),
	}, nil
}

// AwaitCompletion polls /history until the job's output images appear. The deadline is
// measured on the client's Clock. Every exit without a result removes the job from the
// queue best-effort, so a failed request never leaves work behind in ComfyUI.
func (c *Client) AwaitCompletion(ctx context.Context, handle domain.JobHandle, pollInterval, timeout time.Duration) ([]domain.ArtifactRef, error) {
	refs, err := c.await(ctx, handle, pollInterval, timeout)
	if err != nil {
		c.cancelJob(handle)
		return nil, err
	}
	return refs, nil
}

func (c *Client) await(ctx context.Context, handle domain.JobHandle, pollInterval, timeout time.Duration) ([]domain.ArtifactRef, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := c.clock.Now().Add(timeout)

	for {
		refs, done, err := c.poll(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if done {
			return refs, nil
		}

		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: prompt %s not finished after %s", domain.ErrTimeout, handle.ID, timeout)
		}
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(wait):
		}
	}
}

// poll inspects one history record. A missing record or a 4xx answer means "not yet";
// a 5xx answer is a transport failure.
func (c *Client) poll(ctx context.Context, handle domain.JobHandle) ([]domain.ArtifactRef, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(string(handle.ID)), nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	body, status, err := c.do(req)
	if err != nil {
		return nil, false, err
	}
	if status >= http.StatusInternalServerError {
		return nil, false, fmt.Errorf("%w: history returned status %d: %s", domain.ErrTransport, status, domain.Truncate(string(body)))
	}
	if status != http.StatusOK {
		c.logger.Debug("history not ready", "prompt_id", handle.ID, "status", status)
		return nil, false, nil
	}

	var record gjson.Result
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		if key.String() == string(handle.ID) {
			record = value
			return false
		}
		return true
	})
	if !record.Exists() {
		return nil, false, nil
	}

	if record.Get("status.status_str").String() == "error" {
		return nil, false, fmt.Errorf("%w: execution failed: %s", domain.ErrBackendRejected, domain.Truncate(executionError(record)))
	}

	outputs := record.Get("outputs")
	images := outputs.Get(gjsonKey(string(handle.OutputNode)) + ".images")
	if !images.Exists() {
		// fall back to the first node that produced images
		outputs.ForEach(func(_, node gjson.Result) bool {
			if imgs := node.Get("images"); imgs.IsArray() && len(imgs.Array()) > 0 {
				images = imgs
				return false
			}
			return true
		})
	}

	var refs []domain.ArtifactRef
	for _, img := range images.Array() {
		ref := domain.ArtifactRef{
			Filename:  img.Get("filename").String(),
			Subfolder: img.Get("subfolder").String(),
			Type:      img.Get("type").String(),
		}
		if ref.Filename == "" {
			continue
		}
		if ref.Type == "" {
			ref.Type = "output"
		}
		refs = append(refs, ref)
	}
	if len(refs) > 0 {
		return refs, true, nil
	}
	if record.Get("status.completed").Bool() {
		return nil, false, fmt.Errorf("%w: prompt %s finished without images", domain.ErrBackendRejected, handle.ID)
	}
	return nil, false, nil
}

func executionError(record gjson.Result) string {
	msg := "unknown error"
	record.Get("status.messages").ForEach(func(_, m gjson.Result) bool {
		if m.Get("0").String() == "execution_error" {
			data := m.Get("1")
			msg = fmt.Sprintf("%s (node %s): %s",
				data.Get("exception_type").String(),
				data.Get("node_id").String(),
				data.Get("exception_message").String())
			return false
		}
		return true
	})
	return msg
}

// FetchArtifact downloads one output through /view.
func (c *Client) FetchArtifact(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	params := url.Values{}
	params.Set("filename", ref.Filename)
	params.Set("subfolder", ref.Subfolder)
	kind := ref.Type
	if kind == "" {
		kind = "output"
	}
	params.Set("type", kind)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: view %s returned status %d", domain.ErrTransport, ref.Filename, status)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: view %s returned no data", domain.ErrTransport, ref.Filename)
	}
	return body, nil
}

// cancelJob drops a queued prompt and interrupts it only when /queue reports it as the
// running one, since some ComfyUI builds ignore prompt_id and interrupt whatever runs. It
// uses its own short context because the caller's is usually already done.
func (c *Client) cancelJob(handle domain.JobHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	if err := c.postJSON(ctx, "/queue", map[string]any{"delete": []string{string(handle.ID)}}); err != nil {
		c.logger.Debug("queue delete failed", "prompt_id", handle.ID, "error", err)
	}

	running, err := c.isRunning(ctx, handle.ID)
	if err != nil {
		c.logger.Debug("queue inspection failed", "prompt_id", handle.ID, "error", err)
		return
	}
	if running {
		if err := c.postJSON(ctx, "/interrupt", map[string]any{"prompt_id": string(handle.ID)}); err != nil {
			c.logger.Debug("interrupt failed", "prompt_id", handle.ID, "error", err)
			return
		}
	}
	c.logger.Info("prompt canceled", "prompt_id", handle.ID, "interrupted", running)
}

// isRunning reports whether /queue lists the prompt under queue_running. Each entry is
// [number, prompt_id, prompt, extra_data, outputs].
func (c *Client) isRunning(ctx context.Context, id domain.JobID) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	body, status, err := c.do(req)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("%w: queue returned status %d", domain.ErrTransport, status)
	}
	for _, running := range gjson.GetBytes(body, "queue_running.#.1").Array() {
		if running.String() == string(id) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", domain.ErrTransport, path, status)
	}
	return nil
}

// do executes a request and reads the whole body. Network failures are ErrTransport;
// context errors are returned unwrapped.
func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read %s response: %v", domain.ErrTransport, req.URL.Path, err)
	}
	return body, resp.StatusCode, nil
}

// stagedName keeps the caller's name when it is a plain file name and makes sure it
// carries an extension matching the data.
func stagedName(suggested string, data []byte) string {
	name := filepath.Base(strings.TrimSpace(suggested))
	if name == "." || name == "/" || name == "" {
		name = "tryon_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	if filepath.Ext(name) == "" {
		ext := mimetype.Detect(data).Extension()
		if ext == "" {
			ext = ".png"
		}
		name += ext
	}
	return name
}

var gjsonEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

func gjsonKey(key string) string {
	return gjsonEscaper.Replace(key)
}
