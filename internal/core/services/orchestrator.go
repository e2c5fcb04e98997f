package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/manthysbr/aule-vton/internal/core/ports"
)

// Session artifact names.
const (
	ArtifactRawDescription   = "raw_description.txt"
	ArtifactCleanDescription = "clean_description.txt"
	ArtifactDescription      = "description.txt"
	ArtifactPrompt           = "prompt.txt"
	ArtifactResultBase       = "result"
)

const persistTimeout = 10 * time.Second

// TryOnRequest carries already-decoded inputs.
type TryOnRequest struct {
	ModelImage   []byte
	GarmentImage []byte
	Description  string
}

// Validate rejects missing images and payloads that do not sniff as images.
func (r TryOnRequest) Validate() error {
	if err := validateImage("model image", r.ModelImage); err != nil {
		return err
	}
	return validateImage("garment image", r.GarmentImage)
}

func validateImage(name string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return fmt.Errorf("%w: %s is not an image (detected %s)", domain.ErrValidation, name, mt.String())
	}
	return nil
}

// TryOnResult is a completed session and the generated image bytes.
type TryOnResult struct {
	Session *domain.Session
	Image   []byte
}

// OrchestratorConfig holds the per-request generation budget.
type OrchestratorConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// MinTextLength is the shortest description sent to the text extractor.
	MinTextLength int
	// Seed pins the noise seed; nil draws a random one per request.
	Seed *uint32
}

// Orchestrator runs one try-on request end to end.
type Orchestrator struct {
	logger    *slog.Logger
	backend   ports.JobBackend
	extractor ports.AttributeExtractor
	sessions  ports.SessionRepository
	artifacts ports.ArtifactStore
	builder   *WorkflowBuilder
	limiter   *GenerationLimiter
	clock     ports.Clock
	events    *EventBus
	cfg       OrchestratorConfig

	newSessionID func(time.Time) domain.SessionID
	newSeed      func() uint32
}

type OrchestratorDeps struct {
	Backend   ports.JobBackend
	Extractor ports.AttributeExtractor
	Sessions  ports.SessionRepository
	Artifacts ports.ArtifactStore
	Builder   *WorkflowBuilder
	Limiter   *GenerationLimiter
	Clock     ports.Clock
	Events    *EventBus // nil disables progress events
}

func NewOrchestrator(logger *slog.Logger, deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 20
	}
	if deps.Builder == nil {
		deps.Builder = NewWorkflowBuilder(DefaultWorkflowConfig())
	}
	if deps.Limiter == nil {
		deps.Limiter = NewGenerationLimiter(logger, 0)
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}

	o := &Orchestrator{
		logger:    logger,
		backend:   deps.Backend,
		extractor: deps.Extractor,
		sessions:  deps.Sessions,
		artifacts: deps.Artifacts,
		builder:   deps.Builder,
		limiter:   deps.Limiter,
		clock:     deps.Clock,
		events:    deps.Events,
		cfg:       cfg,
		newSessionID: func(t time.Time) domain.SessionID {
			return domain.NewSessionID(t, strings.ReplaceAll(uuid.NewString(), "-", ""))
		},
		newSeed: rand.Uint32,
	}
	if cfg.Seed != nil {
		seed := *cfg.Seed
		o.newSeed = func() uint32 { return seed }
	}
	return o
}

// Run validates the request, then drives a session to completed or failed. The session
// is persisted exactly once on every path after creation, including cancellation.
func (o *Orchestrator) Run(ctx context.Context, req TryOnRequest) (result *TryOnResult, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := o.clock.Now()
	session := domain.NewSession(o.newSessionID(now), now)
	session.Description = req.Description
	session.ModelImage = inputName(session.ID, "model", req.ModelImage)
	session.GarmentImage = inputName(session.ID, "garment", req.GarmentImage)
	logger := o.logger.With("session_id", session.ID)
	o.publish(session.ID, EventSessionStarted, nil)

	defer func() {
		if err != nil {
			if ferr := session.Fail(err.Error(), o.clock.Now()); ferr != nil {
				logger.Error("failed to mark session failed", "error", ferr)
			}
			logger.Error("try-on failed", "error", err, "kind", domain.KindOf(err))
		}
		if perr := o.persist(ctx, session); perr != nil {
			logger.Error("failed to persist session", "error", perr)
			if err == nil {
				result, err = nil, fmt.Errorf("persist session %s: %w", session.ID, perr)
			}
		}
		if err != nil {
			o.publish(session.ID, EventSessionFailed, map[string]any{"error": err.Error(), "error_kind": domain.KindOf(err)})
			return
		}
		o.publish(session.ID, EventSessionCompleted, nil)
	}()

	image, err := o.run(ctx, logger, session, req)
	if err != nil {
		return nil, err
	}
	return &TryOnResult{Session: session, Image: image}, nil
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, session *domain.Session, req TryOnRequest) ([]byte, error) {
	if !o.backend.CheckAvailability(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: liveness check failed", domain.ErrBackendUnavailable)
	}
	if err := session.Start(); err != nil {
		return nil, err
	}

	attrs := o.extractAttributes(ctx, logger, req)
	session.Attributes = attrs
	prompt := SynthesizePrompt(attrs)
	logger.Info("prompt synthesized", "garment_type", attrs.GarmentType, "color", attrs.Color)
	o.publish(session.ID, EventPromptSynthesized, map[string]any{"garment_type": attrs.GarmentType, "prompt": prompt})

	if err := o.writeTextArtifacts(ctx, session, attrs, prompt); err != nil {
		return nil, err
	}

	model, err := o.backend.StageInput(ctx, req.ModelImage, session.ModelImage)
	if err != nil {
		return nil, fmt.Errorf("stage model image: %w", err)
	}
	defer o.release(ctx, logger, model)

	garment, err := o.backend.StageInput(ctx, req.GarmentImage, session.GarmentImage)
	if err != nil {
		return nil, fmt.Errorf("stage garment image: %w", err)
	}
	defer o.release(ctx, logger, garment)

	graph, err := o.builder.Build(model.Name, garment.Name, prompt, o.newSeed())
	if err != nil {
		return nil, err
	}

	if err := o.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("wait for generation slot: %w", err)
	}
	defer o.limiter.Release()

	handle, err := o.backend.Submit(ctx, graph)
	if err != nil {
		return nil, fmt.Errorf("submit workflow: %w", err)
	}
	logger.Info("workflow submitted", "prompt_id", handle.ID)
	o.publish(session.ID, EventJobSubmitted, map[string]any{"prompt_id": handle.ID})

	refs, err := o.backend.AwaitCompletion(ctx, handle, o.cfg.PollInterval, o.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("await prompt %s: %w", handle.ID, err)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: prompt %s produced no images", domain.ErrBackendRejected, handle.ID)
	}
	if len(refs) > 1 {
		logger.Warn("backend produced several images, using the first", "count", len(refs))
	}

	image, err := o.backend.FetchArtifact(ctx, refs[0])
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", refs[0].Filename, err)
	}

	resultName := ArtifactResultBase + imageExtension(image)
	location, err := o.artifacts.Write(ctx, session.ID, resultName, image)
	if err != nil {
		return nil, fmt.Errorf("write result: %w", err)
	}

	if _, err := session.AddIteration(domain.IterationResult{
		Prompt:    prompt,
		ImagePath: location,
		Timestamp: o.clock.Now(),
	}); err != nil {
		return nil, err
	}
	if err := session.Complete(o.clock.Now()); err != nil {
		return nil, err
	}
	logger.Info("try-on completed", "result", location)
	return image, nil
}

// extractAttributes never fails; a source whose extraction fails is treated as absent.
func (o *Orchestrator) extractAttributes(ctx context.Context, logger *slog.Logger, req TryOnRequest) domain.GarmentAttributes {
	var textAttrs, imageAttrs *domain.GarmentAttributes

	// descriptions under the threshold take no part in extraction or keyword fallback
	description := req.Description
	if len(strings.TrimSpace(description)) < o.cfg.MinTextLength {
		description = ""
	}
	if description != "" {
		attrs, err := o.extractor.ExtractFromText(ctx, description)
		if err != nil {
			logger.Warn("text extraction degraded", "error", err)
		} else {
			textAttrs = &attrs
		}
	}

	attrs, err := o.extractor.ExtractFromImage(ctx, req.GarmentImage)
	if err != nil {
		logger.Warn("image extraction degraded", "error", err)
	} else {
		imageAttrs = &attrs
	}

	return Merge(textAttrs, imageAttrs, description)
}

type textArtifact struct {
	name    string
	content string
}

func (o *Orchestrator) writeTextArtifacts(ctx context.Context, session *domain.Session, attrs domain.GarmentAttributes, prompt string) error {
	files := []textArtifact{
		{ArtifactDescription, attrs.Description()},
		{ArtifactPrompt, prompt},
	}
	if desc := strings.TrimSpace(session.Description); desc != "" {
		files = append(files,
			textArtifact{ArtifactRawDescription, session.Description},
			textArtifact{ArtifactCleanDescription, CleanDescription(desc)},
		)
	}
	for _, f := range files {
		if _, err := o.artifacts.Write(ctx, session.ID, f.name, []byte(f.content)); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

func (o *Orchestrator) release(ctx context.Context, logger *slog.Logger, input domain.StagedInput) {
	if err := o.backend.Release(context.WithoutCancel(ctx), input); err != nil {
		logger.Warn("failed to release staged input", "input", input.Name, "error", err)
	}
}

func (o *Orchestrator) publish(id domain.SessionID, typ EventType, data map[string]any) {
	if o.events == nil {
		return
	}
	o.events.Publish(Event{SessionID: id, Type: typ, Data: data, Timestamp: o.clock.Now()})
}

// persist runs even when the request context is already done.
func (o *Orchestrator) persist(ctx context.Context, session *domain.Session) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return o.sessions.SaveSession(pctx, session)
}

// Session returns a persisted session.
func (o *Orchestrator) Session(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	return o.sessions.GetSession(ctx, id)
}

func (o *Orchestrator) Sessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	return o.sessions.ListSessions(ctx, limit)
}

// ResultImage returns the best iteration's image bytes for a session.
func (o *Orchestrator) ResultImage(ctx context.Context, id domain.SessionID) ([]byte, error) {
	session, err := o.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	best, ok := session.BestIteration()
	if !ok {
		return nil, fmt.Errorf("%w: session %s has no result", domain.ErrSessionNotFound, id)
	}
	name := best.ImagePath
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return o.artifacts.Read(ctx, id, name)
}

// BackendAvailable reports whether the image backend answers its liveness probe.
func (o *Orchestrator) BackendAvailable(ctx context.Context) bool {
	return o.backend.CheckAvailability(ctx)
}

func inputName(id domain.SessionID, role string, data []byte) string {
	return fmt.Sprintf("%s_%s%s", id, role, imageExtension(data))
}

func imageExtension(data []byte) string {
	ext := mimetype.Detect(data).Extension()
	if ext == "" {
		return ".png"
	}
	return ext
}
