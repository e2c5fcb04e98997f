package kernel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/getkin/kin-openapi/routers"
	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/manthysbr/aule-vton/internal/core/services"
)

const (
	ServiceName = "aule-vton"
	Version     = "1.0.0"

	defaultListLimit   = 50
	healthProbeTimeout = 5 * time.Second
)

// TryOnService is the orchestrator surface the API needs.
type TryOnService interface {
	Run(ctx context.Context, req services.TryOnRequest) (*services.TryOnResult, error)
	Session(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	Sessions(ctx context.Context, limit int) ([]*domain.Session, error)
	ResultImage(ctx context.Context, id domain.SessionID) ([]byte, error)
	BackendAvailable(ctx context.Context) bool
}

type Options struct {
	// RequestTimeout bounds a whole try-on request, including queueing for a backend slot.
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

type Server struct {
	logger  *slog.Logger
	tryon   TryOnService
	events  *services.EventBus
	opts    Options
	openapi routers.Router
}

// Ensure Server implements ServerInterface
var _ ServerInterface = (*Server)(nil)

func NewServer(logger *slog.Logger, tryon TryOnService, events *services.EventBus, opts Options) (*Server, error) {
	if events == nil {
		events = services.NewEventBus(logger)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 6 * time.Minute
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	router, err := loadRouter()
	if err != nil {
		return nil, err
	}
	return &Server{
		logger:  logger,
		tryon:   tryon,
		events:  events,
		opts:    opts,
		openapi: router,
	}, nil
}

// Handler mounts the API routes behind body limits and OpenAPI request validation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	HandlerFromMux(s, mux, s.handleParamError)

	validated := requestValidator(s.openapi, s.handleValidationError, mux)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
		}
		validated.ServeHTTP(w, r)
	})
}

type serviceInfo struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type healthResponse struct {
	Status  string `json:"status"`
	ComfyUI string `json:"comfyui"`
}

type tryOnRequest struct {
	GarmentPhoto string  `json:"garment_photo"`
	ModelPhoto   string  `json:"model_photo"`
	Description  *string `json:"description"`
}

type tryOnResponse struct {
	Success     bool             `json:"success"`
	ImageBase64 string           `json:"image_base64,omitempty"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   domain.ErrorKind `json:"error_kind,omitempty"`
	SessionID   domain.SessionID `json:"session_id,omitempty"`
}

type errorResponse struct {
	Error     string           `json:"error"`
	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
}

func (s *Server) GetServiceInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serviceInfo{Status: "running", Service: ServiceName, Version: Version})
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	resp := healthResponse{Status: "degraded", ComfyUI: "disconnected"}
	if s.tryon.BackendAvailable(ctx) {
		resp = healthResponse{Status: "ok", ComfyUI: "connected"}
	}
	writeJSON(w, http.StatusOK, resp)
}

// TryOn runs one try-on. Pipeline failures answer 200 with success=false; only
// malformed or invalid input answers 400.
func (s *Server) TryOn(w http.ResponseWriter, r *http.Request) {
	var body tryOnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, tryOnResponse{
			Error:     fmt.Sprintf("invalid request body: %v", err),
			ErrorKind: domain.KindValidation,
		})
		return
	}

	garment, err := decodeImage("garment_photo", body.GarmentPhoto)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, tryOnResponse{Error: err.Error(), ErrorKind: domain.KindValidation})
		return
	}
	model, err := decodeImage("model_photo", body.ModelPhoto)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, tryOnResponse{Error: err.Error(), ErrorKind: domain.KindValidation})
		return
	}
	req := services.TryOnRequest{ModelImage: model, GarmentImage: garment}
	if body.Description != nil {
		req.Description = *body.Description
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	res, err := s.tryon.Run(ctx, req)
	if err != nil {
		kind := domain.KindOf(err)
		status := http.StatusOK
		if kind == domain.KindValidation {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, tryOnResponse{Error: err.Error(), ErrorKind: kind})
		return
	}

	s.logger.Info("try-on served", "session_id", res.Session.ID, "bytes", len(res.Image))
	writeJSON(w, http.StatusOK, tryOnResponse{
		Success:     true,
		ImageBase64: base64.StdEncoding.EncodeToString(res.Image),
		SessionID:   res.Session.ID,
	})
}

func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request, params ListSessionsParams) {
	limit := defaultListLimit
	if params.Limit != nil {
		limit = *params.Limit
	}
	sessions, err := s.tryon.Sessions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) GetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.tryon.Session(r.Context(), domain.SessionID(sessionID))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) GetSessionResult(w http.ResponseWriter, r *http.Request, sessionID string) {
	data, err := s.tryon.ResultImage(r.Context(), domain.SessionID(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %v", domain.ErrSessionNotFound, err)
		}
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleParamError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), ErrorKind: domain.KindValidation})
}

func (s *Server) handleValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError
	status := http.StatusBadRequest
	if errors.As(err, &maxBytes) {
		status = http.StatusRequestEntityTooLarge
	}
	if r.URL.Path == "/api/tryon" {
		writeJSON(w, status, tryOnResponse{Error: err.Error(), ErrorKind: domain.KindValidation})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), ErrorKind: domain.KindValidation})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindValidation:
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), ErrorKind: kind})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decodeImage accepts plain base64 or a data URL ("data:image/png;base64,...").
func decodeImage(field, value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "data:") {
		comma := strings.IndexByte(value, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: %s is a malformed data URL", domain.ErrValidation, field)
		}
		value = value[comma+1:]
	}
	if value == "" {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrValidation, field)
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(value); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not valid base64", domain.ErrValidation, field)
}
