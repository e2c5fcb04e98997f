package kernel

import (
	"fmt"
	"net/http"

	"github.com/oapi-codegen/runtime"
)

// ServerInterface mirrors the operations in openapi.yaml.
type ServerInterface interface {
	// (GET /)
	GetServiceInfo(w http.ResponseWriter, r *http.Request)
	// (GET /health)
	GetHealth(w http.ResponseWriter, r *http.Request)
	// (POST /api/tryon)
	TryOn(w http.ResponseWriter, r *http.Request)
	// (GET /v1/sessions)
	ListSessions(w http.ResponseWriter, r *http.Request, params ListSessionsParams)
	// (GET /v1/sessions/{session_id})
	GetSession(w http.ResponseWriter, r *http.Request, sessionID string)
	// (GET /v1/sessions/{session_id}/result)
	GetSessionResult(w http.ResponseWriter, r *http.Request, sessionID string)
	// (GET /v1/events)
	StreamEvents(w http.ResponseWriter, r *http.Request, params StreamEventsParams)
}

// ListSessionsParams defines parameters for ListSessions.
type ListSessionsParams struct {
	Limit *int `form:"limit,omitempty" json:"limit,omitempty"`
}

// StreamEventsParams defines parameters for StreamEvents.
type StreamEventsParams struct {
	SessionId *string `form:"session_id,omitempty" json:"session_id,omitempty"`
}

// InvalidParamFormatError is reported when a path or query parameter does not bind.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// ServerInterfaceWrapper converts HTTP requests to typed parameters.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) ListSessions(w http.ResponseWriter, r *http.Request) {
	var params ListSessionsParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}
	siw.Handler.ListSessions(w, r, params)
}

func (siw *ServerInterfaceWrapper) StreamEvents(w http.ResponseWriter, r *http.Request) {
	var params StreamEventsParams
	if err := runtime.BindQueryParameter("form", true, false, "session_id", r.URL.Query(), &params.SessionId); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "session_id", Err: err})
		return
	}
	siw.Handler.StreamEvents(w, r, params)
}

func (siw *ServerInterfaceWrapper) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := siw.bindSessionID(w, r)
	if !ok {
		return
	}
	siw.Handler.GetSession(w, r, sessionID)
}

func (siw *ServerInterfaceWrapper) GetSessionResult(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := siw.bindSessionID(w, r)
	if !ok {
		return
	}
	siw.Handler.GetSessionResult(w, r, sessionID)
}

func (siw *ServerInterfaceWrapper) bindSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var sessionID string
	err := runtime.BindStyledParameterWithOptions("simple", "session_id", r.PathValue("session_id"), &sessionID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "session_id", Err: err})
		return "", false
	}
	return sessionID, true
}

// HandlerFromMux registers every operation on m.
func HandlerFromMux(si ServerInterface, m *http.ServeMux, errorHandler func(w http.ResponseWriter, r *http.Request, err error)) http.Handler {
	if errorHandler == nil {
		errorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{Handler: si, ErrorHandlerFunc: errorHandler}

	m.HandleFunc("GET /{$}", si.GetServiceInfo)
	m.HandleFunc("GET /health", si.GetHealth)
	m.HandleFunc("POST /api/tryon", si.TryOn)
	m.HandleFunc("GET /v1/sessions", wrapper.ListSessions)
	m.HandleFunc("GET /v1/sessions/{session_id}", wrapper.GetSession)
	m.HandleFunc("GET /v1/sessions/{session_id}/result", wrapper.GetSessionResult)
	m.HandleFunc("GET /v1/events", wrapper.StreamEvents)
	return m
}
