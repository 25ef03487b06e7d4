package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/voxpipe/internal/config"
	"github.com/MrWong99/voxpipe/internal/events"
	"github.com/MrWong99/voxpipe/internal/history"
	"github.com/MrWong99/voxpipe/internal/observe"
	"github.com/MrWong99/voxpipe/internal/resilience"
	"github.com/MrWong99/voxpipe/pkg/audio"
	"github.com/MrWong99/voxpipe/pkg/voice"
)

// maxBodyBytes caps control request bodies.
const maxBodyBytes = 1 << 20

// StartRequest is the body of POST /v1/session/start.
type StartRequest struct {
	Mode    string        `json:"mode"`
	Context voice.Context `json:"context"`
}

// StatusResponse is the body of GET /v1/session.
type StatusResponse struct {
	Phase   string       `json:"phase"`
	Level   LevelJSON    `json:"level"`
	Session *SessionInfo `json:"session,omitempty"`
}

// LevelJSON is the wire form of an [audio.Level].
type LevelJSON struct {
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
}

// DeviceJSON is the wire form of an [audio.Device].
type DeviceJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Default  bool   `json:"default"`
	Selected bool   `json:"selected"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/session/start", a.handleStart)
	mux.HandleFunc("POST /v1/session/stop", a.handleStop)
	mux.HandleFunc("POST /v1/session/cancel", a.handleCancel)
	mux.HandleFunc("GET /v1/session", a.handleStatus)
	mux.HandleFunc("GET /v1/devices", a.handleDevices)
	mux.HandleFunc("PUT /v1/devices/current", a.handleSelectDevice)
	mux.HandleFunc("GET /v1/history", a.handleHistory)
	mux.HandleFunc("POST /v1/config/reload", a.handleReload)
	a.health.Register(mux)
	if a.telemetry != nil && a.telemetry.Handler != nil {
		mux.Handle("GET /metrics", a.telemetry.Handler)
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	info, err := a.sessions.Start(r.Context(), req.Mode, req.Context)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	res, err := a.sessions.Stop(r.Context())
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, events.NewResultEvent(*res))
}

func (a *App) handleCancel(w http.ResponseWriter, _ *http.Request) {
	a.sessions.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	orch := a.sessions.Orchestrator()
	lvl := orch.Level()
	resp := StatusResponse{
		Phase: orch.Phase().String(),
		Level: LevelJSON{RMS: lvl.RMS, Peak: lvl.Peak},
	}
	if info := a.sessions.Info(); info.SessionID != "" {
		resp.Session = &info
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := a.capture.Devices()
	if err != nil {
		writeError(w, http.StatusBadGateway, "device", err)
		return
	}
	current := a.capture.Device()
	out := make([]DeviceJSON, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceJSON{
			ID:       d.ID,
			Name:     d.Name,
			Default:  d.Default,
			Selected: d.ID == current || (current == "" && d.Default),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := a.capture.SelectDevice(req.ID); err != nil {
		if errors.Is(err, audio.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device_not_found", err)
			return
		}
		writeError(w, http.StatusBadGateway, "device", err)
		return
	}
	slog.Info("input device selected", "device", req.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "history_disabled", errors.New("history is not configured"))
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	recs, err := a.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history", err)
		return
	}
	out := make([]HistoryJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newHistoryJSON(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	switch err := a.Reload(r.Context()); {
	case errors.Is(err, ErrReloadDisabled):
		writeError(w, http.StatusNotFound, "reload_disabled", err)
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, "invalid_config", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// HistoryJSON is the wire form of a [history.Record]. Durations are in
// milliseconds.
type HistoryJSON struct {
	SessionID     string    `json:"session_id"`
	Provider      string    `json:"provider"`
	Mode          string    `json:"mode,omitempty"`
	Language      string    `json:"language,omitempty"`
	OriginalText  string    `json:"original_text"`
	CorrectedText string    `json:"corrected_text,omitempty"`
	STTMs         int64     `json:"stt_ms"`
	LLMMs         *int64    `json:"llm_ms,omitempty"`
	TotalMs       int64     `json:"total_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

func newHistoryJSON(r history.Record) HistoryJSON {
	h := HistoryJSON{
		SessionID:     r.SessionID,
		Provider:      r.Provider,
		Mode:          r.Mode,
		Language:      r.Language,
		OriginalText:  r.OriginalText,
		CorrectedText: r.CorrectedText,
		STTMs:         r.STTDuration.Milliseconds(),
		TotalMs:       r.TotalDuration.Milliseconds(),
		CreatedAt:     r.CreatedAt,
	}
	if r.LLMDuration != nil {
		ms := r.LLMDuration.Milliseconds()
		h.LLMMs = &ms
	}
	return h
}

// writeSessionError maps the session error taxonomy to HTTP statuses.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("session request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, kind, err)
}

func classify(err error) (int, string) {
	var (
		devErr   *voice.DeviceError
		modelErr *voice.ModelError
		tErr     *voice.TransportError
		srvErr   *voice.ServerError
		httpErr  *voice.HTTPError
		llmErr   *voice.LLMError
	)
	switch {
	case errors.Is(err, ErrUnknownMode):
		return http.StatusBadRequest, "unknown_mode"
	case errors.Is(err, voice.ErrAlreadyActive):
		return http.StatusConflict, "already_active"
	case errors.Is(err, voice.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, voice.ErrCancelled):
		return http.StatusConflict, "cancelled"
	case errors.Is(err, voice.ErrEmptyAudio):
		return http.StatusUnprocessableEntity, "empty_audio"
	case errors.Is(err, config.ErrProviderNotRegistered):
		return http.StatusBadRequest, "provider_not_registered"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "circuit_open"
	case errors.As(err, &devErr):
		return http.StatusBadGateway, "device"
	case errors.As(err, &llmErr):
		return http.StatusBadGateway, "llm"
	case errors.As(err, &tErr):
		return http.StatusBadGateway, "transport"
	case errors.As(err, &srvErr):
		return http.StatusBadGateway, "server"
	case errors.As(err, &httpErr):
		return http.StatusBadGateway, "http"
	case errors.As(err, &modelErr):
		return http.StatusInternalServerError, "model"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decodeJSON decodes the request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
