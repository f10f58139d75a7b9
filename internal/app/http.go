package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/voxscribe/internal/feed"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/resilience"
	"github.com/MrWong99/voxscribe/internal/speaker"
)

// maxBodyBytes caps control request bodies.
const maxBodyBytes = 1 << 16

// breakerReporter is implemented by recognizers that expose breaker states,
// such as [resilience.Recognizer].
type breakerReporter interface {
	States() map[string]resilience.State
}

// captureState is the body of the capture endpoints.
type captureState struct {
	StartRequested bool   `json:"start_requested"`
	StopRequested  bool   `json:"stop_requested"`
	CaseID         string `json:"case_id"`
}

// caseBody is the body of the case endpoints.
type caseBody struct {
	ID string `json:"id"`
}

type speakersBody struct {
	Threshold float64           `json:"threshold"`
	Speakers  []speaker.Profile `json:"speakers"`
}

type statusBody struct {
	SessionID string            `json:"session_id"`
	Workers   map[string]bool   `json:"workers"`
	Breakers  map[string]string `json:"breakers,omitempty"`
	Capture   captureState      `json:"capture"`
	Feeds     map[string]int    `json:"feeds"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handler returns the control API, health, metrics and feed routes wrapped
// in the metrics middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}

	mux.HandleFunc("GET /api/capture", a.handleCaptureState)
	mux.HandleFunc("POST /api/capture/start", a.handleCaptureStart)
	mux.HandleFunc("POST /api/capture/stop", a.handleCaptureStop)
	mux.HandleFunc("GET /api/case", a.handleGetCase)
	mux.HandleFunc("PUT /api/case", a.handlePutCase)
	mux.HandleFunc("GET /api/speakers", a.handleGetSpeakers)
	mux.HandleFunc("DELETE /api/speakers", a.handleResetSpeakers)
	mux.HandleFunc("GET /api/status", a.handleStatus)

	mux.Handle("GET /ws/preview", a.hub.Handler(feed.KindPreview))
	mux.Handle("GET /ws/utterances", a.hub.Handler(feed.KindUtterances))

	return observe.Middleware(a.metrics)(mux)
}

func (a *App) captureState() captureState {
	start, stop := a.bundle.Signals.State()
	return captureState{StartRequested: start, StopRequested: stop, CaseID: a.bundle.Case.ID()}
}

func (a *App) handleCaptureState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.captureState())
}

func (a *App) handleCaptureStart(w http.ResponseWriter, _ *http.Request) {
	a.bundle.Signals.RequestStart()
	slog.Info("capture start requested", "case", a.bundle.Case.ID())
	writeJSON(w, http.StatusAccepted, a.captureState())
}

func (a *App) handleCaptureStop(w http.ResponseWriter, _ *http.Request) {
	if !a.bundle.Signals.RequestStop() {
		writeJSON(w, http.StatusConflict, errorBody{Error: "capture is not running"})
		return
	}
	slog.Info("capture stop requested")
	writeJSON(w, http.StatusAccepted, a.captureState())
}

func (a *App) handleGetCase(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, caseBody{ID: a.bundle.Case.ID()})
}

func (a *App) handlePutCase(w http.ResponseWriter, r *http.Request) {
	var body caseBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	id := strings.TrimSpace(body.ID)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "id must not be empty"})
		return
	}
	a.bundle.Case.Set(id)
	slog.Info("case changed", "case", id)
	writeJSON(w, http.StatusOK, caseBody{ID: a.bundle.Case.ID()})
}

func (a *App) handleGetSpeakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, speakersBody{Threshold: a.speakers.Threshold(), Speakers: a.speakers.Profiles()})
}

func (a *App) handleResetSpeakers(w http.ResponseWriter, r *http.Request) {
	if err := a.speakers.Reset(r.Context()); err != nil {
		slog.Error("speaker gallery reset failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	slog.Info("speaker gallery reset")
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	body := statusBody{
		SessionID: a.sessionID,
		Workers:   a.supervisor.Status(),
		Capture:   a.captureState(),
		Feeds: map[string]int{
			string(feed.KindPreview):    a.hub.Clients(feed.KindPreview),
			string(feed.KindUtterances): a.hub.Clients(feed.KindUtterances),
		},
	}
	if br, ok := a.providers.ASR.(breakerReporter); ok {
		body.Breakers = make(map[string]string)
		for name, st := range br.States() {
			body.Breakers[name] = st.String()
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}
