// Package server exposes voxkey over HTTP.
//
// Audio arrives over a WebSocket per recording session (see [Server.ServeSession]);
// settings and enrollments are managed through small JSON endpoints. Health,
// readiness and Prometheus metrics are mounted on the same mux.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/voxkey/internal/config"
	"github.com/MrWong99/voxkey/internal/health"
	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/internal/resilience"
	"github.com/MrWong99/voxkey/internal/store"
	"github.com/MrWong99/voxkey/internal/verify"
	"github.com/MrWong99/voxkey/pkg/provider/quality"
)

// SessionInfo describes an admitted recording session.
type SessionInfo struct {
	ID        string
	Flow      string
	Mode      string
	Subject   string
	StartedAt time.Time
}

// Admitter bounds the number of concurrent recording sessions. Admit returns
// an error when no slot is free; release must be called exactly once.
type Admitter interface {
	Admit(info SessionInfo) (release func(), err error)
}

// Tuning holds the thresholds applied to new sessions. Running sessions keep
// the values they started with.
type Tuning struct {
	TextDependent   recorder.Thresholds
	TextIndependent recorder.Thresholds
	EndDetection    recorder.EndDetection

	TextDependentAttempts int
	MatchingThreshold     float32

	ChunkSpeechMs  float32
	TargetSpeechMs float32

	// Quality is applied with the speech minimum of the recording it checks.
	Quality config.QualityConfig

	Continuous recorder.ContinuousSettings

	// IdleTimeout is how long a recording session may go without audio
	// before it is ended as a long silence. Zero disables the check.
	IdleTimeout time.Duration
}

// TuningFrom extracts the session tuning from cfg.
func TuningFrom(cfg *config.Config) Tuning {
	return Tuning{
		TextDependent:         cfg.Recording.TextDependent.Thresholds(),
		TextIndependent:       cfg.Recording.TextIndependent.Thresholds(),
		EndDetection:          cfg.Recording.EndDetection,
		TextDependentAttempts: cfg.Enrollment.TextDependentAttempts,
		MatchingThreshold:     cfg.Enrollment.MatchingThreshold,
		ChunkSpeechMs:         cfg.Enrollment.ChunkSpeechMs,
		TargetSpeechMs:        cfg.Enrollment.TextIndependentMinSpeechMs,
		Quality:               cfg.Enrollment.Quality,
		Continuous: recorder.ContinuousSettings{
			WindowSeconds:        cfg.Verification.ContinuousWindowSeconds,
			NoSpeechBackgroundMs: cfg.Verification.NoSpeechBackgroundMs,
		},
		IdleTimeout: cfg.Server.IdleTimeout,
	}
}

// quality returns the quality thresholds for recordings of mode.
func (t Tuning) quality(mode recorder.VerificationMode) quality.Thresholds {
	if mode == recorder.TextDependent {
		return t.Quality.Thresholds(t.TextDependent.MinSpeechLengthMs)
	}
	return t.Quality.Thresholds(t.TextIndependent.MinSpeechLengthMs)
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Engines  recorder.Engines
	Store    store.Store
	Verifier *verify.Verifier

	// Sessions limits concurrent sessions. Nil admits everything.
	Sessions Admitter

	// Tuning returns the current tuning. Nil uses the built-in defaults.
	Tuning func() Tuning

	// NewID generates session identifiers.
	NewID func() string

	Health *health.Handler

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
}

// Server routes HTTP requests. Create one with New.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// New validates deps and registers every route.
func New(deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("server: verifier is required")
	}
	if deps.Engines.Speech == nil {
		return nil, &recorder.EngineInitError{Engine: "speech", Err: errors.New("no engine configured")}
	}
	if deps.Tuning == nil {
		def := TuningFrom(config.Default())
		deps.Tuning = func() Tuning { return def }
	}
	if deps.NewID == nil {
		deps.NewID = newSessionID
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /v1/sessions/ws", s.ServeSession)
	s.mux.HandleFunc("GET /v1/settings", s.getSettings)
	s.mux.HandleFunc("PUT /v1/settings", s.putSettings)
	s.mux.HandleFunc("GET /v1/enrollments", s.getEnrollments)
	s.mux.HandleFunc("DELETE /v1/enrollments", s.deleteEnrollments)
	if deps.Health != nil {
		deps.Health.Register(s.mux)
	}
	if deps.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", deps.MetricsHandler)
	}
	return s, nil
}

// Handler returns the mux wrapped in the tracing and metrics middleware.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.deps.Metrics)(s.mux)
}

// ── Settings ──────────────────────────────────────────────────────────────────

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	set, err := s.deps.Store.GetSettings(r.Context())
	if err != nil {
		s.storeError(w, r, "load settings", "settings", err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// maxSettingsBody bounds PUT /v1/settings payloads.
const maxSettingsBody = 4 << 10

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	dec.DisallowUnknownFields()
	var set store.Settings
	if err := dec.Decode(&set); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("server: decode settings: %w", err))
		return
	}
	if err := set.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if set.LivenessCheckEnabled && s.deps.Engines.Liveness == nil {
		writeError(w, http.StatusUnprocessableEntity, errors.New("server: liveness check needs a liveness engine"))
		return
	}
	if err := s.deps.Store.PutSettings(r.Context(), set); err != nil {
		s.storeError(w, r, "save settings", "settings", err)
		return
	}
	observe.Logger(r.Context()).Info("server: settings updated",
		"verification_threshold", set.VerificationThreshold,
		"liveness_check_enabled", set.LivenessCheckEnabled,
	)
	writeJSON(w, http.StatusOK, set)
}

// ── Enrollments ───────────────────────────────────────────────────────────────

// enrollmentKeys are the template keys a subject can hold.
var enrollmentKeys = []string{
	recorder.TextDependent.TemplateKey(),
	recorder.TextIndependent.TemplateKey(),
}

type enrollmentsResponse struct {
	Subject         string   `json:"subject"`
	TextDependent   bool     `json:"text_dependent"`
	TextIndependent bool     `json:"text_independent"`
	Keys            []string `json:"keys"`
}

func (s *Server) getEnrollments(w http.ResponseWriter, r *http.Request) {
	subject := store.Subject(r.URL.Query().Get("subject"))
	keys, err := s.deps.Store.ListTemplates(r.Context(), subject)
	if err != nil {
		s.storeError(w, r, "list templates", subject, err)
		return
	}
	resp := enrollmentsResponse{Subject: subject, Keys: keys}
	for _, k := range keys {
		switch k {
		case recorder.TextDependent.TemplateKey():
			resp.TextDependent = true
		case recorder.TextIndependent.TemplateKey():
			resp.TextIndependent = true
		}
	}
	if resp.Keys == nil {
		resp.Keys = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// deleteEnrollments resets both enrollments of a subject.
func (s *Server) deleteEnrollments(w http.ResponseWriter, r *http.Request) {
	subject := store.Subject(r.URL.Query().Get("subject"))
	if err := s.deps.Store.DeleteTemplates(r.Context(), subject, enrollmentKeys...); err != nil {
		s.storeError(w, r, "delete templates", subject, err)
		return
	}
	observe.Logger(r.Context()).Info("server: enrollments reset", "subject", subject)
	w.WriteHeader(http.StatusNoContent)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// storeError reports a persistence failure. An open breaker maps to 503.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op, key string, err error) {
	perr := &recorder.PersistenceError{Op: op, Key: key, Err: err}
	observe.Logger(r.Context()).Warn("server: store request failed", "err", perr)
	status := http.StatusInternalServerError
	if errors.Is(err, resilience.ErrCircuitOpen) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, perr)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
