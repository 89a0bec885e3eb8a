// Package health provides HTTP liveness and readiness handlers.
//
//   - /healthz always returns 200 while the process can serve HTTP.
//   - /readyz returns 200 only when every registered [Checker] passes.
//
// Responses are JSON objects with a "status" field ("ok" or "fail") and, for
// /readyz, a "checks" map with the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxkey/internal/resilience"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is anything with a reachability probe, such as a template store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a Checker that calls p.Ping.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Breaker returns a Checker that fails while cb is open.
func Breaker(name string, cb *resilience.CircuitBreaker) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if cb.State() == resilience.StateOpen {
			return resilience.ErrCircuitOpen
		}
		return nil
	}}
}

// Ready returns a Checker that fails until ready reports true. It suits
// components that finish initialising after the HTTP server has started.
func Ready(name string, ready func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !ready() {
			return errors.New("not ready")
		}
		return nil
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New returns a Handler that runs checkers concurrently on every /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Run executes every checker concurrently and returns each outcome by name.
func (h *Handler) Run(ctx context.Context) (map[string]error, bool) {
	var (
		mu  sync.Mutex
		out = make(map[string]error, len(h.checkers))
		g   errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			err := c.Check(cctx)
			mu.Lock()
			out[c.Name] = err
			mu.Unlock()
			return err
		})
	}
	ok := g.Wait() == nil
	return out, ok
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes, ok := h.Run(r.Context())
	res := result{Status: "ok", Checks: make(map[string]string, len(outcomes))}
	for name, err := range outcomes {
		if err != nil {
			res.Checks[name] = "fail: " + err.Error()
		} else {
			res.Checks[name] = "ok"
		}
	}
	status := http.StatusOK
	if !ok {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
