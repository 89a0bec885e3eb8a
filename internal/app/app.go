// Package app wires all voxkey subsystems into a running service.
//
// The App struct owns the full lifecycle: New opens the template store and
// builds the verifier, session manager and HTTP server, Run serves until the
// context is cancelled, and Shutdown releases everything in order.
//
// For testing, inject doubles via functional options (WithStore, WithMetrics,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxkey/internal/config"
	"github.com/MrWong99/voxkey/internal/health"
	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/internal/resilience"
	"github.com/MrWong99/voxkey/internal/server"
	"github.com/MrWong99/voxkey/internal/store"
	"github.com/MrWong99/voxkey/internal/verify"
)

// shutdownTimeout bounds the graceful HTTP shutdown in Run.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     atomic.Pointer[config.Config]
	tuning  atomic.Pointer[server.Tuning]
	engines recorder.Engines

	// Subsystems, initialised in New and torn down in Shutdown.
	store    store.Store
	guarded  *store.Guarded
	verifier *verify.Verifier
	sessions *SessionManager
	health   *health.Handler
	server   *server.Server

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	configPath     string

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a template store instead of opening the configured
// backend. The App does not close an injected store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records on m instead of observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads adjust lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigWatch makes Run poll path for configuration changes.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. engines come from main.go (populated via the
// config registry) and are serialized here so concurrent sessions never call
// a shared engine at the same time.
func New(ctx context.Context, cfg *config.Config, engines recorder.Engines, opts ...Option) (*App, error) {
	a := &App{engines: engines.Serialized()}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.cfg.Store(cfg)
	tuning := server.TuningFrom(cfg)
	a.tuning.Store(&tuning)

	// ── 1. Template store ────────────────────────────────────────────────
	if err := a.initStore(ctx, cfg.Store); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.seedSettings(ctx, cfg.Verification.Settings)

	// ── 2. Verifier ──────────────────────────────────────────────────────
	v, err := verify.New(a.engines, a.guarded, verify.WithMetrics(a.metrics))
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init verifier: %w", err)
	}
	a.verifier = v

	// ── 3. Sessions + health ─────────────────────────────────────────────
	a.sessions = NewSessionManager(cfg.Server.MaxSessions)
	a.health = health.New(
		health.Ping("store", a.guarded),
		health.Breaker("store_breaker", a.guarded.Breaker()),
		health.Ready("engines", func() bool {
			return a.engines.Speech != nil && a.engines.Voiceprint != nil
		}),
	)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	srv, err := server.New(server.Deps{
		Engines:        a.engines,
		Store:          a.guarded,
		Verifier:       a.verifier,
		Sessions:       a.sessions,
		Tuning:         a.Tuning,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.server = srv
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured backend unless one was injected, and wraps
// it in the circuit breaker.
func (a *App) initStore(ctx context.Context, sc config.StoreConfig) error {
	if a.store == nil {
		s, err := openStore(ctx, sc)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	}
	a.guarded = store.NewGuarded(a.store, sc.Breaker)
	slog.Info("template store ready", "backend", sc.Backend)
	return nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Backend {
	case config.StoreMemory, "":
		return store.NewMemory(), nil
	case config.StoreBadger:
		return store.NewBadger(store.BadgerOptions{Dir: sc.Dir})
	case config.StorePostgres:
		return store.NewPostgres(ctx, sc.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// seedSettings writes the configured settings while the store still holds the
// built-in defaults, so settings changed through the API survive restarts.
// Failures are logged only.
func (a *App) seedSettings(ctx context.Context, want store.Settings) {
	def := store.DefaultSettings()
	if want == def {
		return
	}
	cur, err := a.guarded.GetSettings(ctx)
	if err != nil {
		slog.Warn("settings not seeded", "err", &recorder.PersistenceError{Op: "load settings", Key: "settings", Err: err})
		return
	}
	if cur != def {
		return
	}
	if err := a.guarded.PutSettings(ctx, want); err != nil {
		slog.Warn("settings not seeded", "err", &recorder.PersistenceError{Op: "save settings", Key: "settings", Err: err})
		return
	}
	slog.Info("settings seeded from config", "verification_threshold", want.VerificationThreshold)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the whole API.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Tuning returns the thresholds applied to new sessions.
func (a *App) Tuning() server.Tuning { return *a.tuning.Load() }

// Config returns the active configuration.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Breaker returns the circuit breaker guarding the store.
func (a *App) Breaker() *resilience.CircuitBreaker { return a.guarded.Breaker() }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig switches to next. Log level and session thresholds take effect
// immediately, the latter for new sessions only. Changes that need a restart
// are logged and otherwise ignored.
func (a *App) ApplyConfig(ctx context.Context, next *config.Config) {
	prev := a.cfg.Load()
	d := config.Diff(prev, next)
	for _, field := range d.RestartRequired {
		slog.Warn("config change requires a restart", "field", field)
	}
	if !d.Changed() {
		a.cfg.Store(next)
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RecordingChanged || d.EnrollmentChanged || d.VerificationChanged {
		t := server.TuningFrom(next)
		a.tuning.Store(&t)
		slog.Info("session tuning reloaded",
			"recording", d.RecordingChanged,
			"enrollment", d.EnrollmentChanged,
			"verification", d.VerificationChanged,
		)
	}
	if d.VerificationChanged {
		a.seedSettings(ctx, next.Verification.Settings)
	}
	a.cfg.Store(next)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled. It
// returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config().Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.Config()
	g, gctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked session sockets outlive Shutdown; tie them to gctx.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		return nil
	})

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(_, next *config.Config) {
			a.ApplyConfig(gctx, next)
		})
		if err != nil {
			slog.Warn("config watch disabled", "path", a.configPath, "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	slog.Info("app running", "addr", ln.Addr().String(), "max_sessions", cfg.Server.MaxSessions)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "active_sessions", a.sessions.Count())
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
