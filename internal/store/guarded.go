package store

import (
	"context"
	"errors"

	"github.com/MrWong99/voxkey/internal/resilience"
)

// Guarded wraps a Store in a circuit breaker. ErrNotFound is an ordinary
// answer and never counts as a failure. Ping bypasses the breaker so
// readiness checks see the backend's real state.
type Guarded struct {
	next    Store
	breaker *resilience.CircuitBreaker
}

var (
	_ Store           = (*Guarded)(nil)
	_ EmbeddingWriter = (*Guarded)(nil)
)

// NewGuarded returns next behind a breaker configured by cfg.
func NewGuarded(next Store, cfg resilience.CircuitBreakerConfig) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "store"
	}
	return &Guarded{next: next, breaker: resilience.NewCircuitBreaker(cfg)}
}

// Breaker exposes the breaker for health reporting.
func (g *Guarded) Breaker() *resilience.CircuitBreaker { return g.breaker }

// run executes fn through the breaker, passing ErrNotFound through as a
// success.
func (g *Guarded) run(fn func() error) error {
	var notFound bool
	err := g.breaker.Execute(func() error {
		err := fn()
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if notFound {
		return ErrNotFound
	}
	return err
}

func (g *Guarded) PutTemplate(ctx context.Context, subject, key string, data []byte) error {
	return g.run(func() error { return g.next.PutTemplate(ctx, subject, key, data) })
}

func (g *Guarded) GetTemplate(ctx context.Context, subject, key string) ([]byte, error) {
	var data []byte
	err := g.run(func() (err error) {
		data, err = g.next.GetTemplate(ctx, subject, key)
		return err
	})
	return data, err
}

func (g *Guarded) DeleteTemplates(ctx context.Context, subject string, keys ...string) error {
	return g.run(func() error { return g.next.DeleteTemplates(ctx, subject, keys...) })
}

func (g *Guarded) ListTemplates(ctx context.Context, subject string) ([]string, error) {
	var keys []string
	err := g.run(func() (err error) {
		keys, err = g.next.ListTemplates(ctx, subject)
		return err
	})
	return keys, err
}

func (g *Guarded) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := g.run(func() (err error) {
		s, err = g.next.GetSettings(ctx)
		return err
	})
	return s, err
}

func (g *Guarded) PutSettings(ctx context.Context, s Settings) error {
	// Validation failures do not trip the breaker.
	if err := s.Validate(); err != nil {
		return err
	}
	return g.run(func() error { return g.next.PutSettings(ctx, s) })
}

// PutEmbedding forwards to the wrapped backend, or returns
// errors.ErrUnsupported when it cannot index embeddings.
func (g *Guarded) PutEmbedding(ctx context.Context, subject, key string, embedding []float32) error {
	w, ok := g.next.(EmbeddingWriter)
	if !ok {
		return errors.ErrUnsupported
	}
	return g.run(func() error { return w.PutEmbedding(ctx, subject, key, embedding) })
}

func (g *Guarded) Ping(ctx context.Context) error { return g.next.Ping(ctx) }

func (g *Guarded) Close() error { return g.next.Close() }
