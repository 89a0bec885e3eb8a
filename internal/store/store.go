// Package store persists enrolled voice templates and verification settings.
//
// Templates are opaque blobs keyed by subject and template key (see
// recorder.VerificationMode.TemplateKey). Settings are a single global record.
// Three backends are provided: [Memory] for tests and ephemeral deployments,
// [Badger] for an embedded on-disk store, and [Postgres] for shared
// deployments. [Guarded] wraps any backend in a circuit breaker.
//
// All backends are safe for concurrent use.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrNotFound is returned when no template exists for a subject and key.
var ErrNotFound = errors.New("store: not found")

// DefaultSubject is used when a caller does not name a subject.
const DefaultSubject = "default"

// Store is the persistence contract shared by every backend.
type Store interface {
	// PutTemplate creates or replaces the template for subject and key.
	PutTemplate(ctx context.Context, subject, key string, data []byte) error

	// GetTemplate returns the template for subject and key, or ErrNotFound.
	GetTemplate(ctx context.Context, subject, key string) ([]byte, error)

	// DeleteTemplates removes the named templates of subject. Missing keys
	// are not an error.
	DeleteTemplates(ctx context.Context, subject string, keys ...string) error

	// ListTemplates returns the keys stored for subject in sorted order.
	ListTemplates(ctx context.Context, subject string) ([]string, error)

	// GetSettings returns the stored settings, or DefaultSettings when none
	// have been written.
	GetSettings(ctx context.Context) (Settings, error)

	// PutSettings replaces the stored settings.
	PutSettings(ctx context.Context, s Settings) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// EmbeddingWriter is implemented by backends that can index the dense vector
// of a template alongside its blob.
type EmbeddingWriter interface {
	PutEmbedding(ctx context.Context, subject, key string, embedding []float32) error
}

// Settings are the user-tunable verification parameters.
type Settings struct {
	VerificationThreshold         float32 `json:"verification_threshold" yaml:"verification_threshold" validate:"gte=0,lte=1"`
	LivenessThreshold             float32 `json:"liveness_threshold" yaml:"liveness_threshold" validate:"gte=0,lte=1"`
	LivenessCheckEnabled          bool    `json:"liveness_check_enabled" yaml:"liveness_check_enabled"`
	EnrollmentQualityCheckEnabled bool    `json:"enrollment_quality_check_enabled" yaml:"enrollment_quality_check_enabled"`
}

// DefaultSettings returns the settings used before any have been stored.
func DefaultSettings() Settings {
	return Settings{
		VerificationThreshold:         0.5,
		LivenessThreshold:             0.5,
		EnrollmentQualityCheckEnabled: true,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that both thresholds lie in [0, 1].
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("store: invalid settings: %w", err)
	}
	return nil
}

// Subject returns s, or DefaultSubject when s is empty.
func Subject(s string) string {
	if s == "" {
		return DefaultSubject
	}
	return s
}
