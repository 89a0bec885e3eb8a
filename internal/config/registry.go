package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxkey/pkg/provider/liveness"
	"github.com/MrWong99/voxkey/pkg/provider/quality"
	"github.com/MrWong99/voxkey/pkg/provider/snr"
	"github.com/MrWong99/voxkey/pkg/provider/speech"
	"github.com/MrWong99/voxkey/pkg/provider/vad"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds an engine of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the name → constructor table of one engine kind.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

// create looks the factory up under mu and calls it with mu released.
func create[T any](mu *sync.RWMutex, f factories[T], entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// engine kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	speech     factories[speech.Engine]
	voiceprint factories[voiceprint.Engine]
	quality    factories[quality.Checker]
	liveness   factories[liveness.Checker]
	snr        factories[snr.Computer]
	vad        factories[vad.Engine]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		speech:     newFactories[speech.Engine]("speech"),
		voiceprint: newFactories[voiceprint.Engine]("voiceprint"),
		quality:    newFactories[quality.Checker]("quality"),
		liveness:   newFactories[liveness.Checker]("liveness"),
		snr:        newFactories[snr.Computer]("snr"),
		vad:        newFactories[vad.Engine]("vad"),
	}
}

// RegisterSpeech registers a speech-statistics engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSpeech(name string, f Factory[speech.Engine]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech.m[name] = f
}

// RegisterVoiceprint registers a voiceprint engine factory under name.
func (r *Registry) RegisterVoiceprint(name string, f Factory[voiceprint.Engine]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voiceprint.m[name] = f
}

// RegisterQuality registers a quality checker factory under name.
func (r *Registry) RegisterQuality(name string, f Factory[quality.Checker]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quality.m[name] = f
}

// RegisterLiveness registers a liveness checker factory under name.
func (r *Registry) RegisterLiveness(name string, f Factory[liveness.Checker]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liveness.m[name] = f
}

// RegisterSNR registers an SNR computer factory under name.
func (r *Registry) RegisterSNR(name string, f Factory[snr.Computer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snr.m[name] = f
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, f Factory[vad.Engine]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = f
}

// CreateSpeech instantiates the speech engine registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSpeech(entry ProviderEntry) (speech.Engine, error) {
	return create(&r.mu, r.speech, entry)
}

// CreateVoiceprint instantiates the voiceprint engine registered under entry.Name.
func (r *Registry) CreateVoiceprint(entry ProviderEntry) (voiceprint.Engine, error) {
	return create(&r.mu, r.voiceprint, entry)
}

// CreateQuality instantiates the quality checker registered under entry.Name.
func (r *Registry) CreateQuality(entry ProviderEntry) (quality.Checker, error) {
	return create(&r.mu, r.quality, entry)
}

// CreateLiveness instantiates the liveness checker registered under entry.Name.
func (r *Registry) CreateLiveness(entry ProviderEntry) (liveness.Checker, error) {
	return create(&r.mu, r.liveness, entry)
}

// CreateSNR instantiates the SNR computer registered under entry.Name.
func (r *Registry) CreateSNR(entry ProviderEntry) (snr.Computer, error) {
	return create(&r.mu, r.snr, entry)
}

// CreateVAD instantiates the VAD engine registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return create(&r.mu, r.vad, entry)
}

// OptFloat returns the numeric option key of entry, or def when it is unset
// or not a number.
func (e ProviderEntry) OptFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
