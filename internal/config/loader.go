package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxkey/internal/enroll"
	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/internal/store"
)

// ValidProviderNames lists the built-in provider names per engine kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"speech":     {"energy"},
	"voiceprint": {"melprint"},
	"quality":    {"energy"},
	"liveness":   {"static"},
	"snr":        {"energy"},
	"vad":        {"energy"},
}

// Built-in defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultMaxSessions   = 32
	DefaultIdleTimeout   = 10 * time.Second
	DefaultServiceName   = "voxkey"
	DefaultBadgerDir     = "data/badger"
	DefaultMinSpeechMs   = 500
	DefaultMaxSilenceMs  = 300
	DefaultResetMs       = 3000
	DefaultChunkSpeechMs = 3000
	DefaultTIEnrollMs    = 10000
	DefaultMatching      = 0.5
	DefaultMinSNRDb      = 10
	DefaultRelativeLen   = 0.55
	DefaultMultiSpeakers = 0.5
	DefaultWindowSeconds = 3
)

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{Verification: VerificationConfig{Settings: store.DefaultSettings()}}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, as used when no file
// is given.
func Default() *Config {
	cfg := &Config{Verification: VerificationConfig{Settings: store.DefaultSettings()}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	setDefault(&s.ListenAddr, DefaultListenAddr)
	setDefault(&s.LogLevel, LogInfo)
	setDefault(&s.MaxSessions, DefaultMaxSessions)
	setDefault(&s.IdleTimeout, DefaultIdleTimeout)

	e := &cfg.Engines
	setDefault(&e.Speech.Name, "energy")
	setDefault(&e.Voiceprint.Name, "melprint")
	setDefault(&e.Quality.Name, "energy")
	setDefault(&e.SNR.Name, "energy")
	setDefault(&e.VAD.Name, "energy")

	for _, u := range []*UtteranceConfig{&cfg.Recording.TextDependent, &cfg.Recording.TextIndependent} {
		setDefault(&u.MinSpeechMs, DefaultMinSpeechMs)
		setDefault(&u.MaxSilenceMs, DefaultMaxSilenceMs)
		setDefault(&u.SilenceResetMs, DefaultResetMs)
	}
	setDefault(&cfg.Recording.EndDetection, recorder.EndBySummary.String())

	en := &cfg.Enrollment
	setDefault(&en.TextDependentAttempts, enroll.DefaultTextDependentAttempts)
	setDefault(&en.MatchingThreshold, DefaultMatching)
	setDefault(&en.ChunkSpeechMs, DefaultChunkSpeechMs)
	setDefault(&en.TextIndependentMinSpeechMs, DefaultTIEnrollMs)
	setDefault(&en.Quality.MinSNRDb, DefaultMinSNRDb)
	setDefault(&en.Quality.MinSpeechRelativeLength, DefaultRelativeLen)
	setDefault(&en.Quality.MaxMultipleSpeakersChance, DefaultMultiSpeakers)

	v := &cfg.Verification
	setDefault(&v.ContinuousWindowSeconds, DefaultWindowSeconds)
	setDefault(&v.NoSpeechBackgroundMs, recorder.DefaultNoSpeechBackgroundMs)

	setDefault(&cfg.Store.Backend, StoreMemory)
	if cfg.Store.Backend == StoreBadger {
		setDefault(&cfg.Store.Dir, DefaultBadgerDir)
	}
	setDefault(&cfg.Store.Breaker.Name, "store")

	setDefault(&cfg.Telemetry.ServiceName, DefaultServiceName)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engines
	if cfg.Engines.Speech.Name == "" {
		errs = append(errs, errors.New("engines.speech.name is required"))
	}
	if cfg.Engines.Voiceprint.Name == "" {
		errs = append(errs, errors.New("engines.voiceprint.name is required"))
	}
	validateProviderName("speech", cfg.Engines.Speech.Name)
	validateProviderName("voiceprint", cfg.Engines.Voiceprint.Name)
	validateProviderName("quality", cfg.Engines.Quality.Name)
	validateProviderName("liveness", cfg.Engines.Liveness.Name)
	validateProviderName("snr", cfg.Engines.SNR.Name)
	validateProviderName("vad", cfg.Engines.VAD.Name)

	// Recording: the reset silence must outlast the stop silence in every mode.
	if err := cfg.Recording.TextDependent.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("recording.text_dependent: %w", err))
	}
	if err := cfg.Recording.TextIndependent.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("recording.text_independent: %w", err))
	}
	if cfg.Recording.EndDetection == recorder.EndByEndpoint.String() && cfg.Engines.VAD.Name == "" {
		errs = append(errs, errors.New("recording.end_detection endpoint requires engines.vad"))
	}

	// Enrollment
	chunk := recorder.ChunkSettings{ChunkSpeechMs: cfg.Enrollment.ChunkSpeechMs, TargetSpeechMs: cfg.Enrollment.TextIndependentMinSpeechMs}
	if err := chunk.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("enrollment: %w", err))
	}

	// Verification
	if cfg.Verification.Settings.LivenessCheckEnabled && cfg.Engines.Liveness.Name == "" {
		errs = append(errs, errors.New("verification.settings.liveness_check_enabled requires engines.liveness"))
	}

	// Store
	switch cfg.Store.Backend {
	case StoreBadger:
		if cfg.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the badger backend"))
		}
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
