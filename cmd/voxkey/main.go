// Command voxkey is the main entry point for the voxkey speaker verification
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxkey/internal/app"
	"github.com/MrWong99/voxkey/internal/config"
	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/pkg/provider/liveness"
	"github.com/MrWong99/voxkey/pkg/provider/liveness/static"
	"github.com/MrWong99/voxkey/pkg/provider/quality"
	qualityenergy "github.com/MrWong99/voxkey/pkg/provider/quality/energy"
	"github.com/MrWong99/voxkey/pkg/provider/snr"
	snrenergy "github.com/MrWong99/voxkey/pkg/provider/snr/energy"
	"github.com/MrWong99/voxkey/pkg/provider/speech"
	speechenergy "github.com/MrWong99/voxkey/pkg/provider/speech/energy"
	"github.com/MrWong99/voxkey/pkg/provider/vad"
	vadenergy "github.com/MrWong99/voxkey/pkg/provider/vad/energy"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint/melprint"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "voxkey: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "voxkey: %v\n", err)
			}
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	slog.Info("voxkey starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"store", cfg.Store.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: cfg.Telemetry.ServiceName})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Engines ───────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	engines, err := buildEngines(cfg.Engines, reg)
	if err != nil {
		slog.Error("failed to build engines", "err", err)
		return 1
	}

	opts := []app.Option{
		app.WithLogLevel(level),
		app.WithMetricsHandler(promhttp.Handler()),
	}
	if *watch && *configPath != "" {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	application, err := app.New(ctx, cfg, engines, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	code := 0
	if runErr != nil {
		code = 1
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinProviders wires the engines that ship with voxkey into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSpeech("energy", func(e config.ProviderEntry) (speech.Engine, error) {
		return speechenergy.New(speechenergy.WithThresholdDB(e.OptFloat("threshold_db", speechenergy.DefaultThresholdDB))), nil
	})
	reg.RegisterVoiceprint("melprint", func(e config.ProviderEntry) (voiceprint.Engine, error) {
		return melprint.New(
			melprint.WithThresholdDB(e.OptFloat("threshold_db", melprint.DefaultThresholdDB)),
			melprint.WithCalibration(
				e.OptFloat("midpoint", melprint.DefaultMidpoint),
				e.OptFloat("steepness", melprint.DefaultSteepness),
			),
		), nil
	})
	reg.RegisterQuality("energy", func(e config.ProviderEntry) (quality.Checker, error) {
		return qualityenergy.New(qualityenergy.WithThresholdDB(e.OptFloat("threshold_db", qualityenergy.DefaultThresholdDB))), nil
	})
	reg.RegisterLiveness("static", func(e config.ProviderEntry) (liveness.Checker, error) {
		return static.New(float32(e.OptFloat("probability", 1)))
	})
	reg.RegisterSNR("energy", func(config.ProviderEntry) (snr.Computer, error) {
		return snrenergy.New(), nil
	})
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return vadenergy.New(), nil
	})
}

// buildEngines instantiates every engine named in ec. Speech and voiceprint
// are required; the rest are skipped when unnamed.
func buildEngines(ec config.EnginesConfig, reg *config.Registry) (recorder.Engines, error) {
	var (
		out  recorder.Engines
		errs []error
	)
	build := func(kind string, entry config.ProviderEntry, create func(config.ProviderEntry) error) {
		if entry.Name == "" {
			slog.Debug("engine disabled", "kind", kind)
			return
		}
		if err := create(entry); err != nil {
			errs = append(errs, &recorder.EngineInitError{Engine: kind, Err: err})
			return
		}
		slog.Info("engine created", "kind", kind, "name", entry.Name)
	}

	build("speech", ec.Speech, func(e config.ProviderEntry) (err error) {
		out.Speech, err = reg.CreateSpeech(e)
		return err
	})
	build("voiceprint", ec.Voiceprint, func(e config.ProviderEntry) (err error) {
		out.Voiceprint, err = reg.CreateVoiceprint(e)
		return err
	})
	build("quality", ec.Quality, func(e config.ProviderEntry) (err error) {
		out.Quality, err = reg.CreateQuality(e)
		return err
	})
	build("liveness", ec.Liveness, func(e config.ProviderEntry) (err error) {
		out.Liveness, err = reg.CreateLiveness(e)
		return err
	})
	build("snr", ec.SNR, func(e config.ProviderEntry) (err error) {
		out.SNR, err = reg.CreateSNR(e)
		return err
	})
	build("vad", ec.VAD, func(e config.ProviderEntry) (err error) {
		out.VAD, err = reg.CreateVAD(e)
		return err
	})
	if err := errors.Join(errs...); err != nil {
		return recorder.Engines{}, err
	}
	return out, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
