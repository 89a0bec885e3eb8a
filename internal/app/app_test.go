package app_test

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/MrWong99/voxkey/internal/app"
	"github.com/MrWong99/voxkey/internal/config"
	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/internal/store"
	speechmock "github.com/MrWong99/voxkey/pkg/provider/speech/mock"
	vpmock "github.com/MrWong99/voxkey/pkg/provider/voiceprint/mock"
)

func testEngines() recorder.Engines {
	return recorder.Engines{
		Speech:     &speechmock.Engine{Stream: &speechmock.Stream{}},
		Voiceprint: &vpmock.Engine{},
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	a, err := app.New(context.Background(), config.Default(), testEngines(), app.WithStore(st))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Sessions().Count() != 0 {
		t.Errorf("active sessions = %d, want 0", a.Sessions().Count())
	}
	if got := a.Tuning().TextDependentAttempts; got != config.Default().Enrollment.TextDependentAttempts {
		t.Errorf("TextDependentAttempts = %d", got)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	// An injected store is not closed.
	if err := st.PutSettings(context.Background(), store.DefaultSettings()); err != nil {
		t.Errorf("store unusable after Shutdown: %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		engines recorder.Engines
	}{
		{
			name:    "unknown backend",
			mutate:  func(c *config.Config) { c.Store.Backend = "etcd" },
			engines: testEngines(),
		},
		{
			name:    "badger without dir",
			mutate:  func(c *config.Config) { c.Store.Backend = config.StoreBadger; c.Store.Dir = "" },
			engines: testEngines(),
		},
		{
			name:    "no voiceprint engine",
			mutate:  func(*config.Config) {},
			engines: recorder.Engines{Speech: &speechmock.Engine{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(cfg)
			if _, err := app.New(context.Background(), cfg, tt.engines); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_SeedsSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Verification.Settings.VerificationThreshold = 0.7

	fresh := store.NewMemory()
	if _, err := app.New(ctx, cfg, testEngines(), app.WithStore(fresh)); err != nil {
		t.Fatal(err)
	}
	if got, _ := fresh.GetSettings(ctx); got.VerificationThreshold != 0.7 {
		t.Errorf("fresh store threshold = %v, want 0.7", got.VerificationThreshold)
	}

	// Settings already changed through the API win over the config.
	edited := store.NewMemory()
	custom := store.DefaultSettings()
	custom.VerificationThreshold = 0.9
	if err := edited.PutSettings(ctx, custom); err != nil {
		t.Fatal(err)
	}
	if _, err := app.New(ctx, cfg, testEngines(), app.WithStore(edited)); err != nil {
		t.Fatal(err)
	}
	if got, _ := edited.GetSettings(ctx); got != custom {
		t.Errorf("edited store = %+v, want %+v", got, custom)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	a, err := app.New(context.Background(), config.Default(), testEngines(),
		app.WithStore(store.NewMemory()), app.WithLogLevel(lv))
	if err != nil {
		t.Fatal(err)
	}

	next := config.Default()
	next.Server.LogLevel = config.LogDebug
	next.Enrollment.TextDependentAttempts = 5
	next.Server.ListenAddr = ":1"
	a.ApplyConfig(context.Background(), next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if got := a.Tuning().TextDependentAttempts; got != 5 {
		t.Errorf("TextDependentAttempts = %d, want 5", got)
	}
	if a.Config() != next {
		t.Error("Config() does not return the applied config")
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), config.Default(), testEngines(), app.WithStore(store.NewMemory()))
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET /healthz = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestShutdown_DeadlineExceeded(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), config.Default(), testEngines())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); err == nil {
		t.Error("Shutdown with an expired context should return an error")
	}
	// The second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}
}
