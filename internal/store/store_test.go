package store_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voxkey/internal/resilience"
	"github.com/MrWong99/voxkey/internal/store"
)

const (
	tdKey = "text_dependent_voice_template"
	tiKey = "text_independent_voice_template"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.GetTemplate(ctx, "alice", tdKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetTemplate on empty store err = %v, want ErrNotFound", err)
	}
	if err := s.PutTemplate(ctx, "alice", tdKey, []byte("td-1")); err != nil {
		t.Fatalf("PutTemplate: %v", err)
	}
	if err := s.PutTemplate(ctx, "alice", tdKey, []byte("td-2")); err != nil {
		t.Fatalf("PutTemplate overwrite: %v", err)
	}
	if err := s.PutTemplate(ctx, "alice", tiKey, []byte("ti")); err != nil {
		t.Fatalf("PutTemplate: %v", err)
	}
	if err := s.PutTemplate(ctx, "", tiKey, []byte("default-ti")); err != nil {
		t.Fatalf("PutTemplate default subject: %v", err)
	}

	got, err := s.GetTemplate(ctx, "alice", tdKey)
	if err != nil || string(got) != "td-2" {
		t.Errorf("GetTemplate = %q, %v; want td-2", got, err)
	}
	got, err = s.GetTemplate(ctx, store.DefaultSubject, tiKey)
	if err != nil || string(got) != "default-ti" {
		t.Errorf("GetTemplate default = %q, %v", got, err)
	}

	keys, err := s.ListTemplates(ctx, "alice")
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if !slices.Equal(keys, []string{tdKey, tiKey}) {
		t.Errorf("ListTemplates = %v", keys)
	}

	if err := s.DeleteTemplates(ctx, "alice", tdKey, tiKey, "missing"); err != nil {
		t.Fatalf("DeleteTemplates: %v", err)
	}
	if keys, _ := s.ListTemplates(ctx, "alice"); len(keys) != 0 {
		t.Errorf("keys after delete = %v", keys)
	}
	if _, err := s.GetTemplate(ctx, "", tiKey); err != nil {
		t.Errorf("deleting alice removed the default subject: %v", err)
	}

	settings, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings != store.DefaultSettings() {
		t.Errorf("initial settings = %+v, want defaults", settings)
	}
	want := store.Settings{VerificationThreshold: 0.75, LivenessThreshold: 0.25, LivenessCheckEnabled: true}
	if err := s.PutSettings(ctx, want); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}
	if settings, _ = s.GetSettings(ctx); settings != want {
		t.Errorf("settings = %+v, want %+v", settings, want)
	}
	if err := s.PutSettings(ctx, store.Settings{VerificationThreshold: 1.5}); err == nil {
		t.Error("PutSettings accepted a threshold above 1")
	}

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestMemory(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })
	exerciseStore(t, s)
}

func TestMemory_CopiesData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	data := []byte("abc")
	if err := s.PutTemplate(ctx, "", tdKey, data); err != nil {
		t.Fatal(err)
	}
	data[0] = 'x'
	got, _ := s.GetTemplate(ctx, "", tdKey)
	got[1] = 'y'
	again, _ := s.GetTemplate(ctx, "", tdKey)
	if string(again) != "abc" {
		t.Errorf("stored template = %q, want abc", again)
	}
}

func TestBadger(t *testing.T) {
	t.Parallel()
	s, err := store.NewBadger(store.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	exerciseStore(t, s)
}

func TestBadger_Persists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	s, err := store.NewBadger(store.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	if err := s.PutTemplate(ctx, "bob", tiKey, []byte("blob")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); err == nil {
		t.Error("Ping on a closed store succeeded")
	}

	s, err = store.NewBadger(store.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetTemplate(ctx, "bob", tiKey)
	if err != nil || string(got) != "blob" {
		t.Errorf("GetTemplate after reopen = %q, %v", got, err)
	}
}

func TestNewBadger_RequiresDir(t *testing.T) {
	t.Parallel()
	if _, err := store.NewBadger(store.BadgerOptions{}); err == nil {
		t.Error("expected error without a directory")
	}
}

func TestGuarded(t *testing.T) {
	t.Parallel()
	s := store.NewGuarded(store.NewMemory(), resilience.CircuitBreakerConfig{})
	exerciseStore(t, s)
	if s.Breaker().State() != resilience.StateClosed {
		t.Errorf("breaker = %v, want closed (not-found must not count as failure)", s.Breaker().State())
	}
	if err := s.PutEmbedding(context.Background(), "", tdKey, []float32{1}); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("PutEmbedding err = %v, want ErrUnsupported", err)
	}
}

// flakyStore fails every call with err.
type flakyStore struct {
	store.Memory
	err   error
	calls int
}

func (f *flakyStore) GetTemplate(context.Context, string, string) ([]byte, error) {
	f.calls++
	return nil, f.err
}

func TestGuarded_OpensAfterFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := &flakyStore{err: errors.New("connection refused")}
	s := store.NewGuarded(backend, resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for range 2 {
		if _, err := s.GetTemplate(ctx, "", tdKey); !errors.Is(err, backend.err) {
			t.Fatalf("err = %v, want backend error", err)
		}
	}
	if _, err := s.GetTemplate(ctx, "", tdKey); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2", backend.calls)
	}
	if err := s.PutSettings(ctx, store.Settings{LivenessThreshold: -1}); errors.Is(err, resilience.ErrCircuitOpen) {
		t.Error("validation should run before the breaker")
	}
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("VOXKEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXKEY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration test")
	}
	ctx := context.Background()
	s, err := store.NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	// Start from a clean slate.
	for _, subject := range []string{"alice", store.DefaultSubject} {
		if err := s.DeleteTemplates(ctx, subject, tdKey, tiKey); err != nil {
			t.Fatalf("cleanup: %v", err)
		}
	}
	if err := s.PutSettings(ctx, store.DefaultSettings()); err != nil {
		t.Fatalf("reset settings: %v", err)
	}
	exerciseStore(t, s)

	if err := s.PutTemplate(ctx, "alice", tiKey, []byte("ti")); err != nil {
		t.Fatal(err)
	}
	if err := s.PutEmbedding(ctx, "alice", tiKey, []float32{0.1, 0.2, 0.3}); err != nil {
		t.Errorf("PutEmbedding: %v", err)
	}
	if err := s.PutEmbedding(ctx, "nobody", tiKey, []float32{1}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("PutEmbedding for missing row err = %v, want ErrNotFound", err)
	}
}
