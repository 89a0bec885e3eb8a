package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxkey/internal/config"
	"github.com/MrWong99/voxkey/pkg/provider/speech"
	speechmock "github.com/MrWong99/voxkey/pkg/provider/speech/mock"
	"github.com/MrWong99/voxkey/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxkey/pkg/provider/vad/mock"
)

func TestRegistry_CreateSpeech(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	want := &speechmock.Engine{}
	var got config.ProviderEntry
	reg.RegisterSpeech("scripted", func(e config.ProviderEntry) (speech.Engine, error) {
		got = e
		return want, nil
	})

	entry := config.ProviderEntry{Name: "scripted", Options: map[string]any{"k": 1}}
	eng, err := reg.CreateSpeech(entry)
	if err != nil {
		t.Fatalf("CreateSpeech: %v", err)
	}
	if eng != want {
		t.Error("CreateSpeech returned a different engine")
	}
	if got.Name != "scripted" || got.OptFloat("k", 0) != 1 {
		t.Errorf("factory got entry %+v", got)
	}
}

func errOf(_ any, err error) error { return err }

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	calls := []struct {
		kind string
		fn   func() error
	}{
		{"speech", func() error { return errOf(reg.CreateSpeech(config.ProviderEntry{Name: "x"})) }},
		{"voiceprint", func() error { return errOf(reg.CreateVoiceprint(config.ProviderEntry{Name: "x"})) }},
		{"quality", func() error { return errOf(reg.CreateQuality(config.ProviderEntry{Name: "x"})) }},
		{"liveness", func() error { return errOf(reg.CreateLiveness(config.ProviderEntry{Name: "x"})) }},
		{"snr", func() error { return errOf(reg.CreateSNR(config.ProviderEntry{Name: "x"})) }},
		{"vad", func() error { return errOf(reg.CreateVAD(config.ProviderEntry{Name: "x"})) }},
	}
	for _, c := range calls {
		if err := c.fn(); !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: err = %v, want ErrProviderNotRegistered", c.kind, err)
		}
	}
}

func TestRegistry_FactoryErrorAndOverwrite(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	boom := errors.New("model file missing")
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return nil, boom })
	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "energy"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return &vadmock.Engine{}, nil })
	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "energy"}); err != nil {
		t.Errorf("overwritten factory: %v", err)
	}
}

func TestProviderEntry_OptFloat(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Options: map[string]any{"f": 0.25, "i": 3, "s": "x"}}
	tests := []struct {
		key  string
		want float64
	}{
		{"f", 0.25},
		{"i", 3},
		{"s", 9},
		{"missing", 9},
	}
	for _, tt := range tests {
		if got := e.OptFloat(tt.key, 9); got != tt.want {
			t.Errorf("OptFloat(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
