package energy_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxkey/internal/audiotest"
	"github.com/MrWong99/voxkey/pkg/provider/vad"
	"github.com/MrWong99/voxkey/pkg/provider/vad/energy"
)

var cfg = vad.Config{
	SampleRate:       16000,
	FrameSizeMs:      20,
	SpeechThreshold:  0.5,
	SilenceThreshold: 0.35,
}

func TestSession_Transitions(t *testing.T) {
	t.Parallel()

	s, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	pcm := audiotest.Concat(
		audiotest.Silence(20, 16000),
		audiotest.Voice(40, 16000),
		audiotest.Silence(40, 16000),
	)
	want := []vad.VADEventType{
		vad.VADSilence,
		vad.VADSpeechStart,
		vad.VADSpeechContinue,
		vad.VADSpeechEnd,
		vad.VADSilence,
	}
	for i, frame := range audiotest.Split(pcm, 20, 16000) {
		ev, err := s.ProcessFrame(frame)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if ev.Type != want[i] {
			t.Errorf("frame %d: type = %v, want %v", i, ev.Type, want[i])
		}
	}
}

func TestSession_FrameSizeAndClose(t *testing.T) {
	t.Parallel()

	s, _ := energy.New().NewSession(cfg)
	if _, err := s.ProcessFrame(make([]byte, 100)); err == nil {
		t.Error("expected error for wrong frame size")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.ProcessFrame(make([]byte, 640)); !errors.Is(err, energy.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mod  func(*vad.Config)
	}{
		{name: "rate", mod: func(c *vad.Config) { c.SampleRate = 0 }},
		{name: "frame", mod: func(c *vad.Config) { c.FrameSizeMs = 0 }},
		{name: "speech threshold", mod: func(c *vad.Config) { c.SpeechThreshold = 1.5 }},
		{name: "silence above speech", mod: func(c *vad.Config) { c.SilenceThreshold = 0.9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := cfg
			tt.mod(&c)
			if _, err := energy.New().NewSession(c); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProbability(t *testing.T) {
	t.Parallel()

	if got := energy.Probability(-96); got != 0 {
		t.Errorf("Probability(-96) = %v, want 0", got)
	}
	if got := energy.Probability(-40); got != 0.5 {
		t.Errorf("Probability(-40) = %v, want 0.5", got)
	}
	if got := energy.Probability(0); got != 1 {
		t.Errorf("Probability(0) = %v, want 1", got)
	}
}
