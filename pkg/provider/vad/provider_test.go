package vad_test

import (
	"testing"

	"github.com/MrWong99/voxkey/pkg/provider/vad"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.5, SilenceThreshold: 0.35}
	tests := []struct {
		name    string
		mutate  func(*vad.Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*vad.Config) {}},
		{name: "zero rate", mutate: func(c *vad.Config) { c.SampleRate = 0 }, wantErr: true},
		{name: "zero frame", mutate: func(c *vad.Config) { c.FrameSizeMs = 0 }, wantErr: true},
		{name: "speech above one", mutate: func(c *vad.Config) { c.SpeechThreshold = 1.5 }, wantErr: true},
		{name: "silence above speech", mutate: func(c *vad.Config) { c.SilenceThreshold = 0.6 }, wantErr: true},
		{name: "equal thresholds", mutate: func(c *vad.Config) { c.SilenceThreshold = c.SpeechThreshold }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_FrameBytes(t *testing.T) {
	t.Parallel()

	if got := (vad.Config{SampleRate: 16000, FrameSizeMs: 20}).FrameBytes(); got != 640 {
		t.Errorf("FrameBytes() = %d, want 640", got)
	}
	if got := (vad.Config{SampleRate: 16000}).FrameBytes(); got != 0 {
		t.Errorf("FrameBytes() without frame size = %d, want 0", got)
	}
}

func TestVADEventType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ    vad.VADEventType
		speech bool
		name   string
	}{
		{vad.VADSpeechStart, true, "speech_start"},
		{vad.VADSpeechContinue, true, "speech_continue"},
		{vad.VADSpeechEnd, false, "speech_end"},
		{vad.VADSilence, false, "silence"},
	}
	for _, tt := range tests {
		if tt.typ.IsSpeech() != tt.speech {
			t.Errorf("%v.IsSpeech() = %v", tt.typ, !tt.speech)
		}
		if tt.typ.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.typ.String(), tt.name)
		}
	}
}
