package energy_test

import (
	"testing"

	"github.com/MrWong99/voxkey/internal/audiotest"
	"github.com/MrWong99/voxkey/pkg/provider/quality"
	"github.com/MrWong99/voxkey/pkg/provider/quality/energy"
)

const rate = 16000

var thresholds = quality.Thresholds{
	MinSNRDb:                  15,
	MinSpeechLengthMs:         1000,
	MinSpeechRelativeLength:   0.55,
	MaxMultipleSpeakersChance: 0.05,
}

func TestCheckQuality(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pcm  []byte
		want quality.ShortDescription
	}{
		{
			name: "clean speech",
			pcm: audiotest.Concat(
				audiotest.Noise(300, rate, 0.001, 1),
				audiotest.Voice(1500, rate),
				audiotest.Noise(300, rate, 0.001, 2),
			),
			want: quality.OK,
		},
		{
			name: "not enough speech",
			pcm:  audiotest.Concat(audiotest.Voice(500, rate), audiotest.Silence(200, rate)),
			want: quality.TooSmallSpeechTotalLength,
		},
		{
			name: "mostly silence",
			pcm:  audiotest.Concat(audiotest.Voice(1200, rate), audiotest.Silence(2000, rate)),
			want: quality.TooSmallSpeechRelativeLength,
		},
		{
			name: "loud noise floor",
			pcm: audiotest.Concat(
				audiotest.Noise(600, rate, 0.1, 3),
				audiotest.Voice(1500, rate),
			),
			want: quality.TooNoisy,
		},
		{
			name: "two voices",
			pcm: audiotest.Concat(
				audiotest.Noise(200, rate, 0.001, 4),
				audiotest.Tone(150, 700, rate, 0.4),
				audiotest.Tone(3500, 700, rate, 0.4),
				audiotest.Noise(200, rate, 0.001, 5),
			),
			want: quality.MultipleSpeakersDetected,
		},
		{
			name: "empty",
			pcm:  nil,
			want: quality.TooSmallSpeechTotalLength,
		},
	}

	c := energy.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := c.CheckQuality(tt.pcm, rate, thresholds)
			if err != nil {
				t.Fatalf("CheckQuality: %v", err)
			}
			if res.ShortDescription != tt.want {
				t.Errorf("verdict = %v, want %v (result %+v)", res.ShortDescription, tt.want, res)
			}
		})
	}
}

func TestShortDescriptionString(t *testing.T) {
	t.Parallel()

	if got := quality.TooNoisy.String(); got != "too_noisy" {
		t.Errorf("String = %q", got)
	}
	if got := quality.ShortDescription(42).String(); got != "quality(42)" {
		t.Errorf("String = %q", got)
	}
}
