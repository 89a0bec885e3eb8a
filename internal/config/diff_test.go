package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxkey/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		check   func(config.ConfigDiff) bool
		restart []string
	}{
		{
			name:   "nothing",
			mutate: func(*config.Config) {},
			check:  func(d config.ConfigDiff) bool { return !d.Changed() },
		},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check:  func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug },
		},
		{
			name:   "recording thresholds",
			mutate: func(c *config.Config) { c.Recording.TextDependent.MinSpeechMs = 800 },
			check:  func(d config.ConfigDiff) bool { return d.RecordingChanged && !d.EnrollmentChanged },
		},
		{
			name:   "enrollment quality",
			mutate: func(c *config.Config) { c.Enrollment.Quality.MinSNRDb = 15 },
			check:  func(d config.ConfigDiff) bool { return d.EnrollmentChanged },
		},
		{
			name:   "verification settings",
			mutate: func(c *config.Config) { c.Verification.Settings.VerificationThreshold = 0.75 },
			check:  func(d config.ConfigDiff) bool { return d.VerificationChanged },
		},
		{
			name:    "listen address",
			mutate:  func(c *config.Config) { c.Server.ListenAddr = ":1" },
			check:   func(d config.ConfigDiff) bool { return !d.Changed() },
			restart: []string{"server"},
		},
		{
			name: "engine and store",
			mutate: func(c *config.Config) {
				c.Engines.SNR.Name = "other"
				c.Store.Backend = config.StoreBadger
			},
			check:   func(d config.ConfigDiff) bool { return !d.Changed() },
			restart: []string{"engines", "store"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, cur := config.Default(), config.Default()
			tt.mutate(cur)
			d := config.Diff(old, cur)
			if !tt.check(d) {
				t.Errorf("diff = %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tt.restart) {
				t.Errorf("restart = %v, want %v", d.RestartRequired, tt.restart)
			}
		})
	}
}
