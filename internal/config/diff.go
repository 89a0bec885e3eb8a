package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RecordingChanged is set when utterance thresholds or the end detector
	// changed. New sessions pick the change up; open sessions keep theirs.
	RecordingChanged bool

	// EnrollmentChanged is set when attempt counts, chunk lengths or quality
	// thresholds changed.
	EnrollmentChanged bool

	// VerificationChanged is set when the continuous window or the seeded
	// settings changed.
	VerificationChanged bool

	// RestartRequired lists the sections that changed but cannot be applied
	// at runtime.
	RestartRequired []string
}

// Changed reports whether anything hot-reloadable changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RecordingChanged || d.EnrollmentChanged || d.VerificationChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.RecordingChanged = old.Recording != new.Recording
	d.EnrollmentChanged = old.Enrollment != new.Enrollment
	d.VerificationChanged = old.Verification != new.Verification

	a, b := old.Server, new.Server
	if a.ListenAddr != b.ListenAddr || a.MaxSessions != b.MaxSessions ||
		a.IdleTimeout != b.IdleTimeout || !sameTLS(a.TLS, b.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameEngines(old.Engines, new.Engines) {
		d.RestartRequired = append(d.RestartRequired, "engines")
	}
	if old.Store.Backend != new.Store.Backend || old.Store.Dir != new.Store.Dir ||
		old.Store.PostgresDSN != new.Store.PostgresDSN {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameEngines compares provider names only; option changes are not detected.
func sameEngines(a, b EnginesConfig) bool {
	return a.Speech.Name == b.Speech.Name &&
		a.Voiceprint.Name == b.Voiceprint.Name &&
		a.Quality.Name == b.Quality.Name &&
		a.Liveness.Name == b.Liveness.Name &&
		a.SNR.Name == b.SNR.Name &&
		a.VAD.Name == b.VAD.Name
}
