package recorder

// AudioMetrics summarises a completed segment.
type AudioMetrics struct {
	AudioDurationMs  float32
	SpeechDurationMs float32
	SNRDb            float32
}

// AudioRecording is a completed segment handed to downstream processing.
// The consumer owns Data; the producing session keeps no reference to it.
type AudioRecording struct {
	Data       []byte
	SampleRate int

	// Metrics is nil when the segment was stopped without a summary.
	Metrics *AudioMetrics
}

// Observer receives advisory notifications from a recording session. None of
// the callbacks change session state.
type Observer interface {
	// OnSpeechLengthAvailable reports the current speech length. In chunked
	// enrollment this is the speech length of the chunk being collected.
	OnSpeechLengthAvailable(speechMs float32)

	// OnAnalyzing fires right before a finished segment is summarised.
	OnAnalyzing()

	// OnRecordStop delivers a finished segment.
	OnRecordStop(rec AudioRecording)

	// OnLongSilence fires when a session that went quiet is stopped.
	OnLongSilence()

	// OnError reports a failed engine call. The session keeps its state.
	OnError(text string)

	// OnContinuousScore reports one continuous verification result as a
	// percentage, together with the trailing silence length at the time.
	OnContinuousScore(percent, backgroundMs float32)

	// OnChunkMessage reports an accepted or rejected enrollment chunk.
	OnChunkMessage(msg ChunkMessage)

	// OnCollectedSpeechLength reports the totals of all accepted chunks.
	OnCollectedSpeechLength(speechMs, audioMs float32)
}

// NopObserver ignores every notification. Embed it to implement only the
// callbacks you need.
type NopObserver struct{}

func (NopObserver) OnSpeechLengthAvailable(float32)          {}
func (NopObserver) OnAnalyzing()                             {}
func (NopObserver) OnRecordStop(AudioRecording)              {}
func (NopObserver) OnLongSilence()                           {}
func (NopObserver) OnError(string)                           {}
func (NopObserver) OnContinuousScore(float32, float32)       {}
func (NopObserver) OnChunkMessage(ChunkMessage)              {}
func (NopObserver) OnCollectedSpeechLength(float32, float32) {}

var _ Observer = NopObserver{}

// AsyncObserver forwards every callback to obs through n, so notifications
// arrive in FIFO order on the notifier's goroutine and never block the caller.
func AsyncObserver(obs Observer, n *Notifier) Observer {
	return &asyncObserver{obs: obs, n: n}
}

type asyncObserver struct {
	obs Observer
	n   *Notifier
}

func (a *asyncObserver) OnSpeechLengthAvailable(speechMs float32) {
	a.n.Post(func() { a.obs.OnSpeechLengthAvailable(speechMs) })
}

func (a *asyncObserver) OnAnalyzing() {
	a.n.Post(a.obs.OnAnalyzing)
}

func (a *asyncObserver) OnRecordStop(rec AudioRecording) {
	a.n.Post(func() { a.obs.OnRecordStop(rec) })
}

func (a *asyncObserver) OnLongSilence() {
	a.n.Post(a.obs.OnLongSilence)
}

func (a *asyncObserver) OnError(text string) {
	a.n.Post(func() { a.obs.OnError(text) })
}

func (a *asyncObserver) OnContinuousScore(percent, backgroundMs float32) {
	a.n.Post(func() { a.obs.OnContinuousScore(percent, backgroundMs) })
}

func (a *asyncObserver) OnChunkMessage(msg ChunkMessage) {
	a.n.Post(func() { a.obs.OnChunkMessage(msg) })
}

func (a *asyncObserver) OnCollectedSpeechLength(speechMs, audioMs float32) {
	a.n.Post(func() { a.obs.OnCollectedSpeechLength(speechMs, audioMs) })
}
