package server

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxkey/internal/enroll"
	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/internal/verify"
)

// Event types sent to the client.
const (
	EventReady              = "ready"
	EventStatus             = "status"
	EventSpeechLength       = "speech_length"
	EventAnalyzing          = "analyzing"
	EventRecordStop         = "record_stop"
	EventLongSilence        = "long_silence"
	EventContinuousScore    = "continuous_score"
	EventChunkMessage       = "chunk_message"
	EventCollectedSpeech    = "collected_speech"
	EventEnrollmentAttempt  = "enrollment_attempt"
	EventEnrollmentComplete = "enrollment_complete"
	EventVerificationResult = "verification_result"
	EventError              = "error"
)

// Control message types accepted from the client.
const (
	ControlStart  = "start"
	ControlAbort  = "abort"
	ControlCancel = "cancel"
)

// Error codes carried by error events.
const (
	CodeEngine      = "engine_error"
	CodeNotEnrolled = "not_enrolled"
	CodeBadMessage  = "bad_message"
	CodeBadAudio    = "bad_audio"
	CodeState       = "invalid_state"
	CodeInternal    = "internal"
)

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type readyEvent struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	Flow          string `json:"flow"`
	Mode          string `json:"mode"`
	RecordingMode string `json:"recording_mode"`
	Subject       string `json:"subject"`
	SampleRate    int    `json:"sample_rate"`
	Codec         string `json:"codec"`
	Attempts      int    `json:"attempts,omitempty"`
}

type statusEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type speechLengthEvent struct {
	Type     string  `json:"type"`
	SpeechMs float32 `json:"speech_ms"`
}

type recordStopEvent struct {
	Type     string  `json:"type"`
	Bytes    int     `json:"bytes"`
	AudioMs  float32 `json:"audio_ms"`
	SpeechMs float32 `json:"speech_ms"`
	SNRDb    float32 `json:"snr_db"`
}

type continuousScoreEvent struct {
	Type         string  `json:"type"`
	Percent      float32 `json:"percent"`
	BackgroundMs float32 `json:"background_ms"`
	Display      string  `json:"display"`
}

type chunkMessageEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Icon    string `json:"icon"`
	IsError bool   `json:"is_error"`
}

type collectedSpeechEvent struct {
	Type     string  `json:"type"`
	SpeechMs float32 `json:"speech_ms"`
	AudioMs  float32 `json:"audio_ms"`
}

type enrollmentAttemptEvent struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
	Attempt  int    `json:"attempt"`
	Total    int    `json:"total"`
}

type enrollmentCompleteEvent struct {
	Type          string `json:"type"`
	Subject       string `json:"subject"`
	Mode          string `json:"mode"`
	TemplateBytes int    `json:"template_bytes"`
}

type verificationResultEvent struct {
	Type        string          `json:"type"`
	Verified    bool            `json:"verified"`
	Outcome     string          `json:"outcome"`
	Score       float32         `json:"score"`
	Probability float32         `json:"probability"`
	Rejection   *qualityDetail  `json:"rejection,omitempty"`
	Warnings    []qualityDetail `json:"warnings,omitempty"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type qualityDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Icon    string `json:"icon"`
}

func detail(q recorder.QualityError) qualityDetail {
	return qualityDetail{Kind: q.Kind.String(), Message: q.Message, Icon: q.Icon}
}

func verificationEvent(res verify.Result) verificationResultEvent {
	ev := verificationResultEvent{
		Type:        EventVerificationResult,
		Verified:    res.Verified,
		Outcome:     res.Outcome(),
		Score:       res.Score,
		Probability: res.Probability,
	}
	if res.Rejection != nil {
		d := detail(*res.Rejection)
		ev.Rejection = &d
	}
	for _, w := range res.Warnings {
		ev.Warnings = append(ev.Warnings, detail(w))
	}
	return ev
}

// errorCode maps a flow error to the code reported to the client.
func errorCode(err error) string {
	var callErr *recorder.EngineCallError
	switch {
	case errors.Is(err, verify.ErrNotEnrolled):
		return CodeNotEnrolled
	case errors.As(err, &callErr):
		return CodeEngine
	case errors.Is(err, recorder.ErrAlreadyRecording), errors.Is(err, recorder.ErrNotRecording),
		errors.Is(err, enroll.ErrNotStarted), errors.Is(err, enroll.ErrComplete):
		return CodeState
	default:
		return CodeInternal
	}
}

// ── Event sink ────────────────────────────────────────────────────────────────

// sink writes events to the client. Every write runs on the notifier
// goroutine, so the client sees events in the order they were produced and a
// slow client never blocks the capture loop.
type sink struct {
	ctx        context.Context
	conn       *websocket.Conn
	n          *recorder.Notifier
	noSpeechMs float32
}

const writeTimeout = 5 * time.Second

// write sends v immediately. Call it only from the notifier goroutine.
func (s *sink) write(v any) {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, s.conn, v); err != nil && s.ctx.Err() == nil {
		observe.Logger(s.ctx).Debug("server: event dropped", "err", err)
	}
}

// send queues v behind everything posted before it.
func (s *sink) send(v any) {
	s.n.Post(func() { s.write(v) })
}

func (s *sink) sendError(code string, err error) {
	s.send(errorEvent{Type: EventError, Code: code, Message: err.Error()})
}

// ── Observers ─────────────────────────────────────────────────────────────────

// eventObserver turns recorder callbacks into events. It writes directly, so
// it must be wrapped with recorder.AsyncObserver on the sink's notifier.
type eventObserver struct {
	sink *sink
}

var _ recorder.Observer = (*eventObserver)(nil)

func (o *eventObserver) OnSpeechLengthAvailable(speechMs float32) {
	o.sink.write(speechLengthEvent{Type: EventSpeechLength, SpeechMs: speechMs})
}

func (o *eventObserver) OnAnalyzing() {
	o.sink.write(statusEvent{Type: EventAnalyzing, Status: "analyzing"})
}

func (o *eventObserver) OnRecordStop(rec recorder.AudioRecording) {
	ev := recordStopEvent{Type: EventRecordStop, Bytes: len(rec.Data)}
	if rec.Metrics != nil {
		ev.AudioMs = rec.Metrics.AudioDurationMs
		ev.SpeechMs = rec.Metrics.SpeechDurationMs
		ev.SNRDb = rec.Metrics.SNRDb
	}
	o.sink.write(ev)
}

func (o *eventObserver) OnLongSilence() {
	o.sink.write(statusEvent{Type: EventLongSilence, Status: recorder.StatusIdle.String()})
}

func (o *eventObserver) OnError(text string) {
	o.sink.write(errorEvent{Type: EventError, Code: CodeEngine, Message: text})
}

func (o *eventObserver) OnContinuousScore(percent, backgroundMs float32) {
	o.sink.write(continuousScoreEvent{
		Type:         EventContinuousScore,
		Percent:      percent,
		BackgroundMs: backgroundMs,
		Display:      recorder.FormatContinuousScore(percent, backgroundMs, o.sink.noSpeechMs),
	})
}

func (o *eventObserver) OnChunkMessage(msg recorder.ChunkMessage) {
	o.sink.write(chunkMessageEvent{Type: EventChunkMessage, Text: msg.Text, Icon: msg.Icon, IsError: msg.IsError})
}

func (o *eventObserver) OnCollectedSpeechLength(speechMs, audioMs float32) {
	o.sink.write(collectedSpeechEvent{Type: EventCollectedSpeech, SpeechMs: speechMs, AudioMs: audioMs})
}

// capture keeps every finished segment for the capture loop and forwards all
// callbacks to next. It is called on the goroutine that calls Process.
type capture struct {
	recorder.Observer
	segments []recorder.AudioRecording
}

func (c *capture) OnRecordStop(rec recorder.AudioRecording) {
	c.segments = append(c.segments, rec)
	c.Observer.OnRecordStop(rec)
}

// take returns and clears the captured segments.
func (c *capture) take() []recorder.AudioRecording {
	out := c.segments
	c.segments = nil
	return out
}

// enrollObserver reports enrollment progress.
type enrollObserver struct {
	sink    *sink
	subject string
	mode    recorder.VerificationMode
}

var _ enroll.Observer = (*enrollObserver)(nil)

func (o *enrollObserver) OnChunkMessage(msg recorder.ChunkMessage) {
	o.sink.send(chunkMessageEvent{Type: EventChunkMessage, Text: msg.Text, Icon: msg.Icon, IsError: msg.IsError})
}

func (o *enrollObserver) OnEnrollmentAttemptResult(accepted bool, attempt, total int) {
	o.sink.send(enrollmentAttemptEvent{Type: EventEnrollmentAttempt, Accepted: accepted, Attempt: attempt, Total: total})
}

func (o *enrollObserver) OnEnrollmentComplete(template []byte) {
	o.sink.send(enrollmentCompleteEvent{
		Type:          EventEnrollmentComplete,
		Subject:       o.subject,
		Mode:          o.mode.String(),
		TemplateBytes: len(template),
	})
}
