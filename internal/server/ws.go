package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/voxkey/internal/enroll"
	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/internal/resilience"
	"github.com/MrWong99/voxkey/internal/store"
	"github.com/MrWong99/voxkey/internal/verify"
	"github.com/MrWong99/voxkey/pkg/audio"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

// Session flows.
const (
	FlowEnroll = "enroll"
	FlowVerify = "verify"
)

// Audio codecs accepted on the session socket.
const (
	CodecPCM16 = "pcm16"
	CodecOpus  = "opus"
)

const (
	minSampleRate = 8000
	maxSampleRate = 48000

	// maxFrameBytes bounds a single WebSocket message.
	maxFrameBytes = 1 << 20
)

func newSessionID() string { return uuid.NewString() }

// sessionRequest is the parsed query of a session upgrade.
type sessionRequest struct {
	flow       string
	mode       recorder.VerificationMode
	subject    string
	codec      string
	sampleRate int
}

func parseSessionRequest(r *http.Request) (sessionRequest, error) {
	q := r.URL.Query()
	req := sessionRequest{
		flow:       q.Get("flow"),
		subject:    store.Subject(q.Get("subject")),
		codec:      q.Get("codec"),
		sampleRate: audio.SampleRate16k,
	}
	if req.flow != FlowEnroll && req.flow != FlowVerify {
		return req, fmt.Errorf("server: flow must be %q or %q, got %q", FlowEnroll, FlowVerify, req.flow)
	}
	mode, err := recorder.ParseVerificationMode(q.Get("mode"))
	if err != nil {
		return req, err
	}
	req.mode = mode
	if req.flow == FlowEnroll && mode == recorder.Continuous {
		return req, errors.New("server: continuous mode cannot be enrolled")
	}
	switch req.codec {
	case "":
		req.codec = CodecPCM16
	case CodecPCM16, CodecOpus:
	default:
		return req, fmt.Errorf("server: unsupported codec %q", req.codec)
	}
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < minSampleRate || n > maxSampleRate {
			return req, fmt.Errorf("server: sample_rate must be an integer in [%d, %d], got %q", minSampleRate, maxSampleRate, v)
		}
		req.sampleRate = n
	}
	return req, nil
}

func (r sessionRequest) recordingMode() recorder.RecordingMode {
	if r.flow == FlowEnroll {
		return recorder.Enrollment
	}
	return recorder.Verification
}

// plan is everything a session needs that can be decided before the upgrade.
type plan struct {
	req       sessionRequest
	settings  store.Settings
	tuning    Tuning
	policy    recorder.Policy
	templates []voiceprint.Template
}

// prepare resolves settings, the policy and, for verification, the
// enrollment. The returned status is the HTTP status to reject with.
func (s *Server) prepare(ctx context.Context, req sessionRequest) (plan, int, error) {
	p := plan{req: req, tuning: s.deps.Tuning()}

	set, err := s.deps.Store.GetSettings(ctx)
	if err != nil {
		observe.Logger(ctx).Warn("server: using default settings",
			"err", &recorder.PersistenceError{Op: "load settings", Key: "settings", Err: err})
		set = store.DefaultSettings()
	}
	p.settings = set

	t := p.tuning
	ps := recorder.PolicySettings{
		EndDetection: t.EndDetection,
		Chunk: recorder.ChunkSettings{
			ChunkSpeechMs:  t.ChunkSpeechMs,
			TargetSpeechMs: t.TargetSpeechMs,
			QualityCheck:   set.EnrollmentQualityCheckEnabled && s.deps.Engines.Quality != nil,
			Quality:        t.quality(recorder.TextIndependent),
		},
		Continuous: t.Continuous,
	}
	switch req.mode {
	case recorder.TextDependent:
		ps.Utterance = t.TextDependent
	case recorder.TextIndependent:
		ps.Utterance = t.TextIndependent
	}
	if p.policy, err = recorder.NewPolicy(req.mode, req.recordingMode(), ps); err != nil {
		return p, http.StatusInternalServerError, err
	}

	if req.flow == FlowVerify {
		tmpls, err := s.deps.Verifier.Templates(ctx, req.subject, req.mode)
		switch {
		case errors.Is(err, verify.ErrNotEnrolled):
			return p, http.StatusNotFound, err
		case errors.Is(err, resilience.ErrCircuitOpen):
			return p, http.StatusServiceUnavailable, err
		case err != nil:
			return p, http.StatusInternalServerError, err
		}
		if req.mode == recorder.Continuous {
			p.templates = tmpls
		}
	}
	return p, 0, nil
}

// ServeSession upgrades the request to a WebSocket and runs one recording
// session on it until the client goes away.
func (s *Server) ServeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := parseSessionRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, status, err := s.prepare(ctx, req)
	if err != nil {
		writeError(w, status, err)
		return
	}

	id := s.deps.NewID()
	ctx = observe.WithSessionID(ctx, id)
	log := observe.Logger(ctx).With(
		"mode", req.mode.String(),
		"recording_mode", req.recordingMode().String(),
	)
	c, err := s.newConnSession(ctx, id, p)
	if err != nil {
		log.Error("server: create session", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer c.close()

	if s.deps.Sessions != nil {
		release, err := s.deps.Sessions.Admit(SessionInfo{
			ID:        id,
			Flow:      req.flow,
			Mode:      req.mode.String(),
			Subject:   req.subject,
			StartedAt: time.Now(),
		})
		if err != nil {
			log.Warn("server: session rejected", "err", err)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		defer release()
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error.
		log.Warn("server: websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)
	c.attach(conn)

	s.deps.Metrics.SessionOpened(ctx)
	defer s.deps.Metrics.SessionClosed(ctx)
	log.Info("server: session opened", "subject", req.subject, "codec", req.codec, "sample_rate", req.sampleRate)

	err = c.run(ctx)
	c.close()
	switch {
	case err == nil, isClientClose(err):
		conn.Close(websocket.StatusNormalClosure, "")
	case ctx.Err() != nil:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		log.Warn("server: session ended", "err", err)
		conn.CloseNow()
	}
	log.Info("server: session closed", "duration", time.Since(c.started))
}

func isClientClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// ── Connection session ────────────────────────────────────────────────────────

// connSession runs one recording session over one socket. Everything except
// the reader goroutine and event delivery happens on the goroutine in run.
type connSession struct {
	id      string
	plan    plan
	log     *slog.Logger
	started time.Time

	sink *sink
	obs  *capture
	sess *recorder.Session

	// orch is set for enrollment, verifier and verifySet for one-shot
	// verification.
	orch      *enroll.Orchestrator
	verifier  *verify.Verifier
	verifySet verify.Settings

	decoder *audio.OpusDecoder

	closed  bool
	readErr error
}

type message struct {
	typ  websocket.MessageType
	data []byte
}

func (s *Server) newConnSession(ctx context.Context, id string, p plan) (*connSession, error) {
	req := p.req
	n := recorder.NewNotifier()
	c := &connSession{
		id:      id,
		plan:    p,
		log:     observe.Logger(ctx),
		started: time.Now(),
		sink:    &sink{ctx: ctx, n: n, noSpeechMs: p.tuning.Continuous.NoSpeechBackgroundMs},
	}
	c.obs = &capture{Observer: recorder.AsyncObserver(&eventObserver{sink: c.sink}, n)}

	var err error
	c.sess, err = recorder.NewSession(recorder.Config{
		ID:            id,
		Mode:          req.mode,
		RecordingMode: req.recordingMode(),
		SampleRate:    req.sampleRate,
		Policy:        p.policy,
		Templates:     p.templates,
	}, s.deps.Engines, c.obs, recorder.WithMetrics(s.deps.Metrics), recorder.WithContext(ctx))
	if err != nil {
		n.Close()
		return nil, err
	}

	set := p.settings
	switch {
	case req.flow == FlowEnroll:
		settings := enroll.Settings{
			QualityCheck:      set.EnrollmentQualityCheckEnabled,
			MatchingThreshold: p.tuning.MatchingThreshold,
			LivenessCheck:     set.LivenessCheckEnabled,
			LivenessThreshold: set.LivenessThreshold,
		}
		if req.mode == recorder.TextDependent {
			settings.Attempts = p.tuning.TextDependentAttempts
			settings.Quality = p.tuning.quality(recorder.TextDependent)
		}
		c.orch, err = enroll.New(enroll.Config{Subject: req.subject, Mode: req.mode, Settings: settings},
			s.deps.Engines, s.deps.Store,
			&enrollObserver{sink: c.sink, subject: req.subject, mode: req.mode},
			enroll.WithMetrics(s.deps.Metrics),
		)
	case req.mode != recorder.Continuous:
		c.verifier = s.deps.Verifier
		c.verifySet = verify.Settings{
			Threshold:         set.VerificationThreshold,
			LivenessCheck:     set.LivenessCheckEnabled,
			LivenessThreshold: set.LivenessThreshold,
			QualityCheck:      set.EnrollmentQualityCheckEnabled,
			Quality:           p.tuning.quality(req.mode),
		}
	}
	if err == nil && req.codec == CodecOpus {
		c.decoder, err = audio.NewOpusDecoder(req.sampleRate)
	}
	if err != nil {
		c.sess.Close()
		n.Close()
		return nil, err
	}
	return c, nil
}

func (c *connSession) attach(conn *websocket.Conn) {
	c.sink.conn = conn
}

// close releases the session and delivers every queued event. It is safe to
// call more than once.
func (c *connSession) close() {
	if c.closed {
		return
	}
	c.closed = true
	if err := c.sess.Close(); err != nil {
		c.log.Warn("server: closing session", "err", err)
	}
	c.sink.n.Close()
}

func (c *connSession) run(ctx context.Context) error {
	msgs := make(chan message, 16)
	go c.read(ctx, msgs)

	req := c.plan.req
	ready := readyEvent{
		Type:          EventReady,
		SessionID:     c.id,
		Flow:          req.flow,
		Mode:          req.mode.String(),
		RecordingMode: req.recordingMode().String(),
		Subject:       req.subject,
		SampleRate:    req.sampleRate,
		Codec:         req.codec,
	}
	if c.orch != nil {
		ready.Attempts = c.orch.Total()
		c.orch.Start()
	}
	c.sink.send(ready)
	c.start()

	idle := c.plan.tuning.IdleTimeout
	var timer *time.Timer
	var timeout <-chan time.Time
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
		timeout = timer.C
	}
	rearm := func() {
		if timer != nil {
			timer.Reset(idle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return c.readErr
			}
			switch m.typ {
			case websocket.MessageBinary:
				c.handleAudio(ctx, m.data)
				rearm()
			case websocket.MessageText:
				if c.handleControl(m.data) {
					rearm()
				}
			}
		case <-timeout:
			c.longSilence()
		}
	}
}

// read forwards incoming messages until the connection fails. readErr is
// set before msgs is closed.
func (c *connSession) read(ctx context.Context, msgs chan<- message) {
	defer close(msgs)
	for {
		typ, data, err := c.sink.conn.Read(ctx)
		if err != nil {
			c.readErr = err
			return
		}
		select {
		case msgs <- message{typ: typ, data: data}:
		case <-ctx.Done():
			c.readErr = ctx.Err()
			return
		}
	}
}

func (c *connSession) start() {
	if err := c.sess.Start(); err != nil {
		c.sink.sendError(errorCode(err), err)
		return
	}
	c.sink.send(statusEvent{Type: EventStatus, Status: c.sess.Status().String()})
}

func (c *connSession) handleAudio(ctx context.Context, data []byte) {
	pcm := data
	if c.decoder != nil {
		var err error
		if pcm, err = c.decoder.Decode(data); err != nil {
			c.sink.sendError(CodeBadAudio, err)
			return
		}
	} else if len(pcm)%audio.BytesPerSample != 0 {
		c.sink.sendError(CodeBadAudio, fmt.Errorf("server: pcm16 frame has odd length %d", len(pcm)))
		return
	}

	// Engine failures reach the client through OnError.
	_, _ = c.sess.Process(audio.Buffer{Data: pcm, Timestamp: time.Since(c.started)})
	for _, rec := range c.obs.take() {
		c.handleSegment(ctx, rec)
	}
}

// handleSegment feeds a finished segment into the flow.
func (c *connSession) handleSegment(ctx context.Context, rec recorder.AudioRecording) {
	if c.orch != nil {
		if _, err := c.orch.Submit(ctx, rec); err != nil {
			c.sink.sendError(errorCode(err), err)
		}
		if !c.orch.Complete() {
			c.start()
		}
		return
	}
	if c.verifier == nil {
		return
	}
	res, err := c.verifier.Verify(ctx, verify.Request{
		Subject:  c.plan.req.subject,
		Mode:     c.plan.req.mode,
		Settings: c.verifySet,
	}, rec)
	if err != nil {
		c.sink.sendError(errorCode(err), err)
		return
	}
	c.sink.send(verificationEvent(res))
}

// handleControl applies a control message. It reports whether the message
// was understood.
func (c *connSession) handleControl(data []byte) bool {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sink.sendError(CodeBadMessage, fmt.Errorf("server: decode control message: %w", err))
		return false
	}
	switch msg.Type {
	case ControlStart:
		if c.orch != nil && c.orch.Complete() {
			c.orch.Start()
		}
		c.start()
	case ControlAbort:
		c.abort()
		c.sink.send(statusEvent{Type: EventStatus, Status: recorder.StatusAborted.String()})
	case ControlCancel:
		c.abort()
		if c.orch != nil {
			c.orch.Cancel()
			c.orch.Start()
		}
		c.sink.send(statusEvent{Type: EventStatus, Status: "cancelled"})
	default:
		c.sink.sendError(CodeBadMessage, fmt.Errorf("server: unknown control message %q", msg.Type))
		return false
	}
	return true
}

func (c *connSession) abort() {
	if c.sess.Abort() {
		c.sess.Drain()
	}
}

// longSilence ends a recording session that has received no audio for the
// idle timeout.
func (c *connSession) longSilence() {
	if !c.sess.MarkLongSilence() {
		return
	}
	c.log.Debug("server: idle timeout", "timeout", c.plan.tuning.IdleTimeout)
	if err := c.sess.Stop(nil); err != nil {
		c.log.Warn("server: stopping idle session", "err", err)
	}
}
