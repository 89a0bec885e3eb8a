package recorder_test

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/MrWong99/voxkey/internal/audiotest"
	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/pkg/audio"
	snrmock "github.com/MrWong99/voxkey/pkg/provider/snr/mock"
	"github.com/MrWong99/voxkey/pkg/provider/speech/energy"
	speechmock "github.com/MrWong99/voxkey/pkg/provider/speech/mock"
	"github.com/MrWong99/voxkey/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxkey/pkg/provider/vad/mock"
)

const (
	rate      = 16000
	frameSize = 640 // 20 ms at 16 kHz
)

func newUtteranceSession(t *testing.T, th recorder.Thresholds, eng recorder.Engines, obs recorder.Observer) *recorder.Session {
	t.Helper()
	p, err := recorder.NewPolicy(recorder.TextDependent, recorder.Enrollment, recorder.PolicySettings{Utterance: th})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	s, err := recorder.NewSession(recorder.Config{
		ID:            "test",
		Mode:          recorder.TextDependent,
		RecordingMode: recorder.Enrollment,
		SampleRate:    rate,
		Policy:        p,
	}, eng, obs)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func feed(t *testing.T, s *recorder.Session, n int) []recorder.Decision {
	t.Helper()
	out := make([]recorder.Decision, 0, n)
	for i := range n {
		d, err := s.Process(buf(frameSize, byte(i)))
		if err != nil {
			t.Fatalf("Process %d: %v", i, err)
		}
		out = append(out, d)
	}
	return out
}

func TestSession_TextDependentStop(t *testing.T) {
	t.Parallel()

	stream := &speechmock.Stream{Steps: []speechmock.Step{
		{SpeechMs: 300, TotalMs: 300},
		{TotalMs: 300, BackgroundMs: 300}, // enough silence, not enough speech
		{SpeechMs: 300, TotalMs: 300},
		{TotalMs: 200, BackgroundMs: 200},
		{TotalMs: 200, BackgroundMs: 400},
	}}
	log := &eventLog{}
	eng := recorder.Engines{
		Speech: &speechmock.Engine{Stream: stream},
		SNR:    &snrmock.Computer{SNR: 18},
	}
	s := newUtteranceSession(t, recorder.Thresholds{
		MinSpeechLengthMs:       500,
		MaxSilenceLengthMs:      300,
		SilenceResetThresholdMs: 1000,
	}, eng, log)

	got := feed(t, s, 6)
	want := []recorder.Decision{
		recorder.DecisionContinue, // first buffer, analysis skipped
		recorder.DecisionContinue,
		recorder.DecisionContinue,
		recorder.DecisionContinue,
		recorder.DecisionContinue,
		recorder.DecisionStop,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("buffer %d: decision = %v, want %v", i, got[i], want[i])
		}
	}
	if s.Status() != recorder.StatusIdle {
		t.Errorf("status = %v, want idle", s.Status())
	}
	if len(log.stops) != 1 {
		t.Fatalf("stops = %d, want 1", len(log.stops))
	}
	rec := log.stops[0]
	if len(rec.Data) != 6*frameSize {
		t.Errorf("segment bytes = %d, want %d", len(rec.Data), 6*frameSize)
	}
	if rec.SampleRate != rate {
		t.Errorf("sample rate = %d, want %d", rec.SampleRate, rate)
	}
	if rec.Metrics == nil {
		t.Fatal("metrics missing")
	}
	if rec.Metrics.SpeechDurationMs != 600 || rec.Metrics.AudioDurationMs != 120 || rec.Metrics.SNRDb != 18 {
		t.Errorf("metrics = %+v, want speech 600 audio 120 snr 18", *rec.Metrics)
	}

	events := log.snapshot()
	if events[len(events)-2] != "analyzing" || events[len(events)-1] != "stop" {
		t.Errorf("last events = %v, want [analyzing stop]", events[len(events)-2:])
	}

	if d, _ := s.Process(buf(frameSize, 0)); d != recorder.DecisionIgnored {
		t.Errorf("decision after stop = %v, want ignored", d)
	}
}

// abortingLog aborts its session from inside the n-th speech length
// callback, between the stop decision's analysis and the segment emission.
type abortingLog struct {
	*eventLog
	s     *recorder.Session
	n     int
	calls int
}

func (a *abortingLog) OnSpeechLengthAvailable(ms float32) {
	a.eventLog.OnSpeechLengthAvailable(ms)
	a.calls++
	if a.calls == a.n {
		a.s.Abort()
	}
}

func TestSession_AbortDuringStopDecision(t *testing.T) {
	t.Parallel()

	stream := &speechmock.Stream{Steps: []speechmock.Step{
		{SpeechMs: 600, TotalMs: 600},
		{TotalMs: 300, BackgroundMs: 300},
	}}
	log := &abortingLog{eventLog: &eventLog{}, n: 2}
	log.s = newUtteranceSession(t, recorder.Thresholds{
		MinSpeechLengthMs:       500,
		MaxSilenceLengthMs:      300,
		SilenceResetThresholdMs: 1000,
	}, recorder.Engines{Speech: &speechmock.Engine{Stream: stream}}, log)

	got := feed(t, log.s, 3)
	if got[2] != recorder.DecisionIgnored {
		t.Errorf("decision = %v, want ignored after the abort won", got[2])
	}
	if n := log.count("analyzing"); n != 0 {
		t.Errorf("analyzing emitted %d times without a segment", n)
	}
	if len(log.stops) != 0 {
		t.Errorf("stops = %d, want 0", len(log.stops))
	}
	if log.s.Status() != recorder.StatusAborted {
		t.Errorf("status = %v, want aborted", log.s.Status())
	}
}

func TestSession_StopPrecondition(t *testing.T) {
	t.Parallel()

	th := recorder.Thresholds{MinSpeechLengthMs: 400, MaxSilenceLengthMs: 200, SilenceResetThresholdMs: 900}
	rng := rand.New(rand.NewPCG(1, 2))
	for run := range 200 {
		var steps []speechmock.Step
		var bg float32
		for range 60 {
			st := speechmock.Step{TotalMs: 64}
			if rng.IntN(3) == 0 {
				st.SpeechMs = float32(rng.IntN(3)+1) * 32
				bg = 0
			} else {
				bg += 64
			}
			st.BackgroundMs = bg
			steps = append(steps, st)
		}
		stream := &speechmock.Stream{Steps: steps}
		s := newUtteranceSession(t, th, recorder.Engines{Speech: &speechmock.Engine{Stream: stream}}, nil)

		for i := range 61 {
			d, err := s.Process(buf(frameSize, 0))
			if err != nil {
				t.Fatalf("run %d buffer %d: %v", run, i, err)
			}
			if d != recorder.DecisionStop {
				continue
			}
			snap := s.Stats().Speech
			if snap.SpeechMs < th.MinSpeechLengthMs || snap.BackgroundMs < th.MaxSilenceLengthMs {
				t.Fatalf("run %d: stopped at %+v", run, snap)
			}
			break
		}
	}
}

func TestSession_SilenceResetInPlace(t *testing.T) {
	t.Parallel()

	stream := &speechmock.Stream{Steps: []speechmock.Step{
		{SpeechMs: 200, TotalMs: 200},
		{TotalMs: 200, BackgroundMs: 200},
		{TotalMs: 200, BackgroundMs: 400},
		{TotalMs: 200, BackgroundMs: 600},
	}}
	log := &eventLog{}
	s := newUtteranceSession(t, recorder.Thresholds{
		MinSpeechLengthMs:       1000,
		MaxSilenceLengthMs:      300,
		SilenceResetThresholdMs: 500,
	}, recorder.Engines{Speech: &speechmock.Engine{Stream: stream}}, log)

	got := feed(t, s, 5)
	if got[4] != recorder.DecisionReset {
		t.Fatalf("decisions = %v, want reset on the last buffer", got)
	}
	if s.Status() != recorder.StatusRecording {
		t.Errorf("status = %v, want recording", s.Status())
	}
	if log.count("stop") != 0 || log.count("long_silence") != 0 {
		t.Errorf("events = %v, want no stop or long silence", log.snapshot())
	}
	st := s.Stats()
	if st.AccumulatedBytes != 0 || st.Speech != (recorder.Snapshot{}) {
		t.Errorf("stats after reset = %+v, want empty segment", st)
	}
	if stream.ResetCallCount != 2 {
		t.Errorf("stream resets = %d, want 2 (start and silence)", stream.ResetCallCount)
	}

	// Recording continues and the next buffer is analysed normally.
	before := len(stream.AddSamplesCalls)
	if d, err := s.Process(buf(frameSize, 1)); err != nil || d != recorder.DecisionContinue {
		t.Fatalf("Process after reset = %v, %v", d, err)
	}
	if len(stream.AddSamplesCalls) != before+1 {
		t.Error("buffer after a silence reset must be analysed")
	}
	if s.Stats().AccumulatedBytes != frameSize {
		t.Errorf("accumulated = %d, want %d", s.Stats().AccumulatedBytes, frameSize)
	}
}

func TestSession_FirstBufferOnlyAppended(t *testing.T) {
	t.Parallel()

	stream := &speechmock.Stream{}
	s := newUtteranceSession(t, recorder.Thresholds{
		MinSpeechLengthMs: 500, MaxSilenceLengthMs: 300, SilenceResetThresholdMs: 1000,
	}, recorder.Engines{Speech: &speechmock.Engine{Stream: stream}}, nil)

	feed(t, s, 1)
	if n := len(stream.AddSamplesCalls); n != 0 {
		t.Errorf("AddSamples calls = %d, want 0", n)
	}
	if got := s.Stats(); got.Buffers != 1 || got.AccumulatedBytes != frameSize {
		t.Errorf("stats = %+v, want 1 buffer of %d bytes", got, frameSize)
	}
	feed(t, s, 1)
	if n := len(stream.AddSamplesCalls); n != 1 {
		t.Errorf("AddSamples calls = %d, want 1", n)
	}
}

func TestSession_EngineErrorKeepsStatus(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	stream := &speechmock.Stream{AddSamplesErr: boom}
	log := &eventLog{}
	s := newUtteranceSession(t, recorder.Thresholds{
		MinSpeechLengthMs: 500, MaxSilenceLengthMs: 300, SilenceResetThresholdMs: 1000,
	}, recorder.Engines{Speech: &speechmock.Engine{Stream: stream}}, log)

	feed(t, s, 1)
	d, err := s.Process(buf(frameSize, 0))
	if d != recorder.DecisionContinue {
		t.Errorf("decision = %v, want continue", d)
	}
	var callErr *recorder.EngineCallError
	if !errors.As(err, &callErr) || callErr.Op != "speech.add_samples" || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want EngineCallError wrapping boom", err)
	}
	if s.Status() != recorder.StatusRecording {
		t.Errorf("status = %v, want recording", s.Status())
	}
	if len(log.errors) != 1 {
		t.Errorf("OnError calls = %d, want 1", len(log.errors))
	}
}

func TestSession_AbortThenStartClearsState(t *testing.T) {
	t.Parallel()

	stream := &speechmock.Stream{Steps: []speechmock.Step{
		{SpeechMs: 400, TotalMs: 400},
		{SpeechMs: 50, TotalMs: 50},
	}}
	log := &eventLog{}
	s := newUtteranceSession(t, recorder.Thresholds{
		MinSpeechLengthMs: 500, MaxSilenceLengthMs: 300, SilenceResetThresholdMs: 1000,
	}, recorder.Engines{Speech: &speechmock.Engine{Stream: stream}}, log)

	feed(t, s, 2)
	if s.Stats().Speech.SpeechMs != 400 {
		t.Fatalf("speech = %v, want 400", s.Stats().Speech.SpeechMs)
	}
	if !s.Abort() {
		t.Fatal("Abort returned false while recording")
	}
	if s.Status() != recorder.StatusAborted {
		t.Fatalf("status = %v, want aborted", s.Status())
	}
	if d, _ := s.Process(buf(frameSize, 9)); d != recorder.DecisionIgnored {
		t.Errorf("decision while aborted = %v, want ignored", d)
	}
	if s.Status() != recorder.StatusIdle {
		t.Fatalf("status after drain = %v, want idle", s.Status())
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Stats(); got != (recorder.Stats{}) {
		t.Errorf("stats after restart = %+v, want zero", got)
	}
	feed(t, s, 2)
	if got := s.Stats(); got.Speech.SpeechMs != 50 || got.AccumulatedBytes != 2*frameSize {
		t.Errorf("stats = %+v, want only the new segment", got)
	}
	if log.count("stop") != 0 {
		t.Error("abort must not emit a segment")
	}
}

func TestSession_AbortFromAnotherGoroutine(t *testing.T) {
	t.Parallel()

	s := newUtteranceSession(t, recorder.Thresholds{
		MinSpeechLengthMs: 500, MaxSilenceLengthMs: 300, SilenceResetThresholdMs: 1000,
	}, recorder.Engines{Speech: &speechmock.Engine{}}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Abort()
	}()
	for range 100 {
		if _, err := s.Process(buf(frameSize, 0)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	wg.Wait()
	s.Drain()
	if s.Status() != recorder.StatusIdle {
		t.Errorf("status = %v, want idle", s.Status())
	}
}

func TestSession_StopByStatus(t *testing.T) {
	t.Parallel()

	th := recorder.Thresholds{MinSpeechLengthMs: 500, MaxSilenceLengthMs: 300, SilenceResetThresholdMs: 1000}
	tests := []struct {
		name      string
		prepare   func(*recorder.Session)
		wantErr   error
		wantEvent string
	}{
		{name: "recording emits segment", prepare: func(*recorder.Session) {}, wantEvent: "stop"},
		{name: "aborted is silent", prepare: func(s *recorder.Session) { s.Abort() }},
		{name: "long silence", prepare: func(s *recorder.Session) { s.MarkLongSilence() }, wantEvent: "long_silence"},
		{name: "idle", prepare: func(s *recorder.Session) { _ = s.Stop(nil) }, wantErr: recorder.ErrNotRecording},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			log := &eventLog{}
			s := newUtteranceSession(t, th, recorder.Engines{Speech: &speechmock.Engine{}}, log)
			feed(t, s, 3)
			tt.prepare(s)
			before := len(log.snapshot())

			m := &recorder.AudioMetrics{AudioDurationMs: 60}
			err := s.Stop(m)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Stop err = %v, want %v", err, tt.wantErr)
			}
			if s.Status() != recorder.StatusIdle {
				t.Errorf("status = %v, want idle", s.Status())
			}
			after := log.snapshot()[before:]
			switch {
			case tt.wantEvent == "" && len(after) != 0:
				t.Errorf("events = %v, want none", after)
			case tt.wantEvent != "" && (len(after) != 1 || after[0] != tt.wantEvent):
				t.Errorf("events = %v, want [%s]", after, tt.wantEvent)
			}
			if tt.wantEvent == "stop" {
				rec := log.stops[0]
				if len(rec.Data) != 3*frameSize || rec.Metrics != m {
					t.Errorf("segment = %d bytes, metrics %v; want %d bytes with the given metrics", len(rec.Data), rec.Metrics, 3*frameSize)
				}
			}
		})
	}
}

func TestSession_LongSilenceOnNextProcess(t *testing.T) {
	t.Parallel()

	log := &eventLog{}
	s := newUtteranceSession(t, recorder.Thresholds{
		MinSpeechLengthMs: 500, MaxSilenceLengthMs: 300, SilenceResetThresholdMs: 1000,
	}, recorder.Engines{Speech: &speechmock.Engine{}}, log)

	feed(t, s, 2)
	if !s.MarkLongSilence() {
		t.Fatal("MarkLongSilence returned false")
	}
	if s.MarkLongSilence() {
		t.Error("second MarkLongSilence should fail")
	}
	if d, _ := s.Process(buf(frameSize, 0)); d != recorder.DecisionLongSilence {
		t.Errorf("decision = %v, want long_silence", d)
	}
	if log.count("long_silence") != 1 {
		t.Errorf("events = %v, want one long_silence", log.snapshot())
	}
	if s.Status() != recorder.StatusIdle {
		t.Errorf("status = %v, want idle", s.Status())
	}
}

func TestSession_StartErrors(t *testing.T) {
	t.Parallel()

	th := recorder.Thresholds{MinSpeechLengthMs: 500, MaxSilenceLengthMs: 300, SilenceResetThresholdMs: 1000}
	p, _ := recorder.NewPolicy(recorder.TextDependent, recorder.Verification, recorder.PolicySettings{Utterance: th})
	cfg := recorder.Config{Mode: recorder.TextDependent, RecordingMode: recorder.Verification, SampleRate: rate, Policy: p}

	s, err := recorder.NewSession(cfg, recorder.Engines{Speech: &speechmock.Engine{NewStreamErr: errors.New("no model")}}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	var initErr *recorder.EngineInitError
	if err := s.Start(); !errors.As(err, &initErr) || initErr.Engine != "speech" {
		t.Errorf("Start err = %v, want speech EngineInitError", err)
	}
	if s.Status() != recorder.StatusIdle {
		t.Errorf("status = %v, want idle", s.Status())
	}

	s, _ = recorder.NewSession(cfg, recorder.Engines{Speech: &speechmock.Engine{}}, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, recorder.ErrAlreadyRecording) {
		t.Errorf("second Start err = %v, want ErrAlreadyRecording", err)
	}

	if _, err := recorder.NewSession(cfg, recorder.Engines{}, nil); !errors.As(err, &initErr) {
		t.Errorf("NewSession without speech engine err = %v, want EngineInitError", err)
	}
	bad := cfg
	bad.SampleRate = 0
	if _, err := recorder.NewSession(bad, recorder.Engines{Speech: &speechmock.Engine{}}, nil); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestSession_EndpointDetection(t *testing.T) {
	t.Parallel()

	stream := &speechmock.Stream{Steps: []speechmock.Step{
		{SpeechMs: 100, TotalMs: 20},
		{SpeechMs: 100, TotalMs: 20},
		{TotalMs: 20, BackgroundMs: 300}, // summary would stop here
		{TotalMs: 20, BackgroundMs: 320},
	}}
	vadSess := &vadmock.Session{
		Events: []vad.VADEvent{
			{Type: vad.VADSpeechStart},
			{Type: vad.VADSpeechContinue},
			{Type: vad.VADSpeechEnd},
		},
		Default: vad.VADEvent{Type: vad.VADSilence},
	}
	vadEng := &vadmock.Engine{Session: vadSess}
	th := recorder.Thresholds{MinSpeechLengthMs: 200, MaxSilenceLengthMs: 40, SilenceResetThresholdMs: 1000}
	p, err := recorder.NewPolicy(recorder.TextIndependent, recorder.Verification, recorder.PolicySettings{
		Utterance:    th,
		EndDetection: recorder.EndByEndpoint,
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	log := &eventLog{}
	s, err := recorder.NewSession(recorder.Config{
		Mode: recorder.TextIndependent, RecordingMode: recorder.Verification, SampleRate: rate, Policy: p,
	}, recorder.Engines{Speech: &speechmock.Engine{Stream: stream}, VAD: vadEng}, log)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := feed(t, s, 5)
	for i, d := range got[:4] {
		if d != recorder.DecisionContinue {
			t.Errorf("buffer %d: decision = %v, want continue", i, d)
		}
	}
	if got[4] != recorder.DecisionStop {
		t.Errorf("buffer 4: decision = %v, want stop", got[4])
	}
	if n := vadSess.FrameCount(); n != 4 {
		t.Errorf("vad frames = %d, want 4", n)
	}
	if len(vadEng.NewSessionCalls) != 1 || vadEng.NewSessionCalls[0].SampleRate != rate {
		t.Errorf("vad sessions = %+v, want one at %d Hz", vadEng.NewSessionCalls, rate)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if vadSess.CloseCallCount != 1 {
		t.Errorf("vad closes = %d, want 1", vadSess.CloseCallCount)
	}
}

func TestSession_EndpointRequiresVAD(t *testing.T) {
	t.Parallel()

	p, _ := recorder.NewPolicy(recorder.TextDependent, recorder.Verification, recorder.PolicySettings{
		Utterance:    recorder.Thresholds{MinSpeechLengthMs: 200, MaxSilenceLengthMs: 40, SilenceResetThresholdMs: 1000},
		EndDetection: recorder.EndByEndpoint,
	})
	_, err := recorder.NewSession(recorder.Config{SampleRate: rate, Policy: p}, recorder.Engines{Speech: &speechmock.Engine{}}, nil)
	var initErr *recorder.EngineInitError
	if !errors.As(err, &initErr) || initErr.Engine != "vad" {
		t.Errorf("err = %v, want vad EngineInitError", err)
	}
}

func TestSession_SpeechMonotonicWithEnergyEngine(t *testing.T) {
	t.Parallel()

	s := newUtteranceSession(t, recorder.Thresholds{
		MinSpeechLengthMs: 60000, MaxSilenceLengthMs: 300, SilenceResetThresholdMs: 5000,
	}, recorder.Engines{Speech: energy.New()}, nil)

	pcm := audiotest.Concat(
		audiotest.Voice(700, rate),
		audiotest.Silence(400, rate),
		audiotest.Noise(300, rate, 0.2, 7),
		audiotest.Voice(500, rate),
		audiotest.Silence(900, rate),
	)
	var last float32
	for i, chunk := range audiotest.Split(pcm, 64, rate) {
		d, err := s.Process(audio.Buffer{Data: chunk})
		if err != nil {
			t.Fatalf("buffer %d: %v", i, err)
		}
		if d == recorder.DecisionReset {
			last = 0
			continue
		}
		got := s.Stats().Speech.SpeechMs
		if got < last {
			t.Fatalf("buffer %d: speech length dropped from %v to %v", i, last, got)
		}
		last = got
	}
	if last == 0 {
		t.Error("expected some speech to be detected")
	}
}
