package recorder

import (
	"fmt"

	"github.com/MrWong99/voxkey/pkg/provider/vad"
)

// EndpointDetector runs a frame-level VAD over the session audio and reports
// the end of an utterance once speech has been followed by hangover
// milliseconds of non-speech frames.
type EndpointDetector struct {
	session    vad.SessionHandle
	calls      calls
	frameBytes int
	frameMs    float32
	hangoverMs float32

	pending     []byte
	heardSpeech bool
	silenceMs   float32
}

// NewEndpointDetector opens a VAD session for cfg.
func NewEndpointDetector(engine vad.Engine, cfg vad.Config, hangoverMs float32) (*EndpointDetector, error) {
	if engine == nil {
		return nil, &EngineInitError{Engine: "vad", Err: fmt.Errorf("no engine configured")}
	}
	frameBytes := cfg.FrameBytes()
	if frameBytes <= 0 {
		return nil, &EngineInitError{Engine: "vad", Err: fmt.Errorf("invalid frame %dms at %dHz", cfg.FrameSizeMs, cfg.SampleRate)}
	}
	s, err := engine.NewSession(cfg)
	if err != nil {
		return nil, &EngineInitError{Engine: "vad", Err: err}
	}
	return &EndpointDetector{
		session:    s,
		frameBytes: frameBytes,
		frameMs:    float32(cfg.FrameSizeMs),
		hangoverMs: hangoverMs,
	}, nil
}

// Feed processes every whole frame in pcm and reports whether the endpoint
// has been reached. Remaining bytes are carried over to the next call.
func (d *EndpointDetector) Feed(pcm []byte) (bool, error) {
	d.pending = append(d.pending, pcm...)
	for len(d.pending) >= d.frameBytes {
		frame := d.pending[:d.frameBytes]
		var ev vad.VADEvent
		if err := d.calls.do("vad.process_frame", func() (err error) {
			ev, err = d.session.ProcessFrame(frame)
			return err
		}); err != nil {
			return d.Reached(), err
		}
		d.pending = d.pending[d.frameBytes:]

		switch {
		case ev.Type.IsSpeech():
			d.heardSpeech = true
			d.silenceMs = 0
		case d.heardSpeech:
			d.silenceMs += d.frameMs
		}
	}
	// Keep the backing array from growing without bound.
	d.pending = append([]byte(nil), d.pending...)
	return d.Reached(), nil
}

// Reached reports whether speech has ended.
func (d *EndpointDetector) Reached() bool {
	return d.heardSpeech && d.silenceMs >= d.hangoverMs
}

// Reset forgets all speech heard so far.
func (d *EndpointDetector) Reset() {
	d.session.Reset()
	d.pending = nil
	d.heardSpeech = false
	d.silenceMs = 0
}

// Close releases the VAD session.
func (d *EndpointDetector) Close() error {
	return d.session.Close()
}
