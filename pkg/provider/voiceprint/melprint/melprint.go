// Package melprint implements voiceprint.Engine with mean log-mel spectra.
//
// A template is the average 40-band log-mel spectrum of the speech frames in a
// segment. Matching centres both spectra, compares their shape with cosine
// similarity and maps the similarity onto a probability with a logistic curve.
// This captures coarse timbre and nothing more; it is a stand-in that keeps
// enrollment and verification runnable without a trained speaker model.
package melprint

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/voxkey/internal/dsp"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

// Defaults.
const (
	DefaultNumMels     = 40
	DefaultThresholdDB = -40.0

	// Logistic calibration: similarity at which probability is 0.5, and the
	// curve steepness.
	DefaultMidpoint  = 0.8
	DefaultSteepness = 20.0
)

// ErrNoSpeech is returned when a segment holds no frame loud enough to count
// as speech.
var ErrNoSpeech = errors.New("melprint: no speech frames in segment")

// Option configures an [Engine].
type Option func(*Engine)

// WithThresholdDB sets the frame level at or above which a frame is speech.
func WithThresholdDB(db float64) Option {
	return func(e *Engine) { e.thresholdDB = db }
}

// WithCalibration sets the logistic midpoint and steepness used to turn
// cosine similarity into a probability.
func WithCalibration(midpoint, steepness float64) Option {
	return func(e *Engine) {
		e.midpoint = midpoint
		e.steepness = steepness
	}
}

// Engine implements voiceprint.Engine. It holds only configuration and is
// safe for concurrent use.
type Engine struct {
	numMels     int
	thresholdDB float64
	midpoint    float64
	steepness   float64
}

// New returns an Engine with the given options applied.
func New(opts ...Option) *Engine {
	e := &Engine{
		numMels:     DefaultNumMels,
		thresholdDB: DefaultThresholdDB,
		midpoint:    DefaultMidpoint,
		steepness:   DefaultSteepness,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CreateTemplate implements voiceprint.Factory.
func (e *Engine) CreateTemplate(pcm []byte, sampleRate int) (voiceprint.Template, error) {
	a, err := e.newAnalyzer(sampleRate)
	if err != nil {
		return nil, err
	}
	sum := make([]float64, e.numMels)
	frames := a.feed(dsp.Float32s(pcm), func(mel []float64) {
		for i, v := range mel {
			sum[i] += v
		}
	})
	if frames == 0 {
		return nil, ErrNoSpeech
	}
	return newTemplate(sum, frames), nil
}

// MergeTemplates implements voiceprint.Factory. The result is the
// frame-weighted mean of the inputs.
func (e *Engine) MergeTemplates(templates []voiceprint.Template) (voiceprint.Template, error) {
	if len(templates) == 0 {
		return nil, errors.New("melprint: merge of zero templates")
	}
	sum := make([]float64, e.numMels)
	var frames int
	for i, t := range templates {
		mt, err := e.own(t)
		if err != nil {
			return nil, fmt.Errorf("melprint: merge template %d: %w", i, err)
		}
		for j, v := range mt.mean {
			sum[j] += float64(v) * float64(mt.frames)
		}
		frames += mt.frames
	}
	return newTemplate(sum, frames), nil
}

// LoadTemplate implements voiceprint.Factory.
func (e *Engine) LoadTemplate(data []byte) (voiceprint.Template, error) {
	t, err := decodeTemplate(data)
	if err != nil {
		return nil, err
	}
	if len(t.mean) != e.numMels {
		return nil, fmt.Errorf("melprint: template has %d bands, engine uses %d", len(t.mean), e.numMels)
	}
	return t, nil
}

// Match implements voiceprint.Matcher.
func (e *Engine) Match(a, b voiceprint.Template) (voiceprint.MatchResult, error) {
	ta, err := e.own(a)
	if err != nil {
		return voiceprint.MatchResult{}, err
	}
	tb, err := e.own(b)
	if err != nil {
		return voiceprint.MatchResult{}, err
	}
	sim := cosine(ta.Embedding(), tb.Embedding())
	return voiceprint.MatchResult{Score: float32(sim), Probability: e.probability(sim)}, nil
}

// NewVerifyStream implements voiceprint.StreamVerifier.
func (e *Engine) NewVerifyStream(templates []voiceprint.Template, sampleRate int, windowSeconds float32) (voiceprint.VerifyStream, error) {
	if len(templates) == 0 {
		return nil, errors.New("melprint: verify stream needs at least one template")
	}
	if windowSeconds <= 0 {
		return nil, fmt.Errorf("melprint: invalid window %vs", windowSeconds)
	}
	refs := make([][]float32, len(templates))
	for i, t := range templates {
		mt, err := e.own(t)
		if err != nil {
			return nil, fmt.Errorf("melprint: verify template %d: %w", i, err)
		}
		refs[i] = mt.Embedding()
	}
	a, err := e.newAnalyzer(sampleRate)
	if err != nil {
		return nil, err
	}
	window := int(windowSeconds * 1000 / dsp.FrameMs)
	return &verifyStream{
		engine:   e,
		analyzer: a,
		refs:     refs,
		window:   max(window, 1),
		hop:      max(window/2, 1),
	}, nil
}

func (e *Engine) own(t voiceprint.Template) (*Template, error) {
	mt, ok := t.(*Template)
	if !ok || mt == nil {
		return nil, fmt.Errorf("melprint: foreign template type %T", t)
	}
	if len(mt.mean) != e.numMels {
		return nil, fmt.Errorf("melprint: template has %d bands, engine uses %d", len(mt.mean), e.numMels)
	}
	return mt, nil
}

func (e *Engine) probability(sim float64) float32 {
	return float32(1 / (1 + math.Exp(-e.steepness*(sim-e.midpoint))))
}

func (e *Engine) newAnalyzer(sampleRate int) (*analyzer, error) {
	frameLen := dsp.FrameSamples(sampleRate)
	if frameLen <= 0 {
		return nil, fmt.Errorf("melprint: unsupported sample rate %d", sampleRate)
	}
	return &analyzer{
		spec:        dsp.NewSpectrum(sampleRate, frameLen, e.numMels),
		frameLen:    frameLen,
		thresholdDB: e.thresholdDB,
	}, nil
}

var _ voiceprint.Engine = (*Engine)(nil)

// analyzer splits samples into frames and hands the log-mel spectrum of each
// speech frame to a callback. Partial frames are carried over between feeds.
type analyzer struct {
	spec        *dsp.Spectrum
	frameLen    int
	thresholdDB float64
	pending     []float32
}

func (a *analyzer) feed(samples []float32, onSpeech func(mel []float64)) int {
	a.pending = append(a.pending, samples...)
	var n int
	for len(a.pending) >= a.frameLen {
		frame := a.pending[:a.frameLen]
		if dsp.DBFS(dsp.RMS(frame)) >= a.thresholdDB {
			onSpeech(a.spec.LogMel(frame))
			n++
		}
		a.pending = a.pending[a.frameLen:]
	}
	return n
}

func (a *analyzer) reset() { a.pending = a.pending[:0] }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}
