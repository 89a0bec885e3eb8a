package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/MrWong99/voxkey/internal/observe"
	"github.com/MrWong99/voxkey/pkg/provider/quality"
	"github.com/MrWong99/voxkey/pkg/provider/snr"
)

// ChunkSettings configures chunked text-independent enrollment.
type ChunkSettings struct {
	// ChunkSpeechMs is the speech length at which a chunk is cut.
	ChunkSpeechMs float32

	// TargetSpeechMs is the accepted speech needed to complete enrollment.
	TargetSpeechMs float32

	// QualityCheck enables the per-chunk quality gate.
	QualityCheck bool

	// Quality holds the thresholds passed to the quality checker.
	Quality quality.Thresholds
}

// Validate checks the settings.
func (s ChunkSettings) Validate() error {
	var errs []error
	if s.ChunkSpeechMs <= 0 {
		errs = append(errs, fmt.Errorf("chunk speech length must be positive, got %v", s.ChunkSpeechMs))
	}
	if s.TargetSpeechMs < s.ChunkSpeechMs {
		errs = append(errs, fmt.Errorf("target speech length %vms is shorter than one chunk (%vms)", s.TargetSpeechMs, s.ChunkSpeechMs))
	}
	return errors.Join(errs...)
}

// ChunkOutcome describes what one Process call did.
type ChunkOutcome struct {
	// Cut is set when a chunk was cut and judged during this call.
	Cut bool

	// Accepted is set when the cut chunk passed the quality gate.
	Accepted bool

	// Rejection holds the reason when a cut chunk was rejected.
	Rejection *QualityError

	// Recording is non-nil when the enrollment target was reached. The
	// collector has been reset by then.
	Recording *AudioRecording
}

// ChunkCollector slices enrollment audio into speech-length-bounded chunks,
// quality-gates each chunk on its own and merges the accepted ones until the
// target amount of speech has been collected.
type ChunkCollector struct {
	settings   ChunkSettings
	sampleRate int
	tracker    *Tracker
	quality    quality.Checker
	snr        snr.Computer
	obs        Observer
	calls      calls
	metrics    *observe.Metrics
	rng        *rand.Rand

	pending           Accumulator
	merged            Accumulator
	collectedSpeechMs float32
	collectedAudioMs  float32
}

// ChunkOption configures a ChunkCollector.
type ChunkOption func(*ChunkCollector)

// WithChunkRand sets the source used to pick encouragement messages.
func WithChunkRand(r *rand.Rand) ChunkOption {
	return func(c *ChunkCollector) { c.rng = r }
}

// WithChunkMetrics records chunk decisions and engine calls on m.
func WithChunkMetrics(m *observe.Metrics) ChunkOption {
	return func(c *ChunkCollector) {
		c.metrics = m
		c.calls.metrics = m
		c.tracker.calls.metrics = m
	}
}

// NewChunkCollector returns a collector reading statistics from tracker.
// checker may be nil when settings.QualityCheck is false; computer may be nil,
// in which case the final SNR is reported as zero.
func NewChunkCollector(settings ChunkSettings, sampleRate int, tracker *Tracker, checker quality.Checker, computer snr.Computer, obs Observer, opts ...ChunkOption) (*ChunkCollector, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("recorder: chunk settings: %w", err)
	}
	if settings.QualityCheck && checker == nil {
		return nil, &EngineInitError{Engine: "quality", Err: errors.New("quality check enabled without a checker")}
	}
	if obs == nil {
		obs = NopObserver{}
	}
	c := &ChunkCollector{
		settings:   settings,
		sampleRate: sampleRate,
		tracker:    tracker,
		quality:    checker,
		snr:        computer,
		obs:        obs,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CollectedSpeechMs returns the speech length of all accepted chunks.
func (c *ChunkCollector) CollectedSpeechMs() float32 { return c.collectedSpeechMs }

// CollectedAudioMs returns the total length of all accepted chunks.
func (c *ChunkCollector) CollectedAudioMs() float32 { return c.collectedAudioMs }

// MergedLen returns the byte length of the merged accepted audio.
func (c *ChunkCollector) MergedLen() int { return c.merged.Len() }

// PendingLen returns the byte length of the chunk being collected.
func (c *ChunkCollector) PendingLen() int { return c.pending.Len() }

// hold appends pcm to the current chunk without analysing it.
func (c *ChunkCollector) hold(pcm []byte) { c.pending.Append(pcm) }

// Process feeds one buffer. An engine failure is returned with the collector
// state unchanged apart from the buffered audio, so the next buffer retries
// the cut or the completion.
func (c *ChunkCollector) Process(pcm []byte) (ChunkOutcome, error) {
	var out ChunkOutcome
	c.pending.Append(pcm)

	snap, err := c.tracker.Update(pcm)
	if err != nil {
		return out, err
	}
	c.obs.OnSpeechLengthAvailable(snap.SpeechMs)

	if snap.SpeechMs >= c.settings.ChunkSpeechMs {
		if out, err = c.cut(snap); err != nil {
			return out, err
		}
	}

	rec, err := c.completeIfReady()
	if err != nil {
		return out, err
	}
	out.Recording = rec
	return out, nil
}

func (c *ChunkCollector) cut(snap Snapshot) (ChunkOutcome, error) {
	var out ChunkOutcome
	rejection, err := c.check(c.pending.Bytes())
	if err != nil {
		return out, err
	}
	if err := c.tracker.Reset(); err != nil {
		return out, err
	}
	chunk := c.pending.Detach()
	out.Cut = true

	ctx := context.Background()
	if rejection != nil {
		out.Rejection = rejection
		c.metrics.RecordChunk(ctx, false, rejection.Kind.String())
		slog.Debug("recorder: chunk rejected", "reason", rejection.Kind, "speech_ms", snap.SpeechMs)
		c.obs.OnChunkMessage(RejectedMessage(*rejection))
		return out, nil
	}

	out.Accepted = true
	c.merged.Append(chunk)
	c.collectedSpeechMs += snap.SpeechMs
	c.collectedAudioMs += snap.TotalMs
	c.metrics.RecordChunk(ctx, true, "ok")
	slog.Debug("recorder: chunk accepted",
		"speech_ms", snap.SpeechMs,
		"collected_speech_ms", c.collectedSpeechMs,
		"target_speech_ms", c.settings.TargetSpeechMs,
	)
	c.obs.OnChunkMessage(AcceptedMessage(c.rng))
	c.obs.OnCollectedSpeechLength(c.collectedSpeechMs, c.collectedAudioMs)
	return out, nil
}

// check runs the quality gate. A nil rejection means the chunk is accepted.
func (c *ChunkCollector) check(pcm []byte) (*QualityError, error) {
	if !c.settings.QualityCheck {
		return nil, nil
	}
	var res quality.Result
	if err := c.calls.do("quality.check", func() (err error) {
		res, err = c.quality.CheckQuality(pcm, c.sampleRate, c.settings.Quality)
		return err
	}); err != nil {
		return nil, err
	}
	if q, rejected := FromShortDescription(res.ShortDescription); rejected {
		return &q, nil
	}
	return nil, nil
}

func (c *ChunkCollector) completeIfReady() (*AudioRecording, error) {
	if c.merged.Len() == 0 || c.collectedSpeechMs < c.settings.TargetSpeechMs {
		return nil, nil
	}
	c.obs.OnAnalyzing()

	var snrDb float32
	if c.snr != nil {
		if err := c.calls.do("snr.compute", func() (err error) {
			snrDb, err = c.snr.ComputeSNR(c.merged.Bytes(), c.sampleRate)
			return err
		}); err != nil {
			return nil, err
		}
	}
	rec := &AudioRecording{
		SampleRate: c.sampleRate,
		Metrics: &AudioMetrics{
			AudioDurationMs:  c.collectedAudioMs,
			SpeechDurationMs: c.collectedSpeechMs,
			SNRDb:            snrDb,
		},
	}
	rec.Data = c.merged.Detach()
	if err := c.Reset(); err != nil {
		slog.Warn("recorder: reset after chunked completion", "err", err)
	}
	return rec, nil
}

// Flush hands out the accepted audio collected so far and starts over. The
// pending chunk has not passed the quality gate and is dropped. A nil m is
// replaced by the collected totals.
func (c *ChunkCollector) Flush(m *AudioMetrics) AudioRecording {
	if m == nil {
		m = &AudioMetrics{AudioDurationMs: c.collectedAudioMs, SpeechDurationMs: c.collectedSpeechMs}
	}
	rec := AudioRecording{Data: c.merged.Detach(), SampleRate: c.sampleRate, Metrics: m}
	if err := c.Reset(); err != nil {
		slog.Warn("recorder: reset after chunked stop", "err", err)
	}
	return rec
}

// Reset discards the pending chunk, the merged audio and the totals.
func (c *ChunkCollector) Reset() error {
	c.pending.Reset()
	c.merged.Reset()
	c.collectedSpeechMs = 0
	c.collectedAudioMs = 0
	return c.tracker.Reset()
}
