package melprint

import (
	"github.com/MrWong99/voxkey/internal/dsp"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

// verifyStream scores a sliding window of speech frames against the enrolled
// references. A result is produced each time the window holds window speech
// frames; the oldest hop frames are then dropped, so windows overlap by half.
// Silent frames never enter the window.
type verifyStream struct {
	engine   *Engine
	analyzer *analyzer
	refs     [][]float32
	window   int
	hop      int

	frames [][]float64
	ready  []voiceprint.VerifyResult
}

func (s *verifyStream) AddSamples(pcm []byte) error {
	s.analyzer.feed(dsp.Float32s(pcm), func(mel []float64) {
		s.frames = append(s.frames, mel)
		if len(s.frames) < s.window {
			return
		}
		s.ready = append(s.ready, s.score())
		s.frames = append(s.frames[:0], s.frames[s.hop:]...)
	})
	return nil
}

func (s *verifyStream) score() voiceprint.VerifyResult {
	sum := make([]float64, s.engine.numMels)
	for _, f := range s.frames {
		for i, v := range f {
			sum[i] += v
		}
	}
	emb := newTemplate(sum, len(s.frames)).Embedding()

	best := -1.0
	for _, ref := range s.refs {
		best = max(best, cosine(emb, ref))
	}
	return voiceprint.VerifyResult{Score: float32(best), Probability: s.engine.probability(best)}
}

func (s *verifyStream) HasResult() bool { return len(s.ready) > 0 }

func (s *verifyStream) DrainResult() (voiceprint.VerifyResult, error) {
	if len(s.ready) == 0 {
		return voiceprint.VerifyResult{}, voiceprint.ErrNoResult
	}
	r := s.ready[0]
	s.ready = s.ready[1:]
	return r, nil
}

func (s *verifyStream) Reset() error {
	s.analyzer.reset()
	s.frames = s.frames[:0]
	s.ready = nil
	return nil
}

var _ voiceprint.VerifyStream = (*verifyStream)(nil)
