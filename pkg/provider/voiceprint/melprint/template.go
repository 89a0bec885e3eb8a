package melprint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
)

// magic prefixes every serialized template.
var magic = [4]byte{'M', 'P', 'T', '1'}

const headerLen = len(magic) + 2 + 4

// Template is a mean log-mel spectrum together with the number of speech
// frames it was averaged over.
type Template struct {
	mean   []float32
	frames int
}

func newTemplate(sum []float64, frames int) *Template {
	mean := make([]float32, len(sum))
	for i, v := range sum {
		mean[i] = float32(v / float64(frames))
	}
	return &Template{mean: mean, frames: frames}
}

// Frames returns the number of speech frames behind the template.
func (t *Template) Frames() int { return t.frames }

// Embedding returns the spectrum with its mean removed, scaled to unit length.
// It implements voiceprint.Embedder.
func (t *Template) Embedding() []float32 {
	var avg float64
	for _, v := range t.mean {
		avg += float64(v)
	}
	avg /= float64(len(t.mean))

	out := make([]float32, len(t.mean))
	var norm float64
	for i, v := range t.mean {
		d := float64(v) - avg
		out[i] = float32(d)
		norm += d * d
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}

// Serialize implements voiceprint.Template. The layout is the magic, band
// count (uint16), frame count (uint32) and the bands as float32, all
// little-endian.
func (t *Template) Serialize() ([]byte, error) {
	if len(t.mean) > math.MaxUint16 {
		return nil, fmt.Errorf("melprint: %d bands do not fit the header", len(t.mean))
	}
	buf := make([]byte, headerLen+4*len(t.mean))
	copy(buf, magic[:])
	binary.LittleEndian.PutUint16(buf[4:], uint16(len(t.mean)))
	binary.LittleEndian.PutUint32(buf[6:], uint32(t.frames))
	for i, v := range t.mean {
		binary.LittleEndian.PutUint32(buf[headerLen+4*i:], math.Float32bits(v))
	}
	return buf, nil
}

func decodeTemplate(data []byte) (*Template, error) {
	if len(data) < headerLen || [4]byte(data[:4]) != magic {
		return nil, errors.New("melprint: not a melprint template")
	}
	bands := int(binary.LittleEndian.Uint16(data[4:]))
	frames := int(binary.LittleEndian.Uint32(data[6:]))
	if len(data) != headerLen+4*bands {
		return nil, fmt.Errorf("melprint: template length %d, want %d", len(data), headerLen+4*bands)
	}
	if frames == 0 {
		return nil, errors.New("melprint: template built from zero frames")
	}
	mean := make([]float32, bands)
	for i := range mean {
		mean[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[headerLen+4*i:]))
	}
	return &Template{mean: mean, frames: frames}, nil
}

var (
	_ voiceprint.Template = (*Template)(nil)
	_ voiceprint.Embedder = (*Template)(nil)
)
