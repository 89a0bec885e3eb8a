package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of decoded audio before
// it is normalised for a session.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Normalizer converts decoded PCM16 into mono at TargetRate. It logs once on
// the first format mismatch and once on the first misaligned payload.
// Create one per stream; it is not safe for concurrent use.
type Normalizer struct {
	TargetRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize returns pcm converted from src to mono at the target rate. Stereo
// input is downmixed before resampling. A payload whose length is not a whole
// number of frames is dropped and nil is returned.
func (n *Normalizer) Normalize(pcm []byte, src Format) []byte {
	frameBytes := BytesPerSample * max(src.Channels, 1)
	if len(pcm)%frameBytes != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio: misaligned PCM payload, dropping",
				"bytes", len(pcm),
				"format", src.String(),
			)
		})
		return nil
	}
	if src.Channels <= 1 && src.SampleRate == n.TargetRate {
		return pcm
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio: normalising input format",
			"from", src.String(),
			"to", Format{SampleRate: n.TargetRate, Channels: 1}.String(),
		)
	})

	if src.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	return ResampleMono16(pcm, src.SampleRate, n.TargetRate)
}

// StereoToMono averages interleaved L/R PCM16 pairs into mono samples.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// ResampleMono16 converts mono PCM16 from srcRate to dstRate with linear
// interpolation. Equal or invalid rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	src := Samples(pcm)
	n := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	out := make([]int16, n)
	step := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := float64(src[idx])
		s1 := s0
		if idx+1 < len(src) {
			s1 = float64(src[idx+1])
		}
		out[i] = int16(s0*(1-frac) + s1*frac)
	}
	return Bytes(out)
}

// Samples decodes little-endian PCM16 into samples. A trailing odd byte is
// ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes encodes samples as little-endian PCM16.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
