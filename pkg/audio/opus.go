package audio

import (
	"fmt"
	"slices"

	"layeh.com/gopus"
)

// opusRates are the output rates libopus can decode to directly.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// opusMaxFrameMs is the longest frame an Opus packet may carry.
const opusMaxFrameMs = 120

// OpusDecoder turns a stream of Opus packets into PCM16 mono at a fixed rate.
// Decoder state carries across packets, so create one per stream. It is not
// safe for concurrent use.
type OpusDecoder struct {
	dec    *gopus.Decoder
	decode Format
	norm   Normalizer
}

// NewOpusDecoder returns a decoder producing mono PCM16 at sampleRate. Rates
// libopus cannot produce are decoded at 48 kHz and resampled.
func NewOpusDecoder(sampleRate int) (*OpusDecoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid opus output rate %d", sampleRate)
	}
	src := Format{SampleRate: sampleRate, Channels: 1}
	if !slices.Contains(opusRates, sampleRate) {
		src.SampleRate = SampleRate48k
	}
	dec, err := gopus.NewDecoder(src.SampleRate, src.Channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, decode: src, norm: Normalizer{TargetRate: sampleRate}}, nil
}

// Decode decodes one Opus packet.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	frameSize := d.decode.SampleRate * opusMaxFrameMs / 1000
	pcm, err := d.dec.Decode(packet, frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return d.norm.Normalize(Bytes(pcm), d.decode), nil
}
