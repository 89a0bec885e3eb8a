package dsp

import "math"

// Spectrum computes per-frame power spectra and log-mel energies.
//
// A Spectrum is immutable after construction and safe for concurrent use; the
// working buffers are allocated per call.
type Spectrum struct {
	sampleRate int
	frameLen   int
	fftSize    int
	window     []float64
	melBank    [][]float64
}

// NewSpectrum builds a Spectrum for frameLen-sample frames at sampleRate with
// numMels triangular filters between 20 Hz and 0.95 × Nyquist.
func NewSpectrum(sampleRate, frameLen, numMels int) *Spectrum {
	fftSize := 1
	for fftSize < frameLen {
		fftSize <<= 1
	}
	high := 0.95 * float64(sampleRate) / 2
	return &Spectrum{
		sampleRate: sampleRate,
		frameLen:   frameLen,
		fftSize:    fftSize,
		window:     hamming(frameLen),
		melBank:    melFilterBank(numMels, fftSize, sampleRate, 20, high),
	}
}

// NumMels returns the number of mel bands.
func (s *Spectrum) NumMels() int { return len(s.melBank) }

// Power returns the one-sided power spectrum of frame, which must hold
// frameLen samples.
func (s *Spectrum) Power(frame []float32) []float64 {
	re := make([]float64, s.fftSize)
	im := make([]float64, s.fftSize)
	for i := 0; i < s.frameLen && i < len(frame); i++ {
		x := float64(frame[i])
		if i > 0 {
			x -= 0.97 * float64(frame[i-1])
		}
		re[i] = x * s.window[i]
	}
	fft(re, im)

	half := s.fftSize/2 + 1
	power := make([]float64, half)
	for k := range half {
		power[k] = re[k]*re[k] + im[k]*im[k]
	}
	return power
}

// LogMel returns the natural-log mel energies of frame.
func (s *Spectrum) LogMel(frame []float32) []float64 {
	power := s.Power(frame)
	out := make([]float64, len(s.melBank))
	for m, filter := range s.melBank {
		var sum float64
		for k, w := range filter {
			sum += w * power[k]
		}
		out[m] = math.Log(max(sum, 1e-10))
	}
	return out
}

// Centroid returns the spectral centroid of frame in Hz.
func (s *Spectrum) Centroid(frame []float32) float64 {
	power := s.Power(frame)
	var num, den float64
	binHz := float64(s.sampleRate) / float64(s.fftSize)
	for k, p := range power {
		num += float64(k) * binHz * p
		den += p
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// fft is an in-place radix-2 Cooley-Tukey transform; len(re) must be a power
// of two and equal len(im).
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	for i, j := 0, 0; i < n-1; i++ {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		angle := -2 * math.Pi / float64(size)
		wr, wi := math.Cos(angle), math.Sin(angle)
		for start := 0; start < n; start += size {
			tr, ti := 1.0, 0.0
			for k := range half {
				u, v := start+k, start+k+half
				xr := tr*re[v] - ti*im[v]
				xi := tr*im[v] + ti*re[v]
				re[v], im[v] = re[u]-xr, im[u]-xi
				re[u] += xr
				im[u] += xi
				tr, ti = tr*wr-ti*wi, tr*wi+ti*wr
			}
		}
	}
}

func hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64  { return 2595 * math.Log10(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// melFilterBank returns numMels triangular filters over fftSize/2+1 bins.
func melFilterBank(numMels, fftSize, sampleRate int, low, high float64) [][]float64 {
	half := fftSize/2 + 1
	lo, hi := hzToMel(low), hzToMel(high)
	step := (hi - lo) / float64(numMels+1)

	bins := make([]int, numMels+2)
	for i := range bins {
		b := int(math.Round(melToHz(lo+float64(i)*step) * float64(fftSize) / float64(sampleRate)))
		bins[i] = min(b, half-1)
		if i > 0 && bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	bank := make([][]float64, numMels)
	for m := range numMels {
		filter := make([]float64, half)
		left, center, right := bins[m], bins[m+1], bins[m+2]
		for k := left; k < center && k < half; k++ {
			filter[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < half; k++ {
			if right != center {
				filter[k] = float64(right-k) / float64(right-center)
			}
		}
		bank[m] = filter
	}
	return bank
}
