package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// power_to_db floor and dynamic range.
	amin  = 1e-10
	topDB = 80.0

	// Slaney mel scale: linear below 1 kHz, logarithmic above.
	melFSP       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSP
)

var melLogStep = math.Log(6.4) / 27.0

// MFCCConfig holds the frame and filterbank parameters.
type MFCCConfig struct {
	SampleRate int
	NMFCC      int
	NMels      int
	NFFT       int
	HopLength  int
}

// MFCC computes mel-frequency cepstral coefficients with centered,
// zero-padded frames, a periodic Hann window, a Slaney-normalized mel
// filterbank, dB scaling clipped to 80 dB below peak and an orthonormal
// DCT-II. It is safe for concurrent use.
type MFCC struct {
	cfg    MFCCConfig
	window []float64
	mel    *mat.Dense // NMels x (NFFT/2+1)
	dct    *mat.Dense // NMFCC x NMels
}

// NewMFCC precomputes the window, filterbank and DCT basis.
func NewMFCC(cfg MFCCConfig) (*MFCC, error) {
	switch {
	case cfg.SampleRate <= 0:
		return nil, fmt.Errorf("sample rate must be positive")
	case cfg.NFFT < 2:
		return nil, fmt.Errorf("fft size must be at least 2")
	case cfg.HopLength < 1:
		return nil, fmt.Errorf("hop length must be at least 1")
	case cfg.NMels < 1:
		return nil, fmt.Errorf("n_mels must be at least 1")
	case cfg.NMFCC < 1 || cfg.NMFCC > cfg.NMels:
		return nil, fmt.Errorf("n_mfcc must be between 1 and n_mels")
	}
	return &MFCC{
		cfg:    cfg,
		window: hann(cfg.NFFT),
		mel:    melFilterbank(cfg.SampleRate, cfg.NFFT, cfg.NMels),
		dct:    dctBasis(cfg.NMFCC, cfg.NMels),
	}, nil
}

// NumFrames returns the frame count produced for n input samples.
func (m *MFCC) NumFrames(n int) int {
	return 1 + n/m.cfg.HopLength
}

// Compute returns the NMFCC x frames coefficient matrix.
func (m *MFCC) Compute(samples []float64) (*mat.Dense, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	nfft := m.cfg.NFFT
	hop := m.cfg.HopLength
	bins := nfft/2 + 1

	pad := nfft / 2
	padded := make([]float64, len(samples)+2*pad)
	copy(padded[pad:], samples)

	frames := m.NumFrames(len(samples))
	fft := fourier.NewFFT(nfft)
	frame := make([]float64, nfft)
	coeffs := make([]complex128, bins)
	power := mat.NewVecDense(bins, nil)
	melFrame := mat.NewVecDense(m.cfg.NMels, nil)
	melDB := mat.NewDense(m.cfg.NMels, frames, nil)

	peak := math.Inf(-1)
	for t := 0; t < frames; t++ {
		start := t * hop
		for i := 0; i < nfft; i++ {
			frame[i] = padded[start+i] * m.window[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			power.SetVec(k, real(c)*real(c)+imag(c)*imag(c))
		}
		melFrame.MulVec(m.mel, power)
		for b := 0; b < m.cfg.NMels; b++ {
			db := 10 * math.Log10(math.Max(amin, melFrame.AtVec(b)))
			melDB.Set(b, t, db)
			if db > peak {
				peak = db
			}
		}
	}

	floor := peak - topDB
	melDB.Apply(func(_, _ int, v float64) float64 {
		return math.Max(v, floor)
	}, melDB)

	var out mat.Dense
	out.Mul(m.dct, melDB)
	return &out, nil
}

// Mean returns the per-coefficient average across all frames.
func (m *MFCC) Mean(samples []float64) ([]float64, error) {
	coeffs, err := m.Compute(samples)
	if err != nil {
		return nil, err
	}
	rows, _ := coeffs.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = stat.Mean(mat.Row(nil, i, coeffs), nil)
	}
	return out, nil
}

// hann returns a periodic Hann window.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func hzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSP
}

func melToHz(mel float64) float64 {
	if mel >= melMinLogMel {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
	}
	return mel * melFSP
}

// melFilterbank builds triangular filters spaced evenly on the Slaney mel
// scale between 0 Hz and Nyquist, each normalized to unit area.
func melFilterbank(sampleRate, nfft, nMels int) *mat.Dense {
	bins := nfft/2 + 1
	nyquist := float64(sampleRate) / 2

	fftFreqs := make([]float64, bins)
	for j := range fftFreqs {
		fftFreqs[j] = float64(j) * float64(sampleRate) / float64(nfft)
	}

	maxMel := hzToMel(nyquist)
	melF := make([]float64, nMels+2)
	for i := range melF {
		melF[i] = melToHz(maxMel * float64(i) / float64(nMels+1))
	}

	weights := mat.NewDense(nMels, bins, nil)
	for i := 0; i < nMels; i++ {
		lowerDiff := melF[i+1] - melF[i]
		upperDiff := melF[i+2] - melF[i+1]
		enorm := 2.0 / (melF[i+2] - melF[i])
		for j, f := range fftFreqs {
			lower := (f - melF[i]) / lowerDiff
			upper := (melF[i+2] - f) / upperDiff
			w := math.Max(0, math.Min(lower, upper))
			weights.Set(i, j, w*enorm)
		}
	}
	return weights
}

// dctBasis returns the first n rows of the orthonormal DCT-II matrix of size m.
func dctBasis(n, m int) *mat.Dense {
	basis := mat.NewDense(n, m, nil)
	for k := 0; k < n; k++ {
		scale := math.Sqrt(2 / float64(m))
		if k == 0 {
			scale = math.Sqrt(1 / float64(m))
		}
		for j := 0; j < m; j++ {
			basis.Set(k, j, scale*math.Cos(math.Pi*float64(k)*float64(2*j+1)/float64(2*m)))
		}
	}
	return basis
}
