package audio

import (
	"math"
	"testing"
)

func TestNewMFCCValidation(t *testing.T) {
	valid := MFCCConfig{SampleRate: 22050, NMFCC: 13, NMels: 128, NFFT: 2048, HopLength: 512}
	if _, err := NewMFCC(valid); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*MFCCConfig)
	}{
		{"zero rate", func(c *MFCCConfig) { c.SampleRate = 0 }},
		{"tiny fft", func(c *MFCCConfig) { c.NFFT = 1 }},
		{"zero hop", func(c *MFCCConfig) { c.HopLength = 0 }},
		{"no mels", func(c *MFCCConfig) { c.NMels = 0 }},
		{"too many coefficients", func(c *MFCCConfig) { c.NMFCC = 200 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if _, err := NewMFCC(cfg); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestComputeFrameCount(t *testing.T) {
	m, err := NewMFCC(MFCCConfig{SampleRate: 22050, NMFCC: 13, NMels: 128, NFFT: 2048, HopLength: 512})
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{1, 511, 512, 2048, 22050} {
		coeffs, err := m.Compute(make([]float64, n))
		if err != nil {
			t.Fatalf("Compute(%d) returned error: %v", n, err)
		}
		rows, cols := coeffs.Dims()
		if rows != 13 {
			t.Errorf("Expected 13 rows, got %d", rows)
		}
		if cols != 1+n/512 {
			t.Errorf("n=%d: expected %d frames, got %d", n, 1+n/512, cols)
		}
	}

	if _, err := m.Compute(nil); err != ErrNoSamples {
		t.Errorf("Expected ErrNoSamples, got %v", err)
	}
}

func TestMelScaleRoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 100, 500, 999, 1000, 1500, 4000, 11025} {
		got := melToHz(hzToMel(hz))
		if math.Abs(got-hz) > 1e-6 {
			t.Errorf("melToHz(hzToMel(%v)) = %v", hz, got)
		}
	}
	if got := hzToMel(1000); math.Abs(got-15) > 1e-9 {
		t.Errorf("Expected 1000 Hz to map to mel 15, got %v", got)
	}
}

func TestMelFilterbankShape(t *testing.T) {
	fb := melFilterbank(22050, 2048, 128)
	rows, cols := fb.Dims()
	if rows != 128 || cols != 1025 {
		t.Fatalf("Expected 128x1025 filterbank, got %dx%d", rows, cols)
	}
	for i := 0; i < rows; i++ {
		nonzero := false
		for j := 0; j < cols; j++ {
			v := fb.At(i, j)
			if v < 0 {
				t.Fatalf("Negative weight at %d,%d", i, j)
			}
			if v > 0 {
				nonzero = true
			}
		}
		if !nonzero && i > 1 {
			t.Errorf("Filter %d has no support", i)
		}
	}
}

func TestDCTBasisIsOrthonormal(t *testing.T) {
	const n = 16
	basis := dctBasis(n, n)
	for a := 0; a < n; a++ {
		for b := 0; b < n; b++ {
			var dot float64
			for j := 0; j < n; j++ {
				dot += basis.At(a, j) * basis.At(b, j)
			}
			expected := 0.0
			if a == b {
				expected = 1
			}
			if math.Abs(dot-expected) > 1e-9 {
				t.Fatalf("Row %d . row %d = %v, expected %v", a, b, dot, expected)
			}
		}
	}
}

func TestHannIsPeriodic(t *testing.T) {
	w := hann(8)
	if w[0] != 0 {
		t.Errorf("Expected w[0] = 0, got %v", w[0])
	}
	if math.Abs(w[4]-1) > 1e-12 {
		t.Errorf("Expected w[4] = 1, got %v", w[4])
	}
	if math.Abs(w[1]-w[7]) > 1e-12 {
		t.Errorf("Expected symmetric taps, got %v and %v", w[1], w[7])
	}
}

func TestResample(t *testing.T) {
	in := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	if got := Resample(in, 100, 100); len(got) != len(in) {
		t.Errorf("Expected unchanged length, got %d", len(got))
	}

	down := Resample(in, 200, 100)
	if len(down) != 4 {
		t.Fatalf("Expected 4 samples, got %d", len(down))
	}
	for i, v := range down {
		if v != float64(2*i) {
			t.Errorf("down[%d] = %v, expected %v", i, v, float64(2*i))
		}
	}

	up := Resample([]float64{0, 2}, 100, 200)
	expected := []float64{0, 1, 2, 2}
	if len(up) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(up))
	}
	for i := range up {
		if math.Abs(up[i]-expected[i]) > 1e-12 {
			t.Errorf("up[%d] = %v, expected %v", i, up[i], expected[i])
		}
	}
}
