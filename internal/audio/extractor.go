// Package audio decodes audio artifacts and derives fingerprints from them.
package audio

import (
	"context"
	"fmt"
	"math"
	"time"

	"soundprint/internal/config"
	"soundprint/internal/logging"

	"github.com/sirupsen/logrus"
)

// Extractor computes the mean-MFCC fingerprint of an audio artifact.
type Extractor struct {
	decoder *Decoder
	mfcc    *MFCC
	logger  *logrus.Entry
}

// NewExtractor creates an extractor from the audio configuration.
func NewExtractor(cfg config.AudioConfig, logger *logrus.Logger) (*Extractor, error) {
	mfcc, err := NewMFCC(MFCCConfig{
		SampleRate: cfg.SampleRate,
		NMFCC:      cfg.NMFCC,
		NMels:      cfg.NMels,
		NFFT:       cfg.FFTSize,
		HopLength:  cfg.HopLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure mfcc: %w", err)
	}
	return &Extractor{
		decoder: &Decoder{
			SampleRate: cfg.SampleRate,
			FFmpegPath: cfg.FFmpegPath,
			Timeout:    time.Duration(cfg.DecodeTimeout) * time.Second,
		},
		mfcc:   mfcc,
		logger: logging.Component(logger, "extractor"),
	}, nil
}

// Size returns the fingerprint length this extractor produces.
func (e *Extractor) Size() int {
	return e.mfcc.cfg.NMFCC
}

// Fingerprint decodes path and returns one averaged value per coefficient.
// Any failure is reported as *DecodeError.
func (e *Extractor) Fingerprint(ctx context.Context, path string) ([]float64, error) {
	startTime := time.Now()

	samples, err := e.decoder.Decode(ctx, path)
	if err != nil {
		return nil, decodeErr(path, err)
	}

	fingerprint, err := e.mfcc.Mean(samples)
	if err != nil {
		return nil, decodeErr(path, err)
	}
	for i, v := range fingerprint {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, decodeErr(path, fmt.Errorf("coefficient %d is not finite", i))
		}
	}

	e.logger.WithFields(logrus.Fields{
		"path":           path,
		"samples":        len(samples),
		"frames":         e.mfcc.NumFrames(len(samples)),
		"processingTime": time.Since(startTime),
	}).Debug("Extracted fingerprint")

	return fingerprint, nil
}
