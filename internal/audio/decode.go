package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

// Decoder turns an audio artifact into mono float samples at a fixed rate.
// WAV and FLAC are decoded in-process; anything else is piped through ffmpeg.
type Decoder struct {
	SampleRate int
	FFmpegPath string
	Timeout    time.Duration
}

// Decode returns mono samples in [-1, 1] resampled to d.SampleRate.
func (d *Decoder) Decode(ctx context.Context, path string) ([]float64, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, decodeErr(path, err)
	}

	var (
		samples []float64
		rate    int
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		samples, rate, err = decodeWAV(path)
		if errors.Is(err, errUnsupportedEncoding) {
			return d.decodeFFmpeg(ctx, path)
		}
	case ".flac":
		samples, rate, err = decodeFLAC(path)
	default:
		return d.decodeFFmpeg(ctx, path)
	}
	if err != nil {
		return nil, decodeErr(path, err)
	}
	if len(samples) == 0 {
		return nil, decodeErr(path, ErrNoSamples)
	}
	return Resample(samples, rate, d.SampleRate), nil
}

var errUnsupportedEncoding = errors.New("unsupported wav encoding")

func decodeWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return nil, 0, fmt.Errorf("invalid wav header")
	}
	// 1 is integer PCM; float and compressed payloads go through ffmpeg.
	if dec.WavAudioFormat != 1 {
		return nil, 0, fmt.Errorf("%w: format tag %d", errUnsupportedEncoding, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("read pcm data: %w", err)
	}
	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	frames := len(buf.Data) / channels

	scale := math.Exp2(float64(bitDepth - 1))
	offset := 0.0
	if bitDepth == 8 {
		// 8-bit WAV is unsigned.
		offset = 128
	}

	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += (float64(buf.Data[i*channels+c]) - offset) / scale
		}
		out[i] = sum / float64(channels)
	}
	return out, int(dec.SampleRate), nil
}

func decodeFLAC(path string) ([]float64, int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("parse flac: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	if info.SampleRate == 0 || info.NChannels == 0 || info.BitsPerSample == 0 {
		return nil, 0, fmt.Errorf("flac stream missing sample info")
	}
	scale := math.Exp2(float64(info.BitsPerSample) - 1)
	channels := int(info.NChannels)

	var out []float64
	if info.NSamples > 0 {
		out = make([]float64, 0, info.NSamples)
	}
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("parse flac frame: %w", err)
		}
		n := len(frame.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			var sum float64
			for c := 0; c < channels; c++ {
				sum += float64(frame.Subframes[c].Samples[i]) / scale
			}
			out = append(out, sum/float64(channels))
		}
	}
	return out, int(info.SampleRate), nil
}

// decodeFFmpeg asks ffmpeg for mono little-endian float32 PCM at the target rate.
func (d *Decoder) decodeFFmpeg(ctx context.Context, path string) ([]float64, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	ffmpeg := d.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-ac", "1",
		"-ar", strconv.Itoa(d.SampleRate),
		"-f", "f32le",
		"pipe:1",
	)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, decodeErr(path, fmt.Errorf("ffmpeg decode: %w", ctx.Err()))
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, decodeErr(path, fmt.Errorf("ffmpeg decode failed: %w: %s", err, msg))
		}
		return nil, decodeErr(path, fmt.Errorf("ffmpeg decode failed: %w", err))
	}

	b := out.Bytes()
	if len(b)%4 != 0 {
		return nil, decodeErr(path, errors.New("unexpected ffmpeg float32le length"))
	}
	n := len(b) / 4
	if n == 0 {
		return nil, decodeErr(path, ErrNoSamples)
	}
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return samples, nil
}

// Resample converts samples from one rate to another with linear
// interpolation. Equal rates return the input unchanged.
func Resample(samples []float64, from, to int) []float64 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	outLen := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	if outLen < 1 {
		outLen = 1
	}
	step := float64(from) / float64(to)
	last := len(samples) - 1
	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) * step
		i0 := int(pos)
		if i0 >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(i0)
		out[i] = samples[i0]*(1-frac) + samples[i0+1]*frac
	}
	return out
}
