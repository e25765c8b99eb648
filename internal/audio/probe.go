package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/tcolgate/mp3"
)

// Info is what can be learned about an artifact without full decoding.
type Info struct {
	Duration time.Duration
	Title    string
	Artist   string
	Album    string
}

// ErrNoFrames is returned by Probe when an artifact has no playable audio.
var ErrNoFrames = errors.New("no audio frames")

// Probe reads the duration and any embedded tags of an artifact. Formats
// without a native duration reader report zero duration and no error.
func Probe(path string) (Info, error) {
	var info Info

	duration, err := probeDuration(path)
	if err != nil {
		return info, err
	}
	info.Duration = duration

	f, err := os.Open(path)
	if err != nil {
		return info, err
	}
	defer f.Close()

	// Missing tags are normal; only the duration check is fatal.
	if metadata, err := tag.ReadFrom(f); err == nil {
		info.Title = strings.TrimSpace(metadata.Title())
		info.Artist = strings.TrimSpace(metadata.Artist())
		info.Album = strings.TrimSpace(metadata.Album())
	}
	return info, nil
}

func probeDuration(path string) (time.Duration, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return durationMP3(path)
	case ".flac":
		return durationFLAC(path)
	case ".wav":
		return durationWAV(path)
	default:
		return 0, nil
	}
}

// durationMP3 sums decoded frame durations. A file with no decodable frame
// is rejected.
func durationMP3(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return 0, fmt.Errorf("%w: %v", ErrNoFrames, err)
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		frames++
	}
	if frames == 0 {
		return 0, ErrNoFrames
	}
	return total, nil
}

// durationFLAC reads STREAMINFO.
func durationFLAC(path string) (time.Duration, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		secs := float64(si.NSamples) / float64(si.SampleRate)
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// durationWAV estimates from the header and payload size.
func durationWAV(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return 0, fmt.Errorf("invalid wav header")
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	const headerSize = int64(44)
	pcmBytes := st.Size() - headerSize
	if pcmBytes <= 0 {
		return 0, ErrNoFrames
	}
	bytesPerSampleFrame := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if bytesPerSampleFrame <= 0 {
		return 0, fmt.Errorf("invalid sample frame size")
	}
	sampleFrames := pcmBytes / bytesPerSampleFrame
	secs := float64(sampleFrames) / float64(dec.SampleRate)
	return time.Duration(secs * float64(time.Second)), nil
}
