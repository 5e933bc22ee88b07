package media

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/youpy/go-wav"
)

const minWAVFrame = 20 * time.Millisecond

// wavSource cuts a PCM WAV file into frames of one timeslice each and
// re-encodes every frame as a standalone WAV file.
type wavSource struct {
	f        *os.File
	reader   *wav.Reader
	format   *wav.WavFormat
	perFrame uint32
	read     uint64
}

func openWAV(path string, frame time.Duration) (*wavSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse wav format: %w", err)
	}
	if format.SampleRate == 0 || format.NumChannels == 0 {
		f.Close()
		return nil, fmt.Errorf("parse wav format: empty format")
	}
	if frame < minWAVFrame {
		frame = minWAVFrame
	}
	perFrame := uint32(uint64(format.SampleRate) * uint64(frame) / uint64(time.Second))
	if perFrame == 0 {
		perFrame = 1
	}
	return &wavSource{f: f, reader: reader, format: format, perFrame: perFrame}, nil
}

func (s *wavSource) Header() []byte { return nil }

func (s *wavSource) Next(stop <-chan struct{}) ([]byte, time.Duration, error) {
	select {
	case <-stop:
		return nil, 0, errSourceStopped
	default:
	}
	samples, err := s.reader.ReadSamples(s.perFrame)
	if err != nil {
		return nil, 0, err
	}
	at := time.Duration(s.read) * time.Second / time.Duration(s.format.SampleRate)
	s.read += uint64(len(samples))

	data, err := encodeWAV(samples, s.format)
	if err != nil {
		return nil, 0, err
	}
	return data, at, nil
}

func (s *wavSource) Close() error {
	return s.f.Close()
}

func encodeWAV(samples []wav.Sample, format *wav.WavFormat) ([]byte, error) {
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(samples)), format.NumChannels, format.SampleRate, format.BitsPerSample)
	if err := w.WriteSamples(samples); err != nil {
		return nil, fmt.Errorf("encode wav frame: %w", err)
	}
	return buf.Bytes(), nil
}
