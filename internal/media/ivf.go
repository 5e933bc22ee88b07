package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// ivfSource reads an IVF file frame by frame, keeping the exact bytes of
// each frame header and payload so the output stays a valid IVF stream.
type ivfSource struct {
	f      *os.File
	raw    bytes.Buffer
	reader *ivfreader.IVFReader
	header []byte
	fourCC string
	num    uint64
	den    uint64
}

func openIVF(path string) (*ivfSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ivf: %w", err)
	}
	s := &ivfSource{f: f}

	reader, h, err := ivfreader.NewWith(io.TeeReader(f, &s.raw))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse ivf header: %w", err)
	}
	s.reader = reader
	s.header = s.take()
	s.fourCC = h.FourCC
	s.num = uint64(h.TimebaseNumerator)
	s.den = uint64(h.TimebaseDenominator)
	if s.num == 0 || s.den == 0 {
		s.num, s.den = 1, 30
	}
	return s, nil
}

func (s *ivfSource) take() []byte {
	out := append([]byte(nil), s.raw.Bytes()...)
	s.raw.Reset()
	return out
}

func (s *ivfSource) Header() []byte { return s.header }

func (s *ivfSource) Next(stop <-chan struct{}) ([]byte, time.Duration, error) {
	select {
	case <-stop:
		return nil, 0, errSourceStopped
	default:
	}
	_, fh, err := s.reader.ParseNextFrame()
	if err != nil {
		return nil, 0, err
	}
	at := time.Duration(fh.Timestamp*s.num) * time.Second / time.Duration(s.den)
	return s.take(), at, nil
}

func (s *ivfSource) Close() error {
	return s.f.Close()
}

// ivfMimeType names the IVF container with its codec.
func ivfMimeType(fourCC string) string {
	switch strings.ToUpper(strings.TrimSpace(fourCC)) {
	case "VP80":
		return "video/x-ivf;codecs=vp8"
	case "VP90":
		return "video/x-ivf;codecs=vp9"
	case "AV01":
		return "video/x-ivf;codecs=av1"
	default:
		return "video/x-ivf"
	}
}

func detectIVF(path string) (string, error) {
	s, err := openIVF(path)
	if err != nil {
		return "", err
	}
	defer s.Close()
	return ivfMimeType(s.fourCC), nil
}
