package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// Opus granule positions are always in 48kHz samples.
const opusGranuleRate = 48000

// oggSource reads an Ogg/Opus file page by page. The identification page
// is the header; every later page is passed through untouched.
type oggSource struct {
	f      *os.File
	raw    bytes.Buffer
	reader *oggreader.OggReader
	header []byte
}

func openOgg(path string) (*oggSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ogg: %w", err)
	}
	s := &oggSource{f: f}

	reader, h, err := oggreader.NewWith(io.TeeReader(f, &s.raw))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse ogg header: %w", err)
	}
	s.reader = reader
	s.header = append([]byte(nil), s.raw.Bytes()...)
	s.raw.Reset()
	if h.Channels == 0 {
		f.Close()
		return nil, fmt.Errorf("parse ogg header: no channels")
	}
	return s, nil
}

func (s *oggSource) Header() []byte { return s.header }

func (s *oggSource) Next(stop <-chan struct{}) ([]byte, time.Duration, error) {
	select {
	case <-stop:
		return nil, 0, errSourceStopped
	default:
	}
	_, ph, err := s.reader.ParseNextPage()
	if err != nil {
		return nil, 0, err
	}
	at := time.Duration(ph.GranulePosition) * time.Second / opusGranuleRate
	page := append([]byte(nil), s.raw.Bytes()...)
	s.raw.Reset()
	return page, at, nil
}

func (s *oggSource) Close() error {
	return s.f.Close()
}
