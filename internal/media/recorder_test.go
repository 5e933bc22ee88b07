package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/youpy/go-wav"
)

type staticFactory map[string]bool

func (f staticFactory) IsTypeSupported(mt string) bool { return f[mt] }
func (f staticFactory) NewRecorder(*Stream, RecorderOptions) (Recorder, error) {
	return nil, nil
}

func TestNegotiate(t *testing.T) {
	candidates := []string{"video/webm;codecs=vp9,opus", "video/webm"}

	if got := Negotiate(staticFactory{"video/webm;codecs=vp9,opus": true}, candidates); got != candidates[0] {
		t.Errorf("preferred: got %q", got)
	}
	if got := Negotiate(staticFactory{}, candidates); got != "video/webm" {
		t.Errorf("baseline: got %q", got)
	}
	if got := Negotiate(staticFactory{}, nil); got != "" {
		t.Errorf("empty: got %q", got)
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"video/webm;codecs=vp9,opus": "webm",
		"video/mp4":                  "mp4",
		"video/x-ivf;codecs=vp8":     "ivf",
		"audio/ogg;codecs=opus":      "ogg",
		"audio/wav":                  "wav",
		"audio/mpeg":                 "mp3",
		"":                           "webm",
	}
	for in, want := range cases {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileRecorderFactory_IsTypeSupported(t *testing.T) {
	f := FileRecorderFactory{}
	if !f.IsTypeSupported("video/webm;codecs=vp9,opus") {
		t.Error("expected webm with codecs to be supported")
	}
	if f.IsTypeSupported("video/quicktime") {
		t.Error("expected quicktime to be unsupported")
	}
}

// collector gathers recorder output.
type collector struct {
	mu      sync.Mutex
	blobs   []Blob
	stopped chan struct{}
}

func newCollector() *collector {
	return &collector{stopped: make(chan struct{})}
}

func (c *collector) options(mime string) RecorderOptions {
	return RecorderOptions{
		MimeType: mime,
		OnData: func(b Blob) {
			c.mu.Lock()
			c.blobs = append(c.blobs, b)
			c.mu.Unlock()
		},
		OnStop: func() { close(c.stopped) },
	}
}

func (c *collector) joined() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for _, b := range c.blobs {
		out = append(out, b.Data...)
	}
	return out
}

func (c *collector) nonEmpty() []Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Blob
	for _, b := range c.blobs {
		if len(b.Data) > 0 {
			out = append(out, b)
		}
	}
	return out
}

func (c *collector) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case <-c.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not stop")
	}
}

func writeIVF(t *testing.T, frames int, step time.Duration) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:], 64)
	binary.LittleEndian.PutUint16(header[14:], 48)
	binary.LittleEndian.PutUint32(header[16:], 1000)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(frames))
	buf.Write(header)

	for i := 0; i < frames; i++ {
		payload := bytes.Repeat([]byte{byte(i + 1)}, 100+i)
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(payload)))
		binary.LittleEndian.PutUint64(fh[4:], uint64(time.Duration(i)*step/time.Millisecond))
		buf.Write(fh)
		buf.Write(payload)
	}

	path := filepath.Join(t.TempDir(), "screen.ivf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, buf.Bytes()
}

func TestIVFRecorder_ReplaysWholeFile(t *testing.T) {
	path, want := writeIVF(t, 8, 10*time.Millisecond)
	stream := NewStream(NewTrack(KindVideo, "screen", path, Settings{DisplaySurface: SurfaceMonitor}))

	c := newCollector()
	rec, err := FileRecorderFactory{}.NewRecorder(stream, c.options("video/webm"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.MimeType() != "video/x-ivf;codecs=vp8" {
		t.Errorf("mime = %q", rec.MimeType())
	}
	if err := rec.Start(20 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if rec.State() != StateRecording {
		t.Errorf("state = %s", rec.State())
	}
	if err := rec.Start(20 * time.Millisecond); err == nil {
		t.Error("expected second start to fail")
	}

	c.waitStopped(t)
	if rec.State() != StateInactive {
		t.Errorf("state after end = %s", rec.State())
	}
	if got := c.joined(); !bytes.Equal(got, want) {
		t.Errorf("replayed %d bytes, want %d identical bytes", len(got), len(want))
	}
	if first := c.nonEmpty()[0].Data; !bytes.HasPrefix(first, []byte("DKIF")) {
		t.Error("expected first chunk to carry the container header")
	}
}

func TestIVFRecorder_RequestDataAndStop(t *testing.T) {
	path, want := writeIVF(t, 50, 40*time.Millisecond)
	stream := NewStream(NewTrack(KindVideo, "screen", path, Settings{}))

	c := newCollector()
	rec, err := FileRecorderFactory{}.NewRecorder(stream, c.options(""))
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Start(time.Hour); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	rec.RequestData()
	if len(c.nonEmpty()) != 1 {
		t.Fatalf("expected one chunk after RequestData, got %d", len(c.nonEmpty()))
	}

	rec.Stop()
	c.waitStopped(t)
	rec.Stop()

	got := c.joined()
	if len(got) == 0 || len(got) >= len(want) {
		t.Errorf("expected a partial recording, got %d of %d bytes", len(got), len(want))
	}
	if !bytes.Equal(got, want[:len(got)]) {
		t.Error("expected recording to be a prefix of the source")
	}
}

func TestRecorder_StopsWhenTrackEnds(t *testing.T) {
	path, _ := writeIVF(t, 50, 40*time.Millisecond)
	track := NewTrack(KindVideo, "screen", path, Settings{})
	stream := NewStream(track)

	c := newCollector()
	rec, err := FileRecorderFactory{}.NewRecorder(stream, c.options(""))
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Start(time.Second); err != nil {
		t.Fatal(err)
	}
	Release(stream)
	c.waitStopped(t)
}

func TestWAVRecorder_EmitsStandaloneFrames(t *testing.T) {
	const rate = 8000
	samples := make([]wav.Sample, rate/2)
	for i := range samples {
		samples[i].Values[0] = i % 100
	}
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(samples)), 1, rate, 16)
	if err := w.WriteSamples(samples); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "mic.wav")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	stream := NewStream(NewTrack(KindAudio, "microphone", path, Settings{}))
	c := newCollector()
	rec, err := FileRecorderFactory{}.NewRecorder(stream, c.options("audio/webm;codecs=opus"))
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Start(100 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	c.waitStopped(t)

	blobs := c.nonEmpty()
	if len(blobs) < 5 {
		t.Fatalf("expected at least 5 frames of 100ms, got %d", len(blobs))
	}
	total := 0
	for i, b := range blobs {
		r := wav.NewReader(bytes.NewReader(b.Data))
		format, err := r.Format()
		if err != nil {
			t.Fatalf("frame %d is not a wav file: %v", i, err)
		}
		if format.SampleRate != rate {
			t.Errorf("frame %d rate = %d", i, format.SampleRate)
		}
		got, err := r.ReadSamples(rate)
		if err != nil {
			t.Fatalf("frame %d samples: %v", i, err)
		}
		total += len(got)
	}
	if total != len(samples) {
		t.Errorf("decoded %d samples, want %d", total, len(samples))
	}
}

func TestSegmentRecorder_EmitsCompletedSegments(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("seg-000.webm", "AAAA")

	stream := NewStream(NewTrack(KindVideo, "screen", dir, Settings{}))
	c := newCollector()
	rec, err := FileRecorderFactory{}.NewRecorder(stream, c.options(""))
	if err != nil {
		t.Fatal(err)
	}
	if rec.MimeType() != "video/webm" {
		t.Errorf("mime = %q", rec.MimeType())
	}
	if err := rec.Start(20 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	write("seg-001.webm", "BBBB")

	deadline := time.Now().Add(3 * time.Second)
	for string(c.joined()) != "AAAA" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := string(c.joined()); got != "AAAA" {
		t.Fatalf("expected first segment once the second appeared, got %q", got)
	}

	rec.Stop()
	c.waitStopped(t)
	if got := string(c.joined()); got != "AAAABBBB" {
		t.Errorf("expected last segment on stop, got %q", got)
	}
}

func TestFileFrameCapturer_ReencodesJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "still.jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	fc := &FileFrameCapturer{Path: path}
	blob, err := fc.CaptureStill(context.Background(), cameraStream())
	if err != nil {
		t.Fatal(err)
	}
	if blob.MimeType != "image/jpeg" {
		t.Errorf("mime = %q", blob.MimeType)
	}
	if _, err := jpeg.Decode(bytes.NewReader(blob.Data)); err != nil {
		t.Errorf("still is not a jpeg: %v", err)
	}

	stopped := cameraStream()
	Release(stopped)
	if _, err := fc.CaptureStill(context.Background(), stopped); err == nil {
		t.Error("expected error for a stopped camera")
	}
}

func TestFilePlayer_WritesNumberedFiles(t *testing.T) {
	dir := t.TempDir()
	p := &FilePlayer{Dir: dir}
	for i := 0; i < 2; i++ {
		if err := p.Play(context.Background(), []byte("ID3"), "audio/mpeg"); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"question-001.mp3", "question-002.mp3"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}
