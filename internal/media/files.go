package media

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// StillQuality is the JPEG quality used for captured stills.
const StillQuality = 95

// FileCapturer grants streams backed by local media files.
type FileCapturer struct {
	Screen      string
	Surface     string
	SystemAudio bool
	Camera      string
	Mic         string
}

func (c *FileCapturer) GetDisplayMedia(ctx context.Context, dc DisplayConstraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Screen == "" {
		return nil, fmt.Errorf("no screen source configured")
	}
	if _, err := os.Stat(c.Screen); err != nil {
		return nil, fmt.Errorf("screen source: %w", err)
	}
	surface := c.Surface
	if surface == "" {
		surface = dc.Surface
	}

	tracks := []*Track{NewTrack(KindVideo, "screen", c.Screen, Settings{DisplaySurface: surface})}
	if dc.SystemAudio && c.SystemAudio {
		tracks = append(tracks, NewTrack(KindAudio, "system audio", c.Screen, Settings{}))
	}
	return NewStream(tracks...), nil
}

func (c *FileCapturer) GetUserMedia(ctx context.Context, uc UserConstraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tracks []*Track
	if uc.Video {
		if c.Camera == "" {
			return nil, fmt.Errorf("no camera source configured")
		}
		if _, err := os.Stat(c.Camera); err != nil {
			return nil, fmt.Errorf("camera source: %w", err)
		}
		tracks = append(tracks, NewTrack(KindVideo, "camera", c.Camera, Settings{}))
	}
	if uc.Audio {
		if c.Mic == "" {
			return nil, fmt.Errorf("no microphone source configured")
		}
		if _, err := os.Stat(c.Mic); err != nil {
			return nil, fmt.Errorf("microphone source: %w", err)
		}
		tracks = append(tracks, NewTrack(KindAudio, "microphone", c.Mic, Settings{}))
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no tracks requested")
	}
	return NewStream(tracks...), nil
}

// FileRecorderFactory records file-backed streams. The requested mime type
// is a preference; recorders report the container they actually produce.
type FileRecorderFactory struct{}

var fileRecorderTypes = []string{
	"video/webm",
	"video/mp4",
	"video/x-ivf",
	"audio/webm",
	"audio/ogg",
	"audio/wav",
}

func (FileRecorderFactory) IsTypeSupported(mimeType string) bool {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	for _, t := range fileRecorderTypes {
		if t == base {
			return true
		}
	}
	return false
}

// NewRecorder picks a recorder from the first track's source: a directory
// of segments, an IVF file, an Ogg/Opus file or a WAV file.
func (FileRecorderFactory) NewRecorder(stream *Stream, opts RecorderOptions) (Recorder, error) {
	if stream == nil || len(stream.Tracks()) == 0 {
		return nil, fmt.Errorf("new recorder: empty stream")
	}
	track := stream.VideoTracks()
	if len(track) == 0 {
		track = stream.AudioTracks()
	}
	t := track[0]

	info, err := os.Stat(t.Source)
	if err != nil {
		return nil, fmt.Errorf("new recorder: %w", err)
	}

	var (
		mimeType string
		open     func(time.Duration) (frameSource, error)
		perFrame bool
	)
	switch ext := strings.ToLower(filepath.Ext(t.Source)); {
	case info.IsDir():
		mimeType = segmentMimeType(t.Source)
		open = func(time.Duration) (frameSource, error) { return openSegments(t.Source) }
	case ext == ".ivf":
		mimeType, err = detectIVF(t.Source)
		if err != nil {
			return nil, fmt.Errorf("new recorder: %w", err)
		}
		open = func(time.Duration) (frameSource, error) { return openIVF(t.Source) }
	case ext == ".ogg" || ext == ".opus":
		mimeType = "audio/ogg;codecs=opus"
		open = func(time.Duration) (frameSource, error) { return openOgg(t.Source) }
	case ext == ".wav":
		mimeType = "audio/wav"
		perFrame = true
		open = func(ts time.Duration) (frameSource, error) { return openWAV(t.Source, ts) }
	default:
		return nil, fmt.Errorf("new recorder: unsupported source %s", t.Source)
	}

	if opts.MimeType != "" && opts.MimeType != mimeType {
		log.Printf("[media] recording %s as %s (requested %s)", t.Source, mimeType, opts.MimeType)
	}
	r := newPacedRecorder(mimeType, t, opts, open)
	r.emitPerFrame = perFrame
	return r, nil
}

// FileFrameCapturer takes stills from a JPEG file standing in for the camera.
type FileFrameCapturer struct {
	Path string
}

// CaptureStill decodes the still and re-encodes it as a JPEG.
func (c *FileFrameCapturer) CaptureStill(ctx context.Context, stream *Stream) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}
	if stream == nil || len(stream.VideoTracks()) == 0 || stream.VideoTracks()[0].Stopped() {
		return Blob{}, fmt.Errorf("capture still: no live video track")
	}
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		return Blob{}, fmt.Errorf("capture still: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return Blob{}, fmt.Errorf("capture still: decode: %w", err)
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: StillQuality}); err != nil {
		return Blob{}, fmt.Errorf("capture still: encode: %w", err)
	}
	return Blob{Data: out.Bytes(), MimeType: "image/jpeg"}, nil
}

// FilePlayer "plays" synthesized audio by writing it into a directory.
type FilePlayer struct {
	Dir string

	mu sync.Mutex
	n  int
}

func (p *FilePlayer) Play(ctx context.Context, audio []byte, mimeType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("create tts dir: %w", err)
	}
	p.mu.Lock()
	p.n++
	name := fmt.Sprintf("question-%03d.%s", p.n, Extension(mimeType))
	p.mu.Unlock()

	path := filepath.Join(p.Dir, name)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return fmt.Errorf("write tts audio: %w", err)
	}
	log.Printf("[media] question audio written to %s (%d bytes)", path, len(audio))
	return nil
}
