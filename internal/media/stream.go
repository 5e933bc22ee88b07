package media

import (
	"sync"

	"github.com/google/uuid"
)

// Track kinds.
const (
	KindVideo = "video"
	KindAudio = "audio"
)

// Display surfaces reported by screen capture.
const (
	SurfaceMonitor = "monitor"
	SurfaceWindow  = "window"
	SurfaceBrowser = "browser"
)

// Settings describes what a track is actually producing.
type Settings struct {
	DisplaySurface string
	Width          int
	Height         int
	SampleRate     int
}

// Track is one capture source. Source names the backing file or directory.
type Track struct {
	Kind     string
	Label    string
	Source   string
	Settings Settings

	mu      sync.Mutex
	stopped bool
	onStop  []func()
}

// NewTrack creates a live track.
func NewTrack(kind, label, source string, settings Settings) *Track {
	return &Track{Kind: kind, Label: label, Source: source, Settings: settings}
}

// Stop ends the track. Stopping twice is a no-op.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	hooks := t.onStop
	t.onStop = nil
	t.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// OnStop registers fn to run when the track ends. If it has already ended
// fn runs immediately.
func (t *Track) OnStop(fn func()) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		fn()
		return
	}
	t.onStop = append(t.onStop, fn)
	t.mu.Unlock()
}

// Stream groups the tracks returned by one capture request.
type Stream struct {
	ID     string
	tracks []*Track
}

// NewStream wraps tracks in a stream with a fresh id.
func NewStream(tracks ...*Track) *Stream {
	return &Stream{ID: uuid.NewString(), tracks: tracks}
}

// Tracks returns every track.
func (s *Stream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

// VideoTracks returns the video tracks.
func (s *Stream) VideoTracks() []*Track {
	return s.byKind(KindVideo)
}

// AudioTracks returns the audio tracks.
func (s *Stream) AudioTracks() []*Track {
	return s.byKind(KindAudio)
}

func (s *Stream) byKind(kind string) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Active reports whether any track is still live.
func (s *Stream) Active() bool {
	if s == nil {
		return false
	}
	for _, t := range s.tracks {
		if !t.Stopped() {
			return true
		}
	}
	return false
}

// Release stops every track of s. It is safe on a nil or stopped stream.
func Release(s *Stream) {
	if s == nil {
		return
	}
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Blob is one piece of recorded media.
type Blob struct {
	Data     []byte
	MimeType string
}

// Len returns the size of the blob in bytes.
func (b Blob) Len() int {
	return len(b.Data)
}
