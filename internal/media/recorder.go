package media

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

// RecorderState mirrors the MediaRecorder lifecycle.
type RecorderState string

const (
	StateInactive  RecorderState = "inactive"
	StateRecording RecorderState = "recording"
	StatePaused    RecorderState = "paused"
)

// RecorderOptions configures a recorder. OnData may receive empty blobs.
type RecorderOptions struct {
	MimeType string
	OnData   func(Blob)
	OnStop   func()
}

// Recorder turns a live stream into timed blobs.
type Recorder interface {
	Start(timeslice time.Duration) error
	RequestData()
	Pause()
	Resume()
	Stop()
	State() RecorderState
	MimeType() string
}

// RecorderFactory creates recorders and reports container support.
type RecorderFactory interface {
	IsTypeSupported(mimeType string) bool
	NewRecorder(stream *Stream, opts RecorderOptions) (Recorder, error)
}

// Negotiate returns the first supported candidate, or the last one as the baseline.
func Negotiate(f RecorderFactory, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	for _, mt := range candidates {
		if f.IsTypeSupported(mt) {
			return mt
		}
	}
	return candidates[len(candidates)-1]
}

// Extension maps a recorded mime type to a file extension.
func Extension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mp4"):
		return "mp4"
	case strings.Contains(mimeType, "x-ivf"):
		return "ivf"
	case strings.Contains(mimeType, "ogg"):
		return "ogg"
	case strings.Contains(mimeType, "wav"):
		return "wav"
	case strings.Contains(mimeType, "mpeg"):
		return "mp3"
	default:
		return "webm"
	}
}

var errSourceStopped = errors.New("media: source stopped")

// frameSource yields container frames with their media timestamps.
// Next may block until stop is closed.
type frameSource interface {
	Header() []byte
	Next(stop <-chan struct{}) ([]byte, time.Duration, error)
	Close() error
}

// drainer is implemented by sources holding data that only completes on stop.
type drainer interface {
	Drain() []byte
}

// pacedRecorder replays a frameSource in real time, buffering frames and
// emitting them every timeslice.
type pacedRecorder struct {
	mimeType     string
	opts         RecorderOptions
	open         func(timeslice time.Duration) (frameSource, error)
	emitPerFrame bool
	track        *Track

	mu      sync.Mutex
	state   RecorderState
	started bool
	buf     []byte
	src     frameSource
	stop    chan struct{}
	done    chan struct{}

	emitMu   sync.Mutex
	stopOnce sync.Once
}

func newPacedRecorder(mimeType string, track *Track, opts RecorderOptions, open func(time.Duration) (frameSource, error)) *pacedRecorder {
	return &pacedRecorder{
		mimeType: mimeType,
		opts:     opts,
		open:     open,
		track:    track,
		state:    StateInactive,
	}
}

func (r *pacedRecorder) MimeType() string { return r.mimeType }

func (r *pacedRecorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *pacedRecorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrRecorderActive
	}
	if r.track != nil && r.track.Stopped() {
		r.mu.Unlock()
		return fmt.Errorf("start recorder: track %q has ended", r.track.Label)
	}
	src, err := r.open(timeslice)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("open source: %w", err)
	}
	r.started = true
	r.src = src
	r.buf = append(r.buf[:0], src.Header()...)
	r.state = StateRecording
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop := r.stop
	r.mu.Unlock()

	go r.readLoop(src, stop)
	if timeslice > 0 && !r.emitPerFrame {
		go r.tickLoop(timeslice, stop)
	}
	if r.track != nil {
		r.track.OnStop(func() { go r.Stop() })
	}
	log.Printf("[media] recorder started: %s timeslice=%s", r.mimeType, timeslice)
	return nil
}

func (r *pacedRecorder) readLoop(src frameSource, stop chan struct{}) {
	defer close(r.done)

	begin := time.Now()
	for {
		frame, at, err := src.Next(stop)
		if err != nil {
			if errors.Is(err, errSourceStopped) {
				return
			}
			if !errors.Is(err, io.EOF) {
				log.Printf("[media] read %s: %v", r.mimeType, err)
			}
			go r.Stop()
			return
		}

		if wait := time.Until(begin.Add(at)); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-stop:
				t.Stop()
				r.append(frame)
				return
			case <-t.C:
			}
		}

		if r.State() == StatePaused {
			continue
		}
		r.append(frame)
		if r.emitPerFrame {
			r.flush(false)
		}
	}
}

func (r *pacedRecorder) append(frame []byte) {
	r.mu.Lock()
	r.buf = append(r.buf, frame...)
	r.mu.Unlock()
}

func (r *pacedRecorder) tickLoop(timeslice time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if r.State() == StateRecording {
				r.flush(false)
			}
		}
	}
}

// flush hands buffered data to OnData. force emits even an empty blob.
func (r *pacedRecorder) flush(force bool) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	data := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(data) == 0 && !force {
		return
	}
	if r.opts.OnData != nil {
		r.opts.OnData(Blob{Data: data, MimeType: r.mimeType})
	}
}

func (r *pacedRecorder) RequestData() {
	if r.State() != StateRecording {
		return
	}
	r.flush(true)
}

func (r *pacedRecorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording {
		r.state = StatePaused
	}
}

func (r *pacedRecorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StatePaused {
		r.state = StateRecording
	}
}

// Stop ends recording, flushes what is buffered and reaches inactive.
func (r *pacedRecorder) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.stopOnce.Do(func() {
		r.mu.Lock()
		stop, done, src := r.stop, r.done, r.src
		r.mu.Unlock()

		close(stop)
		<-done

		if d, ok := src.(drainer); ok {
			r.append(d.Drain())
		}
		if err := src.Close(); err != nil {
			log.Printf("[media] close source: %v", err)
		}
		r.flush(false)

		r.mu.Lock()
		r.state = StateInactive
		r.mu.Unlock()

		log.Printf("[media] recorder stopped: %s", r.mimeType)
		if r.opts.OnStop != nil {
			r.opts.OnStop()
		}
	})
}
