package setup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"foloup/candidate/internal/api"
	"foloup/candidate/internal/domain"
	"foloup/candidate/internal/media"
	"foloup/candidate/internal/session"
)

var (
	ErrNoStill        = errors.New("setup: no image captured")
	ErrCooldown       = errors.New("setup: recapture not allowed yet")
	ErrStreamsMissing = errors.New("setup: screen and camera are both required")
)

const (
	StillFileName  = "candidate-image.jpg"
	stillMimeType  = "image/jpeg"
	titleSuccess   = "Success"
	msgCaptured    = "Image captured successfully!"
	msgUploaded    = "Image uploaded successfully!"
	msgNoStill     = "No image captured. Please capture an image first."
	msgCantCapture = "Unable to capture image. Please try again."
	msgCaptureFail = "Failed to capture image. Please try again."

	defaultCooldown = 3 * time.Second
)

// Flow is the pre-interview permission step. It gathers the screen and
// camera streams, takes a candidate still and hands the streams over to
// the live session.
type Flow struct {
	backend    domain.Backend
	media      *media.Manager
	frames     media.FrameCapturer
	notifier   domain.Notifier
	responseID string
	cooldown   time.Duration
	now        func() time.Time

	mu         sync.Mutex
	still      *domain.File
	capturedAt time.Time
}

// Option configures a Flow.
type Option func(*Flow)

// WithCooldown overrides the 3s recapture cooldown.
func WithCooldown(d time.Duration) Option {
	return func(f *Flow) { f.cooldown = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// New creates a setup flow for responseID.
func New(backend domain.Backend, manager *media.Manager, frames media.FrameCapturer, notifier domain.Notifier, responseID string, opts ...Option) *Flow {
	f := &Flow{
		backend:    backend,
		media:      manager,
		frames:     frames,
		notifier:   notifier,
		responseID: responseID,
		cooldown:   defaultCooldown,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ShareScreen asks for an entire-screen share with system audio.
func (f *Flow) ShareScreen(ctx context.Context) error {
	_, err := f.media.AcquireScreenStream(ctx)
	return err
}

// StopScreenShare drops the screen stream.
func (f *Flow) StopScreenShare() {
	f.media.ReleaseScreen()
}

// EnableCamera asks for camera and microphone access.
func (f *Flow) EnableCamera(ctx context.Context) error {
	_, err := f.media.AcquireCameraStream(ctx)
	return err
}

// DisableCamera drops the camera stream together with any captured still.
func (f *Flow) DisableCamera() {
	f.media.ReleaseCamera()
	f.mu.Lock()
	f.still = nil
	f.capturedAt = time.Time{}
	f.mu.Unlock()
}

// CaptureStill grabs a JPEG frame from the camera. A new capture is refused
// until the cooldown since the previous one has passed.
func (f *Flow) CaptureStill(ctx context.Context) error {
	camera := f.media.Camera()
	if camera == nil || f.responseID == "" {
		f.notify(domain.ToastError, media.TitleSomethingWrong, msgCantCapture)
		return fmt.Errorf("capture still: %w", ErrStreamsMissing)
	}

	f.mu.Lock()
	if f.still != nil && f.now().Sub(f.capturedAt) < f.cooldown {
		f.mu.Unlock()
		return ErrCooldown
	}
	f.mu.Unlock()

	blob, err := f.frames.CaptureStill(ctx, camera)
	if err != nil || blob.Len() == 0 {
		f.notify(domain.ToastError, media.TitleSomethingWrong, msgCaptureFail)
		if err == nil {
			err = errors.New("empty frame")
		}
		return fmt.Errorf("capture still: %w", err)
	}

	f.mu.Lock()
	f.still = &domain.File{Name: StillFileName, MimeType: stillMimeType, Data: blob.Data}
	f.capturedAt = f.now()
	f.mu.Unlock()

	log.Printf("[setup] still captured (%d bytes)", blob.Len())
	f.notify(domain.ToastSuccess, titleSuccess, msgCaptured)
	return nil
}

// Still returns the captured image, if any.
func (f *Flow) Still() (domain.File, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.still == nil {
		return domain.File{}, false
	}
	return *f.still, true
}

// UploadStill sends the captured image to the backend.
func (f *Flow) UploadStill(ctx context.Context) error {
	file, ok := f.Still()
	if !ok || f.responseID == "" {
		f.notify(domain.ToastError, media.TitleSomethingWrong, msgNoStill)
		return ErrNoStill
	}
	if err := f.backend.UploadCandidateImage(ctx, f.responseID, file); err != nil {
		f.notify(domain.ToastError, media.TitleSomethingWrong, api.Message(err))
		return fmt.Errorf("upload still: %w", err)
	}
	log.Printf("[setup] still uploaded")
	f.notify(domain.ToastSuccess, titleSuccess, msgUploaded)
	return nil
}

// Proceed hands both live streams to the interview session.
func (f *Flow) Proceed() (session.Streams, error) {
	screen, camera := f.media.Screen(), f.media.Camera()
	if !screen.Active() || !camera.Active() {
		f.notify(domain.ToastError, media.TitleValidation, media.MsgBothStreamsNeeded)
		return session.Streams{}, ErrStreamsMissing
	}
	return session.Streams{Screen: screen, Camera: camera}, nil
}

func (f *Flow) notify(status, title, msg string) {
	if f.notifier == nil {
		return
	}
	f.notifier.Notify(domain.Toast{Status: status, Title: title, Message: msg})
}
