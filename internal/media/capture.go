package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"foloup/candidate/internal/domain"
)

var (
	ErrNotFullScreen    = errors.New("media: shared surface is not the entire screen")
	ErrNoSystemAudio    = errors.New("media: screen share has no system audio")
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrRecorderActive   = errors.New("media: recorder already active")
)

// Toast titles and messages shown for capture failures.
const (
	TitleValidation      = "Validation Error"
	TitleSomethingWrong  = "Something went wrong. Please try again."
	MsgNotFullScreen     = "You must choose **Entire Screen** (not Window/Tab)."
	MsgNoSystemAudio     = "You must enable **System Audio** when sharing your screen."
	MsgScreenDenied      = "Screen sharing permission denied."
	MsgCameraDenied      = "Camera or microphone permission denied."
	MsgMicDenied         = "Could not access microphone. Please check permissions."
	MsgBothStreamsNeeded = "Please allow both screen and camera access."
)

// DisplayConstraints is a screen capture request.
type DisplayConstraints struct {
	Surface     string
	SystemAudio bool
}

// UserConstraints is a camera/microphone capture request.
type UserConstraints struct {
	Video bool
	Audio bool
}

// Capturer grants capture streams.
type Capturer interface {
	GetDisplayMedia(ctx context.Context, c DisplayConstraints) (*Stream, error)
	GetUserMedia(ctx context.Context, c UserConstraints) (*Stream, error)
}

// FrameCapturer grabs a still image from a live video stream.
type FrameCapturer interface {
	CaptureStill(ctx context.Context, stream *Stream) (Blob, error)
}

// Manager owns the screen and camera streams for the session.
type Manager struct {
	capturer           Capturer
	notifier           domain.Notifier
	requireSystemAudio bool

	mu     sync.Mutex
	screen *Stream
	camera *Stream
}

// NewManager creates a capture manager.
func NewManager(capturer Capturer, notifier domain.Notifier, requireSystemAudio bool) *Manager {
	return &Manager{
		capturer:           capturer,
		notifier:           notifier,
		requireSystemAudio: requireSystemAudio,
	}
}

// AcquireScreenStream requests an entire-screen share with system audio.
// A stream with the wrong surface or without audio is stopped and rejected.
func (m *Manager) AcquireScreenStream(ctx context.Context) (*Stream, error) {
	stream, err := m.capturer.GetDisplayMedia(ctx, DisplayConstraints{
		Surface:     SurfaceMonitor,
		SystemAudio: true,
	})
	if err != nil {
		m.notify(TitleSomethingWrong, MsgScreenDenied)
		return nil, fmt.Errorf("get display media: %w: %v", ErrPermissionDenied, err)
	}

	if err := m.checkScreen(stream); err != nil {
		Release(stream)
		log.Printf("[media] screen share rejected: %v", err)
		if errors.Is(err, ErrNotFullScreen) {
			m.notify(TitleValidation, MsgNotFullScreen)
		} else {
			m.notify(TitleValidation, MsgNoSystemAudio)
		}
		return nil, err
	}

	m.mu.Lock()
	old := m.screen
	m.screen = stream
	m.mu.Unlock()
	if old != stream {
		Release(old)
	}

	log.Printf("[media] screen stream acquired: %s", stream.ID)
	return stream, nil
}

func (m *Manager) checkScreen(stream *Stream) error {
	video := stream.VideoTracks()
	if len(video) == 0 || video[0].Settings.DisplaySurface != SurfaceMonitor {
		return ErrNotFullScreen
	}
	if m.requireSystemAudio && len(stream.AudioTracks()) == 0 {
		return ErrNoSystemAudio
	}
	return nil
}

// AcquireCameraStream requests camera video and microphone audio.
func (m *Manager) AcquireCameraStream(ctx context.Context) (*Stream, error) {
	stream, err := m.capturer.GetUserMedia(ctx, UserConstraints{Video: true, Audio: true})
	if err != nil {
		m.notify(TitleSomethingWrong, MsgCameraDenied)
		return nil, fmt.Errorf("get user media: %w: %v", ErrPermissionDenied, err)
	}

	m.mu.Lock()
	old := m.camera
	m.camera = stream
	m.mu.Unlock()
	if old != stream {
		Release(old)
	}

	log.Printf("[media] camera stream acquired: %s", stream.ID)
	return stream, nil
}

// AcquireMicStream requests an audio-only stream for answer recording.
// The caller owns the returned stream.
func (m *Manager) AcquireMicStream(ctx context.Context) (*Stream, error) {
	stream, err := m.capturer.GetUserMedia(ctx, UserConstraints{Audio: true})
	if err != nil {
		m.notify(TitleSomethingWrong, MsgMicDenied)
		return nil, fmt.Errorf("get user media: %w: %v", ErrPermissionDenied, err)
	}
	if len(stream.AudioTracks()) == 0 {
		Release(stream)
		m.notify(TitleSomethingWrong, MsgMicDenied)
		return nil, fmt.Errorf("microphone stream has no audio: %w", ErrPermissionDenied)
	}
	return stream, nil
}

// Adopt takes ownership of streams acquired elsewhere.
func (m *Manager) Adopt(screen, camera *Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screen = screen
	m.camera = camera
}

// Screen returns the held screen stream, if any.
func (m *Manager) Screen() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen
}

// Camera returns the held camera stream, if any.
func (m *Manager) Camera() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera
}

// ReleaseScreen stops and forgets the screen stream.
func (m *Manager) ReleaseScreen() {
	m.mu.Lock()
	s := m.screen
	m.screen = nil
	m.mu.Unlock()
	Release(s)
}

// ReleaseCamera stops and forgets the camera stream.
func (m *Manager) ReleaseCamera() {
	m.mu.Lock()
	s := m.camera
	m.camera = nil
	m.mu.Unlock()
	Release(s)
}

// ReleaseAll stops both streams.
func (m *Manager) ReleaseAll() {
	m.ReleaseScreen()
	m.ReleaseCamera()
}

// CanProceed reports whether both streams are held and live.
func (m *Manager) CanProceed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen.Active() && m.camera.Active()
}

func (m *Manager) notify(title, msg string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(domain.Toast{Status: domain.ToastError, Title: title, Message: msg})
}
