package setup

import (
	"context"
	"errors"
	"testing"
	"time"

	"foloup/candidate/internal/api"
	"foloup/candidate/internal/domain"
	"foloup/candidate/internal/media"
)

type mockCapturer struct {
	surface string
}

func (m *mockCapturer) GetDisplayMedia(ctx context.Context, c media.DisplayConstraints) (*media.Stream, error) {
	return media.NewStream(
		media.NewTrack(media.KindVideo, "screen", "", media.Settings{DisplaySurface: m.surface}),
		media.NewTrack(media.KindAudio, "system", "", media.Settings{}),
	), nil
}

func (m *mockCapturer) GetUserMedia(ctx context.Context, c media.UserConstraints) (*media.Stream, error) {
	return media.NewStream(
		media.NewTrack(media.KindVideo, "camera", "", media.Settings{}),
		media.NewTrack(media.KindAudio, "mic", "", media.Settings{}),
	), nil
}

type mockFrames struct {
	calls int
}

func (m *mockFrames) CaptureStill(ctx context.Context, s *media.Stream) (media.Blob, error) {
	m.calls++
	return media.Blob{Data: []byte{0xff, 0xd8, 0xff, 0xd9}, MimeType: "image/jpeg"}, nil
}

// mockBackend records image uploads.
type mockBackend struct {
	uploadErr error
	images    []domain.File
}

func (m *mockBackend) StartInterview(context.Context, string, string, string) (*domain.StartResponse, error) {
	return nil, nil
}
func (m *mockBackend) GetCurrentQuestion(context.Context, string) (*domain.Question, error) {
	return nil, nil
}
func (m *mockBackend) SubmitAnswer(context.Context, string, string, string) (*domain.SubmitResult, error) {
	return nil, nil
}
func (m *mockBackend) EndInterview(context.Context, string, string) error { return nil }
func (m *mockBackend) UpdateTabSwitchCount(context.Context, string, string, int) error {
	return nil
}
func (m *mockBackend) UploadCandidateVideo(context.Context, string, domain.File) error { return nil }
func (m *mockBackend) UploadCandidateImage(ctx context.Context, responseID string, file domain.File) error {
	m.images = append(m.images, file)
	return m.uploadErr
}

type mockNotifier struct {
	toasts []domain.Toast
}

func (m *mockNotifier) Notify(t domain.Toast) { m.toasts = append(m.toasts, t) }

func (m *mockNotifier) last() domain.Toast {
	if len(m.toasts) == 0 {
		return domain.Toast{}
	}
	return m.toasts[len(m.toasts)-1]
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newFlow(surface string) (*Flow, *mockBackend, *mockNotifier, *mockFrames, *fakeClock) {
	backend := &mockBackend{}
	notifier := &mockNotifier{}
	frames := &mockFrames{}
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	manager := media.NewManager(&mockCapturer{surface: surface}, notifier, true)
	f := New(backend, manager, frames, notifier, "resp-1", WithClock(clock.now))
	return f, backend, notifier, frames, clock
}

func TestProceed_RequiresBothStreams(t *testing.T) {
	f, _, notifier, _, _ := newFlow(media.SurfaceMonitor)

	if _, err := f.Proceed(); !errors.Is(err, ErrStreamsMissing) {
		t.Fatalf("expected ErrStreamsMissing, got %v", err)
	}
	if notifier.last().Message != media.MsgBothStreamsNeeded {
		t.Errorf("unexpected toast: %+v", notifier.last())
	}

	if err := f.ShareScreen(context.Background()); err != nil {
		t.Fatalf("ShareScreen: %v", err)
	}
	if _, err := f.Proceed(); !errors.Is(err, ErrStreamsMissing) {
		t.Fatal("expected camera to be required too")
	}

	if err := f.EnableCamera(context.Background()); err != nil {
		t.Fatalf("EnableCamera: %v", err)
	}
	streams, err := f.Proceed()
	if err != nil {
		t.Fatalf("Proceed: %v", err)
	}
	if !streams.Screen.Active() || !streams.Camera.Active() {
		t.Error("expected live streams to be handed over")
	}
}

func TestProceed_WindowShareStaysBlocked(t *testing.T) {
	f, _, _, _, _ := newFlow(media.SurfaceWindow)
	if err := f.ShareScreen(context.Background()); !errors.Is(err, media.ErrNotFullScreen) {
		t.Fatalf("expected ErrNotFullScreen, got %v", err)
	}
	f.EnableCamera(context.Background())
	if _, err := f.Proceed(); err == nil {
		t.Error("expected proceed to be refused")
	}
}

func TestCaptureStill_Cooldown(t *testing.T) {
	f, _, notifier, frames, clock := newFlow(media.SurfaceMonitor)
	if err := f.CaptureStill(context.Background()); err == nil {
		t.Fatal("expected capture without camera to fail")
	}
	if notifier.last().Message != msgCantCapture {
		t.Errorf("unexpected toast: %+v", notifier.last())
	}

	f.EnableCamera(context.Background())
	if err := f.CaptureStill(context.Background()); err != nil {
		t.Fatalf("CaptureStill: %v", err)
	}
	if notifier.last().Status != domain.ToastSuccess {
		t.Errorf("expected success toast, got %+v", notifier.last())
	}

	clock.t = clock.t.Add(time.Second)
	if err := f.CaptureStill(context.Background()); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}

	clock.t = clock.t.Add(3 * time.Second)
	if err := f.CaptureStill(context.Background()); err != nil {
		t.Fatalf("recapture after cooldown: %v", err)
	}
	if frames.calls != 2 {
		t.Errorf("frame grabs = %d, want 2", frames.calls)
	}
}

func TestUploadStill(t *testing.T) {
	f, backend, notifier, _, _ := newFlow(media.SurfaceMonitor)

	if err := f.UploadStill(context.Background()); !errors.Is(err, ErrNoStill) {
		t.Fatalf("expected ErrNoStill, got %v", err)
	}
	if notifier.last().Message != msgNoStill {
		t.Errorf("unexpected toast: %+v", notifier.last())
	}

	f.EnableCamera(context.Background())
	f.CaptureStill(context.Background())

	backend.uploadErr = &api.Error{Status: 413, Message: "Image too large"}
	if err := f.UploadStill(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	if notifier.last().Message != "Image too large" {
		t.Errorf("expected backend message, got %+v", notifier.last())
	}

	backend.uploadErr = nil
	if err := f.UploadStill(context.Background()); err != nil {
		t.Fatalf("UploadStill: %v", err)
	}
	got := backend.images[len(backend.images)-1]
	if got.Name != StillFileName || got.MimeType != "image/jpeg" || len(got.Data) == 0 {
		t.Errorf("unexpected upload: %+v", got)
	}
}

func TestDisableCamera_DropsStill(t *testing.T) {
	f, _, _, _, _ := newFlow(media.SurfaceMonitor)
	f.EnableCamera(context.Background())
	f.CaptureStill(context.Background())
	f.DisableCamera()

	if _, ok := f.Still(); ok {
		t.Error("expected still cleared")
	}
	if _, err := f.Proceed(); err == nil {
		t.Error("expected proceed refused without camera")
	}
}
