package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"foloup/candidate/internal/api"
	"foloup/candidate/internal/domain"
	"foloup/candidate/internal/media"
	"foloup/candidate/internal/monitor"
	"foloup/candidate/internal/timer"
)

// Toast copy used by the live session.
const (
	TitleNetwork       = "Network error. Please check your connection."
	MsgSessionInactive = "STT session not active yet. Please wait a moment."
	MsgNotConnected    = "Socket not connected yet. Please wait a moment and try again."
	MsgNoResponseID    = "No response id available."
	MsgHandshakeFailed = "Could not start the transcription session."
	MsgStartFailed     = "Failed to initialize interview"

	ttsMimeType       = "audio/mpeg"
	defaultCandidate  = "Candidate"
	defaultEndAckWait = 2 * time.Second
)

// Deps are the collaborators the controller drives.
type Deps struct {
	Backend    domain.Backend
	Media      *media.Manager
	Recorders  media.RecorderFactory
	Navigator  domain.Navigator
	Notifier   domain.Notifier
	Player     domain.AudioPlayer
	Visibility monitor.VisibilitySource
}

// Options configures one interview session.
type Options struct {
	InterviewID    string
	ResponseID     string
	CandidateName  string
	CandidateEmail string

	// DurationMinutes is used when the backend does not report a duration.
	DurationMinutes int
	Streams         Streams

	AudioTimeslice time.Duration
	AudioMimeTypes []string
	EndAckWait     time.Duration
	TimerInterval  time.Duration
}

// Controller runs the question loop of a live interview and its teardown.
type Controller struct {
	deps Deps
	opts Options

	ch   domain.Channel
	pipe ScreenPipeline

	timer   *timer.Timer
	monitor *monitor.TabSwitchMonitor

	ctx     context.Context
	loading atomic.Int32

	mu           sync.Mutex
	responseID   string
	question     domain.Question
	transcript   string
	partial      string
	conversation []domain.ConversationEntry
	mic          media.Recorder
	micStream    *media.Stream

	submitting  atomic.Bool
	terminating atomic.Bool
	done        chan struct{}
}

// New creates a controller. SetChannel must be called before Run.
func New(deps Deps, opts Options) *Controller {
	if opts.AudioTimeslice <= 0 {
		opts.AudioTimeslice = 250 * time.Millisecond
	}
	if opts.EndAckWait <= 0 {
		opts.EndAckWait = defaultEndAckWait
	}
	c := &Controller{
		deps: deps,
		opts: opts,
		ctx:  context.Background(),
		done: make(chan struct{}),
	}

	timerOpts := []timer.Option{}
	if opts.TimerInterval > 0 {
		timerOpts = append(timerOpts, timer.WithInterval(opts.TimerInterval))
	}
	c.timer = timer.New(func() {
		go c.Terminate(c.ctx, ReasonTimeUp)
	}, timerOpts...)
	return c
}

// SetChannel wires the realtime channel and the screen pipeline. Both are
// built after the controller because the channel reports back to it.
func (c *Controller) SetChannel(ch domain.Channel, pipe ScreenPipeline) {
	c.ch = ch
	c.pipe = pipe
}

// Run starts the interview: start-interview, countdown, tab monitor,
// realtime connect and the first question.
func (c *Controller) Run(ctx context.Context) error {
	if c.ch == nil || c.pipe == nil {
		return errors.New("session: channel not set")
	}
	c.ctx = ctx
	c.loading.Add(1)
	defer c.loading.Add(-1)

	name := c.candidateName()
	resp, err := c.deps.Backend.StartInterview(ctx, c.opts.InterviewID, name, c.opts.CandidateEmail)
	if err != nil {
		c.notify(media.TitleSomethingWrong, api.Message(err))
		return fmt.Errorf("start interview: %w", err)
	}

	responseID := c.opts.ResponseID
	if responseID == "" {
		responseID = resp.ResponseID
	}
	if responseID == "" {
		c.notify(media.TitleSomethingWrong, MsgStartFailed)
		return ErrNoResponseID
	}
	c.mu.Lock()
	c.responseID = responseID
	c.mu.Unlock()
	log.Printf("[session] interview started: response=%s", responseID)

	if c.deps.Visibility != nil {
		m := monitor.New(c.deps.Visibility, nil)
		c.mu.Lock()
		c.monitor = m
		c.mu.Unlock()
	}

	minutes := resp.DurationMinutes
	if minutes <= 0 {
		minutes = c.opts.DurationMinutes
	}
	c.timer.Seed(minutes * 60)

	if err := c.ch.Connect(ctx); err != nil {
		log.Printf("[session] realtime connect failed: %v", err)
		c.notify(TitleNetwork, err.Error())
	}

	q, err := c.deps.Backend.GetCurrentQuestion(ctx, responseID)
	if err != nil {
		log.Printf("[session] fetch first question failed: %v", err)
		c.notify(media.TitleSomethingWrong, api.Message(err))
		return nil
	}
	if q.Complete {
		log.Printf("[session] interview already complete")
		return c.Terminate(ctx, ReasonCompleted)
	}
	c.presentQuestion(q)
	return nil
}

func (c *Controller) candidateName() string {
	switch {
	case c.opts.CandidateName != "":
		return c.opts.CandidateName
	case c.opts.CandidateEmail != "":
		return c.opts.CandidateEmail
	default:
		return defaultCandidate
	}
}

func (c *Controller) currentResponseID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseID
}

// establish runs the handshake. The screen recorder is started only after
// an accepted ack and only when startRecorder is set.
func (c *Controller) establish(ctx context.Context, startRecorder bool) {
	responseID := c.currentResponseID()
	if responseID == "" || c.opts.InterviewID == "" {
		log.Printf("[session] cannot establish session: missing ids")
		return
	}
	if err := c.ch.Establish(ctx, c.opts.InterviewID, responseID); err != nil {
		log.Printf("[session] handshake failed: %v", err)
		if !c.terminating.Load() {
			c.notify(TitleNetwork, MsgHandshakeFailed)
		}
		return
	}
	log.Printf("[session] transcription session established")

	if !startRecorder || c.terminating.Load() {
		return
	}
	screen := c.opts.Streams.Screen
	if screen == nil {
		log.Printf("[session] no screen stream, skipping recording")
		return
	}
	if err := c.pipe.Start(responseID, screen); err != nil {
		log.Printf("[session] screen recording failed to start: %v", err)
	}
}

// OnConnect implements domain.Handler.
func (c *Controller) OnConnect() {
	log.Printf("[session] realtime connected")
	if c.terminating.Load() {
		return
	}
	c.establish(c.ctx, true)
}

// OnDisconnect implements domain.Handler.
func (c *Controller) OnDisconnect(reason string) {
	log.Printf("[session] realtime disconnected: %s", reason)
}

// OnTranscript implements domain.Handler. Partials overwrite, finals append
// in arrival order.
func (c *Controller) OnTranscript(ev domain.TranscriptEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !ev.Final && !ev.Result {
		c.partial = ev.Text
		return
	}
	c.transcript = appendText(c.transcript, ev.Text)
	c.partial = ""
	if ev.Result && strings.TrimSpace(ev.Text) == "" {
		return
	}
	c.conversation = append(c.conversation, domain.ConversationEntry{
		ID:      uuid.NewString(),
		Sender:  Initials(c.candidateName()),
		Message: ev.Text,
		Time:    time.Now(),
	})
}

// OnServerError implements domain.Handler.
func (c *Controller) OnServerError(msg string) {
	log.Printf("[session] server error: %s", msg)
	if msg != "" {
		c.notify(media.TitleSomethingWrong, msg)
	}
}

// StartRecording opens the microphone and streams audio frames while the
// transcription session is active.
func (c *Controller) StartRecording(ctx context.Context) error {
	if c.terminating.Load() {
		return ErrTerminated
	}
	if c.submitting.Load() {
		return ErrAnswerPending
	}
	if !c.ch.SessionEstablished() {
		c.notify(TitleNetwork, MsgSessionInactive)
		return ErrSessionInactive
	}
	if !c.ch.Connected() {
		c.notify(TitleNetwork, MsgNotConnected)
		return ErrSessionInactive
	}

	c.mu.Lock()
	busy := c.mic != nil
	c.mu.Unlock()
	if busy {
		return media.ErrRecorderActive
	}

	stream, err := c.deps.Media.AcquireMicStream(ctx)
	if err != nil {
		return fmt.Errorf("acquire microphone: %w", err)
	}

	mimeType := media.Negotiate(c.deps.Recorders, c.opts.AudioMimeTypes)
	rec, err := c.deps.Recorders.NewRecorder(stream, media.RecorderOptions{
		MimeType: mimeType,
		OnData:   c.onAudio,
		OnStop:   func() { media.Release(stream) },
	})
	if err != nil {
		media.Release(stream)
		c.notify(media.TitleSomethingWrong, media.MsgMicDenied)
		return fmt.Errorf("create microphone recorder: %w", err)
	}

	c.mu.Lock()
	if c.mic != nil {
		c.mu.Unlock()
		media.Release(stream)
		return media.ErrRecorderActive
	}
	c.mic = rec
	c.micStream = stream
	c.transcript = ""
	c.partial = ""
	c.mu.Unlock()

	if err := rec.Start(c.opts.AudioTimeslice); err != nil {
		c.stopMic()
		c.notify(media.TitleSomethingWrong, media.MsgMicDenied)
		return fmt.Errorf("start microphone recorder: %w", err)
	}
	log.Printf("[session] microphone recording (%s)", rec.MimeType())
	return nil
}

func (c *Controller) onAudio(b media.Blob) {
	if len(b.Data) == 0 {
		return
	}
	if !c.ch.Connected() || !c.ch.SessionEstablished() {
		return
	}
	if err := c.ch.SendAudioChunk(b.Data); err != nil {
		log.Printf("[session] audio chunk not sent: %v", err)
	}
}

// stopMic stops the microphone recorder. The recorder stays registered
// until it is inactive so no second one can start in the meantime.
func (c *Controller) stopMic() {
	c.mu.Lock()
	rec, stream := c.mic, c.micStream
	c.mu.Unlock()
	if rec == nil {
		return
	}

	if rec.State() != media.StateInactive {
		rec.Stop()
	}
	media.Release(stream)

	c.mu.Lock()
	if c.mic == rec {
		c.mic, c.micStream = nil, nil
	}
	c.mu.Unlock()
}

// SubmitAnswer sends the accumulated transcript for the current question
// and moves to the next one.
func (c *Controller) SubmitAnswer(ctx context.Context) error {
	if c.terminating.Load() {
		return ErrTerminated
	}
	responseID := c.currentResponseID()
	if responseID == "" {
		c.notify(media.TitleSomethingWrong, MsgNoResponseID)
		return ErrNoResponseID
	}
	if !c.submitting.CompareAndSwap(false, true) {
		return ErrAnswerPending
	}
	defer c.submitting.Store(false)
	c.loading.Add(1)
	defer c.loading.Add(-1)

	c.stopMic()

	c.mu.Lock()
	question, transcript := c.question.Text, c.transcript
	c.mu.Unlock()

	res, err := c.deps.Backend.SubmitAnswer(ctx, responseID, question, transcript)
	if err != nil {
		c.notify(media.TitleSomethingWrong, api.Message(err))
		return fmt.Errorf("submit answer: %w", err)
	}

	c.mu.Lock()
	c.transcript = ""
	c.partial = ""
	c.mu.Unlock()

	if res.Complete {
		return c.Terminate(ctx, ReasonCompleted)
	}

	q, err := c.deps.Backend.GetCurrentQuestion(ctx, responseID)
	if err != nil {
		c.notify(media.TitleSomethingWrong, api.Message(err))
		return fmt.Errorf("fetch next question: %w", err)
	}
	if q.Complete {
		return c.Terminate(ctx, ReasonCompleted)
	}
	c.presentQuestion(q)

	// Each question gets a fresh transcription session.
	if c.ch.Connected() {
		c.ch.Invalidate()
		go c.establish(c.ctx, false)
	}
	return nil
}

func (c *Controller) presentQuestion(q *domain.Question) {
	c.mu.Lock()
	c.question = *q
	if q.Text != "" {
		c.conversation = append(c.conversation, domain.ConversationEntry{
			ID:      uuid.NewString(),
			Sender:  SenderAI,
			Message: q.Text,
			Time:    time.Now(),
		})
	}
	c.mu.Unlock()
	log.Printf("[session] question %d/%d", q.Number, q.Total)

	if q.TTSAudioBase64 == "" || c.deps.Player == nil {
		return
	}
	audio, err := base64.StdEncoding.DecodeString(q.TTSAudioBase64)
	if err != nil {
		log.Printf("[session] bad tts audio: %v", err)
		return
	}
	go func() {
		if err := c.deps.Player.Play(c.ctx, audio, ttsMimeType); err != nil {
			log.Printf("[session] tts playback failed: %v", err)
		}
	}()
}

// Terminate ends the interview. It runs once; later calls return
// ErrTerminated. Every step is attempted even if an earlier one fails and
// the candidate always ends on the thank-you page.
func (c *Controller) Terminate(ctx context.Context, reason string) error {
	if !c.terminating.CompareAndSwap(false, true) {
		return ErrTerminated
	}
	defer close(c.done)
	ctx = context.WithoutCancel(ctx)
	c.loading.Add(1)
	defer c.loading.Add(-1)

	responseID := c.currentResponseID()
	log.Printf("[session] terminating: %s", reason)

	c.step("stop timer", func() error {
		c.timer.Stop()
		return nil
	})
	c.step("stop microphone", func() error {
		c.stopMic()
		return nil
	})
	c.step("finish screen recording", func() error {
		if c.pipe != nil {
			c.pipe.Finish(ctx)
		}
		return nil
	})
	c.step("upload video", func() error {
		if c.pipe == nil || responseID == "" {
			return nil
		}
		file, ok := c.pipe.Assemble()
		if !ok {
			return nil
		}
		log.Printf("[session] uploading %s (%d bytes)", file.Name, len(file.Data))
		return c.deps.Backend.UploadCandidateVideo(ctx, responseID, file)
	})
	c.step("report tab switches", func() error {
		m := c.tabMonitor()
		if m == nil {
			return nil
		}
		m.Close()
		if responseID == "" || c.opts.InterviewID == "" {
			return nil
		}
		return c.deps.Backend.UpdateTabSwitchCount(ctx, c.opts.InterviewID, responseID, m.Count())
	})
	c.step("end realtime session", func() error {
		if c.ch == nil {
			return nil
		}
		defer c.ch.Close()
		if !c.ch.Connected() || responseID == "" {
			return nil
		}
		ackCtx, cancel := context.WithTimeout(ctx, c.opts.EndAckWait)
		defer cancel()
		ack, err := c.ch.EndInterview(ackCtx, responseID)
		if err != nil {
			return err
		}
		log.Printf("[session] end_interview ack: ok=%v", ack.OK)
		return nil
	})
	c.step("end interview", func() error {
		if responseID == "" {
			return nil
		}
		return c.deps.Backend.EndInterview(ctx, responseID, reason)
	})
	c.step("release streams", func() error {
		if c.deps.Media != nil {
			c.deps.Media.ReleaseAll()
		}
		media.Release(c.opts.Streams.Screen)
		media.Release(c.opts.Streams.Camera)
		return nil
	})
	c.step("navigate", func() error {
		c.deps.Navigator.Navigate(domain.RouteThankYou)
		return nil
	})
	return nil
}

func (c *Controller) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[session] %s panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		log.Printf("[session] %s failed (non-fatal): %v", name, err)
	}
}

func (c *Controller) tabMonitor() *monitor.TabSwitchMonitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor
}

// Done is closed once termination has finished.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Loading reports whether a blocking operation is in flight.
func (c *Controller) Loading() bool {
	return c.loading.Load() > 0
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	s := State{
		InterviewID:     c.opts.InterviewID,
		ResponseID:      c.responseID,
		QuestionNumber:  c.question.Number,
		TotalQuestions:  c.question.Total,
		CurrentQuestion: c.question.Text,
		Transcript:      c.transcript,
		Partial:         c.partial,
		Conversation:    append([]domain.ConversationEntry(nil), c.conversation...),
		Recording:       c.mic != nil,
	}
	m := c.monitor
	c.mu.Unlock()

	if c.ch != nil {
		s.SessionEstablished = c.ch.SessionEstablished()
	}
	if m != nil {
		s.CheatCount = m.Count()
	}
	if r, ok := c.timer.Remaining(); ok {
		s.TimeRemaining = &r
	}
	s.Loading = c.Loading()
	s.Terminated = c.terminating.Load()
	return s
}

func (c *Controller) notify(title, msg string) {
	if c.deps.Notifier == nil {
		return
	}
	c.deps.Notifier.Notify(domain.Toast{Status: domain.ToastError, Title: title, Message: msg})
}

var _ domain.Handler = (*Controller)(nil)
