package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	"foloup/candidate/internal/api"
	"foloup/candidate/internal/config"
	"foloup/candidate/internal/domain"
	"foloup/candidate/internal/media"
	"foloup/candidate/internal/monitor"
	"foloup/candidate/internal/realtime"
	"foloup/candidate/internal/session"
	"foloup/candidate/internal/setup"
	"foloup/candidate/internal/upload"
)

const helpText = `interviewclient - Take an AI interview from the command line

Usage:
  interviewclient [config.yaml]

Local media files stand in for the capture devices. The screen and camera
sources may be IVF files or directories of recorder segments; the
microphone may be an Ogg/Opus or WAV file. Question audio is written to
TTS_DIR.

Environment Variables (required):
  INTERVIEW_API_URL  Backend base URL
  INTERVIEW_ID       Interview to take

Environment Variables (optional):
  INTERVIEW_SOCKET_URL    Realtime socket (default: derived from the API URL)
  INTERVIEW_API_KEY       API key sent with the access token
  INTERVIEW_ACCESS_TOKEN  Bearer token
  CANDIDATE_NAME, CANDIDATE_EMAIL
  SCREEN_SOURCE, CAMERA_SOURCE, CAMERA_STILL, MIC_SOURCE, TTS_DIR

Commands (one per line on stdin):
  r  start answering (microphone on)
  s  submit the answer
  e  end the interview
  q  show the interview state

Send SIGUSR1 to count a tab switch.

Options:
  -h, --help  Show this help message
`

// toastPrinter writes toasts to stderr.
type toastPrinter struct{}

func (toastPrinter) Notify(t domain.Toast) {
	log.Printf("[toast] %s: %s: %s", t.Status, t.Title, t.Message)
}

// exitNavigator treats the thank-you page as the end of the program.
type exitNavigator struct {
	done chan struct{}
}

func (n *exitNavigator) Navigate(route string) {
	log.Printf("[main] navigate to %s", route)
	if route == domain.RouteThankYou {
		close(n.done)
	}
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	var path string
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	notifier := toastPrinter{}

	// Step 1: Create the response
	backend := api.NewClient(cfg.APIURL, cfg.APIKey, cfg.AccessToken, cfg.Timing.HTTPTimeout)
	start, err := backend.StartInterview(ctx, cfg.InterviewID, cfg.CandidateName, cfg.CandidateEmail)
	if err != nil {
		notifier.Notify(domain.Toast{Status: domain.ToastError, Title: media.TitleSomethingWrong, Message: api.Message(err)})
		log.Fatalf("[main] start interview: %v", err)
	}
	log.Printf("[main] response %s created for interview %s", start.ResponseID, start.InterviewID)

	// Step 2: Permission step (screen, camera, still)
	manager := newMediaManager(cfg.Media, notifier)

	flow := setup.New(backend, manager, &media.FileFrameCapturer{Path: cfg.Media.Still}, notifier, start.ResponseID)
	if err := flow.ShareScreen(ctx); err != nil {
		log.Fatalf("[main] share screen: %v", err)
	}
	if err := flow.EnableCamera(ctx); err != nil {
		manager.ReleaseAll()
		log.Fatalf("[main] enable camera: %v", err)
	}
	if cfg.Media.Still != "" {
		if err := flow.CaptureStill(ctx); err != nil {
			log.Printf("[main] capture still: %v", err)
		} else if err := flow.UploadStill(ctx); err != nil {
			log.Printf("[main] upload still: %v", err)
		}
	}
	streams, err := flow.Proceed()
	if err != nil {
		manager.ReleaseAll()
		log.Fatalf("[main] %v", err)
	}

	// Step 3: Create the session controller (implements domain.Handler)
	nav := &exitNavigator{done: make(chan struct{})}
	var player domain.AudioPlayer
	if cfg.Media.TTSDir != "" {
		player = &media.FilePlayer{Dir: cfg.Media.TTSDir}
	}
	visibility := monitor.NewSignalSource(syscall.SIGUSR1)
	ctrl := session.New(session.Deps{
		Backend:    backend,
		Media:      manager,
		Recorders:  media.FileRecorderFactory{},
		Navigator:  nav,
		Notifier:   notifier,
		Player:     player,
		Visibility: visibility,
	}, session.Options{
		InterviewID:     cfg.InterviewID,
		ResponseID:      start.ResponseID,
		CandidateName:   cfg.CandidateName,
		CandidateEmail:  cfg.CandidateEmail,
		DurationMinutes: start.DurationMinutes,
		Streams:         streams,
		AudioTimeslice:  cfg.Timing.AudioTimeslice,
		AudioMimeTypes:  cfg.AudioMimeTypes,
		EndAckWait:      cfg.Timing.EndAckWait,
	})

	// Step 4: Create the realtime client with the controller as handler
	header := http.Header{}
	if cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AccessToken)
	}
	rc := realtime.NewClient(realtime.Options{
		URL:        cfg.SocketURL,
		Header:     header,
		AckTimeout: cfg.Timing.AckTimeout,
	}, ctrl)

	// Step 5: Screen pipeline sends chunks over the realtime client
	pipe := upload.NewPipeline(media.FileRecorderFactory{}, rc, upload.Options{
		MimeTypes:        cfg.VideoMimeTypes,
		Timeslice:        cfg.Timing.VideoTimeslice,
		InitialDataDelay: cfg.Timing.InitialDataDelay,
		FlushGrace:       cfg.Timing.FlushGrace,
		StopGrace:        cfg.Timing.StopGrace,
	})

	// Step 6: Complete the circular dependency
	ctrl.SetChannel(rc, pipe)

	// Step 7: Connect and present the first question
	if err := ctrl.Run(ctx); err != nil {
		manager.ReleaseAll()
		log.Fatalf("[main] %v", err)
	}

	go readCommands(ctx, ctrl)

	select {
	case sig := <-sigCh:
		log.Printf("[main] received %s, ending interview", sig)
		ctrl.Terminate(ctx, session.ReasonUserEnded)
	case <-ctrl.Done():
	case <-nav.done:
	}
	<-ctrl.Done()

	log.Printf("[main] done")
}

// newMediaManager builds the capture manager over the configured files. The
// system-audio check is always enforced; SCREEN_SYSTEM_AUDIO only decides
// whether the screen source offers an audio track.
func newMediaManager(m config.Media, notifier domain.Notifier) *media.Manager {
	return media.NewManager(&media.FileCapturer{
		Screen:      m.Screen,
		Surface:     m.Surface,
		SystemAudio: m.ScreenHasAudio(),
		Camera:      m.Camera,
		Mic:         m.Mic,
	}, notifier, true)
}

func readCommands(ctx context.Context, ctrl *session.Controller) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		var err error
		switch cmd := strings.TrimSpace(sc.Text()); cmd {
		case "r":
			err = ctrl.StartRecording(ctx)
		case "s":
			err = ctrl.SubmitAnswer(ctx)
		case "e":
			err = ctrl.Terminate(ctx, session.ReasonUserEnded)
		case "q", "?", "":
			printState(ctrl.Snapshot())
		default:
			log.Printf("[main] unknown command %q", cmd)
		}
		if err != nil && !errors.Is(err, session.ErrTerminated) {
			log.Printf("[main] %v", err)
		}
	}
}

func printState(s session.State) {
	remaining := "-"
	if s.TimeRemaining != nil {
		remaining = fmt.Sprintf("%d:%02d", *s.TimeRemaining/60, *s.TimeRemaining%60)
	}
	fmt.Printf("question %d/%d  time %s  tab switches %d  session %v  recording %v\n",
		s.QuestionNumber, s.TotalQuestions, remaining, s.CheatCount, s.SessionEstablished, s.Recording)
	fmt.Printf("Q: %s\n", s.CurrentQuestion)
	if s.Transcript != "" || s.Partial != "" {
		fmt.Printf("A: %s %s\n", s.Transcript, s.Partial)
	}
}
