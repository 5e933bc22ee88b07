package domain

import "context"

// Backend is the interview REST API consumed by the session.
type Backend interface {
	StartInterview(ctx context.Context, interviewID, candidateName, candidateEmail string) (*StartResponse, error)
	GetCurrentQuestion(ctx context.Context, responseID string) (*Question, error)
	SubmitAnswer(ctx context.Context, responseID, question, transcript string) (*SubmitResult, error)
	EndInterview(ctx context.Context, responseID, reason string) error
	UpdateTabSwitchCount(ctx context.Context, interviewID, responseID string, count int) error
	UploadCandidateVideo(ctx context.Context, responseID string, file File) error
	UploadCandidateImage(ctx context.Context, responseID string, file File) error
}

// Channel manages the realtime transcript socket.
type Channel interface {
	Connect(ctx context.Context) error
	Connected() bool
	SessionEstablished() bool
	Establish(ctx context.Context, interviewID, responseID string) error
	Invalidate()
	SendAudioChunk(data []byte) error
	SaveVideoChunk(ctx context.Context, chunk VideoChunk) error
	EndInterview(ctx context.Context, responseID string) (Ack, error)
	Close()
}

// Handler receives realtime channel events.
type Handler interface {
	OnConnect()
	OnDisconnect(reason string)
	OnTranscript(ev TranscriptEvent)
	OnServerError(msg string)
}

// Navigator moves the candidate to another page.
type Navigator interface {
	Navigate(route string)
}

// Notifier shows a toast to the candidate.
type Notifier interface {
	Notify(t Toast)
}

// AudioPlayer plays synthesized question audio.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte, mimeType string) error
}
