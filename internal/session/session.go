package session

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"foloup/candidate/internal/domain"
	"foloup/candidate/internal/media"
)

var (
	ErrSessionInactive = errors.New("session: transcription session not active")
	ErrTerminated      = errors.New("session: interview already ended")
	ErrNoResponseID    = errors.New("session: no response id")
	ErrAnswerPending   = errors.New("session: answer submission in progress")
)

// End reasons reported to the backend.
const (
	ReasonUserEnded = "User ended interview"
	ReasonTimeUp    = "Interview time expired"
	ReasonCompleted = "Interview completed"
)

// Sender names for conversation entries.
const (
	SenderAI       = "AI"
	senderFallback = "U"
)

// Streams are the capture streams handed over by the setup flow.
type Streams struct {
	Screen *media.Stream
	Camera *media.Stream
}

// ScreenPipeline records and uploads the screen.
type ScreenPipeline interface {
	Start(responseID string, stream *media.Stream) error
	Finish(ctx context.Context)
	Assemble() (domain.File, bool)
}

// State is a point-in-time view of the interview.
type State struct {
	InterviewID        string
	ResponseID         string
	SessionEstablished bool
	QuestionNumber     int
	TotalQuestions     int
	CurrentQuestion    string
	Transcript         string
	Partial            string
	Conversation       []domain.ConversationEntry
	CheatCount         int
	TimeRemaining      *int
	Recording          bool
	Loading            bool
	Terminated         bool
}

// Initials returns up to two upper-case initials of name, or "U".
func Initials(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return senderFallback
	}
	first := firstRune(parts[0])
	if len(parts) == 1 {
		return string(unicode.ToUpper(first))
	}
	last := firstRune(parts[len(parts)-1])
	return strings.ToUpper(string([]rune{first, last}))
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 'U'
}

// appendText joins final transcript segments with a single space.
func appendText(prev, text string) string {
	if prev == "" {
		return text
	}
	return prev + " " + text
}
