package domain

import (
	"encoding/json"
	"time"
)

// RouteThankYou is the terminal page every session ends on.
const RouteThankYou = "/ThankYou"

// StartResponse is returned by the start-interview call.
type StartResponse struct {
	ResponseID      string `json:"response_id"`
	InterviewID     string `json:"interview_id"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Question is the current question of an interview response.
type Question struct {
	Text           string `json:"-"`
	Number         int    `json:"question_number"`
	Total          int    `json:"total_questions"`
	Complete       bool   `json:"complete"`
	TTSAudioBase64 string `json:"tts_audio_base64,omitempty"`
}

type questionWire struct {
	CurrentQuestion   json.RawMessage `json:"current_question"`
	QuestionNumber    int             `json:"question_number"`
	TotalQuestions    int             `json:"total_questions"`
	Complete          bool            `json:"complete"`
	InterviewComplete bool            `json:"interview_complete"`
	TTSAudioBase64    string          `json:"tts_audio_base64"`
}

// UnmarshalJSON accepts current_question either as a string or as an
// object carrying "question" or "text".
func (q *Question) UnmarshalJSON(data []byte) error {
	var w questionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	q.Number = w.QuestionNumber
	q.Total = w.TotalQuestions
	q.Complete = w.Complete || w.InterviewComplete
	q.TTSAudioBase64 = w.TTSAudioBase64
	q.Text = ""

	if len(w.CurrentQuestion) == 0 || string(w.CurrentQuestion) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(w.CurrentQuestion, &s); err == nil {
		q.Text = s
		return nil
	}
	var obj struct {
		Question string `json:"question"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(w.CurrentQuestion, &obj); err != nil {
		return nil
	}
	if obj.Question != "" {
		q.Text = obj.Question
	} else {
		q.Text = obj.Text
	}
	return nil
}

// MarshalJSON writes current_question as a plain string.
func (q Question) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CurrentQuestion string `json:"current_question"`
		QuestionNumber  int    `json:"question_number"`
		TotalQuestions  int    `json:"total_questions"`
		Complete        bool   `json:"complete"`
		TTSAudioBase64  string `json:"tts_audio_base64,omitempty"`
	}{q.Text, q.Number, q.Total, q.Complete, q.TTSAudioBase64})
}

// SubmitResult is returned by submit-answer.
type SubmitResult struct {
	Complete bool `json:"-"`
}

func (r *SubmitResult) UnmarshalJSON(data []byte) error {
	var w struct {
		Complete           bool `json:"complete"`
		InterviewCompleted bool `json:"interview_completed"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Complete = w.Complete || w.InterviewCompleted
	return nil
}

// File is an in-memory upload payload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// ConversationEntry is one line of the interview transcript log.
type ConversationEntry struct {
	ID      string    `json:"id"`
	Sender  string    `json:"sender"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Toast statuses.
const (
	ToastError   = "error"
	ToastSuccess = "success"
)

// Toast is a user-facing notification.
type Toast struct {
	Status  string
	Title   string
	Message string
}
