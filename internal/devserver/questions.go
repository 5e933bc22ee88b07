package devserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"gopkg.in/yaml.v3"
)

// Script is a canned interview loaded from YAML.
type Script struct {
	InterviewID     string           `yaml:"interview_id"`
	Role            string           `yaml:"role"`
	DurationMinutes int              `yaml:"duration_minutes"`
	Questions       []ScriptQuestion `yaml:"questions"`
}

// ScriptQuestion is one scripted question. Audio optionally points at a
// pre-rendered speech file.
type ScriptQuestion struct {
	Text  string `yaml:"text"`
	Audio string `yaml:"audio,omitempty"`
}

// Answer is a submitted answer.
type Answer struct {
	Question   string
	Transcript string
}

// QuestionSource produces the question at index given the answers so far.
type QuestionSource interface {
	Total() int
	Question(ctx context.Context, index int, answers []Answer) (string, error)
}

// Synthesizer renders question text to speech.
type Synthesizer interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// Transcriber turns the audio of a session into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// DefaultScript is used when no script file is given.
func DefaultScript() *Script {
	return &Script{
		InterviewID:     "dev-interview",
		Role:            "Backend Engineer",
		DurationMinutes: 30,
		Questions: []ScriptQuestion{
			{Text: "Tell me about yourself and your recent work."},
			{Text: "Describe a production incident you helped resolve."},
			{Text: "How do you approach reviewing someone else's code?"},
		},
	}
}

// LoadScript reads a YAML script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Questions) == 0 {
		return nil, fmt.Errorf("script %s has no questions", path)
	}
	for i, q := range s.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("script question %d is empty", i+1)
		}
	}
	return &s, nil
}

func (s *Script) Total() int { return len(s.Questions) }

func (s *Script) Question(ctx context.Context, index int, answers []Answer) (string, error) {
	if index < 0 || index >= len(s.Questions) {
		return "", fmt.Errorf("question %d out of range", index)
	}
	return s.Questions[index].Text, nil
}

// ScriptSpeech serves the pre-rendered audio files of a script.
type ScriptSpeech struct {
	Script *Script
}

func (s ScriptSpeech) Speak(ctx context.Context, text string) ([]byte, error) {
	for _, q := range s.Script.Questions {
		if q.Text == text && q.Audio != "" {
			return os.ReadFile(q.Audio)
		}
	}
	return nil, nil
}

// OpenAI generates follow-up questions, speech and transcripts with the
// OpenAI API.
type OpenAI struct {
	cli   *openai.Client
	model string
	role  string
	total int
	voice openai.SpeechVoice
}

// OpenAIConfig configures the OpenAI integration.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Role    string
	Total   int
}

// NewOpenAI creates the OpenAI-backed question source.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Total <= 0 {
		cfg.Total = 3
	}
	return &OpenAI{
		cli:   openai.NewClientWithConfig(clientConfig),
		model: cfg.Model,
		role:  cfg.Role,
		total: cfg.Total,
		voice: openai.VoiceAlloy,
	}
}

func (o *OpenAI) Total() int { return o.total }

func (o *OpenAI) Question(ctx context.Context, index int, answers []Answer) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are interviewing a candidate for the role %q. ", o.role)
	fmt.Fprintf(&b, "This is question %d of %d. ", index+1, o.total)
	if len(answers) == 0 {
		b.WriteString("Ask a short opening question.")
	} else {
		b.WriteString("The conversation so far:\n")
		for _, a := range answers {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", a.Question, a.Transcript)
		}
		b.WriteString("Ask one short follow-up question.")
	}
	b.WriteString(" Reply with the question only.")

	resp, err := o.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		MaxTokens:   120,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("question generation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("question generation returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (o *OpenAI) Speak(ctx context.Context, text string) ([]byte, error) {
	resp, err := o.cli.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          o.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := o.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "answer.wav",
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
