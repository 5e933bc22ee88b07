package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	APIURL      string `yaml:"api_url"`
	SocketURL   string `yaml:"socket_url"`
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token"`

	InterviewID    string `yaml:"interview_id"`
	CandidateName  string `yaml:"candidate_name"`
	CandidateEmail string `yaml:"candidate_email"`

	Media  Media  `yaml:"media"`
	Timing Timing `yaml:"timing"`

	VideoMimeTypes []string `yaml:"video_mime_types"`
	AudioMimeTypes []string `yaml:"audio_mime_types"`
}

// Media points the file-backed capture devices at their sources.
type Media struct {
	Screen      string `yaml:"screen"`
	Surface     string `yaml:"surface"`
	SystemAudio *bool  `yaml:"system_audio"`
	Camera      string `yaml:"camera"`
	Still       string `yaml:"still"`
	Mic         string `yaml:"mic"`
	TTSDir      string `yaml:"tts_dir"`
}

// Timing holds the session's intervals and grace periods.
type Timing struct {
	VideoTimeslice   time.Duration `yaml:"video_timeslice"`
	AudioTimeslice   time.Duration `yaml:"audio_timeslice"`
	InitialDataDelay time.Duration `yaml:"initial_data_delay"`
	FlushGrace       time.Duration `yaml:"flush_grace"`
	StopGrace        time.Duration `yaml:"stop_grace"`
	EndAckWait       time.Duration `yaml:"end_ack_wait"`
	AckTimeout       time.Duration `yaml:"ack_timeout"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
}

// DefaultVideoMimeTypes lists screen-recording codecs, most efficient first.
var DefaultVideoMimeTypes = []string{
	"video/webm;codecs=vp9,opus",
	"video/webm",
	"video/x-ivf;codecs=vp9",
	"video/x-ivf",
}

// DefaultAudioMimeTypes lists microphone codecs, most preferred first.
var DefaultAudioMimeTypes = []string{
	"audio/webm;codecs=opus",
	"audio/ogg;codecs=opus",
	"audio/wav",
}

// Default returns a Config with every optional value set.
func Default() *Config {
	audio := true
	return &Config{
		Media: Media{
			Surface:     "monitor",
			SystemAudio: &audio,
		},
		Timing: Timing{
			VideoTimeslice:   2 * time.Second,
			AudioTimeslice:   250 * time.Millisecond,
			InitialDataDelay: 500 * time.Millisecond,
			FlushGrace:       time.Second,
			StopGrace:        500 * time.Millisecond,
			EndAckWait:       2 * time.Second,
		},
		VideoMimeTypes: append([]string(nil), DefaultVideoMimeTypes...),
		AudioMimeTypes: append([]string(nil), DefaultAudioMimeTypes...),
	}
}

// Load reads configuration from a .env file (if present), an optional YAML
// file and environment variables. Environment variables take precedence.
// An empty path falls back to INTERVIEW_CONFIG.
func Load(path string) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("INTERVIEW_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIURL = getEnv("INTERVIEW_API_URL", c.APIURL)
	c.SocketURL = getEnv("INTERVIEW_SOCKET_URL", c.SocketURL)
	c.APIKey = getEnv("INTERVIEW_API_KEY", c.APIKey)
	c.AccessToken = getEnv("INTERVIEW_ACCESS_TOKEN", c.AccessToken)

	c.InterviewID = getEnv("INTERVIEW_ID", c.InterviewID)
	c.CandidateName = getEnv("CANDIDATE_NAME", c.CandidateName)
	c.CandidateEmail = getEnv("CANDIDATE_EMAIL", c.CandidateEmail)

	c.Media.Screen = getEnv("SCREEN_SOURCE", c.Media.Screen)
	c.Media.Surface = getEnv("SCREEN_SURFACE", c.Media.Surface)
	if v, ok := getEnvAsBool("SCREEN_SYSTEM_AUDIO"); ok {
		c.Media.SystemAudio = &v
	}
	c.Media.Camera = getEnv("CAMERA_SOURCE", c.Media.Camera)
	c.Media.Still = getEnv("CAMERA_STILL", c.Media.Still)
	c.Media.Mic = getEnv("MIC_SOURCE", c.Media.Mic)
	c.Media.TTSDir = getEnv("TTS_DIR", c.Media.TTSDir)

	c.Timing.VideoTimeslice = getEnvAsDuration("VIDEO_TIMESLICE", c.Timing.VideoTimeslice)
	c.Timing.AudioTimeslice = getEnvAsDuration("AUDIO_TIMESLICE", c.Timing.AudioTimeslice)
	c.Timing.InitialDataDelay = getEnvAsDuration("INITIAL_DATA_DELAY", c.Timing.InitialDataDelay)
	c.Timing.FlushGrace = getEnvAsDuration("FLUSH_GRACE", c.Timing.FlushGrace)
	c.Timing.StopGrace = getEnvAsDuration("STOP_GRACE", c.Timing.StopGrace)
	c.Timing.EndAckWait = getEnvAsDuration("END_ACK_WAIT", c.Timing.EndAckWait)
	c.Timing.AckTimeout = getEnvAsDuration("ACK_TIMEOUT", c.Timing.AckTimeout)
	c.Timing.HTTPTimeout = getEnvAsDuration("HTTP_TIMEOUT", c.Timing.HTTPTimeout)
}

// Validate checks required values and derives the socket URL when unset.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("INTERVIEW_API_URL environment variable is required")
	}
	if c.InterviewID == "" {
		return fmt.Errorf("INTERVIEW_ID environment variable is required")
	}
	if c.SocketURL == "" {
		u, err := SocketURLFromAPI(c.APIURL)
		if err != nil {
			return err
		}
		c.SocketURL = u
	}
	if c.Timing.VideoTimeslice <= 0 {
		return fmt.Errorf("video timeslice must be positive")
	}
	if c.Timing.AudioTimeslice <= 0 {
		return fmt.Errorf("audio timeslice must be positive")
	}
	if len(c.VideoMimeTypes) == 0 {
		c.VideoMimeTypes = append([]string(nil), DefaultVideoMimeTypes...)
	}
	if len(c.AudioMimeTypes) == 0 {
		c.AudioMimeTypes = append([]string(nil), DefaultAudioMimeTypes...)
	}
	return nil
}

// ScreenHasAudio reports whether the screen source carries a system audio
// track. It describes the source only; the system-audio check always runs.
func (m Media) ScreenHasAudio() bool {
	return m.SystemAudio == nil || *m.SystemAudio
}

// SocketURLFromAPI maps http(s)://host/... to ws(s)://host/realtime.
func SocketURLFromAPI(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime"
	u.RawQuery = ""
	return u.String(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string) (bool, bool) {
	value := os.Getenv(key)
	if value == "" {
		return false, false
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return b, true
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
