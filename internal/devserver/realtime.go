package devserver

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	eventStartInterview    = "start_interview"
	eventSendAudioChunk    = "send_audio_chunk"
	eventSaveVideoChunk    = "save_video_chunk"
	eventEndInterview      = "end_interview"
	eventAck               = "ack"
	eventPartialTranscript = "partial_transcript"
	eventTranscriptResult  = "transcript_result"
	eventError             = "error"

	errNoActiveSession = "No active session"
	minVideoChunk      = 50
	framesPerFinal     = 4
	writeWait          = 10 * time.Second
	transcribeTimeout  = 60 * time.Second
)

// dictation is replayed word by word as the fake transcript.
var dictation = strings.Fields("I have been building backend services for several years " +
	"and I enjoy working on reliable systems with small focused teams")

type envelope struct {
	Event string          `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// session is the per-socket transcription state.
type session struct {
	s  *Server
	ws *websocket.Conn

	writeMu sync.Mutex

	mu         sync.Mutex
	active     bool
	sessionID  string
	responseID string
	audio      []byte
	frames     int
	words      int
	pending    []string
	finals     []string
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[devserver] websocket upgrade failed: %v", err)
		return
	}
	log.Printf("[devserver] realtime client connected: %s", r.RemoteAddr)

	sess := &session{s: s, ws: ws}
	go sess.readLoop()
}

func (c *session) readLoop() {
	defer c.ws.Close()
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			log.Printf("[devserver] realtime client gone: %v", err)
			return
		}
		if kind == websocket.BinaryMessage {
			c.handleAudio(data)
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.emit(eventError, map[string]string{"error": "malformed frame"})
			continue
		}
		switch env.Event {
		case eventStartInterview:
			c.handleStart(env)
		case eventSaveVideoChunk:
			c.handleVideo(env)
		case eventEndInterview:
			c.handleEnd(env)
		default:
			c.emit(eventError, map[string]string{"error": "unknown event " + env.Event})
			c.ack(env.ID, map[string]any{"ok": false, "error": "unknown event"})
		}
	}
}

func (c *session) write(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		log.Printf("[devserver] marshal: %v", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Printf("[devserver] write: %v", err)
	}
}

func (c *session) ack(id uint64, payload any) {
	if id == 0 {
		return
	}
	data, _ := json.Marshal(payload)
	c.write(envelope{Event: eventAck, ID: id, Data: data})
}

func (c *session) emit(event string, payload any) {
	data, _ := json.Marshal(payload)
	c.write(envelope{Event: event, Data: data})
}

func (c *session) handleStart(env envelope) {
	c.s.record(eventStartInterview, "", "")

	var req struct {
		InterviewID string `json:"interview_id"`
		ResponseID  string `json:"response_id"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil || req.InterviewID == "" {
		c.ack(env.ID, map[string]any{"ok": false, "error": "interview_id is required"})
		return
	}
	if c.s.opts.InterviewID != "" && req.InterviewID != c.s.opts.InterviewID {
		c.ack(env.ID, map[string]any{"ok": false, "error": fmt.Sprintf("Interview with id %s not found", req.InterviewID)})
		return
	}
	resp, ok := c.s.lookup(req.ResponseID)
	if !ok {
		c.ack(env.ID, map[string]any{"ok": false, "error": "Response not found"})
		return
	}
	c.s.mu.Lock()
	ended := resp.Ended
	c.s.mu.Unlock()
	if ended {
		c.ack(env.ID, map[string]any{"ok": false, "error": "Interview is not active"})
		return
	}

	c.mu.Lock()
	c.active = true
	c.sessionID = uuid.NewString()
	c.responseID = req.ResponseID
	c.audio = nil
	c.frames = 0
	c.words = 0
	c.pending = nil
	c.finals = nil
	sessionID := c.sessionID
	c.mu.Unlock()

	log.Printf("[devserver] transcription session %s for %s", sessionID, req.ResponseID)
	c.ack(env.ID, map[string]any{"ok": true, "session_id": sessionID, "response_id": req.ResponseID})
}

// handleAudio reads one [8-byte id][audio] frame and replies with a
// dictated partial, committing a final every few frames.
func (c *session) handleAudio(frame []byte) {
	if len(frame) < 8 {
		c.emit(eventError, map[string]string{"error": "short audio frame"})
		return
	}
	id := binary.BigEndian.Uint64(frame[:8])
	audio := frame[8:]
	c.s.record(eventSendAudioChunk, "", fmt.Sprint(len(audio)))

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		c.ack(id, map[string]any{"ok": false, "error": errNoActiveSession})
		return
	}
	if len(audio) == 0 {
		c.mu.Unlock()
		c.ack(id, map[string]any{"ok": false, "error": "Empty audio chunk"})
		return
	}
	c.audio = append(c.audio, audio...)
	c.frames++
	c.pending = append(c.pending, dictation[c.words%len(dictation)])
	c.words++
	text := strings.Join(c.pending, " ")
	final := c.frames%framesPerFinal == 0
	if final {
		c.finals = append(c.finals, text)
		c.pending = nil
	}
	c.mu.Unlock()

	c.ack(id, map[string]any{"ok": true})
	c.emit(eventPartialTranscript, map[string]any{"text": text, "is_final": final})
}

func (c *session) handleVideo(env envelope) {
	var req struct {
		ResponseID    string `json:"response_id"`
		Chunk         string `json:"chunk"`
		FileExtension string `json:"file_extension"`
		ChunkIndex    int    `json:"chunk_index"`
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		c.fail(env.ID, "Invalid video chunk payload")
		return
	}
	c.s.record(eventSaveVideoChunk, req.ResponseID, fmt.Sprint(req.ChunkIndex))

	if req.ResponseID == "" || req.Chunk == "" {
		c.fail(env.ID, fmt.Sprintf("Missing response_id or chunk (chunk_index: %d)", req.ChunkIndex))
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Chunk)
	if err != nil {
		c.fail(env.ID, fmt.Sprintf("Invalid base64 encoding: %v", err))
		return
	}
	if len(data) < minVideoChunk {
		c.fail(env.ID, fmt.Sprintf("Invalid chunk size: %d bytes (minimum: %d bytes)", len(data), minVideoChunk))
		return
	}
	resp, ok := c.s.lookup(req.ResponseID)
	if !ok {
		c.fail(env.ID, "Response not found")
		return
	}

	c.s.mu.Lock()
	resp.VideoChunks[req.ChunkIndex] = data
	c.s.mu.Unlock()
	c.ack(env.ID, map[string]any{"ok": true, "index": req.ChunkIndex})
}

func (c *session) fail(id uint64, msg string) {
	c.emit(eventError, map[string]string{"error": msg})
	c.ack(id, map[string]any{"ok": false, "error": msg})
}

func (c *session) handleEnd(env envelope) {
	c.s.record(eventEndInterview, "", "")

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		c.ack(env.ID, map[string]any{"ok": false, "error": errNoActiveSession})
		return
	}
	c.active = false
	audio := c.audio
	parts := append([]string(nil), c.finals...)
	if len(c.pending) > 0 {
		parts = append(parts, strings.Join(c.pending, " "))
	}
	c.mu.Unlock()

	text := strings.Join(parts, " ")
	if t := c.s.opts.Transcriber; t != nil && len(audio) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
		if out, err := t.Transcribe(ctx, audio); err != nil {
			log.Printf("[devserver] transcription failed, using dictation: %v", err)
		} else {
			text = out
		}
		cancel()
	}

	c.emit(eventTranscriptResult, map[string]string{"text": text})
	c.ack(env.ID, map[string]any{"ok": true, "final": true, "transcript": text})
}
