package devserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"foloup/candidate/internal/api"
)

// RealtimePath is where the realtime socket is served.
const RealtimePath = "/realtime"

const maxUploadMemory = 32 << 20

// Call is one recorded request.
type Call struct {
	Route      string
	ResponseID string
	Detail     string
}

// Response is the server-side record of one interview attempt.
type Response struct {
	ID             string
	InterviewID    string
	CandidateName  string
	CandidateEmail string

	Asked       []string
	Audio       map[string][]byte
	Answers     []Answer
	Ended       bool
	EndReason   string
	TabSwitches int
	VideoChunks map[int][]byte
	Video       []byte
	VideoName   string
	Image       []byte
}

// Options configures a Server.
type Options struct {
	InterviewID     string
	DurationMinutes int
	Questions       QuestionSource
	Speech          Synthesizer
	Transcriber     Transcriber
}

// Server is a local stand-in for the interview backend.
type Server struct {
	opts     Options
	router   *mux.Router
	upgrader websocket.Upgrader

	mu        sync.Mutex
	responses map[string]*Response
	calls     []Call
}

// New creates a server. A nil Questions falls back to DefaultScript.
func New(opts Options) *Server {
	if opts.Questions == nil {
		opts.Questions = DefaultScript()
	}
	if opts.DurationMinutes <= 0 {
		opts.DurationMinutes = 30
	}
	s := &Server{
		opts:      opts,
		router:    mux.NewRouter(),
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		responses: make(map[string]*Response),
	}

	s.router.HandleFunc(api.RouteStartInterview, s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc(api.RouteCurrentQuestion, s.handleCurrentQuestion).Methods(http.MethodGet)
	s.router.HandleFunc(api.RouteSubmitAnswer, s.handleSubmit).Methods(http.MethodPost)
	s.router.HandleFunc(api.RouteEndInterview, s.handleEnd).Methods(http.MethodPost)
	s.router.HandleFunc(api.RouteTabSwitchCount, s.handleTabSwitch).Methods(http.MethodPost)
	s.router.HandleFunc(api.RouteUploadVideo, s.handleUpload("video")).Methods(http.MethodPost)
	s.router.HandleFunc(api.RouteUploadImage, s.handleUpload("image")).Methods(http.MethodPost)
	s.router.HandleFunc(RealtimePath, s.handleRealtime)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Calls returns every recorded request in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many times route was called.
func (s *Server) Count(route string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Route == route {
			n++
		}
	}
	return n
}

// Response returns a copy of the record for id.
func (s *Server) Response(id string) (Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return Response{}, false
	}
	cp := *r
	cp.Answers = append([]Answer(nil), r.Answers...)
	return cp, true
}

// AssembledChunks concatenates the realtime video chunks of id in index order.
func (s *Server) AssembledChunks(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return nil
	}
	idx := make([]int, 0, len(r.VideoChunks))
	for i := range r.VideoChunks {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	var out []byte
	for _, i := range idx {
		out = append(out, r.VideoChunks[i]...)
	}
	return out
}

func (s *Server) record(route, responseID, detail string) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Route: route, ResponseID: responseID, Detail: detail})
	s.mu.Unlock()
}

func (s *Server) lookup(id string) (*Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	return r, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[devserver] encode response: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InterviewID    string `json:"interview_id"`
		CandidateName  string `json:"candidate_name"`
		CandidateEmail string `json:"candidate_email"`
	}
	if err := decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.record(api.RouteStartInterview, "", req.CandidateName)

	if req.InterviewID == "" {
		writeDetail(w, http.StatusBadRequest, "interview_id is required")
		return
	}
	if s.opts.InterviewID != "" && req.InterviewID != s.opts.InterviewID {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Interview with id %s not found", req.InterviewID))
		return
	}

	resp := &Response{
		ID:             uuid.NewString(),
		InterviewID:    req.InterviewID,
		CandidateName:  req.CandidateName,
		CandidateEmail: req.CandidateEmail,
		Audio:          make(map[string][]byte),
		VideoChunks:    make(map[int][]byte),
	}
	s.mu.Lock()
	s.responses[resp.ID] = resp
	s.mu.Unlock()
	log.Printf("[devserver] interview started for %q: response=%s", req.CandidateName, resp.ID)

	writeJSON(w, http.StatusOK, map[string]any{
		"response_id":      resp.ID,
		"interview_id":     resp.InterviewID,
		"duration_minutes": s.opts.DurationMinutes,
	})
}

func (s *Server) handleCurrentQuestion(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("response_id")
	s.record(api.RouteCurrentQuestion, id, "")

	resp, ok := s.lookup(id)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Response not found")
		return
	}

	text, audio, number, complete, err := s.currentQuestion(r.Context(), resp)
	if err != nil {
		log.Printf("[devserver] question for %s: %v", id, err)
		writeDetail(w, http.StatusBadGateway, "Could not generate the next question")
		return
	}
	total := s.opts.Questions.Total()
	if complete {
		writeJSON(w, http.StatusOK, map[string]any{
			"current_question":   nil,
			"question_number":    total,
			"total_questions":    total,
			"complete":           true,
			"interview_complete": true,
		})
		return
	}

	out := map[string]any{
		"current_question": text,
		"question_number":  number,
		"total_questions":  total,
		"complete":         false,
	}
	if len(audio) > 0 {
		out["tts_audio_base64"] = base64.StdEncoding.EncodeToString(audio)
	}
	writeJSON(w, http.StatusOK, out)
}

// currentQuestion returns the question the response is on, generating and
// caching it on first access.
func (s *Server) currentQuestion(ctx context.Context, resp *Response) (text string, audio []byte, number int, complete bool, err error) {
	s.mu.Lock()
	index := len(resp.Answers)
	ended := resp.Ended
	var cached string
	if index < len(resp.Asked) {
		cached = resp.Asked[index]
	}
	answers := append([]Answer(nil), resp.Answers...)
	s.mu.Unlock()

	if ended || index >= s.opts.Questions.Total() {
		return "", nil, 0, true, nil
	}
	if cached != "" {
		s.mu.Lock()
		audio = resp.Audio[cached]
		s.mu.Unlock()
		return cached, audio, index + 1, false, nil
	}

	text, err = s.opts.Questions.Question(ctx, index, answers)
	if err != nil {
		return "", nil, 0, false, err
	}
	if s.opts.Speech != nil {
		if audio, err = s.opts.Speech.Speak(ctx, text); err != nil {
			log.Printf("[devserver] speech for question %d: %v", index+1, err)
			audio = nil
		}
	}

	s.mu.Lock()
	if index == len(resp.Asked) {
		resp.Asked = append(resp.Asked, text)
		resp.Audio[text] = audio
	} else {
		text = resp.Asked[index]
		audio = resp.Audio[text]
	}
	s.mu.Unlock()
	return text, audio, index + 1, false, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResponseID string `json:"response_id"`
		Question   string `json:"question"`
		Transcript string `json:"transcript"`
	}
	if err := decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.record(api.RouteSubmitAnswer, req.ResponseID, req.Transcript)

	resp, ok := s.lookup(req.ResponseID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Response not found")
		return
	}

	s.mu.Lock()
	if resp.Ended {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Interview already ended")
		return
	}
	resp.Answers = append(resp.Answers, Answer{Question: req.Question, Transcript: req.Transcript})
	n := len(resp.Answers)
	s.mu.Unlock()
	complete := n >= s.opts.Questions.Total()

	log.Printf("[devserver] answer %d for %s (%d chars)", n, req.ResponseID, len(req.Transcript))
	writeJSON(w, http.StatusOK, map[string]any{"complete": complete})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResponseID string `json:"response_id"`
		Reason     string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.record(api.RouteEndInterview, req.ResponseID, req.Reason)

	resp, ok := s.lookup(req.ResponseID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Response not found")
		return
	}
	s.mu.Lock()
	resp.Ended = true
	resp.EndReason = req.Reason
	s.mu.Unlock()

	log.Printf("[devserver] interview ended for %s: %s", req.ResponseID, req.Reason)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Interview ended"})
}

func (s *Server) handleTabSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InterviewID    string `json:"interview_id"`
		ResponseID     string `json:"response_id"`
		TabSwitchCount int    `json:"tab_switch_count"`
	}
	if err := decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.record(api.RouteTabSwitchCount, req.ResponseID, fmt.Sprint(req.TabSwitchCount))

	resp, ok := s.lookup(req.ResponseID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Response not found")
		return
	}
	s.mu.Lock()
	resp.TabSwitches = req.TabSwitchCount
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"tab_switch_count": req.TabSwitchCount})
}

func (s *Server) handleUpload(field string) http.HandlerFunc {
	route := api.RouteUploadVideo
	if field == "image" {
		route = api.RouteUploadImage
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid multipart body")
			return
		}
		id := r.FormValue("response_id")
		file, header, err := r.FormFile(field)
		if err != nil {
			s.record(route, id, "")
			writeDetail(w, http.StatusBadRequest, field+" is required")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "Could not read upload")
			return
		}
		s.record(route, id, header.Filename)

		resp, ok := s.lookup(id)
		if !ok {
			writeDetail(w, http.StatusNotFound, "Response not found")
			return
		}
		s.mu.Lock()
		if field == "image" {
			resp.Image = data
		} else {
			resp.Video = data
			resp.VideoName = header.Filename
		}
		s.mu.Unlock()

		log.Printf("[devserver] %s upload for %s: %s (%d bytes)", field, id, header.Filename, len(data))
		writeJSON(w, http.StatusOK, map[string]any{"message": field + " uploaded", "size": len(data)})
	}
}
