package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"foloup/candidate/internal/domain"
)

func TestNewRequest_SetsAuthHeaders(t *testing.T) {
	var gotAuth, gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		// net/http canonicalises incoming names, so read the raw map
		for k, v := range r.Header {
			if k == "Api_key" || k == "API_KEY" {
				gotKey = v[0]
			}
		}
		w.Write([]byte(`{"response_id":"r1","duration_minutes":20}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "secret", "tok", time.Second)
	resp, err := c.StartInterview(context.Background(), "i1", "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotKey != "secret" {
		t.Errorf("API_KEY = %q", gotKey)
	}
	if resp.InterviewID != "i1" || resp.DurationMinutes != 20 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestStartInterview_MissingResponseID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "", "", 0).StartInterview(context.Background(), "i1", "Ada", "")
	if !errors.Is(err, ErrMissingResponseID) {
		t.Fatalf("expected ErrMissingResponseID, got %v", err)
	}
}

func TestGetCurrentQuestion_ObjectForm(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != RouteCurrentQuestion {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("response_id")
		w.Write([]byte(`{"current_question":{"question":"Why Go?"},"question_number":2,"total_questions":5,"tts_audio_base64":"AAA="}`))
	}))
	defer ts.Close()

	q, err := NewClient(ts.URL, "", "", 0).GetCurrentQuestion(context.Background(), "r 1")
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "r 1" {
		t.Errorf("response_id = %q", gotQuery)
	}
	if q.Text != "Why Go?" || q.Number != 2 || q.Total != 5 || q.TTSAudioBase64 != "AAA=" || q.Complete {
		t.Errorf("unexpected question: %+v", q)
	}
}

func TestSubmitAnswer_Body(t *testing.T) {
	var body submitRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"interview_completed":true}`))
	}))
	defer ts.Close()

	res, err := NewClient(ts.URL, "", "", 0).SubmitAnswer(context.Background(), "r1", "Q?", "Hello world")
	if err != nil {
		t.Fatal(err)
	}
	if body.ResponseID != "r1" || body.Question != "Q?" || body.Transcript != "Hello world" {
		t.Errorf("unexpected body: %+v", body)
	}
	if !res.Complete {
		t.Error("expected interview_completed to mark completion")
	}
}

func TestEndInterview_DefaultReason(t *testing.T) {
	var body endRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer ts.Close()

	if err := NewClient(ts.URL, "", "", 0).EndInterview(context.Background(), "r1", ""); err != nil {
		t.Fatal(err)
	}
	if body.Reason != defaultEndReason {
		t.Errorf("reason = %q", body.Reason)
	}
}

func TestUpload_Multipart(t *testing.T) {
	var field, name, responseID string
	var data []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		responseID = r.FormValue("response_id")
		for f, headers := range r.MultipartForm.File {
			field, name = f, headers[0].Filename
			fh, _ := headers[0].Open()
			data, _ = io.ReadAll(fh)
			fh.Close()
		}
	}))
	defer ts.Close()

	file := domain.File{Name: "candidate-video.webm", MimeType: "video/webm", Data: []byte("abc")}
	if err := NewClient(ts.URL, "", "", 0).UploadCandidateVideo(context.Background(), "r1", file); err != nil {
		t.Fatal(err)
	}
	if field != "video" || name != file.Name || string(data) != "abc" || responseID != "r1" {
		t.Errorf("unexpected upload: field=%q name=%q data=%q response_id=%q", field, name, data, responseID)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"detail":"Interview is not active"}`, "Interview is not active"},
		{`{"detail":[{"msg":"field required"}]}`, `[{"msg":"field required"}]`},
		{`{"error":{"code":"RATE_LIMITED"}}`, "RATE_LIMITED"},
		{`{"error":"plain"}`, defaultErrorMessage},
		{`<html>502</html>`, defaultErrorMessage},
		{``, defaultErrorMessage},
	}
	for _, tt := range tests {
		if got := errorMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("errorMessage(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestDo_NonSuccessReturnsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"detail":"Already submitted"}`))
	}))
	defer ts.Close()

	err := NewClient(ts.URL, "", "", 0).UpdateTabSwitchCount(context.Background(), "i1", "r1", 3)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected *Error 409, got %v", err)
	}
	if Message(err) != "Already submitted" {
		t.Errorf("Message = %q", Message(err))
	}
	if Message(errors.New("dial tcp: refused")) != defaultErrorMessage {
		t.Error("expected generic message for transport errors")
	}
}

func TestMissingResponseIDIsRejectedLocally(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "", "", 0)
	ctx := context.Background()
	if _, err := c.GetCurrentQuestion(ctx, ""); !errors.Is(err, ErrMissingResponseID) {
		t.Errorf("GetCurrentQuestion: %v", err)
	}
	if err := c.UploadCandidateImage(ctx, "", domain.File{}); !errors.Is(err, ErrMissingResponseID) {
		t.Errorf("UploadCandidateImage: %v", err)
	}
}
