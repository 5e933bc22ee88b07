package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"foloup/candidate/internal/domain"
)

// Backend routes.
const (
	RouteStartInterview   = "/api/interview/start-interview"
	RouteCurrentQuestion  = "/api/interview/get-current-question"
	RouteSubmitAnswer     = "/api/interview/submit-answer"
	RouteEndInterview     = "/api/interview/end-interview"
	RouteTabSwitchCount   = "/api/interview/tab-switch-count"
	RouteUploadVideo      = "/api/media/upload-candidate-video"
	RouteUploadImage      = "/api/media/upload-candidate-image"
	defaultErrorMessage   = "Something went wrong. Please try again."
	defaultEndReason      = "Interview completed"
	maxErrorBodyForLogger = 512
)

// ErrMissingResponseID is returned when a call needs a response id and none was given.
var ErrMissingResponseID = errors.New("response id is required")

// Error is a failed backend call.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Client calls the interview backend REST API.
type Client struct {
	baseURL     string
	apiKey      string
	accessToken string
	http        *http.Client
}

// NewClient creates an API client. A zero timeout means none.
func NewClient(baseURL, apiKey, accessToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		accessToken: accessToken,
		http:        &http.Client{Timeout: timeout},
	}
}

var _ domain.Backend = (*Client)(nil)

type startRequest struct {
	InterviewID    string `json:"interview_id"`
	CandidateName  string `json:"candidate_name"`
	CandidateEmail string `json:"candidate_email"`
}

type submitRequest struct {
	ResponseID string `json:"response_id"`
	Question   string `json:"question"`
	Transcript string `json:"transcript"`
}

type endRequest struct {
	ResponseID string `json:"response_id"`
	Reason     string `json:"reason"`
}

type tabSwitchRequest struct {
	InterviewID    string `json:"interview_id"`
	ResponseID     string `json:"response_id"`
	TabSwitchCount int    `json:"tab_switch_count"`
}

// StartInterview creates a response for the candidate.
func (c *Client) StartInterview(ctx context.Context, interviewID, candidateName, candidateEmail string) (*domain.StartResponse, error) {
	var out domain.StartResponse
	err := c.postJSON(ctx, RouteStartInterview, startRequest{
		InterviewID:    interviewID,
		CandidateName:  candidateName,
		CandidateEmail: candidateEmail,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ResponseID == "" {
		return nil, fmt.Errorf("start interview: %w", ErrMissingResponseID)
	}
	if out.InterviewID == "" {
		out.InterviewID = interviewID
	}
	return &out, nil
}

// GetCurrentQuestion fetches the question the response is currently on.
func (c *Client) GetCurrentQuestion(ctx context.Context, responseID string) (*domain.Question, error) {
	if responseID == "" {
		return nil, ErrMissingResponseID
	}
	q := url.Values{}
	q.Set("response_id", responseID)

	req, err := c.newRequest(ctx, http.MethodGet, RouteCurrentQuestion+"?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	var out domain.Question
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAnswer sends the transcript of the answer to question.
func (c *Client) SubmitAnswer(ctx context.Context, responseID, question, transcript string) (*domain.SubmitResult, error) {
	if responseID == "" {
		return nil, ErrMissingResponseID
	}
	var out domain.SubmitResult
	err := c.postJSON(ctx, RouteSubmitAnswer, submitRequest{
		ResponseID: responseID,
		Question:   question,
		Transcript: transcript,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EndInterview closes the response on the backend.
func (c *Client) EndInterview(ctx context.Context, responseID, reason string) error {
	if responseID == "" {
		return ErrMissingResponseID
	}
	if reason == "" {
		reason = defaultEndReason
	}
	return c.postJSON(ctx, RouteEndInterview, endRequest{ResponseID: responseID, Reason: reason}, nil)
}

// UpdateTabSwitchCount reports how often the candidate left the page.
func (c *Client) UpdateTabSwitchCount(ctx context.Context, interviewID, responseID string, count int) error {
	if responseID == "" {
		return ErrMissingResponseID
	}
	return c.postJSON(ctx, RouteTabSwitchCount, tabSwitchRequest{
		InterviewID:    interviewID,
		ResponseID:     responseID,
		TabSwitchCount: count,
	}, nil)
}

// UploadCandidateVideo uploads the assembled screen recording.
func (c *Client) UploadCandidateVideo(ctx context.Context, responseID string, file domain.File) error {
	return c.upload(ctx, RouteUploadVideo, "video", responseID, file)
}

// UploadCandidateImage uploads the still taken during setup.
func (c *Client) UploadCandidateImage(ctx context.Context, responseID string, file domain.File) error {
	return c.upload(ctx, RouteUploadImage, "image", responseID, file)
}

func (c *Client) upload(ctx context.Context, route, field, responseID string, file domain.File) error {
	if responseID == "" {
		return ErrMissingResponseID
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, file.Name))
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	if err := w.WriteField("response_id", responseID); err != nil {
		return fmt.Errorf("write response_id field: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	log.Printf("[api] uploading %s (%d bytes) to %s", file.Name, len(file.Data), route)

	req, err := c.newRequest(ctx, http.MethodPost, route, &body, w.FormDataContentType())
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) postJSON(ctx context.Context, route string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, route, bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, route string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, body)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		// non-canonical header name is what the backend reads
		req.Header["API_KEY"] = []string{c.apiKey}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode, Message: errorMessage(respBody)}
		log.Printf("[api] %s %s failed: %d %s", req.Method, req.URL.Path, resp.StatusCode, truncate(respBody, maxErrorBodyForLogger))
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// errorMessage picks detail, then error.code, then the generic message.
func errorMessage(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return defaultErrorMessage
	}
	if len(payload.Detail) > 0 && string(payload.Detail) != "null" {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			if s != "" {
				return s
			}
		} else {
			return string(payload.Detail)
		}
	}
	var nested struct {
		Code string `json:"code"`
	}
	if len(payload.Error) > 0 && json.Unmarshal(payload.Error, &nested) == nil && nested.Code != "" {
		return nested.Code
	}
	return defaultErrorMessage
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Message returns the user-facing text for err.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return defaultErrorMessage
}
