package domain

// Ack is the acknowledgement payload returned for an emitted event.
// Present is false when the server acknowledged without a body.
type Ack struct {
	Present bool   `json:"-"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`

	SessionID  string `json:"session_id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// HandshakeRequest is the session-establishment payload.
type HandshakeRequest struct {
	InterviewID string `json:"interview_id"`
	ResponseID  string `json:"response_id"`
}

// VideoChunk is one screen-recording segment on the wire.
type VideoChunk struct {
	ResponseID    string `json:"response_id"`
	Chunk         string `json:"chunk"`
	FileExtension string `json:"file_extension"`
	ChunkIndex    int    `json:"chunk_index"`
}

// EndRequest tells the realtime service to finalise the session.
type EndRequest struct {
	ResponseID string `json:"response_id"`
}

// TranscriptEvent is an inbound transcript update. Result marks the
// one-shot transcript_result event sent when a session is finalised.
type TranscriptEvent struct {
	Text   string `json:"text"`
	Final  bool   `json:"is_final"`
	Result bool   `json:"-"`
}

// ServerError is the inbound error event body.
type ServerError struct {
	Error string `json:"error"`
}
