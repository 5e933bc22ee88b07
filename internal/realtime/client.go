package realtime

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"foloup/candidate/internal/domain"

	"github.com/gorilla/websocket"
)

// Outbound and inbound event names.
const (
	EventStartInterview    = "start_interview"
	EventSendAudioChunk    = "send_audio_chunk"
	EventSaveVideoChunk    = "save_video_chunk"
	EventEndInterview      = "end_interview"
	EventAck               = "ack"
	EventPartialTranscript = "partial_transcript"
	EventTranscriptResult  = "transcript_result"
	EventError             = "error"
)

const (
	defaultPingInterval = 25 * time.Second
	noActiveSession     = "No active session"
	clientDisconnect    = "client disconnect"
)

var (
	ErrNotConnected    = errors.New("realtime: not connected")
	ErrDisconnected    = errors.New("realtime: disconnected")
	ErrNoSession       = errors.New("realtime: no active session")
	ErrAckTimeout      = errors.New("realtime: ack timeout")
	ErrHandshakeFailed = errors.New("realtime: handshake rejected")
)

// Envelope is the JSON frame carried in every text message.
type Envelope struct {
	Event string          `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Options configures a Client.
type Options struct {
	URL          string
	Header       http.Header
	AckTimeout   time.Duration
	PingInterval time.Duration
	Dialer       *websocket.Dialer
}

// Client manages the WebSocket connection to the realtime transcript service.
type Client struct {
	opts    Options
	handler domain.Handler

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	state   State
	gen     uint64
	nextID  uint64
	pending map[uint64]*Call

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient creates a new realtime client.
func NewClient(opts Options, handler domain.Handler) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:    opts,
		handler: handler,
		pending: make(map[uint64]*Call),
		closed:  make(chan struct{}),
	}
}

var _ domain.Channel = (*Client)(nil)

// Call is an emitted event awaiting its acknowledgement.
type Call struct {
	Event string
	ID    uint64

	timeout time.Duration
	once    sync.Once
	done    chan struct{}
	ack     domain.Ack
	err     error
}

func newCall(event string, id uint64, timeout time.Duration) *Call {
	return &Call{Event: event, ID: id, timeout: timeout, done: make(chan struct{})}
}

func (c *Call) resolve(ack domain.Ack, err error) {
	c.once.Do(func() {
		c.ack = ack
		c.err = err
		close(c.done)
	})
}

// Done is closed once the call has an outcome.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the ack arrives, the connection drops, the ack timeout
// elapses or ctx is done.
func (c *Call) Wait(ctx context.Context) (domain.Ack, error) {
	var timeout <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-c.done:
		return c.ack, c.err
	case <-timeout:
		return domain.Ack{}, fmt.Errorf("%s: %w", c.Event, ErrAckTimeout)
	case <-ctx.Done():
		return domain.Ack{}, ctx.Err()
	}
}

// Connect dials the realtime WebSocket and starts the read loop. The
// handler's OnConnect runs on its own goroutine so it may block on acks.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	select {
	case <-c.closed:
		c.mu.Unlock()
		return ErrDisconnected
	default:
	}
	c.state = Connecting
	c.mu.Unlock()

	log.Printf("[realtime] connecting to %s", c.opts.URL)

	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		conn.Close()
		return ErrDisconnected
	default:
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	go c.readLoop()
	go c.pingLoop()
	if c.handler != nil {
		go c.handler.OnConnect()
	}
	return nil
}

// Close shuts down the WebSocket connection.
func (c *Client) Close() {
	c.shutdown(clientDisconnect)
}

func (c *Client) shutdown(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		wasConnected := c.state.connected()
		c.state = Disconnected
		c.gen++
		pending := c.pending
		c.pending = make(map[uint64]*Call)
		conn := c.conn
		c.mu.Unlock()

		for _, call := range pending {
			call.resolve(domain.Ack{}, ErrDisconnected)
		}
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			conn.Close()
		}

		log.Printf("[realtime] disconnected: %s", reason)
		if wasConnected && c.handler != nil {
			c.handler.OnDisconnect(reason)
		}
	})
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connected reports whether the socket is open.
func (c *Client) Connected() bool {
	return c.State().connected()
}

// SessionEstablished reports whether the handshake succeeded for the current question.
func (c *Client) SessionEstablished() bool {
	return c.State() == Active
}

// Invalidate drops the current session while keeping the socket.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.connected() {
		c.state = Connected
		c.gen++
	}
}

// Demote marks the session inactive after the server reported it gone.
func (c *Client) Demote() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Active {
		log.Printf("[realtime] session demoted")
		c.state = Connected
		c.gen++
	}
}

// Establish runs the session handshake. The session becomes active only
// when the ack is present with ok set; anything else leaves it inactive.
func (c *Client) Establish(ctx context.Context, interviewID, responseID string) error {
	c.mu.Lock()
	if !c.state.connected() {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.gen++
	gen := c.gen
	c.state = HandshakePending
	c.mu.Unlock()

	call, err := c.Emit(EventStartInterview, domain.HandshakeRequest{
		InterviewID: interviewID,
		ResponseID:  responseID,
	})
	if err != nil {
		c.abandonHandshake(gen)
		return err
	}

	ack, err := call.Wait(ctx)
	if err != nil {
		c.abandonHandshake(gen)
		log.Printf("[realtime] handshake failed: %v", err)
		return err
	}
	if !ack.Present || !ack.OK {
		c.abandonHandshake(gen)
		log.Printf("[realtime] handshake rejected: present=%v ok=%v error=%q", ack.Present, ack.OK, ack.Error)
		if ack.Error != "" {
			return fmt.Errorf("%w: %s", ErrHandshakeFailed, ack.Error)
		}
		return ErrHandshakeFailed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != HandshakePending {
		return ErrDisconnected
	}
	c.state = Active
	log.Printf("[realtime] session active: response=%s session=%s", responseID, ack.SessionID)
	return nil
}

func (c *Client) abandonHandshake(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.state == HandshakePending {
		c.state = Connected
	}
}

// SendAudioChunk transmits one microphone frame. It is refused unless the
// session is active. The ack is awaited in the background and a
// "No active session" reply demotes the session.
func (c *Client) SendAudioChunk(data []byte) error {
	if !c.SessionEstablished() {
		return ErrNoSession
	}
	call, err := c.emitBinary(EventSendAudioChunk, data)
	if err != nil {
		return err
	}
	go func() {
		ack, err := call.Wait(context.Background())
		if err != nil {
			if !errors.Is(err, ErrDisconnected) {
				log.Printf("[realtime] audio chunk %d: %v", call.ID, err)
			}
			return
		}
		if ack.Error != "" && strings.Contains(ack.Error, noActiveSession) {
			c.Demote()
		}
	}()
	return nil
}

// SaveVideoChunk sends a screen-recording segment and waits for its ack.
func (c *Client) SaveVideoChunk(ctx context.Context, chunk domain.VideoChunk) error {
	call, err := c.Emit(EventSaveVideoChunk, chunk)
	if err != nil {
		return err
	}
	ack, err := call.Wait(ctx)
	if err != nil {
		return err
	}
	if ack.Present && ack.Error != "" {
		return fmt.Errorf("save video chunk %d: %s", chunk.ChunkIndex, ack.Error)
	}
	return nil
}

// EndInterview asks the service to finalise the session.
func (c *Client) EndInterview(ctx context.Context, responseID string) (domain.Ack, error) {
	call, err := c.Emit(EventEndInterview, domain.EndRequest{ResponseID: responseID})
	if err != nil {
		return domain.Ack{}, err
	}
	return call.Wait(ctx)
}

// Emit sends an event and returns the call tracking its ack.
func (c *Client) Emit(event string, payload any) (*Call, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event, err)
	}

	call, conn, err := c.register(event)
	if err != nil {
		return nil, err
	}

	msg, err := json.Marshal(Envelope{Event: event, ID: call.ID, Data: data})
	if err != nil {
		c.forget(call.ID)
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if event != EventSaveVideoChunk {
		log.Printf("[realtime] >>> %s", string(msg))
	} else {
		log.Printf("[realtime] >>> %s id=%d (%d bytes)", event, call.ID, len(msg))
	}

	if err := c.write(conn, websocket.TextMessage, msg); err != nil {
		c.forget(call.ID)
		return nil, err
	}
	return call, nil
}

func (c *Client) emitBinary(event string, payload []byte) (*Call, error) {
	call, conn, err := c.register(event)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(frame[:8], call.ID)
	copy(frame[8:], payload)

	if err := c.write(conn, websocket.BinaryMessage, frame); err != nil {
		c.forget(call.ID)
		return nil, err
	}
	return call, nil
}

func (c *Client) register(event string) (*Call, *websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.connected() || c.conn == nil {
		return nil, nil, ErrNotConnected
	}
	c.nextID++
	call := newCall(event, c.nextID, c.opts.AckTimeout)
	c.pending[call.ID] = call
	return call, c.conn, nil
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) write(conn *websocket.Conn, kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(kind, data); err != nil {
		log.Printf("[realtime] write error: %v", err)
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	reason := clientDisconnect
	defer func() { c.shutdown(reason) }()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Printf("[realtime] read error: %v", err)
				reason = "transport close: " + err.Error()
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[realtime] unmarshal error: %v", err)
			continue
		}
		if env.Event != EventAck {
			log.Printf("[realtime] <<< %s", string(data))
		}

		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Event {
	case EventAck:
		c.mu.Lock()
		call, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if !ok {
			log.Printf("[realtime] ack for unknown id %d", env.ID)
			return
		}
		var ack domain.Ack
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &ack); err != nil {
				log.Printf("[realtime] unmarshal ack %d: %v", env.ID, err)
			} else {
				ack.Present = true
			}
		}
		call.resolve(ack, nil)

	case EventPartialTranscript, EventTranscriptResult:
		var ev domain.TranscriptEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.Printf("[realtime] unmarshal %s: %v", env.Event, err)
			return
		}
		if env.Event == EventTranscriptResult {
			ev.Result = true
			ev.Final = true
		}
		if c.handler != nil {
			c.handler.OnTranscript(ev)
		}

	case EventError:
		var se domain.ServerError
		if err := json.Unmarshal(env.Data, &se); err != nil || se.Error == "" {
			se.Error = string(env.Data)
		}
		if c.handler != nil {
			c.handler.OnServerError(se.Error)
		}

	default:
		log.Printf("[realtime] unhandled event: %s", env.Event)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.writeMu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					log.Printf("[realtime] ping error: %v", err)
				}
				return
			}
		}
	}
}
