package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fasthttp/websocket"

	"github.com/keyloom/keyloom/audio"
	providerUtils "github.com/keyloom/keyloom/providers/utils"
	schemas "github.com/keyloom/keyloom/schemas"
)

// protocol is the vendor-specific half of a session: how to dial, what to
// send right after the socket opens, how to frame outbound audio, and how
// to translate inbound frames into unified events. Implementations call
// back into the base session for emission and state transitions.
type protocol interface {
	dialTarget(baseURL string) (url string, header http.Header, subprotocols []string)
	initialFrames() []any
	audioFrame(encoded string) any
	handleFrame(data []byte)
}

type pendingToolCall struct {
	name      string
	arguments string
}

// baseSession carries the lifecycle shared by every vendor: the dial and
// confirmation handshake, the read pump, reconnection, listener fan-out and
// the in-flight tool call registry. Vendor sessions embed it and plug in a
// protocol.
type baseSession struct {
	provider schemas.ProviderID
	proto    protocol
	logger   schemas.Logger
	opts     Options

	mu           sync.Mutex
	cfg          SessionConfig
	conn         *websocket.Conn
	status       Status
	confirmed    chan struct{}
	closing      bool
	attempts     int
	reconnecting bool

	// writeMu serializes socket writes; reads stay on the pump goroutine.
	writeMu sync.Mutex

	listenerMu sync.Mutex
	nextID     int
	listeners  map[int]Listener

	toolMu    sync.Mutex
	toolCalls map[string]pendingToolCall
}

func newBaseSession(provider schemas.ProviderID, cfg SessionConfig, opts Options) *baseSession {
	if opts.Logger == nil {
		opts.Logger = providerUtils.NopLogger{}
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	return &baseSession{
		provider:  provider,
		logger:    opts.Logger,
		opts:      opts,
		cfg:       cfg,
		status:    Status{State: StateDisconnected},
		listeners: make(map[int]Listener),
		toolCalls: make(map[string]pendingToolCall),
	}
}

func errNotConnected() *schemas.Error {
	return schemas.NewError(schemas.ErrCodeNetwork, "session is not connected")
}

// Provider reports which vendor this session talks to.
func (s *baseSession) Provider() schemas.ProviderID { return s.provider }

// Status returns a snapshot of the session state.
func (s *baseSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe registers a listener for session events. Listeners run on the
// socket read goroutine; the returned function removes the subscription.
func (s *baseSession) Subscribe(listener Listener) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.listenerMu.Unlock()
	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *baseSession) emit(event Event) {
	s.listenerMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		s.safeInvoke(fn, event)
	}
}

func (s *baseSession) safeInvoke(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("session listener panicked on %s: %v", event.Type, r))
		}
	}()
	fn(event)
}

// Connect dials the vendor endpoint, sends the initial configuration and
// blocks until the vendor confirms the session. The connected state is
// entered only on that confirmation, never on socket open.
func (s *baseSession) Connect(ctx context.Context) *schemas.Error {
	s.mu.Lock()
	if s.status.State == StateConnected || s.status.State == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.status.State = StateConnecting
	s.status.Error = ""
	s.closing = false
	confirmed := make(chan struct{})
	s.confirmed = confirmed
	s.mu.Unlock()

	url, header, subprotocols := s.proto.dialTarget(s.opts.BaseURL)
	dialer := websocket.Dialer{
		Subprotocols:     subprotocols,
		HandshakeTimeout: connectTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		connErr := schemas.NewOperationError(schemas.ErrCodeNetwork, "websocket dial failed", err).WithProvider(s.provider)
		s.failConnect(connErr)
		return connErr
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	for _, frame := range s.proto.initialFrames() {
		if sendErr := s.send(frame); sendErr != nil {
			conn.Close()
			s.failConnect(sendErr)
			return sendErr
		}
	}

	go s.readPump(conn)

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	select {
	case <-confirmed:
		s.mu.Lock()
		connected := s.status.State == StateConnected
		s.mu.Unlock()
		if !connected {
			return schemas.NewError(schemas.ErrCodeNetwork, "connection closed during session setup").WithProvider(s.provider)
		}
		return nil
	case <-timer.C:
		conn.Close()
		connErr := schemas.NewError(schemas.ErrCodeNetwork, "timed out waiting for session confirmation").WithProvider(s.provider)
		s.failConnect(connErr)
		return connErr
	case <-ctx.Done():
		conn.Close()
		connErr := schemas.NewOperationError(schemas.ErrCodeCanceled, "connect canceled", ctx.Err()).WithProvider(s.provider)
		s.failConnect(connErr)
		return connErr
	}
}

func (s *baseSession) failConnect(err *schemas.Error) {
	s.mu.Lock()
	s.conn = nil
	s.status.State = StateError
	s.status.Error = err.Message
	s.confirmed = nil
	s.mu.Unlock()
	s.emit(Event{Type: EventSessionError, Err: err})
}

// confirm transitions connecting to connected. Protocols call it when the
// vendor's session confirmation frame arrives.
func (s *baseSession) confirm(sessionID string) {
	s.mu.Lock()
	if s.status.State != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.status.State = StateConnected
	s.status.SessionID = sessionID
	s.status.ConnectedAt = time.Now()
	s.status.Error = ""
	s.attempts = 0
	s.status.ReconnectAttempts = 0
	confirmed := s.confirmed
	s.confirmed = nil
	s.mu.Unlock()

	if confirmed != nil {
		close(confirmed)
	}
	s.emit(Event{Type: EventSessionConnected, SessionID: sessionID})
}

func (s *baseSession) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(conn, err)
			return
		}
		s.proto.handleFrame(data)
	}
}

func (s *baseSession) handleClose(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// A newer connection or an explicit Disconnect already took over.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	wasConnected := s.status.State == StateConnected
	s.status.State = StateDisconnected
	confirmed := s.confirmed
	s.confirmed = nil
	s.mu.Unlock()

	if confirmed != nil {
		close(confirmed)
	}

	reason := "connection closed"
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		reason = err.Error()
	}
	s.emit(Event{Type: EventSessionDisconnected, Reason: reason})

	// Reconnect only for sessions that had fully connected. A session that
	// never got past the handshake surfaces its failure to the Connect
	// caller instead.
	if wasConnected && s.opts.AutoReconnect {
		go s.reconnectLoop()
	}
}

func (s *baseSession) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			return
		}
		if s.attempts >= s.opts.MaxReconnectAttempts {
			s.mu.Unlock()
			s.emit(Event{
				Type: EventSessionError,
				Err:  schemas.NewError(schemas.ErrCodeNetwork, "max reconnection attempts reached").WithProvider(s.provider),
			})
			return
		}
		s.attempts++
		attempt := s.attempts
		s.status.ReconnectAttempts = attempt
		s.mu.Unlock()

		time.Sleep(time.Duration(attempt) * s.opts.ReconnectDelay)

		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		if closing {
			return
		}

		err := s.Connect(context.Background())
		if err == nil {
			return
		}
		s.logger.Warn("reconnect attempt " + fmt.Sprint(attempt) + " failed: " + err.Message)
	}
}

// Disconnect closes the socket and disables any pending reconnection. It is
// safe to call at any state.
func (s *baseSession) Disconnect() {
	s.mu.Lock()
	s.closing = true
	conn := s.conn
	s.conn = nil
	hadConn := conn != nil
	s.status.State = StateDisconnected
	s.status.Error = ""
	confirmed := s.confirmed
	s.confirmed = nil
	s.mu.Unlock()

	if confirmed != nil {
		close(confirmed)
	}
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
		conn.Close()
	}
	if hadConn {
		s.emit(Event{Type: EventSessionDisconnected, Reason: "client disconnect"})
	}
	s.clearToolCalls()
}

// send marshals and writes a frame regardless of session state, used for
// the initial configuration during the handshake.
func (s *baseSession) send(message any) *schemas.Error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errNotConnected().WithProvider(s.provider)
	}

	payload, err := sonic.Marshal(message)
	if err != nil {
		return schemas.NewOperationError(schemas.ErrCodeInternal, "failed to encode session frame", err).WithProvider(s.provider)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return schemas.NewOperationError(schemas.ErrCodeNetwork, "websocket write failed", err).WithProvider(s.provider)
	}
	return nil
}

// sendConnected is send gated on the connected state, the path every
// outbound operation after the handshake goes through.
func (s *baseSession) sendConnected(message any) *schemas.Error {
	s.mu.Lock()
	connected := s.status.State == StateConnected
	s.mu.Unlock()
	if !connected {
		return errNotConnected().WithProvider(s.provider)
	}
	return s.send(message)
}

// SendAudio base64-encodes PCM16 samples and streams them in the vendor's
// audio envelope.
func (s *baseSession) SendAudio(samples []int16) *schemas.Error {
	return s.SendAudioBase64(audio.PCM16ToBase64(samples))
}

// SendAudioBase64 streams an already-encoded PCM16 payload.
func (s *baseSession) SendAudioBase64(encoded string) *schemas.Error {
	return s.sendConnected(s.proto.audioFrame(encoded))
}

func (s *baseSession) config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// mergeConfig overlays the non-zero fields of cfg onto the stored
// configuration and returns the result.
func (s *baseSession) mergeConfig(cfg SessionConfig) SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Model != "" {
		s.cfg.Model = cfg.Model
	}
	if cfg.Voice != "" {
		s.cfg.Voice = cfg.Voice
	}
	if cfg.Instructions != "" {
		s.cfg.Instructions = cfg.Instructions
	}
	if cfg.Temperature != nil {
		s.cfg.Temperature = cfg.Temperature
	}
	if cfg.MaxResponseTokens != 0 {
		s.cfg.MaxResponseTokens = cfg.MaxResponseTokens
	}
	if cfg.InputAudioFormat != "" {
		s.cfg.InputAudioFormat = cfg.InputAudioFormat
	}
	if cfg.OutputAudioFormat != "" {
		s.cfg.OutputAudioFormat = cfg.OutputAudioFormat
	}
	if cfg.TurnDetection != nil {
		s.cfg.TurnDetection = cfg.TurnDetection
	}
	if cfg.Tools != nil {
		s.cfg.Tools = cfg.Tools
	}
	return s.cfg
}

// trackToolCall records an announced function call so a later
// SubmitToolResult can be validated against it.
func (s *baseSession) trackToolCall(callID, name, arguments string) {
	s.toolMu.Lock()
	s.toolCalls[callID] = pendingToolCall{name: name, arguments: arguments}
	s.toolMu.Unlock()
}

// takeToolCall removes and returns the pending call for callID, failing
// when the id is unknown.
func (s *baseSession) takeToolCall(callID string) (pendingToolCall, *schemas.Error) {
	s.toolMu.Lock()
	defer s.toolMu.Unlock()
	call, ok := s.toolCalls[callID]
	if !ok {
		return pendingToolCall{}, schemas.NewError(schemas.ErrCodeInternal,
			"unknown tool call id: "+callID).WithProvider(s.provider)
	}
	delete(s.toolCalls, callID)
	return call, nil
}

func (s *baseSession) dropToolCall(callID string) {
	s.toolMu.Lock()
	delete(s.toolCalls, callID)
	s.toolMu.Unlock()
}

func (s *baseSession) clearToolCalls() {
	s.toolMu.Lock()
	s.toolCalls = make(map[string]pendingToolCall)
	s.toolMu.Unlock()
}
