package flowalpha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/flowbot/internal/crypto"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second

	// eventBuffer is the capacity of the outbound event channel.
	eventBuffer = 256
)

// Stream is a WebSocket client for incremental FlowAlpha updates. Events are
// delivered on the channel returned by Events; malformed frames are counted
// and skipped rather than terminating the stream.
type Stream struct {
	wsURL string
	auth  *crypto.HMACAuth
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Tracked subscriptions for reconnection.
	subscribedSymbols []string
	cmdID             int64

	events    chan StreamEvent
	malformed atomic.Int64
	dropped   atomic.Int64

	// done is closed when the stream shuts down.
	done chan struct{}
}

// subscribeCmd is the wire format of a subscription request.
type subscribeCmd struct {
	ID      int64    `json:"id"`
	Cmd     string   `json:"cmd"`
	Symbols []string `json:"symbols"`
}

// NewStream creates a new FlowAlpha WebSocket stream.
//
// wsURL is the WebSocket endpoint, e.g. "wss://stream.flowalpha.io/v1/stream".
func NewStream(wsURL string, auth *crypto.HMACAuth) *Stream {
	return &Stream{
		wsURL:  wsURL,
		auth:   auth,
		events: make(chan StreamEvent, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the channel incremental updates are delivered on. The
// channel is closed when the stream shuts down.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// MalformedCount returns how many frames failed to parse since startup.
func (s *Stream) MalformedCount() int64 {
	return s.malformed.Load()
}

// DroppedCount returns how many events were dropped because the consumer
// fell behind the buffered channel.
func (s *Stream) DroppedCount() int64 {
	return s.dropped.Load()
}

// Connect establishes the WebSocket connection, authenticating the handshake
// with the same HMAC headers as the REST client.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("flowalpha/ws: stream is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	header := http.Header{}
	for k, v := range s.auth.Headers(http.MethodGet, "/v1/stream", "") {
		header.Set(k, v)
	}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		return fmt.Errorf("flowalpha/ws: connect: %w", err)
	}

	s.conn = conn

	// Configure read deadline and pong handler.
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Start background loops.
	go s.readLoop()
	go s.pingLoop()

	// Re-subscribe to any previously tracked symbols.
	if len(s.subscribedSymbols) > 0 {
		if err := s.sendSubscribe(s.subscribedSymbols); err != nil {
			return fmt.Errorf("flowalpha/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to incremental updates for the given symbols.
func (s *Stream) Subscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("flowalpha/ws: not connected")
	}

	if err := s.sendSubscribe(symbols); err != nil {
		return fmt.Errorf("flowalpha/ws: subscribe: %w", err)
	}

	// Track subscriptions for reconnection.
	existing := make(map[string]struct{}, len(s.subscribedSymbols))
	for _, sym := range s.subscribedSymbols {
		existing[sym] = struct{}{}
	}
	for _, sym := range symbols {
		if _, ok := existing[sym]; !ok {
			s.subscribedSymbols = append(s.subscribedSymbols, sym)
		}
	}

	return nil
}

// Close shuts down the WebSocket connection and closes the event channel.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	var err error
	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err = s.conn.Close()
	}

	close(s.events)
	return err
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendSubscribe sends a subscribe command. Caller must hold s.mu.
func (s *Stream) sendSubscribe(symbols []string) error {
	s.cmdID++

	cmd := subscribeCmd{
		ID:      s.cmdID,
		Cmd:     "subscribe",
		Symbols: symbols,
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads frames from the WebSocket and delivers parsed
// events. On disconnect it attempts reconnection.
func (s *Stream) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}

			s.reconnect()
			return
		}

		s.handleFrame(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (s *Stream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame parses one raw frame and delivers it. Frames that do not parse
// or that name no symbol increment the malformed counter and are skipped. A
// full consumer channel drops the event rather than blocking the read loop.
func (s *Stream) handleFrame(raw []byte) {
	var event StreamEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		s.malformed.Add(1)
		return
	}
	if event.Type == "" || event.Symbol == "" {
		s.malformed.Add(1)
		return
	}

	select {
	case s.events <- event:
	case <-s.done:
	default:
		s.dropped.Add(1)
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff.
func (s *Stream) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-s.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
