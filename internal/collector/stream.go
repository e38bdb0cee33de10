package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	rpctypes "github.com/cometbft/cometbft/rpc/jsonrpc/types"
	"github.com/gorilla/websocket"
)

const (
	DefaultReceiveTimeout = 60 * time.Second
	DefaultRetryPause     = time.Second
	DefaultDNSPause       = 5 * time.Second

	// maxFrameSize bounds a single websocket message (large NewBlock events).
	maxFrameSize = 6250000
)

// ErrErrorFrame is returned when the node answers with a JSON-RPC error.
var ErrErrorFrame = errors.New("error frame received")

// StreamState is the connection state of a Stream.
type StreamState int

const (
	StateConnecting StreamState = iota
	StateSubscribed
	StateReceiving
	StateReconnecting
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateSubscribed:
		return "Subscribed"
	case StateReceiving:
		return "Receiving"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// Conn is the part of a websocket connection the stream uses.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// Dialer opens live event connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// FrameHandler consumes subscription results.
type FrameHandler interface {
	HandleEvent(ctx context.Context, result json.RawMessage)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer    *websocket.Dialer
	ReadLimit int64
}

var _ Conn = (*websocket.Conn)(nil)

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = maxFrameSize
	}
	conn.SetReadLimit(limit)
	return conn, nil
}

// Stream keeps a subscribed live event connection open, reconnecting
// until its context is cancelled.
type Stream struct {
	url     string
	topics  []string
	dialer  Dialer
	handler FrameHandler
	log     log.Logger

	ReceiveTimeout time.Duration
	RetryPause     time.Duration
	DNSPause       time.Duration
	// OnStateChange, when set, is called on every transition.
	OnStateChange func(StreamState)

	mu    sync.Mutex
	state StreamState
}

func NewStream(url string, topics []string, dialer Dialer, handler FrameHandler, logger log.Logger) *Stream {
	return &Stream{
		url:            url,
		topics:         topics,
		dialer:         dialer,
		handler:        handler,
		log:            logger,
		ReceiveTimeout: DefaultReceiveTimeout,
		RetryPause:     DefaultRetryPause,
		DNSPause:       DefaultDNSPause,
	}
}

// State returns the current connection state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) transition(to StreamState) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
	if s.OnStateChange != nil {
		s.OnStateChange(to)
	}
}

// Run connects, subscribes and receives until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			s.log.Info("Stream stopped", "url", s.url)
			return nil
		}

		s.transition(StateReconnecting)
		pause := s.RetryPause
		var (
			dnsErr   *net.DNSError
			closeErr *websocket.CloseError
		)
		switch {
		case errors.As(err, &dnsErr):
			pause = s.DNSPause
			s.log.Error("Network error during DNS lookup. Could not resolve WebSocket", "url", s.url, "retry_in", pause, "err", err)
		case errors.As(err, &closeErr):
			s.log.Error("Connection to WebSocket lost. Reconnecting", "url", s.url, "err", err)
		case errors.Is(err, ErrErrorFrame):
			s.log.Info("Reconnecting due to unexpected message from WebSocket", "url", s.url)
		default:
			s.log.Error("An unexpected error occurred in WebSocket. Reconnecting", "url", s.url, "err", err)
		}

		select {
		case <-ctx.Done():
			s.log.Info("Stream stopped", "url", s.url)
			return nil
		case <-time.After(pause):
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

// session runs one connection from dial to failure.
func (s *Stream) session(ctx context.Context) error {
	s.transition(StateConnecting)
	conn, err := s.dialer.Dial(ctx, s.url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	for i, topic := range s.topics {
		req, err := rpctypes.ArrayToRequest(rpctypes.JSONRPCIntID(i+1), "subscribe", []interface{}{topic})
		if err != nil {
			return fmt.Errorf("build subscribe request: %w", err)
		}
		s.log.Info("Subscribing to WebSocket", "url", s.url, "query", topic)
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe %q: %w", topic, err)
		}
	}
	s.transition(StateSubscribed)

	done := make(chan struct{})
	defer close(done)
	frames := make(chan readResult)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			select {
			case frames <- readResult{data: data, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	s.transition(StateReceiving)
	timeout := time.NewTimer(s.ReceiveTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			s.log.Error("No message received from WebSocket", "url", s.url, "timeout", s.ReceiveTimeout)
			timeout.Reset(s.ReceiveTimeout)
		case r := <-frames:
			if r.err != nil {
				return r.err
			}
			timeout.Reset(s.ReceiveTimeout)
			if err := s.handleFrame(ctx, r.data); err != nil {
				return err
			}
		}
	}
}

type frame struct {
	Result json.RawMessage    `json:"result"`
	Error  *rpctypes.RPCError `json:"error"`
}

func (s *Stream) handleFrame(ctx context.Context, data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Error("Unparsable message received from WebSocket", "url", s.url, "err", err)
		return nil
	}

	if len(f.Result) > 0 {
		var event struct {
			Query *string `json:"query"`
		}
		if err := json.Unmarshal(f.Result, &event); err == nil && event.Query != nil {
			s.handler.HandleEvent(ctx, f.Result)
			return nil
		}
	}
	if f.Error != nil {
		s.log.Error("Unexpected message received from WebSocket", "url", s.url, "data", string(data))
		return fmt.Errorf("%w: %s", ErrErrorFrame, f.Error.Error())
	}
	// subscription acks and other shapes
	return nil
}
