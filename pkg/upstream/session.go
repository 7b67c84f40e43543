package upstream

import (
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitechdev/TrackSpec/pkg/config"
	"github.com/bitechdev/TrackSpec/pkg/detection"
	"github.com/bitechdev/TrackSpec/pkg/logger"
	"github.com/bitechdev/TrackSpec/pkg/metrics"
	"github.com/bitechdev/TrackSpec/pkg/protocol"
)

// State is the protocol state of an upstream session
type State int32

const (
	StateConnecting State = iota
	StateAwaitingAck
	StateSubscribing
	StateStreaming
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is an exit state
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Exit reasons reported in the terminal connection status
const (
	ReasonComplete  = "complete"
	ReasonError     = "error"
	ReasonTransport = "transport"
	ReasonStopped   = "stopped"
)

// Sink receives decoded events and connection status changes from a
// session. PublishDetection runs synchronously inside the session's
// streaming loop, so its latency throttles that device's stream only.
type Sink interface {
	PublishDetection(deviceID string, activity *detection.Activity)
	PublishStatus(deviceID string, status, reason string)
}

// subscriptionQuery is the fixed subscription document sent for every
// device, parameterized only by the deviceId variable.
const subscriptionQuery = `
subscription OnDeviceDetection($deviceId: ID!) {
  detectionActivity(filter: { dataSourceId: { eq: $deviceId }}) {
    track {
        id
        dataSource {
            name
        }
        tag
        video {
            url
            thumbnailUrl
            displayName
            resolutionHeight
            resolutionWidth
            dataSource {
                id
                name
                type
                device {
                    name
                }
            }
        }
        detections {
            timestamp
            metadata
            createdAt
            updatedAt
            direction
            geofenceIds
            zoneIds
            globalTrackId
            deviceId
            tag
            polygon {
                type
                coordinates
            }
            position {
                type
                coordinates
            }
        }
    }
    timestamp
    direction
    position {
        type
        coordinates
    }
    polygon {
        type
        coordinates
    }
  }
}
`

// Session owns one upstream connection for one device. It drives the
// handshake-then-stream protocol sequentially in a single goroutine;
// the only concurrent entry point is Stop.
type Session struct {
	deviceID       string
	subscriptionID string
	cfg            config.UpstreamConfig
	sink           Sink

	conn    *websocket.Conn
	connMu  sync.Mutex
	state   atomic.Int32
	stopped atomic.Bool
	done    chan struct{}

	// onExit runs exactly once when the session reaches a terminal
	// state; the registry uses it to remove its own entry
	onExit func()
}

// NewSession creates a session for the given device key
func NewSession(deviceID string, cfg config.UpstreamConfig, sink Sink) *Session {
	return &Session{
		deviceID:       deviceID,
		subscriptionID: "sub_" + deviceID,
		cfg:            cfg,
		sink:           sink,
		done:           make(chan struct{}),
	}
}

// DeviceID returns the device key this session subscribes to
func (s *Session) DeviceID() string {
	return s.deviceID
}

// State returns the current protocol state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed when the session has reached a terminal state and
// released its resources
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop requests cooperative cancellation and force-closes the transport
// to unblock a pending read. Safe to call multiple times and safe to
// call while the session is tearing down on its own.
func (s *Session) Stop() {
	s.stopped.Store(true)
	s.closeConn()
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Session) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Run executes the session end to end: connect, handshake, subscribe,
// stream. It always reaches a terminal state, removes itself via
// onExit, and emits a terminal connection status before returning.
func (s *Session) Run() {
	defer logger.CatchPanic("upstream.Session.Run")

	metrics.GetProvider().IncActiveSessions()

	reason, terminal := s.run()

	s.setState(StateClosing)
	s.closeConn()
	s.setState(terminal)

	if s.onExit != nil {
		s.onExit()
	}

	// Terminal status on every exit path so observers can react,
	// e.g. by re-joining to trigger a fresh session.
	s.sink.PublishStatus(s.deviceID, "disconnected", reason)
	metrics.GetProvider().DecActiveSessions()

	logger.Info("[%s] Session finished (state: %s, reason: %s)", s.deviceID, s.State(), reason)
	close(s.done)
}

// run drives the state machine and returns the exit reason plus the
// terminal state to settle in. Transport failures before Streaming are
// Failed; a naturally closed stream is Closed.
func (s *Session) run() (string, State) {
	s.setState(StateConnecting)
	if err := s.connect(); err != nil {
		logger.Error("[%s] Failed to connect upstream: %v", s.deviceID, err)
		return ReasonTransport, StateFailed
	}

	s.setState(StateAwaitingAck)
	if err := s.handshake(); err != nil {
		if s.stopped.Load() {
			return ReasonStopped, StateClosed
		}
		logger.Error("[%s] Handshake failed: %v", s.deviceID, err)
		return ReasonTransport, StateFailed
	}

	s.setState(StateSubscribing)
	if err := s.subscribe(); err != nil {
		if s.stopped.Load() {
			return ReasonStopped, StateClosed
		}
		logger.Error("[%s] Subscribe failed: %v", s.deviceID, err)
		return ReasonTransport, StateFailed
	}

	s.setState(StateStreaming)
	logger.Info("[%s] Subscription started (id: %s)", s.deviceID, s.subscriptionID)
	s.sink.PublishStatus(s.deviceID, "connected", "")

	reason := s.stream()
	if reason == ReasonError {
		return reason, StateFailed
	}
	return reason, StateClosed
}

func (s *Session) connect() error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{"graphql-transport-ws"},
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: s.cfg.InsecureSkipVerify},
	}

	header := http.Header{}
	header.Set("x-token-id", s.cfg.TokenID)
	header.Set("x-token-value", s.cfg.TokenValue)

	conn, _, err := dialer.Dial(s.cfg.WSEndpoint, header)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	// Stop may have raced the dial; close immediately so the session
	// tears down instead of streaming with no observers.
	if s.stopped.Load() {
		s.closeConn()
	}
	return nil
}

// handshake sends connection_init and reads frames until the server
// acknowledges. Well-formed frames of any other type are logged and
// ignored; a malformed frame before the ack is fatal.
func (s *Session) handshake() error {
	init, err := protocol.NewConnectionInit(s.cfg.TokenID, s.cfg.TokenValue)
	if err != nil {
		return err
	}
	if err := s.writeFrame(init); err != nil {
		return err
	}
	logger.Debug("[%s] Sent connection_init", s.deviceID)

	for {
		frame, err := s.readFrame()
		if err != nil {
			return err
		}
		if frame == nil {
			return protocol.ErrMalformedFrame
		}
		if frame.Type == protocol.FrameConnectionAck {
			return nil
		}
		logger.Debug("[%s] Ignoring %s frame while awaiting ack", s.deviceID, frame.Type)
	}
}

func (s *Session) subscribe() error {
	sub, err := protocol.NewSubscribe(s.subscriptionID, subscriptionQuery, map[string]interface{}{
		"deviceId": s.deviceID,
	})
	if err != nil {
		return err
	}
	return s.writeFrame(sub)
}

// stream is the main read loop. It exits with the reason for teardown.
func (s *Session) stream() string {
	for !s.stopped.Load() {
		frame, err := s.readFrame()
		if err != nil {
			if s.stopped.Load() {
				return ReasonStopped
			}
			logger.Info("[%s] Upstream connection closed: %v", s.deviceID, err)
			return ReasonTransport
		}
		if frame == nil {
			continue // malformed frame, skipped
		}

		metrics.GetProvider().RecordFrameReceived(string(frame.Type))

		switch frame.Type {
		case protocol.FrameNext:
			s.handleNext(frame)

		case protocol.FramePing:
			if err := s.writeFrame(protocol.NewPong()); err != nil {
				if s.stopped.Load() {
					return ReasonStopped
				}
				logger.Error("[%s] Failed to send pong: %v", s.deviceID, err)
				return ReasonTransport
			}

		case protocol.FrameError:
			if errs := frame.Errors(); len(errs) > 0 {
				logger.Error("[%s] Upstream error: %s", s.deviceID, errs[0].Message)
			} else {
				logger.Error("[%s] Upstream error frame: %s", s.deviceID, string(frame.Payload))
			}
			return ReasonError

		case protocol.FrameComplete:
			logger.Info("[%s] Subscription complete", s.deviceID)
			return ReasonComplete

		case protocol.FrameConnectionAck, protocol.FramePong:
			// Late ack or unsolicited pong; nothing to do.

		case protocol.FrameConnectionInit, protocol.FrameSubscribe:
			// Client-to-server types; a server must not send these.
			logger.Warn("[%s] Unexpected %s frame from upstream", s.deviceID, frame.Type)
		}
	}

	return ReasonStopped
}

func (s *Session) handleNext(frame *protocol.Frame) {
	activity, ok, err := detection.ExtractActivity(frame.Payload, s.deviceID)
	if err != nil {
		logger.Warn("[%s] Dropping undecodable next payload: %v", s.deviceID, err)
		metrics.GetProvider().RecordFrameDropped()
		return
	}
	if !ok {
		return
	}

	// Persistence and fan-out complete before the next frame is read,
	// preserving per-device ordering.
	s.sink.PublishDetection(s.deviceID, activity)
}

// readFrame reads and decodes one frame. A malformed frame returns
// (nil, nil): logged, counted, and skipped by the caller.
func (s *Session) readFrame() (*protocol.Frame, error) {
	conn := s.currentConn()
	if conn == nil {
		return nil, websocket.ErrCloseSent
	}

	// The read timeout bounds handshake reads only. A streaming read
	// blocks indefinitely: a quiet device is healthy, and Stop unblocks
	// the read by closing the transport.
	if s.State() != StateStreaming && s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	frame, err := protocol.ParseFrame(data)
	if err != nil {
		logger.Warn("[%s] Dropping malformed frame: %v", s.deviceID, err)
		metrics.GetProvider().RecordFrameDropped()
		return nil, nil
	}
	return frame, nil
}

func (s *Session) writeFrame(frame *protocol.Frame) error {
	conn := s.currentConn()
	if conn == nil {
		return websocket.ErrCloseSent
	}

	data, err := frame.ToJSON()
	if err != nil {
		return err
	}

	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) currentConn() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}
