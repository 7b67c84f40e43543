package upstream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/TrackSpec/pkg/config"
	"github.com/bitechdev/TrackSpec/pkg/detection"
	"github.com/bitechdev/TrackSpec/pkg/protocol"
)

// recordingSink captures everything a session publishes
type recordingSink struct {
	mu       sync.Mutex
	events   []*detection.Activity
	statuses [][2]string // status, reason

	eventCh  chan *detection.Activity
	statusCh chan [2]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		eventCh:  make(chan *detection.Activity, 16),
		statusCh: make(chan [2]string, 16),
	}
}

func (r *recordingSink) PublishDetection(deviceID string, activity *detection.Activity) {
	r.mu.Lock()
	r.events = append(r.events, activity)
	r.mu.Unlock()
	r.eventCh <- activity
}

func (r *recordingSink) PublishStatus(deviceID string, status, reason string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, [2]string{status, reason})
	r.mu.Unlock()
	r.statusCh <- [2]string{status, reason}
}

func (r *recordingSink) waitStatus(t *testing.T) [2]string {
	t.Helper()
	select {
	case s := <-r.statusCh:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status")
		return [2]string{}
	}
}

func (r *recordingSink) waitEvent(t *testing.T) *detection.Activity {
	t.Helper()
	select {
	case e := <-r.eventCh:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

var testUpgrader = websocket.Upgrader{
	Subprotocols: []string{"graphql-transport-ws"},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// fakeUpstream runs an httptest server that performs the server side of
// the handshake and then hands the connection to script
func fakeUpstream(t *testing.T, script func(t *testing.T, conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tid", r.Header.Get("x-token-id"))
		assert.Equal(t, "tval", r.Header.Get("x-token-value"))

		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// connection_init
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.ParseFrame(data)
		require.NoError(t, err)
		require.Equal(t, protocol.FrameConnectionInit, frame.Type)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection_ack"}`)))

		// subscribe
		_, data, err = conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err = protocol.ParseFrame(data)
		require.NoError(t, err)
		require.Equal(t, protocol.FrameSubscribe, frame.Type)

		var payload protocol.SubscribePayload
		require.NoError(t, json.Unmarshal(frame.Payload, &payload))
		assert.Contains(t, payload.Query, "detectionActivity")

		script(t, conn)
	}))
}

func testConfig(srv *httptest.Server) config.UpstreamConfig {
	return config.UpstreamConfig{
		WSEndpoint:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		TokenID:          "tid",
		TokenValue:       "tval",
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func TestSession_HandshakeAndStream(t *testing.T) {
	release := make(chan struct{})
	srv := fakeUpstream(t, func(t *testing.T, conn *websocket.Conn) {
		sendFrame(t, conn, `{"type":"next","id":"sub_d1","payload":{"data":{"detectionActivity":{"direction":"IN","timestamp":"2025-01-01T00:00:00Z"}}}}`)
		<-release
		sendFrame(t, conn, `{"type":"complete","id":"sub_d1"}`)
	})
	defer srv.Close()
	defer close(release)

	sink := newRecordingSink()
	session := NewSession("d1", testConfig(srv), sink)
	go session.Run()

	// connected status precedes any event
	status := sink.waitStatus(t)
	assert.Equal(t, "connected", status[0])

	event := sink.waitEvent(t)
	assert.Equal(t, "d1", event.DeviceID)
	assert.Equal(t, "IN", event.Direction)
	assert.Equal(t, "2025-01-01T00:00:00Z", event.Timestamp)

	release <- struct{}{}

	status = sink.waitStatus(t)
	assert.Equal(t, "disconnected", status[0])
	assert.Equal(t, ReasonComplete, status[1])

	<-session.Done()
	assert.Equal(t, StateClosed, session.State())
}

func TestSession_PingProducesPong(t *testing.T) {
	gotPong := make(chan struct{})
	srv := fakeUpstream(t, func(t *testing.T, conn *websocket.Conn) {
		sendFrame(t, conn, `{"type":"ping"}`)

		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		frame, err := protocol.ParseFrame(data)
		require.NoError(t, err)
		assert.Equal(t, protocol.FramePong, frame.Type)
		close(gotPong)

		sendFrame(t, conn, `{"type":"complete","id":"sub_d1"}`)
	})
	defer srv.Close()

	sink := newRecordingSink()
	session := NewSession("d1", testConfig(srv), sink)
	go session.Run()

	select {
	case <-gotPong:
	case <-time.After(5 * time.Second):
		t.Fatal("no pong received")
	}
	<-session.Done()
}

func TestSession_ErrorFrameFailsSession(t *testing.T) {
	srv := fakeUpstream(t, func(t *testing.T, conn *websocket.Conn) {
		sendFrame(t, conn, `{"type":"error","id":"sub_d1","payload":[{"message":"subscription rejected"}]}`)
	})
	defer srv.Close()

	sink := newRecordingSink()
	session := NewSession("d1", testConfig(srv), sink)
	go session.Run()

	// connected, then disconnected with the error reason
	assert.Equal(t, "connected", sink.waitStatus(t)[0])
	status := sink.waitStatus(t)
	assert.Equal(t, "disconnected", status[0])
	assert.Equal(t, ReasonError, status[1])

	<-session.Done()
	assert.Equal(t, StateFailed, session.State())
}

func TestSession_MalformedFrameIsSkipped(t *testing.T) {
	srv := fakeUpstream(t, func(t *testing.T, conn *websocket.Conn) {
		sendFrame(t, conn, `this is not json`)
		sendFrame(t, conn, `{"type":"surprise"}`)
		sendFrame(t, conn, `{"type":"next","id":"sub_d1","payload":{"data":{"detectionActivity":{"direction":"OUT"}}}}`)
		sendFrame(t, conn, `{"type":"complete","id":"sub_d1"}`)
	})
	defer srv.Close()

	sink := newRecordingSink()
	session := NewSession("d1", testConfig(srv), sink)
	go session.Run()

	event := sink.waitEvent(t)
	assert.Equal(t, "OUT", event.Direction)

	<-session.Done()
	assert.Equal(t, StateClosed, session.State())
}

func TestSession_NextWithoutActivityIsIgnored(t *testing.T) {
	srv := fakeUpstream(t, func(t *testing.T, conn *websocket.Conn) {
		sendFrame(t, conn, `{"type":"next","id":"sub_d1","payload":{"data":{"detectionActivity":null}}}`)
		sendFrame(t, conn, `{"type":"complete","id":"sub_d1"}`)
	})
	defer srv.Close()

	sink := newRecordingSink()
	session := NewSession("d1", testConfig(srv), sink)
	go session.Run()

	<-session.Done()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.events)
}

func TestSession_StopUnblocksRead(t *testing.T) {
	srv := fakeUpstream(t, func(t *testing.T, conn *websocket.Conn) {
		// Keep the connection open; the session blocks in a read until
		// Stop closes the transport underneath it.
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	sink := newRecordingSink()
	session := NewSession("d1", testConfig(srv), sink)
	go session.Run()

	assert.Equal(t, "connected", sink.waitStatus(t)[0])

	session.Stop()
	session.Stop() // idempotent

	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop in time")
	}

	status := sink.statuses[len(sink.statuses)-1]
	assert.Equal(t, "disconnected", status[0])
	assert.Equal(t, ReasonStopped, status[1])
	assert.Equal(t, StateClosed, session.State())
}

func TestSession_OrderingPreserved(t *testing.T) {
	srv := fakeUpstream(t, func(t *testing.T, conn *websocket.Conn) {
		for _, dir := range []string{"IN", "OUT", "IN", "OUT", "IN"} {
			sendFrame(t, conn, `{"type":"next","id":"sub_d1","payload":{"data":{"detectionActivity":{"direction":"`+dir+`"}}}}`)
		}
		sendFrame(t, conn, `{"type":"complete","id":"sub_d1"}`)
	})
	defer srv.Close()

	sink := newRecordingSink()
	session := NewSession("d1", testConfig(srv), sink)
	go session.Run()

	<-session.Done()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 5)
	want := []string{"IN", "OUT", "IN", "OUT", "IN"}
	for i, event := range sink.events {
		assert.Equal(t, want[i], event.Direction)
	}
}

func TestSession_IdleStreamStaysConnected(t *testing.T) {
	srv := fakeUpstream(t, func(t *testing.T, conn *websocket.Conn) {
		// Quiet device: no frames for well past the read timeout, then a
		// detection. The session must still be streaming to receive it.
		time.Sleep(700 * time.Millisecond)
		sendFrame(t, conn, `{"type":"next","id":"sub_d1","payload":{"data":{"detectionActivity":{"direction":"IN"}}}}`)
		sendFrame(t, conn, `{"type":"complete","id":"sub_d1"}`)
	})
	defer srv.Close()

	cfg := testConfig(srv)
	cfg.ReadTimeout = 200 * time.Millisecond

	sink := newRecordingSink()
	session := NewSession("d1", cfg, sink)
	go session.Run()

	assert.Equal(t, "connected", sink.waitStatus(t)[0])

	event := sink.waitEvent(t)
	assert.Equal(t, "IN", event.Direction)

	status := sink.waitStatus(t)
	assert.Equal(t, "disconnected", status[0])
	assert.Equal(t, ReasonComplete, status[1])

	<-session.Done()
	assert.Equal(t, StateClosed, session.State())
}

func TestSession_MalformedFrameDuringHandshakeIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, _, err = conn.ReadMessage() // connection_init
		require.NoError(t, err)

		// Garbage instead of the ack.
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not a frame`)))

		_, _, _ = conn.ReadMessage() // hold until the client closes
	}))
	defer srv.Close()

	sink := newRecordingSink()
	session := NewSession("d1", testConfig(srv), sink)
	go session.Run()

	status := sink.waitStatus(t)
	assert.Equal(t, "disconnected", status[0])
	assert.Equal(t, ReasonTransport, status[1])

	<-session.Done()
	assert.Equal(t, StateFailed, session.State())
}

func TestSession_ConnectFailure(t *testing.T) {
	sink := newRecordingSink()
	cfg := config.UpstreamConfig{
		WSEndpoint:       "ws://127.0.0.1:1", // nothing listens here
		TokenID:          "tid",
		TokenValue:       "tval",
		HandshakeTimeout: time.Second,
	}
	session := NewSession("d1", cfg, sink)
	go session.Run()

	status := sink.waitStatus(t)
	assert.Equal(t, "disconnected", status[0])
	assert.Equal(t, ReasonTransport, status[1])

	<-session.Done()
	assert.Equal(t, StateFailed, session.State())
}
