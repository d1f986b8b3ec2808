package mediator

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamTask is the live-streaming task, component J: a map from
// recipient DID to a delivery channel, owned exclusively by the one
// goroutine running Run, exactly as spec §5 "Shared-resource policy"
// requires. All mutation arrives over register/unregister/publish/setLive
// channels rather than through a shared mutex — generalized from the
// teacher's WSHub broadcast-to-everyone model
// (cmd/blackhole/commands/dashboard.go) to a per-recipient unicast map.
type StreamTask struct {
	log *zap.Logger

	register   chan *streamClient
	unregister chan *streamClient
	publish    chan publishRequest
	setLive    chan liveToggle
	liveQuery  chan liveQueryRequest

	clients map[string]*streamClient // recipient DID -> active connection
}

type liveQueryRequest struct {
	recipient string
	result    chan bool
}

type streamClient struct {
	recipient string
	conn      *websocket.Conn
	live      bool
	send      chan json.RawMessage
}

type publishRequest struct {
	recipient string
	message   json.RawMessage
	delivered chan bool
}

type liveToggle struct {
	recipient string
	live      bool
}

// NewStreamTask builds a StreamTask; call Run in its own goroutine.
func NewStreamTask(log *zap.Logger) *StreamTask {
	return &StreamTask{
		log:        log,
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		publish:    make(chan publishRequest),
		setLive:    make(chan liveToggle),
		liveQuery:  make(chan liveQueryRequest),
		clients:    make(map[string]*streamClient),
	}
}

// Run owns st.clients for its entire lifetime; stop by closing done.
// The requested live-delivery state is kept per recipient, so a toggle
// made before a connection registers still applies to it.
func (st *StreamTask) Run(done <-chan struct{}) {
	live := make(map[string]bool) // recipient DID -> requested live-delivery state
	for {
		select {
		case <-done:
			for _, c := range st.clients {
				close(c.send)
			}
			return
		case c := <-st.register:
			c.live = live[c.recipient]
			st.clients[c.recipient] = c
		case c := <-st.unregister:
			if existing, ok := st.clients[c.recipient]; ok && existing == c {
				delete(st.clients, c.recipient)
				close(c.send)
			}
		case t := <-st.setLive:
			live[t.recipient] = t.live
			if c, ok := st.clients[t.recipient]; ok {
				c.live = t.live
			}
		case q := <-st.liveQuery:
			q.result <- live[q.recipient]
		case req := <-st.publish:
			c, ok := st.clients[req.recipient]
			if !ok || !c.live {
				req.delivered <- false
				continue
			}
			select {
			case c.send <- req.message:
				req.delivered <- true
			default:
				st.log.Warn("live delivery channel full, dropping", zap.String("recipient", req.recipient))
				req.delivered <- false
			}
		}
	}
}

// Register attaches a websocket connection for recipient's live delivery.
func (st *StreamTask) Register(recipient string, conn *websocket.Conn) *streamClient {
	c := &streamClient{recipient: recipient, conn: conn, send: make(chan json.RawMessage, 16)}
	st.register <- c
	return c
}

// Unregister detaches a connection previously returned by Register.
func (st *StreamTask) Unregister(c *streamClient) {
	st.unregister <- c
}

// SetLive toggles whether recipient currently wants live delivery.
func (st *StreamTask) SetLive(recipient string, live bool) {
	st.setLive <- liveToggle{recipient: recipient, live: live}
}

// IsLive reports whether recipient currently has live-delivery switched
// on, for the Status response's live_delivery field (spec §4.H).
func (st *StreamTask) IsLive(recipient string) bool {
	result := make(chan bool, 1)
	st.liveQuery <- liveQueryRequest{recipient: recipient, result: result}
	return <-result
}

// Publish attempts to deliver message live to recipient, reporting
// whether it was actually sent (false means the caller should fall back
// to queueing it in the MessageStore instead).
func (st *StreamTask) Publish(recipient string, message json.RawMessage) bool {
	delivered := make(chan bool, 1)
	st.publish <- publishRequest{recipient: recipient, message: message, delivered: delivered}
	return <-delivered
}

// writePump drains c.send to the underlying websocket connection with a
// 20s ping supervisor, the pattern grounded on the teacher's
// WSClient.writePump (cmd/blackhole/commands/dashboard.go).
func (c *streamClient) writePump() {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
