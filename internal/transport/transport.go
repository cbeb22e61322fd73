// Package transport implements the Connection contract of spec section
// 6.1: loop/send_text/set_receive_cb/last_recv_tick_ms. The source dials
// through its own wlgows client/connection pair and fans inbound frames
// out over a goroutine-per-message plus a uuid-keyed channel map
// (charger/charger.go, charger/message.go); this package keeps that
// "dial, handshake, background reader" shape but publishes inbound frames
// into a poll-drained queue instead of spawning a goroutine per message,
// since the runtime is a single cooperative loop (design note, spec
// section 9). The actual wire library is gorilla/websocket.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Connection is the transport contract the request queue and Context
// depend on (spec section 6.1). Everything above this interface is
// transport-agnostic; WebSocket/TLS/FTP details never leak past it
// (spec's stated non-goals).
type Connection interface {
	// SendText transmits data as one text frame and reports failure when
	// the connection is down or the write fails. WSConnection writes to
	// the socket synchronously.
	SendText(data []byte) error
	// Connected reports whether the underlying socket is currently up.
	Connected() bool
	// Poll drains any frames received since the last call and invokes cb
	// for each; it is invoked once per Context.loop() tick.
	Poll(cb func(data []byte))
	// LastRecvTickMs returns the monotonic tick (ms) of the last received
	// frame, for transport-health heuristics (spec section 6.1).
	LastRecvTickMs() uint64
	// Close tears down the connection.
	Close() error
}

// WSConnection is a gorilla/websocket-backed Connection. Reading happens
// on a single background goroutine (the library's read loop has no
// non-blocking mode); everything else — dispatch, back-off, protocol
// logic — stays on the main loop by way of the inbox channel drained in
// Poll.
type WSConnection struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool

	inbox chan []byte

	lastRecvTickMs uint64
	startMono      time.Time

	log zerolog.Logger
}

// Dial opens a WebSocket connection to rawURL using the OCPP subprotocol
// (spec section 6: "ocpp1.6" / "ocpp2.0.1"), mirroring the source's
// Connect/client.Dial/HandShake sequence (charger/charger.go).
func Dial(ctx context.Context, rawURL string, subprotocol string, tlsConfig *tls.Config) (*WSConnection, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("transport: invalid url: %w", err)
	}

	dialer := websocket.Dialer{
		TLSClientConfig:  tlsConfig,
		Subprotocols:      []string{subprotocol},
		HandshakeTimeout:  10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial failed: %w", err)
	}

	wc := &WSConnection{
		conn:      conn,
		inbox:     make(chan []byte, 64),
		startMono: time.Now(),
		log:       log.With().Str("component", "transport").Logger(),
	}
	go wc.readLoop()
	return wc, nil
}

func (c *WSConnection) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Info().Err(err).Msg("read loop exiting")
			close(c.inbox)
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			return
		}
		c.inbox <- data
	}
}

// SendText writes data as a text frame.
func (c *WSConnection) SendText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("transport: connection closed")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	return nil
}

// Connected reports whether the socket is still open.
func (c *WSConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Poll drains every frame buffered since the last call without blocking.
func (c *WSConnection) Poll(cb func(data []byte)) {
	for {
		select {
		case data, ok := <-c.inbox:
			if !ok {
				return
			}
			c.lastRecvTickMs = uint64(time.Since(c.startMono).Milliseconds())
			cb(data)
		default:
			return
		}
	}
}

// LastRecvTickMs returns the monotonic tick of the last received frame.
func (c *WSConnection) LastRecvTickMs() uint64 { return c.lastRecvTickMs }

// Close closes the underlying socket.
func (c *WSConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// FakeConnection is an in-memory Connection for tests: Inject feeds frames
// as if received, Sent captures everything written.
type FakeConnection struct {
	mu        sync.Mutex
	sent      [][]byte
	inbox     [][]byte
	connected bool
	lastRecv  uint64
	failSend  bool
}

// NewFake creates a connected FakeConnection.
func NewFake() *FakeConnection {
	return &FakeConnection{connected: true}
}

func (f *FakeConnection) SendText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend || !f.connected {
		return fmt.Errorf("transport: fake send failure")
	}
	cp := append([]byte(nil), data...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *FakeConnection) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeConnection) Poll(cb func(data []byte)) {
	f.mu.Lock()
	pending := f.inbox
	f.inbox = nil
	f.mu.Unlock()
	for _, data := range pending {
		cb(data)
	}
}

func (f *FakeConnection) LastRecvTickMs() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRecv
}

func (f *FakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

// Inject queues data as if it had arrived from the server. The fake's
// LastRecvTickMs is a count of injected frames, not a millisecond tick.
func (f *FakeConnection) Inject(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, data)
	f.lastRecv++
}

// SetConnected forces the connected state, for simulating drops.
func (f *FakeConnection) SetConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

// SetFailSend forces SendText to fail, for back-off tests.
func (f *FakeConnection) SetFailSend(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSend = v
}

// Sent returns every frame accepted by SendText so far.
func (f *FakeConnection) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}
