package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	wsReadBufSize  = 1024
	wsWriteBufSize = 4096
	wsCloseGrace   = time.Second
)

// WebSocketDialer dials the uplink server with gorilla/websocket.
type WebSocketDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	log          *zap.Logger
}

// NewWebSocketDialer returns a dialer. A zero writeTimeout leaves writes
// without a deadline.
func NewWebSocketDialer(handshakeTimeout, writeTimeout time.Duration, log *zap.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   wsReadBufSize,
			WriteBufferSize:  wsWriteBufSize,
		},
		writeTimeout: writeTimeout,
		log:          log,
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	c, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	w := &wsConn{
		c:            c,
		writeTimeout: d.writeTimeout,
		log:          d.log,
		done:         make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

// wsConn adapts *websocket.Conn to Conn. Only one goroutine sends at a time;
// Close uses a control frame, which gorilla allows concurrently with writes.
type wsConn struct {
	c            *websocket.Conn
	writeTimeout time.Duration
	log          *zap.Logger

	done      chan struct{}
	err       error
	closeOnce sync.Once
	closeErr  error
}

// Send writes one binary frame. gorilla keeps a write error for the life of
// the connection, so a failed write tears the socket down; readLoop then
// reports the drop and the manager reconnects. The frame itself is lost.
func (w *wsConn) Send(data []byte) error {
	if w.writeTimeout > 0 {
		if err := w.c.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return w.abort(fmt.Errorf("transport: set write deadline: %w", err))
		}
	}
	if err := w.c.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return w.abort(fmt.Errorf("transport: write: %w", err))
	}
	return nil
}

// abort closes the underlying connection without a closing handshake.
func (w *wsConn) abort(err error) error {
	w.log.Warn("transport: write failed, dropping connection", zap.Error(err))
	_ = w.c.Close()
	return err
}

func (w *wsConn) Close(code int, reason string) error {
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		err := w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseGrace))
		if err == websocket.ErrCloseSent {
			err = nil
		}
		w.closeErr = multierr.Append(err, w.c.Close())
	})
	return w.closeErr
}

func (w *wsConn) Done() <-chan struct{} { return w.done }

// Err is valid once Done is closed.
func (w *wsConn) Err() error { return w.err }

// readLoop drains inbound frames so control frames are processed and a drop
// is noticed. The protocol expects nothing from the server; text frames are
// only logged.
func (w *wsConn) readLoop() {
	defer close(w.done)
	for {
		mt, data, err := w.c.ReadMessage()
		if err != nil {
			w.err = err
			return
		}
		if mt == websocket.TextMessage {
			w.log.Debug("transport: received message", zap.String("text", string(data)))
		} else {
			w.log.Debug("transport: received frame", zap.Int("bytes", len(data)))
		}
	}
}
