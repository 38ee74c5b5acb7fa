// Package transport owns the uplink's single websocket connection to the
// server: dialing, status, best-effort sends and bounded reconnection.
package transport

import (
	"context"
	"errors"
	"net/http"
)

// ConnectionState describes the current link status.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText renders the state by name in JSON status payloads.
func (s ConnectionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	// ErrNotConnected is returned by Send when no connection is open.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("transport: closed")
)

// ClientHeader builds the handshake header identifying the client class. The
// name is kept verbatim rather than canonicalised.
func ClientHeader(name, value string) http.Header {
	if name == "" {
		return http.Header{}
	}
	return http.Header{name: []string{value}}
}

// Conn is one established duplex connection.
type Conn interface {
	// Send writes data as a single binary frame.
	Send(data []byte) error
	// Close performs a closing handshake with the given status code and reason.
	Close(code int, reason string) error
	// Done is closed when the connection drops; Err then reports why.
	Done() <-chan struct{}
	Err() error
}

// Dialer establishes connections. Implementations must honour ctx.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Event is a transport callback delivered to the manager's event loop.
// It is either Opened or Failed.
type Event interface {
	generation() uint64
}

// Opened reports a completed handshake.
type Opened struct {
	Conn Conn
	Gen  uint64
}

// Failed reports that a connection could not be established or dropped.
type Failed struct {
	Err error
	Gen uint64
}

func (e Opened) generation() uint64 { return e.Gen }
func (e Failed) generation() uint64 { return e.Gen }
