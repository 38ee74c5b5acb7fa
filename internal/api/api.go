// Package api implements the local admin API of the uplink.
//
// Routes:
//
//	GET  /api/v1/status        uplink session and connection status
//	POST /api/v1/uplink/start  start (or restart) the uplink session
//	POST /api/v1/uplink/stop   stop the uplink session
//	GET  /api/v1/snapshot      latest snapshot as it would go on the wire
//	GET  /api/v1/events        WebSocket stream of connection status events
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gg-glitch-88/exercise-uplink/internal/transport"
	"github.com/gg-glitch-88/exercise-uplink/internal/uplink"
	"github.com/gg-glitch-88/exercise-uplink/internal/wire"
)

// Sessions is the part of uplink.Supervisor the API drives.
type Sessions interface {
	Start(name string) (string, error)
	Stop(name string) bool
	Status(name string) (uplink.Status, bool)
}

// SubscribeFunc returns a channel of status events and its unsubscribe func.
type SubscribeFunc func() (<-chan transport.StatusEvent, func())

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

const pingInterval = 20 * time.Second

type Server struct {
	sessions    Sessions
	source      uplink.SnapshotSource
	subscribeFn SubscribeFunc
	codec       *wire.Codec
	log         *zap.Logger
}

// NewRouter wires all /api/v1/* routes and returns a http.Handler.
func NewRouter(sessions Sessions, source uplink.SnapshotSource, subFn SubscribeFunc, log *zap.Logger) http.Handler {
	s := &Server{
		sessions:    sessions,
		source:      source,
		subscribeFn: subFn,
		codec:       wire.New(),
		log:         log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("POST /api/v1/uplink/start", s.start)
	mux.HandleFunc("POST /api/v1/uplink/stop", s.stop)
	mux.HandleFunc("GET /api/v1/snapshot", s.snapshot)
	mux.HandleFunc("GET /api/v1/events", s.eventStream)

	return withLogging(log, mux)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, running := s.sessions.Status(uplink.WorkName)
	body := map[string]interface{}{
		"running": running,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if running {
		body["session"] = st
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessions.Start(uplink.WorkName)
	if err != nil {
		s.log.Error("api: start uplink", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"session_id": id})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Stop(uplink.WorkName) {
		http.Error(w, "uplink not running", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.source.Latest(r.Context())
	if err != nil {
		s.log.Error("api: latest snapshot", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	frame, err := s.codec.EncodeSnapshot(snap)
	if err != nil {
		s.log.Error("api: encode snapshot", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	js, err := s.codec.JSON(frame)
	if err != nil {
		s.log.Error("api: render snapshot", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recorded": snap != nil,
		"bytes":    len(frame),
		"frame":    json.RawMessage(js),
	})
}

func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("api: ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsub := s.subscribeFn()
	defer unsub()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug("api: ws write", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func withLogging(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("api",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.code),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over connections wrapped by
// withLogging.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response does not support hijacking")
	}
	return h.Hijack()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
