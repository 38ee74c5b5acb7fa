// Package uplink runs the exercise-data send cycle: wait for the connection,
// sleep a fixed interval, read the latest snapshot, encode it and send it,
// and send waypoints whenever the destination changes.
package uplink

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gg-glitch-88/exercise-uplink/internal/exercise"
	"github.com/gg-glitch-88/exercise-uplink/internal/transport"
	"github.com/gg-glitch-88/exercise-uplink/internal/wire"
)

const (
	DefaultInterval = 2 * time.Second
	stopReason      = "stopped"
)

// SnapshotSource returns the most recently recorded exercise snapshot, or
// nil if no exercise has run yet.
type SnapshotSource interface {
	Latest(ctx context.Context) (*exercise.Snapshot, error)
}

// Connection is the part of transport.Manager the loop drives.
type Connection interface {
	Start(ctx context.Context)
	WaitConnected(ctx context.Context) error
	ResetRetries()
	Send(data []byte) error
	Close(reason string) error
	State() transport.ConnectionState
	RetryCount() int
}

// Stats counts loop activity for diagnostics.
type Stats struct {
	Cycles        int64 `json:"cycles"`
	SnapshotsSent int64 `json:"snapshots_sent"`
	WaypointsSent int64 `json:"waypoints_sent"`
	SendFailures  int64 `json:"send_failures"`
	SourceErrors  int64 `json:"source_errors"`
}

// Status is a point-in-time view of one uplink session.
type Status struct {
	SessionID  string                    `json:"session_id"`
	State      transport.ConnectionState `json:"state"`
	RetryCount int                       `json:"retry_count"`
	Stats      Stats                     `json:"stats"`
}

// Loop is one uplink session. It is not reusable: once Run returns the
// connection is closed for good.
type Loop struct {
	sessionID string
	source    SnapshotSource
	conn      Connection
	codec     *wire.Codec
	interval  time.Duration
	log       *zap.Logger

	// Owned by the Run goroutine.
	sentWaypoints bool
	lastDest      exercise.Destination

	cycles        atomic.Int64
	snapshotsSent atomic.Int64
	waypointsSent atomic.Int64
	sendFailures  atomic.Int64
	sourceErrors  atomic.Int64
}

// New builds a Loop. A non-positive interval falls back to DefaultInterval.
func New(sessionID string, source SnapshotSource, conn Connection, interval time.Duration, log *zap.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		sessionID: sessionID,
		source:    source,
		conn:      conn,
		codec:     wire.New(),
		interval:  interval,
		log:       log.With(zap.String("session_id", sessionID)),
	}
}

// Run drives the send cycle until ctx is cancelled, then closes the
// connection. Send and source failures are logged and never end the loop;
// Run always reports success.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("uplink: started", zap.Duration("interval", l.interval))
	l.conn.Start(ctx)

	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for ctx.Err() == nil {
		if err := l.conn.WaitConnected(ctx); err != nil {
			l.log.Debug("uplink: stopped waiting for connection", zap.Error(err))
			break
		}
		l.conn.ResetRetries()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.interval)
		select {
		case <-ctx.Done():
		case <-timer.C:
			l.cycle(ctx)
		}
	}

	if err := l.conn.Close(stopReason); err != nil {
		l.log.Warn("uplink: close connection", zap.Error(err))
	}
	st := l.Stats()
	l.log.Info("uplink: stopped",
		zap.Int64("cycles", st.Cycles),
		zap.Int64("snapshots_sent", st.SnapshotsSent),
		zap.Int64("send_failures", st.SendFailures),
	)
	return nil
}

// SessionID identifies this uplink session in logs and status.
func (l *Loop) SessionID() string { return l.sessionID }

func (l *Loop) Stats() Stats {
	return Stats{
		Cycles:        l.cycles.Load(),
		SnapshotsSent: l.snapshotsSent.Load(),
		WaypointsSent: l.waypointsSent.Load(),
		SendFailures:  l.sendFailures.Load(),
		SourceErrors:  l.sourceErrors.Load(),
	}
}

func (l *Loop) Status() Status {
	return Status{
		SessionID:  l.sessionID,
		State:      l.conn.State(),
		RetryCount: l.conn.RetryCount(),
		Stats:      l.Stats(),
	}
}

// cycle performs one send pass. Once started it runs to completion even if
// a stop arrives meanwhile.
func (l *Loop) cycle(ctx context.Context) {
	l.cycles.Add(1)

	snap, err := l.source.Latest(context.WithoutCancel(ctx))
	if err != nil {
		l.sourceErrors.Add(1)
		l.log.Warn("uplink: read latest snapshot", zap.Error(err))
		return
	}

	frame, err := l.codec.EncodeSnapshot(snap)
	if err != nil {
		l.log.Error("uplink: encode exercise data", zap.Error(err))
		return
	}
	if l.send(wire.DataTypeExerciseData, frame) {
		l.snapshotsSent.Add(1)
	}

	points := exercise.Waypoints(snap)
	if len(points) == 0 {
		return
	}
	dest := exercise.DestinationOf(snap)
	if l.sentWaypoints && dest.Equal(l.lastDest) {
		return
	}
	l.lastDest = dest

	frame, err = l.codec.EncodeWaypoints(points)
	if err != nil {
		l.log.Error("uplink: encode waypoints", zap.Error(err))
		return
	}
	if l.send(wire.DataTypeWaypoints, frame) {
		l.waypointsSent.Add(1)
	}
	l.sentWaypoints = true
}

func (l *Loop) send(t wire.DataType, frame []byte) bool {
	if err := l.conn.Send(frame); err != nil {
		l.sendFailures.Add(1)
		return false
	}
	if ce := l.log.Check(zap.DebugLevel, "uplink: sent"); ce != nil {
		js, _ := l.codec.JSON(frame)
		ce.Write(zap.Stringer("type", t), zap.Int("bytes", len(frame)), zap.String("payload", js))
	} else {
		l.log.Info("uplink: sent", zap.Stringer("type", t), zap.Int("bytes", len(frame)))
	}
	return true
}
