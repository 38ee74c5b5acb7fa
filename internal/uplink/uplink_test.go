package uplink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/gg-glitch-88/exercise-uplink/internal/exercise"
	"github.com/gg-glitch-88/exercise-uplink/internal/transport"
	"github.com/gg-glitch-88/exercise-uplink/internal/wire"
)

type fakeConnection struct {
	mu          sync.Mutex
	frames      [][]byte
	sendErr     error
	started     bool
	closeReason string
	resets      int
	connected   chan struct{}
	connectOnce sync.Once

	// closeGate, when set, holds Close until it is closed; closeEntered is
	// closed as Close starts waiting.
	closeGate    chan struct{}
	closeEntered chan struct{}
}

func newFakeConnection(connected bool) *fakeConnection {
	c := &fakeConnection{connected: make(chan struct{})}
	if connected {
		c.connect()
	}
	return c
}

func (c *fakeConnection) connect() { c.connectOnce.Do(func() { close(c.connected) }) }

func (c *fakeConnection) Start(context.Context) {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
}

func (c *fakeConnection) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConnection) ResetRetries() {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
}

func (c *fakeConnection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConnection) Close(reason string) error {
	if c.closeGate != nil {
		close(c.closeEntered)
		<-c.closeGate
	}
	c.mu.Lock()
	c.closeReason = reason
	c.mu.Unlock()
	return nil
}

func (c *fakeConnection) State() transport.ConnectionState {
	select {
	case <-c.connected:
		return transport.StateConnected
	default:
		return transport.StateDisconnected
	}
}

func (c *fakeConnection) RetryCount() int { return 0 }

// sentTypes decodes every frame sent so far and returns their data types.
func (c *fakeConnection) sentTypes(t *testing.T) []wire.DataType {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	codec := wire.New()
	out := make([]wire.DataType, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := codec.Unwrap(f)
		if err != nil {
			t.Fatalf("unwrap sent frame: %v", err)
		}
		out = append(out, env.Type)
	}
	return out
}

func (c *fakeConnection) lastFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func (c *fakeConnection) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

type errSource struct{}

func (errSource) Latest(context.Context) (*exercise.Snapshot, error) {
	return nil, errors.New("database is locked")
}

func count(types []wire.DataType, want wire.DataType) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

func withPosition(dest *exercise.Waypoint) *exercise.Snapshot {
	s := &exercise.Snapshot{
		StartTime:  1000,
		CurrentLat: exercise.Float(1.30),
		CurrentLng: exercise.Float(103.80),
		Status:     exercise.StatusActive,
	}
	if dest != nil {
		s.DestLat = exercise.Float(dest.Lat)
		s.DestLng = exercise.Float(dest.Lng)
	}
	return s
}

func runLoop(t *testing.T, l *Loop) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Run must report success, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("loop did not stop")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoopSendsWaypointsOnceForUnchangedDestination(t *testing.T) {
	src := exercise.NewMemorySource()
	_ = src.Upsert(context.Background(), withPosition(&exercise.Waypoint{Lat: 1.35, Lng: 103.9}))
	conn := newFakeConnection(true)

	l := New("s1", src, conn, 2*time.Millisecond, zaptest.NewLogger(t))
	stop := runLoop(t, l)
	waitFor(t, "five snapshots", func() bool { return l.Stats().SnapshotsSent >= 5 })
	stop()

	types := conn.sentTypes(t)
	if n := count(types, wire.DataTypeWaypoints); n != 1 {
		t.Fatalf("expected waypoints exactly once, got %d in %v", n, types)
	}
	if types[0] != wire.DataTypeExerciseData || types[1] != wire.DataTypeWaypoints {
		t.Fatalf("exercise data must precede waypoints: %v", types)
	}
	if conn.reason() != "stopped" {
		t.Fatalf("expected close reason stopped, got %q", conn.reason())
	}
	if conn.resets == 0 {
		t.Fatalf("expected retry counter resets while connected")
	}
}

func TestLoopResendsWaypointsWhenDestinationChanges(t *testing.T) {
	ctx := context.Background()
	src := exercise.NewMemorySource()
	conn := newFakeConnection(true)
	l := New("s1", src, conn, time.Hour, zaptest.NewLogger(t))
	codec := wire.New()

	a := &exercise.Waypoint{Lat: 1.35, Lng: 103.9}
	b := &exercise.Waypoint{Lat: 1.40, Lng: 103.7}
	steps := []struct {
		dest      *exercise.Waypoint
		waypoints int64
	}{
		{a, 1},
		{a, 1},
		{a, 1},
		{b, 2},
		{b, 2},
		{nil, 3},
		{nil, 3},
	}
	for i, step := range steps {
		_ = src.Upsert(ctx, withPosition(step.dest))
		l.cycle(ctx)
		if got := l.Stats().WaypointsSent; got != step.waypoints {
			t.Fatalf("cycle %d: waypoints sent %d, want %d", i+1, got, step.waypoints)
		}
	}

	env, err := codec.Unwrap(conn.lastFrame())
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if env.Type != wire.DataTypeExerciseData {
		t.Fatalf("last frame should be exercise data, got %s", env.Type)
	}

	types := conn.sentTypes(t)
	if n := count(types, wire.DataTypeExerciseData); n != len(steps) {
		t.Fatalf("exercise data must be sent every cycle: %d of %d", n, len(steps))
	}
}

func TestLoopWaypointsWaitForPosition(t *testing.T) {
	ctx := context.Background()
	src := exercise.NewMemorySource()
	conn := newFakeConnection(true)
	l := New("s1", src, conn, time.Hour, zaptest.NewLogger(t))

	_ = src.Upsert(ctx, &exercise.Snapshot{StartTime: 1000, DestLat: exercise.Float(1), DestLng: exercise.Float(2)})
	l.cycle(ctx)
	if got := l.Stats().WaypointsSent; got != 0 {
		t.Fatalf("no waypoints without a current position, got %d", got)
	}

	_ = src.Upsert(ctx, withPosition(&exercise.Waypoint{Lat: 1, Lng: 2}))
	l.cycle(ctx)
	if got := l.Stats().WaypointsSent; got != 1 {
		t.Fatalf("waypoints must be sent once the position is known, got %d", got)
	}

	codec := wire.New()
	env, _ := codec.Unwrap(conn.lastFrame())
	points, err := codec.DecodeWaypoints(env.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 2 || points[0].Lat != 1.30 || points[1] != (exercise.Waypoint{Lat: 1, Lng: 2}) {
		t.Fatalf("unexpected waypoints %+v", points)
	}
}

func TestLoopSendsDefaultsWhenNothingRecorded(t *testing.T) {
	conn := newFakeConnection(true)
	l := New("s1", exercise.NewMemorySource(), conn, time.Hour, zaptest.NewLogger(t))
	l.cycle(context.Background())

	codec := wire.New()
	env, err := codec.Unwrap(conn.lastFrame())
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	snap, err := codec.DecodeSnapshot(env.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.StartTime != 0 || snap.Status != exercise.StatusUnknown {
		t.Fatalf("expected default snapshot, got %+v", snap)
	}
}

func TestLoopWaitsForConnection(t *testing.T) {
	src := exercise.NewMemorySource()
	conn := newFakeConnection(false)
	l := New("s1", src, conn, time.Millisecond, zaptest.NewLogger(t))
	stop := runLoop(t, l)

	time.Sleep(30 * time.Millisecond)
	if got := l.Stats().Cycles; got != 0 {
		t.Fatalf("no cycle may run while disconnected, got %d", got)
	}

	conn.connect()
	waitFor(t, "first cycle after connecting", func() bool { return l.Stats().SnapshotsSent > 0 })
	stop()
}

func TestLoopStopWhileDisconnected(t *testing.T) {
	conn := newFakeConnection(false)
	l := New("s1", exercise.NewMemorySource(), conn, time.Millisecond, zaptest.NewLogger(t))
	stop := runLoop(t, l)
	stop()
	if conn.reason() != "stopped" {
		t.Fatalf("expected connection closed on stop")
	}
}

func TestLoopSourceErrorSkipsCycle(t *testing.T) {
	conn := newFakeConnection(true)
	l := New("s1", errSource{}, conn, time.Hour, zaptest.NewLogger(t))
	l.cycle(context.Background())

	if n := len(conn.sentTypes(t)); n != 0 {
		t.Fatalf("nothing may be sent on source error, got %d frames", n)
	}
	if got := l.Stats().SourceErrors; got != 1 {
		t.Fatalf("expected one source error, got %d", got)
	}
}

func TestLoopSendFailuresAreSwallowed(t *testing.T) {
	src := exercise.NewMemorySource()
	_ = src.Upsert(context.Background(), withPosition(nil))
	conn := newFakeConnection(true)
	conn.sendErr = errors.New("broken pipe")

	l := New("s1", src, conn, time.Millisecond, zaptest.NewLogger(t))
	stop := runLoop(t, l)
	waitFor(t, "send failures", func() bool { return l.Stats().SendFailures >= 3 })
	stop()

	if l.Stats().SnapshotsSent != 0 {
		t.Fatalf("no snapshot counts as sent when sends fail")
	}
	if got := l.Stats().WaypointsSent; got != 0 {
		t.Fatalf("expected no waypoints counted, got %d", got)
	}
}

func TestLoopStatus(t *testing.T) {
	conn := newFakeConnection(true)
	l := New("abc", exercise.NewMemorySource(), conn, 0, zaptest.NewLogger(t))
	if l.interval != DefaultInterval {
		t.Fatalf("expected default interval, got %s", l.interval)
	}
	st := l.Status()
	if st.SessionID != "abc" || st.State != transport.StateConnected {
		t.Fatalf("unexpected status %+v", st)
	}
}
