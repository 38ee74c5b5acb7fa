package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 10
	eventChanSize     = 16
)

// Options configures a Manager.
type Options struct {
	URL        string
	Header     http.Header // sent with every handshake, e.g. the client type tag
	MaxRetries int
}

// Manager maintains at most one live connection to a fixed server address
// and reconnects a bounded number of times after failures.
//
// Transport callbacks arrive as Opened/Failed events on a channel and are
// applied by a single event loop, so connection state has one writer. The
// uplink loop only reads the state, sends, and resets the retry counter.
type Manager struct {
	url        string
	header     http.Header
	maxRetries int
	dialer     Dialer
	bus        *EventBus
	log        *zap.Logger

	events    chan Event
	state     atomic.Int32 // ConnectionState
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	wg        sync.WaitGroup

	mu         sync.Mutex
	conn       Conn
	gen        uint64
	retryCount int
	terminated bool
	exhausted  bool
	connected  chan struct{} // closed while Connected
}

// NewManager constructs a Manager without dialing. bus may be nil.
func NewManager(opts Options, dialer Dialer, bus *EventBus, log *zap.Logger) *Manager {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		url:        opts.URL,
		header:     opts.Header,
		maxRetries: opts.MaxRetries,
		dialer:     dialer,
		bus:        bus,
		log:        log,
		events:     make(chan Event, eventChanSize),
		ctx:        ctx,
		cancel:     cancel,
		connected:  make(chan struct{}),
	}
	m.state.Store(int32(StateDisconnected))
	return m
}

// Start launches the event loop and the first connection attempt. The event
// loop stops when ctx is done or the manager is closed. Calls after the first
// are no-ops, as is a Start after Close.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.terminated {
			return
		}
		m.wg.Add(1)
		go m.run(ctx)
		m.openLocked()
	})
}

// Send transmits data over the current connection. Delivery is best-effort:
// on failure the message is logged and dropped, never retried.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		m.log.Warn("transport: send dropped", zap.Int("bytes", len(data)), zap.Error(ErrNotConnected))
		return ErrNotConnected
	}
	if err := conn.Send(data); err != nil {
		m.log.Error("transport: send failed, message dropped", zap.Int("bytes", len(data)), zap.Error(err))
		return err
	}
	return nil
}

// WaitConnected blocks until the connection is open. It returns ctx.Err() if
// ctx ends first and ErrClosed once the manager is closed.
func (m *Manager) WaitConnected(ctx context.Context) error {
	m.mu.Lock()
	ch, terminated := m.connected, m.terminated
	m.mu.Unlock()

	if terminated {
		return ErrClosed
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}
}

// Close ends the uplink: no further reconnection happens, whatever failures
// arrive afterwards, and the live connection is closed with status 1000.
// It is safe to call more than once.
func (m *Manager) Close(reason string) error {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return nil
	}
	m.terminated = true
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	retries := m.retryCount
	m.mu.Unlock()

	m.cancel()
	var err error
	if conn != nil {
		err = conn.Close(websocket.CloseNormalClosure, reason)
	}
	m.wg.Wait()

	m.log.Info("transport: websocket closed", zap.String("reason", reason), zap.Error(err))
	m.publish(EventClosed, retries, reason)
	return err
}

// ResetRetries zeroes the retry counter after a healthy cycle.
func (m *Manager) ResetRetries() {
	m.mu.Lock()
	m.retryCount = 0
	m.mu.Unlock()
}

func (m *Manager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

func (m *Manager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// Exhausted reports whether reconnection was abandoned after MaxRetries.
func (m *Manager) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

func (m *Manager) Terminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}

// ── event loop ────────────────────────────────────────────────────────────

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Manager) handle(ev Event) {
	switch ev := ev.(type) {
	case Opened:
		m.onOpened(ev)
	case Failed:
		m.onFailure(ev)
	}
}

func (m *Manager) onOpened(ev Opened) {
	m.mu.Lock()
	if m.terminated || ev.Gen != m.gen {
		m.mu.Unlock()
		m.log.Debug("transport: discarding stale connection", zap.Uint64("generation", ev.Gen))
		_ = ev.Conn.Close(websocket.CloseNormalClosure, "superseded")
		return
	}
	m.conn = ev.Conn
	m.setStateLocked(StateConnected)
	retries := m.retryCount
	m.mu.Unlock()

	m.log.Info("transport: websocket opened", zap.String("url", m.url), zap.Int("retry_count", retries))
	m.publish(EventOpened, retries, "")
}

func (m *Manager) onFailure(ev Failed) {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		m.log.Info("transport: uplink ended, not reconnecting", zap.Error(ev.Err))
		return
	}
	if ev.Gen != m.gen || m.exhausted {
		m.mu.Unlock()
		m.log.Debug("transport: ignoring failure", zap.Uint64("generation", ev.Gen), zap.Error(ev.Err))
		return
	}
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	reason := errString(ev.Err)

	if m.retryCount >= m.maxRetries {
		m.exhausted = true
		retries := m.retryCount
		m.mu.Unlock()
		m.publish(EventFailed, retries, reason)
		m.log.Error("transport: giving up reconnecting",
			zap.Int("max_retries", m.maxRetries),
			zap.Error(ev.Err),
		)
		m.publish(EventExhausted, retries, reason)
		return
	}

	failed := m.retryCount
	m.retryCount++
	retries := m.retryCount
	m.openLocked()
	m.mu.Unlock()
	m.publish(EventFailed, failed, reason)

	m.log.Warn("transport: connection failed, reconnecting",
		zap.Int("attempt", retries),
		zap.Int("max_retries", m.maxRetries),
		zap.Error(ev.Err),
	)
	m.publish(EventReconnecting, retries, reason)
}

// openLocked supersedes the current connection generation and dials in the
// background. m.mu must be held.
func (m *Manager) openLocked() {
	m.gen++
	gen := m.gen
	m.wg.Add(1)
	go m.dial(gen)
}

func (m *Manager) dial(gen uint64) {
	defer m.wg.Done()

	conn, err := m.dialer.Dial(m.ctx, m.url, m.header)
	if err != nil {
		m.deliver(Failed{Err: err, Gen: gen})
		return
	}
	if !m.deliver(Opened{Conn: conn, Gen: gen}) {
		_ = conn.Close(websocket.CloseNormalClosure, "closed")
		return
	}
	select {
	case <-conn.Done():
		err := conn.Err()
		if err == nil {
			err = errConnectionLost
		}
		m.deliver(Failed{Err: err, Gen: gen})
	case <-m.ctx.Done():
		_ = conn.Close(websocket.CloseNormalClosure, "closed")
	}
}

func (m *Manager) deliver(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// setStateLocked stores s and maintains the connected channel. m.mu must be held.
func (m *Manager) setStateLocked(s ConnectionState) {
	prev := ConnectionState(m.state.Swap(int32(s)))
	if prev == s {
		return
	}
	if s == StateConnected {
		close(m.connected)
	} else {
		m.connected = make(chan struct{})
	}
}

func (m *Manager) publish(t StatusEventType, retries int, reason string) {
	m.bus.Publish(StatusEvent{
		Type:       t,
		State:      m.State(),
		RetryCount: retries,
		Reason:     reason,
	})
}

var errConnectionLost = errors.New("transport: connection lost")

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
