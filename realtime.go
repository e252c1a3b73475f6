package carwings

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnectionState represents the push channel state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultLocale      = "en-US"
)

// ErrNotConfigured is returned by Connect before Configure was called.
var ErrNotConfigured = errors.New("push channel not configured")

// scheduleFunc runs f after d. The returned func cancels the run.
type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// ============================================================================
// Options
// ============================================================================

// ManagerOption configures a ConnectionManager.
type ManagerOption func(*ConnectionManager)

func WithDialer(d Dialer) ManagerOption {
	return func(m *ConnectionManager) { m.dialer = d }
}

func WithDialTimeout(d time.Duration) ManagerOption {
	return func(m *ConnectionManager) { m.dialTimeout = d }
}

func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *ConnectionManager) { m.logger = logger }
}

// WithLocaleTag sets the Accept-Language sent on the push channel.
func WithLocaleTag(tag string) ManagerOption {
	return func(m *ConnectionManager) { m.locale = tag }
}

func withScheduler(s scheduleFunc) ManagerOption {
	return func(m *ConnectionManager) { m.schedule = s }
}

// ============================================================================
// ConnectionManager
// ============================================================================

// ConnectionManager owns the single push-channel connection. It reconnects
// on transport failures with a linear backoff until Disconnect is called,
// and delivers decoded events to the subscriber one at a time, in arrival
// order.
type ConnectionManager struct {
	dialer      Dialer
	logger      *zap.Logger
	schedule    scheduleFunc
	dialTimeout time.Duration
	locale      string

	mu        sync.Mutex
	endpoint  string
	header    http.Header
	onEvent   func(Event)
	state     ConnectionState
	force     bool
	gen       uint64 // bumped by Connect and Disconnect; stale callbacks compare against it
	conn      Conn
	stale     []Conn // detached sockets not closed yet
	cancel    context.CancelFunc
	stopTimer func() bool
	recon     reconnectBackOff

	deliverMu sync.Mutex
	// dialMu serializes dialing and closing of physical sockets, so a new
	// dial never starts while an older socket is still open. It is never
	// held while delivering events.
	dialMu sync.Mutex
}

// NewConnectionManager creates a manager in the disconnected state.
func NewConnectionManager(opts ...ManagerOption) *ConnectionManager {
	m := &ConnectionManager{
		dialer:      &WebSocketDialer{},
		logger:      zap.NewNop(),
		schedule:    afterFunc,
		dialTimeout: DefaultDialTimeout,
		locale:      DefaultLocale,
		state:       StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("realtime")
	return m
}

// Configure replaces the endpoint, the bearer credential and, when onEvent
// is non-nil, the subscriber. It does not open a socket; the new target is
// used by the next Connect or reconnect attempt.
//
// The subscriber is called from the manager's goroutines, never
// concurrently. It may call Connect, Disconnect or Retry.
func (m *ConnectionManager) Configure(endpoint string, cred Credential, onEvent func(Event)) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.AccessToken)
	header.Set("Accept-Language", m.locale)

	m.mu.Lock()
	m.endpoint = endpoint
	m.header = header
	if onEvent != nil {
		m.onEvent = onEvent
	}
	m.mu.Unlock()
}

// Connect drops any current socket and opens a new one, resetting the
// reconnect counter.
func (m *ConnectionManager) Connect() error {
	m.mu.Lock()
	if m.endpoint == "" {
		m.mu.Unlock()
		return ErrNotConfigured
	}
	m.force = false
	m.recon.Reset()
	m.teardownLocked()
	m.state = StateConnecting
	gen := m.gen
	m.mu.Unlock()

	m.dialMu.Lock()
	m.reap()
	m.dialMu.Unlock()
	go m.open(gen)
	return nil
}

// Disconnect closes the socket and cancels any scheduled reconnect. No
// further events are delivered until Connect is called again.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.force = true
	m.recon.Reset()
	m.teardownLocked()
	m.state = StateDisconnected
	m.mu.Unlock()

	m.dialMu.Lock()
	m.reap()
	m.dialMu.Unlock()
	m.logger.Debug("push channel disconnected")
}

// Retry connects again right away when the manager is waiting to reconnect.
func (m *ConnectionManager) Retry() error {
	if !m.IsReconnecting() {
		return nil
	}
	return m.Connect()
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) IsConnected() bool { return m.State() == StateConnected }

func (m *ConnectionManager) IsReconnecting() bool { return m.State() == StateReconnecting }

// ReconnectAttempt returns the number of reconnect attempts since the last
// acknowledged connection.
func (m *ConnectionManager) ReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recon.Attempt()
}

// teardownLocked invalidates every pending callback and detaches the
// current socket. The socket is closed by the next reap.
func (m *ConnectionManager) teardownLocked() {
	m.gen++
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		m.stale = append(m.stale, m.conn)
		m.conn = nil
	}
}

// reap closes every detached socket. Callers hold dialMu.
func (m *ConnectionManager) reap() {
	m.mu.Lock()
	stale := m.stale
	m.stale = nil
	m.mu.Unlock()
	for _, c := range stale {
		m.closeConn(c)
	}
}

func (m *ConnectionManager) closeConn(c Conn) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		m.logger.Debug("close socket", zap.Error(err))
	}
}

func (m *ConnectionManager) current(gen uint64) bool {
	return !m.force && gen == m.gen
}

// open dials and then reads until the socket fails.
func (m *ConnectionManager) open(gen uint64) {
	ctx, conn, err := m.dial(gen)
	if err != nil {
		m.fail(gen, err)
		return
	}
	if conn == nil {
		return
	}
	m.logger.Debug("socket open, waiting for listen ack")
	m.readLoop(ctx, gen, conn)
}

// dial opens the socket for gen under dialMu. A nil conn with a nil error
// means gen was invalidated meanwhile.
func (m *ConnectionManager) dial(gen uint64) (context.Context, Conn, error) {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()
	m.reap()

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return nil, nil, nil
	}
	endpoint, header := m.endpoint, m.header.Clone()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(ctx, m.dialTimeout)
	conn, err := m.dialer.Dial(dialCtx, endpoint, header)
	dialCancel()
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		cancel()
		m.closeConn(conn)
		return nil, nil, nil
	}
	m.conn = conn
	m.mu.Unlock()
	m.logger.Debug("socket dialed", zap.String("endpoint", endpoint))
	return ctx, conn, nil
}

func (m *ConnectionManager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.closeConn(conn)
			m.fail(gen, err)
			return
		}

		ev := Decode(data)
		m.logger.Debug("frame received", zap.String("kind", ev.Kind()), zap.Int("bytes", len(data)))
		switch ev := ev.(type) {
		case ServerAck:
			m.acknowledge(gen)
		case ClientError:
			m.logger.Warn("undecodable frame", zap.String("error", ev.Message))
			m.emit(gen, ev)
		default:
			m.emit(gen, ev)
		}
	}
}

func (m *ConnectionManager) acknowledge(gen uint64) {
	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}
	silent := m.recon.Attempt() < VisibleReconnectAttempt
	m.recon.Reset()
	m.state = StateConnected
	m.mu.Unlock()

	m.logger.Debug("push channel connected", zap.Bool("silent", silent))
	m.emit(gen, ServerAck{})
	m.emit(gen, Connected{Silent: silent})
}

// fail reports a lost socket and schedules the next attempt.
func (m *ConnectionManager) fail(gen uint64, err error) {
	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.conn = nil
	m.state = StateReconnecting
	delay := m.recon.NextBackOff()
	attempt := m.recon.Attempt()
	m.mu.Unlock()

	var closed *ServerCloseError
	byServer := errors.As(err, &closed)
	if byServer {
		m.logger.Debug("socket closed by server", zap.Int("code", closed.Code), zap.String("reason", closed.Reason))
	} else {
		m.logger.Warn("socket failed", zap.Error(err), zap.Int("attempt", attempt))
	}

	m.emit(gen, Disconnected{})
	if !byServer {
		m.emit(gen, ClientError{Message: err.Error()})
	}
	if attempt == VisibleReconnectAttempt {
		m.emit(gen, Reconnecting{})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(gen) {
		return
	}
	m.logger.Debug("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	m.stopTimer = m.schedule(delay, func() { m.redial(gen) })
}

func (m *ConnectionManager) redial(gen uint64) {
	m.mu.Lock()
	if !m.current(gen) || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.stopTimer = nil
	m.mu.Unlock()
	m.open(gen)
}

// emit delivers ev unless gen was invalidated meanwhile.
func (m *ConnectionManager) emit(gen uint64, ev Event) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	h := m.onEvent
	ok := m.current(gen)
	m.mu.Unlock()

	if ok && h != nil {
		h(ev)
	}
}
