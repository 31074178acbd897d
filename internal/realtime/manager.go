package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"tradedash-client/internal/logging"
)

const (
	defaultTokenParam           = "token"
	defaultHeartbeatInterval    = 30 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultBaseBackoff          = time.Second
	defaultMaxBackoff           = 30 * time.Second
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ReconnectWait
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectWait:
		return "reconnect_wait"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TokenSource yields the current access token. The credential store
// satisfies it.
type TokenSource interface {
	AccessToken() (string, bool)
}

type Options struct {
	URL string
	// TokenParam names the query parameter carrying the access token.
	TokenParam string
	// HeartbeatInterval between pings; negative disables the heartbeat.
	HeartbeatInterval time.Duration
	// PongTimeout force-closes a connection that has not answered a ping in
	// time. Zero means two heartbeat intervals, negative disables the check.
	PongTimeout time.Duration
	// MaxReconnectAttempts after an unexpected close. Zero picks the default,
	// negative disables reconnecting.
	MaxReconnectAttempts int
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.TokenParam) == "" {
		o.TokenParam = defaultTokenParam
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.PongTimeout == 0 && o.HeartbeatInterval > 0 {
		o.PongTimeout = 2 * o.HeartbeatInterval
	}
	switch {
	case o.MaxReconnectAttempts == 0:
		o.MaxReconnectAttempts = defaultMaxReconnectAttempts
	case o.MaxReconnectAttempts < 0:
		o.MaxReconnectAttempts = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = defaultBaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = o.BaseBackoff
	}
	return o
}

// newReconnectBackoff yields min(base*2^n, max) with no jitter.
func newReconnectBackoff(base time.Duration, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Snapshot is a point-in-time view of the manager. CurrentBackoff is the
// pending reconnect delay in ReconnectWait and the floor otherwise.
type Snapshot struct {
	State             State
	ReconnectAttempts int
	CurrentBackoff    time.Duration
	Subscriptions     []string
	LastPong          time.Time
}

type handlers struct {
	onConnect    func()
	onDisconnect func(error)
	onError      func(error)
	onMessage    func(Envelope)
	onReconnect  func(int)
}

type connectAttempt struct {
	done chan struct{}
	once sync.Once
	err  error
}

func (a *connectAttempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Manager keeps one logical realtime connection across transport churn.
// Handlers are never invoked while the manager's lock is held, so they may
// call back into the manager.
type Manager struct {
	opts   Options
	dialer Dialer
	tokens TokenSource
	logger *logging.Logger

	mu             sync.Mutex
	state          State
	generation     uint64
	attempts       int
	backoff        *backoff.ExponentialBackOff
	currentBackoff time.Duration
	transport      Transport
	pending        *connectAttempt
	cancelDial     context.CancelFunc
	cancelRead     context.CancelFunc
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	lastPong       time.Time
	subs           subscriptionSet
	handlers       handlers
}

func New(opts Options, dialer Dialer, tokens TokenSource, logger *logging.Logger) *Manager {
	if logger == nil {
		panic("realtime.New: logger must not be nil")
	}
	if dialer == nil {
		dialer = WebSocketDialer{Logger: logger}
	}
	opts = opts.withDefaults()
	return &Manager{
		opts:    opts,
		dialer:  dialer,
		tokens:  tokens,
		logger:  logger,
		backoff: newReconnectBackoff(opts.BaseBackoff, opts.MaxBackoff),
		subs:    newSubscriptionSet(),

		currentBackoff: opts.BaseBackoff,
	}
}

func (m *Manager) OnConnect(fn func()) {
	m.mu.Lock()
	m.handlers.onConnect = fn
	m.mu.Unlock()
}

func (m *Manager) OnDisconnect(fn func(error)) {
	m.mu.Lock()
	m.handlers.onDisconnect = fn
	m.mu.Unlock()
}

func (m *Manager) OnError(fn func(error)) {
	m.mu.Lock()
	m.handlers.onError = fn
	m.mu.Unlock()
}

func (m *Manager) OnMessage(fn func(Envelope)) {
	m.mu.Lock()
	m.handlers.onMessage = fn
	m.mu.Unlock()
}

func (m *Manager) OnReconnect(fn func(attempt int)) {
	m.mu.Lock()
	m.handlers.onReconnect = fn
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:             m.state,
		ReconnectAttempts: m.attempts,
		CurrentBackoff:    m.currentBackoff,
		Subscriptions:     m.subs.channels(),
		LastPong:          m.lastPong,
	}
}

// Connect opens the connection. It returns nil at once when already
// connected and shares the outcome of an attempt already in flight.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Connected:
		m.mu.Unlock()
		return nil
	case Connecting:
		pending := m.pending
		m.mu.Unlock()
		return waitAttempt(ctx, pending)
	}

	target, err := m.dialURL()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	pending := m.beginAttemptLocked(ctx, target, 0)
	m.mu.Unlock()

	return waitAttempt(ctx, pending)
}

func waitAttempt(ctx context.Context, pending *connectAttempt) error {
	if pending == nil {
		return nil
	}
	select {
	case <-pending.done:
		return pending.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the connection and cancels every pending timer and dial.
// Calling it again is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	prev := m.state
	t := m.transport
	m.transport = nil
	m.state = Disconnected
	m.attempts = 0
	m.currentBackoff = m.opts.BaseBackoff
	m.backoff.Reset()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.cancelRead != nil {
		m.cancelRead()
		m.cancelRead = nil
	}
	pending := m.pending
	m.pending = nil
	h := m.handlers
	m.mu.Unlock()

	if pending != nil {
		pending.finish(ErrDisconnected)
	}
	if t != nil {
		_ = t.Close()
	}
	if prev != Disconnected {
		m.logger.Info("realtime disconnected", logging.Field("from", prev.String()))
	}
	if t != nil && h.onDisconnect != nil {
		h.onDisconnect(nil)
	}
}

// Send writes msg on the open transport. Without one the message is dropped.
func (m *Manager) Send(msg Message) error {
	m.mu.Lock()
	if m.state != Connected || m.transport == nil {
		state := m.state
		m.mu.Unlock()
		kind := "<nil>"
		if msg != nil {
			kind = msg.MessageType()
		}
		m.logger.Warn("dropping realtime message, connection not open",
			logging.Field("type", kind),
			logging.Field("state", state.String()),
		)
		return ErrNotConnected
	}
	gen, t := m.generation, m.transport
	m.mu.Unlock()
	return m.write(gen, t, msg)
}

// Subscribe records channel in the desired set, replacing its params, and
// sends the control message when connected.
func (m *Manager) Subscribe(channel string, params map[string]any) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return errors.New("realtime subscribe: empty channel")
	}
	m.mu.Lock()
	m.subs.put(channel, params)
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.Send(Subscribe{Channel: channel, Params: params})
}

func (m *Manager) Unsubscribe(channel string) error {
	channel = strings.TrimSpace(channel)
	m.mu.Lock()
	removed := m.subs.remove(channel)
	connected := m.state == Connected
	m.mu.Unlock()

	if !removed || !connected {
		return nil
	}
	return m.Send(Unsubscribe{Channel: channel})
}

func (m *Manager) dialURL() (string, error) {
	raw := strings.TrimSpace(m.opts.URL)
	if raw == "" {
		return "", errors.New("realtime url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("realtime url scheme must be ws or wss, got %q", u.Scheme)
	}
	if m.tokens != nil {
		if token, ok := m.tokens.AccessToken(); ok {
			query := u.Query()
			query.Set(m.opts.TokenParam, token)
			u.RawQuery = query.Encode()
		}
	}
	return u.String(), nil
}

// beginAttemptLocked starts a dial. reconnectAttempt is zero for a caller
// initiated connect.
func (m *Manager) beginAttemptLocked(parent context.Context, target string, reconnectAttempt int) *connectAttempt {
	m.generation++
	gen := m.generation
	m.state = Connecting

	ctx, cancel := context.WithCancel(context.Background())
	// a caller giving up on Connect abandons the handshake too
	stop := context.AfterFunc(parent, cancel)
	release := func() {
		stop()
		cancel()
	}
	m.cancelDial = cancel

	pending := &connectAttempt{done: make(chan struct{})}
	m.pending = pending
	go m.dial(ctx, release, gen, target, pending, reconnectAttempt)
	return pending
}

func (m *Manager) dial(ctx context.Context, release func(), gen uint64, target string, pending *connectAttempt, reconnectAttempt int) {
	m.logger.Debug("dialing realtime",
		logging.Field("url", redactToken(target, m.opts.TokenParam)),
		logging.Field("attempt", reconnectAttempt),
	)
	t, err := m.dialer.Dial(ctx, target)
	release()

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		pending.finish(ErrDisconnected)
		return
	}
	m.cancelDial = nil
	m.pending = nil

	if err != nil {
		h := m.handlers
		m.mu.Unlock()
		m.logger.Warn("realtime dial failed", logging.Field("error", err), logging.Field("attempt", reconnectAttempt))
		if h.onError != nil {
			h.onError(err)
		}
		m.handleClose(gen, err)
		pending.finish(err)
		return
	}

	m.transport = t
	m.state = Connected
	m.attempts = 0
	m.backoff.Reset()
	m.currentBackoff = m.opts.BaseBackoff
	m.lastPong = time.Now()
	readCtx, cancelRead := context.WithCancel(context.Background())
	m.cancelRead = cancelRead
	replay := m.subs.list()
	h := m.handlers
	if m.opts.HeartbeatInterval > 0 {
		stop := make(chan struct{})
		m.heartbeatStop = stop
		go m.heartbeat(gen, t, stop)
	}
	m.mu.Unlock()

	m.logger.Info("realtime connected",
		logging.Field("reconnect_attempt", reconnectAttempt),
		logging.Field("subscriptions", len(replay)),
	)
	if h.onConnect != nil {
		h.onConnect()
	}
	if reconnectAttempt > 0 && h.onReconnect != nil {
		h.onReconnect(reconnectAttempt)
	}
	for _, sub := range replay {
		if err := m.write(gen, t, Subscribe{Channel: sub.channel, Params: sub.params}); err != nil {
			m.logger.Debug("subscription replay interrupted", logging.Field("channel", sub.channel), logging.Field("error", err))
			break
		}
	}
	pending.finish(nil)
	go m.read(readCtx, gen, t)
}

// handleClose runs once per transport generation, after an unexpected close
// or a failed dial.
func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.transport = nil
	m.stopHeartbeatLocked()
	if m.cancelRead != nil {
		m.cancelRead()
		m.cancelRead = nil
	}
	m.generation++
	next := m.generation

	reconnect := m.attempts < m.opts.MaxReconnectAttempts
	var delay time.Duration
	if reconnect {
		delay = m.backoff.NextBackOff()
		m.currentBackoff = delay
		m.state = ReconnectWait
	} else {
		m.state = Disconnected
		m.backoff.Reset()
		m.currentBackoff = m.opts.BaseBackoff
	}
	attempts := m.attempts
	h := m.handlers
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	if reconnect {
		m.logger.Warn("realtime connection lost, reconnecting",
			logging.Field("error", cause),
			logging.Field("attempt", attempts+1),
			logging.Field("delay", delay.String()),
		)
	} else {
		m.logger.Warn("realtime connection lost, reconnect attempts exhausted",
			logging.Field("error", cause),
			logging.Field("attempts", attempts),
		)
	}
	if h.onDisconnect != nil {
		h.onDisconnect(cause)
	}
	if !reconnect {
		return
	}

	m.mu.Lock()
	if m.generation == next && m.state == ReconnectWait {
		m.reconnectTimer = time.AfterFunc(delay, func() { m.reconnect(next) })
	}
	m.mu.Unlock()
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != ReconnectWait {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.attempts++
	attempt := m.attempts
	target, err := m.dialURL()
	if err != nil {
		m.state = Disconnected
		h := m.handlers
		m.mu.Unlock()
		m.logger.Warn("realtime reconnect aborted", logging.Field("error", err))
		if h.onError != nil {
			h.onError(err)
		}
		return
	}
	m.beginAttemptLocked(context.Background(), target, attempt)
	m.mu.Unlock()
}

func (m *Manager) read(ctx context.Context, gen uint64, t Transport) {
	for {
		raw, err := t.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleClose(gen, err)
			return
		}
		if !m.current(gen) {
			return
		}
		m.dispatch(gen, t, raw)
	}
}

func (m *Manager) dispatch(gen uint64, t Transport, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		m.logger.Warn("dropping malformed realtime message",
			logging.Field("error", err),
			logging.Field("payload", logging.FormatHTTPPayload(raw)),
		)
		return
	}

	switch v := msg.(type) {
	case Pong:
		m.mu.Lock()
		if gen == m.generation {
			m.lastPong = time.Now()
		}
		m.mu.Unlock()
	case Ping:
		if err := m.write(gen, t, Pong{}); err != nil {
			m.logger.Debug("pong reply failed", logging.Field("error", err))
		}
	case AuthRequired:
		m.authenticate(gen, t, v)
	case ErrorMessage:
		m.logger.Warn("realtime server error",
			logging.Field("code", v.Code),
			logging.Field("message", v.Message),
		)
	case Subscribe:
		m.logger.Debug("realtime subscribe acknowledged", logging.Field("channel", v.Channel))
	case Unsubscribe:
		m.logger.Debug("realtime unsubscribe acknowledged", logging.Field("channel", v.Channel))
	case Authenticate:
		m.logger.Debug("realtime authentication acknowledged")
	case AppMessage:
		m.mu.Lock()
		fn := m.handlers.onMessage
		m.mu.Unlock()
		if fn != nil {
			fn(v.Envelope)
		}
	}
}

func (m *Manager) authenticate(gen uint64, t Transport, prompt AuthRequired) {
	token, ok := "", false
	if m.tokens != nil {
		token, ok = m.tokens.AccessToken()
	}
	if !ok || token == "" {
		m.logger.Warn("realtime authentication required but no token is available", logging.Field("reason", prompt.Reason))
		m.mu.Lock()
		fn := m.handlers.onError
		m.mu.Unlock()
		if fn != nil {
			fn(ErrNoToken)
		}
		m.Disconnect()
		return
	}
	m.logger.Debug("realtime authentication requested",
		logging.Field("reason", prompt.Reason),
		logging.Field("token", logging.Redact(token)),
	)
	if err := m.write(gen, t, Authenticate{Token: token}); err != nil {
		m.logger.Warn("realtime authenticate failed", logging.Field("error", err))
	}
}

func (m *Manager) write(gen uint64, t Transport, msg Message) error {
	if !m.current(gen) {
		return ErrDisconnected
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := t.WriteMessage(context.Background(), data); err != nil {
		m.mu.Lock()
		fn := m.handlers.onError
		m.mu.Unlock()
		m.logger.Debug("realtime write failed", logging.Field("type", msg.MessageType()), logging.Field("error", err))
		if fn != nil {
			fn(err)
		}
		return fmt.Errorf("write %s: %w", msg.MessageType(), err)
	}
	return nil
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

func redactToken(raw string, param string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := u.Query()
	if token := query.Get(param); token != "" {
		query.Set(param, logging.Redact(token))
		u.RawQuery = query.Encode()
	}
	return u.String()
}
