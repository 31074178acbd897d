package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tradedash-client/internal/api"
	"tradedash-client/internal/config"
	"tradedash-client/internal/credentials"
	"tradedash-client/internal/logging"
	"tradedash-client/internal/realtime"
	"tradedash-client/internal/runctx"
	"tradedash-client/internal/runstatus"
)

const messageBuffer = 64

// Connection is the part of the realtime manager the app drives.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(channel string, params map[string]any) error
	State() realtime.State
	OnConnect(func())
	OnDisconnect(func(error))
	OnError(func(error))
	OnMessage(func(realtime.Envelope))
	OnReconnect(func(int))
}

type DashboardApp struct {
	opts    config.Options
	store   *credentials.Store
	backend *credentials.FileBackend
	api     *api.Client
	conn    Connection
	logger  *logging.Logger
	hooks   Callbacks
	status  runtimeStatusState
}

type Callbacks struct {
	OnMessage      func(realtime.Envelope)
	OnStatusChange func(string)
}

// New wires the session. backend may be nil, in which case changes made by
// other processes are not observed.
func New(opts config.Options, store *credentials.Store, backend *credentials.FileBackend, client *api.Client, conn Connection, logger *logging.Logger, hooks Callbacks) *DashboardApp {
	if store == nil {
		panic("app.New: store must not be nil")
	}
	if client == nil {
		panic("app.New: client must not be nil")
	}
	if conn == nil {
		panic("app.New: connection must not be nil")
	}
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	return &DashboardApp{
		opts:    opts,
		store:   store,
		backend: backend,
		api:     client,
		conn:    conn,
		logger:  logger,
		hooks:   hooks,
	}
}

func (a *DashboardApp) Run() error {
	return a.RunContext(context.Background())
}

func (a *DashboardApp) RunContext(ctx context.Context) error {
	if a.opts.Logout {
		return a.logout(ctx)
	}

	a.logger.Info("dashboard client starting",
		logging.Field("channels", strings.Join(a.opts.Channels, ",")),
		logging.Field("credentials_file", a.opts.CredentialsFile),
	)
	a.setRuntimeStatus(runstatus.SigningIn)
	if err := a.ensureSession(ctx); err != nil {
		if errors.Is(err, ErrNotSignedIn) || errors.Is(err, ErrAuthenticationFailed) {
			a.setRuntimeStatus(runstatus.SessionExpired)
		} else {
			a.setRuntimeStatus(runstatus.Offline)
		}
		return err
	}
	a.setRuntimeStatus(runstatus.Authenticated)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionEnded := make(chan struct{})
	var endOnce sync.Once
	unsubscribe := a.store.Subscribe(func(change credentials.Change) {
		if change.Kind != credentials.ChangeCleared {
			return
		}
		endOnce.Do(func() { close(sessionEnded) })
	})
	defer unsubscribe()

	if a.backend != nil {
		go func() {
			if err := credentials.Watch(runCtx, a.store, a.backend, a.logger); err != nil {
				a.logger.Warn("credentials watch stopped", logging.Field("error", err))
			}
		}()
	}

	exhausted := make(chan struct{})
	var exhaustOnce sync.Once
	messages := make(chan realtime.Envelope, messageBuffer)
	a.registerHandlers(runCtx, messages, func() {
		exhaustOnce.Do(func() { close(exhausted) })
	})
	go a.forwardMessages(runCtx, messages)
	defer a.conn.Disconnect()

	for _, channel := range a.opts.Channels {
		if err := a.conn.Subscribe(channel, nil); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}

	a.setRuntimeStatus(runstatus.Connecting)
	if err := a.conn.Connect(runCtx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if a.conn.State() == realtime.Disconnected {
			select {
			case <-exhausted:
			default:
				a.setRuntimeStatus(runstatus.Offline)
				return fmt.Errorf("connect realtime: %w", err)
			}
		}
		a.logger.Warn("initial realtime connect failed, retrying in background", logging.Field("error", err))
	}

	select {
	case <-ctx.Done():
		a.logger.Debug("stopping dashboard client: context canceled", logging.Field("error", ctx.Err()))
		a.setRuntimeStatus(runstatus.Stopped)
		return nil
	case <-sessionEnded:
		a.conn.Disconnect()
		a.setRuntimeStatus(runstatus.SessionExpired)
		a.logger.Warn("session ended, sign in again")
		return ErrSessionExpired
	case <-exhausted:
		a.setRuntimeStatus(runstatus.Offline)
		return ErrReconnectExhausted
	}
}

func (a *DashboardApp) registerHandlers(ctx context.Context, messages chan<- realtime.Envelope, onExhausted func()) {
	a.conn.OnConnect(func() {
		a.setRuntimeStatus(runstatus.Connected)
	})
	a.conn.OnReconnect(func(attempt int) {
		a.logger.Info("realtime reconnected", logging.Field("attempt", attempt))
	})
	a.conn.OnDisconnect(func(err error) {
		if ctx.Err() != nil || err == nil {
			return
		}
		switch a.conn.State() {
		case realtime.ReconnectWait, realtime.Connecting:
			a.setRuntimeStatus(runstatus.Reconnecting)
		case realtime.Disconnected:
			a.setRuntimeStatus(runstatus.Offline)
			onExhausted()
		}
	})
	a.conn.OnError(func(err error) {
		if errors.Is(err, realtime.ErrNoToken) {
			a.logger.Warn("realtime asked for authentication without a stored token")
			return
		}
		a.logger.Debug("realtime error", logging.Field("error", err))
	})
	a.conn.OnMessage(func(env realtime.Envelope) {
		runctx.SendOrDone(ctx, "realtime message dispatch", a.logger, messages, env)
	})
}

func (a *DashboardApp) forwardMessages(ctx context.Context, source <-chan realtime.Envelope) {
	for {
		env, ok := runctx.RecvOrDone(ctx, "realtime message forwarder", a.logger, source)
		if !ok {
			return
		}
		a.logger.Debug("realtime message",
			logging.Field("type", env.Type),
			logging.Field("data", logging.FormatHTTPPayload(env.Data)),
		)
		if a.hooks.OnMessage != nil {
			a.hooks.OnMessage(env)
		}
	}
}

// ensureSession keeps a stored session that still works and signs in with
// the configured credentials otherwise.
func (a *DashboardApp) ensureSession(ctx context.Context) error {
	if a.store.IsAuthenticated() {
		me := a.api.Me(ctx)
		if me.Success {
			a.logger.Info("stored session is valid",
				logging.Field("user", me.Data.Email),
			)
			return nil
		}
		if !api.IsUnauthorized(me.Err()) {
			return fmt.Errorf("verify stored session: %w", me.Err())
		}
		a.logger.Info("stored session rejected", logging.Field("error", me.Err()))
	}

	if strings.TrimSpace(a.opts.Email) == "" || a.opts.Password == "" {
		return ErrNotSignedIn
	}
	login := a.api.Login(ctx, a.opts.Email, a.opts.Password)
	if !login.Success {
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, login.Err())
	}
	return nil
}

func (a *DashboardApp) logout(ctx context.Context) error {
	res := a.api.Logout(ctx)
	a.setRuntimeStatus(runstatus.SignedOut)
	if !res.Success {
		a.logger.Warn("server logout failed, local session cleared", logging.Field("error", res.Err()))
		return nil
	}
	a.logger.Info("signed out")
	return nil
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (a *DashboardApp) Status() string {
	a.status.mu.Lock()
	defer a.status.mu.Unlock()
	return a.status.current
}

func (a *DashboardApp) notifyStatus(status string) {
	if a.hooks.OnStatusChange == nil {
		return
	}
	a.hooks.OnStatusChange(status)
}

func (a *DashboardApp) setRuntimeStatus(status string) {
	previous, next, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	a.notifyStatus(status)
}
