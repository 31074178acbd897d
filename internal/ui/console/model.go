package console

import (
	"strings"
	"time"

	"tradedash-client/internal/config"
	"tradedash-client/internal/logging"
	"tradedash-client/internal/realtime"
	"tradedash-client/internal/runctx"
	"tradedash-client/internal/runstatus"
	"tradedash-client/internal/runtime"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

func newConsoleModel(buildVersion string, opts config.Options, r runner, logger *logging.Logger) *consoleModel {
	if logger == nil {
		panic("console.newConsoleModel: logger must not be nil")
	}
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = pendingStyle

	m := &consoleModel{
		buildVersion: buildVersion,
		opts:         opts,
		runner:       r,
		logger:       logger,
		logCh:        make(chan string, logChannelBufferSize),
		statusCh:     make(chan string, statusChannelBufferSize),
		msgCh:        make(chan realtime.Envelope, messageChannelBufferSize),
		exitCh:       make(chan error, 1),
		spinner:      spin,
		status:       "Starting",
	}
	m.unsubscribe = logger.Subscribe(func(event logging.Event) {
		runctx.Offer(m.logCh, formatLogLine(event))
	})
	return m
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(
		waitFor(m.logCh, func(line string) tea.Msg { return logMsg(line) }),
		waitFor(m.statusCh, func(status string) tea.Msg { return statusMsg(status) }),
		waitFor(m.msgCh, func(env realtime.Envelope) tea.Msg { return envelopeMsg(env) }),
		waitFor(m.exitCh, func(err error) tea.Msg { return runDoneMsg{err: err} }),
		m.spinner.Tick,
		m.startCmd(),
	)
}

func waitFor[T any](ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		value, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(value)
	}
}

func (m *consoleModel) startCmd() tea.Cmd {
	opts := m.opts
	return func() tea.Msg {
		err := m.runner.Start(opts, m.logger, runtime.StartHooks{
			OnMessage: func(env realtime.Envelope) { runctx.Offer(m.msgCh, env) },
			OnStatus:  func(status string) { runctx.Offer(m.statusCh, status) },
			OnExit:    func(err error) { runctx.Offer(m.exitCh, err) },
		})
		return startResultMsg{err: err}
	}
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case logMsg:
		m.logs = appendLimited(m.logs, string(msg), logLineLimit)
		return m, waitFor(m.logCh, func(line string) tea.Msg { return logMsg(line) })
	case statusMsg:
		m.applyStatus(string(msg))
		return m, waitFor(m.statusCh, func(status string) tea.Msg { return statusMsg(status) })
	case envelopeMsg:
		m.received++
		m.messages = appendLimited(m.messages, rowFromEnvelope(realtime.Envelope(msg)), messageRowLimit)
		return m, waitFor(m.msgCh, func(env realtime.Envelope) tea.Msg { return envelopeMsg(env) })
	case startResultMsg:
		if msg.err != nil {
			m.exitErr = msg.err
			m.status = "Failed to start"
			m.kind = statusTerminal
			if m.quitting {
				return m, m.quit()
			}
			return m, nil
		}
		m.running = true
		return m, nil
	case runDoneMsg:
		m.running = false
		m.exitErr = msg.err
		if msg.err != nil {
			m.kind = statusTerminal
		}
		if m.quitting {
			return m, m.quit()
		}
		return m, nil
	}
	return m, nil
}

func (m *consoleModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		if m.running && !m.quitting {
			m.quitting = true
			m.status = "Stopping"
			m.kind = statusPending
			m.runner.Stop()
			return m, nil
		}
		return m, m.quit()
	case "c":
		m.messages = nil
		return m, nil
	case "d":
		m.logger.SetDebugEnabled(!m.logger.DebugEnabled())
		m.logger.Info("debug output toggled", logging.Field("enabled", m.logger.DebugEnabled()))
		return m, nil
	}
	return m, nil
}

func (m *consoleModel) applyStatus(status string) {
	m.status = strings.TrimSpace(status)
	switch {
	case runstatus.Healthy(status):
		m.kind = statusHealthy
	case runstatus.Terminal(status):
		m.kind = statusTerminal
	default:
		m.kind = statusPending
	}
}

func (m *consoleModel) quit() tea.Cmd {
	m.cleanup()
	return tea.Quit
}

func (m *consoleModel) cleanup() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func rowFromEnvelope(env realtime.Envelope) messageRow {
	stamp := env.Timestamp
	if parsed, err := time.Parse(realtime.TimestampLayout, env.Timestamp); err == nil {
		stamp = parsed.Local().Format("15:04:05.000")
	}
	return messageRow{
		timestamp: stamp,
		kind:      env.Type,
		payload:   logging.FormatHTTPPayload(env.Data),
	}
}

func appendLimited[T any](items []T, item T, limit int) []T {
	items = append(items, item)
	if len(items) > limit {
		items = append([]T(nil), items[len(items)-limit:]...)
	}
	return items
}
