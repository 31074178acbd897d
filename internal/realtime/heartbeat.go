package realtime

import (
	"time"

	"tradedash-client/internal/logging"
)

// heartbeat pings while gen is live. A connection that stays silent past the
// pong timeout is treated as half-open and closed.
func (m *Manager) heartbeat(gen uint64, t Transport, stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		silence := time.Since(m.lastPong)
		m.mu.Unlock()

		if m.opts.PongTimeout > 0 && silence > m.opts.PongTimeout {
			m.logger.Warn("realtime pong timeout, closing connection",
				logging.Field("silence", silence.Round(time.Millisecond).String()),
				logging.Field("timeout", m.opts.PongTimeout.String()),
			)
			m.handleClose(gen, ErrPongTimeout)
			return
		}

		if err := m.write(gen, t, Ping{}); err != nil {
			m.logger.Debug("heartbeat ping failed", logging.Field("error", err))
		}
	}
}
