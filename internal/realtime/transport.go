package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tradedash-client/internal/logging"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultReadLimit        = 1 << 20
)

// Transport is one physical bidirectional connection.
type Transport interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// HandshakeError is returned when the server answered the upgrade request
// with something other than 101.
type HandshakeError struct {
	StatusCode int
	Status     string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("realtime handshake rejected: %s", e.Status)
}

type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	Header           http.Header
	Logger           *logging.Logger
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header.Clone())
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			if errors.Is(err, websocket.ErrBadHandshake) {
				return nil, &HandshakeError{StatusCode: resp.StatusCode, Status: resp.Status}
			}
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	t := &wsTransport{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       d.Logger,
	}
	if t.logger != nil {
		t.logger.Debug("realtime transport opened", logging.Field("transport_id", t.id))
	}
	return t, nil
}

type wsTransport struct {
	id           string
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	logger       *logging.Logger
}

func (t *wsTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	// gorilla reads do not observe a context; closing unblocks them
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteMessage(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = t.conn.Close()
		if t.logger != nil {
			t.logger.Debug("realtime transport closed", logging.Field("transport_id", t.id))
		}
	})
	return err
}
