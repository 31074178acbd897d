package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tradedash-client/internal/logging"
)

var errTransportClosed = errors.New("transport closed")

type fakeTransport struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-f.inbound:
		return raw, nil
	case <-f.closed:
		return nil, errTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteMessage(_ context.Context, data []byte) error {
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}
	f.mu.Lock()
	f.written = append(f.written, append([]byte(nil), data...))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// push queues an inbound frame as if the server sent it.
func (f *fakeTransport) push(t *testing.T, typ string, data any) {
	t.Helper()
	env := Envelope{Type: typ, Timestamp: time.Now().UTC().Format(TimestampLayout)}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s data: %v", typ, err)
		}
		env.Data = raw
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	f.inbound <- raw
}

func (f *fakeTransport) sent() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, 0, len(f.written))
	for _, raw := range f.written {
		var env Envelope
		if json.Unmarshal(raw, &env) == nil {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeTransport) sentOfType(typ string) []Envelope {
	var out []Envelope
	for _, env := range f.sent() {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// fakeDialer hands out transports according to script; a nil script result
// succeeds with a fresh transport.
type fakeDialer struct {
	mu         sync.Mutex
	urls       []string
	transports []*fakeTransport
	script     func(n int) error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	n := len(d.urls)
	d.urls = append(d.urls, url)
	script := d.script
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if script != nil {
		if err := script(n); err != nil {
			return nil, err
		}
	}
	t := newFakeTransport()
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

type staticTokens struct {
	token string
}

func (s staticTokens) AccessToken() (string, bool) {
	return s.token, s.token != ""
}

func quietLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testOptions() Options {
	return Options{
		URL:                  "ws://dash.example.test/ws",
		HeartbeatInterval:    -1,
		MaxReconnectAttempts: 5,
		BaseBackoff:          time.Millisecond,
		MaxBackoff:           8 * time.Millisecond,
	}
}
