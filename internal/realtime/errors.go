package realtime

import "errors"

var (
	ErrNotConnected = errors.New("realtime connection is not open")
	ErrDisconnected = errors.New("realtime connection was disconnected")
	ErrNoToken      = errors.New("no access token for realtime authentication")
	ErrPongTimeout  = errors.New("realtime pong timeout")
)
