package app

import "errors"

var (
	ErrAuthenticationFailed = errors.New("tradedash authentication failed")
	ErrNotSignedIn          = errors.New("no stored session and no login credentials")
	ErrSessionExpired       = errors.New("tradedash session expired")
	ErrReconnectExhausted   = errors.New("tradedash realtime reconnect exhausted")
)
