package runstatus

import "strings"

const (
	SigningIn      = "Signing in"
	Authenticated  = "Authenticated"
	Connecting     = "Connecting"
	Connected      = "Connected"
	Reconnecting   = "Reconnecting"
	Offline        = "Offline"
	SessionExpired = "Session expired"
	SignedOut      = "Signed out"
	Stopped        = "Stopped"
)

const (
	KeySigningIn      = "signing in"
	KeyAuthenticated  = "authenticated"
	KeyConnecting     = "connecting"
	KeyConnected      = "connected"
	KeyReconnecting   = "reconnecting"
	KeyOffline        = "offline"
	KeySessionExpired = "session expired"
	KeySignedOut      = "signed out"
	KeyStopped        = "stopped"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// Healthy reports whether status means data is flowing.
func Healthy(status string) bool {
	return Key(status) == KeyConnected
}

// Terminal reports whether status needs the user to act before anything
// resumes.
func Terminal(status string) bool {
	switch Key(status) {
	case KeyOffline, KeySessionExpired, KeySignedOut, KeyStopped:
		return true
	default:
		return false
	}
}
