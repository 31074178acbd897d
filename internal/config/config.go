package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Options struct {
	BaseURL              string        `long:"base-url" env:"TRADEDASH_BASE_URL" description:"Backend base URL (e.g. https://dash.example.com)"`
	RealtimeURL          string        `long:"realtime-url" env:"TRADEDASH_REALTIME_URL" description:"Realtime WebSocket URL override (defaults to ws(s)://<host>/ws)"`
	Email                string        `long:"email" env:"TRADEDASH_EMAIL" description:"Login email, used when no stored session is valid"`
	Password             string        `long:"password" env:"TRADEDASH_PASSWORD" description:"Login password"`
	Channels             []string      `long:"channel" env:"TRADEDASH_CHANNELS" env-delim:"," description:"Realtime channel to subscribe to (repeatable)"`
	CredentialsFile      string        `long:"credentials-file" env:"TRADEDASH_CREDENTIALS_FILE" description:"Where the access token is persisted"`
	PersistRefreshToken  bool          `long:"persist-refresh-token" env:"TRADEDASH_PERSIST_REFRESH_TOKEN" description:"Also persist the refresh token (development fallback for missing cookie support)"`
	RequestTimeout       time.Duration `long:"request-timeout" env:"TRADEDASH_REQUEST_TIMEOUT" default:"15s" description:"Per-request HTTP timeout"`
	HeartbeatInterval    time.Duration `long:"heartbeat-interval" env:"TRADEDASH_HEARTBEAT_INTERVAL" default:"30s" description:"Realtime ping interval"`
	MaxReconnectAttempts int           `long:"max-reconnect-attempts" env:"TRADEDASH_MAX_RECONNECT_ATTEMPTS" default:"5" description:"Reconnect attempts before giving up"`
	Logout               bool          `long:"logout" description:"End the stored session and exit"`
	TUI                  bool          `long:"tui" env:"TRADEDASH_TUI" description:"Show the terminal status view instead of log lines"`
	PersistLogs          bool          `long:"persist-logs" env:"TRADEDASH_PERSIST_LOGS" description:"Write JSONL logs under the user cache directory"`
	Debug                bool          `long:"debug" env:"TRADEDASH_DEBUG" description:"Enable verbose debug output"`
}

type APIEndpoints struct {
	BaseURL     string
	LoginURL    string
	RegisterURL string
	RefreshURL  string
	LogoutURL   string
	MeURL       string
	RealtimeURL string
}

const (
	apiPath      = "/api"
	realtimePath = "/ws"

	LoginPath    = "/auth/login"
	RegisterPath = "/auth/register"
	RefreshPath  = "/auth/refresh"
	LogoutPath   = "/auth/logout"
	MePath       = "/auth/me"
)

func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		return Options{}, err
	}
	if strings.TrimSpace(opts.CredentialsFile) == "" {
		path, err := DefaultCredentialsPath()
		if err != nil {
			return Options{}, err
		}
		opts.CredentialsFile = path
	}
	opts.Channels = normalizeChannels(opts.Channels)
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return errors.New("base URL is required")
	}
	if strings.TrimSpace(opts.CredentialsFile) == "" {
		return errors.New("credentials file is required")
	}
	if opts.MaxReconnectAttempts < 0 {
		return errors.New("max reconnect attempts must not be negative")
	}
	if opts.HeartbeatInterval < 0 {
		return errors.New("heartbeat interval must not be negative")
	}
	if (opts.Email == "") != (opts.Password == "") {
		return errors.New("email and password must be set together")
	}
	return nil
}

func DefaultCredentialsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "tradedash", "credentials.json"), nil
}

func BuildEndpoints(rawBaseURL string, realtimeOverride string) (APIEndpoints, error) {
	base, err := parseHTTPBase(rawBaseURL)
	if err != nil {
		return APIEndpoints{}, err
	}

	realtimeURL, err := buildRealtimeURL(base, realtimeOverride)
	if err != nil {
		return APIEndpoints{}, err
	}

	api := *base
	api.Path = apiPath
	apiBase := strings.TrimRight(api.String(), "/")

	return APIEndpoints{
		BaseURL:     apiBase,
		LoginURL:    apiBase + LoginPath,
		RegisterURL: apiBase + RegisterPath,
		RefreshURL:  apiBase + RefreshPath,
		LogoutURL:   apiBase + LogoutPath,
		MeURL:       apiBase + MePath,
		RealtimeURL: realtimeURL,
	}, nil
}

func parseHTTPBase(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("expected absolute URL like https://example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return nil, errors.New("base URL scheme must be http or https")
	}
	// Pasted endpoint URLs collapse to the host root.
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Path = ""
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}

func buildRealtimeURL(base *url.URL, override string) (string, error) {
	override = strings.TrimSpace(override)
	if override == "" {
		ws := *base
		ws.Scheme = "ws"
		if base.Scheme == "https" {
			ws.Scheme = "wss"
		}
		ws.Path = realtimePath
		return ws.String(), nil
	}
	parsed, err := url.Parse(override)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(parsed.Scheme, "ws") && !strings.EqualFold(parsed.Scheme, "wss") {
		return "", errors.New("realtime URL scheme must be ws or wss")
	}
	if parsed.Host == "" {
		return "", errors.New("realtime URL must be absolute")
	}
	return parsed.String(), nil
}

func normalizeChannels(channels []string) []string {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, channel := range channels {
		name := strings.TrimSpace(channel)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
