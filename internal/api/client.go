package api

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"tradedash-client/internal/config"
	"tradedash-client/internal/credentials"
	"tradedash-client/internal/logging"
)

const (
	defaultTimeout = 15 * time.Second

	// RefreshCookieName is the HTTP-only cookie the backend sets alongside the
	// token pair.
	RefreshCookieName = "refresh_token"

	requestIDHeader = "X-Request-ID"
	bodyLogLimit    = 2048
)

type Options struct {
	// Timeout bounds each request. Zero picks the default, negative disables
	// the client timeout entirely.
	Timeout time.Duration
	// OnSessionExpired runs after a failed refresh cleared the credentials.
	OnSessionExpired func()
}

// Client issues authenticated calls against the backend and transparently
// refreshes an expired access token once per call.
type Client struct {
	rest      *resty.Client
	jar       http.CookieJar
	store     *credentials.Store
	endpoints config.APIEndpoints
	logger    *logging.Logger
	opts      Options

	refreshes singleflight.Group
}

func New(httpClient *http.Client, store *credentials.Store, endpoints config.APIEndpoints, logger *logging.Logger, opts Options) (*Client, error) {
	if logger == nil {
		panic("api.New: logger must not be nil")
	}
	if store == nil {
		panic("api.New: store must not be nil")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	// copy so the caller's client keeps its own timeout and jar
	hc := *httpClient
	if hc.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	timeout := opts.Timeout
	switch {
	case timeout == 0:
		timeout = defaultTimeout
	case timeout < 0:
		timeout = 0
	}

	rest := resty.NewWithClient(&hc).
		SetBaseURL(endpoints.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger: logger}).
		SetDisableWarn(true)

	return &Client{
		rest:      rest,
		jar:       hc.Jar,
		store:     store,
		endpoints: endpoints,
		logger:    logger,
		opts:      opts,
	}, nil
}

// restyLogger routes resty's internal messages into the shared logger.
type restyLogger struct {
	logger *logging.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...), logging.Field("component", "resty"))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...), logging.Field("component", "resty"))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), logging.Field("component", "resty"))
}
