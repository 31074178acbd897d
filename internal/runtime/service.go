package runtime

import (
	"context"
	"net/http"

	"tradedash-client/internal/api"
	"tradedash-client/internal/app"
	"tradedash-client/internal/config"
	"tradedash-client/internal/credentials"
	"tradedash-client/internal/logging"
	"tradedash-client/internal/realtime"
)

type Service interface {
	RunContext(ctx context.Context) error
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	endpoints, err := config.BuildEndpoints(opts.BaseURL, opts.RealtimeURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed API endpoints",
		logging.Field("api_url", endpoints.BaseURL),
		logging.Field("login_url", endpoints.LoginURL),
		logging.Field("refresh_url", endpoints.RefreshURL),
		logging.Field("me_url", endpoints.MeURL),
		logging.Field("realtime_url", endpoints.RealtimeURL),
	)

	backend := credentials.NewFileBackend(opts.CredentialsFile, opts.PersistRefreshToken)
	store, err := credentials.NewStore(backend, logger)
	if err != nil {
		return nil, err
	}

	client, err := api.New(&http.Client{}, store, endpoints, logger, api.Options{
		Timeout: opts.RequestTimeout,
		OnSessionExpired: func() {
			logger.Warn("refresh rejected, stored session cleared")
		},
	})
	if err != nil {
		return nil, err
	}

	conn := realtime.New(realtimeOptions(opts, endpoints), realtime.WebSocketDialer{
		HandshakeTimeout: opts.RequestTimeout,
		Logger:           logger,
	}, store, logger)

	return app.New(opts, store, backend, client, conn, logger, app.Callbacks{
		OnMessage:      hooks.OnMessage,
		OnStatusChange: hooks.OnStatus,
	}), nil
}

// realtimeOptions maps the command line onto the manager: zero attempts or a
// zero heartbeat interval switch the feature off.
func realtimeOptions(opts config.Options, endpoints config.APIEndpoints) realtime.Options {
	out := realtime.Options{
		URL:                  endpoints.RealtimeURL,
		HeartbeatInterval:    opts.HeartbeatInterval,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
	}
	if out.MaxReconnectAttempts == 0 {
		out.MaxReconnectAttempts = -1
	}
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = -1
	}
	return out
}
