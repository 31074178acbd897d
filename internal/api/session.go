package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"tradedash-client/internal/credentials"
	"tradedash-client/internal/logging"
)

type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type oauthCallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

func (c *Client) Login(ctx context.Context, email string, password string) Result[credentials.Pair] {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Failure[credentials.Pair](CodeRequest, "email and password are required", 0)
	}
	return c.establish(ctx, "login", c.endpoints.LoginURL, loginRequest{Email: email, Password: password})
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) Result[credentials.Pair] {
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return Failure[credentials.Pair](CodeRequest, "email and password are required", 0)
	}
	return c.establish(ctx, "register", c.endpoints.RegisterURL, req)
}

// CompleteOAuth finishes a provider redirect by exchanging its code for a
// session.
func (c *Client) CompleteOAuth(ctx context.Context, provider string, code string, state string) Result[credentials.Pair] {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || strings.TrimSpace(code) == "" {
		return Failure[credentials.Pair](CodeRequest, "provider and code are required", 0)
	}
	path := "/auth/oauth/" + url.PathEscape(provider) + "/callback"
	return c.establish(ctx, "oauth", path, oauthCallbackRequest{Code: code, State: state})
}

func (c *Client) establish(ctx context.Context, flow string, target string, body any) Result[credentials.Pair] {
	raw := c.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        target,
		Body:        body,
		SkipAuth:    true,
		SkipRefresh: true,
	})
	if !raw.Success {
		return Result[credentials.Pair]{Error: raw.Error}
	}
	pair, err := parseTokenPair(raw.Data)
	if err != nil {
		return Failure[credentials.Pair](CodeDecode, err.Error(), 0)
	}
	if err := c.store.Set(pair); err != nil {
		if !errors.Is(err, credentials.ErrNotPersisted) {
			return Failure[credentials.Pair](CodeRequest, err.Error(), 0)
		}
		c.logger.Warn("session kept in memory only", logging.Field("flow", flow), logging.Field("error", err))
	}
	c.logger.Info("session established",
		logging.Field("flow", flow),
		logging.Field("access_token", logging.Redact(pair.AccessToken)),
	)
	return Success(pair)
}

// Logout tells the backend the session is over and clears local credentials
// whatever the server answered.
func (c *Client) Logout(ctx context.Context) Result[json.RawMessage] {
	res := Success[json.RawMessage](nil)
	if c.store.IsAuthenticated() || c.hasRefreshCookie() {
		res = c.Do(ctx, Request{Method: http.MethodPost, Path: c.endpoints.LogoutURL, SkipRefresh: true})
		if !res.Success {
			c.logger.Warn("logout request failed, clearing local session anyway", logging.Field("error", res.Err()))
		}
	}
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("clear credentials failed", logging.Field("error", err))
	}
	return res
}

func (c *Client) Me(ctx context.Context) Result[Profile] {
	return Get[Profile](ctx, c, c.endpoints.MeURL, nil)
}
