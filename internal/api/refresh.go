package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"tradedash-client/internal/credentials"
	"tradedash-client/internal/logging"
)

type tokenResponse struct {
	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken"`
	AccessTokenSnake  string `json:"access_token"`
	RefreshTokenSnake string `json:"refresh_token"`
	Token             string `json:"token"`
}

func (r tokenResponse) pair() credentials.Pair {
	return credentials.Pair{
		AccessToken:  firstNonEmpty(r.AccessToken, r.AccessTokenSnake, r.Token),
		RefreshToken: firstNonEmpty(r.RefreshToken, r.RefreshTokenSnake),
	}
}

// parseTokenPair accepts the pair at the top level or nested under "data".
func parseTokenPair(data json.RawMessage) (credentials.Pair, error) {
	if len(data) == 0 {
		return credentials.Pair{}, fmt.Errorf("empty token response")
	}
	var direct tokenResponse
	if err := json.Unmarshal(data, &direct); err != nil {
		return credentials.Pair{}, fmt.Errorf("decode token response: %w", err)
	}
	if pair := direct.pair(); pair.AccessToken != "" {
		return pair, nil
	}
	var wrapped struct {
		Data tokenResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if pair := wrapped.Data.pair(); pair.AccessToken != "" {
			return pair, nil
		}
	}
	return credentials.Pair{}, fmt.Errorf("token response has no access token")
}

// Refresh exchanges the refresh credential for a new pair. Concurrent callers
// share one exchange. On failure the store is cleared and the session is over.
func (c *Client) Refresh(ctx context.Context) error {
	current, _ := c.store.AccessToken()
	_, err := c.refreshAfter(ctx, current)
	return err
}

// refreshAfter returns an access token to retry with after failedToken got a
// 401. When another caller already replaced the token no exchange happens.
func (c *Client) refreshAfter(ctx context.Context, failedToken string) (string, error) {
	pair, _ := c.store.Get()
	if pair.AccessToken != "" && pair.AccessToken != failedToken {
		return pair.AccessToken, nil
	}

	// the exchange outlives any single caller so the others still get its result
	detached := context.WithoutCancel(ctx)
	ch := c.refreshes.DoChan("refresh:"+pair.RefreshToken, func() (any, error) {
		// a flight that just finished may already have replaced the pair
		if current, ok := c.store.AccessToken(); ok && current != failedToken {
			return current, nil
		}
		return c.refresh(detached, pair.RefreshToken)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		token, _ := res.Val.(string)
		return token, nil
	}
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" && !c.hasRefreshCookie() {
		c.logger.Debug("refresh skipped, no refresh credential")
		c.endSession()
		return "", fmt.Errorf("%w: %w", ErrSessionEnded, ErrNoRefreshToken)
	}

	r := c.rest.R().
		SetContext(ctx).
		SetHeader(requestIDHeader, uuid.NewString()).
		SetHeader("Content-Type", "application/json")
	if refreshToken != "" {
		r.SetBody(map[string]string{"refreshToken": refreshToken})
	} else {
		r.SetBody(map[string]string{})
	}

	resp, err := r.Post(c.endpoints.RefreshURL)
	if err != nil {
		c.logger.Warn("session refresh failed",
			logging.Field("url", c.endpoints.RefreshURL),
			logging.Field("error", err),
		)
		c.endSession()
		return "", fmt.Errorf("%w: refresh session: %w", ErrSessionEnded, err)
	}
	c.logger.Debugf("POST %s -> %s", c.endpoints.RefreshURL, resp.Status())

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		c.logger.Warn("session refresh rejected",
			logging.Field("status", resp.Status()),
			logging.Field("response", logging.FormatHTTPPayload(limit(resp.Body()))),
		)
		c.endSession()
		return "", fmt.Errorf("%w: refresh session: %w", ErrSessionEnded, &HTTPStatusError{StatusCode: resp.StatusCode(), Status: resp.Status()})
	}

	data, err := successPayload(resp.Body())
	if err != nil {
		c.endSession()
		return "", fmt.Errorf("%w: refresh session: %w", ErrSessionEnded, err)
	}
	pair, err := parseTokenPair(data)
	if err != nil {
		c.logger.Warn("session refresh returned no token",
			logging.Field("response", logging.FormatHTTPPayload(limit(resp.Body()))),
		)
		c.endSession()
		return "", fmt.Errorf("%w: refresh session: %w", ErrSessionEnded, err)
	}
	if err := c.store.Set(pair); err != nil {
		if !errors.Is(err, credentials.ErrNotPersisted) {
			c.endSession()
			return "", fmt.Errorf("%w: store refreshed credentials: %w", ErrSessionEnded, err)
		}
		// the old refresh token is spent; keep the new pair in memory
		c.logger.Warn("refreshed credentials kept in memory only", logging.Field("error", err))
	}

	c.logger.Info("session refreshed",
		logging.Field("access_token", logging.Redact(pair.AccessToken)),
		logging.Field("cookie_mode", pair.RefreshToken == ""),
	)
	return pair.AccessToken, nil
}

func (c *Client) endSession() {
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("clear credentials failed", logging.Field("error", err))
	}
	if c.opts.OnSessionExpired != nil {
		c.opts.OnSessionExpired()
	}
}

func (c *Client) hasRefreshCookie() bool {
	if c.jar == nil || strings.TrimSpace(c.endpoints.RefreshURL) == "" {
		return false
	}
	u, err := url.Parse(c.endpoints.RefreshURL)
	if err != nil {
		return false
	}
	for _, cookie := range c.jar.Cookies(u) {
		if cookie.Name == RefreshCookieName && cookie.Value != "" {
			return true
		}
	}
	return false
}

// SetRefreshCookie seeds the jar, for environments that receive the refresh
// cookie out of band.
func (c *Client) SetRefreshCookie(value string) error {
	u, err := url.Parse(c.endpoints.RefreshURL)
	if err != nil {
		return fmt.Errorf("parse refresh url: %w", err)
	}
	if u.Host == "" {
		return errors.New("refresh url has no host")
	}
	c.jar.SetCookies(u, []*http.Cookie{{Name: RefreshCookieName, Value: value, Path: "/"}})
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
