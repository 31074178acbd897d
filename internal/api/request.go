package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"tradedash-client/internal/logging"
)

type Request struct {
	Method string
	// Path is relative to the API base URL, or absolute.
	Path  string
	Query url.Values
	Body  any
	// SkipAuth sends no Authorization header.
	SkipAuth bool
	// SkipRefresh returns a 401 as is instead of refreshing and retrying.
	SkipRefresh bool
}

type attempt struct {
	status int
	result Result[json.RawMessage]
}

// Do performs req and, on 401, refreshes the session once and retries once.
// The retry's outcome is final whatever it is.
func (c *Client) Do(ctx context.Context, req Request) Result[json.RawMessage] {
	token := ""
	if !req.SkipAuth {
		token, _ = c.store.AccessToken()
	}

	first := c.execute(ctx, req, token)
	if first.status != http.StatusUnauthorized || req.SkipAuth || req.SkipRefresh {
		return first.result
	}

	c.logger.Debug("request unauthorized, refreshing session",
		logging.Field("method", req.Method),
		logging.Field("path", req.Path),
	)
	next, err := c.refreshAfter(ctx, token)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Failure[json.RawMessage](CodeCanceled, err.Error(), 0)
		}
		return Failure[json.RawMessage](CodeSessionExpired, "session expired, sign in again", http.StatusUnauthorized)
	}
	return c.execute(ctx, req, next).result
}

func (c *Client) execute(ctx context.Context, req Request, token string) attempt {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	r := c.rest.R().
		SetContext(ctx).
		SetHeader(requestIDHeader, uuid.NewString())
	if token != "" {
		r.SetAuthToken(token)
	}
	if req.Query != nil {
		r.SetQueryParamsFromValues(req.Query)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(method, req.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt{result: Failure[json.RawMessage](CodeCanceled, ctxErr.Error(), 0)}
		}
		c.logger.Warn("request failed",
			logging.Field("method", method),
			logging.Field("path", req.Path),
			logging.Field("error", err),
		)
		return attempt{result: Failure[json.RawMessage](CodeNetwork, err.Error(), 0)}
	}
	c.logger.Debugf("%s %s -> %s", method, requestURL(resp, req.Path), resp.Status())

	status := resp.StatusCode()
	body := resp.Body()
	if status >= 200 && status < 300 {
		data, decodeErr := successPayload(body)
		if decodeErr != nil {
			c.logger.Warn("invalid response JSON",
				logging.Field("path", req.Path),
				logging.Field("content_type", resp.Header().Get("Content-Type")),
				logging.Field("response", logging.FormatHTTPPayload(limit(body))),
			)
			return attempt{status: status, result: Failure[json.RawMessage](CodeDecode, decodeErr.Error(), status)}
		}
		return attempt{status: status, result: Success(data)}
	}

	apiErr := errorFromBody(status, resp.Status(), body)
	if status != http.StatusUnauthorized {
		c.logger.Warn("request rejected",
			logging.Field("method", method),
			logging.Field("path", req.Path),
			logging.Field("status", resp.Status()),
			logging.Field("response", logging.FormatHTTPPayload(limit(body))),
		)
	}
	return attempt{status: status, result: Result[json.RawMessage]{Error: apiErr}}
}

func requestURL(resp *resty.Response, fallback string) string {
	if resp != nil && resp.Request != nil && resp.Request.URL != "" {
		return resp.Request.URL
	}
	return fallback
}

func limit(body []byte) []byte {
	if len(body) > bodyLogLimit {
		return body[:bodyLogLimit]
	}
	return body
}

func Get[T any](ctx context.Context, c *Client, path string, query url.Values) Result[T] {
	return decodeResult[T](c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}))
}

func Post[T any](ctx context.Context, c *Client, path string, body any) Result[T] {
	return decodeResult[T](c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}))
}

func Put[T any](ctx context.Context, c *Client, path string, body any) Result[T] {
	return decodeResult[T](c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body}))
}

func Patch[T any](ctx context.Context, c *Client, path string, body any) Result[T] {
	return decodeResult[T](c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}))
}

func Delete[T any](ctx context.Context, c *Client, path string) Result[T] {
	return decodeResult[T](c.Do(ctx, Request{Method: http.MethodDelete, Path: path}))
}
