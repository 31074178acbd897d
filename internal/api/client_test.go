package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tradedash-client/internal/config"
	"tradedash-client/internal/credentials"
	"tradedash-client/internal/logging"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func quietLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func testEndpoints(t *testing.T, base string) config.APIEndpoints {
	t.Helper()
	endpoints, err := config.BuildEndpoints(base, "")
	if err != nil {
		t.Fatalf("BuildEndpoints() error = %v", err)
	}
	return endpoints
}

func newTestClient(t *testing.T, httpClient *http.Client, base string, pair credentials.Pair, opts Options) (*Client, *credentials.Store) {
	t.Helper()
	store, err := credentials.NewStore(nil, quietLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if pair.AccessToken != "" {
		if err := store.Set(pair); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	c, err := New(httpClient, store, testEndpoints(t, base), quietLogger(), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, store
}

func TestDo_AttachesBearerAndRequestID(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
				t.Fatalf("Authorization = %q, want Bearer access-1", got)
			}
			if got := r.Header.Get("X-Request-ID"); got == "" {
				t.Fatalf("X-Request-ID missing")
			}
			if got := r.URL.Path; got != "/api/trades" {
				t.Fatalf("path = %q, want /api/trades", got)
			}
			if got := r.URL.Query().Get("limit"); got != "10" {
				t.Fatalf("limit = %q, want 10", got)
			}
			return jsonResponse(r, http.StatusOK, `[{"id":"t1"},{"id":"t2"}]`), nil
		}),
	}
	c, _ := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "access-1"}, Options{})

	type trade struct {
		ID string `json:"id"`
	}
	res := Get[[]trade](context.Background(), c, "/trades", map[string][]string{"limit": {"10"}})
	if !res.Success {
		t.Fatalf("Get() error = %v", res.Err())
	}
	if len(res.Data) != 2 || res.Data[1].ID != "t2" {
		t.Fatalf("Get() data = %#v", res.Data)
	}
}

func TestDo_OmitsAuthorizationWithoutToken(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if got := r.Header.Get("Authorization"); got != "" {
				t.Fatalf("Authorization = %q, want none", got)
			}
			return jsonResponse(r, http.StatusNoContent, ""), nil
		}),
	}
	c, _ := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{}, Options{})
	res := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/health"})
	if !res.Success {
		t.Fatalf("Do() error = %v", res.Err())
	}
	if res.Data != nil {
		t.Fatalf("Do() data = %s, want nil for empty body", res.Data)
	}
}

func TestDo_UnwrapsSuccessEnvelope(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(r, http.StatusOK, `{"success":true,"data":{"pnl":12.5}}`), nil
		}),
	}
	c, _ := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "a"}, Options{})
	res := Get[map[string]float64](context.Background(), c, "/pnl", nil)
	if !res.Success || res.Data["pnl"] != 12.5 {
		t.Fatalf("Get() = %#v", res)
	}
}

func TestDo_NetworkFailureIsResult(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}),
	}
	c, _ := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "a"}, Options{})
	res := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/trades"})
	if res.Success || res.Error == nil || res.Error.Code != CodeNetwork {
		t.Fatalf("Do() = %#v, want %s", res, CodeNetwork)
	}
}

func TestDo_CanceledContext(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, r.Context().Err()
		}),
	}
	c, _ := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "a"}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.Do(ctx, Request{Method: http.MethodGet, Path: "/trades"})
	if res.Success || res.Error == nil || res.Error.Code != CodeCanceled {
		t.Fatalf("Do() = %#v, want %s", res, CodeCanceled)
	}
}

func TestDo_DecodesErrorBodies(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
	}{
		{name: "nested", status: http.StatusBadRequest, body: `{"success":false,"error":{"code":"INVALID_STRATEGY","message":"unknown strategy"}}`, wantCode: "INVALID_STRATEGY", wantMessage: "unknown strategy"},
		{name: "flat", status: http.StatusConflict, body: `{"code":"DUPLICATE","message":"already exists"}`, wantCode: "DUPLICATE", wantMessage: "already exists"},
		{name: "string error", status: http.StatusBadRequest, body: `{"error":"bad"}`, wantCode: "HTTP_400", wantMessage: "bad"},
		{name: "no body", status: http.StatusBadGateway, body: "", wantCode: "HTTP_502", wantMessage: "Bad Gateway"},
		{name: "html body", status: http.StatusInternalServerError, body: "<html>oops</html>", wantCode: "HTTP_500", wantMessage: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			httpClient := &http.Client{
				Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
					calls.Add(1)
					return jsonResponse(r, tt.status, tt.body), nil
				}),
			}
			c, _ := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "a"}, Options{})
			res := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/strategies", Body: map[string]string{"name": "x"}})
			if res.Success || res.Error == nil {
				t.Fatalf("Do() = %#v, want failure", res)
			}
			if res.Error.Code != tt.wantCode || res.Error.Message != tt.wantMessage {
				t.Fatalf("Do() error = %+v, want %s/%s", res.Error, tt.wantCode, tt.wantMessage)
			}
			if res.Error.Status != tt.status {
				t.Fatalf("Do() status = %d, want %d", res.Error.Status, tt.status)
			}
			if got := calls.Load(); got != 1 {
				t.Fatalf("calls = %d, want 1 (no retry)", got)
			}
		})
	}
}

func TestDo_InvalidSuccessBodyIsDecodeError(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(r, http.StatusOK, "not json"), nil
		}),
	}
	c, _ := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "a"}, Options{})
	res := c.Do(context.Background(), Request{Path: "/trades"})
	if res.Success || res.Error.Code != CodeDecode {
		t.Fatalf("Do() = %#v, want %s", res, CodeDecode)
	}
}

func TestDo_RefreshesOnceAndRetries(t *testing.T) {
	var refreshes atomic.Int32
	var calls atomic.Int32
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			switch r.URL.Path {
			case "/api/auth/refresh":
				refreshes.Add(1)
				var body map[string]string
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Fatalf("decode refresh body: %v", err)
				}
				if body["refreshToken"] != "refresh-1" {
					t.Fatalf("refresh body = %#v", body)
				}
				return jsonResponse(r, http.StatusOK, `{"accessToken":"access-2","refreshToken":"refresh-2"}`), nil
			case "/api/alerts":
				calls.Add(1)
				if r.Header.Get("Authorization") == "Bearer access-2" {
					return jsonResponse(r, http.StatusOK, `{"count":3}`), nil
				}
				return jsonResponse(r, http.StatusUnauthorized, `{"error":{"code":"TOKEN_EXPIRED","message":"expired"}}`), nil
			}
			t.Fatalf("unexpected path %q", r.URL.Path)
			return nil, nil
		}),
	}
	c, store := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "access-1", RefreshToken: "refresh-1"}, Options{})

	res := Get[map[string]int](context.Background(), c, "/alerts", nil)
	if !res.Success || res.Data["count"] != 3 {
		t.Fatalf("Get() = %#v", res)
	}
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("refreshes = %d, want 1", got)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	pair, _ := store.Get()
	if pair.AccessToken != "access-2" || pair.RefreshToken != "refresh-2" {
		t.Fatalf("stored pair = %#v", pair)
	}
}

func TestDo_RetryFailureIsFinal(t *testing.T) {
	var refreshes atomic.Int32
	var calls atomic.Int32
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path == "/api/auth/refresh" {
				refreshes.Add(1)
				return jsonResponse(r, http.StatusOK, `{"data":{"accessToken":"access-2","refreshToken":"refresh-2"}}`), nil
			}
			calls.Add(1)
			return jsonResponse(r, http.StatusUnauthorized, `{"error":{"code":"FORBIDDEN_SCOPE","message":"nope"}}`), nil
		}),
	}
	c, store := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "access-1", RefreshToken: "refresh-1"}, Options{})

	res := c.Do(context.Background(), Request{Path: "/alerts"})
	if res.Success || res.Error.Code != "FORBIDDEN_SCOPE" {
		t.Fatalf("Do() = %#v, want the retry's error", res)
	}
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("refreshes = %d, want 1", got)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	if !store.IsAuthenticated() {
		t.Fatalf("retry failure must not clear the refreshed session")
	}
}

func TestDo_FailedRefreshClearsStore(t *testing.T) {
	var expired atomic.Int32
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path == "/api/auth/refresh" {
				return jsonResponse(r, http.StatusUnauthorized, `{"error":{"code":"REFRESH_REVOKED","message":"revoked"}}`), nil
			}
			return jsonResponse(r, http.StatusUnauthorized, ""), nil
		}),
	}
	c, store := newTestClient(t, httpClient, "https://dash.example.test",
		credentials.Pair{AccessToken: "access-1", RefreshToken: "refresh-1"},
		Options{OnSessionExpired: func() { expired.Add(1) }},
	)

	res := c.Do(context.Background(), Request{Path: "/trades"})
	if res.Success || res.Error.Code != CodeSessionExpired {
		t.Fatalf("Do() = %#v, want %s", res, CodeSessionExpired)
	}
	if !IsUnauthorized(res.Err()) {
		t.Fatalf("IsUnauthorized(%v) = false", res.Err())
	}
	if _, ok := store.Get(); ok {
		t.Fatalf("store still holds a pair after failed refresh")
	}
	if store.IsAuthenticated() {
		t.Fatalf("IsAuthenticated() = true after failed refresh")
	}
	if got := expired.Load(); got != 1 {
		t.Fatalf("OnSessionExpired calls = %d, want 1", got)
	}
}

func TestRefresh_WithoutRefreshTokenMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls.Add(1)
			return jsonResponse(r, http.StatusOK, `{"accessToken":"x"}`), nil
		}),
	}
	c, store := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "access-1"}, Options{})

	err := c.Refresh(context.Background())
	if !errors.Is(err, ErrNoRefreshToken) || !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("Refresh() error = %v, want ErrNoRefreshToken and ErrSessionEnded", err)
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("network calls = %d, want 0", got)
	}
	if store.IsAuthenticated() {
		t.Fatalf("store still authenticated after failed refresh")
	}
}

func TestRefresh_UsesCookieWhenStoreHasNoRefreshToken(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			cookie, err := r.Cookie(RefreshCookieName)
			if err != nil || cookie.Value != "cookie-refresh" {
				t.Fatalf("refresh cookie = %v, %v", cookie, err)
			}
			return jsonResponse(r, http.StatusOK, `{"access_token":"access-2"}`), nil
		}),
	}
	c, store := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "access-1"}, Options{})
	if err := c.SetRefreshCookie("cookie-refresh"); err != nil {
		t.Fatalf("SetRefreshCookie() error = %v", err)
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	pair, ok := store.Get()
	if !ok || pair.AccessToken != "access-2" || pair.RefreshToken != "" {
		t.Fatalf("stored pair = %#v", pair)
	}
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	var refreshes atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/refresh":
			refreshes.Add(1)
			<-release
			_, _ = io.WriteString(w, `{"accessToken":"fresh","refreshToken":"refresh-2"}`)
		default:
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"error":{"code":"TOKEN_EXPIRED","message":"expired"}}`)
				return
			}
			_, _ = io.WriteString(w, `{"ok":true}`)
		}
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.Client(), server.URL, credentials.Pair{AccessToken: "stale", RefreshToken: "refresh-1"}, Options{})

	const callers = 3
	results := make([]Result[map[string]bool], callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Get[map[string]bool](context.Background(), c, "/strategies", nil)
		}(i)
	}

	// let every caller reach the refresh before it completes
	time.Sleep(200 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := refreshes.Load(); got != 1 {
		t.Fatalf("refreshes = %d, want 1", got)
	}
	for i, res := range results {
		if !res.Success || !res.Data["ok"] {
			t.Fatalf("caller %d result = %#v", i, res)
		}
	}
}

func TestDo_ConcurrentUnauthorizedFailTogether(t *testing.T) {
	var refreshes atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/refresh" {
			refreshes.Add(1)
			<-release
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c, store := newTestClient(t, server.Client(), server.URL, credentials.Pair{AccessToken: "stale", RefreshToken: "refresh-1"}, Options{})

	const callers = 3
	results := make([]Result[json.RawMessage], callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Do(context.Background(), Request{Path: "/alerts"})
		}(i)
	}
	time.Sleep(200 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := refreshes.Load(); got != 1 {
		t.Fatalf("refreshes = %d, want 1", got)
	}
	for i, res := range results {
		if res.Success || res.Error.Code != CodeSessionExpired {
			t.Fatalf("caller %d result = %#v, want %s", i, res, CodeSessionExpired)
		}
	}
	if store.IsAuthenticated() {
		t.Fatalf("store still authenticated")
	}
}

type failingSaveBackend struct{}

func (failingSaveBackend) Load() (credentials.Pair, error) {
	return credentials.Pair{}, nil
}

func (failingSaveBackend) Save(credentials.Pair) error {
	return errors.New("disk full")
}

func (failingSaveBackend) Remove() error {
	return nil
}

func newUnpersistedClient(t *testing.T, httpClient *http.Client, pair credentials.Pair, opts Options) (*Client, *credentials.Store) {
	t.Helper()
	store, err := credentials.NewStore(failingSaveBackend{}, quietLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if pair.AccessToken != "" {
		if err := store.Set(pair); !errors.Is(err, credentials.ErrNotPersisted) {
			t.Fatalf("Set() error = %v, want ErrNotPersisted", err)
		}
	}
	c, err := New(httpClient, store, testEndpoints(t, "https://dash.example.test"), quietLogger(), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, store
}

func TestRefresh_PersistFailureKeepsRenewedSession(t *testing.T) {
	var expired atomic.Int32
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path == "/api/auth/refresh" {
				return jsonResponse(r, http.StatusOK, `{"accessToken":"new","refreshToken":"r2"}`), nil
			}
			if r.Header.Get("Authorization") == "Bearer new" {
				return jsonResponse(r, http.StatusOK, `{"count":1}`), nil
			}
			return jsonResponse(r, http.StatusUnauthorized, ""), nil
		}),
	}
	c, store := newUnpersistedClient(t, httpClient,
		credentials.Pair{AccessToken: "old", RefreshToken: "r1"},
		Options{OnSessionExpired: func() { expired.Add(1) }},
	)

	res := Get[map[string]int](context.Background(), c, "/alerts", nil)
	if !res.Success || res.Data["count"] != 1 {
		t.Fatalf("Get() = %#v, want success after refresh", res)
	}
	pair, ok := store.Get()
	if !ok || pair.AccessToken != "new" || pair.RefreshToken != "r2" {
		t.Fatalf("stored pair = %#v", pair)
	}
	if got := expired.Load(); got != 0 {
		t.Fatalf("OnSessionExpired calls = %d, want 0", got)
	}
}

func TestRefresh_RejectedWrapsSessionEnded(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(r, http.StatusUnauthorized, ""), nil
		}),
	}
	c, _ := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{AccessToken: "a", RefreshToken: "r"}, Options{})
	err := c.Refresh(context.Background())
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("Refresh() error = %v, want ErrSessionEnded", err)
	}
	if !IsUnauthorized(err) {
		t.Fatalf("IsUnauthorized(%v) = false", err)
	}
}

func TestRegister_StoresPair(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/auth/register" {
				t.Fatalf("request = %s %s", r.Method, r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "" {
				t.Fatalf("Authorization = %q, want none", got)
			}
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode register body: %v", err)
			}
			if body["email"] != "trader@example.test" || body["password"] != "pw" || body["name"] != "Trader" {
				t.Fatalf("register body = %#v", body)
			}
			return jsonResponse(r, http.StatusCreated, `{"success":true,"data":{"accessToken":"reg-access","refreshToken":"reg-refresh"}}`), nil
		}),
	}
	c, store := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{}, Options{})

	res := c.Register(context.Background(), RegisterRequest{Email: " trader@example.test ", Password: "pw", Name: "Trader"})
	if !res.Success {
		t.Fatalf("Register() error = %v", res.Err())
	}
	pair, ok := store.Get()
	if !ok || pair.AccessToken != "reg-access" || pair.RefreshToken != "reg-refresh" {
		t.Fatalf("stored pair = %#v", pair)
	}
	if res.Data != pair {
		t.Fatalf("Register() data = %#v, want %#v", res.Data, pair)
	}
}

func TestCompleteOAuth_CookieModePair(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/auth/oauth/github/callback" {
				t.Fatalf("request = %s %s", r.Method, r.URL.Path)
			}
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode oauth body: %v", err)
			}
			if body["code"] != "code-1" || body["state"] != "state-1" {
				t.Fatalf("oauth body = %#v", body)
			}
			return jsonResponse(r, http.StatusOK, `{"data":{"accessToken":"oauth-access"}}`), nil
		}),
	}
	c, store := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{}, Options{})

	res := c.CompleteOAuth(context.Background(), "GitHub", "code-1", "state-1")
	if !res.Success {
		t.Fatalf("CompleteOAuth() error = %v", res.Err())
	}
	pair, ok := store.Get()
	if !ok || pair.AccessToken != "oauth-access" || pair.RefreshToken != "" {
		t.Fatalf("stored pair = %#v", pair)
	}
}

func TestSessionOperations_RejectMissingInput(t *testing.T) {
	var calls atomic.Int32
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls.Add(1)
			return jsonResponse(r, http.StatusOK, `{"accessToken":"x"}`), nil
		}),
	}
	c, store := newTestClient(t, httpClient, "https://dash.example.test", credentials.Pair{}, Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		call func() Result[credentials.Pair]
	}{
		{name: "login without password", call: func() Result[credentials.Pair] { return c.Login(ctx, "trader@example.test", "") }},
		{name: "register without email", call: func() Result[credentials.Pair] {
			return c.Register(ctx, RegisterRequest{Email: "  ", Password: "pw"})
		}},
		{name: "register without password", call: func() Result[credentials.Pair] {
			return c.Register(ctx, RegisterRequest{Email: "trader@example.test"})
		}},
		{name: "oauth without provider", call: func() Result[credentials.Pair] { return c.CompleteOAuth(ctx, " ", "code", "") }},
		{name: "oauth without code", call: func() Result[credentials.Pair] { return c.CompleteOAuth(ctx, "github", "", "") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.call()
			if res.Success || res.Error == nil || res.Error.Code != CodeRequest {
				t.Fatalf("result = %#v, want %s", res, CodeRequest)
			}
		})
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("network calls = %d, want 0", got)
	}
	if store.IsAuthenticated() {
		t.Fatalf("store authenticated after rejected input")
	}
}

func TestLogin_PersistFailureStillSignsIn(t *testing.T) {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(r, http.StatusOK, `{"accessToken":"login-access","refreshToken":"login-refresh"}`), nil
		}),
	}
	c, store := newUnpersistedClient(t, httpClient, credentials.Pair{}, Options{})

	res := c.Login(context.Background(), "trader@example.test", "pw")
	if !res.Success {
		t.Fatalf("Login() error = %v, want success when only persisting failed", res.Err())
	}
	if token, _ := store.AccessToken(); token != "login-access" {
		t.Fatalf("access token = %q", token)
	}
}
