package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowrealms_backend/internal/service"
	"shadowrealms_backend/pkg/config"
	"shadowrealms_backend/pkg/storage"
	"shadowrealms_backend/pkg/storage/memory"
)

const adminPassword = "correct-horse"

type testApp struct {
	app       *fiber.App
	primary   *memory.Store
	secondary *memory.Store
}

func newTestApp(t *testing.T, limits config.RateLimitConfig) *testApp {
	t.Helper()
	primary, secondary := memory.New("primary"), memory.New("secondary")
	store := storage.NewFailover(primary, secondary, time.Second)
	subs := service.NewSubscriptionService(store, nil)
	t.Cleanup(subs.Close)
	admin := service.NewAdminService(store, nil, adminPassword, "")
	admin.AfterClear = subs.Forget

	if limits.GlobalMax == 0 {
		limits.GlobalMax = 1000
		limits.GlobalWindow = time.Hour
	}
	if limits.SubscribeMax == 0 {
		limits.SubscribeMax = 1000
		limits.SubscribeWindow = time.Hour
	}

	return &testApp{
		app: New(Deps{
			Subscriptions: subs,
			Admin:         admin,
			RateLimit:     limits,
		}),
		primary:   primary,
		secondary: secondary,
	}
}

func (ta *testApp) do(t *testing.T, method, target, body string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func (ta *testApp) subscribe(t *testing.T, email string) (int, map[string]any) {
	t.Helper()
	status, body := ta.do(t, http.MethodPost, "/api/subscribe", fmt.Sprintf(`{"email":%q}`, email))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out), body)
	return status, out
}

func adminURL(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if _, ok := query["password"]; !ok {
		query.Set("password", adminPassword)
	}
	return path + "?" + query.Encode()
}

func TestSubscribe(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})

	status, body := ta.subscribe(t, "Player@Realm.gg ")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["subscriberId"])
	assert.Equal(t, false, body["degraded"])

	status, body = ta.subscribe(t, "player@realm.gg")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "EMAIL_EXISTS", body["error"])

	status, body = ta.subscribe(t, "not-an-email")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "EMAIL_INVALID", body["error"])

	status, _ = ta.do(t, http.MethodPost, "/api/subscribe", "{broken")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSubscribeDegraded(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})
	ta.primary.SetFailure(errors.New("websocket closed"))

	status, body := ta.subscribe(t, "a@b.com")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["degraded"])
	assert.Equal(t, 1, ta.secondary.Adds())
}

func TestSubscribeServerErrorHidesDetails(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})
	ta.primary.SetFailure(errors.New("dial tcp 10.1.2.3:8000: connection refused"))
	ta.secondary.SetFailure(storage.ErrQuotaExceeded)

	status, raw := ta.do(t, http.MethodPost, "/api/subscribe", `{"email":"a@b.com"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, raw, "SERVER_ERROR")
	assert.NotContains(t, raw, "10.1.2.3")
	assert.NotContains(t, raw, "quota")
}

func TestSubscribeRateLimit(t *testing.T) {
	const max = 5
	ta := newTestApp(t, config.RateLimitConfig{SubscribeMax: max, SubscribeWindow: time.Hour})

	for i := 1; i <= max; i++ {
		status, _ := ta.subscribe(t, fmt.Sprintf("player%d@realm.gg", i))
		require.Equal(t, http.StatusOK, status, "request %d", i)
	}

	status, body := ta.subscribe(t, "fresh@realm.gg")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, max, ta.primary.Adds())

	// other endpoints keep their own budget
	status, _ = ta.do(t, http.MethodGet, adminURL("/api/admin/stats", nil), "")
	assert.Equal(t, http.StatusOK, status)
}

func TestGlobalRateLimit(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{GlobalMax: 3, GlobalWindow: time.Hour})

	for i := 0; i < 3; i++ {
		status, _ := ta.do(t, http.MethodGet, adminURL("/api/admin/stats", nil), "")
		require.Equal(t, http.StatusOK, status)
	}
	status, _ := ta.do(t, http.MethodGet, adminURL("/api/admin/stats", nil), "")
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, _ = ta.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestUnsubscribe(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})
	ta.subscribe(t, "a@b.com")

	status, _ := ta.do(t, http.MethodPost, "/api/unsubscribe", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ta.do(t, http.MethodPost, "/api/unsubscribe", `{"email":"missing@b.com"}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ta.do(t, http.MethodPost, "/api/unsubscribe", `{"email":"A@B.com"}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminRejectsWrongSecret(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})
	ta.subscribe(t, "a@b.com")

	secrets := []string{"", "admin123", "correct-hors", "correct-horse ", "CORRECT-HORSE"}
	pages := []string{"", "0", "1", "2", "-1", "abc", "999999"}
	limits := []string{"", "0", "1", "50", "100000", "x"}

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/admin/stats"},
		{http.MethodGet, "/api/admin/subscribers"},
		{http.MethodGet, "/api/admin/export"},
		{http.MethodDelete, "/api/admin/subscribers"},
	}

	for _, p := range paths {
		for _, secret := range secrets {
			for _, page := range pages {
				for _, limit := range limits {
					q := url.Values{}
					q.Set("password", secret)
					q.Set("confirm", "yes")
					if page != "" {
						q.Set("page", page)
					}
					if limit != "" {
						q.Set("limit", limit)
					}
					status, _ := ta.do(t, p.method, p.path+"?"+q.Encode(), "")
					require.Equal(t, http.StatusUnauthorized, status, "%s %s %v", p.method, p.path, q)
				}
			}
		}
	}

	// nothing was cleared by the rejected deletes
	subs, err := ta.primary.ListAll(t.Context())
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestAdminStats(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})
	ta.subscribe(t, "a@b.com")
	ta.subscribe(t, "c@d.com")

	status, raw := ta.do(t, http.MethodGet, adminURL("/api/admin/stats", nil), "")
	require.Equal(t, http.StatusOK, status)

	var body struct {
		Success bool             `json:"success"`
		Stats   map[string]int64 `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &body))
	assert.True(t, body.Success)
	assert.Equal(t, int64(2), body.Stats["total_subscribers"])
	assert.Equal(t, int64(2), body.Stats["today_subscribers"])
	assert.Equal(t, int64(2), body.Stats["week_subscribers"])
}

func TestAdminSubscribers(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})
	for i := 0; i < 3; i++ {
		ta.subscribe(t, fmt.Sprintf("p%d@realm.gg", i))
	}

	status, raw := ta.do(t, http.MethodGet, adminURL("/api/admin/subscribers", url.Values{
		"page":  {"2"},
		"limit": {"2"},
	}), "")
	require.Equal(t, http.StatusOK, status)

	var body struct {
		Subscribers []map[string]any `json:"subscribers"`
		Page        int              `json:"page"`
		Limit       int              `json:"limit"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &body))
	assert.Equal(t, 2, body.Page)
	assert.Equal(t, 2, body.Limit)
	assert.Len(t, body.Subscribers, 1)

	status, raw = ta.do(t, http.MethodGet, adminURL("/api/admin/subscribers", nil), "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal([]byte(raw), &body))
	assert.Equal(t, 1, body.Page)
	assert.Equal(t, service.DefaultPageSize, body.Limit)
	assert.Len(t, body.Subscribers, 3)
}

func TestAdminExport(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})
	emails := []string{"a@b.com", "c@d.com", "e@f.com"}
	for _, email := range emails {
		ta.subscribe(t, email)
	}

	req := httptest.NewRequest(http.MethodGet, adminURL("/api/admin/export", nil), nil)
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "subscribers.csv")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, len(emails)+1)
	assert.Equal(t, "Email,Subscribed At,Source,IP", lines[0])

	exported := make([]string, 0, len(emails))
	for _, line := range lines[1:] {
		exported = append(exported, strings.SplitN(line, ",", 2)[0])
	}
	assert.ElementsMatch(t, emails, exported)

	status, raw := ta.do(t, http.MethodGet, adminURL("/api/admin/export", url.Values{"format": {"json"}}), "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, raw, `"totalEmails": 3`)
}

func TestAdminClear(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})
	ta.subscribe(t, "a@b.com")

	status, _ := ta.do(t, http.MethodDelete, adminURL("/api/admin/subscribers", nil), "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ta.do(t, http.MethodDelete, adminURL("/api/admin/subscribers", url.Values{"confirm": {"yes"}}), "")
	assert.Equal(t, http.StatusOK, status)

	subs, err := ta.primary.ListAll(t.Context())
	require.NoError(t, err)
	assert.Empty(t, subs)

	// the address can be captured again once the mirror is gone too
	status, _ = ta.subscribe(t, "a@b.com")
	assert.Equal(t, http.StatusOK, status)
}

func TestHomeAndNotFound(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})

	status, _ := ta.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, raw := ta.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, raw, "Endpoint not found")
}

func TestSecurityHeaders(t *testing.T) {
	ta := newTestApp(t, config.RateLimitConfig{})

	resp, err := ta.app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Frame-Options"))
}
