package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/perception/pkg/config"
	"github.com/ethpandaops/perception/pkg/lifecycle"
	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/report"
	"github.com/ethpandaops/perception/pkg/timing"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"

func testAPIConfig(t *testing.T) *config.APIConfig {
	t.Helper()

	return &config.APIConfig{
		Server: config.APIServerConfig{Listen: "127.0.0.1:0"},
		Auth: config.APIAuthConfig{
			SessionTTL:    "1h",
			AnonymousRead: true,
			Basic: config.BasicAuthConfig{
				Enabled: true,
				Users: []config.BasicAuthUser{
					{Username: "admin", Password: "secret", Role: "admin"},
					{Username: "alice", Password: "wonder", Role: "user"},
				},
			},
		},
		Database: config.APIDatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteDatabaseConfig{
				Path: filepath.Join(t.TempDir(), "perception.db"),
			},
		},
		Stats: config.APIStatsConfig{
			HistogramBins:     10,
			HistogramHeadroom: 1.1,
		},
		Sessions: config.APISessionsConfig{DefaultMode: "user"},
	}
}

type testEnv struct {
	srv *server
	ts  *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*config.APIConfig)) *testEnv {
	t.Helper()

	cfg := testAPIConfig(t)
	if mutate != nil {
		mutate(cfg)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	srv, ok := NewServer(log, cfg).(*server)
	require.True(t, ok)
	require.NoError(t, srv.prepare(context.Background()))

	ts := httptest.NewServer(srv.buildRouter())

	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, srv.Stop())
	})

	return &testEnv{srv: srv, ts: ts}
}

// client returns an HTTP client with its own cookie jar.
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *testEnv) login(t *testing.T, username, password string) *http.Client {
	t.Helper()

	c := e.client(t)
	resp := e.do(t, c, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	return c
}

func (e *testEnv) do(t *testing.T, c *http.Client, method, path, ua string, body any) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)

		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("User-Agent", ua)

	resp, err := c.Do(req)
	require.NoError(t, err)

	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))

	return v
}

func (e *testEnv) createTest(t *testing.T, c *http.Client, source string) model.Test {
	t.Helper()

	resp := e.do(t, c, http.MethodPost, "/api/v1/tests", "", testRequest{Source: source})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decode[model.Test](t, resp)
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + path
}

func TestHealthAndConfig(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	resp := env.do(t, c, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, c, http.MethodGet, "/api/v1/config", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cfg := decode[map[string]any](t, resp)
	auth, ok := cfg["auth"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, auth["anonymous_read"])
	assert.ElementsMatch(t, []any{"android", "etc", "ios", "unknown"}, cfg["platforms"])
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("rejects bad credentials", func(t *testing.T) {
		resp := env.do(t, env.client(t), http.MethodPost, "/api/v1/auth/login", "",
			map[string]string{"username": "admin", "password": "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("me requires a session", func(t *testing.T) {
		resp := env.do(t, env.client(t), http.MethodGet, "/api/v1/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("login then me then logout", func(t *testing.T) {
		c := env.login(t, "alice", "wonder")

		resp := env.do(t, c, http.MethodGet, "/api/v1/auth/me", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		me := decode[userResponse](t, resp)
		assert.Equal(t, "alice", me.Username)
		assert.Equal(t, "user", me.Role)

		resp = env.do(t, c, http.MethodPost, "/api/v1/auth/logout", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = env.do(t, c, http.MethodGet, "/api/v1/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestReadAccess(t *testing.T) {
	t.Run("anonymous read allowed", func(t *testing.T) {
		env := newTestEnv(t, nil)
		c := env.client(t)

		resp := env.do(t, c, http.MethodGet, "/api/v1/tests", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = env.do(t, c, http.MethodPost, "/api/v1/tests", "", testRequest{Source: "<p>x</p>"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("anonymous read disabled", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *config.APIConfig) {
			cfg.Auth.AnonymousRead = false
		})

		resp := env.do(t, env.client(t), http.MethodGet, "/api/v1/tests", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		c := env.login(t, "alice", "wonder")
		resp = env.do(t, c, http.MethodGet, "/api/v1/tests", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestTestCRUD(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice", "wonder")
	admin := env.login(t, "admin", "secret")

	resp := env.do(t, alice, http.MethodPost, "/api/v1/tests", "", testRequest{Source: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	created := env.createTest(t, alice, "https://example.com/")
	require.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Rev)

	path := "/api/v1/tests/" + created.ID

	resp = env.do(t, alice, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://example.com/", decode[model.Test](t, resp).Source)

	resp = env.do(t, alice, http.MethodPut, path, "", testRequest{Rev: 1, Source: "<h1>hi</h1>", Description: "inline"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), decode[model.Test](t, resp).Rev)

	resp = env.do(t, alice, http.MethodPut, path, "", testRequest{Rev: 1, Source: "<h1>stale</h1>"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, alice, http.MethodDelete, path+"?rev=2", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, admin, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, admin, http.MethodDelete, path+"?rev=1", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, admin, http.MethodDelete, path+"?rev=2", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, alice, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUserModeSession(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice", "wonder")
	test := env.createTest(t, alice, "<h1>hello</h1>")

	resp := env.do(t, alice, http.MethodPost, "/api/v1/tests/"+test.ID+"/sessions", iphoneUA, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sess := decode[measurementSessionResponse](t, resp)
	assert.Equal(t, lifecycle.StateIdle, sess.State)
	assert.Equal(t, timing.ModeUser, sess.Mode)
	assert.Empty(t, sess.ChannelURL)

	toggle := func() measurementSessionResponse {
		resp := env.do(t, alice, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/toggle", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		return decode[measurementSessionResponse](t, resp)
	}

	assert.Equal(t, lifecycle.StateReady, toggle().State)

	running := toggle()
	assert.Equal(t, lifecycle.StateRunning, running.State)
	assert.True(t, strings.HasPrefix(running.EmbedURL, "data:text/html"))

	// Nothing is stored before the run completes.
	resp = env.do(t, alice, http.MethodGet, "/api/v1/tests/"+test.ID+"/runs", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]runResponse](t, resp))

	done := toggle()
	assert.Equal(t, lifecycle.StateDone, done.State)
	assert.True(t, done.Persisted)

	resp = env.do(t, alice, http.MethodGet, "/api/v1/tests/"+test.ID+"/runs?platform=ios", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	runs := decode[[]runResponse](t, resp)
	require.Len(t, runs, 1)
	assert.Equal(t, "ios", string(runs[0].Platform))
	require.NotNil(t, runs[0].ClientIdentifier)
	assert.Equal(t, iphoneUA, *runs[0].ClientIdentifier)
	require.NotNil(t, runs[0].DeltaMs)
	assert.GreaterOrEqual(t, *runs[0].DeltaMs, 0.0)

	resp = env.do(t, alice, http.MethodGet, "/api/v1/tests/"+test.ID+"/runs?platform=android", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]runResponse](t, resp))

	resp = env.do(t, alice, http.MethodGet, "/api/v1/tests/"+test.ID+"/stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rep := decode[report.TestReport](t, resp)
	assert.Equal(t, 1, rep.Stats.Count)
	require.Len(t, rep.Platforms, 1)
	assert.Equal(t, "ios", string(rep.Platforms[0].Platform))

	// Re-arming keeps the stored run.
	resp = env.do(t, alice, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/reset", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, lifecycle.StateReady, decode[measurementSessionResponse](t, resp).State)

	resp = env.do(t, alice, http.MethodDelete, "/api/v1/sessions/"+sess.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, alice, http.MethodGet, "/api/v1/sessions/"+sess.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIdleSessionsReaped(t *testing.T) {
	env := newTestEnv(t, func(c *config.APIConfig) { c.Sessions.IdleTTL = "10m" })
	alice := env.login(t, "alice", "wonder")
	test := env.createTest(t, alice, "<h1>hello</h1>")

	resp := env.do(t, alice, http.MethodPost, "/api/v1/tests/"+test.ID+"/sessions", iphoneUA,
		startSessionRequest{Mode: "content"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sid := decode[measurementSessionResponse](t, resp).ID

	assert.Equal(t, 0, env.srv.reapIdle(context.Background(), time.Now().Add(5*time.Minute)))

	resp = env.do(t, alice, http.MethodGet, "/api/v1/sessions/"+sid, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 1, env.srv.reapIdle(context.Background(), time.Now().Add(11*time.Minute)))

	resp = env.do(t, alice, http.MethodGet, "/api/v1/sessions/"+sid, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice", "wonder")
	test := env.createTest(t, alice, "<p>x</p>")

	resp := env.do(t, alice, http.MethodPost, "/api/v1/tests/"+test.ID+"/sessions", "", startSessionRequest{Mode: "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, alice, http.MethodPost, "/api/v1/tests/missing/sessions", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, alice, http.MethodPost, "/api/v1/sessions/missing/toggle", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, alice, http.MethodGet, "/api/v1/tests/"+test.ID+"/runs?platform=windows", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, alice, http.MethodGet, "/api/v1/sessions/missing/channel", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownClientIdentifier(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice", "wonder")
	test := env.createTest(t, alice, "<p>x</p>")

	resp := env.do(t, alice, http.MethodPost, "/api/v1/tests/"+test.ID+"/sessions", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sid := decode[measurementSessionResponse](t, resp).ID

	for range 3 {
		resp = env.do(t, alice, http.MethodPost, "/api/v1/sessions/"+sid+"/toggle", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp = env.do(t, alice, http.MethodGet, "/api/v1/tests/"+test.ID+"/runs?platform=unknown", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	runs := decode[[]runResponse](t, resp)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].ClientIdentifier)
}

func TestContentModeSession(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice", "wonder")
	test := env.createTest(t, alice, "<p>measure me</p>")

	resp := env.do(t, alice, http.MethodPost, "/api/v1/tests/"+test.ID+"/sessions", iphoneUA,
		startSessionRequest{Mode: "content"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sess := decode[measurementSessionResponse](t, resp)
	require.Equal(t, timing.ModeContent, sess.Mode)
	require.NotEmpty(t, sess.ChannelURL)

	base := "/api/v1/sessions/" + sess.ID

	resp = env.do(t, alice, http.MethodGet, base+"/content", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	for _, want := range []lifecycle.State{lifecycle.StateReady, lifecycle.StateRunning} {
		resp = env.do(t, alice, http.MethodPost, base+"/toggle", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, want, decode[measurementSessionResponse](t, resp).State)
	}

	// The embedded page is public and carries the channel client.
	resp = env.do(t, env.client(t), http.MethodGet, base+"/content", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentSecurityPolicy, resp.Header.Get("Content-Security-Policy"))

	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "measure me")
	assert.Contains(t, string(page), "window.perception")
	assert.Contains(t, string(page), "/channel")

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(base+"/channel"), nil)
	require.NoError(t, err)

	defer conn.Close()

	resp = env.do(t, alice, http.MethodPost, base+"/toggle", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	done := decode[measurementSessionResponse](t, resp)
	assert.Equal(t, lifecycle.StateDone, done.State)
	assert.True(t, done.Persisted)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var in timing.Instruction
	require.NoError(t, conn.ReadJSON(&in))
	assert.Equal(t, timing.InstructionStop, in.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "payload",
		"data": map[string]any{"fcp": 123},
	}))

	runsPath := "/api/v1/tests/" + test.ID + "/runs"

	require.Eventually(t, func() bool {
		resp := env.do(t, alice, http.MethodGet, runsPath, "", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}

		runs := decode[[]runResponse](t, resp)

		return len(runs) == 1 && len(runs[0].MeasurementPayload) > 0
	}, 5*time.Second, 50*time.Millisecond)

	resp = env.do(t, alice, http.MethodGet, runsPath, "", nil)
	runs := decode[[]runResponse](t, resp)
	assert.JSONEq(t, `{"fcp":123}`, string(runs[0].MeasurementPayload))
	assert.Equal(t, int64(2), runs[0].Rev)
}

func TestContentURLRedirect(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice", "wonder")
	test := env.createTest(t, alice, "https://example.com/page")

	resp := env.do(t, alice, http.MethodPost, "/api/v1/tests/"+test.ID+"/sessions", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sid := decode[measurementSessionResponse](t, resp).ID

	for range 2 {
		resp = env.do(t, alice, http.MethodPost, "/api/v1/sessions/"+sid+"/toggle", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp = env.do(t, env.client(t), http.MethodGet, "/api/v1/sessions/"+sid+"/content", "", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com/page", resp.Header.Get("Location"))
}

func TestRunChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice", "wonder")
	test := env.createTest(t, alice, "<p>x</p>")
	other := env.createTest(t, alice, "<p>y</p>")

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/api/v1/runs/changes?test_id="+test.ID), nil)
	require.NoError(t, err)

	defer conn.Close()

	// Wait for the subscription before producing runs.
	time.Sleep(100 * time.Millisecond)

	complete := func(testID string) {
		resp := env.do(t, alice, http.MethodPost, "/api/v1/tests/"+testID+"/sessions", iphoneUA, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		sid := decode[measurementSessionResponse](t, resp).ID

		for range 3 {
			resp = env.do(t, alice, http.MethodPost, "/api/v1/sessions/"+sid+"/toggle", "", nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}
	}

	complete(other.ID)
	complete(test.ID)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var got runResponse
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, test.ID, got.TestID)
	assert.Equal(t, "ios", string(got.Platform))
}

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.login(t, "admin", "secret")
	alice := env.login(t, "alice", "wonder")

	resp := env.do(t, alice, http.MethodGet, "/api/v1/admin/users", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	role := "viewer"
	password := "pw"

	resp = env.do(t, admin, http.MethodPost, "/api/v1/admin/users", "",
		userRequest{Username: "bob", Password: &password, Role: &role})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, admin, http.MethodPost, "/api/v1/admin/users", "",
		userRequest{Username: "bob", Password: &password})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	bob := decode[userResponse](t, resp)
	assert.Equal(t, "user", bob.Role)
	assert.Equal(t, "admin", bob.Source)

	resp = env.do(t, admin, http.MethodPost, "/api/v1/admin/users", "",
		userRequest{Username: "bob", Password: &password})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	env.login(t, "bob", "pw")

	resp = env.do(t, admin, http.MethodGet, "/api/v1/admin/sessions", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]loginSessionResponse](t, resp), 3)

	resp = env.do(t, admin, http.MethodDelete, "/api/v1/admin/users/"+strconv.FormatUint(uint64(bob.ID), 10), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, admin, http.MethodDelete, "/api/v1/admin/users/"+strconv.FormatUint(uint64(bob.ID), 10), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, admin, http.MethodGet, "/api/v1/admin/sessions", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]loginSessionResponse](t, resp), 2)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.APIConfig) {
		cfg.Server.RateLimit = config.RateLimitConfig{
			Enabled:       true,
			Auth:          config.RateLimitTier{RequestsPerMinute: 1},
			Public:        config.RateLimitTier{RequestsPerMinute: 60},
			Authenticated: config.RateLimitTier{RequestsPerMinute: 60},
		}
	})

	c := env.client(t)
	body := map[string]string{"username": "admin", "password": "wrong"}

	resp := env.do(t, c, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, c, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestClientAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", clientAddr(r))

	r.Header.Set("X-Forwarded-For", " 192.168.1.1 , 10.0.0.2")
	assert.Equal(t, "192.168.1.1", clientAddr(r))
}
