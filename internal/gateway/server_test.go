package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/chatpulse/internal/config"
	"github.com/soyeahso/chatpulse/internal/domain"
	"github.com/soyeahso/chatpulse/internal/hooks"
	"github.com/soyeahso/chatpulse/internal/ingest"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/stats"
	"github.com/soyeahso/chatpulse/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	body []byte
	src  ingest.Source
	res  *ingest.Result
	err  error
}

func (f *fakeIngester) Process(_ context.Context, raw []byte, src ingest.Source) (*ingest.Result, error) {
	f.body = raw
	f.src = src
	return f.res, f.err
}

type fakeStats struct {
	days, limit int
	phone       string
	err         error
}

func (f *fakeStats) Overall(_ context.Context, days int) (*stats.Summary, error) {
	f.days = days
	return &stats.Summary{Days: days, Count: 3, AverageMinutes: 7}, f.err
}

func (f *fakeStats) PerContact(_ context.Context, phone string, days int) (*stats.Summary, error) {
	f.phone, f.days = phone, days
	if phone == "" {
		return nil, domain.NewValidationError("phone", "required")
	}
	return &stats.Summary{Days: days, Count: 1}, f.err
}

func (f *fakeStats) Ranking(_ context.Context, limit, days int) ([]stats.RankingEntry, error) {
	f.limit, f.days = limit, days
	return []stats.RankingEntry{{ContactPhone: "+2", Count: 1, AverageMinutes: 40}}, f.err
}

func (f *fakeStats) PendingNow(_ context.Context, limit int) ([]stats.PendingItem, error) {
	f.limit = limit
	return []stats.PendingItem{{ContactPhone: "+1", WaitingMinutes: 45, IsUrgent: true}}, f.err
}

type testEnv struct {
	srv    *Server
	ts     *httptest.Server
	ingest *fakeIngester
	stats  *fakeStats
	hooks  *hooks.Manager
}

func testServer(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	for _, m := range mutate {
		m(&cfg)
	}

	log := logging.New(nil, "silent")
	env := &testEnv{
		ingest: &fakeIngester{res: &ingest.Result{EventID: "evt-1", Kind: webhook.KindMessageReceived, Processed: true}},
		stats:  &fakeStats{},
		hooks:  hooks.NewManager(log),
	}
	env.srv = New(cfg, env.ingest, env.stats, log, WithHooks(env.hooks))
	env.ts = httptest.NewServer(env.srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func decodeError(t *testing.T, resp *http.Response) ErrorShape {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)

	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Build.Version)
	assert.Equal(t, 0, health.Clients)
}

func TestNotFoundRoute(t *testing.T) {
	env := testServer(t)

	resp, err := http.Get(env.ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, codeNotFound, decodeError(t, resp).Code)
}

func TestWebhook_Success(t *testing.T) {
	env := testServer(t)

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/webhook", strings.NewReader(`{"message":{}}`))
	require.NoError(t, err)
	req.Header.Set("User-Agent", "platform/2")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var res ingest.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "evt-1", res.EventID)
	assert.True(t, res.Processed)

	assert.Equal(t, `{"message":{}}`, string(env.ingest.body))
	assert.Equal(t, "203.0.113.9", env.ingest.src.IP)
	assert.Equal(t, "platform/2", env.ingest.src.UserAgent)
}

func TestWebhook_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"validation", domain.NewValidationError("message.externalId", "required"), http.StatusBadRequest, codeValidation, false},
		{"not found", &domain.NotFoundError{Table: "conversations"}, http.StatusNotFound, codeNotFound, false},
		{"persistence", &domain.PersistenceError{Op: "insert", Table: "messages", Attempts: 3, Err: fmt.Errorf("database is locked")}, http.StatusServiceUnavailable, codePersistence, true},
		{"timeout", fmt.Errorf("resolve: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, codeTimeout, true},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError, codeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.ingest.err = tt.err

			resp, err := http.Post(env.ts.URL+"/webhook", "application/json", strings.NewReader(`{}`))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			shape := decodeError(t, resp)
			assert.Equal(t, tt.code, shape.Code)
			assert.Equal(t, tt.retryable, shape.Retryable)
			assert.NotEmpty(t, shape.Details)
		})
	}
}

func TestWebhook_DetailsHiddenInProduction(t *testing.T) {
	env := testServer(t, func(c *config.Config) { c.Environment = "production" })
	env.ingest.err = &domain.PersistenceError{Op: "insert", Table: "messages", Err: fmt.Errorf("dial tcp 10.0.0.5:5432: refused")}

	resp, err := http.Post(env.ts.URL+"/webhook", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	shape := decodeError(t, resp)
	assert.Equal(t, codePersistence, shape.Code)
	assert.Empty(t, shape.Details)
	assert.NotContains(t, shape.Message, "10.0.0.5")
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	env := testServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 16 })

	resp, err := http.Post(env.ts.URL+"/webhook", "application/json", strings.NewReader(strings.Repeat("x", 64)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, codeTooLarge, decodeError(t, resp).Code)
	assert.Nil(t, env.ingest.body)
}

func TestWebhook_GetFallsThroughToNotFound(t *testing.T) {
	env := testServer(t)

	resp, err := http.Get(env.ts.URL + "/webhook")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Nil(t, env.ingest.body)
}

func TestStatsEndpoints(t *testing.T) {
	env := testServer(t)

	resp, err := http.Get(env.ts.URL + "/api/stats/overall?days=7")
	require.NoError(t, err)
	var sum stats.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	resp.Body.Close()
	assert.Equal(t, 7, env.stats.days)
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, int64(7), sum.AverageMinutes)

	resp, err = http.Get(env.ts.URL + "/api/stats/contacts/+5511999999999")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "+5511999999999", env.stats.phone)
	assert.Equal(t, 0, env.stats.days)

	resp, err = http.Get(env.ts.URL + "/api/stats/ranking?limit=5&days=14")
	require.NoError(t, err)
	var ranking struct {
		Ranking []stats.RankingEntry `json:"ranking"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ranking))
	resp.Body.Close()
	assert.Equal(t, 5, env.stats.limit)
	assert.Equal(t, 14, env.stats.days)
	require.Len(t, ranking.Ranking, 1)
	assert.Equal(t, "+2", ranking.Ranking[0].ContactPhone)

	resp, err = http.Get(env.ts.URL + "/api/stats/pending?limit=20")
	require.NoError(t, err)
	var pending struct {
		Pending []stats.PendingItem `json:"pending"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	resp.Body.Close()
	assert.Equal(t, 20, env.stats.limit)
	require.Len(t, pending.Pending, 1)
	assert.True(t, pending.Pending[0].IsUrgent)
}

func TestStatsEndpoints_BadQuery(t *testing.T) {
	env := testServer(t)

	for _, path := range []string{
		"/api/stats/overall?days=abc",
		"/api/stats/ranking?limit=-1",
		"/api/stats/pending?limit=1.5",
	} {
		resp, err := http.Get(env.ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Equal(t, codeValidation, decodeError(t, resp).Code)
		resp.Body.Close()
	}
}

func TestStatsEndpoints_StorageFailure(t *testing.T) {
	env := testServer(t)
	env.stats.err = &domain.PersistenceError{Op: "query", Table: "pending_responses", Err: fmt.Errorf("timeout")}

	resp, err := http.Get(env.ts.URL + "/api/stats/overall")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, decodeError(t, resp).Retryable)
}

func dialFeed(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestLiveFeed_HelloThenEvents(t *testing.T) {
	env := testServer(t)
	conn := dialFeed(t, env)

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, FrameTypeEvent, hello.Type)
	assert.Equal(t, EventHello, hello.Event)
	var h Hello
	require.NoError(t, json.Unmarshal(hello.Payload, &h))
	assert.NotEmpty(t, h.ConnID)
	assert.Contains(t, h.Events, hooks.EventResponseRecorded)
	assert.Equal(t, 1, env.srv.clients.Count())

	env.hooks.Emit(context.Background(), hooks.EventPendingOpened, map[string]any{"contactPhone": "+1"})
	env.hooks.Emit(context.Background(), hooks.EventResponseRecorded, map[string]any{"responseTimeMinutes": 3})

	var first, second Frame
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, hooks.EventPendingOpened, first.Event)
	assert.Equal(t, hooks.EventResponseRecorded, second.Event)
	assert.Less(t, first.Seq, second.Seq)

	var p hooks.Payload
	require.NoError(t, json.Unmarshal(second.Payload, &p))
	assert.Equal(t, hooks.EventResponseRecorded, p.Event)
	assert.Equal(t, float64(3), p.Data["responseTimeMinutes"])
}

func TestLiveFeed_RejectsForeignOrigin(t *testing.T) {
	env := testServer(t, func(c *config.Config) {
		c.Server.AllowedOrigins = []string{"https://dash.example.com"}
	})
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://dash.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()
}

func TestServe_GracefulShutdown(t *testing.T) {
	log := logging.New(nil, "silent")
	hm := hooks.NewManager(log)
	var events []string
	hm.OnAll("test", func(_ context.Context, p hooks.Payload) error {
		events = append(events, p.Event)
		return nil
	})
	srv := New(config.Defaults(), &fakeIngester{res: &ingest.Result{}}, &fakeStats{}, log, WithHooks(hm))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ln.Addr().String(), srv.Addr())

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, []string{hooks.EventServerStart, hooks.EventServerStop}, events)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		cfg  config.ServerConfig
		want string
	}{
		{config.ServerConfig{Bind: "loopback", Port: 8080}, "127.0.0.1:8080"},
		{config.ServerConfig{Bind: "lan", Port: 9000}, "0.0.0.0:9000"},
		{config.ServerConfig{Bind: "auto", Port: 9000}, "0.0.0.0:9000"},
		{config.ServerConfig{Bind: "custom", CustomBindHost: "10.1.2.3", Port: 80}, "10.1.2.3:80"},
		{config.ServerConfig{Bind: "custom", CustomBindHost: "::1", Port: 80}, "[::1]:80"},
		{config.ServerConfig{Port: 1}, "127.0.0.1:1"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveBindAddr(tt.cfg))
		})
	}
}
