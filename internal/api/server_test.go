package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/creditgate/internal/config"
	"github.com/digkill/creditgate/internal/models"
	"github.com/digkill/creditgate/internal/reconcile"
	"github.com/digkill/creditgate/internal/repository"
	"github.com/digkill/creditgate/internal/service"
	"github.com/digkill/creditgate/internal/upstream"
)

type testEnv struct {
	store          *repository.MemoryStore
	handler        http.Handler
	upstreamStatus atomic.Int32
}

func newTestEnv(t *testing.T, admin bool) *testEnv {
	t.Helper()
	env := &testEnv{store: repository.NewMemoryStore()}
	env.upstreamStatus.Store(http.StatusOK)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status := int(env.upstreamStatus.Load()); status != http.StatusOK {
			http.Error(w, `{"error":"boom"}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c-1","model":"deepseek-coder","choices":[{"message":{"role":"assistant","content":"print(1)"},"finish_reason":"stop"}]}`)
	}))
	t.Cleanup(provider.Close)

	cfg := config.Config{
		ListenAddr:         ":0",
		UpstreamAPIKey:     "sk-test",
		UpstreamBaseURL:    provider.URL,
		UpstreamPath:       "/v1/chat/completions",
		UpstreamModel:      "deepseek-coder",
		UpstreamTimeout:    time.Second,
		DefaultMaxTokens:   8000,
		DefaultTemperature: 0.3,
		StartingCredits:    100,
		FreeDailyCap:       100,
	}
	if admin {
		cfg.AdminUsername = "ops"
		cfg.AdminPassword = "secret"
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := upstream.NewClient(cfg, log)
	require.NoError(t, err)

	recorder := reconcile.NewRecorder(log)
	recorder.AddSink("memory", env.store)

	guard := service.NewQuotaGuard(env.store, env.store, cfg.FreeDailyCap, time.UTC)
	ledger := service.NewLedger(env.store, log, cfg.CommitAttempts)
	generation := service.NewGenerationService(cfg, log, env.store, service.NewEstimator(0, 0), guard, ledger, client, recorder)
	accounts := service.NewAccountService(env.store, guard, cfg.StartingCredits, cfg.CommitAttempts)

	env.handler = NewServer(cfg, log, generation, accounts, env.store, env.store).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (e *testEnv) createAccount(t *testing.T, email string) string {
	t.Helper()
	rec, body := e.do(t, http.MethodPost, "/user/create", "", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return body["api_token"].(string)
}

func eightHundredCharRequest() map[string]any {
	return map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": strings.Repeat("x", 800)},
		},
	}
}

func TestCreateAccount(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, http.MethodPost, "/user/create", "", map[string]string{"email": "dev@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User created", body["message"])
	assert.Equal(t, "free", body["tier"])
	assert.Equal(t, float64(100), body["credits"])
	assert.NotEmpty(t, body["api_token"])

	rec, body = env.do(t, http.MethodPost, "/user/create", "", map[string]string{"email": "dev@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", body["error"])
}

func TestCreateAccount_QueryParameter(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, http.MethodPost, "/user/create?email=q@example.com", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["api_token"])

	rec, body = env.do(t, http.MethodPost, "/user/create", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body["error"])
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.createAccount(t, "dev@example.com")

	rec, body := env.do(t, http.MethodGet, "/user/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev@example.com", body["email"])
	assert.Equal(t, float64(100), body["credits"])
	assert.Equal(t, float64(0), body["today_usage"])
	assert.Equal(t, token, body["api_token"])

	rec, body = env.do(t, http.MethodGet, "/user/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", body["error"])
}

func TestGenerate_EndToEnd(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.createAccount(t, "dev@example.com")

	rec, body := env.do(t, http.MethodPost, "/generate", token, eightHundredCharRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "print(1)", body["content"])
	assert.Equal(t, float64(2), body["credits_used"])
	assert.Equal(t, float64(98), body["remaining_credits"])
	assert.NotContains(t, body, "billing_recorded")

	_, status := env.do(t, http.MethodGet, "/user/status", token, nil)
	assert.Equal(t, float64(98), status["credits"])
	assert.Equal(t, float64(2), status["today_usage"])
}

func TestGenerate_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.createAccount(t, "dev@example.com")
	env.upstreamStatus.Store(http.StatusInternalServerError)

	rec, body := env.do(t, http.MethodPost, "/generate", token, eightHundredCharRequest())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream_error", body["error"])

	_, status := env.do(t, http.MethodGet, "/user/status", token, nil)
	assert.Equal(t, float64(100), status["credits"])
}

func TestGenerate_PaymentRequired(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.createAccount(t, "dev@example.com")
	acct, err := env.store.FindByToken(context.Background(), token)
	require.NoError(t, err)
	require.NoError(t, env.store.UpdateBalance(context.Background(), acct.ID, 100, 1))

	rec, body := env.do(t, http.MethodPost, "/generate", token, eightHundredCharRequest())
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "insufficient_credits", body["error"])
	assert.Equal(t, "insufficient credits", body["detail"])
}

func TestGenerate_BadRequests(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.createAccount(t, "dev@example.com")

	rec, body := env.do(t, http.MethodPost, "/generate", token, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid json", body["detail"])

	rec, _ = env.do(t, http.MethodPost, "/generate", token, map[string]any{"temperature": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/generate", "wrong", eightHundredCharRequest())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.createAccount(t, "dev@example.com")
	acct, err := env.store.FindByToken(context.Background(), token)
	require.NoError(t, err)
	require.NoError(t, env.store.Record(context.Background(), models.BillingGap{ID: "gap-1", AccountID: acct.ID, CreditsUsed: 2}))

	adminReq := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.SetBasicAuth("ops", "secret")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	rec, _ := env.do(t, http.MethodGet, "/admin/billing-gaps", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = adminReq(http.MethodGet, "/admin/billing-gaps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"gap-1"`)

	rec = adminReq(http.MethodPost, fmt.Sprintf("/admin/accounts/%d/credits", acct.ID), `{"amount":50}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"credits":150`)

	rec = adminReq(http.MethodPut, fmt.Sprintf("/admin/accounts/%d/tier", acct.ID), `{"tier":"pro"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"tier":"pro"`)

	rec = adminReq(http.MethodPost, "/admin/accounts/abc/credits", `{"amount":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = adminReq(http.MethodPost, "/admin/accounts/999/credits", `{"amount":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminResolveGap(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	require.NoError(t, env.store.Record(ctx, models.BillingGap{ID: "gap-1", AccountID: 1, CreditsUsed: 2}))

	adminReq := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.SetBasicAuth("ops", "secret")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := adminReq(http.MethodPost, "/admin/billing-gaps/gap-1/resolve")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"resolved":true`)

	rec = adminReq(http.MethodGet, "/admin/billing-gaps")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "gap-1")

	rec = adminReq(http.MethodPost, "/admin/billing-gaps/gap-1/resolve")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"not_found"`)
}

func TestAdminRoutesDisabled(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/admin/billing-gaps", nil)
	req.SetBasicAuth("ops", "secret")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[service.Kind]int{
		service.KindUnauthenticated:     http.StatusUnauthorized,
		service.KindAccountNotFound:     http.StatusNotFound,
		service.KindBadRequest:          http.StatusBadRequest,
		service.KindQuotaExceeded:       http.StatusPaymentRequired,
		service.KindInsufficientCredits: http.StatusPaymentRequired,
		service.KindUpstreamTimeout:     http.StatusGatewayTimeout,
		service.KindUpstreamError:       http.StatusBadGateway,
		service.KindStoreError:          http.StatusServiceUnavailable,
		service.KindConflict:            http.StatusConflict,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", bearerToken(req))

	req.Header.Set("Authorization", "bearer  abc ")
	assert.Equal(t, "abc", bearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", bearerToken(req))
}
