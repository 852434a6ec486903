package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algoedge/internal/models"
	"algoedge/internal/service"
	"algoedge/pkg/ratelimit"
	"algoedge/pkg/utils"
)

const goodToken = "good-token"

type fakeAuth struct{}

func (fakeAuth) Register(ctx context.Context, req service.RegisterRequest) (*service.AuthResult, error) {
	return &service.AuthResult{User: &models.User{ID: 1, Email: req.Email}, Token: goodToken}, nil
}

func (fakeAuth) Login(ctx context.Context, req service.LoginRequest) (*service.AuthResult, error) {
	return nil, service.ErrInvalidCredentials
}

func (fakeAuth) VerifyToken(ctx context.Context, token string) (int64, error) {
	if token != goodToken {
		return 0, service.ErrInvalidToken
	}
	return 1, nil
}

func (fakeAuth) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return &models.User{ID: id, Email: "a@b.io"}, nil
}

type fakeMT5 struct {
	connects int
}

func (f *fakeMT5) Connect(ctx context.Context, userID int64, req service.ConnectRequest) (*service.ConnectResult, error) {
	f.connects++
	account := &models.MT5Account{ID: 1, UserID: userID, AccountID: req.AccountID, Server: req.Server,
		Balance: decimal.NewFromInt(1000), Equity: decimal.NewFromInt(1000)}
	account.MarkConnected(time.Now())
	return &service.ConnectResult{Account: account, RemoteReady: true, BalanceSynced: true}, nil
}

func (f *fakeMT5) ListAccounts(ctx context.Context, userID int64) ([]*models.MT5Account, error) {
	return nil, nil
}

func (f *fakeMT5) GetAccount(ctx context.Context, userID, id int64) (*models.MT5Account, error) {
	return nil, service.ErrAccountNotFound
}

func (f *fakeMT5) SyncAccount(ctx context.Context, userID, id int64, ip string) (*models.MT5Account, error) {
	return nil, service.ErrAccountNotFound
}

func (f *fakeMT5) DisconnectAccount(ctx context.Context, userID, id int64, ip string) (*models.MT5Account, error) {
	return nil, service.ErrAccountNotFound
}

type fakeAudit struct{}

func (fakeAudit) ListForUser(ctx context.Context, userID int64, limit int) ([]*models.AuditLog, error) {
	return nil, nil
}

func newTestRouter(limiter *ratelimit.KeyedLimiter) (http.Handler, *fakeMT5) {
	mt5 := &fakeMT5{}
	router := SetupRoutes(&Dependencies{
		MT5Service:     mt5,
		AuthService:    fakeAuth{},
		AuditService:   fakeAudit{},
		Limiter:        limiter,
		AllowedOrigins: []string{"http://localhost:3000"},
		Logger:         utils.NewNop(),
	})
	return router, mt5
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const connectBody = `{"accountId":"5012345","password":"secret","server":"Broker-Demo"}`

func TestRoutes_ConnectRequiresToken(t *testing.T) {
	router, mt5 := newTestRouter(nil)

	w := do(router, http.MethodPost, "/api/v1/mt5/connect", "", connectBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)

	w = do(router, http.MethodPost, "/api/v1/mt5/connect", "forged", connectBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, mt5.connects)

	w = do(router, http.MethodPost, "/api/v1/mt5/connect", goodToken, connectBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"message"`)
	assert.Contains(t, w.Body.String(), `"accountId":"5012345"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, 1, mt5.connects)
}

func TestRoutes_ProtectedEndpoints(t *testing.T) {
	router, _ := newTestRouter(nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodGet, "/api/v1/mt5/accounts"},
		{http.MethodGet, "/api/v1/mt5/accounts/1"},
		{http.MethodPost, "/api/v1/mt5/accounts/1/sync"},
		{http.MethodDelete, "/api/v1/mt5/accounts/1"},
		{http.MethodGet, "/api/v1/audit-logs"},
	} {
		w := do(router, tc.method, tc.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", tc.method, tc.path)
	}

	w := do(router, http.MethodGet, "/api/v1/mt5/accounts", goodToken, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(router, http.MethodGet, "/api/v1/mt5/accounts/1", goodToken, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_HealthMetricsPreflight(t *testing.T) {
	router, _ := newTestRouter(nil)

	w := do(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = do(router, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "algoedge_http_request_duration_seconds")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/mt5/accounts", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoutes_RateLimitedLogin(t *testing.T) {
	router, _ := newTestRouter(ratelimit.NewKeyedLimiter(0.001, 1, time.Minute))

	w := do(router, http.MethodPost, "/api/v1/auth/login", "", `{"email":"a@b.io","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(router, http.MethodPost, "/api/v1/auth/login", "", `{"email":"a@b.io","password":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
