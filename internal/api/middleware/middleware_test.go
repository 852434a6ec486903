package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"algoedge/internal/service"
	"algoedge/pkg/ratelimit"
	"algoedge/pkg/utils"
)

type stubVerifier struct {
	userID int64
	err    error
	calls  int
}

func (s *stubVerifier) VerifyToken(ctx context.Context, token string) (int64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if token != "good-token" {
		return 0, service.ErrInvalidToken
	}
	return s.userID, nil
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

// ============ Auth ============

func TestAuth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		verifyErr  error
		wantStatus int
		wantCalled bool
	}{
		{"missing header", "", nil, http.StatusUnauthorized, false},
		{"wrong scheme", "Basic dXNlcjpwYXNz", nil, http.StatusUnauthorized, false},
		{"empty bearer", "Bearer   ", nil, http.StatusUnauthorized, false},
		{"rejected token", "Bearer bad-token", nil, http.StatusUnauthorized, false},
		{"storage failure", "Bearer good-token", errors.New("db down"), http.StatusInternalServerError, false},
		{"valid token", "Bearer good-token", nil, http.StatusOK, true},
		{"scheme is case insensitive", "bearer good-token", nil, http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &stubVerifier{userID: 42, err: tt.verifyErr}
			var called bool
			var gotUser int64

			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotUser, _ = UserIDFromContext(r.Context())
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/mt5/connect", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			Auth(verifier, utils.NewNop())(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if tt.wantCalled && gotUser != 42 {
				t.Errorf("expected user 42 in context, got %d", gotUser)
			}
			if !tt.wantCalled {
				var body errorBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error == "" {
					t.Errorf("expected {error} body, got %q (%v)", w.Body.String(), err)
				}
			}
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Error("expected no user in empty context")
	}
	if _, ok := UserIDFromContext(WithUserID(context.Background(), 0)); ok {
		t.Error("zero id must not count as authenticated")
	}
	if id, ok := UserIDFromContext(WithUserID(context.Background(), 9)); !ok || id != 9 {
		t.Errorf("expected 9, got %d (%v)", id, ok)
	}
}

// ============ RequestID ============

func TestRequestID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	t.Run("generates id", func(t *testing.T) {
		w := httptest.NewRecorder()
		RequestID(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if len(seen) != 36 {
			t.Errorf("expected uuid, got %q", seen)
		}
		if w.Header().Get(RequestIDHeader) != seen {
			t.Errorf("response header %q != context id %q", w.Header().Get(RequestIDHeader), seen)
		}
	})

	t.Run("keeps client id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "client-req-1")
		RequestID(next).ServeHTTP(httptest.NewRecorder(), req)

		if seen != "client-req-1" {
			t.Errorf("expected client id, got %q", seen)
		}
	})
}

// ============ Recovery ============

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	Recovery(utils.NewNop())(panicking).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Internal server error" {
		t.Errorf("panic details must not leak, got %q", body.Error)
	}
}

// ============ Logging ============

func TestLogging_CapturesStatus(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	w := httptest.NewRecorder()
	Logging(utils.NewNop())(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("expected 418 to pass through, got %d", w.Code)
	}
	if w.Body.String() != "short and stout" {
		t.Errorf("body changed: %q", w.Body.String())
	}
}

// ============ CORS ============

func TestCORS(t *testing.T) {
	handler := CORS([]string{"http://localhost:3000"})

	t.Run("allowed origin", func(t *testing.T) {
		var called bool
		req := httptest.NewRequest(http.MethodGet, "/api/v1/mt5/accounts", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()

		handler(okHandler(&called)).ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("expected origin echo, got %q", got)
		}
		if !called {
			t.Error("handler not called")
		}
	})

	t.Run("foreign origin", func(t *testing.T) {
		var called bool
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://evil.com")
		w := httptest.NewRecorder()

		handler(okHandler(&called)).ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no CORS header, got %q", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		var called bool
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/mt5/connect", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()

		handler(okHandler(&called)).ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", w.Code)
		}
		if called {
			t.Error("preflight must not reach the handler")
		}
	})
}

// ============ RateLimit ============

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewKeyedLimiter(0.001, 2, time.Minute)
	var calls int
	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = ip + ":51000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("198.51.100.1"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("198.51.100.1"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", code)
	}
	if code := send("198.51.100.2"); code != http.StatusOK {
		t.Errorf("other IP must have its own bucket, got %d", code)
	}
	if calls != 3 {
		t.Errorf("expected 3 handler calls, got %d", calls)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "203.0.113.5:4000", "203.0.113.5"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}, "10.0.0.1:80", "198.51.100.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.8"}, "10.0.0.1:80", "198.51.100.8"},
		{"no port", nil, "203.0.113.6", "203.0.113.6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
