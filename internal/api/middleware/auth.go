package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"algoedge/internal/service"
	"algoedge/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type contextKey int

const (
	userIDKey contextKey = iota
	requestIDKey
)

// TokenVerifier проверяет Bearer токен и возвращает id пользователя
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (int64, error)
}

// Auth - middleware аутентификации по заголовку Authorization: Bearer <token>.
//
// Без заголовка, с кривым заголовком или с отвергнутым токеном отвечает
// 401 {error}, обработчик не вызывается. При успехе кладёт user id
// в context запроса (UserIDFromContext).
//
// Сбой хранилища при проверке пользователя - 500, а не 401:
// клиенту не нужно перелогиниваться из-за упавшей БД.
func Auth(verifier TokenVerifier, logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.L()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			userID, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, service.ErrInvalidToken) {
					writeError(w, http.StatusUnauthorized, "Invalid or expired token")
					return
				}
				logger.Error("token verification failed", utils.RequestID(RequestIDFromContext(r.Context())), utils.Err(err))
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// BearerToken извлекает токен из заголовка Authorization
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithUserID кладёт id пользователя в context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext возвращает id пользователя, положенный Auth
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id > 0
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message})
}
