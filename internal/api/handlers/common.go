package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"algoedge/internal/api/middleware"
	"algoedge/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxRequestBodySize ограничение размера тела запроса (1 MB)
const MaxRequestBodySize = 1 << 20 // 1 MB

var errMissingUser = errors.New("authenticated user missing from request context")

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints.
// Details - строка или список ошибок полей (utils.ValidationErrors).
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// MessageResponse - ответ с сообщением и данными
type MessageResponse struct {
	Message string      `json:"message"`
	Account interface{} `json:"account,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError отправляет JSON ответ с ошибкой. details может быть nil.
func respondWithError(w http.ResponseWriter, code int, message string, details interface{}) {
	respondWithJSON(w, code, ErrorResponse{
		Error:   message,
		Details: details,
	})
}

// decodeJSON читает тело запроса не больше MaxRequestBodySize.
// Неизвестные поля допускаются.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(dst)
}

// currentUser достаёт id пользователя, положенный Auth middleware.
// Без него отвечает 401: маршрут собран без Auth.
func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		utils.Error("handler reached without auth", utils.Err(errMissingUser), utils.String("path", r.URL.Path))
		respondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return 0, false
	}
	return userID, true
}

// pathID парсит положительный числовой параметр пути
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
