package handlers

import (
	"errors"
	"net/http"

	"algoedge/internal/api/middleware"
	"algoedge/internal/service"
	"algoedge/pkg/utils"
)

// StreamServer - апгрейд соединения для конкретного пользователя
type StreamServer interface {
	ServeWS(userID int64, w http.ResponseWriter, r *http.Request)
}

// WebSocketHandler - поток событий по MT5 счетам пользователя.
//
// Браузер не умеет выставлять заголовки при апгрейде, поэтому токен
// принимается и из ?token=.
type WebSocketHandler struct {
	verifier middleware.TokenVerifier
	stream   StreamServer
}

// NewWebSocketHandler создает новый WebSocketHandler
func NewWebSocketHandler(verifier middleware.TokenVerifier, stream StreamServer) *WebSocketHandler {
	return &WebSocketHandler{verifier: verifier, stream: stream}
}

// ServeWS проверяет токен и передаёт соединение в hub
// GET /ws/stream
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		respondWithError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	userID, err := h.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			respondWithError(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}
		utils.L().Error("websocket token verification failed", utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error", nil)
		return
	}

	h.stream.ServeWS(userID, w, r)
}
