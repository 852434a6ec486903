package handlers

import (
	"errors"
	"net/http"
	"time"

	"algoedge/internal/api/middleware"
	"algoedge/internal/models"
	"algoedge/internal/service"
	"algoedge/pkg/utils"
)

// RegisterRequest - тело запроса регистрации
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest - тело запроса входа
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse - пользователь и Bearer токен
type AuthResponse struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// AuthHandler - регистрация, вход и текущий пользователь
type AuthHandler struct {
	authService service.AuthServiceInterface
}

// NewAuthHandler создает новый AuthHandler
func NewAuthHandler(authService service.AuthServiceInterface) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Register создаёт пользователя и сразу выдаёт токен
// POST /api/v1/auth/register
//
// Ответы:
// - 201 Created
// - 400 Bad Request: некорректные данные
// - 409 Conflict: email уже занят
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	result, err := h.authService.Register(r.Context(), service.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		Name:      req.Name,
		IPAddress: middleware.ClientIP(r),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, AuthResponse{
		User:      result.User,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	})
}

// Login проверяет пароль и выдаёт токен
// POST /api/v1/auth/login
//
// Ответы:
// - 200 OK
// - 400 Bad Request: некорректные данные
// - 401 Unauthorized: неверный email или пароль
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	result, err := h.authService.Login(r.Context(), service.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: middleware.ClientIP(r),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, AuthResponse{
		User:      result.User,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	})
}

// Me возвращает текущего пользователя
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	user, err := h.authService.GetUser(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs utils.ValidationErrors

	switch {
	case errors.As(err, &verrs):
		respondWithError(w, http.StatusBadRequest, "Validation failed", verrs)
	case errors.Is(err, service.ErrEmailTaken):
		respondWithError(w, http.StatusConflict, "Email is already registered", nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		respondWithError(w, http.StatusUnauthorized, "Invalid email or password", nil)
	case errors.Is(err, service.ErrUserNotFound):
		respondWithError(w, http.StatusNotFound, "User not found", nil)
	default:
		utils.L().Error("auth request failed",
			utils.String("path", r.URL.Path),
			utils.RequestID(middleware.RequestIDFromContext(r.Context())),
			utils.Err(err),
		)
		respondWithError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}
