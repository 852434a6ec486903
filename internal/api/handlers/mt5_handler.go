package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"algoedge/internal/api/middleware"
	"algoedge/internal/models"
	"algoedge/internal/service"
	"algoedge/pkg/utils"
)

// MT5AccountResponse - публичное представление счёта.
// Ссылка на удалённый аккаунт провайдера наружу не отдаётся.
type MT5AccountResponse struct {
	ID          int64      `json:"id"`
	AccountID   string     `json:"accountId"`
	Server      string     `json:"server"`
	Status      string     `json:"status"`
	IsConnected bool       `json:"isConnected"`
	Balance     float64    `json:"balance"`
	Equity      float64    `json:"equity"`
	LastSync    *time.Time `json:"lastSync,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// ConnectMT5Response - ответ успешного connect
type ConnectMT5Response struct {
	Message string             `json:"message"`
	Account MT5AccountResponse `json:"account"`
	// Syncing - провайдер ещё не подтвердил готовность или баланс
	Syncing bool `json:"syncing"`
}

// MT5Handler отвечает за брокерские счета MT5
//
// Endpoints:
// - POST /api/v1/mt5/connect - подключение счёта
// - GET /api/v1/mt5/accounts - счета пользователя
// - GET /api/v1/mt5/accounts/{id} - один счёт
// - POST /api/v1/mt5/accounts/{id}/sync - обновить баланс у провайдера
// - DELETE /api/v1/mt5/accounts/{id} - отключить счёт
type MT5Handler struct {
	mt5Service service.MT5ServiceInterface
}

// NewMT5Handler создает новый MT5Handler
func NewMT5Handler(mt5Service service.MT5ServiceInterface) *MT5Handler {
	return &MT5Handler{mt5Service: mt5Service}
}

// ConnectAccount подключает MT5 счёт пользователя
// POST /api/v1/mt5/connect
//
// Тело запроса:
//
//	{
//	  "accountId": "5012345",
//	  "password": "broker-password",
//	  "server": "Broker-Demo"
//	}
//
// Ответы:
// - 200 OK: счёт подключён (возможно, ещё синхронизируется)
// - 400 Bad Request: некорректные данные, счёт уже подключён, провайдер отверг данные брокера
// - 401 Unauthorized: нет или неверный токен (Auth middleware)
// - 500 Internal Server Error: провайдер не настроен или внутренняя ошибка
func (h *MT5Handler) ConnectAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	// 1. Декодируем и валидируем до любых обращений к сервису.
	// Правила полей живут в service.ConnectRequest.
	var req service.ConnectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.Server = strings.TrimSpace(req.Server)

	if err := utils.ValidateStruct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed", validationDetails(err))
		return
	}

	// 2. Подключаем через сервис
	req.IPAddress = middleware.ClientIP(r)
	result, err := h.mt5Service.Connect(r.Context(), userID, req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	// 3. Ответ
	message := "MT5 account connected successfully"
	if result.Degraded() {
		message = "MT5 account connected, synchronization in progress"
	}
	respondWithJSON(w, http.StatusOK, ConnectMT5Response{
		Message: message,
		Account: accountToResponse(result.Account),
		Syncing: result.Degraded(),
	})
}

// GetAccounts возвращает счета пользователя
// GET /api/v1/mt5/accounts
func (h *MT5Handler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	accounts, err := h.mt5Service.ListAccounts(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	response := make([]MT5AccountResponse, 0, len(accounts))
	for _, account := range accounts {
		response = append(response, accountToResponse(account))
	}
	respondWithJSON(w, http.StatusOK, response)
}

// GetAccount возвращает один счёт пользователя
// GET /api/v1/mt5/accounts/{id}
func (h *MT5Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid account id", nil)
		return
	}

	account, err := h.mt5Service.GetAccount(r.Context(), userID, id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, accountToResponse(account))
}

// SyncAccount перечитывает balance/equity у провайдера
// POST /api/v1/mt5/accounts/{id}/sync
//
// Ответы:
// - 200 OK: свежие значения сохранены
// - 404 Not Found: счёта нет у пользователя
// - 409 Conflict: счёт отключён
// - 502 Bad Gateway: провайдер не ответил
func (h *MT5Handler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid account id", nil)
		return
	}

	account, err := h.mt5Service.SyncAccount(r.Context(), userID, id, middleware.ClientIP(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{
		Message: "MT5 account synchronized",
		Account: accountToResponse(account),
	})
}

// DisconnectAccount отключает счёт. После этого можно подключить другой.
// DELETE /api/v1/mt5/accounts/{id}
func (h *MT5Handler) DisconnectAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid account id", nil)
		return
	}

	account, err := h.mt5Service.DisconnectAccount(r.Context(), userID, id, middleware.ClientIP(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{
		Message: "MT5 account disconnected",
		Account: accountToResponse(account),
	})
}

// handleServiceError переводит ошибку сервиса в HTTP статус
func (h *MT5Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs utils.ValidationErrors

	switch {
	case errors.As(err, &verrs):
		respondWithError(w, http.StatusBadRequest, "Validation failed", verrs)

	case errors.Is(err, service.ErrAccountAlreadyConnected):
		respondWithError(w, http.StatusBadRequest, "You already have a connected MT5 account", "Disconnect it before connecting another one")

	case errors.Is(err, service.ErrDeployFailed), errors.Is(err, service.ErrProvisioningFailed):
		respondWithError(w, http.StatusBadRequest, "Failed to connect MT5 account. Please check your credentials and server name", nil)

	case errors.Is(err, service.ErrProviderNotConfigured):
		respondWithError(w, http.StatusInternalServerError, "MT5 connection is not available. Please contact admin", nil)

	case errors.Is(err, service.ErrProviderTimeout):
		respondWithError(w, http.StatusInternalServerError, "MT5 provider did not respond in time. Please try again", nil)

	case errors.Is(err, service.ErrAccountNotFound):
		respondWithError(w, http.StatusNotFound, "MT5 account not found", nil)

	case errors.Is(err, service.ErrAccountNotConnected):
		respondWithError(w, http.StatusConflict, "MT5 account is not connected", nil)

	case errors.Is(err, service.ErrSyncFailed):
		respondWithError(w, http.StatusBadGateway, "Failed to fetch account information from MT5 provider", nil)

	default:
		utils.L().Error("mt5 request failed",
			utils.String("path", r.URL.Path),
			utils.RequestID(middleware.RequestIDFromContext(r.Context())),
			utils.Err(err),
		)
		respondWithError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

func accountToResponse(account *models.MT5Account) MT5AccountResponse {
	return MT5AccountResponse{
		ID:          account.ID,
		AccountID:   account.AccountID,
		Server:      account.Server,
		Status:      account.Status,
		IsConnected: account.IsConnected,
		Balance:     account.Balance.InexactFloat64(),
		Equity:      account.Equity.InexactFloat64(),
		LastSync:    account.LastSync,
		CreatedAt:   account.CreatedAt,
	}
}

// validationDetails отдаёт список ошибок полей или текст ошибки
func validationDetails(err error) interface{} {
	var verrs utils.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	return err.Error()
}
