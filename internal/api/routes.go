package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"algoedge/internal/api/handlers"
	"algoedge/internal/api/middleware"
	"algoedge/internal/service"
	"algoedge/pkg/ratelimit"
	"algoedge/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	MT5Service   service.MT5ServiceInterface
	AuthService  service.AuthServiceInterface
	AuditService service.AuditServiceInterface

	// Stream - WebSocket hub, может быть nil
	Stream handlers.StreamServer

	// Limiter - лимит запросов на IP для auth и connect, может быть nil
	Limiter *ratelimit.KeyedLimiter

	AllowedOrigins []string
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /auth/
//	│   ├── POST /register - регистрация (rate limit)
//	│   ├── POST /login - вход (rate limit)
//	│   └── GET /me - текущий пользователь
//	├── /mt5/
//	│   ├── POST /connect - подключить MT5 счёт (rate limit)
//	│   ├── GET /accounts - счета пользователя
//	│   ├── GET /accounts/{id} - один счёт
//	│   ├── POST /accounts/{id}/sync - обновить баланс
//	│   └── DELETE /accounts/{id} - отключить счёт
//	└── GET /audit-logs - журнал аудита
//
// /ws/stream - WebSocket с событиями по счетам
// /health, /metrics
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. RequestID (для всех маршрутов)
// 3. Logging (для всех маршрутов)
// 4. CORS (для всех маршрутов)
// 5. Auth и RateLimit (на отдельных маршрутах)
func SetupRoutes(deps *Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	auth := middleware.Auth(deps.AuthService, logger)
	limited := func(h http.Handler) http.Handler { return h }
	if deps.Limiter != nil {
		limited = middleware.RateLimit(deps.Limiter)
	}

	authHandler := handlers.NewAuthHandler(deps.AuthService)
	mt5Handler := handlers.NewMT5Handler(deps.MT5Service)
	auditHandler := handlers.NewAuditHandler(deps.AuditService)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Auth routes
	api.Handle("/auth/register", limited(http.HandlerFunc(authHandler.Register))).Methods(http.MethodPost)
	api.Handle("/auth/login", limited(http.HandlerFunc(authHandler.Login))).Methods(http.MethodPost)
	api.Handle("/auth/me", auth(http.HandlerFunc(authHandler.Me))).Methods(http.MethodGet)

	// MT5 routes
	// RateLimit снаружи Auth: перебор токенов тоже ограничен
	api.Handle("/mt5/connect", limited(auth(http.HandlerFunc(mt5Handler.ConnectAccount)))).Methods(http.MethodPost)
	api.Handle("/mt5/accounts", auth(http.HandlerFunc(mt5Handler.GetAccounts))).Methods(http.MethodGet)
	api.Handle("/mt5/accounts/{id:[0-9]+}", auth(http.HandlerFunc(mt5Handler.GetAccount))).Methods(http.MethodGet)
	api.Handle("/mt5/accounts/{id:[0-9]+}/sync", auth(http.HandlerFunc(mt5Handler.SyncAccount))).Methods(http.MethodPost)
	api.Handle("/mt5/accounts/{id:[0-9]+}", auth(http.HandlerFunc(mt5Handler.DisconnectAccount))).Methods(http.MethodDelete)

	// Audit routes
	api.Handle("/audit-logs", auth(http.HandlerFunc(auditHandler.GetAuditLogs))).Methods(http.MethodGet)

	// WebSocket route
	if deps.Stream != nil {
		wsHandler := handlers.NewWebSocketHandler(deps.AuthService, deps.Stream)
		router.HandleFunc("/ws/stream", wsHandler.ServeWS).Methods(http.MethodGet)
	}

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Preflight для любого пути: ответ формирует CORS middleware
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}
