package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"algoedge/internal/api"
	"algoedge/internal/metaapi"
	"algoedge/internal/repository"
	"algoedge/internal/service"
	"algoedge/internal/websocket"
	"algoedge/pkg/crypto"
	"algoedge/pkg/ratelimit"
	"algoedge/pkg/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

const limiterCleanupInterval = time.Minute

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Загрузка конфигурации
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(ctx, cfg)
	if err != nil {
		logger.Error("database connection failed", utils.Err(err))
		return err
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		logger.Error("migration failed", utils.Err(err))
		return err
	}
	logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Провайдер MT5
	httpCfg := metaapi.DefaultHTTPClientConfig()
	httpCfg.ReadTimeout = cfg.MetaAPI.RequestTimeout
	httpCfg.TotalTimeout = cfg.MetaAPI.RequestTimeout
	httpCfg.InsecureSkipVerify = cfg.MetaAPI.InsecureSkipVerify

	providerCfg := metaapi.DefaultConfig(cfg.MetaAPI.Token)
	providerCfg.ProvisioningURL = cfg.MetaAPI.ProvisioningURL
	providerCfg.ClientURL = cfg.MetaAPI.ClientURL
	providerCfg.HTTP = httpCfg

	provider := metaapi.NewClient(providerCfg, nil, logger.Logger)
	defer provider.Close()
	if !provider.Configured() {
		logger.Warn("METAAPI_TOKEN is not set, MT5 connect requests will be rejected")
	}

	// Инициализация репозиториев
	mt5Repo := repository.NewMT5AccountRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// WebSocket hub
	hub := websocket.NewHub(cfg.Server.AllowedOrigins, logger)
	go hub.Run()
	defer hub.Stop()

	// Инициализация сервисов
	mt5Service := service.NewMT5Service(mt5Repo, provider, cfg.Polling, logger)
	mt5Service.SetWebSocketHub(hub)

	authService := service.NewAuthService(userRepo, auditRepo, crypto.NewPasswordHasher(crypto.DefaultCost), cfg.Security, logger)
	auditService := service.NewAuditService(auditRepo)

	limiter := ratelimit.NewKeyedLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute)
	go limiter.Run(ctx, limiterCleanupInterval)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		MT5Service:     mt5Service,
		AuthService:    authService,
		AuditService:   auditService,
		Stream:         hub,
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	// HTTP сервер
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Запуск сервера в отдельной горутине
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	select {
	case err, ok := <-serverErr:
		if ok {
			logger.Error("server failed", utils.Err(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", utils.Err(err))
		return err
	}

	logger.Info("server exited")
	return nil
}
