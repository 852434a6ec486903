package service

import (
	"context"

	"algoedge/internal/metaapi"
	"algoedge/internal/models"
	"algoedge/internal/repository"
)

// MT5AccountRepositoryInterface определяет интерфейс репозитория MT5 счетов
type MT5AccountRepositoryInterface interface {
	CreateConnected(ctx context.Context, account *models.MT5Account, audit *models.AuditLog) error
	GetConnectedByUser(ctx context.Context, userID int64) (*models.MT5Account, error)
	GetByIDForUser(ctx context.Context, userID, id int64) (*models.MT5Account, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.MT5Account, error)
	UpdateSnapshot(ctx context.Context, account *models.MT5Account, audit *models.AuditLog) error
	MarkDisconnected(ctx context.Context, account *models.MT5Account, audit *models.AuditLog) error
}

// UserRepositoryInterface определяет интерфейс репозитория пользователей
type UserRepositoryInterface interface {
	Create(ctx context.Context, user *models.User, audit *models.AuditLog) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// AuditLogRepositoryInterface определяет интерфейс журнала аудита
type AuditLogRepositoryInterface interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*models.AuditLog, error)
}

// MT5ProviderInterface - операции провайдера, которые использует сервис.
// Реализуется metaapi.Client, в тестах подменяется заглушкой.
type MT5ProviderInterface interface {
	Configured() bool
	ListAccounts(ctx context.Context) ([]metaapi.Account, error)
	GetAccount(ctx context.Context, accountID string) (*metaapi.Account, error)
	CreateAccount(ctx context.Context, req metaapi.CreateAccountRequest) (string, error)
	DeployAccount(ctx context.Context, accountID string) error
	UndeployAccount(ctx context.Context, accountID string) error
	GetAccountInformation(ctx context.Context, accountID string) (*metaapi.AccountInformation, error)
}

// Проверяем, что реальные реализации удовлетворяют интерфейсам
var _ MT5AccountRepositoryInterface = (*repository.MT5AccountRepository)(nil)
var _ UserRepositoryInterface = (*repository.UserRepository)(nil)
var _ AuditLogRepositoryInterface = (*repository.AuditLogRepository)(nil)
var _ MT5ProviderInterface = (*metaapi.Client)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// MT5ServiceInterface определяет интерфейс сервиса MT5 счетов
type MT5ServiceInterface interface {
	Connect(ctx context.Context, userID int64, req ConnectRequest) (*ConnectResult, error)
	ListAccounts(ctx context.Context, userID int64) ([]*models.MT5Account, error)
	GetAccount(ctx context.Context, userID, id int64) (*models.MT5Account, error)
	SyncAccount(ctx context.Context, userID, id int64, ip string) (*models.MT5Account, error)
	DisconnectAccount(ctx context.Context, userID, id int64, ip string) (*models.MT5Account, error)
}

// AuthServiceInterface определяет интерфейс сервиса аутентификации
type AuthServiceInterface interface {
	Register(ctx context.Context, req RegisterRequest) (*AuthResult, error)
	Login(ctx context.Context, req LoginRequest) (*AuthResult, error)
	VerifyToken(ctx context.Context, token string) (int64, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// AuditServiceInterface определяет интерфейс сервиса журнала аудита
type AuditServiceInterface interface {
	ListForUser(ctx context.Context, userID int64, limit int) ([]*models.AuditLog, error)
}

var _ MT5ServiceInterface = (*MT5Service)(nil)
var _ AuthServiceInterface = (*AuthService)(nil)
var _ AuditServiceInterface = (*AuditService)(nil)
