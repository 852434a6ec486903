package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"algoedge/internal/api/middleware"
	"algoedge/internal/models"
	"algoedge/internal/service"
)

// ErrMockDatabase - ошибка хранилища для тестов
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock MT5 Service ============

// MockMT5Service мок для MT5ServiceInterface
type MockMT5Service struct {
	mu sync.Mutex

	accounts map[int64]*models.MT5Account
	nextID   int64

	connectErr    error
	listErr       error
	getErr        error
	syncErr       error
	disconnectErr error
	degraded      bool

	lastConnect service.ConnectRequest
	calls       int
}

// NewMockMT5Service создает новый мок MT5 сервиса
func NewMockMT5Service() *MockMT5Service {
	return &MockMT5Service{
		accounts: make(map[int64]*models.MT5Account),
		nextID:   1,
	}
}

func (m *MockMT5Service) Connect(ctx context.Context, userID int64, req service.ConnectRequest) (*service.ConnectResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastConnect = req

	if m.connectErr != nil {
		return nil, m.connectErr
	}

	account := &models.MT5Account{
		ID:        m.nextID,
		UserID:    userID,
		AccountID: req.AccountID,
		Server:    req.Server,
		APIKey:    "remote-secret-id",
		Balance:   decimal.NewFromInt(1000),
		Equity:    decimal.NewFromInt(1000),
		CreatedAt: time.Now(),
	}
	account.MarkConnected(time.Now())
	m.nextID++
	m.accounts[account.ID] = account

	return &service.ConnectResult{
		Account:       account,
		RemoteReady:   !m.degraded,
		BalanceSynced: !m.degraded,
	}, nil
}

func (m *MockMT5Service) ListAccounts(ctx context.Context, userID int64) ([]*models.MT5Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.MT5Account
	for _, account := range m.accounts {
		if account.UserID == userID {
			out = append(out, account)
		}
	}
	return out, nil
}

func (m *MockMT5Service) GetAccount(ctx context.Context, userID, id int64) (*models.MT5Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.getErr != nil {
		return nil, m.getErr
	}
	account, ok := m.accounts[id]
	if !ok || account.UserID != userID {
		return nil, service.ErrAccountNotFound
	}
	return account, nil
}

func (m *MockMT5Service) SyncAccount(ctx context.Context, userID, id int64, ip string) (*models.MT5Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.syncErr != nil {
		return nil, m.syncErr
	}
	account, ok := m.accounts[id]
	if !ok || account.UserID != userID {
		return nil, service.ErrAccountNotFound
	}
	account.ApplySnapshot(decimal.NewFromInt(1200), decimal.NewFromInt(1150), time.Now())
	return account, nil
}

func (m *MockMT5Service) DisconnectAccount(ctx context.Context, userID, id int64, ip string) (*models.MT5Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.disconnectErr != nil {
		return nil, m.disconnectErr
	}
	account, ok := m.accounts[id]
	if !ok || account.UserID != userID {
		return nil, service.ErrAccountNotFound
	}
	account.MarkDisconnected(time.Now())
	return account, nil
}

// AddAccount добавляет подключённый счёт
func (m *MockMT5Service) AddAccount(userID int64, login string) *models.MT5Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	account := &models.MT5Account{
		ID:        m.nextID,
		UserID:    userID,
		AccountID: login,
		Server:    "Broker-Demo",
		APIKey:    "remote-secret-id",
		Balance:   decimal.NewFromInt(500),
		Equity:    decimal.NewFromInt(500),
	}
	account.MarkConnected(time.Now())
	m.nextID++
	m.accounts[account.ID] = account
	return account
}

// Calls - сколько раз вызывался сервис
func (m *MockMT5Service) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ============ Mock Auth Service ============

// MockAuthService мок для AuthServiceInterface
type MockAuthService struct {
	users    map[int64]*models.User
	tokens   map[string]int64
	nextID   int64
	err      error
	verifErr error
}

// NewMockAuthService создает новый мок сервиса аутентификации
func NewMockAuthService() *MockAuthService {
	return &MockAuthService{
		users:  make(map[int64]*models.User),
		tokens: make(map[string]int64),
		nextID: 1,
	}
}

func (m *MockAuthService) Register(ctx context.Context, req service.RegisterRequest) (*service.AuthResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	user := &models.User{ID: m.nextID, Email: req.Email, Name: req.Name, Role: models.RoleUser, PasswordHash: "hash"}
	m.nextID++
	m.users[user.ID] = user
	return m.issue(user), nil
}

func (m *MockAuthService) Login(ctx context.Context, req service.LoginRequest) (*service.AuthResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, user := range m.users {
		if user.Email == req.Email {
			return m.issue(user), nil
		}
	}
	return nil, service.ErrInvalidCredentials
}

func (m *MockAuthService) VerifyToken(ctx context.Context, token string) (int64, error) {
	if m.verifErr != nil {
		return 0, m.verifErr
	}
	id, ok := m.tokens[token]
	if !ok {
		return 0, service.ErrInvalidToken
	}
	return id, nil
}

func (m *MockAuthService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	user, ok := m.users[id]
	if !ok {
		return nil, service.ErrUserNotFound
	}
	return user, nil
}

func (m *MockAuthService) issue(user *models.User) *service.AuthResult {
	token := "token-" + user.Email
	m.tokens[token] = user.ID
	return &service.AuthResult{User: user, Token: token, ExpiresAt: time.Now().Add(time.Hour)}
}

// ============ Mock Audit Service ============

// MockAuditService мок для AuditServiceInterface
type MockAuditService struct {
	entries   []*models.AuditLog
	err       error
	lastLimit int
}

func (m *MockAuditService) ListForUser(ctx context.Context, userID int64, limit int) ([]*models.AuditLog, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.AuditLog
	for _, entry := range m.entries {
		if entry.UserID != nil && *entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// ============ Helpers ============

// withUser имитирует прохождение Auth middleware
func withUser(r *http.Request, userID int64) *http.Request {
	return r.WithContext(middleware.WithUserID(r.Context(), userID))
}

var (
	_ service.MT5ServiceInterface   = (*MockMT5Service)(nil)
	_ service.AuthServiceInterface  = (*MockAuthService)(nil)
	_ service.AuditServiceInterface = (*MockAuditService)(nil)
)
