package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"algoedge/internal/metaapi"
	"algoedge/internal/models"
	"algoedge/internal/repository"
)

// ============ Mock MT5AccountRepository ============

type MockMT5AccountRepository struct {
	accounts  map[int64]*models.MT5Account
	audits    []*models.AuditLog
	nextID    int64
	calls     int
	getErr    error
	createErr error
	updateErr error
}

func NewMockMT5AccountRepository() *MockMT5AccountRepository {
	return &MockMT5AccountRepository{
		accounts: make(map[int64]*models.MT5Account),
		nextID:   1,
	}
}

// seed добавляет счёт в обход CreateConnected
func (m *MockMT5AccountRepository) seed(account *models.MT5Account) *models.MT5Account {
	account.ID = m.nextID
	m.nextID++
	m.accounts[account.ID] = account
	return account
}

func (m *MockMT5AccountRepository) CreateConnected(ctx context.Context, account *models.MT5Account, audit *models.AuditLog) error {
	m.calls++
	if m.createErr != nil {
		return m.createErr
	}
	for _, a := range m.accounts {
		if a.UserID == account.UserID && a.IsConnected {
			return repository.ErrMT5AccountConnected
		}
	}
	account.MarkConnected(time.Now())
	m.seed(account)
	m.audits = append(m.audits, audit)
	return nil
}

func (m *MockMT5AccountRepository) GetConnectedByUser(ctx context.Context, userID int64) (*models.MT5Account, error) {
	m.calls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, a := range m.accounts {
		if a.UserID == userID && a.IsConnected {
			return a, nil
		}
	}
	return nil, repository.ErrMT5AccountNotFound
}

func (m *MockMT5AccountRepository) GetByIDForUser(ctx context.Context, userID, id int64) (*models.MT5Account, error) {
	m.calls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	a, ok := m.accounts[id]
	if !ok || a.UserID != userID {
		return nil, repository.ErrMT5AccountNotFound
	}
	return a, nil
}

func (m *MockMT5AccountRepository) ListByUser(ctx context.Context, userID int64) ([]*models.MT5Account, error) {
	m.calls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.MT5Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (m *MockMT5AccountRepository) UpdateSnapshot(ctx context.Context, account *models.MT5Account, audit *models.AuditLog) error {
	m.calls++
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.accounts[account.ID]; !ok {
		return repository.ErrMT5AccountNotFound
	}
	m.accounts[account.ID] = account
	m.audits = append(m.audits, audit)
	return nil
}

func (m *MockMT5AccountRepository) MarkDisconnected(ctx context.Context, account *models.MT5Account, audit *models.AuditLog) error {
	m.calls++
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.accounts[account.ID]; !ok {
		return repository.ErrMT5AccountNotFound
	}
	account.MarkDisconnected(time.Now())
	m.accounts[account.ID] = account
	m.audits = append(m.audits, audit)
	return nil
}

// ============ Mock провайдера MT5 ============

// MockProvider отвечает по сценарию и считает вызовы по операциям.
// GetAccount и GetAccountInformation отдают элементы states/infos по очереди,
// последний элемент повторяется.
type MockProvider struct {
	mu sync.Mutex

	configured  bool
	accounts    []metaapi.Account
	listErr     error
	createID    string
	createErr   error
	createHook  func(ctx context.Context) error // медленный create
	deployErr   error
	undeployErr error

	states   []metaapi.Account
	getErrs  []error // ошибки первых вызовов GetAccount
	infos    []*metaapi.AccountInformation
	infoErrs []error

	created []metaapi.CreateAccountRequest
	calls   map[string]int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		configured: true,
		createID:   "remote-new",
		calls:      make(map[string]int),
	}
}

func (m *MockProvider) record(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.calls[op]
}

func (m *MockProvider) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockProvider) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *MockProvider) Configured() bool {
	return m.configured
}

func (m *MockProvider) ListAccounts(ctx context.Context) ([]metaapi.Account, error) {
	m.record("list")
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.accounts, nil
}

func (m *MockProvider) GetAccount(ctx context.Context, accountID string) (*metaapi.Account, error) {
	n := m.record("get")
	if n <= len(m.getErrs) && m.getErrs[n-1] != nil {
		return nil, m.getErrs[n-1]
	}
	if len(m.states) == 0 {
		return &metaapi.Account{ID: accountID, State: metaapi.StateDeploying}, nil
	}
	idx := n - 1
	if idx >= len(m.states) {
		idx = len(m.states) - 1
	}
	state := m.states[idx]
	state.ID = accountID
	return &state, nil
}

func (m *MockProvider) CreateAccount(ctx context.Context, req metaapi.CreateAccountRequest) (string, error) {
	m.record("create")
	m.created = append(m.created, req)
	if m.createHook != nil {
		if err := m.createHook(ctx); err != nil {
			return "", err
		}
	}
	if m.createErr != nil {
		return "", m.createErr
	}
	return m.createID, nil
}

func (m *MockProvider) DeployAccount(ctx context.Context, accountID string) error {
	m.record("deploy")
	return m.deployErr
}

func (m *MockProvider) UndeployAccount(ctx context.Context, accountID string) error {
	m.record("undeploy")
	return m.undeployErr
}

func (m *MockProvider) GetAccountInformation(ctx context.Context, accountID string) (*metaapi.AccountInformation, error) {
	n := m.record("info")
	if n <= len(m.infoErrs) && m.infoErrs[n-1] != nil {
		return nil, m.infoErrs[n-1]
	}
	if len(m.infos) == 0 {
		return &metaapi.AccountInformation{}, nil
	}
	idx := n - 1
	if idx >= len(m.infos) {
		idx = len(m.infos) - 1
	}
	return m.infos[idx], nil
}

// ============ Mock UserRepository ============

type MockUserRepository struct {
	users     map[int64]*models.User
	audits    []*models.AuditLog
	nextID    int64
	createErr error
	getErr    error
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[int64]*models.User), nextID: 1}
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User, audit *models.AuditLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrUserExists
		}
	}
	user.ID = m.nextID
	m.nextID++
	user.CreatedAt = time.Now()
	m.users[user.ID] = user
	if audit != nil {
		uid := user.ID
		audit.UserID = &uid
		m.audits = append(m.audits, audit)
	}
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

// ============ Mock AuditLogRepository ============

type MockAuditLogRepository struct {
	entries   []*models.AuditLog
	lastLimit int
	createErr error
	listErr   error
}

func NewMockAuditLogRepository() *MockAuditLogRepository {
	return &MockAuditLogRepository{}
}

func (m *MockAuditLogRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockAuditLogRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.AuditLog, error) {
	m.lastLimit = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []*models.AuditLog
	for _, e := range m.entries {
		if e.UserID != nil && *e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

// ============ Mock AccountBroadcaster ============

type broadcastEvent struct {
	userID  int64
	event   string
	account *models.MT5Account
}

type MockBroadcaster struct {
	events []broadcastEvent
}

func (m *MockBroadcaster) BroadcastAccountUpdate(userID int64, event string, account *models.MT5Account) {
	m.events = append(m.events, broadcastEvent{userID: userID, event: event, account: account})
}

// ============ Подмена sleep ============

// recordingSleeper не ждёт, а запоминает запрошенные паузы
type recordingSleeper struct {
	delays []time.Duration
	hook   func(n int) // вызывается перед возвратом, n - номер паузы с единицы
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	if r.hook != nil {
		r.hook(len(r.delays))
	}
	return ctx.Err()
}

func (r *recordingSleeper) total() time.Duration {
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}
