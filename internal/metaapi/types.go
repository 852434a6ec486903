package metaapi

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Состояния удалённого аккаунта. Машиной состояний управляет провайдер,
// сервис только наблюдает её.
const (
	StateCreated      = "CREATED"
	StateDeploying    = "DEPLOYING"
	StateDeployed     = "DEPLOYED"
	StateDeployFailed = "DEPLOY_FAILED"
	StateUndeploying  = "UNDEPLOYING"
	StateUndeployed   = "UNDEPLOYED"

	ConnectionConnected    = "CONNECTED"
	ConnectionDisconnected = "DISCONNECTED"
)

// Параметры создаваемого аккаунта
const (
	PlatformMT5       = "mt5"
	AccountTypeCloud  = "cloud"
	DisplayNamePrefix = "AlgoEdge-"
)

// ErrNotConfigured - у процесса нет токена провайдера
var ErrNotConfigured = errors.New("metaapi token is not configured")

// FlexString принимает и строку, и число: login приходит в обоих видах.
type FlexString string

// UnmarshalJSON реализует json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("metaapi: malformed string %s: %w", data, err)
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(data)
	return nil
}

// String возвращает значение как строку
func (f FlexString) String() string { return string(f) }

// Account - удалённый аккаунт у провайдера
type Account struct {
	ID               string     `json:"_id"`
	Login            FlexString `json:"login"`
	Name             string     `json:"name"`
	Server           string     `json:"server"`
	State            string     `json:"state"`
	ConnectionStatus string     `json:"connectionStatus"`
	Platform         string     `json:"platform,omitempty"`
	Type             string     `json:"type,omitempty"`
}

// Matches - login сравнивается строкой, server точным совпадением
func (a *Account) Matches(login, server string) bool {
	return strings.TrimSpace(a.Login.String()) == strings.TrimSpace(login) && a.Server == server
}

// Deployed сообщает, развёрнут ли аккаунт
func (a *Account) Deployed() bool { return a.State == StateDeployed }

// Connected сообщает о живой сессии с брокером
func (a *Account) Connected() bool { return a.ConnectionStatus == ConnectionConnected }

// Ready - развёрнут и подключён
func (a *Account) Ready() bool { return a.Deployed() && a.Connected() }

// DeployFailed - провайдер явно сообщил о неудаче развёртывания
func (a *Account) DeployFailed() bool { return a.State == StateDeployFailed }

// CreateAccountRequest - тело POST /users/current/accounts
type CreateAccountRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Server   string `json:"server"`
	Platform string `json:"platform"`
	Magic    int    `json:"magic"`
	Type     string `json:"type"`
}

// NewCreateAccountRequest заполняет фиксированные поля и отображаемое имя
func NewCreateAccountRequest(login, password, server string) CreateAccountRequest {
	return CreateAccountRequest{
		Login:    login,
		Password: password,
		Name:     DisplayNamePrefix + login,
		Server:   server,
		Platform: PlatformMT5,
		Magic:    0,
		Type:     AccountTypeCloud,
	}
}

type createAccountResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// AccountInformation - срез состояния торгового счёта
type AccountInformation struct {
	Platform   string          `json:"platform"`
	Broker     string          `json:"broker"`
	Currency   string          `json:"currency"`
	Server     string          `json:"server"`
	Name       string          `json:"name"`
	Login      FlexString      `json:"login"`
	Leverage   int             `json:"leverage"`
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	FreeMargin decimal.Decimal `json:"freeMargin"`
}

// HasFunds - провайдер уже отдал ненулевые balance или equity
func (i *AccountInformation) HasFunds() bool {
	return !i.Balance.IsZero() || !i.Equity.IsZero()
}

// APIError - ответ провайдера с неуспешным статусом
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("metaapi %s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("metaapi %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Retryable - 5xx и 429 считаются временными
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsNotFound проверяет 404 от провайдера
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
