// Package metaapi - клиент provisioning и client API MetaAPI.
//
// Провайдер рассматривается как чёрный ящик: сервис создаёт, разворачивает
// и опрашивает удалённые аккаунты, но их жизненным циклом управляет MetaAPI.
package metaapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"algoedge/internal/metrics"
	"algoedge/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Адреса по умолчанию
const (
	DefaultProvisioningURL = "https://mt-provisioning-api-v1.agiliumtrade.agiliumtrade.ai"
	DefaultClientURL       = "https://mt-client-api-v1.new-york.agiliumtrade.ai"
)

const (
	authHeader        = "auth-token"
	transactionHeader = "transaction-id"
	maxResponseBody   = 4 << 20
)

// errCreatePending - провайдер принял создание (202) и ждёт повтора
// с тем же transaction-id
var errCreatePending = errors.New("account creation in progress")

// Config - параметры клиента
type Config struct {
	Token           string
	ProvisioningURL string
	ClientURL       string
	HTTP            HTTPClientConfig
	// Retry - повтор транзиентных ошибок для идемпотентных вызовов
	Retry retry.Config
}

// DefaultConfig возвращает конфигурацию с публичными адресами MetaAPI
func DefaultConfig(token string) Config {
	return Config{
		Token:           token,
		ProvisioningURL: DefaultProvisioningURL,
		ClientURL:       DefaultClientURL,
		HTTP:            DefaultHTTPClientConfig(),
		Retry:           retry.DefaultConfig(),
	}
}

// Client - HTTP клиент MetaAPI
type Client struct {
	token           string
	provisioningURL string
	clientURL       string
	httpClient      *http.Client
	retryCfg        retry.Config
	logger          *zap.Logger
}

// NewClient создаёт клиента. httpClient == nil - собрать из cfg.HTTP.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.HTTP)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProvisioningURL == "" {
		cfg.ProvisioningURL = DefaultProvisioningURL
	}
	if cfg.ClientURL == "" {
		cfg.ClientURL = DefaultClientURL
	}
	return &Client{
		token:           strings.TrimSpace(cfg.Token),
		provisioningURL: strings.TrimRight(cfg.ProvisioningURL, "/"),
		clientURL:       strings.TrimRight(cfg.ClientURL, "/"),
		httpClient:      httpClient,
		retryCfg:        cfg.Retry,
		logger:          logger.Named("metaapi"),
	}
}

// Configured - есть ли у процесса токен провайдера
func (c *Client) Configured() bool {
	return c.token != ""
}

// Close освобождает простаивающие соединения
func (c *Client) Close() {
	CloseIdle(c.httpClient)
}

// ListAccounts возвращает все аккаунты, принадлежащие токену
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	return retry.DoWithResult(ctx, func() ([]Account, error) {
		var accounts []Account
		err := c.do(ctx, "list_accounts", http.MethodGet, c.provisioningURL+"/users/current/accounts", nil, nil, &accounts)
		return accounts, err
	}, c.retryCfg)
}

// GetAccount возвращает состояние удалённого аккаунта
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	if err := c.do(ctx, "get_account", http.MethodGet, c.accountURL(accountID), nil, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateAccount регистрирует брокерский счёт у провайдера и возвращает его id.
//
// Повторы идут с одним transaction-id, поэтому провайдер не создаст дубль.
func (c *Client) CreateAccount(ctx context.Context, req CreateAccountRequest) (string, error) {
	headers := map[string]string{transactionHeader: strings.ReplaceAll(uuid.NewString(), "-", "")}

	cfg := c.retryCfg
	cfg.RetryIf = func(err error) bool {
		return errors.Is(err, errCreatePending) || retry.IsRetryable(err)
	}

	return retry.DoWithResult(ctx, func() (string, error) {
		var resp createAccountResponse
		status, err := c.doStatus(ctx, "create_account", http.MethodPost, c.provisioningURL+"/users/current/accounts", headers, req, &resp)
		if err != nil {
			return "", err
		}
		if status == http.StatusAccepted || resp.ID == "" {
			return "", errCreatePending
		}
		return resp.ID, nil
	}, cfg)
}

// DeployAccount запускает развёртывание. Повторный вызов для развёрнутого аккаунта безопасен.
func (c *Client) DeployAccount(ctx context.Context, accountID string) error {
	return retry.Do(ctx, func() error {
		return c.do(ctx, "deploy_account", http.MethodPost, c.accountURL(accountID)+"/deploy", nil, nil, nil)
	}, c.retryCfg)
}

// UndeployAccount останавливает удалённый аккаунт
func (c *Client) UndeployAccount(ctx context.Context, accountID string) error {
	return retry.Do(ctx, func() error {
		return c.do(ctx, "undeploy_account", http.MethodPost, c.accountURL(accountID)+"/undeploy", nil, nil, nil)
	}, c.retryCfg)
}

// GetAccountInformation читает balance/equity через client API
func (c *Client) GetAccountInformation(ctx context.Context, accountID string) (*AccountInformation, error) {
	var info AccountInformation
	endpoint := c.clientURL + "/users/current/accounts/" + url.PathEscape(accountID) + "/account-information"
	if err := c.do(ctx, "account_information", http.MethodGet, endpoint, nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) accountURL(accountID string) string {
	return c.provisioningURL + "/users/current/accounts/" + url.PathEscape(accountID)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, headers map[string]string, body, out interface{}) error {
	_, err := c.doStatus(ctx, op, method, endpoint, headers, body, out)
	return err
}

// doStatus выполняет запрос и декодирует успешный ответ в out
func (c *Client) doStatus(ctx context.Context, op, method, endpoint string, headers map[string]string, body, out interface{}) (int, error) {
	if !c.Configured() {
		return 0, retry.Permanent(ErrNotConfigured)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("metaapi %s: encode: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set(authHeader, c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderRequest(op, 0, time.Since(start))
		return 0, fmt.Errorf("metaapi %s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.RecordProviderRequest(op, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("metaapi %s: read body: %w", op, err)
	}

	c.logger.Debug("provider response",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &APIError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, retry.Permanent(fmt.Errorf("metaapi %s: decode: %w", op, err))
		}
	}
	return resp.StatusCode, nil
}

// errorMessage достаёт message из тела ошибки провайдера
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
