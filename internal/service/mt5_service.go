package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"algoedge/internal/config"
	"algoedge/internal/metaapi"
	"algoedge/internal/metrics"
	"algoedge/internal/models"
	"algoedge/internal/repository"
	"algoedge/pkg/retry"
	"algoedge/pkg/utils"
)

// Ошибки сервиса
var (
	ErrAccountAlreadyConnected = errors.New("user already has a connected MT5 account")
	ErrProviderNotConfigured   = errors.New("MT5 provider is not configured")
	ErrDeployFailed            = errors.New("MT5 account deployment failed")
	ErrProvisioningFailed      = errors.New("failed to provision MT5 account")
	ErrAccountNotFound         = errors.New("MT5 account not found")
	ErrAccountNotConnected     = errors.New("MT5 account is not connected")
	ErrSyncFailed              = errors.New("failed to sync MT5 account")
	ErrProviderTimeout         = errors.New("MT5 provider did not respond in time")
)

// Стадии опроса провайдера (метки метрик и логов)
const (
	StageDeploy    = "deploy"
	StageConnect   = "connect"
	StageProvision = "provision"
	StageBalance   = "balance"
)

// События обновления счёта для WebSocket
const (
	EventConnected    = "connected"
	EventSynced       = "synced"
	EventDisconnected = "disconnected"
)

// AccountBroadcaster - интерфейс для отправки обновлений счёта через WebSocket
type AccountBroadcaster interface {
	BroadcastAccountUpdate(userID int64, event string, account *models.MT5Account)
}

// ConnectRequest - учётные данные брокера из запроса пользователя.
// Пароль передаётся провайдеру и нигде не сохраняется.
// Длины ограничены колонками mt5_accounts (account_id 64, server 255).
type ConnectRequest struct {
	AccountID string `json:"accountId" validate:"required,max=64"`
	Password  string `json:"password" validate:"required,max=128"`
	Server    string `json:"server" validate:"required,max=255"`
	IPAddress string `json:"-"`
}

// ConnectResult - итог connect
type ConnectResult struct {
	Account *models.MT5Account

	// RemoteReady - провайдер подтвердил DEPLOYED и CONNECTED
	RemoteReady bool
	// BalanceSynced - получены ненулевые balance или equity
	BalanceSynced bool
}

// Degraded - счёт сохранён, но часть данных ещё не пришла от провайдера
func (r *ConnectResult) Degraded() bool {
	return !r.RemoteReady || !r.BalanceSynced
}

// MT5Service - подключение брокерских счетов MT5 через провайдера
type MT5Service struct {
	accounts MT5AccountRepositoryInterface
	provider MT5ProviderInterface
	polling  config.PollingConfig
	logger   *utils.Logger

	// sleep и now подменяются в тестах
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	wsHub AccountBroadcaster
}

// NewMT5Service создает новый экземпляр сервиса
func NewMT5Service(
	accounts MT5AccountRepositoryInterface,
	provider MT5ProviderInterface,
	polling config.PollingConfig,
	logger *utils.Logger,
) *MT5Service {
	if logger == nil {
		logger = utils.L()
	}
	return &MT5Service{
		accounts: accounts,
		provider: provider,
		polling:  polling,
		logger:   logger.WithComponent("mt5"),
		sleep:    retry.SleepContext,
		now:      time.Now,
	}
}

// SetWebSocketHub устанавливает hub для уведомлений об изменении счетов.
//
//	mt5Service := service.NewMT5Service(...)
//	mt5Service.SetWebSocketHub(wsHub)
func (s *MT5Service) SetWebSocketHub(hub AccountBroadcaster) {
	s.wsHub = hub
}

// Connect подключает брокерский счёт пользователя.
//
// Порядок:
//  1. Валидация входа (до любых сетевых вызовов)
//  2. Проверка токена провайдера и отсутствия подключённого счёта
//  3. Поиск удалённого аккаунта по login+server, иначе создание
//  4. Deploy и опрос до DEPLOYED+CONNECTED
//  5. Чтение balance/equity с нарастающей паузой
//  6. Запись счёта и аудита одной транзакцией
//
// Опрос ограничен бюджетом polling.Budget. Исчерпание попыток или бюджета
// не ошибка: счёт сохраняется с тем, что удалось получить. Жёстко падают
// только отсутствие токена и DEPLOY_FAILED. Отмена ctx прерывает connect
// без записи в БД.
func (s *MT5Service) Connect(ctx context.Context, userID int64, req ConnectRequest) (*ConnectResult, error) {
	start := s.now()

	req.AccountID = strings.TrimSpace(req.AccountID)
	req.Server = strings.TrimSpace(req.Server)
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	log := s.logger.WithUserID(userID).With(utils.MT5Login(req.AccountID), utils.BrokerServer(req.Server))

	if !s.provider.Configured() {
		log.Error("mt5 provider token is not configured")
		metrics.RecordConnect(metrics.ResultNotConfigured, time.Since(start))
		return nil, ErrProviderNotConfigured
	}

	_, err := s.accounts.GetConnectedByUser(ctx, userID)
	switch {
	case err == nil:
		metrics.RecordConnect(metrics.ResultAlreadyConnected, time.Since(start))
		return nil, ErrAccountAlreadyConnected
	case !errors.Is(err, repository.ErrMT5AccountNotFound):
		metrics.RecordConnect(metrics.ResultError, time.Since(start))
		return nil, fmt.Errorf("check connected account: %w", err)
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.polling.Budget)
	defer cancel()

	remoteID, ready, err := s.ensureRemoteAccount(pollCtx, log, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.RecordConnect(metrics.ResultError, time.Since(start))
			return nil, ctxErr
		}
		if errors.Is(err, ErrDeployFailed) {
			log.Warn("provider reported deploy failure")
			metrics.RecordConnect(metrics.ResultDeployFailed, time.Since(start))
		} else {
			log.Error("remote account provisioning failed", utils.Err(err))
			metrics.RecordConnect(metrics.ResultError, time.Since(start))
		}
		return nil, err
	}
	log = log.With(utils.RemoteAccount(remoteID))

	info, synced := s.fetchBalance(pollCtx, log, remoteID)

	if err := ctx.Err(); err != nil {
		log.Warn("connect cancelled before saving account", utils.Err(err))
		metrics.RecordConnect(metrics.ResultError, time.Since(start))
		return nil, err
	}

	account := &models.MT5Account{
		UserID:    userID,
		AccountID: req.AccountID,
		Server:    req.Server,
		APIKey:    remoteID,
		Balance:   models.RoundMoney(info.Balance),
		Equity:    models.RoundMoney(info.Equity),
	}
	audit := models.NewAuditLog(userID, models.AuditMT5AccountConnected, req.IPAddress, map[string]interface{}{
		"accountId": req.AccountID,
		"server":    req.Server,
		"balance":   account.Balance.InexactFloat64(),
		"equity":    account.Equity.InexactFloat64(),
	})

	if err := s.accounts.CreateConnected(ctx, account, audit); err != nil {
		if errors.Is(err, repository.ErrMT5AccountConnected) {
			// параллельный connect того же пользователя успел раньше
			metrics.RecordConnect(metrics.ResultAlreadyConnected, time.Since(start))
			return nil, ErrAccountAlreadyConnected
		}
		metrics.RecordConnect(metrics.ResultError, time.Since(start))
		return nil, fmt.Errorf("save mt5 account: %w", err)
	}

	result := &ConnectResult{Account: account, RemoteReady: ready, BalanceSynced: synced}
	if result.Degraded() {
		metrics.RecordConnect(metrics.ResultDegraded, time.Since(start))
	} else {
		metrics.RecordConnect(metrics.ResultSuccess, time.Since(start))
	}

	log.Info("mt5 account connected",
		utils.Int64("account_row_id", account.ID),
		utils.Bool("remote_ready", ready),
		utils.Bool("balance_synced", synced),
		utils.Latency(time.Since(start)),
	)

	s.broadcast(userID, EventConnected, account)
	return result, nil
}

// ensureRemoteAccount находит или создаёт удалённый аккаунт и ждёт его готовности.
// Возвращает id аккаунта у провайдера и признак подтверждённой готовности.
func (s *MT5Service) ensureRemoteAccount(ctx context.Context, log *utils.Logger, req ConnectRequest) (string, bool, error) {
	if existing := s.findRemoteAccount(ctx, log, req.AccountID, req.Server); existing != nil {
		log := log.With(utils.RemoteAccount(existing.ID))

		switch {
		case existing.Ready():
			return existing.ID, true, nil

		case !existing.Deployed():
			if err := s.provider.DeployAccount(ctx, existing.ID); err != nil {
				log.Warn("deploy request failed, polling anyway", utils.Err(err))
			}
			// первая проверка после повторного deploy может вернуть старый DEPLOY_FAILED
			ready, err := s.waitReady(ctx, log, existing.ID, StageDeploy, s.polling.DeployAttempts, existing.DeployFailed())
			return existing.ID, ready, err

		default:
			ready, err := s.waitReady(ctx, log, existing.ID, StageConnect, s.polling.ConnectAttempts, false)
			return existing.ID, ready, err
		}
	}

	remoteID, err := s.provider.CreateAccount(ctx, metaapi.NewCreateAccountRequest(req.AccountID, req.Password, req.Server))
	if err != nil {
		// истёк бюджет опроса, а не отказ провайдера
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, errors.Join(ErrProviderTimeout, ctxErr)
		}
		return "", false, errors.Join(ErrProvisioningFailed, err)
	}
	log = log.With(utils.RemoteAccount(remoteID))
	log.Info("remote account created")

	if err := s.provider.DeployAccount(ctx, remoteID); err != nil {
		log.Warn("deploy request failed, polling anyway", utils.Err(err))
	}

	ready, err := s.waitReady(ctx, log, remoteID, StageProvision, s.polling.ProvisionAttempts, false)
	return remoteID, ready, err
}

// findRemoteAccount ищет аккаунт провайдера с тем же login и server.
// Ошибка списка не фатальна: считаем, что аккаунта нет, и создаём новый.
func (s *MT5Service) findRemoteAccount(ctx context.Context, log *utils.Logger, login, server string) *metaapi.Account {
	accounts, err := s.provider.ListAccounts(ctx)
	if err != nil {
		log.Warn("list remote accounts failed, will create a new one", utils.Err(err))
		return nil
	}
	for i := range accounts {
		if accounts[i].Matches(login, server) {
			return &accounts[i]
		}
	}
	return nil
}

// waitReady опрашивает состояние аккаунта с фиксированным интервалом.
// Первая проверка тоже идёт через интервал: сразу после deploy провайдер
// ещё отдаёт прежнее состояние. staleFailed - аккаунт был в DEPLOY_FAILED
// до deploy, и такой ответ на первой проверке не считается отказом.
// Ошибка возвращается только при DEPLOY_FAILED.
func (s *MT5Service) waitReady(ctx context.Context, log *utils.Logger, remoteID, stage string, attempts int, staleFailed bool) (bool, error) {
	checks := 0
	err := retry.Poll(ctx, retry.PollConfig{
		MaxAttempts:  attempts,
		InitialDelay: s.polling.Interval,
		Backoff:      retry.Fixed(s.polling.Interval),
		Sleep:        s.sleep,
		OnError: func(attempt int, err error) {
			log.Warn("poll remote account state failed", utils.Stage(stage), utils.Attempt(attempt), utils.Err(err))
		},
	}, func(ctx context.Context) (bool, error) {
		metrics.RecordPollAttempt(stage)

		account, err := s.provider.GetAccount(ctx, remoteID)
		if err != nil {
			return false, providerErr(err)
		}
		checks++
		if account.DeployFailed() {
			if staleFailed && checks == 1 {
				log.Debug("deploy not picked up yet", utils.Stage(stage))
				return false, nil
			}
			return false, retry.Permanent(ErrDeployFailed)
		}
		return account.Ready(), nil
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrDeployFailed):
		return false, err
	default:
		metrics.RecordPollExhausted(stage)
		log.Warn("remote account not confirmed ready, continuing", utils.Stage(stage), utils.Err(err))
		return false, nil
	}
}

// fetchBalance ждёт первые ненулевые balance/equity.
// Если не дождались, возвращает последние прочитанные значения (возможно нули).
func (s *MT5Service) fetchBalance(ctx context.Context, log *utils.Logger, remoteID string) (*metaapi.AccountInformation, bool) {
	var last *metaapi.AccountInformation

	err := retry.Poll(ctx, retry.PollConfig{
		MaxAttempts:  s.polling.BalanceAttempts,
		InitialDelay: s.polling.BalanceGrace,
		Backoff:      retry.Linear(s.polling.BalanceBase, s.polling.BalanceStep),
		Sleep:        s.sleep,
		OnError: func(attempt int, err error) {
			log.Warn("fetch account information failed", utils.Stage(StageBalance), utils.Attempt(attempt), utils.Err(err))
		},
	}, func(ctx context.Context) (bool, error) {
		metrics.RecordPollAttempt(StageBalance)

		info, err := s.provider.GetAccountInformation(ctx, remoteID)
		if err != nil {
			return false, providerErr(err)
		}
		last = info
		return info.HasFunds(), nil
	})

	if err != nil {
		metrics.RecordPollExhausted(StageBalance)
		log.Warn("balance not synced yet, storing last known values", utils.Err(err))
	}
	if last == nil {
		last = &metaapi.AccountInformation{}
	}
	return last, err == nil
}

// providerErr снимает пометку Permanent: внутри опроса любая ошибка провайдера
// считается временной.
func providerErr(err error) error {
	var pe *retry.PermanentError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}

// ListAccounts возвращает все счета пользователя
func (s *MT5Service) ListAccounts(ctx context.Context, userID int64) ([]*models.MT5Account, error) {
	return s.accounts.ListByUser(ctx, userID)
}

// GetAccount возвращает счёт пользователя по id
func (s *MT5Service) GetAccount(ctx context.Context, userID, id int64) (*models.MT5Account, error) {
	account, err := s.accounts.GetByIDForUser(ctx, userID, id)
	if errors.Is(err, repository.ErrMT5AccountNotFound) {
		return nil, ErrAccountNotFound
	}
	return account, err
}

// SyncAccount перечитывает balance/equity у провайдера одним запросом
func (s *MT5Service) SyncAccount(ctx context.Context, userID, id int64, ip string) (*models.MT5Account, error) {
	account, err := s.GetAccount(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !account.IsConnected {
		return nil, ErrAccountNotConnected
	}
	if !s.provider.Configured() {
		return nil, ErrProviderNotConfigured
	}

	info, err := s.provider.GetAccountInformation(ctx, account.APIKey)
	if err != nil {
		s.logger.WithUserID(userID).Warn("sync account information failed",
			utils.RemoteAccount(account.APIKey), utils.Err(err))
		return nil, errors.Join(ErrSyncFailed, err)
	}

	account.ApplySnapshot(info.Balance, info.Equity, s.now())
	audit := models.NewAuditLog(userID, models.AuditMT5AccountSynced, ip, map[string]interface{}{
		"accountId": account.AccountID,
		"balance":   account.Balance.InexactFloat64(),
		"equity":    account.Equity.InexactFloat64(),
	})

	if err := s.accounts.UpdateSnapshot(ctx, account, audit); err != nil {
		if errors.Is(err, repository.ErrMT5AccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	s.broadcast(userID, EventSynced, account)
	return account, nil
}

// DisconnectAccount отключает счёт. Undeploy у провайдера - по возможности,
// локальная запись переводится в disconnected в любом случае.
func (s *MT5Service) DisconnectAccount(ctx context.Context, userID, id int64, ip string) (*models.MT5Account, error) {
	account, err := s.GetAccount(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !account.IsConnected {
		return nil, ErrAccountNotConnected
	}

	log := s.logger.WithUserID(userID).With(utils.RemoteAccount(account.APIKey))
	if s.provider.Configured() && account.APIKey != "" {
		if err := s.provider.UndeployAccount(ctx, account.APIKey); err != nil && !metaapi.IsNotFound(err) {
			log.Warn("undeploy remote account failed", utils.Err(err))
		}
	}

	audit := models.NewAuditLog(userID, models.AuditMT5AccountDisconnected, ip, map[string]interface{}{
		"accountId": account.AccountID,
		"server":    account.Server,
	})
	if err := s.accounts.MarkDisconnected(ctx, account, audit); err != nil {
		if errors.Is(err, repository.ErrMT5AccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	log.Info("mt5 account disconnected")
	s.broadcast(userID, EventDisconnected, account)
	return account, nil
}

func (s *MT5Service) broadcast(userID int64, event string, account *models.MT5Account) {
	if s.wsHub != nil {
		s.wsHub.BroadcastAccountUpdate(userID, event, account)
	}
}
