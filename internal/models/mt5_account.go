package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces - знаков после запятой у balance/equity, как в колонках NUMERIC(20, 2)
const MoneyPlaces = 2

// RoundMoney приводит сумму к точности хранения
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Статусы MT5Account
const (
	MT5StatusConnected    = "connected"
	MT5StatusDisconnected = "disconnected"
)

// MT5Account - локальная запись о брокерском счёте, зеркалированном у провайдера.
//
// APIKey хранит id удалённого аккаунта у провайдера, а не секрет.
// Он задаётся один раз при создании и является единственной связью
// с удалённой стороной. Пароль брокера не хранится.
//
// Balance/Equity - последние известные значения, обновляются только
// при подключении и явной синхронизации.
type MT5Account struct {
	ID          int64           `json:"id" db:"id"`
	UserID      int64           `json:"userId" db:"user_id"`
	AccountID   string          `json:"accountId" db:"account_id"` // логин брокера
	Server      string          `json:"server" db:"server"`
	APIKey      string          `json:"-" db:"api_key"`
	Status      string          `json:"status" db:"status"`
	IsConnected bool            `json:"isConnected" db:"is_connected"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Equity      decimal.Decimal `json:"equity" db:"equity"`
	LastSync    *time.Time      `json:"lastSync,omitempty" db:"last_sync"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// MarkConnected переводит запись в connected и фиксирует время синхронизации
func (a *MT5Account) MarkConnected(now time.Time) {
	a.Status = MT5StatusConnected
	a.IsConnected = true
	a.LastSync = &now
	a.UpdatedAt = now
}

// MarkDisconnected переводит запись в disconnected
func (a *MT5Account) MarkDisconnected(now time.Time) {
	a.Status = MT5StatusDisconnected
	a.IsConnected = false
	a.UpdatedAt = now
}

// ApplySnapshot записывает свежие balance/equity с точностью хранения
func (a *MT5Account) ApplySnapshot(balance, equity decimal.Decimal, now time.Time) {
	a.Balance = RoundMoney(balance)
	a.Equity = RoundMoney(equity)
	a.LastSync = &now
	a.UpdatedAt = now
}
