package websocket

import (
	"time"

	"algoedge/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeAccountUpdate - изменение MT5 счёта пользователя
	// (connected, synced, disconnected)
	MessageTypeAccountUpdate MessageType = "mt5AccountUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// AccountUpdateMessage - событие по MT5 счёту.
// Уходит только владельцу счёта.
type AccountUpdateMessage struct {
	BaseMessage
	Event   string             `json:"event"`
	Account *AccountUpdateData `json:"account"`
}

// AccountUpdateData - публичные поля счёта в событии
type AccountUpdateData struct {
	ID          int64      `json:"id"`
	AccountID   string     `json:"accountId"`
	Server      string     `json:"server"`
	Status      string     `json:"status"`
	IsConnected bool       `json:"isConnected"`
	Balance     float64    `json:"balance"`
	Equity      float64    `json:"equity"`
	LastSync    *time.Time `json:"lastSync,omitempty"`
}

// NewAccountUpdateMessage собирает событие из модели счёта
func NewAccountUpdateMessage(event string, account *models.MT5Account) *AccountUpdateMessage {
	return &AccountUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeAccountUpdate,
			Timestamp: time.Now(),
		},
		Event: event,
		Account: &AccountUpdateData{
			ID:          account.ID,
			AccountID:   account.AccountID,
			Server:      account.Server,
			Status:      account.Status,
			IsConnected: account.IsConnected,
			Balance:     account.Balance.InexactFloat64(),
			Equity:      account.Equity.InexactFloat64(),
			LastSync:    account.LastSync,
		},
	}
}
