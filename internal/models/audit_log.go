package models

import "time"

// Действия, попадающие в журнал аудита
const (
	AuditMT5AccountConnected    = "MT5_ACCOUNT_CONNECTED"
	AuditMT5AccountSynced       = "MT5_ACCOUNT_SYNCED"
	AuditMT5AccountDisconnected = "MT5_ACCOUNT_DISCONNECTED"
	AuditUserRegistered         = "USER_REGISTERED"
	AuditUserLogin              = "USER_LOGIN"
)

// AuditLog - запись журнала аудита, только добавление.
type AuditLog struct {
	ID        int64                  `json:"id" db:"id"`
	UserID    *int64                 `json:"userId,omitempty" db:"user_id"`
	Action    string                 `json:"action" db:"action"`
	Details   map[string]interface{} `json:"details,omitempty" db:"details"` // JSONB
	IPAddress string                 `json:"ipAddress,omitempty" db:"ip_address"`
	CreatedAt time.Time              `json:"createdAt" db:"created_at"`
}

// NewAuditLog собирает запись аудита для пользователя
func NewAuditLog(userID int64, action, ip string, details map[string]interface{}) *AuditLog {
	return &AuditLog{
		UserID:    &userID,
		Action:    action,
		Details:   details,
		IPAddress: ip,
	}
}
