package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"algoedge/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AuditLogRepository - работа с таблицей audit_logs
type AuditLogRepository struct {
	db *sql.DB
}

// NewAuditLogRepository создает новый экземпляр репозитория
func NewAuditLogRepository(db *sql.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create добавляет запись в журнал
func (r *AuditLogRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	return insertAuditLog(ctx, r.db, entry)
}

// ListByUser возвращает последние записи пользователя, новые первыми
func (r *AuditLogRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, user_id, action, details, ip_address, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.AuditLog, 0)
	for rows.Next() {
		var (
			entry   models.AuditLog
			uid     sql.NullInt64
			details []byte
		)
		if err := rows.Scan(&entry.ID, &uid, &entry.Action, &details, &entry.IPAddress, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if uid.Valid {
			id := uid.Int64
			entry.UserID = &id
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %d: %w", entry.ID, err)
			}
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// insertAuditLog пишет запись через db или внутри транзакции
func insertAuditLog(ctx context.Context, q rowQuerier, entry *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (user_id, action, details, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	details := entry.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	return q.QueryRowContext(ctx, query,
		entry.UserID,
		entry.Action,
		payload,
		entry.IPAddress,
		entry.CreatedAt,
	).Scan(&entry.ID)
}
