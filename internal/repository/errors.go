package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// uniqueViolation - SQLSTATE нарушения уникальности в PostgreSQL
const uniqueViolation = "23505"

// isUniqueViolation распознаёт нарушение уникального индекса.
// Строковая проверка оставлена для драйверов-обёрток, теряющих *pq.Error.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, uniqueViolation)
}

// rowQuerier - общее у *sql.DB и *sql.Tx
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rollback откатывает транзакцию, если она не была зафиксирована
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
