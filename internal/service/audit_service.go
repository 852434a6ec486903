package service

import (
	"context"

	"algoedge/internal/models"
)

// Размер страницы журнала аудита
const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 200
)

// AuditService - чтение журнала аудита владельцем
type AuditService struct {
	repo AuditLogRepositoryInterface
}

// NewAuditService создает новый экземпляр сервиса
func NewAuditService(repo AuditLogRepositoryInterface) *AuditService {
	return &AuditService{repo: repo}
}

// ListForUser возвращает последние записи пользователя, новые первыми
func (s *AuditService) ListForUser(ctx context.Context, userID int64, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}
	return s.repo.ListByUser(ctx, userID, limit)
}
