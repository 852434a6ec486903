package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"algoedge/internal/models"
)

// Ошибки репозитория MT5 счетов
var (
	ErrMT5AccountNotFound = errors.New("mt5 account not found")
	// ErrMT5AccountConnected - у пользователя уже есть подключённый счёт
	ErrMT5AccountConnected = errors.New("user already has a connected mt5 account")
)

const mt5Columns = `id, user_id, account_id, server, api_key, status, is_connected,
		balance, equity, last_sync, created_at, updated_at`

// MT5AccountRepository - работа с таблицей mt5_accounts
type MT5AccountRepository struct {
	db *sql.DB
}

// NewMT5AccountRepository создает новый экземпляр репозитория
func NewMT5AccountRepository(db *sql.DB) *MT5AccountRepository {
	return &MT5AccountRepository{db: db}
}

// CreateConnected вставляет подключённый счёт и запись аудита одной транзакцией.
//
// Второй подключённый счёт того же пользователя отсекается частичным
// уникальным индексом и возвращается как ErrMT5AccountConnected.
func (r *MT5AccountRepository) CreateConnected(ctx context.Context, account *models.MT5Account, audit *models.AuditLog) error {
	query := `
		INSERT INTO mt5_accounts (user_id, account_id, server, api_key, status, is_connected,
			balance, equity, last_sync, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	now := time.Now()
	account.CreatedAt = now
	account.MarkConnected(now)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	err = tx.QueryRowContext(ctx, query,
		account.UserID,
		account.AccountID,
		account.Server,
		account.APIKey,
		account.Status,
		account.IsConnected,
		account.Balance,
		account.Equity,
		account.LastSync,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrMT5AccountConnected
		}
		return err
	}

	if audit != nil {
		if err := insertAuditLog(ctx, tx, audit); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetConnectedByUser возвращает подключённый счёт пользователя
func (r *MT5AccountRepository) GetConnectedByUser(ctx context.Context, userID int64) (*models.MT5Account, error) {
	query := `SELECT ` + mt5Columns + `
		FROM mt5_accounts
		WHERE user_id = $1 AND status = 'connected'
		LIMIT 1`

	return scanMT5Account(r.db.QueryRowContext(ctx, query, userID))
}

// GetByIDForUser возвращает счёт, только если он принадлежит пользователю
func (r *MT5AccountRepository) GetByIDForUser(ctx context.Context, userID, id int64) (*models.MT5Account, error) {
	query := `SELECT ` + mt5Columns + `
		FROM mt5_accounts
		WHERE id = $1 AND user_id = $2`

	return scanMT5Account(r.db.QueryRowContext(ctx, query, id, userID))
}

// ListByUser возвращает все счета пользователя, новые первыми
func (r *MT5AccountRepository) ListByUser(ctx context.Context, userID int64) ([]*models.MT5Account, error) {
	query := `SELECT ` + mt5Columns + `
		FROM mt5_accounts
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]*models.MT5Account, 0)
	for rows.Next() {
		account, err := scanMT5Account(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateSnapshot сохраняет balance/equity/last_sync и пишет аудит
func (r *MT5AccountRepository) UpdateSnapshot(ctx context.Context, account *models.MT5Account, audit *models.AuditLog) error {
	query := `
		UPDATE mt5_accounts
		SET balance = $1, equity = $2, last_sync = $3, updated_at = $4
		WHERE id = $5 AND user_id = $6`

	return r.execWithAudit(ctx, audit, query,
		account.Balance,
		account.Equity,
		account.LastSync,
		account.UpdatedAt,
		account.ID,
		account.UserID,
	)
}

// MarkDisconnected переводит счёт в disconnected и пишет аудит
func (r *MT5AccountRepository) MarkDisconnected(ctx context.Context, account *models.MT5Account, audit *models.AuditLog) error {
	query := `
		UPDATE mt5_accounts
		SET status = $1, is_connected = $2, updated_at = $3
		WHERE id = $4 AND user_id = $5`

	account.MarkDisconnected(time.Now())

	return r.execWithAudit(ctx, audit, query,
		account.Status,
		account.IsConnected,
		account.UpdatedAt,
		account.ID,
		account.UserID,
	)
}

func (r *MT5AccountRepository) execWithAudit(ctx context.Context, audit *models.AuditLog, query string, args ...interface{}) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrMT5AccountNotFound
	}

	if audit != nil {
		if err := insertAuditLog(ctx, tx, audit); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMT5Account(row rowScanner) (*models.MT5Account, error) {
	var (
		account  models.MT5Account
		lastSync sql.NullTime
	)
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.AccountID,
		&account.Server,
		&account.APIKey,
		&account.Status,
		&account.IsConnected,
		&account.Balance,
		&account.Equity,
		&lastSync,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMT5AccountNotFound
		}
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		account.LastSync = &t
	}
	return &account, nil
}
