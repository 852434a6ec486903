package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config описывает повтор коротких операций с экспоненциальной задержкой.
//
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay) ± jitter
//
// Используется для транзиентных сбоев сети и 5xx ответов провайдера.
// Для ожидания смены состояния удалённого ресурса есть Poll.
type Config struct {
	// MaxAttempts - количество попыток, включая первую. <= 0 трактуется как 1.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor в диапазоне [0, 1]
	JitterFactor float64

	// RetryIf решает, стоит ли повторять ошибку. По умолчанию IsRetryable.
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием следующей попытки
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep подменяется в тестах. По умолчанию SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig - 3 попытки, 200ms → 400ms, потолок 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
	if c.Sleep == nil {
		c.Sleep = SleepContext
	}
}

func (c *Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		d += d * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do выполняет operation с повторами.
//
// Возвращает nil при первом успехе, иначе последнюю ошибку.
// Отмена ctx во время ожидания возвращает последнюю ошибку операции,
// а если попыток ещё не было - ctx.Err().
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult - вариант Do для операций, возвращающих значение:
//
//	accounts, err := retry.DoWithResult(ctx, func() ([]Account, error) {
//	    return c.listAccounts(ctx)
//	}, retry.DefaultConfig())
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.normalize()

	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		d := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, d)
		}
		if cfg.Sleep(ctx, d) != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// SleepContext ждёт d или отмены ctx.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryableError - ошибка, сама сообщающая, можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable возвращает false для nil, ошибок контекста и ошибок,
// явно помеченных как неповторяемые. Остальные ошибки повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}

// PermanentError прекращает и Do, и Poll
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent проверяет, обёрнута ли ошибка через Permanent
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
