package retry

import (
	"context"
	"errors"
	"time"
)

// ErrPollExhausted - условие так и не выполнилось за MaxAttempts проверок
var ErrPollExhausted = errors.New("poll attempts exhausted")

// Backoff возвращает задержку перед проверкой с номером attempt (с нуля)
type Backoff func(attempt int) time.Duration

// Fixed - одинаковая пауза между проверками
func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Linear - base + step*attempt
func Linear(base, step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base + time.Duration(attempt)*step
	}
}

// PollConfig задаёт ограниченное ожидание удалённого состояния.
type PollConfig struct {
	// MaxAttempts - сколько раз вызвать check. <= 0 трактуется как 1.
	MaxAttempts int

	// InitialDelay - пауза до первой проверки
	InitialDelay time.Duration

	// Backoff - пауза после неудачной проверки. nil - без паузы.
	Backoff Backoff

	// OnError получает непостоянные ошибки check; опрос продолжается
	OnError func(attempt int, err error)

	// Sleep подменяется в тестах. По умолчанию SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Poll вызывает check, пока тот не вернёт true.
//
// Результат:
//   - nil - check вернул true;
//   - ошибка, обёрнутая Permanent внутри check (разворачивается);
//   - ErrPollExhausted - попытки кончились;
//   - ctx.Err() - контекст отменён между проверками.
func Poll(ctx context.Context, cfg PollConfig, check func(ctx context.Context) (bool, error)) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	if cfg.InitialDelay > 0 {
		if err := sleep(ctx, cfg.InitialDelay); err != nil {
			return err
		}
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := check(ctx)
		if err != nil {
			var pe *PermanentError
			if errors.As(err, &pe) {
				return pe.Err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if cfg.OnError != nil {
				cfg.OnError(attempt+1, err)
			}
		} else if done {
			return nil
		}

		if attempt == cfg.MaxAttempts-1 || cfg.Backoff == nil {
			continue
		}
		if err := sleep(ctx, cfg.Backoff(attempt)); err != nil {
			return err
		}
	}

	return ErrPollExhausted
}
