// Пакет retry повторяет вызовы с экспоненциальной задержкой.
//
// Политика повторов задается через Config.RetryIf; ошибка, обернутая
// в Permanent, останавливает повторы независимо от политики.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ============================================================
// Конфигурация
// ============================================================

// Config задает политику повторов для одного вызова.
type Config struct {
	// MaxRetries ограничивает общее число попыток. Ноль и меньше
	// означают повторять до успеха или отмены контекста.
	MaxRetries int

	// InitialDelay задает паузу после первой неудачной попытки.
	InitialDelay time.Duration

	// MaxDelay ограничивает паузу сверху при экспоненциальном росте.
	MaxDelay time.Duration

	// Multiplier определяет, во сколько раз растет пауза от попытки
	// к попытке.
	Multiplier float64

	// JitterFactor размывает паузу на +/- долю от номинала, чтобы
	// повторы разных ордеров не приходили на биржу синхронно.
	JitterFactor float64

	// RetryIf решает, имеет ли смысл повторять после данной ошибки.
	// По умолчанию повторяется все, кроме отмены контекста.
	RetryIf func(error) bool
}

// withDefaults заполняет нулевые поля рабочими значениями.
func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
	if c.RetryIf == nil {
		c.RetryIf = RetryIfNotContext
	}
	return c
}

// ============================================================
// Выполнение
// ============================================================

// DoWithResult вызывает fn до первого успеха в рамках политики cfg.
//
// При исчерпании попыток возвращается ошибка последней из них.
// Ошибка, обернутая в Permanent, прекращает повторы сразу; наружу
// в этом случае уходит исходная ошибка без обертки.
func DoWithResult[T any](ctx context.Context, fn func() (T, error), cfg Config) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return zero, perm.Err
		}
		if !cfg.RetryIf(err) {
			return zero, err
		}

		// После последней попытки ждать нечего
		if cfg.MaxRetries > 0 && attempt == cfg.MaxRetries-1 {
			break
		}

		timer := time.NewTimer(jittered(delay, cfg.JitterFactor))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, lastErr
}

// Do повторяет вызов без результата по той же схеме, что DoWithResult.
func Do(ctx context.Context, fn func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	}, cfg)
	return err
}

// jittered возвращает d, размытую на +/- factor от номинала.
func jittered(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return d
	}
	delta := factor * float64(d)
	lo := float64(d) - delta
	return time.Duration(lo + rand.Float64()*2*delta)
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryIfNotContext повторяет любую ошибку, кроме отмены или
// истечения контекста.
func RetryIfNotContext(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// PermanentError помечает ошибку, повтор после которой бессмыслен:
// тот же запрос даст тот же ответ.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent оборачивает err как неповторяемую. Nil остается nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
