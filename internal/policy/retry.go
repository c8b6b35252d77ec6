// Package policy содержит политику повторов, общую для Lifecycle Controller
// и Reconciliation Guard.
//
// Каждый шаг провижининга и каждая коррекция guard выполняются
// через Do: N попыток с фиксированной или экспоненциальной
// (ограниченной сверху) задержкой между ними.
package policy

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

// Backoff — стратегия задержки между попытками.
type Backoff string

const (
	// BackoffFixed — одинаковая задержка между попытками.
	BackoffFixed Backoff = "fixed"

	// BackoffExponential — задержка удваивается, но не больше MaxDelay.
	BackoffExponential Backoff = "exponential"
)

// Значения по умолчанию: 3 попытки с паузой в несколько секунд.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 3 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// RetryPolicy — политика повторов.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts"`

	// Delay — задержка перед второй попыткой.
	Delay time.Duration `json:"delay"`

	// MaxDelay — верхняя граница задержки для exponential.
	MaxDelay time.Duration `json:"max_delay"`

	// Backoff — стратегия: "fixed" или "exponential".
	Backoff Backoff `json:"backoff"`
}

// Default возвращает политику по умолчанию.
func Default() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
		MaxDelay:    DefaultMaxDelay,
		Backoff:     BackoffFixed,
	}
}

// Once — одна попытка без повторов.
func Once() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// normalized возвращает политику с заполненными значениями.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Backoff == "" {
		p.Backoff = BackoffFixed
	}
	return p
}

// Func — операция, выполняемая с повторами. attempt начинается с 1.
type Func func(ctx context.Context, attempt int) error

// RetryHook вызывается после каждой неудачной попытки, после которой будет повтор.
type RetryHook func(attempt int, err error)

// Do выполняет fn согласно политике.
//
// Возвращает nil при успехе, последнюю ошибку fn после исчерпания попыток
// или ошибку, помеченную Permanent, сразу без повторов.
// При отмене ctx возвращает ошибку контекста, обёрнутую вместе с последней ошибкой fn.
func Do(ctx context.Context, p RetryPolicy, fn Func, onRetry RetryHook) (int, error) {
	p = p.normalized()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	attempt := 0
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(p.MaxAttempts)),
		retry.Delay(p.Delay),
		retry.MaxDelay(p.MaxDelay),
		retry.LastErrorOnly(true),
		retry.WrapContextErrorWithLastError(true),
		retry.OnRetry(func(n uint, err error) {
			// на последней попытке повтора не будет
			if onRetry != nil && int(n)+1 < p.MaxAttempts {
				onRetry(int(n)+1, err)
			}
		}),
	}

	switch p.Backoff {
	case BackoffExponential:
		opts = append(opts, retry.DelayType(retry.BackOffDelay))
	default:
		opts = append(opts, retry.DelayType(retry.FixedDelay))
	}

	err := retry.Do(func() error {
		attempt++
		return fn(ctx, attempt)
	}, opts...)

	return attempt, err
}

// Permanent помечает ошибку как неповторяемую: Do вернёт её сразу.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return retry.Unrecoverable(err)
}

// IsPermanent проверяет, помечена ли ошибка как неповторяемая.
func IsPermanent(err error) bool {
	return err != nil && !retry.IsRecoverable(err)
}

// Sleep ждёт d или отмены ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrPollTimeout — условие не выполнилось за отведённое время.
var ErrPollTimeout = errors.New("poll timed out")

// PollUntil вызывает check каждые interval, пока он не вернёт true,
// ошибку или пока не истечёт timeout.
func PollUntil(ctx context.Context, interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = time.Second
	}

	pollCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := check(pollCtx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ticker.C:
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrPollTimeout
		}
	}
}
