package fulfillment

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// backoff выдаёт экспоненциально растущие задержки с ограничением MaxDelay.
type backoff struct {
	cfg   RetryConfig
	delay time.Duration
}

func newBackoff(cfg RetryConfig) *backoff {
	return &backoff{cfg: cfg, delay: cfg.InitialDelay}
}

// next возвращает текущую задержку и увеличивает следующую.
func (b *backoff) next() time.Duration {
	current := b.delay
	b.delay = time.Duration(float64(b.delay) * b.cfg.BackoffFactor)
	if b.delay > b.cfg.MaxDelay {
		b.delay = b.cfg.MaxDelay
	}
	return current
}

// sleep ждёт d или отмены ctx.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// callTimedOut отличает истечение таймаута отдельного вызова от отмены запроса целиком.
func callTimedOut(parent context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
}

// withReadRetry выполняет чтение с таймаутом на вызов и повторяет его,
// только если истёк таймаут вызова. Остальные ошибки возвращаются как есть.
func withReadRetry[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	b := newBackoff(s.cfg.Retry)

	for attempt := 1; attempt <= s.cfg.ReadAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		result, err := fn(callCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		if !callTimedOut(ctx, err) {
			return zero, err
		}

		lastErr = err
		s.logger.WithFields(log.Fields{
			"operation": op,
			"attempt":   attempt,
		}).Warn("repository read timed out")

		if attempt < s.cfg.ReadAttempts {
			if err := sleep(ctx, b.next()); err != nil {
				return zero, err
			}
		}
	}

	return zero, lastErr
}
