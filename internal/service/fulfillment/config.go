package fulfillment

import (
	"errors"
	"time"
)

// RetryConfig задаёт повторы условного списания остатка при конфликте.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// Config: параметры сервиса оформления, передаются при старте приложения.
type Config struct {
	// PageSize: фиксированный размер страницы для ListOrders.
	PageSize int
	// OpTimeout ограничивает каждый отдельный вызов репозитория.
	OpTimeout time.Duration
	// ReadAttempts: сколько раз пробовать чтение, упавшее по таймауту вызова.
	ReadAttempts int
	Retry        RetryConfig
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		PageSize:     10,
		OpTimeout:    5 * time.Second,
		ReadAttempts: 3,
		Retry:        DefaultRetryConfig(),
	}
}

// Validate проверяет согласованность параметров.
func (c Config) Validate() error {
	switch {
	case c.PageSize <= 0:
		return errors.New("fulfillment: page size must be positive")
	case c.OpTimeout <= 0:
		return errors.New("fulfillment: op timeout must be positive")
	case c.ReadAttempts <= 0:
		return errors.New("fulfillment: read attempts must be positive")
	case c.Retry.MaxAttempts <= 0:
		return errors.New("fulfillment: stock retry attempts must be positive")
	case c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0:
		return errors.New("fulfillment: retry delays must be non-negative")
	case c.Retry.BackoffFactor < 1:
		return errors.New("fulfillment: backoff factor must be >= 1")
	}
	return nil
}
