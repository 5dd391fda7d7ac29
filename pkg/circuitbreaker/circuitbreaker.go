// Package circuitbreaker wraps sony/gobreaker with the settings shared by all
// outbound calls to third-party services.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Settings controls when a breaker trips and how long it stays open.
type Settings struct {
	Name                string
	MaxHalfOpenRequests uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

func DefaultSettings(name string) Settings {
	return Settings{
		Name:                name,
		MaxHalfOpenRequests: 1,
		Interval:            time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// New builds a breaker for results of type T. State changes are logged.
func New[T any](s Settings, log *slog.Logger) *gobreaker.CircuitBreaker[T] {
	threshold := s.ConsecutiveFailures
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxHalfOpenRequests,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
			}
		},
	})
}

// IsOpen reports whether err was produced by a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
