package exchange

import (
	"context"
	"errors"
	"time"

	xerrors "providence/internal/errors"
	"providence/pkg/exception"

	"github.com/sony/gobreaker/v2"
	"github.com/yanun0323/logs"
)

// BreakerConfig tunes the circuit breaker in front of a Client.
type BreakerConfig struct {
	// Failures is the consecutive transient failures that open the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is the number of requests allowed while half-open.
	Probes uint32
}

func (c BreakerConfig) settings(name string) gobreaker.Settings {
	failures := c.Failures
	if failures == 0 {
		failures = 5
	}
	cooldown := c.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	probes := c.Probes
	if probes == 0 {
		probes = 1
	}

	return gobreaker.Settings{
		Name:        name,
		MaxRequests: probes,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !xerrors.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logs.Warnf("exchange: breaker %s %s -> %s", name, from, to)
		},
	}
}

// Breaker wraps a Client with explicit circuit-breaker state. One instance is
// built per process and injected.
type Breaker struct {
	client   Client
	position *gobreaker.CircuitBreaker[float64]
	balance  *gobreaker.CircuitBreaker[float64]
}

func NewBreaker(client Client, cfg BreakerConfig) *Breaker {
	return &Breaker{
		client:   client,
		position: gobreaker.NewCircuitBreaker[float64](cfg.settings("exchange-position")),
		balance:  gobreaker.NewCircuitBreaker[float64](cfg.settings("exchange-balance")),
	}
}

func (b *Breaker) Position(ctx context.Context, symbol string) (float64, error) {
	v, err := b.position.Execute(func() (float64, error) {
		return b.client.Position(ctx, symbol)
	})
	return v, open(err)
}

func (b *Breaker) Balance(ctx context.Context) (float64, error) {
	v, err := b.balance.Execute(func() (float64, error) {
		return b.client.Balance(ctx)
	})
	return v, open(err)
}

// State reports the position breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.position.State()
}

func open(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return xerrors.Transient(xerrors.Wrap(exception.ErrBreakerOpen, err.Error()))
	}
	return err
}
