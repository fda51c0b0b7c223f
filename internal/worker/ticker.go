package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Ticker runs Fn every Interval until the context ends. A failing run is
// logged and the next tick proceeds.
type Ticker struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
}

func NewTicker(name string, interval time.Duration, fn func(ctx context.Context) error) *Ticker {
	return &Ticker{Name: name, Interval: interval, Fn: fn}
}

func (t *Ticker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		if err := t.Fn(ctx); err != nil && ctx.Err() == nil {
			log.Ctx(ctx).Error().Err(err).Str("ticker", t.Name).Msg("tick failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
