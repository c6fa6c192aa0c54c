package service

import (
	"context"

	"bot_fleet/internal/models"
)

// Publisher emits one event per confirmed fill. Delivery is at-least-once:
// duplicates are acceptable for accounting, losing the fill itself is not
// (the trade already happened on the exchange), so publish failures are
// logged by callers and never fail the trading cycle.
type Publisher interface {
	PublishTrade(ctx context.Context, rec models.TradeRecord) error
	Close() error
}

// Noop drops events; used when no brokers are configured.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) PublishTrade(context.Context, models.TradeRecord) error { return nil }

func (*Noop) Close() error { return nil }

// Fan publishes to several sinks in order and reports the first failure;
// the remaining sinks still receive the event.
type Fan struct {
	sinks []Publisher
}

func NewFan(sinks ...Publisher) *Fan {
	return &Fan{sinks: sinks}
}

func (f *Fan) PublishTrade(ctx context.Context, rec models.TradeRecord) error {
	var firstErr error
	for _, s := range f.sinks {
		if err := s.PublishTrade(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Fan) Close() error {
	var firstErr error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
