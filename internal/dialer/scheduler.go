package dialer

import (
	"context"
	"log/slog"
	"time"
)

// Clock abstracts time for the engine loops so tests can drive ticks
// deterministically.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.t.C }
func (t realTicker) Stop()               { t.t.Stop() }

// RunEvery invokes fn once per interval until ctx is cancelled. A failing
// tick is logged and does not stop the loop; the next tick runs regardless.
func RunEvery(ctx context.Context, clk Clock, interval time.Duration, name string, log *slog.Logger, fn func(ctx context.Context) error) error {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := fn(ctx); err != nil {
				log.Error("tick failed", "loop", name, "error", err)
			}
		}
	}
}
