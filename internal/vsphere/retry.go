package vsphere

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"

	"github.com/kubev2v/host-mover/internal/config"
)

// Retryer wraps mutating management-API calls in a capped-exponential retry.
// Reads are not retried; their callers already tolerate partial data.
type Retryer struct {
	cfg config.RetryConfig
	clk clock.Clock
	log *zap.SugaredLogger
}

func NewRetryer(cfg config.RetryConfig) *Retryer {
	return &Retryer{
		cfg: cfg,
		clk: clock.WallClock,
		log: zap.S().Named("retry"),
	}
}

func (r *Retryer) Call(ctx context.Context, what string, f func() error) error {
	return retry.Call(retry.CallArgs{
		Func:        f,
		Attempts:    r.cfg.Attempts,
		Delay:       r.cfg.Delay.Std(),
		MaxDelay:    r.cfg.MaxDelay.Std(),
		BackoffFunc: retry.DoubleDelay,
		Clock:       r.clk,
		Stop:        ctx.Done(),
		NotifyFunc: func(lastError error, attempt int) {
			r.log.Warnf("%s failed (attempt %d/%d): %v", what, attempt, r.cfg.Attempts, lastError)
		},
	})
}
