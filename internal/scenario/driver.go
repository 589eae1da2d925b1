package scenario

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/parkhub/sp-loadtesting/internal/metrics"
	"github.com/parkhub/sp-loadtesting/internal/runner"
	"github.com/parkhub/sp-loadtesting/internal/smartpass"
	"github.com/parkhub/sp-loadtesting/pkg/config"
)

const (
	FlowPayments         = "payments-flow"
	FlowCompletePurchase = "complete-purchase-flow"
)

// Driver is the per-iteration body of a flow plus its run-level hooks.
type Driver interface {
	Setup(ctx context.Context) error
	Iterate(ctx context.Context, it runner.Iteration) error
	Teardown(ctx context.Context)
}

// Env is what a driver needs from the outside world.
type Env struct {
	Client   *smartpass.Client
	Metrics  *metrics.Registry
	TestData config.TestDataConfig
	BaseURL  string
	Logger   *zap.Logger

	// ThinkTime replaces every pause of the flow when non-nil.
	ThinkTime *time.Duration
}

func (e Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// think pauses for d, or the override, unless ctx ends first.
func (e Env) think(ctx context.Context, d time.Duration) {
	if e.ThinkTime != nil {
		d = *e.ThinkTime
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func iterFields(it runner.Iteration) []zap.Field {
	return []zap.Field{
		zap.String("scenario", it.Scenario),
		zap.Int("vu", it.VU),
		zap.Int("iter", it.Iter),
	}
}

// NewDriver builds the driver of a flow.
func NewDriver(flow string, env Env) (Driver, error) {
	if env.Client == nil || env.Metrics == nil {
		return nil, errors.New("driver requires a client and a metrics registry")
	}
	switch flow {
	case FlowPayments:
		return NewPaymentsFlow(env), nil
	case FlowCompletePurchase:
		return NewCompletePurchase(env), nil
	default:
		return nil, errors.Newf("unknown flow %q", flow)
	}
}
