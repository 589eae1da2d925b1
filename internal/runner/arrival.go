package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// vuPool hands out idle VUs to arrival-rate executors, allocating new ones up
// to max. Only the dispatching goroutine calls acquire.
type vuPool struct {
	r    *Runner
	idle chan *vu
	max  int
}

func newVUPool(r *Runner, preAllocated, maxVUs int) *vuPool {
	p := &vuPool{r: r, idle: make(chan *vu, maxVUs), max: maxVUs}
	for i := 0; i < preAllocated; i++ {
		p.idle <- r.newVU()
	}
	return p
}

func (p *vuPool) acquire() (*vu, bool) {
	select {
	case v := <-p.idle:
		return v, true
	default:
	}
	if int(p.r.allocated.Load()) < p.max {
		return p.r.newVU(), true
	}
	return nil, false
}

func (p *vuPool) release(v *vu) {
	p.idle <- v
}

// arrivals starts one iteration per limiter token until sched closes. rateAt
// returns the target in iterations per second; non-positive means pause.
// Waits are capped at rampTick so a slowly rising rate is re-read before the
// next token is due.
func arrivals(sched, iter context.Context, r *Runner, pool *vuPool, rateAt func(time.Duration) float64) error {
	start := time.Now()
	// A zero limit never refills, so a ramp from zero starts without a token.
	limiter := rate.NewLimiter(rate.Limit(max(rateAt(0), 0)), 1)

	var g errgroup.Group
	for sched.Err() == nil {
		now := time.Now()
		perSecond := rateAt(now.Sub(start))
		if perSecond <= 0 {
			limiter.SetLimitAt(now, 0)
			pause(sched, rampTick)
			continue
		}
		limiter.SetLimitAt(now, rate.Limit(perSecond))
		if !limiter.AllowN(now, 1) {
			missing := 1 - limiter.TokensAt(now)
			wait := time.Duration(missing / perSecond * float64(time.Second))
			pause(sched, min(max(wait, time.Millisecond), rampTick))
			continue
		}

		v, ok := pool.acquire()
		if !ok {
			r.dropIteration()
			continue
		}
		g.Go(func() error {
			defer pool.release(v)
			r.runIteration(iter, v)
			return nil
		})
	}
	return g.Wait()
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func validatePool(timeUnit time.Duration, preAllocated, maxVUs int) error {
	if timeUnit < 0 {
		return errors.New("timeUnit must not be negative")
	}
	if preAllocated <= 0 {
		return errors.New("preAllocatedVUs must be positive")
	}
	if maxVUs != 0 && maxVUs < preAllocated {
		return errors.Newf("maxVUs (%d) must be at least preAllocatedVUs (%d)", maxVUs, preAllocated)
	}
	return nil
}

func unitOrSecond(u time.Duration) time.Duration {
	if u == 0 {
		return time.Second
	}
	return u
}

// ConstantArrivalRate starts Rate iterations per TimeUnit regardless of how
// long they take. An iteration that finds no free VU once MaxVUs are allocated
// is dropped.
type ConstantArrivalRate struct {
	Rate            int
	TimeUnit        time.Duration
	Duration        time.Duration
	PreAllocatedVUs int
	MaxVUs          int
}

func (e ConstantArrivalRate) Validate() error {
	if e.Rate <= 0 {
		return errors.New("rate must be positive")
	}
	if e.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	return validatePool(e.TimeUnit, e.PreAllocatedVUs, e.MaxVUs)
}

func (e ConstantArrivalRate) VUsMax() int {
	return max(e.MaxVUs, e.PreAllocatedVUs)
}

func (e ConstantArrivalRate) Window() time.Duration { return e.Duration }

func (e ConstantArrivalRate) String() string {
	return fmt.Sprintf("constant-arrival-rate(%d/%s, %s, %d-%d VUs)",
		e.Rate, unitOrSecond(e.TimeUnit), e.Duration, e.PreAllocatedVUs, e.VUsMax())
}

func (e ConstantArrivalRate) run(ctx context.Context, r *Runner) error {
	sched, iter, cancel := r.window(ctx, e.Duration)
	defer cancel()

	perSecond := float64(e.Rate) / unitOrSecond(e.TimeUnit).Seconds()
	pool := newVUPool(r, e.PreAllocatedVUs, e.VUsMax())
	return arrivals(sched, iter, r, pool, func(time.Duration) float64 { return perSecond })
}

// RampingArrivalRate moves the arrival rate through stages, where a stage
// Target is iterations per TimeUnit.
type RampingArrivalRate struct {
	StartRate       int
	TimeUnit        time.Duration
	PreAllocatedVUs int
	MaxVUs          int
	Stages          []Stage
}

func (e RampingArrivalRate) Validate() error {
	if e.StartRate < 0 {
		return errors.New("startRate must not be negative")
	}
	if err := validateStages(e.Stages); err != nil {
		return err
	}
	return validatePool(e.TimeUnit, e.PreAllocatedVUs, e.MaxVUs)
}

func (e RampingArrivalRate) VUsMax() int {
	return max(e.MaxVUs, e.PreAllocatedVUs)
}

func (e RampingArrivalRate) Window() time.Duration { return stagesDuration(e.Stages) }

func (e RampingArrivalRate) String() string {
	return fmt.Sprintf("ramping-arrival-rate(%d stages, %s, %d-%d VUs)",
		len(e.Stages), stagesDuration(e.Stages), e.PreAllocatedVUs, e.VUsMax())
}

// RateAt is the target arrival rate, in iterations per second, at elapsed.
func (e RampingArrivalRate) RateAt(elapsed time.Duration) float64 {
	return stageValue(float64(e.StartRate), e.Stages, elapsed) / unitOrSecond(e.TimeUnit).Seconds()
}

func (e RampingArrivalRate) run(ctx context.Context, r *Runner) error {
	sched, iter, cancel := r.window(ctx, stagesDuration(e.Stages))
	defer cancel()

	pool := newVUPool(r, e.PreAllocatedVUs, e.VUsMax())
	return arrivals(sched, iter, r, pool, e.RateAt)
}
