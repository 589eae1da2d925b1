// Package runner schedules iterations across virtual users according to an
// executor: a fixed pool of VUs, a ramping pool, a shared iteration budget, or
// an open model that starts iterations at a target arrival rate.
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/parkhub/sp-loadtesting/internal/metrics"
)

const DefaultGracefulStop = 30 * time.Second

// Iteration identifies one run of the iteration function.
type Iteration struct {
	Scenario string
	// VU is 1-based.
	VU int
	// Iter counts the iterations of this VU, starting at 0.
	Iter int
}

// IterationFunc is the body of a scenario. Errors are logged and counted,
// they never stop the run.
type IterationFunc func(ctx context.Context, it Iteration) error

// Executor decides when and on which VU iterations start.
type Executor interface {
	Validate() error
	// VUsMax is the largest number of VUs the executor may allocate.
	VUsMax() int
	// Window is how long the executor schedules new iterations, excluding
	// graceful stop.
	Window() time.Duration
	String() string

	run(ctx context.Context, r *Runner) error
}

// Progress is a point-in-time view of a run.
type Progress struct {
	Scenario          string        `json:"scenario"`
	Executor          string        `json:"executor"`
	StartedAt         time.Time     `json:"started_at"`
	Elapsed           time.Duration `json:"elapsed_ns"`
	Running           bool          `json:"running"`
	ActiveVUs         int64         `json:"active_vus"`
	AllocatedVUs      int64         `json:"allocated_vus"`
	Iterations        int64         `json:"iterations"`
	FailedIterations  int64         `json:"failed_iterations"`
	DroppedIterations int64         `json:"dropped_iterations"`
}

type Runner struct {
	scenario     string
	fn           IterationFunc
	logger       *zap.Logger
	gracefulStop time.Duration

	iterations   *metrics.Counter
	iterDuration *metrics.Trend
	dropped      *metrics.Counter
	vus          *metrics.Gauge
	vusMax       *metrics.Gauge

	mu        sync.Mutex
	executor  string
	startedAt time.Time
	endedAt   time.Time

	active    atomic.Int64
	allocated atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	drops     atomic.Int64
	warnDrop  sync.Once
}

type Option func(*Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithGracefulStop sets how long in-flight iterations may run once the
// scheduling window has closed.
func WithGracefulStop(d time.Duration) Option {
	return func(r *Runner) { r.gracefulStop = d }
}

func New(scenario string, fn IterationFunc, reg *metrics.Registry, opts ...Option) *Runner {
	r := &Runner{
		scenario:     scenario,
		fn:           fn,
		logger:       zap.NewNop(),
		gracefulStop: DefaultGracefulStop,
		iterations:   reg.Counter(metrics.Iterations),
		iterDuration: reg.Trend(metrics.IterationDuration),
		dropped:      reg.Counter(metrics.DroppedIterations),
		vus:          reg.Gauge(metrics.VUs),
		vusMax:       reg.Gauge(metrics.VUsMax),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives exec until its window closes, ctx is cancelled, or it runs out
// of work. In-flight iterations get the graceful stop period to finish before
// their context is cancelled.
func (r *Runner) Run(ctx context.Context, exec Executor) error {
	if r.fn == nil {
		return errors.New("runner has no iteration function")
	}
	if err := exec.Validate(); err != nil {
		return errors.Wrapf(err, "invalid executor %s", exec)
	}

	r.mu.Lock()
	r.executor = exec.String()
	r.startedAt = time.Now()
	r.endedAt = time.Time{}
	r.mu.Unlock()

	r.logger.Info("starting executor",
		zap.String("scenario", r.scenario),
		zap.String("executor", exec.String()),
		zap.Int("max_vus", exec.VUsMax()),
		zap.Duration("duration", exec.Window()),
		zap.Duration("graceful_stop", r.gracefulStop),
	)

	err := exec.run(ctx, r)

	r.mu.Lock()
	r.endedAt = time.Now()
	r.mu.Unlock()
	r.vus.Set(0)

	r.logger.Info("executor finished",
		zap.String("scenario", r.scenario),
		zap.Int64("iterations", r.completed.Load()),
		zap.Int64("failed_iterations", r.failed.Load()),
		zap.Int64("dropped_iterations", r.drops.Load()),
		zap.Duration("elapsed", r.Elapsed()),
	)
	return err
}

// Elapsed is the wall time of the current or last run.
func (r *Runner) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() {
		return 0
	}
	if r.endedAt.IsZero() {
		return time.Since(r.startedAt)
	}
	return r.endedAt.Sub(r.startedAt)
}

func (r *Runner) Progress() Progress {
	r.mu.Lock()
	p := Progress{
		Scenario:  r.scenario,
		Executor:  r.executor,
		StartedAt: r.startedAt,
		Running:   !r.startedAt.IsZero() && r.endedAt.IsZero(),
	}
	r.mu.Unlock()

	p.Elapsed = r.Elapsed()
	p.ActiveVUs = r.active.Load()
	p.AllocatedVUs = r.allocated.Load()
	p.Iterations = r.completed.Load()
	p.FailedIterations = r.failed.Load()
	p.DroppedIterations = r.drops.Load()
	return p
}

type vu struct {
	id   int
	iter int
}

func (r *Runner) newVU() *vu {
	n := r.allocated.Add(1)
	r.vusMax.Set(float64(n))
	return &vu{id: int(n)}
}

func (r *Runner) runIteration(ctx context.Context, v *vu) {
	it := Iteration{Scenario: r.scenario, VU: v.id, Iter: v.iter}
	v.iter++

	r.vus.Set(float64(r.active.Add(1)))
	start := time.Now()
	err := r.fn(ctx, it)
	r.iterDuration.AddDuration(time.Since(start))
	r.vus.Set(float64(r.active.Add(-1)))

	r.iterations.Inc()
	r.completed.Add(1)
	if err != nil {
		r.failed.Add(1)
		r.logger.Debug("iteration failed",
			zap.String("scenario", it.Scenario),
			zap.Int("vu", it.VU),
			zap.Int("iter", it.Iter),
			zap.Error(err),
		)
	}
}

func (r *Runner) dropIteration() {
	r.dropped.Inc()
	r.drops.Add(1)
	r.warnDrop.Do(func() {
		r.logger.Warn("insufficient VUs, dropping iterations",
			zap.String("scenario", r.scenario),
			zap.Int64("allocated_vus", r.allocated.Load()),
		)
	})
}

// window returns the scheduling context, closed after d (or never when d is
// zero), and the iteration context, cancelled gracefulStop after scheduling
// ends. Both end immediately when parent does.
func (r *Runner) window(parent context.Context, d time.Duration) (sched, iter context.Context, cancel func()) {
	var cancelSched context.CancelFunc
	if d > 0 {
		sched, cancelSched = context.WithTimeout(parent, d)
	} else {
		sched, cancelSched = context.WithCancel(parent)
	}
	iter, cancelIter := context.WithCancel(parent)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	stop := context.AfterFunc(sched, func() {
		mu.Lock()
		defer mu.Unlock()
		timer = time.AfterFunc(r.gracefulStop, cancelIter)
	})

	return sched, iter, func() {
		stop()
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		cancelSched()
		cancelIter()
	}
}
