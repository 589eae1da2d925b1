package runner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// rampTick is how often ramping executors re-evaluate their target.
const rampTick = 100 * time.Millisecond

// Stage moves a target linearly to Target over Duration.
type Stage struct {
	Duration time.Duration
	Target   int
}

func stagesDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, s := range stages {
		total += s.Duration
	}
	return total
}

// stageValue interpolates the target at elapsed. Past the last stage it holds
// the last target.
func stageValue(start float64, stages []Stage, elapsed time.Duration) float64 {
	from := start
	for _, s := range stages {
		to := float64(s.Target)
		if elapsed < s.Duration {
			return from + (to-from)*float64(elapsed)/float64(s.Duration)
		}
		elapsed -= s.Duration
		from = to
	}
	return from
}

func validateStages(stages []Stage) error {
	if len(stages) == 0 {
		return errors.New("at least one stage is required")
	}
	for i, s := range stages {
		if s.Duration < 0 {
			return errors.Newf("stage %d has a negative duration", i)
		}
		if s.Target < 0 {
			return errors.Newf("stage %d has a negative target", i)
		}
	}
	if stagesDuration(stages) == 0 {
		return errors.New("stages must have a positive total duration")
	}
	return nil
}

// ConstantVUs loops a fixed number of VUs for a duration.
type ConstantVUs struct {
	VUs      int
	Duration time.Duration
}

func (e ConstantVUs) Validate() error {
	if e.VUs <= 0 {
		return errors.New("vus must be positive")
	}
	if e.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	return nil
}

func (e ConstantVUs) VUsMax() int           { return e.VUs }
func (e ConstantVUs) Window() time.Duration { return e.Duration }

func (e ConstantVUs) String() string {
	return fmt.Sprintf("constant-vus(%d VUs, %s)", e.VUs, e.Duration)
}

func (e ConstantVUs) run(ctx context.Context, r *Runner) error {
	sched, iter, cancel := r.window(ctx, e.Duration)
	defer cancel()

	var g errgroup.Group
	for i := 0; i < e.VUs; i++ {
		v := r.newVU()
		g.Go(func() error {
			for sched.Err() == nil {
				r.runIteration(iter, v)
			}
			return nil
		})
	}
	return g.Wait()
}

// RampingVUs moves the number of looping VUs through stages. VUs dropped by a
// ramp-down finish their current iteration within GracefulRampDown.
type RampingVUs struct {
	StartVUs         int
	Stages           []Stage
	GracefulRampDown time.Duration
}

func (e RampingVUs) Validate() error {
	if e.StartVUs < 0 {
		return errors.New("startVUs must not be negative")
	}
	if err := validateStages(e.Stages); err != nil {
		return err
	}
	if e.VUsMax() == 0 {
		return errors.New("stages never reach a positive number of VUs")
	}
	return nil
}

func (e RampingVUs) VUsMax() int {
	most := e.StartVUs
	for _, s := range e.Stages {
		most = max(most, s.Target)
	}
	return most
}

func (e RampingVUs) Window() time.Duration { return stagesDuration(e.Stages) }

func (e RampingVUs) String() string {
	return fmt.Sprintf("ramping-vus(%d stages, up to %d VUs, %s)", len(e.Stages), e.VUsMax(), e.Window())
}

// Target is the number of active VUs at elapsed.
func (e RampingVUs) Target(elapsed time.Duration) int {
	return int(math.Round(stageValue(float64(e.StartVUs), e.Stages, elapsed)))
}

// vuSlot lets the ramp controller interrupt the iteration of a VU that has
// stayed ramped down past the grace period.
type vuSlot struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	timer  *time.Timer
}

func (s *vuSlot) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (e RampingVUs) run(ctx context.Context, r *Runner) error {
	sched, iter, cancel := r.window(ctx, e.Window())
	defer cancel()

	start := time.Now()
	var target atomic.Int64
	target.Store(int64(e.Target(0)))

	slots := make([]*vuSlot, e.VUsMax())
	for i := range slots {
		slots[i] = &vuSlot{}
	}

	var g errgroup.Group
	g.Go(func() error {
		ticker := time.NewTicker(rampTick)
		defer ticker.Stop()
		for {
			select {
			case <-sched.Done():
				return nil
			case <-ticker.C:
			}
			prev := int(target.Load())
			next := e.Target(time.Since(start))
			for i := next; i < prev; i++ {
				s := slots[i]
				s.mu.Lock()
				s.timer = time.AfterFunc(e.GracefulRampDown, s.interrupt)
				s.mu.Unlock()
			}
			for i := prev; i < next; i++ {
				s := slots[i]
				s.mu.Lock()
				if s.timer != nil {
					s.timer.Stop()
					s.timer = nil
				}
				s.mu.Unlock()
			}
			target.Store(int64(next))
		}
	})

	for i, s := range slots {
		i, s := i, s
		v := r.newVU()
		g.Go(func() error {
			defer func() {
				s.mu.Lock()
				if s.timer != nil {
					s.timer.Stop()
				}
				s.mu.Unlock()
			}()
			for sched.Err() == nil {
				if i >= int(target.Load()) {
					select {
					case <-sched.Done():
					case <-time.After(rampTick):
					}
					continue
				}

				itCtx, itCancel := context.WithCancel(iter)
				s.mu.Lock()
				s.cancel = itCancel
				s.mu.Unlock()

				r.runIteration(itCtx, v)

				s.mu.Lock()
				s.cancel = nil
				s.mu.Unlock()
				itCancel()
			}
			return nil
		})
	}
	return g.Wait()
}

// SharedIterations splits a fixed iteration budget across VUs. Each VU takes
// the next iteration as soon as it is free.
type SharedIterations struct {
	VUs         int
	Iterations  int
	MaxDuration time.Duration
}

const defaultMaxDuration = 10 * time.Minute

func (e SharedIterations) Validate() error {
	if e.VUs <= 0 {
		return errors.New("vus must be positive")
	}
	if e.Iterations < e.VUs {
		return errors.Newf("iterations (%d) must be at least vus (%d)", e.Iterations, e.VUs)
	}
	if e.MaxDuration < 0 {
		return errors.New("maxDuration must not be negative")
	}
	return nil
}

func (e SharedIterations) VUsMax() int { return e.VUs }

func (e SharedIterations) Window() time.Duration {
	if e.MaxDuration == 0 {
		return defaultMaxDuration
	}
	return e.MaxDuration
}

func (e SharedIterations) String() string {
	return fmt.Sprintf("shared-iterations(%d iterations, %d VUs, max %s)", e.Iterations, e.VUs, e.Window())
}

func (e SharedIterations) run(ctx context.Context, r *Runner) error {
	sched, iter, cancel := r.window(ctx, e.Window())
	defer cancel()

	var next atomic.Int64
	budget := int64(e.Iterations)

	var g errgroup.Group
	for i := 0; i < e.VUs; i++ {
		v := r.newVU()
		g.Go(func() error {
			for sched.Err() == nil && next.Add(1) <= budget {
				r.runIteration(iter, v)
			}
			return nil
		})
	}
	return g.Wait()
}
