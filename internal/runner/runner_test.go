package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/parkhub/sp-loadtesting/internal/metrics"
)

type iterLog struct {
	mu  sync.Mutex
	its []Iteration
}

func (l *iterLog) add(it Iteration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.its = append(l.its, it)
}

func (l *iterLog) all() []Iteration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Iteration(nil), l.its...)
}

func metricValue(t *testing.T, reg *metrics.Registry, name, key string) float64 {
	t.Helper()
	for _, ms := range reg.Snapshot() {
		if ms.Name == name {
			return ms.Values[key]
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return 0
}

func metricCount(t *testing.T, reg *metrics.Registry, name string) int64 {
	t.Helper()
	for _, ms := range reg.Snapshot() {
		if ms.Name == name {
			return ms.Count
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return 0
}

func TestSharedIterationsRunsExactBudget(t *testing.T) {
	reg := metrics.NewRegistry()
	log := &iterLog{}
	r := New("purchase-concurrent", func(_ context.Context, it Iteration) error {
		log.add(it)
		time.Sleep(time.Millisecond)
		return nil
	}, reg)

	err := r.Run(context.Background(), SharedIterations{VUs: 4, Iterations: 25})
	require.NoError(t, err)

	its := log.all()
	assert.Len(t, its, 25)
	assert.Equal(t, 25.0, metricValue(t, reg, metrics.Iterations, "count"))

	perVU := map[int][]int{}
	for _, it := range its {
		assert.Equal(t, "purchase-concurrent", it.Scenario)
		assert.GreaterOrEqual(t, it.VU, 1)
		assert.LessOrEqual(t, it.VU, 4)
		perVU[it.VU] = append(perVU[it.VU], it.Iter)
	}
	for vuID, iters := range perVU {
		for i, iter := range iters {
			assert.Equal(t, i, iter, "vu %d iterations out of order", vuID)
		}
	}

	p := r.Progress()
	assert.False(t, p.Running)
	assert.Equal(t, int64(25), p.Iterations)
	assert.Equal(t, int64(4), p.AllocatedVUs)
	assert.Equal(t, int64(0), p.ActiveVUs)
}

func TestConstantVUsStopsAfterDuration(t *testing.T) {
	reg := metrics.NewRegistry()
	log := &iterLog{}
	r := New("smoke", func(ctx context.Context, it Iteration) error {
		log.add(it)
		time.Sleep(5 * time.Millisecond)
		return nil
	}, reg)

	start := time.Now()
	err := r.Run(context.Background(), ConstantVUs{VUs: 3, Duration: 100 * time.Millisecond})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	its := log.all()
	require.NotEmpty(t, its)
	for _, it := range its {
		assert.LessOrEqual(t, it.VU, 3)
	}
	assert.Equal(t, 3.0, metricValue(t, reg, metrics.VUsMax, "value"))
	assert.Equal(t, 0.0, metricValue(t, reg, metrics.VUs, "value"))
	assert.Equal(t, int64(len(its)), metricCount(t, reg, metrics.IterationDuration))
}

func TestGracefulStopCancelsHungIterations(t *testing.T) {
	reg := metrics.NewRegistry()
	cancelled := make(chan struct{}, 1)
	r := New("hung", func(ctx context.Context, _ Iteration) error {
		<-ctx.Done()
		cancelled <- struct{}{}
		return ctx.Err()
	}, reg, WithGracefulStop(50*time.Millisecond))

	start := time.Now()
	err := r.Run(context.Background(), ConstantVUs{VUs: 1, Duration: 50 * time.Millisecond})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, cancelled, 1)
	assert.Equal(t, int64(1), r.Progress().FailedIterations)
}

func TestIterationErrorsAreNotFatal(t *testing.T) {
	reg := metrics.NewRegistry()
	core, logs := observer.New(zap.DebugLevel)
	r := New("failing", func(context.Context, Iteration) error {
		return errors.New("hold not created")
	}, reg, WithLogger(zap.New(core)))

	err := r.Run(context.Background(), SharedIterations{VUs: 2, Iterations: 6})
	require.NoError(t, err)

	p := r.Progress()
	assert.Equal(t, int64(6), p.Iterations)
	assert.Equal(t, int64(6), p.FailedIterations)
	failed := logs.FilterMessage("iteration failed").All()
	require.Len(t, failed, 6)
	assert.Equal(t, "failing", failed[0].ContextMap()["scenario"])
}

func TestConstantArrivalRateDropsWhenVUsExhausted(t *testing.T) {
	reg := metrics.NewRegistry()
	core, logs := observer.New(zap.WarnLevel)
	release := make(chan struct{})
	r := New("purchase-sustained", func(ctx context.Context, _ Iteration) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, reg, WithLogger(zap.New(core)), WithGracefulStop(time.Second))

	exec := ConstantArrivalRate{
		Rate:            100,
		TimeUnit:        time.Second,
		Duration:        300 * time.Millisecond,
		PreAllocatedVUs: 1,
		MaxVUs:          2,
	}
	go func() {
		time.Sleep(400 * time.Millisecond)
		close(release)
	}()
	err := r.Run(context.Background(), exec)
	require.NoError(t, err)

	p := r.Progress()
	assert.Equal(t, int64(2), p.AllocatedVUs)
	assert.Equal(t, int64(2), p.Iterations)
	assert.Positive(t, p.DroppedIterations)
	assert.Equal(t, float64(p.DroppedIterations), metricValue(t, reg, metrics.DroppedIterations, "count"))
	assert.Equal(t, 1, logs.FilterMessage("insufficient VUs, dropping iterations").Len())
}

func TestConstantArrivalRatePacing(t *testing.T) {
	reg := metrics.NewRegistry()
	r := New("paced", func(context.Context, Iteration) error { return nil }, reg)

	err := r.Run(context.Background(), ConstantArrivalRate{
		Rate:            20,
		TimeUnit:        time.Second,
		Duration:        500 * time.Millisecond,
		PreAllocatedVUs: 2,
		MaxVUs:          5,
	})
	require.NoError(t, err)

	p := r.Progress()
	assert.InDelta(t, 10, p.Iterations, 3)
	assert.Zero(t, p.DroppedIterations)
}

func TestRampingArrivalRateIdlesAtZero(t *testing.T) {
	reg := metrics.NewRegistry()
	r := New("spike", func(context.Context, Iteration) error { return nil }, reg)

	err := r.Run(context.Background(), RampingArrivalRate{
		StartRate:       0,
		TimeUnit:        time.Second,
		PreAllocatedVUs: 1,
		MaxVUs:          1,
		Stages:          []Stage{{Duration: 200 * time.Millisecond, Target: 0}},
	})
	require.NoError(t, err)
	assert.Zero(t, r.Progress().Iterations)
}

func TestRampingArrivalRateFollowsStages(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
		want   float64
	}{
		{
			name:   "rise from zero then hold",
			stages: []Stage{{Duration: time.Second, Target: 20}, {Duration: time.Second, Target: 20}},
			want:   30,
		},
		{
			name: "spike and recover",
			stages: []Stage{
				{Duration: 500 * time.Millisecond, Target: 20},
				{Duration: 500 * time.Millisecond, Target: 20},
				{Duration: 500 * time.Millisecond, Target: 0},
			},
			want: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := metrics.NewRegistry()
			r := New("spike", func(context.Context, Iteration) error { return nil }, reg)

			exec := RampingArrivalRate{
				StartRate:       0,
				TimeUnit:        time.Second,
				PreAllocatedVUs: 5,
				MaxVUs:          5,
				Stages:          tt.stages,
			}
			start := time.Now()
			require.NoError(t, r.Run(context.Background(), exec))

			assert.GreaterOrEqual(t, time.Since(start), exec.Window()-50*time.Millisecond)
			p := r.Progress()
			assert.InDelta(t, tt.want, float64(p.Iterations), tt.want*0.25)
			assert.Zero(t, p.DroppedIterations)
		})
	}
}

func TestRampingVUsFollowsStages(t *testing.T) {
	reg := metrics.NewRegistry()
	log := &iterLog{}
	r := New("ramp", func(_ context.Context, it Iteration) error {
		log.add(it)
		time.Sleep(10 * time.Millisecond)
		return nil
	}, reg, WithGracefulStop(100*time.Millisecond))

	err := r.Run(context.Background(), RampingVUs{
		StartVUs: 1,
		Stages: []Stage{
			{Duration: 200 * time.Millisecond, Target: 1},
			{Duration: 0, Target: 3},
			{Duration: 200 * time.Millisecond, Target: 3},
		},
		GracefulRampDown: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, it := range log.all() {
		seen[it.VU] = true
	}
	assert.True(t, seen[1])
	assert.Len(t, seen, 3)
	assert.Equal(t, 3.0, metricValue(t, reg, metrics.VUsMax, "value"))
}

func TestParentCancellationStopsRun(t *testing.T) {
	reg := metrics.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r := New("cancelled", func(ctx context.Context, _ Iteration) error {
		<-ctx.Done()
		return ctx.Err()
	}, reg)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Run(ctx, ConstantVUs{VUs: 2, Duration: time.Hour})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStageInterpolation(t *testing.T) {
	e := RampingVUs{
		StartVUs: 0,
		Stages: []Stage{
			{Duration: 30 * time.Second, Target: 50},
			{Duration: 4 * time.Minute, Target: 50},
			{Duration: 30 * time.Second, Target: 0},
		},
	}

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{15 * time.Second, 25},
		{30 * time.Second, 50},
		{2 * time.Minute, 50},
		{4*time.Minute + 45*time.Second, 25},
		{5 * time.Minute, 0},
		{time.Hour, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Target(tt.elapsed), "at %s", tt.elapsed)
	}
	assert.Equal(t, 50, e.VUsMax())
	assert.Equal(t, 5*time.Minute, e.Window())

	spike := RampingArrivalRate{
		StartRate: 10,
		TimeUnit:  2 * time.Second,
		Stages:    []Stage{{Duration: 10 * time.Second, Target: 50}},
	}
	assert.InDelta(t, 5.0, spike.RateAt(0), 1e-9)
	assert.InDelta(t, 15.0, spike.RateAt(5*time.Second), 1e-9)
	assert.InDelta(t, 25.0, spike.RateAt(time.Minute), 1e-9)
}

func TestExecutorValidation(t *testing.T) {
	tests := []struct {
		name string
		exec Executor
		ok   bool
	}{
		{"constant vus", ConstantVUs{VUs: 1, Duration: time.Second}, true},
		{"constant vus without vus", ConstantVUs{Duration: time.Second}, false},
		{"constant vus without duration", ConstantVUs{VUs: 1}, false},
		{"ramping vus", RampingVUs{Stages: []Stage{{Duration: time.Second, Target: 5}}}, true},
		{"ramping vus without stages", RampingVUs{StartVUs: 1}, false},
		{"ramping vus never positive", RampingVUs{Stages: []Stage{{Duration: time.Second}}}, false},
		{"shared iterations", SharedIterations{VUs: 20, Iterations: 100}, true},
		{"shared iterations fewer than vus", SharedIterations{VUs: 20, Iterations: 10}, false},
		{"arrival rate", ConstantArrivalRate{Rate: 17, Duration: time.Minute, PreAllocatedVUs: 50, MaxVUs: 400}, true},
		{"arrival rate without rate", ConstantArrivalRate{Duration: time.Minute, PreAllocatedVUs: 1}, false},
		{"arrival rate max below preallocated", ConstantArrivalRate{Rate: 1, Duration: time.Minute, PreAllocatedVUs: 10, MaxVUs: 5}, false},
		{"ramping arrival rate", RampingArrivalRate{PreAllocatedVUs: 50, MaxVUs: 200, Stages: []Stage{{Duration: time.Second, Target: 5}}}, true},
		{"ramping vus without duration", RampingVUs{Stages: []Stage{{Duration: 0, Target: 5}}}, false},
		{"ramping arrival rate without duration", RampingArrivalRate{PreAllocatedVUs: 1, Stages: []Stage{{Target: 5}, {Target: 10}}}, false},
		{"ramping arrival rate without vus", RampingArrivalRate{Stages: []Stage{{Duration: time.Second, Target: 5}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.exec.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRunRejectsInvalidExecutor(t *testing.T) {
	reg := metrics.NewRegistry()
	called := false
	r := New("invalid", func(context.Context, Iteration) error {
		called = true
		return nil
	}, reg)

	err := r.Run(context.Background(), SharedIterations{})
	assert.Error(t, err)
	assert.False(t, called)
	assert.Zero(t, r.Elapsed())
}
