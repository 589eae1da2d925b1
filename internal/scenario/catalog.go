package scenario

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/parkhub/sp-loadtesting/internal/metrics"
	"github.com/parkhub/sp-loadtesting/internal/runner"
)

// Scenario binds a flow to an executor and its pass/fail criteria.
type Scenario struct {
	Name        string
	Description string
	Flow        string
	Executor    runner.Executor
	// Thresholds maps a metric selector to its expressions.
	Thresholds map[string][]string
}

var ErrUnknownScenario = errors.New("unknown scenario")

func ramp(stages ...runner.Stage) runner.RampingVUs {
	return runner.RampingVUs{Stages: stages, GracefulRampDown: runner.DefaultGracefulStop}
}

func stage(d time.Duration, target int) runner.Stage {
	return runner.Stage{Duration: d, Target: target}
}

var catalog = []Scenario{
	{
		Name:        "payments-flow",
		Description: "Event pass purchase against a fixed hold, ramping to 10 VUs",
		Flow:        FlowPayments,
		Executor: ramp(
			stage(30*time.Second, 5),
			stage(time.Minute, 5),
			stage(30*time.Second, 10),
			stage(time.Minute, 10),
			stage(30*time.Second, 0),
		),
		Thresholds: map[string][]string{
			metrics.HTTPReqDuration: {"p(95)<2000"},
			PaymentSuccessRate:      {"rate>0.95"},
			metrics.HTTPReqFailed:   {"rate<0.05"},
		},
	},
	{
		Name:        "payment-stress",
		Description: "Payment flow stepped up to 50 VUs to find the breaking point",
		Flow:        FlowPayments,
		Executor: ramp(
			stage(time.Minute, 10),
			stage(2*time.Minute, 10),
			stage(time.Minute, 20),
			stage(2*time.Minute, 20),
			stage(time.Minute, 30),
			stage(2*time.Minute, 30),
			stage(time.Minute, 50),
			stage(3*time.Minute, 50),
			stage(time.Minute, 0),
		),
		Thresholds: map[string][]string{
			metrics.HTTPReqDuration: {"p(95)<5000"},
			metrics.HTTPReqFailed:   {"rate<0.15"},
		},
	},
	{
		Name:        "payment-spike",
		Description: "Payment flow under a sudden 10x arrival rate spike",
		Flow:        FlowPayments,
		Executor: runner.RampingArrivalRate{
			StartRate:       5,
			TimeUnit:        time.Second,
			PreAllocatedVUs: 50,
			MaxVUs:          200,
			Stages: []runner.Stage{
				stage(10*time.Second, 5),
				stage(10*time.Second, 50),
				stage(30*time.Second, 50),
				stage(10*time.Second, 5),
				stage(30*time.Second, 5),
			},
		},
		Thresholds: map[string][]string{
			metrics.HTTPReqDuration: {"p(95)<3000"},
			metrics.HTTPReqFailed:   {"rate<0.10"},
		},
	},
	{
		Name:        "payment-soak",
		Description: "Payment flow held at 10 VUs for 30 minutes",
		Flow:        FlowPayments,
		Executor: ramp(
			stage(2*time.Minute, 10),
			stage(30*time.Minute, 10),
			stage(2*time.Minute, 0),
		),
		Thresholds: map[string][]string{
			metrics.HTTPReqDuration:                {"p(95)<2000"},
			metrics.HTTPReqFailed:                  {"rate<0.05"},
			"http_req_duration{name:PurchasePass}": {"p(95)<2500"},
		},
	},
	{
		Name:        "complete-purchase-flow",
		Description: "Hold then purchase, ramping to 50 VUs",
		Flow:        FlowCompletePurchase,
		Executor: ramp(
			stage(30*time.Second, 50),
			stage(4*time.Minute, 50),
			stage(30*time.Second, 0),
		),
		Thresholds: map[string][]string{
			metrics.HTTPReqDuration: {"p(95)<3000"},
			PurchaseSuccessRate:     {"rate>0.90"},
			HoldCreationSuccessRate: {"rate>0.95"},
			metrics.HTTPReqFailed:   {"rate<0.10"},
		},
	},
	{
		Name:        "purchase-concurrent",
		Description: "100 hold-and-purchase iterations shared by 20 VUs on one listing",
		Flow:        FlowCompletePurchase,
		Executor: runner.SharedIterations{
			VUs:         20,
			Iterations:  100,
			MaxDuration: 5 * time.Minute,
		},
		Thresholds: map[string][]string{
			metrics.HTTPReqDuration: {"p(95)<4000"},
			PurchaseSuccessRate:     {"rate>0.85"},
			HoldCreationSuccessRate: {"rate>0.90"},
			metrics.HTTPReqFailed:   {"rate<0.15"},
		},
	},
	{
		Name:        "purchase-sustained",
		Description: "17 hold-and-purchase iterations per second for 5 minutes",
		Flow:        FlowCompletePurchase,
		Executor: runner.ConstantArrivalRate{
			Rate:            17,
			TimeUnit:        time.Second,
			Duration:        5 * time.Minute,
			PreAllocatedVUs: 50,
			MaxVUs:          400,
		},
		Thresholds: map[string][]string{
			metrics.HTTPReqDuration: {"p(95)<3000"},
			PurchaseSuccessRate:     {"rate>0.95"},
			HoldCreationSuccessRate: {"rate>0.95"},
			metrics.HTTPReqFailed:   {"rate<0.05"},
		},
	},
}

// Catalog returns every scenario sorted by name.
func Catalog() []Scenario {
	out := make([]Scenario, len(catalog))
	copy(out, catalog)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func Lookup(name string) (Scenario, error) {
	for _, s := range catalog {
		if s.Name == name {
			return s, nil
		}
	}
	return Scenario{}, errors.Wrapf(ErrUnknownScenario, "%q", name)
}

// WithConstantVUs replaces the executor, keeping flow and thresholds.
func (s Scenario) WithConstantVUs(vus int, d time.Duration) Scenario {
	s.Executor = runner.ConstantVUs{VUs: vus, Duration: d}
	return s
}

// WithIterations replaces the executor with a shared iteration budget.
func (s Scenario) WithIterations(vus, iterations int) Scenario {
	s.Executor = runner.SharedIterations{VUs: vus, Iterations: iterations}
	return s
}
