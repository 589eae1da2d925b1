package scenario

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/parkhub/sp-loadtesting/internal/metrics"
	"github.com/parkhub/sp-loadtesting/internal/runner"
	"github.com/parkhub/sp-loadtesting/internal/smartpass"
)

const (
	PaymentSuccessRate = "payment_success_rate"
	PaymentDuration    = "payment_duration"
)

// paymentAmount is $15.00 in cents.
const paymentAmount = 1500

var ErrPaymentFailed = errors.New("payment failed")

// PaymentsFlow purchases an event pass against a fixed, pre-existing hold
// and completes a pending challenge when the API asks for one.
type PaymentsFlow struct {
	env       Env
	customers Customers
	success   *metrics.Rate
	duration  *metrics.Trend
}

func NewPaymentsFlow(env Env) *PaymentsFlow {
	return &PaymentsFlow{
		env:       env,
		customers: NewCustomers(env.TestData.Customers, "Test User", "test"),
		success:   env.Metrics.Rate(PaymentSuccessRate),
		duration:  env.Metrics.Trend(PaymentDuration),
	}
}

func (d *PaymentsFlow) Setup(context.Context) error {
	d.env.logger().Info("running payment flow load test", zap.String("base_url", d.env.BaseURL))
	return nil
}

func (d *PaymentsFlow) Teardown(context.Context) {
	d.env.logger().Info("payment flow load test completed")
}

func (d *PaymentsFlow) payload(it runner.Iteration) smartpass.PassPurchaseRequest {
	td := d.env.TestData
	cust := d.customers.For(it)
	return smartpass.PassPurchaseRequest{
		Amount:                paymentAmount,
		ListingID:             td.ListingID,
		HoldID:                td.HoldID,
		PaymentToken:          td.PaymentToken,
		Name:                  cust.Name,
		Email:                 cust.Email,
		LicensePlateNumber:    cust.LicensePlate,
		LicensePlateState:     td.LicensePlateState,
		Token:                 td.RecaptchaToken,
		ClientOrganizationKey: td.ClientOrgKey,
	}
}

func (d *PaymentsFlow) Iterate(ctx context.Context, it runner.Iteration) error {
	log := d.env.logger().With(iterFields(it)...)
	defer d.env.think(ctx, time.Second)

	start := time.Now()
	res, err := d.env.Client.PaymentFlow(ctx, d.payload(it))
	if res.Purchase == nil {
		d.duration.AddDuration(time.Since(start))
		d.success.Add(false)
		log.Warn("payment request failed", zap.Error(err))
		return errors.Wrap(err, "purchase pass")
	}

	d.duration.AddDuration(res.Purchase.Duration)
	status := res.Purchase.Status
	ok := status == http.StatusOK || status == http.StatusAccepted
	d.success.Add(ok)
	if !ok {
		log.Warn("payment failed", zap.Int("status", status), zap.ByteString("body", res.Purchase.Body))
		return errors.Wrapf(ErrPaymentFailed, "status %d", status)
	}

	if res.Outcome != smartpass.OutcomeCompleted {
		return nil
	}
	if err != nil {
		d.success.Add(false)
		log.Warn("payment completion request failed", zap.Error(err))
		return errors.Wrap(err, "complete purchase")
	}
	if res.Response.Status != http.StatusOK {
		d.success.Add(false)
		log.Warn("payment completion failed", zap.Int("status", res.Response.Status))
		return errors.Wrapf(ErrPaymentFailed, "completion status %d", res.Response.Status)
	}
	log.Debug("payment challenge completed")
	return nil
}
