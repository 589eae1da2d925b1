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
	PurchaseSuccessRate     = "purchase_success_rate"
	HoldCreationSuccessRate = "hold_creation_success_rate"
	PurchaseDuration        = "purchase_duration"
	HoldCreationDuration    = "hold_creation_duration"
	TotalPurchases          = "total_purchases"
	FailedHolds             = "failed_holds"
)

var (
	ErrHoldFailed     = errors.New("hold creation failed")
	ErrPurchaseFailed = errors.New("purchase failed")
)

// CompletePurchase creates a hold for the configured product line and buys
// it, completing a pending payment challenge when required.
type CompletePurchase struct {
	env         Env
	productType smartpass.ProductType
	customers   Customers

	purchaseSuccess *metrics.Rate
	holdSuccess     *metrics.Rate
	purchaseTime    *metrics.Trend
	holdTime        *metrics.Trend
	purchases       *metrics.Counter
	failedHolds     *metrics.Counter
}

func NewCompletePurchase(env Env) *CompletePurchase {
	reg := env.Metrics
	return &CompletePurchase{
		env:             env,
		productType:     smartpass.ProductType(env.TestData.ProductType),
		customers:       NewCustomers(env.TestData.Customers, "Load Test User", "loadtest"),
		purchaseSuccess: reg.Rate(PurchaseSuccessRate),
		holdSuccess:     reg.Rate(HoldCreationSuccessRate),
		purchaseTime:    reg.Trend(PurchaseDuration),
		holdTime:        reg.Trend(HoldCreationDuration),
		purchases:       reg.Counter(TotalPurchases),
		failedHolds:     reg.Counter(FailedHolds),
	}
}

func (d *CompletePurchase) Setup(context.Context) error {
	td := d.env.TestData
	d.env.logger().Info("running complete purchase flow load test",
		zap.String("base_url", d.env.BaseURL),
		zap.Stringer("product_type", d.productType),
		zap.String("listing_id", td.ListingID),
		zap.String("pricing_id", td.PricingID),
	)
	return nil
}

func (d *CompletePurchase) Teardown(context.Context) {
	d.env.logger().Info("complete purchase flow load test finished")
}

func (d *CompletePurchase) holdPayload() smartpass.HoldRequest {
	td := d.env.TestData
	if d.productType == smartpass.ProductSeasonPass {
		return smartpass.SeasonPassHoldPayload(td.ListingID, td.PricingID)
	}
	return smartpass.EventPassHoldPayload(td.ListingID, td.PricingID)
}

func (d *CompletePurchase) purchaseData(it runner.Iteration) smartpass.PurchaseData {
	td := d.env.TestData
	cust := d.customers.For(it)
	return smartpass.PurchaseData{
		ListingID:             td.ListingID,
		PricingID:             td.PricingID,
		PaymentToken:          td.PaymentToken,
		Name:                  cust.Name,
		Email:                 cust.Email,
		LicensePlateNumber:    cust.LicensePlate,
		LicensePlateState:     td.LicensePlateState,
		RecaptchaToken:        td.RecaptchaToken,
		ClientOrganizationKey: td.ClientOrgKey,
		AccessCode:            td.AccessCode,
	}
}

func (d *CompletePurchase) Iterate(ctx context.Context, it runner.Iteration) error {
	log := d.env.logger().With(iterFields(it)...)

	hold, err := d.createHold(ctx, log)
	if err != nil {
		d.failedHolds.Inc()
		d.env.think(ctx, time.Second)
		return err
	}
	log.Debug("hold created",
		zap.String("hold_id", hold.HoldID),
		zap.Int64("amount", hold.Amount),
		zap.String("expiry", hold.Expiry),
	)

	start := time.Now()
	res, err := d.env.Client.PurchaseFlow(ctx, d.productType, hold, d.purchaseData(it))
	elapsed := time.Since(start)
	d.purchaseTime.AddDuration(elapsed)
	defer d.env.think(ctx, 2*time.Second)

	if err != nil {
		d.purchaseSuccess.Add(false)
		log.Warn("purchase request failed", zap.String("hold_id", hold.HoldID), zap.Error(err))
		return errors.Wrap(err, "purchase")
	}

	ok := res.Succeeded()
	d.purchaseSuccess.Add(ok)
	if !ok {
		log.Warn("purchase failed",
			zap.String("hold_id", hold.HoldID),
			zap.Int("status", res.Response.Status),
			zap.Stringer("outcome", res.Outcome),
			zap.ByteString("body", res.Response.Body),
		)
		return errors.Wrapf(ErrPurchaseFailed, "status %d", res.Response.Status)
	}

	d.purchases.Inc()
	log.Debug("purchase completed", zap.Duration("duration", elapsed), zap.Stringer("outcome", res.Outcome))
	return nil
}

// createHold records the hold metrics. A hold counts as created on a 200; a
// 200 whose body cannot be parsed still fails the iteration.
func (d *CompletePurchase) createHold(ctx context.Context, log *zap.Logger) (smartpass.Hold, error) {
	start := time.Now()
	resp, err := d.env.Client.CreateHold(ctx, d.holdPayload())
	d.holdTime.AddDuration(time.Since(start))
	if err != nil {
		d.holdSuccess.Add(false)
		log.Warn("hold creation request failed", zap.Error(err))
		return smartpass.Hold{}, errors.Wrap(err, "create hold")
	}

	ok := resp.Status == http.StatusOK
	d.holdSuccess.Add(ok)
	if !ok {
		log.Warn("hold creation failed", zap.Int("status", resp.Status), zap.ByteString("body", resp.Body))
		return smartpass.Hold{}, errors.Wrapf(ErrHoldFailed, "status %d", resp.Status)
	}

	hold, err := smartpass.ParseHold(resp)
	if err != nil {
		log.Warn("failed to parse hold response", zap.Error(err))
		return smartpass.Hold{}, errors.Wrap(err, "parse hold")
	}
	return hold, nil
}
