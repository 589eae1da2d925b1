package smartpass

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// StatusRequiresAction marks a purchase waiting on an out-of-band payment
// challenge such as 3DS.
const StatusRequiresAction = "requires_action"

var ErrNoHold = errors.New("purchase requires a parsed hold")

// Endpoints is the purchase/complete pair of one product line.
type Endpoints struct {
	PurchaseName string
	PurchasePath string
	// PurchaseLabel and CompleteLabel prefix the check names.
	PurchaseLabel string
	CompleteName  string
	CompletePath  string
	CompleteLabel string
	// CompleteField is what a settled completion response must carry.
	CompleteField string
}

var EventPassEndpoints = Endpoints{
	PurchaseName:  "PurchasePass",
	PurchasePath:  "/api/pass/purchase",
	PurchaseLabel: "purchase",
	CompleteName:  "CompletePurchase",
	CompletePath:  "/api/pass/purchase-complete",
	CompleteLabel: "complete purchase",
	CompleteField: "pass",
}

var SeasonPassEndpoints = Endpoints{
	PurchaseName:  "PurchaseSeasonPass",
	PurchasePath:  "/api/listings/seasonpass/purchase",
	PurchaseLabel: "purchase season pass",
	CompleteName:  "CompleteSeasonPassPurchase",
	CompletePath:  "/api/listings/seasonpass/purchase-complete",
	CompleteLabel: "complete season pass purchase",
	CompleteField: "package",
}

func (c *Client) submit(ctx context.Context, e Endpoints, payload any) (*Response, error) {
	resp, err := c.post(ctx, e.PurchaseName, e.PurchasePath, payload)
	if err != nil {
		return nil, err
	}
	c.check(resp,
		statusIs(e.PurchaseLabel+" status is 200 or 202", http.StatusOK, http.StatusAccepted),
		hasBody(e.PurchaseLabel+" has response"),
	)
	return resp, nil
}

func (c *Client) complete(ctx context.Context, e Endpoints, payload CompletePurchaseRequest) (*Response, error) {
	resp, err := c.post(ctx, e.CompleteName, e.CompletePath, payload)
	if err != nil {
		return nil, err
	}
	c.check(resp,
		statusIs(e.CompleteLabel+" status is 200", http.StatusOK),
		hasField(e.CompleteLabel+" has "+e.CompleteField, "id"),
	)
	return resp, nil
}

// Outcome classifies how a purchase flow ended.
type Outcome int

const (
	// OutcomeRejected: the purchase call itself returned neither 200 nor 202.
	OutcomeRejected Outcome = iota
	// OutcomeSettled: the purchase response is terminal.
	OutcomeSettled
	// OutcomeCompleted: a pending challenge was completed; the completion
	// response is terminal.
	OutcomeCompleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeSettled:
		return "settled"
	case OutcomeCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Result is the terminal state of one purchase flow.
type Result struct {
	// Response is the terminal response of the flow.
	Response *Response
	// Purchase is the initial purchase response.
	Purchase *Response
	Outcome  Outcome
}

// Succeeded reports whether the terminal response is a 200.
func (r Result) Succeeded() bool {
	return r.Response != nil && r.Response.Status == http.StatusOK
}

type purchaseStatus struct {
	Status        string          `json:"status"`
	PaymentIntent json.RawMessage `json:"paymentIntent"`
}

// hasPaymentIntent reports whether the intent is set to a truthy value.
func (ps purchaseStatus) hasPaymentIntent() bool {
	switch string(bytes.TrimSpace(ps.PaymentIntent)) {
	case "", "null", `""`, "false", "0":
		return false
	}
	return true
}

func decodePurchaseStatus(body []byte) (purchaseStatus, error) {
	var ps purchaseStatus
	if err := json.Unmarshal(body, &ps); err != nil {
		return purchaseStatus{}, errors.Wrap(err, "failed to decode purchase response")
	}
	return ps, nil
}

// submitThenComplete submits a purchase and, when the API answers with a
// pending challenge, completes it with the returned payment intent. Calls are
// strictly sequential; a non-200/202 purchase ends the flow.
func (c *Client) submitThenComplete(ctx context.Context, e Endpoints, payload any) (Result, error) {
	purchase, err := c.submit(ctx, e, payload)
	if err != nil {
		return Result{}, err
	}

	res := Result{Response: purchase, Purchase: purchase, Outcome: OutcomeRejected}
	if purchase.Status != http.StatusOK && purchase.Status != http.StatusAccepted {
		return res, nil
	}
	res.Outcome = OutcomeSettled

	ps, err := decodePurchaseStatus(purchase.Body)
	if err != nil {
		c.logger.Warn("purchase body not decodable, treating as settled",
			zap.String("name", e.PurchaseName),
			zap.Int("status", purchase.Status),
			zap.Error(err),
		)
		return res, nil
	}
	if ps.Status != StatusRequiresAction {
		return res, nil
	}
	if !ps.hasPaymentIntent() {
		c.logger.Warn("purchase requires action without a payment intent",
			zap.String("name", e.PurchaseName),
			zap.Int("status", purchase.Status),
		)
		return res, nil
	}

	completed, err := c.complete(ctx, e, CompletePurchaseRequest{PaymentID: ps.PaymentIntent})
	res.Outcome = OutcomeCompleted
	if err != nil {
		return res, err
	}
	res.Response = completed
	return res, nil
}

// PurchaseData is the caller-supplied part of a purchase.
type PurchaseData struct {
	ListingID             string
	PricingID             string
	PaymentToken          string
	Name                  string
	Email                 string
	LicensePlateNumber    string
	LicensePlateState     string
	RecaptchaToken        string
	ClientOrganizationKey string
	ExternalReferenceCode string
	Marketplace           string
	AccessCode            string
}

func EventPassPurchase(hold Hold, data PurchaseData) PassPurchaseRequest {
	return PassPurchaseRequest{
		Amount:                hold.Amount,
		ListingID:             data.ListingID,
		HoldID:                hold.HoldID,
		PaymentToken:          data.PaymentToken,
		Name:                  data.Name,
		Email:                 data.Email,
		LicensePlateNumber:    data.LicensePlateNumber,
		LicensePlateState:     data.LicensePlateState,
		Token:                 data.RecaptchaToken,
		ClientOrganizationKey: data.ClientOrganizationKey,
		ExternalReferenceCode: data.ExternalReferenceCode,
		Marketplace:           data.Marketplace,
	}
}

func SeasonPassPurchase(hold Hold, data PurchaseData) SeasonPassPurchaseRequest {
	return SeasonPassPurchaseRequest{
		ListingID:          data.ListingID,
		PricingID:          data.PricingID,
		CartIdentifier:     hold.CartID,
		Amount:             hold.Amount,
		PaymentToken:       data.PaymentToken,
		Name:               data.Name,
		Email:              data.Email,
		LicensePlateNumber: data.LicensePlateNumber,
		LicensePlateState:  data.LicensePlateState,
		Token:              data.RecaptchaToken,
		AccessCode:         data.AccessCode,
	}
}

// PaymentFlow purchases an event pass from a prepared payload.
func (c *Client) PaymentFlow(ctx context.Context, payload PassPurchaseRequest) (Result, error) {
	return c.submitThenComplete(ctx, EventPassEndpoints, payload)
}

// EventPassFlow purchases an event pass against a previously created hold.
func (c *Client) EventPassFlow(ctx context.Context, hold Hold, data PurchaseData) (Result, error) {
	if hold.HoldID == "" {
		return Result{}, ErrNoHold
	}
	return c.submitThenComplete(ctx, EventPassEndpoints, EventPassPurchase(hold, data))
}

// SeasonPassFlow purchases a season pass against a previously created hold.
func (c *Client) SeasonPassFlow(ctx context.Context, hold Hold, data PurchaseData) (Result, error) {
	if hold.HoldID == "" {
		return Result{}, ErrNoHold
	}
	if hold.CartID == "" {
		hold.CartID = hold.HoldID
	}
	return c.submitThenComplete(ctx, SeasonPassEndpoints, SeasonPassPurchase(hold, data))
}

// PurchaseFlow dispatches to the flow of the hold's product line.
func (c *Client) PurchaseFlow(ctx context.Context, pt ProductType, hold Hold, data PurchaseData) (Result, error) {
	switch pt {
	case ProductEventPass:
		return c.EventPassFlow(ctx, hold, data)
	case ProductSeasonPass:
		return c.SeasonPassFlow(ctx, hold, data)
	default:
		return Result{}, errors.Newf("unknown product type %d", int(pt))
	}
}
