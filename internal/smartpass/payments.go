package smartpass

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// PassPurchaseRequest is the event pass purchase payload. Optional fields are
// always sent, blank when unset.
type PassPurchaseRequest struct {
	Amount                int64  `json:"amount"`
	ListingID             string `json:"listingId"`
	HoldID                string `json:"holdId"`
	PaymentToken          string `json:"paymentToken"`
	Name                  string `json:"name"`
	Email                 string `json:"email"`
	LicensePlateNumber    string `json:"licensePlateNumber"`
	LicensePlateState     string `json:"licensePlateState"`
	Token                 string `json:"token"`
	ClientOrganizationKey string `json:"clientOrganizationKey"`
	ExternalReferenceCode string `json:"externalReferenceCode"`
	Marketplace           string `json:"marketplace"`
}

// CompletePurchaseRequest finishes a purchase after a payment challenge.
// PaymentID is forwarded as the API returned it, string id or intent object.
type CompletePurchaseRequest struct {
	PaymentID json.RawMessage `json:"paymentId,omitempty"`
	JWT       string `json:"jwt,omitempty"`
}

type paymentAccountRequest struct {
	ClientOrganizationKey string `json:"clientOrganizationKey"`
}

// TestPaymentToken is the Stripe test token for a successful card payment.
func TestPaymentToken() string {
	return "tok_visa"
}

// GeneratePurchaseToken requests a token for the Deluxe payment flow.
func (c *Client) GeneratePurchaseToken(ctx context.Context, payload any) (*Response, error) {
	resp, err := c.post(ctx, "GeneratePurchaseToken", "/api/pass/generate-purchase-token", payload)
	if err != nil {
		return nil, err
	}
	c.check(resp,
		statusIs("generate token status is 200", http.StatusOK),
		hasField("generate token has token", "token"),
	)
	return resp, nil
}

func (c *Client) PurchasePass(ctx context.Context, payload PassPurchaseRequest) (*Response, error) {
	return c.submit(ctx, EventPassEndpoints, payload)
}

func (c *Client) CompletePurchase(ctx context.Context, payload CompletePurchaseRequest) (*Response, error) {
	return c.complete(ctx, EventPassEndpoints, payload)
}

func (c *Client) GetPaymentAccount(ctx context.Context, clientOrgKey string) (*Response, error) {
	resp, err := c.post(ctx, "GetPaymentAccount", "/api/merchant", paymentAccountRequest{ClientOrganizationKey: clientOrgKey})
	if err != nil {
		return nil, err
	}
	c.check(resp,
		statusIs("get payment account status is 200", http.StatusOK),
		hasField("payment account has id", "id"),
	)
	return resp, nil
}

// GetPaymentSplits fetches the provider split for a lot at a landmark. A zero
// baseAmount is left out of the query.
func (c *Client) GetPaymentSplits(ctx context.Context, lotID, landmarkID string, baseAmount int64) (*Response, error) {
	path := "/api/lot/" + url.PathEscape(lotID) + "/landmark/" + url.PathEscape(landmarkID) + "/payment-splits"
	if baseAmount != 0 {
		path += "?baseAmount=" + strconv.FormatInt(baseAmount, 10)
	}

	resp, err := c.get(ctx, "GetPaymentSplits", path)
	if err != nil {
		return nil, err
	}
	c.check(resp,
		statusIs("get payment splits status is 200", http.StatusOK),
		hasField("payment splits has providers", "providers"),
	)
	return resp, nil
}
