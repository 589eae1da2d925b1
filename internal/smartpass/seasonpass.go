package smartpass

import "context"

// SeasonPassPurchaseRequest is the season pass purchase payload. The cart
// identifier is the hold id.
type SeasonPassPurchaseRequest struct {
	ListingID          string `json:"listingId"`
	PricingID          string `json:"pricingId"`
	CartIdentifier     string `json:"cartIdentifier"`
	Amount             int64  `json:"amount"`
	PaymentToken       string `json:"paymentToken"`
	Name               string `json:"name"`
	Email              string `json:"email"`
	LicensePlateNumber string `json:"licensePlateNumber"`
	LicensePlateState  string `json:"licensePlateState"`
	Token              string `json:"token"`
	AccessCode         string `json:"accessCode"`
}

func (c *Client) PurchaseSeasonPass(ctx context.Context, payload SeasonPassPurchaseRequest) (*Response, error) {
	return c.submit(ctx, SeasonPassEndpoints, payload)
}

func (c *Client) CompleteSeasonPassPurchase(ctx context.Context, payload CompletePurchaseRequest) (*Response, error) {
	return c.complete(ctx, SeasonPassEndpoints, payload)
}
