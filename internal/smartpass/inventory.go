package smartpass

import (
	"context"
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

type ProductType int

const (
	ProductEventPass  ProductType = 0
	ProductSeasonPass ProductType = 1
)

func (p ProductType) String() string {
	switch p {
	case ProductEventPass:
		return "EventPass"
	case ProductSeasonPass:
		return "SeasonPass"
	default:
		return "Unknown"
	}
}

var (
	ErrHoldNotCreated = errors.New("hold not created")
	ErrMalformedHold  = errors.New("malformed hold response")
)

// HoldRequest creates an inventory hold (cart) for a listing.
type HoldRequest struct {
	ProductType ProductType `json:"productType"`
	ListingID   string      `json:"listingId"`
	PricingID   string      `json:"pricingId"`
}

func HoldPayload(pt ProductType, listingID, pricingID string) HoldRequest {
	return HoldRequest{ProductType: pt, ListingID: listingID, PricingID: pricingID}
}

func EventPassHoldPayload(listingID, pricingID string) HoldRequest {
	return HoldPayload(ProductEventPass, listingID, pricingID)
}

func SeasonPassHoldPayload(listingID, pricingID string) HoldRequest {
	return HoldPayload(ProductSeasonPass, listingID, pricingID)
}

// HoldRef identifies an existing hold for extend and remove calls.
type HoldRef struct {
	HoldID      string      `json:"holdId"`
	ProductType ProductType `json:"productType"`
}

// Hold is a time-boxed inventory reservation returned by the holds endpoint.
type Hold struct {
	HoldID string
	// CartID is the season pass name for the same identifier.
	CartID      string
	Expiry      string
	Amount      int64
	ProductType ProductType
}

func (h Hold) Ref() HoldRef {
	return HoldRef{HoldID: h.HoldID, ProductType: h.ProductType}
}

// ParseHold extracts a Hold from a create-hold response. It fails unless the
// status is 200 and the body carries both holdId and expiry.
func ParseHold(resp *Response) (Hold, error) {
	if resp == nil {
		return Hold{}, ErrHoldNotCreated
	}
	if resp.Status != http.StatusOK {
		return Hold{}, errors.Wrapf(ErrHoldNotCreated, "status %d", resp.Status)
	}
	if !resp.HasField("holdId") {
		return Hold{}, errors.Wrap(ErrMalformedHold, "missing holdId")
	}
	if !resp.HasField("expiry") {
		return Hold{}, errors.Wrap(ErrMalformedHold, "missing expiry")
	}

	holdID := resp.Field("holdId").String()
	return Hold{
		HoldID:      holdID,
		CartID:      holdID,
		Expiry:      resp.Field("expiry").String(),
		Amount:      resp.Field("amount").Int(),
		ProductType: ProductType(resp.Field("productType").Int()),
	}, nil
}

func (c *Client) CreateHold(ctx context.Context, payload HoldRequest) (*Response, error) {
	resp, err := c.post(ctx, "CreateInventoryHold", "/api/inventory-holds", payload)
	if err != nil {
		return nil, err
	}
	c.check(resp,
		statusIs("create hold status is 200", http.StatusOK),
		hasField("create hold has holdId", "holdId"),
		hasField("create hold has expiry", "expiry"),
	)
	return resp, nil
}

func (c *Client) ExtendHold(ctx context.Context, ref HoldRef) (*Response, error) {
	resp, err := c.post(ctx, "ExtendInventoryHold", "/api/inventory-holds/extend", ref)
	if err != nil {
		return nil, err
	}
	c.check(resp, statusIs("extend hold status is 200", http.StatusOK))
	return resp, nil
}

func (c *Client) RemoveHold(ctx context.Context, ref HoldRef) (*Response, error) {
	resp, err := c.post(ctx, "RemoveInventoryHold", "/api/inventory-holds/remove", ref)
	if err != nil {
		return nil, err
	}
	c.check(resp, statusIs("remove hold status is 200", http.StatusOK))
	return resp, nil
}

// ListSeasonPasses lists the season pass listings of an organization,
// optionally narrowed to one landmark.
func (c *Client) ListSeasonPasses(ctx context.Context, clientOrgKey, landmarkID string) (*Response, error) {
	q := url.Values{}
	q.Set("clientOrgKey", clientOrgKey)
	if landmarkID != "" {
		q.Set("landmarkId", landmarkID)
	}

	resp, err := c.get(ctx, "GetSeasonPassListings", "/api/seasonpass?"+q.Encode())
	if err != nil {
		return nil, err
	}
	c.check(resp,
		statusIs("get listings status is 200", http.StatusOK),
		check{name: "get listings has data", fn: func(r *Response) bool {
			return gjson.ValidBytes(r.Body) && gjson.ParseBytes(r.Body).IsArray()
		}},
	)
	return resp, nil
}

func (c *Client) GetSeasonPass(ctx context.Context, listingID, landmarkID string) (*Response, error) {
	q := url.Values{}
	q.Set("landmarkId", landmarkID)

	resp, err := c.get(ctx, "GetSeasonPassListing", "/api/seasonpass/"+url.PathEscape(listingID)+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	c.check(resp,
		statusIs("get listing details status is 200", http.StatusOK),
		hasField("get listing has id", "id"),
	)
	return resp, nil
}
