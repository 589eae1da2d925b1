package smartpass

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicAuthHeaders(t *testing.T) {
	h := BasicAuthHeaders("loadtest", "secret")

	assert.Equal(t, "Basic bG9hZHRlc3Q6c2VjcmV0", h.Get("Authorization"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Empty(t, JSONHeaders().Get("Authorization"))
}

func TestHoldPayloadsDifferOnlyInProductType(t *testing.T) {
	inputs := [][2]string{
		{"00000000-0000-0000-0000-000000000001", "00000000-0000-0000-0000-000000000002"},
		{"listing", ""},
		{"", ""},
		{"ünïcode-listing", "pricing/with/slashes"},
	}

	for _, in := range inputs {
		event := EventPassHoldPayload(in[0], in[1])
		season := SeasonPassHoldPayload(in[0], in[1])

		assert.Equal(t, ProductEventPass, event.ProductType)
		assert.Equal(t, ProductSeasonPass, season.ProductType)

		var eventFields, seasonFields map[string]any
		eventJSON, err := json.Marshal(event)
		require.NoError(t, err)
		seasonJSON, err := json.Marshal(season)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(eventJSON, &eventFields))
		require.NoError(t, json.Unmarshal(seasonJSON, &seasonFields))

		assert.Equal(t, 0.0, eventFields["productType"])
		assert.Equal(t, 1.0, seasonFields["productType"])
		delete(eventFields, "productType")
		delete(seasonFields, "productType")
		assert.Equal(t, eventFields, seasonFields)
		assert.Equal(t, in[0], eventFields["listingId"])
		assert.Equal(t, in[1], eventFields["pricingId"])
	}
}

func TestParseHold(t *testing.T) {
	tests := []struct {
		name    string
		resp    *Response
		want    Hold
		wantErr error
	}{
		{
			name: "complete body",
			resp: &Response{Status: 200, Body: []byte(`{"holdId":"hold_1","expiry":"2026-10-19T10:15:00Z","amount":1500,"productType":0}`)},
			want: Hold{HoldID: "hold_1", CartID: "hold_1", Expiry: "2026-10-19T10:15:00Z", Amount: 1500, ProductType: ProductEventPass},
		},
		{
			name:    "missing expiry",
			resp:    &Response{Status: 200, Body: []byte(`{"holdId":"hold_1","amount":1500}`)},
			wantErr: ErrMalformedHold,
		},
		{
			name:    "null holdId",
			resp:    &Response{Status: 200, Body: []byte(`{"holdId":null,"expiry":"2026-10-19T10:15:00Z"}`)},
			wantErr: ErrMalformedHold,
		},
		{
			name:    "not json",
			resp:    &Response{Status: 200, Body: []byte(`<html>gateway</html>`)},
			wantErr: ErrMalformedHold,
		},
		{
			name:    "conflict",
			resp:    &Response{Status: 409, Body: []byte(`{"holdId":"hold_1","expiry":"2026-10-19T10:15:00Z"}`)},
			wantErr: ErrHoldNotCreated,
		},
		{
			name:    "no response",
			wantErr: ErrHoldNotCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hold, err := ParseHold(tt.resp)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Equal(t, Hold{}, hold)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, hold)
		})
	}
}

func TestCreateHoldRoundTrip(t *testing.T) {
	c, rec := newTestClient(t)

	payload := SeasonPassHoldPayload("listing-1", "pricing-1")
	echo := map[string]any{
		"holdId":      "hold_42",
		"expiry":      "2026-10-19T10:30:00Z",
		"amount":      4250,
		"productType": int(payload.ProductType),
	}

	gock.New(testBaseURL).
		Post("/api/inventory-holds").
		MatchHeader("Authorization", "^Basic ").
		JSON(map[string]any{"productType": 1, "listingId": "listing-1", "pricingId": "pricing-1"}).
		Reply(http.StatusOK).
		JSON(echo)

	resp, err := c.CreateHold(context.Background(), payload)
	require.NoError(t, err)

	hold, err := ParseHold(resp)
	require.NoError(t, err)
	assert.Equal(t, "hold_42", hold.HoldID)
	assert.Equal(t, "hold_42", hold.CartID)
	assert.Equal(t, "2026-10-19T10:30:00Z", hold.Expiry)
	assert.Equal(t, int64(4250), hold.Amount)
	assert.Equal(t, ProductSeasonPass, hold.ProductType)

	assert.True(t, rec.checkPassed(t, "create hold status is 200"))
	assert.True(t, rec.checkPassed(t, "create hold has holdId"))
	assert.True(t, rec.checkPassed(t, "create hold has expiry"))
	assert.Equal(t, []string{"CreateInventoryHold"}, rec.requests)
	assert.True(t, gock.IsDone())
}

func TestCreateHoldMissingExpiry(t *testing.T) {
	c, rec := newTestClient(t)

	gock.New(testBaseURL).
		Post("/api/inventory-holds").
		Reply(http.StatusOK).
		JSON(map[string]any{"holdId": "hold_1", "amount": 1500})

	resp, err := c.CreateHold(context.Background(), EventPassHoldPayload("l", "p"))
	require.NoError(t, err)

	assert.True(t, rec.checkPassed(t, "create hold status is 200"))
	assert.False(t, rec.checkPassed(t, "create hold has expiry"))

	_, err = ParseHold(resp)
	assert.True(t, errors.Is(err, ErrMalformedHold))
}

func TestExtendAndRemoveHold(t *testing.T) {
	c, rec := newTestClient(t)
	ref := HoldRef{HoldID: "hold_1", ProductType: ProductEventPass}

	gock.New(testBaseURL).
		Post("/api/inventory-holds/extend").
		JSON(map[string]any{"holdId": "hold_1", "productType": 0}).
		Reply(http.StatusOK).
		JSON(map[string]any{"expiry": "2026-10-19T10:45:00Z"})
	gock.New(testBaseURL).
		Post("/api/inventory-holds/remove").
		Reply(http.StatusNotFound)

	resp, err := c.ExtendHold(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, rec.checkPassed(t, "extend hold status is 200"))

	resp, err = c.RemoveHold(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.False(t, rec.checkPassed(t, "remove hold status is 200"))
	assert.True(t, gock.IsDone())
}

func TestSeasonPassListings(t *testing.T) {
	c, rec := newTestClient(t)

	gock.New(testBaseURL).
		Get("/api/seasonpass").
		MatchParam("clientOrgKey", "org-1").
		MatchParam("landmarkId", "lm-9").
		Reply(http.StatusOK).
		JSON([]map[string]any{{"id": "sp_1"}})
	gock.New(testBaseURL).
		Get("/api/seasonpass/sp_1").
		MatchParam("landmarkId", "lm-9").
		Reply(http.StatusOK).
		JSON(map[string]any{"id": "sp_1", "name": "Season 2026"})

	resp, err := c.ListSeasonPasses(context.Background(), "org-1", "lm-9")
	require.NoError(t, err)
	assert.Equal(t, "sp_1", resp.Field("0.id").String())
	assert.True(t, rec.checkPassed(t, "get listings has data"))

	_, err = c.GetSeasonPass(context.Background(), "sp_1", "lm-9")
	require.NoError(t, err)
	assert.True(t, rec.checkPassed(t, "get listing has id"))
	assert.True(t, gock.IsDone())
}

func TestListSeasonPassesRejectsObjectBody(t *testing.T) {
	c, rec := newTestClient(t)

	gock.New(testBaseURL).
		Get("/api/seasonpass").
		Reply(http.StatusOK).
		JSON(map[string]any{"items": []string{}})

	_, err := c.ListSeasonPasses(context.Background(), "org-1", "")
	require.NoError(t, err)
	assert.False(t, rec.checkPassed(t, "get listings has data"))
}
