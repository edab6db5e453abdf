package razorpay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

const testSecret = "rzp_webhook_secret"

func newTestAdapter(t *testing.T) domain.WebhookAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(domain.ProviderConfig{Provider: "razorpay", WebhookSecret: testSecret})
	require.NoError(t, err)
	return adapter
}

func subscriptionPayload(event string, chargeAt, currentEnd int64) []byte {
	return []byte(fmt.Sprintf(`{
		"entity":"event","event":%q,"created_at":1740830400,
		"payload":{
			"subscription":{"entity":{"id":"sub_R1","status":"active","charge_at":%d,"current_end":%d,"notes":{"user_id":"user_1"}}},
			"payment":{"entity":{"id":"pay_1","email":"Ada@Example.com"}}
		}
	}`, event, chargeAt, currentEnd))
}

func TestVerify(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := subscriptionPayload("subscription.charged", 0, 0)

	headers := http.Header{}
	headers.Set(signatureHeader, Sign(payload, testSecret))
	require.NoError(t, adapter.Verify(context.Background(), payload, headers))

	headers.Set(signatureHeader, Sign(payload, "wrong"))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, headers), domain.ErrInvalidSignature)
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, http.Header{}), domain.ErrInvalidSignature)
}

func TestParse(t *testing.T) {
	adapter := newTestAdapter(t)
	chargeAt := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	currentEnd := chargeAt.Add(-time.Hour)

	headers := http.Header{}
	headers.Set(eventIDHeader, "evt_rzp_1")

	tests := []struct {
		name     string
		event    string
		wantType entdomain.EventType
		wantNext bool
		wantErr  error
	}{
		{name: "activated", event: "subscription.activated", wantType: entdomain.EventActivated, wantNext: true},
		{name: "charged", event: "subscription.charged", wantType: entdomain.EventRenewed, wantNext: true},
		{name: "cancelled keeps period end only", event: "subscription.cancelled", wantType: entdomain.EventCancelled},
		{name: "halted", event: "subscription.halted", wantType: entdomain.EventExpired, wantNext: true},
		{name: "completed", event: "subscription.completed", wantType: entdomain.EventExpired, wantNext: true},
		{name: "payment failed", event: "payment.failed", wantType: entdomain.EventPaymentFailed, wantNext: true},
		{name: "pending is ignored", event: "subscription.pending", wantErr: domain.ErrEventIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := adapter.Parse(context.Background(), subscriptionPayload(tt.event, chargeAt.Unix(), currentEnd.Unix()), headers)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "evt_rzp_1", evt.ID)
			assert.Equal(t, tt.wantType, evt.Type)
			assert.Equal(t, "sub_R1", evt.SubscriptionID)
			assert.Equal(t, "user_1", evt.UserID)
			assert.Equal(t, "Ada@Example.com", evt.Email)
			require.NotNil(t, evt.PeriodEndAt)
			assert.True(t, currentEnd.Equal(*evt.PeriodEndAt))
			assert.Equal(t, tt.wantNext, evt.NextChargeAt != nil)
		})
	}
}

func TestParse_FallbackEventIDIsStable(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := subscriptionPayload("subscription.charged", 0, 0)

	first, err := adapter.Parse(context.Background(), payload, nil)
	require.NoError(t, err)
	second, err := adapter.Parse(context.Background(), payload, http.Header{})
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Nil(t, first.NextChargeAt, "zero timestamps are absent")
}

func TestParse_Invalid(t *testing.T) {
	adapter := newTestAdapter(t)

	_, err := adapter.Parse(context.Background(), []byte(`not json`), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = adapter.Parse(context.Background(), []byte(`{"event":""}`), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	_, err = adapter.Parse(context.Background(), []byte(`{"event":"subscription.charged","payload":{}}`), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	_, err = adapter.Parse(context.Background(), []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1"}}}}`), nil)
	assert.ErrorIs(t, err, domain.ErrEventIgnored)
}

func TestGetSubscription(t *testing.T) {
	chargeAt := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_key" || pass != "rzp_secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v1/subscriptions/sub_R1":
			_, _ = fmt.Fprintf(w, `{"id":"sub_R1","status":"active","charge_at":%d,"current_end":%d}`, chargeAt.Unix(), chargeAt.Unix())
		case "/v1/subscriptions/sub_broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
		}
	}))
	defer srv.Close()

	client, err := NewFactory().NewClient(domain.ProviderConfig{
		Provider:  "razorpay",
		APIKey:    "rzp_key",
		APISecret: "rzp_secret",
		BaseURL:   srv.URL,
	})
	require.NoError(t, err)

	snap, err := client.GetSubscription(context.Background(), "sub_R1")
	require.NoError(t, err)
	assert.Equal(t, "active", snap.RawStatus)
	assert.Equal(t, "razorpay", snap.Provider)
	require.NotNil(t, snap.NextChargeAt)
	assert.True(t, chargeAt.Equal(*snap.NextChargeAt))

	_, err = client.GetSubscription(context.Background(), "sub_missing")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

	_, err = client.GetSubscription(context.Background(), "sub_broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSubscriptionNotFound)

	_, err = NewFactory().NewClient(domain.ProviderConfig{Provider: "razorpay", APIKey: "only_key"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
