package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

const providerName = "stripe"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg domain.ProviderConfig) (domain.WebhookAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

func (f *Factory) NewClient(cfg domain.ProviderConfig) (domain.Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, domain.ErrInvalidConfig
	}

	backendCfg := &stripelib.BackendConfig{}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripelib.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	if cfg.Timeout > 0 {
		backendCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	backend := stripelib.GetBackendWithConfig(stripelib.APIBackend, backendCfg)

	return &Client{subs: &subscription.Client{B: backend, Key: key}}, nil
}

type Adapter struct {
	webhookSecret string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte, _ http.Header) (*entdomain.ProviderEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.resumed",
		"customer.subscription.deleted":
		return a.parseSubscriptionEvent(event, eventType)
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		return a.parseInvoiceEvent(event, eventType)
	default:
		return nil, domain.ErrEventIgnored
	}
}

func (a *Adapter) parseSubscriptionEvent(event stripeEvent, eventType string) (*entdomain.ProviderEvent, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	var kind entdomain.EventType
	switch eventType {
	case "customer.subscription.created":
		kind = entdomain.EventCreated
	case "customer.subscription.resumed":
		kind = entdomain.EventRenewed
	case "customer.subscription.deleted":
		kind = entdomain.EventExpired
	default:
		kind = classifyUpdate(sub)
	}
	if kind == entdomain.EventIgnored {
		return nil, domain.ErrEventIgnored
	}

	periodEnd := sub.periodEnd()
	out := &entdomain.ProviderEvent{
		ID:                  event.ID,
		Provider:            providerName,
		Type:                kind,
		RawType:             eventType,
		SubscriptionID:      sub.ID,
		RawStatus:           sub.Status,
		UserID:              metadataString(sub.Metadata, "user_id"),
		PeriodEndAt:         periodEnd,
		BillingIntervalDays: sub.intervalDays(),
		OccurredAt:          unixTime(event.Created),
	}
	if kind != entdomain.EventCancelled && kind != entdomain.EventStatusChanged {
		out.NextChargeAt = periodEnd
	}
	return out, nil
}

// classifyUpdate folds the many shapes of subscription.updated onto the
// normalized event kinds. Payment holds and pauses pass their raw status
// through for the engine to resolve; anything else needs a poll and is ignored.
func classifyUpdate(sub stripeSubscription) entdomain.EventType {
	if sub.CancelAtPeriodEnd || sub.CancelAt > 0 {
		if sub.Status == "canceled" || sub.Status == "incomplete_expired" {
			return entdomain.EventExpired
		}
		return entdomain.EventCancelled
	}
	switch sub.Status {
	case "active", "trialing":
		return entdomain.EventRenewed
	case "canceled", "incomplete_expired":
		return entdomain.EventExpired
	case "past_due", "unpaid", "paused", "incomplete":
		return entdomain.EventStatusChanged
	default:
		return entdomain.EventIgnored
	}
}

func (a *Adapter) parseInvoiceEvent(event stripeEvent, eventType string) (*entdomain.ProviderEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	subID := invoice.subscriptionID()
	if subID == "" {
		// One-off invoices carry no entitlement.
		return nil, domain.ErrEventIgnored
	}

	out := &entdomain.ProviderEvent{
		ID:             event.ID,
		Provider:       providerName,
		RawType:        eventType,
		SubscriptionID: subID,
		UserID:         invoice.userID(),
		Email:          strings.TrimSpace(invoice.CustomerEmail),
		OccurredAt:     unixTime(event.Created),
	}
	if eventType == "invoice.payment_failed" {
		out.Type = entdomain.EventPaymentFailed
		return out, nil
	}

	out.Type = entdomain.EventRenewed
	if end := invoice.lineEnd(); end != nil {
		out.NextChargeAt = end
		out.PeriodEndAt = end
	}
	return out, nil
}

type Client struct {
	subs *subscription.Client
}

// GetSubscription fetches the subscription and decodes the raw response with
// the same decoder used for webhook objects.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*entdomain.Snapshot, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, domain.ErrInvalidSubscriptionID
	}

	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	result, err := c.subs.Get(subscriptionID, params)
	if err != nil {
		var stripeErr *stripelib.Error
		if asStripeError(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	if result == nil || result.LastResponse == nil || len(result.LastResponse.RawJSON) == 0 {
		return nil, domain.ErrInvalidPayload
	}

	var sub stripeSubscription
	if err := json.Unmarshal(result.LastResponse.RawJSON, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	snap := sub.snapshot()
	return &snap, nil
}

func unixTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

func unixPtr(value int64) *time.Time {
	if value <= 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
