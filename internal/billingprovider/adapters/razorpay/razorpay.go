package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

const (
	providerName    = "razorpay"
	signatureHeader = "X-Razorpay-Signature"
	eventIDHeader   = "X-Razorpay-Event-Id"
	defaultBaseURL  = "https://api.razorpay.com"
)

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
	keyID := strings.TrimSpace(cfg.APIKey)
	keySecret := strings.TrimSpace(cfg.APISecret)
	if keyID == "" || keySecret == "" {
		return nil, domain.ErrInvalidConfig
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   baseURL,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

type Adapter struct {
	webhookSecret string
}

// Verify checks the hex HMAC-SHA256 of the raw body.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(Sign(payload, a.webhookSecret))) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature Razorpay attaches to payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) Parse(ctx context.Context, payload []byte, headers http.Header) (*entdomain.ProviderEvent, error) {
	var event razorpayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	eventType := strings.TrimSpace(event.Event)
	if eventType == "" {
		return nil, domain.ErrInvalidEvent
	}

	var kind entdomain.EventType
	switch eventType {
	case "subscription.activated", "subscription.authenticated":
		kind = entdomain.EventActivated
	case "subscription.charged", "subscription.resumed":
		kind = entdomain.EventRenewed
	case "subscription.cancelled":
		kind = entdomain.EventCancelled
	case "subscription.completed", "subscription.halted", "subscription.expired":
		kind = entdomain.EventExpired
	case "payment.failed":
		kind = entdomain.EventPaymentFailed
	default:
		return nil, domain.ErrEventIgnored
	}

	sub := event.Payload.Subscription.Entity
	if strings.TrimSpace(sub.ID) == "" {
		// payment.failed outside a subscription carries no entitlement.
		if kind == entdomain.EventPaymentFailed {
			return nil, domain.ErrEventIgnored
		}
		return nil, domain.ErrInvalidEvent
	}

	eventID := eventIDFromHeaders(headers)
	if eventID == "" {
		eventID = fallbackEventID(payload)
	}

	out := &entdomain.ProviderEvent{
		ID:             eventID,
		Provider:       providerName,
		Type:           kind,
		RawType:        eventType,
		SubscriptionID: sub.ID,
		UserID:         noteString(sub.Notes, "user_id"),
		Email:          strings.TrimSpace(event.Payload.Payment.Entity.Email),
		PeriodEndAt:    unixPtr(sub.CurrentEnd),
		OccurredAt:     unixTime(event.CreatedAt),
	}
	if kind != entdomain.EventCancelled {
		out.NextChargeAt = unixPtr(sub.ChargeAt)
	}
	return out, nil
}

func eventIDFromHeaders(headers http.Header) string {
	if headers == nil {
		return ""
	}
	return strings.TrimSpace(headers.Get(eventIDHeader))
}

// fallbackEventID derives a stable id so redeliveries without the header
// still deduplicate.
func fallbackEventID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:16])
}

type razorpayEvent struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Subscription struct {
			Entity razorpaySubscription `json:"entity"`
		} `json:"subscription"`
		Payment struct {
			Entity struct {
				ID    string `json:"id"`
				Email string `json:"email"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type razorpaySubscription struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	CurrentEnd int64          `json:"current_end"`
	ChargeAt   int64          `json:"charge_at"`
	EndedAt    int64          `json:"ended_at"`
	Notes      map[string]any `json:"notes"`
}

func (s razorpaySubscription) snapshot() entdomain.Snapshot {
	snap := entdomain.Snapshot{
		RawStatus:      s.Status,
		PeriodEndAt:    unixPtr(s.CurrentEnd),
		SubscriptionID: s.ID,
		Provider:       providerName,
	}
	if strings.EqualFold(s.Status, "active") {
		snap.NextChargeAt = unixPtr(s.ChargeAt)
	}
	return snap
}

func noteString(notes map[string]any, key string) string {
	if notes == nil {
		return ""
	}
	value, ok := notes[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
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
