package stripe

import (
	"encoding/json"
	"errors"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"

	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeRecurring struct {
	Interval      string `json:"interval"`
	IntervalCount int    `json:"interval_count"`
}

type stripePrice struct {
	Recurring *stripeRecurring `json:"recurring"`
}

type stripeSubscriptionItem struct {
	CurrentPeriodEnd int64        `json:"current_period_end"`
	Price            *stripePrice `json:"price"`
}

// stripeSubscription accepts both the legacy top-level period fields and the
// newer per-item ones.
type stripeSubscription struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	CancelAtPeriodEnd bool           `json:"cancel_at_period_end"`
	CancelAt          int64          `json:"cancel_at"`
	CanceledAt        int64          `json:"canceled_at"`
	EndedAt           int64          `json:"ended_at"`
	CurrentPeriodEnd  int64          `json:"current_period_end"`
	Metadata          map[string]any `json:"metadata"`
	Items             struct {
		Data []stripeSubscriptionItem `json:"data"`
	} `json:"items"`
}

func (s stripeSubscription) periodEnd() *time.Time {
	if s.CurrentPeriodEnd > 0 {
		return unixPtr(s.CurrentPeriodEnd)
	}
	var latest int64
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > latest {
			latest = item.CurrentPeriodEnd
		}
	}
	return unixPtr(latest)
}

func (s stripeSubscription) intervalDays() *int {
	for _, item := range s.Items.Data {
		if item.Price == nil || item.Price.Recurring == nil {
			continue
		}
		if days := intervalDays(item.Price.Recurring.Interval, item.Price.Recurring.IntervalCount); days > 0 {
			return &days
		}
	}
	return nil
}

func (s stripeSubscription) snapshot() entdomain.Snapshot {
	raw := s.Status
	if raw == "canceled" && s.EndedAt > 0 {
		raw = "ended"
	}

	snap := entdomain.Snapshot{
		RawStatus:             raw,
		PeriodEndAt:           s.periodEnd(),
		ScheduledCancellation: s.CancelAtPeriodEnd || s.CancelAt > 0,
		BillingIntervalDays:   s.intervalDays(),
		SubscriptionID:        s.ID,
		Provider:              providerName,
	}
	if raw != "ended" {
		snap.CancelledAt = unixPtr(s.CanceledAt)
	}
	if !snap.ScheduledCancellation && snap.CancelledAt == nil && (raw == "active" || raw == "trialing") {
		snap.NextChargeAt = snap.PeriodEndAt
	}
	return snap
}

func intervalDays(interval string, count int) int {
	if count <= 0 {
		count = 1
	}
	switch interval {
	case "day":
		return count
	case "week":
		return 7 * count
	case "month":
		return 30 * count
	case "year":
		return 365 * count
	default:
		return 0
	}
}

type stripeInvoice struct {
	ID            string         `json:"id"`
	CustomerEmail string         `json:"customer_email"`
	Subscription  string         `json:"subscription"`
	Metadata      map[string]any `json:"metadata"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription string         `json:"subscription"`
			Metadata     map[string]any `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails *struct {
		Metadata map[string]any `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (i stripeInvoice) subscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return i.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

func (i stripeInvoice) userID() string {
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		if id := metadataString(i.Parent.SubscriptionDetails.Metadata, "user_id"); id != "" {
			return id
		}
	}
	if i.SubscriptionDetails != nil {
		if id := metadataString(i.SubscriptionDetails.Metadata, "user_id"); id != "" {
			return id
		}
	}
	return metadataString(i.Metadata, "user_id")
}

func (i stripeInvoice) lineEnd() *time.Time {
	var latest int64
	for _, line := range i.Lines.Data {
		if line.Period.End > latest {
			latest = line.Period.End
		}
	}
	return unixPtr(latest)
}

func asStripeError(err error, target **stripelib.Error) bool {
	return errors.As(err, target)
}
