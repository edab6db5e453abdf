package razorpay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

const maxResponseBytes = 1 << 20

// Client polls the Razorpay subscriptions API with basic auth.
type Client struct {
	keyID     string
	keySecret string
	baseURL   string
	http      *http.Client
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*entdomain.Snapshot, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, domain.ErrInvalidSubscriptionID
	}

	endpoint := c.baseURL + "/v1/subscriptions/" + url.PathEscape(subscriptionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrSubscriptionNotFound
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(string(body), "does not exist"):
		return nil, domain.ErrSubscriptionNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("razorpay: unexpected status %d", resp.StatusCode)
	}

	var sub razorpaySubscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if sub.ID == "" {
		return nil, domain.ErrInvalidPayload
	}
	snap := sub.snapshot()
	return &snap, nil
}
