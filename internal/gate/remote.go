package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

const defaultRemoteTimeout = 10 * time.Second

type Remote interface {
	Reconcile(ctx context.Context, userID string) (domain.Record, error)
}

// HTTPRemote asks the entitlement service to reconcile a user and returns
// the authoritative record.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRemote(baseURL string, client *http.Client) (*HTTPRemote, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrInvalidServer
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServer, err)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultRemoteTimeout}
	}
	return &HTTPRemote{baseURL: baseURL, client: client}, nil
}

func (r *HTTPRemote) Reconcile(ctx context.Context, userID string) (domain.Record, error) {
	endpoint := fmt.Sprintf("%s/v1/users/%s/entitlement/reconcile", r.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return domain.Record{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Record{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var res domain.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.Record{}, fmt.Errorf("%w: decode reconcile response: %v", ErrRemoteUnavailable, err)
	}
	if res.Record.UserID == "" {
		res.Record.UserID = userID
	}
	return res.Record, nil
}

// StatusError is a non-2xx answer from the entitlement service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("entitlement service returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrRemoteUnavailable
}
