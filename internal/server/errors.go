package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/lock"
	webhookdomain "github.com/smallbiznis/entitlementd/internal/webhook/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if field, ok := validationField(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   field,
					Code:    validationErrorCode(err),
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, billingdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	case errors.Is(err, entdomain.ErrOwnershipMismatch):
		return http.StatusConflict, errorPayload{
			Type:    "ownership_mismatch",
			Message: "subscription is bound to another user",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, entdomain.ErrVersionConflict),
		errors.Is(err, lock.ErrAcquireTimeout):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, entdomain.ErrNoSubscription):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "no_subscription",
			Message: "no subscription to reconcile",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isUnavailableError(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog maps an error to the error_type and error_code request
// log fields.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server", payload.Type
	default:
		return "client", payload.Type
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationField(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "request", true
	case errors.Is(err, entdomain.ErrInvalidUser):
		return "user_id", true
	case errors.Is(err, entdomain.ErrInvalidEvent),
		errors.Is(err, webhookdomain.ErrInvalidEvent),
		errors.Is(err, billingdomain.ErrInvalidEvent):
		return "event", true
	case errors.Is(err, billingdomain.ErrInvalidPayload):
		return "payload", true
	case errors.Is(err, webhookdomain.ErrInvalidProvider):
		return "provider", true
	case errors.Is(err, billingdomain.ErrInvalidSubscriptionID):
		return "subscription_id", true
	default:
		return "", false
	}
}

func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		entdomain.ErrInvalidUser,
		webhookdomain.ErrInvalidEvent,
		entdomain.ErrInvalidEvent,
		billingdomain.ErrInvalidPayload,
		webhookdomain.ErrInvalidProvider,
		billingdomain.ErrInvalidSubscriptionID,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "invalid_value"
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, entdomain.ErrProviderNotFound),
		errors.Is(err, billingdomain.ErrProviderNotFound),
		errors.Is(err, billingdomain.ErrSubscriptionNotFound):
		return true
	default:
		return false
	}
}

func isUnavailableError(err error) bool {
	switch {
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, entdomain.ErrUpstreamUnavailable),
		errors.Is(err, entdomain.ErrReconcileUnavailable),
		errors.Is(err, billingdomain.ErrUpstreamUnavailable),
		errors.Is(err, billingdomain.ErrInvalidConfig):
		return true
	default:
		return false
	}
}
