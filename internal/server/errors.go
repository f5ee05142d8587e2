package server

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	apikeydomain "github.com/smallbiznis/accessflow/internal/apikey/domain"
	billingdomain "github.com/smallbiznis/accessflow/internal/billing/domain"
	"github.com/smallbiznis/accessflow/internal/observability/errorreport"
	pipelinedomain "github.com/smallbiznis/accessflow/internal/pipeline/domain"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
	"gorm.io/gorm"
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

// RateLimitedError is returned when the tenant's token bucket is empty.
type RateLimitedError struct {
	ResetSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %ds", e.ResetSeconds)
}

// UsageBlockedError is returned when a job would push usage past a plan cap.
type UsageBlockedError struct {
	Reason string
}

func (e *UsageBlockedError) Error() string {
	return "usage cap reached: " + e.Reason
}

type errorPayload struct {
	Type         string            `json:"type"`
	Message      string            `json:"message"`
	Reason       string            `json:"reason,omitempty"`
	ResetSeconds *int              `json:"reset_seconds,omitempty"`
	Errors       []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrPaymentRequired    = errors.New("payment_required")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// ErrorHandlingMiddleware renders the last handler error as JSON. Server
// errors are forwarded to the reporter.
func ErrorHandlingMiddleware(reporter *errorreport.Reporter) gin.HandlerFunc {
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
		if status >= http.StatusInternalServerError {
			reporter.Capture(c.Request.Context(), lastErr.Err, map[string]string{
				"route":  c.FullPath(),
				"method": c.Request.Method,
			})
		}
		if payload.ResetSeconds != nil {
			c.Header("Retry-After", fmt.Sprintf("%d", *payload.ResetSeconds))
		}
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

// bindJSON decodes the body into dst and aborts with a 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			AbortWithError(c, err)
			return false
		}
		AbortWithError(c, invalidRequestError())
		return false
	}
	return true
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

// errorClass is one row of the public error taxonomy. An error belongs to
// the first class holding a sentinel it wraps.
type errorClass struct {
	status    int
	kind      string
	message   string
	reason    string
	sentinels []error
}

var errorClasses = []errorClass{
	{
		status:    http.StatusUnauthorized,
		kind:      "unauthorized",
		message:   "unauthorized",
		sentinels: []error{ErrUnauthorized, apikeydomain.ErrInvalidKey},
	},
	{
		status:    http.StatusPaymentRequired,
		kind:      "payment_required",
		message:   "subscription is not active",
		reason:    "subscription_expired",
		sentinels: []error{ErrPaymentRequired},
	},
	{
		status:    http.StatusForbidden,
		kind:      "forbidden",
		message:   "forbidden",
		sentinels: []error{ErrForbidden},
	},
	{
		status:    http.StatusConflict,
		kind:      "conflict",
		message:   "conflict",
		sentinels: []error{ErrConflict, tenantdomain.ErrTenantExists, gorm.ErrDuplicatedKey},
	},
	{
		status:  http.StatusNotFound,
		kind:    "not_found",
		message: "not found",
		sentinels: []error{
			ErrNotFound,
			pipelinedomain.ErrBundleNotFound,
			tenantdomain.ErrTenantNotFound,
			billingdomain.ErrProviderNotFound,
			gorm.ErrRecordNotFound,
		},
	},
	{
		status:    http.StatusServiceUnavailable,
		kind:      "service_unavailable",
		message:   "service unavailable",
		sentinels: []error{ErrServiceUnavailable, billingdomain.ErrProviderUnconfigured, billingdomain.ErrPricingUnset},
	},
}

// invalidInput lists domain sentinels reported as a single-field 400. The
// sentinel text doubles as the error code.
var invalidInput = []error{
	ErrInvalidRequest,
	pipelinedomain.ErrInvalidSourceURL,
	usagedomain.ErrInvalidDelta,
	tenantdomain.ErrInvalidPlan,
	tenantdomain.ErrInvalidName,
	tenantdomain.ErrInvalidEmail,
	subscriptiondomain.ErrInvalidEvent,
	billingdomain.ErrInvalidSignature,
	billingdomain.ErrInvalidPayload,
}

func (ec errorClass) payload() errorPayload {
	return errorPayload{Type: ec.kind, Message: ec.message, Reason: ec.reason}
}

func internalErrorPayload() errorPayload {
	return errorPayload{Type: "internal_error", Message: "internal server error"}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalErrorPayload()
	}

	var (
		vErrs     *ValidationErrors
		fieldErrs validator.ValidationErrors
		rateErr   *RateLimitedError
		usageErr  *UsageBlockedError
	)
	switch {
	case errors.As(err, &vErrs) && vErrs != nil:
		return http.StatusBadRequest, validationPayload(vErrs.Errors)
	case errors.As(err, &fieldErrs):
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Field:   fe.Field(),
				Code:    fe.Tag(),
				Message: fieldErrorMessage(fe),
			})
		}
		return http.StatusBadRequest, validationPayload(out)
	case errors.As(err, &rateErr):
		reset := rateErr.ResetSeconds
		return http.StatusTooManyRequests, errorPayload{
			Type:         "rate_limited",
			Message:      "too many requests",
			Reason:       "rate_limited",
			ResetSeconds: &reset,
		}
	case errors.As(err, &usageErr):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "usage_blocked",
			Message: "plan usage cap reached",
			Reason:  usageErr.Reason,
		}
	}

	if sentinel := firstMatch(err, invalidInput); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, validationPayload([]ValidationError{{
			Field:   inputField(code),
			Code:    code,
			Message: inputMessage(code),
		}})
	}

	for _, ec := range errorClasses {
		if firstMatch(err, ec.sentinels) != nil {
			return ec.status, ec.payload()
		}
	}
	return http.StatusInternalServerError, internalErrorPayload()
}

// classifyErrorForLog names the error class recorded on the request log line.
func classifyErrorForLog(err error) string {
	_, payload := mapError(err)
	return payload.Type
}

func validationPayload(errs []ValidationError) errorPayload {
	return errorPayload{Type: "validation_error", Message: "validation error", Errors: errs}
}

func firstMatch(err error, sentinels []error) error {
	for _, target := range sentinels {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}

func inputField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_webhook_signature", "invalid_webhook_payload", "invalid_billing_event":
		return "payload"
	}
	return strings.TrimPrefix(code, "invalid_")
}

func inputMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_webhook_signature":
		return "signature verification failed"
	default:
		return "invalid value"
	}
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email"
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "invalid value"
	}
}

// jsonFieldName reports struct fields by their JSON name in validation errors.
func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}
