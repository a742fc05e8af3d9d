package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrGatewayNotConfigured = errors.New("payment gateway not configured")
	ErrInvalidSignature     = errors.New("invalid notification signature")
	ErrDeliveryInProgress   = errors.New("notification delivery already in progress")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrBelowMinimumAmount   = errors.New("amount below organization minimum")
	ErrUnauthenticated      = errors.New("authentication required")
	ErrNotFound             = errors.New("not found")
)

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrGatewayNotConfigured):
		return "gateway_not_configured"

	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"

	case errors.Is(err, ErrDeliveryInProgress):
		return "delivery_in_progress"

	case errors.Is(err, ErrInvalidRequest):
		return "bad_request"

	case errors.Is(err, ErrBelowMinimumAmount):
		return "below_minimum_amount"

	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrBelowMinimumAmount):
		return http.StatusBadRequest

	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrDeliveryInProgress):
		return http.StatusConflict

	case errors.Is(err, ErrGatewayNotConfigured):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
