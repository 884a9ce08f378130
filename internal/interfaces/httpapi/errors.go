package httpapi

import (
	"errors"
	"net/http"

	"nativebridge/internal/application"
)

var errorClasses = []struct {
	status int
	reason string
	errs   []error
}{
	{http.StatusBadRequest, "invalid_input", []error{
		application.ErrInsufficientValue,
		application.ErrZeroDeposit,
		application.ErrInvalidShareAmount,
		application.ErrZeroAmount,
		application.ErrMalformedMessage,
	}},
	{http.StatusConflict, "risk_limit", []error{
		application.ErrDestinationLiquidity,
		application.ErrExposureLimit,
	}},
	{http.StatusServiceUnavailable, "busy", []error{application.ErrReentrantCall}},
	{http.StatusUnprocessableEntity, "not_configured", []error{
		application.ErrTransportUnset,
		application.ErrCounterpartUnset,
		application.ErrUnknownDestination,
	}},
	{http.StatusUnauthorized, "unauthorized", []error{application.ErrUnauthorized}},
	{http.StatusForbidden, "not_owner", []error{application.ErrNotOwner}},
	{http.StatusServiceUnavailable, "oracle", []error{
		application.ErrOracleUnavailable,
		application.ErrNonPositivePrice,
		application.ErrStalePrice,
	}},
	{http.StatusInternalServerError, "invariant", []error{
		application.ErrInvariantViolation,
		application.ErrInsufficientBalance,
	}},
}

// Classify maps an engine error to an HTTP status and a short reason label.
func Classify(err error) (int, string) {
	if err == nil {
		return http.StatusOK, "ok"
	}
	for _, class := range errorClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status, class.reason
			}
		}
	}
	return http.StatusInternalServerError, "internal"
}
