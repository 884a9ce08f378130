package application

import "errors"

// Input validation.
var (
	ErrInsufficientValue  = errors.New("attached value is less than amount")
	ErrZeroDeposit        = errors.New("deposit amount must be positive")
	ErrInvalidShareAmount = errors.New("share amount must be positive and not exceed owned shares")
	ErrZeroAmount         = errors.New("amount must be positive")
)

// Oracle failures.
var (
	ErrOracleUnavailable = errors.New("price oracle unavailable")
	ErrNonPositivePrice  = errors.New("price oracle reported a non-positive price")
	ErrStalePrice        = errors.New("price oracle reported a stale price")
)

// Liquidity and risk rejections. Retrying later may succeed.
var (
	ErrDestinationLiquidity = errors.New("destination chain liquidity insufficient")
	ErrExposureLimit        = errors.New("transfer exceeds safe bridgeable amount")
)

// Configuration failures.
var (
	ErrTransportUnset     = errors.New("message transport not configured")
	ErrCounterpartUnset   = errors.New("counterpart bridge not configured")
	ErrUnknownDestination = errors.New("destination is not the counterpart domain")
)

// Authentication failures.
var (
	ErrUnauthorized = errors.New("message sender is not the registered counterpart")
	ErrNotOwner     = errors.New("caller is not the owner")
)

var ErrMalformedMessage = errors.New("malformed cross-chain message")

// Invariant guards. These indicate an accounting bug.
var (
	ErrInvariantViolation  = errors.New("accounting invariant violated")
	ErrInsufficientBalance = errors.New("bridge balance insufficient for payout")
)

// ErrReentrantCall rejects a call made while another operation is in progress,
// including calls back into the engine from a collaborator.
var ErrReentrantCall = errors.New("reentrant call: another operation is in progress")
