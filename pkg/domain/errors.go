package domain

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable identifier attached to every ledger
// error. Callers branch on codes rather than message text.
type Code string

// Error codes grouped by category.
const (
	CodeNotAuthorized Code = "not_authorized"

	CodeZeroAddress     Code = "zero_address"
	CodeZeroAmount      Code = "zero_amount"
	CodeInvalidFormula  Code = "invalid_formula"
	CodeInvalidYield    Code = "invalid_yield_ratio"
	CodeInvalidFeeRatio Code = "invalid_fee_ratio"
	CodeEmptyBatch      Code = "empty_batch"
	CodeBatchTooLarge   Code = "batch_too_large"
	CodeAmountOverflow  Code = "amount_overflow"

	CodeRecipeNotFound     Code = "recipe_not_found"
	CodeVesselNotFound     Code = "vessel_not_found"
	CodeConversionNotFound Code = "conversion_not_found"

	CodePaused              Code = "paused"
	CodeRecipeInactive      Code = "recipe_inactive"
	CodeInsufficientInput   Code = "insufficient_input"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeRegistryFull        Code = "registry_full"
	CodeReentrantCall       Code = "reentrant_call"

	CodeTransferFailed Code = "transfer_failed"
)

// AuthorizationError is returned when the caller does not hold the role
// required for the attempted action.
type AuthorizationError struct {
	Role   string
	Caller Address
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("caller %s is not the %s", e.Caller, e.Role)
}

// ValidationError is returned for malformed input: zero values, out-of-range
// ratios, bad batch shapes.
type ValidationError struct {
	Code   Code
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError is returned when a referenced recipe, vessel or conversion
// record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Code maps the missing entity type to its stable code.
func (e NotFoundError) code() Code {
	switch e.Entity {
	case EntityRecipe:
		return CodeRecipeNotFound
	case EntityVessel:
		return CodeVesselNotFound
	case EntityConversion:
		return CodeConversionNotFound
	}
	return ""
}

// StateError is returned when the request is well-formed but the ledger
// state forbids it: paused system, inactive recipe, short balance, full
// registry, reentrant call.
type StateError struct {
	Code   Code
	Reason string
}

func (e StateError) Error() string {
	return e.Reason
}

// TransferError is returned when an outbound transfer leg reports failure.
// The whole resolution is unwound when either leg fails.
type TransferError struct {
	Leg    string
	To     Address
	Amount uint64
	Err    error
}

func (e TransferError) Error() string {
	return fmt.Sprintf("%s transfer of %d to %s failed: %v", e.Leg, e.Amount, e.To, e.Err)
}

func (e TransferError) Unwrap() error {
	return e.Err
}

// ErrCode extracts the stable code from a ledger error, unwrapping as
// needed. It returns the empty code for nil or foreign errors.
func ErrCode(err error) Code {
	var (
		authErr     AuthorizationError
		validErr    ValidationError
		notFoundErr NotFoundError
		stateErr    StateError
		transferErr TransferError
	)
	switch {
	case errors.As(err, &authErr):
		return CodeNotAuthorized
	case errors.As(err, &validErr):
		return validErr.Code
	case errors.As(err, &notFoundErr):
		return notFoundErr.code()
	case errors.As(err, &stateErr):
		return stateErr.Code
	case errors.As(err, &transferErr):
		return CodeTransferFailed
	}
	return ""
}
