package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide whether to retry,
// explain a conflict, or fix their input.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
	KindTransient  ErrorKind = "transient"
	KindIntegrity  ErrorKind = "integrity"
	KindInternal   ErrorKind = "internal"
)

type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	// Validation
	ErrInvalidInput        = newError(KindValidation, "invalid_input", "invalid input")
	ErrInvalidAmount       = newError(KindValidation, "invalid_amount", "amount must be positive")
	ErrMissingSignature    = newError(KindValidation, "missing_signature", "required signature missing")
	ErrPreflightFailed     = newError(KindValidation, "preflight_failed", "pre-flight checks failed")
	ErrStudentDataMissing  = newError(KindValidation, "student_data_missing", "student record incomplete")
	ErrStepPrerequisite    = newError(KindValidation, "step_prerequisite", "an earlier step has not succeeded")
	ErrUnknownStep         = newError(KindValidation, "unknown_step", "step is not part of this session")
	ErrStepNotOverridable  = newError(KindValidation, "step_not_overridable", "step moves money or ownership and cannot be force-completed")
	ErrSessionAbandoned    = newError(KindValidation, "session_abandoned", "session was abandoned")
	ErrSessionNotCompleted = newError(KindValidation, "session_not_completed", "session has not completed")
	ErrCheckoutNotPending  = newError(KindValidation, "checkout_not_pending", "checkout is not awaiting a signature")
	ErrCreditKindMismatch  = newError(KindValidation, "credit_kind_mismatch", "credit cannot be applied to this fee")

	// Not found
	ErrFeeNotFound         = newError(KindNotFound, "fee_not_found", "fee not found")
	ErrPaymentNotFound     = newError(KindNotFound, "payment_not_found", "payment not found")
	ErrCreditNotFound      = newError(KindNotFound, "credit_not_found", "credit not found")
	ErrDeviceNotFound      = newError(KindNotFound, "device_not_found", "device not found")
	ErrPersonNotFound      = newError(KindNotFound, "person_not_found", "person not found")
	ErrCheckoutNotFound    = newError(KindNotFound, "checkout_not_found", "checkout record not found")
	ErrMaintenanceNotFound = newError(KindNotFound, "maintenance_not_found", "maintenance record not found")
	ErrSessionNotFound     = newError(KindNotFound, "session_not_found", "session not found")

	// Conflict
	ErrDeviceUnavailable      = newError(KindConflict, "device_unavailable", "device is no longer available")
	ErrDeviceNotHeld          = newError(KindConflict, "device_not_held", "device is not held by this person")
	ErrCreditAlreadyApplied   = newError(KindConflict, "credit_already_applied", "credit has already been applied")
	ErrSignatureAlreadySet    = newError(KindConflict, "signature_already_set", "parent signature already recorded")
	ErrMaintenanceClosed      = newError(KindConflict, "maintenance_closed", "maintenance record already completed")
	ErrDuplicateTransaction   = newError(KindConflict, "duplicate_transaction", "transaction id already in use")
	ErrConcurrentModification = newError(KindConflict, "concurrent_modification", "record changed concurrently")

	// Integrity
	ErrOverpaymentRejected    = newError(KindIntegrity, "overpayment_rejected", "payment exceeds fee balance")
	ErrPaymentAlreadyArchived = newError(KindIntegrity, "payment_already_archived", "payment is already archived")
	ErrPaymentAlreadyApplied  = newError(KindIntegrity, "payment_already_applied", "payment was archived and has already been applied")
	ErrBalanceInvariant       = newError(KindIntegrity, "balance_invariant", "fee balance invariant violated")

	// Transient
	ErrExternalService = newError(KindTransient, "external_service", "external service call failed")
)

// KindOf returns the classification of err, or KindInternal when err carries
// no domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf returns the machine-readable code of err, if any.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsIntegrity(err error) bool  { return KindOf(err) == KindIntegrity }

// External wraps a collaborator failure as a transient error.
func External(service string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrExternalService, service, err)
}
