package domain

import (
	"fmt"
	"strings"
)

// IdempotencyIntent names the effect a key protects.
type IdempotencyIntent string

const (
	IntentInsuranceFee     IdempotencyIntent = "insurance-fee"
	IntentInsurancePayment IdempotencyIntent = "insurance-payment"
	IntentDamageFee        IdempotencyIntent = "damage-fee"
)

// IdempotencyKey pairs a caller intent with the session or entity it acts
// for. Two keys are equal when both parts are equal; the canonical string
// form is what gets persisted and compared in storage.
type IdempotencyKey struct {
	Intent IdempotencyIntent
	Scope  string
}

func NewIdempotencyKey(intent IdempotencyIntent, scope string) IdempotencyKey {
	return IdempotencyKey{Intent: intent, Scope: scope}
}

func (k IdempotencyKey) IsZero() bool {
	return k.Intent == "" && k.Scope == ""
}

func (k IdempotencyKey) Equal(other IdempotencyKey) bool {
	return k.Intent == other.Intent && k.Scope == other.Scope
}

func (k IdempotencyKey) String() string {
	return string(k.Intent) + ":" + k.Scope
}

// Ptr returns the canonical string form as a pointer, for nullable columns.
func (k IdempotencyKey) Ptr() *string {
	s := k.String()
	return &s
}

func (k IdempotencyKey) Validate() error {
	if k.Intent == "" || k.Scope == "" {
		return fmt.Errorf("%w: idempotency key needs intent and scope", ErrInvalidInput)
	}
	if strings.Contains(string(k.Intent), ":") {
		return fmt.Errorf("%w: idempotency intent %q contains ':'", ErrInvalidInput, k.Intent)
	}
	return nil
}

// ParseIdempotencyKey is the inverse of String.
func ParseIdempotencyKey(s string) (IdempotencyKey, error) {
	intent, scope, ok := strings.Cut(s, ":")
	if !ok || intent == "" || scope == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: malformed idempotency key %q", ErrInvalidInput, s)
	}
	return IdempotencyKey{Intent: IdempotencyIntent(intent), Scope: scope}, nil
}
