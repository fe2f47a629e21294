// ABOUTME: Error types for key loading, signing, and token rejection
// ABOUTME: UnauthenticatedError carries a Reason so callers can log why a request failed

package auth

import (
	"errors"
	"fmt"
)

// Reason classifies why a token was rejected.
type Reason string

const (
	ReasonMissingToken     Reason = "missing-token"
	ReasonMalformedToken   Reason = "malformed-token"
	ReasonBadSignature     Reason = "bad-signature"
	ReasonExpired          Reason = "expired"
	ReasonNotYetValid      Reason = "not-yet-valid"
	ReasonAudienceMismatch Reason = "audience-mismatch"
	ReasonIssuerMismatch   Reason = "issuer-mismatch"
	ReasonMissingJTI       Reason = "missing-jti"
	ReasonNoKey            Reason = "no-verification-key"
	ReasonReplayedToken    Reason = "replayed-token"
)

// ErrUnauthenticated matches every *UnauthenticatedError via errors.Is.
var ErrUnauthenticated = errors.New("unauthenticated")

// UnauthenticatedError is returned for any token that fails verification.
type UnauthenticatedError struct {
	Reason Reason
	Err    error
}

func unauthenticated(reason Reason, err error) *UnauthenticatedError {
	return &UnauthenticatedError{Reason: reason, Err: err}
}

func (e *UnauthenticatedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthenticated: %s: %v", e.Reason, e.Err)
	}
	return "unauthenticated: " + string(e.Reason)
}

func (e *UnauthenticatedError) Unwrap() error { return e.Err }

func (e *UnauthenticatedError) Is(target error) bool { return target == ErrUnauthenticated }

// ReasonOf returns the rejection reason carried by err, or "" if err is not
// an *UnauthenticatedError.
func ReasonOf(err error) Reason {
	var ue *UnauthenticatedError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return ""
}

// KeyLoadError reports a private key that could not be read or parsed,
// including a wrong or missing password.
type KeyLoadError struct {
	Path string
	Err  error
}

func (e *KeyLoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("loading key %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("loading key: %v", e.Err)
}

func (e *KeyLoadError) Unwrap() error { return e.Err }

// SigningError reports an internal failure while signing a token.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return fmt.Sprintf("signing token: %v", e.Err) }

func (e *SigningError) Unwrap() error { return e.Err }
