// ABOUTME: EdDSA JWT issuance and verification for principal-to-agent requests
// ABOUTME: Claims are fixed to iss/aud/jti/iat/nbf/exp with a clock-skew tolerance

package auth

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default claim values shared by principal and agent.
const (
	DefaultIssuer    = "urn:nightlife:principal"
	DefaultAudience  = "urn:nightlife:agent"
	DefaultTolerance = 30 * time.Second
)

// TokenSpec is the issuer/audience pair a token is scoped to, plus the
// clock-skew tolerance used to compute nbf and exp.
type TokenSpec struct {
	Issuer    string
	Audience  string
	Tolerance time.Duration
}

// Claims is the claim set carried by every nightlife token.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// KeySource yields the current verification key, or nil when none is loaded.
type KeySource interface {
	Current() ed25519.PublicKey
}

// ReplayCache remembers token IDs until their expiry.
// CheckAndMark reports whether id was already seen.
type ReplayCache interface {
	CheckAndMark(id string, expiresAt time.Time) bool
}

// Issuer mints signed tokens.
type Issuer struct {
	spec TokenSpec
	now  func() time.Time
}

// NewIssuer creates an issuer for the given spec.
func NewIssuer(spec TokenSpec) *Issuer {
	return &Issuer{spec: spec, now: time.Now}
}

// Issue builds a fresh claim set from the current time and signs it with key.
func (i *Issuer) Issue(key ed25519.PrivateKey) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", &KeyLoadError{Err: errors.New("not an Ed25519 private key")}
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.spec.Issuer,
			Audience:  jwt.ClaimStrings{i.spec.Audience},
			ID:        uuid.New().URN(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-i.spec.Tolerance)),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.spec.Tolerance)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", &SigningError{Err: err}
	}
	return signed, nil
}

// IssueFromFile loads the private key at path and issues a token with it.
func (i *Issuer) IssueFromFile(path string, password []byte) (string, error) {
	key, err := LoadPrivateKey(path, password)
	if err != nil {
		return "", err
	}
	return i.Issue(key)
}

// Verifier validates tokens against the current verification key.
type Verifier struct {
	spec   TokenSpec
	keys   KeySource
	replay ReplayCache
	now    func() time.Time
}

// NewVerifier creates a verifier expecting spec.Issuer and spec.Audience.
func NewVerifier(spec TokenSpec, keys KeySource) *Verifier {
	return &Verifier{spec: spec, keys: keys, now: time.Now}
}

// SetReplayCache enables rejection of reused token IDs.
func (v *Verifier) SetReplayCache(c ReplayCache) {
	v.replay = c
}

// Verify checks the signature and claims of tokenString. The returned claims
// are only non-nil when every check passed.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, unauthenticated(ReasonMissingToken, nil)
	}

	key := v.keys.Current()
	if key == nil {
		return nil, unauthenticated(ReasonNoKey, nil)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(v.spec.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}

	if claims.Issuer != v.spec.Issuer {
		return nil, unauthenticated(ReasonIssuerMismatch, nil)
	}
	if claims.ID == "" {
		return nil, unauthenticated(ReasonMissingJTI, nil)
	}
	if !issuedWithinWindow(claims) {
		return nil, unauthenticated(ReasonMalformedToken, errors.New("iat outside [nbf, exp]"))
	}

	if v.replay != nil && v.replay.CheckAndMark(claims.ID, claims.ExpiresAt.Time) {
		return nil, unauthenticated(ReasonReplayedToken, nil)
	}

	return claims, nil
}

// issuedWithinWindow requires iat to be present and inside [nbf, exp].
func issuedWithinWindow(c *Claims) bool {
	if c.IssuedAt == nil {
		return false
	}
	iat := c.IssuedAt.Time
	if c.NotBefore != nil && iat.Before(c.NotBefore.Time) {
		return false
	}
	return !iat.After(c.ExpiresAt.Time)
}

// classifyParseError maps jwt library errors to a rejection reason.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return unauthenticated(ReasonMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return unauthenticated(ReasonBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return unauthenticated(ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return unauthenticated(ReasonNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return unauthenticated(ReasonAudienceMismatch, err)
	default:
		return unauthenticated(ReasonMalformedToken, err)
	}
}
