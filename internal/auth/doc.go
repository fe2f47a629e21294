// Package auth implements the nightlife credential codec and the HTTP
// authentication layer that sits in front of the agent's topic surface.
//
// # Tokens
//
// A principal proves itself to an agent with a short-lived JWT signed with
// Ed25519 (alg "EdDSA"). The claim set is fixed:
//
//	iss  issuer string identifying the principal role
//	aud  audience string identifying the agent role
//	jti  fresh "urn:uuid:..." per token
//	iat  issue time
//	nbf  iat - tolerance
//	exp  iat + tolerance
//
// The tolerance is the configured clock-skew allowance between hosts, so
// nbf <= iat <= exp always holds for tokens produced by [Issuer].
//
// # Verification
//
// [Verifier] only accepts EdDSA. Audience, expiry and not-before are checked
// by the JWT library; issuer and jti presence are checked afterwards, and only
// once the signature has been verified. Every rejection is an
// [*UnauthenticatedError] carrying a [Reason].
//
// The verification key comes from a [KeySource], normally a [KeyCell] that
// the key rotation watcher swaps whenever the key file changes on disk. A
// cell holding no key rejects every token.
//
// # Keys
//
// Keys are PEM encoded. Public keys are SubjectPublicKeyInfo blocks. Private
// keys are PKCS#8, either plain ("PRIVATE KEY") or password-encrypted
// ("ENCRYPTED PRIVATE KEY", as written by openssl genpkey). OpenSSH-armored
// blocks, with or without a passphrase, are also accepted.
package auth
