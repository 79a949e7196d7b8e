package identity

import "errors"

var (
	// ErrMissingToken is returned when no bearer token was presented
	ErrMissingToken = errors.New("missing bearer token")

	// ErrConfiguration means the verifier cannot run. AZURE_AUDIENCE must be set.
	ErrConfiguration = errors.New("identity verification is not configured: AZURE_AUDIENCE is not set")

	// ErrInvalidToken covers every signature, issuer, audience, algorithm and
	// expiry failure.
	ErrInvalidToken = errors.New("invalid or expired session")

	// ErrMissingIdentifier means a valid token carried neither email nor preferred_username
	ErrMissingIdentifier = errors.New("token does not identify a user")
)
