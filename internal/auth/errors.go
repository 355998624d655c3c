package auth

import "errors"

var (
	// ErrInvalidToken covers every verification failure: bad signature,
	// wrong issuer or audience, expired, or malformed. Callers must not
	// tell the client which one it was.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrHashing is returned when the bcrypt primitive itself fails.
	ErrHashing = errors.New("password hashing failed")

	// ErrInvalidCredentials is the single outcome for unknown user and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
