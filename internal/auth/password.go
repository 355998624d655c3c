package auth

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinBcryptCost is the lowest work factor the manager accepts.
	MinBcryptCost = 10
	// DefaultBcryptCost is used when no cost is configured.
	DefaultBcryptCost = 12

	minPasswordLength = 8
	maxPasswordLength = 128

	// bcrypt only reads the first 72 bytes of its input.
	bcryptMaxInput = 72
)

// Strength rule messages, in the order they are reported.
const (
	MsgTooShort    = "Password must be at least 8 characters long"
	MsgNoUppercase = "Password must contain at least one uppercase letter"
	MsgNoLowercase = "Password must contain at least one lowercase letter"
	MsgNoDigit     = "Password must contain at least one number"
	MsgNoSpecial   = "Password must contain at least one special character"
	MsgTooLong     = "Password must not exceed 128 characters"
)

const dummyPlaintext = "dummy-password-for-timing"

// PasswordManager hashes and verifies passwords with bcrypt.
type PasswordManager struct {
	cost int

	dummyOnce sync.Once
	dummy     string
}

// NewPasswordManager returns a manager using the given bcrypt cost.
// Zero selects DefaultBcryptCost; values below MinBcryptCost are raised to it.
func NewPasswordManager(cost int) *PasswordManager {
	switch {
	case cost == 0:
		cost = DefaultBcryptCost
	case cost < MinBcryptCost:
		cost = MinBcryptCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &PasswordManager{cost: cost}
}

// Cost reports the configured work factor.
func (m *PasswordManager) Cost() int {
	return m.cost
}

// Hash returns a bcrypt hash of password.
func (m *PasswordManager) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword(bcryptInput(password), m.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashing, err)
	}
	return string(h), nil
}

// Verify reports whether password matches hash. A mismatch is not an error;
// a malformed hash is.
func (m *PasswordManager) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("verifying password: %w", err)
}

// DummyHash returns a valid hash at the configured cost. Login compares
// against it when the account does not exist so both paths cost the same.
func (m *PasswordManager) DummyHash() string {
	m.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte(dummyPlaintext), m.cost)
		if err == nil {
			m.dummy = string(h)
		}
	})
	return m.dummy
}

func bcryptInput(password string) []byte {
	b := []byte(password)
	if len(b) > bcryptMaxInput {
		b = b[:bcryptMaxInput]
	}
	return b
}

// StrengthResult lists every rule a password violates.
type StrengthResult struct {
	Valid  bool     `json:"isValid"`
	Errors []string `json:"errors"`
}

// ValidatePasswordStrength checks length and character-class rules and
// returns all failures at once.
func ValidatePasswordStrength(password string) StrengthResult {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}

	errs := []string{}
	n := utf8.RuneCountInString(password)
	if n < minPasswordLength {
		errs = append(errs, MsgTooShort)
	}
	if !upper {
		errs = append(errs, MsgNoUppercase)
	}
	if !lower {
		errs = append(errs, MsgNoLowercase)
	}
	if !digit {
		errs = append(errs, MsgNoDigit)
	}
	if !special {
		errs = append(errs, MsgNoSpecial)
	}
	if n > maxPasswordLength {
		errs = append(errs, MsgTooLong)
	}
	return StrengthResult{Valid: len(errs) == 0, Errors: errs}
}
