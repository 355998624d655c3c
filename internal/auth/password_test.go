package auth

import (
	"crypto/rand"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func randomPassword(t *testing.T, n int) string {
	t.Helper()
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()-_=+"
	var b strings.Builder
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		require.NoError(t, err)
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}

func TestNewPasswordManagerCost(t *testing.T) {
	assert.Equal(t, DefaultBcryptCost, NewPasswordManager(0).Cost())
	assert.Equal(t, MinBcryptCost, NewPasswordManager(4).Cost())
	assert.Equal(t, 11, NewPasswordManager(11).Cost())
	assert.Equal(t, bcrypt.MaxCost, NewPasswordManager(99).Cost())
}

func TestHashVerify(t *testing.T) {
	// Cost is lowered so the property loop stays fast.
	m := &PasswordManager{cost: bcrypt.MinCost}

	iterations := 100
	if testing.Short() {
		iterations = 10
	}
	for i := 0; i < iterations; i++ {
		n := 8 + i%57
		p := randomPassword(t, n)
		h, err := m.Hash(p)
		require.NoError(t, err)
		assert.NotEqual(t, p, h)

		ok, err := m.Verify(p, h)
		require.NoError(t, err)
		assert.True(t, ok, "password of length %d should verify", n)

		other := p + "x"
		ok, err = m.Verify(other, h)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestHashUsesConfiguredCost(t *testing.T) {
	m := NewPasswordManager(MinBcryptCost)
	h, err := m.Hash("Str0ng!Pass")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(h))
	require.NoError(t, err)
	assert.Equal(t, MinBcryptCost, cost)
}

func TestVerifyMalformedHash(t *testing.T) {
	m := &PasswordManager{cost: bcrypt.MinCost}
	ok, err := m.Verify("whatever", "not-a-bcrypt-hash")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestHashLongPassword(t *testing.T) {
	m := &PasswordManager{cost: bcrypt.MinCost}
	p := strings.Repeat("Aa1!", 30) // 120 bytes
	h, err := m.Hash(p)
	require.NoError(t, err)

	ok, err := m.Verify(p, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDummyHashIsStable(t *testing.T) {
	m := &PasswordManager{cost: bcrypt.MinCost}
	h := m.DummyHash()
	require.NotEmpty(t, h)
	assert.Equal(t, h, m.DummyHash())

	ok, err := m.Verify("Str0ng!Pass", h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidatePasswordStrength(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		res := ValidatePasswordStrength("short")
		assert.False(t, res.Valid)
		assert.GreaterOrEqual(t, len(res.Errors), 4)
		assert.Contains(t, res.Errors, MsgTooShort)
		assert.Contains(t, res.Errors, MsgNoUppercase)
		assert.Contains(t, res.Errors, MsgNoDigit)
		assert.Contains(t, res.Errors, MsgNoSpecial)
	})

	t.Run("strong", func(t *testing.T) {
		res := ValidatePasswordStrength("Str0ng!Pass")
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
	})

	t.Run("all lowercase word", func(t *testing.T) {
		res := ValidatePasswordStrength("password")
		assert.False(t, res.Valid)
		assert.Equal(t, []string{MsgNoUppercase, MsgNoDigit, MsgNoSpecial}, res.Errors)
	})

	t.Run("too long", func(t *testing.T) {
		res := ValidatePasswordStrength("Aa1!" + strings.Repeat("x", 125))
		assert.False(t, res.Valid)
		assert.Equal(t, []string{MsgTooLong}, res.Errors)
	})

	t.Run("boundary lengths", func(t *testing.T) {
		assert.True(t, ValidatePasswordStrength("Aa1!aaaa").Valid)
		assert.True(t, ValidatePasswordStrength("Aa1!"+strings.Repeat("a", 124)).Valid)
	})
}
