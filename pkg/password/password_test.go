package password

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func md5sum(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestHasher_RoundTrip(t *testing.T) {
	for _, legacy := range []bool{false, true} {
		h := NewHasher(legacy)
		h.Cost = bcrypt.MinCost

		stored, err := h.Hash("hunter2")
		require.NoError(t, err)
		assert.NotEqual(t, "hunter2", stored)

		ok, err := h.Verify("hunter2", stored)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = h.Verify("hunter2x", stored)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestHasher_LegacyFormat(t *testing.T) {
	h := NewHasher(true)

	stored, err := h.Hash("hunter2")
	require.NoError(t, err)
	require.Len(t, stored, 45)

	// trailing 13 characters are the reusable salt token
	salt := stored[len(stored)-13:]
	assert.Equal(t, md5sum("hunter2"+salt)+salt, stored)
}

func TestHasher_VerifyLegacyUnsaltedMD5(t *testing.T) {
	h := NewHasher(false)

	stored := md5sum("hunter2")
	require.Len(t, stored, 32)

	ok, err := h.Verify("hunter2", stored)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", stored)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_VerifyMovableSalt(t *testing.T) {
	h := NewHasher(false)

	salt := "abc1234567890"
	stored := md5sum("hunter2"+salt) + salt

	ok, err := h.Verify("hunter2", stored)
	require.NoError(t, err)
	assert.True(t, ok)

	// input is trimmed before hashing, matching stored behaviour
	ok, err = h.Verify("  hunter2  ", stored)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("hunter3", stored)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_VerifyBcrypt(t *testing.T) {
	h := NewHasher(false)

	raw, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	require.Greater(t, len(raw), 50)

	ok, err := h.Verify("hunter2", string(raw))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("hunter3", string(raw))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_VerifyUnsupportedFormats(t *testing.T) {
	h := NewHasher(false)

	// crypt(3)-style value longer than 50 chars that is not bcrypt
	ok, err := h.Verify("hunter2", "$1$"+strings.Repeat("ab", 30))
	assert.ErrorIs(t, err, ErrUnsupportedHash)
	assert.False(t, ok)

	ok, err = h.Verify("hunter2", "short")
	assert.ErrorIs(t, err, ErrUnsupportedHash)
	assert.False(t, ok)

	ok, err = h.Verify("hunter2", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_NeedsRehash(t *testing.T) {
	h := NewHasher(false)

	legacy := NewHasher(true)
	stored, err := legacy.Hash("hunter2")
	require.NoError(t, err)
	assert.True(t, h.NeedsRehash(stored))
	assert.True(t, h.NeedsRehash(md5sum("hunter2")))

	raw, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, h.NeedsRehash(string(raw)))

	// legacy-mode hasher never asks for an upgrade
	assert.False(t, legacy.NeedsRehash(stored))
}

func TestGenerator_Password(t *testing.T) {
	g := NewGenerator()

	pass, err := g.Password(12, false)
	require.NoError(t, err)
	assert.Len(t, pass, 12)
	for _, c := range pass {
		assert.Contains(t, passwordChars, string(c))
	}

	withSpecial, err := g.Password(64, true)
	require.NoError(t, err)
	assert.Len(t, withSpecial, 64)

	// zero length falls back to the default
	pass, err = g.Password(0, false)
	require.NoError(t, err)
	assert.Len(t, pass, 12)
}

func TestGenerator_ActivationKey(t *testing.T) {
	g := NewGenerator()

	key, err := g.ActivationKey(9)
	require.NoError(t, err)
	assert.Len(t, key, 9)

	other, err := g.ActivationKey(9)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}
