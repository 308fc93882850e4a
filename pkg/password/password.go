// Package password implements Grantly's password hashing and generation.
//
// Two schemes coexist: bcrypt is the forward-looking default, and the
// legacy movable-salt MD5 format is verified (and optionally written) for
// compatibility with existing stored hashes. The legacy format is
// md5(plain+salt)+salt where salt is the 13 trailing characters of the
// stored value.
package password

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/grantly/grantly/pkg/interfaces"
)

const saltLength = 13

// ErrUnsupportedHash is returned for stored values in a format Verify
// cannot reproduce. Verification fails closed.
var ErrUnsupportedHash = fmt.Errorf("unsupported password hash format")

// Hasher hashes and verifies passwords
type Hasher struct {
	// Legacy writes new hashes in the movable-salt MD5 format instead
	// of bcrypt. Verification accepts both regardless.
	Legacy bool

	// Cost is the bcrypt cost, bcrypt.DefaultCost when zero
	Cost int

	random interfaces.RandomSource
}

// NewHasher creates a Hasher backed by crypto/rand
func NewHasher(legacy bool) *Hasher {
	return &Hasher{Legacy: legacy, random: rand.Reader}
}

// WithRandom overrides the random source, for tests
func (h *Hasher) WithRandom(r interfaces.RandomSource) *Hasher {
	h.random = r
	return h
}

// Hash produces a stored hash for the plaintext
func (h *Hasher) Hash(plain string) (string, error) {
	if h.Legacy {
		salt, err := h.saltToken()
		if err != nil {
			return "", err
		}
		return legacyHash(plain, salt), nil
	}

	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(out), nil
}

// Verify checks the plaintext against a stored hash. The stored format is
// detected by shape: exactly 32 characters is a bare legacy MD5, more than
// 50 characters is a bcrypt hash, anything else carries a trailing
// 13-character salt token.
func (h *Hasher) Verify(plain, stored string) (bool, error) {
	switch {
	case stored == "":
		return false, nil

	case len(stored) == md5.Size*2:
		sum := md5Hex(plain)
		return subtle.ConstantTimeCompare([]byte(sum), []byte(stored)) == 1, nil

	case len(stored) > 50:
		if !strings.HasPrefix(stored, "$2") {
			// crypt(3)-style values other than bcrypt cannot be
			// reproduced reliably; refuse rather than guess.
			return false, ErrUnsupportedHash
		}
		err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain))
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil

	case len(stored) > saltLength:
		salt := stored[len(stored)-saltLength:]
		computed := legacyHash(plain, salt)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1, nil

	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsRehash reports whether the stored hash is in a legacy format that
// should be upgraded on the next successful login
func (h *Hasher) NeedsRehash(stored string) bool {
	if h.Legacy {
		return false
	}
	return !strings.HasPrefix(stored, "$2")
}

// legacyHash computes md5(trim(plain)+salt)+salt
func legacyHash(plain, salt string) string {
	return md5Hex(strings.TrimSpace(plain)+salt) + salt
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// saltToken draws a fresh 13-character opaque salt
func (h *Hasher) saltToken() (string, error) {
	buf := make([]byte, (saltLength+1)/2)
	if _, err := io.ReadFull(h.random, buf); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(buf)[:saltLength], nil
}

// Generator produces random passwords and activation keys. Always backed
// by a CSPRNG; the legacy character set is preserved for compatibility
// with downstream consumers of generated values.
type Generator struct {
	random interfaces.RandomSource
}

// NewGenerator creates a Generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{random: rand.Reader}
}

// WithRandom overrides the random source, for tests
func (g *Generator) WithRandom(r interfaces.RandomSource) *Generator {
	g.random = r
	return g
}

const (
	passwordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	specialChars  = "!@#$%^&*()"
)

// Password generates a random password of the given length, optionally
// including the standard special characters
func (g *Generator) Password(length int, special bool) (string, error) {
	if length <= 0 {
		length = 12
	}
	chars := passwordChars
	if special {
		chars += specialChars
	}
	return g.fromCharset(length, chars)
}

// ActivationKey generates a random activation key
func (g *Generator) ActivationKey(length int) (string, error) {
	if length <= 0 {
		length = 9
	}
	return g.fromCharset(length, passwordChars)
}

// fromCharset draws characters uniformly via rejection sampling
func (g *Generator) fromCharset(length int, chars string) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, 1)

	// largest multiple of len(chars) below 256, to keep the draw uniform
	limit := byte(256 - (256 % len(chars)))

	for len(out) < length {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		if limit != 0 && buf[0] >= limit {
			continue
		}
		out = append(out, chars[int(buf[0])%len(chars)])
	}
	return string(out), nil
}
