package secure

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	SchemeSHA256   = "sha256"
	SchemeArgon2ID = "argon2id"

	MinPINLength = 4
	MaxPINLength = 8
)

// PINHasher derives the stored hash of a PIN from its salt.
type PINHasher interface {
	Scheme() string
	Hash(salt, pin string) string
}

// SHA256Hasher is a single fast digest over salt||pin. Brute-force resistance
// comes from the online lockout only; an offline copy of hash and salt for a
// 4–8 digit PIN falls quickly. Argon2Hasher is the opt-in alternative.
type SHA256Hasher struct{}

func (SHA256Hasher) Scheme() string { return SchemeSHA256 }

func (SHA256Hasher) Hash(salt, pin string) string {
	sum := sha256.Sum256([]byte(salt + pin))
	return hex.EncodeToString(sum[:])
}

// Argon2Hasher derives the PIN hash with argon2id.
type Argon2Hasher struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultArgon2Hasher uses interactive-login parameters.
func DefaultArgon2Hasher() Argon2Hasher {
	return Argon2Hasher{Time: 1, Memory: 64 * 1024, Threads: 4}
}

func (Argon2Hasher) Scheme() string { return SchemeArgon2ID }

func (h Argon2Hasher) Hash(salt, pin string) string {
	key := argon2.IDKey([]byte(pin), []byte(salt), h.Time, h.Memory, h.Threads, 32)
	return hex.EncodeToString(key)
}

// HasherFor returns the hasher that produced hashes tagged with scheme.
func HasherFor(scheme string) (PINHasher, error) {
	switch scheme {
	case SchemeSHA256, "":
		return SHA256Hasher{}, nil
	case SchemeArgon2ID:
		return DefaultArgon2Hasher(), nil
	default:
		return nil, fmt.Errorf("unknown pin scheme %q", scheme)
	}
}

// HashPIN salts and hashes a PIN for storage.
func HashPIN(h PINHasher, pin string) (hash, salt string, err error) {
	salt, err = GenerateSalt(SaltBytes)
	if err != nil {
		return "", "", err
	}
	return h.Hash(salt, pin), salt, nil
}

// VerifyPIN recomputes the hash and compares it in constant time.
func VerifyPIN(h PINHasher, pin, salt, hash string) bool {
	return EqualString(h.Hash(salt, pin), hash)
}

// ValidPIN reports whether pin is 4–8 ASCII digits.
func ValidPIN(pin string) bool {
	if len(pin) < MinPINLength || len(pin) > MaxPINLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
