package secure

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	TokenBytes = 32
	SaltBytes  = 16
)

// ErrRandomSourceUnavailable is returned when the OS random source cannot be
// read. Callers must treat it as fatal for the operation; there is no fallback.
var ErrRandomSourceUnavailable = errors.New("secure random source unavailable")

// randReader is swapped in tests to simulate a failing source.
var randReader io.Reader = rand.Reader

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomSourceUnavailable, err)
	}
	return b, nil
}

// GenerateToken returns n random bytes encoded as unpadded URL-safe base64
// (standard alphabet with + and / replaced by - and _).
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		n = TokenBytes
	}
	b, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateSalt returns n random bytes as lowercase hex.
func GenerateSalt(n int) (string, error) {
	if n <= 0 {
		n = SaltBytes
	}
	b, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Redact shortens a secret to a prefix that is safe to put in logs.
func Redact(token string) string {
	if len(token) <= 8 {
		return "[REDACTED]"
	}
	return token[:8] + "…"
}
