package secure

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	slugAlphabet      = "abcdefghijklmnopqrstuvwxyz0123456789"
	DefaultSlugPrefix = "snl"
	slugBodyLength    = 6
	fallbackLength    = 10
)

func randomSlugBody(n int) (string, error) {
	max := big.NewInt(int64(len(slugAlphabet)))
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(randReader, max)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRandomSourceUnavailable, err)
		}
		sb.WriteByte(slugAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// SlugPrefix takes the first three ASCII letters of hint, lowercased. Hints
// with fewer than three letters fall back to "snl".
func SlugPrefix(hint string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(hint) {
		if r >= 'a' && r <= 'z' {
			sb.WriteRune(r)
			if sb.Len() == 3 {
				return sb.String()
			}
		}
	}
	return DefaultSlugPrefix
}

// GenerateSlug returns "{prefix}-{6 lowercase alphanumerics}".
func GenerateSlug(hint string) (string, error) {
	body, err := randomSlugBody(slugBodyLength)
	if err != nil {
		return "", err
	}
	return SlugPrefix(hint) + "-" + body, nil
}

// FallbackSlug is used after repeated collisions: "snl-{10 lowercase alphanumerics}".
func FallbackSlug() (string, error) {
	body, err := randomSlugBody(fallbackLength)
	if err != nil {
		return "", err
	}
	return DefaultSlugPrefix + "-" + body, nil
}
