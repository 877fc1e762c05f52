package secure

import (
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestGenerateTokenFormat(t *testing.T) {
	tok, err := GenerateToken(TokenBytes)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if len(tok) < 43 {
		t.Errorf("token length = %d, want >= 43", len(tok))
	}
	if strings.ContainsAny(tok, "+/=") {
		t.Errorf("token %q contains non URL-safe characters", tok)
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		tok, err := GenerateToken(TokenBytes)
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token after %d calls", i)
		}
		seen[tok] = struct{}{}
	}
}

func TestGenerateSalt(t *testing.T) {
	salt, err := GenerateSalt(SaltBytes)
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	if len(salt) != 32 {
		t.Errorf("salt length = %d, want 32", len(salt))
	}
	if salt != strings.ToLower(salt) {
		t.Errorf("salt %q is not lowercase", salt)
	}
	if _, err := hex.DecodeString(salt); err != nil {
		t.Errorf("salt is not hex: %v", err)
	}
}

func TestRandomSourceUnavailable(t *testing.T) {
	orig := randReader
	randReader = failingReader{}
	t.Cleanup(func() { randReader = orig })

	if _, err := GenerateToken(TokenBytes); !errors.Is(err, ErrRandomSourceUnavailable) {
		t.Errorf("token err = %v, want ErrRandomSourceUnavailable", err)
	}
	if _, err := GenerateSalt(SaltBytes); !errors.Is(err, ErrRandomSourceUnavailable) {
		t.Errorf("salt err = %v, want ErrRandomSourceUnavailable", err)
	}
	if _, err := GenerateSlug("Harbour"); !errors.Is(err, ErrRandomSourceUnavailable) {
		t.Errorf("slug err = %v, want ErrRandomSourceUnavailable", err)
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("short"); got != "[REDACTED]" {
		t.Errorf("Redact(short) = %q", got)
	}
	if got := Redact("abcdefghijklmnop"); got != "abcdefgh…" {
		t.Errorf("Redact(long) = %q", got)
	}
}
