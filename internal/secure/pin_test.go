package secure

import "testing"

func TestHashPINRoundTrip(t *testing.T) {
	for _, h := range []PINHasher{SHA256Hasher{}, DefaultArgon2Hasher()} {
		t.Run(h.Scheme(), func(t *testing.T) {
			hash, salt, err := HashPIN(h, "4242")
			if err != nil {
				t.Fatalf("hash pin: %v", err)
			}
			if h.Hash(salt, "4242") != hash {
				t.Error("hash is not deterministic for the same salt and pin")
			}
			if !VerifyPIN(h, "4242", salt, hash) {
				t.Error("correct pin did not verify")
			}
			if VerifyPIN(h, "0000", salt, hash) {
				t.Error("wrong pin verified")
			}
		})
	}
}

func TestSHA256HashNoCollisions(t *testing.T) {
	h := SHA256Hasher{}
	salt, err := GenerateSalt(SaltBytes)
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	seen := make(map[string]int, 10000)
	for p := 0; p < 10000; p++ {
		pin := []byte{byte('0' + p/1000), byte('0' + p/100%10), byte('0' + p/10%10), byte('0' + p%10)}
		sum := h.Hash(salt, string(pin))
		if prev, ok := seen[sum]; ok {
			t.Fatalf("collision between %04d and %s", prev, pin)
		}
		seen[sum] = p
	}
}

func TestSaltChangesHash(t *testing.T) {
	h := SHA256Hasher{}
	if h.Hash("aa", "1234") == h.Hash("bb", "1234") {
		t.Error("different salts produced the same hash")
	}
}

func TestHasherFor(t *testing.T) {
	for _, scheme := range []string{"", SchemeSHA256, SchemeArgon2ID} {
		if _, err := HasherFor(scheme); err != nil {
			t.Errorf("HasherFor(%q): %v", scheme, err)
		}
	}
	if _, err := HasherFor("md5"); err == nil {
		t.Error("expected error for unknown scheme")
	}
}

func TestValidPIN(t *testing.T) {
	valid := []string{"1234", "00000000", "424242"}
	invalid := []string{"", "123", "123456789", "12a4", " 1234", "１２３４"}
	for _, p := range valid {
		if !ValidPIN(p) {
			t.Errorf("ValidPIN(%q) = false", p)
		}
	}
	for _, p := range invalid {
		if ValidPIN(p) {
			t.Errorf("ValidPIN(%q) = true", p)
		}
	}
}
