package app

import (
	"strings"
	"testing"

	"hfauth/cmd/security/password"
)

func TestLoadSecurity_RequireHMAC(t *testing.T) {
	t.Setenv("HF_TOKEN_HMAC_KEY", "")
	if _, err := loadSecurity(Config{RequireTokenHMAC: true}); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	t.Setenv("HF_TOKEN_HMAC_KEY", "short")
	if _, err := loadSecurity(Config{RequireTokenHMAC: true}); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("expected short key error, got %v", err)
	}

	t.Setenv("HF_TOKEN_HMAC_KEY", strings.Repeat("k", 32))
	st, err := loadSecurity(Config{RequireTokenHMAC: true})
	if err != nil {
		t.Fatalf("loadSecurity: %v", err)
	}
	if !st.digester.Keyed() {
		t.Fatalf("digester should be keyed")
	}
}

func TestLoadSecurity_PasswordHasher(t *testing.T) {
	t.Setenv("HF_TOKEN_HMAC_KEY", "")
	t.Setenv("HF_PASSWORD_HASHER", "")

	st, err := loadSecurity(Config{})
	if err != nil {
		t.Fatalf("loadSecurity: %v", err)
	}
	if st.hasher.Name() != password.NamePlain {
		t.Fatalf("default hasher=%q want plain", st.hasher.Name())
	}
	if st.digester.Keyed() {
		t.Fatalf("digester should fall back to SHA-256 without a key")
	}

	t.Setenv("HF_PASSWORD_HASHER", "argon2id")
	st, err = loadSecurity(Config{})
	if err != nil {
		t.Fatalf("loadSecurity: %v", err)
	}
	if st.hasher.Name() != password.NameArgon2id {
		t.Fatalf("hasher=%q want argon2id", st.hasher.Name())
	}

	t.Setenv("HF_PASSWORD_HASHER", "md5")
	if _, err := loadSecurity(Config{}); err == nil {
		t.Fatalf("expected unknown hasher error")
	}
}
