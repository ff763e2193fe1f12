package app

import (
	"errors"
	"fmt"

	"hfauth/cmd/security/password"
	sectoken "hfauth/cmd/security/token"
)

// securityStack is what the auth components need from the security packages.
type securityStack struct {
	digester sectoken.Digester
	hasher   password.Hasher
	policy   password.Policy
}

// loadSecurity enforces the startup security policy and builds the token
// digester and password hasher. It fails fast instead of falling back to
// weaker settings.
func loadSecurity(cfg Config) (securityStack, error) {
	d, err := sectoken.DigesterFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		switch {
		case errors.Is(err, sectoken.ErrHMACKeyMissing):
			return securityStack{}, errors.New("security policy: HF_REQUIRE_TOKEN_HMAC=true but HF_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, sectoken.ErrHMACKeyTooShort):
			return securityStack{}, fmt.Errorf("security policy: HF_REQUIRE_TOKEN_HMAC=true but HF_TOKEN_HMAC_KEY is too short (min %d bytes)", sectoken.MinHMACKeyBytes)
		default:
			return securityStack{}, err
		}
	}
	if cfg.RequireTokenHMAC && !d.Keyed() {
		return securityStack{}, errors.New("security policy: HF_REQUIRE_TOKEN_HMAC=true but token digests are not HMAC-based")
	}

	pcfg, err := password.FromEnv()
	if err != nil {
		return securityStack{}, err
	}
	h, err := password.New(pcfg.Hasher, pcfg)
	if err != nil {
		return securityStack{}, err
	}

	return securityStack{digester: d, hasher: h, policy: pcfg.Policy}, nil
}
