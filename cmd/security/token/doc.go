// Package token derives the storage digests of bearer and session secrets.
//
// Secrets are never persisted in plaintext: stores index them by a 64-char hex
// digest. With a configured key the digest is HMAC-SHA256(secret, key);
// without one it falls back to SHA-256(secret) for development.
//
// Environment:
//   - HF_TOKEN_HMAC_KEY: enables HMAC mode when set.
package token
