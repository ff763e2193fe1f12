// Package token manages opaque bearer tokens: issuance, lazy expiry,
// revocation, and periodic sweeping.
//
// Secrets are handed to the caller once, at issuance. Stores only ever see the
// digest produced by security/token.Digester, so every lookup digests the
// presented secret first.
//
// A token moves ACTIVE -> INACTIVE exactly once. Issuing a LOGIN token
// deactivates every other active LOGIN token of the same user, serialized per
// user by the store.
package token
