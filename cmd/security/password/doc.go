// Package password holds the credential hashing strategies used by the
// credential store.
//
// Two strategies exist:
//   - Plain stores the secret verbatim and compares it as-is. It is the default
//     and matches the behavior existing deployments rely on.
//   - Argon2id stores a PHC-style encoded hash
//     ($argon2id$v=19$m=..,t=..,p=..$salt$key).
//
// Stored hashes are treated as untrusted input during Verify.
package password
