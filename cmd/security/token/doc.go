// Package token provides opaque-token primitives for Parley.
//
// It generates random URL-safe codes (group-chat invites) and hashes them for
// server-side storage so a leaked store never reveals a usable code.
//
// Hashing modes:
//   - SHA-256(code) when no key is configured (development).
//   - HMAC-SHA256(code, key) when PARLEY_TOKEN_HMAC_KEY is set.
package token
