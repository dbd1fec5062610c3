// Package session verifies the access tokens that HTTP and WebSocket clients
// present.
//
// Access tokens are PASETO v4.public, short-lived, and carry the account ID
// ("uid") and a session ID ("sid"). A token only authenticates while its
// account exists and is verified; revoked session IDs are held in a TTL
// denylist until the token would have expired anyway.
//
// Credential exchange (passwords, refresh tokens) lives outside this package.
package session
