// Package lti implements the trust side of an IMS LTI 2.1 tool provider:
// the one-time registration handshake with a tool consumer, and the
// per-request authentication of launches.
//
// Registration negotiates capabilities against the consumer's advertised
// profile, exchanges a signed JWT bearer assertion for an access token,
// creates the tool proxy at the consumer, and derives the shared secret
// from two halves — one contributed by each party — before persisting the
// trust record.
//
// Launch authentication verifies the OAuth1 HMAC-SHA1 signature of each
// launch request against the stored shared secret and enforces a nonce
// replay window.
//
// Storage backends (storage/memory, storage/bolt) and the security toolkit
// (security) are pluggable; see the examples directory and cmd/ltiserver
// for wiring.
package lti
