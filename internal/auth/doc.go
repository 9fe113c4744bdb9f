// Package auth implements JWT bearer-token verification for the
// controller API.
//
// Two roles exist: viewer (read state and telemetry) and operator
// (viewer privileges plus session control: connect, arm, disconnect).
// Tokens are signed HS256 with a shared secret, or RS256 when a public
// key PEM is configured.
package auth
