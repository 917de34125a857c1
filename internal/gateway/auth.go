package gateway

import "errors"

// Authenticator validates the handshake token presented by a station.
// Token issuance belongs to the external auth service; the gateway
// only checks what it is handed.
type Authenticator interface {
	Authenticate(token, deviceID string) error
}

// ErrUnauthorized rejects a handshake with a bad token.
var ErrUnauthorized = errors.New("unauthorized")

// StaticTokenAuthenticator accepts a single shared token. An empty
// expected token disables the check (development mode).
type StaticTokenAuthenticator struct {
	Token string
}

func (a StaticTokenAuthenticator) Authenticate(token, _ string) error {
	if a.Token == "" {
		return nil
	}
	if token != a.Token {
		return ErrUnauthorized
	}
	return nil
}
