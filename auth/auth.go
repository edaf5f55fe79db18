package auth

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the identity provider (or a service it depends on)
// cannot be reached or is not configured on this device.
var ErrUnavailable = errors.New("auth: provider unavailable")

// ErrCancelled indicates the user abandoned the interactive sign-in.
var ErrCancelled = errors.New("auth: sign-in cancelled")

// ErrInvalidCredentials indicates the backend rejected an email/password pair.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrAccountExists indicates a registration for an email that is already taken.
var ErrAccountExists = errors.New("auth: account already exists")

// Profile is the signed-in user's public profile. Its JSON encoding is the
// identity payload persisted next to the session token.
type Profile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Photo      string `json:"photo,omitempty"`
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
}

// Clone returns a copy of p, or nil for a nil receiver.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// SignInResult is what an interactive handshake yields: the user's profile and
// a provider-issued token to be exchanged for a session token.
type SignInResult struct {
	Profile       *Profile
	ProviderToken string
}

// Provider performs the external identity-provider handshake.
type Provider interface {
	// CheckAvailable reports whether the provider's prerequisites are present.
	CheckAvailable(ctx context.Context) error
	// InteractiveSignIn runs the user-facing handshake. Cancellation by the
	// user should be reported as ErrCancelled.
	InteractiveSignIn(ctx context.Context) (*SignInResult, error)
	// ExchangeToken trades a provider token for an application session token.
	ExchangeToken(ctx context.Context, providerToken string) (string, error)
	// SignOut revokes the provider-side session. Callers treat failures as
	// ignorable.
	SignOut(ctx context.Context) error
}

// PasswordResult is the backend's answer to an email/password sign-in or
// registration.
type PasswordResult struct {
	Profile *Profile
	Token   string
}

// PasswordAuthenticator signs users in (or up) with an email and password.
type PasswordAuthenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (*PasswordResult, error)
	Register(ctx context.Context, email, password string) (*PasswordResult, error)
}
