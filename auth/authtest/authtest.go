// Package authtest provides scriptable fakes for auth.Provider and
// auth.PasswordAuthenticator. Every method counts its calls so tests can assert
// that a collaborator was (or was not) reached.
package authtest

import (
	"context"
	"sync"

	"github.com/ggoodman/authsession-go/auth"
)

// Provider is a fake auth.Provider. Zero-valued error fields mean success.
type Provider struct {
	mu sync.Mutex

	AvailableErr  error
	Result        *auth.SignInResult
	SignInErr     error
	SessionToken  string
	ExchangeErr   error
	SignOutErr    error
	SignOutPanics bool

	// Gate, when non-nil, blocks InteractiveSignIn until it is closed or the
	// context ends. Entered is closed when InteractiveSignIn is first reached.
	Gate    chan struct{}
	Entered chan struct{}

	available, signIns, exchanges, signOuts int
	lastProviderToken                       string
	entered                                 bool
}

// NewProvider returns a Provider whose handshake succeeds with profile, a
// provider token of "provider-token", and exchanges it for sessionToken.
func NewProvider(profile *auth.Profile, sessionToken string) *Provider {
	return &Provider{
		Result:       &auth.SignInResult{Profile: profile, ProviderToken: "provider-token"},
		SessionToken: sessionToken,
	}
}

func (p *Provider) CheckAvailable(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available++
	return p.AvailableErr
}

func (p *Provider) InteractiveSignIn(ctx context.Context) (*auth.SignInResult, error) {
	p.mu.Lock()
	p.signIns++
	gate := p.Gate
	if p.Entered != nil && !p.entered {
		p.entered = true
		close(p.Entered)
	}
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SignInErr != nil {
		return nil, p.SignInErr
	}
	if p.Result == nil {
		return nil, nil
	}
	res := &auth.SignInResult{Profile: p.Result.Profile.Clone(), ProviderToken: p.Result.ProviderToken}
	return res, nil
}

func (p *Provider) ExchangeToken(ctx context.Context, providerToken string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges++
	p.lastProviderToken = providerToken
	if p.ExchangeErr != nil {
		return "", p.ExchangeErr
	}
	return p.SessionToken, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.signOuts++
	boom, err := p.SignOutPanics, p.SignOutErr
	p.mu.Unlock()
	if boom {
		panic("authtest: injected SignOut panic")
	}
	return err
}

// CheckAvailableCalls returns the number of CheckAvailable calls.
func (p *Provider) CheckAvailableCalls() int { p.mu.Lock(); defer p.mu.Unlock(); return p.available }

// SignInCalls returns the number of InteractiveSignIn calls.
func (p *Provider) SignInCalls() int { p.mu.Lock(); defer p.mu.Unlock(); return p.signIns }

// ExchangeCalls returns the number of ExchangeToken calls.
func (p *Provider) ExchangeCalls() int { p.mu.Lock(); defer p.mu.Unlock(); return p.exchanges }

// SignOutCalls returns the number of SignOut calls.
func (p *Provider) SignOutCalls() int { p.mu.Lock(); defer p.mu.Unlock(); return p.signOuts }

// LastProviderToken returns the token most recently passed to ExchangeToken.
func (p *Provider) LastProviderToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastProviderToken
}

var _ auth.Provider = (*Provider)(nil)

// PasswordAuthenticator is a fake auth.PasswordAuthenticator.
type PasswordAuthenticator struct {
	mu sync.Mutex

	Result      *auth.PasswordResult
	SignInErr   error
	RegisterErr error

	signIns, registrations int
	lastEmail              string
}

func (a *PasswordAuthenticator) SignInWithPassword(ctx context.Context, email, password string) (*auth.PasswordResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signIns++
	a.lastEmail = email
	if a.SignInErr != nil {
		return nil, a.SignInErr
	}
	return a.result(), nil
}

func (a *PasswordAuthenticator) Register(ctx context.Context, email, password string) (*auth.PasswordResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.registrations++
	a.lastEmail = email
	if a.RegisterErr != nil {
		return nil, a.RegisterErr
	}
	return a.result(), nil
}

func (a *PasswordAuthenticator) result() *auth.PasswordResult {
	if a.Result == nil {
		return nil
	}
	return &auth.PasswordResult{Profile: a.Result.Profile.Clone(), Token: a.Result.Token}
}

// SignInCalls returns the number of SignInWithPassword calls.
func (a *PasswordAuthenticator) SignInCalls() int { a.mu.Lock(); defer a.mu.Unlock(); return a.signIns }

// RegisterCalls returns the number of Register calls.
func (a *PasswordAuthenticator) RegisterCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registrations
}

// LastEmail returns the email most recently presented.
func (a *PasswordAuthenticator) LastEmail() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastEmail
}

var _ auth.PasswordAuthenticator = (*PasswordAuthenticator)(nil)
