package oidcauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ggoodman/authsession-go/auth"
	"github.com/ggoodman/authsession-go/internal/jwtauth"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/oauth2"
)

const callbackPath = "/callback"

var (
	// ErrStateMismatch indicates the redirect carried a state value that does
	// not belong to the pending handshake.
	ErrStateMismatch = errors.New("oidcauth: state mismatch")
	// ErrNonceMismatch indicates the ID token was not minted for this handshake.
	ErrNonceMismatch = errors.New("oidcauth: nonce mismatch")
	// ErrMissingIDToken indicates the token response carried no id_token.
	ErrMissingIDToken = errors.New("oidcauth: token response has no id_token")
	// ErrNoExchanger is returned by ExchangeToken when no TokenExchanger is configured.
	ErrNoExchanger = errors.New("oidcauth: no token exchanger configured")
)

// Config identifies the issuer and the registered client.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	// Scopes requested in addition to "openid". Defaults to profile and email.
	Scopes []string
	// RedirectPort is the loopback port for the redirect listener. Zero picks
	// a free port; issuers that require an exact redirect URI need a fixed one.
	RedirectPort int
}

// TokenExchanger trades a verified ID token for an application session token.
// *backend.Client implements it.
type TokenExchanger interface {
	ExchangeIDToken(ctx context.Context, idToken string) (string, error)
}

// Opener presents the authorization URL to the user.
type Opener func(ctx context.Context, authURL string) error

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// WithOpener sets how the authorization URL is presented.
func WithOpener(o Opener) Option { return func(p *Provider) { p.opener = o } }

// WithHTTPClient sets the client used for discovery, token and revocation calls.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.http = c } }

// WithSessionTokenJWKS requires session tokens returned by the exchanger to be
// JWTs issued by issuer for audience and signed by a key in the JWKS at jwksURL.
func WithSessionTokenJWKS(issuer, audience, jwksURL string) Option {
	return func(p *Provider) {
		p.sessionJWKS = &sessionJWKS{issuer: issuer, audience: audience, url: jwksURL}
	}
}

type sessionJWKS struct {
	issuer, audience, url string
}

// Provider is an OIDC auth.Provider.
type Provider struct {
	cfg       Config
	exchanger TokenExchanger
	opener    Opener
	http      *http.Client
	log       *slog.Logger

	sessionJWKS *sessionJWKS
	verifier    *jwtauth.Verifier

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	discovered *discovery
	held       *oauth2.Token
	handshake  sync.Mutex
}

type discovery struct {
	provider   *oidc.Provider
	revocation string
}

// New constructs a Provider. Discovery is deferred to CheckAvailable.
func New(cfg Config, exchanger TokenExchanger, opts ...Option) (*Provider, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("oidcauth: issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("oidcauth: client id is required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"profile", "email"}
	}
	p := &Provider{
		cfg:       cfg,
		exchanger: exchanger,
		opener:    printOpener,
		http:      http.DefaultClient,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if j := p.sessionJWKS; j != nil {
		jcfg := jwtauth.DefaultConfig()
		jcfg.Issuer = j.issuer
		jcfg.ExpectedAudiences = []string{j.audience}
		v, err := jwtauth.New(p.ctx, jcfg, j.url)
		if err != nil {
			p.cancel()
			return nil, fmt.Errorf("oidcauth: session token verifier: %w", err)
		}
		p.verifier = v
	}
	return p, nil
}

// Close stops background JWKS refreshes.
func (p *Provider) Close() error {
	p.cancel()
	return nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.http)
}

// CheckAvailable performs OIDC discovery once and caches the result.
func (p *Provider) CheckAvailable(ctx context.Context) error {
	_, err := p.discover(ctx)
	return err
}

func (p *Provider) discover(ctx context.Context) (*discovery, error) {
	p.mu.Lock()
	d := p.discovered
	p.mu.Unlock()
	if d != nil {
		return d, nil
	}

	op, err := oidc.NewProvider(p.clientContext(ctx), p.cfg.Issuer)
	if err != nil {
		return nil, errors.Join(auth.ErrUnavailable, fmt.Errorf("oidc discovery failed: %w", err))
	}
	var meta struct {
		Revocation string `json:"revocation_endpoint"`
	}
	if err := op.Claims(&meta); err != nil {
		return nil, errors.Join(auth.ErrUnavailable, fmt.Errorf("invalid discovery metadata: %w", err))
	}

	d = &discovery{provider: op, revocation: meta.Revocation}
	p.mu.Lock()
	p.discovered = d
	p.mu.Unlock()
	p.log.DebugContext(ctx, "oidc discovery complete",
		slog.String("issuer", p.cfg.Issuer),
		slog.Bool("revocation", d.revocation != ""))
	return d, nil
}

type callbackResult struct {
	code string
	err  error
}

// InteractiveSignIn runs the authorization code flow with PKCE.
func (p *Provider) InteractiveSignIn(ctx context.Context) (*auth.SignInResult, error) {
	p.handshake.Lock()
	defer p.handshake.Unlock()

	d, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p.cfg.RedirectPort)))
	if err != nil {
		return nil, fmt.Errorf("oidcauth: redirect listener: %w", err)
	}
	redirectURL := "http://" + ln.Addr().String() + callbackPath

	oc := p.oauth2Config(d, redirectURL)
	state := uuid.NewString()
	nonce := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackRouter(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	authURL := oc.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier), oidc.Nonce(nonce))
	p.log.InfoContext(ctx, "oidc authorization started", slog.String("redirect_uri", redirectURL))
	if err := p.opener(ctx, authURL); err != nil {
		return nil, fmt.Errorf("oidcauth: open authorization url: %w", err)
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	cctx := p.clientContext(ctx)
	tok, err := oc.Exchange(cctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("oidcauth: code exchange: %w", err)
	}
	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return nil, ErrMissingIDToken
	}

	idt, err := d.provider.Verifier(&oidc.Config{ClientID: p.cfg.ClientID}).Verify(cctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("oidcauth: id token: %w", err)
	}
	if idt.Nonce != nonce {
		return nil, ErrNonceMismatch
	}
	var claims struct {
		Name       string `json:"name"`
		Email      string `json:"email"`
		Picture    string `json:"picture"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := idt.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidcauth: id token claims: %w", err)
	}

	p.mu.Lock()
	p.held = tok
	p.mu.Unlock()

	p.log.InfoContext(ctx, "oidc authorization complete", slog.String("sub", idt.Subject))
	return &auth.SignInResult{
		Profile: &auth.Profile{
			ID:         idt.Subject,
			Name:       claims.Name,
			Email:      claims.Email,
			Photo:      claims.Picture,
			GivenName:  claims.GivenName,
			FamilyName: claims.FamilyName,
		},
		ProviderToken: rawID,
	}, nil
}

func (p *Provider) oauth2Config(d *discovery, redirectURL string) *oauth2.Config {
	scopes := []string{oidc.ScopeOpenID}
	for _, s := range p.cfg.Scopes {
		if s != oidc.ScopeOpenID {
			scopes = append(scopes, s)
		}
	}
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     d.provider.Endpoint(),
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	}
}

func callbackRouter(state string, results chan<- callbackResult) http.Handler {
	var once sync.Once
	deliver := func(r callbackResult) {
		once.Do(func() { results <- r })
	}

	r := mux.NewRouter()
	r.HandleFunc(callbackPath, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if q.Get("state") != state {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, "Sign-in failed: unexpected state. You can close this window.\n")
			deliver(callbackResult{err: ErrStateMismatch})
			return
		}
		if e := q.Get("error"); e != "" {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "Sign-in was not completed. You can close this window.\n")
			if e == "access_denied" {
				deliver(callbackResult{err: auth.ErrCancelled})
				return
			}
			deliver(callbackResult{err: fmt.Errorf("oidcauth: authorization error %q: %s", e, q.Get("error_description"))})
			return
		}
		code := q.Get("code")
		if code == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, "Sign-in failed: missing code. You can close this window.\n")
			deliver(callbackResult{err: errors.New("oidcauth: redirect carried no code")})
			return
		}
		_, _ = io.WriteString(w, "Signed in. You can close this window.\n")
		deliver(callbackResult{code: code})
	}).Methods(http.MethodGet)
	return r
}

// ExchangeToken trades the ID token for a session token through the
// configured TokenExchanger, verifying the result when a session token JWKS
// is configured.
func (p *Provider) ExchangeToken(ctx context.Context, providerToken string) (string, error) {
	if p.exchanger == nil {
		return "", ErrNoExchanger
	}
	tok, err := p.exchanger.ExchangeIDToken(ctx, providerToken)
	if err != nil {
		return "", err
	}
	if p.verifier != nil && tok != "" {
		if _, err := p.verifier.Verify(ctx, tok); err != nil {
			return "", fmt.Errorf("oidcauth: session token rejected: %w", err)
		}
	}
	return tok, nil
}

// SignOut forgets held provider tokens and revokes them (RFC 7009) when the
// issuer advertises a revocation endpoint.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	tok, d := p.held, p.discovered
	p.held = nil
	p.mu.Unlock()

	if tok == nil || d == nil || d.revocation == "" {
		return nil
	}
	var errs []error
	if tok.RefreshToken != "" {
		errs = append(errs, p.revoke(ctx, d.revocation, tok.RefreshToken, "refresh_token"))
	}
	if tok.AccessToken != "" {
		errs = append(errs, p.revoke(ctx, d.revocation, tok.AccessToken, "access_token"))
	}
	return errors.Join(errs...)
}

func (p *Provider) revoke(ctx context.Context, endpoint, token, hint string) error {
	form := url.Values{"token": {token}, "token_type_hint": {hint}}
	if p.cfg.ClientSecret == "" {
		form.Set("client_id", p.cfg.ClientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("oidcauth: revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(p.cfg.ClientID), url.QueryEscape(p.cfg.ClientSecret))
	}
	res, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("oidcauth: revoke %s: %w", hint, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("oidcauth: revoke %s: status %d", hint, res.StatusCode)
	}
	return nil
}

func printOpener(ctx context.Context, authURL string) error {
	_, err := fmt.Fprintf(os.Stderr, "Open the following URL in your browser to sign in:\n\n  %s\n\n", authURL)
	return err
}

var _ auth.Provider = (*Provider)(nil)
