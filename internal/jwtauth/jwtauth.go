// Package jwtauth verifies session tokens issued by the application backend
// when they are JWTs signed with a key published in a JWKS document.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation of session tokens.
type Config struct {
	Issuer string
	// ExpectedAudiences lists accepted audiences; a token must carry at least one.
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// ErrUnauthorized indicates that the token failed validation (signature,
// issuer, audience, exp/nbf, subject).
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// Claims is the verified subset of a session token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	raw       jwt.MapClaims
}

// Decode re-marshals the raw claims into ref.
func (c *Claims) Decode(ref any) error {
	b, err := json.Marshal(c.raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Verifier validates session tokens.
type Verifier struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
}

// New constructs a Verifier whose keys are fetched (and refreshed) from jwksURL.
func New(ctx context.Context, cfg *Config, jwksURL string) (*Verifier, error) {
	if jwksURL == "" {
		return nil, errors.New("jwks url required")
	}
	if err := normalize(cfg); err != nil {
		return nil, err
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return newVerifier(cfg, kf.Keyfunc), nil
}

// NewFromJWKS constructs a Verifier from a fixed JWKS document.
func NewFromJWKS(cfg *Config, jwks json.RawMessage) (*Verifier, error) {
	if err := normalize(cfg); err != nil {
		return nil, err
	}
	kf, err := keyfunc.NewJWKSetJSON(jwks)
	if err != nil {
		return nil, fmt.Errorf("invalid jwks: %w", err)
	}
	return newVerifier(cfg, kf.Keyfunc), nil
}

func normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return errors.New("at least one expected audience required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	return nil
}

func newVerifier(cfg *Config, kf jwt.Keyfunc) *Verifier {
	return &Verifier{cfg: cfg, keyfunc: func(t *jwt.Token) (any, error) {
		if alg := t.Method.Alg(); !slices.Contains(cfg.AllowedAlgs, alg) {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		return kf(t)
	}}
}

// Verify checks signature, issuer, audience, expiry and subject.
func (v *Verifier) Verify(ctx context.Context, tok string) (*Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if !audIntersects(claims["aud"], v.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	out := &Claims{Subject: sub, raw: claims}
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
