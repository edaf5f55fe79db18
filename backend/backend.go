// Package backend calls the application backend's authentication endpoints.
//
//	POST /auth/google    {"idToken"}            -> {"token"}
//	POST /auth/login     {"email","password"}   -> {"token","user"}
//	POST /auth/register  {"email","password"}   -> {"token","user"}
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ggoodman/authsession-go/apiclient"
	"github.com/ggoodman/authsession-go/auth"
)

// ErrMissingToken is returned when the backend answered 2xx without a token.
var ErrMissingToken = errors.New("backend: response carried no token")

// Client is the backend API. It satisfies auth.PasswordAuthenticator and the
// token exchanger used by the OIDC provider.
type Client struct {
	api *apiclient.Client
}

// New wraps api.
func New(api *apiclient.Client) *Client {
	return &Client{api: api}
}

type exchangeRequest struct {
	IDToken string `json:"idToken"`
}

type tokenResponse struct {
	Token string        `json:"token"`
	User  *auth.Profile `json:"user,omitempty"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ExchangeIDToken trades an identity provider ID token for a session token.
func (c *Client) ExchangeIDToken(ctx context.Context, idToken string) (string, error) {
	var res tokenResponse
	if err := c.api.Post(ctx, "/auth/google", exchangeRequest{IDToken: idToken}, &res); err != nil {
		return "", fmt.Errorf("backend: token exchange: %w", err)
	}
	if res.Token == "" {
		return "", ErrMissingToken
	}
	return res.Token, nil
}

// SignInWithPassword authenticates an existing account. A 401 maps to
// auth.ErrInvalidCredentials.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.PasswordResult, error) {
	return c.credentials(ctx, "/auth/login", email, password, http.StatusUnauthorized, auth.ErrInvalidCredentials)
}

// Register creates an account and signs it in. A 409 maps to
// auth.ErrAccountExists.
func (c *Client) Register(ctx context.Context, email, password string) (*auth.PasswordResult, error) {
	return c.credentials(ctx, "/auth/register", email, password, http.StatusConflict, auth.ErrAccountExists)
}

func (c *Client) credentials(ctx context.Context, path, email, password string, status int, sentinel error) (*auth.PasswordResult, error) {
	var res tokenResponse
	err := c.api.Post(ctx, path, credentialsRequest{Email: email, Password: password}, &res)
	if err != nil {
		var se *apiclient.StatusError
		if errors.As(err, &se) && se.StatusCode == status {
			return nil, errors.Join(sentinel, err)
		}
		return nil, fmt.Errorf("backend: %s: %w", path, err)
	}
	if res.Token == "" {
		return nil, ErrMissingToken
	}
	return &auth.PasswordResult{Profile: res.User, Token: res.Token}, nil
}

var _ auth.PasswordAuthenticator = (*Client)(nil)
