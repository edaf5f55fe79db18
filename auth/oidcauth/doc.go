// Package oidcauth implements auth.Provider against an OpenID Connect issuer
// for command-line and desktop clients.
//
// The interactive handshake is the authorization code flow with PKCE. A
// short-lived loopback listener on 127.0.0.1 receives the redirect; the
// authorization URL is handed to an Opener (by default it is printed so the
// user can open it in a browser). The verified ID token is the provider token
// handed to the TokenExchanger, which trades it for the application's session
// token.
//
//	p, err := oidcauth.New(oidcauth.Config{
//		Issuer:   "https://accounts.example.com",
//		ClientID: "cli",
//	}, backendClient, oidcauth.WithOpener(openBrowser))
//	if err != nil { ... }
//	defer p.Close()
package oidcauth
