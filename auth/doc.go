// Package auth defines the identity-provider contracts consumed by the session
// manager. It deliberately stays small: a Provider runs an interactive
// handshake and exchanges its result for an application session token, and a
// PasswordAuthenticator covers email/password sign-in and registration.
//
// Concrete providers live in sub-packages (oidcauth for OpenID Connect) and a
// scriptable fake lives in authtest.
//
// # Errors
//
// ErrUnavailable signals the provider cannot be used at all (discovery failed,
// platform service missing). ErrCancelled signals the user backed out of the
// handshake. ErrInvalidCredentials and ErrAccountExists are returned by
// PasswordAuthenticator implementations. Implementations wrap these sentinels
// with errors.Join or fmt.Errorf("%w") so callers can use errors.Is.
//
// # Profile encoding
//
// Profile's JSON form ({"id","name","email","photo",...}) is the identity
// payload persisted by the session manager. Changing field names breaks
// restoration of previously stored sessions.
package auth
