// Package session implements the client-side authentication session: a single
// authoritative State sequenced by a Manager through restore, sign-in,
// password sign-in, registration and sign-out.
//
// The Manager orchestrates three collaborators:
//
//	auth.Provider       -> interactive identity-provider handshake + token exchange
//	credstore.Store     -> durable (identity, token) pair under the "auth" partition
//	BearerSink          -> HTTP client whose Authorization header tracks the token
//
// # State machine
//
//	Unknown → Restoring → Anonymous ⇄ SigningIn → Authenticated ⇄ SigningOut → Anonymous
//
// Every transition is computed by Transition from the previous snapshot and an
// Event, so each step can be tested in isolation. Pending is the mutual
// exclusion guard: an operation attempted while another is in flight returns
// ErrBusy and the unchanged snapshot, with no collaborator calls.
//
// # Failure policy
//
// Sign-in failures fully reset the session to anonymous and are reported in
// State.LastError, classified by Kind. The session is never reported as
// authenticated before the credential store has accepted the pair. Sign-out
// always converges to anonymous even when revocation or erasure fail; those
// failures are only logged. Restore failures are indistinguishable from "never
// signed in" and are only logged.
//
// Operations return the resulting State rather than an error so callers can
// render success and failure uniformly:
//
//	st, err := mgr.SignIn(ctx)
//	if errors.Is(err, session.ErrBusy) { return }
//	if st.LastError != nil { showError(st.LastError.Message) }
//
// # Observers
//
// Attach registers a single Observer (replacing any previous one) and pushes
// the current snapshot immediately; every completed operation pushes a fresh
// snapshot afterwards. With no observer attached snapshots are dropped.
// Observers may call back into the Manager; a snapshot produced from inside
// StateChanged is delivered after the callback returns.
package session
