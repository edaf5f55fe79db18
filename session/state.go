package session

import "github.com/ggoodman/authsession-go/auth"

// Phase is the position of the session in its state machine.
//
//	Unknown → Restoring → Anonymous ⇄ SigningIn → Authenticated ⇄ SigningOut → Anonymous
//
// Restoring, SigningIn and SigningOut are transient and always resolve to
// Anonymous or Authenticated.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseRestoring
	PhaseAnonymous
	PhaseSigningIn
	PhaseAuthenticated
	PhaseSigningOut
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseRestoring:
		return "restoring"
	case PhaseAnonymous:
		return "anonymous"
	case PhaseSigningIn:
		return "signing_in"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseSigningOut:
		return "signing_out"
	default:
		return "invalid"
	}
}

// Transient reports whether p is an in-flight phase.
func (p Phase) Transient() bool {
	return p == PhaseRestoring || p == PhaseSigningIn || p == PhaseSigningOut
}

// ErrorInfo describes the failure of the most recent operation.
type ErrorInfo struct {
	Kind    Kind
	Message string
}

// State is a snapshot of the session. Values handed out by the Manager are
// copies; mutating them has no effect on the Manager.
//
// Authenticated is true exactly when Identity is non-nil and Token is non-empty.
type State struct {
	Phase         Phase
	Authenticated bool
	Identity      *auth.Profile
	Token         string
	Pending       bool
	LastError     *ErrorInfo
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.Identity = s.Identity.Clone()
	if s.LastError != nil {
		e := *s.LastError
		s.LastError = &e
	}
	return s
}

// Event is an input to Transition.
type Event interface{ event() }

// RestoreStarted begins a restore.
type RestoreStarted struct{}

// Restored completes a restore that found a usable credential pair.
type Restored struct {
	Identity *auth.Profile
	Token    string
}

// RestoreEmpty completes a restore that found nothing usable.
type RestoreEmpty struct{}

// SignInStarted begins any sign-in flavour (provider, password, registration).
type SignInStarted struct{}

// SignInSucceeded completes a sign-in whose credentials are durably stored.
// Op names the sign-in flavour for error reporting; empty means "sign in".
type SignInSucceeded struct {
	Op       string
	Identity *auth.Profile
	Token    string
}

// SignInFailed completes a sign-in that failed at any step.
type SignInFailed struct{ Err *Error }

// SignOutStarted begins a sign-out.
type SignOutStarted struct{}

// SignedOut completes a sign-out. Err is set only when an unexpected failure
// escaped one of the sign-out steps; the session is cleared regardless.
type SignedOut struct{ Err *Error }

func (RestoreStarted) event()  {}
func (Restored) event()        {}
func (RestoreEmpty) event()    {}
func (SignInStarted) event()   {}
func (SignInSucceeded) event() {}
func (SignInFailed) event()    {}
func (SignOutStarted) event()  {}
func (SignedOut) event()       {}

// Transition returns the state that follows prev after ev. It is pure: prev is
// not modified and the result shares no pointers with prev or ev.
func Transition(prev State, ev Event) State {
	next := prev.Clone()
	switch e := ev.(type) {
	case RestoreStarted:
		next.Phase = PhaseRestoring
		next.Pending = true
		next.LastError = nil
	case SignInStarted:
		next.Phase = PhaseSigningIn
		next.Pending = true
		next.LastError = nil
	case SignOutStarted:
		next.Phase = PhaseSigningOut
		next.Pending = true
		next.LastError = nil

	case Restored:
		if e.Identity == nil || e.Token == "" {
			return anonymous(nil)
		}
		return authenticated(e.Identity, e.Token)
	case RestoreEmpty:
		return anonymous(nil)
	case SignInSucceeded:
		if e.Identity == nil || e.Token == "" {
			op := e.Op
			if op == "" {
				op = opSignIn
			}
			return anonymous(newError(op, KindIncompleteProviderResponse, errMissingIdentity))
		}
		return authenticated(e.Identity, e.Token)
	case SignInFailed:
		if e.Err == nil {
			return anonymous(newError(opSignIn, KindGenericOperationFailure, nil))
		}
		return anonymous(e.Err)
	case SignedOut:
		return anonymous(e.Err)
	}
	return next
}

func authenticated(identity *auth.Profile, token string) State {
	return State{
		Phase:         PhaseAuthenticated,
		Authenticated: true,
		Identity:      identity.Clone(),
		Token:         token,
	}
}

func anonymous(err *Error) State {
	s := State{Phase: PhaseAnonymous}
	if err != nil {
		s.LastError = err.Info()
	}
	return s
}
