package session

import (
	"strings"
	"testing"

	"github.com/ggoodman/authsession-go/auth"
)

func TestTransition(t *testing.T) {
	alice := &auth.Profile{ID: "u1", Name: "Alice", Email: "alice@example.com"}
	authed := authenticated(alice, "tok")
	failed := anonymous(newError(opSignIn, KindPersistenceFailure, nil))

	tests := []struct {
		name string
		prev State
		ev   Event
		want State
	}{
		{
			name: "restore starts from unknown",
			prev: State{},
			ev:   RestoreStarted{},
			want: State{Phase: PhaseRestoring, Pending: true},
		},
		{
			name: "restore found credentials",
			prev: State{Phase: PhaseRestoring, Pending: true},
			ev:   Restored{Identity: alice, Token: "tok"},
			want: authed,
		},
		{
			name: "restore with empty token is anonymous",
			prev: State{Phase: PhaseRestoring, Pending: true},
			ev:   Restored{Identity: alice},
			want: State{Phase: PhaseAnonymous},
		},
		{
			name: "restore empty",
			prev: State{Phase: PhaseRestoring, Pending: true},
			ev:   RestoreEmpty{},
			want: State{Phase: PhaseAnonymous},
		},
		{
			name: "sign in start clears last error",
			prev: failed,
			ev:   SignInStarted{},
			want: State{Phase: PhaseSigningIn, Pending: true},
		},
		{
			name: "sign in start keeps current identity",
			prev: authed,
			ev:   SignInStarted{},
			want: State{Phase: PhaseSigningIn, Pending: true, Authenticated: true, Identity: alice, Token: "tok"},
		},
		{
			name: "sign in succeeded",
			prev: State{Phase: PhaseSigningIn, Pending: true},
			ev:   SignInSucceeded{Identity: alice, Token: "tok"},
			want: authed,
		},
		{
			name: "sign in failure resets authenticated session",
			prev: State{Phase: PhaseSigningIn, Pending: true, Authenticated: true, Identity: alice, Token: "tok"},
			ev:   SignInFailed{Err: newError(opSignIn, KindPersistenceFailure, nil)},
			want: failed,
		},
		{
			name: "sign out start",
			prev: authed,
			ev:   SignOutStarted{},
			want: State{Phase: PhaseSigningOut, Pending: true, Authenticated: true, Identity: alice, Token: "tok"},
		},
		{
			name: "signed out",
			prev: State{Phase: PhaseSigningOut, Pending: true, Authenticated: true, Identity: alice, Token: "tok"},
			ev:   SignedOut{},
			want: State{Phase: PhaseAnonymous},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transition(tt.prev, tt.ev)
			assertState(t, got, tt.want)
		})
	}
}

func TestTransitionSignInFailedWithoutError(t *testing.T) {
	got := Transition(State{Phase: PhaseSigningIn, Pending: true}, SignInFailed{})
	if got.LastError == nil || got.LastError.Kind != KindGenericOperationFailure {
		t.Fatalf("expected generic failure, got %+v", got.LastError)
	}
}

func TestTransitionSignInSucceededWithoutIdentityNamesOp(t *testing.T) {
	for _, tt := range []struct{ op, prefix string }{
		{"", opSignIn + ": "},
		{opRegister, opRegister + ": "},
		{opPasswordSignIn, opPasswordSignIn + ": "},
	} {
		got := Transition(State{Phase: PhaseSigningIn, Pending: true}, SignInSucceeded{Op: tt.op, Token: "tok"})
		if got.LastError == nil || got.LastError.Kind != KindIncompleteProviderResponse {
			t.Fatalf("op %q: expected incomplete response, got %+v", tt.op, got.LastError)
		}
		if !strings.HasPrefix(got.LastError.Message, tt.prefix) {
			t.Fatalf("op %q: message %q does not name the operation", tt.op, got.LastError.Message)
		}
	}
}

func TestTransitionDoesNotAlias(t *testing.T) {
	alice := &auth.Profile{ID: "u1", Name: "Alice"}
	got := Transition(State{Phase: PhaseSigningIn, Pending: true}, SignInSucceeded{Identity: alice, Token: "tok"})
	alice.Name = "Mallory"
	if got.Identity.Name != "Alice" {
		t.Fatalf("state aliases event identity: %q", got.Identity.Name)
	}

	prev := got
	next := Transition(prev, SignOutStarted{})
	next.Identity.Name = "Eve"
	if prev.Identity.Name != "Alice" {
		t.Fatalf("transition aliases previous identity: %q", prev.Identity.Name)
	}
}

func TestStateInvariantHoldsAcrossTransitions(t *testing.T) {
	alice := &auth.Profile{ID: "u1"}
	events := []Event{
		RestoreStarted{}, RestoreEmpty{},
		SignInStarted{}, SignInSucceeded{Identity: alice, Token: "tok"},
		SignInStarted{}, SignInFailed{Err: newError(opSignIn, KindTokenExchangeFailed, nil)},
		SignInStarted{}, SignInSucceeded{Identity: alice, Token: "tok"},
		SignOutStarted{}, SignedOut{},
		RestoreStarted{}, Restored{Identity: alice, Token: "tok"},
	}
	s := State{}
	for i, ev := range events {
		s = Transition(s, ev)
		if s.Authenticated != (s.Identity != nil && s.Token != "") {
			t.Fatalf("step %d: authenticated=%v identity=%v token=%q", i, s.Authenticated, s.Identity, s.Token)
		}
		if s.Pending != s.Phase.Transient() {
			t.Fatalf("step %d: pending=%v phase=%s", i, s.Pending, s.Phase)
		}
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseSigningOut.String() != "signing_out" {
		t.Fatalf("unexpected %q", PhaseSigningOut.String())
	}
	if Phase(42).String() != "invalid" {
		t.Fatalf("unexpected %q", Phase(42).String())
	}
}

func assertState(t *testing.T, got, want State) {
	t.Helper()
	if got.Phase != want.Phase {
		t.Fatalf("phase: got %s want %s", got.Phase, want.Phase)
	}
	if got.Authenticated != want.Authenticated {
		t.Fatalf("authenticated: got %v want %v", got.Authenticated, want.Authenticated)
	}
	if got.Token != want.Token {
		t.Fatalf("token: got %q want %q", got.Token, want.Token)
	}
	if got.Pending != want.Pending {
		t.Fatalf("pending: got %v want %v", got.Pending, want.Pending)
	}
	switch {
	case got.Identity == nil && want.Identity == nil:
	case got.Identity == nil || want.Identity == nil:
		t.Fatalf("identity: got %+v want %+v", got.Identity, want.Identity)
	case *got.Identity != *want.Identity:
		t.Fatalf("identity: got %+v want %+v", *got.Identity, *want.Identity)
	}
	switch {
	case got.LastError == nil && want.LastError == nil:
	case got.LastError == nil || want.LastError == nil:
		t.Fatalf("last error: got %+v want %+v", got.LastError, want.LastError)
	case got.LastError.Kind != want.LastError.Kind:
		t.Fatalf("last error kind: got %s want %s", got.LastError.Kind, want.LastError.Kind)
	}
}
