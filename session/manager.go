package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/authsession-go/auth"
	"github.com/ggoodman/authsession-go/credstore"
	"github.com/ggoodman/authsession-go/internal/logctx"
	"github.com/google/uuid"
)

// DefaultPartition is the credential store partition holding the session.
// Previously stored sessions are only found under this exact name.
const DefaultPartition = "auth"

const (
	opRestore        = "restore"
	opSignIn         = "sign in"
	opPasswordSignIn = "password sign in"
	opRegister       = "register"
	opSignOut        = "sign out"
)

// BearerSink receives the session token for outgoing requests.
// *apiclient.Client satisfies it.
type BearerSink interface {
	SetBearer(token string)
	ClearBearer()
}

// Manager owns the authoritative session state and sequences every operation
// that changes it. It is safe for concurrent use; at most one state-changing
// operation runs at a time and others are rejected with ErrBusy.
type Manager struct {
	provider  auth.Provider
	passwords auth.PasswordAuthenticator
	store     credstore.Store
	bearer    BearerSink
	partition string
	access    credstore.AccessControl
	log       *slog.Logger

	mu       sync.Mutex
	state    State
	observer Observer
	seq      uint64

	notifyMu   sync.Mutex
	delivered  uint64
	delivering bool
	queued     *delivery
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithPartition overrides the credential store partition.
func WithPartition(name string) Option {
	return func(m *Manager) { m.partition = name }
}

// WithPasswordAuthenticator enables SignInWithPassword and Register.
func WithPasswordAuthenticator(a auth.PasswordAuthenticator) Option {
	return func(m *Manager) { m.passwords = a }
}

// WithAccessControl sets the access control requested when storing the
// session. Defaults to credstore.AccessBiometryAny.
func WithAccessControl(ac credstore.AccessControl) Option {
	return func(m *Manager) { m.access = ac }
}

// NewManager constructs a Manager in PhaseUnknown. provider may be nil when
// only password sign-in is used.
func NewManager(provider auth.Provider, store credstore.Store, bearer BearerSink, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: credential store is required")
	}
	if bearer == nil {
		return nil, errors.New("session: bearer sink is required")
	}
	m := &Manager{
		provider:  provider,
		store:     store,
		bearer:    bearer,
		partition: DefaultPartition,
		access:    credstore.AccessBiometryAny,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.partition == "" {
		return nil, errors.New("session: partition name is required")
	}
	return m, nil
}

// State returns a snapshot of the current session.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// begin claims the pending slot and applies the start event. It returns the
// state as it was before the operation, or ok=false with the current snapshot
// when another operation holds the slot.
func (m *Manager) begin(ctx context.Context, op string, ev Event) (_ context.Context, prev State, ok bool) {
	m.mu.Lock()
	if m.state.Pending {
		cur := m.state.Clone()
		m.mu.Unlock()
		m.log.DebugContext(ctx, "session operation rejected",
			slog.String("op", op),
			slog.String("phase", cur.Phase.String()))
		return ctx, cur, false
	}
	prev = m.state.Clone()
	m.state = Transition(m.state, ev)
	m.mu.Unlock()

	ctx = logctx.WithOperation(ctx, &logctx.Operation{ID: uuid.NewString(), Name: op})
	m.log.DebugContext(ctx, "session operation started", slog.String("from", prev.Phase.String()))
	return ctx, prev, true
}

// finish applies the terminal event, releases the pending slot and notifies
// the observer.
func (m *Manager) finish(ctx context.Context, ev Event) State {
	m.mu.Lock()
	m.state = Transition(m.state, ev)
	m.seq++
	seq, snap, obs := m.seq, m.state.Clone(), m.observer
	m.mu.Unlock()

	m.notify(ctx, seq, obs, snap)
	return snap
}

// Restore loads a previously persisted session. Missing, unreadable or
// unparseable credentials leave the session anonymous; such failures are
// logged and never reported through LastError.
func (m *Manager) Restore(ctx context.Context) (State, error) {
	ctx, prev, ok := m.begin(ctx, opRestore, RestoreStarted{})
	if !ok {
		return prev, ErrBusy
	}

	identity, token, err := m.load(ctx)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			m.log.DebugContext(ctx, "no stored session")
		} else {
			m.log.WarnContext(ctx, "session restore failed",
				slog.String("err", classify(opRestore, KindRestoreFailure, err).Error()))
		}
		if prev.Token != "" {
			m.clearBearer(ctx)
		}
		return m.finish(ctx, RestoreEmpty{}), nil
	}

	if token != prev.Token {
		m.setBearer(ctx, token)
	}
	next := m.finish(ctx, Restored{Identity: identity, Token: token})
	m.log.InfoContext(ctx, "session restored", slog.String("user_id", identity.ID))
	return next, nil
}

func (m *Manager) load(ctx context.Context) (*auth.Profile, string, error) {
	var cred *credstore.Credential
	err := guard(func() (err error) {
		cred, err = m.store.Get(ctx, m.partition)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	if cred == nil {
		return nil, "", credstore.ErrNotFound
	}
	if cred.Token == "" {
		return nil, "", errMissingToken
	}
	identity, err := decodeIdentity(cred.Identity)
	if err != nil {
		return nil, "", err
	}
	return identity, cred.Token, nil
}

// SignIn runs the identity-provider handshake, exchanges its result for a
// session token, persists the pair and propagates the token. Failures are
// reported through the returned State's LastError; the error result is only
// ever ErrBusy.
func (m *Manager) SignIn(ctx context.Context) (State, error) {
	ctx, prev, ok := m.begin(ctx, opSignIn, SignInStarted{})
	if !ok {
		return prev, ErrBusy
	}
	identity, token, serr := m.providerHandshake(ctx)
	return m.completeSignIn(ctx, opSignIn, prev, identity, token, serr), nil
}

func (m *Manager) providerHandshake(ctx context.Context) (*auth.Profile, string, *Error) {
	if m.provider == nil {
		return nil, "", newError(opSignIn, KindProviderUnavailable, errNoProvider)
	}
	if err := guard(func() error { return m.provider.CheckAvailable(ctx) }); err != nil {
		return nil, "", classify(opSignIn, KindProviderUnavailable, err)
	}

	var res *auth.SignInResult
	err := guard(func() (err error) {
		res, err = m.provider.InteractiveSignIn(ctx)
		return err
	})
	if err != nil {
		return nil, "", classify(opSignIn, KindSignInCancelledOrFailed, err)
	}
	switch {
	case res == nil || res.Profile == nil || res.Profile.ID == "":
		return nil, "", newError(opSignIn, KindIncompleteProviderResponse, errMissingIdentity)
	case res.ProviderToken == "":
		return nil, "", newError(opSignIn, KindIncompleteProviderResponse, errMissingProviderT)
	}

	var token string
	err = guard(func() (err error) {
		token, err = m.provider.ExchangeToken(ctx, res.ProviderToken)
		return err
	})
	if err != nil {
		return nil, "", classify(opSignIn, KindTokenExchangeFailed, err)
	}
	if token == "" {
		return nil, "", newError(opSignIn, KindIncompleteProviderResponse, errMissingToken)
	}
	return res.Profile.Clone(), token, nil
}

// SignInWithPassword signs in through the configured PasswordAuthenticator.
// It follows the same persistence and propagation sequence as SignIn.
func (m *Manager) SignInWithPassword(ctx context.Context, email, password string) (State, error) {
	return m.passwordFlow(ctx, opPasswordSignIn, KindCredentialsRejected,
		func(ctx context.Context, a auth.PasswordAuthenticator) (*auth.PasswordResult, error) {
			return a.SignInWithPassword(ctx, email, password)
		})
}

// Register creates an account through the configured PasswordAuthenticator
// and signs the new user in.
func (m *Manager) Register(ctx context.Context, email, password string) (State, error) {
	return m.passwordFlow(ctx, opRegister, KindRegistrationFailed,
		func(ctx context.Context, a auth.PasswordAuthenticator) (*auth.PasswordResult, error) {
			return a.Register(ctx, email, password)
		})
}

func (m *Manager) passwordFlow(ctx context.Context, op string, kind Kind, call func(context.Context, auth.PasswordAuthenticator) (*auth.PasswordResult, error)) (State, error) {
	ctx, prev, ok := m.begin(ctx, op, SignInStarted{})
	if !ok {
		return prev, ErrBusy
	}
	if m.passwords == nil {
		return m.completeSignIn(ctx, op, prev, nil, "", newError(op, KindProviderUnavailable, errNoAuthenticator)), nil
	}

	var res *auth.PasswordResult
	err := guard(func() (err error) {
		res, err = call(ctx, m.passwords)
		return err
	})
	var serr *Error
	switch {
	case err != nil:
		serr = classify(op, kind, err)
	case res == nil || res.Profile == nil || res.Profile.ID == "":
		serr = newError(op, KindIncompleteProviderResponse, errMissingIdentity)
	case res.Token == "":
		serr = newError(op, KindIncompleteProviderResponse, errMissingToken)
	}
	if serr != nil {
		return m.completeSignIn(ctx, op, prev, nil, "", serr), nil
	}
	return m.completeSignIn(ctx, op, prev, res.Profile.Clone(), res.Token, nil), nil
}

// completeSignIn persists a successful handshake and resolves the operation.
// The session is never marked authenticated unless the store accepted the pair.
func (m *Manager) completeSignIn(ctx context.Context, op string, prev State, identity *auth.Profile, token string, serr *Error) State {
	if serr == nil {
		serr = m.persist(ctx, op, identity, token)
	}
	if serr != nil {
		m.log.WarnContext(ctx, "sign-in failed",
			slog.String("kind", string(serr.Kind)),
			slog.String("err", serr.Error()))
		if prev.Token != "" {
			m.clearBearer(ctx)
		}
		return m.finish(ctx, SignInFailed{Err: serr})
	}

	if token != prev.Token {
		m.setBearer(ctx, token)
	}
	next := m.finish(ctx, SignInSucceeded{Op: op, Identity: identity, Token: token})
	m.log.InfoContext(ctx, "signed in", slog.String("user_id", identity.ID))
	return next
}

func (m *Manager) persist(ctx context.Context, op string, identity *auth.Profile, token string) *Error {
	payload, err := json.Marshal(identity)
	if err != nil {
		return newError(op, KindPersistenceFailure, fmt.Errorf("encode identity: %w", err))
	}
	cred := credstore.Credential{Identity: string(payload), Token: token}
	err = guard(func() error {
		return m.store.Put(ctx, m.partition, cred, credstore.WithAccessControl(m.access))
	})
	if err != nil {
		return classify(op, KindPersistenceFailure, err)
	}
	return nil
}

// SignOut ends the session. Provider revocation and credential erasure are
// best effort; the session always ends anonymous. LastError is set only if a
// collaborator failed unexpectedly (panicked). The error result is only ever
// ErrBusy.
func (m *Manager) SignOut(ctx context.Context) (State, error) {
	ctx, prev, ok := m.begin(ctx, opSignOut, SignOutStarted{})
	if !ok {
		return prev, ErrBusy
	}

	var unexpected []error
	note := func(step string, err error) {
		if err == nil {
			return
		}
		var pe *panicError
		if errors.As(err, &pe) {
			unexpected = append(unexpected, fmt.Errorf("%s: %w", step, err))
		}
		m.log.WarnContext(ctx, "sign-out step failed",
			slog.String("step", step),
			slog.String("err", err.Error()))
	}

	if m.provider != nil {
		note("provider sign-out", guard(func() error { return m.provider.SignOut(ctx) }))
	}
	note("erase credentials", guard(func() error { return m.store.Erase(ctx, m.partition) }))
	note("clear bearer", guard(func() error {
		m.bearer.ClearBearer()
		return nil
	}))

	var serr *Error
	if len(unexpected) > 0 {
		serr = newError(opSignOut, KindGenericOperationFailure, errors.Join(unexpected...))
	}
	next := m.finish(ctx, SignedOut{Err: serr})
	uid := ""
	if prev.Identity != nil {
		uid = prev.Identity.ID
	}
	m.log.InfoContext(ctx, "signed out", slog.String("user_id", uid))
	return next, nil
}

func (m *Manager) setBearer(ctx context.Context, token string) {
	if err := guard(func() error {
		m.bearer.SetBearer(token)
		return nil
	}); err != nil {
		m.log.ErrorContext(ctx, "set bearer failed", slog.String("err", err.Error()))
	}
}

func (m *Manager) clearBearer(ctx context.Context) {
	if err := guard(func() error {
		m.bearer.ClearBearer()
		return nil
	}); err != nil {
		m.log.ErrorContext(ctx, "clear bearer failed", slog.String("err", err.Error()))
	}
}

func decodeIdentity(payload string) (*auth.Profile, error) {
	var p auth.Profile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("decode identity: %w", errMissingIdentity)
	}
	return &p, nil
}
