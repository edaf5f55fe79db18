package credstore

import (
	"context"
	"errors"
	"time"
)

// Store persists a single credential pair per named partition.
type Store interface {
	// Put stores the credential under partition, replacing any previous pair.
	Put(ctx context.Context, partition string, cred Credential, opts ...PutOption) error

	// Get retrieves the credential stored under partition.
	// Returns ErrNotFound if nothing is stored there (or it has expired).
	// Any other error is a legitimate storage system failure.
	Get(ctx context.Context, partition string) (*Credential, error)

	// Erase removes the partition. Erasing a missing partition is not an error.
	Erase(ctx context.Context, partition string) error

	// Close releases backend resources.
	Close() error
}

// Credential is the opaque (identity, token) pair held in a partition. Identity
// is an encoded profile payload; the store never interprets either field.
type Credential struct {
	Identity string
	Token    string

	// Access is the access control the pair was stored with. Backends echo
	// back what they were given on Put.
	Access AccessControl
	// StoredAt is set by the backend on Put.
	StoredAt time.Time
}

// AccessControl describes how the platform should gate reads of a stored
// credential. Backends without a platform gate record it as metadata only.
type AccessControl string

const (
	AccessUserPresence AccessControl = "user_presence"
	AccessBiometryAny  AccessControl = "biometry_any"
)

// PutOption configures a Put call.
type PutOption func(*PutOptions)

// PutOptions contains configuration for Put.
type PutOptions struct {
	Access AccessControl  // default AccessUserPresence
	TTL    *time.Duration // optional expiry; ignored by backends that cannot expire items
}

// WithAccessControl records the access control for the stored pair.
func WithAccessControl(ac AccessControl) PutOption {
	return func(o *PutOptions) { o.Access = ac }
}

// WithTTL sets a time-to-live for the stored pair.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) { o.TTL = &ttl }
}

// ApplyPutOptions folds opts over the defaults. Backends call it at the top of Put.
func ApplyPutOptions(opts ...PutOption) PutOptions {
	o := PutOptions{Access: AccessUserPresence}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Access == "" {
		o.Access = AccessUserPresence
	}
	return o
}

var (
	// ErrNotFound is returned by Get when the partition holds no credential.
	ErrNotFound = errors.New("credstore: not found")
	// ErrInvalidPartition is returned for an empty partition name.
	ErrInvalidPartition = errors.New("credstore: invalid partition")
	// ErrInvalidCredential is returned by Put for a credential without a token.
	ErrInvalidCredential = errors.New("credstore: invalid credential")
)

// Validate checks the arguments shared by every Put implementation.
func Validate(partition string, cred *Credential) error {
	if partition == "" {
		return ErrInvalidPartition
	}
	if cred != nil && cred.Token == "" {
		return ErrInvalidCredential
	}
	return nil
}
