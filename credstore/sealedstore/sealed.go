// Package sealedstore wraps a credstore.Store and encrypts the identity and
// token of every credential before they reach the backend. Each field is a
// compact JWE (direct key agreement, A256GCM) whose protected header names the
// partition it was written to, so ciphertext copied between partitions fails
// to open.
//
// Keys are 32 random bytes, or derived from a passphrase with KeyFromPassphrase.
package sealedstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ggoodman/authsession-go/credstore"
	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/argon2"
)

// KeySize is the required key length in bytes.
const KeySize = 32

const partitionHeader jose.HeaderKey = "ptn"

// ErrUnsealFailed is returned by Get when stored ciphertext cannot be opened
// with the configured key or was written for a different partition.
var ErrUnsealFailed = errors.New("sealedstore: unseal failed")

type Store struct {
	inner credstore.Store
	key   []byte
}

// New wraps inner with encryption under key.
func New(inner credstore.Store, key []byte) (*Store, error) {
	if inner == nil {
		return nil, errors.New("sealedstore: inner store is required")
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealedstore: key must be %d bytes, got %d", KeySize, len(key))
	}
	return &Store{inner: inner, key: append([]byte(nil), key...)}, nil
}

// Argon2id parameters for KeyFromPassphrase.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// KeyFromPassphrase derives a KeySize key from passphrase and salt using
// argon2id. The salt must be stable for a given store.
func KeyFromPassphrase(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("sealedstore: empty passphrase")
	}
	if len(salt) < 16 {
		return nil, errors.New("sealedstore: salt must be at least 16 bytes")
	}
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize), nil
}

func (s *Store) seal(partition, plaintext string) (string, error) {
	opts := (&jose.EncrypterOptions{}).WithHeader(partitionHeader, partition)
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: s.key}, opts)
	if err != nil {
		return "", fmt.Errorf("sealedstore: encrypter: %w", err)
	}
	obj, err := enc.Encrypt([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("sealedstore: encrypt: %w", err)
	}
	return obj.CompactSerialize()
}

func (s *Store) open(partition, compact string) (string, error) {
	obj, err := jose.ParseEncrypted(compact, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return "", errors.Join(ErrUnsealFailed, err)
	}
	if got, _ := obj.Header.ExtraHeaders[partitionHeader].(string); got != partition {
		return "", fmt.Errorf("%w: sealed for partition %q", ErrUnsealFailed, got)
	}
	b, err := obj.Decrypt(s.key)
	if err != nil {
		return "", errors.Join(ErrUnsealFailed, err)
	}
	return string(b), nil
}

func (s *Store) Put(ctx context.Context, partition string, cred credstore.Credential, opts ...credstore.PutOption) error {
	if err := credstore.Validate(partition, &cred); err != nil {
		return err
	}
	identity, err := s.seal(partition, cred.Identity)
	if err != nil {
		return err
	}
	token, err := s.seal(partition, cred.Token)
	if err != nil {
		return err
	}
	cred.Identity, cred.Token = identity, token
	return s.inner.Put(ctx, partition, cred, opts...)
}

func (s *Store) Get(ctx context.Context, partition string) (*credstore.Credential, error) {
	c, err := s.inner.Get(ctx, partition)
	if err != nil {
		return nil, err
	}
	out := *c
	if out.Identity, err = s.open(partition, c.Identity); err != nil {
		return nil, fmt.Errorf("sealedstore get %q identity: %w", partition, err)
	}
	if out.Token, err = s.open(partition, c.Token); err != nil {
		return nil, fmt.Errorf("sealedstore get %q token: %w", partition, err)
	}
	return &out, nil
}

func (s *Store) Erase(ctx context.Context, partition string) error {
	return s.inner.Erase(ctx, partition)
}

func (s *Store) Close() error { return s.inner.Close() }

// Interface compliance
var _ credstore.Store = (*Store)(nil)
