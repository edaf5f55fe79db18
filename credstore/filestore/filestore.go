// Package filestore provides a credstore.Store that keeps one JSON file per
// partition in a private directory. Files are created with mode 0600 inside a
// 0700 directory and replaced atomically (write to a temp file, then rename),
// so a crash never leaves a truncated credential behind.
//
// Pair it with sealedstore when the directory is not otherwise protected.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ggoodman/authsession-go/credstore"
)

type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

type record struct {
	Identity  string     `json:"identity"`
	Token     string     `json:"token"`
	Access    string     `json:"access"`
	StoredAt  time.Time  `json:"stored_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New returns a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("filestore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filestore: create directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) path(partition string) string {
	return filepath.Join(s.dir, url.PathEscape(partition)+".json")
}

func (s *Store) Put(ctx context.Context, partition string, cred credstore.Credential, opts ...credstore.PutOption) error {
	if err := credstore.Validate(partition, &cred); err != nil {
		return err
	}
	o := credstore.ApplyPutOptions(opts...)
	now := s.now().UTC()
	rec := record{Identity: cred.Identity, Token: cred.Token, Access: string(o.Access), StoredAt: now}
	if o.TTL != nil {
		exp := now.Add(*o.TTL)
		rec.ExpiresAt = &exp
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.dir, s.path(partition), b)
}

func (s *Store) Get(ctx context.Context, partition string) (*credstore.Credential, error) {
	if err := credstore.Validate(partition, nil); err != nil {
		return nil, err
	}
	s.mu.Lock()
	b, err := os.ReadFile(s.path(partition))
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, credstore.ErrNotFound
		}
		return nil, fmt.Errorf("filestore get %q: %w", partition, err)
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("filestore get %q: decode: %w", partition, err)
	}
	if rec.ExpiresAt != nil && s.now().After(*rec.ExpiresAt) {
		_ = s.Erase(ctx, partition)
		return nil, credstore.ErrNotFound
	}
	return &credstore.Credential{
		Identity: rec.Identity,
		Token:    rec.Token,
		Access:   credstore.AccessControl(rec.Access),
		StoredAt: rec.StoredAt,
	}, nil
}

func (s *Store) Erase(ctx context.Context, partition string) error {
	if err := credstore.Validate(partition, nil); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(partition)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore erase %q: %w", partition, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func writeFileAtomic(dir, dst string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".cred-*")
	if err != nil {
		return fmt.Errorf("filestore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("filestore: rename: %w", err)
	}
	return nil
}

// Interface compliance
var _ credstore.Store = (*Store)(nil)
