package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/authsession-go/credstore"
)

// Store is an in-memory implementation of credstore.Store.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]entry
	now        func() time.Time
}

type entry struct {
	cred      credstore.Credential
	expiresAt *time.Time
}

func New() *Store {
	return &Store{
		partitions: make(map[string]entry),
		now:        time.Now,
	}
}

func (s *Store) Put(ctx context.Context, partition string, cred credstore.Credential, opts ...credstore.PutOption) error {
	if err := credstore.Validate(partition, &cred); err != nil {
		return err
	}
	o := credstore.ApplyPutOptions(opts...)
	now := s.now()
	cred.Access = o.Access
	cred.StoredAt = now

	e := entry{cred: cred}
	if o.TTL != nil {
		exp := now.Add(*o.TTL)
		e.expiresAt = &exp
	}

	s.mu.Lock()
	s.partitions[partition] = e
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, partition string) (*credstore.Credential, error) {
	if err := credstore.Validate(partition, nil); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.partitions[partition]
	s.mu.RUnlock()
	if !ok {
		return nil, credstore.ErrNotFound
	}
	if e.expiresAt != nil && s.now().After(*e.expiresAt) {
		s.mu.Lock()
		// Only drop it if nobody replaced it meanwhile.
		if cur, ok := s.partitions[partition]; ok && cur.expiresAt == e.expiresAt {
			delete(s.partitions, partition)
		}
		s.mu.Unlock()
		return nil, credstore.ErrNotFound
	}
	cred := e.cred
	return &cred, nil
}

func (s *Store) Erase(ctx context.Context, partition string) error {
	if err := credstore.Validate(partition, nil); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.partitions, partition)
	s.mu.Unlock()
	return nil
}

// Close drops every partition.
func (s *Store) Close() error {
	s.mu.Lock()
	s.partitions = make(map[string]entry)
	s.mu.Unlock()
	return nil
}

// Interface compliance
var _ credstore.Store = (*Store)(nil)
