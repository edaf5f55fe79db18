// Package credstoretest provides a conformance suite for credstore.Store
// implementations and a fault-injecting wrapper for tests of store consumers.
package credstoretest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/authsession-go/credstore"
)

// StoreFactory creates a new, empty Store instance for testing.
type StoreFactory func(t *testing.T) credstore.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("PutThenGet", func(t *testing.T) { testPutThenGet(t, factory) })
	t.Run("GetMissingIsNotFound", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("PutReplacesPrevious", func(t *testing.T) { testPutReplaces(t, factory) })
	t.Run("EraseRemoves", func(t *testing.T) { testEraseRemoves(t, factory) })
	t.Run("EraseMissingIsNoop", func(t *testing.T) { testEraseMissing(t, factory) })
	t.Run("PartitionsAreIsolated", func(t *testing.T) { testPartitionIsolation(t, factory) })
	t.Run("EmptyPartitionRejected", func(t *testing.T) { testEmptyPartition(t, factory) })
	t.Run("EmptyTokenRejected", func(t *testing.T) { testEmptyToken(t, factory) })
	t.Run("AccessControlRecorded", func(t *testing.T) { testAccessControl(t, factory) })
	t.Run("PayloadIsBitExact", func(t *testing.T) { testPayloadBitExact(t, factory) })
}

func newStore(t *testing.T, factory StoreFactory) (credstore.Store, context.Context) {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return s, ctx
}

func mustGet(t *testing.T, ctx context.Context, s credstore.Store, partition string) *credstore.Credential {
	t.Helper()
	c, err := s.Get(ctx, partition)
	if err != nil {
		t.Fatalf("get %q: %v", partition, err)
	}
	if c == nil {
		t.Fatalf("get %q: nil credential without error", partition)
	}
	return c
}

func testPutThenGet(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)

	before := time.Now().Add(-time.Second)
	if err := s.Put(ctx, "auth", credstore.Credential{Identity: `{"id":"u-1"}`, Token: "tok-1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	c := mustGet(t, ctx, s, "auth")
	if c.Identity != `{"id":"u-1"}` || c.Token != "tok-1" {
		t.Fatalf("roundtrip mismatch: %+v", c)
	}
	if c.Access != credstore.AccessUserPresence {
		t.Fatalf("default access: want %q, got %q", credstore.AccessUserPresence, c.Access)
	}
	if c.StoredAt.Before(before) {
		t.Fatalf("StoredAt not set: %v", c.StoredAt)
	}
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	c, err := s.Get(ctx, "auth")
	if !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got cred=%v err=%v", c, err)
	}
}

func testPutReplaces(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	if err := s.Put(ctx, "auth", credstore.Credential{Identity: "a", Token: "t1"}); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := s.Put(ctx, "auth", credstore.Credential{Identity: "b", Token: "t2"}); err != nil {
		t.Fatalf("put 2: %v", err)
	}
	c := mustGet(t, ctx, s, "auth")
	if c.Identity != "b" || c.Token != "t2" {
		t.Fatalf("expected replacement, got %+v", c)
	}
}

func testEraseRemoves(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	if err := s.Put(ctx, "auth", credstore.Credential{Identity: "a", Token: "t"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Erase(ctx, "auth"); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if _, err := s.Get(ctx, "auth"); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("want ErrNotFound after erase, got %v", err)
	}
}

func testEraseMissing(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	if err := s.Erase(ctx, "never-written"); err != nil {
		t.Fatalf("erase of missing partition: %v", err)
	}
}

func testPartitionIsolation(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	if err := s.Put(ctx, "auth", credstore.Credential{Identity: "a", Token: "ta"}); err != nil {
		t.Fatalf("put auth: %v", err)
	}
	if err := s.Put(ctx, "other", credstore.Credential{Identity: "o", Token: "to"}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	if err := s.Erase(ctx, "other"); err != nil {
		t.Fatalf("erase other: %v", err)
	}
	c := mustGet(t, ctx, s, "auth")
	if c.Token != "ta" {
		t.Fatalf("erasing one partition touched another: %+v", c)
	}
}

func testEmptyPartition(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	if err := s.Put(ctx, "", credstore.Credential{Identity: "a", Token: "t"}); !errors.Is(err, credstore.ErrInvalidPartition) {
		t.Fatalf("put: want ErrInvalidPartition, got %v", err)
	}
	if _, err := s.Get(ctx, ""); !errors.Is(err, credstore.ErrInvalidPartition) {
		t.Fatalf("get: want ErrInvalidPartition, got %v", err)
	}
	if err := s.Erase(ctx, ""); !errors.Is(err, credstore.ErrInvalidPartition) {
		t.Fatalf("erase: want ErrInvalidPartition, got %v", err)
	}
}

func testEmptyToken(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	if err := s.Put(ctx, "auth", credstore.Credential{Identity: "a"}); !errors.Is(err, credstore.ErrInvalidCredential) {
		t.Fatalf("want ErrInvalidCredential, got %v", err)
	}
}

func testAccessControl(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	err := s.Put(ctx, "auth", credstore.Credential{Identity: "a", Token: "t"}, credstore.WithAccessControl(credstore.AccessBiometryAny))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	c := mustGet(t, ctx, s, "auth")
	if c.Access != credstore.AccessBiometryAny {
		t.Fatalf("access: want %q, got %q", credstore.AccessBiometryAny, c.Access)
	}
}

func testPayloadBitExact(t *testing.T, factory StoreFactory) {
	s, ctx := newStore(t, factory)
	identity := "{\"id\":\"u-\\u00e9\",\"name\":\"Zoë \\\"Z\\\" Doe\",\"note\":\"line1\\nline2\"}\x00tail"
	token := "eyJhbGciOi.payload.sig==:/+"
	if err := s.Put(ctx, "auth", credstore.Credential{Identity: identity, Token: token}); err != nil {
		t.Fatalf("put: %v", err)
	}
	c := mustGet(t, ctx, s, "auth")
	if c.Identity != identity {
		t.Fatalf("identity changed in storage:\nwant %q\ngot  %q", identity, c.Identity)
	}
	if c.Token != token {
		t.Fatalf("token changed in storage:\nwant %q\ngot  %q", token, c.Token)
	}
}
