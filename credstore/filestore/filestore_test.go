package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ggoodman/authsession-go/credstore"
	"github.com/ggoodman/authsession-go/credstore/credstoretest"
)

func TestFileStore(t *testing.T) {
	credstoretest.RunStoreTests(t, func(t *testing.T) credstore.Store {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		return s
	})
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Put(ctx, "auth", credstore.Credential{Identity: "i", Token: "t"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	b, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c, err := b.Get(ctx, "auth")
	if err != nil {
		t.Fatalf("get from second instance: %v", err)
	}
	if c.Token != "t" {
		t.Fatalf("token mismatch: %q", c.Token)
	}
}

func TestFileStore_FileMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix permissions only")
	}
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Put(context.Background(), "auth", credstore.Credential{Identity: "i", Token: "t"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	fi, err := os.Stat(filepath.Join(dir, "auth.json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Fatalf("want mode 0600, got %o", perm)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestFileStore_PartitionCannotEscapeDir(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Put(context.Background(), "../escape", credstore.Credential{Identity: "i", Token: "t"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partition name escaped the store directory")
	}
}

func TestFileStore_Expiry(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()
	if err := s.Put(ctx, "auth", credstore.Credential{Identity: "i", Token: "t"}, credstore.WithTTL(time.Second)); err != nil {
		t.Fatalf("put: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := s.Get(ctx, "auth"); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFileStore_CorruptFileIsStorageError(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "auth.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = s.Get(context.Background(), "auth")
	if err == nil || errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected decode failure, got %v", err)
	}
}
