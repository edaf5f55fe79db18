package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/authsession-go/credstore"
	"github.com/ggoodman/authsession-go/credstore/filestore"
	"github.com/ggoodman/authsession-go/credstore/memorystore"
	"github.com/ggoodman/authsession-go/credstore/redisstore"
	"github.com/ggoodman/authsession-go/credstore/sealedstore"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_API_BASE_URL", "https://api.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APITimeout != 10*time.Second {
		t.Fatalf("timeout %v", cfg.APITimeout)
	}
	if cfg.Store != StoreFile {
		t.Fatalf("store %q", cfg.Store)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.StoreNamespace != "default" {
		t.Fatalf("redis %q namespace %q", cfg.RedisAddr, cfg.StoreNamespace)
	}
	scopes := cfg.Scopes()
	if len(scopes) != 3 || scopes[0] != "openid" || scopes[2] != "email" {
		t.Fatalf("scopes %v", scopes)
	}
	if len(cfg.Pins()) != 0 {
		t.Fatalf("pins %v", cfg.Pins())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_API_BASE_URL", "https://api.example.com")
	t.Setenv("AUTH_API_TIMEOUT", "3s")
	t.Setenv("AUTH_API_PINS", "pinA=, pinB=")
	t.Setenv("AUTH_OIDC_SCOPES", "openid,offline_access")
	t.Setenv("AUTH_OIDC_REDIRECT_PORT", "8765")
	t.Setenv("AUTH_STORE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APITimeout != 3*time.Second || cfg.OIDCRedirectPort != 8765 || cfg.Store != StoreMemory {
		t.Fatalf("cfg %+v", cfg)
	}
	if pins := cfg.Pins(); len(pins) != 2 || pins[0] != "pinA=" || pins[1] != "pinB=" {
		t.Fatalf("pins %v", pins)
	}
	if scopes := cfg.Scopes(); len(scopes) != 2 || scopes[1] != "offline_access" {
		t.Fatalf("scopes %v", scopes)
	}
}

func TestLoadRequiresBaseURL(t *testing.T) {
	t.Setenv("AUTH_API_BASE_URL", "")
	os.Unsetenv("AUTH_API_BASE_URL")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without AUTH_API_BASE_URL")
	}
}

func TestOpenStoreKinds(t *testing.T) {
	ctx := context.Background()

	s, err := (&Config{Store: StoreMemory}).OpenStore(ctx, discard())
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*memorystore.Store); !ok {
		t.Fatalf("memory: got %T", s)
	}

	dir := filepath.Join(t.TempDir(), "creds")
	s, err = (&Config{Store: StoreFile, StoreDir: dir}).OpenStore(ctx, discard())
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, ok := s.(*filestore.Store); !ok {
		t.Fatalf("file: got %T", s)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("file store directory not created: %v", err)
	}

	mr := miniredis.RunT(t)
	s, err = (&Config{Store: StoreRedis, RedisAddr: mr.Addr()}).OpenStore(ctx, discard())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*redisstore.Store); !ok {
		t.Fatalf("redis: got %T", s)
	}

	if _, err := (&Config{Store: "floppy"}).OpenStore(ctx, discard()); !errors.Is(err, ErrUnknownStore) {
		t.Fatalf("expected ErrUnknownStore, got %v", err)
	}
}

func TestOpenStoreSealed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := &Config{Store: StoreFile, StoreDir: dir, StorePassphrase: "correct horse battery staple"}

	s, err := cfg.OpenStore(ctx, discard())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if _, ok := s.(*sealedstore.Store); !ok {
		t.Fatalf("got %T", s)
	}
	if err := s.Put(ctx, "auth", credstore.Credential{Identity: `{"id":"u1"}`, Token: "secret-token"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(raw), "secret-token") {
		t.Fatalf("token stored in plaintext")
	}

	reopened, err := cfg.OpenStore(ctx, discard())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(ctx, "auth")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Token != "secret-token" {
		t.Fatalf("token %q", got.Token)
	}

	wrong := *cfg
	wrong.StorePassphrase = "wrong"
	other, err := wrong.OpenStore(ctx, discard())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if _, err := other.Get(ctx, "auth"); !errors.Is(err, sealedstore.ErrUnsealFailed) {
		t.Fatalf("expected ErrUnsealFailed, got %v", err)
	}
}

func TestNewAPIClient(t *testing.T) {
	cfg := &Config{APIBaseURL: "https://api.example.com", APITimeout: time.Second}
	if _, err := cfg.NewAPIClient(discard()); err != nil {
		t.Fatalf("NewAPIClient: %v", err)
	}

	cfg.APIPins = "not-a-pin"
	if _, err := cfg.NewAPIClient(discard()); err == nil {
		t.Fatalf("expected error for invalid pin")
	}

	cfg = &Config{APIBaseURL: "http://localhost:8080"}
	if _, err := cfg.NewAPIClient(discard()); err == nil {
		t.Fatalf("expected error for plain http")
	}
	cfg.APIInsecure = true
	if _, err := cfg.NewAPIClient(discard()); err != nil {
		t.Fatalf("insecure opt-in: %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.NewProvider(nil, discard()); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	cfg = &Config{OIDCIssuer: "https://accounts.example.com", OIDCClientID: "cli", OIDCScopes: "openid profile"}
	p, err := cfg.NewProvider(nil, discard())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer p.Close()
}
