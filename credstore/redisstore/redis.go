package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/authsession-go/credstore"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "authsession:cred:"

// Config for the Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: AUTH_STORE_KEY_PREFIX
	KeyPrefix string `env:"AUTH_STORE_KEY_PREFIX,default=authsession:cred:"`
}

// Hash fields.
const (
	fieldIdentity = "identity"
	fieldToken    = "token"
	fieldAccess   = "access"
	fieldStoredAt = "stored_at"
)

type Store struct {
	client    *redis.Client
	keyPrefix string
	ownClient bool
}

// New connects to Redis and verifies the connection with PING.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := NewWithClient(cl, cfg.KeyPrefix)
	s.ownClient = true
	return s, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	// Defaults are provided via struct tags; a missing environment is fine.
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redisstore config: %w", err)
	}
	return New(cfg)
}

// NewWithClient wraps an existing client. Close will not close a client
// supplied this way.
func NewWithClient(cl *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Store{client: cl, keyPrefix: keyPrefix}
}

// Close closes the Redis client if the Store created it.
func (s *Store) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(partition string) string { return s.keyPrefix + partition }

func (s *Store) Put(ctx context.Context, partition string, cred credstore.Credential, opts ...credstore.PutOption) error {
	if err := credstore.Validate(partition, &cred); err != nil {
		return err
	}
	o := credstore.ApplyPutOptions(opts...)
	key := s.key(partition)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, map[string]any{
			fieldIdentity: cred.Identity,
			fieldToken:    cred.Token,
			fieldAccess:   string(o.Access),
			fieldStoredAt: time.Now().UTC().Format(time.RFC3339Nano),
		})
		if o.TTL != nil && *o.TTL > 0 {
			p.Expire(ctx, key, *o.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore put %q: %w", partition, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, partition string) (*credstore.Credential, error) {
	if err := credstore.Validate(partition, nil); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, s.key(partition)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, credstore.ErrNotFound
		}
		return nil, fmt.Errorf("redisstore get %q: %w", partition, err)
	}
	if len(fields) == 0 {
		return nil, credstore.ErrNotFound
	}
	tok, ok := fields[fieldToken]
	if !ok || tok == "" {
		return nil, fmt.Errorf("redisstore get %q: hash has no token field", partition)
	}
	cred := &credstore.Credential{
		Identity: fields[fieldIdentity],
		Token:    tok,
		Access:   credstore.AccessControl(fields[fieldAccess]),
	}
	if ts := fields[fieldStoredAt]; ts != "" {
		// A malformed timestamp is metadata damage only; keep the pair usable.
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			cred.StoredAt = t
		}
	}
	return cred, nil
}

func (s *Store) Erase(ctx context.Context, partition string) error {
	if err := credstore.Validate(partition, nil); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(partition)).Err(); err != nil {
		return fmt.Errorf("redisstore erase %q: %w", partition, err)
	}
	return nil
}

// Interface compliance
var _ credstore.Store = (*Store)(nil)
