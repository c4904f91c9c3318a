package flow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// SessionStore persists flow sessions between steps. Lock gives one caller exclusive use
// of a session so two steps of the same session never run at once. The returned unlock
// only releases the lock it acquired: once the lock expired and another caller took it,
// unlocking is a no-op.
type SessionStore interface {
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Lock(ctx context.Context, id string, ttl time.Duration) (unlock func(), acquired bool, err error)
}

// MemorySessionStore keeps sessions in process; it serves single-instance deployments.
type MemorySessionStore struct {
	sessions *cache.Cache
	mu       sync.Mutex
	locks    *cache.Cache
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: cache.New(30*time.Minute, 5*time.Minute),
		locks:    cache.New(time.Minute, time.Minute),
	}
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (Session, error) {
	v, found := m.sessions.Get(id)
	if !found {
		return Session{}, ErrSessionNotFound
	}
	return cloneSession(v.(Session)), nil
}

func (m *MemorySessionStore) Save(_ context.Context, s Session, ttl time.Duration) error {
	m.sessions.Set(s.ID, cloneSession(s), ttl)
	return nil
}

func (m *MemorySessionStore) Lock(_ context.Context, id string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.locks.Add(id, token, ttl); err != nil {
		return func() {}, false, nil
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if held, found := m.locks.Get(id); found && held.(string) == token {
			m.locks.Delete(id)
		}
	}, true, nil
}

func cloneSession(s Session) Session {
	s.History = append([]State(nil), s.History...)
	if s.Challenge != nil {
		ch := *s.Challenge
		s.Challenge = &ch
	}
	return s
}

// RedisSessionStore shares sessions across instances. Sessions are JSON values; the lock
// is a SETNX key holding the owner's token that expires on its own if the holder dies.
type RedisSessionStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisSessionStore(rdb *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "flow"
	}
	return &RedisSessionStore{rdb: rdb, prefix: prefix}
}

func (r *RedisSessionStore) key(id string) string {
	return r.prefix + ":session:" + id
}

func (r *RedisSessionStore) lockKey(id string) string {
	return r.prefix + ":lock:" + id
}

func (r *RedisSessionStore) Get(ctx context.Context, id string) (Session, error) {
	raw, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, s Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(s.ID), raw, ttl).Err()
}

// releaseLockScript deletes the lock only while it still holds the caller's token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *RedisSessionStore) Lock(ctx context.Context, id string, ttl time.Duration) (func(), bool, error) {
	key := r.lockKey(id)
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		// The request context may already be done; the lock must still be released.
		_ = releaseLockScript.Run(context.Background(), r.rdb, []string{key}, token).Err()
	}, true, nil
}
