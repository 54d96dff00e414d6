package lease

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/apperr"
)

const keyPrefix = "strategy:lease:"

// renewScript extends the TTL only if the stored lease still carries the token.
var renewScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then return 0 end
local l = cjson.decode(v)
if l.token ~= ARGV[1] then return 0 end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// releaseScript deletes the lease only if it still carries the token.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then return 1 end
local l = cjson.decode(v)
if l.token ~= ARGV[1] then return 0 end
redis.call("DEL", KEYS[1])
return 1
`)

// RedisManager stores leases in Redis so every API replica sees them.
type RedisManager struct {
	client redis.UniversalClient
}

// NewRedis creates a RedisManager over client.
func NewRedis(client redis.UniversalClient) *RedisManager {
	return &RedisManager{client: client}
}

type stored struct {
	Holder string `json:"holder"`
	Token  string `json:"token"`
}

func (m *RedisManager) load(ctx context.Context, resource string) (*Lease, error) {
	key := keyPrefix + resource
	raw, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "lease: get %s", resource)
	}
	var s stored
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, eris.Wrapf(err, "lease: decode %s", resource)
	}
	ttl, err := m.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "lease: ttl %s", resource)
	}
	return &Lease{Resource: resource, Holder: s.Holder, Token: s.Token, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (m *RedisManager) Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (*Lease, error) {
	if holder == "" {
		return nil, apperr.Invalid("holder", "required")
	}
	key := keyPrefix + resource
	l := &Lease{Resource: resource, Holder: holder, Token: uuid.New().String(), ExpiresAt: time.Now().Add(ttl)}
	val, err := json.Marshal(stored{Holder: holder, Token: l.Token})
	if err != nil {
		return nil, eris.Wrap(err, "lease: encode")
	}

	ok, err := m.client.SetNX(ctx, key, val, ttl).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "lease: acquire %s", resource)
	}
	if ok {
		return l, nil
	}

	cur, err := m.load(ctx, resource)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		// Expired between SETNX and GET.
		return m.Acquire(ctx, resource, holder, ttl)
	}
	if cur.Holder != holder {
		return nil, eris.Wrapf(apperr.ErrLocked, "%s held by %s", resource, cur.Holder)
	}

	val, err = json.Marshal(stored{Holder: holder, Token: cur.Token})
	if err != nil {
		return nil, eris.Wrap(err, "lease: encode")
	}
	renewed, err := renewScript.Run(ctx, m.client, []string{key}, cur.Token, val, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, eris.Wrapf(err, "lease: renew %s", resource)
	}
	if renewed == 0 {
		return m.Acquire(ctx, resource, holder, ttl)
	}
	cur.ExpiresAt = time.Now().Add(ttl)
	return cur, nil
}

func (m *RedisManager) Check(ctx context.Context, resource, token string) error {
	cur, err := m.load(ctx, resource)
	if err != nil {
		return err
	}
	if cur == nil || cur.Token == token {
		return nil
	}
	return eris.Wrapf(apperr.ErrLocked, "%s held by %s", resource, cur.Holder)
}

func (m *RedisManager) Release(ctx context.Context, resource, token string) error {
	ok, err := releaseScript.Run(ctx, m.client, []string{keyPrefix + resource}, token).Int()
	if err != nil {
		return eris.Wrapf(err, "lease: release %s", resource)
	}
	if ok == 0 {
		return eris.Wrapf(apperr.ErrLocked, "%s held by another editor", resource)
	}
	return nil
}

func (m *RedisManager) Holder(ctx context.Context, resource string) (*Lease, error) {
	return m.load(ctx, resource)
}
