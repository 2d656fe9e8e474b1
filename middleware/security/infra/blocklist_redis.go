package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
)

// RedisBlockRegistry implementa domain.BlockRegistry sobre hashes do Redis.
//
// Cada IP bloqueado vira um hash com os campos do registro e um TTL de
// segurança. A expiração continua sendo preguiçosa: Lookup confere
// expires_at e remove registros vencidos, sem depender do TTL do Redis.
type RedisBlockRegistry struct {
	rdb       *redis.Client
	prefix    string
	opTimeout time.Duration
}

type RedisBlockOption func(*RedisBlockRegistry)

func WithBlockPrefix(prefix string) RedisBlockOption {
	return func(r *RedisBlockRegistry) { r.prefix = strings.Trim(prefix, ":") }
}

func WithBlockOpTimeout(d time.Duration) RedisBlockOption {
	return func(r *RedisBlockRegistry) { r.opTimeout = d }
}

func NewRedisBlockRegistry(rdb *redis.Client, opts ...RedisBlockOption) *RedisBlockRegistry {
	r := &RedisBlockRegistry{
		rdb:       rdb,
		prefix:    "blocklist",
		opTimeout: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisBlockRegistry) key(ip string) string { return r.prefix + ":" + ip }

func (r *RedisBlockRegistry) Block(ctx context.Context, ip string, duration time.Duration, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	now := time.Now()
	key := r.key(ip)

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"ip":          ip,
		"blocked_at":  now.UnixMilli(),
		"expires_at":  now.Add(duration).UnixMilli(),
		"reason":      reason,
		"duration_ms": duration.Milliseconds(),
	})
	pipe.Expire(ctx, key, duration+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("block %q: %w: %w", ip, domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisBlockRegistry) Lookup(ctx context.Context, ip string) (*domain.IPBlockRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	key := r.key(ip)
	fields, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("block lookup %q: %w: %w", ip, domain.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &domain.IPBlockRecord{
		IP:        fields["ip"],
		BlockedAt: parseMilli(fields["blocked_at"]),
		ExpiresAt: parseMilli(fields["expires_at"]),
		Reason:    fields["reason"],
	}
	if ms, err := strconv.ParseInt(fields["duration_ms"], 10, 64); err == nil {
		rec.Duration = time.Duration(ms) * time.Millisecond
	}

	if rec.Expired(time.Now()) {
		// remoção best-effort: o registro já é tratado como ausente
		_ = r.rdb.Del(ctx, key).Err()
		return nil, nil
	}
	return rec, nil
}

func parseMilli(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
