package infra

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
)

// RedisWindowStore implementa domain.WindowStore sobre sorted sets.
//
// Cada chave é um ZSET com score = instante da observação em milissegundos.
// A poda é ZREMRANGEBYSCORE, a contagem é ZCARD e o registro é ZADD — tudo
// em pipeline para reduzir idas à rede. A sequência não é atômica entre
// instâncias (ver nota de concorrência no Limiter).
//
// Toda operação tem timeout próprio e curto: estourar o timeout vira erro e
// dispara o caminho fail-open das camadas de cima, nunca retry.
type RedisWindowStore struct {
	rdb       *redis.Client
	opTimeout time.Duration
}

type RedisWindowOption func(*RedisWindowStore)

func WithWindowOpTimeout(d time.Duration) RedisWindowOption {
	return func(s *RedisWindowStore) { s.opTimeout = d }
}

func NewRedisWindowStore(rdb *redis.Client, opts ...RedisWindowOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:       rdb,
		opTimeout: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisWindowStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// pruneMax devolve o limite superior (exclusivo) da remoção: tudo com score
// abaixo de now-window sai, preservando o invariante [now-window, now].
func pruneMax(now time.Time, window time.Duration) string {
	return "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
}

func (s *RedisWindowStore) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	pipe := s.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", pruneMax(now, window))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("window count %q: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
	return card.Val(), nil
}

func (s *RedisWindowStore) Add(ctx context.Context, key, member string, now time.Time, ttl time.Duration) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("window add %q: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisWindowStore) Observe(ctx context.Context, key, member string, window time.Duration, now time.Time, ttl time.Duration) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	pipe := s.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", pruneMax(now, window))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("window observe %q: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
	return card.Val(), nil
}

func (s *RedisWindowStore) Oldest(ctx context.Context, key string) (time.Time, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	zs, err := s.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("window oldest %q: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(zs[0].Score)), true, nil
}
