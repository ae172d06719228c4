package reservation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-pooling/internal/models"
)

const (
	tokenKeyFmt = "%sreservation:%s"
	expiryKey   = "reservations:expiry"
	// tokens outlive their hold so late confirm/release calls still resolve
	keyTTL = 7 * 24 * time.Hour
)

// transitionScript moves a token hash between states atomically and keeps the
// expiry index in step: only RESERVED tokens are indexed.
//
// KEYS[1] token hash, KEYS[2] expiry zset
// ARGV[1] target state, ARGV[2] token id, ARGV[3..] allowed source states
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'state')
if not cur then
  return {'', 0}
end
for i = 3, #ARGV do
  if cur == ARGV[i] then
    redis.call('HSET', KEYS[1], 'state', ARGV[1])
    if ARGV[1] == 'RESERVED' then
      redis.call('ZADD', KEYS[2], redis.call('HGET', KEYS[1], 'expires_at_ms'), ARGV[2])
    else
      redis.call('ZREM', KEYS[2], ARGV[2])
    end
    return {cur, 1}
  end
end
return {cur, 0}
`)

// RedisLedger keeps each token in a hash and indexes RESERVED tokens by hold
// deadline in a sorted set for the reaper.
type RedisLedger struct {
	redis  *redis.Client
	prefix string
}

func NewRedisLedger(rdb *redis.Client, prefix string) *RedisLedger {
	return &RedisLedger{redis: rdb, prefix: prefix}
}

func (l *RedisLedger) Create(ctx context.Context, tok models.ReservationToken) error {
	key := l.tokenKey(tok.ID)
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"trip_id":       tok.TripID,
			"driver_id":     tok.DriverID,
			"seats":         tok.Seats,
			"state":         string(tok.State),
			"created_at_ms": tok.CreatedAt.UnixMilli(),
			"expires_at_ms": tok.ExpiresAt.UnixMilli(),
		})
		pipe.Expire(ctx, key, keyTTL)
		if tok.State == models.ReservationReserved {
			pipe.ZAdd(ctx, l.expiryKey(), redis.Z{Score: float64(tok.ExpiresAt.UnixMilli()), Member: tok.ID})
		}
		return nil
	})
	return err
}

func (l *RedisLedger) Get(ctx context.Context, id string) (models.ReservationToken, error) {
	fields, err := l.redis.HGetAll(ctx, l.tokenKey(id)).Result()
	if err != nil {
		return models.ReservationToken{}, err
	}
	if len(fields) == 0 {
		return models.ReservationToken{}, &models.ConflictError{Kind: models.InvalidToken, Token: id}
	}
	return decodeToken(id, fields)
}

func (l *RedisLedger) Transition(ctx context.Context, id string, from []models.ReservationState, to models.ReservationState) (models.ReservationState, bool, error) {
	args := make([]any, 0, len(from)+2)
	args = append(args, string(to), id)
	for _, s := range from {
		args = append(args, string(s))
	}
	res, err := transitionScript.Run(ctx, l.redis, []string{l.tokenKey(id), l.expiryKey()}, args...).Slice()
	if err != nil {
		return "", false, fmt.Errorf("reservation transition: %w", err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("reservation transition: unexpected reply %v", res)
	}
	prev, _ := res[0].(string)
	applied, _ := res[1].(int64)
	if prev == "" {
		return "", false, &models.ConflictError{Kind: models.InvalidToken, Token: id}
	}
	return models.ReservationState(prev), applied == 1, nil
}

func (l *RedisLedger) Expired(ctx context.Context, before time.Time, limit int) ([]models.ReservationToken, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: "(" + strconv.FormatInt(before.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := l.redis.ZRangeByScore(ctx, l.expiryKey(), by).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := l.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, l.tokenKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]models.ReservationToken, 0, len(ids))
	var stale []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		tok, err := decodeToken(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if tok.State == models.ReservationReserved {
			out = append(out, tok)
		}
	}
	if len(stale) > 0 {
		// hash expired under the index; drop the dangling members
		_ = l.redis.ZRem(ctx, l.expiryKey(), stale...).Err()
	}
	return out, nil
}

func (l *RedisLedger) tokenKey(id string) string { return fmt.Sprintf(tokenKeyFmt, l.prefix, id) }
func (l *RedisLedger) expiryKey() string          { return l.prefix + expiryKey }

func decodeToken(id string, f map[string]string) (models.ReservationToken, error) {
	seats, err := strconv.Atoi(f["seats"])
	if err != nil {
		return models.ReservationToken{}, fmt.Errorf("decode reservation %s seats: %w", id, err)
	}
	created, err := strconv.ParseInt(f["created_at_ms"], 10, 64)
	if err != nil {
		return models.ReservationToken{}, fmt.Errorf("decode reservation %s created_at: %w", id, err)
	}
	expires, err := strconv.ParseInt(f["expires_at_ms"], 10, 64)
	if err != nil {
		return models.ReservationToken{}, fmt.Errorf("decode reservation %s expires_at: %w", id, err)
	}
	return models.ReservationToken{
		ID:        id,
		TripID:    f["trip_id"],
		DriverID:  f["driver_id"],
		Seats:     seats,
		State:     models.ReservationState(f["state"]),
		CreatedAt: time.UnixMilli(created).UTC(),
		ExpiresAt: time.UnixMilli(expires).UTC(),
	}, nil
}
