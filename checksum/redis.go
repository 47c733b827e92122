package checksum

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis shares tag counters across processes and survives restarts.
// Counters live at "tag:<tag>" and only ever move forward (INCR).
//
// Every check reads the backend, so an invalidation performed by any other
// process is observed on the very next Current/Valid call. Counters are
// deliberately not cached in the instance: a cached sum that still equals a
// frozen token cannot be told apart from a genuinely current one, so a warm
// cache would hide foreign invalidations for the lifetime of the instance.
type Redis struct {
	rdb         redis.UniversalClient
	closeClient bool
}

var _ Provider = (*Redis)(nil)

// NewRedis creates a Redis-backed provider. Set closeClient true only if the
// provider exclusively owns the client.
func NewRedis(client redis.UniversalClient, closeClient bool) *Redis {
	return &Redis{rdb: client, closeClient: closeClient}
}

func (p *Redis) key(tag string) string { return "tag:" + tag }

// sum fetches all tag counters in one MGET and adds them up.
// Missing counters count as zero.
func (p *Redis) sum(ctx context.Context, tags []string) (uint64, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	keys := make([]string, len(tags))
	for i, t := range tags {
		keys[i] = p.key(t)
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}

	var total uint64
	for i, v := range vals {
		var n uint64
		switch vv := v.(type) {
		case nil:
			n = 0
		case string:
			n, err = strconv.ParseUint(vv, 10, 64)
		case []byte:
			n, err = strconv.ParseUint(string(vv), 10, 64)
		default:
			n, err = strconv.ParseUint(fmt.Sprint(vv), 10, 64)
		}
		if err != nil {
			return 0, fmt.Errorf("checksum: tag counter parse at %s: %w", tags[i], err)
		}
		total += n
	}
	return total, nil
}

func (p *Redis) Current(ctx context.Context, tags []string) (string, error) {
	n, err := p.sum(ctx, tags)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(n, 10), nil
}

func (p *Redis) Valid(ctx context.Context, token string, tags []string) (bool, error) {
	n, err := p.sum(ctx, tags)
	if err != nil {
		return false, err
	}
	return token == strconv.FormatUint(n, 10), nil
}

// Invalidate bumps every tag counter in one pipelined round trip.
func (p *Redis) Invalidate(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range tags {
			pipe.Incr(ctx, p.key(t))
		}
		return nil
	})
	return err
}

func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		return p.rdb.Close()
	}
	return nil
}
