package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/barter-market/internal/mailqueue"
	"github.com/redis/go-redis/v9"
)

const (
	valueInFlight = "inflight"
	valueSent     = "sent"
)

// Deduplicator remembers which notification jobs are being delivered or were
// already delivered. An in-flight claim expires after inflightTTL so a worker
// that dies mid-send does not block redelivery for long.
type Deduplicator struct {
	rdb         *redis.Client
	inflightTTL time.Duration
	sentTTL     time.Duration
}

func New(addr, pass string, db int, inflightTTL, sentTTL time.Duration) (*Deduplicator, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage.redis.New: %w", err)
	}

	return &Deduplicator{rdb: rdb, inflightTTL: inflightTTL, sentTTL: sentTTL}, nil
}

func (d *Deduplicator) Stop() error {
	return d.rdb.Close()
}

func key(id string) string {
	return "notify:sent:" + id
}

// Claim marks id as in flight when nobody holds it. Otherwise it reports
// whether the holder is still sending or already sent.
func (d *Deduplicator) Claim(ctx context.Context, id string) (mailqueue.ClaimState, error) {
	const op = "storage.redis.Claim"

	ok, err := d.rdb.SetNX(ctx, key(id), valueInFlight, d.inflightTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if ok {
		return mailqueue.Claimed, nil
	}

	val, err := d.rdb.Get(ctx, key(id)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; let the redelivery try again.
		return mailqueue.InFlight, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if val == valueSent {
		return mailqueue.Sent, nil
	}
	return mailqueue.InFlight, nil
}

// Confirm records id as sent for the full dedup window.
func (d *Deduplicator) Confirm(ctx context.Context, id string) error {
	if err := d.rdb.Set(ctx, key(id), valueSent, d.sentTTL).Err(); err != nil {
		return fmt.Errorf("storage.redis.Confirm: %w", err)
	}
	return nil
}

// Release forgets id so a redelivery can claim it again.
func (d *Deduplicator) Release(ctx context.Context, id string) error {
	if err := d.rdb.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("storage.redis.Release: %w", err)
	}
	return nil
}
