package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/transitpay/backoffice/internal/logger"
	"github.com/transitpay/backoffice/internal/models"
	"github.com/transitpay/backoffice/internal/store"
)

const passengerCachePrefix = "recon:passenger:"

// PassengerDirectory resolves a national identity to a passenger.
// A miss is reported as ErrMatchNotFound; anything else is systemic.
type PassengerDirectory interface {
	Lookup(ctx context.Context, identity string) (*models.Passenger, error)
}

// ReaderDirectory looks passengers up in the store with a per-call deadline.
type ReaderDirectory struct {
	reader  store.PassengerReader
	timeout time.Duration
}

func NewReaderDirectory(reader store.PassengerReader, timeout time.Duration) *ReaderDirectory {
	return &ReaderDirectory{reader: reader, timeout: timeout}
}

func (d *ReaderDirectory) Lookup(ctx context.Context, identity string) (*models.Passenger, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	p, err := d.reader.FindPassengerByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, systemic("directory lookup", err)
	}
	return p, nil
}

// CachedDirectory keeps positive lookups in redis. Misses are never cached so a
// passenger added to the directory is visible on the next attempt.
type CachedDirectory struct {
	next  PassengerDirectory
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedDirectory(next PassengerDirectory, redisClient *redis.Client, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{next: next, redis: redisClient, ttl: ttl}
}

func (d *CachedDirectory) Lookup(ctx context.Context, identity string) (*models.Passenger, error) {
	if d.redis == nil {
		return d.next.Lookup(ctx, identity)
	}
	log := logger.FromContext(ctx)
	key := fmt.Sprintf("%s%s", passengerCachePrefix, identity)

	cached, err := d.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		var p models.Passenger
		if jsonErr := json.Unmarshal([]byte(cached), &p); jsonErr == nil {
			return &p, nil
		}
		log.Warn().Str("key", key).Msg("[DIRECTORY] Dropping unreadable cache entry")
		d.redis.Del(ctx, key)
	case err != redis.Nil:
		log.Warn().Err(err).Msg("[DIRECTORY] Cache read failed, falling back to directory")
	}

	p, err := d.next.Lookup(ctx, identity)
	if err != nil {
		return nil, err
	}

	if data, jsonErr := json.Marshal(p); jsonErr == nil {
		if setErr := d.redis.Set(ctx, key, data, d.ttl).Err(); setErr != nil {
			log.Warn().Err(setErr).Msg("[DIRECTORY] Cache write failed")
		}
	}
	return p, nil
}
