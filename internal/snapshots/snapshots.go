// Package snapshots caches recent exchange API reads in Redis so admission
// checks and the operator CLI read cheap copies instead of spending request
// weight. Every entry carries its capture time; consumers decide how stale is
// too stale.
package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"martingalian/internal/exchange"
)

// ErrMiss is returned when no snapshot exists (or it expired).
var ErrMiss = errors.New("snapshots: not cached")

// Store wraps the Redis client.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New builds the store; ttl bounds how long a snapshot can serve at all.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// markPriceEntry is the wire form of a cached mark price.
type markPriceEntry struct {
	Price      decimal.Decimal `json:"price"`
	CapturedAt time.Time       `json:"captured_at"`
}

// balanceEntry is the wire form of a cached balance.
type balanceEntry struct {
	Balance    exchange.Balance `json:"balance"`
	CapturedAt time.Time        `json:"captured_at"`
}

// positionsEntry is the wire form of a cached position set.
type positionsEntry struct {
	Positions  map[string]exchange.PositionInfo `json:"positions"`
	CapturedAt time.Time                        `json:"captured_at"`
}

func markPriceKey(exchangeName, parsedPair string) string {
	return fmt.Sprintf("snapshot:markprice:%s:%s", exchangeName, parsedPair)
}

func balanceKey(accountID int64) string {
	return fmt.Sprintf("snapshot:balance:%d", accountID)
}

func positionsKey(accountID int64) string {
	return fmt.Sprintf("snapshot:positions:%d", accountID)
}

// SetMarkPrice caches one mark price.
func (s *Store) SetMarkPrice(ctx context.Context, exchangeName, parsedPair string, price decimal.Decimal) error {
	return s.set(ctx, markPriceKey(exchangeName, parsedPair), markPriceEntry{
		Price:      price,
		CapturedAt: time.Now().UTC(),
	})
}

// MarkPrice returns the cached mark price and its capture time.
func (s *Store) MarkPrice(ctx context.Context, exchangeName, parsedPair string) (decimal.Decimal, time.Time, error) {
	var entry markPriceEntry
	if err := s.get(ctx, markPriceKey(exchangeName, parsedPair), &entry); err != nil {
		return decimal.Zero, time.Time{}, err
	}
	return entry.Price, entry.CapturedAt, nil
}

// SetBalance caches one account balance.
func (s *Store) SetBalance(ctx context.Context, accountID int64, balance *exchange.Balance) error {
	return s.set(ctx, balanceKey(accountID), balanceEntry{
		Balance:    *balance,
		CapturedAt: time.Now().UTC(),
	})
}

// Balance returns the cached balance and its capture time.
func (s *Store) Balance(ctx context.Context, accountID int64) (*exchange.Balance, time.Time, error) {
	var entry balanceEntry
	if err := s.get(ctx, balanceKey(accountID), &entry); err != nil {
		return nil, time.Time{}, err
	}
	return &entry.Balance, entry.CapturedAt, nil
}

// SetPositions caches an account's open positions keyed the adapter way.
func (s *Store) SetPositions(ctx context.Context, accountID int64, positions map[string]exchange.PositionInfo) error {
	return s.set(ctx, positionsKey(accountID), positionsEntry{
		Positions:  positions,
		CapturedAt: time.Now().UTC(),
	})
}

// Positions returns the cached position set and its capture time.
func (s *Store) Positions(ctx context.Context, accountID int64) (map[string]exchange.PositionInfo, time.Time, error) {
	var entry positionsEntry
	if err := s.get(ctx, positionsKey(accountID), &entry); err != nil {
		return nil, time.Time{}, err
	}
	return entry.Positions, entry.CapturedAt, nil
}

func (s *Store) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshots: marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("snapshots: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, out any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("snapshots: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("snapshots: decode %s: %w", key, err)
	}
	return nil
}
