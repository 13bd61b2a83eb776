// Package database also provides Redis-based campaign state snapshots.
//
// Campaign snapshots let a restarted engine report which symbols still have
// open campaigns before the bar stream has replayed. When Redis is
// unavailable, the store falls back to an in-memory cache so the pipeline
// keeps running without interruption.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// CampaignKeyPrefix is the prefix for individual campaign snapshot keys
	// Format: wyckoff:campaign:{symbol}
	CampaignKeyPrefix = "wyckoff:campaign"

	// CampaignSetKey holds the set of symbols with an open campaign
	CampaignSetKey = "wyckoff:campaigns:open"

	// CampaignSnapshotTTL keeps stale snapshots from surviving forever when
	// a symbol stops streaming
	CampaignSnapshotTTL = 7 * 24 * time.Hour
)

// CampaignSnapshot is the minimal campaign state persisted across restarts.
type CampaignSnapshot struct {
	ID      uuid.UUID `json:"id"`
	Symbol  string    `json:"symbol"`
	Cycle   int       `json:"cycle"`
	Status  string    `json:"status"`
	OpenBar int       `json:"open_bar"`
	Signals int       `json:"signals"`
	SavedAt time.Time `json:"saved_at"`
}

// RedisCampaignStateStore stores campaign snapshots in Redis with an
// in-memory fallback cache when Redis is unavailable.
type RedisCampaignStateStore struct {
	client         *redis.Client
	inMemoryCache  map[string]*CampaignSnapshot // key = symbol
	cacheMu        sync.RWMutex
	redisAvailable atomic.Bool
}

// NewRedisCampaignStateStore creates a campaign snapshot store. If client is
// nil, the store operates in memory-only mode.
func NewRedisCampaignStateStore(client *redis.Client) *RedisCampaignStateStore {
	store := &RedisCampaignStateStore{
		client:        client,
		inMemoryCache: make(map[string]*CampaignSnapshot),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("[REDIS-CAMPAIGN] Redis unavailable at startup: %v, using in-memory cache", err)
			store.redisAvailable.Store(false)
		} else {
			log.Printf("[REDIS-CAMPAIGN] Redis connected successfully")
			store.redisAvailable.Store(true)
		}
	} else {
		log.Printf("[REDIS-CAMPAIGN] No Redis client provided, using in-memory cache only")
		store.redisAvailable.Store(false)
	}

	return store
}

func (s *RedisCampaignStateStore) campaignKey(symbol string) string {
	return fmt.Sprintf("%s:%s", CampaignKeyPrefix, symbol)
}

// Save persists the snapshot for a symbol's open campaign. The in-memory
// cache is always written so a Redis outage never loses the latest state.
func (s *RedisCampaignStateStore) Save(ctx context.Context, snap *CampaignSnapshot) error {
	snap.SavedAt = time.Now()

	s.cacheMu.Lock()
	s.inMemoryCache[snap.Symbol] = snap
	s.cacheMu.Unlock()

	if s.client == nil {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal campaign snapshot: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.campaignKey(snap.Symbol), data, CampaignSnapshotTTL)
	pipe.SAdd(ctx, CampaignSetKey, snap.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markUnavailable(err)
		return nil // in-memory copy is authoritative during the outage
	}
	s.markAvailable()
	return nil
}

// Load returns the snapshot for a symbol, or nil when none exists.
func (s *RedisCampaignStateStore) Load(ctx context.Context, symbol string) (*CampaignSnapshot, error) {
	if s.client != nil && s.redisAvailable.Load() {
		data, err := s.client.Get(ctx, s.campaignKey(symbol)).Bytes()
		switch {
		case err == redis.Nil:
			return nil, nil
		case err != nil:
			s.markUnavailable(err)
		default:
			snap := &CampaignSnapshot{}
			if err := json.Unmarshal(data, snap); err != nil {
				return nil, fmt.Errorf("unmarshal campaign snapshot: %w", err)
			}
			return snap, nil
		}
	}

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.inMemoryCache[symbol], nil
}

// Delete removes a symbol's snapshot once its campaign closes.
func (s *RedisCampaignStateStore) Delete(ctx context.Context, symbol string) error {
	s.cacheMu.Lock()
	delete(s.inMemoryCache, symbol)
	s.cacheMu.Unlock()

	if s.client == nil {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.campaignKey(symbol))
	pipe.SRem(ctx, CampaignSetKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markUnavailable(err)
	}
	return nil
}

// OpenSymbols lists symbols with a saved open campaign.
func (s *RedisCampaignStateStore) OpenSymbols(ctx context.Context) ([]string, error) {
	if s.client != nil && s.redisAvailable.Load() {
		symbols, err := s.client.SMembers(ctx, CampaignSetKey).Result()
		if err == nil {
			s.markAvailable()
			return symbols, nil
		}
		s.markUnavailable(err)
	}

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	symbols := make([]string, 0, len(s.inMemoryCache))
	for symbol := range s.inMemoryCache {
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}

func (s *RedisCampaignStateStore) markUnavailable(err error) {
	if s.redisAvailable.CompareAndSwap(true, false) {
		log.Printf("[REDIS-CAMPAIGN] Redis became unavailable: %v, falling back to in-memory cache", err)
	}
}

func (s *RedisCampaignStateStore) markAvailable() {
	if s.redisAvailable.CompareAndSwap(false, true) {
		log.Printf("[REDIS-CAMPAIGN] Redis connection restored")
	}
}
