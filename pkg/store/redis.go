// Package store persists entity state to Redis and hosts the data-store
// worker that drains the store stream. Keys are flat strings shaped
// <namespace>:<kind>:<id>:<field> so an entity can be purged with a
// single scan.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/types"
)

// failureWindow is how long after a Redis error the store reports itself
// as recently failed, so transformers keep working from in-memory state
// instead of hammering a dead store with hydration reads.
const failureWindow = 30 * time.Second

// Store is a namespaced Redis-backed field store.
type Store struct {
	rdb       *redis.Client
	namespace string
	logger    zerolog.Logger

	mu          sync.Mutex
	lastFailure time.Time
}

// New builds a store over the given Redis address and logical database.
// The namespace isolates one deployment's keys from another's on a
// shared Redis.
func New(addr string, db int, namespace string) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
		namespace: namespace,
		logger:    log.WithComponent("store"),
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.noteFailure()
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Key builds the flat key for one field of one entity.
func (s *Store) Key(kind types.EntityKind, id, field string) string {
	return s.namespace + ":" + string(kind) + ":" + id + ":" + field
}

// RecentlyFailed reports whether a Redis operation failed within the
// failure window. Callers use it to skip optional reads while the store
// is known to be unhealthy.
func (s *Store) RecentlyFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastFailure) < failureWindow
}

func (s *Store) noteFailure() {
	s.mu.Lock()
	s.lastFailure = time.Now()
	s.mu.Unlock()
}

// SetFields writes a field map for one entity in a single pipeline. A
// nil value deletes the field's key, keeping "no value" representable.
func (s *Store) SetFields(ctx context.Context, kind types.EntityKind, id string, fields map[string]*float64) error {
	pipe := s.rdb.Pipeline()
	for field, value := range fields {
		key := s.Key(kind, id, field)
		if value == nil {
			pipe.Del(ctx, key)
			continue
		}
		pipe.Set(ctx, key, strconv.FormatFloat(*value, 'f', -1, 64), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.noteFailure()
		return fmt.Errorf("writing %s %s: %w", kind, id, err)
	}
	return nil
}

// GetFloat reads one field. A missing key returns (nil, nil).
func (s *Store) GetFloat(ctx context.Context, kind types.EntityKind, id, field string) (*float64, error) {
	raw, err := s.rdb.Get(ctx, s.Key(kind, id, field)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		s.noteFailure()
		return nil, fmt.Errorf("reading %s %s %s: %w", kind, id, field, err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %s %s %s: %w", kind, id, field, err)
	}
	return &v, nil
}

// SetString writes one free-form field, for values that are not metrics
// (liveness records, watermark bookkeeping).
func (s *Store) SetString(ctx context.Context, kind types.EntityKind, id, field, value string) error {
	if err := s.rdb.Set(ctx, s.Key(kind, id, field), value, 0).Err(); err != nil {
		s.noteFailure()
		return fmt.Errorf("writing %s %s %s: %w", kind, id, field, err)
	}
	return nil
}

// GetString reads one free-form field. A missing key returns ("", nil).
func (s *Store) GetString(ctx context.Context, kind types.EntityKind, id, field string) (string, error) {
	raw, err := s.rdb.Get(ctx, s.Key(kind, id, field)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		s.noteFailure()
		return "", fmt.Errorf("reading %s %s %s: %w", kind, id, field, err)
	}
	return raw, nil
}

// PersistSystemState writes a full system state record.
func (s *Store) PersistSystemState(ctx context.Context, id string, state *types.SystemState) error {
	fields := state.Flat()
	fields[types.MetricLastMonitored] = state.LastMonitored
	return s.SetFields(ctx, types.KindSystem, id, fields)
}

// HydrateSystemState reads a system state record back. Missing fields
// stay nil; a record that was never written comes back as the zero
// state.
func (s *Store) HydrateSystemState(ctx context.Context, id string) (*types.SystemState, error) {
	names := []string{
		types.MetricProcessCPUSecondsTotal, types.MetricProcessMemoryUsage,
		types.MetricVirtualMemoryUsage, types.MetricOpenFileDescriptors,
		types.MetricSystemCPUUsage, types.MetricSystemRAMUsage,
		types.MetricSystemStorageUsage, types.MetricNetworkTransmitBytesTotal,
		types.MetricNetworkReceiveBytesTotal, types.MetricNetworkTransmitPerSecond,
		types.MetricNetworkReceivePerSecond, types.MetricDiskIOTimeSecondsTotal,
		types.MetricDiskIOTimeInInterval, types.MetricWentDownAt,
		types.MetricLastMonitored,
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.Key(types.KindSystem, id, n)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		s.noteFailure()
		return nil, fmt.Errorf("hydrating system %s: %w", id, err)
	}

	state := &types.SystemState{}
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, fmt.Errorf("hydrating system %s field %s: %w", id, names[i], err)
		}
		state.SetField(names[i], &v)
	}
	return state, nil
}

// PersistRepoState writes a repository state record under the given
// kind (github or dockerhub share the shape).
func (s *Store) PersistRepoState(ctx context.Context, kind types.EntityKind, id string, state *types.RepoState) error {
	fields := state.Flat()
	fields[types.MetricLastMonitored] = state.LastMonitored
	return s.SetFields(ctx, kind, id, fields)
}

// HydrateRepoState reads a repository state record back.
func (s *Store) HydrateRepoState(ctx context.Context, kind types.EntityKind, id string) (*types.RepoState, error) {
	state := &types.RepoState{}
	var err error
	if state.NoOfReleases, err = s.GetFloat(ctx, kind, id, types.MetricNoOfReleases); err != nil {
		return nil, err
	}
	if state.LastMonitored, err = s.GetFloat(ctx, kind, id, types.MetricLastMonitored); err != nil {
		return nil, err
	}
	return state, nil
}

// ListEntities returns the distinct entity ids that have at least one
// key under the given kind.
func (s *Store) ListEntities(ctx context.Context, kind types.EntityKind) ([]string, error) {
	prefix := s.namespace + ":" + string(kind) + ":"
	seen := map[string]bool{}
	var ids []string
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			s.noteFailure()
			return nil, fmt.Errorf("listing %s entities: %w", kind, err)
		}
		for _, key := range keys {
			rest := key[len(prefix):]
			if i := strings.IndexByte(rest, ':'); i > 0 {
				id := rest[:i]
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			sort.Strings(ids)
			return ids, nil
		}
	}
}

// PurgeEntity deletes every key belonging to one entity. Used when a
// component reset invalidates the entity's accumulated state.
func (s *Store) PurgeEntity(ctx context.Context, kind types.EntityKind, id string) error {
	pattern := s.Key(kind, id, "*")
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			s.noteFailure()
			return fmt.Errorf("scanning %s %s: %w", kind, id, err)
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				s.noteFailure()
				return fmt.Errorf("purging %s %s: %w", kind, id, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
