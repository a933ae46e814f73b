// Package storage implements the sharded, memory-budgeted key-value
// core: per-shard concurrency, a store-wide memory budget enforced by
// evicting per-shard LRU tails, a monotonic logical version counter,
// and store-wide rebalancing.
package storage

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AsifIrfan3393/win-kvstore/internal/metricssink"
)

// Item is the frozen, on-disk/in-transit representation of an Entry:
// a {key, value, version, residual_ttl_ms} tuple. ResidualTTLMs is the
// milliseconds remaining at the time it was captured (zero once the
// entry has expired), or -1 for "no expiry".
type Item struct {
	Key           string
	Value         []byte
	Version       uint64
	ResidualTTLMs int64
}

// entry is one stored key's value and metadata. listElem points at
// the node that holds this key in the owning shard's recency list;
// removing an entry from the map in O(1) implies knowing this node in
// O(1), which is exactly what listElem gives us.
type entry struct {
	value     []byte
	version   uint64
	expireAt  time.Time // zero value means "never expires"
	sizeBytes int
	listElem  *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// shard owns a partition of the key space: a map from key to entry
// and a doubly-linked recency list (MRU at the front) kept consistent
// with that map under one RWMutex protecting both structures.
type shard struct {
	mu    sync.RWMutex
	items map[string]*entry
	lru   *list.List // Element.Value is the key (string)
}

func newShard() *shard {
	return &shard{items: make(map[string]*entry), lru: list.New()}
}

// touch moves e to the front of the shard's recency list. Caller must
// hold shard.mu exclusively.
func (s *shard) touch(e *entry) {
	s.lru.MoveToFront(e.listElem)
}

// removeLocked deletes key's entry from both the map and the recency
// list and returns its size in bytes, or -1 if the key was absent.
// Caller must hold shard.mu exclusively.
func (s *shard) removeLocked(key string) int {
	e, ok := s.items[key]
	if !ok {
		return -1
	}
	s.lru.Remove(e.listElem)
	delete(s.items, key)
	return e.sizeBytes
}

// Store is the sharded key space: an ordered sequence of shards, the
// global logical version counter, the aggregate memory usage, the
// configured budget, and the store-wide rebalance lock.
type Store struct {
	rebalanceMu sync.RWMutex // shared: any per-shard op; exclusive: restore/rebalance
	shards      []*shard

	version      atomic.Uint64
	memoryUsage  atomic.Int64
	memoryBudget int64

	sink *metricssink.Sink
}

// New returns a Store with shardCount shards and the given memory
// budget in bytes. sink may be nil in tests that don't care about
// metrics.
func New(shardCount int, memoryBudgetBytes int64, sink *metricssink.Sink) *Store {
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = newShard()
	}
	return &Store{shards: shards, memoryBudget: memoryBudgetBytes, sink: sink}
}

func shardIndex(key string, n int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(n))
}

func (st *Store) shardFor(key string) *shard {
	idx := shardIndex(key, len(st.shards))
	return st.shards[idx]
}

// Get fetches key's value. When snapshotVersion is non-nil, entries
// with a version greater than it are treated as absent — a
// point-in-time read. Reads never touch the recency list.
func (st *Store) Get(key string, snapshotVersion *uint64) ([]byte, bool) {
	st.rebalanceMu.RLock()
	defer st.rebalanceMu.RUnlock()

	sh := st.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.items[key]
	if !ok {
		return nil, false
	}
	if snapshotVersion != nil && e.version > *snapshotVersion {
		return nil, false
	}
	if e.expired(time.Now()) {
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Put upserts key, assigning the next logical version and, when ttl
// is non-nil, an absolute expiry. It returns the assigned version.
func (st *Store) Put(key string, value []byte, ttl *time.Duration) uint64 {
	st.rebalanceMu.RLock()
	sh := st.shardFor(key)
	sh.mu.Lock()

	version := st.version.Add(1)
	var expireAt time.Time
	if ttl != nil {
		expireAt = time.Now().Add(*ttl)
	}
	size := len(key) + len(value)

	if e, ok := sh.items[key]; ok {
		st.memoryUsage.Add(int64(size - e.sizeBytes))
		e.value = value
		e.version = version
		e.expireAt = expireAt
		e.sizeBytes = size
		sh.touch(e)
	} else {
		elem := sh.lru.PushFront(key)
		sh.items[key] = &entry{
			value:     value,
			version:   version,
			expireAt:  expireAt,
			sizeBytes: size,
			listElem:  elem,
		}
		st.memoryUsage.Add(int64(size))
	}
	sh.mu.Unlock()
	st.rebalanceMu.RUnlock()

	st.EnforceMemoryBudget()
	return version
}

// Del removes key, reporting whether it was present.
func (st *Store) Del(key string) bool {
	st.rebalanceMu.RLock()
	defer st.rebalanceMu.RUnlock()

	sh := st.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	size := sh.removeLocked(key)
	if size < 0 {
		return false
	}
	st.memoryUsage.Add(-int64(size))
	return true
}

// ExpireKeys scans every shard and removes entries whose expiry has
// passed. Invoked periodically by a background timer.
func (st *Store) ExpireKeys() {
	st.rebalanceMu.RLock()
	defer st.rebalanceMu.RUnlock()

	now := time.Now()
	for _, sh := range st.shards {
		sh.mu.Lock()
		for key, e := range sh.items {
			if e.expired(now) {
				sh.lru.Remove(e.listElem)
				delete(sh.items, key)
				st.memoryUsage.Add(-int64(e.sizeBytes))
			}
		}
		sh.mu.Unlock()
	}
}

// EnforceMemoryBudget evicts LRU tails, one shard at a time in index
// order, until aggregate memory is at or under budget or every shard
// is empty. It never loops forever: once every shard is empty it
// stops. A value larger than the budget is itself evicted.
func (st *Store) EnforceMemoryBudget() {
	st.rebalanceMu.RLock()
	defer st.rebalanceMu.RUnlock()

	for st.memoryUsage.Load() > st.memoryBudget {
		evicted := false
		for _, sh := range st.shards {
			sh.mu.Lock()
			if sh.lru.Len() == 0 {
				sh.mu.Unlock()
				continue
			}
			key := sh.lru.Back().Value.(string)
			size := sh.removeLocked(key)
			sh.mu.Unlock()

			st.memoryUsage.Add(-int64(size))
			if st.sink != nil {
				st.sink.RecordEviction()
			}
			evicted = true
			break
		}
		if !evicted {
			break
		}
	}
	if st.sink != nil {
		st.sink.SetMemoryBytes(uint64(st.memoryUsage.Load()))
	}
}

// MemoryUsage returns the current aggregate size of all stored
// entries, in bytes.
func (st *Store) MemoryUsage() int64 {
	return st.memoryUsage.Load()
}

// CurrentVersion returns the global logical version counter.
func (st *Store) CurrentVersion() uint64 {
	return st.version.Load()
}

// Snapshot collects every entry with version <= version, shard by
// shard under that shard's own lock. It is point-in-time consistent
// per shard but not a global atomic cut: a concurrent put to a shard
// not yet scanned can land after this call returns. The WAL fills in
// anything a replay needs beyond the returned set.
func (st *Store) Snapshot(version uint64) []Item {
	st.rebalanceMu.RLock()
	defer st.rebalanceMu.RUnlock()

	now := time.Now()
	var items []Item
	for _, sh := range st.shards {
		sh.mu.RLock()
		for key, e := range sh.items {
			if e.version <= version {
				items = append(items, Item{
					Key:           key,
					Value:         e.value,
					Version:       e.version,
					ResidualTTLMs: residualTTLMs(e, now),
				})
			}
		}
		sh.mu.RUnlock()
	}
	return items
}

func residualTTLMs(e *entry, now time.Time) int64 {
	if e.expireAt.IsZero() {
		return -1
	}
	remaining := e.expireAt.Sub(now).Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Restore bulk-loads items, overwriting any existing entries with the
// same key and bumping the global version to at least the highest
// version in items. Held under the exclusive rebalance lock throughout
// so no normal operation interleaves with the bulk load.
func (st *Store) Restore(items []Item) {
	st.rebalanceMu.Lock()
	for _, item := range items {
		sh := st.shardFor(item.Key)
		sh.mu.Lock()
		st.restoreOneLocked(sh, item)
		sh.mu.Unlock()

		if item.Version > st.version.Load() {
			st.version.Store(item.Version)
		}
	}
	st.rebalanceMu.Unlock()

	st.EnforceMemoryBudget()
}

// restoreOneLocked installs item into sh, replacing any prior entry
// for the same key. Caller holds sh.mu exclusively.
func (st *Store) restoreOneLocked(sh *shard, item Item) {
	var expireAt time.Time
	if item.ResidualTTLMs >= 0 {
		expireAt = time.Now().Add(time.Duration(item.ResidualTTLMs) * time.Millisecond)
	}
	size := len(item.Key) + len(item.Value)

	if old, ok := sh.items[item.Key]; ok {
		st.memoryUsage.Add(int64(size - old.sizeBytes))
		old.value = item.Value
		old.version = item.Version
		old.expireAt = expireAt
		old.sizeBytes = size
		sh.touch(old)
		return
	}
	elem := sh.lru.PushFront(item.Key)
	sh.items[item.Key] = &entry{
		value:     item.Value,
		version:   item.Version,
		expireAt:  expireAt,
		sizeBytes: size,
		listElem:  elem,
	}
	st.memoryUsage.Add(int64(size))
}

// Rebalance resizes the shard array to newShardCount, moving every
// entry to its new shard under the new modulus without changing its
// logical identity. It is a no-op when newShardCount is zero or
// unchanged.
func (st *Store) Rebalance(newShardCount int) {
	if newShardCount <= 0 || newShardCount == len(st.shards) {
		return
	}

	st.rebalanceMu.Lock()
	defer st.rebalanceMu.Unlock()

	newShards := make([]*shard, newShardCount)
	for i := range newShards {
		newShards[i] = newShard()
	}

	for _, sh := range st.shards {
		for key, e := range sh.items {
			idx := shardIndex(key, newShardCount)
			target := newShards[idx]
			elem := target.lru.PushFront(key)
			e.listElem = elem
			target.items[key] = e
		}
		sh.items = make(map[string]*entry)
		sh.lru = list.New()
	}

	st.shards = newShards
}
