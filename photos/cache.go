/*
Copyright 2024 Pixelgraph, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package photos

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// defaultCacheTTL is the default freshness window for a cached page.
const defaultCacheTTL = 5 * time.Minute

// pageKey identifies one fetched page. Cursor is part of the key so a chain
// of pages under one (action, scope, pageSize) can be hit page-by-page;
// different page sizes never share entries since their page boundaries
// differ.
type pageKey struct {
	action   string
	scope    string
	pageSize int
	cursor   string
}

type pageEntry[T any] struct {
	items      []T
	nextCursor string
	fetchedAt  time.Time
}

// pageCache is a process-local page cache with a TTL freshness policy.
// Pages are inserted whole, never incrementally, so readers can't observe a
// half-written page. Entries past the TTL are dropped on lookup.
type pageCache[T any] struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu      sync.RWMutex
	entries map[pageKey]pageEntry[T]
}

func newPageCache[T any](ttl time.Duration, clock clockwork.Clock) *pageCache[T] {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &pageCache[T]{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[pageKey]pageEntry[T]),
	}
}

func (c *pageCache[T]) get(key pageKey) ([]T, string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, "", false
	}
	if c.clock.Now().Sub(entry.fetchedAt) >= c.ttl {
		c.mu.Lock()
		// Re-check: a fresh page may have been inserted meanwhile.
		if entry, ok = c.entries[key]; ok && c.clock.Now().Sub(entry.fetchedAt) >= c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, "", false
	}
	return entry.items, entry.nextCursor, true
}

func (c *pageCache[T]) put(key pageKey, items []T, nextCursor string) {
	c.mu.Lock()
	c.entries[key] = pageEntry[T]{
		items:      items,
		nextCursor: nextCursor,
		fetchedAt:  c.clock.Now(),
	}
	c.mu.Unlock()
}
