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

// Package loader turns a library request into a fully assembled result:
// it lists the catalog, orders the items, fetches and transforms the
// selected media concurrently, and reports per-item outcomes.
package loader

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/pixelgraph/photoslib/lib/logger"
	"github.com/pixelgraph/photoslib/order"
	"github.com/pixelgraph/photoslib/photos"
	"github.com/pixelgraph/photoslib/transform"
)

const (
	// defaultWorkers bounds concurrent media fetches per batch.
	defaultWorkers = 6
	// defaultDeadline bounds the whole batch. Items still pending when it
	// fires are marked failed rather than left hanging.
	defaultDeadline = 2 * time.Minute
)

// Action selects what a request does.
type Action string

const (
	// ActionListAlbums lists the library's albums without loading media.
	ActionListAlbums Action = "list_albums"
	// ActionLoadAlbum loads media items from one album.
	ActionLoadAlbum Action = "load_album"
	// ActionSearch loads media items matching a category query.
	ActionSearch Action = "search"
)

// Catalog is the part of the photos client the loader consumes.
type Catalog interface {
	ListAlbums(ctx context.Context) ([]photos.Album, photos.FetchStats, error)
	ListMedia(ctx context.Context, params photos.ListMediaParams) ([]photos.MediaItem, photos.FetchStats, error)
	FetchMediaBytes(ctx context.Context, item photos.MediaItem, spec transform.Spec) ([]byte, error)
}

// Request describes one batch.
type Request struct {
	Action  Action
	AlbumID string
	Query   string
	// MediaType restricts a search to photos.MediaTypePhoto or
	// photos.MediaTypeVideo. Empty matches all media.
	MediaType string
	// StartDate and EndDate restrict a search to a capture-date range,
	// inclusive. Both must be set together.
	StartDate time.Time
	EndDate   time.Time
	// IncludeArchived also returns archived items in a search.
	IncludeArchived bool
	// MaxCount bounds the number of returned items, applied after ordering.
	MaxCount int
	// PageSize overrides the upstream page size. 0 keeps the default.
	PageSize int
	Size     transform.Spec
	Sort     order.Ordering
}

// hasSearchScope reports whether the request carries a query or any
// search filter.
func (r *Request) hasSearchScope() bool {
	return r.Query != "" || r.MediaType != "" || !r.StartDate.IsZero() ||
		!r.EndDate.IsZero() || r.IncludeArchived
}

// CheckAndSetDefaults validates the request, filling in zero values.
// Filter-specific validation (media type values, date range coherence)
// happens in the catalog.
func (r *Request) CheckAndSetDefaults() error {
	switch r.Action {
	case ActionListAlbums:
		return nil
	case ActionLoadAlbum:
		if r.AlbumID == "" {
			return trace.BadParameter("album id is required")
		}
		if r.hasSearchScope() {
			return trace.BadParameter("queries and search filters cannot be combined with an album")
		}
	case ActionSearch:
		if !r.hasSearchScope() {
			return trace.BadParameter("a query, media type or date range is required")
		}
		if r.AlbumID != "" {
			return trace.BadParameter("album id must be empty when searching")
		}
	default:
		return trace.BadParameter("unknown action %q", r.Action)
	}
	if r.MaxCount == 0 {
		r.MaxCount = 1
	}
	if r.MaxCount < 1 || r.MaxCount > 100 {
		return trace.BadParameter("max count must be within [1,100]")
	}
	if err := r.Size.Validate(); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(r.Sort.CheckAndSetDefaults())
}

// ItemResult is the outcome for a single media item. Exactly one of
// Image and Err is set.
type ItemResult struct {
	Item  photos.MediaItem
	Image *image.NRGBA
	Err   error
}

// Result is an assembled batch. Items keeps the ordering of the request,
// never the completion order of the fetches.
type Result struct {
	BatchID    string
	Albums     []photos.Album
	Items      []ItemResult
	StatusText string
}

// Images returns the successfully loaded images, in item order.
func (r *Result) Images() []*image.NRGBA {
	images := make([]*image.NRGBA, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Err == nil {
			images = append(images, item.Image)
		}
	}
	return images
}

// Failed returns the item results that carry an error.
func (r *Result) Failed() []ItemResult {
	var failed []ItemResult
	for _, item := range r.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// Config is the loader configuration.
type Config struct {
	Catalog Catalog
	// Workers bounds concurrent fetch+transform goroutines.
	Workers int
	// Deadline bounds the whole batch.
	Deadline time.Duration
	// CacheDir enables the transformed-image disk cache when non-empty.
	CacheDir string
	Clock    clockwork.Clock
}

// CheckAndSetDefaults validates the configuration, filling in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Catalog == nil {
		return trace.BadParameter("catalog is required")
	}
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.Workers < 1 {
		return trace.BadParameter("workers must be positive")
	}
	if c.Deadline == 0 {
		c.Deadline = defaultDeadline
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Loader assembles batch results from the catalog and transform pipeline.
type Loader struct {
	catalog  Catalog
	workers  int
	deadline time.Duration
	cache    *imageCache
	clock    clockwork.Clock

	imageCacheHits atomic.Int64
}

// NewLoader creates a Loader with the given configuration.
func NewLoader(conf Config) (*Loader, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Loader{
		catalog:  conf.Catalog,
		workers:  conf.Workers,
		deadline: conf.Deadline,
		cache:    newImageCache(conf.CacheDir),
		clock:    conf.Clock,
	}, nil
}

// ClearCache erases the transformed-image disk cache.
func (l *Loader) ClearCache() error {
	return trace.Wrap(l.cache.clear())
}

// HandleRequest runs one batch. Per-item failures are recorded in the
// result and do not fail the call; the error return is reserved for
// request validation, catalog listing failures before any media work,
// and cancellation of the caller's context.
func (l *Loader) HandleRequest(ctx context.Context, req Request) (*Result, error) {
	if err := req.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	batchID := uuid.New().String()
	ctx, log := logger.WithField(ctx, "batch_id", batchID)
	start := l.clock.Now()

	if req.Action == ActionListAlbums {
		albums, stats, err := l.catalog.ListAlbums(ctx)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result := &Result{BatchID: batchID, Albums: albums}
		result.StatusText = statusText(statusReport{
			batchID: batchID,
			action:  req.Action,
			albums:  len(albums),
			stats:   stats,
			elapsed: l.clock.Since(start),
		})
		return result, nil
	}

	items, stats, err := l.catalog.ListMedia(ctx, photos.ListMediaParams{
		AlbumID:         req.AlbumID,
		Query:           req.Query,
		MediaType:       req.MediaType,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		IncludeArchived: req.IncludeArchived,
		MaxCount:        req.MaxCount,
		PageSize:        req.PageSize,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	ordered, err := order.Apply(items, req.Sort, req.MaxCount)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	log.Debugf("Loading %d media items with %d workers", len(ordered), l.workers)

	cacheHitsBefore := l.imageCacheHits.Load()
	results, batchErr := l.loadAll(ctx, ordered, req.Size)

	result := &Result{BatchID: batchID, Items: results}
	result.StatusText = statusText(statusReport{
		batchID:   batchID,
		action:    req.Action,
		scope:     scopeOf(req),
		items:     len(results),
		failed:    len(result.Failed()),
		stats:     stats,
		cacheHits: int(l.imageCacheHits.Load() - cacheHitsBefore),
		elapsed:   l.clock.Since(start),
		batchErr:  batchErr,
	})

	// The caller going away is the one condition that outranks partial
	// delivery.
	if ctx.Err() != nil {
		return result, trace.Wrap(ctx.Err())
	}
	return result, nil
}

// loadAll fetches and transforms items with bounded concurrency, keeping
// item order in the returned slice. The returned error is the batch-level
// condition that stopped scheduling early, if any.
func (l *Loader) loadAll(ctx context.Context, items []photos.MediaItem, spec transform.Spec) ([]ItemResult, error) {
	ctx, cancel := context.WithTimeout(ctx, l.deadline)
	defer cancel()

	results := make([]ItemResult, len(items))
	sem := semaphore.NewWeighted(int64(l.workers))
	var wg sync.WaitGroup

	var batchErr error
	for i := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Deadline or cancellation: everything not yet scheduled fails
			// with the same cause.
			batchErr = err
			for j := i; j < len(items); j++ {
				results[j] = ItemResult{Item: items[j], Err: trace.Wrap(err)}
			}
			break
		}
		wg.Add(1)
		go func(i int, item photos.MediaItem) {
			defer wg.Done()
			defer sem.Release(1)

			img, err := l.loadItem(ctx, item, spec)
			if err != nil {
				logger.Get(ctx).WithField("item_id", item.ID).
					WithError(err).Error("Failed to load media item")
				results[i] = ItemResult{Item: item, Err: trace.Wrap(err)}
				return
			}
			results[i] = ItemResult{Item: item, Image: img}
		}(i, items[i])
	}
	wg.Wait()

	if batchErr == nil && ctx.Err() != nil {
		batchErr = ctx.Err()
	}
	return results, batchErr
}

// loadItem produces the transformed image for one item, consulting the
// disk cache first.
func (l *Loader) loadItem(ctx context.Context, item photos.MediaItem, spec transform.Spec) (*image.NRGBA, error) {
	key := spec.CacheKey(item.ID)
	if img, ok := l.cache.get(key); ok {
		l.imageCacheHits.Add(1)
		return img, nil
	}

	raw, err := l.catalog.FetchMediaBytes(ctx, item, spec)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	img, err := transform.Apply(raw, spec)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := l.cache.put(key, img); err != nil {
		logger.Get(ctx).WithError(err).Warn("Failed to write image cache entry")
	}
	return img, nil
}

func scopeOf(req Request) string {
	if req.AlbumID != "" {
		return "album " + req.AlbumID
	}
	if req.Query != "" {
		return "query " + req.Query
	}
	return "filtered search"
}
