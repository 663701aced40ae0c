package loader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/pixelgraph/photoslib/order"
	"github.com/pixelgraph/photoslib/photos"
	"github.com/pixelgraph/photoslib/transform"
)

type fakeCatalog struct {
	albums  []photos.Album
	items   []photos.MediaItem
	listErr error

	mu         sync.Mutex
	lastParams photos.ListMediaParams

	fetches atomic.Int64
	// fetch overrides the default behavior of serving a small PNG.
	fetch func(ctx context.Context, item photos.MediaItem) ([]byte, error)
}

func (f *fakeCatalog) ListAlbums(ctx context.Context) ([]photos.Album, photos.FetchStats, error) {
	if f.listErr != nil {
		return nil, photos.FetchStats{}, f.listErr
	}
	return f.albums, photos.FetchStats{PagesFetched: 1}, nil
}

func (f *fakeCatalog) ListMedia(ctx context.Context, params photos.ListMediaParams) ([]photos.MediaItem, photos.FetchStats, error) {
	f.mu.Lock()
	f.lastParams = params
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, photos.FetchStats{}, f.listErr
	}
	items := f.items
	if len(items) > params.MaxCount {
		items = items[:params.MaxCount]
	}
	return items, photos.FetchStats{PagesFetched: 1}, nil
}

func (f *fakeCatalog) FetchMediaBytes(ctx context.Context, item photos.MediaItem, spec transform.Spec) ([]byte, error) {
	f.fetches.Add(1)
	if f.fetch != nil {
		return f.fetch(ctx, item)
	}
	return pngBytes(64, 48), nil
}

func pngBytes(width, height int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func fakeItems(n int) []photos.MediaItem {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	items := make([]photos.MediaItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, photos.MediaItem{
			ID:           fmt.Sprintf("item-%02d", i),
			Filename:     fmt.Sprintf("IMG_%04d.jpg", i),
			CreationTime: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return items
}

func loadRequest() Request {
	return Request{
		Action:   ActionLoadAlbum,
		AlbumID:  "album-1",
		MaxCount: 10,
		Size:     transform.Spec{Mode: transform.Original},
		Sort:     order.Ordering{Criteria: order.ByCreationTime, Direction: order.Asc},
	}
}

func TestLoadBatch(t *testing.T) {
	catalog := &fakeCatalog{items: fakeItems(10)}
	l, err := NewLoader(Config{Catalog: catalog})
	require.NoError(t, err)

	result, err := l.HandleRequest(context.Background(), loadRequest())
	require.NoError(t, err)
	require.Len(t, result.Items, 10)
	require.Len(t, result.Images(), 10)
	require.Empty(t, result.Failed())

	// Results keep the ordering of the request.
	for i, item := range result.Items {
		require.Equal(t, fmt.Sprintf("item-%02d", i), item.Item.ID)
	}
	require.Contains(t, result.StatusText, "loaded 10/10 items from album album-1")
	require.Contains(t, result.StatusText, "pages: 1 fetched")
}

func TestLoadBatchPartialFailure(t *testing.T) {
	catalog := &fakeCatalog{items: fakeItems(10)}
	catalog.fetch = func(ctx context.Context, item photos.MediaItem) ([]byte, error) {
		raw := pngBytes(64, 48)
		if item.ID == "item-04" {
			// Truncated download.
			return raw[:16], nil
		}
		return raw, nil
	}
	l, err := NewLoader(Config{Catalog: catalog})
	require.NoError(t, err)

	result, err := l.HandleRequest(context.Background(), loadRequest())
	require.NoError(t, err)
	require.Len(t, result.Items, 10)
	require.Len(t, result.Images(), 9)

	failed := result.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, "item-04", failed[0].Item.ID)
	require.True(t, transform.IsDecodeError(failed[0].Err))

	// Slot 4 keeps its place with the error recorded in it.
	require.Error(t, result.Items[4].Err)
	require.Nil(t, result.Items[4].Image)

	require.Contains(t, result.StatusText, "loaded 9/10 items")
	require.Contains(t, result.StatusText, "failures: 1 item(s) skipped")
}

func TestLoadBatchDeadline(t *testing.T) {
	catalog := &fakeCatalog{items: fakeItems(10)}
	catalog.fetch = func(ctx context.Context, item photos.MediaItem) ([]byte, error) {
		<-ctx.Done()
		return nil, trace.Wrap(ctx.Err())
	}
	l, err := NewLoader(Config{Catalog: catalog, Deadline: 50 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan struct{})
	var result *Result
	go func() {
		defer close(done)
		result, err = l.HandleRequest(context.Background(), loadRequest())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish after its deadline")
	}

	// The deadline fails items, not the call.
	require.NoError(t, err)
	require.Len(t, result.Items, 10)
	require.Empty(t, result.Images())
	require.Len(t, result.Failed(), 10)
	require.Contains(t, result.StatusText, "batch error")
}

func TestLoadBatchCallerCanceled(t *testing.T) {
	catalog := &fakeCatalog{items: fakeItems(4)}
	ctx, cancel := context.WithCancel(context.Background())
	catalog.fetch = func(ctx context.Context, item photos.MediaItem) ([]byte, error) {
		cancel()
		<-ctx.Done()
		return nil, trace.Wrap(ctx.Err())
	}
	l, err := NewLoader(Config{Catalog: catalog})
	require.NoError(t, err)

	req := loadRequest()
	req.MaxCount = 4
	result, err := l.HandleRequest(ctx, req)
	require.Error(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Items, 4)
}

func TestListAlbumsAction(t *testing.T) {
	catalog := &fakeCatalog{albums: []photos.Album{
		{ID: "a1", Title: "Vacation", MediaItemCount: 12},
		{ID: "a2", Title: "Pets", MediaItemCount: 3},
	}}
	l, err := NewLoader(Config{Catalog: catalog})
	require.NoError(t, err)

	result, err := l.HandleRequest(context.Background(), Request{Action: ActionListAlbums})
	require.NoError(t, err)
	require.Len(t, result.Albums, 2)
	require.Empty(t, result.Items)
	require.Contains(t, result.StatusText, "listed 2 albums")
	require.Zero(t, catalog.fetches.Load())
}

func TestImageCache(t *testing.T) {
	catalog := &fakeCatalog{items: fakeItems(5)}
	l, err := NewLoader(Config{Catalog: catalog, CacheDir: t.TempDir()})
	require.NoError(t, err)

	req := loadRequest()
	req.MaxCount = 5
	req.Size = transform.Spec{Mode: transform.FixedSize, Width: 32, Height: 32, Crop: true}

	result, err := l.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Images(), 5)
	require.EqualValues(t, 5, catalog.fetches.Load())

	// Second identical batch is served from the disk cache.
	result, err = l.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Images(), 5)
	require.EqualValues(t, 5, catalog.fetches.Load())
	require.Contains(t, result.StatusText, "images: 5 from cache")
	for _, img := range result.Images() {
		require.Equal(t, 32, img.Bounds().Dx())
		require.Equal(t, 32, img.Bounds().Dy())
	}

	// A different transform misses the cache.
	req.Size = transform.Spec{Mode: transform.FixedSize, Width: 16, Height: 16, Crop: true}
	_, err = l.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	require.EqualValues(t, 10, catalog.fetches.Load())

	// Clearing the cache forces refetches.
	require.NoError(t, l.ClearCache())
	_, err = l.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	require.EqualValues(t, 15, catalog.fetches.Load())
}

func TestSearchFiltersPassedThrough(t *testing.T) {
	catalog := &fakeCatalog{items: fakeItems(3)}
	l, err := NewLoader(Config{Catalog: catalog})
	require.NoError(t, err)

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
	_, err = l.HandleRequest(context.Background(), Request{
		Action:          ActionSearch,
		Query:           "LANDSCAPES",
		MediaType:       photos.MediaTypePhoto,
		StartDate:       from,
		EndDate:         to,
		IncludeArchived: true,
		MaxCount:        3,
		Size:            transform.Spec{Mode: transform.Original},
		Sort:            order.Ordering{Criteria: order.ByCreationTime, Direction: order.Asc},
	})
	require.NoError(t, err)

	catalog.mu.Lock()
	params := catalog.lastParams
	catalog.mu.Unlock()
	require.Equal(t, "LANDSCAPES", params.Query)
	require.Equal(t, photos.MediaTypePhoto, params.MediaType)
	require.True(t, params.StartDate.Equal(from))
	require.True(t, params.EndDate.Equal(to))
	require.True(t, params.IncludeArchived)

	// A filter alone is a valid search scope.
	_, err = l.HandleRequest(context.Background(), Request{
		Action:    ActionSearch,
		MediaType: photos.MediaTypeVideo,
		MaxCount:  3,
		Size:      transform.Spec{Mode: transform.Original},
		Sort:      order.Ordering{Criteria: order.ByCreationTime, Direction: order.Asc},
	})
	require.NoError(t, err)
	catalog.mu.Lock()
	require.Equal(t, photos.MediaTypeVideo, catalog.lastParams.MediaType)
	catalog.mu.Unlock()
}

func TestRequestValidation(t *testing.T) {
	l, err := NewLoader(Config{Catalog: &fakeCatalog{}})
	require.NoError(t, err)

	for name, req := range map[string]Request{
		"unknown action":  {Action: "upload"},
		"missing album":   {Action: ActionLoadAlbum},
		"missing query":   {Action: ActionSearch},
		"both scopes":     {Action: ActionLoadAlbum, AlbumID: "a", Query: "cats"},
		"album filtered":  {Action: ActionLoadAlbum, AlbumID: "a", MediaType: photos.MediaTypeVideo, MaxCount: 1},
		"count too large": {Action: ActionLoadAlbum, AlbumID: "a", MaxCount: 101},
		"incomplete size": {Action: ActionLoadAlbum, AlbumID: "a", MaxCount: 1, Size: transform.Spec{Mode: transform.FixedSize}},
		"bad sort":        {Action: ActionLoadAlbum, AlbumID: "a", MaxCount: 1, Sort: order.Ordering{Direction: "up"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := l.HandleRequest(context.Background(), req)
			require.Error(t, err)
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
		})
	}
}

func TestListingFailure(t *testing.T) {
	catalog := &fakeCatalog{listErr: trace.ConnectionProblem(nil, "upstream unreachable")}
	l, err := NewLoader(Config{Catalog: catalog})
	require.NoError(t, err)

	_, err = l.HandleRequest(context.Background(), loadRequest())
	require.Error(t, err)
	require.True(t, trace.IsConnectionProblem(err))
}
