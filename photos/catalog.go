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
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"

	"github.com/pixelgraph/photoslib/lib"
	"github.com/pixelgraph/photoslib/lib/logger"
	"github.com/pixelgraph/photoslib/transform"
)

const (
	albumPageSize    = 50
	defaultPageSize  = 100
	maxPageSize      = 100
	actionListAlbums = "albums"
	actionListMedia  = "media"

	// MediaTypePhoto and MediaTypeVideo are the media-type filter values
	// the upstream accepts.
	MediaTypePhoto = "PHOTO"
	MediaTypeVideo = "VIDEO"
)

// searchFiltersOf maps listing params onto the upstream filter shape,
// nil when the listing is album-scoped.
func searchFiltersOf(params ListMediaParams) *searchFilters {
	if params.AlbumID != "" {
		return nil
	}
	filters := &searchFilters{
		IncludeArchivedMedia: params.IncludeArchived,
	}
	if params.Query != "" {
		filters.ContentFilter = &contentFilter{
			IncludedContentCategories: []string{params.Query},
		}
	}
	if params.MediaType != "" {
		filters.MediaTypeFilter = &mediaTypeFilter{
			MediaTypes: []string{params.MediaType},
		}
	}
	if !params.StartDate.IsZero() {
		filters.DateFilter = &dateFilter{
			Ranges: []dateRange{{
				StartDate: toWireDate(params.StartDate),
				EndDate:   toWireDate(params.EndDate),
			}},
		}
	}
	return filters
}

// FetchStats reports how a listing was served, for the status report.
type FetchStats struct {
	PagesFetched   int
	PagesFromCache int
}

// ListAlbums returns all albums of the library, merging every page.
func (c *Client) ListAlbums(ctx context.Context) ([]Album, FetchStats, error) {
	log := logger.Get(ctx)

	var albums []Album
	var stats FetchStats
	cursor := ""
	for {
		key := pageKey{action: actionListAlbums, pageSize: albumPageSize, cursor: cursor}
		pageAlbums, nextCursor, ok := c.albumPages.get(key)
		if ok {
			stats.PagesFromCache++
		} else {
			if err := c.pacePage(ctx); err != nil {
				return nil, stats, trace.Wrap(err)
			}
			var result listAlbumsResponse
			_, err := c.call(ctx, func(req *resty.Request) (*resty.Response, error) {
				return req.
					SetQueryParam("pageSize", fmt.Sprintf("%d", albumPageSize)).
					SetQueryParam("pageToken", cursor).
					SetResult(&result).
					Get("v1/albums")
			})
			if err != nil {
				return nil, stats, trace.Wrap(err)
			}
			pageAlbums = make([]Album, 0, len(result.Albums))
			for _, wire := range result.Albums {
				pageAlbums = append(pageAlbums, wire.toAlbum())
			}
			nextCursor = result.NextPageToken
			c.albumPages.put(key, pageAlbums, nextCursor)
			stats.PagesFetched++
		}

		albums = append(albums, pageAlbums...)
		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	log.Debugf("Listed %d albums (%d pages fetched, %d from cache)",
		len(albums), stats.PagesFetched, stats.PagesFromCache)
	return albums, stats, nil
}

// ListMediaParams defines the scope and bounds of a media listing.
// Exactly one of AlbumID and Query must be set.
type ListMediaParams struct {
	AlbumID string
	Query   string
	// MediaType restricts a search to MediaTypePhoto or MediaTypeVideo.
	// Empty matches all media.
	MediaType string
	// StartDate and EndDate restrict a search to a capture-date range,
	// inclusive. Both must be set together.
	StartDate time.Time
	EndDate   time.Time
	// IncludeArchived also returns archived items in a search.
	IncludeArchived bool
	// MaxCount bounds the merged result. Pagination always completes the
	// page in flight, then truncates.
	MaxCount int
	// PageSize is the upstream page size, also part of the cache key.
	// Defaults to 100.
	PageSize int
}

// hasFilters reports whether any search filter beyond the content query
// is set.
func (p *ListMediaParams) hasFilters() bool {
	return p.MediaType != "" || !p.StartDate.IsZero() || !p.EndDate.IsZero() || p.IncludeArchived
}

func (p *ListMediaParams) checkAndSetDefaults() error {
	searchScoped := p.Query != "" || p.hasFilters()
	switch {
	case p.AlbumID != "" && searchScoped:
		// The upstream rejects albumId combined with filters.
		return trace.BadParameter("an album scope cannot be combined with a query or search filters")
	case p.AlbumID == "" && !searchScoped:
		return trace.BadParameter("either an album id, a query or search filters are required")
	}
	switch p.MediaType {
	case "", MediaTypePhoto, MediaTypeVideo:
	default:
		return trace.BadParameter("media type must be %q or %q", MediaTypePhoto, MediaTypeVideo)
	}
	if p.StartDate.IsZero() != p.EndDate.IsZero() {
		return trace.BadParameter("start and end date must be set together")
	}
	if !p.StartDate.IsZero() && p.EndDate.Before(p.StartDate) {
		return trace.BadParameter("end date must not precede the start date")
	}
	if p.MaxCount <= 0 {
		return trace.BadParameter("MaxCount must be positive")
	}
	if p.PageSize == 0 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize < 1 || p.PageSize > maxPageSize {
		return trace.BadParameter("PageSize must be within [1,%d]", maxPageSize)
	}
	return nil
}

func (p *ListMediaParams) scope() string {
	if p.AlbumID != "" {
		return "album:" + p.AlbumID
	}
	parts := []string{"query:" + p.Query}
	if p.MediaType != "" {
		parts = append(parts, "type:"+p.MediaType)
	}
	if !p.StartDate.IsZero() {
		parts = append(parts,
			"from:"+p.StartDate.Format("2006-01-02"),
			"to:"+p.EndDate.Format("2006-01-02"))
	}
	if p.IncludeArchived {
		parts = append(parts, "archived")
	}
	return strings.Join(parts, "|")
}

// ListMedia lists or searches media items with cursor pagination and
// per-page caching. The search scope (Query) is best-effort upstream: when
// the capability is unavailable the call fails with a not-implemented error
// rather than returning an empty set.
func (c *Client) ListMedia(ctx context.Context, params ListMediaParams) ([]MediaItem, FetchStats, error) {
	var stats FetchStats
	if err := params.checkAndSetDefaults(); err != nil {
		return nil, stats, trace.Wrap(err)
	}
	log := logger.Get(ctx)

	var items []MediaItem
	seen := make(map[string]struct{})
	cursor := ""
	for {
		key := pageKey{action: actionListMedia, scope: params.scope(), pageSize: params.PageSize, cursor: cursor}
		pageItems, nextCursor, ok := c.mediaPages.get(key)
		if ok {
			stats.PagesFromCache++
		} else {
			var err error
			pageItems, nextCursor, err = c.searchMediaPage(ctx, params, cursor)
			if err != nil {
				return nil, stats, trace.Wrap(err)
			}
			c.mediaPages.put(key, pageItems, nextCursor)
			stats.PagesFetched++
		}

		for _, item := range pageItems {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			items = append(items, item)
		}

		if nextCursor == "" || len(items) >= params.MaxCount {
			break
		}
		cursor = nextCursor
	}

	if len(items) > params.MaxCount {
		items = items[:params.MaxCount]
	}
	log.Debugf("Listed %d media items in scope %q (%d pages fetched, %d from cache)",
		len(items), params.scope(), stats.PagesFetched, stats.PagesFromCache)
	return items, stats, nil
}

func (c *Client) searchMediaPage(ctx context.Context, params ListMediaParams, cursor string) ([]MediaItem, string, error) {
	if err := c.pacePage(ctx); err != nil {
		return nil, "", trace.Wrap(err)
	}

	body := searchMediaRequest{
		PageSize:  params.PageSize,
		AlbumID:   params.AlbumID,
		PageToken: cursor,
		Filters:   searchFiltersOf(params),
	}

	var result searchMediaResponse
	_, err := c.call(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(&body).
			SetResult(&result).
			Post("v1/mediaItems:search")
	})
	if err != nil {
		if params.AlbumID == "" && isSearchUnsupported(err) {
			return nil, "", trace.NotImplemented("search is not supported by the upstream service: %v", err)
		}
		return nil, "", trace.Wrap(err)
	}

	items := make([]MediaItem, 0, len(result.MediaItems))
	for _, wire := range result.MediaItems {
		items = append(items, wire.toMediaItem())
	}
	return items, result.NextPageToken, nil
}

// isSearchUnsupported detects the upstream's "search capability unavailable"
// responses, which must surface distinctly from an empty result.
func isSearchUnsupported(err error) bool {
	var upstreamErr *UpstreamError
	if !errors.As(trace.Unwrap(err), &upstreamErr) {
		return false
	}
	if upstreamErr.StatusCode != http.StatusBadRequest && upstreamErr.StatusCode != http.StatusForbidden {
		return false
	}
	switch upstreamErr.Status {
	case "FAILED_PRECONDITION", "PERMISSION_DENIED":
		return true
	}
	return false
}

// GetMediaItem fetches a single media item by id, re-resolving its
// time-limited capability URL.
func (c *Client) GetMediaItem(ctx context.Context, id string) (MediaItem, error) {
	var result mediaItemWire
	_, err := c.call(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetResult(&result).
			Get(lib.BuildURLPath("v1", "mediaItems", id))
	})
	if err != nil {
		return MediaItem{}, trace.Wrap(err)
	}
	return result.toMediaItem(), nil
}

// FetchMediaBytes downloads the raw bytes of one media item through its
// capability URL, sized on the server side according to the transform spec
// the way the upstream sizing suffixes work.
func (c *Client) FetchMediaBytes(ctx context.Context, item MediaItem, spec transform.Spec) ([]byte, error) {
	resp, err := c.media.R().
		SetContext(ctx).
		Get(SizedURL(item, spec))
	if err != nil {
		if ctx.Err() != nil {
			return nil, trace.Wrap(ctx.Err())
		}
		return nil, trace.ConnectionProblem(err, "fetching media bytes")
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusForbidden || resp.StatusCode() == http.StatusUnauthorized {
			// The capability URL has lapsed; callers should re-resolve via
			// GetMediaItem.
			return nil, trace.AccessDenied("media capability URL expired")
		}
		return nil, responseError(resp)
	}
	return resp.Body(), nil
}

// SizedURL appends the upstream sizing suffix to an item's capability URL:
// "=d" requests the original bytes, "=wN-hN" a server-side downscale. The
// downscale keeps aspect ratio, so the exact transform still happens locally;
// requesting a bounded size just avoids shipping full-size originals.
func SizedURL(item MediaItem, spec transform.Spec) string {
	switch spec.Mode {
	case transform.Original:
		if item.Width > 0 && item.Height > 0 {
			return fmt.Sprintf("%s=w%d-h%d", item.BaseURL, item.Width, item.Height)
		}
		return item.BaseURL + "=d"
	case transform.FixedSize:
		// Fetch enough pixels to crop from.
		edge := spec.Width
		if spec.Height > edge {
			edge = spec.Height
		}
		return fmt.Sprintf("%s=w%d-h%d", item.BaseURL, edge*2, edge*2)
	case transform.ScaleToSize:
		return fmt.Sprintf("%s=w%d-h%d", item.BaseURL, spec.Size, spec.Size)
	default:
		return item.BaseURL + "=d"
	}
}
