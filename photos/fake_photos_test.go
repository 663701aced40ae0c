package photos

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	log "github.com/sirupsen/logrus"
)

// FakePhotos is an in-process stand-in for the photo-library service. It
// serves the album and media-item listing endpoints with real cursor
// pagination and hands out media bytes through capability URLs rooted at
// the fake's own address.
type FakePhotos struct {
	srv *httptest.Server

	mu         sync.Mutex
	albums     []albumWire
	library    []mediaItemWire            // every item, in insertion order
	mediaItems map[string][]mediaItemWire // album id -> items
	categories map[string][]mediaItemWire // category -> items
	mediaBytes map[string][]byte          // item id -> raw bytes
	responses  []fakeResponse

	validToken atomic.Value // string; empty accepts any bearer token

	albumRequests  atomic.Int64
	searchRequests atomic.Int64
	mediaRequests  atomic.Int64
}

// fakeResponse is a canned response served ahead of the normal handling,
// consumed in FIFO order.
type fakeResponse struct {
	status int
	header http.Header
	body   string
}

func NewFakePhotos() *FakePhotos {
	router := httprouter.New()

	s := &FakePhotos{
		mediaItems: make(map[string][]mediaItemWire),
		categories: make(map[string][]mediaItemWire),
		mediaBytes: make(map[string][]byte),
		srv:        httptest.NewServer(router),
	}
	s.validToken.Store("")

	router.GET("/v1/albums", func(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.albumRequests.Add(1)
		if s.serveCanned(rw) || !s.authorize(rw, r) {
			return
		}

		pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
		panicIf(err)
		offset := tokenOffset(r.URL.Query().Get("pageToken"))

		s.mu.Lock()
		page, next := paginate(s.albums, offset, pageSize)
		s.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		err = json.NewEncoder(rw).Encode(listAlbumsResponse{Albums: page, NextPageToken: next})
		panicIf(err)
	})

	// The search endpoint's path has a ":" inside a segment, which
	// httprouter reserves for parameters, so it hangs off NotFound.
	router.NotFound = http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/mediaItems:search" {
			s.handleSearch(rw, r)
			return
		}
		http.NotFound(rw, r)
	})

	router.GET("/v1/mediaItems/:id", func(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.serveCanned(rw) || !s.authorize(rw, r) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, items := range s.mediaItems {
			for _, item := range items {
				if item.ID == ps.ByName("id") {
					rw.Header().Set("Content-Type", "application/json")
					panicIf(json.NewEncoder(rw).Encode(item))
					return
				}
			}
		}
		http.Error(rw, `{"error":{"status":"NOT_FOUND"}}`, http.StatusNotFound)
	})

	// Capability URL endpoint. The path segment carries the id plus the
	// sizing suffix, e.g. "item-1=w100-h100".
	router.GET("/media/:blob", func(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s.mediaRequests.Add(1)
		if s.serveCanned(rw) {
			return
		}
		id, _, _ := strings.Cut(ps.ByName("blob"), "=")
		s.mu.Lock()
		raw, found := s.mediaBytes[id]
		s.mu.Unlock()
		if !found {
			http.Error(rw, "", http.StatusNotFound)
			return
		}
		rw.Header().Set("Content-Type", "image/png")
		_, err := rw.Write(raw)
		panicIf(err)
	})

	return s
}

func (s *FakePhotos) handleSearch(rw http.ResponseWriter, r *http.Request) {
	s.searchRequests.Add(1)
	if s.serveCanned(rw) || !s.authorize(rw, r) {
		return
	}

	var req searchMediaRequest
	data, err := io.ReadAll(r.Body)
	panicIf(err)
	panicIf(json.Unmarshal(data, &req))

	s.mu.Lock()
	var pool []mediaItemWire
	switch {
	case req.AlbumID != "":
		pool = s.mediaItems[req.AlbumID]
	case req.Filters != nil && req.Filters.ContentFilter != nil && len(req.Filters.ContentFilter.IncludedContentCategories) > 0:
		pool = s.categories[req.Filters.ContentFilter.IncludedContentCategories[0]]
	default:
		pool = s.library
	}
	if req.Filters != nil {
		filtered := make([]mediaItemWire, 0, len(pool))
		for _, item := range pool {
			if matchesFilters(item, req.Filters) {
				filtered = append(filtered, item)
			}
		}
		pool = filtered
	}
	page, next := paginate(pool, tokenOffset(req.PageToken), req.PageSize)
	s.mu.Unlock()

	rw.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(rw).Encode(searchMediaResponse{MediaItems: page, NextPageToken: next})
	panicIf(err)
}

// matchesFilters applies the media-type and date-range parts of a search
// filter to an item. The first range wins, matching how the client sends
// exactly one.
func matchesFilters(item mediaItemWire, filters *searchFilters) bool {
	if filters.MediaTypeFilter != nil && len(filters.MediaTypeFilter.MediaTypes) > 0 {
		prefix := "image/"
		if filters.MediaTypeFilter.MediaTypes[0] == MediaTypeVideo {
			prefix = "video/"
		}
		if !strings.HasPrefix(item.MimeType, prefix) {
			return false
		}
	}
	if filters.DateFilter != nil && len(filters.DateFilter.Ranges) > 0 {
		rng := filters.DateFilter.Ranges[0]
		created := item.MediaMetadata.CreationTime
		if created.Before(rng.StartDate.toTime()) || !created.Before(rng.EndDate.toTime().Add(24*time.Hour)) {
			return false
		}
	}
	return true
}

func (s *FakePhotos) URL() string {
	return s.srv.URL
}

func (s *FakePhotos) Close() {
	s.srv.Close()
}

// RequireToken makes the API endpoints reject any bearer token but the
// given one with a 401.
func (s *FakePhotos) RequireToken(token string) {
	s.validToken.Store(token)
}

// QueueResponse arranges for the next API request to receive a canned
// response instead of normal handling.
func (s *FakePhotos) QueueResponse(status int, body string, header http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, fakeResponse{status: status, header: header, body: body})
}

// StoreAlbum registers an album, returning its listing representation.
func (s *FakePhotos) StoreAlbum(id, title string, count int) Album {
	s.mu.Lock()
	defer s.mu.Unlock()
	wire := albumWire{ID: id, Title: title, MediaItemsCount: strconv.Itoa(count)}
	s.albums = append(s.albums, wire)
	return wire.toAlbum()
}

// StoreMediaItem registers a media item in an album with its raw bytes.
// The returned item carries a live capability URL.
func (s *FakePhotos) StoreMediaItem(albumID, id string, creationTime time.Time, raw []byte) MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	wire := mediaItemWire{
		ID:       id,
		Filename: id + ".png",
		MimeType: "image/png",
		BaseURL:  fmt.Sprintf("%s/media/%s", s.srv.URL, id),
		MediaMetadata: mediaMetadataWire{
			CreationTime: creationTime,
			Width:        "64",
			Height:       "48",
		},
	}
	s.mediaItems[albumID] = append(s.mediaItems[albumID], wire)
	s.library = append(s.library, wire)
	s.mediaBytes[id] = raw
	return wire.toMediaItem()
}

// StoreVideoItem registers a video media item in an album.
func (s *FakePhotos) StoreVideoItem(albumID, id string, creationTime time.Time, raw []byte) MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	wire := mediaItemWire{
		ID:       id,
		Filename: id + ".mp4",
		MimeType: "video/mp4",
		BaseURL:  fmt.Sprintf("%s/media/%s", s.srv.URL, id),
		MediaMetadata: mediaMetadataWire{
			CreationTime: creationTime,
			Width:        "64",
			Height:       "48",
		},
	}
	s.mediaItems[albumID] = append(s.mediaItems[albumID], wire)
	s.library = append(s.library, wire)
	s.mediaBytes[id] = raw
	return wire.toMediaItem()
}

// StoreCategoryItem registers a media item matching a content category.
func (s *FakePhotos) StoreCategoryItem(category, id string, creationTime time.Time, raw []byte) MediaItem {
	item := s.StoreMediaItem("category-bucket-"+category, id, creationTime, raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.mediaItems["category-bucket-"+category]
	s.categories[category] = append(s.categories[category], items[len(items)-1])
	return item
}

func (s *FakePhotos) serveCanned(rw http.ResponseWriter) bool {
	s.mu.Lock()
	if len(s.responses) == 0 {
		s.mu.Unlock()
		return false
	}
	canned := s.responses[0]
	s.responses = s.responses[1:]
	s.mu.Unlock()

	for key, values := range canned.header {
		for _, value := range values {
			rw.Header().Add(key, value)
		}
	}
	if rw.Header().Get("Content-Type") == "" {
		rw.Header().Set("Content-Type", "application/json")
	}
	rw.WriteHeader(canned.status)
	_, err := rw.Write([]byte(canned.body))
	panicIf(err)
	return true
}

func (s *FakePhotos) authorize(rw http.ResponseWriter, r *http.Request) bool {
	want := s.validToken.Load().(string)
	if want == "" {
		return true
	}
	if r.Header.Get("Authorization") != "Bearer "+want {
		http.Error(rw, `{"error":{"status":"UNAUTHENTICATED"}}`, http.StatusUnauthorized)
		return false
	}
	return true
}

func paginate[T any](items []T, offset, pageSize int) ([]T, string) {
	if offset >= len(items) {
		return nil, ""
	}
	end := offset + pageSize
	if end >= len(items) {
		return items[offset:len(items):len(items)], ""
	}
	return items[offset:end:end], strconv.Itoa(end)
}

func tokenOffset(token string) int {
	if token == "" {
		return 0
	}
	offset, err := strconv.Atoi(token)
	panicIf(err)
	return offset
}

func panicIf(err error) {
	if err != nil {
		log.Panicf("%v at %v", trace.DebugReport(err), string(debug.Stack()))
	}
}
