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
	"strconv"
	"time"
)

// Album is a reference to one album in the library. Immutable once fetched,
// identified by ID.
type Album struct {
	ID             string
	Title          string
	MediaItemCount int
}

// MediaItem is a reference to one photo. BaseURL is a time-limited
// capability URL (valid for about an hour), not a stable identifier: it must
// be re-resolved with GetMediaItem once it lapses, never cached long-term.
type MediaItem struct {
	ID           string
	Filename     string
	MimeType     string
	BaseURL      string
	CreationTime time.Time
	Width        int
	Height       int
}

// Wire shapes of the upstream JSON API.

type albumWire struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// The upstream serializes the count as a decimal string.
	MediaItemsCount string `json:"mediaItemsCount"`
}

func (w albumWire) toAlbum() Album {
	count, _ := strconv.Atoi(w.MediaItemsCount)
	return Album{
		ID:             w.ID,
		Title:          w.Title,
		MediaItemCount: count,
	}
}

type mediaMetadataWire struct {
	CreationTime time.Time `json:"creationTime"`
	Width        string    `json:"width"`
	Height       string    `json:"height"`
}

type mediaItemWire struct {
	ID            string            `json:"id"`
	Filename      string            `json:"filename"`
	MimeType      string            `json:"mimeType"`
	BaseURL       string            `json:"baseUrl"`
	MediaMetadata mediaMetadataWire `json:"mediaMetadata"`
}

func (w mediaItemWire) toMediaItem() MediaItem {
	width, _ := strconv.Atoi(w.MediaMetadata.Width)
	height, _ := strconv.Atoi(w.MediaMetadata.Height)
	return MediaItem{
		ID:           w.ID,
		Filename:     w.Filename,
		MimeType:     w.MimeType,
		BaseURL:      w.BaseURL,
		CreationTime: w.MediaMetadata.CreationTime,
		Width:        width,
		Height:       height,
	}
}

type listAlbumsResponse struct {
	Albums        []albumWire `json:"albums"`
	NextPageToken string      `json:"nextPageToken"`
}

type searchMediaRequest struct {
	PageSize  int            `json:"pageSize"`
	AlbumID   string         `json:"albumId,omitempty"`
	PageToken string         `json:"pageToken,omitempty"`
	Filters   *searchFilters `json:"filters,omitempty"`
}

type searchFilters struct {
	ContentFilter        *contentFilter   `json:"contentFilter,omitempty"`
	MediaTypeFilter      *mediaTypeFilter `json:"mediaTypeFilter,omitempty"`
	DateFilter           *dateFilter      `json:"dateFilter,omitempty"`
	IncludeArchivedMedia bool             `json:"includeArchivedMedia,omitempty"`
}

type contentFilter struct {
	IncludedContentCategories []string `json:"includedContentCategories,omitempty"`
}

type mediaTypeFilter struct {
	MediaTypes []string `json:"mediaTypes"`
}

type dateFilter struct {
	Ranges []dateRange `json:"ranges,omitempty"`
}

type dateRange struct {
	StartDate wireDate `json:"startDate"`
	EndDate   wireDate `json:"endDate"`
}

// wireDate is the upstream's calendar-date shape.
type wireDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

func toWireDate(t time.Time) wireDate {
	return wireDate{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

func (d wireDate) toTime() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

type searchMediaResponse struct {
	MediaItems    []mediaItemWire `json:"mediaItems"`
	NextPageToken string          `json:"nextPageToken"`
}
