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

package loader

import (
	"fmt"
	"strings"
	"time"

	"github.com/pixelgraph/photoslib/photos"
)

// statusReport collects the facts the human-readable batch summary is
// built from.
type statusReport struct {
	batchID   string
	action    Action
	scope     string
	albums    int
	items     int
	failed    int
	stats     photos.FetchStats
	cacheHits int
	elapsed   time.Duration
	batchErr  error
}

// statusText renders the batch summary. It is produced for every batch,
// including partially failed ones.
func statusText(r statusReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "batch %s: ", r.batchID)
	switch r.action {
	case ActionListAlbums:
		fmt.Fprintf(&b, "listed %d albums", r.albums)
	default:
		fmt.Fprintf(&b, "loaded %d/%d items from %s", r.items-r.failed, r.items, r.scope)
	}
	fmt.Fprintf(&b, " in %s\n", r.elapsed.Round(time.Millisecond))

	fmt.Fprintf(&b, "pages: %d fetched, %d from cache", r.stats.PagesFetched, r.stats.PagesFromCache)
	if r.action != ActionListAlbums {
		fmt.Fprintf(&b, "; images: %d from cache", r.cacheHits)
	}
	b.WriteString("\n")

	if r.failed > 0 {
		fmt.Fprintf(&b, "failures: %d item(s) skipped\n", r.failed)
	}
	if r.batchErr != nil {
		fmt.Fprintf(&b, "batch error: %v\n", r.batchErr)
	}
	return strings.TrimRight(b.String(), "\n")
}
