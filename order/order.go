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

// Package order sorts media item listings before they are loaded.
package order

import (
	"math/rand"
	"sort"

	"github.com/gravitational/trace"

	"github.com/pixelgraph/photoslib/photos"
)

// Criteria selects the item attribute an ordering sorts by.
type Criteria string

const (
	// ByCreationTime orders items by their capture timestamp.
	ByCreationTime Criteria = "creation_time"
	// ByFilename orders items lexicographically by filename.
	ByFilename Criteria = "filename"
)

// Direction selects how a criteria is applied.
type Direction string

const (
	// Asc sorts oldest or lexicographically-first items first.
	Asc Direction = "asc"
	// Desc sorts newest or lexicographically-last items first.
	Desc Direction = "desc"
	// Random ignores the criteria and draws a uniform permutation.
	Random Direction = "random"
)

// Ordering describes how a listing should be arranged.
type Ordering struct {
	Criteria  Criteria
	Direction Direction
}

// CheckAndSetDefaults validates the ordering, filling in zero values.
func (o *Ordering) CheckAndSetDefaults() error {
	if o.Criteria == "" {
		o.Criteria = ByCreationTime
	}
	if o.Direction == "" {
		o.Direction = Desc
	}
	switch o.Criteria {
	case ByCreationTime, ByFilename:
	default:
		return trace.BadParameter("unknown ordering criteria %q", o.Criteria)
	}
	switch o.Direction {
	case Asc, Desc, Random:
	default:
		return trace.BadParameter("unknown ordering direction %q", o.Direction)
	}
	return nil
}

// Apply returns a new slice holding items arranged per ord and truncated
// to maxCount (0 means no limit). Truncation happens strictly after
// ordering, so a random draw picks from the whole listing and a
// descending sort keeps the newest items. The input slice is not
// modified. Random draws a fresh permutation on every call.
func Apply(items []photos.MediaItem, ord Ordering, maxCount int) ([]photos.MediaItem, error) {
	return apply(items, ord, maxCount, nil)
}

// ApplySeeded is Apply with a deterministic random source.
func ApplySeeded(items []photos.MediaItem, ord Ordering, maxCount int, seed int64) ([]photos.MediaItem, error) {
	return apply(items, ord, maxCount, rand.New(rand.NewSource(seed)))
}

func apply(items []photos.MediaItem, ord Ordering, maxCount int, rng *rand.Rand) ([]photos.MediaItem, error) {
	if err := ord.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	out := make([]photos.MediaItem, len(items))
	copy(out, items)

	if ord.Direction == Random {
		shuffle := rand.Shuffle
		if rng != nil {
			shuffle = rng.Shuffle
		}
		shuffle(len(out), func(i, j int) {
			out[i], out[j] = out[j], out[i]
		})
	} else {
		less := lessFunc(ord.Criteria)
		// Stable keeps the fetch order for items that compare equal.
		sort.SliceStable(out, func(i, j int) bool {
			if ord.Direction == Desc {
				i, j = j, i
			}
			return less(out[i], out[j])
		})
	}

	if maxCount > 0 && len(out) > maxCount {
		out = out[:maxCount]
	}
	return out, nil
}

func lessFunc(criteria Criteria) func(a, b photos.MediaItem) bool {
	switch criteria {
	case ByFilename:
		return func(a, b photos.MediaItem) bool {
			return a.Filename < b.Filename
		}
	default:
		return func(a, b photos.MediaItem) bool {
			return a.CreationTime.Before(b.CreationTime)
		}
	}
}
