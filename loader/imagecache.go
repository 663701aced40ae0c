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
	"bytes"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/gravitational/trace"
	"github.com/peterbourgon/diskv/v3"
)

// imageCacheSizeMax is the in-memory read-through budget of the disk cache.
const imageCacheSizeMax = 64 * 1024 * 1024

// imageCache stores transformed images on disk as PNG, keyed by the
// transform cache key. A nil *imageCache is a valid no-op cache.
type imageCache struct {
	dv *diskv.Diskv
}

func newImageCache(dir string) *imageCache {
	if dir == "" {
		return nil
	}
	// Simplest transform function: put all the data files into the base dir.
	flatTransform := func(s string) []string { return []string{} }

	return &imageCache{
		dv: diskv.New(diskv.Options{
			BasePath:     dir,
			Transform:    flatTransform,
			CacheSizeMax: imageCacheSizeMax,
		}),
	}
}

func (c *imageCache) get(key string) (*image.NRGBA, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.dv.Read(key + ".png")
	if err != nil {
		return nil, false
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		// Corrupt entry, drop it.
		_ = c.dv.Erase(key + ".png")
		return nil, false
	}
	return imaging.Clone(img), true
}

func (c *imageCache) put(key string, img *image.NRGBA) error {
	if c == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(c.dv.Write(key+".png", buf.Bytes()))
}

func (c *imageCache) clear() error {
	if c == nil {
		return nil
	}
	return trace.Wrap(c.dv.EraseAll())
}
