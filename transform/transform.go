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

package transform

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/gravitational/trace"
)

// Mode selects the sizing behavior of the pipeline.
type Mode int

const (
	// Original decodes and normalizes only, no resampling.
	Original Mode = iota
	// FixedSize targets a Width x Height box: aspect-fit within it, or
	// fill-and-center-crop to exactly that box when Crop is set.
	FixedSize
	// ScaleToSize resizes so the long edge equals Size. The Crop flag has
	// no effect in this mode since there is no target rectangle to crop to.
	ScaleToSize
)

func (m Mode) String() string {
	switch m {
	case Original:
		return "original"
	case FixedSize:
		return "fixed"
	case ScaleToSize:
		return "scale"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Spec is a pure-value description of one deterministic transform.
type Spec struct {
	Mode   Mode
	Width  int
	Height int
	Size   int
	Crop   bool
	// Letterbox pads the aspect-fitted image onto a black Width x Height
	// canvas so the output is exactly the target box without distortion.
	// Only meaningful for FixedSize with Crop unset.
	Letterbox bool
}

func (s Spec) Validate() error {
	switch s.Mode {
	case Original:
		return nil
	case FixedSize:
		if s.Width <= 0 || s.Height <= 0 {
			return trace.BadParameter("fixed-size transform requires positive width and height")
		}
		return nil
	case ScaleToSize:
		if s.Size <= 0 {
			return trace.BadParameter("scale-to-size transform requires a positive size")
		}
		return nil
	default:
		return trace.BadParameter("unknown transform mode %v", s.Mode)
	}
}

// CacheKey returns a deterministic disk-cache key for an item transformed
// under this spec.
func (s Spec) CacheKey(itemID string) string {
	switch s.Mode {
	case FixedSize:
		variant := "fit"
		if s.Crop {
			variant = "crop"
		} else if s.Letterbox {
			variant = "pad"
		}
		return fmt.Sprintf("%s_%s_%dx%d", itemID, variant, s.Width, s.Height)
	case ScaleToSize:
		return fmt.Sprintf("%s_scale_%d", itemID, s.Size)
	default:
		return itemID + "_original"
	}
}

// DecodeError reports malformed image bytes. It is a per-item failure:
// batch callers record it against the item and continue.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError checks whether err carries a DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(trace.Unwrap(err), &decodeErr)
}

// Apply decodes raw image bytes and applies the spec. Every output is a
// *image.NRGBA regardless of the source encoding, so palette, grayscale and
// alpha images all arrive in one consistent channel order and value range.
func Apply(raw []byte, spec Spec) (*image.NRGBA, error) {
	if err := spec.Validate(); err != nil {
		return nil, trace.Wrap(err)
	}

	src, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, trace.Wrap(&DecodeError{Err: err})
	}

	switch spec.Mode {
	case Original:
		return imaging.Clone(src), nil
	case FixedSize:
		if spec.Crop {
			return imaging.Fill(src, spec.Width, spec.Height, imaging.Center, imaging.Lanczos), nil
		}
		fitted := fit(src, spec.Width, spec.Height)
		if spec.Letterbox {
			canvas := imaging.New(spec.Width, spec.Height, color.NRGBA{A: 0xff})
			return imaging.PasteCenter(canvas, fitted), nil
		}
		return fitted, nil
	case ScaleToSize:
		bounds := src.Bounds()
		if bounds.Dx() >= bounds.Dy() {
			return imaging.Resize(src, spec.Size, 0, imaging.Lanczos), nil
		}
		return imaging.Resize(src, 0, spec.Size, imaging.Lanczos), nil
	default:
		return nil, trace.BadParameter("unknown transform mode %v", spec.Mode)
	}
}

// fit resizes preserving aspect ratio so the result is the largest image
// contained by the width x height box. Unlike imaging.Fit it also upscales
// smaller sources, matching the fixed-size contract.
func fit(src image.Image, width, height int) *image.NRGBA {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return imaging.Clone(src)
	}
	scaleW := float64(width) / float64(srcW)
	scaleH := float64(height) / float64(srcH)
	if scaleW < scaleH {
		return imaging.Resize(src, width, 0, imaging.Lanczos)
	}
	return imaging.Resize(src, 0, height, imaging.Lanczos)
}
