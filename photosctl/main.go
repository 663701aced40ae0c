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

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"

	"github.com/pixelgraph/photoslib/lib"
	"github.com/pixelgraph/photoslib/lib/logger"
	"github.com/pixelgraph/photoslib/loader"
	"github.com/pixelgraph/photoslib/order"
	"github.com/pixelgraph/photoslib/transform"
)

func main() {
	logger.Init()
	app := kingpin.New("photosctl", "Command line client for the Pixelgraph photo-library service.")

	app.Command("configure", "Prints an example .TOML configuration file.")
	app.Command("version", "Prints photosctl version and exits.")

	path := app.Flag("config", "TOML config file path").
		Short('c').
		Default("/etc/photosctl.toml").
		String()
	debug := app.Flag("debug", "Enable verbose logging to stderr").
		Short('d').
		Bool()

	albumsCmd := app.Command("albums", "Lists the albums of the library.")

	loadCmd := app.Command("load", "Fetches media items and writes them as PNG files.")
	loadAlbum := loadCmd.Flag("album", "Album id to load from. Prompts when neither --album nor --query is given.").String()
	loadQuery := loadCmd.Flag("query", "Content category to search for instead of an album.").String()
	loadMediaType := loadCmd.Flag("media-type", "Restrict a search to PHOTO or VIDEO").String()
	loadFrom := loadCmd.Flag("from", "Restrict a search to items captured on or after this date (YYYY-MM-DD)").String()
	loadTo := loadCmd.Flag("to", "Restrict a search to items captured on or before this date (YYYY-MM-DD)").String()
	loadArchived := loadCmd.Flag("archived", "Include archived items in a search").Bool()
	loadCount := loadCmd.Flag("count", "Number of items to load").Default("10").Int()
	loadOut := loadCmd.Flag("out", "Output directory").Short('o').Default(".").String()
	loadWidth := loadCmd.Flag("width", "Target width, requires --height").Int()
	loadHeight := loadCmd.Flag("height", "Target height, requires --width").Int()
	loadSize := loadCmd.Flag("size", "Target long-edge size, mutually exclusive with --width/--height").Int()
	loadCrop := loadCmd.Flag("crop", "Center-crop to exactly width x height").Bool()
	loadLetterbox := loadCmd.Flag("letterbox", "Pad to exactly width x height instead of cropping").Bool()
	loadSort := loadCmd.Flag("sort", "Sort criteria: creation_time or filename").
		Default(string(order.ByCreationTime)).String()
	loadDirection := loadCmd.Flag("direction", "Sort direction: asc, desc or random").
		Default(string(order.Desc)).String()

	clearCmd := app.Command("clear-cache", "Erases the transformed-image disk cache.")

	selectedCmd, err := app.Parse(os.Args[1:])
	if err != nil {
		lib.Bail(err)
	}

	switch selectedCmd {
	case "configure":
		fmt.Print(exampleConfig)
		return
	case "version":
		lib.PrintVersion(app.Name, Version, Gitref)
		return
	}

	conf, err := LoadConfig(*path)
	if err != nil {
		lib.Bail(err)
	}
	logConfig := conf.Log
	if *debug {
		logConfig.Severity = "debug"
	}
	if err := logger.Setup(logConfig); err != nil {
		lib.Bail(err)
	}

	ctx, _ := lib.CancelOnSignals(context.Background())

	a, err := NewApp(ctx, *conf)
	if err != nil {
		lib.Bail(err)
	}

	switch selectedCmd {
	case albumsCmd.FullCommand():
		err = a.Albums(ctx)
	case loadCmd.FullCommand():
		spec, specErr := sizeSpec(*loadWidth, *loadHeight, *loadSize, *loadCrop, *loadLetterbox)
		if specErr != nil {
			lib.Bail(specErr)
		}
		from, to, dateErr := dateRange(*loadFrom, *loadTo)
		if dateErr != nil {
			lib.Bail(dateErr)
		}
		err = a.Load(ctx, loader.Request{
			AlbumID:         *loadAlbum,
			Query:           *loadQuery,
			MediaType:       *loadMediaType,
			StartDate:       from,
			EndDate:         to,
			IncludeArchived: *loadArchived,
			MaxCount:        *loadCount,
			Size:            spec,
			Sort: order.Ordering{
				Criteria:  order.Criteria(*loadSort),
				Direction: order.Direction(*loadDirection),
			},
		}, *loadOut)
	case clearCmd.FullCommand():
		err = a.ClearCache()
	}
	if err != nil {
		lib.Bail(err)
	}
}

// dateRange parses the --from/--to flags. Both must be given together.
func dateRange(from, to string) (time.Time, time.Time, error) {
	if from == "" && to == "" {
		return time.Time{}, time.Time{}, nil
	}
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return time.Time{}, time.Time{}, trace.BadParameter("--from must be a YYYY-MM-DD date")
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return time.Time{}, time.Time{}, trace.BadParameter("--to must be a YYYY-MM-DD date")
	}
	return start, end, nil
}

// sizeSpec maps the load flags onto a transform spec.
func sizeSpec(width, height, size int, crop, letterbox bool) (transform.Spec, error) {
	switch {
	case size != 0 && (width != 0 || height != 0):
		return transform.Spec{}, trace.BadParameter("--size is mutually exclusive with --width/--height")
	case size != 0:
		return transform.Spec{Mode: transform.ScaleToSize, Size: size}, nil
	case width != 0 || height != 0:
		return transform.Spec{
			Mode:      transform.FixedSize,
			Width:     width,
			Height:    height,
			Crop:      crop,
			Letterbox: letterbox,
		}, nil
	default:
		return transform.Spec{Mode: transform.Original}, nil
	}
}
