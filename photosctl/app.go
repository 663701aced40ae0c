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
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gravitational/trace"
	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"

	"github.com/pixelgraph/photoslib/auth"
	"github.com/pixelgraph/photoslib/auth/oauth"
	"github.com/pixelgraph/photoslib/auth/state"
	"github.com/pixelgraph/photoslib/lib/logger"
	"github.com/pixelgraph/photoslib/loader"
	"github.com/pixelgraph/photoslib/photos"
)

// App wires the credential manager, the photos client and the loader
// together from the configuration.
type App struct {
	conf   Config
	loader *loader.Loader
}

// NewApp builds the full client stack. It fails with a not-found error when
// no stored credentials exist yet.
func NewApp(ctx context.Context, conf Config) (*App, error) {
	st, err := state.NewFileState(conf.Photos.CredentialsFile)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	authorizer, err := oauth.NewTokenAuthorizer(oauth.Config{
		ClientID:     conf.Photos.ClientID,
		ClientSecret: conf.Photos.ClientSecret,
		TokenURL:     conf.Photos.TokenURL,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	manager, err := auth.NewManager(ctx, auth.ManagerConfig{
		State:     st,
		Refresher: authorizer,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	cacheTTL, err := conf.CacheTTL()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	client, err := photos.NewClient(photos.ClientConfig{
		TokenProvider: manager,
		BaseURL:       conf.Photos.BaseURL,
		CacheTTL:      cacheTTL,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	deadline, err := conf.LoadDeadline()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ldr, err := loader.NewLoader(loader.Config{
		Catalog:  client,
		Workers:  conf.Load.Workers,
		Deadline: deadline,
		CacheDir: conf.Cache.Dir,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &App{conf: conf, loader: ldr}, nil
}

// Albums prints the album listing as a table.
func (a *App) Albums(ctx context.Context) error {
	result, err := a.loader.HandleRequest(ctx, loader.Request{Action: loader.ActionListAlbums})
	if err != nil {
		return trace.Wrap(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Title", "Items"})
	for _, album := range result.Albums {
		table.Append([]string{album.ID, album.Title, strconv.Itoa(album.MediaItemCount)})
	}
	table.Render()
	fmt.Println(result.StatusText)
	return nil
}

// Load runs one batch and writes the resulting images as PNG files into
// outDir. Prompts for an album when the request names no scope.
func (a *App) Load(ctx context.Context, req loader.Request, outDir string) error {
	switch {
	case req.Query != "" || req.MediaType != "" || !req.StartDate.IsZero() || req.IncludeArchived:
		req.Action = loader.ActionSearch
	case req.AlbumID != "":
		req.Action = loader.ActionLoadAlbum
	default:
		albumID, err := a.pickAlbum(ctx)
		if err != nil {
			return trace.Wrap(err)
		}
		req.Action = loader.ActionLoadAlbum
		req.AlbumID = albumID
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return trace.Wrap(err)
	}

	result, err := a.loader.HandleRequest(ctx, req)
	if err != nil {
		return trace.Wrap(err)
	}

	log := logger.Get(ctx)
	for _, item := range result.Items {
		if item.Err != nil {
			log.WithField("item_id", item.Item.ID).WithError(item.Err).Warn("Skipped item")
			continue
		}
		filename := filepath.Join(outDir, item.Item.ID+".png")
		if err := imaging.Save(item.Image, filename); err != nil {
			return trace.Wrap(err)
		}
		log.WithField("file", filename).Info("Wrote image")
	}
	fmt.Println(result.StatusText)
	return nil
}

// ClearCache erases the transformed-image disk cache.
func (a *App) ClearCache() error {
	return trace.Wrap(a.loader.ClearCache())
}

// pickAlbum lists the albums and asks the user to choose one.
func (a *App) pickAlbum(ctx context.Context) (string, error) {
	result, err := a.loader.HandleRequest(ctx, loader.Request{Action: loader.ActionListAlbums})
	if err != nil {
		return "", trace.Wrap(err)
	}
	if len(result.Albums) == 0 {
		return "", trace.NotFound("the library has no albums")
	}

	labels := make([]string, 0, len(result.Albums))
	for _, album := range result.Albums {
		labels = append(labels, fmt.Sprintf("%s (%d items)", album.Title, album.MediaItemCount))
	}
	prompt := promptui.Select{
		Label: "Choose an album",
		Items: labels,
		Size:  10,
	}
	index, _, err := prompt.Run()
	if err != nil {
		return "", trace.Wrap(err)
	}
	return result.Albums[index].ID, nil
}
