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

package lib

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CancelOnSignals returns a context that is cancelled on SIGINT/SIGTERM.
// A second SIGINT terminates the process immediately.
func CancelOnSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC,
		syscall.SIGTERM, // graceful shutdown
		syscall.SIGINT,  // graceful-then-fast shutdown
	)
	go func() {
		defer signal.Stop(sigC)
		var alreadyInterrupted bool
		for {
			select {
			case sig := <-sigC:
				switch sig {
				case syscall.SIGTERM:
					cancel()
					return
				case syscall.SIGINT:
					if alreadyInterrupted {
						log.Error("Forced termination")
						os.Exit(1)
					}
					log.Info("Cancelling, press Ctrl-C again to force termination")
					cancel()
					alreadyInterrupted = true
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return ctx, cancel
}
