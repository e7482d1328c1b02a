// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/stdr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"relaygate/internal/backend"
	"relaygate/internal/config"
	"relaygate/internal/observability"
	"relaygate/internal/server"
	"relaygate/internal/thinking"
	"relaygate/internal/upstream"
)

// shutdownGrace is the default drain period from spec.md §5: once the
// shutdown signal lands, in-flight requests get this long to finish before
// the listener is torn down out from under them.
const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "relaygate.yaml", "path to the YAML config document")
	addrOverride := flag.String("addr", "", "override the config's listen_addr")
	flag.Parse()

	stdLog := log.New(os.Stderr, "", log.LstdFlags)
	logger := stdr.New(stdLog)

	store, err := config.NewStore(*configPath)
	if err != nil {
		stdLog.Fatalf("relay-proxy: %v", err)
	}
	doc := store.Get()

	listenAddr := doc.ListenAddr
	if *addrOverride != "" {
		listenAddr = *addrOverride
	}

	backendState, err := backend.New(doc.ToBackendConfigSet(), logger.WithName("backend"))
	if err != nil {
		stdLog.Fatalf("relay-proxy: %v", err)
	}

	registry := thinking.New(backendState.GetActive(), logger.WithName("thinking"))
	client := upstream.New(doc.TimeoutConfig(), doc.PoolConfig(), logger.WithName("upstream"))
	hub := observability.NewHub(doc.MetricsRingCapacity, prometheus.DefaultRegisterer)

	srv := &server.Server{
		Backends:    backendState,
		Registry:    registry,
		Client:      client,
		Hub:         hub,
		IdleTimeout: doc.IdleTimeout,
		Logger:      logger.WithName("server"),
	}
	srv.SetRoutes(doc.RoutingTable())

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: srv.Handler(),
	}

	reloadSig := make(chan os.Signal, 1)
	signal.Notify(reloadSig, syscall.SIGHUP)
	go func() {
		for range reloadSig {
			if err := store.Reload(); err != nil {
				logger.Error(err, "config reload failed, keeping previous document")
				continue
			}
			newDoc := store.Get()
			if err := backendState.UpdateConfig(newDoc.ToBackendConfigSet()); err != nil {
				logger.Error(err, "config reload: backend state update failed")
				continue
			}
			srv.SetRoutes(newDoc.RoutingTable())
			logger.Info("config reloaded", "path", *configPath)
		}
	}()

	group, groupCtx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		logger.Info("relay-proxy listening", "addr", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-groupCtx.Done():
			return nil
		}
		logger.Info("shutdown signal received, draining", "grace", shutdownGrace)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})

	if err := group.Wait(); err != nil {
		logger.Error(err, "relay-proxy exited with error")
		os.Exit(1)
	}
}
