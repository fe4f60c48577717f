// Copyright (c) 2021 ubirch GmbH
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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"

	"github.com/ubirch/dcc-cose-service/internal/certsource"
	"github.com/ubirch/dcc-cose-service/internal/codec"
	"github.com/ubirch/dcc-cose-service/internal/config"
	"github.com/ubirch/dcc-cose-service/internal/cose"
	"github.com/ubirch/dcc-cose-service/internal/httpapi"
	"github.com/ubirch/dcc-cose-service/internal/store"
)

// handle graceful shutdown
func shutdown(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signals
	log.Infof("shutting down after receiving: %v", sig)

	cancel()
}

var (
	// Version is replaced with the tagged version during build time.
	Version = "local build"
	// Revision is replaced with the commit hash during build time.
	Revision = "unknown"
)

func main() {
	const (
		serviceName = "dcc-cose-service"
		configFile  = "config.json"
	)

	var configDir string
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}

	log.SetFormatter(&log.JSONFormatter{})
	log.Printf("DCC COSE service (version=%s, revision=%s)", Version, Revision)
	serverID := fmt.Sprintf("%s/%s", serviceName, Version)

	conf := &config.Config{}
	if err := conf.Load(configDir, configFile); err != nil {
		log.Fatalf("unable to load configuration: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	go shutdown(cancel)

	dm, err := store.NewDatabaseManager(conf.PostgresDSN, conf.DBParams())
	if err != nil {
		log.Fatalf("unable to connect to signer store: %s", err)
	}
	defer dm.Close()

	cache := certsource.NewAtomicProvider(certsource.NewMemory())
	refresher := store.NewRefresher(dm, cache, conf.CertReloadPeriod())
	g.Go(func() error {
		refresher.Run(ctx)
		return nil
	})

	router := httpapi.NewRouter()
	httpServer := &httpapi.HTTPServer{
		Router:   router,
		Addr:     conf.TCPAddr,
		TLS:      conf.TLS,
		CertFile: conf.TLSCertFile,
		KeyFile:  conf.TLSKeyFile,
	}

	httpapi.InitPromMetrics()

	service := &httpapi.Service{
		DB:           dm,
		Secret:       conf.SecretBytes(),
		Cache:        cache,
		CodecOpts:    codec.Options{},
		SignOpts:     cose.SignOptions{},
		Clock:        time.Now,
		RegisterAuth: conf.RegisterAuth,
	}

	router.Post("/signers", service.RegisterHandler())
	router.Post("/certificates"+httpapi.CountryPath+"/dcc", service.EncodeHandler())
	router.Post("/certificates/decode", service.DecodeHandler())
	router.Get("/healthz", httpapi.Health(serverID))
	router.Get("/readiness", httpapi.Health(serverID))

	g.Go(func() error {
		return httpServer.Serve(ctx)
	})

	log.Info("ready")

	if err := g.Wait(); err != nil {
		log.Error(err)
	}

	log.Debug("shut down")
}
