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

package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RequestIDHeader is the response header carrying the per-request
// correlation ID, useful for tying an encode/decode failure in the
// logs back to the client's own report.
const RequestIDHeader = "X-Request-Id"

// requestID stamps every request with a fresh UUID, generalizing the
// teacher's own UUID-per-identity model (the UUID no longer names a
// device identity, just one HTTP request) into an ambient
// logging/correlation concern.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

const (
	GatewayTimeout  = 20 * time.Second // time after which the client sees a 504 if no timely response could be produced
	ShutdownTimeout = 25 * time.Second // time after which the server is shut down forcefully if graceful shutdown did not happen before
	ReadTimeout     = 5 * time.Second  // maximum duration for reading the entire request
	WriteTimeout    = 30 * time.Second // time after which the connection is closed if the response was not written
	IdleTimeout     = 60 * time.Second // time to wait for the next request when keep-alives are enabled
)

// NewRouter returns a chi router with the gateway timeout middleware
// installed, matching the teacher's own NewRouter.
func NewRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.Timeout(GatewayTimeout))
	router.Use(requestID)
	return router
}

// HTTPServer wraps net/http.Server with the teacher's own graceful
// shutdown behaviour: Serve blocks until ctx is cancelled, then drains
// in-flight requests for up to ShutdownTimeout before returning.
type HTTPServer struct {
	Router   *chi.Mux
	Addr     string
	TLS      bool
	CertFile string
	KeyFile  string
}

// Serve starts the HTTP server and blocks until ctx is cancelled and
// the server has shut down (gracefully, or forcefully after
// ShutdownTimeout).
func (srv *HTTPServer) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:         srv.Addr,
		Handler:      srv.Router,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	go func() {
		<-ctx.Done()
		server.SetKeepAlivesEnabled(false)

		shutdownWithTimeoutCtx, cancel := context.WithTimeout(shutdownCtx, ShutdownTimeout)
		defer cancel()
		defer shutdownCancel()

		if err := server.Shutdown(shutdownWithTimeoutCtx); err != nil {
			log.Warnf("could not gracefully shut down server: %s", err)
		} else {
			log.Debug("shut down HTTP server")
		}
	}()

	log.Infof("starting HTTP server on %s", srv.Addr)

	var err error
	if srv.TLS {
		err = server.ListenAndServeTLS(srv.CertFile, srv.KeyFile)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("error starting HTTP server: %v", err)
	}

	<-shutdownCtx.Done()
	return nil
}

// Health returns a liveness/readiness handler that reports serverID,
// matching the teacher's own httphelper.Health shape.
func Health(serverID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(serverID))
	}
}
