// Copyright Project Contour Authors
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

// Package httpsvc wraps net/http.Server as a workgroup-compatible runnable,
// used both for the outward xDS discovery listener and the worker's
// internal PUT /client listener.
package httpsvc

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Service is a HTTP/1.x endpoint compatible with workgroup.Group's
// func(stop <-chan struct{}) error member shape, via Start.
type Service struct {
	Addr string
	Port int

	// ReadTimeout and WriteTimeout bound the HTTP server; zero means the
	// package defaults below apply.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Handler, if set, serves in place of ServeMux -- used to wrap the mux
	// with accesslog.Middleware without this package needing to import it.
	Handler http.Handler

	logrus.FieldLogger
	http.ServeMux
}

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 60 * time.Second
	shutdownGrace       = 5 * time.Second
)

// Start runs the HTTP server until ctx is done, then shuts it down with a
// grace period.
func (svc *Service) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil && err != http.ErrServerClosed {
			svc.WithError(err).Error("terminated HTTP server with error")
		} else {
			svc.Info("stopped HTTP server")
			err = nil
		}
	}()

	readTimeout := svc.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}
	writeTimeout := svc.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}

	handler := svc.Handler
	if handler == nil {
		handler = &svc.ServeMux
	}

	s := http.Server{
		Addr:           net.JoinHostPort(svc.Addr, strconv.Itoa(svc.Port)),
		Handler:        handler,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		MaxHeaderBytes: 1 << 13,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	svc.WithField("address", s.Addr).Info("started HTTP server")
	return s.ListenAndServe()
}
