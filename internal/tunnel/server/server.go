// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nimbletunnel/retunnel/internal/tunnel/events"
	"github.com/nimbletunnel/retunnel/internal/tunnel/metrics"
	"github.com/nimbletunnel/retunnel/internal/tunnel/pending"
	"github.com/nimbletunnel/retunnel/internal/tunnel/registry"
	"github.com/nimbletunnel/retunnel/internal/tunnel/stats"
)

// Version is the edge server's reported version for /status.
var Version = "dev"

// Options configures a Server.
type Options struct {
	// Addr is the HTTP listen address, e.g. ":3456".
	Addr string
	// BaseHost is used to build the public URL in `registered` frames
	// (http[s]://{sub}.{BaseHost}).
	BaseHost string
	Secure   bool
	// RequestTimeout bounds how long a forwarded request waits for a
	// response before the public caller gets a 504.
	RequestTimeout time.Duration
	// MaxBodyBytes bounds buffered request bodies (413 on exceed).
	MaxBodyBytes int64
	// HeartbeatSweepInterval controls how often idle channels are checked
	// for a half-open TCP session (spec.md §5, "Liveness").
	HeartbeatSweepInterval time.Duration
	// HeartbeatIdleFactor is the multiple of the client's 25s heartbeat
	// period a channel may go silent before being closed.
	HeartbeatIdleFactor int
	// ReservedSubdomains blocks `ready` registration for these labels
	// (e.g. "api", "www"), reserving them for non-tunnel use.
	ReservedSubdomains []string

	Logger *logrus.Logger
}

// Server is the Edge HTTP Router (C8) plus the Control Channel Endpoint,
// server side (C9).
type Server struct {
	opts     Options
	registry *registry.Registry
	pending  *pending.Table
	stats    *stats.Stats
	emitter  *events.Emitter
	log      *logrus.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
	startedAt  time.Time

	// channels tracks every open control channel by id, independent of
	// registry bindings, so the heartbeat sweep can inspect liveness even
	// before a channel has sent `ready`.
	channels sync.Map // string -> *channel

	mu        sync.Mutex
	stopSweep chan struct{}
}

// New returns a configured, not-yet-started Server.
func New(opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.HeartbeatSweepInterval <= 0 {
		opts.HeartbeatSweepInterval = 15 * time.Second
	}
	if opts.HeartbeatIdleFactor <= 0 {
		opts.HeartbeatIdleFactor = 2
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	s := &Server{
		opts:     opts,
		registry: registry.NewWithReserved(opts.ReservedSubdomains),
		pending:  pending.New(0),
		stats:    stats.New(),
		emitter:  events.NewEmitter(),
		log:      opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  0, // the public surface may proxy long-lived uploads
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Events returns a channel of this server's lifecycle events.
func (s *Server) Events() <-chan events.Event { return s.emitter.Subscribe() }

// Stats exposes the server's counter block, for an embedder that wants to
// publish snapshots externally (see internal/statssink).
func (s *Server) Stats() *stats.Stats { return s.stats }

func (s *Server) buildRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/_health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/_status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/_metrics", s.handleMetrics).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(s.handleCatchAll)
	return r
}

// ListenAndServe starts accepting connections. It returns once the listener
// fails, or with http.ErrServerClosed as soon as Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.startedAt = time.Now()
	s.mu.Lock()
	s.stopSweep = make(chan struct{})
	sweepStop := s.stopSweep
	s.mu.Unlock()

	go s.heartbeatSweepLoop(sweepStop)
	s.emitter.Emit(events.Event{Kind: events.KindStart})
	s.log.Infof("edge server listening on %s", s.opts.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new connections, stops the heartbeat sweep, closes
// every tracked control channel (which purges its pending entries), and
// waits up to ctx's deadline for in-flight HTTP requests to finish.
//
// Hijacked websocket connections are not tracked by net/http.Server once
// upgraded, so httpServer.Shutdown alone cannot reach them (spec.md §5:
// graceful shutdown stops accepting, then closes every channel, which in
// turn purges the pending table).
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopSweep != nil {
		close(s.stopSweep)
		s.stopSweep = nil
	}
	s.mu.Unlock()
	s.emitter.Emit(events.Event{Kind: events.KindStop})

	err := s.httpServer.Shutdown(ctx)

	s.channels.Range(func(_, value interface{}) bool {
		ch := value.(*channel)
		s.closeChannel(ch)
		return true
	})

	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) heartbeatSweepLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.HeartbeatSweepInterval)
	defer ticker.Stop()
	maxIdle := time.Duration(s.opts.HeartbeatIdleFactor) * 25 * time.Second
	for {
		select {
		case <-ticker.C:
			s.sweepIdleChannels(maxIdle)
		case <-stop:
			return
		}
	}
}

// sweepIdleChannels proactively closes channels that have gone silent for
// longer than maxIdle, to detect half-open TCP sessions the OS hasn't
// noticed yet (spec.md §5, "Liveness" — recommended, not required).
func (s *Server) sweepIdleChannels(maxIdle time.Duration) {
	s.channels.Range(func(_, value interface{}) bool {
		ch := value.(*channel)
		if ch.Closing() {
			return true
		}
		if ch.idleSince() > maxIdle {
			s.log.Warnf("closing channel %s: idle for %s", ch.id, ch.idleSince())
			s.closeChannel(ch)
		}
		return true
	})
}
