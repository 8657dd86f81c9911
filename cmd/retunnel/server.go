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

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbletunnel/retunnel/internal/statssink"
	"github.com/nimbletunnel/retunnel/internal/tunnel/events"
	"github.com/nimbletunnel/retunnel/internal/tunnel/server"
)

func newServerCmd() *cobra.Command {
	var (
		port           int
		host           string
		baseHost       string
		secure         bool
		requestTimeout time.Duration
		maxBodyMB      int64
		statsRedisAddr string
		statsInterval  time.Duration
		serverID       string
		auditLogPath   string
		reservedSubs   []string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the edge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := fmt.Sprintf("%s:%d", host, port)
			if baseHost == "" {
				baseHost = host
				if baseHost == "" || baseHost == "0.0.0.0" {
					baseHost = "localhost"
				}
			}
			if _, _, err := net.SplitHostPort(baseHost); err != nil {
				baseHost = fmt.Sprintf("%s:%d", baseHost, port)
			}

			srv := server.New(server.Options{
				Addr:               addr,
				BaseHost:           baseHost,
				Secure:             secure,
				RequestTimeout:     requestTimeout,
				MaxBodyBytes:       maxBodyMB << 20,
				ReservedSubdomains: reservedSubs,
				Logger:             log,
			})

			var sink statssink.Sink = statssink.NoopSink{}
			if statsRedisAddr != "" {
				sink = statssink.NewRedisSink(statssink.NewGoRedisEvaler(statsRedisAddr))
			}
			if serverID == "" {
				hostname, _ := os.Hostname()
				serverID = hostname
			}

			publisher := statssink.NewPublisher(sink, srv.Stats(), serverID, statsInterval)
			publisher.Start()
			defer publisher.Stop()

			auditStop := make(chan struct{})
			if auditLogPath != "" {
				auditSink, err := events.NewAuditFileSink(auditLogPath)
				if err != nil {
					return fmt.Errorf("open audit log: %w", err)
				}
				go auditSink.Run(srv.Events(), auditStop)
			}
			defer close(auditStop)

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			log.Infof("retunnel server listening on %s", addr)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-stop:
			}

			log.Info("shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 3456, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().StringVar(&baseHost, "base-host", "", "host[:port] used to build public tunnel URLs; the listen --port is appended when no port is given (defaults to --host)")
	cmd.Flags().BoolVar(&secure, "secure", false, "advertise https/wss URLs instead of http/ws")
	cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 30*time.Second, "how long a forwarded request waits for a tunnel response")
	cmd.Flags().Int64Var(&maxBodyMB, "max-body-mb", 10, "maximum buffered public request body size, in MiB (413 on exceed)")
	cmd.Flags().StringVar(&statsRedisAddr, "stats-redis-addr", "", "if set, periodically publish stats snapshots to this Redis address")
	cmd.Flags().DurationVar(&statsInterval, "stats-interval", 10*time.Second, "stats publish interval")
	cmd.Flags().StringVar(&serverID, "server-id", "", "identifier used when publishing stats snapshots (defaults to hostname)")
	cmd.Flags().StringVar(&auditLogPath, "audit-log", "", "if set, append lifecycle events as JSON lines to this file")
	cmd.Flags().StringSliceVar(&reservedSubs, "reserved-subdomains", nil, "subdomains that reject ready registration (e.g. api,www)")

	return cmd
}
