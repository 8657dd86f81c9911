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
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbletunnel/retunnel/internal/tunnel/client"
	"github.com/nimbletunnel/retunnel/internal/tunnel/events"
)

func newStartCmd() *cobra.Command {
	var (
		port            int
		localHost       string
		subdomain       string
		server          string
		secure          bool
		requestTimeout  time.Duration
		connectDeadline time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Expose a local port through a tunnel client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port <= 0 {
				return fmt.Errorf("--port is required")
			}

			edgeHost, edgePort, err := splitHostPort(server, secure)
			if err != nil {
				return err
			}

			c := client.New(client.Options{
				EdgeHost:        edgeHost,
				EdgePort:        edgePort,
				Secure:          secure,
				LocalHost:       localHost,
				LocalPort:       port,
				Subdomain:       subdomain,
				RequestTimeout:  requestTimeout,
				ConnectDeadline: connectDeadline,
			})

			go logClientEvents(c.Events())

			ctx, cancel := context.WithTimeout(context.Background(), connectDeadline)
			defer cancel()
			if err := c.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			log.Infof("forwarding %s:%d through %s", localHost, port, server)
			waitForRegisteredURL(c)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			log.Info("disconnecting...")
			c.Disconnect()
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "local port to expose (required)")
	cmd.Flags().StringVar(&localHost, "local-host", "localhost", "local host to forward requests to")
	cmd.Flags().StringVar(&subdomain, "subdomain", "", "requested subdomain (server assigns one if empty and supported)")
	cmd.Flags().StringVar(&server, "server", "localhost:3456", "edge server host[:port]")
	cmd.Flags().BoolVar(&secure, "secure", false, "dial the edge server over wss/https")
	cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 30*time.Second, "how long the local fetcher waits for the backend")
	cmd.Flags().DurationVar(&connectDeadline, "connect-deadline", 10*time.Second, "how long to wait for the initial connection")

	return cmd
}

func logClientEvents(ch <-chan events.Event) {
	for ev := range ch {
		switch ev.Kind {
		case events.KindError:
			log.Warnf("tunnel error: %s", ev.Message)
		case events.KindReconnecting:
			log.Warn("tunnel disconnected, reconnecting...")
		case events.KindConnected:
			log.Debug("tunnel control channel connected")
		}
	}
}

// waitForRegisteredURL polls briefly for the `registered` frame so the
// operator sees their public URL before the command blocks on the signal
// channel, without making the client expose a blocking "wait" API.
func waitForRegisteredURL(c *client.Client) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if url := c.RegisteredURL(); url != "" {
			log.Infof("tunnel established: %s", url)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// splitHostPort parses a "--server" value of the form host or host:port,
// defaulting the port to 80/443 by scheme when omitted.
func splitHostPort(server string, secure bool) (string, int, error) {
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		// No port present; treat the whole value as the host.
		host = server
		portStr = ""
	}

	port := 80
	if secure {
		port = 443
	}
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --server port: %w", err)
		}
		port = p
	}
	return host, port, nil
}
