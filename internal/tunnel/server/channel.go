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

// Package server implements the edge side of the tunnel: the public HTTP
// router (C8) and the control channel endpoint (C9).
package server

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// channel is the server's view of one control channel: a websocket
// connection plus the bookkeeping the registry and pending table need.
// It implements registry.Channel.
type channel struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	closing atomic.Bool

	mu        sync.Mutex
	subdomain string

	lastSeen atomic.Int64
}

func newChannel(conn *websocket.Conn) *channel {
	c := &channel{id: generateID(), conn: conn}
	c.lastSeen.Store(time.Now().UnixNano())
	return c
}

// ID implements registry.Channel.
func (c *channel) ID() string { return c.id }

// Closing implements registry.Channel.
func (c *channel) Closing() bool { return c.closing.Load() }

func (c *channel) subdomainName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subdomain
}

func (c *channel) bind(subdomain string) {
	c.mu.Lock()
	c.subdomain = subdomain
	c.mu.Unlock()
}

func (c *channel) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *channel) idleSince() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

func (c *channel) close() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	_ = c.conn.Close()
}

// writeMessage serializes concurrent senders, matching the "dedicated send
// path" requirement in spec.md §5.
func (c *channel) writeMessage(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// generateID returns an opaque short random token unique within the
// lifetime of a control channel (spec.md §3). 9 random bytes (72 bits)
// keeps birthday-bound collisions negligible even over millions of ids.
func generateID() string {
	var buf [9]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the platform's entropy source is
		// broken; fall back to a timestamp-derived id rather than panic.
		return hex.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(buf[:])
}
