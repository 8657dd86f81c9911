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

// Package statssink optionally publishes periodic Stats snapshots to an
// external store, so a fleet of edge servers behind a load balancer can be
// observed in aggregate rather than one /status call at a time. This is not
// part of the core tunnel protocol; it is an opt-in side channel.
package statssink

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbletunnel/retunnel/internal/tunnel/stats"
)

// Sink accepts a point-in-time stats snapshot for a named edge server.
type Sink interface {
	Publish(ctx context.Context, serverID string, snap stats.Snapshot) error
}

// NoopSink discards every snapshot. It is the default when no external store
// is configured.
type NoopSink struct{}

// Publish implements Sink.
func (NoopSink) Publish(context.Context, string, stats.Snapshot) error { return nil }

// Evaler abstracts the minimal Redis surface a Sink needs, so tests and the
// production wiring path can both construct a Sink without depending on a
// concrete go-redis type directly.
type Evaler interface {
	HSet(ctx context.Context, key string, values ...interface{}) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// statsTTL bounds how long a published snapshot survives in Redis once its
// server stops publishing (crash, missed shutdown). It is set well above any
// reasonable --stats-interval so a handful of missed cycles doesn't expire a
// live server, while a genuinely dead one still drops off `retunnel:stats:*`
// instead of lingering forever.
const statsTTL = 5 * time.Minute

// RedisSink publishes each snapshot as an HSET under a per-server key, so an
// external dashboard can scan `retunnel:stats:*` without needing its own
// aggregation logic. Each publish refreshes the key's TTL so servers that
// stop publishing eventually disappear from the keyspace.
type RedisSink struct {
	client Evaler
}

// NewRedisSink wraps client for use as a Sink.
func NewRedisSink(client Evaler) *RedisSink {
	return &RedisSink{client: client}
}

// Publish writes snap's fields as hash entries under `retunnel:stats:{serverID}`
// and refreshes the key's expiry.
func (r *RedisSink) Publish(ctx context.Context, serverID string, snap stats.Snapshot) error {
	key := fmt.Sprintf("retunnel:stats:%s", serverID)
	if err := r.client.HSet(ctx, key,
		"connections", snap.Connections,
		"requests", snap.Requests,
		"bytesIn", snap.BytesIn,
		"bytesOut", snap.BytesOut,
		"uptimeSeconds", snap.Uptime.Seconds(),
		"updatedAt", time.Now().Unix(),
	); err != nil {
		return err
	}
	return r.client.Expire(ctx, key, statsTTL)
}

// Publisher periodically pushes Stats snapshots to a Sink until stopped.
type Publisher struct {
	sink     Sink
	stats    *stats.Stats
	serverID string
	interval time.Duration
	stop     chan struct{}
}

// NewPublisher returns a Publisher that will push snap's stats for serverID
// to sink every interval once Start is called.
func NewPublisher(sink Sink, s *stats.Stats, serverID string, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Publisher{sink: sink, stats: s, serverID: serverID, interval: interval, stop: make(chan struct{})}
}

// Start runs the publish loop in a new goroutine.
func (p *Publisher) Start() {
	go p.loop()
}

func (p *Publisher) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = p.sink.Publish(ctx, p.serverID, p.stats.Snapshot())
			cancel()
		case <-p.stop:
			return
		}
	}
}

// Stop ends the publish loop. Idempotent.
func (p *Publisher) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}
