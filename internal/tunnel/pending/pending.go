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

// Package pending implements the edge server's request-id -> completion-sink
// table (spec.md §4.7). Each registered id gets exactly one delivery: either
// the matching response frame, or a synthesized timeout/purge frame.
//
// The table is split into a fixed number of shards, each guarded by its own
// mutex, to keep a single hot subdomain's traffic from serializing through
// one lock. A request id is assigned to a shard by rendezvous hashing so the
// mapping stays stable if the shard count is ever revisited.
package pending

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"github.com/nimbletunnel/retunnel/pkg/protocol"
)

// ErrIDInUse is returned by Register if the id is already present. Ids are
// generated to be unique for the lifetime of a channel, so this should never
// fire in practice (spec.md §4.7).
var ErrIDInUse = fmt.Errorf("pending: id already registered")

const defaultShards = 16

type entry struct {
	owner    string
	sink     chan protocol.Frame
	timer    *time.Timer
	complete sync.Once
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Table is the Pending-Response Table (C7).
type Table struct {
	shards []*shard
	rdv    *rendezvous.Rendezvous
	names  []string
}

// New returns an empty Table with the given shard count (0 uses the default).
func New(numShards int) *Table {
	if numShards <= 0 {
		numShards = defaultShards
	}
	names := make([]string, numShards)
	shards := make([]*shard, numShards)
	for i := range shards {
		names[i] = strconv.Itoa(i)
		shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return &Table{
		shards: shards,
		rdv:    rendezvous.New(names, xxhash.Sum64String),
		names:  names,
	}
}

func (t *Table) shardFor(id string) *shard {
	name := t.rdv.Lookup(id)
	for i, n := range t.names {
		if n == name {
			return t.shards[i]
		}
	}
	// Unreachable in practice: Lookup always returns one of the names it was
	// constructed with.
	return t.shards[0]
}

// Register inserts a pending entry for id, owned by owner (the control
// channel's identity), with the given timeout. It returns a channel that
// receives exactly one frame: the real response, a synthesized 504 on
// timeout, or a synthesized 502 if owner's channel is purged first.
func (t *Table) Register(id, owner string, timeout time.Duration) (<-chan protocol.Frame, error) {
	s := t.shardFor(id)
	s.mu.Lock()
	if _, exists := s.entries[id]; exists {
		s.mu.Unlock()
		return nil, ErrIDInUse
	}
	e := &entry{
		owner: owner,
		sink:  make(chan protocol.Frame, 1),
	}
	s.entries[id] = e
	s.mu.Unlock()

	e.timer = time.AfterFunc(timeout, func() { t.expire(id) })
	return e.sink, nil
}

// Complete delivers frame to the sink registered for id, if any. Late or
// unknown ids are dropped silently, matching spec.md §3's "discarded
// silently" rule.
func (t *Table) Complete(id string, frame protocol.Frame) {
	s := t.shardFor(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	e.timer.Stop()
	e.complete.Do(func() { e.sink <- frame })
}

// expire fires when an entry's deadline elapses before a response arrived.
func (t *Table) expire(id string) {
	s := t.shardFor(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	e.complete.Do(func() {
		e.sink <- timeoutFrame(id)
	})
}

// Purge synthesizes a 502 for every entry owned by owner and removes them.
// Called when a control channel closes (spec.md §4.9).
func (t *Table) Purge(owner string) {
	for _, s := range t.shards {
		s.mu.Lock()
		var toComplete []*entry
		for id, e := range s.entries {
			if e.owner == owner {
				toComplete = append(toComplete, e)
				delete(s.entries, id)
			}
		}
		s.mu.Unlock()
		for _, e := range toComplete {
			e.timer.Stop()
			e.complete.Do(func() { e.sink <- purgedFrame() })
		}
	}
}

// Len reports the number of entries currently outstanding, for tests and
// diagnostics.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func timeoutFrame(id string) protocol.Frame {
	return protocol.Frame{
		Type:   protocol.TypeResponse,
		ID:     id,
		Status: 504,
		Headers: map[string]string{
			"content-type": "text/plain",
		},
		Body: "Gateway timeout — tunnel client did not respond",
	}
}

func purgedFrame() protocol.Frame {
	return protocol.Frame{
		Type:   protocol.TypeResponse,
		Status: 502,
		Headers: map[string]string{
			"content-type": "text/plain",
		},
		Body: "Bad Gateway — tunnel disconnected",
	}
}
