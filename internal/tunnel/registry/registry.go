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

// Package registry maps subdomains to the set of control channels currently
// serving them (spec.md §4.6). A subdomain is not a unique tunnel identity:
// reconnection overlap or deliberate replicas can leave more than one
// channel bound to the same label, so dispatch picks among holders
// round-robin rather than assuming a single owner.
package registry

import "sync"

// Channel is the subset of a control channel's behavior the registry needs.
// The concrete websocket-backed type lives in package server; this interface
// keeps registry free of that dependency.
type Channel interface {
	// ID uniquely identifies the channel for removal and for attributing
	// pending entries on purge.
	ID() string
	// Closing reports whether the channel is in the process of closing or
	// already closed, and should be skipped by pick.
	Closing() bool
}

type binding struct {
	channels []Channel
	next     int
}

// Registry is the Subdomain Registry (C6). The zero value is not usable;
// construct with New.
type Registry struct {
	mu         sync.Mutex
	subdomains map[string]*binding
	reserved   map[string]struct{}
}

// New returns an empty Registry with no reserved subdomains.
func New() *Registry {
	return &Registry{subdomains: make(map[string]*binding)}
}

// NewWithReserved returns an empty Registry whose IsReserved reports true for
// every subdomain in reserved (operator-blocked labels like "api" or "www").
// Add does not consult the list; callers check IsReserved before binding.
func NewWithReserved(reserved []string) *Registry {
	r := New()
	if len(reserved) == 0 {
		return r
	}
	r.reserved = make(map[string]struct{}, len(reserved))
	for _, s := range reserved {
		r.reserved[s] = struct{}{}
	}
	return r
}

// IsReserved reports whether subdomain is on the operator's blocked list.
func (r *Registry) IsReserved(subdomain string) bool {
	if r.reserved == nil {
		return false
	}
	_, ok := r.reserved[subdomain]
	return ok
}

// Add inserts ch into the set serving subdomain, creating the key if absent.
func (r *Registry) Add(subdomain string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.subdomains[subdomain]
	if !ok {
		b = &binding{}
		r.subdomains[subdomain] = b
	}
	b.channels = append(b.channels, ch)
}

// Remove deletes ch from subdomain's set. If the set becomes empty, the key
// is deleted. Removing an absent channel is a no-op.
func (r *Registry) Remove(subdomain string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.subdomains[subdomain]
	if !ok {
		return
	}
	for i, c := range b.channels {
		if c.ID() == ch.ID() {
			b.channels = append(b.channels[:i], b.channels[i+1:]...)
			break
		}
	}
	if len(b.channels) == 0 {
		delete(r.subdomains, subdomain)
		return
	}
	if b.next >= len(b.channels) {
		b.next = 0
	}
}

// RemoveEverywhere removes ch from every subdomain it is bound to. A
// control channel binds to at most one subdomain for its lifetime
// (spec.md §3), so this is a convenience for close-time cleanup that does
// not need the caller to remember which subdomain it was.
func (r *Registry) RemoveEverywhere(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for subdomain, b := range r.subdomains {
		for i, c := range b.channels {
			if c.ID() == ch.ID() {
				b.channels = append(b.channels[:i], b.channels[i+1:]...)
				break
			}
		}
		if len(b.channels) == 0 {
			delete(r.subdomains, subdomain)
		} else if b.next >= len(b.channels) {
			b.next = 0
		}
	}
}

// Pick returns a live channel bound to subdomain, rotating across holders on
// successive calls. A channel reporting Closing() is skipped and removed
// from the set; Pick returns false if no live channel remains.
func (r *Registry) Pick(subdomain string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.subdomains[subdomain]
	if !ok || len(b.channels) == 0 {
		return nil, false
	}

	tries := len(b.channels)
	for i := 0; i < tries; i++ {
		if b.next >= len(b.channels) {
			b.next = 0
		}
		idx := b.next
		b.next++
		ch := b.channels[idx]
		if ch.Closing() {
			b.channels = append(b.channels[:idx], b.channels[idx+1:]...)
			if b.next > idx {
				b.next--
			}
			if len(b.channels) == 0 {
				delete(r.subdomains, subdomain)
				return nil, false
			}
			continue
		}
		return ch, true
	}
	return nil, false
}

// Snapshot returns the subdomains currently bound to at least one channel,
// for the /status endpoint.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subdomains))
	for subdomain := range r.subdomains {
		out = append(out, subdomain)
	}
	return out
}

// TotalConnections sums the size of every subdomain's channel set.
func (r *Registry) TotalConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, b := range r.subdomains {
		total += len(b.channels)
	}
	return total
}
