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

// Package events defines the lifecycle events the server and client emit to
// the embedding program (spec.md §4.10, Observability Surface). There is no
// global event bus: each Server/Client owns one Emitter and callers Subscribe
// to that instance.
package events

import (
	"sync"
	"time"
)

// Kind names one lifecycle event. Server and client draw from subsets of the
// same type (request and error are used by both) so a single audit sink can
// consume both.
type Kind string

const (
	KindStart         Kind = "start"
	KindStop          Kind = "stop"
	KindConnection    Kind = "connection"
	KindDisconnection Kind = "disconnection"
	KindRequest       Kind = "request"
	KindError         Kind = "error"

	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindReconnecting Kind = "reconnecting"
	KindResponse     Kind = "response"
	KindClose        Kind = "close"
)

// Event is one lifecycle occurrence. Fields not meaningful to a given Kind
// are left zero.
type Event struct {
	Kind      Kind
	Time      time.Time
	Subdomain string
	RequestID string
	Message   string
}

// Emitter fans an event out to every current subscriber without blocking the
// caller on a slow consumer: each subscriber gets its own buffered channel
// and drops events if it falls behind.
type Emitter struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewEmitter returns a ready-to-use Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe returns a channel that receives every event emitted after this
// call, buffered to 64 entries. The channel is never closed by the emitter;
// callers that stop reading simply stop receiving.
func (e *Emitter) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}

// Emit publishes ev to every subscriber, dropping it for subscribers whose
// buffer is full rather than blocking the caller.
func (e *Emitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.mu.Lock()
	subs := e.subs
	e.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
