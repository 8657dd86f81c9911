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
	"fmt"
	"net/http"

	"github.com/nimbletunnel/retunnel/internal/tunnel/events"
	"github.com/nimbletunnel/retunnel/internal/tunnel/metrics"
	"github.com/nimbletunnel/retunnel/internal/tunnel/validate"
	"github.com/nimbletunnel/retunnel/pkg/protocol"
)

// handleUpgrade accepts a websocket upgrade and runs the control channel
// endpoint (C9) until the peer disconnects.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("upgrade failed: %v", err)
		return
	}

	ch := newChannel(conn)
	s.channels.Store(ch.id, ch)
	s.stats.IncConnections()
	metrics.ObserveConnection()
	s.emitter.Emit(events.Event{Kind: events.KindConnection})

	connectedBytes, _ := protocol.Encode(protocol.Frame{Type: protocol.TypeConnected})
	if err := ch.writeMessage(connectedBytes); err != nil {
		s.closeChannel(ch)
		return
	}

	s.controlLoop(ch)
}

func (s *Server) controlLoop(ch *channel) {
	defer s.closeChannel(ch)
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}
		ch.touch()

		frame, err := protocol.Decode(data)
		if err != nil {
			s.log.Debugf("channel %s: malformed frame: %v", ch.id, err)
			continue
		}

		switch frame.Type {
		case protocol.TypeReady:
			if !s.bindReady(ch, frame) {
				return
			}
		case protocol.TypeResponse:
			s.pending.Complete(frame.ID, frame)
		case protocol.TypePing:
			pongBytes, _ := protocol.Encode(protocol.Frame{Type: protocol.TypePong})
			_ = ch.writeMessage(pongBytes)
		default:
			// forward-compatible: ignore unknown frame types.
		}
	}
}

// bindReady validates and binds a `ready` frame's subdomain. It returns
// false if the frame was invalid, in which case the caller must close the
// channel (spec.md §7: a protocol error on `ready` closes the channel).
func (s *Server) bindReady(ch *channel, frame protocol.Frame) bool {
	if !validate.IsValidSubdomain(frame.Subdomain) {
		errBytes, _ := protocol.Encode(protocol.Frame{
			Type:    protocol.TypeError,
			Message: fmt.Sprintf("invalid subdomain: %q", frame.Subdomain),
		})
		_ = ch.writeMessage(errBytes)
		return false
	}
	if s.registry.IsReserved(frame.Subdomain) {
		errBytes, _ := protocol.Encode(protocol.Frame{
			Type:    protocol.TypeError,
			Message: fmt.Sprintf("subdomain %q is reserved", frame.Subdomain),
		})
		_ = ch.writeMessage(errBytes)
		return false
	}

	ch.bind(frame.Subdomain)
	s.registry.Add(frame.Subdomain, ch)

	scheme := "http"
	if s.opts.Secure {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s.%s", scheme, frame.Subdomain, s.opts.BaseHost)
	regBytes, _ := protocol.Encode(protocol.Frame{Type: protocol.TypeRegistered, Subdomain: frame.Subdomain, URL: url})
	return ch.writeMessage(regBytes) == nil
}

// closeChannel tears down a channel's state: it removes any registry
// binding, purges its pending entries, and emits a disconnection event.
// Safe to call more than once.
func (s *Server) closeChannel(ch *channel) {
	ch.close()
	s.channels.Delete(ch.id)
	if sub := ch.subdomainName(); sub != "" {
		s.registry.Remove(sub, ch)
	}
	s.pending.Purge(ch.id)
	s.emitter.Emit(events.Event{Kind: events.KindDisconnection})
}
