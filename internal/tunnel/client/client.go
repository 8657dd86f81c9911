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

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nimbletunnel/retunnel/internal/tunnel/backoff"
	"github.com/nimbletunnel/retunnel/internal/tunnel/events"
	"github.com/nimbletunnel/retunnel/internal/tunnel/validate"
	"github.com/nimbletunnel/retunnel/pkg/protocol"
)

// State is one of the Client State Machine's states (spec.md §4.5).
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

const heartbeatInterval = 25 * time.Second

// Options is the immutable configuration of a tunnel client (spec.md §3,
// "Client Options").
type Options struct {
	EdgeHost             string
	EdgePort             int
	Secure               bool
	LocalHost            string
	LocalPort            int
	Subdomain            string
	RequestTimeout       time.Duration
	ConnectDeadline      time.Duration
	MaxReconnectAttempts int // 0 means unlimited
}

// Client drives one control channel to an edge server: connect, register,
// heartbeat, dispatch forwarded requests to the Local Fetcher, and reconnect
// on loss (spec.md §4.5).
type Client struct {
	opts    Options
	fetcher *Fetcher
	emitter *events.Emitter
	backoff backoff.Policy

	mu            sync.Mutex
	conn          *websocket.Conn
	state         State
	attempts      int
	registeredURL string

	writeMu sync.Mutex

	shouldReconnect atomic.Bool
	lastSeen        atomic.Int64
}

// New returns a Client ready to Connect.
func New(opts Options) *Client {
	if opts.ConnectDeadline <= 0 {
		opts.ConnectDeadline = 10 * time.Second
	}
	return &Client{
		opts:    opts,
		emitter: events.NewEmitter(),
		fetcher: NewFetcher(FetcherOptions{
			LocalHost: opts.LocalHost,
			LocalPort: opts.LocalPort,
			Timeout:   opts.RequestTimeout,
		}),
		state: StateDisconnected,
	}
}

// Events returns a channel of this client's lifecycle events.
func (c *Client) Events() <-chan events.Event { return c.emitter.Subscribe() }

// State reports the client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RegisteredURL returns the public URL assigned by the edge server's last
// `registered` frame, or "" if not yet registered.
func (c *Client) RegisteredURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registeredURL
}

// Connect dials the edge server, sends `ready`, and — once the frame is
// sent — transitions to connected and starts the heartbeat/dispatch loop.
// On connect-deadline expiry or any dial/handshake error it transitions to
// error, schedules a reconnect attempt (moving on to reconnecting, or to
// disconnected once reconnection is off or attempts are used up), and
// returns that error.
//
// A non-empty requested subdomain is validated before dialing (spec.md
// §4.2's third call site), so a malformed value fails fast here rather than
// relying solely on the server's `error` frame rejection.
func (c *Client) Connect(ctx context.Context) error {
	if c.opts.Subdomain != "" && !validate.IsValidSubdomain(c.opts.Subdomain) {
		err := fmt.Errorf("invalid subdomain: %q", c.opts.Subdomain)
		c.setState(StateError)
		c.emit(events.KindError, err.Error())
		return err
	}

	c.shouldReconnect.Store(true)
	return c.attemptConnect(ctx)
}

// Disconnect stops any future reconnection attempts and closes the current
// channel, settling at disconnected. Idempotent.
func (c *Client) Disconnect() {
	c.shouldReconnect.Store(false)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.setState(StateDisconnected)
	c.emit(events.KindClose, "")
}

func (c *Client) attemptConnect(parent context.Context) error {
	c.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(parent, c.opts.ConnectDeadline)
	defer cancel()

	scheme := "ws"
	if c.opts.Secure {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s:%d/?subdomain=%s", scheme, c.opts.EdgeHost, c.opts.EdgePort, c.opts.Subdomain)

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.ConnectDeadline}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.setState(StateError)
		c.emit(events.KindError, err.Error())
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.lastSeen.Store(time.Now().UnixNano())

	if err := c.send(protocol.Frame{Type: protocol.TypeReady, Subdomain: c.opts.Subdomain}); err != nil {
		c.setState(StateError)
		_ = conn.Close()
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()
	c.emit(events.KindConnected, "")

	go c.serve(conn)
	return nil
}

// serve owns one connection's lifetime: it runs the heartbeat loop
// alongside the blocking read loop, and drives reconnection once the read
// loop returns.
func (c *Client) serve(conn *websocket.Conn) {
	stopHeartbeat := make(chan struct{})
	go c.heartbeatLoop(conn, stopHeartbeat)

	c.readLoop(conn)

	close(stopHeartbeat)
	c.emit(events.KindDisconnected, "")
	c.scheduleReconnect()
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.send(protocol.Frame{Type: protocol.TypePing}); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.lastSeen.Store(time.Now().UnixNano())

		frame, err := protocol.Decode(data)
		if err != nil {
			continue
		}

		switch frame.Type {
		case protocol.TypeRegistered:
			c.mu.Lock()
			c.registeredURL = frame.URL
			c.mu.Unlock()
		case protocol.TypeRequest:
			go c.handleRequest(frame)
		case protocol.TypePong:
			// heartbeat acknowledged; lastSeen already updated above.
		case protocol.TypeError:
			c.emit(events.KindError, frame.Message)
		default:
			// forward-compatible: ignore unknown frame types.
		}
	}
}

func (c *Client) handleRequest(reqFrame protocol.Frame) {
	c.emit(events.KindRequest, reqFrame.ID)
	resp := c.fetcher.Fetch(reqFrame)
	_ = c.send(resp)
	c.emit(events.KindResponse, reqFrame.ID)
}

func (c *Client) send(f protocol.Frame) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("client: not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) scheduleReconnect() {
	if !c.shouldReconnect.Load() {
		c.setState(StateDisconnected)
		return
	}

	c.mu.Lock()
	attempt := c.attempts
	exceeded := c.opts.MaxReconnectAttempts > 0 && attempt >= c.opts.MaxReconnectAttempts
	c.mu.Unlock()
	if exceeded {
		c.setState(StateDisconnected)
		return
	}

	c.setState(StateReconnecting)
	c.emit(events.KindReconnecting, "")

	delay := c.backoff.Delay(attempt)
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	time.AfterFunc(delay, func() {
		if !c.shouldReconnect.Load() {
			return
		}
		_ = c.attemptConnect(context.Background())
	})
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) emit(kind events.Kind, message string) {
	c.emitter.Emit(events.Event{Kind: kind, Subdomain: c.opts.Subdomain, Message: message})
}
