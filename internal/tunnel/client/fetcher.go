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

// Package client implements the tunnel client: replaying forwarded requests
// against a local backend (C4, the Local Fetcher) and the connect/heartbeat/
// reconnect state machine that keeps a control channel alive (C5).
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nimbletunnel/retunnel/pkg/protocol"
)

// DefaultMaxBodyBytes bounds buffered request/response bodies so a single
// large transfer cannot exhaust memory.
const DefaultMaxBodyBytes = 10 << 20 // 10 MiB

var methodsWithBody = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
	http.MethodDelete: true,
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	LocalHost    string
	LocalPort    int
	MaxBodyBytes int64
	Timeout      time.Duration
}

// Fetcher replays a decoded request frame against the client's local
// backend and builds the matching response frame (spec.md §4.4).
type Fetcher struct {
	opts       FetcherOptions
	httpClient *http.Client
}

// NewFetcher returns a Fetcher configured to call http://LocalHost:LocalPort.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Fetcher{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			// The public caller sees the local backend's 3xx as-is; the
			// tunnel must not follow it on their behalf.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Fetch performs the request described by reqFrame and returns a populated
// `response` frame. It never returns an error: backend failures are encoded
// as a 502 response frame, per spec.md §4.4 step 6.
func (f *Fetcher) Fetch(reqFrame protocol.Frame) protocol.Frame {
	target := fmt.Sprintf("http://%s:%d%s", f.opts.LocalHost, f.opts.LocalPort, reqFrame.Path)

	var bodyReader io.Reader
	if methodsWithBody[reqFrame.Method] && reqFrame.Body != "" {
		raw, err := protocol.DecodeBody(reqFrame.Body, reqFrame.IsBase64Encoded)
		if err != nil {
			return backendErrorFrame(reqFrame.ID, target, err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequest(reqFrame.Method, target, bodyReader)
	if err != nil {
		return backendErrorFrame(reqFrame.ID, target, err)
	}
	for k, v := range protocol.StripRequestHeaders(reqFrame.Headers) {
		httpReq.Header.Set(k, v)
	}
	// Let the transport negotiate gzip itself and decode it, so the body
	// placed in the response frame is never content-encoded.
	httpReq.Header.Del("Accept-Encoding")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return backendErrorFrame(reqFrame.ID, target, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return backendErrorFrame(reqFrame.ID, target, err)
	}
	if int64(len(raw)) > f.opts.MaxBodyBytes {
		return backendErrorFrame(reqFrame.ID, target, fmt.Errorf("response body exceeds %d bytes", f.opts.MaxBodyBytes))
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	headers = protocol.StripResponseHeaders(headers, true)

	body, isBase64 := protocol.EncodeBody(raw, resp.Header.Get("Content-Type"))
	return protocol.Frame{
		Type:            protocol.TypeResponse,
		ID:              reqFrame.ID,
		Status:          resp.StatusCode,
		Headers:         headers,
		Body:            body,
		IsBase64Encoded: isBase64,
	}
}

func backendErrorFrame(id, target string, cause error) protocol.Frame {
	payload, _ := json.Marshal(map[string]string{
		"error":  "Failed to reach local backend",
		"target": target,
		"message": cause.Error(),
	})
	return protocol.Frame{
		Type:   protocol.TypeResponse,
		ID:     id,
		Status: http.StatusBadGateway,
		Headers: map[string]string{
			"content-type": "application/json",
		},
		Body: string(payload),
	}
}
