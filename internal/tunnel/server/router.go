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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nimbletunnel/retunnel/internal/tunnel/metrics"
	"github.com/nimbletunnel/retunnel/internal/tunnel/validate"
	"github.com/nimbletunnel/retunnel/pkg/protocol"
)

type statusResponse struct {
	Status           string   `json:"status"`
	Version          string   `json:"version"`
	Connections      int64    `json:"connections"`
	Requests         int64    `json:"requests"`
	Uptime           string   `json:"uptime"`
	ActiveSubdomains []string `json:"activeSubdomains"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	resp := statusResponse{
		Status:           "ok",
		Version:          Version,
		Connections:      snap.Connections,
		Requests:         snap.Requests,
		Uptime:           fmt.Sprintf("%ds", int64(snap.Uptime.Round(time.Second).Seconds())),
		ActiveSubdomains: s.registry.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.SetActiveSubdomains(len(s.registry.Snapshot()))
	metrics.SetUptimeSeconds(time.Since(s.startedAt).Seconds())
	metrics.Handler().ServeHTTP(w, r)
}

// handleCatchAll implements the rest of the Edge HTTP Router (C8): upgrade
// detection, then subdomain forwarding.
func (s *Server) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	if isUpgradeRequest(r) {
		s.handleUpgrade(w, r)
		return
	}
	s.forward(w, r)
}

func isUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	subdomain := firstHostLabel(r.Host)
	if subdomain == "" || !validate.IsValidSubdomain(subdomain) {
		writeJSONError(w, http.StatusNotFound, "Tunnel not found", subdomain, "no subdomain could be derived from the Host header")
		return
	}

	ch, ok := s.registry.Pick(subdomain)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Tunnel not found", subdomain, "no active tunnel is registered for this subdomain")
		return
	}
	liveChannel := ch.(*channel)

	limited := io.LimitReader(r.Body, s.opts.MaxBodyBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		writeTextError(w, http.StatusBadGateway, "failed to read request body")
		return
	}
	if int64(len(raw)) > s.opts.MaxBodyBytes {
		writeTextError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	headers = protocol.StripRequestHeaders(headers)

	body, isBase64 := protocol.EncodeBody(raw, r.Header.Get("Content-Type"))

	id := generateID()
	sink, err := s.pending.Register(id, liveChannel.id, s.opts.RequestTimeout)
	if err != nil {
		writeTextError(w, http.StatusBadGateway, "could not register request")
		return
	}

	scheme := "http"
	if s.opts.Secure {
		scheme = "https"
	}

	reqFrame := protocol.Frame{
		Type:            protocol.TypeRequest,
		ID:              id,
		Method:          r.Method,
		Path:            r.URL.RequestURI(),
		URL:             scheme + "://" + r.Host + r.URL.RequestURI(),
		Headers:         headers,
		Body:            body,
		IsBase64Encoded: isBase64,
	}
	frameBytes, err := protocol.Encode(reqFrame)
	if err != nil {
		writeTextError(w, http.StatusBadGateway, "failed to encode request")
		return
	}
	if err := liveChannel.writeMessage(frameBytes); err != nil {
		writeTextError(w, http.StatusBadGateway, "tunnel send failed")
		return
	}

	s.stats.IncRequests()
	s.stats.AddBytesIn(int64(len(raw)))

	respFrame := <-sink
	s.writeForwardedResponse(w, respFrame, len(raw))
}

func (s *Server) writeForwardedResponse(w http.ResponseWriter, frame protocol.Frame, requestBytes int) {
	if frame.Status == 0 {
		frame.Status = http.StatusBadGateway
	}

	raw, err := protocol.DecodeBody(frame.Body, frame.IsBase64Encoded)
	if err != nil {
		writeTextError(w, http.StatusBadGateway, "failed to decode tunnel response body")
		return
	}

	headers := protocol.StripResponseHeaders(frame.Headers, false)
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(frame.Status)
	_, _ = w.Write(raw)

	s.stats.AddBytesOut(int64(len(raw)))
	metrics.ObserveRequest(requestBytes, len(raw))
}

func firstHostLabel(host string) string {
	host = strings.ToLower(host)
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	idx := strings.IndexByte(host, '.')
	if idx < 0 {
		return ""
	}
	return host[:idx]
}

func writeJSONError(w http.ResponseWriter, status int, errMsg, subdomain, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":     errMsg,
		"subdomain": subdomain,
		"message":   message,
	})
}

func writeTextError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}
