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

// Package protocol defines the wire format of the control channel between
// an edge server and a tunnel client: a discriminated JSON frame per
// message, plus the binary-body framing rules shared by both sides.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type discriminates a Frame's payload.
type Type string

const (
	TypeConnected Type = "connected"
	TypeReady     Type = "ready"
	TypeRegistered Type = "registered"
	TypeError     Type = "error"
	TypeRequest   Type = "request"
	TypeResponse  Type = "response"
	TypePing      Type = "ping"
	TypePong      Type = "pong"
)

// Frame is the union of every control-channel message. Only the fields
// relevant to Type are populated; Encode omits zero-value optional fields
// rather than emitting JSON null, and Decode tolerates unknown types so the
// protocol can grow forward-compatibly.
type Frame struct {
	Type Type `json:"type"`

	// ready / registered
	Subdomain string `json:"subdomain,omitempty"`

	// registered / request
	URL string `json:"url,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// request
	ID      string            `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// response
	Status int `json:"status,omitempty"`

	// request + response
	Body            string `json:"body,omitempty"`
	IsBase64Encoded bool   `json:"isBase64Encoded,omitempty"`
}

// Encode serializes a Frame to its wire JSON representation.
func Encode(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame type=%s: %w", f.Type, err)
	}
	return b, nil
}

// Decode parses a wire message into a Frame. It does not reject unknown
// Type values — callers should ignore those per the forward-compatibility
// rule and log at debug level.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// binaryContentTypePrefixes lists the content-type prefixes that force
// base64 framing of a body rather than passing it through as text.
var binaryContentTypePrefixes = []string{
	"application/octet-stream",
	"image/",
	"audio/",
	"video/",
	"application/pdf",
}

// IsBinaryContentType reports whether a content-type requires base64 framing.
func IsBinaryContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, prefix := range binaryContentTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// hopByHopRequestHeaders are stripped from a forwarded request before it is
// replayed against a local backend: the local HTTP stack reframes the
// connection itself.
var hopByHopRequestHeaders = map[string]struct{}{
	"host":              {},
	"connection":        {},
	"upgrade":           {},
	"content-length":    {},
}

// StripRequestHeaders removes the hop-by-hop/framing headers a tunnel
// client must not forward verbatim to its local backend (spec §4.1).
func StripRequestHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, skip := hopByHopRequestHeaders[strings.ToLower(k)]; skip {
			continue
		}
		out[strings.ToLower(k)] = v
	}
	return out
}

// responseHeadersToDrop are removed from a response before it is returned to
// the public caller: the body on the wire is already decoded and the new
// response reframes itself.
var responseHeadersToDrop = map[string]struct{}{
	"content-encoding":   {},
	"transfer-encoding":  {},
}

// StripResponseHeaders removes content-encoding/transfer-encoding (and, for
// the client's outbound response frame, connection) before the headers are
// sent onward.
func StripResponseHeaders(headers map[string]string, alsoDropConnection bool) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		if _, skip := responseHeadersToDrop[lk]; skip {
			continue
		}
		if alsoDropConnection && lk == "connection" {
			continue
		}
		out[lk] = v
	}
	return out
}
