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

package protocol

import "encoding/base64"

// EncodeBody frames raw bytes for the wire: base64 when the content-type is
// binary (see IsBinaryContentType), otherwise passed through as text.
func EncodeBody(raw []byte, contentType string) (body string, isBase64 bool) {
	if IsBinaryContentType(contentType) {
		return base64.StdEncoding.EncodeToString(raw), true
	}
	return string(raw), false
}

// DecodeBody reverses EncodeBody. isBase64 is authoritative regardless of
// content-type, per spec §4.1 — the receiver must not re-derive it.
func DecodeBody(body string, isBase64 bool) ([]byte, error) {
	if !isBase64 {
		return []byte(body), nil
	}
	return base64.StdEncoding.DecodeString(body)
}
