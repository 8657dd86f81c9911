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

// Package validate enforces the subdomain grammar shared by the edge
// server's ready/Host-header handling and the tunnel client's
// user-supplied subdomain flag.
package validate

import "regexp"

var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// IsValidSubdomain reports whether s is a legal subdomain label: lowercase,
// 1-63 characters, alphanumeric with internal hyphens only.
func IsValidSubdomain(s string) bool {
	return subdomainPattern.MatchString(s)
}
