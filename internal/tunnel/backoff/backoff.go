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

// Package backoff computes the randomized exponential delay a tunnel
// client waits between reconnection attempts.
package backoff

import (
	"math/rand"
	"time"
)

const (
	// Base is the first doubling unit.
	Base = 1000 * time.Millisecond
	// Ceiling caps the exponential term before jitter is added.
	Ceiling = 30000 * time.Millisecond
	// MaxJitter is the additive uniform-random component.
	MaxJitter = 1000 * time.Millisecond
)

// Policy computes reconnect delays. The zero value is ready to use.
type Policy struct {
	// Rand is used for jitter; defaults to the package-level source when nil.
	Rand *rand.Rand
}

// Delay returns the delay to wait before reconnect attempt n (n>=0):
// min(Base*2^n, Ceiling) + uniform-random(0, MaxJitter).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := exponential(attempt)
	jitter := p.jitter()
	return exp + jitter
}

func exponential(attempt int) time.Duration {
	// Guard against overflow for pathologically large attempt counts; the
	// ceiling is reached well before this matters in practice.
	if attempt > 31 {
		return Ceiling
	}
	d := Base * time.Duration(1<<uint(attempt))
	if d > Ceiling || d <= 0 {
		return Ceiling
	}
	return d
}

func (p Policy) jitter() time.Duration {
	r := p.Rand
	if r == nil {
		return time.Duration(rand.Int63n(int64(MaxJitter) + 1))
	}
	return time.Duration(r.Int63n(int64(MaxJitter) + 1))
}

// Calculate is the free-function form used by the state machine and by
// tests that check the invariant in spec.md §8 without constructing a
// Policy value.
func Calculate(attempt int) time.Duration {
	return Policy{}.Delay(attempt)
}
