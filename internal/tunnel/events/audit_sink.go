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

package events

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// AuditFileSink appends every event it receives to a JSONL file. It is
// optional: an operator wires one up only when they want a durable record of
// connects/disconnects/requests beyond what the metrics surface reports.
type AuditFileSink struct {
	mu        sync.Mutex
	f         *os.File
	w         *bufio.Writer
	lastFlush time.Time
}

// NewAuditFileSink opens (or creates) path in append mode with a buffered
// writer. Call Close when done.
func NewAuditFileSink(path string) (*AuditFileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &AuditFileSink{
		f:         f,
		w:         bufio.NewWriterSize(f, 1<<16),
		lastFlush: time.Now(),
	}, nil
}

// Run writes every event received on ch until stop is closed.
func (s *AuditFileSink) Run(ch <-chan Event, stop <-chan struct{}) {
	for {
		select {
		case ev := <-ch:
			s.write(ev)
		case <-stop:
			_ = s.Close()
			return
		}
	}
}

func (s *AuditFileSink) write(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	if err := enc.Encode(&ev); err != nil {
		_ = s.w.Flush()
		_ = enc.Encode(&ev)
	}
	if time.Since(s.lastFlush) > 100*time.Millisecond {
		_ = s.w.Flush()
		s.lastFlush = time.Now()
	}
}

// Close flushes and closes the underlying file.
func (s *AuditFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}
