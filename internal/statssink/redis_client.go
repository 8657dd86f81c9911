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

package statssink

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisEvaler adapts a *redis.Client to the Evaler interface.
type GoRedisEvaler struct {
	client *redis.Client
}

// NewGoRedisEvaler dials addr and returns an Evaler backed by it.
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// HSet implements Evaler.
func (g *GoRedisEvaler) HSet(ctx context.Context, key string, values ...interface{}) error {
	return g.client.HSet(ctx, key, values...).Err()
}

// Expire implements Evaler.
func (g *GoRedisEvaler) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return g.client.Expire(ctx, key, ttl).Err()
}

// Close releases the underlying connection pool.
func (g *GoRedisEvaler) Close() error {
	return g.client.Close()
}
