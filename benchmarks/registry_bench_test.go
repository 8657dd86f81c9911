//go:build !race
// +build !race

// Benchmarks avoid the race detector for performance consistency.
package benchmarks

import (
	"runtime"
	"strconv"
	"testing"

	"github.com/nimbletunnel/retunnel/internal/tunnel/registry"
)

type benchChannel struct {
	id string
}

func (c *benchChannel) ID() string    { return c.id }
func (c *benchChannel) Closing() bool { return false }

// Benchmark_Registry_Pick_SingleChannel measures Pick cost when exactly one
// channel is bound to the subdomain (the common case: one tunnel client).
func Benchmark_Registry_Pick_SingleChannel(b *testing.B) {
	b.ReportAllocs()
	runtime.GOMAXPROCS(1)
	r := registry.New()
	r.Add("hot", &benchChannel{id: "ch-0"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Pick("hot")
	}
}

// Benchmark_Registry_Pick_RoundRobinFanout measures Pick cost across many
// channels bound to the same subdomain, the fan-out case the round-robin
// dispatch exists for.
func Benchmark_Registry_Pick_RoundRobinFanout(b *testing.B) {
	b.ReportAllocs()
	runtime.GOMAXPROCS(1)
	r := registry.New()
	const fanout = 32
	for i := 0; i < fanout; i++ {
		r.Add("hot", &benchChannel{id: "ch-" + strconv.Itoa(i)})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Pick("hot")
	}
}

// Benchmark_Registry_Pick_ManySubdomains measures Pick across many distinct
// subdomains, each with its own single channel (reduced lock contention per
// key relative to one hot subdomain, but still serialized under one mutex).
func Benchmark_Registry_Pick_ManySubdomains(b *testing.B) {
	b.ReportAllocs()
	runtime.GOMAXPROCS(1)
	r := registry.New()
	const K = 1024
	subs := make([]string, K)
	for i := 0; i < K; i++ {
		subs[i] = "sub-" + strconv.Itoa(i)
		r.Add(subs[i], &benchChannel{id: "ch-" + strconv.Itoa(i)})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Pick(subs[i&(K-1)])
	}
}
