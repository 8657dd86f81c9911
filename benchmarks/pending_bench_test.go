//go:build !race
// +build !race

// Benchmarks avoid the race detector for performance consistency.
package benchmarks

import (
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/nimbletunnel/retunnel/internal/tunnel/pending"
	"github.com/nimbletunnel/retunnel/pkg/protocol"
)

// Benchmark_Pending_RegisterComplete_HotOwner measures the Register+Complete
// round trip for a single owner under a single shard's worth of contention.
func Benchmark_Pending_RegisterComplete_HotOwner(b *testing.B) {
	b.ReportAllocs()
	runtime.GOMAXPROCS(1)
	t := pending.New(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := "req-" + strconv.Itoa(i)
		sink, err := t.Register(id, "owner", time.Minute)
		if err != nil {
			b.Fatal(err)
		}
		t.Complete(id, protocol.Frame{Type: protocol.TypeResponse, ID: id, Status: 200})
		<-sink
	}
}

// Benchmark_Pending_RegisterComplete_Sharded measures the same round trip
// with the table's default shard count, the configuration the edge server
// actually runs with — this is the number the rendezvous-hash sharding
// exists to improve relative to the single-shard benchmark above.
func Benchmark_Pending_RegisterComplete_Sharded(b *testing.B) {
	b.ReportAllocs()
	runtime.GOMAXPROCS(1)
	t := pending.New(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := "req-" + strconv.Itoa(i)
		sink, err := t.Register(id, "owner", time.Minute)
		if err != nil {
			b.Fatal(err)
		}
		t.Complete(id, protocol.Frame{Type: protocol.TypeResponse, ID: id, Status: 200})
		<-sink
	}
}

// Benchmark_Pending_Register_ManyInFlight measures Register cost with a
// large number of entries already outstanding across shards, approximating
// a busy edge server with many concurrent forwarded requests.
func Benchmark_Pending_Register_ManyInFlight(b *testing.B) {
	b.ReportAllocs()
	runtime.GOMAXPROCS(1)
	t := pending.New(0)
	const K = 4096
	for i := 0; i < K; i++ {
		if _, err := t.Register("warm-"+strconv.Itoa(i), "owner", time.Minute); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := "req-" + strconv.Itoa(i)
		sink, err := t.Register(id, "owner", time.Minute)
		if err != nil {
			b.Fatal(err)
		}
		t.Complete(id, protocol.Frame{Type: protocol.TypeResponse, ID: id, Status: 200})
		<-sink
	}
}
