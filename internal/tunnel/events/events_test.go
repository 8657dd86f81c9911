// internal/tunnel/events/events_test.go
package events

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesEmittedEvent(t *testing.T) {
	e := NewEmitter()
	ch := e.Subscribe()

	e.Emit(Event{Kind: KindConnection, Subdomain: "acme"})

	select {
	case got := <-ch:
		require.Equal(t, KindConnection, got.Kind)
		require.Equal(t, "acme", got.Subdomain)
		require.False(t, got.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEmitDoesNotBlockOnFullSubscriber(t *testing.T) {
	e := NewEmitter()
	_ = e.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			e.Emit(Event{Kind: KindRequest})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full subscriber buffer")
	}
}

func TestAuditFileSinkWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/audit.jsonl"

	sink, err := NewAuditFileSink(path)
	require.NoError(t, err)

	e := NewEmitter()
	stop := make(chan struct{})
	go sink.Run(e.Subscribe(), stop)

	e.Emit(Event{Kind: KindConnected, Subdomain: "acme"})
	e.Emit(Event{Kind: KindDisconnected, Subdomain: "acme"})

	time.Sleep(150 * time.Millisecond)
	close(stop)
	time.Sleep(50 * time.Millisecond)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		lines = append(lines, ev)
	}
	require.Len(t, lines, 2)
	require.Equal(t, KindConnected, lines[0].Kind)
	require.Equal(t, KindDisconnected, lines[1].Kind)
}
