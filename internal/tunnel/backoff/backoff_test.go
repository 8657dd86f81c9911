// internal/tunnel/backoff/backoff_test.go
package backoff

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateBackoffBounds(t *testing.T) {
	for n := 0; n <= 10; n++ {
		d := Calculate(n)
		lower := exponential(n)
		upper := lower + MaxJitter
		require.GreaterOrEqual(t, d, lower, "n=%d", n)
		require.LessOrEqual(t, d, upper, "n=%d", n)
	}
}

func TestCalculateBackoffRespectsCeiling(t *testing.T) {
	d := Calculate(20)
	require.LessOrEqual(t, d, Ceiling+MaxJitter)
	require.GreaterOrEqual(t, d, Ceiling)
}

func TestCalculateBackoffNegativeAttemptClamped(t *testing.T) {
	d := Calculate(-5)
	require.GreaterOrEqual(t, d, Base)
	require.LessOrEqual(t, d, Base+MaxJitter)
}

func TestPolicyDeterministicWithSeededRand(t *testing.T) {
	p := Policy{Rand: rand.New(rand.NewSource(1))}
	d1 := p.Delay(3)
	p2 := Policy{Rand: rand.New(rand.NewSource(1))}
	d2 := p2.Delay(3)
	require.Equal(t, d1, d2)
}
