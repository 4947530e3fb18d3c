package gcobj

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFlagsStartsWithInitialBits(t *testing.T) {
	f := NewFlags(Unreachable | RootSet)
	require.True(t, f.Has(Unreachable))
	require.True(t, f.Has(RootSet))
	require.False(t, f.Has(Killable))
}

func TestHasOfZeroIsAlwaysFalse(t *testing.T) {
	f := NewFlags(Unreachable | RootSet | Killable)
	require.False(t, f.Has(0), "a zero mask must never read as present, even against a fully-set word")
}

func TestTrySetReportsOnlyTheWinningTransition(t *testing.T) {
	f := NewFlags(0)
	require.True(t, f.TrySet(Unreachable))
	require.False(t, f.TrySet(Unreachable), "a second TrySet on an already-set bit must report it lost the transition")
	require.True(t, f.Has(Unreachable))
}

func TestTryClearReportsOnlyTheWinningTransition(t *testing.T) {
	f := NewFlags(Unreachable)
	require.True(t, f.TryClear(Unreachable))
	require.False(t, f.TryClear(Unreachable))
	require.False(t, f.Has(Unreachable))
}

func TestSetAndClearAreIdempotent(t *testing.T) {
	f := NewFlags(0)
	f.Set(RootSet)
	f.Set(RootSet)
	require.True(t, f.Has(RootSet))

	f.Clear(RootSet)
	f.Clear(RootSet)
	require.False(t, f.Has(RootSet))
}

func TestConcurrentTrySetHasExactlyOneWinner(t *testing.T) {
	f := NewFlags(0)
	var wins sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 32; i++ {
		wins.Add(1)
		go func() {
			defer wins.Done()
			if f.TrySet(Destroyed) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wins.Wait()

	require.Equal(t, 1, winners)
	require.True(t, f.Has(Destroyed))
}
