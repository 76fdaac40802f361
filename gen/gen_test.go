package gen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceStartsAtOne(t *testing.T) {
	s := NewSource()
	require.Equal(t, Token(1), s.Current())
}

func TestNextAdvancesAndInvalidatesOld(t *testing.T) {
	s := NewSource()
	first := s.Current()
	require.True(t, s.Valid(first))

	second := s.Next()
	require.NotEqual(t, first, second)
	require.False(t, s.Valid(first))
	require.True(t, s.Valid(second))
	require.Equal(t, second, s.Current())
}

func TestConcurrentNextNeverRepeats(t *testing.T) {
	s := NewSource()
	const n = 100
	seen := make(chan Token, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			seen <- s.Next()
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	close(seen)

	unique := make(map[Token]struct{}, n)
	for tok := range seen {
		_, dup := unique[tok]
		require.False(t, dup, "token %d issued twice", tok)
		unique[tok] = struct{}{}
	}
	require.Len(t, unique, n)
}
