package utils

import (
	"sync"
	"testing"

	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("auction-1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	require.Equal(t, 100, counter)
	require.Empty(t, km.locks, "locks should be released once unused")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	<-done
}

func TestChairCost(t *testing.T) {
	require.True(t, ChairCost(decimal.NewFromInt(100)).Equal(decimal.NewFromInt(25)))
	require.True(t, ChairCost(decimal.RequireFromString("10.50")).Equal(decimal.RequireFromString("2.625")))
	require.True(t, ChairCost(decimal.RequireFromString("10.0001")).Equal(decimal.RequireFromString("2.5001")))
}

func TestCheckScale(t *testing.T) {
	require.NoError(t, CheckScale("amount", decimal.RequireFromString("120.5")))
	require.NoError(t, CheckScale("amount", decimal.RequireFromString("0.0001")))
	require.NoError(t, CheckScale("amount", decimal.RequireFromString("7.500000")))
	err := CheckScale("amount", decimal.RequireFromString("7.00001"))
	require.ErrorIs(t, err, errors.ErrValidation)
	require.Contains(t, err.Error(), "amount")
}
