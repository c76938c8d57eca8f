package blockchain

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGasSuggester struct {
	price *big.Int
	calls int
}

func (f *fakeGasSuggester) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	f.calls++
	return new(big.Int).Set(f.price), nil
}

func TestGasPricer_BufferApplied(t *testing.T) {
	suggester := &fakeGasSuggester{price: big.NewInt(100)}
	p := NewGasPricer(suggester, nil)

	price, err := p.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(110), price.Int64())
}

// TTL 内复用缓存，不重复询价
func TestGasPricer_CacheReused(t *testing.T) {
	suggester := &fakeGasSuggester{price: big.NewInt(100)}
	p := NewGasPricer(suggester, nil)
	ctx := context.Background()

	_, err := p.GasPrice(ctx)
	require.NoError(t, err)
	_, err = p.GasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, suggester.calls)

	p.Invalidate()
	_, err = p.GasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, suggester.calls)
}

func TestGasPricer_MaxExceeded(t *testing.T) {
	suggester := &fakeGasSuggester{price: big.NewInt(1000)}
	p := NewGasPricer(suggester, big.NewInt(1050))

	_, err := p.GasPrice(context.Background())
	assert.ErrorIs(t, err, ErrGasPriceTooHigh)
}
