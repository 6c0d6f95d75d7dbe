package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
)

type countingSource struct {
	mu    sync.Mutex
	calls int
	list  []domain.InstrumentInfo
	err   error
}

func (s *countingSource) FetchInstruments(ctx context.Context) ([]domain.InstrumentInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.list, s.err
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestInstrumentCache_LookupsDoNotFetch(t *testing.T) {
	src := &countingSource{list: []domain.InstrumentInfo{{Symbol: "BTCUSDT", QuantityPrecision: 3}}}
	cache := NewInstrumentCache(src, zap.NewNop())
	require.NoError(t, cache.Refresh(context.Background()))
	assert.False(t, cache.RefreshedAt().IsZero())

	for i := 0; i < 5; i++ {
		info, err := cache.Instrument(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, int32(3), info.QuantityPrecision)
	}
	assert.Equal(t, 1, src.Calls())
}

func TestInstrumentCache_MissRefreshesOnce(t *testing.T) {
	src := &countingSource{}
	cache := NewInstrumentCache(src, zap.NewNop())

	_, err := cache.Instrument(context.Background(), "NEWUSDT")
	assert.ErrorIs(t, err, domain.ErrUnknownInstrument)
	assert.Equal(t, 1, src.Calls())

	src.mu.Lock()
	src.list = []domain.InstrumentInfo{{Symbol: "NEWUSDT", QuantityPrecision: 0}}
	src.mu.Unlock()

	_, err = cache.Instrument(context.Background(), "NEWUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, src.Calls())
}

func TestInstrumentCache_FailedRefreshKeepsSnapshot(t *testing.T) {
	src := &countingSource{list: []domain.InstrumentInfo{{Symbol: "BTCUSDT"}}}
	cache := NewInstrumentCache(src, zap.NewNop())
	require.NoError(t, cache.Refresh(context.Background()))

	src.mu.Lock()
	src.err = errors.New("exchange down")
	src.mu.Unlock()

	assert.Error(t, cache.Refresh(context.Background()))
	_, err := cache.Instrument(context.Background(), "BTCUSDT")
	assert.NoError(t, err)
}

func TestInstrumentCache_Run(t *testing.T) {
	src := &countingSource{}
	cache := NewInstrumentCache(src, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cache.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return src.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
