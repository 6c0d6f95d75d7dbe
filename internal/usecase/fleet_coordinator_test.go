package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
	"github.com/vitos/crypto_trade_grid/internal/usecase"
)

func newFleet(ex *FakeExchange, store *MemStore) *usecase.FleetCoordinator {
	engine := usecase.NewPositionLifecycleEngine(ex, store, &RecordingNotifier{}, zap.NewNop())
	return usecase.NewFleetCoordinator(ex, store, store, engine, 5*time.Millisecond, zap.NewNop())
}

func ethPair(store *MemStore, active bool) *domain.TradingPair {
	pair := &domain.TradingPair{
		Symbol:                  "ETHUSDT",
		StartPrice:              dec("3000"),
		GridLevelPercentage:     dec("0.5"),
		LongStopLossPercentage:  dec("1"),
		ShortStopLossPercentage: dec("1"),
		PositionNotional:        dec("50"),
		Active:                  active,
	}
	_ = store.SavePair(context.Background(), pair)
	return pair
}

func TestFleetCoordinator_RefusesWithoutHedgeMode(t *testing.T) {
	ex := NewFakeExchange()
	ex.Hedge = false
	ex.Prices = prices("50000")
	store := NewMemStore()
	pair := btcPair(store)
	fleet := newFleet(ex, store)

	err := fleet.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrHedgeModeDisabled)
	assert.Empty(t, fleet.ActiveSymbols())

	err = fleet.StartTrading(context.Background(), pair)
	assert.ErrorIs(t, err, domain.ErrHedgeModeDisabled)
	assert.Empty(t, fleet.ActiveSymbols())
}

func TestFleetCoordinator_HedgeCheckError(t *testing.T) {
	ex := NewFakeExchange()
	ex.HedgeErr = errors.New("unauthorized")
	store := NewMemStore()
	btcPair(store)
	fleet := newFleet(ex, store)

	require.Error(t, fleet.Start(context.Background()))
	assert.Empty(t, fleet.ActiveSymbols())
}

func TestFleetCoordinator_BootstrapsActivePairs(t *testing.T) {
	ex := NewFakeExchange()
	ex.Prices = prices("50000")
	store := NewMemStore()
	btcPair(store)
	ethPair(store, false)
	fleet := newFleet(ex, store)
	defer fleet.Shutdown()

	require.NoError(t, fleet.Start(context.Background()))
	assert.Equal(t, []string{"BTCUSDT"}, fleet.ActiveSymbols())
	assert.True(t, fleet.IsRunning("BTCUSDT"))
	assert.False(t, fleet.IsRunning("ETHUSDT"))

	ex.mu.Lock()
	subscribed := append([]string(nil), ex.Subscribed...)
	ex.mu.Unlock()
	assert.Equal(t, []string{"BTCUSDT"}, subscribed)
}

func TestFleetCoordinator_OneWorkerPerSymbol(t *testing.T) {
	ex := NewFakeExchange()
	ex.Prices = prices("50000")
	store := NewMemStore()
	pair := btcPair(store)
	fleet := newFleet(ex, store)
	defer fleet.Shutdown()
	require.NoError(t, fleet.Start(context.Background()))

	err := fleet.StartTrading(context.Background(), pair)
	assert.ErrorIs(t, err, domain.ErrWorkerAlreadyRunning)

	eth := ethPair(store, false)
	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fleet.StartTrading(context.Background(), eth) == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, fleet.ActiveSymbols())

	stored, err := store.GetPairBySymbol(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestFleetCoordinator_StartTradingValidates(t *testing.T) {
	ex := NewFakeExchange()
	store := NewMemStore()
	fleet := newFleet(ex, store)
	require.NoError(t, fleet.Start(context.Background()))

	pair := &domain.TradingPair{Symbol: "XRPUSDT"}
	err := fleet.StartTrading(context.Background(), pair)
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, fleet.ActiveSymbols())
}

func TestFleetCoordinator_SoftStopClosesLocally(t *testing.T) {
	ex := NewFakeExchange()
	ex.Prices = prices("50000")
	store := NewMemStore()
	pair := btcPair(store)
	p1 := store.AddPosition(pair, domain.SideLong, "50000", "50500", "sl-1")
	p2 := store.AddPosition(pair, domain.SideShort, "50000", "49500", "sl-2")
	ex.LiveOrders["sl-1"] = struct{}{}
	ex.LiveOrders["sl-2"] = struct{}{}

	fleet := newFleet(ex, store)
	require.NoError(t, fleet.Start(context.Background()))

	result, err := fleet.StopTrading(context.Background(), "BTCUSDT", false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Closed)
	assert.Equal(t, 0, result.Failed)

	assert.Equal(t, domain.StatusClosed, store.Position(p1.ID).Status)
	assert.Equal(t, domain.StatusClosed, store.Position(p2.ID).Status)
	assert.Empty(t, ex.CloseCalls())
	assert.Empty(t, fleet.ActiveSymbols())

	stored, _ := store.GetPairBySymbol(context.Background(), "BTCUSDT")
	assert.False(t, stored.Active)
}

func TestFleetCoordinator_HardStopClosesOnExchange(t *testing.T) {
	ex := NewFakeExchange()
	ex.Prices = prices("50000")
	ex.CloseFill = dec("50010")
	store := NewMemStore()
	pair := btcPair(store)
	pos := store.AddPosition(pair, domain.SideLong, "50000", "50500", "sl-1")
	ex.LiveOrders["sl-1"] = struct{}{}

	fleet := newFleet(ex, store)
	require.NoError(t, fleet.Start(context.Background()))

	result, err := fleet.StopTrading(context.Background(), "BTCUSDT", true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Closed)

	got := store.Position(pos.ID)
	assert.Equal(t, domain.StatusClosed, got.Status)
	assert.True(t, got.EndPrice.Equal(dec("50010")))
	assert.Len(t, ex.CloseCalls(), 1)
}

func TestFleetCoordinator_HardStopFailureMarksError(t *testing.T) {
	ex := NewFakeExchange()
	ex.Prices = prices("50000")
	ex.CloseErr = errors.New("reduce only rejected")
	store := NewMemStore()
	pair := btcPair(store)
	pos := store.AddPosition(pair, domain.SideShort, "50000", "49500", "sl-1")
	ex.LiveOrders["sl-1"] = struct{}{}

	fleet := newFleet(ex, store)
	require.NoError(t, fleet.Start(context.Background()))

	result, err := fleet.StopTrading(context.Background(), "BTCUSDT", true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, domain.StatusError, store.Position(pos.ID).Status)
	assert.Len(t, ex.CloseCalls(), 1)
}

func TestFleetCoordinator_StopUnknownSymbol(t *testing.T) {
	fleet := newFleet(NewFakeExchange(), NewMemStore())
	_, err := fleet.StopTrading(context.Background(), "DOGEUSDT", true)
	assert.ErrorIs(t, err, domain.ErrWorkerNotRunning)
}

func TestFleetCoordinator_FatalWorkerIsDeregistered(t *testing.T) {
	ex := NewFakeExchange()
	ex.Prices = prices("1")
	store := NewMemStore()
	pair := &domain.TradingPair{
		Symbol:                  "PEPEUSDT",
		GridLevelPercentage:     dec("0.0000001"),
		LongStopLossPercentage:  dec("1"),
		ShortStopLossPercentage: dec("1"),
		PositionNotional:        dec("10"),
		Active:                  true,
		StartPrice:              decimal.Zero,
	}
	require.NoError(t, store.SavePair(context.Background(), pair))

	fleet := newFleet(ex, store)
	defer fleet.Shutdown()
	require.NoError(t, fleet.Start(context.Background()))

	require.Eventually(t, func() bool { return len(fleet.ActiveSymbols()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestFleetCoordinator_Shutdown(t *testing.T) {
	ex := NewFakeExchange()
	ex.Prices = prices("50000")
	store := NewMemStore()
	btcPair(store)
	ethPair(store, true)
	fleet := newFleet(ex, store)
	require.NoError(t, fleet.Start(context.Background()))
	require.Len(t, fleet.ActiveSymbols(), 2)

	done := make(chan struct{})
	go func() {
		fleet.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.Empty(t, fleet.ActiveSymbols())

	// pairs stay active for the next boot
	active, _ := store.ListActivePairs(context.Background())
	assert.Len(t, active, 2)
}
