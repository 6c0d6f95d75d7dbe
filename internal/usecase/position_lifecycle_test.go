package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_grid/internal/domain"
	"github.com/vitos/crypto_trade_grid/internal/usecase"
)

func newEngine() (*usecase.PositionLifecycleEngine, *FakeExchange, *MemStore, *RecordingNotifier) {
	ex := NewFakeExchange()
	store := NewMemStore()
	notifier := &RecordingNotifier{}
	return usecase.NewPositionLifecycleEngine(ex, store, notifier, zap.NewNop()), ex, store, notifier
}

func TestProcessCrossing_FirstCrossingOpensTrend(t *testing.T) {
	engine, ex, store, notifier := newEngine()
	pair := btcPair(store)

	level, ok := usecase.FindCrossedLevel(pair.StartPrice, dec("500"), dec("49800"), dec("50200"))
	require.True(t, ok)
	require.True(t, level.Equal(dec("50000")))

	action, err := engine.ProcessCrossing(context.Background(), pair, usecase.Crossing{
		Price:        dec("50200"),
		Level:        level,
		PriceMovedUp: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionOpenTrend, action)

	calls := ex.OpenCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.SideLong, calls[0].Side)
	assert.True(t, calls[0].Entry.Equal(dec("50000")))
	assert.True(t, calls[0].TakeProfit.Equal(dec("50500")))

	open, _ := store.FindOpenPositions(context.Background(), pair.ID)
	require.Len(t, open, 1)
	assert.Equal(t, pair.ID, open[0].PairID)
	assert.NotEmpty(t, open[0].StopLossOrderID)

	opened, closed := notifier.Counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 0, closed)
}

func TestDecideAction_InsufficientBalanceOverridesEverything(t *testing.T) {
	engine, ex, store, _ := newEngine()
	pair := btcPair(store)
	ex.Balance = dec("99.99")

	action, err := engine.DecideAction(context.Background(), pair, dec("50000"), true, domain.LevelClosingResult{})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDoNothing, action)

	store.AddPosition(pair, domain.SideLong, "50000", "50500", "")
	action, err = engine.DecideAction(context.Background(), pair, dec("50000"), true, domain.LevelClosingResult{})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDoNothing, action)
}

func TestDecideAction_NoOpenPositionIsAlwaysTrend(t *testing.T) {
	engine, _, store, _ := newEngine()
	pair := btcPair(store)

	results := []domain.LevelClosingResult{
		{},
		{ClosedLong: 2},
		{ClosedShort: 1, Failed: 3},
	}
	for _, r := range results {
		action, err := engine.DecideAction(context.Background(), pair, dec("50000"), false, r)
		require.NoError(t, err)
		assert.Equal(t, domain.ActionOpenTrend, action)
	}
}

func TestDecideAction_Rules(t *testing.T) {
	tests := []struct {
		name     string
		existing []domain.Side // OPEN positions at level 50000
		movingUp bool
		result   domain.LevelClosingResult
		want     domain.AlgorithmAction
	}{
		{"trend open, nothing closed", []domain.Side{domain.SideLong}, true, domain.LevelClosingResult{}, domain.ActionOpenCounterTrend},
		{"short trend open, nothing closed", []domain.Side{domain.SideShort}, false, domain.LevelClosingResult{}, domain.ActionOpenCounterTrend},
		{"trend closed, none left at level", []domain.Side{domain.SideShort}, true, domain.LevelClosingResult{ClosedLong: 1}, domain.ActionOpenTrend},
		{"trend closed but still open at level", []domain.Side{domain.SideLong}, true, domain.LevelClosingResult{ClosedLong: 1}, domain.ActionDoNothing},
		{"only counter side closed", []domain.Side{domain.SideShort}, true, domain.LevelClosingResult{ClosedShort: 1}, domain.ActionDoNothing},
		{"only counter side open", []domain.Side{domain.SideShort}, true, domain.LevelClosingResult{}, domain.ActionDoNothing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _, store, _ := newEngine()
			pair := btcPair(store)
			for _, side := range tt.existing {
				store.AddPosition(pair, side, "50000", "0", "")
			}

			action, err := engine.DecideAction(context.Background(), pair, dec("50000"), tt.movingUp, tt.result)
			require.NoError(t, err)
			assert.Equal(t, tt.want, action)
		})
	}
}

func TestExecuteAction_TakeProfitTargets(t *testing.T) {
	engine, ex, store, _ := newEngine()
	pair := btcPair(store)
	ctx := context.Background()

	_, err := engine.ExecuteAction(ctx, pair, dec("50000"), false, domain.ActionOpenTrend)
	require.NoError(t, err)
	_, err = engine.ExecuteAction(ctx, pair, dec("50000"), true, domain.ActionOpenCounterTrend)
	require.NoError(t, err)
	_, err = engine.ExecuteAction(ctx, pair, dec("50000"), false, domain.ActionOpenCounterTrend)
	require.NoError(t, err)
	pos, err := engine.ExecuteAction(ctx, pair, dec("50000"), true, domain.ActionDoNothing)
	require.NoError(t, err)
	assert.Nil(t, pos)

	calls := ex.OpenCalls()
	require.Len(t, calls, 3)

	assert.Equal(t, domain.SideShort, calls[0].Side)
	assert.True(t, calls[0].TakeProfit.Equal(dec("49500")))

	assert.Equal(t, domain.SideShort, calls[1].Side)
	assert.True(t, calls[1].TakeProfit.Equal(dec("49500")))

	assert.Equal(t, domain.SideLong, calls[2].Side)
	assert.True(t, calls[2].TakeProfit.Equal(dec("50500")))
}

func TestProcessCrossing_TakeProfitThenTrend(t *testing.T) {
	engine, ex, store, notifier := newEngine()
	pair := btcPair(store)
	ctx := context.Background()

	ex.LiveOrders["sl-long"] = struct{}{}
	ex.LiveOrders["sl-short"] = struct{}{}
	long := store.AddPosition(pair, domain.SideLong, "49500", "50000", "sl-long")
	store.AddPosition(pair, domain.SideShort, "49000", "48500", "sl-short")

	prev := dec("49500")
	action, err := engine.ProcessCrossing(ctx, pair, usecase.Crossing{
		Price:         dec("50010"),
		Level:         dec("50000"),
		PreviousLevel: &prev,
		PriceMovedUp:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionOpenTrend, action)

	closedLong := store.Position(long.ID)
	assert.Equal(t, domain.StatusClosed, closedLong.Status)
	assert.True(t, closedLong.EndPrice.Equal(dec("50000")))
	assert.NotNil(t, closedLong.ClosedAt)

	calls := ex.OpenCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.SideLong, calls[0].Side)
	assert.True(t, calls[0].TakeProfit.Equal(dec("50500")))

	opened, closed := notifier.Counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestCloseTakeProfitEligible_FailureMarksError(t *testing.T) {
	engine, ex, store, _ := newEngine()
	pair := btcPair(store)
	ctx := context.Background()

	short := store.AddPosition(pair, domain.SideShort, "50500", "50000", "sl-1")
	ex.CloseErr = errors.New("boom")

	result, err := engine.CloseTakeProfitEligible(ctx, pair, dec("50000"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.TotalClosed())
	assert.Equal(t, domain.StatusError, store.Position(short.ID).Status)

	// an ERROR position is never picked up again
	result, err = engine.CloseTakeProfitEligible(ctx, pair, dec("50000"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, ex.CloseCalls(), 1)
}

func TestReconcileStopLossExecutions_ClosesOnce(t *testing.T) {
	engine, ex, store, notifier := newEngine()
	pair := btcPair(store)
	ctx := context.Background()

	ex.LiveOrders["sl-live"] = struct{}{}
	gone := store.AddPosition(pair, domain.SideLong, "50000", "50500", "sl-gone")
	live := store.AddPosition(pair, domain.SideLong, "49500", "50000", "sl-live")
	untracked := store.AddPosition(pair, domain.SideShort, "50000", "49500", "")

	closed, err := engine.ReconcileStopLossExecutions(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	got := store.Position(gone.ID)
	assert.Equal(t, domain.StatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, got.EndPrice.IsZero())
	assert.Equal(t, domain.StatusOpen, store.Position(live.ID).Status)
	assert.Equal(t, domain.StatusOpen, store.Position(untracked.ID).Status)

	saves := store.Saves()
	closed, err = engine.ReconcileStopLossExecutions(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
	assert.Equal(t, saves, store.Saves())

	_, notified := notifier.Counts()
	assert.Equal(t, 1, notified)
}

func TestExecuteAction_ImmediateTriggerForceCloses(t *testing.T) {
	engine, ex, store, notifier := newEngine()
	pair := btcPair(store)
	ex.Unprotected = true
	ex.CloseFill = dec("49950")

	pos, err := engine.ExecuteAction(context.Background(), pair, dec("50000"), true, domain.ActionOpenTrend)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.True(t, pos.EndPrice.Equal(dec("49950")))
	assert.NotNil(t, pos.ClosedAt)

	stored := store.Position(pos.ID)
	assert.Equal(t, domain.StatusClosed, stored.Status)
	assert.Empty(t, stored.StopLossOrderID)

	open, _ := store.FindOpenPositions(context.Background(), pair.ID)
	assert.Empty(t, open)

	opened, closed := notifier.Counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestExecuteAction_ForceCloseFailureMarksError(t *testing.T) {
	engine, ex, store, _ := newEngine()
	pair := btcPair(store)
	ex.Unprotected = true
	ex.CloseErr = &domain.ExchangeTransientError{Op: "close", Err: errors.New("timeout")}

	pos, err := engine.ExecuteAction(context.Background(), pair, dec("50000"), true, domain.ActionOpenTrend)
	require.Error(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.StatusError, store.Position(pos.ID).Status)
	// the entry is live on the exchange, the crossing must not be replayed
	assert.ErrorIs(t, err, domain.ErrEntryPlaced)
	assert.False(t, domain.IsTransient(err))
}

func TestProcessCrossing_PersistenceErrorAborts(t *testing.T) {
	engine, ex, store, _ := newEngine()
	pair := btcPair(store)
	store.SaveErr = errors.New("disk full")

	_, err := engine.ProcessCrossing(context.Background(), pair, usecase.Crossing{
		Price: dec("50600"), Level: dec("50500"), PriceMovedUp: true,
	})
	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)
	// the entry went out before the save failed
	assert.Len(t, ex.OpenCalls(), 1)
}

func TestProcessCrossing_OpenErrorIsReturned(t *testing.T) {
	engine, ex, store, _ := newEngine()
	pair := btcPair(store)
	ex.OpenErr = &domain.ExchangeRejectionError{Op: "entry", Code: -2019, Kind: domain.RejectionOther, Message: "margin is insufficient"}

	action, err := engine.ProcessCrossing(context.Background(), pair, usecase.Crossing{
		Price: dec("50600"), Level: dec("50500"), PriceMovedUp: true,
	})
	require.Error(t, err)
	assert.Equal(t, domain.ActionOpenTrend, action)
	assert.True(t, domain.IsRejection(err, domain.RejectionOther))
}

func TestCrossing_MovingUp(t *testing.T) {
	start := dec("50000")
	prev := dec("50500")

	tests := []struct {
		name string
		c    usecase.Crossing
		want bool
	}{
		{"above anchor", usecase.Crossing{Level: dec("50500")}, true},
		{"below anchor", usecase.Crossing{Level: dec("49500"), PriceMovedUp: true}, false},
		{"anchor itself rising", usecase.Crossing{Level: dec("50000"), PriceMovedUp: true}, true},
		{"anchor itself falling", usecase.Crossing{Level: dec("50000")}, false},
		{"back down to anchor", usecase.Crossing{Level: dec("50000"), PreviousLevel: &prev, PriceMovedUp: true}, false},
		{"up from previous", usecase.Crossing{Level: dec("51000"), PreviousLevel: &prev}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.MovingUp(start))
		})
	}
}

func TestExecuteAction_InvalidStep(t *testing.T) {
	engine, _, store, _ := newEngine()
	pair := btcPair(store)
	pair.GridLevelPercentage = decimal.Zero

	_, err := engine.ExecuteAction(context.Background(), pair, dec("50000"), true, domain.ActionOpenTrend)
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
