package storage

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"eurovault/core/types"
	"eurovault/native/oracle"
	"eurovault/native/vault"
)

func openTestDB(t *testing.T) *Storage {
	t.Helper()
	store, err := Open(MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ")
	require.ErrorIs(t, err, ErrPathRequired)
}

func TestFeedStateRoundTrip(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	_, ok, err := store.LoadFeedState(ctx, "primary")
	require.NoError(t, err)
	require.False(t, ok)

	state := oracle.FeedState{
		LastValidPrice:  uint256.MustFromDecimal("1100000000000000000"),
		LastUpdateTime:  time.Unix(1_700_000_000, 0),
		LastUpdateBlock: 42,
	}
	require.NoError(t, store.SaveFeedState(ctx, "primary", state))

	record, ok, err := store.LoadFeedState(ctx, "primary")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, record.LastPrice.Cmp(state.LastValidPrice))
	require.True(t, record.LastUpdateTime.Equal(state.LastUpdateTime))
	require.Equal(t, uint64(42), record.LastUpdateBlock)

	// upsert replaces the previous row
	state.LastValidPrice = uint256.MustFromDecimal("1150000000000000000")
	state.LastUpdateBlock = 43
	require.NoError(t, store.SaveFeedState(ctx, "primary", state))

	record, ok, err = store.LoadFeedState(ctx, "primary")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(43), record.LastUpdateBlock)
	require.Zero(t, record.LastPrice.Cmp(state.LastValidPrice))
}

func TestSaveFeedStateRejectsIncomplete(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	require.Error(t, store.SaveFeedState(ctx, "  ", oracle.FeedState{LastValidPrice: uint256.NewInt(1)}))
	require.Error(t, store.SaveFeedState(ctx, "primary", oracle.FeedState{}))
}

func TestVaultStateRoundTrip(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	_, ok, err := store.LoadVaultState(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	state := vault.State{
		TotalCollateral:   big.NewInt(1_100_000_000),
		TotalIssued:       mustAmount(t, "1000000000000000000000"),
		AccruedMintFees:   mustAmount(t, "1000000000000000000"),
		AccruedRedeemFees: big.NewInt(1_098_900),
	}
	require.NoError(t, store.SaveVaultState(ctx, state))

	loaded, ok, err := store.LoadVaultState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, loaded.TotalCollateral.Cmp(state.TotalCollateral))
	require.Zero(t, loaded.TotalIssued.Cmp(state.TotalIssued))
	require.Zero(t, loaded.AccruedMintFees.Cmp(state.AccruedMintFees))
	require.Zero(t, loaded.AccruedRedeemFees.Cmp(state.AccruedRedeemFees))
}

func TestEventJournal(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	first := types.NewEvent("oracle.price.updated").Set("price", "1100000000000000000")
	second := types.NewEvent("vault.minted").Set("caller", "0xabc")
	require.NoError(t, store.AppendEvent(ctx, first))
	require.NoError(t, store.AppendEvent(ctx, second))

	all, err := store.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)

	minted, err := store.ListEvents(ctx, "vault.minted", 10)
	require.NoError(t, err)
	require.Len(t, minted, 1)
	require.Equal(t, "0xabc", minted[0].Attributes["caller"])
	require.NotEmpty(t, minted[0].ID)

	require.Error(t, store.AppendEvent(ctx, types.NewEvent("  ")))
}

func TestJournalEmitterWrites(t *testing.T) {
	store := openTestDB(t)
	journal := NewJournal(store, nil)
	journal.Emit(types.NewEvent("oracle.breaker.triggered").Set("backend", "primary"))

	events, err := store.ListEvents(context.Background(), "oracle.breaker.triggered", 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func mustAmount(t *testing.T, raw string) *big.Int {
	t.Helper()
	value, ok := new(big.Int).SetString(raw, 10)
	require.True(t, ok)
	return value
}
