package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/Martin-Hayot/auction-house/internal/database"
	"github.com/Martin-Hayot/auction-house/internal/registry"
	"github.com/Martin-Hayot/auction-house/internal/wallet"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestWinner(t *testing.T) {
	t.Parallel()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	t3 := t2.Add(time.Second)

	tests := []struct {
		name string
		bids []types.Bid
		want string
	}{
		{name: "no bids", bids: nil, want: ""},
		{
			name: "earliest of equal highest wins",
			bids: []types.Bid{
				{BidderID: "A", Amount: decimal.NewFromInt(150), CreatedAt: t1},
				{BidderID: "B", Amount: decimal.NewFromInt(200), CreatedAt: t2},
				{BidderID: "C", Amount: decimal.NewFromInt(200), CreatedAt: t3},
			},
			want: "B",
		},
		{
			name: "order of the slice does not matter",
			bids: []types.Bid{
				{BidderID: "C", Amount: decimal.NewFromInt(200), CreatedAt: t3},
				{BidderID: "B", Amount: decimal.NewFromInt(200), CreatedAt: t2},
				{BidderID: "A", Amount: decimal.NewFromInt(150), CreatedAt: t1},
			},
			want: "B",
		},
		{
			name: "strictly highest wins",
			bids: []types.Bid{
				{BidderID: "A", Amount: decimal.NewFromInt(150), CreatedAt: t1},
				{BidderID: "B", Amount: decimal.RequireFromString("150.01"), CreatedAt: t3},
			},
			want: "B",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Winner(tc.bids)
			if tc.want == "" {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, tc.want, got.BidderID)
		})
	}
}

type fixture struct {
	store  *database.Memory
	reg    *registry.Registry
	ledger *wallet.Service
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := database.NewMemory()
	_, err := store.CreateCategory(context.Background(), types.Category{ID: "cars", Name: "Cars"})
	require.NoError(t, err)
	reg := registry.New(store)
	ledger := wallet.New(store)
	return &fixture{store: store, reg: reg, ledger: ledger, engine: New(reg, ledger)}
}

// closedAuction runs an auction through its lifecycle, placing bids while
// it is ongoing.
func (f *fixture) closedAuction(t *testing.T, bids map[string]int64, order []string) types.Auction {
	t.Helper()
	ctx := context.Background()
	a, err := f.reg.Create(ctx, types.NewAuction{
		Title:      "1967 Mustang",
		BasePrice:  decimal.NewFromInt(100),
		StartDate:  time.Now().Add(-time.Hour),
		CategoryID: "cars",
	}, "seller-1")
	require.NoError(t, err)
	_, err = f.reg.Approve(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, f.reg.TransitionStatus(ctx, a.ID, types.StatusOnGoing))

	at := time.Now()
	for i, bidder := range order {
		_, err := f.reg.PlaceBid(ctx, a.ID, bidder, decimal.NewFromInt(bids[bidder]), at.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	require.True(t, f.reg.TransitionStatus(ctx, a.ID, types.StatusClosed))
	return a
}

func TestSettleTransfersWinningAmountOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Deposit(ctx, "buyer-b", decimal.NewFromInt(500))
	require.NoError(t, err)
	a := f.closedAuction(t, map[string]int64{"buyer-a": 150, "buyer-b": 200}, []string{"buyer-a", "buyer-b"})

	first, err := f.engine.Settle(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, first.WinnerID)
	require.Equal(t, "buyer-b", *first.WinnerID)
	require.NotNil(t, first.Transaction)
	require.True(t, first.Transaction.Amount.Equal(decimal.NewFromInt(200)))
	require.Equal(t, types.TxSettlement, first.Transaction.Kind)

	second, err := f.engine.Settle(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, *first.WinnerID, *second.WinnerID)
	require.Nil(t, second.Transaction)

	buyer, err := f.ledger.GetBalance(ctx, "buyer-b")
	require.NoError(t, err)
	require.True(t, buyer.Equal(decimal.NewFromInt(300)))
	seller, err := f.ledger.GetBalance(ctx, "seller-1")
	require.NoError(t, err)
	require.True(t, seller.Equal(decimal.NewFromInt(200)))

	txs, err := f.ledger.ListTransactions(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)

	got, err := f.reg.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "buyer-b", *got.WinningBidderID)
}

func TestSettleWithoutBids(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.closedAuction(t, nil, nil)

	s, err := f.engine.Settle(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, s.WinnerID)

	got, err := f.reg.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, got.WinningBidderID)
	require.Equal(t, types.StatusClosed, got.Status)
}

func TestSettleRollsBackWhenWinnerCannotPay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Deposit(ctx, "buyer-a", decimal.NewFromInt(120))
	require.NoError(t, err)
	a := f.closedAuction(t, map[string]int64{"buyer-a": 150}, []string{"buyer-a"})

	_, err = f.engine.Settle(ctx, a.ID)
	require.ErrorIs(t, err, errors.ErrLedgerInconsistency)
	require.ErrorIs(t, err, errors.ErrConflict)

	got, err := f.reg.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, got.WinningBidderID)
	balance, err := f.ledger.GetBalance(ctx, "buyer-a")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(120)))

	// A later retry succeeds once the winner is funded.
	_, err = f.ledger.Deposit(ctx, "buyer-a", decimal.NewFromInt(100))
	require.NoError(t, err)
	s, err := f.engine.Settle(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "buyer-a", *s.WinnerID)
}

func TestRankedKeepsEachBiddersBestBid(t *testing.T) {
	t.Parallel()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ranked := Ranked([]types.Bid{
		{BidderID: "A", Amount: decimal.NewFromInt(110), CreatedAt: t1},
		{BidderID: "B", Amount: decimal.NewFromInt(120), CreatedAt: t1.Add(time.Second)},
		{BidderID: "A", Amount: decimal.NewFromInt(130), CreatedAt: t1.Add(2 * time.Second)},
	})
	require.Len(t, ranked, 2)
	require.Equal(t, "A", ranked[0].BidderID)
	require.True(t, ranked[0].Amount.Equal(decimal.NewFromInt(130)))
	require.Equal(t, "B", ranked[1].BidderID)
}

func TestSettleFallsBackToNextBidder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Deposit(ctx, "buyer-a", decimal.NewFromInt(500))
	require.NoError(t, err)
	_, err = f.ledger.Deposit(ctx, "buyer-b", decimal.NewFromInt(100))
	require.NoError(t, err)
	a := f.closedAuction(t, map[string]int64{"buyer-a": 150, "buyer-b": 200}, []string{"buyer-a", "buyer-b"})

	s, err := f.engine.Settle(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "buyer-a", *s.WinnerID)
	require.True(t, s.WinningBid.Amount.Equal(decimal.NewFromInt(150)))

	b, err := f.ledger.GetBalance(ctx, "buyer-b")
	require.NoError(t, err)
	require.True(t, b.Equal(decimal.NewFromInt(100)))
	seller, err := f.ledger.GetBalance(ctx, "seller-1")
	require.NoError(t, err)
	require.True(t, seller.Equal(decimal.NewFromInt(150)))

	again, err := f.engine.Settle(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "buyer-a", *again.WinnerID)
	require.True(t, again.WinningBid.Amount.Equal(decimal.NewFromInt(150)))
}

func TestSettleRequiresClosedAuction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.reg.Create(ctx, types.NewAuction{
		Title:      "1967 Mustang",
		BasePrice:  decimal.NewFromInt(100),
		StartDate:  time.Now(),
		CategoryID: "cars",
	}, "seller-1")
	require.NoError(t, err)

	_, err = f.engine.Settle(ctx, a.ID)
	require.ErrorIs(t, err, errors.ErrConflict)

	_, err = f.engine.Settle(ctx, "missing")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSettleUsesLedgerToBuildPayment(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t)
	ctx := context.Background()
	a := f.closedAuction(t, map[string]int64{"buyer-a": 150}, []string{"buyer-a"})

	ledger := wallet.NewMockLedger(ctrl)
	ledger.EXPECT().
		PrepareTransfer("buyer-a", "seller-1", gomock.Any(), types.TxSettlement, a.ID).
		Return(types.Transaction{}, errors.Newf(errors.KindValidation, "refused"))

	_, err := New(f.reg, ledger).Settle(ctx, a.ID)
	require.ErrorIs(t, err, errors.ErrValidation)
}
