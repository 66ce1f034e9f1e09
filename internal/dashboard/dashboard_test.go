package dashboard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Martin-Hayot/auction-house/internal/database"
	"github.com/Martin-Hayot/auction-house/internal/registry"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	store := database.NewMemory()
	_, err := store.CreateCategory(context.Background(), types.Category{ID: "toys", Name: "Toys"})
	require.NoError(t, err)
	return registry.New(store)
}

func create(t *testing.T, reg *registry.Registry, title string) types.Auction {
	t.Helper()
	a, err := reg.Create(context.Background(), types.NewAuction{
		Title:      title,
		BasePrice:  decimal.NewFromInt(40),
		StartDate:  time.Now().Add(-time.Minute),
		CategoryID: "toys",
	}, "seller-1")
	require.NoError(t, err)
	return a
}

func TestTableShowsAuctions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newRegistry(t)

	live := create(t, reg, "Tin robot")
	_, err := reg.Approve(ctx, live.ID)
	require.NoError(t, err)
	require.True(t, reg.TransitionStatus(ctx, live.ID, types.StatusOnGoing))
	_, err = reg.PlaceBid(ctx, live.ID, "buyer-1", decimal.NewFromInt(55), time.Now())
	require.NoError(t, err)

	m := New(reg, &LogBuffer{})
	rows := m.table.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, live.ID, rows[0][0])
	require.Equal(t, "ongoing", rows[0][1])
	require.Equal(t, "55.00 by buyer-1", rows[0][2])

	pending := create(t, reg, "Spinning top")
	updated, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)
	rows = updated.(Model).table.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, pending.ID, rows[1][0])
	require.Contains(t, updated.View(), "AUCTION ID")
}

func TestLogTab(t *testing.T) {
	t.Parallel()
	buf := &LogBuffer{}
	for i := 0; i < 20; i++ {
		_, err := fmt.Fprintf(buf, "INFO line %d\n", i)
		require.NoError(t, err)
	}

	m := New(newRegistry(t), buf)
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	view := updated.View()
	require.Contains(t, view, "line 19")
	require.NotContains(t, view, "line 4")

	updated, cmd := updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.Equal(t, "Bye!\n", updated.View())
}
