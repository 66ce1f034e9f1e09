package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Martin-Hayot/auction-house/internal/auth"
	"github.com/Martin-Hayot/auction-house/internal/bidding"
	"github.com/Martin-Hayot/auction-house/internal/database"
	"github.com/Martin-Hayot/auction-house/internal/events"
	"github.com/Martin-Hayot/auction-house/internal/registry"
	"github.com/Martin-Hayot/auction-house/internal/wallet"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var headerAuth = auth.AuthenticatorFunc(func(r *http.Request) (types.Identity, error) {
	id := r.Header.Get("X-Account")
	if id == "" {
		return types.Identity{}, errors.New(http.StatusUnauthorized, "missing session token cookie")
	}
	return types.Identity{AccountID: id, Role: types.Role(r.Header.Get("X-Role"))}, nil
})

type apiEnv struct {
	router *gin.Engine
	reg    *registry.Registry
	rooms  *bidding.Manager
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := database.NewMemory()
	_, err := store.CreateCategory(context.Background(), types.Category{ID: "books", Name: "Books"})
	require.NoError(t, err)

	reg := registry.New(store)
	ledger := wallet.New(store)
	rooms := bidding.NewManager(reg, ledger, events.NewLogPublisher(log.New(io.Discard)))
	t.Cleanup(rooms.CloseAll)

	server := NewServer(reg, ledger, rooms, store.Health, Options{})
	return &apiEnv{router: server.Router(headerAuth), reg: reg, rooms: rooms}
}

type envelope struct {
	Status  int             `json:"status"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *apiEnv) do(t *testing.T, method, path, account string, role types.Role, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set("X-Account", account)
		req.Header.Set("X-Role", string(role))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func (e *apiEnv) createAuction(t *testing.T, seller string, start time.Time) types.Auction {
	t.Helper()
	code, env := e.do(t, http.MethodPost, "/api/auctions", seller, types.RoleSeller, map[string]any{
		"title":     "First edition Dune",
		"basePrice": "100",
		"startDate": start.Format(time.RFC3339),
		"category":  "books",
		"item":      map[string]any{"name": "Dune", "description": "1965, Chilton"},
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var a types.Auction
	require.NoError(t, json.Unmarshal(env.Data, &a))
	return a
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	e := newAPIEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "open_rooms")
}

func TestCreateAuction(t *testing.T) {
	t.Parallel()
	e := newAPIEnv(t)

	a := e.createAuction(t, "seller-1", time.Now().Add(time.Hour))
	require.Equal(t, types.StatusPending, a.Status)
	require.Equal(t, "seller-1", a.SellerID)
	require.True(t, a.ChairCost.Equal(decimal.NewFromInt(25)))
	require.True(t, a.MinimumBidAllowed.Equal(decimal.NewFromInt(100)))

	tests := []struct {
		name    string
		account string
		role    types.Role
		body    map[string]any
		status  int
	}{
		{name: "anonymous", status: http.StatusUnauthorized, body: map[string]any{}},
		{name: "buyer", account: "buyer-1", role: types.RoleBuyer, status: http.StatusForbidden, body: map[string]any{}},
		{
			name: "zero base price", account: "seller-1", role: types.RoleSeller, status: http.StatusBadRequest,
			body: map[string]any{"title": "x", "basePrice": "0", "startDate": time.Now().Format(time.RFC3339), "category": "books"},
		},
		{
			name: "unknown category", account: "seller-1", role: types.RoleSeller, status: http.StatusBadRequest,
			body: map[string]any{"title": "x", "basePrice": "10", "startDate": time.Now().Format(time.RFC3339), "category": "cars"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := e.do(t, http.MethodPost, "/api/auctions", tc.account, tc.role, tc.body)
			require.Equal(t, tc.status, code)
		})
	}
}

func TestApproveAndReject(t *testing.T) {
	t.Parallel()
	e := newAPIEnv(t)
	a := e.createAuction(t, "seller-1", time.Now().Add(time.Hour))

	code, _ := e.do(t, http.MethodPost, "/api/auctions/"+a.ID+"/approve", "seller-1", types.RoleSeller, nil)
	require.Equal(t, http.StatusForbidden, code)

	code, env := e.do(t, http.MethodPost, "/api/auctions/"+a.ID+"/approve", "root", types.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code)
	var approved types.Auction
	require.NoError(t, json.Unmarshal(env.Data, &approved))
	require.Equal(t, types.StatusUpComing, approved.Status)
	require.NotNil(t, approved.EndDate)

	code, env = e.do(t, http.MethodPost, "/api/auctions/"+a.ID+"/approve", "root", types.RoleAdmin, nil)
	require.Equal(t, http.StatusConflict, code, env.Message)

	code, _ = e.do(t, http.MethodPost, "/api/auctions/missing/approve", "root", types.RoleAdmin, nil)
	require.Equal(t, http.StatusNotFound, code)

	other := e.createAuction(t, "seller-1", time.Now().Add(time.Hour))
	code, _ = e.do(t, http.MethodPost, "/api/auctions/"+other.ID+"/reject", "root", types.RoleAdmin, rejectRequest{})
	require.Equal(t, http.StatusBadRequest, code)
	code, env = e.do(t, http.MethodPost, "/api/auctions/"+other.ID+"/reject", "root", types.RoleAdmin, rejectRequest{Message: "no photos"})
	require.Equal(t, http.StatusOK, code)
	var denied types.Auction
	require.NoError(t, json.Unmarshal(env.Data, &denied))
	require.Equal(t, types.StatusDenied, denied.Status)
	require.Equal(t, "no photos", *denied.RejectionMessage)
}

func TestJoinAuction(t *testing.T) {
	t.Parallel()
	e := newAPIEnv(t)
	ctx := context.Background()
	a := e.createAuction(t, "seller-1", time.Now().Add(-time.Minute))
	join := "/api/auctions/" + a.ID + "/join"

	_, err := e.reg.Approve(ctx, a.ID)
	require.NoError(t, err)

	code, _ := e.do(t, http.MethodPost, "/api/wallet/deposit", "buyer-1", types.RoleBuyer, amountRequest{Amount: decimal.NewFromInt(20)})
	require.Equal(t, http.StatusCreated, code)

	code, env := e.do(t, http.MethodPost, join, "buyer-1", types.RoleBuyer, nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, string(errors.KindInsufficientFunds), env.Kind)

	code, _ = e.do(t, http.MethodPost, "/api/wallet/deposit", "buyer-1", types.RoleBuyer, amountRequest{Amount: decimal.NewFromInt(10)})
	require.Equal(t, http.StatusCreated, code)

	// Upcoming auctions cannot be joined yet.
	code, env = e.do(t, http.MethodPost, join, "buyer-1", types.RoleBuyer, nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, string(errors.KindNotJoinable), env.Kind)

	require.True(t, e.reg.TransitionStatus(ctx, a.ID, types.StatusOnGoing))
	require.NoError(t, e.rooms.Open(ctx, a.ID))

	code, env = e.do(t, http.MethodPost, join, "buyer-1", types.RoleBuyer, nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = e.do(t, http.MethodPost, join, "buyer-1", types.RoleBuyer, nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, string(errors.KindAlreadyJoined), env.Kind)

	code, env = e.do(t, http.MethodGet, "/api/auctions/"+a.ID, "buyer-1", types.RoleBuyer, nil)
	require.Equal(t, http.StatusOK, code)
	var got types.Auction
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, []string{"buyer-1"}, got.Bidders)
}

func TestRemoveAuction(t *testing.T) {
	t.Parallel()
	e := newAPIEnv(t)
	a := e.createAuction(t, "seller-1", time.Now().Add(time.Hour))

	code, _ := e.do(t, http.MethodDelete, "/api/auctions/"+a.ID, "seller-2", types.RoleSeller, nil)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodDelete, "/api/auctions/"+a.ID, "seller-1", types.RoleSeller, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, http.MethodGet, "/api/auctions/"+a.ID, "seller-1", types.RoleSeller, nil)
	require.Equal(t, http.StatusNotFound, code)
	code, _ = e.do(t, http.MethodGet, "/api/items/"+a.ItemID, "seller-1", types.RoleSeller, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestUpdateAuctionNeedsReapproval(t *testing.T) {
	t.Parallel()
	e := newAPIEnv(t)
	a := e.createAuction(t, "seller-1", time.Now().Add(time.Hour))
	_, err := e.reg.Approve(context.Background(), a.ID)
	require.NoError(t, err)

	code, env := e.do(t, http.MethodPatch, "/api/auctions/"+a.ID, "seller-1", types.RoleSeller, map[string]any{"basePrice": "200"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var updated types.Auction
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	require.Equal(t, types.StatusPending, updated.Status)
	require.True(t, updated.ChairCost.Equal(decimal.NewFromInt(50)))
	require.Nil(t, updated.EndDate)
}

func TestListAuctions(t *testing.T) {
	t.Parallel()
	e := newAPIEnv(t)
	a := e.createAuction(t, "seller-1", time.Now().Add(time.Hour))
	e.createAuction(t, "seller-2", time.Now().Add(time.Hour))
	_, err := e.reg.Approve(context.Background(), a.ID)
	require.NoError(t, err)

	code, env := e.do(t, http.MethodGet, "/api/auctions?status=upcoming", "buyer-1", types.RoleBuyer, nil)
	require.Equal(t, http.StatusOK, code)
	var list []types.Auction
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	require.Equal(t, a.ID, list[0].ID)

	code, _ = e.do(t, http.MethodGet, "/api/auctions?status=sold", "buyer-1", types.RoleBuyer, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, env = e.do(t, http.MethodGet, "/api/auctions/"+a.ID+"/bids", "buyer-1", types.RoleBuyer, nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, "[]", string(env.Data))
}

func TestWallet(t *testing.T) {
	t.Parallel()
	e := newAPIEnv(t)

	code, _ := e.do(t, http.MethodPost, "/api/wallet/deposit", "buyer-1", types.RoleBuyer, amountRequest{Amount: decimal.RequireFromString("0.00001")})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/api/wallet/deposit", "buyer-1", types.RoleBuyer, amountRequest{Amount: decimal.NewFromInt(50)})
	require.Equal(t, http.StatusCreated, code)

	code, env := e.do(t, http.MethodPost, "/api/wallet/withdraw", "buyer-1", types.RoleBuyer, amountRequest{Amount: decimal.NewFromInt(80)})
	require.Equal(t, http.StatusConflict, code, env.Message)

	code, _ = e.do(t, http.MethodPost, "/api/wallet/withdraw", "buyer-1", types.RoleBuyer, amountRequest{Amount: decimal.NewFromInt(30)})
	require.Equal(t, http.StatusCreated, code)

	code, env = e.do(t, http.MethodGet, "/api/wallet", "buyer-1", types.RoleBuyer, nil)
	require.Equal(t, http.StatusOK, code)
	var account types.WalletAccount
	require.NoError(t, json.Unmarshal(env.Data, &account))
	require.True(t, account.Balance.Equal(decimal.NewFromInt(20)))

	code, env = e.do(t, http.MethodGet, "/api/wallet/transactions", "buyer-1", types.RoleBuyer, nil)
	require.Equal(t, http.StatusOK, code)
	var txs []types.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &txs))
	require.Len(t, txs, 2)
	require.Equal(t, types.TxWithdrawal, txs[0].Kind)
}
