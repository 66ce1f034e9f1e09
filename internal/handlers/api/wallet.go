package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) getWallet(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	account, err := s.wallets.GetWallet(ctx, identityOf(c).AccountID)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, account, "wallet retrieved")
}

func (s *Server) listTransactions(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	txs, err := s.wallets.ListTransactions(ctx, identityOf(c).AccountID)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, txs, "transactions retrieved")
}

func (s *Server) deposit(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	tx, err := s.wallets.Deposit(ctx, identityOf(c).AccountID, req.Amount)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusCreated, tx, "deposit recorded")
}

func (s *Server) withdraw(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	tx, err := s.wallets.Withdraw(ctx, identityOf(c).AccountID, req.Amount)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusCreated, tx, "withdrawal recorded")
}
