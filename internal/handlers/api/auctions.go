package api

import (
	"net/http"

	"github.com/Martin-Hayot/auction-house/internal/bidding"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/gin-gonic/gin"
)

type rejectRequest struct {
	Message string `json:"message"`
}

type categoryRequest struct {
	Name string `json:"name"`
}

// GET /api/auctions?status=&category=&seller=
func (s *Server) listAuctions(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	filter := types.AuctionFilter{
		CategoryID: c.Query("category"),
		SellerID:   c.Query("seller"),
	}
	if status := c.Query("status"); status != "" {
		st := types.AuctionStatus(status)
		filter.Status = &st
	}
	auctions, err := s.auctions.List(ctx, filter)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, auctions, "auctions retrieved")
}

func (s *Server) getAuction(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	auction, err := s.auctions.Get(ctx, c.Param("id"))
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, auction, "auction retrieved")
}

func (s *Server) listBids(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	id := c.Param("id")
	if _, err := s.auctions.Get(ctx, id); err != nil {
		JSONError(c, err)
		return
	}
	bids, err := s.auctions.ListBids(ctx, id)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, bids, "bids retrieved")
}

func (s *Server) createAuction(c *gin.Context) {
	var req types.NewAuction
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	auction, err := s.auctions.Create(ctx, req, identityOf(c).AccountID)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusCreated, auction, "auction created")
}

func (s *Server) updateAuction(c *gin.Context) {
	var patch types.AuctionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		bindError(c, err)
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	auction, err := s.auctions.Update(ctx, c.Param("id"), identityOf(c).AccountID, patch)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, auction, "auction updated, awaiting approval")
}

// removeAuction deletes a seller's auction. A live room is shut under the
// auction lock and its members are told the auction ended without a winner.
func (s *Server) removeAuction(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	removed, err := s.auctions.Remove(ctx, c.Param("id"), identityOf(c).AccountID, func(a types.Auction) {
		if members := s.rooms.Close(a.ID); len(members) > 0 {
			bidding.AnnounceClose(members, a.ID, nil)
		}
	})
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, removed, "auction removed")
}

func (s *Server) approveAuction(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	auction, err := s.auctions.Approve(ctx, c.Param("id"))
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, auction, "auction approved")
}

func (s *Server) rejectAuction(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	auction, err := s.auctions.Reject(ctx, c.Param("id"), req.Message)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, auction, "auction rejected")
}

// joinAuction admits the caller without a live connection; the websocket
// join attaches one later.
func (s *Server) joinAuction(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	res, err := s.rooms.Admit(ctx, c.Param("id"), identityOf(c).AccountID, nil)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, res.Joined, "ok")
}

func (s *Server) createCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	ctx, cancel := s.ctx(c)
	defer cancel()

	category, err := s.auctions.CreateCategory(ctx, req.Name)
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusCreated, category, "category created")
}

func (s *Server) getItem(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	item, err := s.auctions.GetItem(ctx, c.Param("id"))
	if err != nil {
		JSONError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, item, "item retrieved")
}
