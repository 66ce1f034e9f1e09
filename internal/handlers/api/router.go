// Package api is the REST surface: auction listing and administration,
// joining, wallets and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Martin-Hayot/auction-house/internal/auth"
	"github.com/Martin-Hayot/auction-house/internal/bidding"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Auctions interface {
	Create(ctx context.Context, spec types.NewAuction, sellerID string) (types.Auction, error)
	Approve(ctx context.Context, auctionID string) (types.Auction, error)
	Reject(ctx context.Context, auctionID, message string) (types.Auction, error)
	Update(ctx context.Context, auctionID, sellerID string, patch types.AuctionPatch) (types.Auction, error)
	Remove(ctx context.Context, auctionID, sellerID string, onRemoved func(types.Auction)) (types.Auction, error)
	Get(ctx context.Context, auctionID string) (types.Auction, error)
	List(ctx context.Context, filter types.AuctionFilter) ([]types.Auction, error)
	ListBids(ctx context.Context, auctionID string) ([]types.Bid, error)
	CreateCategory(ctx context.Context, name string) (types.Category, error)
	GetItem(ctx context.Context, itemID string) (types.Item, error)
}

type Wallets interface {
	GetWallet(ctx context.Context, accountID string) (types.WalletAccount, error)
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (types.Transaction, error)
	Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (types.Transaction, error)
	ListTransactions(ctx context.Context, accountID string) ([]types.Transaction, error)
}

type Rooms interface {
	Admit(ctx context.Context, auctionID, accountID string, member bidding.Member) (bidding.AdmitResult, error)
	Close(auctionID string) []bidding.Member
	OpenRooms() []string
}

// HealthFunc reports store statistics for /healthz.
type HealthFunc func() map[string]string

type Options struct {
	AllowCrossOrigin bool
	RequestTimeout   time.Duration
	// LiveHandler serves /ws/auction when set.
	LiveHandler http.Handler
}

type Server struct {
	auctions Auctions
	wallets  Wallets
	rooms    Rooms
	health   HealthFunc
	opts     Options
	logger   *log.Logger
}

func NewServer(auctions Auctions, wallets Wallets, rooms Rooms, health HealthFunc, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Server{
		auctions: auctions,
		wallets:  wallets,
		rooms:    rooms,
		health:   health,
		opts:     opts,
		logger:   log.WithPrefix("api"),
	}
}

// Router configures all routes. Everything under /api requires an
// authenticated caller.
func (s *Server) Router(authn auth.Authenticator) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))

	if s.opts.AllowCrossOrigin {
		config := cors.DefaultConfig()
		config.AllowOriginFunc = func(string) bool { return true }
		config.AllowCredentials = true
		router.Use(cors.New(config))
	}

	router.GET("/healthz", s.healthz)
	if s.opts.LiveHandler != nil {
		router.GET("/ws/auction", gin.WrapH(s.opts.LiveHandler))
	}

	api := router.Group("/api", Authenticate(authn))

	auctions := api.Group("/auctions")
	{
		auctions.GET("", s.listAuctions)
		auctions.GET("/:id", s.getAuction)
		auctions.GET("/:id/bids", s.listBids)
		auctions.POST("", RequireRole(types.RoleSeller), s.createAuction)
		auctions.PATCH("/:id", RequireRole(types.RoleSeller), s.updateAuction)
		auctions.DELETE("/:id", RequireRole(types.RoleSeller), s.removeAuction)
		auctions.POST("/:id/approve", RequireRole(types.RoleAdmin), s.approveAuction)
		auctions.POST("/:id/reject", RequireRole(types.RoleAdmin), s.rejectAuction)
		auctions.POST("/:id/join", RequireRole(types.RoleBuyer), s.joinAuction)
	}

	api.POST("/categories", RequireRole(types.RoleAdmin), s.createCategory)
	api.GET("/items/:id", s.getItem)

	wallet := api.Group("/wallet")
	{
		wallet.GET("", s.getWallet)
		wallet.GET("/transactions", s.listTransactions)
		wallet.POST("/deposit", s.deposit)
		wallet.POST("/withdraw", s.withdraw)
	}

	return router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
}

func (s *Server) healthz(c *gin.Context) {
	stats := map[string]string{"status": "up"}
	if s.health != nil {
		stats = s.health()
	}
	status := http.StatusOK
	if stats["status"] == "down" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"store":      stats,
		"open_rooms": len(s.rooms.OpenRooms()),
	})
}
