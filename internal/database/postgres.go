package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/Martin-Hayot/auction-house/pkg/utils"
	"github.com/charmbracelet/log"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

type service struct {
	db *sql.DB
}

// NewPostgres opens a pgx-backed connection pool and applies the schema.
func NewPostgres(ctx context.Context, connStr string, maxOpenConns int) (Service, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error with migration: %w", err)
	}

	log.Info("Connected to database")
	return &service{db: db}, nil
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)
	stats["driver"] = "postgres"

	// Ping the database
	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Error("db down", "err", err)
		return stats
	}

	// Database is up, add more statistics
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	// Get database stats (like open connections, in use, idle, etc.)
	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()
	stats["max_idle_closed"] = strconv.FormatInt(dbStats.MaxIdleClosed, 10)
	stats["max_lifetime_closed"] = strconv.FormatInt(dbStats.MaxLifetimeClosed, 10)

	// Evaluate stats to provide a health message
	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}

	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	return fn(tx)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CATALOG

func (s *service) CreateCategory(ctx context.Context, category types.Category) (types.Category, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		category.ID, category.Name)
	if err != nil {
		return types.Category{}, fmt.Errorf("error creating category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Category{}, errors.Newf(errors.KindConflict, "category %s already exists", category.ID)
	}
	return category, nil
}

func (s *service) CategoryExists(ctx context.Context, categoryID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, categoryID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking category: %w", err)
	}
	return exists, nil
}

func (s *service) GetItem(ctx context.Context, itemID string) (types.Item, error) {
	var item types.Item
	err := s.db.QueryRowContext(ctx, `SELECT id, name, description FROM items WHERE id = $1`, itemID).
		Scan(&item.ID, &item.Name, &item.Description)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.Item{}, errors.Newf(errors.KindNotFound, "item %s not found", itemID)
	}
	if err != nil {
		return types.Item{}, fmt.Errorf("error getting item: %w", err)
	}
	return item, nil
}

// AUCTIONS

const auctionColumns = `
    a.id,
    a.title,
    a.base_price,
    a.minimum_bid_allowed,
    a.chair_cost,
    a.start_date,
    a.end_date,
    a.status,
    a.seller_id,
    a.category_id,
    a.item_id,
    a.winning_bidder_id,
    a.rejection_message,
    a.created_at,
    a.updated_at,
    (SELECT string_agg(b.bidder_id, ',' ORDER BY b.seq) FROM auction_bidders b WHERE b.auction_id = a.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (types.Auction, error) {
	var (
		a         types.Auction
		status    string
		endDate   sql.NullTime
		winner    sql.NullString
		rejection sql.NullString
		bidders   sql.NullString
	)
	err := row.Scan(
		&a.ID,
		&a.Title,
		&a.BasePrice,
		&a.MinimumBidAllowed,
		&a.ChairCost,
		&a.StartDate,
		&endDate,
		&status,
		&a.SellerID,
		&a.CategoryID,
		&a.ItemID,
		&winner,
		&rejection,
		&a.CreatedAt,
		&a.UpdatedAt,
		&bidders,
	)
	if err != nil {
		return types.Auction{}, err
	}
	a.Status = types.AuctionStatus(status)
	if endDate.Valid {
		t := endDate.Time
		a.EndDate = &t
	}
	if winner.Valid {
		w := winner.String
		a.WinningBidderID = &w
	}
	if rejection.Valid {
		r := rejection.String
		a.RejectionMessage = &r
	}
	a.Bidders = []string{}
	if bidders.Valid && bidders.String != "" {
		a.Bidders = strings.Split(bidders.String, ",")
	}
	return a, nil
}

func getAuction(ctx context.Context, q queryer, auctionID string) (types.Auction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions a WHERE a.id = $1`, auctionID)
	a, err := scanAuction(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.Auction{}, auctionNotFound(auctionID)
	}
	if err != nil {
		return types.Auction{}, fmt.Errorf("error getting auction by id: %w", err)
	}
	return a, nil
}

func (s *service) CreateAuction(ctx context.Context, auction types.Auction, item types.Item) (types.Auction, error) {
	if err := utils.CheckScale("basePrice", auction.BasePrice); err != nil {
		return types.Auction{}, err
	}
	var created types.Auction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, auction.CategoryID).Scan(&exists); err != nil {
			return fmt.Errorf("error checking category: %w", err)
		}
		if !exists {
			return errors.Newf(errors.KindNotFound, "category %s not found", auction.CategoryID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO items (id, name, description) VALUES ($1, $2, $3)`,
			item.ID, item.Name, item.Description); err != nil {
			return fmt.Errorf("error creating item: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO auctions (
                id, title, base_price, minimum_bid_allowed, chair_cost, start_date,
                status, seller_id, category_id, item_id
            ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			auction.ID,
			auction.Title,
			auction.BasePrice,
			auction.MinimumBidAllowed,
			auction.ChairCost,
			auction.StartDate,
			string(auction.Status),
			auction.SellerID,
			auction.CategoryID,
			item.ID,
		)
		if err != nil {
			return fmt.Errorf("error creating auction: %w", err)
		}
		created, err = getAuction(ctx, tx, auction.ID)
		return err
	})
	if err != nil {
		return types.Auction{}, err
	}
	return created, nil
}

func (s *service) GetAuction(ctx context.Context, auctionID string) (types.Auction, error) {
	return getAuction(ctx, s.db, auctionID)
}

func (s *service) ListAuctions(ctx context.Context, filter types.AuctionFilter) ([]types.Auction, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("a.status = $%d", len(args)))
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		conds = append(conds, fmt.Sprintf("a.category_id = $%d", len(args)))
	}
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		conds = append(conds, fmt.Sprintf("a.seller_id = $%d", len(args)))
	}
	query := `SELECT ` + auctionColumns + ` FROM auctions a`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY a.start_date ASC, a.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing auctions: %w", err)
	}
	defer rows.Close()

	auctions := []types.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over auctions: %w", err)
	}
	return auctions, nil
}

// explainMiss turns a conditional update that touched no row into NotFound
// or Conflict.
func explainMiss(ctx context.Context, q queryer, auctionID string, want string) error {
	a, err := getAuction(ctx, q, auctionID)
	if err != nil {
		return err
	}
	return errors.Newf(errors.KindConflict, "auction %s is %s, not %s", auctionID, a.Status, want)
}

func (s *service) ApproveAuction(ctx context.Context, auctionID string, endDate time.Time) (types.Auction, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE auctions SET status = $2, end_date = $3, updated_at = now()
        WHERE id = $1 AND status = $4`,
		auctionID, string(types.StatusUpComing), endDate, string(types.StatusPending))
	if err != nil {
		return types.Auction{}, fmt.Errorf("error approving auction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Auction{}, explainMiss(ctx, s.db, auctionID, string(types.StatusPending))
	}
	return getAuction(ctx, s.db, auctionID)
}

func (s *service) RejectAuction(ctx context.Context, auctionID, message string) (types.Auction, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE auctions SET status = $2, rejection_message = $3, updated_at = now()
        WHERE id = $1 AND status = $4`,
		auctionID, string(types.StatusDenied), message, string(types.StatusPending))
	if err != nil {
		return types.Auction{}, fmt.Errorf("error rejecting auction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Auction{}, explainMiss(ctx, s.db, auctionID, string(types.StatusPending))
	}
	return getAuction(ctx, s.db, auctionID)
}

func statusStrings(list []types.AuctionStatus) string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return strings.Join(out, ",")
}

func (s *service) ResetAuction(ctx context.Context, auction types.Auction, allowed []types.AuctionStatus) (types.Auction, error) {
	var updated types.Auction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			sellerID string
			status   string
		)
		err := tx.QueryRowContext(ctx, `SELECT seller_id, status FROM auctions WHERE id = $1 FOR UPDATE`, auction.ID).
			Scan(&sellerID, &status)
		if stderrors.Is(err, sql.ErrNoRows) || (err == nil && sellerID != auction.SellerID) {
			return errors.Newf(errors.KindNotFound, "auction %s not found for that seller", auction.ID)
		}
		if err != nil {
			return fmt.Errorf("error locking auction: %w", err)
		}
		if !containsStatus(allowed, types.AuctionStatus(status)) {
			return errors.Newf(errors.KindConflict, "auction %s is %s and can no longer be edited", auction.ID, status)
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, auction.CategoryID).Scan(&exists); err != nil {
			return fmt.Errorf("error checking category: %w", err)
		}
		if !exists {
			return errors.Newf(errors.KindNotFound, "category %s not found", auction.CategoryID)
		}
		_, err = tx.ExecContext(ctx, `
            UPDATE auctions SET
                title = $2, base_price = $3, minimum_bid_allowed = $4, chair_cost = $5,
                start_date = $6, category_id = $7, status = $8,
                end_date = NULL, rejection_message = NULL, updated_at = now()
            WHERE id = $1`,
			auction.ID,
			auction.Title,
			auction.BasePrice,
			auction.MinimumBidAllowed,
			auction.ChairCost,
			auction.StartDate,
			auction.CategoryID,
			string(types.StatusPending),
		)
		if err != nil {
			return fmt.Errorf("error updating auction: %w", err)
		}
		updated, err = getAuction(ctx, tx, auction.ID)
		return err
	})
	if err != nil {
		return types.Auction{}, err
	}
	return updated, nil
}

func (s *service) TransitionStatus(ctx context.Context, auctionID string, from []types.AuctionStatus, to types.AuctionStatus) (types.Auction, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE auctions SET status = $2, updated_at = now()
        WHERE id = $1 AND status = ANY (string_to_array($3, ','))`,
		auctionID, string(to), statusStrings(from))
	if err != nil {
		return types.Auction{}, fmt.Errorf("error updating auction status: %w", err)
	}
	a, err := getAuction(ctx, s.db, auctionID)
	if err != nil {
		return types.Auction{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 && a.Status != to {
		return types.Auction{}, errors.Newf(errors.KindConflict, "auction %s cannot move from %s to %s", auctionID, a.Status, to)
	}
	return a, nil
}

func (s *service) AddBidder(ctx context.Context, auctionID, bidderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO auction_bidders (auction_id, bidder_id)
        SELECT id, $2 FROM auctions WHERE id = $1
        ON CONFLICT (auction_id, bidder_id) DO NOTHING`,
		auctionID, bidderID)
	if err != nil {
		return false, fmt.Errorf("error appending bidder: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, auctionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking auction: %w", err)
	}
	if !exists {
		return false, auctionNotFound(auctionID)
	}
	return false, nil
}

func (s *service) DeleteAuction(ctx context.Context, auctionID, sellerID string) (types.Auction, error) {
	var removed types.Auction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getAuction(ctx, tx, auctionID)
		if err != nil || a.SellerID != sellerID {
			if err == nil || stderrors.Is(err, errors.ErrNotFound) {
				return errors.Newf(errors.KindNotFound, "auction %s not found for that seller", auctionID)
			}
			return err
		}
		removed = a
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE auction_id = $1`, auctionID); err != nil {
			return fmt.Errorf("error deleting jobs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM auctions WHERE id = $1`, auctionID); err != nil {
			return fmt.Errorf("error deleting auction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, a.ItemID); err != nil {
			return fmt.Errorf("error deleting item: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Auction{}, err
	}
	return removed, nil
}

// BIDS

// CreateBid refuses amounts NUMERIC(20,4) would round, so the floor
// comparison below sees exactly what gets stored.
func (s *service) CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error) {
	if err := utils.CheckScale("amount", bid.Amount); err != nil {
		return types.Bid{}, err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status    string
			basePrice decimal.Decimal
		)
		err := tx.QueryRowContext(ctx, `SELECT status, base_price FROM auctions WHERE id = $1 FOR UPDATE`, bid.AuctionID).
			Scan(&status, &basePrice)
		if stderrors.Is(err, sql.ErrNoRows) {
			return auctionNotFound(bid.AuctionID)
		}
		if err != nil {
			return fmt.Errorf("error getting auction by id in tx: %w", err)
		}
		if types.AuctionStatus(status) != types.StatusOnGoing {
			return errors.Newf(errors.KindNotJoinable, "auction %s is %s", bid.AuctionID, status)
		}

		var current decimal.NullDecimal
		if err := tx.QueryRowContext(ctx, `SELECT max(amount) FROM bids WHERE auction_id = $1`, bid.AuctionID).Scan(&current); err != nil {
			return fmt.Errorf("error reading highest bid: %w", err)
		}
		floor := basePrice
		if current.Valid {
			floor = current.Decimal
		}
		if !bid.Amount.GreaterThan(floor) {
			return bidTooLow(floor)
		}

		_, err = tx.ExecContext(ctx, `
            INSERT INTO bids (id, auction_id, bidder_id, amount, created_at)
            VALUES ($1, $2, $3, $4, $5)`,
			bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.CreatedAt)
		if err != nil {
			return fmt.Errorf("error creating bid in tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Bid{}, err
	}
	return bid, nil
}

func (s *service) ListBids(ctx context.Context, auctionID string) ([]types.Bid, error) {
	if _, err := getAuction(ctx, s.db, auctionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, auction_id, bidder_id, amount, created_at
        FROM bids WHERE auction_id = $1
        ORDER BY created_at ASC, seq ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("error listing bids: %w", err)
	}
	defer rows.Close()

	bids := []types.Bid{}
	for rows.Next() {
		var b types.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bids: %w", err)
	}
	return bids, nil
}

func (s *service) HighestBid(ctx context.Context, auctionID string) (*types.Bid, error) {
	if _, err := getAuction(ctx, s.db, auctionID); err != nil {
		return nil, err
	}
	var b types.Bid
	err := s.db.QueryRowContext(ctx, `
        SELECT id, auction_id, bidder_id, amount, created_at
        FROM bids WHERE auction_id = $1
        ORDER BY amount DESC, created_at ASC, seq ASC
        LIMIT 1`, auctionID).
		Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting highest bid: %w", err)
	}
	return &b, nil
}

// WALLETS

func (s *service) GetWallet(ctx context.Context, ownerID string) (types.WalletAccount, error) {
	w := types.WalletAccount{OwnerID: ownerID, Balance: decimal.Zero}
	err := s.db.QueryRowContext(ctx, `SELECT balance, updated_at FROM wallets WHERE owner_id = $1`, ownerID).
		Scan(&w.Balance, &w.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return w, nil
	}
	if err != nil {
		return types.WalletAccount{}, fmt.Errorf("error getting wallet: %w", err)
	}
	return w, nil
}

func applyTransaction(ctx context.Context, tx *sql.Tx, t types.Transaction) (types.Transaction, error) {
	if !t.Amount.IsPositive() {
		return types.Transaction{}, errors.Newf(errors.KindValidation, "transaction amount must be positive")
	}
	if err := utils.CheckScale("amount", t.Amount); err != nil {
		return types.Transaction{}, err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.SenderID != "" {
		res, err := tx.ExecContext(ctx, `
            UPDATE wallets SET balance = balance - $2, updated_at = now()
            WHERE owner_id = $1 AND balance >= $2`,
			t.SenderID, t.Amount)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("error debiting wallet: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Transaction{}, negativeBalance(t.SenderID)
		}
	}
	if t.RecipientID != "" {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO wallets (owner_id, balance) VALUES ($1, $2)
            ON CONFLICT (owner_id) DO UPDATE
            SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()`,
			t.RecipientID, t.Amount)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("error crediting wallet: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx, `
        INSERT INTO transactions (id, amount, sender_id, recipient_id, kind, reference, created_at)
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''), $7)`,
		t.ID, t.Amount, t.SenderID, t.RecipientID, string(t.Kind), t.Reference, t.CreatedAt)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("error recording transaction: %w", err)
	}
	return t, nil
}

func (s *service) ApplyTransaction(ctx context.Context, t types.Transaction) (types.Transaction, error) {
	var applied types.Transaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		applied, err = applyTransaction(ctx, tx, t)
		return err
	})
	if err != nil {
		return types.Transaction{}, err
	}
	return applied, nil
}

func (s *service) ListTransactions(ctx context.Context, ownerID string) ([]types.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, amount, COALESCE(sender_id, ''), COALESCE(recipient_id, ''), kind, COALESCE(reference, ''), created_at
        FROM transactions
        WHERE sender_id = $1 OR recipient_id = $1
        ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("error listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []types.Transaction
	for rows.Next() {
		var (
			t    types.Transaction
			kind string
		)
		if err := rows.Scan(&t.ID, &t.Amount, &t.SenderID, &t.RecipientID, &kind, &t.Reference, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning transaction: %w", err)
		}
		t.Kind = types.TransactionKind(kind)
		txs = append(txs, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over transactions: %w", err)
	}
	return txs, nil
}

// SETTLEMENT

func (s *service) SettleAuction(ctx context.Context, auctionID, winnerID string, t types.Transaction) (types.Auction, types.Transaction, error) {
	var (
		settled types.Auction
		applied types.Transaction
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE auctions SET winning_bidder_id = $2, updated_at = now()
            WHERE id = $1 AND status = $3 AND winning_bidder_id IS NULL`,
			auctionID, winnerID, string(types.StatusClosed))
		if err != nil {
			return fmt.Errorf("error recording winner: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			a, err := getAuction(ctx, tx, auctionID)
			if err != nil {
				return err
			}
			if a.WinningBidderID != nil {
				return errors.Newf(errors.KindAlreadySettled, "auction %s already settled", auctionID)
			}
			return errors.Newf(errors.KindConflict, "auction %s is %s, not closed", auctionID, a.Status)
		}
		applied, err = applyTransaction(ctx, tx, t)
		if err != nil {
			return err
		}
		settled, err = getAuction(ctx, tx, auctionID)
		return err
	})
	if err != nil {
		return types.Auction{}, types.Transaction{}, err
	}
	return settled, applied, nil
}

// JOBS

func (s *service) UpsertJob(ctx context.Context, job types.ScheduledJob) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO scheduled_jobs (auction_id, kind, fire_at) VALUES ($1, $2, $3)
        ON CONFLICT (auction_id, kind) DO UPDATE SET fire_at = EXCLUDED.fire_at`,
		job.AuctionID, string(job.Kind), job.FireAt)
	if err != nil {
		return fmt.Errorf("error saving job: %w", err)
	}
	return nil
}

func (s *service) DeleteJob(ctx context.Context, auctionID string, kind types.JobKind) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE auction_id = $1 AND kind = $2`, auctionID, string(kind))
	if err != nil {
		return fmt.Errorf("error deleting job: %w", err)
	}
	return nil
}

func (s *service) DeleteJobs(ctx context.Context, auctionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE auction_id = $1`, auctionID)
	if err != nil {
		return fmt.Errorf("error deleting jobs: %w", err)
	}
	return nil
}

func (s *service) ListJobs(ctx context.Context) ([]types.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT auction_id, kind, fire_at FROM scheduled_jobs ORDER BY fire_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("error listing jobs: %w", err)
	}
	defer rows.Close()

	jobs := []types.ScheduledJob{}
	for rows.Next() {
		var (
			j    types.ScheduledJob
			kind string
		)
		if err := rows.Scan(&j.AuctionID, &kind, &j.FireAt); err != nil {
			return nil, fmt.Errorf("error scanning job: %w", err)
		}
		j.Kind = types.JobKind(kind)
		jobs = append(jobs, j)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over jobs: %w", err)
	}
	return jobs, nil
}
