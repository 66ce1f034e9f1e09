// Package wallet holds per-account balances, the funds-assurance check
// used to admit bidders, and the transfers that settle auctions.
package wallet

//go:generate mockgen -source=wallet.go -destination=mock_wallet.go -package=wallet

import (
	"context"

	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/Martin-Hayot/auction-house/pkg/utils"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is what the bidding room and settlement engine need from the wallet.
type Ledger interface {
	GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
	HasAssurance(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error)
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal, kind types.TransactionKind, reference string) (types.Transaction, error)
	// PrepareTransfer validates and builds a transfer without applying it,
	// for callers that apply it inside a wider atomic write.
	PrepareTransfer(from, to string, amount decimal.Decimal, kind types.TransactionKind, reference string) (types.Transaction, error)
}

// Store is the subset of the database used by the ledger.
type Store interface {
	GetWallet(ctx context.Context, ownerID string) (types.WalletAccount, error)
	ApplyTransaction(ctx context.Context, tx types.Transaction) (types.Transaction, error)
	ListTransactions(ctx context.Context, ownerID string) ([]types.Transaction, error)
}

type Service struct {
	store  Store
	logger *log.Logger
}

func New(store Store) *Service {
	return &Service{store: store, logger: log.WithPrefix("wallet")}
}

func (s *Service) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	w, err := s.store.GetWallet(ctx, accountID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to read balance")
	}
	return w.Balance, nil
}

func (s *Service) GetWallet(ctx context.Context, accountID string) (types.WalletAccount, error) {
	w, err := s.store.GetWallet(ctx, accountID)
	if err != nil {
		return types.WalletAccount{}, errors.Wrap(err, "failed to read wallet")
	}
	return w, nil
}

// HasAssurance reports whether the account holds at least amount.
func (s *Service) HasAssurance(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error) {
	balance, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return balance.GreaterThanOrEqual(amount), nil
}

func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (types.Transaction, error) {
	if !amount.IsPositive() {
		return types.Transaction{}, errors.Newf(errors.KindValidation, "deposit amount must be positive")
	}
	if err := utils.CheckScale("amount", amount); err != nil {
		return types.Transaction{}, err
	}
	tx, err := s.store.ApplyTransaction(ctx, types.Transaction{
		ID:          uuid.NewString(),
		Amount:      amount,
		RecipientID: accountID,
		Kind:        types.TxDeposit,
	})
	if err != nil {
		return types.Transaction{}, err
	}
	s.logger.Debug("deposit", "account", accountID, "amount", amount)
	return tx, nil
}

// Withdraw fails with a ledger conflict when the balance does not cover amount.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (types.Transaction, error) {
	if !amount.IsPositive() {
		return types.Transaction{}, errors.Newf(errors.KindValidation, "withdrawal amount must be positive")
	}
	if err := utils.CheckScale("amount", amount); err != nil {
		return types.Transaction{}, err
	}
	tx, err := s.store.ApplyTransaction(ctx, types.Transaction{
		ID:       uuid.NewString(),
		Amount:   amount,
		SenderID: accountID,
		Kind:     types.TxWithdrawal,
	})
	if err != nil {
		return types.Transaction{}, err
	}
	s.logger.Debug("withdrawal", "account", accountID, "amount", amount)
	return tx, nil
}

func (s *Service) PrepareTransfer(from, to string, amount decimal.Decimal, kind types.TransactionKind, reference string) (types.Transaction, error) {
	if from == "" || to == "" {
		return types.Transaction{}, errors.Newf(errors.KindValidation, "transfer needs a sender and a recipient")
	}
	if from == to {
		return types.Transaction{}, errors.Newf(errors.KindValidation, "cannot transfer to the same account")
	}
	if !amount.IsPositive() {
		return types.Transaction{}, errors.Newf(errors.KindValidation, "transfer amount must be positive")
	}
	if err := utils.CheckScale("amount", amount); err != nil {
		return types.Transaction{}, err
	}
	return types.Transaction{
		ID:          uuid.NewString(),
		Amount:      amount,
		SenderID:    from,
		RecipientID: to,
		Kind:        kind,
		Reference:   reference,
	}, nil
}

// Transfer moves amount from one account to another in a single ledger write.
func (s *Service) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, kind types.TransactionKind, reference string) (types.Transaction, error) {
	pending, err := s.PrepareTransfer(from, to, amount, kind, reference)
	if err != nil {
		return types.Transaction{}, err
	}
	tx, err := s.store.ApplyTransaction(ctx, pending)
	if err != nil {
		s.logger.Warn("transfer refused", "from", from, "to", to, "amount", amount, "err", err)
		return types.Transaction{}, err
	}
	return tx, nil
}

// ListTransactions returns every transaction the account sent or received, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID string) ([]types.Transaction, error) {
	txs, err := s.store.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transactions")
	}
	if txs == nil {
		txs = []types.Transaction{}
	}
	return txs, nil
}
