package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/viralboost/boostd/internal/backend"
	"github.com/viralboost/boostd/internal/eventbus"
	"github.com/viralboost/boostd/internal/querycache"
)

// Wallet is the user's balance summary.
type Wallet struct {
	Balance        float64 `json:"balance"`
	PendingBalance float64 `json:"pending_balance"`
	Currency       string  `json:"currency"`
}

// Transaction is one wallet ledger row.
type Transaction struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
}

// TransactionPage is one cached page of transactions.
type TransactionPage struct {
	Transactions []Transaction      `json:"transactions"`
	Pagination   backend.Pagination `json:"pagination"`
}

// Withdrawal is the backend's response to a withdrawal request.
type Withdrawal struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
	Status string  `json:"status"`
}

// WalletService exposes the wallet summary, the transaction ledger, and
// withdrawals.
type WalletService interface {
	GetWallet(ctx context.Context) (*Wallet, error)
	ListTransactions(ctx context.Context, page, limit int) (*TransactionPage, error)
	// Withdraw requests a payout. On success both the wallet summary and
	// the ledger go stale and refetch for active watchers.
	Withdraw(ctx context.Context, amount float64) (*Withdrawal, error)
}

type walletServiceImpl struct {
	cache  *querycache.Coordinator
	client *backend.Client
	events EventPublisher
	logger *slog.Logger

	mu           sync.Mutex
	lastBalance  float64
	balanceKnown bool
}

// NewWalletService creates a WalletService.
func NewWalletService(cache *querycache.Coordinator, client *backend.Client, events EventPublisher, logger *slog.Logger) WalletService {
	return &walletServiceImpl{cache: cache, client: client, events: events, logger: logger}
}

func (s *walletServiceImpl) GetWallet(ctx context.Context) (*Wallet, error) {
	fetch := func(fctx context.Context) (any, error) {
		data, err := s.client.Mutate(fctx, http.MethodGet, "/wallet", nil)
		if err != nil {
			return nil, err
		}
		var w Wallet
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding wallet: %w", err)
		}
		s.observeBalance(&w)
		return &w, nil
	}

	v, err := s.cache.Query(ctx, querycache.NewKey("wallet"), fetch, querycache.QueryOptions{})
	if err != nil {
		return nil, err
	}
	w, ok := v.(*Wallet)
	if !ok {
		return nil, fmt.Errorf("unexpected cache payload %T for wallet", v)
	}
	return w, nil
}

// observeBalance publishes a payment-received event when a refetched
// balance is higher than the last one seen. Payments arriving while the
// push stream is up come through it; this catches increases the daemon
// only sees by polling.
func (s *walletServiceImpl) observeBalance(w *Wallet) {
	s.mu.Lock()
	prev, known := s.lastBalance, s.balanceKnown
	s.lastBalance = w.Balance
	s.balanceKnown = true
	s.mu.Unlock()

	if known && w.Balance > prev {
		s.events.Publish(eventbus.EventPaymentReceived, map[string]string{
			"amount": fmt.Sprintf("%.2f", w.Balance-prev),
		})
	}
}

func (s *walletServiceImpl) ListTransactions(ctx context.Context, page, limit int) (*TransactionPage, error) {
	fetch := func(fctx context.Context) (any, error) {
		raw, err := s.client.List(fctx, "/transactions", backend.ListQuery{Page: page, Limit: limit})
		if err != nil {
			return nil, err
		}
		out := &TransactionPage{Transactions: make([]Transaction, 0, len(raw.Items)), Pagination: raw.Pagination}
		for _, item := range raw.Items {
			var tx Transaction
			if err := json.Unmarshal(item, &tx); err != nil {
				return nil, fmt.Errorf("decoding transaction record: %w", err)
			}
			out.Transactions = append(out.Transactions, tx)
		}
		return out, nil
	}

	v, err := s.cache.Query(ctx, querycache.NewKey("transactions", page, limit), fetch, querycache.QueryOptions{})
	if err != nil {
		return nil, err
	}
	txPage, ok := v.(*TransactionPage)
	if !ok {
		return nil, fmt.Errorf("unexpected cache payload %T for transactions", v)
	}
	return txPage, nil
}

func (s *walletServiceImpl) Withdraw(ctx context.Context, amount float64) (*Withdrawal, error) {
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}

	desc := querycache.Descriptor{
		Run: func(rctx context.Context, input any) (any, error) {
			data, err := s.client.Mutate(rctx, http.MethodPost, "/wallet/withdraw", input)
			if err != nil {
				return nil, err
			}
			var w Withdrawal
			if err := json.Unmarshal(data, &w); err != nil {
				return nil, fmt.Errorf("decoding withdrawal: %w", err)
			}
			return &w, nil
		},
		OnSuccess: []querycache.Effect{
			querycache.Invalidate(querycache.NewKey("wallet")),
			querycache.Invalidate(querycache.NewKey("transactions")),
		},
	}

	result, err := s.cache.Mutate(ctx, desc, map[string]float64{"amount": amount})
	if err != nil {
		return nil, err
	}
	withdrawal, ok := result.(*Withdrawal)
	if !ok {
		return nil, fmt.Errorf("unexpected mutation result %T for withdrawal", result)
	}

	s.events.Publish(eventbus.EventWithdrawalRequested, map[string]string{
		"withdrawal_id": withdrawal.ID,
		"amount":        fmt.Sprintf("%.2f", withdrawal.Amount),
	})
	return withdrawal, nil
}
