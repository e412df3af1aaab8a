package booking

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Wallet holds seller shipping balances. Reserve earmarks funds for an
// in-flight booking; Debit converts a reservation into a charge; Release
// returns reserved funds during compensation.
type Wallet interface {
	Reserve(ctx context.Context, tenantID, sellerID string, reservationID uuid.UUID, amount float64) error
	Debit(ctx context.Context, tenantID, sellerID string, reservationID uuid.UUID) error
	Release(ctx context.Context, tenantID, sellerID string, reservationID uuid.UUID) error
}

type walletAccount struct {
	balance      float64
	reservations map[uuid.UUID]float64
}

// MemoryWallet is an in-memory wallet. Production deployments swap in the
// billing platform's wallet client behind the same interface.
type MemoryWallet struct {
	mu       sync.Mutex
	accounts map[string]*walletAccount
}

// NewMemoryWallet creates an in-memory wallet
func NewMemoryWallet() *MemoryWallet {
	return &MemoryWallet{accounts: make(map[string]*walletAccount)}
}

func accountKey(tenantID, sellerID string) string {
	return tenantID + "|" + sellerID
}

// Credit adds funds to a seller account
func (w *MemoryWallet) Credit(tenantID, sellerID string, amount float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.account(tenantID, sellerID).balance += amount
}

// Balance returns the available (unreserved) balance
func (w *MemoryWallet) Balance(tenantID, sellerID string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.account(tenantID, sellerID).balance
}

// Reserve earmarks funds; fails when the available balance is insufficient
func (w *MemoryWallet) Reserve(ctx context.Context, tenantID, sellerID string, reservationID uuid.UUID, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	acct := w.account(tenantID, sellerID)
	if _, exists := acct.reservations[reservationID]; exists {
		return nil
	}
	if acct.balance < amount {
		return fmt.Errorf("insufficient balance for seller %s: have %.2f, need %.2f", sellerID, acct.balance, amount)
	}
	acct.balance -= amount
	acct.reservations[reservationID] = amount
	return nil
}

// Debit converts a reservation into a final charge
func (w *MemoryWallet) Debit(ctx context.Context, tenantID, sellerID string, reservationID uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	acct := w.account(tenantID, sellerID)
	if _, exists := acct.reservations[reservationID]; !exists {
		return fmt.Errorf("reservation %s not found", reservationID)
	}
	delete(acct.reservations, reservationID)
	return nil
}

// Release returns reserved funds to the balance. Releasing an unknown
// reservation is a no-op so compensation can retry safely.
func (w *MemoryWallet) Release(ctx context.Context, tenantID, sellerID string, reservationID uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	acct := w.account(tenantID, sellerID)
	amount, exists := acct.reservations[reservationID]
	if !exists {
		return nil
	}
	acct.balance += amount
	delete(acct.reservations, reservationID)
	return nil
}

func (w *MemoryWallet) account(tenantID, sellerID string) *walletAccount {
	key := accountKey(tenantID, sellerID)
	acct, ok := w.accounts[key]
	if !ok {
		acct = &walletAccount{reservations: make(map[uuid.UUID]float64)}
		w.accounts[key] = acct
	}
	return acct
}
