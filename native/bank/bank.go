package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"rwastaking/core/events"
	"rwastaking/crypto"
	"rwastaking/storage"
)

// DefaultDenom is the reward token paid out by the staking pool.
const DefaultDenom = "OM"

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: invalid amount")
	ErrSelfTransfer        = errors.New("bank: sender and recipient must differ")
)

var balancePrefix = []byte("bank/balance/")

// Ledger tracks fungible token balances for a single denomination.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	denom   string
	emitter events.Emitter
}

// NewLedger returns a ledger for denom backed by db.
func NewLedger(db storage.Database, denom string) *Ledger {
	denom = strings.ToUpper(strings.TrimSpace(denom))
	if denom == "" {
		denom = DefaultDenom
	}
	return &Ledger{db: db, denom: denom, emitter: events.NoopEmitter{}}
}

// Denom returns the token symbol managed by the ledger.
func (l *Ledger) Denom() string { return l.denom }

// SetEmitter configures the event emitter. Passing nil disables events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

func (l *Ledger) balanceKey(addr crypto.Address) []byte {
	key := append([]byte(nil), balancePrefix...)
	key = append(key, l.denom...)
	key = append(key, '/')
	return append(key, addr[:]...)
}

func (l *Ledger) load(addr crypto.Address) (*uint256.Int, error) {
	raw, err := l.db.Get(l.balanceKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(raw, amount); err != nil {
		return nil, fmt.Errorf("bank: decode balance: %w", err)
	}
	out, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("bank: stored balance out of range")
	}
	return out, nil
}

func (l *Ledger) stage(batch *storage.Batch, addr crypto.Address, amount *uint256.Int) error {
	encoded, err := rlp.EncodeToBytes(amount.ToBig())
	if err != nil {
		return err
	}
	batch.Put(l.balanceKey(addr), encoded)
	return nil
}

// Balance returns the balance held by addr.
func (l *Ledger) Balance(addr crypto.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(addr)
}

// Mint credits newly issued tokens to addr.
func (l *Ledger) Mint(_ context.Context, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.load(to)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return fmt.Errorf("bank: balance overflow")
	}
	batch := storage.NewBatch()
	if err := l.stage(batch, to, next); err != nil {
		return err
	}
	if err := l.db.Write(batch); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Denom: l.denom, To: to, Amount: amount})
	return nil
}

// Transfer moves amount from one account to another in a single write. A zero
// amount is a successful no-op.
func (l *Ledger) Transfer(_ context.Context, from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	if from == to {
		return ErrSelfTransfer
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBal, err := l.load(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), amount.Dec())
	}
	toBal, err := l.load(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("bank: balance overflow")
	}
	batch := storage.NewBatch()
	if err := l.stage(batch, from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := l.stage(batch, to, credited); err != nil {
		return err
	}
	if err := l.db.Write(batch); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Denom: l.denom, From: from, To: to, Amount: amount})
	return nil
}
