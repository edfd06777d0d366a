/*

This file contains the asset ledger: per-asset balances and spending
allowances for every participant address. It plays the role the token
contracts play for the original system, so the position manager, the lending
pool and the swap venues all move funds through it. The whole book can be
snapshotted and restored, which is what makes a multi-step operation atomic.

*/

package ledger

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hush-protocol/hushlender/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAmount         = errors.New("ledger: amount must be positive")
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
)

var ledgerLogger = logger.GetForComponent("ledger")

// Ledger is the in-memory asset book. It is not safe for concurrent use; the
// execution model is one logical thread of control per transaction.
type Ledger struct {
	balances   map[common.Address]map[common.Address]sdkmath.Int // asset -> holder -> balance
	allowances map[common.Address]map[allowanceKey]sdkmath.Int   // asset -> (owner,spender) -> amount
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]sdkmath.Int),
		allowances: make(map[common.Address]map[allowanceKey]sdkmath.Int),
	}
}

// BalanceOf returns the holder's balance of the given asset. Unknown
// asset/holder pairs read as zero.
func (l *Ledger) BalanceOf(asset, holder common.Address) sdkmath.Int {
	holders, ok := l.balances[asset]
	if !ok {
		return sdkmath.ZeroInt()
	}
	balance, ok := holders[holder]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return balance
}

// Allowance returns the amount spender may move out of owner's balance.
func (l *Ledger) Allowance(asset, owner, spender common.Address) sdkmath.Int {
	keys, ok := l.allowances[asset]
	if !ok {
		return sdkmath.ZeroInt()
	}
	amount, ok := keys[allowanceKey{owner: owner, spender: spender}]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return amount
}

// Mint credits newly issued units of asset to the holder. Only the environment
// bootstrap and tests issue supply; protocol components never mint.
func (l *Ledger) Mint(asset, holder common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.credit(asset, holder, amount)
	return nil
}

// Transfer moves amount of asset from one holder to another.
func (l *Ledger) Transfer(asset, from, to common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	balance := l.BalanceOf(asset, from)
	if balance.LT(amount) {
		return fmt.Errorf("%w: asset %s holder %s has %s, needs %s",
			ErrInsufficientBalance, asset.Hex(), from.Hex(), balance, amount)
	}
	l.setBalance(asset, from, balance.Sub(amount))
	l.credit(asset, to, amount)
	return nil
}

// Approve sets the allowance spender may pull from owner. Overwrites any
// previous allowance, matching ERC20 approve semantics.
func (l *Ledger) Approve(asset, owner, spender common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	keys, ok := l.allowances[asset]
	if !ok {
		keys = make(map[allowanceKey]sdkmath.Int)
		l.allowances[asset] = keys
	}
	keys[allowanceKey{owner: owner, spender: spender}] = amount
	ledgerLogger.Debug().
		Str("asset", asset.Hex()).
		Str("owner", owner.Hex()).
		Str("spender", spender.Hex()).
		Str("amount", amount.String()).
		Msg("Allowance set")
	return nil
}

// TransferFrom moves amount of asset from owner to recipient on behalf of
// spender, consuming the spender's allowance. This is the pull path the
// lending pool and swap venues rely on.
func (l *Ledger) TransferFrom(asset, spender, owner, to common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	allowance := l.Allowance(asset, owner, spender)
	if allowance.LT(amount) {
		return fmt.Errorf("%w: spender %s allowed %s of asset %s, needs %s",
			ErrInsufficientAllowance, spender.Hex(), allowance, asset.Hex(), amount)
	}
	if err := l.Transfer(asset, owner, to, amount); err != nil {
		return err
	}
	l.allowances[asset][allowanceKey{owner: owner, spender: spender}] = allowance.Sub(amount)
	return nil
}

// Snapshot returns a deep copy of the entire book. Restoring it undoes every
// balance and allowance change made since, which is the sole rollback
// mechanism for multi-step operations.
func (l *Ledger) Snapshot() *Ledger {
	snap := New()
	for asset, holders := range l.balances {
		copied := make(map[common.Address]sdkmath.Int, len(holders))
		for holder, balance := range holders {
			copied[holder] = balance
		}
		snap.balances[asset] = copied
	}
	for asset, keys := range l.allowances {
		copied := make(map[allowanceKey]sdkmath.Int, len(keys))
		for key, amount := range keys {
			copied[key] = amount
		}
		snap.allowances[asset] = copied
	}
	return snap
}

// Restore replaces the book's contents with a previously taken snapshot.
func (l *Ledger) Restore(snap *Ledger) {
	if snap == nil {
		return
	}
	l.balances = snap.balances
	l.allowances = snap.allowances
}

func (l *Ledger) credit(asset, holder common.Address, amount sdkmath.Int) {
	holders, ok := l.balances[asset]
	if !ok {
		holders = make(map[common.Address]sdkmath.Int)
		l.balances[asset] = holders
	}
	balance, ok := holders[holder]
	if !ok {
		balance = sdkmath.ZeroInt()
	}
	holders[holder] = balance.Add(amount)
}

func (l *Ledger) setBalance(asset, holder common.Address, amount sdkmath.Int) {
	holders, ok := l.balances[asset]
	if !ok {
		holders = make(map[common.Address]sdkmath.Int)
		l.balances[asset] = holders
	}
	holders[holder] = amount
}
