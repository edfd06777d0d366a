/*

This file contains the lending pool collaborator: interest-bearing receipt
accounting, two debt classes, a collateralisation check and the simple flash
loan entry point with pull-based repayment. It is the in-process counterpart
of the protocol the position manager talks to; the manager never reaches into
its state directly.

*/

package lendpool

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hush-protocol/hushlender/internal/ledger"
	"github.com/hush-protocol/hushlender/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAmount          = errors.New("lendpool: amount must be positive")
	ErrInvalidRateMode        = errors.New("lendpool: unknown interest rate mode")
	ErrInsufficientBalance    = errors.New("lendpool: insufficient receipt balance")
	ErrInsufficientLiquidity  = errors.New("lendpool: insufficient reserve liquidity")
	ErrInsufficientCollateral = errors.New("lendpool: borrower collateralisation check failed")
	ErrNoDebtToRepay          = errors.New("lendpool: no outstanding debt to repay")
	ErrCallbackRejected       = errors.New("lendpool: flash loan receiver rejected the operation")
	ErrRepaymentShortfall     = errors.New("lendpool: flash loan repayment pull failed")
	ErrNilLedger              = errors.New("lendpool: ledger not configured")
	ErrNilOracle              = errors.New("lendpool: price oracle not configured")
	ErrZeroAddress            = errors.New("lendpool: pool address cannot be zero")
)

var poolLogger = logger.GetForComponent("lendpool")

const blocksPerYear = 31_536_000

// RateMode selects the debt class for borrow and repay operations.
type RateMode uint8

const (
	// RateModeStable accrues at the reserve borrow rate into the stable class.
	RateModeStable RateMode = 1
	// RateModeVariable accrues into the variable class.
	RateModeVariable RateMode = 2
)

// FlashLoanReceiver is implemented by contracts that take flash loans. The
// pool invokes ExecuteOperation after disbursing the principal; the receiver
// must return true and leave the pool an allowance covering amount + premium.
type FlashLoanReceiver interface {
	ExecuteOperation(caller, asset common.Address, amount, premium sdkmath.Int, initiator common.Address, params []byte) (bool, error)
}

// reserve holds the per-asset accounting state. Indexes are 18-decimal fixed
// point and start at one; balances are stored scaled by the index so interest
// accrues by index growth alone.
type reserve struct {
	liquidityIndex      sdkmath.LegacyDec
	borrowIndex         sdkmath.LegacyDec
	totalScaledSupply   sdkmath.Int
	totalScaledStable   sdkmath.Int
	totalScaledVariable sdkmath.Int
	lastUpdateBlock     uint64
}

// userReserve holds one user's scaled balances for one asset.
type userReserve struct {
	scaledSupply   sdkmath.Int
	scaledStable   sdkmath.Int
	scaledVariable sdkmath.Int
}

// Config groups the construction parameters for a pool.
type Config struct {
	// Address is the pool treasury; supplied liquidity sits on this ledger
	// account and repayments are pulled into it.
	Address common.Address
	// PremiumBps is the flash loan fee in basis points of the principal.
	PremiumBps uint64
	// MaxLTVBps is the maximum loan-to-value permitted on new borrows.
	MaxLTVBps uint64
	// LiquidationThresholdBps is the LTV bound enforced on collateral
	// withdrawals while debt is outstanding.
	LiquidationThresholdBps uint64
	// ReserveFactorBps is the share of borrow interest withheld from
	// suppliers.
	ReserveFactorBps uint64
	// Model shapes borrow rates; defaults to DefaultInterestModel.
	Model *InterestModel
	// Oracle quotes asset prices for the collateralisation check.
	Oracle PriceOracle
}

// Pool is the lending protocol collaborator.
type Pool struct {
	cfg         Config
	book        *ledger.Ledger
	blockHeight uint64
	reserves    map[common.Address]*reserve
	users       map[common.Address]map[common.Address]*userReserve // user -> asset
}

// New constructs a pool over the shared asset ledger.
func New(cfg Config, book *ledger.Ledger) (*Pool, error) {
	if book == nil {
		return nil, ErrNilLedger
	}
	if cfg.Oracle == nil {
		return nil, ErrNilOracle
	}
	if cfg.Address == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.PremiumBps > 10_000 || cfg.MaxLTVBps > 10_000 ||
		cfg.LiquidationThresholdBps > 10_000 || cfg.ReserveFactorBps > 10_000 {
		return nil, errors.New("lendpool: basis point parameter exceeds 10000")
	}
	if cfg.MaxLTVBps > cfg.LiquidationThresholdBps {
		return nil, errors.New("lendpool: max LTV exceeds liquidation threshold")
	}
	if cfg.Model == nil {
		cfg.Model = DefaultInterestModel()
	}
	return &Pool{
		cfg:      cfg,
		book:     book,
		reserves: make(map[common.Address]*reserve),
		users:    make(map[common.Address]map[common.Address]*userReserve),
	}, nil
}

// Address returns the pool treasury address.
func (p *Pool) Address() common.Address {
	return p.cfg.Address
}

// SetBlockHeight records the height used when computing accrual deltas.
func (p *Pool) SetBlockHeight(height uint64) {
	if p == nil {
		return
	}
	p.blockHeight = height
}

// Supply pulls amount of asset from the caller into the treasury and credits
// onBehalfOf with the corresponding receipt balance. The caller must have
// approved the pool beforehand.
func (p *Pool) Supply(caller, asset common.Address, amount sdkmath.Int, onBehalfOf common.Address) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	r := p.ensureReserve(asset)
	p.accrue(asset, r)

	if err := p.book.TransferFrom(asset, p.cfg.Address, caller, p.cfg.Address, amount); err != nil {
		return err
	}

	scaled := sdkmath.LegacyNewDecFromInt(amount).Quo(r.liquidityIndex).TruncateInt()
	if scaled.IsZero() {
		scaled = sdkmath.OneInt()
	}
	user := p.ensureUserReserve(onBehalfOf, asset)
	user.scaledSupply = user.scaledSupply.Add(scaled)
	r.totalScaledSupply = r.totalScaledSupply.Add(scaled)

	poolLogger.Info().
		Str("asset", asset.Hex()).
		Str("amount", amount.String()).
		Str("onBehalfOf", onBehalfOf.Hex()).
		Msg("Liquidity supplied")
	return nil
}

// Withdraw burns receipt balance of the caller and releases the underlying
// asset to the recipient. While debt is outstanding the remaining collateral
// must keep the position above the liquidation threshold.
func (p *Pool) Withdraw(caller, asset common.Address, amount sdkmath.Int, to common.Address) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.Int{}, ErrInvalidAmount
	}
	r := p.ensureReserve(asset)
	p.accrue(asset, r)

	user := p.ensureUserReserve(caller, asset)
	balance := r.liquidityIndex.MulInt(user.scaledSupply).TruncateInt()
	if balance.LT(amount) {
		return sdkmath.Int{}, fmt.Errorf("%w: has %s, wants %s", ErrInsufficientBalance, balance, amount)
	}

	if err := p.checkWithdrawHealth(caller, asset, amount); err != nil {
		return sdkmath.Int{}, err
	}

	liquidity := p.book.BalanceOf(asset, p.cfg.Address)
	if liquidity.LT(amount) {
		return sdkmath.Int{}, fmt.Errorf("%w: treasury holds %s, wants %s", ErrInsufficientLiquidity, liquidity, amount)
	}

	var scaledBurn sdkmath.Int
	if amount.Equal(balance) {
		scaledBurn = user.scaledSupply
	} else {
		scaledBurn = sdkmath.LegacyNewDecFromInt(amount).Quo(r.liquidityIndex).Ceil().TruncateInt()
		if scaledBurn.GT(user.scaledSupply) {
			scaledBurn = user.scaledSupply
		}
	}

	if err := p.book.Transfer(asset, p.cfg.Address, to, amount); err != nil {
		return sdkmath.Int{}, err
	}
	user.scaledSupply = user.scaledSupply.Sub(scaledBurn)
	r.totalScaledSupply = r.totalScaledSupply.Sub(scaledBurn)

	poolLogger.Info().
		Str("asset", asset.Hex()).
		Str("amount", amount.String()).
		Str("to", to.Hex()).
		Msg("Liquidity withdrawn")
	return amount, nil
}

// Borrow transfers amount of asset from the treasury to the caller and books
// the debt against onBehalfOf under the requested rate mode, subject to the
// pool's collateralisation check. The referral code is accepted for interface
// compatibility and only logged.
func (p *Pool) Borrow(caller, asset common.Address, amount sdkmath.Int, mode RateMode, referralCode uint16, onBehalfOf common.Address) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if mode != RateModeStable && mode != RateModeVariable {
		return ErrInvalidRateMode
	}
	r := p.ensureReserve(asset)
	p.accrue(asset, r)

	if err := p.checkBorrowHealth(onBehalfOf, asset, amount); err != nil {
		return err
	}

	liquidity := p.book.BalanceOf(asset, p.cfg.Address)
	if liquidity.LT(amount) {
		return fmt.Errorf("%w: treasury holds %s, wants %s", ErrInsufficientLiquidity, liquidity, amount)
	}

	if err := p.book.Transfer(asset, p.cfg.Address, caller, amount); err != nil {
		return err
	}

	scaled := sdkmath.LegacyNewDecFromInt(amount).Quo(r.borrowIndex).TruncateInt()
	if scaled.IsZero() {
		scaled = sdkmath.OneInt()
	}
	user := p.ensureUserReserve(onBehalfOf, asset)
	switch mode {
	case RateModeStable:
		user.scaledStable = user.scaledStable.Add(scaled)
		r.totalScaledStable = r.totalScaledStable.Add(scaled)
	case RateModeVariable:
		user.scaledVariable = user.scaledVariable.Add(scaled)
		r.totalScaledVariable = r.totalScaledVariable.Add(scaled)
	}

	poolLogger.Info().
		Str("asset", asset.Hex()).
		Str("amount", amount.String()).
		Uint8("rateMode", uint8(mode)).
		Uint16("referralCode", referralCode).
		Str("onBehalfOf", onBehalfOf.Hex()).
		Msg("Debt drawn")
	return nil
}

// Repay pulls up to amount of asset from the caller and reduces onBehalfOf's
// outstanding debt, the requested class first, then the other. The applied
// amount is capped at the outstanding debt and returned; debt never goes
// negative.
func (p *Pool) Repay(caller, asset common.Address, amount sdkmath.Int, mode RateMode, onBehalfOf common.Address) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.Int{}, ErrInvalidAmount
	}
	if mode != RateModeStable && mode != RateModeVariable {
		return sdkmath.Int{}, ErrInvalidRateMode
	}
	r := p.ensureReserve(asset)
	p.accrue(asset, r)

	user := p.ensureUserReserve(onBehalfOf, asset)
	stableDebt := r.borrowIndex.MulInt(user.scaledStable).TruncateInt()
	variableDebt := r.borrowIndex.MulInt(user.scaledVariable).TruncateInt()
	totalDebt := stableDebt.Add(variableDebt)
	if totalDebt.IsZero() {
		return sdkmath.Int{}, ErrNoDebtToRepay
	}

	applied := amount
	if applied.GT(totalDebt) {
		applied = totalDebt
	}

	if err := p.book.TransferFrom(asset, p.cfg.Address, caller, p.cfg.Address, applied); err != nil {
		return sdkmath.Int{}, err
	}

	first, second := stableDebt, variableDebt
	if mode == RateModeVariable {
		first, second = variableDebt, stableDebt
	}
	fromFirst := applied
	if fromFirst.GT(first) {
		fromFirst = first
	}
	fromSecond := applied.Sub(fromFirst)
	if fromSecond.GT(second) {
		fromSecond = second
	}
	if mode == RateModeStable {
		p.reduceDebt(r, user, fromFirst, fromSecond)
	} else {
		p.reduceDebt(r, user, fromSecond, fromFirst)
	}

	poolLogger.Info().
		Str("asset", asset.Hex()).
		Str("requested", amount.String()).
		Str("applied", applied.String()).
		Str("onBehalfOf", onBehalfOf.Hex()).
		Msg("Debt repaid")
	return applied, nil
}

// reduceDebt burns scaled stable and variable debt corresponding to the given
// face amounts, never below zero.
func (p *Pool) reduceDebt(r *reserve, user *userReserve, stableAmount, variableAmount sdkmath.Int) {
	if stableAmount.IsPositive() {
		scaled := sdkmath.LegacyNewDecFromInt(stableAmount).Quo(r.borrowIndex).Ceil().TruncateInt()
		if scaled.GT(user.scaledStable) {
			scaled = user.scaledStable
		}
		user.scaledStable = user.scaledStable.Sub(scaled)
		r.totalScaledStable = r.totalScaledStable.Sub(scaled)
	}
	if variableAmount.IsPositive() {
		scaled := sdkmath.LegacyNewDecFromInt(variableAmount).Quo(r.borrowIndex).Ceil().TruncateInt()
		if scaled.GT(user.scaledVariable) {
			scaled = user.scaledVariable
		}
		user.scaledVariable = user.scaledVariable.Sub(scaled)
		r.totalScaledVariable = r.totalScaledVariable.Sub(scaled)
	}
}

// FlashLoanSimple disburses amount of asset to the receiver, invokes its
// callback with the caller recorded as initiator, then pulls amount + premium
// back into the treasury. The pull is the sole repayment enforcement: if the
// receiver's balance or allowance cannot cover it, the operation fails and the
// caller is expected to discard every intermediate effect.
func (p *Pool) FlashLoanSimple(caller common.Address, receiver FlashLoanReceiver, receiverAddr, asset common.Address, amount sdkmath.Int, params []byte, referralCode uint16) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if receiver == nil {
		return errors.New("lendpool: flash loan receiver cannot be nil")
	}
	r := p.ensureReserve(asset)
	p.accrue(asset, r)

	premium := amount.MulRaw(int64(p.cfg.PremiumBps)).QuoRaw(10_000)
	owed := amount.Add(premium)

	liquidity := p.book.BalanceOf(asset, p.cfg.Address)
	if liquidity.LT(amount) {
		return fmt.Errorf("%w: treasury holds %s, flash loan wants %s", ErrInsufficientLiquidity, liquidity, amount)
	}

	if err := p.book.Transfer(asset, p.cfg.Address, receiverAddr, amount); err != nil {
		return err
	}

	poolLogger.Debug().
		Str("asset", asset.Hex()).
		Str("amount", amount.String()).
		Str("premium", premium.String()).
		Str("initiator", caller.Hex()).
		Uint16("referralCode", referralCode).
		Msg("Flash loan disbursed, invoking receiver")

	ok, err := receiver.ExecuteOperation(p.cfg.Address, asset, amount, premium, caller, params)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCallbackRejected
	}

	if err := p.book.TransferFrom(asset, p.cfg.Address, receiverAddr, p.cfg.Address, owed); err != nil {
		return errors.Join(ErrRepaymentShortfall, err)
	}

	poolLogger.Info().
		Str("asset", asset.Hex()).
		Str("principal", amount.String()).
		Str("premium", premium.String()).
		Msg("Flash loan repaid")
	return nil
}

// ReceiptBalance returns the user's interest-bearing receipt balance for the
// asset, projected to the current block without mutating reserve state.
func (p *Pool) ReceiptBalance(asset, user common.Address) sdkmath.Int {
	r, ok := p.reserves[asset]
	if !ok {
		return sdkmath.ZeroInt()
	}
	ur, ok := p.users[user][asset]
	if !ok {
		return sdkmath.ZeroInt()
	}
	liquidityIndex, _ := p.projectedIndexes(r)
	return liquidityIndex.MulInt(ur.scaledSupply).TruncateInt()
}

// DebtBalances returns the user's stable and variable debt for the asset,
// projected to the current block without mutating reserve state.
func (p *Pool) DebtBalances(asset, user common.Address) (stable, variable sdkmath.Int) {
	r, ok := p.reserves[asset]
	if !ok {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt()
	}
	ur, ok := p.users[user][asset]
	if !ok {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt()
	}
	_, borrowIndex := p.projectedIndexes(r)
	return borrowIndex.MulInt(ur.scaledStable).TruncateInt(),
		borrowIndex.MulInt(ur.scaledVariable).TruncateInt()
}

// Snapshot returns a deep copy of all reserve and user accounting state.
type Snapshot struct {
	reserves map[common.Address]*reserve
	users    map[common.Address]map[common.Address]*userReserve
}

// TakeSnapshot captures the pool's accounting state for later restore.
func (p *Pool) TakeSnapshot() *Snapshot {
	snap := &Snapshot{
		reserves: make(map[common.Address]*reserve, len(p.reserves)),
		users:    make(map[common.Address]map[common.Address]*userReserve, len(p.users)),
	}
	for asset, r := range p.reserves {
		copied := *r
		snap.reserves[asset] = &copied
	}
	for user, assets := range p.users {
		copied := make(map[common.Address]*userReserve, len(assets))
		for asset, ur := range assets {
			urCopy := *ur
			copied[asset] = &urCopy
		}
		snap.users[user] = copied
	}
	return snap
}

// Restore replaces the pool's accounting state with a snapshot.
func (p *Pool) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	p.reserves = snap.reserves
	p.users = snap.users
}

// checkBorrowHealth verifies that onBehalfOf's collateral supports the
// projected debt after borrowing amount of asset.
func (p *Pool) checkBorrowHealth(onBehalfOf, asset common.Address, amount sdkmath.Int) error {
	collateralValue, debtValue, err := p.positionValues(onBehalfOf)
	if err != nil {
		return err
	}
	price, err := p.cfg.Oracle.Price(asset)
	if err != nil {
		return err
	}
	projectedDebt := debtValue.Add(price.MulInt(amount))
	limit := collateralValue.MulInt64(int64(p.cfg.MaxLTVBps)).QuoInt64(10_000)
	if projectedDebt.GT(limit) {
		return fmt.Errorf("%w: borrow limit %s, projected debt %s",
			ErrInsufficientCollateral, limit, projectedDebt)
	}
	return nil
}

// checkWithdrawHealth verifies that removing amount of asset collateral keeps
// the position above the liquidation threshold while debt is outstanding.
func (p *Pool) checkWithdrawHealth(user, asset common.Address, amount sdkmath.Int) error {
	collateralValue, debtValue, err := p.positionValues(user)
	if err != nil {
		return err
	}
	if debtValue.IsZero() {
		return nil
	}
	price, err := p.cfg.Oracle.Price(asset)
	if err != nil {
		return err
	}
	remaining := collateralValue.Sub(price.MulInt(amount))
	if remaining.IsNegative() {
		remaining = sdkmath.LegacyZeroDec()
	}
	limit := remaining.MulInt64(int64(p.cfg.LiquidationThresholdBps)).QuoInt64(10_000)
	if debtValue.GT(limit) {
		return fmt.Errorf("%w: post-withdraw limit %s, debt %s",
			ErrInsufficientCollateral, limit, debtValue)
	}
	return nil
}

// positionValues sums the oracle-priced collateral and debt across all of the
// user's reserves.
func (p *Pool) positionValues(user common.Address) (collateral, debt sdkmath.LegacyDec, err error) {
	collateral = sdkmath.LegacyZeroDec()
	debt = sdkmath.LegacyZeroDec()
	assets, ok := p.users[user]
	if !ok {
		return collateral, debt, nil
	}
	for asset, ur := range assets {
		r := p.reserves[asset]
		if r == nil {
			continue
		}
		if ur.scaledSupply.IsZero() && ur.scaledStable.IsZero() && ur.scaledVariable.IsZero() {
			continue
		}
		price, priceErr := p.cfg.Oracle.Price(asset)
		if priceErr != nil {
			return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, priceErr
		}
		liquidityIndex, borrowIndex := p.projectedIndexes(r)
		supplied := liquidityIndex.MulInt(ur.scaledSupply).TruncateInt()
		owed := borrowIndex.MulInt(ur.scaledStable.Add(ur.scaledVariable)).TruncateInt()
		collateral = collateral.Add(price.MulInt(supplied))
		debt = debt.Add(price.MulInt(owed))
	}
	return collateral, debt, nil
}

// projectedIndexes computes the reserve indexes as of the current block
// without writing them back. Views use this so they never observe stale
// figures and never mutate.
func (p *Pool) projectedIndexes(r *reserve) (liquidityIndex, borrowIndex sdkmath.LegacyDec) {
	liquidityIndex = r.liquidityIndex
	borrowIndex = r.borrowIndex
	if p.blockHeight <= r.lastUpdateBlock {
		return liquidityIndex, borrowIndex
	}
	delta := p.blockHeight - r.lastUpdateBlock

	totalDebt := borrowIndex.MulInt(r.totalScaledStable.Add(r.totalScaledVariable)).TruncateInt()
	totalSupplied := liquidityIndex.MulInt(r.totalScaledSupply).TruncateInt()
	if totalDebt.IsZero() || totalSupplied.IsZero() {
		return liquidityIndex, borrowIndex
	}

	borrowAPR := p.cfg.Model.BorrowAPR(totalDebt, totalSupplied)
	supplyRate := p.cfg.Model.SupplyRate(totalDebt, totalSupplied, p.cfg.ReserveFactorBps)

	borrowFactor := sdkmath.LegacyOneDec().Add(
		borrowAPR.MulInt64(int64(delta)).QuoInt64(blocksPerYear))
	supplyFactor := sdkmath.LegacyOneDec().Add(
		supplyRate.MulInt64(int64(delta)).QuoInt64(blocksPerYear))

	return liquidityIndex.Mul(supplyFactor), borrowIndex.Mul(borrowFactor)
}

// accrue advances the reserve indexes to the current block.
func (p *Pool) accrue(asset common.Address, r *reserve) {
	liquidityIndex, borrowIndex := p.projectedIndexes(r)
	if !liquidityIndex.Equal(r.liquidityIndex) || !borrowIndex.Equal(r.borrowIndex) {
		poolLogger.Debug().
			Str("asset", asset.Hex()).
			Str("liquidityIndex", liquidityIndex.String()).
			Str("borrowIndex", borrowIndex.String()).
			Msg("Reserve indexes accrued")
	}
	r.liquidityIndex = liquidityIndex
	r.borrowIndex = borrowIndex
	if p.blockHeight > r.lastUpdateBlock {
		r.lastUpdateBlock = p.blockHeight
	}
}

func (p *Pool) ensureReserve(asset common.Address) *reserve {
	r, ok := p.reserves[asset]
	if !ok {
		r = &reserve{
			liquidityIndex:      sdkmath.LegacyOneDec(),
			borrowIndex:         sdkmath.LegacyOneDec(),
			totalScaledSupply:   sdkmath.ZeroInt(),
			totalScaledStable:   sdkmath.ZeroInt(),
			totalScaledVariable: sdkmath.ZeroInt(),
			lastUpdateBlock:     p.blockHeight,
		}
		p.reserves[asset] = r
	}
	return r
}

func (p *Pool) ensureUserReserve(user, asset common.Address) *userReserve {
	assets, ok := p.users[user]
	if !ok {
		assets = make(map[common.Address]*userReserve)
		p.users[user] = assets
	}
	ur, ok := assets[asset]
	if !ok {
		ur = &userReserve{
			scaledSupply:   sdkmath.ZeroInt(),
			scaledStable:   sdkmath.ZeroInt(),
			scaledVariable: sdkmath.ZeroInt(),
		}
		assets[asset] = ur
	}
	return ur
}
