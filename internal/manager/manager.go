/*

This file contains the position manager: the single-owner facade over the
lending pool. It exposes the four basic position operations plus the flash
loan orchestrator, and implements the pool's flash loan callback. Every
mutating entry point is atomic: on any error the ledger and pool are restored
to their pre-call snapshots before the error is returned.

*/

package manager

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hush-protocol/hushlender/internal/ledger"
	"github.com/hush-protocol/hushlender/internal/lendpool"
	"github.com/hush-protocol/hushlender/internal/logger"
	"github.com/hush-protocol/hushlender/internal/swap"
	"github.com/hush-protocol/hushlender/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNotOwner           = errors.New("manager: caller is not the owner")
	ErrUntrustedCallback  = errors.New("manager: callback guard rejected caller or initiator")
	ErrExternalCallFailed = errors.New("manager: external call failed")
	ErrOperationActive    = errors.New("manager: flash loan already in flight")
	ErrNothingToWithdraw  = errors.New("manager: no receipt balance to withdraw")
)

var managerLogger = logger.GetForComponent("manager")

// phase tracks the flash loan state machine. Transitions are strictly
// sequential; any failure along the way lands back in phaseIdle via rollback.
type phase uint8

const (
	phaseIdle phase = iota
	phaseRequested
	phaseExecutingSwap
	phaseDepositingCollateral
	phaseAuthorizingRepayment
)

// LendingPool is the protocol surface the manager drives. Satisfied by
// *lendpool.Pool; tests substitute stubs for fault injection.
type LendingPool interface {
	Address() common.Address
	Supply(caller, asset common.Address, amount sdkmath.Int, onBehalfOf common.Address) error
	Withdraw(caller, asset common.Address, amount sdkmath.Int, to common.Address) (sdkmath.Int, error)
	Borrow(caller, asset common.Address, amount sdkmath.Int, mode lendpool.RateMode, referralCode uint16, onBehalfOf common.Address) error
	Repay(caller, asset common.Address, amount sdkmath.Int, mode lendpool.RateMode, onBehalfOf common.Address) (sdkmath.Int, error)
	FlashLoanSimple(caller common.Address, receiver lendpool.FlashLoanReceiver, receiverAddr, asset common.Address, amount sdkmath.Int, params []byte, referralCode uint16) error
	ReceiptBalance(asset, user common.Address) sdkmath.Int
	DebtBalances(asset, user common.Address) (stable, variable sdkmath.Int)
	TakeSnapshot() *lendpool.Snapshot
	Restore(snap *lendpool.Snapshot)
}

// ReceiptSink records operation outcomes for auditing. Recording failures are
// logged and never fail the operation itself.
type ReceiptSink interface {
	Record(receipt types.OperationReceipt) error
}

// PositionManager owns a leveraged position on behalf of exactly one owner
// address fixed at construction.
type PositionManager struct {
	owner           common.Address
	self            common.Address
	collateralAsset common.Address
	pool            LendingPool
	book            *ledger.Ledger
	venues          *swap.Registry
	sink            ReceiptSink
	phase           phase
}

// New constructs a manager. The collateral asset designates which token the
// flash loan callback deposits after the swap leg; the swap output must land
// in it for leverage to build.
func New(owner, self, collateralAsset common.Address, pool LendingPool, book *ledger.Ledger, venues *swap.Registry) (*PositionManager, error) {
	if owner == (common.Address{}) {
		return nil, errors.New("manager: owner cannot be zero")
	}
	if self == (common.Address{}) {
		return nil, errors.New("manager: manager address cannot be zero")
	}
	if pool == nil {
		return nil, errors.New("manager: lending pool not configured")
	}
	if book == nil {
		return nil, errors.New("manager: ledger not configured")
	}
	if venues == nil {
		return nil, errors.New("manager: venue registry not configured")
	}
	return &PositionManager{
		owner:           owner,
		self:            self,
		collateralAsset: collateralAsset,
		pool:            pool,
		book:            book,
		venues:          venues,
		phase:           phaseIdle,
	}, nil
}

// SetReceiptSink attaches an optional audit sink.
func (m *PositionManager) SetReceiptSink(sink ReceiptSink) {
	m.sink = sink
}

// Address returns the manager's own ledger address.
func (m *PositionManager) Address() common.Address {
	return m.self
}

// Owner returns the owner address fixed at construction.
func (m *PositionManager) Owner() common.Address {
	return m.owner
}

// Deposit supplies amount of asset held by the manager into the pool,
// crediting the manager with receipt balance. Owner only.
func (m *PositionManager) Deposit(caller, asset common.Address, amount sdkmath.Int) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	err := m.atomically(func() error {
		if err := m.book.Approve(asset, m.self, m.pool.Address(), amount); err != nil {
			return err
		}
		return m.pool.Supply(m.self, asset, amount, m.self)
	})
	m.record(types.OpDeposit, asset, amount, err)
	return err
}

// Withdraw redeems the manager's entire receipt balance of asset back into a
// raw balance held by the manager, returning the withdrawn amount. Owner only.
func (m *PositionManager) Withdraw(caller, asset common.Address) (sdkmath.Int, error) {
	if err := m.requireOwner(caller); err != nil {
		return sdkmath.Int{}, err
	}
	balance := m.pool.ReceiptBalance(asset, m.self)
	if !balance.IsPositive() {
		m.record(types.OpWithdraw, asset, sdkmath.ZeroInt(), ErrNothingToWithdraw)
		return sdkmath.Int{}, ErrNothingToWithdraw
	}
	var withdrawn sdkmath.Int
	err := m.atomically(func() error {
		var innerErr error
		withdrawn, innerErr = m.pool.Withdraw(m.self, asset, balance, m.self)
		return innerErr
	})
	m.record(types.OpWithdraw, asset, balance, err)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return withdrawn, nil
}

// Borrow draws amount of asset from the pool at the stable rate against the
// manager's collateral. Owner only.
func (m *PositionManager) Borrow(caller, asset common.Address, amount sdkmath.Int) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	err := m.atomically(func() error {
		return m.pool.Borrow(m.self, asset, amount, lendpool.RateModeStable, 0, m.self)
	})
	m.record(types.OpBorrow, asset, amount, err)
	return err
}

// Repay pays down up to amount of the manager's stable debt in asset out of
// the manager's raw balance, returning the amount actually applied. Owner
// only.
func (m *PositionManager) Repay(caller, asset common.Address, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := m.requireOwner(caller); err != nil {
		return sdkmath.Int{}, err
	}
	var applied sdkmath.Int
	err := m.atomically(func() error {
		if err := m.book.Approve(asset, m.self, m.pool.Address(), amount); err != nil {
			return err
		}
		var innerErr error
		applied, innerErr = m.pool.Repay(m.self, asset, amount, lendpool.RateModeStable, m.self)
		if innerErr != nil {
			return innerErr
		}
		// The pool only pulls the capped amount; clear any residual allowance.
		if applied.LT(amount) {
			return m.book.Approve(asset, m.self, m.pool.Address(), sdkmath.ZeroInt())
		}
		return nil
	})
	m.record(types.OpRepay, asset, amount, err)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return applied, nil
}

// TakeFlashloan opens a leveraged position in one atomic step: flash-borrow
// amount of asset, execute the owner-supplied swap instruction, deposit the
// resulting collateral, borrow the owed amount against it and authorize the
// pool's repayment pull. Any failure restores the pre-call state. Owner only.
func (m *PositionManager) TakeFlashloan(caller, asset common.Address, amount sdkmath.Int, encodedInstruction []byte) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if m.phase != phaseIdle {
		return ErrOperationActive
	}
	// Fail malformed instructions before the loan is even requested.
	if _, err := swap.DecodeInstruction(encodedInstruction); err != nil {
		return err
	}
	m.phase = phaseRequested

	managerLogger.Info().
		Str("asset", asset.Hex()).
		Str("amount", amount.String()).
		Msg("Flash loan requested")

	err := m.atomically(func() error {
		return m.pool.FlashLoanSimple(m.self, m, m.self, asset, amount, encodedInstruction, 0)
	})
	m.phase = phaseIdle
	m.record(types.OpFlashloan, asset, amount, err)
	if err != nil {
		managerLogger.Warn().Err(err).Msg("Flash loan rolled back")
		return err
	}
	managerLogger.Info().Msg("Flash loan settled")
	return nil
}

// ExecuteOperation is the pool's flash loan callback. Only the trusted pool
// may call it, and only for loans the manager itself initiated; anything else
// is rejected before a single state change.
func (m *PositionManager) ExecuteOperation(caller, asset common.Address, amount, premium sdkmath.Int, initiator common.Address, params []byte) (bool, error) {
	if caller != m.pool.Address() || initiator != m.self {
		managerLogger.Warn().
			Str("caller", caller.Hex()).
			Str("initiator", initiator.Hex()).
			Msg("Callback guard rejected")
		return false, ErrUntrustedCallback
	}
	if m.phase != phaseRequested {
		return false, ErrOperationActive
	}

	instruction, err := swap.DecodeInstruction(params)
	if err != nil {
		return false, err
	}

	m.phase = phaseExecutingSwap
	// The venue pulls its input leg, so it needs an allowance for the
	// flash-borrowed principal.
	if err := m.book.Approve(asset, m.self, instruction.Target, amount); err != nil {
		return false, err
	}
	if err := m.venues.Call(m.self, instruction.Target, instruction.Calldata); err != nil {
		return false, errors.Join(ErrExternalCallFailed, err)
	}

	m.phase = phaseDepositingCollateral
	collateral := m.book.BalanceOf(m.collateralAsset, m.self)
	if !collateral.IsPositive() {
		return false, fmt.Errorf("%w: swap produced no collateral", ErrExternalCallFailed)
	}
	if err := m.book.Approve(m.collateralAsset, m.self, m.pool.Address(), collateral); err != nil {
		return false, err
	}
	if err := m.pool.Supply(m.self, m.collateralAsset, collateral, m.self); err != nil {
		return false, err
	}

	m.phase = phaseAuthorizingRepayment
	owed := amount.Add(premium)
	// Fund the repayment by drawing stable debt against the fresh collateral.
	if err := m.pool.Borrow(m.self, asset, owed, lendpool.RateModeStable, 0, m.self); err != nil {
		return false, err
	}
	if err := m.book.Approve(asset, m.self, m.pool.Address(), owed); err != nil {
		return false, err
	}

	managerLogger.Info().
		Str("asset", asset.Hex()).
		Str("collateral", collateral.String()).
		Str("owed", owed.String()).
		Msg("Flash loan callback completed")
	return true, nil
}

// GetAtokenBalance returns the manager's receipt balance for asset.
func (m *PositionManager) GetAtokenBalance(asset common.Address) sdkmath.Int {
	return m.pool.ReceiptBalance(asset, m.self)
}

// GetBalancesAndDebt returns the manager's full position view for asset.
func (m *PositionManager) GetBalancesAndDebt(asset common.Address) types.BalancesAndDebt {
	stable, variable := m.pool.DebtBalances(asset, m.self)
	return types.BalancesAndDebt{
		Balance:      m.pool.ReceiptBalance(asset, m.self),
		StableDebt:   stable,
		VariableDebt: variable,
	}
}

// atomically runs fn under ledger and pool snapshots, restoring both if fn
// returns an error.
func (m *PositionManager) atomically(fn func() error) error {
	bookSnap := m.book.Snapshot()
	poolSnap := m.pool.TakeSnapshot()
	if err := fn(); err != nil {
		m.book.Restore(bookSnap)
		m.pool.Restore(poolSnap)
		return err
	}
	return nil
}

func (m *PositionManager) requireOwner(caller common.Address) error {
	if caller != m.owner {
		managerLogger.Warn().Str("caller", caller.Hex()).Msg("Owner gate rejected")
		return ErrNotOwner
	}
	return nil
}

func (m *PositionManager) record(op types.OperationType, asset common.Address, amount sdkmath.Int, opErr error) {
	if m.sink == nil {
		return
	}
	receipt := types.OperationReceipt{
		Type:    op,
		Asset:   asset,
		Amount:  amount,
		Success: opErr == nil,
	}
	if opErr != nil {
		receipt.Message = opErr.Error()
	}
	if err := m.sink.Record(receipt); err != nil {
		managerLogger.Error().Err(err).Msg("Failed to record operation receipt")
	}
}
