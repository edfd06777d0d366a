package lendpool

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/hush-protocol/hushlender/internal/ledger"
)

var (
	poolDAI      = common.HexToAddress("0x00000000000000000000000000000000000d0a01")
	poolWETH     = common.HexToAddress("0x000000000000000000000000000000000000e702")
	poolAddr     = common.HexToAddress("0x0000000000000000000000000000000000900001")
	poolSupplier = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	poolBorrower = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	poolReceiver = common.HexToAddress("0x00000000000000000000000000000000000000a3")
)

func wholeTokens(amount int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(amount, 18)
}

func newTestPool(t *testing.T) (*Pool, *ledger.Ledger) {
	t.Helper()
	book := ledger.New()

	oracle := NewStaticOracle()
	oracle.SetPrice(poolDAI, sdkmath.LegacyOneDec())
	oracle.SetPrice(poolWETH, sdkmath.LegacyMustNewDecFromStr("1650"))

	pool, err := New(Config{
		Address:                 poolAddr,
		PremiumBps:              9,
		MaxLTVBps:               8000,
		LiquidationThresholdBps: 8500,
		ReserveFactorBps:        1000,
		Oracle:                  oracle,
	}, book)
	require.NoError(t, err)
	return pool, book
}

// supply mints the amount to the holder, approves the pool and supplies it.
func supply(t *testing.T, pool *Pool, book *ledger.Ledger, holder, asset common.Address, amount sdkmath.Int) {
	t.Helper()
	require.NoError(t, book.Mint(asset, holder, amount))
	require.NoError(t, book.Approve(asset, holder, poolAddr, amount))
	require.NoError(t, pool.Supply(holder, asset, amount, holder))
}

type stubFlashReceiver struct {
	onExecute func(caller, asset common.Address, amount, premium sdkmath.Int, initiator common.Address, params []byte) (bool, error)
}

func (s *stubFlashReceiver) ExecuteOperation(caller, asset common.Address, amount, premium sdkmath.Int, initiator common.Address, params []byte) (bool, error) {
	return s.onExecute(caller, asset, amount, premium, initiator, params)
}

func TestSupplyWithdrawRoundTrip(t *testing.T) {
	pool, book := newTestPool(t)
	amount := wholeTokens(10_000)
	supply(t, pool, book, poolSupplier, poolDAI, amount)

	require.Equal(t, amount, pool.ReceiptBalance(poolDAI, poolSupplier))
	require.True(t, book.BalanceOf(poolDAI, poolSupplier).IsZero())
	require.Equal(t, amount, book.BalanceOf(poolDAI, poolAddr))

	withdrawn, err := pool.Withdraw(poolSupplier, poolDAI, amount, poolSupplier)
	require.NoError(t, err)
	require.Equal(t, amount, withdrawn)
	require.True(t, pool.ReceiptBalance(poolDAI, poolSupplier).IsZero())
	require.Equal(t, amount, book.BalanceOf(poolDAI, poolSupplier))
}

func TestWithdrawCannotExceedReceiptBalance(t *testing.T) {
	pool, book := newTestPool(t)
	supply(t, pool, book, poolSupplier, poolDAI, wholeTokens(100))

	_, err := pool.Withdraw(poolSupplier, poolDAI, wholeTokens(101), poolSupplier)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestBorrowRequiresCollateral(t *testing.T) {
	pool, book := newTestPool(t)
	supply(t, pool, book, poolSupplier, poolDAI, wholeTokens(10_000))

	err := pool.Borrow(poolBorrower, poolDAI, wholeTokens(100), RateModeStable, 0, poolBorrower)
	require.ErrorIs(t, err, ErrInsufficientCollateral)
}

func TestBorrowAgainstCollateral(t *testing.T) {
	pool, book := newTestPool(t)
	supply(t, pool, book, poolSupplier, poolDAI, wholeTokens(10_000))
	// 4 WETH at 1650 backs up to 5280 DAI of debt at 80% LTV.
	supply(t, pool, book, poolBorrower, poolWETH, wholeTokens(4))

	require.NoError(t, pool.Borrow(poolBorrower, poolDAI, wholeTokens(5_000), RateModeStable, 0, poolBorrower))
	require.Equal(t, wholeTokens(5_000), book.BalanceOf(poolDAI, poolBorrower))

	stable, variable := pool.DebtBalances(poolDAI, poolBorrower)
	require.Equal(t, wholeTokens(5_000), stable)
	require.True(t, variable.IsZero())

	// The next borrow crosses the LTV limit.
	err := pool.Borrow(poolBorrower, poolDAI, wholeTokens(300), RateModeStable, 0, poolBorrower)
	require.ErrorIs(t, err, ErrInsufficientCollateral)
}

func TestWithdrawBlockedWhileUndercollateralized(t *testing.T) {
	pool, book := newTestPool(t)
	supply(t, pool, book, poolSupplier, poolDAI, wholeTokens(10_000))
	supply(t, pool, book, poolBorrower, poolWETH, wholeTokens(4))
	require.NoError(t, pool.Borrow(poolBorrower, poolDAI, wholeTokens(5_000), RateModeStable, 0, poolBorrower))

	// Pulling 1 WETH would leave 3 x 1650 x 85% = 4207.5 against 5000 of debt.
	_, err := pool.Withdraw(poolBorrower, poolWETH, wholeTokens(1), poolBorrower)
	require.ErrorIs(t, err, ErrInsufficientCollateral)
}

func TestRepayCapsAtOutstandingDebt(t *testing.T) {
	pool, book := newTestPool(t)
	supply(t, pool, book, poolSupplier, poolDAI, wholeTokens(10_000))
	supply(t, pool, book, poolBorrower, poolWETH, wholeTokens(4))
	require.NoError(t, pool.Borrow(poolBorrower, poolDAI, wholeTokens(1_000), RateModeStable, 0, poolBorrower))

	require.NoError(t, book.Mint(poolDAI, poolBorrower, wholeTokens(4_000)))
	require.NoError(t, book.Approve(poolDAI, poolBorrower, poolAddr, wholeTokens(5_000)))

	applied, err := pool.Repay(poolBorrower, poolDAI, wholeTokens(5_000), RateModeStable, poolBorrower)
	require.NoError(t, err)
	require.Equal(t, wholeTokens(1_000), applied)

	stable, variable := pool.DebtBalances(poolDAI, poolBorrower)
	require.True(t, stable.IsZero())
	require.True(t, variable.IsZero())
	// Only the applied amount was pulled.
	require.Equal(t, wholeTokens(4_000), book.BalanceOf(poolDAI, poolBorrower))

	_, err = pool.Repay(poolBorrower, poolDAI, wholeTokens(1), RateModeStable, poolBorrower)
	require.ErrorIs(t, err, ErrNoDebtToRepay)
}

func TestAccrualGrowsDebtAndReceipts(t *testing.T) {
	pool, book := newTestPool(t)
	supply(t, pool, book, poolSupplier, poolDAI, wholeTokens(10_000))
	supply(t, pool, book, poolBorrower, poolWETH, wholeTokens(4))
	require.NoError(t, pool.Borrow(poolBorrower, poolDAI, wholeTokens(5_000), RateModeStable, 0, poolBorrower))

	principal := wholeTokens(5_000)
	deposited := wholeTokens(10_000)
	require.Equal(t, principal, func() sdkmath.Int { s, _ := pool.DebtBalances(poolDAI, poolBorrower); return s }())

	pool.SetBlockHeight(blocksPerYear)

	stable, _ := pool.DebtBalances(poolDAI, poolBorrower)
	require.True(t, stable.GT(principal), "debt should grow over a year")
	require.True(t, pool.ReceiptBalance(poolDAI, poolSupplier).GT(deposited), "receipts should grow over a year")

	// Views are read-through: reading twice at the same height is stable.
	stableAgain, _ := pool.DebtBalances(poolDAI, poolBorrower)
	require.Equal(t, stable, stableAgain)
}

func TestFlashLoanChargesPremium(t *testing.T) {
	pool, book := newTestPool(t)
	supply(t, pool, book, poolSupplier, poolDAI, wholeTokens(10_000))

	principal := wholeTokens(2_000)
	premium := principal.MulRaw(9).QuoRaw(10_000)
	// The receiver needs its own funds to cover the premium.
	require.NoError(t, book.Mint(poolDAI, poolReceiver, premium))

	receiver := &stubFlashReceiver{
		onExecute: func(caller, asset common.Address, amount, gotPremium sdkmath.Int, initiator common.Address, params []byte) (bool, error) {
			require.Equal(t, poolAddr, caller)
			require.Equal(t, poolDAI, asset)
			require.Equal(t, principal, amount)
			require.Equal(t, premium, gotPremium)
			require.Equal(t, poolBorrower, initiator)
			return true, book.Approve(asset, poolReceiver, poolAddr, amount.Add(gotPremium))
		},
	}

	treasuryBefore := book.BalanceOf(poolDAI, poolAddr)
	require.NoError(t, pool.FlashLoanSimple(poolBorrower, receiver, poolReceiver, poolDAI, principal, nil, 0))

	require.Equal(t, treasuryBefore.Add(premium), book.BalanceOf(poolDAI, poolAddr))
	require.True(t, book.BalanceOf(poolDAI, poolReceiver).IsZero())
}

func TestFlashLoanShortfallFails(t *testing.T) {
	pool, book := newTestPool(t)
	supply(t, pool, book, poolSupplier, poolDAI, wholeTokens(10_000))

	principal := wholeTokens(2_000)
	receiver := &stubFlashReceiver{
		onExecute: func(caller, asset common.Address, amount, premium sdkmath.Int, initiator common.Address, params []byte) (bool, error) {
			// Approve only the principal; the premium is missing.
			return true, book.Approve(asset, poolReceiver, poolAddr, amount)
		},
	}

	err := pool.FlashLoanSimple(poolBorrower, receiver, poolReceiver, poolDAI, principal, nil, 0)
	require.ErrorIs(t, err, ErrRepaymentShortfall)
}

func TestFlashLoanCallbackFailurePropagates(t *testing.T) {
	pool, book := newTestPool(t)
	supply(t, pool, book, poolSupplier, poolDAI, wholeTokens(10_000))

	rejecting := &stubFlashReceiver{
		onExecute: func(common.Address, common.Address, sdkmath.Int, sdkmath.Int, common.Address, []byte) (bool, error) {
			return false, nil
		},
	}
	err := pool.FlashLoanSimple(poolBorrower, rejecting, poolReceiver, poolDAI, wholeTokens(100), nil, 0)
	require.ErrorIs(t, err, ErrCallbackRejected)

	failing := &stubFlashReceiver{
		onExecute: func(common.Address, common.Address, sdkmath.Int, sdkmath.Int, common.Address, []byte) (bool, error) {
			return false, ErrInvalidAmount
		},
	}
	err = pool.FlashLoanSimple(poolBorrower, failing, poolReceiver, poolDAI, wholeTokens(100), nil, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestInterestModelKink(t *testing.T) {
	model := DefaultInterestModel()

	low := model.BorrowAPR(sdkmath.NewInt(40), sdkmath.NewInt(100))
	require.Equal(t, sdkmath.LegacyMustNewDecFromStr("0.08"), low)

	atKink := model.BorrowAPR(sdkmath.NewInt(80), sdkmath.NewInt(100))
	require.Equal(t, sdkmath.LegacyMustNewDecFromStr("0.14"), atKink)

	high := model.BorrowAPR(sdkmath.NewInt(90), sdkmath.NewInt(100))
	require.Equal(t, sdkmath.LegacyMustNewDecFromStr("0.2"), high)

	require.True(t, model.SupplyRate(sdkmath.NewInt(40), sdkmath.NewInt(100), 1000).LT(low))
}
