/*

This file contains the constant-product swap venue. It exposes the classic
router surface (swapExactTokensForTokens over an asset path) and prices hops
against its own ledger balances, so seeding the router account with inventory
is all it takes to open a market.

*/

package swap

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hush-protocol/hushlender/internal/ledger"
	"github.com/hush-protocol/hushlender/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownSelector  = errors.New("swap: unsupported router function")
	ErrShortCalldata    = errors.New("swap: calldata shorter than a selector")
	ErrBadPath          = errors.New("swap: path needs at least two assets")
	ErrDeadlineExpired  = errors.New("swap: deadline expired")
	ErrSlippageExceeded = errors.New("swap: output below minimum")
	ErrEmptyReserve     = errors.New("swap: no liquidity for pair")
)

var ammLogger = logger.GetForComponent("amm")

// swapExactTokensForTokens(uint256,uint256,address[],address,uint256)
var swapExactTokensMethod abi.Method

func init() {
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("swap: building uint256 type: %v", err))
	}
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("swap: building address type: %v", err))
	}
	addressSliceType, err := abi.NewType("address[]", "", nil)
	if err != nil {
		panic(fmt.Sprintf("swap: building address[] type: %v", err))
	}
	swapExactTokensMethod = abi.NewMethod(
		"swapExactTokensForTokens", "swapExactTokensForTokens", abi.Function, "nonpayable", false, false,
		abi.Arguments{
			{Name: "amountIn", Type: uint256Type},
			{Name: "amountOutMin", Type: uint256Type},
			{Name: "path", Type: addressSliceType},
			{Name: "to", Type: addressType},
			{Name: "deadline", Type: uint256Type},
		},
		abi.Arguments{{Name: "amounts", Type: uint256Type}},
	)
}

// EncodeSwapExactTokensForTokens builds router calldata for a path swap. Used
// by the environment and tests to author swap instructions.
func EncodeSwapExactTokensForTokens(amountIn, amountOutMin sdkmath.Int, path []common.Address, to common.Address, deadline uint64) ([]byte, error) {
	if len(path) < 2 {
		return nil, ErrBadPath
	}
	packed, err := swapExactTokensMethod.Inputs.Pack(
		amountIn.BigInt(), amountOutMin.BigInt(), path, to, new(big.Int).SetUint64(deadline))
	if err != nil {
		return nil, fmt.Errorf("swap: packing router call: %w", err)
	}
	return append(swapExactTokensMethod.ID, packed...), nil
}

// AMM is a constant-product router. Its reserves are simply its ledger
// balances, and it pulls input amounts through the allowance path like any
// other spender.
type AMM struct {
	address common.Address
	book    *ledger.Ledger
	feeBps  uint64
	// now supplies the clock for deadline checks so tests can pin time.
	now func() uint64
}

// NewAMM creates a router at the given address over the shared ledger.
// A fee of 30 basis points matches the usual pair fee.
func NewAMM(address common.Address, book *ledger.Ledger, feeBps uint64, now func() uint64) (*AMM, error) {
	if book == nil {
		return nil, errors.New("swap: ledger not configured")
	}
	if address == (common.Address{}) {
		return nil, ErrEmptyTarget
	}
	if feeBps >= 10_000 {
		return nil, errors.New("swap: fee must be below 10000 bps")
	}
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	return &AMM{address: address, book: book, feeBps: feeBps, now: now}, nil
}

// Address returns the router's ledger address.
func (a *AMM) Address() common.Address {
	return a.address
}

// Call dispatches raw router calldata. Only the path-swap function is served.
func (a *AMM) Call(caller common.Address, calldata []byte) error {
	if len(calldata) < 4 {
		return ErrShortCalldata
	}
	selector := calldata[:4]
	if string(selector) != string(swapExactTokensMethod.ID) {
		return fmt.Errorf("%w: selector %x", ErrUnknownSelector, selector)
	}

	values, err := swapExactTokensMethod.Inputs.Unpack(calldata[4:])
	if err != nil {
		return errors.Join(ErrDecode, err)
	}
	amountIn := sdkmath.NewIntFromBigInt(values[0].(*big.Int))
	amountOutMin := sdkmath.NewIntFromBigInt(values[1].(*big.Int))
	path := values[2].([]common.Address)
	to := values[3].(common.Address)
	deadline := values[4].(*big.Int)

	return a.swapExactTokensForTokens(caller, amountIn, amountOutMin, path, to, deadline.Uint64())
}

func (a *AMM) swapExactTokensForTokens(caller common.Address, amountIn, amountOutMin sdkmath.Int, path []common.Address, to common.Address, deadline uint64) error {
	if len(path) < 2 {
		return ErrBadPath
	}
	if !amountIn.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	if deadline < a.now() {
		return fmt.Errorf("%w: deadline %d", ErrDeadlineExpired, deadline)
	}

	// Pull the input leg first; quoting happens against the pre-pull reserve.
	reserveIn := a.book.BalanceOf(path[0], a.address)
	if err := a.book.TransferFrom(path[0], a.address, caller, a.address, amountIn); err != nil {
		return err
	}

	amount := amountIn
	for i := 0; i < len(path)-1; i++ {
		assetIn, assetOut := path[i], path[i+1]
		if i > 0 {
			reserveIn = a.book.BalanceOf(assetIn, a.address)
		}
		reserveOut := a.book.BalanceOf(assetOut, a.address)
		if !reserveIn.IsPositive() || !reserveOut.IsPositive() {
			return fmt.Errorf("%w: %s/%s", ErrEmptyReserve, assetIn.Hex(), assetOut.Hex())
		}
		amount = a.quoteOut(amount, reserveIn, reserveOut)
		if !amount.IsPositive() {
			return fmt.Errorf("%w: %s/%s", ErrEmptyReserve, assetIn.Hex(), assetOut.Hex())
		}
	}

	if amount.LT(amountOutMin) {
		return fmt.Errorf("%w: out %s, min %s", ErrSlippageExceeded, amount, amountOutMin)
	}
	if err := a.book.Transfer(path[len(path)-1], a.address, to, amount); err != nil {
		return err
	}

	ammLogger.Info().
		Str("assetIn", path[0].Hex()).
		Str("assetOut", path[len(path)-1].Hex()).
		Str("amountIn", amountIn.String()).
		Str("amountOut", amount.String()).
		Str("to", to.Hex()).
		Msg("Swap executed")
	return nil
}

// quoteOut prices one hop with the x*y=k formula, charging the fee on the
// input side: out = in*(1-fee)*reserveOut / (reserveIn + in*(1-fee)).
func (a *AMM) quoteOut(amountIn, reserveIn, reserveOut sdkmath.Int) sdkmath.Int {
	feeFactor := int64(10_000 - a.feeBps)
	inWithFee := amountIn.MulRaw(feeFactor)
	numerator := inWithFee.Mul(reserveOut)
	denominator := reserveIn.MulRaw(10_000).Add(inWithFee)
	return numerator.Quo(denominator)
}
