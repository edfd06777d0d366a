/*

This file contains the shared domain types for the position manager: asset
identity, position views and the operation receipts persisted for auditing.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Asset identifies a tradeable token by its address together with display
// metadata. This is strictly identity metadata and carries no balance.
type Asset struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int            `json:"decimals"`
}

// BalancesAndDebt is the read-only position view for a single asset: the
// interest-bearing receipt balance plus the two independently tracked debt
// classes. Mirrors the figures held by the lending pool, never cached.
type BalancesAndDebt struct {
	Balance      sdkmath.Int `json:"balance"`
	StableDebt   sdkmath.Int `json:"stable_debt"`
	VariableDebt sdkmath.Int `json:"variable_debt"`
}

// SwapInstruction is the opaque owner-supplied payload executed during a flash
// loan: a venue address and raw calldata for it. Decoded once per callback,
// used once, discarded.
type SwapInstruction struct {
	Target   common.Address `json:"target"`
	Calldata []byte         `json:"calldata"`
}

// OperationType labels the manager entry point that produced a receipt.
type OperationType string

const (
	OpDeposit   OperationType = "DEPOSIT"
	OpWithdraw  OperationType = "WITHDRAW"
	OpBorrow    OperationType = "BORROW"
	OpRepay     OperationType = "REPAY"
	OpFlashloan OperationType = "FLASHLOAN"
)

// OperationReceipt records the outcome of a single manager operation for the
// audit store. Amounts are wei-scale strings on the wire to avoid precision
// loss in JSON.
type OperationReceipt struct {
	ReceiptID int64          `json:"receipt_id,omitempty"` // Auto-incremented by DB
	Type      OperationType  `json:"type"`
	Asset     common.Address `json:"asset"`
	Amount    sdkmath.Int    `json:"amount"`
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
