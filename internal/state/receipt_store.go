// ./internal/state/receipt_store.go
package state

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/hush-protocol/hushlender/internal/types"
)

// SaveOperationReceipt persists a single operation receipt and returns its ID.
func SaveOperationReceipt(receipt types.OperationReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	timestamp := receipt.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO operation_receipts (
			operation_timestamp, operation_type, asset_address, amount_wei, success, message
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING receipt_id;
	`

	var receiptID int64
	err := DB.QueryRow(
		query,
		timestamp, string(receipt.Type), receipt.Asset.Hex(),
		receipt.Amount.String(), receipt.Success, receipt.Message,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save operation receipt: %w", err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Str("operation_type", string(receipt.Type)).
		Bool("success", receipt.Success).
		Msg("Operation receipt saved to database")

	return receiptID, nil
}

// LoadRecentReceipts returns the most recent operation receipts, newest first.
func LoadRecentReceipts(limit int) ([]types.OperationReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT receipt_id, operation_timestamp, operation_type, asset_address, amount_wei, success, COALESCE(message, '')
		FROM operation_receipts
		ORDER BY operation_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.OperationReceipt
	for rows.Next() {
		var (
			receipt   types.OperationReceipt
			opType    string
			assetHex  string
			amountWei string
		)
		if err := rows.Scan(&receipt.ReceiptID, &receipt.Timestamp, &opType,
			&assetHex, &amountWei, &receipt.Success, &receipt.Message); err != nil {
			return nil, fmt.Errorf("failed to scan operation receipt row: %w", err)
		}
		receipt.Type = types.OperationType(opType)
		receipt.Asset = common.HexToAddress(assetHex)
		amount, ok := sdkmath.NewIntFromString(amountWei)
		if !ok {
			return nil, fmt.Errorf("failed to parse amount_wei %q for receipt %d", amountWei, receipt.ReceiptID)
		}
		receipt.Amount = amount
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operation receipt rows: %w", err)
	}

	return receipts, nil
}

// ReceiptRecorder adapts the receipt store to the manager's audit sink.
type ReceiptRecorder struct{}

// Record persists the receipt, discarding the generated ID.
func (ReceiptRecorder) Record(receipt types.OperationReceipt) error {
	_, err := SaveOperationReceipt(receipt)
	return err
}
