package ledger

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	testAsset   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testAlice   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testBob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	testSpender = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func TestMintAndBalanceOf(t *testing.T) {
	book := New()
	require.True(t, book.BalanceOf(testAsset, testAlice).IsZero())

	require.NoError(t, book.Mint(testAsset, testAlice, sdkmath.NewInt(1000)))
	require.Equal(t, sdkmath.NewInt(1000), book.BalanceOf(testAsset, testAlice))

	require.ErrorIs(t, book.Mint(testAsset, testAlice, sdkmath.ZeroInt()), ErrInvalidAmount)
	require.ErrorIs(t, book.Mint(testAsset, testAlice, sdkmath.NewInt(-5)), ErrInvalidAmount)
}

func TestTransferMovesFunds(t *testing.T) {
	book := New()
	require.NoError(t, book.Mint(testAsset, testAlice, sdkmath.NewInt(1000)))

	require.NoError(t, book.Transfer(testAsset, testAlice, testBob, sdkmath.NewInt(400)))
	require.Equal(t, sdkmath.NewInt(600), book.BalanceOf(testAsset, testAlice))
	require.Equal(t, sdkmath.NewInt(400), book.BalanceOf(testAsset, testBob))

	err := book.Transfer(testAsset, testAlice, testBob, sdkmath.NewInt(601))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, sdkmath.NewInt(600), book.BalanceOf(testAsset, testAlice))
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	book := New()
	require.NoError(t, book.Mint(testAsset, testAlice, sdkmath.NewInt(1000)))
	require.NoError(t, book.Approve(testAsset, testAlice, testSpender, sdkmath.NewInt(300)))

	require.NoError(t, book.TransferFrom(testAsset, testSpender, testAlice, testBob, sdkmath.NewInt(200)))
	require.Equal(t, sdkmath.NewInt(200), book.BalanceOf(testAsset, testBob))
	require.Equal(t, sdkmath.NewInt(100), book.Allowance(testAsset, testAlice, testSpender))

	err := book.TransferFrom(testAsset, testSpender, testAlice, testBob, sdkmath.NewInt(101))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestTransferFromNeedsBalanceBehindAllowance(t *testing.T) {
	book := New()
	require.NoError(t, book.Mint(testAsset, testAlice, sdkmath.NewInt(50)))
	require.NoError(t, book.Approve(testAsset, testAlice, testSpender, sdkmath.NewInt(100)))

	err := book.TransferFrom(testAsset, testSpender, testAlice, testBob, sdkmath.NewInt(80))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	// Allowance is only consumed on a successful pull.
	require.Equal(t, sdkmath.NewInt(100), book.Allowance(testAsset, testAlice, testSpender))
}

func TestApproveOverwrites(t *testing.T) {
	book := New()
	require.NoError(t, book.Approve(testAsset, testAlice, testSpender, sdkmath.NewInt(300)))
	require.NoError(t, book.Approve(testAsset, testAlice, testSpender, sdkmath.NewInt(10)))
	require.Equal(t, sdkmath.NewInt(10), book.Allowance(testAsset, testAlice, testSpender))
}

func TestSnapshotRestoreUndoesEverything(t *testing.T) {
	book := New()
	require.NoError(t, book.Mint(testAsset, testAlice, sdkmath.NewInt(1000)))
	require.NoError(t, book.Approve(testAsset, testAlice, testSpender, sdkmath.NewInt(500)))

	snap := book.Snapshot()

	require.NoError(t, book.Transfer(testAsset, testAlice, testBob, sdkmath.NewInt(700)))
	require.NoError(t, book.TransferFrom(testAsset, testSpender, testAlice, testBob, sdkmath.NewInt(100)))
	require.NoError(t, book.Mint(testAsset, testBob, sdkmath.NewInt(42)))

	book.Restore(snap)

	require.Equal(t, sdkmath.NewInt(1000), book.BalanceOf(testAsset, testAlice))
	require.True(t, book.BalanceOf(testAsset, testBob).IsZero())
	require.Equal(t, sdkmath.NewInt(500), book.Allowance(testAsset, testAlice, testSpender))
}
