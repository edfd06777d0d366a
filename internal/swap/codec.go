/*

This file contains the wire codec for swap instructions. The owner hands the
manager an opaque blob holding a venue address and raw calldata; the manager
decodes it exactly once inside the flash loan callback and never inspects the
calldata itself.

*/

package swap

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hush-protocol/hushlender/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrDecode      = errors.New("swap: malformed instruction payload")
	ErrEmptyTarget = errors.New("swap: instruction target cannot be zero")
)

var instructionArgs abi.Arguments

func init() {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("swap: building address type: %v", err))
	}
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(fmt.Sprintf("swap: building bytes type: %v", err))
	}
	instructionArgs = abi.Arguments{
		{Name: "target", Type: addressType},
		{Name: "calldata", Type: bytesType},
	}
}

// EncodeInstruction packs a venue address and calldata into the opaque params
// payload carried through the flash loan.
func EncodeInstruction(instruction types.SwapInstruction) ([]byte, error) {
	if instruction.Target == (common.Address{}) {
		return nil, ErrEmptyTarget
	}
	packed, err := instructionArgs.Pack(instruction.Target, instruction.Calldata)
	if err != nil {
		return nil, fmt.Errorf("swap: packing instruction: %w", err)
	}
	return packed, nil
}

// DecodeInstruction unpacks a params payload back into a venue address and its
// calldata. Any structural defect fails decoding as a whole.
func DecodeInstruction(payload []byte) (types.SwapInstruction, error) {
	values, err := instructionArgs.Unpack(payload)
	if err != nil {
		return types.SwapInstruction{}, errors.Join(ErrDecode, err)
	}
	if len(values) != 2 {
		return types.SwapInstruction{}, fmt.Errorf("%w: expected 2 fields, got %d", ErrDecode, len(values))
	}
	target, ok := values[0].(common.Address)
	if !ok {
		return types.SwapInstruction{}, fmt.Errorf("%w: target is not an address", ErrDecode)
	}
	calldata, ok := values[1].([]byte)
	if !ok {
		return types.SwapInstruction{}, fmt.Errorf("%w: calldata is not bytes", ErrDecode)
	}
	if target == (common.Address{}) {
		return types.SwapInstruction{}, ErrEmptyTarget
	}
	return types.SwapInstruction{Target: target, Calldata: calldata}, nil
}
