package manipulation

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// The flash loan callback data is ABI encoded the way an on-chain receiver
// would decode it.
const payloadABI = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "flashAmount", "type": "uint256"},
			{"internalType": "address", "name": "beneficiary", "type": "address"},
			{"internalType": "uint16", "name": "collateralBps", "type": "uint16"}
		],
		"name": "executeAttack",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var payloadArgs abi.Arguments

func init() {
	parsed, err := abi.JSON(strings.NewReader(payloadABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse payload ABI: %v", err))
	}
	payloadArgs = parsed.Methods["executeAttack"].Inputs
}

// Payload is what the orchestrator hands itself through the flash loan.
type Payload struct {
	FlashAmount   *big.Int
	Beneficiary   common.Address
	CollateralBps uint16
}

func EncodePayload(p Payload) ([]byte, error) {
	if p.FlashAmount == nil || p.FlashAmount.Sign() < 0 {
		return nil, fmt.Errorf("payload flash amount must be non-negative")
	}
	data, err := payloadArgs.Pack(p.FlashAmount, p.Beneficiary, p.CollateralBps)
	if err != nil {
		return nil, fmt.Errorf("failed to pack payload: %w", err)
	}
	return data, nil
}

func DecodePayload(data []byte) (Payload, error) {
	values, err := payloadArgs.Unpack(data)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to unpack payload: %w", err)
	}
	if len(values) != 3 {
		return Payload{}, fmt.Errorf("payload has %d fields, want 3", len(values))
	}
	amount, ok1 := values[0].(*big.Int)
	beneficiary, ok2 := values[1].(common.Address)
	bps, ok3 := values[2].(uint16)
	if !ok1 || !ok2 || !ok3 {
		return Payload{}, fmt.Errorf("payload field types do not match")
	}
	return Payload{FlashAmount: amount, Beneficiary: beneficiary, CollateralBps: bps}, nil
}
