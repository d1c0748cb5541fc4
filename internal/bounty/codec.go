package bounty

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	initDataArgs   abi.Arguments
	actionDataArgs abi.Arguments
)

func init() {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	initDataArgs = abi.Arguments{
		{Name: "currency", Type: addressType},
		{Name: "amount", Type: uint256Type},
	}
	actionDataArgs = abi.Arguments{
		{Name: "expertAddress", Type: addressType},
	}
}

// EncodeInitData packs (address currency, uint256 amount).
func EncodeInitData(d InitData) ([]byte, error) {
	if d.Amount == nil {
		return nil, fmt.Errorf("%w: amount is nil", ErrMalformedData)
	}
	if d.Amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrMalformedData)
	}
	return initDataArgs.Pack(d.Currency, d.Amount)
}

// DecodeInitData unpacks initialize data. Anything that is not exactly the
// two-word tuple is rejected.
func DecodeInitData(data []byte) (InitData, error) {
	values, err := unpackStatic(initDataArgs, data)
	if err != nil {
		return InitData{}, err
	}
	currency, ok := values[0].(common.Address)
	if !ok {
		return InitData{}, fmt.Errorf("%w: currency is %T", ErrMalformedData, values[0])
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return InitData{}, fmt.Errorf("%w: amount is %T", ErrMalformedData, values[1])
	}
	return InitData{Currency: currency, Amount: amount}, nil
}

// EncodeActionData packs (address expertAddress).
func EncodeActionData(d ActionData) ([]byte, error) {
	return actionDataArgs.Pack(d.Expert)
}

// DecodeActionData unpacks process data.
func DecodeActionData(data []byte) (ActionData, error) {
	values, err := unpackStatic(actionDataArgs, data)
	if err != nil {
		return ActionData{}, err
	}
	expert, ok := values[0].(common.Address)
	if !ok {
		return ActionData{}, fmt.Errorf("%w: expert is %T", ErrMalformedData, values[0])
	}
	return ActionData{Expert: expert}, nil
}

func unpackStatic(args abi.Arguments, data []byte) ([]interface{}, error) {
	want := len(args) * 32
	if len(data) != want {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedData, want, len(data))
	}
	values, err := args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if len(values) != len(args) {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrMalformedData, len(args), len(values))
	}
	return values, nil
}
