package contracts

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// RevertError is a reverted call whose data matched a named ABI error.
type RevertError struct {
	Name string
	Data []byte
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("execution reverted: %s", e.Name)
}

// DecodeRevert maps revert data to the name of the Campaign or Factory
// error whose selector it starts with.
func DecodeRevert(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	for _, errs := range []map[string]abi.Error{campaignABI.Errors, factoryABI.Errors} {
		for name, e := range errs {
			if bytes.Equal(e.ID[:4], data[:4]) {
				return name, true
			}
		}
	}
	return "", false
}

// RevertFromError extracts a named revert from a JSON-RPC error carrying
// revert data.
func RevertFromError(err error) (*RevertError, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}

	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return nil, false
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil {
		return nil, false
	}

	name, ok := DecodeRevert(data)
	if !ok {
		return nil, false
	}
	return &RevertError{Name: name, Data: data}, true
}
