// Package custody performs the actual movement of custodied value.
//
// The escrow core never implements transfer semantics. It invokes a
// single Adapter primitive; which rail executes it depends on
// deployment: an in-process memory bank (demo/dev/tests) or the
// settlement ledger via a platform-held signing key.
package custody

import (
	"context"
	"errors"
	"math/big"
)

// AssetNative is the asset marker for native-currency escrows.
// Anything else is treated as a fungible-token contract address.
const AssetNative = "native"

var (
	ErrInsufficientBalance = errors.New("custody: insufficient balance")
	ErrAssetUnsupported    = errors.New("custody: asset unsupported")
	ErrInvalidAmount       = errors.New("custody: invalid amount")
)

// Adapter is the external value-transfer primitive consumed by the
// escrow core. Implementations must treat each call as atomic: either
// the full amount moves or an error is returned with no effect.
type Adapter interface {
	Transfer(ctx context.Context, asset, from, to string, amount *big.Int) error
}
