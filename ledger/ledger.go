// Package ledger abstracts the custodial wallet and the token it pays out.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// Ledger is the token ledger client used by the disbursement service.
// One Ledger represents one signing account and one token.
type Ledger interface {
	// Address returns the custodial wallet address.
	Address() string
	// TokenContract identifies the token being paid out.
	TokenContract() string
	// Network is a display name for the connected chain.
	Network() string

	// ValidateAddress reports whether addr is a well-formed recipient on this chain.
	ValidateAddress(addr string) bool

	Decimals(ctx context.Context) (uint8, error)
	NativeDecimals() uint8
	TokenBalance(ctx context.Context) (*big.Int, error)
	NativeBalance(ctx context.Context) (*big.Int, error)

	// Transfer submits a token transfer of amount base units to the recipient.
	Transfer(ctx context.Context, to string, amount *big.Int) (PendingTransfer, error)
}

// PendingTransfer is a submitted transaction awaiting inclusion.
type PendingTransfer interface {
	Hash() string
	// Wait blocks until the transaction is included in a block and returns
	// that block number. It returns ctx.Err() when ctx ends first.
	Wait(ctx context.Context) (uint64, error)
}

// CodeReverted is reported when a transaction was mined but failed.
const CodeReverted = "REVERTED"

// ErrInvalidAddress is returned by Transfer for recipients ValidateAddress rejects.
var ErrInvalidAddress = errors.New("invalid recipient address")

// Error is a failure reported by the underlying chain client.
type Error struct {
	Op   string
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %v (code %s)", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonCode returns the machine-readable reason attached to err, if any.
func ReasonCode(err error) string {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Code
	}
	return ""
}
