// Package ledgertest provides an in-memory ledger.Ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/saif727/reward-token-relay/ledger"
)

// Transfer records one call to Fake.Transfer.
type Transfer struct {
	To     string
	Amount *big.Int
	Hash   string
}

// Fake is a scripted ledger. Addresses are valid when they start with "0x"
// and are 42 characters long. All fields may be set before use.
type Fake struct {
	mu sync.Mutex

	Wallet      string
	Token       string
	NetworkName string

	TokenDecimals uint8
	Balance       *big.Int
	Native        *big.Int

	DecimalsErr error
	BalanceErr  error
	NativeErr   error
	TransferErr error
	WaitErr     error

	// WaitDelay delays confirmation; Wait honours ctx while delayed.
	WaitDelay time.Duration
	Block     uint64

	// DebitOnConfirm leaves Balance untouched until a Wait succeeds,
	// like a chain read at the latest block.
	DebitOnConfirm bool

	transfers []Transfer
	calls     []string
}

// New returns a Fake holding balance base units of an 18-decimal token.
func New(balance *big.Int) *Fake {
	return &Fake{
		Wallet:        "0x1111111111111111111111111111111111111111",
		Token:         "0x72dA30dB47C0999F2891cD328Fc45cB3FffBFDa3",
		NetworkName:   "testnet",
		TokenDecimals: 18,
		Balance:       balance,
		Native:        big.NewInt(1),
		Block:         100,
	}
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

// Calls returns the ledger methods invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Transfers returns the submitted transfers.
func (f *Fake) Transfers() []Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Transfer(nil), f.transfers...)
}

// CurrentBalance returns the fake token balance.
func (f *Fake) CurrentBalance() *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.Balance)
}

// Address returns the configured wallet address.
func (f *Fake) Address() string { return f.Wallet }

// TokenContract returns the configured token identifier.
func (f *Fake) TokenContract() string { return f.Token }

// Network returns the configured network name.
func (f *Fake) Network() string { return f.NetworkName }

// NativeDecimals always reports 18.
func (f *Fake) NativeDecimals() uint8 { return 18 }

// ValidateAddress accepts 42-character strings starting with "0x".
func (f *Fake) ValidateAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && len(addr) == 42
}

// Decimals returns TokenDecimals or DecimalsErr.
func (f *Fake) Decimals(ctx context.Context) (uint8, error) {
	f.record("decimals")
	if f.DecimalsErr != nil {
		return 0, f.DecimalsErr
	}
	return f.TokenDecimals, nil
}

// TokenBalance returns a copy of Balance or BalanceErr.
func (f *Fake) TokenBalance(ctx context.Context) (*big.Int, error) {
	f.record("tokenBalance")
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.Balance), nil
}

// NativeBalance returns a copy of Native or NativeErr.
func (f *Fake) NativeBalance(ctx context.Context) (*big.Int, error) {
	f.record("nativeBalance")
	if f.NativeErr != nil {
		return nil, f.NativeErr
	}
	return new(big.Int).Set(f.Native), nil
}

// Transfer records the transfer and returns a pending handle. The balance
// is debited now unless DebitOnConfirm is set.
func (f *Fake) Transfer(ctx context.Context, to string, amount *big.Int) (ledger.PendingTransfer, error) {
	f.record("transfer")
	if f.TransferErr != nil {
		return nil, f.TransferErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := fmt.Sprintf("0x%064x", len(f.transfers)+1)
	f.transfers = append(f.transfers, Transfer{To: to, Amount: new(big.Int).Set(amount), Hash: hash})
	p := &pending{fake: f, hash: hash, amount: new(big.Int).Set(amount)}
	if !f.DebitOnConfirm {
		f.Balance = new(big.Int).Sub(f.Balance, amount)
		p.debited = true
	}
	return p, nil
}

type pending struct {
	fake    *Fake
	hash    string
	amount  *big.Int
	debited bool
}

// Hash returns the fake transaction hash.
func (p *pending) Hash() string { return p.hash }

// Wait confirms after WaitDelay at Block, or fails with WaitErr.
func (p *pending) Wait(ctx context.Context) (uint64, error) {
	p.fake.record("wait")
	if p.fake.WaitDelay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(p.fake.WaitDelay):
		}
	}
	if p.fake.WaitErr != nil {
		return 0, p.fake.WaitErr
	}

	p.fake.mu.Lock()
	defer p.fake.mu.Unlock()
	if !p.debited {
		p.fake.Balance = new(big.Int).Sub(p.fake.Balance, p.amount)
		p.debited = true
	}
	return p.fake.Block, nil
}
