package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
)

// Stellar amounts are fixed-point with 7 decimal places (stroops).
const stellarDecimals = 7

// StellarConfig holds the settings for a Stellar credit-asset ledger.
type StellarConfig struct {
	Client horizonclient.ClientInterface
	Seed   string
	// Asset is CODE:ISSUER.
	Asset   string
	Network string
}

// Stellar pays out a credit asset from a single master account through Horizon.
// Only one submission is in flight at a time, since each one consumes the
// master account's next sequence number.
type Stellar struct {
	client     horizonclient.ClientInterface
	master     *keypair.Full
	asset      txnbuild.CreditAsset
	network    string
	passphrase string

	mu       sync.Mutex
	inflight *stellarPending
}

// DialStellar parses the master seed and asset, then loads the master account
// once so a missing account fails at startup.
func DialStellar(ctx context.Context, cfg StellarConfig) (*Stellar, error) {
	master, err := keypair.ParseFull(strings.TrimSpace(cfg.Seed))
	if err != nil {
		return nil, fmt.Errorf("invalid master secret key: %w", err)
	}
	asset, err := ParseStellarAsset(cfg.Asset)
	if err != nil {
		return nil, err
	}

	passphrase := network.PublicNetworkPassphrase
	if cfg.Network == "testnet" {
		passphrase = network.TestNetworkPassphrase
	}

	s := &Stellar{
		client:     cfg.Client,
		master:     master,
		asset:      asset,
		network:    cfg.Network,
		passphrase: passphrase,
	}
	if _, err := s.account(ctx); err != nil {
		return nil, fmt.Errorf("load master account: %w", err)
	}
	return s, nil
}

// ParseStellarAsset parses CODE:ISSUER into a credit asset.
func ParseStellarAsset(s string) (txnbuild.CreditAsset, error) {
	code, issuer, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || code == "" || len(code) > 12 {
		return txnbuild.CreditAsset{}, fmt.Errorf("invalid asset %q, want CODE:ISSUER", s)
	}
	if _, err := keypair.ParseAddress(issuer); err != nil {
		return txnbuild.CreditAsset{}, fmt.Errorf("invalid asset issuer %q: %w", issuer, err)
	}
	return txnbuild.CreditAsset{Code: code, Issuer: issuer}, nil
}

// Address returns the master account's public key.
func (s *Stellar) Address() string { return s.master.Address() }

// TokenContract returns the asset as CODE:ISSUER.
func (s *Stellar) TokenContract() string { return s.asset.Code + ":" + s.asset.Issuer }

// Network returns the configured network name.
func (s *Stellar) Network() string { return s.network }

// NativeDecimals returns the XLM precision.
func (s *Stellar) NativeDecimals() uint8 { return stellarDecimals }

// ValidateAddress reports whether addr is a Stellar account ID (G...).
func (s *Stellar) ValidateAddress(addr string) bool {
	_, err := keypair.ParseAddress(addr)
	return err == nil
}

// Decimals returns the fixed Stellar asset precision.
func (s *Stellar) Decimals(ctx context.Context) (uint8, error) {
	return stellarDecimals, nil
}

// TokenBalance returns the master account's asset balance in stroops.
func (s *Stellar) TokenBalance(ctx context.Context) (*big.Int, error) {
	account, err := s.account(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range account.Balances {
		if b.Code == s.asset.Code && b.Issuer == s.asset.Issuer {
			return parseStroops("balance", b.Balance)
		}
	}
	// No trustline means nothing to pay out.
	return new(big.Int), nil
}

// NativeBalance returns the master account's XLM balance in stroops.
func (s *Stellar) NativeBalance(ctx context.Context) (*big.Int, error) {
	account, err := s.account(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range account.Balances {
		if b.Type == "native" {
			return parseStroops("balance", b.Balance)
		}
	}
	return new(big.Int), nil
}

// Transfer pays value stroops of the asset to the account to. The payment is
// submitted in the background and Wait reports its ledger. A Transfer issued
// while an earlier submission is unresolved waits for it first.
func (s *Stellar) Transfer(ctx context.Context, to string, value *big.Int) (PendingTransfer, error) {
	if _, err := keypair.ParseAddress(to); err != nil {
		return nil, &Error{Op: "transfer", Err: ErrInvalidAddress}
	}
	if !value.IsInt64() || value.Sign() <= 0 {
		return nil, &Error{Op: "transfer", Err: fmt.Errorf("amount %s out of range", value)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		select {
		case <-ctx.Done():
			return nil, &Error{Op: "transfer", Err: fmt.Errorf("transaction %s still pending: %w", s.inflight.hash, ctx.Err())}
		case <-s.inflight.done:
			s.inflight = nil
		}
	}

	sourceAccount, err := s.account(ctx)
	if err != nil {
		return nil, err
	}

	paymentOp := txnbuild.Payment{
		Destination: to,
		Amount:      amount.StringFromInt64(value.Int64()),
		Asset:       s.asset,
	}

	tx, err := txnbuild.NewTransaction(
		txnbuild.TransactionParams{
			SourceAccount:        &sourceAccount,
			Operations:           []txnbuild.Operation{&paymentOp},
			BaseFee:              txnbuild.MinBaseFee,
			Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
			IncrementSequenceNum: true,
		},
	)
	if err != nil {
		return nil, &Error{Op: "build transaction", Err: err}
	}

	tx, err = tx.Sign(s.passphrase, s.master)
	if err != nil {
		return nil, &Error{Op: "sign transaction", Err: err}
	}
	hash, err := tx.HashHex(s.passphrase)
	if err != nil {
		return nil, &Error{Op: "hash transaction", Err: err}
	}

	p := &stellarPending{hash: hash, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		resp, err := s.client.SubmitTransaction(tx)
		if err != nil {
			p.err = wrapHorizon("submit transaction", err)
			return
		}
		p.ledger = uint64(resp.Ledger)
	}()
	s.inflight = p
	return p, nil
}

func (s *Stellar) account(ctx context.Context) (hProtocol.Account, error) {
	if err := ctx.Err(); err != nil {
		return hProtocol.Account{}, err
	}
	accountRequest := horizonclient.AccountRequest{AccountID: s.master.Address()}
	account, err := s.client.AccountDetail(accountRequest)
	if err != nil {
		return hProtocol.Account{}, wrapHorizon("account detail", err)
	}
	return account, nil
}

type stellarPending struct {
	hash   string
	done   chan struct{}
	ledger uint64
	err    error
}

// Hash returns the transaction hash in hex.
func (p *stellarPending) Hash() string {
	return p.hash
}

// Wait blocks until Horizon answers the submission or ctx ends.
func (p *stellarPending) Wait(ctx context.Context) (uint64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.done:
		return p.ledger, p.err
	}
}

func parseStroops(op, s string) (*big.Int, error) {
	v, err := amount.ParseInt64(s)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	return big.NewInt(v), nil
}

// wrapHorizon keeps the Horizon problem detail and result codes.
func wrapHorizon(op string, err error) error {
	var herr *horizonclient.Error
	if !errors.As(err, &herr) {
		return &Error{Op: op, Err: err}
	}
	lerr := &Error{Op: op, Err: errors.New(herr.Problem.Detail)}
	if herr.Problem.Detail == "" {
		lerr.Err = errors.New(herr.Problem.Title)
	}
	if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil {
		lerr.Code = codes.TransactionCode
		if len(codes.OperationCodes) > 0 {
			lerr.Code += ":" + strings.Join(codes.OperationCodes, ",")
		}
	}
	return lerr
}
