package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

const etherDecimals = 18

// EVMConfig holds the settings for an ERC20 ledger.
type EVMConfig struct {
	RPCURL        string
	PrivateKeyHex string
	TokenContract string
	Network       string
}

// Backend is the part of an Ethereum JSON-RPC client the ERC20 ledger uses.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// EVM pays out an ERC20 token from a single externally owned account.
type EVM struct {
	client   Backend
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	from     common.Address
	token    common.Address
	chainID  *big.Int
	network  string
}

// DialEVM connects to the RPC endpoint and binds the token contract.
// It fails if the key is malformed or the endpoint cannot report a chain id.
func DialEVM(ctx context.Context, cfg EVMConfig) (*EVM, error) {
	key, err := ParseEVMKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(cfg.TokenContract) {
		return nil, fmt.Errorf("invalid token contract address %q", cfg.TokenContract)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fetch chain id from %s: %w", cfg.RPCURL, err)
	}

	network := cfg.Network
	if network == "" {
		network = "chain-" + chainID.String()
	}

	e, err := NewEVM(client, key, common.HexToAddress(cfg.TokenContract), chainID, network)
	if err != nil {
		client.Close()
		return nil, err
	}
	return e, nil
}

// NewEVM binds the token contract at token on an already connected backend.
func NewEVM(client Backend, key *ecdsa.PrivateKey, token common.Address, chainID *big.Int, network string) (*EVM, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &EVM{
		client:   client,
		contract: bind.NewBoundContract(token, parsed, client, client, client),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		token:    token,
		chainID:  chainID,
		network:  network,
	}, nil
}

// ParseEVMKey decodes a hex secp256k1 private key, with or without 0x.
func ParseEVMKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	return key, nil
}

// IsEVMAddress accepts 20-byte hex addresses. Mixed-case input must carry a
// valid EIP-55 checksum and the zero address is refused.
func IsEVMAddress(addr string) bool {
	if !common.IsHexAddress(addr) {
		return false
	}
	parsed := common.HexToAddress(addr)
	if parsed == (common.Address{}) {
		return false
	}
	body := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return parsed.Hex()[2:] == body
}

// Close closes the RPC connection when the backend holds one.
func (e *EVM) Close() {
	if c, ok := e.client.(interface{ Close() }); ok {
		c.Close()
	}
}

// Address returns the checksummed address of the paying account.
func (e *EVM) Address() string { return e.from.Hex() }

// TokenContract returns the checksummed token contract address.
func (e *EVM) TokenContract() string { return e.token.Hex() }

// Network returns the configured network name.
func (e *EVM) Network() string { return e.network }

// NativeDecimals returns the precision of the chain's native coin.
func (e *EVM) NativeDecimals() uint8 { return etherDecimals }

// ValidateAddress reports whether addr is a usable recipient address.
func (e *EVM) ValidateAddress(addr string) bool { return IsEVMAddress(addr) }

// Decimals reads the token's decimals() value.
func (e *EVM) Decimals(ctx context.Context) (uint8, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, wrapRPC("decimals", err)
	}
	if len(out) == 0 {
		return 0, &Error{Op: "decimals", Err: errors.New("empty result")}
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// TokenBalance reads balanceOf for the paying account at the latest block.
func (e *EVM) TokenBalance(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", e.from); err != nil {
		return nil, wrapRPC("balanceOf", err)
	}
	if len(out) == 0 {
		return nil, &Error{Op: "balanceOf", Err: errors.New("empty result")}
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// NativeBalance returns the paying account's native coin balance in wei.
func (e *EVM) NativeBalance(ctx context.Context) (*big.Int, error) {
	bal, err := e.client.BalanceAt(ctx, e.from, nil)
	if err != nil {
		return nil, wrapRPC("balance", err)
	}
	return bal, nil
}

// Transfer signs and sends an ERC20 transfer of amount base units to to.
func (e *EVM) Transfer(ctx context.Context, to string, amount *big.Int) (PendingTransfer, error) {
	if !IsEVMAddress(to) {
		return nil, &Error{Op: "transfer", Err: ErrInvalidAddress}
	}
	opts, err := bind.NewKeyedTransactorWithChainID(e.key, e.chainID)
	if err != nil {
		return nil, &Error{Op: "transfer", Err: err}
	}
	opts.Context = ctx

	tx, err := e.contract.Transact(opts, "transfer", common.HexToAddress(to), amount)
	if err != nil {
		return nil, wrapRPC("transfer", err)
	}
	return &evmPending{client: e.client, tx: tx}, nil
}

type evmPending struct {
	client Backend
	tx     *types.Transaction
}

// Hash returns the transaction hash.
func (p *evmPending) Hash() string {
	return p.tx.Hash().Hex()
}

// Wait polls for the receipt and returns its block number. A failed
// receipt is reported as CodeReverted.
func (p *evmPending) Wait(ctx context.Context) (uint64, error) {
	receipt, err := bind.WaitMined(ctx, p.client, p.tx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, wrapRPC("wait", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt.BlockNumber.Uint64(), &Error{
			Op:   "wait",
			Code: CodeReverted,
			Err:  fmt.Errorf("transaction %s reverted", p.Hash()),
		}
	}
	return receipt.BlockNumber.Uint64(), nil
}

// wrapRPC attaches the JSON-RPC error code when the node supplied one.
func wrapRPC(op string, err error) error {
	lerr := &Error{Op: op, Err: err}
	var rerr rpc.Error
	if errors.As(err, &rerr) {
		lerr.Code = strconv.Itoa(rerr.ErrorCode())
	}
	return lerr
}
