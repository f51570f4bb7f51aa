package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsEVMAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"0x72dA30dB47C0999F2891cD328Fc45cB3FffBFDa3", true},
		{"0x72da30db47c0999f2891cd328fc45cb3fffbfda3", true},
		{"0x72DA30DB47C0999F2891CD328FC45CB3FFFBFDA3", true},
		{"72da30db47c0999f2891cd328fc45cb3fffbfda3", true},
		{"0x72dA30dB47C0999F2891cD328Fc45cB3FffBFDA3", false}, // bad checksum
		{"0x72da30db47c0999f2891cd328fc45cb3fffbfd", false},
		{"0x72da30db47c0999f2891cd328fc45cb3fffbfda3ff", false},
		{"0x0000000000000000000000000000000000000000", false},
		{"not-an-address", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEVMAddress(tt.addr))
		})
	}
}

func TestParseEVMKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := fmt.Sprintf("%x", crypto.FromECDSA(key))

	for _, in := range []string{hexKey, "0x" + hexKey, " " + hexKey + "\n"} {
		parsed, err := ParseEVMKey(in)
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))
	}

	_, err = ParseEVMKey("deadbeef")
	assert.Error(t, err)
	_, err = ParseEVMKey("")
	assert.Error(t, err)
}

func TestReasonCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", &Error{Op: "transfer", Code: "-32000", Err: errors.New("nonce too low")})
	assert.Equal(t, "-32000", ReasonCode(err))
	assert.Equal(t, "", ReasonCode(errors.New("plain")))
	assert.Contains(t, err.Error(), "code -32000")
}

type codedErr struct{}

func (codedErr) Error() string  { return "execution reverted" }
func (codedErr) ErrorCode() int { return 3 }

func TestWrapRPC(t *testing.T) {
	err := wrapRPC("transfer", codedErr{})
	assert.Equal(t, "3", ReasonCode(err))

	err = wrapRPC("balance", errors.New("connection refused"))
	assert.Equal(t, "", ReasonCode(err))
	assert.ErrorContains(t, err, "connection refused")
}

// chainStub answers the token's view calls from memory and mines every
// accepted transaction into block with receipt status.
type chainStub struct {
	mu       sync.Mutex
	abi      abi.ABI
	decimals uint8
	balances map[common.Address]*big.Int
	native   *big.Int
	block    int64
	status   uint64
	mine     bool
	sendErr  error
	nonce    uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
}

func newChainStub(t *testing.T) *chainStub {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)
	return &chainStub{
		abi:      parsed,
		decimals: 6,
		balances: make(map[common.Address]*big.Int),
		native:   big.NewInt(0),
		block:    42,
		status:   types.ReceiptStatusSuccessful,
		mine:     true,
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (c *chainStub) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (c *chainStub) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	method, err := c.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "decimals":
		return method.Outputs.Pack(c.decimals)
	case "balanceOf":
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		bal, ok := c.balances[args[0].(common.Address)]
		if !ok {
			bal = new(big.Int)
		}
		return method.Outputs.Pack(bal)
	}
	return nil, fmt.Errorf("unexpected call %s", method.Name)
}

func (c *chainStub) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(c.block)}, nil
}

func (c *chainStub) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (c *chainStub) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce, nil
}

func (c *chainStub) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *chainStub) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *chainStub) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (c *chainStub) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, tx)
	c.nonce++
	if c.mine {
		c.receipts[tx.Hash()] = &types.Receipt{
			Status:      c.status,
			TxHash:      tx.Hash(),
			BlockNumber: big.NewInt(c.block),
		}
	}
	return nil
}

func (c *chainStub) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (c *chainStub) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

func (c *chainStub) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (c *chainStub) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return c.native, nil
}

var testToken = common.HexToAddress("0x72dA30dB47C0999F2891cD328Fc45cB3FffBFDa3")

func newStubEVM(t *testing.T) (*EVM, *chainStub) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	stub := newChainStub(t)
	e, err := NewEVM(stub, key, testToken, big.NewInt(10143), "monad-testnet")
	require.NoError(t, err)
	return e, stub
}

func TestEVM_Accessors(t *testing.T) {
	e, _ := newStubEVM(t)
	assert.Equal(t, testToken.Hex(), e.TokenContract())
	assert.Equal(t, "monad-testnet", e.Network())
	assert.Equal(t, uint8(18), e.NativeDecimals())
	assert.True(t, IsEVMAddress(e.Address()))
	assert.False(t, e.ValidateAddress("0x0000000000000000000000000000000000000000"))
	e.Close()
}

func TestEVM_DecimalsAndBalances(t *testing.T) {
	e, stub := newStubEVM(t)
	stub.balances[e.from] = big.NewInt(2_500_000)
	stub.native = big.NewInt(1e18)

	decimals, err := e.Decimals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(6), decimals)

	bal, err := e.TokenBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2500000", bal.String())

	native, err := e.NativeBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", native.String())
}

func TestEVM_TransferConfirmed(t *testing.T) {
	e, stub := newStubEVM(t)
	to := "0x2222222222222222222222222222222222222222"

	pending, err := e.Transfer(context.Background(), to, big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Len(t, stub.sent, 1)

	tx := stub.sent[0]
	assert.Equal(t, tx.Hash().Hex(), pending.Hash())
	require.NotNil(t, tx.To())
	assert.Equal(t, testToken, *tx.To())
	assert.Equal(t, 0, tx.ChainId().Cmp(big.NewInt(10143)))

	method, err := stub.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "transfer", method.Name)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(to), args[0])
	assert.Equal(t, "1000000", args[1].(*big.Int).String())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(10143)), tx)
	require.NoError(t, err)
	assert.Equal(t, e.Address(), sender.Hex())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	block, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), block)
}

func TestEVM_TransferReverted(t *testing.T) {
	e, stub := newStubEVM(t)
	stub.status = types.ReceiptStatusFailed

	pending, err := e.Transfer(context.Background(), "0x2222222222222222222222222222222222222222", big.NewInt(1))
	require.NoError(t, err)

	block, err := pending.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeReverted, ReasonCode(err))
	assert.ErrorContains(t, err, pending.Hash())
	assert.Equal(t, uint64(42), block)
}

func TestEVM_WaitHonoursContext(t *testing.T) {
	e, stub := newStubEVM(t)
	stub.mine = false

	pending, err := e.Transfer(context.Background(), "0x2222222222222222222222222222222222222222", big.NewInt(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pending.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEVM_TransferRejectedByNode(t *testing.T) {
	e, stub := newStubEVM(t)
	stub.sendErr = codedErr{}

	_, err := e.Transfer(context.Background(), "0x2222222222222222222222222222222222222222", big.NewInt(1))
	require.Error(t, err)
	assert.Equal(t, "3", ReasonCode(err))
	assert.Empty(t, stub.sent)
}

func TestEVM_TransferInvalidAddress(t *testing.T) {
	e, stub := newStubEVM(t)

	_, err := e.Transfer(context.Background(), "not-an-address", big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Empty(t, stub.sent)
}
