package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/base"
	"github.com/stellar/go/support/render/problem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stellarFixture struct {
	client *horizonclient.MockClient
	master *keypair.Full
	issuer string
	ledger *Stellar
}

func newStellarFixture(t *testing.T) *stellarFixture {
	t.Helper()
	master := keypair.MustRandom()
	issuer := keypair.MustRandom().Address()
	client := &horizonclient.MockClient{}

	account := hProtocol.Account{
		AccountID: master.Address(),
		Sequence:  100,
		Balances: []hProtocol.Balance{
			{Balance: "25.5000000", Asset: base.Asset{Type: "native"}},
			{Balance: "1000.0000000", Asset: base.Asset{Type: "credit_alphanum4", Code: "USDC", Issuer: issuer}},
		},
	}
	client.On("AccountDetail", horizonclient.AccountRequest{AccountID: master.Address()}).Return(account, nil)

	l, err := DialStellar(context.Background(), StellarConfig{
		Client:  client,
		Seed:    master.Seed(),
		Asset:   "USDC:" + issuer,
		Network: "testnet",
	})
	require.NoError(t, err)
	return &stellarFixture{client: client, master: master, issuer: issuer, ledger: l}
}

func TestDialStellar_RejectsBadSeed(t *testing.T) {
	_, err := DialStellar(context.Background(), StellarConfig{
		Client: &horizonclient.MockClient{},
		Seed:   "SNOTAREALSEED",
		Asset:  "USDC:" + keypair.MustRandom().Address(),
	})
	assert.Error(t, err)
}

func TestDialStellar_MissingAccount(t *testing.T) {
	master := keypair.MustRandom()
	client := &horizonclient.MockClient{}
	client.On("AccountDetail", mock.Anything).Return(hProtocol.Account{}, errors.New("not found"))

	_, err := DialStellar(context.Background(), StellarConfig{
		Client: client,
		Seed:   master.Seed(),
		Asset:  "USDC:" + keypair.MustRandom().Address(),
	})
	assert.ErrorContains(t, err, "load master account")
}

func TestParseStellarAsset(t *testing.T) {
	issuer := keypair.MustRandom().Address()

	asset, err := ParseStellarAsset("USDC:" + issuer)
	require.NoError(t, err)
	assert.Equal(t, "USDC", asset.Code)
	assert.Equal(t, issuer, asset.Issuer)

	for _, bad := range []string{"", "USDC", "USDC:", ":" + issuer, "TOOLONGASSETCODE:" + issuer, "USDC:GBAD"} {
		_, err := ParseStellarAsset(bad)
		assert.Error(t, err, bad)
	}
}

func TestStellar_Balances(t *testing.T) {
	f := newStellarFixture(t)
	ctx := context.Background()

	decimals, err := f.ledger.Decimals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), decimals)

	token, err := f.ledger.TokenBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10000000000", token.String())

	native, err := f.ledger.NativeBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "255000000", native.String())

	assert.Equal(t, f.master.Address(), f.ledger.Address())
	assert.Equal(t, "USDC:"+f.issuer, f.ledger.TokenContract())
}

func TestStellar_ValidateAddress(t *testing.T) {
	f := newStellarFixture(t)
	assert.True(t, f.ledger.ValidateAddress(keypair.MustRandom().Address()))
	assert.False(t, f.ledger.ValidateAddress("not-an-address"))
	assert.False(t, f.ledger.ValidateAddress(f.master.Seed()))
}

func TestStellar_TransferAndWait(t *testing.T) {
	f := newStellarFixture(t)
	f.client.On("SubmitTransaction", mock.AnythingOfType("*txnbuild.Transaction")).
		Return(hProtocol.Transaction{Ledger: 4242}, nil)

	pending, err := f.ledger.Transfer(context.Background(), keypair.MustRandom().Address(), big.NewInt(1500000000))
	require.NoError(t, err)
	assert.Len(t, pending.Hash(), 64)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	block, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), block)
	f.client.AssertCalled(t, "SubmitTransaction", mock.AnythingOfType("*txnbuild.Transaction"))
}

func TestStellar_TransferWaitsForInflightSubmission(t *testing.T) {
	f := newStellarFixture(t)
	release := make(chan time.Time)
	f.client.On("SubmitTransaction", mock.AnythingOfType("*txnbuild.Transaction")).
		WaitUntil(release).
		Return(hProtocol.Transaction{Ledger: 7}, nil)

	first, err := f.ledger.Transfer(context.Background(), keypair.MustRandom().Address(), big.NewInt(10))
	require.NoError(t, err)

	// The second payment would reuse the first one's sequence number.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = f.ledger.Transfer(ctx, keypair.MustRandom().Address(), big.NewInt(10))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, first.Hash())
	f.client.AssertNumberOfCalls(t, "AccountDetail", 2)

	close(release)
	second, err := f.ledger.Transfer(context.Background(), keypair.MustRandom().Address(), big.NewInt(10))
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash(), second.Hash())

	block, err := first.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), block)
	f.client.AssertNumberOfCalls(t, "AccountDetail", 3)
}

func TestStellar_TransferRejected(t *testing.T) {
	f := newStellarFixture(t)
	herr := &horizonclient.Error{Problem: problem.P{
		Title:  "Transaction Failed",
		Detail: "The transaction failed when submitted to the stellar network.",
		Extras: map[string]interface{}{
			"result_codes": map[string]interface{}{
				"transaction": "tx_failed",
				"operations":  []interface{}{"op_no_trust"},
			},
		},
	}}
	f.client.On("SubmitTransaction", mock.AnythingOfType("*txnbuild.Transaction")).
		Return(hProtocol.Transaction{}, herr)

	pending, err := f.ledger.Transfer(context.Background(), keypair.MustRandom().Address(), big.NewInt(10))
	require.NoError(t, err)

	_, err = pending.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, "tx_failed:op_no_trust", ReasonCode(err))
	assert.ErrorContains(t, err, "failed when submitted")
}

func TestStellar_TransferInvalidInput(t *testing.T) {
	f := newStellarFixture(t)

	_, err := f.ledger.Transfer(context.Background(), "not-an-address", big.NewInt(10))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	_, err = f.ledger.Transfer(context.Background(), keypair.MustRandom().Address(), huge)
	assert.Error(t, err)
	f.client.AssertNotCalled(t, "SubmitTransaction", mock.Anything)
}
