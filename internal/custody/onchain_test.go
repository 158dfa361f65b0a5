package custody

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKey is a throwaway private key for signing in tests.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// mockEthClient records sent transactions.
type mockEthClient struct {
	sent    []*types.Transaction
	sendErr error
}

func (m *mockEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (m *mockEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockEthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 60000, nil
}

func (m *mockEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, tx)
	return nil
}

func (m *mockEthClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return common.LeftPadBytes(big.NewInt(42).Bytes(), 32), nil
}

func (m *mockEthClient) Close() {}

func newTestAdapter(t *testing.T, client EthClient) *OnchainAdapter {
	t.Helper()
	a, err := NewOnchain(OnchainConfig{
		CustodyKey: testKey,
		ChainID:    84532,
	}, WithClient(client))
	require.NoError(t, err)
	return a
}

func TestNewOnchain_InvalidKey(t *testing.T) {
	_, err := NewOnchain(OnchainConfig{CustodyKey: "too-short", ChainID: 1}, WithClient(&mockEthClient{}))
	assert.ErrorIs(t, err, ErrInvalidCustodyKey)
}

func TestNewOnchain_AcceptsPrefixedKey(t *testing.T) {
	a, err := NewOnchain(OnchainConfig{CustodyKey: "0x" + testKey, ChainID: 1}, WithClient(&mockEthClient{}))
	require.NoError(t, err)
	assert.NotEmpty(t, a.Address())
}

func TestOnchain_NativeTransfer(t *testing.T) {
	client := &mockEthClient{}
	a := newTestAdapter(t, client)

	to := "0x00000000000000000000000000000000000000bb"
	err := a.Transfer(context.Background(), AssetNative, "ignored", to, big.NewInt(1000))
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, common.HexToAddress(to), *tx.To())
	assert.Equal(t, int64(1000), tx.Value().Int64())
	assert.Equal(t, uint64(7), tx.Nonce())
}

func TestOnchain_TokenTransfer(t *testing.T) {
	client := &mockEthClient{}
	a := newTestAdapter(t, client)

	token := "0x036cbd53842c5426634e7929541ec2318f3dcf7e"
	to := "0x00000000000000000000000000000000000000bb"
	err := a.Transfer(context.Background(), token, "ignored", to, big.NewInt(500))
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	// Token transfers go to the token contract with zero native value
	assert.Equal(t, common.HexToAddress(token), *tx.To())
	assert.Equal(t, int64(0), tx.Value().Int64())
	assert.NotEmpty(t, tx.Data())
}

func TestOnchain_SendFailureWrapped(t *testing.T) {
	client := &mockEthClient{sendErr: errors.New("rpc down")}
	a := newTestAdapter(t, client)

	err := a.Transfer(context.Background(), AssetNative, "x",
		"0x00000000000000000000000000000000000000bb", big.NewInt(1))
	require.Error(t, err)

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "send", terr.Op)
	assert.NotEmpty(t, terr.TxHash)
}

func TestOnchain_RejectsBadInput(t *testing.T) {
	a := newTestAdapter(t, &mockEthClient{})
	ctx := context.Background()

	assert.ErrorIs(t, a.Transfer(ctx, AssetNative, "x", "0xbb", big.NewInt(0)), ErrInvalidAmount)
	assert.Error(t, a.Transfer(ctx, AssetNative, "x", "not-an-address", big.NewInt(1)))
	assert.ErrorIs(t, a.Transfer(ctx, "not-an-asset", "x",
		"0x00000000000000000000000000000000000000bb", big.NewInt(1)), ErrAssetUnsupported)
}

func TestOnchain_BalanceOf(t *testing.T) {
	a := newTestAdapter(t, &mockEthClient{})
	bal, err := a.BalanceOf(context.Background(), common.HexToAddress("0x036cbd53842c5426634e7929541ec2318f3dcf7e"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())
}

func TestOnchain_BreakerTripsAfterConsecutiveFailures(t *testing.T) {
	client := &mockEthClient{sendErr: errors.New("rpc down")}
	a := newTestAdapter(t, client)
	ctx := context.Background()
	to := "0x00000000000000000000000000000000000000bb"

	for i := 0; i < 5; i++ {
		err := a.Transfer(ctx, AssetNative, "x", to, big.NewInt(1))
		var terr *TransferError
		require.ErrorAs(t, err, &terr, "attempt %d should reach the client", i)
	}

	// Circuit is open now: the next leg fails fast without touching RPC.
	err := a.Transfer(ctx, AssetNative, "x", to, big.NewInt(1))
	assert.ErrorIs(t, err, ErrRPCUnavailable)
}

func TestOnchain_BreakerResetsOnSuccess(t *testing.T) {
	client := &mockEthClient{sendErr: errors.New("rpc down")}
	a := newTestAdapter(t, client)
	ctx := context.Background()
	to := "0x00000000000000000000000000000000000000bb"

	for i := 0; i < 4; i++ {
		require.Error(t, a.Transfer(ctx, AssetNative, "x", to, big.NewInt(1)))
	}

	client.sendErr = nil
	require.NoError(t, a.Transfer(ctx, AssetNative, "x", to, big.NewInt(1)))

	// Failure count reset; more failures are needed to trip again.
	client.sendErr = errors.New("rpc down")
	for i := 0; i < 4; i++ {
		err := a.Transfer(ctx, AssetNative, "x", to, big.NewInt(1))
		var terr *TransferError
		require.ErrorAs(t, err, &terr)
	}
}
