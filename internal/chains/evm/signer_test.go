package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployrecon/internal/chains"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeSignerClient struct {
	nonce   uint64
	sent    []*types.Transaction
	sendErr error
}

func (f *fakeSignerClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeSignerClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeSignerClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (f *fakeSignerClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeSignerClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func TestNewKeySigner(t *testing.T) {
	_, err := NewKeySigner(&fakeSignerClient{}, 8453, "", nil)
	assert.ErrorIs(t, err, ErrNoPrivateKey)

	_, err = NewKeySigner(&fakeSignerClient{}, 8453, "0xnothex", nil)
	assert.Error(t, err)

	s, err := NewKeySigner(&fakeSignerClient{}, 8453, "0x"+testKey, nil)
	require.NoError(t, err)
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), s.Address())
}

func TestKeySigner_SignAndBroadcast(t *testing.T) {
	client := &fakeSignerClient{nonce: 7}
	s, err := NewKeySigner(client, 84532, testKey, nil)
	require.NoError(t, err)

	data := []byte{0x60, 0x80, 0x60, 0x40}
	stx, err := s.SignCreation(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), stx.Nonce)
	assert.Equal(t, s.Address(), stx.From)
	assert.Equal(t, PredictCreateAddress(s.Address(), 7), stx.PredictedAddress)
	assert.Empty(t, client.sent, "signing must not broadcast")

	require.NoError(t, s.Broadcast(context.Background(), stx))
	require.Len(t, client.sent, 1)
	tx := client.sent[0]
	assert.Equal(t, stx.Hash, tx.Hash().Hex())
	assert.Nil(t, tx.To())
	assert.Equal(t, data, tx.Data())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, big.NewInt(21_000_000_000), tx.GasFeeCap())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(84532)), tx)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender.Hex())
}

func TestKeySigner_Broadcast_AlreadyKnown(t *testing.T) {
	client := &fakeSignerClient{}
	s, err := NewKeySigner(client, 1, testKey, nil)
	require.NoError(t, err)
	stx, err := s.SignCreation(context.Background(), []byte{0x00})
	require.NoError(t, err)

	client.sendErr = errors.New("already known")
	assert.NoError(t, s.Broadcast(context.Background(), stx))

	client.sendErr = errors.New("connection reset")
	err = s.Broadcast(context.Background(), stx)
	assert.True(t, chains.IsTransport(err))
}

func TestPrepareCreation(t *testing.T) {
	data := CreationData([]byte{0x60, 0x80}, []byte{0x01})
	assert.Equal(t, []byte{0x60, 0x80, 0x01}, data)

	p := PrepareCreation(data)
	assert.Equal(t, "0x608001", p.Data)
	assert.Equal(t, crypto.Keccak256Hash(data).Hex(), p.Digest)
	assert.Equal(t, 3, p.Size)
}
