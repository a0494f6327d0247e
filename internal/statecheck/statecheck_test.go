package statecheck

import (
	"context"
	"encoding/json"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployrecon/internal/chains"
)

const (
	tokenAddress = "0x00000000000000000000000000000000000000Aa"
	holder       = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

func supply() *big.Int {
	s, _ := new(big.Int).SetString("100000000000000000000000000", 10)
	return s
}

// fakeReader answers view calls from a fixed table.
type fakeReader struct {
	values  map[string]any
	errs    map[string]error
	calls   atomic.Int32
	holders map[string]*big.Int
}

func (r *fakeReader) ChainID(ctx context.Context) (uint64, error) { return 8453, nil }
func (r *fakeReader) CodeAt(ctx context.Context, address string) ([]byte, error) {
	return []byte{0x60}, nil
}
func (r *fakeReader) Receipt(ctx context.Context, txHash string) (*chains.Receipt, error) {
	return nil, chains.ErrReceiptNotFound
}
func (r *fakeReader) TransactionInput(ctx context.Context, txHash string) ([]byte, error) {
	return nil, chains.ErrTransactionNotFound
}

func (r *fakeReader) Call(ctx context.Context, address string, abi json.RawMessage, method string, args ...any) ([]any, error) {
	r.calls.Add(1)
	if err := r.errs[method]; err != nil {
		return nil, err
	}
	if method == "balanceOf" {
		return []any{r.holders[args[0].(string)]}, nil
	}
	return []any{r.values[method]}, nil
}

func newTokenReader(holderBalance *big.Int) *fakeReader {
	return &fakeReader{
		values: map[string]any{
			"name":        "CodeDAO Token",
			"symbol":      "CODE",
			"decimals":    uint8(18),
			"totalSupply": supply(),
		},
		holders: map[string]*big.Int{holder: holderBalance},
	}
}

func snapshot() *chains.ChainSnapshot {
	return &chains.ChainSnapshot{Address: tokenAddress, IsContract: true, CallResults: make(map[chains.CallKey]any)}
}

func TestRun_TokenChecks(t *testing.T) {
	expect := TokenExpectations{
		Name:        "CodeDAO Token",
		Symbol:      "CODE",
		Decimals:    "18",
		TotalSupply: "100000000e18",
		Holder:      holder,
	}

	t.Run("all supply minted to holder", func(t *testing.T) {
		reader := newTokenReader(supply())
		snap := snapshot()
		results, err := NewRunner(reader, 4, nil).Run(context.Background(), snap, TokenChecks(expect))
		require.NoError(t, err)
		require.Len(t, results, 5)
		assert.True(t, AllPassed(results))
		assert.Equal(t, int32(5), reader.calls.Load())
		assert.Len(t, snap.CallResults, 5)

		balance := results[4]
		assert.Equal(t, CheckHolderBalance, balance.Name)
		assert.Equal(t, "all supply minted to designated holder", balance.Description)
		assert.Equal(t, supply().String(), balance.Actual)
	})

	t.Run("holder short of supply", func(t *testing.T) {
		results, err := NewRunner(newTokenReader(big.NewInt(1)), 4, nil).Run(context.Background(), snapshot(), TokenChecks(expect))
		require.NoError(t, err)
		assert.False(t, AllPassed(results))
		assert.False(t, results[4].Passed)
		assert.True(t, results[3].Passed)
	})

	t.Run("wrong symbol", func(t *testing.T) {
		e := expect
		e.Symbol = "CDAO"
		results, err := NewRunner(newTokenReader(supply()), 4, nil).Run(context.Background(), snapshot(), TokenChecks(e))
		require.NoError(t, err)
		assert.False(t, results[1].Passed)
		assert.Equal(t, "CODE", results[1].Actual)
		assert.Equal(t, "CDAO", results[1].Expected)
	})

	t.Run("unasserted values only need to be readable", func(t *testing.T) {
		results, err := NewRunner(newTokenReader(supply()), 1, nil).Run(context.Background(), snapshot(), TokenChecks(TokenExpectations{}))
		require.NoError(t, err)
		assert.Len(t, results, 4)
		assert.True(t, AllPassed(results))
	})
}

func TestRun_FailedCallFailsJoin(t *testing.T) {
	reader := newTokenReader(supply())
	reader.errs = map[string]error{"decimals": &chains.RevertError{Method: "decimals", Reason: "empty return data"}}

	results, err := NewRunner(reader, 4, nil).Run(context.Background(), snapshot(), TokenChecks(TokenExpectations{Holder: holder}))
	assert.ErrorIs(t, err, ErrChecksIncomplete)
	assert.ErrorIs(t, err, chains.ErrCallReverted)
	assert.Nil(t, results)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		checks  []Check
		wantErr bool
	}{
		{name: "preset", checks: TokenChecks(TokenExpectations{Holder: holder})},
		{name: "duplicate", checks: []Check{{Name: "a", Signature: "a() returns (uint256)"}, {Name: "a", Signature: "b() returns (uint256)"}}, wantErr: true},
		{name: "unknown reference", checks: []Check{{Name: "a", Signature: "a() returns (uint256)", EqualTo: "b"}}, wantErr: true},
		{name: "bad signature", checks: []Check{{Name: "a", Signature: "nope"}}, wantErr: true},
		{name: "missing name", checks: []Check{{Signature: "a()"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.checks)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEqualValues(t *testing.T) {
	assert.True(t, equalValues("100000000000000000000000000", "100000000e18"))
	assert.True(t, equalValues(holder, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.True(t, equalValues("18", "18"))
	assert.False(t, equalValues("CODE", "code"))
	assert.False(t, equalValues("1", "2"))
}
