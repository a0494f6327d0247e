package chains

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArtifactID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    ArtifactID
		wantErr bool
	}{
		{
			name: "qualified",
			in:   "src/CodeDAOToken.sol:CodeDAOToken",
			want: ArtifactID{SourcePath: "src/CodeDAOToken.sol", ContractName: "CodeDAOToken"},
		},
		{
			name: "bare name",
			in:   "CodeDAOToken",
			want: ArtifactID{ContractName: "CodeDAOToken"},
		},
		{name: "empty", in: "  ", wantErr: true},
		{name: "missing name", in: "src/A.sol:", wantErr: true},
		{name: "missing path", in: ":A", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArtifactID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestEVMCompiler_Equivalent(t *testing.T) {
	base := EVMCompiler{
		Version:    "v0.8.20+commit.a1b10012",
		Optimizer:  OptimizerConfig{Enabled: true, Runs: 10000},
		EVMVersion: "paris",
	}

	same := base
	same.Version = "0.8.20+commit.a1b10012"
	assert.True(t, base.Equivalent(same))

	runs := base
	runs.Optimizer.Runs = 200
	assert.False(t, base.Equivalent(runs))

	off := base
	off.Optimizer = OptimizerConfig{}
	offOther := off
	offOther.Optimizer.Runs = 200
	assert.True(t, off.Equivalent(offOther), "runs are irrelevant when the optimizer is off")

	evm := base
	evm.EVMVersion = "shanghai"
	assert.False(t, base.Equivalent(evm))
}

func TestVerifyResult_Err(t *testing.T) {
	assert.NoError(t, (&VerifyResult{Verdict: ExactMatch}).Err())
	assert.NoError(t, (&VerifyResult{Verdict: MatchModuloMetadata}).Err())
	assert.ErrorIs(t, (&VerifyResult{Verdict: Mismatch}).Err(), ErrBytecodeMismatch)
	assert.ErrorIs(t, (&VerifyResult{Verdict: NoCodeAtAddress}).Err(), ErrNoCodeAtAddress)
}

func TestErrors(t *testing.T) {
	revert := fmt.Errorf("reading name: %w", &RevertError{Method: "name", Reason: "paused"})
	assert.ErrorIs(t, revert, ErrCallReverted)
	assert.False(t, IsTransport(revert))

	transport := fmt.Errorf("reading code: %w", &TransportError{Op: "eth_getCode", Err: errors.New("dial tcp: refused")})
	assert.True(t, IsTransport(transport))
	assert.NotErrorIs(t, transport, ErrCallReverted)
}

func TestLookupNetwork(t *testing.T) {
	n, err := LookupNetwork("base", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(8453), n.ChainID)
	assert.Equal(t, "https://basescan.org/address/0xabc#code", n.AddressURL("0xabc"))

	n, err = LookupNetwork("base-sepolia", &Network{RPCURL: "http://localhost:8545"})
	require.NoError(t, err)
	assert.Equal(t, uint64(84532), n.ChainID)
	assert.Equal(t, "http://localhost:8545", n.RPCURL)

	_, err = LookupNetwork("nowhere", nil)
	assert.ErrorIs(t, err, ErrUnknownNetwork)

	n, err = LookupNetwork("anvil", &Network{ChainID: 31337, RPCURL: "http://localhost:8545"})
	require.NoError(t, err)
	assert.Equal(t, "anvil", n.Name)

	_, err = LookupNetwork("custom", &Network{RPCURL: "http://x"})
	assert.Error(t, err)
}
