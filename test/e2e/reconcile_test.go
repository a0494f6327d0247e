//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
	"github.com/pendergraft/deployrecon/pkg/client"
)

const holder = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

// deployToken deploys Token through the orchestrator into the shared store
// and returns the mined manifest.
func deployToken(t *testing.T) *deployments.Manifest {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	signer, err := evm.NewKeySigner(testCtx.Client, testCtx.Network.ChainID, anvilKey, testCtx.Logger)
	require.NoError(t, err)

	svc := deployments.NewService(testCtx.Store, testCtx.Reader, signer, deployments.Options{
		PollTimeout:    time.Minute,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     time.Second,
		MaxAttempts:    60,
	}, testCtx.Logger)

	m, err := svc.Deploy(ctx, deployments.DeployRequest{
		Artifact: loadToken(t),
		Network:  testCtx.Network.Name,
		ChainID:  testCtx.Network.ChainID,
		ConstructorArgs: []deployments.ConstructorArg{
			{Type: "string", Value: "Recon Token"},
			{Type: "string", Value: "RCN"},
			{Type: "uint256", Value: "1000000e18"},
			{Type: "address", Value: holder},
		},
		Force: true,
	})
	require.NoError(t, err)
	require.Equal(t, deployments.StatusMined, m.Status, "deployment should be mined: %s", m.FailureDetail)
	require.NotEmpty(t, m.ContractAddress)
	return m
}

func tokenExpectations() *client.TokenExpectations {
	return &client.TokenExpectations{
		Name:        "Recon Token",
		Symbol:      "RCN",
		Decimals:    "18",
		TotalSupply: "1000000e18",
		Holder:      holder,
	}
}

func reconcileCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)
	return ctx
}

func TestReconcile_DeployedToken(t *testing.T) {
	m := deployToken(t)

	t.Run("manifest is served", func(t *testing.T) {
		got, err := testCtx.API.GetManifest(reconcileCtx(t), "anvil", tokenID.String())
		require.NoError(t, err)
		assert.Equal(t, "mined", got.Status)
		assert.True(t, strings.EqualFold(m.ContractAddress, got.ContractAddress))
		assert.Len(t, got.ConstructorArgs, 4)

		list, err := testCtx.API.ListManifests(reconcileCtx(t), client.ListOptions{Network: "anvil", Status: "mined"})
		require.NoError(t, err)
		assert.NotEmpty(t, list)
	})

	var rep *client.Report
	t.Run("reconcile passes", func(t *testing.T) {
		var err error
		rep, err = testCtx.API.Reconcile(reconcileCtx(t), client.ReconcileRequest{
			Artifact: tokenID.String(),
			Token:    tokenExpectations(),
			Checks: []client.Check{{
				Name:      "owner",
				Signature: "owner() returns (address)",
				Expect:    "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			}},
		})
		require.NoError(t, err)

		assert.True(t, rep.Overall, "failures: %v", rep.Failures)
		assert.True(t, chains.Verdict(rep.Bytecode.Verdict).Matched(), "verdict %s: %s", rep.Bytecode.Verdict, rep.Bytecode.Message)
		assert.Equal(t, string(verification.OutcomeAlreadyVerified), rep.Verification.Outcome)
		require.Len(t, rep.StateChecks.Results, 6)
		for _, r := range rep.StateChecks.Results {
			assert.True(t, r.Passed, "check %s: got %s, want %s", r.Name, r.Actual, r.Expected)
		}
		require.NotEmpty(t, rep.RunID)
	})

	t.Run("run is recorded", func(t *testing.T) {
		require.NotNil(t, rep)
		run, err := testCtx.API.GetRun(reconcileCtx(t), rep.RunID)
		require.NoError(t, err)
		assert.True(t, run.Overall)
		assert.True(t, strings.EqualFold(m.ContractAddress, run.Address))
		assert.NotEmpty(t, run.Report)

		runs, err := testCtx.API.ListRuns(reconcileCtx(t), client.ListOptions{Network: "anvil", Address: m.ContractAddress})
		require.NoError(t, err)
		assert.NotEmpty(t, runs)
	})

	t.Run("wrong expected state fails", func(t *testing.T) {
		expect := tokenExpectations()
		expect.TotalSupply = "999"
		failed, err := testCtx.API.Reconcile(reconcileCtx(t), client.ReconcileRequest{
			Artifact: tokenID.String(),
			Token:    expect,
		})
		require.NoError(t, err)
		assert.False(t, failed.Overall)
		assert.True(t, chains.Verdict(failed.Bytecode.Verdict).Matched())
		assert.NotEmpty(t, failed.Failures)
	})

	t.Run("unverified source fails", func(t *testing.T) {
		unverified.Store(strings.ToLower(m.ContractAddress), true)
		t.Cleanup(func() { unverified.Delete(strings.ToLower(m.ContractAddress)) })

		failed, err := testCtx.API.Reconcile(reconcileCtx(t), client.ReconcileRequest{Artifact: tokenID.String()})
		require.NoError(t, err)
		assert.False(t, failed.Overall)
		assert.Equal(t, string(verification.OutcomeNotAttempted), failed.Verification.Outcome)
	})
}

func TestReconcile_NoCode(t *testing.T) {
	// An externally owned account has no code
	rep, err := testCtx.API.Reconcile(reconcileCtx(t), client.ReconcileRequest{
		Artifact: tokenID.String(),
		Address:  holder,
	})
	require.NoError(t, err)
	assert.False(t, rep.Overall)
	assert.Equal(t, string(chains.NoCodeAtAddress), rep.Bytecode.Verdict)
}

func TestReconcile_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		req    client.ReconcileRequest
		status int
		code   string
	}{
		{"unknown artifact", client.ReconcileRequest{Artifact: "src/Missing.sol:Missing", Address: holder}, http.StatusNotFound, "ARTIFACT_NOT_FOUND"},
		{"bad address", client.ReconcileRequest{Artifact: tokenID.String(), Address: "0x1234"}, http.StatusBadRequest, "INVALID_ADDRESS"},
		{"bad artifact id", client.ReconcileRequest{Artifact: "src/Token.sol:"}, http.StatusBadRequest, "INVALID_ARTIFACT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testCtx.API.Reconcile(reconcileCtx(t), tt.req)
			var apiErr *client.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}
}

func TestRuns_NotFound(t *testing.T) {
	_, err := testCtx.API.GetRun(reconcileCtx(t), "00000000-0000-0000-0000-000000000000")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
