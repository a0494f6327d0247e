package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployrecon/internal/chains"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/validation"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
)

// payloadFlags select what is submitted to the explorer.
type payloadFlags struct {
	flattened     string
	compiler      string
	optimizer     bool
	optimizerRuns int
	evmVersion    string
	viaIR         bool
	license       int
}

func (p *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.flattened, "flattened", "", "submit this flattened source file instead of Standard-JSON-Input")
	cmd.Flags().StringVar(&p.compiler, "compiler", "", "override the compiler version, e.g. v0.8.24+commit.e11b9ed9")
	cmd.Flags().BoolVar(&p.optimizer, "optimizer", false, "override whether the optimizer was enabled")
	cmd.Flags().IntVar(&p.optimizerRuns, "optimizer-runs", 0, "override the optimizer runs")
	cmd.Flags().StringVar(&p.evmVersion, "evm-version", "", "override the EVM version")
	cmd.Flags().BoolVar(&p.viaIR, "via-ir", false, "override the via-IR pipeline flag")
	cmd.Flags().IntVar(&p.license, "license-type", 0, "explorer license type code (default from config)")
}

// settings returns the artifact's settings with the changed flags applied,
// or nil when no override flag was given.
func (p *payloadFlags) settings(cmd *cobra.Command, artifact *chains.CompiledArtifact) (*verification.CompilerSettings, error) {
	flags := cmd.Flags()
	if !flags.Changed("compiler") && !flags.Changed("optimizer") && !flags.Changed("optimizer-runs") &&
		!flags.Changed("evm-version") && !flags.Changed("via-ir") {
		return nil, nil
	}
	s := verification.SettingsFromCompiler(artifact.Compiler)
	if flags.Changed("compiler") {
		if err := validation.ValidateCompilerVersion(p.compiler, false); err != nil {
			return nil, err
		}
		s.Version = p.compiler
	}
	if flags.Changed("optimizer") {
		s.OptimizerEnabled = p.optimizer
	}
	if flags.Changed("optimizer-runs") {
		s.OptimizerRuns = p.optimizerRuns
		if !flags.Changed("optimizer") {
			s.OptimizerEnabled = true
		}
	}
	if flags.Changed("evm-version") {
		s.EVMVersion = p.evmVersion
	}
	if flags.Changed("via-ir") {
		s.ViaIR = p.viaIR
	}
	return &s, nil
}

// payload returns the Standard-JSON-Input, or the flattened source when
// one is configured.
func (a *app) payload(p *payloadFlags, id chains.ArtifactID) (json.RawMessage, string, error) {
	if path := firstNonEmpty(p.flattened, a.project.Contract.Flattened); path != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading flattened source: %w", err)
		}
		return nil, string(src), nil
	}
	b, err := a.builder()
	if err != nil {
		return nil, "", err
	}
	input, err := b.StandardJSONInput(a.dir, id)
	if err != nil {
		return nil, "", fmt.Errorf("building standard json input: %w", err)
	}
	return input, "", nil
}

func (a *app) licenseType(p *payloadFlags) int {
	if p.license != 0 {
		return p.license
	}
	return a.project.Contract.LicenseType
}

// deployedManifest returns the Mined manifest for id, or nil.
func deployedManifest(ctx context.Context, fs deployments.Store, network string, id chains.ArtifactID) *deployments.Manifest {
	m, err := fs.Get(ctx, network, id)
	if err != nil || m.Status != deployments.StatusMined {
		return nil
	}
	return m
}

func createVerifyCmd() *cobra.Command {
	var (
		artifact string
		address  string
		args     []string
		record   bool
		payload  payloadFlags
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Submit source verification to the explorer",
		Long: `Submit the contract source to an Etherscan-compatible explorer.

An address the explorer already verified is reported as success without a
submission. The Standard-JSON-Input is built from the project build; use
--flattened to submit a single file instead. A compiler mismatch is reported
with the settings tried and the settings the artifact was compiled with;
rerun with override flags to try another candidate.

EXAMPLES:
  # Verify the deployed contract from the manifest
  deployrecon verify --network base

  # Verify an address deployed elsewhere
  deployrecon verify --address 0x1234... --arg "My Token" --arg MTK

  # Try a different optimizer setting
  deployrecon verify --optimizer-runs 10000
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd, artifact, address, args, record, &payload)
		},
	}

	cmd.Flags().StringVarP(&artifact, "artifact", "a", "", "artifact as <source path>:<contract> (default from config)")
	cmd.Flags().StringVar(&address, "address", "", "contract address (default: the manifest's)")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "constructor argument, repeat in ABI order (default: the manifest's)")
	cmd.Flags().BoolVar(&record, "record", false, "record the attempt in the history store")
	payload.register(cmd)

	return cmd
}

func runVerify(cmd *cobra.Command, artifactFlag, address string, argFlags []string, record bool, p *payloadFlags) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	id, err := a.artifactRef(artifactFlag)
	if err != nil {
		return err
	}
	artifact, err := a.loadArtifact(id)
	if err != nil {
		return err
	}
	fs, err := a.manifests()
	if err != nil {
		return err
	}

	req := verification.VerifyRequest{
		Network:     a.network.Name,
		Address:     address,
		Artifact:    artifact,
		LicenseType: a.licenseType(p),
	}
	if m := deployedManifest(ctx, fs, a.network.Name, id); m != nil {
		if req.Address == "" || strings.EqualFold(req.Address, m.ContractAddress) {
			req.Address = m.ContractAddress
			req.ConstructorArgs = deployments.Values(m.ConstructorArgs)
			req.TxHash = m.TransactionHash
		}
	}
	if req.Address == "" {
		return fmt.Errorf("no contract address: pass --address or deploy first")
	}
	if len(argFlags) > 0 {
		req.ConstructorArgs = argFlags
	} else if req.ConstructorArgs == nil {
		req.ConstructorArgs = deployments.Values(a.project.Contract.ConstructorArgs)
	}
	if req.Settings, err = p.settings(cmd, artifact); err != nil {
		return err
	}
	if req.Input, req.FlattenedSource, err = a.payload(p, id); err != nil {
		return err
	}

	explorer, err := a.explorer()
	if err != nil {
		return err
	}
	reader, client, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	var attempts verification.AttemptStore
	if record {
		st, err := a.history(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		attempts = st
	}

	fmt.Printf("🔍 Verifying %s at %s on %s...\n", id.ContractName, req.Address, a.network.Name)
	res, err := a.verifier(explorer, reader, attempts).Verify(ctx, req)
	if err != nil {
		return err
	}
	printVerification(a.network, req.Address, res)
	if !res.Outcome.Succeeded() {
		return ErrRunFailed
	}
	return nil
}

func printVerification(network chains.Network, address string, res *verification.Result) {
	switch res.Outcome {
	case verification.OutcomeAlreadyVerified:
		fmt.Println("✅ Already verified")
	case verification.OutcomeSubmitted:
		fmt.Printf("✅ Verified (%d status checks)\n", res.Checks)
	case verification.OutcomeNotAttempted:
		fmt.Printf("➖ Not attempted: %s\n", res.Reason)
		return
	default:
		fmt.Printf("❌ Verification failed: %s\n", res.Failure)
		if err := res.Err(); err != nil {
			fmt.Printf("   %v\n", err)
		}
		if res.Failure == verification.FailureCompilerMismatch {
			if res.Attempted != nil {
				fmt.Printf("   attempted: %s\n", res.Attempted)
			}
			if res.Expected != nil {
				fmt.Printf("   artifact:  %s\n", res.Expected)
			}
		}
		if res.Failure.Retryable() {
			fmt.Println("   The explorer may accept the same input later; rerun verify.")
		}
		return
	}
	if link := network.AddressURL(address); link != "" {
		fmt.Printf("   %s\n", link)
	}
}
