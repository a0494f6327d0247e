package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
)

type deployOptions struct {
	artifact string
	args     []string
	prepare  bool
	executor string
	out      string
	txHash   string
	force    bool
}

func createDeployCmd() *cobra.Command {
	var opts deployOptions

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the contract and wait until it is mined",
		Long: `Deploy a compiled contract and record its manifest.

The manifest in the manifest directory is written after every state change.
An interrupted deployment resumes polling on the next run instead of
submitting a second transaction. A deployment that times out is marked
Failed and is only replaced with --force.

EXAMPLES:
  # Deploy with the key in DEPLOYER_PRIVATE_KEY
  deployrecon deploy --network base-sepolia

  # Prepare creation calldata for a multisig
  deployrecon deploy --prepare --executor 0xSafe... --out calldata.json

  # Attach the transaction the multisig executed
  deployrecon deploy --tx 0xabc...
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.artifact, "artifact", "a", "", "artifact as <source path>:<contract> (default from config)")
	cmd.Flags().StringArrayVar(&opts.args, "arg", nil, "constructor argument, repeat in ABI order (default from config)")
	cmd.Flags().BoolVar(&opts.prepare, "prepare", false, "write creation calldata for another account instead of sending")
	cmd.Flags().StringVar(&opts.executor, "executor", "", "account that will execute the prepared calldata")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write prepared calldata to file (default: stdout)")
	cmd.Flags().StringVar(&opts.txHash, "tx", "", "attach an already submitted deployment transaction")
	cmd.Flags().BoolVar(&opts.force, "force", false, "replace a mined or failed deployment")
	cmd.MarkFlagsMutuallyExclusive("prepare", "tx")

	return cmd
}

func runDeploy(opts deployOptions) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	id, err := a.artifactRef(opts.artifact)
	if err != nil {
		return err
	}
	artifact, err := a.loadArtifact(id)
	if err != nil {
		return err
	}
	args, err := a.constructorArgs(artifact, opts.args)
	if err != nil {
		return err
	}
	fs, err := a.manifests()
	if err != nil {
		return err
	}

	if opts.prepare {
		return runPrepare(ctx, a, fs, deployments.PrepareRequest{
			Artifact:        artifact,
			Network:         a.network.Name,
			ChainID:         a.network.ChainID,
			ConstructorArgs: args,
			Executor:        opts.executor,
			Force:           opts.force,
		}, opts.out)
	}

	reader, client, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	var m *deployments.Manifest
	if opts.txHash != "" {
		svc := a.orchestrator(reader, nil, fs)
		fmt.Printf("⏳ Waiting for %s on %s...\n", shortHash(opts.txHash), a.network.Name)
		m, err = svc.Track(ctx, deployments.TrackRequest{
			Artifact:        artifact,
			Network:         a.network.Name,
			ChainID:         a.network.ChainID,
			ConstructorArgs: args,
			TxHash:          opts.txHash,
			Force:           opts.force,
		})
	} else {
		signer, serr := evm.NewKeySigner(client, a.network.ChainID, a.cfg.Deploy.PrivateKey, a.logger)
		if serr != nil {
			return fmt.Errorf("%w (set DEPLOYER_PRIVATE_KEY, or use --prepare for a multisig)", serr)
		}
		svc := a.orchestrator(reader, signer, fs)
		fmt.Printf("🚀 Deploying %s to %s from %s...\n", id, a.network.Name, signer.Address())
		m, err = svc.Deploy(ctx, deployments.DeployRequest{
			Artifact:        artifact,
			Network:         a.network.Name,
			ChainID:         a.network.ChainID,
			ConstructorArgs: args,
			Force:           opts.force,
		})
	}

	if m != nil {
		printManifest(a.network, m)
	}
	if err != nil {
		if errors.Is(err, deployments.ErrAlreadyDeployed) {
			fmt.Println("   Already deployed; use --force to deploy a new instance")
			return nil
		}
		if m != nil && m.Status == deployments.StatusPending && chains.IsTransport(err) {
			fmt.Println("   RPC endpoint unreachable; rerun deploy to resume polling")
		}
		return err
	}
	if m.Status != deployments.StatusMined {
		return ErrRunFailed
	}
	return nil
}

func runPrepare(ctx context.Context, a *app, fs deployments.Store, req deployments.PrepareRequest, out string) error {
	svc := a.orchestrator(nil, nil, fs)
	m, prepared, err := svc.Prepare(ctx, req)
	if err != nil {
		if m != nil {
			printManifest(a.network, m)
		}
		return err
	}

	data, err := json.MarshalIndent(struct {
		Network  string `json:"network"`
		ChainID  uint64 `json:"chainId"`
		Artifact string `json:"artifact"`
		Executor string `json:"executor,omitempty"`
		*evm.PreparedCreation
	}{a.network.Name, a.network.ChainID, req.Artifact.ID().String(), req.Executor, prepared}, "", "  ")
	if err != nil {
		return err
	}

	if out == "" {
		fmt.Println(string(data))
	} else {
		if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing calldata: %w", err)
		}
		fmt.Printf("✅ Wrote creation calldata to %s\n", out)
	}
	fmt.Fprintf(os.Stderr, "   Digest: %s (%d bytes)\n", prepared.Digest, prepared.Size)
	fmt.Fprintf(os.Stderr, "   Once executed, run: deployrecon deploy --tx <hash>\n")
	return nil
}

func printManifest(network chains.Network, m *deployments.Manifest) {
	switch m.Status {
	case deployments.StatusMined:
		fmt.Printf("✅ %s mined at %s (block %d)\n", m.Artifact.ContractName, m.ContractAddress, m.MinedBlockNumber)
		if link := network.AddressURL(m.ContractAddress); link != "" {
			fmt.Printf("   %s\n", link)
		}
	case deployments.StatusFailed:
		fmt.Printf("❌ %s failed: %s\n", m.Artifact.ContractName, m.FailureReason)
		if m.FailureDetail != "" {
			fmt.Printf("   %s\n", m.FailureDetail)
		}
	case deployments.StatusPending:
		fmt.Printf("⏳ %s pending\n", m.Artifact.ContractName)
	default:
		fmt.Printf("📝 %s %s\n", m.Artifact.ContractName, m.Status)
	}
	if m.TransactionHash != "" {
		fmt.Printf("   tx: %s\n", m.TransactionHash)
	}
}
