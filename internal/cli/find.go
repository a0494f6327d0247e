package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployrecon/internal/chains/evm"
	"github.com/pendergraft/deployrecon/internal/validation"
)

func createFindCmd() *cobra.Command {
	var (
		deployer   string
		artifact   string
		depth      int
		nonce      int64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find contracts created by a deployer",
		Long: `Find the address of a contract whose deployment transaction was lost.

With --nonce the CREATE address is computed offline. Otherwise the deployer's
most recent nonces are scanned for addresses holding code, and each one is
compared against the artifact; matches are listed first.

EXAMPLES:
  deployrecon find --deployer 0xabc... --nonce 7
  deployrecon find --deployer 0xabc... --depth 50
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateAddress(deployer); err != nil {
				return fmt.Errorf("invalid --deployer: %w", err)
			}
			if nonce >= 0 {
				fmt.Println(evm.PredictCreateAddress(deployer, uint64(nonce)))
				return nil
			}
			return runFind(deployer, artifact, depth, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&deployer, "deployer", "", "deployer address")
	cmd.Flags().StringVarP(&artifact, "artifact", "a", "", "artifact to match candidates against (default from config)")
	cmd.Flags().IntVar(&depth, "depth", evm.DefaultScanDepth, "number of recent nonces to scan")
	cmd.Flags().Int64Var(&nonce, "nonce", -1, "compute the address for this nonce without scanning")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.MarkFlagRequired("deployer")

	return cmd
}

func runFind(deployer, artifactFlag string, depth int, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var runtime []byte
	var opts evm.CompareOptions
	if id, err := a.artifactRef(artifactFlag); err == nil {
		artifact, err := a.loadArtifact(id)
		if err != nil {
			a.logger.Warn("scanning without artifact comparison", "error", err)
		} else {
			runtime = artifact.RuntimeBytecode
			opts = evm.CompareOptions{
				Libraries:  a.project.Contract.Libraries,
				LinkRefs:   artifact.LinkRefs,
				Immutables: artifact.ImmutableRefs,
			}
		}
	}

	reader, client, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintf(os.Stderr, "🔍 Scanning up to %d nonces of %s on %s...\n", depth, deployer, a.network.Name)
	candidates, err := reader.FindCreations(ctx, deployer, runtime, opts, depth)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(candidates)
	}

	if len(candidates) == 0 {
		fmt.Println("No contracts found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NONCE\tADDRESS\tVERDICT")
	for _, c := range candidates {
		verdict := "-"
		if c.Result != nil {
			verdict = string(c.Result.Verdict)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", c.Nonce, c.Address, verdict)
	}
	return w.Flush()
}
