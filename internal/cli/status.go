package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
)

func createStatusCmd() *cobra.Command {
	var (
		artifact   string
		history    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the deployment manifest",
		Long: `Show the recorded deployment manifest of the artifact on the selected network.

EXAMPLES:
  deployrecon status --network base
  deployrecon status --history
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(artifact, history, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&artifact, "artifact", "a", "", "artifact as <source path>:<contract> (default from config)")
	cmd.Flags().BoolVar(&history, "history", false, "include replaced deployments")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runStatus(artifactFlag string, history, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := context.Background()

	id, err := a.artifactRef(artifactFlag)
	if err != nil {
		return err
	}
	fs, err := a.manifests()
	if err != nil {
		return err
	}

	m, err := fs.Get(ctx, a.network.Name, id)
	if errors.Is(err, deployments.ErrNotFound) {
		fmt.Printf("%s has not been deployed to %s\n", id, a.network.Name)
		return nil
	}
	if err != nil {
		return err
	}

	var previous []deployments.Manifest
	if history {
		if previous, err = fs.History(ctx, a.network.Name, id); err != nil {
			return err
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"manifest": m, "history": previous})
	}

	fmt.Printf("%s on %s (chain %d)\n", id, m.Network, m.ChainID)
	printManifest(a.network, m)
	if m.DeployerAddress != "" {
		fmt.Printf("   deployer: %s\n", m.DeployerAddress)
	}
	if m.Prepared() && m.Status == deployments.StatusRequested {
		fmt.Printf("   calldata digest: %s (awaiting execution)\n", m.CalldataDigest)
	}
	fmt.Printf("   updated: %s\n", m.UpdatedAt.Format("2006-01-02 15:04:05 MST"))

	if len(previous) > 0 {
		fmt.Printf("\nReplaced deployments:\n")
		for _, p := range previous {
			fmt.Printf("  • %s %s %s (%s)\n", p.UpdatedAt.Format("2006-01-02"), p.Status, p.ContractAddress, shortHash(p.TransactionHash))
		}
	}
	return nil
}
