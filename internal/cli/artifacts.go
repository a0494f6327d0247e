package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployrecon/internal/chains"
)

func createArtifactsCmd() *cobra.Command {
	var (
		contracts  []string
		exclude    []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List the artifacts of the project build",
		Long: `List the compiled artifacts found in the project build output. Use the
printed id with --artifact or as [contract] artifact in deployrecon.toml.

EXAMPLES:
  deployrecon artifacts
  deployrecon artifacts --exclude Mock --exclude Test
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			b, err := a.builder()
			if err != nil {
				return err
			}
			if len(exclude) == 0 {
				exclude = a.project.Exclude
			}
			ids, err := b.Discover(a.dir, chains.DiscoverOptions{Contracts: contracts, Exclude: exclude})
			if err != nil {
				return err
			}

			if jsonOutput {
				out := make([]string, len(ids))
				for i, id := range ids {
					out[i] = id.String()
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Printf("%s project in %s\n\n", b.DisplayName(), a.dir)
			for _, id := range ids {
				fmt.Printf("  %s\n", id)
			}
			fmt.Printf("\n%d artifact(s)\n", len(ids))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&contracts, "contract", nil, "only these contract names")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "exclude contract name patterns (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}
