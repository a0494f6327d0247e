package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployrecon/internal/chains"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/report"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
)

func createReportCmd() *cobra.Command {
	var (
		addresses   string
		allNetworks bool
		offline     bool
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "List deployments and write the address book",
		Long: `List the recorded deployments of the project.

With --addresses, the mined deployments are written as an address book keyed
by contract name, with each entry's explorer verification status and link.
Verification status is read from the explorer for the selected network
unless --offline is set.

EXAMPLES:
  deployrecon report
  deployrecon report --addresses addresses.json
  deployrecon report --all --json
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(addresses, allNetworks, offline, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&addresses, "addresses", "", "write the address book to file")
	cmd.Flags().BoolVar(&allNetworks, "all", false, "include every network, not just the selected one")
	cmd.Flags().BoolVar(&offline, "offline", false, "do not query the explorer")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output manifests as JSON")

	return cmd
}

func runReport(addresses string, allNetworks, offline, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := context.Background()

	fs, err := a.manifests()
	if err != nil {
		return err
	}
	filter := deployments.ListFilter{}
	if !allNetworks {
		filter.Network = a.network.Name
	}
	manifests, err := fs.List(ctx, filter)
	if err != nil {
		return err
	}

	if addresses != "" {
		verified := a.verifiedLookup(ctx, offline)
		book := report.BuildAddressBook(manifests, verified, map[string]chains.Network{a.network.Name: a.network})
		f, err := os.Create(addresses)
		if err != nil {
			return fmt.Errorf("creating address book: %w", err)
		}
		defer f.Close()
		if err := book.Write(f); err != nil {
			return fmt.Errorf("writing address book: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✅ Wrote %d contract(s) to %s\n", len(book), addresses)
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(manifests)
	}

	if len(manifests) == 0 {
		fmt.Println("No deployments recorded")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NETWORK\tCONTRACT\tSTATUS\tADDRESS\tTX")
	for _, m := range manifests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.Network, m.Artifact.ContractName, m.Status, m.ContractAddress, shortHash(m.TransactionHash))
	}
	return w.Flush()
}

// verifiedLookup asks the explorer of the selected network. Addresses on
// other networks, and every address when offline, count as unverified.
func (a *app) verifiedLookup(ctx context.Context, offline bool) func(network, address string) bool {
	if offline {
		return nil
	}
	explorer, err := a.explorer()
	if err != nil {
		a.logger.Warn("verification status unavailable", "error", err)
		return nil
	}
	svc := a.verifier(explorer, nil, nil)
	return func(network, address string) bool {
		if network != a.network.Name {
			return false
		}
		res, err := svc.Status(ctx, address)
		if err != nil {
			a.logger.Warn("explorer status failed", "address", address, "error", err)
			return false
		}
		return res.Outcome == verification.OutcomeAlreadyVerified
	}
}
