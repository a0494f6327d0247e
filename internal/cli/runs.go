package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployrecon/pkg/client"
)

func createRunsCmd() *cobra.Command {
	var (
		server     string
		address    string
		runID      string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List reconciliation runs recorded by a deployrecon server",
		Long: `List the reconciliation runs a deployrecon server has recorded, or show one
run with its full report.

The server URL is taken from --server or DEPLOYRECON_SERVER.

EXAMPLES:
  deployrecon runs --server http://localhost:8080
  deployrecon runs --address 0x1234...
  deployrecon runs --id 6f1c... --json
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(firstNonEmpty(server, os.Getenv("DEPLOYRECON_SERVER")), address, runID, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "deployrecon server URL")
	cmd.Flags().StringVar(&address, "address", "", "only runs for this contract address")
	cmd.Flags().StringVar(&runID, "id", "", "show a single run")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runRuns(server, address, runID string, limit int, jsonOutput bool) error {
	if server == "" {
		return errors.New("no server configured: use --server or DEPLOYRECON_SERVER")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	c := client.New(server)

	if runID != "" {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}
		if jsonOutput {
			return printJSON(run)
		}
		fmt.Printf("Run %s\n", run.ID)
		fmt.Printf("   %s at %s on %s\n", run.Artifact, run.Address, run.Network)
		fmt.Printf("   bytecode: %s\n", run.Verdict)
		fmt.Printf("   verification: %s\n", run.Verification)
		fmt.Printf("   overall: %s\n", passFail(run.Overall))
		fmt.Printf("   at: %s\n", run.CreatedAt)
		return nil
	}

	runs, err := c.ListRuns(ctx, client.ListOptions{Network: networkName, Address: address, Limit: limit})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if jsonOutput {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNETWORK\tARTIFACT\tADDRESS\tVERDICT\tOVERALL\tAT")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Network, r.Artifact, r.Address, r.Verdict, passFail(r.Overall), r.CreatedAt)
	}
	return w.Flush()
}

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
