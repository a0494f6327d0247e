package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	networkName string
	rpcURL      string
	projectDir  string
	builderName string
	manifestDir string
	verbose     bool
)

// ErrRunFailed is returned when a command completed but its outcome is a
// failure: a Failed or Mismatch verdict, failed checks or a failed
// verification. The binary exits non-zero on it.
var ErrRunFailed = errors.New("run failed")

// Execute runs the CLI
func Execute(version string) error {
	rootCmd := &cobra.Command{
		Use:   "deployrecon",
		Short: "Deploy, verify and reconcile smart contracts",
		Long: `deployrecon deploys a compiled contract, waits for it to be mined, checks the
deployed bytecode and state against the local build artifact, and verifies the
source on an Etherscan-compatible explorer.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: deployrecon.toml or recon.toml)")
	rootCmd.PersistentFlags().StringVarP(&networkName, "network", "n", "", "network name (default from NETWORK or config)")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "", "JSON-RPC endpoint (default from RPC_URL or the network)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", "", "build project directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&builderName, "builder", "", "build tool: foundry or hardhat (default: detect)")
	rootCmd.PersistentFlags().StringVar(&manifestDir, "manifests", "", "manifest directory (default: ./deployments)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(createDeployCmd())
	rootCmd.AddCommand(createFindCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createReconcileCmd())
	rootCmd.AddCommand(createReportCmd())
	rootCmd.AddCommand(createStatusCmd())
	rootCmd.AddCommand(createArtifactsCmd())
	rootCmd.AddCommand(createConfigCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createRunsCmd())

	return rootCmd.Execute()
}
