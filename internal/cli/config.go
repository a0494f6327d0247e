package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployrecon/internal/chains"
)

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())
	cmd.AddCommand(createConfigNetworksCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var (
		network  string
		artifact string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a deployrecon.toml configuration file in the current directory.

The file names the contract under management, its constructor arguments and
the on-chain state a reconcile run checks.

EXAMPLES:
  deployrecon config init --artifact src/Token.sol:Token
  deployrecon config init --network base --artifact src/Token.sol:Token --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(network, artifact, force)
		},
	}

	cmd.Flags().StringVar(&network, "default-network", "base-sepolia", "network written to the config")
	cmd.Flags().StringVar(&artifact, "artifact", "src/Token.sol:Token", "artifact as <source path>:<contract>")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the configuration sources and the effective settings.

Flags take precedence over environment variables, which take precedence over
deployrecon.toml.

EXAMPLES:
  deployrecon config show
  deployrecon config show --network base
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func createConfigNetworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List known networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, _, err := loadProjectConfigOrEmpty()
			if err != nil {
				return err
			}
			names := chains.KnownNetworks()
			for name := range project.Networks {
				if _, err := chains.LookupNetwork(name, nil); err != nil {
					names = append(names, name)
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCHAIN ID\tRPC\tEXPLORER")
			for _, name := range names {
				n, err := chains.LookupNetwork(name, project.network(name))
				if err != nil {
					fmt.Fprintf(w, "%s\t-\t%v\t\n", name, err)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", n.Name, n.ChainID, n.RPCURL, n.ExplorerURL)
			}
			return w.Flush()
		},
	}
}

func runConfigInit(network, artifact string, force bool) error {
	configPath := projectConfigFiles[0]

	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", name)
		}
	}
	if _, err := chains.ParseArtifactID(artifact); err != nil {
		return err
	}

	content := fmt.Sprintf(projectTemplate, network, artifact)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s to set constructor arguments and expected state\n", configPath)
	fmt.Println("  2. Run 'deployrecon auth login' to save an explorer API key")
	fmt.Println("  3. Run 'deployrecon deploy' then 'deployrecon reconcile'")

	return nil
}

func runConfigShow() error {
	fmt.Println("Configuration sources (in order of precedence):")
	fmt.Println()

	fmt.Println("1. Command line flags")
	fmt.Println("   --network, --rpc, --project, --builder, --manifests, --config")
	fmt.Println()

	fmt.Println("2. Environment variables")
	for _, key := range []string{"NETWORK", "RPC_URL", "CHAIN_ID", "EXPLORER_API_URL", "PROJECT_DIR", "MANIFEST_DIR", "BUILDER"} {
		if v := os.Getenv(key); v != "" {
			fmt.Printf("   %s=%s\n", key, v)
		} else {
			fmt.Printf("   %s=(not set)\n", key)
		}
	}
	for _, key := range []string{"ETHERSCAN_API_KEY", "DEPLOYER_PRIVATE_KEY"} {
		if v := os.Getenv(key); v != "" {
			fmt.Printf("   %s=%s\n", key, maskAPIKey(v))
		} else {
			fmt.Printf("   %s=(not set)\n", key)
		}
	}
	fmt.Println()

	fmt.Println("3. Project config (deployrecon.toml or recon.toml)")
	project, path, err := loadProjectConfig()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Println("   (not found)")
	case err != nil:
		fmt.Printf("   Error: %v\n", err)
	default:
		fmt.Printf("   Loaded from: %s\n", path)
		if project.Network != "" {
			fmt.Printf("   network: %s\n", project.Network)
		}
		if project.Contract.Artifact != "" {
			fmt.Printf("   contract.artifact: %s\n", project.Contract.Artifact)
		}
		if len(project.Contract.ConstructorArgs) > 0 {
			fmt.Printf("   contract.constructor_args: %d\n", len(project.Contract.ConstructorArgs))
		}
		if checks := project.StateChecks(); len(checks) > 0 {
			fmt.Printf("   state checks: %d\n", len(checks))
		}
		for name := range project.Networks {
			fmt.Printf("   networks.%s\n", name)
		}
	}
	fmt.Println()

	fmt.Println("4. User config (~/.deployrecon/config.yaml)")
	global, err := loadGlobalConfig()
	switch {
	case err != nil:
		fmt.Printf("   Error: %v\n", err)
	case global.Network == "" && len(global.RPC) == 0:
		fmt.Println("   (not found)")
	default:
		if global.Network != "" {
			fmt.Printf("   network: %s\n", global.Network)
		}
		for name := range global.RPC {
			fmt.Printf("   rpc.%s\n", name)
		}
	}
	fmt.Println()

	fmt.Println("5. Explorer credentials (~/.deployrecon/credentials)")
	creds, err := loadCredentials()
	switch {
	case os.IsNotExist(err):
		fmt.Println("   (not found)")
	case err != nil:
		fmt.Printf("   Error: %v\n", err)
	case len(creds.Networks) == 0:
		fmt.Println("   (no credentials stored)")
	default:
		for name, cred := range creds.Networks {
			fmt.Printf("   %s: %s\n", name, maskAPIKey(cred.APIKey))
		}
	}
	fmt.Println()

	a, err := newApp()
	if err != nil {
		fmt.Printf("Effective configuration: %v\n", err)
		return nil
	}
	fmt.Println("Effective configuration:")
	fmt.Printf("   Network:   %s (chain %d)\n", a.network.Name, a.network.ChainID)
	fmt.Printf("   RPC:       %s\n", firstNonEmpty(a.network.RPCURL, "(not set)"))
	fmt.Printf("   Explorer:  %s\n", firstNonEmpty(a.network.ExplorerAPI, "(not set)"))
	fmt.Printf("   Project:   %s\n", a.dir)
	fmt.Printf("   Manifests: %s\n", firstNonEmpty(manifestDir, a.project.ManifestDir, a.cfg.Manifest.Dir))
	if key := a.explorerKey(); key != "" {
		fmt.Printf("   API Key:   %s\n", maskAPIKey(key))
	} else {
		fmt.Println("   API Key:   (not set)")
	}
	return nil
}
