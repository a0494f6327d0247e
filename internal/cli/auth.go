package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/pkg/etherscan"
)

// Credentials stores explorer API keys per network
type Credentials struct {
	Networks map[string]NetworkCredential `yaml:"networks"`
}

// NetworkCredential stores the explorer key for a single network
type NetworkCredential struct {
	APIKey   string `yaml:"api_key"`
	Explorer string `yaml:"explorer,omitempty"`
}

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Explorer API key commands",
	}

	cmd.AddCommand(createAuthLoginCmd())
	cmd.AddCommand(createAuthLogoutCmd())
	cmd.AddCommand(createAuthStatusCmd())

	return cmd
}

func createAuthLoginCmd() *cobra.Command {
	var apiKeyFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an explorer API key",
		Long: `Save the block explorer API key used for verification on a network.

The key is stored in ~/.deployrecon/credentials with secure file permissions.
ETHERSCAN_API_KEY, when set, takes precedence over saved keys.

EXAMPLES:
  # Interactive login (prompts for API key)
  deployrecon auth login --network base

  # Non-interactive login (for CI)
  deployrecon auth login --network base-sepolia --api-key $ETHERSCAN_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(apiKeyFlag)
		},
	}

	cmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key (prompts if not provided)")

	return cmd
}

func createAuthLogoutCmd() *cobra.Command {
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove a saved explorer API key",
		Long: `Remove the saved explorer API key of a network.

EXAMPLES:
  deployrecon auth logout --network base
  deployrecon auth logout --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(allFlag)
		},
	}

	cmd.Flags().BoolVar(&allFlag, "all", false, "clear all credentials")

	return cmd
}

func createAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show saved explorer API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus()
		},
	}
}

func runAuthLogin(apiKeyInput string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	network := a.network

	apiKey := apiKeyInput
	if apiKey == "" {
		fmt.Printf("Enter explorer API key for %s: ", network.Name)

		stdinFd := int(os.Stdin.Fd())
		if term.IsTerminal(stdinFd) {
			byteKey, err := term.ReadPassword(stdinFd)
			fmt.Println()
			if err != nil {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			apiKey = string(byteKey)
		} else {
			reader := bufio.NewReader(os.Stdin)
			key, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			apiKey = strings.TrimSpace(key)
		}
	}

	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	if network.ExplorerAPI == "" {
		fmt.Printf("⚠️  %s has no explorer API configured; saving without validation\n", network.Name)
	} else {
		fmt.Printf("Validating key with %s...\n", network.ExplorerAPI)
		if err := validateAPIKey(context.Background(), network, apiKey); err != nil {
			return err
		}
	}

	if err := saveCredential(network.Name, NetworkCredential{APIKey: apiKey, Explorer: network.ExplorerAPI}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("✅ Saved explorer key for %s (key: %s)\n", network.Name, maskAPIKey(apiKey))
	fmt.Printf("   Credentials saved to %s\n", credentialsFilePath())
	return nil
}

func runAuthLogout(all bool) error {
	if all {
		if err := os.Remove(credentialsFilePath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Println("✅ All credentials cleared")
		return nil
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	name := a.network.Name

	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No credentials found for %s\n", name)
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if _, exists := creds.Networks[name]; !exists {
		fmt.Printf("No credentials found for %s\n", name)
		return nil
	}
	delete(creds.Networks, name)

	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("✅ Removed explorer key for %s\n", name)
	return nil
}

func runAuthStatus() error {
	creds, err := loadCredentials()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if os.Getenv("ETHERSCAN_API_KEY") != "" {
		fmt.Println("ETHERSCAN_API_KEY is set and overrides saved keys")
	}
	if creds == nil || len(creds.Networks) == 0 {
		fmt.Println("No explorer keys saved")
		fmt.Println("\nRun 'deployrecon auth login --network <name>' to save one")
		return nil
	}

	names := make([]string, 0, len(creds.Networks))
	for name := range creds.Networks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Saved explorer keys:")
	for _, name := range names {
		cred := creds.Networks[name]
		if cred.Explorer != "" {
			fmt.Printf("  • %s (%s, key: %s)\n", name, cred.Explorer, maskAPIKey(cred.APIKey))
		} else {
			fmt.Printf("  • %s (key: %s)\n", name, maskAPIKey(cred.APIKey))
		}
	}
	return nil
}

// validateAPIKey looks up the zero address. Only an explicit key rejection
// counts as invalid; an unverified address is the expected answer.
func validateAPIKey(ctx context.Context, network chains.Network, apiKey string) error {
	client := etherscan.New(network.ExplorerAPI, apiKey, etherscan.WithChainID(network.ChainID))
	_, err := client.GetSourceCode(ctx, "0x0000000000000000000000000000000000000000")
	switch {
	case err == nil:
		return nil
	case errors.Is(err, etherscan.ErrInvalidAPIKey):
		return fmt.Errorf("invalid API key for %s", network.Name)
	case etherscan.IsTransient(err):
		return fmt.Errorf("failed to validate credentials: %w", err)
	default:
		var apiErr *etherscan.APIError
		if errors.As(err, &apiErr) {
			return nil
		}
		return fmt.Errorf("failed to validate credentials: %w", err)
	}
}

// Credential file helpers

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deployrecon"
	}
	return filepath.Join(home, ".deployrecon")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	if creds.Networks == nil {
		creds.Networks = make(map[string]NetworkCredential)
	}
	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	if err := os.MkdirAll(credentialsDir(), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}
	return os.WriteFile(credentialsFilePath(), data, 0600)
}

func saveCredential(network string, cred NetworkCredential) error {
	creds, err := loadCredentials()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		creds = &Credentials{Networks: make(map[string]NetworkCredential)}
	}
	creds.Networks[network] = cred
	return writeCredentials(creds)
}

func getCredential(network string) string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	return creds.Networks[network].APIKey
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
