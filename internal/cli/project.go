package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/deployrecon/internal/chains"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/statecheck"
)

// projectConfigFiles is the search order for project config files
var projectConfigFiles = []string{"deployrecon.toml", "recon.toml"}

// ProjectConfig is the project-level TOML configuration: the networks,
// the contract under management and the state it is expected to hold.
type ProjectConfig struct {
	Network     string   `toml:"network,omitempty"`
	Builder     string   `toml:"builder,omitempty"`
	ProjectDir  string   `toml:"project_dir,omitempty"`
	ManifestDir string   `toml:"manifest_dir,omitempty"`
	Exclude     []string `toml:"exclude,omitempty"`

	// Networks adds networks or overrides fields of the built-in ones.
	Networks map[string]chains.Network `toml:"networks,omitempty"`

	Contract ContractConfig                `toml:"contract"`
	Token    *statecheck.TokenExpectations `toml:"token,omitempty"`
	Checks   []statecheck.Check            `toml:"checks,omitempty"`
}

// ContractConfig describes the deployed contract.
type ContractConfig struct {
	// Artifact is "<source path>:<contract name>".
	Artifact        string                       `toml:"artifact"`
	ConstructorArgs []deployments.ConstructorArg `toml:"constructor_args,omitempty"`
	Libraries       map[string]string            `toml:"libraries,omitempty"`
	// Flattened is a flattened source file submitted instead of the
	// Standard-JSON-Input.
	Flattened   string `toml:"flattened,omitempty"`
	LicenseType int    `toml:"license_type,omitempty"`
}

// StateChecks returns the configured checks, token preset first.
func (p *ProjectConfig) StateChecks() []statecheck.Check {
	var checks []statecheck.Check
	if p.Token != nil {
		checks = append(checks, statecheck.TokenChecks(*p.Token)...)
	}
	return append(checks, p.Checks...)
}

// network returns the override for name, if any.
func (p *ProjectConfig) network(name string) *chains.Network {
	n, ok := p.Networks[strings.ToLower(name)]
	if !ok {
		return nil
	}
	if n.Name == "" {
		n.Name = strings.ToLower(name)
	}
	return &n
}

// loadProjectConfig loads the project config from the first matching config file.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	if cfgFile != "" {
		config, err := loadProjectConfigFromPath(cfgFile)
		return config, cfgFile, err
	}

	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			config, err := loadProjectConfigFromPath(name)
			return config, name, err
		}
	}
	return nil, "", fs.ErrNotExist
}

// loadProjectConfigFromPath loads a project config from a specific path
func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config ProjectConfig
	md, err := toml.Decode(string(data), &config)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing %s: unknown keys %v", path, undecoded)
	}
	if err := statecheck.Validate(config.Checks); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &config, nil
}

// loadProjectConfigOrEmpty returns an empty config when no file exists.
// Parse failures are returned.
func loadProjectConfigOrEmpty() (*ProjectConfig, string, error) {
	config, path, err := loadProjectConfig()
	if errors.Is(err, fs.ErrNotExist) && cfgFile == "" {
		return &ProjectConfig{}, "", nil
	}
	if err != nil {
		return nil, path, err
	}
	return config, path, nil
}

const projectTemplate = `# deployrecon project configuration

network = %q
# builder = "foundry"          # detected when unset
# manifest_dir = "deployments"

[contract]
artifact = %q
# constructor_args = [
#   { type = "string", value = "My Token" },
#   { type = "string", value = "MTK" },
#   { type = "uint256", value = "100000000e18" },
#   { type = "address", value = "0x..." },
# ]
# license_type = 3            # MIT

# Expected ERC-20 state, checked on every reconcile.
# [token]
# name = "My Token"
# symbol = "MTK"
# decimals = "18"
# total_supply = "100000000e18"
# holder = "0x..."

# Additional view calls.
# [[checks]]
# name = "owner"
# signature = "owner() returns (address)"
# expect = "0x..."

# Networks beyond base, base-sepolia, mainnet and sepolia.
# [networks.anvil]
# chain_id = 31337
# rpc = "http://127.0.0.1:8545"
`

// GlobalConfig is the per-user configuration in ~/.deployrecon/config.yaml.
// It sits below the project config in precedence.
type GlobalConfig struct {
	Network string `yaml:"network,omitempty"`
	// RPC maps network names to personal endpoints.
	RPC map[string]string `yaml:"rpc,omitempty"`
}

func globalConfigPath() string {
	return filepath.Join(credentialsDir(), "config.yaml")
}

// loadGlobalConfig returns an empty config when the file is missing.
func loadGlobalConfig() (*GlobalConfig, error) {
	data, err := os.ReadFile(globalConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return &GlobalConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", globalConfigPath(), err)
	}
	return &cfg, nil
}
