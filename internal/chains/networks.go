package chains

import (
	"fmt"
	"sort"
	"strings"
)

// Network describes a chain the tool can deploy to and reconcile against.
type Network struct {
	Name        string `toml:"name" json:"name"`
	ChainID     uint64 `toml:"chain_id" json:"chainId"`
	RPCURL      string `toml:"rpc" json:"rpc"`
	ExplorerAPI string `toml:"explorer_api" json:"explorerApi"`
	ExplorerURL string `toml:"explorer_url" json:"explorerUrl"`
}

// AddressURL returns the explorer page of address, with the code tab.
func (n Network) AddressURL(address string) string {
	if n.ExplorerURL == "" {
		return ""
	}
	return strings.TrimSuffix(n.ExplorerURL, "/") + "/address/" + address + "#code"
}

// TxURL returns the explorer page of a transaction.
func (n Network) TxURL(txHash string) string {
	if n.ExplorerURL == "" {
		return ""
	}
	return strings.TrimSuffix(n.ExplorerURL, "/") + "/tx/" + txHash
}

var knownNetworks = map[string]Network{
	"base": {
		Name:        "base",
		ChainID:     8453,
		RPCURL:      "https://mainnet.base.org",
		ExplorerAPI: "https://api.basescan.org/api",
		ExplorerURL: "https://basescan.org",
	},
	"base-sepolia": {
		Name:        "base-sepolia",
		ChainID:     84532,
		RPCURL:      "https://sepolia.base.org",
		ExplorerAPI: "https://api-sepolia.basescan.org/api",
		ExplorerURL: "https://sepolia.basescan.org",
	},
	"mainnet": {
		Name:        "mainnet",
		ChainID:     1,
		RPCURL:      "https://ethereum-rpc.publicnode.com",
		ExplorerAPI: "https://api.etherscan.io/api",
		ExplorerURL: "https://etherscan.io",
	},
	"sepolia": {
		Name:        "sepolia",
		ChainID:     11155111,
		RPCURL:      "https://ethereum-sepolia-rpc.publicnode.com",
		ExplorerAPI: "https://api-sepolia.etherscan.io/api",
		ExplorerURL: "https://sepolia.etherscan.io",
	},
}

// LookupNetwork resolves name against the built-in networks, with fields
// from override taking precedence when set.
func LookupNetwork(name string, override *Network) (Network, error) {
	n, ok := knownNetworks[strings.ToLower(name)]
	if !ok && override == nil {
		return Network{}, fmt.Errorf("%w: %s (known: %s)", ErrUnknownNetwork, name, strings.Join(KnownNetworks(), ", "))
	}
	if !ok {
		n = Network{Name: name}
	}
	if override != nil {
		if override.ChainID != 0 {
			n.ChainID = override.ChainID
		}
		if override.RPCURL != "" {
			n.RPCURL = override.RPCURL
		}
		if override.ExplorerAPI != "" {
			n.ExplorerAPI = override.ExplorerAPI
		}
		if override.ExplorerURL != "" {
			n.ExplorerURL = override.ExplorerURL
		}
	}
	if n.ChainID == 0 {
		return Network{}, fmt.Errorf("network %s: chain_id is required", name)
	}
	return n, nil
}

// KnownNetworks lists the built-in network names.
func KnownNetworks() []string {
	names := make([]string, 0, len(knownNetworks))
	for name := range knownNetworks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
