package report

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/pendergraft/deployrecon/internal/chains"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
)

// AddressEntry is one contract in an address book.
type AddressEntry struct {
	Address          string `json:"address"`
	Network          string `json:"network"`
	ChainID          uint64 `json:"chainId"`
	DeployedAt       string `json:"deployedAt,omitempty"`
	TransactionHash  string `json:"transactionHash,omitempty"`
	Verified         bool   `json:"verified"`
	VerificationLink string `json:"verificationLink,omitempty"`
}

// AddressBook maps contract names to their deployments. It is the file
// frontends consume.
type AddressBook map[string]AddressEntry

// BuildAddressBook collects the Mined manifests. verified reports whether
// the explorer holds source for a network and address; it may be nil.
// networks overrides the built-in network table for explorer links.
// When two manifests share a contract name the most recent wins.
func BuildAddressBook(manifests []deployments.Manifest, verified func(network, address string) bool, networks map[string]chains.Network) AddressBook {
	sorted := append([]deployments.Manifest(nil), manifests...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.Before(sorted[j].UpdatedAt)
	})

	book := make(AddressBook)
	for _, m := range sorted {
		if m.Status != deployments.StatusMined || m.ContractAddress == "" {
			continue
		}
		entry := AddressEntry{
			Address:         m.ContractAddress,
			Network:         m.Network,
			ChainID:         m.ChainID,
			DeployedAt:      m.UpdatedAt.UTC().Format(time.RFC3339),
			TransactionHash: m.TransactionHash,
		}
		if verified != nil && verified(m.Network, m.ContractAddress) {
			entry.Verified = true
			if n, ok := networks[m.Network]; ok {
				entry.VerificationLink = n.AddressURL(m.ContractAddress)
			} else if n, err := chains.LookupNetwork(m.Network, nil); err == nil {
				entry.VerificationLink = n.AddressURL(m.ContractAddress)
			}
		}
		book[m.Artifact.ContractName] = entry
	}
	return book
}

// Write renders the address book as indented JSON with sorted keys.
func (b AddressBook) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}
