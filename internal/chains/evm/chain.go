// Package evm provides the EVM implementations of the chain-facing
// interfaces: a go-ethereum backed Reader and Signer, the bytecode
// reconciler and the registry of artifact builders.
package evm

import (
	"fmt"

	"github.com/pendergraft/deployrecon/internal/chains"
)

// Builders is the registry of artifact builders.
type Builders struct {
	builders []chains.Builder
}

// NewBuilders creates the registry with every supported build tool.
func NewBuilders() *Builders {
	return &Builders{
		builders: []chains.Builder{
			NewFoundryBuilder(),
			NewHardhatBuilder(),
		},
	}
}

// All returns all available builders
func (b *Builders) All() []chains.Builder {
	return b.builders
}

// ByName returns the builder with the given name.
func (b *Builders) ByName(name string) (chains.Builder, error) {
	for _, builder := range b.builders {
		if builder.Name() == name {
			return builder, nil
		}
	}
	return nil, fmt.Errorf("unknown builder %q", name)
}

// Detect detects which builder is used in the given directory
func (b *Builders) Detect(dir string) (chains.Builder, error) {
	for _, builder := range b.builders {
		detected, err := builder.Detect(dir)
		if err != nil {
			continue
		}
		if detected {
			return builder, nil
		}
	}
	return nil, fmt.Errorf("no supported build tool detected in %s", dir)
}

// Resolve returns the named builder, or the detected one when name is
// empty.
func (b *Builders) Resolve(dir, name string) (chains.Builder, error) {
	if name != "" {
		return b.ByName(name)
	}
	return b.Detect(dir)
}
