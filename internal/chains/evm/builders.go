package evm

import (
	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm/foundry"
	"github.com/pendergraft/deployrecon/internal/chains/evm/hardhat"
)

// NewFoundryBuilder creates a new Foundry builder
func NewFoundryBuilder() chains.Builder {
	return foundry.New()
}

// NewHardhatBuilder creates a new Hardhat builder
func NewHardhatBuilder() chains.Builder {
	return hardhat.New()
}
