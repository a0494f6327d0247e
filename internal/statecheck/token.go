package statecheck

// ERC-20 preset check names.
const (
	CheckName          = "name"
	CheckSymbol        = "symbol"
	CheckDecimals      = "decimals"
	CheckTotalSupply   = "totalSupply"
	CheckHolderBalance = "holder-balance"
)

// TokenExpectations are the expected ERC-20 values. Empty fields are read
// but not asserted.
type TokenExpectations struct {
	Name        string `toml:"name" json:"name,omitempty"`
	Symbol      string `toml:"symbol" json:"symbol,omitempty"`
	Decimals    string `toml:"decimals" json:"decimals,omitempty"`
	TotalSupply string `toml:"total_supply" json:"totalSupply,omitempty"`
	// Holder must hold the whole supply.
	Holder string `toml:"holder" json:"holder,omitempty"`
}

// TokenChecks returns the ERC-20 preset.
func TokenChecks(e TokenExpectations) []Check {
	checks := []Check{
		{Name: CheckName, Signature: "name() returns (string)", Expect: e.Name},
		{Name: CheckSymbol, Signature: "symbol() returns (string)", Expect: e.Symbol},
		{Name: CheckDecimals, Signature: "decimals() returns (uint8)", Expect: e.Decimals},
		{Name: CheckTotalSupply, Signature: "totalSupply() returns (uint256)", Expect: e.TotalSupply},
	}
	if e.Holder != "" {
		checks = append(checks, Check{
			Name:        CheckHolderBalance,
			Signature:   "balanceOf(address account) returns (uint256)",
			Args:        []string{e.Holder},
			EqualTo:     CheckTotalSupply,
			Description: "all supply minted to designated holder",
		})
	}
	return checks
}
