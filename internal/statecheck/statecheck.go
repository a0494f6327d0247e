// Package statecheck runs read-only contract calls concurrently and
// compares the results with expected values.
package statecheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	"github.com/pendergraft/deployrecon/internal/observability/metrics"
)

// ErrChecksIncomplete is returned when any call of a run failed. No
// partial results are reported.
var ErrChecksIncomplete = errors.New("state checks incomplete")

// Check is one view call and its expectation.
type Check struct {
	Name string `toml:"name" json:"name"`
	// Signature is a human readable function signature,
	// e.g. "balanceOf(address) returns (uint256)".
	Signature string   `toml:"signature" json:"signature"`
	Args      []string `toml:"args" json:"args,omitempty"`
	// Expect is the expected first return value. Integers compare
	// numerically, so "100000000e18" matches the full wei amount.
	Expect string `toml:"expect" json:"expect,omitempty"`
	// EqualTo names another check whose value must match.
	EqualTo string `toml:"equal_to" json:"equalTo,omitempty"`
	// Description is shown in reports.
	Description string `toml:"description" json:"description,omitempty"`
}

// Result is the outcome of one check.
type Result struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Passed      bool   `json:"passed"`
	Actual      string `json:"actual"`
	Expected    string `json:"expected,omitempty"`
}

// Runner executes checks against a contract.
type Runner struct {
	reader chains.Reader
	limit  int
	logger *slog.Logger
}

// NewRunner creates a Runner issuing at most limit concurrent calls.
func NewRunner(reader chains.Reader, limit int, logger *slog.Logger) *Runner {
	if limit < 1 {
		limit = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{reader: reader, limit: limit, logger: logger}
}

type call struct {
	abi    []byte
	method string
	key    chains.CallKey
}

// Validate checks signatures and references without touching the chain.
func Validate(checks []Check) error {
	names := make(map[string]bool, len(checks))
	for _, c := range checks {
		if c.Name == "" {
			return errors.New("state check without a name")
		}
		if names[c.Name] {
			return fmt.Errorf("duplicate state check %q", c.Name)
		}
		names[c.Name] = true
		if _, err := evm.FragmentFromSignature(c.Signature); err != nil {
			return fmt.Errorf("state check %s: %w", c.Name, err)
		}
	}
	for _, c := range checks {
		if c.EqualTo != "" && !names[c.EqualTo] {
			return fmt.Errorf("state check %s: equal_to references unknown check %q", c.Name, c.EqualTo)
		}
		if c.EqualTo == c.Name && c.Name != "" {
			return fmt.Errorf("state check %s references itself", c.Name)
		}
	}
	return nil
}

func prepare(c Check) (call, error) {
	fragment, err := evm.FragmentFromSignature(c.Signature)
	if err != nil {
		return call{}, err
	}
	parsed, err := evm.ParseABI(fragment)
	if err != nil {
		return call{}, err
	}
	var method string
	for name := range parsed.Methods {
		method = name
	}
	return call{
		abi:    fragment,
		method: method,
		key: chains.CallKey{
			Selector: hexutil.Encode(parsed.Methods[method].ID),
			ArgsHash: crypto.Keccak256Hash([]byte(strings.Join(c.Args, "\x00"))).Hex(),
		},
	}, nil
}

// Run issues every call concurrently and joins them. Any failed call fails
// the whole run with ErrChecksIncomplete. Call results are stored in
// snap.CallResults.
func (r *Runner) Run(ctx context.Context, snap *chains.ChainSnapshot, checks []Check) ([]Result, error) {
	if err := Validate(checks); err != nil {
		return nil, err
	}
	calls := make([]call, len(checks))
	for i, c := range checks {
		prepared, err := prepare(c)
		if err != nil {
			return nil, err
		}
		calls[i] = prepared
	}

	values := make([]any, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i := range checks {
		g.Go(func() error {
			args := make([]any, len(checks[i].Args))
			for j, a := range checks[i].Args {
				args[j] = a
			}
			out, err := r.reader.Call(gctx, snap.Address, calls[i].abi, calls[i].method, args...)
			if err != nil {
				return fmt.Errorf("%s: %w", checks[i].Name, err)
			}
			if len(out) == 0 {
				return fmt.Errorf("%s: no return value", checks[i].Name)
			}
			values[i] = out[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("state checks incomplete", "address", snap.Address, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrChecksIncomplete, err)
	}

	formatted := make(map[string]string, len(checks))
	for i, c := range checks {
		if snap.CallResults != nil {
			snap.CallResults[calls[i].key] = values[i]
		}
		formatted[c.Name] = evm.FormatValue(values[i])
	}

	results := make([]Result, len(checks))
	for i, c := range checks {
		res := Result{Name: c.Name, Description: c.Description, Actual: formatted[c.Name], Passed: true}
		if c.Expect != "" {
			res.Expected = c.Expect
			res.Passed = equalValues(res.Actual, c.Expect)
		}
		if c.EqualTo != "" {
			other := formatted[c.EqualTo]
			if res.Expected == "" {
				res.Expected = other
			}
			res.Passed = res.Passed && equalValues(res.Actual, other)
		}
		metrics.StateCheck(c.Name, res.Passed)
		results[i] = res
	}
	return results, nil
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// equalValues compares integers numerically, addresses case-insensitively
// and everything else exactly.
func equalValues(actual, expected string) bool {
	if a, err := evm.ParseInteger(actual); err == nil {
		if e, err := evm.ParseInteger(expected); err == nil {
			return a.Cmp(e) == 0
		}
	}
	if strings.HasPrefix(actual, "0x") && strings.HasPrefix(expected, "0x") {
		return strings.EqualFold(actual, expected)
	}
	return actual == expected
}
