package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pendergraft/deployrecon/internal/chains"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
)

// Format is a report output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, json or yaml)", s)
}

// Write renders r in the given format.
func Write(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	}
	return WriteText(w, r)
}

// WriteJSON renders r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML renders r as YAML.
func WriteYAML(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// WriteText renders r for a terminal.
func WriteText(w io.Writer, r *Report) error {
	p := &printer{w: w}

	p.printf("Reconciliation report for %s\n", r.Artifact)
	p.printf("  Network:  %s (chain %d)\n", r.Network, r.ChainID)
	p.printf("  Address:  %s\n", r.Address)
	if r.AddressURL != "" {
		p.printf("  Explorer: %s\n", r.AddressURL)
	}
	p.printf("\n")

	if d := r.Deployment; d != nil {
		p.printf("Deployment: %s\n", d.Status)
		if d.TransactionHash != "" {
			p.printf("  Transaction: %s\n", d.TransactionHash)
		}
		if d.BlockNumber > 0 {
			p.printf("  Block: %d, gas used %d\n", d.BlockNumber, d.GasUsed)
		}
		if d.FailureReason != "" {
			p.printf("  Failure: %s\n", d.FailureReason)
		}
		p.printf("\n")
	}

	switch r.Bytecode.Verdict {
	case chains.ExactMatch:
		p.printf("✅ Bytecode: exact match\n")
	case chains.MatchModuloMetadata:
		p.printf("✅ Bytecode: match (metadata differs)\n")
	case chains.NoCodeAtAddress:
		p.printf("❌ Bytecode: no code at address\n")
	default:
		p.printf("❌ Bytecode: mismatch\n")
	}
	if r.Bytecode.Message != "" {
		p.printf("  %s\n", r.Bytecode.Message)
	}
	if md := r.Bytecode.DeployedMetadata; md != nil && md.Solc != "" {
		p.printf("  Deployed with solc %s\n", md.Solc)
	}

	switch r.StateChecks.Status {
	case ChecksSkipped:
		p.printf("➖ State checks: none run\n")
	case ChecksIncomplete:
		p.printf("❌ State checks: incomplete (%s)\n", r.StateChecks.Error)
	default:
		mark := "✅"
		if r.StateChecks.Status == ChecksFailed {
			mark = "❌"
		}
		p.printf("%s State checks: %s\n", mark, r.StateChecks.Status)
		for _, c := range r.StateChecks.Results {
			label := c.Name
			if c.Description != "" {
				label = c.Description
			}
			if c.Passed {
				p.printf("  ✓ %s = %s\n", label, c.Actual)
			} else {
				p.printf("  ✗ %s = %s, want %s\n", label, c.Actual, c.Expected)
			}
		}
	}

	v := r.Verification
	switch v.Outcome {
	case verification.OutcomeSubmitted:
		p.printf("✅ Verification: submitted and accepted\n")
	case verification.OutcomeAlreadyVerified:
		p.printf("✅ Verification: already verified\n")
	case verification.OutcomeNotAttempted:
		p.printf("➖ Verification: not attempted\n")
	default:
		p.printf("❌ Verification: failed (%s)\n", v.Failure)
		if v.Retryable {
			p.printf("  Retrying later may succeed\n")
		}
	}
	if v.Reason != "" {
		p.printf("  %s\n", v.Reason)
	}
	if v.Attempted != nil && v.Expected != nil && v.Failure == verification.FailureCompilerMismatch {
		p.printf("  Attempted: %s\n", v.Attempted)
		p.printf("  Expected:  %s\n", v.Expected)
	}

	p.printf("\n")
	if r.Overall {
		p.printf("✅ PASS\n")
	} else {
		p.printf("❌ FAIL\n")
		for _, f := range r.Failures {
			p.printf("  - %s\n", f)
		}
	}
	return p.err
}

// printer keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
