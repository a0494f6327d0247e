package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/observability/metrics"
	"github.com/pendergraft/deployrecon/internal/report"
	"github.com/pendergraft/deployrecon/internal/statecheck"
	"github.com/pendergraft/deployrecon/internal/validation"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
)

// ManifestSource returns the manifest of an artifact on a network.
type ManifestSource interface {
	Get(ctx context.Context, network string, id chains.ArtifactID) (*deployments.Manifest, error)
}

// Options tunes a run.
type Options struct {
	// CheckConcurrency bounds concurrent state check calls.
	CheckConcurrency int
}

type service struct {
	reader    chains.Reader
	manifests ManifestSource
	verifier  Verifier
	checks    *statecheck.Runner
	runs      RunStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates the runner. manifests and runs may be nil.
func NewService(reader chains.Reader, manifests ManifestSource, verifier Verifier, runs RunStore, opts Options, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		reader:    reader,
		manifests: manifests,
		verifier:  verifier,
		checks:    statecheck.NewRunner(reader, opts.CheckConcurrency, logger),
		runs:      runs,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile reads the chain once and reconciles it against the artifact.
func (s *service) Reconcile(ctx context.Context, req Request) (*report.Report, error) {
	if req.Artifact == nil {
		return nil, verification.ErrNoArtifact
	}
	if err := statecheck.Validate(req.Checks); err != nil {
		return nil, err
	}

	manifest, err := s.manifest(ctx, req)
	if err != nil {
		return nil, err
	}
	address := req.Address
	if address == "" && manifest != nil && manifest.Status == deployments.StatusMined {
		address = manifest.ContractAddress
	}
	if address == "" {
		return nil, ErrNoAddress
	}
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", chains.ErrInvalidAddress, err)
	}
	if err := s.checkChain(ctx, req.Network.ChainID); err != nil {
		return nil, err
	}

	in := report.Input{
		RunID:       uuid.New().String(),
		Network:     req.Network,
		Artifact:    req.Artifact,
		Address:     address,
		Manifest:    manifest,
		GeneratedAt: s.now(),
	}

	snap, err := chains.Snapshot(ctx, s.reader, address)
	if err != nil {
		return nil, fmt.Errorf("reading code at %s: %w", address, err)
	}
	in.Bytecode = evm.CompareBytecode(snap.RuntimeBytecode, req.Artifact.RuntimeBytecode, compareOptions(req))
	metrics.Verdict(string(in.Bytecode.Verdict))
	in.DeployedMetadata = decodeMetadata(snap.RuntimeBytecode)
	in.ArtifactMetadata = decodeMetadata(req.Artifact.RuntimeBytecode)
	s.logger.Info("bytecode reconciled", "address", address, "verdict", in.Bytecode.Verdict)

	switch in.Bytecode.Verdict {
	case chains.NoCodeAtAddress:
		in.VerificationSkipped = "no code at address"
	case chains.Mismatch:
		in.VerificationSkipped = "bytecode does not match the artifact"
	}

	if snap.IsContract && len(req.Checks) > 0 {
		results, err := s.checks.Run(ctx, snap, req.Checks)
		switch {
		case errors.Is(err, statecheck.ErrChecksIncomplete):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			in.StateChecksErr = err
		case err != nil:
			return nil, err
		default:
			in.StateChecks = results
		}
	}

	if in.VerificationSkipped == "" {
		res, err := s.verify(ctx, req, address, manifest)
		if err != nil {
			return nil, err
		}
		in.Verification = res
	}

	rep := report.Build(in)
	metrics.Run(rep.Overall)
	s.save(ctx, rep)
	return rep, nil
}

func (s *service) manifest(ctx context.Context, req Request) (*deployments.Manifest, error) {
	if s.manifests == nil {
		return nil, nil
	}
	m, err := s.manifests.Get(ctx, req.Network.Name, req.Artifact.ID())
	if errors.Is(err, deployments.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	return m, nil
}

func (s *service) checkChain(ctx context.Context, want uint64) error {
	got, err := s.reader.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("reading chain id: %w", err)
	}
	if want != 0 && got != want {
		return fmt.Errorf("%w: endpoint serves chain %d, network expects %d", chains.ErrWrongChain, got, want)
	}
	return nil
}

func (s *service) verify(ctx context.Context, req Request, address string, manifest *deployments.Manifest) (*verification.Result, error) {
	if !req.Submit {
		return s.verifier.Status(ctx, address)
	}
	vreq := verification.VerifyRequest{
		Network:         req.Network.Name,
		Address:         address,
		Artifact:        req.Artifact,
		ConstructorArgs: req.ConstructorArgs,
		Input:           req.Input,
		FlattenedSource: req.FlattenedSource,
		Settings:        req.Settings,
		LicenseType:     req.LicenseType,
	}
	if manifest != nil && strings.EqualFold(manifest.ContractAddress, address) {
		if vreq.ConstructorArgs == nil {
			vreq.ConstructorArgs = deployments.Values(manifest.ConstructorArgs)
		}
		vreq.TxHash = manifest.TransactionHash
	}
	return s.verifier.Verify(ctx, vreq)
}

// save records the run. A failed save is logged; the report stands.
func (s *service) save(ctx context.Context, rep *report.Report) {
	if s.runs == nil {
		return
	}
	body, err := json.Marshal(rep)
	if err != nil {
		s.logger.Warn("failed to encode report", "error", err)
		return
	}
	run := &Run{
		ID:           rep.RunID,
		Network:      rep.Network,
		Artifact:     rep.Artifact,
		Address:      rep.Address,
		Verdict:      rep.Bytecode.Verdict,
		Verification: string(rep.Verification.Outcome),
		Overall:      rep.Overall,
		Report:       body,
		CreatedAt:    rep.GeneratedAt,
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		s.logger.Warn("failed to record reconciliation run", "run", run.ID, "error", err)
	}
}

func (s *service) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.runs == nil {
		return nil, ErrRunNotFound
	}
	return s.runs.GetRun(ctx, id)
}

func (s *service) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	if s.runs == nil {
		return nil, nil
	}
	return s.runs.ListRuns(ctx, filter)
}

func decodeMetadata(code []byte) *evm.Metadata {
	md, err := evm.DecodeMetadata(code)
	if err != nil {
		return nil
	}
	return md
}
