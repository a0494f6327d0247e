package domain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	"github.com/pendergraft/deployrecon/internal/observability/metrics"
	"github.com/pendergraft/deployrecon/internal/retry"
	"github.com/pendergraft/deployrecon/internal/validation"
)

// Common errors returned by the deployment service.
var (
	ErrNotFound             = errors.New("manifest not found")
	ErrInvalidTransition    = errors.New("invalid manifest transition")
	ErrAlreadyDeployed      = errors.New("artifact already deployed on this network")
	ErrPreviousFailed       = errors.New("previous deployment failed; rerun with --force to deploy again")
	ErrAwaitingExecution    = errors.New("creation calldata was prepared for another account; attach its transaction with --tx")
	ErrTxHashConflict       = errors.New("manifest is pending on a different transaction")
	ErrConstructorArgs      = errors.New("constructor arguments do not match the artifact ABI")
	ErrDeploymentTimedOut   = errors.New("deployment timed out waiting for a receipt")
	ErrTransactionReverted  = errors.New("deployment transaction reverted")
	ErrNoContractAddress    = errors.New("receipt carries no contract address")
	ErrInvalidTxHash        = errors.New("invalid transaction hash")
	ErrNoSigner             = errors.New("no signer configured")
	ErrDeploymentInProgress = errors.New("a deployment is already pending")
)

// Store persists manifests keyed by network and artifact id.
type Store interface {
	Get(ctx context.Context, network string, id chains.ArtifactID) (*Manifest, error)
	Save(ctx context.Context, m *Manifest) error
	List(ctx context.Context, filter ListFilter) ([]Manifest, error)
}

// Service defines the deployment orchestrator.
type Service interface {
	// Deploy submits a new deployment, or resumes a pending one for the
	// same artifact and network, and waits for it to be mined.
	Deploy(ctx context.Context, req DeployRequest) (*Manifest, error)

	// Prepare records a Requested manifest and returns the creation
	// calldata for execution by another account.
	Prepare(ctx context.Context, req PrepareRequest) (*Manifest, *evm.PreparedCreation, error)

	// Track attaches an existing transaction and waits for it.
	Track(ctx context.Context, req TrackRequest) (*Manifest, error)

	// Await polls a pending manifest until it is mined, fails or times out.
	Await(ctx context.Context, network string, id chains.ArtifactID) (*Manifest, error)

	// Get returns the manifest for network and artifact id.
	Get(ctx context.Context, network string, id chains.ArtifactID) (*Manifest, error)

	// List lists manifests.
	List(ctx context.Context, filter ListFilter) ([]Manifest, error)
}

// Options tunes receipt polling.
type Options struct {
	// PollTimeout bounds the total wait for a receipt; zero means only
	// MaxAttempts bounds it.
	PollTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int

	// Strategy overrides the strategy built from the fields above.
	Strategy retry.Strategy
}

func (o Options) strategy(logger *slog.Logger) retry.Strategy {
	if o.Strategy != nil {
		return o.Strategy
	}
	attempts := o.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.NewExponentialBackoffStrategy(attempts-1, o.InitialBackoff, o.MaxBackoff,
		retry.WithLogger(logger),
		retry.WithRetryable(func(err error) bool {
			return errors.Is(err, chains.ErrReceiptNotFound) || chains.IsTransport(err)
		}),
	)
}

// service implements the Service interface.
type service struct {
	store  Store
	reader chains.Reader
	signer chains.Signer
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the orchestrator. signer may be nil when only Track,
// Await and Prepare are used.
func NewService(store Store, reader chains.Reader, signer chains.Signer, opts Options, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		store:  store,
		reader: reader,
		signer: signer,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) save(ctx context.Context, m *Manifest) error {
	if err := s.store.Save(ctx, m); err != nil {
		return fmt.Errorf("saving manifest: %w", err)
	}
	metrics.ManifestTransition(m.Network, string(m.Status))
	return nil
}

// existing returns the stored manifest or nil.
func (s *service) existing(ctx context.Context, network string, id chains.ArtifactID) (*Manifest, error) {
	m, err := s.store.Get(ctx, network, id)
	if errors.Is(err, ErrNotFound) {
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
	if got != want {
		return fmt.Errorf("%w: endpoint serves chain %d, network expects %d", chains.ErrWrongChain, got, want)
	}
	return nil
}

// encodeArgs checks the declared argument types against the ABI and
// encodes the values.
func encodeArgs(artifact *chains.CompiledArtifact, args []ConstructorArg) ([]byte, error) {
	types, err := evm.ConstructorTypes(artifact.ABI)
	if err != nil {
		return nil, err
	}
	if len(types) != len(args) {
		return nil, fmt.Errorf("%w: constructor takes %d arguments, got %d", ErrConstructorArgs, len(types), len(args))
	}
	for i, t := range types {
		if args[i].Type != "" && args[i].Type != t {
			return nil, fmt.Errorf("%w: argument %d is %s, declared %s", ErrConstructorArgs, i, t, args[i].Type)
		}
	}
	encoded, err := evm.EncodeConstructorArgs(artifact.ABI, Values(args))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstructorArgs, err)
	}
	return encoded, nil
}

func (s *service) newManifest(artifact *chains.CompiledArtifact, network string, chainID uint64, args []ConstructorArg) *Manifest {
	now := s.now()
	return &Manifest{
		ID:              uuid.New().String(),
		Artifact:        artifact.ID(),
		Network:         network,
		ChainID:         chainID,
		ConstructorArgs: args,
		Status:          StatusRequested,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Deploy submits or resumes a deployment.
func (s *service) Deploy(ctx context.Context, req DeployRequest) (*Manifest, error) {
	id := req.Artifact.ID()
	m, err := s.existing(ctx, req.Network, id)
	if err != nil {
		return nil, err
	}

	if m != nil {
		switch {
		case m.Status == StatusPending:
			s.logger.Info("resuming pending deployment", "network", m.Network, "artifact", id.String(), "tx", m.TransactionHash)
			return s.resume(ctx, m)
		case m.Status == StatusRequested && m.Prepared() && !req.Force:
			return m, ErrAwaitingExecution
		case m.Status == StatusMined && !req.Force:
			return m, ErrAlreadyDeployed
		case m.Status == StatusFailed && !req.Force:
			return m, ErrPreviousFailed
		}
	}

	if s.signer == nil {
		return nil, ErrNoSigner
	}
	encoded, err := encodeArgs(req.Artifact, req.ConstructorArgs)
	if err != nil {
		return nil, err
	}
	if err := s.checkChain(ctx, req.ChainID); err != nil {
		return nil, err
	}

	// a Requested manifest that was never signed is reused
	if m == nil || m.Status != StatusRequested || m.Prepared() {
		m = s.newManifest(req.Artifact, req.Network, req.ChainID, req.ConstructorArgs)
	}
	m.DeployerAddress = s.signer.Address()
	m.ConstructorArgs = req.ConstructorArgs
	if err := s.save(ctx, m); err != nil {
		return nil, err
	}

	stx, err := s.signer.SignCreation(ctx, evm.CreationData(req.Artifact.CreationBytecode, encoded))
	if err != nil {
		return m, fmt.Errorf("signing deployment: %w", err)
	}

	// the hash is durable before the transaction can reach the network
	m.SignedTx = hex.EncodeToString(stx.Raw)
	if err := m.MarkPending(stx.Hash, s.now()); err != nil {
		return m, err
	}
	if err := s.save(ctx, m); err != nil {
		return m, err
	}
	s.logger.Info("deployment pending",
		"network", m.Network,
		"artifact", id.String(),
		"tx", stx.Hash,
		"predicted_address", stx.PredictedAddress,
	)

	if err := s.signer.Broadcast(ctx, stx); err != nil {
		return m, fmt.Errorf("broadcasting deployment (rerun to resume): %w", err)
	}
	return s.await(ctx, m)
}

// resume rebroadcasts a stored transaction if the node lost it, then waits.
func (s *service) resume(ctx context.Context, m *Manifest) (*Manifest, error) {
	if m.SignedTx != "" && s.signer != nil {
		_, err := s.reader.Receipt(ctx, m.TransactionHash)
		if errors.Is(err, chains.ErrReceiptNotFound) {
			raw, decErr := hex.DecodeString(m.SignedTx)
			if decErr == nil {
				if err := s.signer.Broadcast(ctx, &chains.SignedTx{Hash: m.TransactionHash, Raw: raw}); err != nil {
					s.logger.Warn("rebroadcast failed", "tx", m.TransactionHash, "error", err)
				}
			}
		}
	}
	return s.await(ctx, m)
}

// Prepare records a Requested manifest for a multisig deployment.
func (s *service) Prepare(ctx context.Context, req PrepareRequest) (*Manifest, *evm.PreparedCreation, error) {
	id := req.Artifact.ID()
	m, err := s.existing(ctx, req.Network, id)
	if err != nil {
		return nil, nil, err
	}
	if m != nil {
		switch {
		case m.Status == StatusPending:
			return m, nil, ErrDeploymentInProgress
		case m.Status == StatusMined && !req.Force:
			return m, nil, ErrAlreadyDeployed
		case m.Status == StatusFailed && !req.Force:
			return m, nil, ErrPreviousFailed
		}
	}
	if req.Executor != "" {
		if err := validation.ValidateAddress(req.Executor); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", chains.ErrInvalidAddress, err)
		}
	}

	encoded, err := encodeArgs(req.Artifact, req.ConstructorArgs)
	if err != nil {
		return nil, nil, err
	}
	prepared := evm.PrepareCreation(evm.CreationData(req.Artifact.CreationBytecode, encoded))

	if m == nil || m.Status != StatusRequested {
		m = s.newManifest(req.Artifact, req.Network, req.ChainID, req.ConstructorArgs)
	}
	m.ConstructorArgs = req.ConstructorArgs
	m.DeployerAddress = req.Executor
	m.CalldataDigest = prepared.Digest
	m.UpdatedAt = s.now()
	if err := s.save(ctx, m); err != nil {
		return nil, nil, err
	}
	return m, &prepared, nil
}

// Track attaches an existing transaction to the manifest and waits.
func (s *service) Track(ctx context.Context, req TrackRequest) (*Manifest, error) {
	if err := validation.ValidateTxHash(req.TxHash); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTxHash, err)
	}
	id := req.Artifact.ID()
	m, err := s.existing(ctx, req.Network, id)
	if err != nil {
		return nil, err
	}

	if m != nil {
		switch {
		case m.Status == StatusPending && strings.EqualFold(m.TransactionHash, req.TxHash):
			return s.await(ctx, m)
		case m.Status == StatusPending:
			return m, fmt.Errorf("%w: %s", ErrTxHashConflict, m.TransactionHash)
		case m.Status == StatusMined && strings.EqualFold(m.TransactionHash, req.TxHash):
			return m, nil
		case m.Status.Terminal() && !req.Force:
			if m.Status == StatusMined {
				return m, ErrAlreadyDeployed
			}
			return m, ErrPreviousFailed
		}
	}
	if err := s.checkChain(ctx, req.ChainID); err != nil {
		return nil, err
	}

	if m == nil || m.Status != StatusRequested {
		m = s.newManifest(req.Artifact, req.Network, req.ChainID, req.ConstructorArgs)
	}
	if len(req.ConstructorArgs) > 0 {
		m.ConstructorArgs = req.ConstructorArgs
	}
	if err := m.MarkPending(req.TxHash, s.now()); err != nil {
		return m, err
	}
	if err := s.save(ctx, m); err != nil {
		return m, err
	}
	return s.await(ctx, m)
}

// Await polls a pending manifest.
func (s *service) Await(ctx context.Context, network string, id chains.ArtifactID) (*Manifest, error) {
	m, err := s.store.Get(ctx, network, id)
	if err != nil {
		return nil, err
	}
	if m.Status != StatusPending {
		return m, nil
	}
	return s.await(ctx, m)
}

// await polls for the receipt with increasing backoff. Exhausting the
// attempts or the poll timeout with no receipt fails the manifest.
// Cancellation of ctx, or an endpoint that was unreachable on the last
// attempt, leaves it Pending for the next run to resume.
func (s *service) await(ctx context.Context, m *Manifest) (*Manifest, error) {
	pollCtx := ctx
	if s.opts.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, s.opts.PollTimeout)
		defer cancel()
	}

	var receipt *chains.Receipt
	var lastErr error
	attempts := 0
	err := s.opts.strategy(s.logger).Execute(pollCtx, func() error {
		attempts++
		metrics.PollAttempt(m.Network)
		r, err := s.reader.Receipt(pollCtx, m.TransactionHash)
		if err != nil {
			// failures caused by the poll deadline itself are not recorded
			if pollCtx.Err() == nil {
				lastErr = err
			}
			return err
		}
		receipt = r
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			// interrupted by the caller; the next run resumes polling
			return m, ctx.Err()
		}
		if chains.IsTransport(lastErr) {
			// the transaction may be mined; only a missing receipt counts as a timeout
			s.logger.Warn("receipt polling stopped by transport failure", "network", m.Network, "tx", m.TransactionHash, "attempts", attempts, "error", lastErr)
			return m, fmt.Errorf("polling receipt for %s: %w", m.TransactionHash, lastErr)
		}
		if !errors.Is(err, retry.ErrExhausted) && !errors.Is(err, context.DeadlineExceeded) {
			return m, fmt.Errorf("polling receipt: %w", err)
		}
		detail := fmt.Sprintf("no receipt for %s after %d attempts", m.TransactionHash, attempts)
		if ferr := m.MarkFailed(ReasonDeploymentTimedOut, detail, s.now()); ferr != nil {
			return m, ferr
		}
		if serr := s.save(ctx, m); serr != nil {
			return m, serr
		}
		s.logger.Error("deployment timed out", "network", m.Network, "tx", m.TransactionHash, "attempts", attempts)
		return m, fmt.Errorf("%w: %s", ErrDeploymentTimedOut, detail)
	}

	switch {
	case !receipt.Success:
		if ferr := m.MarkFailed(ReasonTransactionReverted, fmt.Sprintf("reverted in block %d", receipt.BlockNumber), s.now()); ferr != nil {
			return m, ferr
		}
		if serr := s.save(ctx, m); serr != nil {
			return m, serr
		}
		return m, ErrTransactionReverted
	case receipt.ContractAddress == "":
		if ferr := m.MarkFailed(ReasonNoContractAddress, "transaction did not create a contract", s.now()); ferr != nil {
			return m, ferr
		}
		if serr := s.save(ctx, m); serr != nil {
			return m, serr
		}
		return m, ErrNoContractAddress
	}

	if err := m.MarkMined(receipt, s.now()); err != nil {
		return m, err
	}
	if err := s.save(ctx, m); err != nil {
		return m, err
	}
	s.logger.Info("deployment mined",
		"network", m.Network,
		"address", m.ContractAddress,
		"block", m.MinedBlockNumber,
		"attempts", attempts,
	)
	return m, nil
}

// Get returns a manifest.
func (s *service) Get(ctx context.Context, network string, id chains.ArtifactID) (*Manifest, error) {
	return s.store.Get(ctx, network, id)
}

// List lists manifests.
func (s *service) List(ctx context.Context, filter ListFilter) ([]Manifest, error) {
	manifests, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	return manifests, nil
}
