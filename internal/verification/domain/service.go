package domain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
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
	"github.com/pendergraft/deployrecon/pkg/etherscan"
)

// Common errors returned by the verification service.
var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrNoArtifact       = errors.New("no artifact to verify against")
	ErrNoPayload        = errors.New("no standard json input or flattened source to submit")
	ErrCompilerVersion  = errors.New("compiler version must include the commit for explorer verification")
	ErrTransientService = errors.New("explorer temporarily unavailable")
	ErrConstructorArgs  = errors.New("constructor arguments rejected")
	ErrRejected         = errors.New("explorer rejected verification")
)

// Explorer is the subset of the explorer API the submitter needs.
type Explorer interface {
	GetSourceCode(ctx context.Context, address string) (*etherscan.SourceCode, error)
	VerifySourceCode(ctx context.Context, req etherscan.VerifyRequest) (string, error)
	CheckVerifyStatus(ctx context.Context, guid string) (*etherscan.VerifyStatus, error)
}

// AttemptStore records verification attempts.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, a *Attempt) error
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]Attempt, error)
}

// Service defines the verification submitter.
type Service interface {
	// Verify submits source for a deployed contract and waits for the
	// explorer's decision. A Failed outcome is a result, not an error;
	// errors are reserved for invalid input and cancellation.
	Verify(ctx context.Context, req VerifyRequest) (*Result, error)

	// Status reports whether the explorer already holds verified source
	// for address without submitting anything. The outcome is
	// AlreadyVerified, NotAttempted or a Failed explorer error.
	Status(ctx context.Context, address string) (*Result, error)

	// ListAttempts lists recorded verification attempts.
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]Attempt, error)
}

// Options tunes explorer polling.
type Options struct {
	// CheckInterval separates checkverifystatus calls.
	CheckInterval time.Duration
	// MaxChecks bounds checkverifystatus calls.
	MaxChecks int
	// Strategy retries transient explorer errors on single requests.
	Strategy retry.Strategy
}

// DefaultOptions returns 10 checks 5 seconds apart.
func DefaultOptions() Options {
	return Options{CheckInterval: 5 * time.Second, MaxChecks: 10}
}

type service struct {
	explorer Explorer
	reader   chains.Reader
	attempts AttemptStore
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the submitter. reader and attempts may be nil; without
// a reader the constructor arguments are not checked against the
// deployment input.
func NewService(explorer Explorer, reader chains.Reader, attempts AttemptStore, opts Options, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxChecks < 1 {
		opts.MaxChecks = DefaultOptions().MaxChecks
	}
	if opts.Strategy == nil {
		opts.Strategy = retry.NewExponentialBackoffStrategy(3, 2*time.Second, 30*time.Second,
			retry.WithLogger(logger),
			retry.WithRetryable(etherscan.IsTransient),
		)
	}
	return &service{
		explorer: explorer,
		reader:   reader,
		attempts: attempts,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Verify runs the status check, the local mismatch checks, the submission
// and the GUID polling in that order.
func (s *service) Verify(ctx context.Context, req VerifyRequest) (*Result, error) {
	if err := validation.ValidateAddress(req.Address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if req.Artifact == nil {
		return nil, ErrNoArtifact
	}

	result, err := s.verify(ctx, req)
	if err != nil {
		return result, err
	}
	metrics.VerificationOutcome(string(result.Outcome))
	s.record(ctx, req, result)
	return result, nil
}

func (s *service) verify(ctx context.Context, req VerifyRequest) (*Result, error) {
	var src *etherscan.SourceCode
	err := s.call(ctx, "getsourcecode", func() error {
		var err error
		src, err = s.explorer.GetSourceCode(ctx, req.Address)
		return err
	})
	if err != nil {
		return explorerFailure(ctx, err)
	}
	if src.Verified() {
		s.logger.Info("contract already verified", "address", req.Address, "compiler", src.CompilerVersion)
		return &Result{Outcome: OutcomeAlreadyVerified}, nil
	}

	expected := SettingsFromCompiler(req.Artifact.Compiler)
	attempted, err := attemptedSettings(req, expected)
	if err != nil {
		return nil, err
	}
	if diff := settingsDiff(attempted, expected); len(diff) > 0 {
		return &Result{
			Outcome:   OutcomeFailed,
			Failure:   FailureCompilerMismatch,
			Reason:    "settings differ from the artifact: " + strings.Join(diff, ", "),
			Attempted: &attempted,
			Expected:  &expected,
		}, nil
	}
	version, err := submissionVersion(attempted.Version, expected.Version)
	if err != nil {
		return nil, err
	}

	encoded, err := evm.EncodeConstructorArgs(req.Artifact.ABI, req.ConstructorArgs)
	if err != nil {
		return &Result{Outcome: OutcomeFailed, Failure: FailureConstructorArgs, Reason: err.Error()}, nil
	}
	if mismatch, err := s.checkDeploymentArgs(ctx, req, encoded); err != nil {
		return nil, err
	} else if mismatch != nil {
		return &Result{Outcome: OutcomeFailed, Failure: FailureConstructorArgs, Reason: mismatch.Error()}, nil
	}

	payload, err := buildPayload(req, attempted, version, encoded)
	if err != nil {
		return nil, err
	}

	var guid string
	err = s.call(ctx, "verifysourcecode", func() error {
		var err error
		guid, err = s.explorer.VerifySourceCode(ctx, payload)
		return err
	})
	if errors.Is(err, etherscan.ErrAlreadyVerified) {
		return &Result{Outcome: OutcomeAlreadyVerified}, nil
	}
	if err != nil {
		res, ferr := explorerFailure(ctx, err)
		if res != nil {
			res.Attempted, res.Expected = &attempted, &expected
		}
		return res, ferr
	}
	s.logger.Info("verification submitted", "address", req.Address, "guid", guid, "compiler", version)

	res, err := s.poll(ctx, guid)
	if res != nil && res.Outcome == OutcomeFailed {
		res.Attempted, res.Expected = &attempted, &expected
	}
	return res, err
}

// poll checks the submission until the explorer decides or MaxChecks is
// reached.
func (s *service) poll(ctx context.Context, guid string) (*Result, error) {
	for check := 1; check <= s.opts.MaxChecks; check++ {
		if err := sleep(ctx, s.opts.CheckInterval); err != nil {
			return nil, err
		}

		status, err := s.explorer.CheckVerifyStatus(ctx, guid)
		metrics.ExplorerRequest("checkverifystatus", err)
		switch {
		case errors.Is(err, etherscan.ErrAlreadyVerified):
			return &Result{Outcome: OutcomeAlreadyVerified, GUID: guid, Checks: check}, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case etherscan.IsTransient(err):
			s.logger.Warn("verification status check failed", "guid", guid, "check", check, "error", err)
			continue
		case err != nil:
			res, ferr := explorerFailure(ctx, err)
			if res != nil {
				res.GUID, res.Checks = guid, check
			}
			return res, ferr
		}

		s.logger.Debug("verification status", "guid", guid, "check", check, "max_checks", s.opts.MaxChecks, "status", status.Message)
		switch status.State {
		case etherscan.StatePass:
			return &Result{Outcome: OutcomeSubmitted, GUID: guid, Checks: check}, nil
		case etherscan.StateFail:
			return &Result{Outcome: OutcomeFailed, Failure: classifyFailure(status.Message), Reason: status.Message, GUID: guid, Checks: check}, nil
		}
	}

	return &Result{
		Outcome: OutcomeFailed,
		Failure: FailureTransient,
		Reason:  fmt.Sprintf("verification still pending after %d checks", s.opts.MaxChecks),
		GUID:    guid,
		Checks:  s.opts.MaxChecks,
	}, nil
}

// checkDeploymentArgs compares the constructor arguments in the deployment
// input with the locally encoded ones.
func (s *service) checkDeploymentArgs(ctx context.Context, req VerifyRequest, encoded []byte) (*MismatchError, error) {
	if req.TxHash == "" || s.reader == nil {
		return nil, nil
	}
	input, err := s.reader.TransactionInput(ctx, req.TxHash)
	if errors.Is(err, chains.ErrTransactionNotFound) {
		s.logger.Warn("deployment transaction not found, skipping constructor argument check", "tx", req.TxHash)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading deployment input: %w", err)
	}

	onChain, err := evm.SplitConstructorArgs(input, req.Artifact.CreationBytecode)
	if err != nil {
		s.logger.Warn("deployment input does not start with the artifact creation code", "tx", req.TxHash, "error", err)
		return nil, nil
	}
	if bytes.Equal(onChain, encoded) {
		return nil, nil
	}
	return &MismatchError{
		Kind:        FailureConstructorArgs,
		OnChainArgs: hex.EncodeToString(onChain),
		LocalArgs:   hex.EncodeToString(encoded),
	}, nil
}

// call runs one explorer request through the retry strategy.
func (s *service) call(ctx context.Context, action string, fn func() error) error {
	return s.opts.Strategy.Execute(ctx, func() error {
		err := fn()
		metrics.ExplorerRequest(action, err)
		if errors.Is(err, etherscan.ErrAlreadyVerified) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (s *service) record(ctx context.Context, req VerifyRequest, res *Result) {
	if s.attempts == nil {
		return
	}
	a := &Attempt{
		ID:        uuid.New().String(),
		Network:   req.Network,
		Address:   req.Address,
		Artifact:  req.Artifact.ID().String(),
		Outcome:   res.Outcome,
		Failure:   res.Failure,
		Reason:    res.Reason,
		GUID:      res.GUID,
		CreatedAt: s.now(),
	}
	if err := s.attempts.SaveAttempt(ctx, a); err != nil {
		s.logger.Warn("failed to record verification attempt", "address", req.Address, "error", err)
	}
}

func (s *service) Status(ctx context.Context, address string) (*Result, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	var src *etherscan.SourceCode
	err := s.call(ctx, "getsourcecode", func() error {
		var err error
		src, err = s.explorer.GetSourceCode(ctx, address)
		return err
	})
	if err != nil {
		return explorerFailure(ctx, err)
	}
	if src.Verified() {
		return &Result{Outcome: OutcomeAlreadyVerified}, nil
	}
	return &Result{Outcome: OutcomeNotAttempted, Reason: "source not verified on explorer"}, nil
}

// ListAttempts lists recorded verification attempts.
func (s *service) ListAttempts(ctx context.Context, filter AttemptFilter) ([]Attempt, error) {
	if s.attempts == nil {
		return nil, nil
	}
	return s.attempts.ListAttempts(ctx, filter)
}

// explorerFailure turns an explorer error into a Failed result. Context
// errors are returned as errors.
func explorerFailure(ctx context.Context, err error) (*Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	switch {
	case etherscan.IsTransient(err), errors.Is(err, retry.ErrExhausted):
		return &Result{Outcome: OutcomeFailed, Failure: FailureTransient, Reason: err.Error()}, nil
	case errors.Is(err, etherscan.ErrInvalidAPIKey):
		return &Result{Outcome: OutcomeFailed, Failure: FailureRejected, Reason: err.Error()}, nil
	}
	var apiErr *etherscan.APIError
	if errors.As(err, &apiErr) {
		return &Result{Outcome: OutcomeFailed, Failure: classifyFailure(apiErr.Result), Reason: apiErr.Result}, nil
	}
	return &Result{Outcome: OutcomeFailed, Failure: FailureRejected, Reason: err.Error()}, nil
}

// classifyFailure maps an explorer failure message to a FailureKind.
func classifyFailure(message string) FailureKind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "constructor"):
		return FailureConstructorArgs
	case strings.Contains(lower, "compiler"), strings.Contains(lower, "bytecode"), strings.Contains(lower, "unable to verify"):
		return FailureCompilerMismatch
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "try again"):
		return FailureTransient
	}
	return FailureRejected
}

type inputSettings struct {
	Settings struct {
		Optimizer *struct {
			Enabled *bool `json:"enabled"`
			Runs    *int  `json:"runs"`
		} `json:"optimizer"`
		EVMVersion string `json:"evmVersion"`
		ViaIR      *bool  `json:"viaIR"`
	} `json:"settings"`
}

// attemptedSettings starts from the artifact's settings, applies what the
// Standard-JSON-Input declares and then the explicit override.
func attemptedSettings(req VerifyRequest, expected CompilerSettings) (CompilerSettings, error) {
	s := expected
	if len(req.Input) > 0 {
		var in inputSettings
		if err := json.Unmarshal(req.Input, &in); err != nil {
			return s, fmt.Errorf("parsing standard json input: %w", err)
		}
		if opt := in.Settings.Optimizer; opt != nil {
			if opt.Enabled != nil {
				s.OptimizerEnabled = *opt.Enabled
			}
			if opt.Runs != nil {
				s.OptimizerRuns = *opt.Runs
			}
		}
		if in.Settings.EVMVersion != "" {
			s.EVMVersion = in.Settings.EVMVersion
		}
		if in.Settings.ViaIR != nil {
			s.ViaIR = *in.Settings.ViaIR
		}
	}
	if o := req.Settings; o != nil {
		if o.Version != "" {
			s.Version = o.Version
		}
		s.OptimizerEnabled = o.OptimizerEnabled
		s.OptimizerRuns = o.OptimizerRuns
		if o.EVMVersion != "" {
			s.EVMVersion = o.EVMVersion
		}
		s.ViaIR = o.ViaIR
	}
	return s, nil
}

// settingsDiff lists the settings that differ. Unknown artifact values
// never count as a difference.
func settingsDiff(attempted, expected CompilerSettings) []string {
	var diff []string
	if expected.Version != "" && !sameCompiler(attempted.Version, expected.Version) {
		diff = append(diff, fmt.Sprintf("version %s != %s", attempted.Version, expected.Version))
	}
	if attempted.OptimizerEnabled != expected.OptimizerEnabled {
		diff = append(diff, fmt.Sprintf("optimizer %t != %t", attempted.OptimizerEnabled, expected.OptimizerEnabled))
	} else if attempted.OptimizerEnabled && attempted.OptimizerRuns != expected.OptimizerRuns {
		diff = append(diff, fmt.Sprintf("runs %d != %d", attempted.OptimizerRuns, expected.OptimizerRuns))
	}
	if expected.EVMVersion != "" && attempted.EVMVersion != expected.EVMVersion {
		diff = append(diff, fmt.Sprintf("evmVersion %s != %s", attempted.EVMVersion, expected.EVMVersion))
	}
	if attempted.ViaIR != expected.ViaIR {
		diff = append(diff, fmt.Sprintf("viaIR %t != %t", attempted.ViaIR, expected.ViaIR))
	}
	return diff
}

// sameCompiler compares releases, and builds when both carry a commit.
func sameCompiler(a, b string) bool {
	if validation.CompareVersions(a, b) != 0 || validation.CompilerRelease(a) == "" {
		return false
	}
	ca, cb := commit(a), commit(b)
	return ca == "" || cb == "" || ca == cb
}

func commit(v string) string {
	if i := strings.Index(v, "+commit."); i >= 0 {
		return v[i+len("+commit."):]
	}
	return ""
}

// submissionVersion picks the full build string to submit. The artifact's
// build fills in a missing commit for the same release.
func submissionVersion(attempted, expected string) (string, error) {
	v := attempted
	if commit(v) == "" && commit(expected) != "" && sameCompiler(v, expected) {
		v = expected
	}
	if err := validation.ValidateCompilerVersion(v, true); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompilerVersion, err)
	}
	return validation.ExplorerCompilerVersion(v), nil
}

func buildPayload(req VerifyRequest, settings CompilerSettings, version string, encoded []byte) (etherscan.VerifyRequest, error) {
	payload := etherscan.VerifyRequest{
		Address:          req.Address,
		CompilerVersion:  version,
		OptimizationUsed: settings.OptimizerEnabled,
		Runs:             settings.OptimizerRuns,
		ConstructorArgs:  hex.EncodeToString(encoded),
		EVMVersion:       settings.EVMVersion,
		LicenseType:      req.LicenseType,
	}
	switch {
	case len(req.Input) > 0:
		payload.CodeFormat = etherscan.FormatStandardJSON
		payload.Source = string(req.Input)
		payload.ContractName = req.Artifact.ID().String()
	case req.FlattenedSource != "":
		payload.CodeFormat = etherscan.FormatSingleFile
		payload.Source = req.FlattenedSource
		payload.ContractName = req.Artifact.ContractName
	default:
		return payload, ErrNoPayload
	}
	return payload, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
