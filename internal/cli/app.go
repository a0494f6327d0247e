package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	"github.com/pendergraft/deployrecon/internal/config"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/deployments/store"
	"github.com/pendergraft/deployrecon/internal/storage"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
	"github.com/pendergraft/deployrecon/pkg/etherscan"
)

// app is the per-command runtime: resolved settings plus constructors for
// the collaborators a command needs. Nothing is dialed until asked for.
type app struct {
	cfg     *config.Config
	project *ProjectConfig
	network chains.Network
	dir     string
	logger  *slog.Logger
}

// firstNonEmpty returns the first non-empty value.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	project, _, err := loadProjectConfigOrEmpty()
	if err != nil {
		return nil, err
	}
	global, err := loadGlobalConfig()
	if err != nil {
		return nil, err
	}

	level := parseLogLevel(cfg.Logging.Level)
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	network, err := resolveNetwork(cfg, project, global)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		project: project,
		network: network,
		dir:     firstNonEmpty(projectDir, project.ProjectDir, cfg.Manifest.ProjectDir, "."),
		logger:  logger,
	}, nil
}

// resolveNetwork applies flag > env > project TOML > user config > default
// to the network name and its endpoints.
func resolveNetwork(cfg *config.Config, project *ProjectConfig, global *GlobalConfig) (chains.Network, error) {
	name := firstNonEmpty(networkName, os.Getenv("NETWORK"), project.Network, global.Network, cfg.Chain.Network)
	override := project.network(name)
	network, err := chains.LookupNetwork(name, override)
	if err != nil {
		return chains.Network{}, err
	}
	projectRPC := ""
	if override != nil {
		projectRPC = override.RPCURL
	}
	network.RPCURL = firstNonEmpty(rpcURL, os.Getenv("RPC_URL"), projectRPC, global.RPC[network.Name], network.RPCURL)
	network.ExplorerAPI = firstNonEmpty(os.Getenv("EXPLORER_API_URL"), network.ExplorerAPI)
	if cfg.Chain.ChainID != 0 {
		network.ChainID = cfg.Chain.ChainID
	}
	return network, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// artifactRef returns the artifact id from the flag or the project config.
func (a *app) artifactRef(flag string) (chains.ArtifactID, error) {
	ref := firstNonEmpty(flag, a.project.Contract.Artifact)
	if ref == "" {
		return chains.ArtifactID{}, fmt.Errorf("no artifact given (use --artifact or [contract] artifact in the config)")
	}
	return chains.ParseArtifactID(ref)
}

func (a *app) builder() (chains.Builder, error) {
	return evm.NewBuilders().Resolve(a.dir, firstNonEmpty(builderName, a.project.Builder, a.cfg.Manifest.Builder))
}

// loadArtifact loads an artifact of the project build.
func (a *app) loadArtifact(id chains.ArtifactID) (*chains.CompiledArtifact, error) {
	b, err := a.builder()
	if err != nil {
		return nil, err
	}
	artifact, err := b.Load(a.dir, id)
	if err != nil {
		return nil, fmt.Errorf("loading %s with %s (run the build first): %w", id, b.DisplayName(), err)
	}
	return artifact, nil
}

func (a *app) manifests() (*store.FileStore, error) {
	return store.NewFileStore(firstNonEmpty(manifestDir, a.project.ManifestDir, a.cfg.Manifest.Dir))
}

// dial connects to the network's RPC endpoint and checks its chain id.
func (a *app) dial(ctx context.Context) (*evm.Reader, *ethclient.Client, error) {
	if a.network.RPCURL == "" {
		return nil, nil, fmt.Errorf("no RPC endpoint for network %s (set --rpc or RPC_URL)", a.network.Name)
	}
	reader, client, err := evm.Dial(ctx, a.network.RPCURL, a.logger)
	if err != nil {
		return nil, nil, err
	}
	id, err := reader.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	if a.network.ChainID != 0 && id != a.network.ChainID {
		client.Close()
		return nil, nil, fmt.Errorf("%w: %s is chain %d, endpoint serves %d", chains.ErrWrongChain, a.network.Name, a.network.ChainID, id)
	}
	a.network.ChainID = id
	return reader, client, nil
}

func (a *app) orchestrator(reader chains.Reader, signer chains.Signer, fs deployments.Store) deployments.Service {
	svc := deployments.NewService(fs, reader, signer, deployments.Options{
		PollTimeout:    a.cfg.Deploy.PollTimeout,
		InitialBackoff: a.cfg.Deploy.InitialBackoff,
		MaxBackoff:     a.cfg.Deploy.MaxBackoff,
		MaxAttempts:    a.cfg.Deploy.MaxAttempts,
	}, a.logger)
	return deployments.LoggingMiddleware(a.logger)(svc)
}

// explorerKey resolves the explorer API key: env, then saved credentials.
func (a *app) explorerKey() string {
	return firstNonEmpty(os.Getenv("ETHERSCAN_API_KEY"), getCredential(a.network.Name))
}

func (a *app) explorer() (*etherscan.Client, error) {
	if a.network.ExplorerAPI == "" {
		return nil, fmt.Errorf("network %s has no explorer API (set EXPLORER_API_URL)", a.network.Name)
	}
	key := a.explorerKey()
	if key == "" {
		return nil, fmt.Errorf("no explorer API key for %s (set ETHERSCAN_API_KEY or run 'deployrecon auth login')", a.network.Name)
	}
	return etherscan.New(a.network.ExplorerAPI, key,
		etherscan.WithRateLimit(a.cfg.Explorer.RequestsPerS, max(a.cfg.Explorer.Burst, 1)),
		etherscan.WithChainID(a.network.ChainID),
	), nil
}

func (a *app) verifier(explorer verification.Explorer, reader chains.Reader, attempts verification.AttemptStore) verification.Service {
	svc := verification.NewService(explorer, reader, attempts, verification.Options{
		CheckInterval: a.cfg.Explorer.CheckInterval,
		MaxChecks:     a.cfg.Explorer.MaxChecks,
	}, a.logger)
	return verification.LoggingMiddleware(a.logger)(svc)
}

// history opens the SQL store recording runs and attempts.
func (a *app) history(ctx context.Context) (storage.Store, error) {
	st, err := storage.New(a.cfg.Storage, a.logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrating history store: %w", err)
	}
	return st, nil
}

// typedArgs pairs constructor values with the types of the artifact's
// constructor.
func typedArgs(artifact *chains.CompiledArtifact, values []string) ([]deployments.ConstructorArg, error) {
	types, err := evm.ConstructorTypes(artifact.ABI)
	if err != nil {
		return nil, err
	}
	if len(values) != len(types) {
		return nil, fmt.Errorf("%w: constructor takes %d arguments, got %d", deployments.ErrConstructorArgs, len(types), len(values))
	}
	args := make([]deployments.ConstructorArg, len(values))
	for i, v := range values {
		args[i] = deployments.ConstructorArg{Type: types[i], Value: v}
	}
	return args, nil
}

// constructorArgs returns the flag values, or the configured ones.
func (a *app) constructorArgs(artifact *chains.CompiledArtifact, flagValues []string) ([]deployments.ConstructorArg, error) {
	if len(flagValues) > 0 {
		return typedArgs(artifact, flagValues)
	}
	return typedArgs(artifact, deployments.Values(a.project.Contract.ConstructorArgs))
}

func shortHash(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:8] + "..." + s[len(s)-4:]
}
