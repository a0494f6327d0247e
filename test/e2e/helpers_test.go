//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	"github.com/pendergraft/deployrecon/internal/chains/evm/foundry"
	"github.com/pendergraft/deployrecon/internal/config"
	"github.com/pendergraft/deployrecon/internal/server"
	"github.com/pendergraft/deployrecon/internal/storage"
	"github.com/pendergraft/deployrecon/pkg/client"
	"github.com/pendergraft/deployrecon/pkg/etherscan"
)

// anvilKey is the first of anvil's well-known development accounts.
const anvilKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const foundryImage = "ghcr.io/foundry-rs/foundry:latest"

var tokenID = chains.ArtifactID{SourcePath: "src/Token.sol", ContractName: "Token"}

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	AnvilContainer    testcontainers.Container
	ConnString        string
	RPCURL            string
	ProjectDir        string
	Network           chains.Network
	Reader            *evm.Reader
	Client            *ethclient.Client
	Explorer          *httptest.Server
	TestServer        *httptest.Server
	API               *client.Client
	Store             storage.Store
	Logger            *slog.Logger
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("deployrecon"),
		postgres.WithUsername("deployrecon"),
		postgres.WithPassword("deployrecon"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}
	return container, connString, nil
}

// setupAnvilE starts a local dev chain and returns its RPC URL
func setupAnvilE(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        foundryImage,
			Entrypoint:   []string{"anvil"},
			Cmd:          []string{"--host", "0.0.0.0", "--chain-id", "31337"},
			ExposedPorts: []string{"8545/tcp"},
			WaitingFor:   wait.ForListeningPort("8545/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start anvil container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	port, err := container.MappedPort(ctx, "8545/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	return container, fmt.Sprintf("http://%s:%s", host, port.Port()), nil
}

// buildFoundryProjectE copies the project to a world-writable temp dir and
// runs forge build there, so the container user can write out/.
func buildFoundryProjectE(projectDir string) (string, error) {
	workDir := filepath.Join(os.TempDir(), fmt.Sprintf("token-project-%s", uuid.New().String()))
	if err := copyDir(projectDir, workDir); err != nil {
		return "", fmt.Errorf("copying project: %w", err)
	}

	// #nosec G204 -- controlled command
	cmd := exec.Command("docker", "run", "--rm",
		"-v", workDir+":/project",
		"-w", "/project",
		"--entrypoint", "/bin/sh",
		foundryImage,
		"-c", "forge build --build-info --cache-path /tmp/forge-cache")

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(workDir)
		return "", fmt.Errorf("failed to build Foundry project: %w\nOutput: %s", err, string(output))
	}

	if _, err := os.Stat(filepath.Join(workDir, "out", "Token.sol", "Token.json")); err != nil {
		os.RemoveAll(workDir)
		return "", fmt.Errorf("build produced no Token artifact: %w", err)
	}
	return workDir, nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			if err := os.MkdirAll(target, 0777); err != nil {
				return err
			}
			return os.Chmod(target, 0777)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

// newStubExplorer answers getsourcecode with verified source for every
// address in verified, and unverified otherwise.
func newStubExplorer(verified func(address string) bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("action") != "getsourcecode" {
			w.Write([]byte(`{"status":"0","message":"NOTOK","result":"unsupported action"}`))
			return
		}
		source := ""
		if verified(r.URL.Query().Get("address")) {
			source = "contract Token {}"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "1",
			"message": "OK",
			"result":  []map[string]string{{"SourceCode": source, "ContractName": "Token"}},
		})
	}))
}

// startServerE starts the server in-process against postgres and anvil
func startServerE(tc *TestContext) (*httptest.Server, storage.Store, error) {
	cfg := &config.Config{
		Server:    config.ServerConfig{Port: 8080, Host: "0.0.0.0", RequestTimeout: 60},
		Storage:   config.StorageConfig{Type: "postgres", Postgres: config.PostgresConfig{URL: tc.ConnString}},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Proxy:     config.ProxyConfig{TrustProxy: false},
		Chain:     config.ChainConfig{Network: tc.Network.Name, CheckConcurrency: 4},
		Explorer:  config.ExplorerConfig{CheckInterval: time.Second, MaxChecks: 3},
	}

	store, err := storage.New(cfg.Storage, tc.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	builder := foundry.New()
	srv := server.New(cfg, store, server.Deps{
		Network:  tc.Network,
		Reader:   tc.Reader,
		Explorer: etherscan.New(tc.Network.ExplorerAPI, "test-key", etherscan.WithRateLimit(100, 10)),
		Artifacts: func(id chains.ArtifactID) (*chains.CompiledArtifact, error) {
			return builder.Load(tc.ProjectDir, id)
		},
	}, tc.Logger)

	return httptest.NewServer(srv.Handler()), store, nil
}

// loadToken loads the built Token artifact
func loadToken(t *testing.T) *chains.CompiledArtifact {
	t.Helper()
	artifact, err := foundry.New().Load(testCtx.ProjectDir, tokenID)
	require.NoError(t, err, "Failed to load Token artifact")
	return artifact
}
