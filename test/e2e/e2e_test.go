//go:build e2e

package e2e

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	"github.com/pendergraft/deployrecon/pkg/client"
)

var testCtx *TestContext

// unverified holds lower-cased addresses the stub explorer reports as
// having no verified source.
var unverified sync.Map

func TestMain(m *testing.M) {
	flag.Parse()
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()
	testCtx = &TestContext{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}

	log.Println("Starting Postgres container...")
	var err error
	testCtx.PostgresContainer, testCtx.ConnString, err = setupPostgresE(ctx)
	if err != nil {
		log.Printf("Failed to start postgres: %v", err)
		return 1
	}
	defer func() {
		if err := testCtx.PostgresContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate postgres container: %v", err)
		}
	}()

	log.Println("Starting anvil container...")
	testCtx.AnvilContainer, testCtx.RPCURL, err = setupAnvilE(ctx)
	if err != nil {
		log.Printf("Failed to start anvil: %v", err)
		return 1
	}
	defer func() {
		if err := testCtx.AnvilContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate anvil container: %v", err)
		}
	}()

	log.Println("Building token project...")
	projectDir := "testdata/token-project"
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		projectDir = "../../testdata/token-project"
	}
	testCtx.ProjectDir, err = buildFoundryProjectE(projectDir)
	if err != nil {
		log.Printf("Failed to build project: %v", err)
		return 1
	}
	defer os.RemoveAll(testCtx.ProjectDir)

	testCtx.Reader, testCtx.Client, err = evm.Dial(ctx, testCtx.RPCURL, testCtx.Logger)
	if err != nil {
		log.Printf("Failed to dial anvil: %v", err)
		return 1
	}
	defer testCtx.Client.Close()

	testCtx.Explorer = newStubExplorer(func(address string) bool {
		_, ok := unverified.Load(strings.ToLower(address))
		return !ok
	})
	defer testCtx.Explorer.Close()

	testCtx.Network = chains.Network{
		Name:        "anvil",
		ChainID:     31337,
		RPCURL:      testCtx.RPCURL,
		ExplorerAPI: testCtx.Explorer.URL,
		ExplorerURL: "https://explorer.invalid",
	}

	log.Println("Starting test server...")
	testCtx.TestServer, testCtx.Store, err = startServerE(testCtx)
	if err != nil {
		log.Printf("Failed to start server: %v", err)
		return 1
	}
	defer testCtx.TestServer.Close()
	defer testCtx.Store.Close()
	testCtx.API = client.New(testCtx.TestServer.URL)

	return m.Run()
}
