package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/config"
	"github.com/pendergraft/deployrecon/internal/storage"
	"github.com/pendergraft/deployrecon/pkg/etherscan"
)

var (
	base    = chains.Network{Name: "base", ChainID: 8453, ExplorerURL: "https://basescan.org"}
	runtime = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x34, 0x80, 0x15}
)

const tokenAddress = "0x00000000000000000000000000000000000000Aa"

type stubReader struct {
	chainID uint64
	err     error
}

func (r *stubReader) ChainID(ctx context.Context) (uint64, error) { return r.chainID, r.err }
func (r *stubReader) CodeAt(ctx context.Context, address string) ([]byte, error) {
	return runtime, nil
}
func (r *stubReader) Receipt(ctx context.Context, txHash string) (*chains.Receipt, error) {
	return nil, chains.ErrReceiptNotFound
}
func (r *stubReader) TransactionInput(ctx context.Context, txHash string) ([]byte, error) {
	return nil, chains.ErrTransactionNotFound
}
func (r *stubReader) Call(ctx context.Context, address string, abi json.RawMessage, method string, args ...any) ([]any, error) {
	return nil, errors.New("no calls expected")
}

type stubExplorer struct{}

func (stubExplorer) GetSourceCode(ctx context.Context, address string) (*etherscan.SourceCode, error) {
	return &etherscan.SourceCode{SourceCode: "contract Token {}", ContractName: "Token"}, nil
}
func (stubExplorer) VerifySourceCode(ctx context.Context, req etherscan.VerifyRequest) (string, error) {
	return "", errors.New("submission not expected")
}
func (stubExplorer) CheckVerifyStatus(ctx context.Context, guid string) (*etherscan.VerifyStatus, error) {
	return nil, errors.New("polling not expected")
}

func loadToken(id chains.ArtifactID) (*chains.CompiledArtifact, error) {
	if id.ContractName != "Token" {
		return nil, chains.ErrArtifactNotFound
	}
	return &chains.CompiledArtifact{
		ContractName:    "Token",
		SourcePath:      "src/Token.sol",
		ABI:             json.RawMessage(`[]`),
		RuntimeBytecode: runtime,
	}, nil
}

func newTestServer(t *testing.T, deps Deps, opts ...func(*config.Config)) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.New(config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "server.db")},
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	cfg := &config.Config{
		Explorer: config.ExplorerConfig{MaxChecks: 1},
		Chain:    config.ChainConfig{CheckConcurrency: 2},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg, store, deps, logger)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, Deps{Network: base})

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		rec := get(t, s.Handler(), path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServer_Ready(t *testing.T) {
	tests := []struct {
		name   string
		reader *stubReader
		want   int
		code   string
	}{
		{"serving expected chain", &stubReader{chainID: 8453}, http.StatusOK, ""},
		{"wrong chain", &stubReader{chainID: 1}, http.StatusServiceUnavailable, "WRONG_CHAIN"},
		{"rpc down", &stubReader{err: &chains.TransportError{Op: "chainId", Err: errors.New("refused")}}, http.StatusServiceUnavailable, "RPC_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Deps{Network: base, Reader: tt.reader})
			rec := get(t, s.Handler(), "/readyz")
			assert.Equal(t, tt.want, rec.Code)
			if tt.code != "" {
				assert.Contains(t, rec.Body.String(), tt.code)
			}
		})
	}
}

func TestServer_ReadRoutes(t *testing.T) {
	s := newTestServer(t, Deps{Network: base})

	for _, path := range []string{"/api/v1/manifests", "/api/v1/verifications", "/api/v1/runs"} {
		rec := get(t, s.Handler(), path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var body struct {
			Data []json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), path)
		assert.Empty(t, body.Data, path)
	}

	rec := get(t, s.Handler(), "/api/v1/network")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reconcile":false`)
}

func TestServer_ReconcileDisabledWithoutChain(t *testing.T) {
	s := newTestServer(t, Deps{Network: base, Artifacts: loadToken})

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"artifact":"src/Token.sol:Token","address":"` + tokenAddress + `"}`)
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/reconcile", body))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestServer_ReconcileRecordsRun(t *testing.T) {
	s := newTestServer(t, Deps{
		Network:   base,
		Reader:    &stubReader{chainID: 8453},
		Explorer:  stubExplorer{},
		Artifacts: loadToken,
	})

	payload, err := json.Marshal(map[string]any{"artifact": "src/Token.sol:Token", "address": tokenAddress})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/reconcile", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep struct {
		RunID   string `json:"runId"`
		Overall bool   `json:"overall"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.True(t, rep.Overall)
	require.NotEmpty(t, rep.RunID)

	rec = get(t, s.Handler(), "/api/v1/runs/"+rep.RunID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"overall":true`)
}

func TestServer_ReconcileRequiresToken(t *testing.T) {
	s := newTestServer(t, Deps{
		Network:   base,
		Reader:    &stubReader{chainID: 8453},
		Explorer:  stubExplorer{},
		Artifacts: loadToken,
	}, func(cfg *config.Config) {
		cfg.Auth.Tokens = []string{"dr_tok_test"}
	})

	post := func(header, value string) *httptest.ResponseRecorder {
		body := strings.NewReader(`{"artifact":"src/Token.sol:Token","address":"` + tokenAddress + `"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile", body)
		if header != "" {
			req.Header.Set(header, value)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := post("", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")

	assert.Equal(t, http.StatusUnauthorized, post("Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, post("Authorization", "Bearer dr_tok_test").Code)

	// Reads stay open
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/api/v1/runs").Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t, Deps{Network: base})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny")))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
