package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Network(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/network" {
			t.Errorf("Expected path /api/v1/network, got %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET method, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"network":   "base-sepolia",
			"chainId":   84532,
			"reconcile": true,
		})
	}))
	defer server.Close()

	n, err := New(server.URL + "/").Network(context.Background())
	if err != nil {
		t.Fatalf("Network() error = %v", err)
	}
	if n.Name != "base-sepolia" || n.ChainID != 84532 || !n.Reconcile {
		t.Errorf("Network() = %+v", n)
	}
}

func TestClient_ListManifests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/manifests" {
			t.Errorf("Expected path /api/v1/manifests, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("network"); got != "base" {
			t.Errorf("network query = %q, want base", got)
		}
		if got := r.URL.Query().Get("status"); got != "mined" {
			t.Errorf("status query = %q, want mined", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"artifact": "src/Token.sol:Token", "network": "base", "status": "mined"},
			},
		})
	}))
	defer server.Close()

	manifests, err := New(server.URL).ListManifests(context.Background(), ListOptions{Network: "base", Status: "mined"})
	if err != nil {
		t.Fatalf("ListManifests() error = %v", err)
	}
	if len(manifests) != 1 || manifests[0].Artifact != "src/Token.sol:Token" {
		t.Errorf("ListManifests() = %+v", manifests)
	}
}

func TestClient_GetManifest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/manifests/base/src/Token.sol:Token" {
			t.Errorf("Expected artifact path, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"artifact":        "src/Token.sol:Token",
			"network":         "base",
			"contractAddress": "0x00000000000000000000000000000000000000aa",
			"constructorArgs": []map[string]string{{"type": "uint256", "value": "1000"}},
		})
	}))
	defer server.Close()

	m, err := New(server.URL).GetManifest(context.Background(), "base", "src/Token.sol:Token")
	if err != nil {
		t.Fatalf("GetManifest() error = %v", err)
	}
	if m.ContractAddress == "" || len(m.ConstructorArgs) != 1 {
		t.Errorf("GetManifest() = %+v", m)
	}
}

func TestClient_Runs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/runs":
			if got := r.URL.Query().Get("limit"); got != "5" {
				t.Errorf("limit query = %q, want 5", got)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": "r-1", "overall": true}},
			})
		case "/api/v1/runs/r-1":
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "r-1",
				"overall": true,
				"report":  map[string]any{"overall": true},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := New(server.URL)
	runs, err := c.ListRuns(context.Background(), ListOptions{Limit: 5})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "r-1" {
		t.Errorf("ListRuns() = %+v", runs)
	}

	run, err := c.GetRun(context.Background(), "r-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !run.Overall || len(run.Report) == 0 {
		t.Errorf("GetRun() = %+v", run)
	}
}

func TestClient_ListAttempts(t *testing.T) {
	const addr = "0x00000000000000000000000000000000000000aa"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/verifications/"+addr {
			t.Errorf("Expected address path, got %s", r.URL.Path)
		}
		if r.URL.Query().Has("address") {
			t.Error("address should be in the path only")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": "a-1", "outcome": "submitted", "guid": "abc"}},
		})
	}))
	defer server.Close()

	attempts, err := New(server.URL).ListAttempts(context.Background(), ListOptions{Address: addr})
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	if len(attempts) != 1 || attempts[0].GUID != "abc" {
		t.Errorf("ListAttempts() = %+v", attempts)
	}
}

func TestClient_Reconcile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/reconcile" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s", ct)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}

		var req ReconcileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Artifact != "src/Token.sol:Token" || req.Token == nil || req.Token.Symbol != "TKN" {
			t.Errorf("request = %+v", req)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"runId":    "r-2",
			"overall":  false,
			"failures": []string{"bytecode: mismatch"},
			"bytecode": map[string]any{"verdict": "mismatch"},
			"stateChecks": map[string]any{
				"status":  "passed",
				"results": []map[string]any{{"name": "symbol", "passed": true, "actual": "TKN"}},
			},
			"verification": map[string]any{"outcome": "not_attempted"},
		})
	}))
	defer server.Close()

	c := New(server.URL, WithHeader("Authorization", "Bearer token"))
	rep, err := c.Reconcile(context.Background(), ReconcileRequest{
		Artifact: "src/Token.sol:Token",
		Token:    &TokenExpectations{Symbol: "TKN"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if rep.Overall || rep.Bytecode.Verdict != "mismatch" || rep.Verification.Outcome != "not_attempted" {
		t.Errorf("Reconcile() = %+v", rep)
	}
	if len(rep.StateChecks.Results) != 1 || !rep.StateChecks.Results[0].Passed {
		t.Errorf("Reconcile().StateChecks = %+v", rep.StateChecks)
	}
}

func TestClient_ErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "NOT_FOUND",
				"message": "Run not found",
			},
		})
	}))
	defer server.Close()

	_, err := New(server.URL).GetRun(context.Background(), "missing")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.Status != http.StatusNotFound {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClient_ErrorWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL).ListRuns(context.Background(), ListOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if apiErr.Code != "HTTP_502" {
		t.Errorf("APIError.Code = %s, want HTTP_502", apiErr.Code)
	}
}
