package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const tokenAddress = "0x00000000000000000000000000000000000000Aa"

func writeJSON(w http.ResponseWriter, status, message string, result any) {
	json.NewEncoder(w).Encode(map[string]any{"status": status, "message": message, "result": result})
}

func TestClient_GetSourceCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("module") != "contract" || q.Get("action") != "getsourcecode" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("apikey") != "key" {
			t.Errorf("apikey = %q, want key", q.Get("apikey"))
		}
		if q.Get("chainid") != "8453" {
			t.Errorf("chainid = %q, want 8453", q.Get("chainid"))
		}
		writeJSON(w, "1", "OK", []map[string]string{{
			"SourceCode":      "contract Token {}",
			"ContractName":    "Token",
			"CompilerVersion": "v0.8.24+commit.e11b9ed9",
			"Runs":            "200",
		}})
	}))
	defer server.Close()

	c := New(server.URL, "key", WithChainID(8453), WithRateLimit(100, 10))
	src, err := c.GetSourceCode(context.Background(), tokenAddress)
	if err != nil {
		t.Fatalf("GetSourceCode() error = %v", err)
	}
	if !src.Verified() {
		t.Error("Verified() = false, want true")
	}
	if src.CompilerVersion != "v0.8.24+commit.e11b9ed9" {
		t.Errorf("CompilerVersion = %s", src.CompilerVersion)
	}
}

func TestClient_GetSourceCode_Unverified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, "1", "OK", []map[string]string{{"SourceCode": "", "ABI": "Contract source code not verified"}})
	}))
	defer server.Close()

	src, err := New(server.URL, "").GetSourceCode(context.Background(), tokenAddress)
	if err != nil {
		t.Fatalf("GetSourceCode() error = %v", err)
	}
	if src.Verified() {
		t.Error("Verified() = true, want false")
	}
}

func TestClient_VerifySourceCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("constructorArguements"); got != "00ff" {
			t.Errorf("constructorArguements = %q, want 00ff", got)
		}
		if got := r.PostForm.Get("codeformat"); got != FormatStandardJSON {
			t.Errorf("codeformat = %q", got)
		}
		if got := r.PostForm.Get("contractname"); got != "src/Token.sol:Token" {
			t.Errorf("contractname = %q", got)
		}
		if r.PostForm.Has("runs") {
			t.Error("runs must not be sent with standard json input")
		}
		writeJSON(w, "1", "OK", "guid-123")
	}))
	defer server.Close()

	guid, err := New(server.URL, "key").VerifySourceCode(context.Background(), VerifyRequest{
		Address:         tokenAddress,
		Source:          `{"language":"Solidity"}`,
		ContractName:    "src/Token.sol:Token",
		CompilerVersion: "v0.8.24+commit.e11b9ed9",
		ConstructorArgs: "0x00ff",
	})
	if err != nil {
		t.Fatalf("VerifySourceCode() error = %v", err)
	}
	if guid != "guid-123" {
		t.Errorf("guid = %s, want guid-123", guid)
	}
}

func TestClient_VerifySourceCode_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		result    string
		wantErr   error
		transient bool
	}{
		{name: "already verified", status: 200, result: "Contract source code already verified", wantErr: ErrAlreadyVerified},
		{name: "bad key", status: 200, result: "Invalid API Key", wantErr: ErrInvalidAPIKey},
		{name: "rate limited", status: 200, result: "Max rate limit reached", transient: true},
		{name: "server error", status: 502, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 200 {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, "0", "NOTOK", tt.result)
			}))
			defer server.Close()

			_, err := New(server.URL, "key").VerifySourceCode(context.Background(), VerifyRequest{Address: tokenAddress})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", IsTransient(err), tt.transient)
			}
		})
	}
}

func TestClient_CheckVerifyStatus(t *testing.T) {
	tests := []struct {
		status  string
		result  string
		want    VerifyState
		wantErr error
	}{
		{status: "0", result: "Pending in queue", want: StatePending},
		{status: "1", result: "Pass - Verified", want: StatePass},
		{status: "0", result: "Fail - Unable to verify", want: StateFail},
		{status: "0", result: "Already Verified", wantErr: ErrAlreadyVerified},
	}

	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("guid") != "guid-123" {
					t.Errorf("guid = %s", r.URL.Query().Get("guid"))
				}
				writeJSON(w, tt.status, "OK", tt.result)
			}))
			defer server.Close()

			got, err := New(server.URL, "").CheckVerifyStatus(context.Background(), "guid-123")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckVerifyStatus() error = %v", err)
			}
			if got.State != tt.want {
				t.Errorf("State = %s, want %s", got.State, tt.want)
			}
			if got.Message != tt.result {
				t.Errorf("Message = %s, want %s", got.Message, tt.result)
			}
		})
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, "1", "OK", []any{})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(server.URL, "").GetSourceCode(ctx, tokenAddress)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
