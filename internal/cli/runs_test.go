package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployrecon/pkg/client"
)

func TestRunRuns(t *testing.T) {
	var lastQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/runs":
			lastQuery = r.URL.RawQuery
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": "r-1", "network": "base", "verdict": "exact_match", "overall": true}},
			})
		case "/api/v1/runs/r-1":
			json.NewEncoder(w).Encode(map[string]any{"id": "r-1", "overall": true, "report": map[string]any{}})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "Run not found"}})
		}
	}))
	defer server.Close()

	t.Run("no server", func(t *testing.T) {
		t.Setenv("DEPLOYRECON_SERVER", "")
		err := runRuns("", "", "", 20, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no server configured")
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, runRuns(server.URL, "0x00000000000000000000000000000000000000aa", "", 5, false))
		assert.Contains(t, lastQuery, "limit=5")
		assert.Contains(t, lastQuery, "address=0x00000000000000000000000000000000000000aa")
	})

	t.Run("list json", func(t *testing.T) {
		require.NoError(t, runRuns(server.URL, "", "", 20, true))
	})

	t.Run("single run", func(t *testing.T) {
		require.NoError(t, runRuns(server.URL, "", "r-1", 20, false))
	})

	t.Run("missing run", func(t *testing.T) {
		err := runRuns(server.URL, "", "nope", 20, false)
		var apiErr *client.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "NOT_FOUND", apiErr.Code)
	})
}

func TestPassFail(t *testing.T) {
	assert.Equal(t, "pass", passFail(true))
	assert.Equal(t, "fail", passFail(false))
}
