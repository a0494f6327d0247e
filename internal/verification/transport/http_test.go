package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployrecon/internal/verification/domain"
)

const tokenAddress = "0x00000000000000000000000000000000000000Aa"

// mockService implements Service for testing
type mockService struct {
	attempts []domain.Attempt
	last     domain.AttemptFilter
	err      error
}

func (m *mockService) ListAttempts(ctx context.Context, filter domain.AttemptFilter) ([]domain.Attempt, error) {
	m.last = filter
	return m.attempts, m.err
}

func setupRouter(svc Service) *chi.Mux {
	r := chi.NewRouter()
	h := NewHandler(svc)
	h.RegisterRoutes(r)
	return r
}

func TestHandler_List(t *testing.T) {
	svc := &mockService{attempts: []domain.Attempt{{
		ID:        "a-1",
		Network:   "base",
		Address:   tokenAddress,
		Artifact:  "src/Token.sol:Token",
		Outcome:   domain.OutcomeFailed,
		Failure:   domain.FailureTransient,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}}
	router := setupRouter(svc)

	t.Run("all", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/verifications?network=base&limit=10", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp ListResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "failed", resp.Data[0].Outcome)
		assert.True(t, resp.Data[0].Retryable)
		assert.Equal(t, "2026-01-02T03:04:05Z", resp.Data[0].CreatedAt)
		assert.Equal(t, domain.AttemptFilter{Network: "base", Limit: 10}, svc.last)
	})

	t.Run("by address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/verifications/"+tokenAddress, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tokenAddress, svc.last.Address)
	})

	t.Run("invalid address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/verifications/0x12", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/verifications?limit=0", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_ListError(t *testing.T) {
	router := setupRouter(&mockService{err: errors.New("db down")})

	req := httptest.NewRequest(http.MethodGet, "/verifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}
