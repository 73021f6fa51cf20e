package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/handler"
	"github.com/honeynil/CheckoutService/internal/infrastructure/auth"
	"github.com/honeynil/CheckoutService/internal/models"
	service "github.com/honeynil/CheckoutService/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-secret"

type pendingOnly struct {
	service.CheckoutService
}

func (pendingOnly) PendingTransaction(context.Context, uuid.UUID) (*models.Transaction, error) {
	return nil, nil
}

func newRouter() http.Handler {
	h := handler.NewHandler(pendingOnly{}, nil, nil, "whsec", map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	return SetupRouter(h, secret, metrics)
}

func serve(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	r := newRouter()

	rec := serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r := newRouter()

	rec := serve(r, http.MethodGet, "/transactions/pending", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.GenerateJWT(secret, uuid.New(), time.Hour)
	require.NoError(t, err)
	rec = serve(r, http.MethodGet, "/transactions/pending", token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	foreign, err := auth.GenerateJWT("other", uuid.New(), time.Hour)
	require.NoError(t, err)
	rec = serve(r, http.MethodGet, "/transactions/pending", foreign)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}
	_, _ = sr.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, sr.status)

	sr = &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	sr.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, sr.status)
}
