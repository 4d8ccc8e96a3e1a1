package di

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/repositories/memory"
	"github.com/hanko-field/orders/internal/services"
)

func loadConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load(context.Background(), config.WithEnvMap(env), config.WithoutSystemEnv(), config.WithEnvFile(""))
	require.NoError(t, err)
	return cfg
}

func TestNewContainerMemoryBackend(t *testing.T) {
	ctx := context.Background()
	cfg := loadConfig(t, map[string]string{"ORDERS_ESTIMATE_PREFIX": "Q"})

	container, err := NewContainer(ctx, cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close(context.Background()) })

	assert.IsType(t, &memory.Store{}, container.Repositories)
	assert.Equal(t, "Q", container.Orders.Settings().EstimatePrefix)

	rr := httptest.NewRecorder()
	container.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var ready map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ready))
	assert.Contains(t, ready["checks"], "repositories")

	rr = httptest.NewRecorder()
	container.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/estimates", bytes.NewReader(nil)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestNewContainerInjectedRegistry(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	price := decimal.RequireFromString("4.5")
	store.PutProduct(domain.Product{ID: "mug", Title: "Mug", BasePrice: &price})

	container, err := NewContainer(ctx, loadConfig(t, map[string]string{}), WithRegistry(store))
	require.NoError(t, err)

	order, err := container.Orders.AddItem(ctx, container.Orders.New(domain.OrderKindEstimate), services.AddItemInput{ProductID: "mug", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, "9", order.SubTotal().String())

	stored, err := store.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
	require.NoError(t, container.Close(ctx))
}

func TestNewContainerRejectsUnknownBackend(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	cfg.Orders.Backend = "cassandra"

	_, err := NewContainer(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestNewContainerReplaysIdempotentRequests(t *testing.T) {
	ctx := context.Background()
	container, err := NewContainer(ctx, loadConfig(t, map[string]string{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close(context.Background()) })

	create := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/estimates", bytes.NewReader(nil))
		req.Header.Set("Idempotency-Key", "estimate-1")
		rr := httptest.NewRecorder()
		container.Router.ServeHTTP(rr, req)
		return rr
	}

	first := create()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := create()
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())

	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}
