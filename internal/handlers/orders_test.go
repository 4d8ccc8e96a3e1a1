package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories/memory"
	"github.com/hanko-field/orders/internal/services"
	"github.com/hanko-field/orders/internal/services/plugins"
)

func newOrderTestRouter(t *testing.T) http.Handler {
	t.Helper()

	store := memory.NewStore()
	store.PutTaxCategory(domain.TaxCategory{ID: "standard", Rates: []domain.TaxRate{
		{ID: 1, Title: "UK VAT", Rate: decimal.NewFromInt(20), Zones: []domain.TaxZone{{Country: "GB", Regions: []string{"*"}}}},
	}})
	base := decimal.RequireFromString("10")
	store.PutProduct(domain.Product{
		ID: "tee", Title: "Tee", StockID: "TEE", BasePrice: &base, StockLevel: 5, TaxCategoryID: "standard",
		OptionGroups: []domain.OptionGroup{{ID: "size", Title: "Size", Options: []domain.Option{
			{ID: "l", Title: "Large", ModifyPrice: decimal.NewFromInt(1)},
		}}},
	})
	store.PutContact(domain.Contact{
		ID:       "c-1",
		Personal: domain.PersonalDetails{FirstName: "Ana", Surname: "Lima", Email: "ana@example.com"},
	})

	registry := services.NewLineItemPluginRegistry()
	registry.RegisterPriceModifier(plugins.ProductOptions{})
	registry.RegisterCustomiser(plugins.ProductOptions{})

	builder, err := services.NewLineItemBuilder(services.LineItemBuilderDeps{
		Tax:     services.NewTaxResolver(store.TaxCategories(), nil),
		Plugins: registry,
	})
	require.NoError(t, err)
	stock, err := services.NewStockChecker(services.StockCheckerDeps{Products: store.Products(), Ledger: store.StockLedger()})
	require.NoError(t, err)
	assembler, err := services.NewOrderAssembler(services.OrderAssemblerDeps{
		Orders:     store.Orders(),
		Products:   store.Products(),
		Contacts:   store.Contacts(),
		Builder:    builder,
		Stock:      stock,
		UnitOfWork: store,
	})
	require.NoError(t, err)

	h := NewOrderHandlers(assembler)
	return NewRouter(
		WithEstimateRoutes(h.EstimateRoutes),
		WithInvoiceRoutes(h.InvoiceRoutes),
		WithOrderRoutes(h.Routes),
		WithPublicRoutes(h.PublicRoutes),
	)
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeOrder(t *testing.T, rr *httptest.ResponseRecorder) orderPayload {
	t.Helper()
	var resp orderResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp.Order
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

const gbDelivery = `{"delivery":{"line1":"1 Main St","city":"Leeds","region":"eng","country":"gb"},"personal":{"firstName":"<b>Sam</b>"}}`

func TestOrderHandlersEstimateLifecycle(t *testing.T) {
	router := newOrderTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/estimates", gbDelivery)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeOrder(t, rr)
	assert.Equal(t, "estimate", created.Kind)
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.AccessKey)
	assert.Equal(t, "Sam", created.Personal.FirstName)
	assert.Equal(t, "GB", created.Delivery.Country)
	assert.Equal(t, "ENG", created.Delivery.Region)
	assert.Empty(t, created.Items)

	itemsPath := "/api/v1/orders/" + created.ID + "/items"
	rr = doJSON(t, router, http.MethodPost, itemsPath, `{"productId":"tee","quantity":2,"extra":{"size":"l"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	withItem := decodeOrder(t, rr)
	require.Len(t, withItem.Items, 1)
	item := withItem.Items[0]
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, "11.0000", item.UnitPrice)
	assert.Equal(t, "22.0000", withItem.SubTotal)
	assert.Equal(t, "4.4000", withItem.TaxTotal)
	assert.Equal(t, "26.4000", withItem.Total)
	assert.True(t, withItem.Deliverable)
	require.Len(t, withItem.Taxes, 1)
	assert.Equal(t, int64(1), withItem.Taxes[0].RateID)
	assert.Equal(t, "UK VAT", withItem.Taxes[0].Title)
	assert.Equal(t, "UK VAT", item.TaxRateTitle)

	rr = doJSON(t, router, http.MethodPatch, itemsPath+"?key="+url.QueryEscape(item.Key), `{"quantity":1,"increment":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decodeOrder(t, rr)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, 3, updated.Items[0].Quantity)

	rr = doJSON(t, router, http.MethodGet, "/api/v1/orders/"+created.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "33.0000", decodeOrder(t, rr).SubTotal)

	rr = doJSON(t, router, http.MethodPost, "/api/v1/orders/"+created.ID+"/convert", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	invoice := decodeOrder(t, rr)
	assert.Equal(t, "invoice", invoice.Kind)
	assert.Equal(t, "INV-0001", invoice.FullRef)
	assert.Empty(t, invoice.StartDate)

	rr = doJSON(t, router, http.MethodGet, "/api/v1/public/orders/"+invoice.AccessKey, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	public := decodeOrder(t, rr)
	assert.Equal(t, invoice.ID, public.ID)
	assert.Empty(t, public.AccessKey)
	assert.Equal(t, "39.6000", public.Total)

	rr = doJSON(t, router, http.MethodDelete, itemsPath+"?key="+url.QueryEscape(item.Key), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, decodeOrder(t, rr).Items)
}

func TestOrderHandlersInsufficientStock(t *testing.T) {
	router := newOrderTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/invoices", gbDelivery)
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeOrder(t, rr)
	assert.Equal(t, "invoice", created.Kind)

	rr = doJSON(t, router, http.MethodPost, "/api/v1/orders/"+created.ID+"/items", `{"productId":"tee","quantity":6}`)
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	body := decodeError(t, rr)
	assert.Equal(t, "insufficient_stock", body["error"])
	assert.Equal(t, "Tee", body["item_title"])

	rr = doJSON(t, router, http.MethodGet, "/api/v1/orders/"+created.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeOrder(t, rr).Items)
}

func TestOrderHandlersUpdateItemQuantityBounds(t *testing.T) {
	router := newOrderTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/estimates", gbDelivery)
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeOrder(t, rr)
	itemsPath := "/api/v1/orders/" + created.ID + "/items"

	rr = doJSON(t, router, http.MethodPost, itemsPath, `{"productId":"tee","quantity":2}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	keyPath := itemsPath + "?key=" + url.QueryEscape(decodeOrder(t, rr).Items[0].Key)

	rr = doJSON(t, router, http.MethodPatch, keyPath, `{"quantity":-1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	assert.Equal(t, "validation_failed", decodeError(t, rr)["error"])

	rr = doJSON(t, router, http.MethodPatch, keyPath, `{"quantity":0}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, decodeOrder(t, rr).Items)

	rr = doJSON(t, router, http.MethodGet, "/api/v1/orders/"+created.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeOrder(t, rr).Items)
}

func TestOrderHandlersSetCustomer(t *testing.T) {
	router := newOrderTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/estimates", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeOrder(t, rr)
	customerPath := "/api/v1/orders/" + created.ID + "/customer"

	rr = doJSON(t, router, http.MethodPut, customerPath, `{"contactId":"c-1"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	withCustomer := decodeOrder(t, rr)
	assert.Equal(t, "c-1", withCustomer.CustomerID)
	assert.Equal(t, "Ana", withCustomer.Personal.FirstName)

	rr = doJSON(t, router, http.MethodPut, customerPath, `{"contactId":"missing"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "validation_failed", decodeError(t, rr)["error"])
}

func TestOrderHandlersRequestErrors(t *testing.T) {
	router := newOrderTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/estimates", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	orderID := decodeOrder(t, rr).ID
	itemsPath := "/api/v1/orders/" + orderID + "/items"

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{name: "unknown order", method: http.MethodGet, path: "/api/v1/orders/nope", status: http.StatusNotFound, code: "order_not_found"},
		{name: "unknown access key", method: http.MethodGet, path: "/api/v1/public/orders/nope", status: http.StatusNotFound, code: "order_not_found"},
		{name: "malformed json", method: http.MethodPost, path: itemsPath, body: `{"productId":`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "missing product", method: http.MethodPost, path: itemsPath, body: `{"quantity":1}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "non-positive quantity", method: http.MethodPost, path: itemsPath, body: `{"productId":"tee","quantity":0}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown product", method: http.MethodPost, path: itemsPath, body: `{"productId":"ghost"}`, status: http.StatusBadRequest, code: "validation_failed"},
		{name: "missing key", method: http.MethodPatch, path: itemsPath, body: `{"quantity":1}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown key", method: http.MethodDelete, path: itemsPath + "?key=absent", status: http.StatusNotFound, code: "item_not_found"},
		{name: "oversized body", method: http.MethodPost, path: itemsPath, body: `{"productId":"` + strings.Repeat("x", maxOrderBodySize) + `"}`, status: http.StatusRequestEntityTooLarge, code: "payload_too_large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, router, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, tc.code, decodeError(t, rr)["error"])
		})
	}
}

func TestWriteOrderErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: &services.ValidationError{Reason: "bad"}, status: http.StatusBadRequest, code: "validation_failed"},
		{err: fmt.Errorf("wrap: %w", &services.LogicError{Reason: "locked"}), status: http.StatusUnprocessableEntity, code: "invalid_operation"},
		{err: fmt.Errorf("save: %w", services.ErrOrderConflict), status: http.StatusConflict, code: "order_conflict"},
		{err: services.ErrOrderRefExhausted, status: http.StatusConflict, code: "order_conflict"},
		{err: services.ErrOrderUnavailable, status: http.StatusServiceUnavailable, code: "order_store_unavailable"},
		{err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeOrderError(context.Background(), rr, tc.err)
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.code, decodeError(t, rr)["error"])
		})
	}
}
