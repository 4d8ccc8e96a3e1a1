package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

func TestSanitizeTextStripsMarkup(t *testing.T) {
	cases := map[string]string{
		"<b>Gold</b> leaf":                 "Gold leaf",
		"Fish & Chips":                     "Fish & Chips",
		"<script>alert(1)</script>Engrave": "Engrave",
		"   ":                              "",
	}
	for input, want := range cases {
		if got := SanitizeText(input, 64); got != want {
			t.Fatalf("SanitizeText(%q) = %q, want %q", input, got, want)
		}
	}
	if got := SanitizeText(strings.Repeat("a", 10), 4); got != "aaaa" {
		t.Fatalf("expected truncation, got %q", got)
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if spanCtx.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", spanCtx.TraceID())
	}
	if spanCtx.SpanID().String() != "0000000000000001" || !spanCtx.IsSampled() {
		t.Fatalf("unexpected span context %+v", spanCtx)
	}

	for _, header := range []string{"", "short/1", "105445aa7843bc8bf206b12000100000/"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestRequestLoggerRecordsRouteAndOrder(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := chi.NewRouter()
	r.Use(InjectLoggerMiddleware(zap.New(core)), RequestLoggerMiddleware())
	r.Get("/orders/{orderID}", func(w http.ResponseWriter, req *http.Request) {
		requestctx.SetOrderID(req.Context(), chi.URLParam(req, "orderID"))
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "/orders/{orderID}" {
		t.Fatalf("unexpected route %v", fields["route"])
	}
	if fields["order_id"] != "ord_1" {
		t.Fatalf("unexpected order id %v", fields["order_id"])
	}
	if fields["status"] != int64(http.StatusNoContent) {
		t.Fatalf("unexpected status %v", fields["status"])
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestTraceMiddlewareEchoesHeader(t *testing.T) {
	var traceID string
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = requestctx.TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if traceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected inherited trace id, got %q", traceID)
	}
	if !strings.HasPrefix(rec.Header().Get(cloudTraceHeader), traceID+"/") {
		t.Fatalf("unexpected response header %q", rec.Header().Get(cloudTraceHeader))
	}
}
