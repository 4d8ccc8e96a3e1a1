package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"

	"github.com/hanko-field/orders/internal/domain"
)

type memoryObject struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (m *memoryObject) Close() error {
	m.closed = true
	return m.closeErr
}

type fakeWriter struct {
	bucket      string
	object      string
	contentType string
	current     *memoryObject
	closeErr    error
}

func (f *fakeWriter) NewWriter(_ context.Context, bucket, object, contentType string) io.WriteCloser {
	f.bucket, f.object, f.contentType = bucket, object, contentType
	f.current = &memoryObject{closeErr: f.closeErr}
	return f.current
}

func sampleInvoice() domain.Order {
	return domain.Order{
		ID:     "ord_1",
		Kind:   domain.OrderKindInvoice,
		Ref:    42,
		Prefix: "INV",
		Items: []domain.LineItem{{
			Key:             "k1",
			Title:           "Stamp",
			Quantity:        2,
			UnmodifiedPrice: decimal.NewFromInt(10),
			TaxRateID:       1,
			TaxRate:         decimal.NewFromInt(20),
		}},
	}
}

func TestInvoiceArchiveWritesSnapshot(t *testing.T) {
	writer := &fakeWriter{}
	archivedAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	archive, err := NewInvoiceArchive(InvoiceArchiveDeps{
		Writer:    writer,
		Bucket:    "exports",
		RefLength: 4,
		Clock:     func() time.Time { return archivedAt },
	})
	if err != nil {
		t.Fatalf("NewInvoiceArchive: %v", err)
	}

	location, err := archive.ArchiveInvoice(context.Background(), sampleInvoice())
	if err != nil {
		t.Fatalf("ArchiveInvoice: %v", err)
	}
	if location != "gs://exports/orders/invoices/ord_1/INV-0042.json" {
		t.Fatalf("unexpected location %s", location)
	}
	if writer.contentType != "application/json" || !writer.current.closed {
		t.Fatalf("expected closed json object, got %q closed=%v", writer.contentType, writer.current.closed)
	}

	var snapshot invoiceSnapshot
	if err := json.Unmarshal(writer.current.Bytes(), &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snapshot.Total != "24.0000" || snapshot.TaxTotal != "4.0000" {
		t.Fatalf("unexpected totals %s / %s", snapshot.Total, snapshot.TaxTotal)
	}
	if len(snapshot.Items) != 1 || snapshot.Items[0].UnitPrice != "10.0000" {
		t.Fatalf("unexpected items %#v", snapshot.Items)
	}
	if !snapshot.ArchivedAt.Equal(archivedAt) {
		t.Fatalf("unexpected archivedAt %v", snapshot.ArchivedAt)
	}
}

func TestInvoiceArchiveKeepsExistingSnapshot(t *testing.T) {
	writer := &fakeWriter{closeErr: &googleapi.Error{Code: http.StatusPreconditionFailed}}
	archive, err := NewInvoiceArchive(InvoiceArchiveDeps{Writer: writer, Bucket: "exports"})
	if err != nil {
		t.Fatalf("NewInvoiceArchive: %v", err)
	}
	location, err := archive.ArchiveInvoice(context.Background(), sampleInvoice())
	if err != nil {
		t.Fatalf("expected existing snapshot to be accepted, got %v", err)
	}
	if !strings.HasSuffix(location, "INV-42.json") {
		t.Fatalf("unexpected location %s", location)
	}
}

func TestInvoiceArchiveRejectsEstimates(t *testing.T) {
	archive, err := NewInvoiceArchive(InvoiceArchiveDeps{Writer: &fakeWriter{}, Bucket: "exports"})
	if err != nil {
		t.Fatalf("NewInvoiceArchive: %v", err)
	}
	order := sampleInvoice()
	order.Kind = domain.OrderKindEstimate
	if _, err := archive.ArchiveInvoice(context.Background(), order); err == nil {
		t.Fatal("expected error for estimate")
	}
}

func TestNewInvoiceArchiveRequiresBucket(t *testing.T) {
	if _, err := NewInvoiceArchive(InvoiceArchiveDeps{Writer: &fakeWriter{}}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
