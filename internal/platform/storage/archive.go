// Package storage writes order artefacts to Cloud Storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
)

// ObjectWriter opens a writer for a new object. Implementations must fail when the object
// already exists.
type ObjectWriter interface {
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
}

// GCSObjectWriter writes objects with a does-not-exist precondition.
type GCSObjectWriter struct {
	client *gcs.Client
}

// NewGCSObjectWriter wraps a Cloud Storage client.
func NewGCSObjectWriter(client *gcs.Client) (*GCSObjectWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSObjectWriter{client: client}, nil
}

func (w *GCSObjectWriter) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	writer := w.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType
	return writer
}

// InvoiceArchiveDeps wires the archive.
type InvoiceArchiveDeps struct {
	Writer    ObjectWriter
	Bucket    string
	RefLength int
	Clock     func() time.Time
	Logger    *zap.Logger
}

// InvoiceArchive stores a JSON snapshot of each confirmed invoice.
type InvoiceArchive struct {
	writer    ObjectWriter
	bucket    string
	refLength int
	clock     func() time.Time
	logger    *zap.Logger
}

var _ services.InvoiceArchiver = (*InvoiceArchive)(nil)

// NewInvoiceArchive validates dependencies and applies defaults.
func NewInvoiceArchive(deps InvoiceArchiveDeps) (*InvoiceArchive, error) {
	if deps.Writer == nil {
		return nil, errors.New("invoice archive: writer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("invoice archive: bucket is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceArchive{
		writer:    deps.Writer,
		bucket:    bucket,
		refLength: deps.RefLength,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger.Named("invoice_archive"),
	}, nil
}

// ArchiveInvoice writes the snapshot and returns its gs:// location. Archiving the same
// invoice twice keeps the first snapshot.
func (a *InvoiceArchive) ArchiveInvoice(ctx context.Context, order domain.Order) (string, error) {
	if !order.IsInvoice() {
		return "", fmt.Errorf("invoice archive: order %s is not an invoice", order.ID)
	}
	fullRef := order.FullRef(a.refLength)
	object, err := BuildObjectPath(PurposeInvoiceSnapshot, PathParams{OrderID: order.ID, FullRef: fullRef})
	if err != nil {
		return "", err
	}
	location := fmt.Sprintf("gs://%s/%s", a.bucket, object)

	payload, err := json.Marshal(newInvoiceSnapshot(order, fullRef, a.clock()))
	if err != nil {
		return "", fmt.Errorf("invoice archive: marshal: %w", err)
	}

	writer := a.writer.NewWriter(ctx, a.bucket, object, "application/json")
	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("invoice archive: write %s: %w", location, err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			a.logger.Debug("invoice snapshot already exists", zap.String("location", location))
			return location, nil
		}
		return "", fmt.Errorf("invoice archive: close %s: %w", location, err)
	}
	return location, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

type invoiceSnapshot struct {
	ID         string                 `json:"id"`
	Ref        int64                  `json:"ref"`
	FullRef    string                 `json:"fullRef"`
	CustomerID string                 `json:"customerId,omitempty"`
	Personal   domain.PersonalDetails `json:"personal"`
	Billing    domain.Address         `json:"billing"`
	Delivery   domain.Address         `json:"delivery"`
	Items      []invoiceSnapshotLine  `json:"items"`
	Taxes      []invoiceSnapshotTax   `json:"taxes,omitempty"`
	SubTotal   string                 `json:"subTotal"`
	TaxTotal   string                 `json:"taxTotal"`
	Total      string                 `json:"total"`
	ArchivedAt time.Time              `json:"archivedAt"`
}

type invoiceSnapshotLine struct {
	Key       string `json:"key"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	TaxRate   string `json:"taxRate"`
	Total     string `json:"total"`
}

type invoiceSnapshotTax struct {
	RateID int64  `json:"rateId"`
	Title  string `json:"title,omitempty"`
	Rate   string `json:"rate"`
	Total  string `json:"total"`
}

func newInvoiceSnapshot(order domain.Order, fullRef string, archivedAt time.Time) invoiceSnapshot {
	money := func(v interface{ StringFixed(int32) string }) string {
		return v.StringFixed(domain.MoneyPrecision)
	}
	snapshot := invoiceSnapshot{
		ID:         order.ID,
		Ref:        order.Ref,
		FullRef:    fullRef,
		CustomerID: order.CustomerID,
		Personal:   order.Personal,
		Billing:    order.Billing,
		Delivery:   order.Delivery,
		Items:      make([]invoiceSnapshotLine, 0, len(order.Items)),
		SubTotal:   money(order.SubTotal()),
		TaxTotal:   money(order.TaxTotal()),
		Total:      money(order.Total()),
		ArchivedAt: archivedAt,
	}
	for _, item := range order.Items {
		snapshot.Items = append(snapshot.Items, invoiceSnapshotLine{
			Key:       item.Key,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: money(item.UnitPrice()),
			TaxRate:   item.TaxRate.String(),
			Total:     money(item.Total()),
		})
	}
	for _, tax := range order.TaxList() {
		snapshot.Taxes = append(snapshot.Taxes, invoiceSnapshotTax{
			RateID: tax.RateID,
			Title:  tax.Title,
			Rate:   tax.Rate.String(),
			Total:  money(tax.Total),
		})
	}
	return snapshot
}
