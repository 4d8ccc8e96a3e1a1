package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const instrumentationName = "github.com/hanko-field/orders/internal/services"

var tracer = otel.Tracer(instrumentationName)

// AddItemInput describes an item to add. Product takes precedence over ProductID.
type AddItemInput struct {
	ProductID   string
	Product     *domain.Product
	Quantity    int
	Locked      bool
	Deliverable bool
	Extra       domain.ExtraData
}

// OrderAssemblerDeps bundles collaborators required to construct the order assembler.
type OrderAssemblerDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Contacts    repositories.ContactRepository
	Builder     *LineItemBuilder
	Stock       *StockChecker
	UnitOfWork  repositories.UnitOfWork
	Events      OrderEventPublisher
	Archive     InvoiceArchiver
	Settings    OrderSettings
	Clock       func() time.Time
	IDGenerator func() string
	AccessKeys  func() string
	Meter       metric.Meter
	Logger      *zap.Logger
}

// OrderAssembler creates estimates and invoices and keeps their line items consistent.
type OrderAssembler struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	contacts   repositories.ContactRepository
	builder    *LineItemBuilder
	stock      *StockChecker
	unitOfWork repositories.UnitOfWork
	events     OrderEventPublisher
	archive    InvoiceArchiver
	settings   OrderSettings
	clock      func() time.Time
	newID      func() string
	accessKey  func() string
	logger     *zap.Logger

	itemsAdded    metric.Int64Counter
	stockRejected metric.Int64Counter
}

// NewOrderAssembler wires dependencies into an OrderAssembler.
func NewOrderAssembler(deps OrderAssemblerDeps) (*OrderAssembler, error) {
	if deps.Orders == nil {
		return nil, errors.New("order assembler: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order assembler: product repository is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("order assembler: line item builder is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order assembler: stock checker is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	accessKeys := deps.AccessKeys
	if accessKeys == nil {
		accessKeys = func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	itemsAdded, err := meter.Int64Counter("orders.items.added",
		metric.WithDescription("Line items added to orders"),
	)
	if err != nil {
		return nil, fmt.Errorf("order assembler: items counter: %w", err)
	}
	stockRejected, err := meter.Int64Counter("orders.stock.rejected",
		metric.WithDescription("Item changes rejected for insufficient stock"),
	)
	if err != nil {
		return nil, fmt.Errorf("order assembler: stock counter: %w", err)
	}

	return &OrderAssembler{
		orders:     deps.Orders,
		products:   deps.Products,
		contacts:   deps.Contacts,
		builder:    deps.Builder,
		stock:      deps.Stock,
		unitOfWork: unit,
		events:     deps.Events,
		archive:    deps.Archive,
		settings:   deps.Settings.withDefaults(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		accessKey:     accessKeys,
		logger:        logger.Named("orders"),
		itemsAdded:    itemsAdded,
		stockRejected: stockRejected,
	}, nil
}

// Settings returns the effective order settings.
func (a *OrderAssembler) Settings() OrderSettings {
	return a.settings
}

// New returns an empty, unsaved order of the given kind.
func (a *OrderAssembler) New(kind domain.OrderKind) domain.Order {
	if !kind.Valid() {
		kind = domain.OrderKindEstimate
	}
	return domain.Order{
		Kind:   kind,
		Prefix: a.prefixFor(kind),
	}
}

// FindOrMake looks the order up by ID, then by reference within the kind, and otherwise
// returns a new unsaved order.
func (a *OrderAssembler) FindOrMake(ctx context.Context, kind domain.OrderKind, orderID string, ref int64) (domain.Order, error) {
	if !kind.Valid() {
		kind = domain.OrderKindEstimate
	}

	if id := strings.TrimSpace(orderID); id != "" {
		order, err := a.orders.FindByID(ctx, id)
		switch {
		case err == nil && order.Kind == kind:
			return order, nil
		case err != nil && !repositories.IsNotFound(err):
			return domain.Order{}, a.mapRepositoryError(err)
		}
	}

	if ref > 0 {
		order, err := a.orders.FindByRef(ctx, kind, ref)
		switch {
		case err == nil:
			return order, nil
		case !repositories.IsNotFound(err):
			return domain.Order{}, a.mapRepositoryError(err)
		}
	}

	return a.New(kind), nil
}

// Get loads an order by ID.
func (a *OrderAssembler) Get(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, newValidationError("order id is required")
	}
	order, err := a.orders.FindByID(ctx, id)
	if err != nil {
		return domain.Order{}, a.mapRepositoryError(err)
	}
	return order, nil
}

// GetByAccessKey loads an order by its public access key.
func (a *OrderAssembler) GetByAccessKey(ctx context.Context, accessKey string) (domain.Order, error) {
	key := strings.TrimSpace(accessKey)
	if key == "" {
		return domain.Order{}, newValidationError("access key is required")
	}
	order, err := a.orders.FindByAccessKey(ctx, key)
	if err != nil {
		return domain.Order{}, a.mapRepositoryError(err)
	}
	return order, nil
}

// AddItem builds an item from the product and merges it into the order. An item with the same
// key has its quantity increased instead.
func (a *OrderAssembler) AddItem(ctx context.Context, order domain.Order, input AddItemInput) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderAssembler.AddItem", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int("item.quantity", input.Quantity),
	))
	defer span.End()

	product, err := a.resolveProduct(ctx, input)
	if err != nil {
		return domain.Order{}, err
	}

	working := order.Clone()
	item, err := a.builder.Build(ctx, LineItemRequest{
		Product:     &product,
		Quantity:    input.Quantity,
		Locked:      input.Locked,
		Deliverable: input.Deliverable,
		Order:       &working,
		Extra:       input.Extra.Clone(),
	})
	if err != nil {
		return domain.Order{}, err
	}
	span.SetAttributes(attribute.String("item.key", item.Key))

	if working.FindItem(item.Key) >= 0 {
		return a.updateItem(ctx, order, item.Key, input.Quantity, true)
	}

	if err := a.checkStock(ctx, working, item, item.Quantity, ""); err != nil {
		return domain.Order{}, err
	}

	working.Items = append(working.Items, item)
	saved, err := a.save(ctx, working)
	if err != nil {
		return domain.Order{}, err
	}

	a.itemsAdded.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(saved.Kind))))
	a.publishEvent(ctx, orderEventItemsChanged, saved, map[string]any{"added": item.Key})
	return saved, nil
}

// UpdateItem sets (or with increment, adds to) the quantity of the item with the given key.
// A resulting quantity of zero removes the item. Unknown keys leave the order untouched.
func (a *OrderAssembler) UpdateItem(ctx context.Context, order domain.Order, key string, quantity int, increment bool) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderAssembler.UpdateItem", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("item.key", key),
	))
	defer span.End()

	return a.updateItem(ctx, order, key, quantity, increment)
}

func (a *OrderAssembler) updateItem(ctx context.Context, order domain.Order, key string, quantity int, increment bool) (domain.Order, error) {
	idx := order.FindItem(key)
	if idx < 0 {
		return order, nil
	}

	working := order.Clone()
	existing := working.Items[idx]

	newQty := quantity
	if increment {
		newQty = existing.Quantity + quantity
	}
	if newQty < 0 {
		return domain.Order{}, newValidationError("quantity must not be negative")
	}
	if existing.Locked && newQty != existing.Quantity {
		return domain.Order{}, newLogicError("item %q is locked and its quantity cannot change", existing.Title)
	}
	if newQty == 0 {
		return a.removeItem(ctx, order, idx)
	}

	updated, err := a.refreshItem(ctx, &working, existing, newQty)
	if err != nil {
		return domain.Order{}, err
	}

	// A product edit can move the item onto the key of another line; the two are folded into
	// that line.
	target := idx
	if updated.Key != existing.Key {
		if other := working.FindItem(updated.Key); other >= 0 && other != idx {
			merged := working.Items[other]
			if existing.Locked {
				return domain.Order{}, newLogicError("item %q is locked and cannot be merged", existing.Title)
			}
			if merged.Locked {
				return domain.Order{}, newLogicError("item %q is locked and its quantity cannot change", merged.Title)
			}
			merged.Quantity += newQty
			updated = merged
			target = other
		}
	}

	if err := a.checkStock(ctx, working, updated, updated.Quantity, existing.Key); err != nil {
		return domain.Order{}, err
	}

	working.Items[target] = updated
	details := map[string]any{"updated": updated.Key, "quantity": updated.Quantity}
	if target != idx {
		working.Items = append(working.Items[:idx], working.Items[idx+1:]...)
		details["merged"] = existing.Key
	}
	saved, err := a.save(ctx, working)
	if err != nil {
		return domain.Order{}, err
	}
	a.publishEvent(ctx, orderEventItemsChanged, saved, details)
	return saved, nil
}

// refreshItem rebuilds the item at the new quantity against the current product. A product that
// has gone away leaves the snapshot as it is.
func (a *OrderAssembler) refreshItem(ctx context.Context, working *domain.Order, existing domain.LineItem, quantity int) (domain.LineItem, error) {
	updated := existing
	updated.Quantity = quantity
	product, err := a.products.FindByID(ctx, existing.ProductID)
	switch {
	case err == nil:
		return a.builder.Update(ctx, existing, LineItemRequest{
			Product:     &product,
			Quantity:    quantity,
			Locked:      existing.Locked,
			Deliverable: existing.Deliverable,
			Order:       working,
		})
	case repositories.IsNotFound(err):
		a.logger.Warn("product missing, keeping item snapshot",
			zap.String("orderID", working.ID),
			zap.String("productID", existing.ProductID),
		)
		return updated, nil
	default:
		return domain.LineItem{}, a.mapRepositoryError(err)
	}
}

// RemoveItem deletes the item with the given key. Unknown keys leave the order untouched.
func (a *OrderAssembler) RemoveItem(ctx context.Context, order domain.Order, key string) (domain.Order, error) {
	idx := order.FindItem(key)
	if idx < 0 {
		return order, nil
	}
	return a.removeItem(ctx, order, idx)
}

func (a *OrderAssembler) removeItem(ctx context.Context, order domain.Order, idx int) (domain.Order, error) {
	working := order.Clone()
	key := working.Items[idx].Key
	working.Items = append(working.Items[:idx], working.Items[idx+1:]...)
	saved, err := a.save(ctx, working)
	if err != nil {
		return domain.Order{}, err
	}
	a.publishEvent(ctx, orderEventItemsChanged, saved, map[string]any{"removed": key})
	return saved, nil
}

// CalculateNextRef returns the lowest unused reference above the highest one allocated for the
// kind.
func (a *OrderAssembler) CalculateNextRef(ctx context.Context, kind domain.OrderKind) (int64, error) {
	last, err := a.orders.LastRef(ctx, kind)
	if err != nil {
		return 0, a.mapRepositoryError(err)
	}
	next := last + 1
	for {
		exists, err := a.orders.RefExists(ctx, kind, next)
		if err != nil {
			return 0, a.mapRepositoryError(err)
		}
		if !exists {
			return next, nil
		}
		next++
	}
}

// Save persists the order, filling in the access key, prefix, delivery address, validity
// window and reference when they are missing.
func (a *OrderAssembler) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderAssembler.Save", trace.WithAttributes(
		attribute.String("order.kind", string(order.Kind)),
	))
	defer span.End()

	created := order.ID == ""
	saved, err := a.save(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	if created {
		a.publishEvent(ctx, orderEventCreated, saved, nil)
	}
	return saved, nil
}

// SetCustomer attaches the contact to the order, copying their details and using their default
// address wherever the order has none.
func (a *OrderAssembler) SetCustomer(ctx context.Context, order domain.Order, contact domain.Contact) (domain.Order, error) {
	if strings.TrimSpace(contact.ID) == "" {
		return domain.Order{}, newValidationError("contact id is required")
	}

	working := order.Clone()
	working.CustomerID = contact.ID
	if !contact.Personal.IsZero() {
		working.Personal = contact.Personal
	}
	if contact.DefaultAddress != nil {
		if working.Billing.IsZero() {
			working.Billing = *contact.DefaultAddress
		}
		if working.Delivery.IsZero() {
			working.Delivery = *contact.DefaultAddress
		}
	}

	saved, err := a.save(ctx, working)
	if err != nil {
		return domain.Order{}, err
	}
	a.publishEvent(ctx, orderEventCustomerSet, saved, map[string]any{"contactId": contact.ID})
	return saved, nil
}

// SetCustomerByID loads the contact and attaches it with SetCustomer.
func (a *OrderAssembler) SetCustomerByID(ctx context.Context, order domain.Order, contactID string) (domain.Order, error) {
	id := strings.TrimSpace(contactID)
	if id == "" {
		return domain.Order{}, newValidationError("contact id is required")
	}
	if a.contacts == nil {
		return domain.Order{}, newLogicError("contacts are not configured")
	}
	contact, err := a.contacts.FindByID(ctx, id)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, newValidationError("contact %s does not exist", id)
		}
		return domain.Order{}, a.mapRepositoryError(err)
	}
	return a.SetCustomer(ctx, order, contact)
}

// ConvertEstimateToInvoice confirms an estimate. Invoices are returned unchanged.
func (a *OrderAssembler) ConvertEstimateToInvoice(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.IsInvoice() {
		return order, nil
	}

	ctx, span := tracer.Start(ctx, "OrderAssembler.ConvertEstimateToInvoice", trace.WithAttributes(
		attribute.String("order.id", order.ID),
	))
	defer span.End()

	working := order.Clone()
	working.Kind = domain.OrderKindInvoice
	working.StartDate = nil
	working.EndDate = nil
	working.Ref = 0
	working.Prefix = a.settings.InvoicePrefix

	saved, err := a.save(ctx, working)
	if err != nil {
		return domain.Order{}, err
	}

	a.publishEvent(ctx, orderEventConverted, saved, map[string]any{
		"estimateRef": order.FullRef(a.settings.RefLength),
	})
	a.archiveInvoice(ctx, saved)
	return saved, nil
}

func (a *OrderAssembler) save(ctx context.Context, order domain.Order) (domain.Order, error) {
	now := a.clock()
	insert := order.ID == ""
	if insert {
		order.ID = a.newID()
		order.CreatedAt = now
	}
	if !order.Kind.Valid() {
		order.Kind = domain.OrderKindEstimate
	}
	if order.Prefix == "" {
		order.Prefix = a.prefixFor(order.Kind)
	}
	if order.Delivery.IsZero() && !order.Billing.IsZero() {
		order.Delivery = order.Billing
	}
	if order.Kind == domain.OrderKindEstimate {
		if order.StartDate == nil {
			start := now
			order.StartDate = &start
		}
		if order.EndDate == nil {
			end := order.StartDate.AddDate(0, 0, a.settings.DefaultValidityDays)
			order.EndDate = &end
		}
	}
	order.UpdatedAt = now

	allocateRef := order.Ref == 0
	allocateKey := order.AccessKey == ""

	for attempt := 1; attempt <= a.settings.RefMaxAttempts; attempt++ {
		candidate := order.Clone()
		err := a.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			if allocateKey {
				key, err := a.nextAccessKey(txCtx)
				if err != nil {
					return err
				}
				candidate.AccessKey = key
			}
			if allocateRef {
				ref, err := a.CalculateNextRef(txCtx, candidate.Kind)
				if err != nil {
					return err
				}
				candidate.Ref = ref
			}
			if insert {
				return a.orders.Insert(txCtx, candidate)
			}
			return a.orders.Update(txCtx, candidate)
		})
		if err == nil {
			return candidate, nil
		}
		if repositories.IsConflict(err) && (allocateRef || allocateKey) {
			a.logger.Info("order reference collision, retrying",
				zap.String("orderID", candidate.ID),
				zap.Int64("ref", candidate.Ref),
				zap.Int("attempt", attempt),
			)
			continue
		}
		return domain.Order{}, a.mapRepositoryError(err)
	}

	return domain.Order{}, fmt.Errorf("%w: gave up after %d attempts", ErrOrderRefExhausted, a.settings.RefMaxAttempts)
}

func (a *OrderAssembler) nextAccessKey(ctx context.Context) (string, error) {
	for attempt := 0; attempt < a.settings.RefMaxAttempts; attempt++ {
		key := a.accessKey()
		exists, err := a.orders.AccessKeyExists(ctx, key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: no unused access key", ErrOrderRefExhausted)
}

func (a *OrderAssembler) resolveProduct(ctx context.Context, input AddItemInput) (domain.Product, error) {
	if input.Product != nil {
		return *input.Product, nil
	}
	productID := strings.TrimSpace(input.ProductID)
	if productID == "" {
		return domain.Product{}, newValidationError("no product set")
	}
	product, err := a.products.FindByID(ctx, productID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Product{}, newValidationError("product %q not found", productID)
		}
		return domain.Product{}, a.mapRepositoryError(err)
	}
	return product, nil
}

// checkStock gates quantity units of the item, adding the order's other lines that draw on the
// same stock item. The line under replacedKey is being rewritten and is not counted.
func (a *OrderAssembler) checkStock(ctx context.Context, order domain.Order, item domain.LineItem, quantity int, replacedKey string) error {
	total := quantity
	if item.StockID != "" {
		for _, other := range order.Items {
			if other.StockID != item.StockID || other.Key == item.Key || other.Key == replacedKey {
				continue
			}
			total += other.Quantity
		}
	}
	ok, err := a.stock.Check(ctx, item, total, order.ID)
	if err != nil {
		return a.mapRepositoryError(err)
	}
	if !ok {
		a.stockRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("stock_id", item.StockID)))
		return &InsufficientStockError{ItemTitle: item.Title}
	}
	return nil
}

func (a *OrderAssembler) prefixFor(kind domain.OrderKind) string {
	if kind == domain.OrderKindInvoice {
		return a.settings.InvoicePrefix
	}
	return a.settings.EstimatePrefix
}

func (a *OrderAssembler) archiveInvoice(ctx context.Context, order domain.Order) {
	if a.archive == nil {
		return
	}
	location, err := a.archive.ArchiveInvoice(ctx, order)
	if err != nil {
		a.logger.Warn("invoice archive failed", zap.String("orderID", order.ID), zap.Error(err))
		return
	}
	a.logger.Debug("invoice archived", zap.String("orderID", order.ID), zap.String("location", location))
}

func (a *OrderAssembler) publishEvent(ctx context.Context, eventType string, order domain.Order, metadata map[string]any) {
	if a.events == nil {
		return
	}
	event := OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		Kind:       order.Kind,
		Ref:        order.Ref,
		FullRef:    order.FullRef(a.settings.RefLength),
		Total:      order.Total().StringFixed(domain.MoneyPrecision),
		OccurredAt: a.clock(),
		Metadata:   metadata,
	}
	if err := a.events.PublishOrderEvent(ctx, event); err != nil {
		a.logger.Warn("order event publish failed",
			zap.String("type", eventType),
			zap.String("orderID", order.ID),
			zap.Error(err),
		)
	}
}

func (a *OrderAssembler) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrOrderUnavailable, err)
		}
	}

	return err
}
