package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
)

const (
	maxOrderBodySize = 16 * 1024
	maxTextLength    = 512
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// OrderService is the subset of the order assembler used over HTTP.
type OrderService interface {
	New(kind domain.OrderKind) domain.Order
	Get(ctx context.Context, orderID string) (domain.Order, error)
	GetByAccessKey(ctx context.Context, accessKey string) (domain.Order, error)
	Save(ctx context.Context, order domain.Order) (domain.Order, error)
	AddItem(ctx context.Context, order domain.Order, input services.AddItemInput) (domain.Order, error)
	UpdateItem(ctx context.Context, order domain.Order, key string, quantity int, increment bool) (domain.Order, error)
	RemoveItem(ctx context.Context, order domain.Order, key string) (domain.Order, error)
	ConvertEstimateToInvoice(ctx context.Context, order domain.Order) (domain.Order, error)
	SetCustomerByID(ctx context.Context, order domain.Order, contactID string) (domain.Order, error)
	Settings() services.OrderSettings
}

var _ OrderService = (*services.OrderAssembler)(nil)

// OrderHandlers exposes estimate and invoice composition endpoints.
type OrderHandlers struct {
	orders OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// EstimateRoutes registers the /estimates endpoints.
func (h *OrderHandlers) EstimateRoutes(r chi.Router) {
	r.Post("/", h.createOrder(domain.OrderKindEstimate))
}

// InvoiceRoutes registers the /invoices endpoints.
func (h *OrderHandlers) InvoiceRoutes(r chi.Router) {
	r.Post("/", h.createOrder(domain.OrderKindInvoice))
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/items", h.addItem)
	r.Patch("/{orderID}/items", h.updateItem)
	r.Delete("/{orderID}/items", h.removeItem)
	r.Post("/{orderID}/convert", h.convertOrder)
	r.Put("/{orderID}/customer", h.setCustomer)
}

// PublicRoutes registers the read-only /public endpoints keyed by access key.
func (h *OrderHandlers) PublicRoutes(r chi.Router) {
	r.Get("/orders/{accessKey}", h.getPublicOrder)
}

type addressRequest struct {
	Company    string `json:"company"`
	FirstName  string `json:"firstName"`
	Surname    string `json:"surname"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type personalRequest struct {
	Company   string `json:"company"`
	FirstName string `json:"firstName"`
	Surname   string `json:"surname"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type createOrderRequest struct {
	Billing         *addressRequest  `json:"billing"`
	Delivery        *addressRequest  `json:"delivery"`
	Personal        *personalRequest `json:"personal"`
	DisableNegative bool             `json:"disableNegative"`
}

type addItemRequest struct {
	ProductID   string         `json:"productId"`
	Quantity    *int           `json:"quantity"`
	Locked      bool           `json:"locked"`
	Deliverable *bool          `json:"deliverable"`
	Extra       map[string]any `json:"extra"`
}

type updateItemRequest struct {
	Quantity  *int `json:"quantity"`
	Increment bool `json:"increment"`
}

type setCustomerRequest struct {
	ContactID string `json:"contactId"`
}

func (h *OrderHandlers) createOrder(kind domain.OrderKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req createOrderRequest
		if err := decodeBody(r, &req, true); err != nil {
			writeBodyError(ctx, w, err)
			return
		}

		order := h.orders.New(kind)
		order.DisableNegative = req.DisableNegative
		if req.Billing != nil {
			order.Billing = req.Billing.toDomain()
		}
		if req.Delivery != nil {
			order.Delivery = req.Delivery.toDomain()
		}
		if req.Personal != nil {
			order.Personal = req.Personal.toDomain()
		}

		saved, err := h.orders.Save(ctx, order)
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		requestctx.SetOrderID(ctx, saved.ID)
		httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: h.buildOrderPayload(saved, true)})
	}
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(order, true)})
}

func (h *OrderHandlers) getPublicOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accessKey := strings.TrimSpace(chi.URLParam(r, "accessKey"))
	if accessKey == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "access key is required", http.StatusBadRequest))
		return
	}
	order, err := h.orders.GetByAccessKey(ctx, accessKey)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	requestctx.SetOrderID(ctx, order.ID)
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(order, false)})
}

func (h *OrderHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addItemRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if quantity <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be positive", http.StatusBadRequest))
		return
	}
	deliverable := true
	if req.Deliverable != nil {
		deliverable = *req.Deliverable
	}

	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	saved, err := h.orders.AddItem(ctx, order, services.AddItemInput{
		ProductID:   productID,
		Quantity:    quantity,
		Locked:      req.Locked,
		Deliverable: deliverable,
		Extra:       sanitizeExtra(req.Extra),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(saved, true)})
}

func (h *OrderHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := itemKey(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	if order.FindItem(key) < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "line item not found", http.StatusNotFound))
		return
	}
	saved, err := h.orders.UpdateItem(ctx, order, key, *req.Quantity, req.Increment)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(saved, true)})
}

func (h *OrderHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := itemKey(w, r)
	if !ok {
		return
	}
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	if order.FindItem(key) < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "line item not found", http.StatusNotFound))
		return
	}
	saved, err := h.orders.RemoveItem(ctx, order, key)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(saved, true)})
}

func (h *OrderHandlers) convertOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	converted, err := h.orders.ConvertEstimateToInvoice(ctx, order)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(converted, true)})
}

func (h *OrderHandlers) setCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setCustomerRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	saved, err := h.orders.SetCustomerByID(ctx, order, req.ContactID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(saved, true)})
}

func (h *OrderHandlers) loadOrder(w http.ResponseWriter, r *http.Request) (domain.Order, bool) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return domain.Order{}, false
	}
	requestctx.SetOrderID(ctx, orderID)
	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return domain.Order{}, false
	}
	return order, true
}

func itemKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "key query parameter is required", http.StatusBadRequest))
		return "", false
	}
	return key, true
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		Company:    observability.SanitizeText(a.Company, maxTextLength),
		FirstName:  observability.SanitizeText(a.FirstName, maxTextLength),
		Surname:    observability.SanitizeText(a.Surname, maxTextLength),
		Line1:      observability.SanitizeText(a.Line1, maxTextLength),
		Line2:      observability.SanitizeText(a.Line2, maxTextLength),
		City:       observability.SanitizeText(a.City, maxTextLength),
		Region:     strings.ToUpper(observability.SanitizeText(a.Region, 16)),
		PostalCode: observability.SanitizeText(a.PostalCode, 32),
		Country:    strings.ToUpper(observability.SanitizeText(a.Country, 2)),
	}
}

func (p personalRequest) toDomain() domain.PersonalDetails {
	return domain.PersonalDetails{
		Company:   observability.SanitizeText(p.Company, maxTextLength),
		FirstName: observability.SanitizeText(p.FirstName, maxTextLength),
		Surname:   observability.SanitizeText(p.Surname, maxTextLength),
		Email:     observability.SanitizeText(p.Email, 254),
		Phone:     observability.SanitizeText(p.Phone, 32),
	}
}

// sanitizeExtra strips markup from string values; other JSON values pass through.
func sanitizeExtra(extra map[string]any) domain.ExtraData {
	if len(extra) == 0 {
		return nil
	}
	out := make(domain.ExtraData, len(extra))
	for key, value := range extra {
		if s, ok := value.(string); ok {
			value = observability.SanitizeText(s, maxTextLength)
		}
		out[key] = value
	}
	return out
}

func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		if errors.Is(err, errEmptyBody) && allowEmpty {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", errEmptyBody.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.InsufficientStockError
	var domainErr services.DomainError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError(stockErr.Code(), stockErr.SafeMessage(), http.StatusConflict).
			WithDetails(map[string]any{"item_title": stockErr.ItemTitle}))
	case errors.Is(err, services.ErrValidation) && errors.As(err, &domainErr):
		httpx.WriteError(ctx, w, httpx.NewError(domainErr.Code(), domainErr.SafeMessage(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLogic) && errors.As(err, &domainErr):
		httpx.WriteError(ctx, w, httpx.NewError(domainErr.Code(), domainErr.SafeMessage(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict), errors.Is(err, services.ErrOrderRefExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order storage temporarily unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
