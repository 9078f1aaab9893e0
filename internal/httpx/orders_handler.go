package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, userID string, lines []orders.Line) (*orders.Order, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*orders.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]orders.Order, error)
}

type EventPublisher interface {
	PublishEnvelope(key string, env orders.Envelope) error
}

type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, key string) (uuid.UUID, bool, error)
	Remember(ctx context.Context, userID, key string, orderID uuid.UUID) (bool, error)
}

type OrderCache interface {
	Get(ctx context.Context, id uuid.UUID) (*orders.Order, bool, error)
	Set(ctx context.Context, o *orders.Order) error
}

const HeaderIdempotencyKey = "Idempotency-Key"

// OrdersHandler serves the order endpoints. Publisher, Idempotency and
// Cache are optional.
type OrdersHandler struct {
	Placer      OrderPlacer
	Reader      OrderReader
	Publisher   EventPublisher
	Idempotency IdempotencyStore
	Cache       OrderCache
	Service     string

	validate *validator.Validate
}

type placeOrderRequest struct {
	Items []placeOrderItem `json:"items" validate:"required,min=1"`
}

type placeOrderItem struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  *int   `json:"quantity" validate:"required"`
}

// orderResponse renders money with two decimals, as strings.
type orderResponse struct {
	ID         uuid.UUID           `json:"id"`
	User       string              `json:"user"`
	Items      []orderItemResponse `json:"items"`
	TotalPrice string              `json:"total_price"`
	Status     orders.Status       `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
}

type orderItemResponse struct {
	Product  uuid.UUID `json:"product"`
	Quantity int       `json:"quantity"`
	Price    string    `json:"price"`
}

func toResponse(o *orders.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			Product:  it.ProductID,
			Quantity: it.Quantity,
			Price:    it.UnitPrice.StringFixed(2),
		})
	}
	return orderResponse{
		ID:         o.ID,
		User:       o.UserID,
		Items:      items,
		TotalPrice: o.TotalPrice.StringFixed(2),
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
	}
}

func NewOrdersHandler(placer OrderPlacer, reader OrderReader, service string) *OrdersHandler {
	return &OrdersHandler{
		Placer:   placer,
		Reader:   reader,
		Service:  service,
		validate: validator.New(),
	}
}

// Register mounts the routes; they all require authentication.
func (h *OrdersHandler) Register(r chi.Router, tokens TokenResolver) {
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(tokens))
		r.Post("/orders", h.placeOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
	})
}

// decodeLines turns the request body into cart lines. Shape errors are
// reported as validation errors; value rules are left to the Coordinator.
func (h *OrdersHandler) decodeLines(r *http.Request) ([]orders.Line, error) {
	var req placeOrderRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, &orders.ValidationError{Line: -1, Field: "body", Reason: "invalid json: " + err.Error()}
	}
	if err := h.validate.Struct(req); err != nil {
		return nil, &orders.ValidationError{Line: -1, Field: "items", Reason: "at least one item is required"}
	}

	lines := make([]orders.Line, 0, len(req.Items))
	for i, it := range req.Items {
		if err := h.validate.Struct(it); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return nil, fieldError(i, verrs[0])
			}
			return nil, err
		}
		lines = append(lines, orders.Line{
			ProductID: uuid.MustParse(it.ProductID),
			Quantity:  *it.Quantity,
		})
	}
	return lines, nil
}

func fieldError(line int, fe validator.FieldError) *orders.ValidationError {
	switch fe.Field() {
	case "ProductID":
		if fe.Tag() == "required" {
			return &orders.ValidationError{Line: line, Field: "product", Reason: "product is required"}
		}
		return &orders.ValidationError{Line: line, Field: "product", Reason: "product must be a uuid"}
	default:
		return &orders.ValidationError{Line: line, Field: "quantity", Reason: "quantity is required"}
	}
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := UserID(ctx)

	lines, err := h.decodeLines(r)
	if err != nil {
		writeError(w, err)
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if idemKey != "" && h.Idempotency != nil {
		if o, ok := h.replay(ctx, userID, idemKey); ok {
			writeJSON(w, http.StatusOK, toResponse(o))
			return
		}
	}

	o, err := h.Placer.PlaceOrder(ctx, userID, lines)
	if err != nil {
		writeError(w, err)
		return
	}

	if idemKey != "" && h.Idempotency != nil {
		if won, err := h.Idempotency.Remember(ctx, userID, idemKey, o.ID); err != nil {
			log.Warn().Err(err).Stringer("order_id", o.ID).Msg("httpx: idempotency key not stored")
		} else if !won {
			log.Warn().Stringer("order_id", o.ID).Str("idempotency_key", idemKey).Msg("httpx: concurrent request with same idempotency key")
		}
	}
	if h.Cache != nil {
		if err := h.Cache.Set(ctx, o); err != nil {
			log.Warn().Err(err).Stringer("order_id", o.ID).Msg("httpx: order cache set failed")
		}
	}
	h.publishPlaced(r, o)

	writeJSON(w, http.StatusCreated, toResponse(o))
}

// replay returns the order a previous request with the same key produced.
// Any lookup problem falls through to a normal placement.
func (h *OrdersHandler) replay(ctx context.Context, userID, key string) (*orders.Order, bool) {
	id, ok, err := h.Idempotency.Lookup(ctx, userID, key)
	if err != nil {
		log.Warn().Err(err).Msg("httpx: idempotency lookup failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	o, err := h.Reader.GetOrder(ctx, id)
	if err != nil || o.UserID != userID {
		return nil, false
	}
	return o, true
}

func (h *OrdersHandler) publishPlaced(r *http.Request, o *orders.Order) {
	if h.Publisher == nil {
		return
	}
	env, err := orders.NewEnvelope(orders.EventOrderPlaced, h.Service, o.ID.String(),
		middleware.GetReqID(r.Context()), orders.PlacedPayload(o))
	if err == nil {
		err = h.Publisher.PublishEnvelope(o.ID.String(), env)
	}
	if err != nil {
		// order sudah commit; event hilang hanya dilog
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("httpx: publish OrderPlaced failed")
	}
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Reader.ListOrdersByUser(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(list))
	for i := range list {
		out = append(out, toResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, chi.URLParam(r, "id")))
		return
	}

	// 1) coba cache
	var o *orders.Order
	if h.Cache != nil {
		cached, ok, err := h.Cache.Get(ctx, id)
		if err != nil {
			log.Warn().Err(err).Msg("httpx: order cache get failed")
		} else if ok {
			o = cached
		}
	}

	// 2) fallback DB
	if o == nil {
		if o, err = h.Reader.GetOrder(ctx, id); err != nil {
			writeError(w, err)
			return
		}
		if h.Cache != nil {
			_ = h.Cache.Set(ctx, o)
		}
	}

	// order orang lain diperlakukan sama dengan tidak ada
	if o.UserID != UserID(ctx) {
		writeError(w, orders.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(o))
}
