package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ecommerce/internal/apperr"
	"ecommerce/internal/events"
	"ecommerce/internal/model"
)

type OrderRepository interface {
	Create(ctx context.Context, o model.Order) error
	Get(ctx context.Context, email, orderID string) (model.Order, error)
	ListByOwner(ctx context.Context, email string) ([]model.Order, error)
	ListAll(ctx context.Context) ([]model.Order, error)
	Delete(ctx context.Context, email, orderID string) (model.Order, error)
}

type ProductCatalog interface {
	GetByCodes(ctx context.Context, codes []string) ([]model.Product, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType events.EventType, payload any) (string, error)
}

type AuditPublisher interface {
	Publish(ctx context.Context, e events.AuditEvent) error
}

// OrderService places, reads and deletes orders. Creation and deletion
// publish a lifecycle event; both side effects must succeed for the call to
// succeed, but a failure of one does not undo the other.
type OrderService struct {
	orders   OrderRepository
	products ProductCatalog
	events   EventPublisher
	audit    AuditPublisher
	now      func() time.Time
	newID    func() string
}

func NewOrderService(orders OrderRepository, products ProductCatalog, publisher EventPublisher, audit AuditPublisher) *OrderService {
	return &OrderService{
		orders:   orders,
		products: products,
		events:   publisher,
		audit:    audit,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

type productNotFoundDetail struct {
	Reason       string                  `json:"reason"`
	OrderRequest model.ValidOrderRequest `json:"orderRequest"`
	MissingCodes []string                `json:"missingCodes"`
	RequestID    string                  `json:"requestId"`
}

// Create prices the request against the catalog and places the order. If a
// requested product is unknown no order is created, a PRODUCT_NOT_FOUND
// audit event is published and ValidationFailed is returned.
func (s *OrderService) Create(ctx context.Context, req model.ValidOrderRequest, requestID string) (model.Order, error) {
	const op = "orders.create"
	log := slog.With("request_id", requestID, "email", req.Email)

	products, err := s.products.GetByCodes(ctx, req.ProductIDs)
	if err != nil {
		return model.Order{}, dependency(op, err)
	}

	byCode := make(map[string]model.Product, len(products))
	for _, p := range products {
		byCode[p.Code] = p
	}
	var missing []string
	for _, code := range req.ProductIDs {
		if _, ok := byCode[code]; !ok {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		log.Warn("some product was not found", "missing", missing)
		if err := s.publishProductNotFound(ctx, req, missing, requestID); err != nil {
			return model.Order{}, dependency(op, err)
		}
		return model.Order{}, apperr.New(apperr.KindValidationFailed, op, "some product was not found")
	}

	order := s.buildOrder(req, byCode)

	var g errgroup.Group
	g.Go(func() error {
		return s.orders.Create(ctx, order)
	})
	g.Go(func() error {
		msgID, err := s.events.Publish(ctx, events.OrderCreated, newOrderEvent(order, requestID))
		if err == nil {
			log.Info("order created event sent", "order_id", order.ID, "message_id", msgID)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error("order creation incomplete", "order_id", order.ID, "error", err)
		return model.Order{}, dependency(op, err)
	}

	return order, nil
}

func (s *OrderService) Get(ctx context.Context, email, orderID string) (model.Order, error) {
	o, err := s.orders.Get(ctx, email, orderID)
	if err != nil {
		return model.Order{}, passThrough("orders.get", err)
	}
	return o, nil
}

func (s *OrderService) ListByOwner(ctx context.Context, email string) ([]model.Order, error) {
	orders, err := s.orders.ListByOwner(ctx, email)
	if err != nil {
		return nil, passThrough("orders.list_by_owner", err)
	}
	return orders, nil
}

// ListAll reads every order. It is meant for administrative use.
func (s *OrderService) ListAll(ctx context.Context) ([]model.Order, error) {
	orders, err := s.orders.ListAll(ctx)
	if err != nil {
		return nil, passThrough("orders.list_all", err)
	}
	return orders, nil
}

// Delete removes the order and publishes ORDER_DELETED with the removed
// snapshot. A publish failure after a successful removal is reported.
func (s *OrderService) Delete(ctx context.Context, email, orderID, requestID string) (model.Order, error) {
	const op = "orders.delete"

	order, err := s.orders.Delete(ctx, email, orderID)
	if err != nil {
		return model.Order{}, passThrough(op, err)
	}

	msgID, err := s.events.Publish(ctx, events.OrderDeleted, newOrderEvent(order, requestID))
	if err != nil {
		slog.Error("order deleted but event not published",
			"request_id", requestID, "order_id", orderID, "error", err)
		return model.Order{}, dependency(op, err)
	}
	slog.Info("order deleted event sent", "request_id", requestID, "order_id", orderID, "message_id", msgID)
	return order, nil
}

// buildOrder takes prices from the catalog only, one line per requested code.
func (s *OrderService) buildOrder(req model.ValidOrderRequest, byCode map[string]model.Product) model.Order {
	lines := make([]model.OrderProduct, 0, len(req.ProductIDs))
	total := decimal.Zero
	for _, code := range req.ProductIDs {
		p := byCode[code]
		lines = append(lines, model.OrderProduct{Code: p.Code, Price: p.Price})
		total = total.Add(p.Price)
	}

	return model.Order{
		Email:     req.Email,
		ID:        s.newID(),
		CreatedAt: s.now().UnixMilli(),
		Shipping:  req.Shipping,
		Billing:   model.Billing{Payment: req.Payment, TotalPrice: total},
		Products:  lines,
	}
}

func (s *OrderService) publishProductNotFound(ctx context.Context, req model.ValidOrderRequest, missing []string, requestID string) error {
	detail, err := json.Marshal(productNotFoundDetail{
		Reason:       events.ReasonProductNotFound,
		OrderRequest: req,
		MissingCodes: missing,
		RequestID:    requestID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	return s.audit.Publish(ctx, events.AuditEvent{
		Source:     events.SourceOrder,
		DetailType: events.DetailTypeOrder,
		Time:       s.now().UnixMilli(),
		Attributes: map[string]string{events.AttrReason: events.ReasonProductNotFound},
		Detail:     detail,
	})
}

func newOrderEvent(o model.Order, requestID string) events.OrderEvent {
	return events.OrderEvent{
		Email:        o.Email,
		OrderID:      o.ID,
		Billing:      o.Billing,
		Shipping:     o.Shipping,
		ProductCodes: o.ProductCodes(),
		RequestID:    requestID,
		CreatedAt:    o.CreatedAt,
	}
}
