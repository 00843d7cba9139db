package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"ecommerce/internal/model"
	"ecommerce/internal/store"
)

type OrderService interface {
	Create(ctx context.Context, req model.ValidOrderRequest, requestID string) (model.Order, error)
	Get(ctx context.Context, email, orderID string) (model.Order, error)
	ListByOwner(ctx context.Context, email string) ([]model.Order, error)
	ListAll(ctx context.Context) ([]model.Order, error)
	Delete(ctx context.Context, email, orderID, requestID string) (model.Order, error)
}

type OrderEventReader interface {
	ListByOrder(ctx context.Context, email, orderID string) ([]store.EventLogEntry, error)
}

const maxOrderBody = 64 << 10

// CreateOrderHandler places an order. Unknown products answer 404.
func CreateOrderHandler(orderSvc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.OrderRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBody)).Decode(&req); err != nil {
			badRequest(w, "invalid json")
			return
		}
		valid, err := req.Validate()
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		order, err := orderSvc.Create(r.Context(), valid, middleware.GetReqID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, order)
	}
}

// ListOrdersHandler returns one order when email and orderId are given,
// the owner's orders for email alone, and every order otherwise.
func ListOrdersHandler(orderSvc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")
		orderID := r.URL.Query().Get("orderId")

		switch {
		case orderID != "" && email == "":
			badRequest(w, "email is required with orderId")
		case orderID != "":
			order, err := orderSvc.Get(r.Context(), email, orderID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, order)
		default:
			var (
				orders []model.Order
				err    error
			)
			if email != "" {
				orders, err = orderSvc.ListByOwner(r.Context(), email)
			} else {
				orders, err = orderSvc.ListAll(r.Context())
			}
			if err != nil {
				writeError(w, r, err)
				return
			}
			if orders == nil {
				orders = []model.Order{}
			}
			writeJSON(w, http.StatusOK, orders)
		}
	}
}

func DeleteOrderHandler(orderSvc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")
		orderID := r.URL.Query().Get("orderId")
		if email == "" || orderID == "" {
			badRequest(w, "email and orderId are required")
			return
		}

		order, err := orderSvc.Delete(r.Context(), email, orderID, middleware.GetReqID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

type orderEventResponse struct {
	LogKey         string   `json:"logKey"`
	EventType      string   `json:"eventType"`
	CreatedAt      int64    `json:"createdAt"`
	OrderCreatedAt int64    `json:"orderCreatedAt"`
	RequestID      string   `json:"requestId"`
	Products       []string `json:"productCodes"`
}

// ListOrderEventsHandler reads back the lifecycle events logged for an
// order.
func ListOrderEventsHandler(log OrderEventReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")
		orderID := r.URL.Query().Get("orderId")
		if email == "" || orderID == "" {
			badRequest(w, "email and orderId are required")
			return
		}

		entries, err := log.ListByOrder(r.Context(), email, orderID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp := make([]orderEventResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, orderEventResponse{
				LogKey:         e.LogKey,
				EventType:      string(e.EventType),
				CreatedAt:      e.CreatedAt,
				OrderCreatedAt: e.Event.CreatedAt,
				RequestID:      e.Event.RequestID,
				Products:       e.Event.ProductCodes,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
