// Package events holds the event payloads exchanged between the order
// workflow, the event log and the audit router, and the envelope codec that
// tags them for transport.
package events

import (
	"encoding/json"

	"ecommerce/internal/model"
)

type EventType string

const (
	OrderCreated EventType = "ORDER_CREATED"
	OrderDeleted EventType = "ORDER_DELETED"
	Audit        EventType = "AUDIT"
)

// OrderEvent is the lifecycle record published for every created or
// deleted order.
type OrderEvent struct {
	Email        string         `json:"email"`
	OrderID      string         `json:"orderId"`
	Billing      model.Billing  `json:"billing"`
	Shipping     model.Shipping `json:"shipping"`
	ProductCodes []string       `json:"productCodes"`
	RequestID    string         `json:"requestId"`
	CreatedAt    int64          `json:"createdAt"` // order creation, unix millis
}

// Audit sources and detail types.
const (
	SourceOrder       = "app.order"
	SourceInvoice     = "app.invoice"
	DetailTypeOrder   = "order"
	DetailTypeInvoice = "invoice"
)

// Audit attributes and their values.
const (
	AttrReason      = "reason"
	AttrErrorDetail = "errorDetail"

	ReasonProductNotFound      = "PRODUCT_NOT_FOUND"
	ErrorDetailNoInvoiceNumber = "FAIL_NO_INVOICE_NUMBER"
	ErrorDetailTimeout         = "TIMEOUT"
)

// AuditEvent is a classified failure signal. Attributes hold the values
// audit rules match on; Detail is the free-form payload.
type AuditEvent struct {
	Source     string            `json:"source"`
	DetailType string            `json:"detailType"`
	Time       int64             `json:"time"`
	Attributes map[string]string `json:"attributes"`
	Detail     json.RawMessage   `json:"detail,omitempty"`
}
