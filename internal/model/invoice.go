package model

import "github.com/shopspring/decimal"

type InvoiceTransactionStatus string

const (
	InvoiceGenerated             InvoiceTransactionStatus = "GENERATED"
	InvoiceReceived              InvoiceTransactionStatus = "RECEIVED"
	InvoiceConfirmed             InvoiceTransactionStatus = "CONFIRMED"
	InvoiceCancelled             InvoiceTransactionStatus = "CANCELLED"
	InvoiceNonValidInvoiceNumber InvoiceTransactionStatus = "NON_VALID_INVOICE_NUMBER"
	InvoiceTimeout               InvoiceTransactionStatus = "TIMEOUT"
)

func (s InvoiceTransactionStatus) Terminal() bool {
	switch s {
	case InvoiceConfirmed, InvoiceCancelled, InvoiceNonValidInvoiceNumber, InvoiceTimeout:
		return true
	}
	return false
}

// InvoiceTransactionPartition is the fixed partition all transactions live in.
const InvoiceTransactionPartition = "#transaction"

type InvoiceTransaction struct {
	Key          string                   `json:"transactionId"`
	Status       InvoiceTransactionStatus `json:"transactionStatus"`
	ConnectionID string                   `json:"connectionId"`
	Endpoint     string                   `json:"endpoint"`
	RequestID    string                   `json:"requestId"`
	CreatedAt    int64                    `json:"timestamp"` // unix millis
	ExpiresIn    int                      `json:"expiresIn"` // upload URL validity, seconds
	ExpiresAt    int64                    `json:"ttl"`       // unix seconds
}

// Invoice is the content of an uploaded invoice file.
type Invoice struct {
	InvoiceNumber string          `json:"invoiceNumber"`
	CustomerName  string          `json:"customerName"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	ProductID     string          `json:"productId"`
	Quantity      int             `json:"quantity"`
}
