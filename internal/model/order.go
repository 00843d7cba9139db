package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ShippingType string

const (
	ShippingUrgent   ShippingType = "URGENT"
	ShippingEconomic ShippingType = "ECONOMIC"
)

type Carrier string

const (
	CarrierA Carrier = "CARRIER_A"
	CarrierB Carrier = "CARRIER_B"
)

type PaymentType string

const (
	PaymentCash   PaymentType = "CASH"
	PaymentDebit  PaymentType = "DEBIT"
	PaymentCredit PaymentType = "CREDIT"
)

func ParseShippingType(s string) (ShippingType, error) {
	switch t := ShippingType(s); t {
	case ShippingUrgent, ShippingEconomic:
		return t, nil
	}
	return "", fmt.Errorf("unknown shipping type %q", s)
}

func ParseCarrier(s string) (Carrier, error) {
	switch c := Carrier(s); c {
	case CarrierA, CarrierB:
		return c, nil
	}
	return "", fmt.Errorf("unknown carrier %q", s)
}

func ParsePaymentType(s string) (PaymentType, error) {
	switch p := PaymentType(s); p {
	case PaymentCash, PaymentDebit, PaymentCredit:
		return p, nil
	}
	return "", fmt.Errorf("unknown payment type %q", s)
}

type Shipping struct {
	Type    ShippingType `json:"type"`
	Carrier Carrier      `json:"carrier"`
}

type Billing struct {
	Payment    PaymentType     `json:"payment"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// OrderProduct is the price snapshot of a catalog product taken when the
// order was placed.
type OrderProduct struct {
	Code  string          `json:"code"`
	Price decimal.Decimal `json:"price"`
}

type Order struct {
	Email     string         `json:"email"`
	ID        string         `json:"id"`
	CreatedAt int64          `json:"createdAt"`
	Shipping  Shipping       `json:"shipping"`
	Billing   Billing        `json:"billing"`
	Products  []OrderProduct `json:"products,omitempty"`
}

func (o Order) ProductCodes() []string {
	codes := make([]string, 0, len(o.Products))
	for _, p := range o.Products {
		codes = append(codes, p.Code)
	}
	return codes
}

// OrderRequest is the client payload for order creation. Prices are never
// accepted from the client.
type OrderRequest struct {
	Email       string   `json:"email"`
	ProductIDs  []string `json:"productIds"`
	PaymentType string   `json:"paymentType"`
	Shipping    struct {
		Type    string `json:"type"`
		Carrier string `json:"carrier"`
	} `json:"shipping"`
}

// ValidOrderRequest is an OrderRequest whose enumerations have been checked.
type ValidOrderRequest struct {
	Email      string      `json:"email"`
	ProductIDs []string    `json:"productIds"`
	Payment    PaymentType `json:"paymentType"`
	Shipping   Shipping    `json:"shipping"`
}

func (r OrderRequest) Validate() (ValidOrderRequest, error) {
	var v ValidOrderRequest

	v.Email = strings.TrimSpace(r.Email)
	if v.Email == "" {
		return v, fmt.Errorf("email is required")
	}
	if len(r.ProductIDs) == 0 {
		return v, fmt.Errorf("at least one product is required")
	}
	for _, id := range r.ProductIDs {
		if strings.TrimSpace(id) == "" {
			return v, fmt.Errorf("product ids must not be empty")
		}
	}
	v.ProductIDs = append([]string(nil), r.ProductIDs...)

	var err error
	if v.Payment, err = ParsePaymentType(r.PaymentType); err != nil {
		return v, err
	}
	if v.Shipping.Type, err = ParseShippingType(r.Shipping.Type); err != nil {
		return v, err
	}
	if v.Shipping.Carrier, err = ParseCarrier(r.Shipping.Carrier); err != nil {
		return v, err
	}
	return v, nil
}
