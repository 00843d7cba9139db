package model

import "github.com/shopspring/decimal"

type Product struct {
	ID    string          `json:"id"`
	Code  string          `json:"code"`
	Name  string          `json:"productName"`
	Price decimal.Decimal `json:"price"`
}
