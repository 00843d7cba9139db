package store

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"ecommerce/internal/model"
)

type productSeed struct {
	Products []struct {
		ID    string `yaml:"id"`
		Code  string `yaml:"code"`
		Name  string `yaml:"productName"`
		Price string `yaml:"price"`
	} `yaml:"products"`
}

// ParseProducts reads a catalog seed document. Missing ids are generated.
func ParseProducts(data []byte) ([]model.Product, error) {
	var seed productSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse product seed: %w", err)
	}

	products := make([]model.Product, 0, len(seed.Products))
	for i, p := range seed.Products {
		if p.Code == "" {
			return nil, fmt.Errorf("product seed entry %d: code is required", i)
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("product %s: invalid price %q: %w", p.Code, p.Price, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("product %s: negative price %s", p.Code, price)
		}
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		products = append(products, model.Product{ID: id, Code: p.Code, Name: p.Name, Price: price})
	}
	return products, nil
}

// SeedProducts loads the seed file at path into the catalog.
func SeedProducts(ctx context.Context, s *ProductStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read product seed: %w", err)
	}
	products, err := ParseProducts(data)
	if err != nil {
		return 0, err
	}
	for _, p := range products {
		if err := s.Put(ctx, p); err != nil {
			return 0, err
		}
	}
	return len(products), nil
}
