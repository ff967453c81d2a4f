// Package model defines the domain types shared across the pipeline stages.
package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ProductType is the finance feed partition.
type ProductType string

// Finance product partitions.
const (
	ProductDeposit ProductType = "DEPOSIT"
	ProductSaving  ProductType = "SAVING"
)

// AllProductTypes returns the finance partitions in processing order.
func AllProductTypes() []ProductType {
	return []ProductType{ProductDeposit, ProductSaving}
}

// ExtSource returns the upstream source tag stored on landing and core rows.
func (p ProductType) ExtSource() string {
	switch p {
	case ProductDeposit:
		return "finlife_deposit"
	case ProductSaving:
		return "finlife_saving"
	default:
		return ""
	}
}

// ParseProductTypes maps a CLI selector (deposit, saving, all) to partitions.
func ParseProductTypes(s string) ([]ProductType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return AllProductTypes(), nil
	case "deposit":
		return []ProductType{ProductDeposit}, nil
	case "saving":
		return []ProductType{ProductSaving}, nil
	default:
		return nil, eris.Errorf("model: unknown product type %q (want deposit, saving or all)", s)
	}
}
