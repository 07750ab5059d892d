package model

import "github.com/shopspring/decimal"

type Product struct {
	BaseModel
	Name          string          `gorm:"type:varchar(255);not null" json:"name" validate:"required,notblank"`
	SKU           string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"sku" validate:"required,notblank"`
	Price         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"price" validate:"gte=0"`
	StockQuantity int             `gorm:"not null;default:0" json:"stockQuantity" validate:"gte=0"`
	CategoryID    uint            `gorm:"index" json:"categoryId"`
	Description   string          `gorm:"type:text" json:"description"`
}

// Valuation is price times stock on hand.
func (p *Product) Valuation() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.StockQuantity)))
}
