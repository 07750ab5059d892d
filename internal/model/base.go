package model

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The document store holds prices as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// BaseModel carries the store-assigned ID, the optimistic-lock version and timestamps
type BaseModel struct {
	ID        uint      `gorm:"primaryKey" json:"id,omitempty"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b *BaseModel) GetID() uint { return b.ID }
func (b *BaseModel) SetID(id uint) { b.ID = id }
func (b *BaseModel) GetVersion() int64 { return b.Version }
func (b *BaseModel) SetVersion(v int64) { b.Version = v }
func (b *BaseModel) GetCreatedAt() time.Time { return b.CreatedAt }

// Touch stamps UpdatedAt, and CreatedAt on first write.
func (b *BaseModel) Touch(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}
