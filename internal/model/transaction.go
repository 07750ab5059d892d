package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxSale     TransactionType = "sale"
	TxPurchase TransactionType = "purchase"
)

type TransactionStatus string

const (
	TxCompleted TransactionStatus = "completed"
)

// Transaction is one ledger entry. Entries are appended by the ledger and
// never updated or deleted; ProductID may outlive the product it names.
// TotalPrice is the unit price times quantity when the entry was recorded,
// and Date is an ISO-8601 timestamp.
type Transaction struct {
	BaseModel
	Type        TransactionType   `gorm:"type:varchar(10);not null;index" json:"type" validate:"required,oneof=sale purchase"`
	ProductID   uint              `gorm:"not null;index" json:"productId" validate:"required"`
	Quantity    int               `gorm:"not null" json:"quantity" validate:"gt=0"`
	TotalPrice  decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"totalPrice"`
	Date        string            `gorm:"type:varchar(40);index" json:"date"`
	Status      TransactionStatus `gorm:"type:varchar(20)" json:"status"`
	Description string            `gorm:"type:text" json:"description"`
	Note        string            `gorm:"type:text" json:"note"`
	SupplierID  *uint             `gorm:"index" json:"supplierId,omitempty"`
	UserID      *uint             `gorm:"index" json:"userId,omitempty"`

	IdempotencyKey string `gorm:"type:varchar(64);uniqueIndex:idx_transactions_idempotency_key,where:idempotency_key <> ''" json:"idempotencyKey,omitempty"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParsedDate parses Date, reading zone-less dates as UTC. ok is false for a
// missing or unparseable date.
func (t *Transaction) ParsedDate() (time.Time, bool) {
	return t.ParsedDateIn(time.UTC)
}

// ParsedDateIn is ParsedDate with zone-less dates read in loc.
func (t *Transaction) ParsedDateIn(loc *time.Location) (time.Time, bool) {
	if t.Date == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.ParseInLocation(layout, t.Date, loc); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a timestamp in the layout stored in Date.
func FormatDate(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
