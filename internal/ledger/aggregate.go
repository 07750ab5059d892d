package ledger

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"go-inventory-ledger/internal/model"
	"go-inventory-ledger/pkg/validator"
)

// DailyTotal is one day of a month's activity.
type DailyTotal struct {
	Day           int             `json:"day"`
	Count         int             `json:"count"`
	TotalQuantity int             `json:"totalQuantity"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

// Totals sums a series of DailyTotal.
type Totals struct {
	Count         int             `json:"count"`
	TotalQuantity int             `json:"totalQuantity"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
}

// DaysIn returns the number of days of month in year.
func DaysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AggregateDaily folds transactions into one entry per day of month/year, in
// day order, zero-filled. Days are calendar days in loc; a nil loc uses each
// date's own offset. Transactions with a missing or unparseable date are
// skipped.
func AggregateDaily(transactions []model.Transaction, month time.Month, year int, loc *time.Location) ([]DailyTotal, error) {
	if month < time.January || month > time.December {
		return nil, validator.Invalid("month", "range", "1-12")
	}
	if year < 1 || year > 9999 {
		return nil, validator.Invalid("year", "range", "1-9999")
	}

	days := make([]DailyTotal, DaysIn(month, year))
	for i := range days {
		days[i] = DailyTotal{Day: i + 1, TotalAmount: decimal.Zero}
	}

	parseLoc := loc
	if parseLoc == nil {
		parseLoc = time.UTC
	}
	for i := range transactions {
		ts, ok := transactions[i].ParsedDateIn(parseLoc)
		if !ok {
			continue
		}
		if loc != nil {
			ts = ts.In(loc)
		}
		if ts.Year() != year || ts.Month() != month {
			continue
		}
		d := &days[ts.Day()-1]
		d.Count++
		d.TotalQuantity += transactions[i].Quantity
		d.TotalAmount = d.TotalAmount.Add(transactions[i].TotalPrice)
	}
	return days, nil
}

// Summarize adds up a daily series.
func Summarize(days []DailyTotal) Totals {
	t := Totals{TotalAmount: decimal.Zero}
	for _, d := range days {
		t.Count += d.Count
		t.TotalQuantity += d.TotalQuantity
		t.TotalAmount = t.TotalAmount.Add(d.TotalAmount)
	}
	return t
}

// ParseMonth reads month and year query values, defaulting to now's.
func ParseMonth(monthStr, yearStr string, now time.Time) (time.Month, int, error) {
	month, year := now.Month(), now.Year()
	if monthStr != "" {
		m, err := strconv.Atoi(monthStr)
		if err != nil || m < 1 || m > 12 {
			return 0, 0, validator.Invalid("month", "range", "1-12")
		}
		month = time.Month(m)
	}
	if yearStr != "" {
		y, err := strconv.Atoi(yearStr)
		if err != nil || y < 1 || y > 9999 {
			return 0, 0, validator.Invalid("year", "range", "1-9999")
		}
		year = y
	}
	return month, year, nil
}
