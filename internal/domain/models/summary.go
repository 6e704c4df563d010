package models

import "github.com/shopspring/decimal"

// DailySummary aggregates the stored trade results of one trade date.
//
// Fields:
//   - Rows: number of stored instrument lines.
//   - Volume: sum of contract volume in metric tons.
//   - Total: sum of contract value in rubles.
//   - Contracts: sum of contract counts.
type DailySummary struct {
	Rows      int64
	Volume    decimal.Decimal
	Total     decimal.Decimal
	Contracts int64
}
