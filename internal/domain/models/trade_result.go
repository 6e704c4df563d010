package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeResult represents one instrument line of an oil-products trading bulletin.
//
// The three *ID sub-fields are positional slices of ExchangeProductID:
//
//	A592ACH005  →  OilID "A592", DeliveryBasisID "ACH", DeliveryTypeID "5"
//
// ID is assigned by the store and is zero until the row is read back.
type TradeResult struct {
	ID                  int64
	ExchangeProductID   string
	ExchangeProductName string
	OilID               string
	DeliveryBasisID     string
	DeliveryBasisName   string
	DeliveryTypeID      string
	Volume              decimal.Decimal
	Total               decimal.Decimal
	Count               int64
	Date                time.Time
	CreatedOn           time.Time
	UpdatedOn           time.Time
}
