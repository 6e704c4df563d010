package ingestion

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/guttosm/spimexpulse/internal/domain/models"
)

// Bulletin column headers, as printed after header normalization.
// "Обьем" with a soft sign is the spelling used by the exchange.
const (
	colProductID   = "Код Инструмента"
	colProductName = "Наименование Инструмента"
	colBasisName   = "Базис поставки"
	colVolume      = "Объем Договоров в единицах измерения"
	colTotal       = "Обьем Договоров, руб."
	colCount       = "Количество Договоров, шт."

	// summaryMarker appears in the instrument code cell of section and footer total rows.
	summaryMarker = "Итого"
)

var requiredColumns = []string{colProductID, colProductName, colBasisName, colVolume, colTotal, colCount}

// Normalizer turns a bulletin table into trade results.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a Normalizer stamping rows with the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize validates the table layout and converts its rows.
//
// Returns nil when any required column is missing. Otherwise returns a
// (possibly empty) slice holding only rows with a positive contract count,
// numeric volume and total, and a non-empty instrument code that is not a
// total row. All rows share one CreatedOn/UpdatedOn reading.
//
// Column mapping (bulletin header → TradeResult field):
//
//	Код Инструмента                        → ExchangeProductID (+ OilID, DeliveryBasisID, DeliveryTypeID)
//	Наименование Инструмента               → ExchangeProductName
//	Базис поставки                         → DeliveryBasisName
//	Объем Договоров в единицах измерения   → Volume  (thousands commas stripped)
//	Обьем Договоров, руб.                  → Total   (thousands commas stripped)
//	Количество Договоров, шт.              → Count   (thousands commas stripped, blank → 0)
func (n *Normalizer) Normalize(table *models.RawTable, tradeDate time.Time) []models.TradeResult {
	if table == nil {
		return nil
	}

	idx := make(map[string]int, len(requiredColumns))
	for _, name := range requiredColumns {
		i := table.ColumnIndex(name)
		if i < 0 {
			return nil
		}
		idx[name] = i
	}

	date := truncateToDate(tradeDate)
	now := n.now()
	out := make([]models.TradeResult, 0, len(table.Rows))

	for _, row := range table.Rows {
		count := parseCount(cell(row, idx[colCount]))
		if count <= 0 {
			continue
		}
		volume, ok := parseDecimal(cell(row, idx[colVolume]))
		if !ok {
			continue
		}
		total, ok := parseDecimal(cell(row, idx[colTotal]))
		if !ok {
			continue
		}

		code := strings.TrimSpace(cell(row, idx[colProductID]))
		if code == "" || strings.Contains(code, summaryMarker) {
			continue
		}

		oilID, basisID, typeID := splitProductID(code)
		out = append(out, models.TradeResult{
			ExchangeProductID:   code,
			ExchangeProductName: strings.TrimSpace(cell(row, idx[colProductName])),
			OilID:               oilID,
			DeliveryBasisID:     basisID,
			DeliveryBasisName:   strings.TrimSpace(cell(row, idx[colBasisName])),
			DeliveryTypeID:      typeID,
			Volume:              volume,
			Total:               total,
			Count:               count,
			Date:                date,
			CreatedOn:           now,
			UpdatedOn:           now,
		})
	}

	return out
}

// splitProductID slices the instrument code by fixed rune offsets:
// [0:4] oil, [4:7] delivery basis, last rune delivery type. Short codes
// yield truncated or empty parts.
func splitProductID(code string) (oilID, basisID, typeID string) {
	r := []rune(code)
	oilID = runeSlice(r, 0, 4)
	basisID = runeSlice(r, 4, 7)
	if len(r) > 0 {
		typeID = string(r[len(r)-1])
	}
	return oilID, basisID, typeID
}

func runeSlice(r []rune, from, to int) string {
	if from >= len(r) {
		return ""
	}
	if to > len(r) {
		to = len(r)
	}
	return string(r[from:to])
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func cleanNumber(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
}

// parseCount coerces a contract count; anything non-numeric or outside the
// int64 range is 0. Fractional values are truncated toward zero.
func parseCount(s string) int64 {
	f, err := strconv.ParseFloat(cleanNumber(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

// parseDecimal coerces a money or volume cell. ok is false for blanks and
// anything that is not a number.
func parseDecimal(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(cleanNumber(s))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
