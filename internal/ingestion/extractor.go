package ingestion

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/guttosm/spimexpulse/internal/domain/models"
	"github.com/guttosm/spimexpulse/internal/fetcher"
	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/spreadsheet"
)

// unitMarker labels the metric-ton section of a bulletin; the trade table
// header sits on the row right below it.
const unitMarker = "Единица измерения: Метрическая тонна"

// BulletinExtractor downloads one bulletin and returns its trade table.
// A nil table with a nil error means the bulletin has no usable table.
type BulletinExtractor interface {
	Extract(ctx context.Context, url string) (*models.RawTable, error)
}

// Extractor implements BulletinExtractor for legacy .xls bulletins.
type Extractor struct {
	fetcher fetcher.Fetcher
	decode  func([]byte) ([]spreadsheet.Sheet, error)
}

// NewExtractor builds an Extractor that downloads through f.
func NewExtractor(f fetcher.Fetcher) *Extractor {
	return &Extractor{fetcher: f, decode: spreadsheet.Decode}
}

// Extract downloads the workbook at url and locates the metric-ton table.
//
// A download failure is returned. A workbook that cannot be decoded is
// logged and reported as absent, as is a workbook without the marker row.
func (e *Extractor) Extract(ctx context.Context, url string) (*models.RawTable, error) {
	data, err := e.fetcher.GetBytes(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "download bulletin %s", url)
	}

	sheets, err := e.decode(data)
	if err != nil {
		logger.L().Warn().Str("url", url).Int("bytes", len(data)).Err(err).Msg("bulletin is not a readable workbook")
		return nil, nil
	}

	table := locateTable(sheets)
	if table == nil {
		logger.L().Warn().Str("url", url).Int("sheets", len(sheets)).Msg("bulletin has no metric ton table")
	}
	return table, nil
}

// locateTable scans sheets in stored order and rows top to bottom for the
// unit marker. The first marker followed by a header row wins.
func locateTable(sheets []spreadsheet.Sheet) *models.RawTable {
	for _, sheet := range sheets {
		for i, row := range sheet.Rows {
			if !containsMarker(row) {
				continue
			}
			if i+1 >= len(sheet.Rows) {
				// marker on the last row: nothing below it in this sheet
				break
			}

			header := normalizeHeader(sheet.Rows[i+1])
			body := make([][]string, 0, len(sheet.Rows)-i-2)
			for _, r := range sheet.Rows[i+2:] {
				body = append(body, padRow(r, len(header)))
			}
			return &models.RawTable{Header: header, Rows: body}
		}
	}
	return nil
}

func containsMarker(row []string) bool {
	for _, cell := range row {
		if strings.Contains(cell, unitMarker) {
			return true
		}
	}
	return false
}

func normalizeHeader(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = strings.TrimSpace(strings.ReplaceAll(cell, "\n", " "))
	}
	return out
}

// padRow extends short rows so every header column has a cell.
func padRow(row []string, width int) []string {
	if len(row) >= width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
