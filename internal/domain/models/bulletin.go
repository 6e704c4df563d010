package models

import "time"

// BulletinRef points at one published bulletin file and the trade date
// announced next to it on the listing page.
type BulletinRef struct {
	URL       string
	TradeDate time.Time
}

// RawTable is the sub-table found below the "unit of measurement" marker row
// of a bulletin sheet. Header names are whitespace-normalized; Rows keep the
// cell text as decoded from the workbook.
type RawTable struct {
	Header []string
	Rows   [][]string
}

// ColumnIndex returns the position of the named header column, or -1.
func (t *RawTable) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}
