// Package spreadsheet decodes legacy BIFF (.xls) workbooks into plain string grids.
package spreadsheet

import (
	"bytes"

	"github.com/extrame/xls"
	"github.com/rotisserie/eris"
)

// Sheet is one worksheet with its cells rendered as text. Rows keep their
// absolute column positions; missing cells are empty strings and missing rows
// are empty slices.
type Sheet struct {
	Name string
	Rows [][]string
}

// Decode parses data as a legacy Excel workbook and returns its sheets in
// stored order. Any failure inside the decoder, including a panic on a
// malformed stream, is returned as an error.
func Decode(data []byte) (sheets []Sheet, err error) {
	if len(data) == 0 {
		return nil, eris.New("xls: empty workbook")
	}

	defer func() {
		if r := recover(); r != nil {
			sheets = nil
			err = eris.Errorf("xls: decoder panic: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, eris.Wrap(err, "xls: open workbook")
	}
	if wb == nil {
		return nil, eris.New("xls: open workbook: nil workbook")
	}

	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		sheets = append(sheets, Sheet{Name: ws.Name, Rows: readRows(ws)})
	}

	if len(sheets) == 0 {
		return nil, eris.New("xls: workbook has no sheets")
	}
	return sheets, nil
}

func readRows(ws *xls.WorkSheet) [][]string {
	rows := make([][]string, 0, int(ws.MaxRow)+1)
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			rows = append(rows, []string{})
			continue
		}

		cells := make([]string, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			cells[j] = row.Col(j)
		}
		rows = append(rows, cells)
	}
	return rows
}
