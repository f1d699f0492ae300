package parser

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// iterXLSX walks every sheet of an OOXML workbook row by row.
func iterXLSX(path string, visit VisitFunc) error {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return eris.Wrap(err, "xlsx: open file")
	}

	for _, sheet := range f.Sheets {
		for r, row := range sheet.Rows {
			for c, cell := range row.Cells {
				display := cell.String()
				if display == "" {
					continue
				}
				cellValue := Cell{
					Text:        cell.Value,
					DisplayText: display,
					Sheet:       sheet.Name,
					Row:         r + 1,
					Column:      c + 1,
					Address:     CellAddress(c+1, r+1),
				}
				if err := visit(cellValue); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
