package parser

import (
	"github.com/extrame/xls"
	"github.com/rotisserie/eris"
)

// iterXLS walks every sheet of a legacy BIFF workbook row by row.
func iterXLS(path string, visit VisitFunc) error {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return eris.Wrap(err, "xls: open file")
	}

	for s := 0; s < wb.NumSheets(); s++ {
		sheet := wb.GetSheet(s)
		if sheet == nil {
			continue
		}
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				continue
			}
			for c := row.FirstCol(); c <= row.LastCol(); c++ {
				text := row.Col(c)
				if text == "" {
					continue
				}
				cellValue := Cell{
					Text:        text,
					DisplayText: text,
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
