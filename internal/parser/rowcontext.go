package parser

import "strings"

// RowValues carries the quantity and cost columns found on a matched row.
type RowValues struct {
	Quantity  string
	UnitCost  string
	TotalCost string
}

// headerScanRows is how deep the header search goes. Estimate sheets bury
// their header under title rows, rarely more than a handful.
const headerScanRows = 5

var (
	quantityHeaders = []string{"кол-во", "количество", "кол."}
	unitCostHeaders = []string{"цена за ед", "цена", "стоимость единицы"}
	totalHeaders    = []string{"сумма", "стоимость", "итого"}
)

// ExtractRowContext re-reads the sheet and picks the quantity, unit-cost and
// total-cost values from the matched row. Columns are located by header
// keywords in the top rows; when no header matches, the columns immediately
// right of the matched cell are used.
func ExtractRowContext(path, sheet string, row, matchCol int) (RowValues, bool) {
	headerCols := map[string]int{}
	rowCells := map[int]string{}

	err := IterCells(path, func(c Cell) error {
		if c.Sheet != sheet {
			return nil
		}
		if c.Row <= headerScanRows {
			header := strings.ToLower(c.DisplayText)
			assignHeader(headerCols, "quantity", header, quantityHeaders, c.Column)
			assignHeader(headerCols, "unit_cost", header, unitCostHeaders, c.Column)
			assignHeader(headerCols, "total", header, totalHeaders, c.Column)
		}
		if c.Row == row {
			rowCells[c.Column] = c.DisplayText
		}
		return nil
	})
	if err != nil || len(rowCells) == 0 {
		return RowValues{}, false
	}

	pick := func(key string, fallbackCol int) string {
		if col, ok := headerCols[key]; ok {
			if v, ok := rowCells[col]; ok {
				return v
			}
		}
		return rowCells[fallbackCol]
	}

	vals := RowValues{
		Quantity:  pick("quantity", matchCol+1),
		UnitCost:  pick("unit_cost", matchCol+2),
		TotalCost: pick("total", matchCol+3),
	}
	found := vals.Quantity != "" || vals.UnitCost != "" || vals.TotalCost != ""
	return vals, found
}

// assignHeader records the first column whose header contains any keyword.
// Longer keywords are listed first so "цена за ед" wins over "цена".
func assignHeader(cols map[string]int, key, header string, keywords []string, column int) {
	if _, done := cols[key]; done {
		return
	}
	for _, kw := range keywords {
		if strings.Contains(header, kw) {
			cols[key] = column
			return
		}
	}
}
