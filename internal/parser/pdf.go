package parser

import (
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// iterPDF streams PDF text line by line, one line per cell. The row number
// resets per page; the page number stands in for the sheet name.
func iterPDF(path string, visit VisitFunc) error {
	f, r, err := pdf.Open(path)
	if err != nil {
		return eris.Wrap(err, "pdf: open file")
	}
	defer f.Close() //nolint:errcheck

	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages with exotic font encodings come back unreadable; the
			// rest of the document is still worth scanning.
			continue
		}

		row := 0
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			row++
			err := visit(Cell{
				Text:        line,
				DisplayText: line,
				Sheet:       "page " + strconv.Itoa(pageNum),
				Row:         row,
				Column:      1,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
