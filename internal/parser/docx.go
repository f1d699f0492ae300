package parser

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// iterDOCX streams the paragraphs of word/document.xml, one paragraph per
// cell. Tables inside the document surface the same way since their cells
// are paragraphs too.
func iterDOCX(path string, visit VisitFunc) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return eris.Wrap(err, "docx: open container")
	}
	defer r.Close() //nolint:errcheck

	var doc *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return eris.New("docx: word/document.xml missing")
	}

	rc, err := doc.Open()
	if err != nil {
		return eris.Wrap(err, "docx: open document.xml")
	}
	defer rc.Close() //nolint:errcheck

	dec := xml.NewDecoder(rc)
	var (
		par     strings.Builder
		inPar   bool
		inText  bool
		parNum  int
	)

	flush := func() error {
		text := strings.TrimSpace(par.String())
		par.Reset()
		if text == "" {
			return nil
		}
		parNum++
		return visit(Cell{
			Text:        text,
			DisplayText: text,
			Row:         parNum,
			Column:      1,
		})
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return eris.Wrap(err, "docx: decode document.xml")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPar = true
			case "t":
				inText = inPar
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				inPar = false
				if err := flush(); err != nil {
					return err
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				par.Write(t)
			}
		}
	}

	// A trailing unterminated paragraph still counts.
	return flush()
}
