// Package parser exposes spreadsheet, document and PDF content as a uniform
// stream of cells, so the match engine never cares which format a tender
// attachment arrived in.
package parser

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Cell is one unit of matchable text from a document. For spreadsheets it is
// a worksheet cell; for documents and PDFs each paragraph or line maps to a
// cell with a synthetic row number.
type Cell struct {
	Text        string // raw value
	DisplayText string // formatted value as a reader would see it
	Sheet       string
	Row         int // 1-based
	Column      int // 1-based
	Address     string // "B7" for spreadsheets, empty otherwise
}

// VisitFunc receives cells during iteration. Returning ErrStop ends the
// iteration without error; any other error aborts it.
type VisitFunc func(Cell) error

// ErrStop stops cell iteration early.
var ErrStop = eris.New("stop iteration")

// ErrUnsupported marks files no parser can read.
var ErrUnsupported = eris.New("unsupported document format")

// IsUnsupported reports whether err means the file format cannot be parsed.
func IsUnsupported(err error) bool {
	return eris.Is(err, ErrUnsupported)
}

// IterCells streams every cell of the document at path through visit, in a
// single pass. The parser is chosen by extension with a fallback chain:
// workbooks mislabeled as .xls/.xlsx are retried with the sibling reader
// before giving up, since registry uploads frequently lie about format.
func IterCells(path string, visit VisitFunc) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".xlsx", ".xlsm":
		if err := iterXLSX(path, visit); err != nil {
			if eris.Is(err, ErrStop) || !isFormatError(err) {
				return stopToNil(err)
			}
			// Mislabeled legacy workbook.
			if xerr := iterXLS(path, visit); xerr == nil || eris.Is(xerr, ErrStop) {
				return nil
			}
			return eris.Wrapf(ErrUnsupported, "%s: %v", filepath.Base(path), err)
		}
		return nil
	case ".xls":
		if err := iterXLS(path, visit); err != nil {
			if eris.Is(err, ErrStop) || !isFormatError(err) {
				return stopToNil(err)
			}
			// Mislabeled OOXML workbook.
			if xerr := iterXLSX(path, visit); xerr == nil || eris.Is(xerr, ErrStop) {
				return nil
			}
			return eris.Wrapf(ErrUnsupported, "%s: %v", filepath.Base(path), err)
		}
		return nil
	case ".docx":
		return stopToNil(iterDOCX(path, visit))
	case ".pdf":
		return stopToNil(iterPDF(path, visit))
	}
	return eris.Wrapf(ErrUnsupported, "%s", filepath.Base(path))
}

// CanParse reports whether the file's extension has a parser.
func CanParse(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xls", ".docx", ".pdf":
		return true
	}
	return false
}

// verifyCellLimit caps how much of a file Verify reads.
const verifyCellLimit = 50

// Verify opens the document and reads a bounded number of cells to prove the
// file is not corrupted, without paying for a full parse.
func Verify(path string) error {
	seen := 0
	err := IterCells(path, func(Cell) error {
		seen++
		if seen >= verifyCellLimit {
			return ErrStop
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "verify %s", filepath.Base(path))
	}
	return nil
}

// stopToNil converts an ErrStop-terminated iteration into success.
func stopToNil(err error) error {
	if err == nil || eris.Is(err, ErrStop) {
		return nil
	}
	return err
}

// isFormatError distinguishes "wrong file format" open failures, which are
// worth retrying with another reader, from visit-callback errors.
func isFormatError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"zip", "not a valid", "invalid", "bad magic", "ole2", "compound", "xml"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// CellAddress renders a 1-based column and row as an A1-style reference.
func CellAddress(column, row int) string {
	if column < 1 || row < 1 {
		return ""
	}
	var letters []byte
	for column > 0 {
		column--
		letters = append([]byte{byte('A' + column%26)}, letters...)
		column /= 26
	}
	return string(letters) + strconv.Itoa(row)
}
