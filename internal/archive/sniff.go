// Package archive detects and extracts the archive formats tender documents
// arrive in: ZIP, RAR and 7z, including multi-part volumes and archives
// nested inside other archives.
package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// Format is a detected archive format.
type Format int

const (
	FormatNone Format = iota
	FormatZIP
	FormatRAR
	Format7z
)

func (f Format) String() string {
	switch f {
	case FormatZIP:
		return "zip"
	case FormatRAR:
		return "rar"
	case Format7z:
		return "7z"
	default:
		return "none"
	}
}

var (
	magicRAR = []byte("Rar!")
	magic7z  = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
	magicZIP = []byte("PK\x03\x04")
)

// DetectFormat sniffs the file's leading bytes. File name extensions are
// ignored: registry attachments routinely carry the wrong one.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatNone, eris.Wrapf(err, "archive: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	header := make([]byte, 8)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatNone, eris.Wrapf(err, "archive: read header of %s", path)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, magicRAR):
		return FormatRAR, nil
	case bytes.HasPrefix(header, magic7z):
		return Format7z, nil
	case bytes.HasPrefix(header, magicZIP):
		return FormatZIP, nil
	}
	return FormatNone, nil
}

// IsArchive reports whether the file is an extractable archive. ZIP
// containers that are actually Office documents (xlsx, docx) are excluded
// by inspecting the member list for OOXML markers.
func IsArchive(path string) (bool, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return false, err
	}
	switch format {
	case FormatRAR, Format7z:
		return true, nil
	case FormatZIP:
		ooxml, err := isOOXML(path)
		if err != nil {
			// Unreadable ZIP central directory: treat as an archive so the
			// corruption surfaces through the extraction path.
			return true, nil //nolint:nilerr
		}
		return !ooxml, nil
	}
	return false, nil
}

// isOOXML checks ZIP members for the OOXML content-types entry.
func isOOXML(path string) (bool, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false, err
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.Name == "[Content_Types].xml" {
			return true, nil
		}
	}
	return false, nil
}
