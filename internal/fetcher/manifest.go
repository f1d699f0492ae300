package fetcher

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wanga1712/tendermatch/internal/model"
)

// ManifestOptions configures the registry export reader.
type ManifestOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool
}

// manifest column names as exported by the registry dumps. Column order
// varies between exports, so the header row is mapped by name.
const (
	colTenderID = "tender_id"
	colFileName = "file_name"
	colURL      = "url"
	colSize     = "size_bytes"
)

// ReadManifest parses a registry document export into document metadata.
// The first row must be a header naming at least tender_id, file_name and
// url; size_bytes is optional. Rows with a bad tender id fail the read.
func ReadManifest(r io.Reader, opts ManifestOptions) ([]model.DocumentMeta, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("manifest: empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "manifest: read header")
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colTenderID, colFileName, colURL} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("manifest: missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var docs []model.DocumentMeta
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "manifest: line %d", line)
		}

		tenderID, err := strconv.ParseInt(field(record, colTenderID), 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "manifest: line %d: bad tender id", line)
		}

		doc := model.DocumentMeta{
			TenderID: tenderID,
			FileName: field(record, colFileName),
			URL:      field(record, colURL),
		}
		if raw := field(record, colSize); raw != "" {
			if doc.SizeBytes, err = strconv.ParseInt(raw, 10, 64); err != nil {
				return nil, eris.Wrapf(err, "manifest: line %d: bad size", line)
			}
		}
		if doc.FileName == "" {
			continue
		}
		docs = append(docs, doc)
	}
}
