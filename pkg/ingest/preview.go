package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mwantia/datenest/pkg/errdefs"
)

// PreviewRows is the number of records read for a preview, header included.
const PreviewRows = 50

type Preview struct {
	Header []string
	Rows   [][]string
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// PreviewCSV reads the head of a CSV file. When any cell of the first
// record is blank the file is taken to have no header: columns are named
// col1..colN and every record is data.
func PreviewCSV(path string, limit int) (*Preview, error) {
	if limit <= 0 {
		limit = PreviewRows
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	for len(records) < limit {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read '%s': %v", errdefs.ErrIOFailure, path, err)
		}
		records = append(records, record)
	}

	preview := &Preview{}
	if len(records) == 0 {
		return preview, nil
	}

	first := records[0]
	if hasHeader(first) {
		preview.Header = first
		preview.Rows = records[1:]
		return preview, nil
	}

	preview.Header = make([]string, len(first))
	for i := range first {
		preview.Header[i] = fmt.Sprintf("col%d", i+1)
	}
	preview.Rows = records
	return preview, nil
}

func hasHeader(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) == "" {
			return false
		}
	}
	return true
}
