package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// DefaultSheet is the worksheet holding scanned inventory rows.
const DefaultSheet = "DatasScan"

// Encodings reported on decoded tables.
const (
	EncodingUTF8    = "utf-8"
	EncodingLatin1  = "latin1"
	EncodingCP1252  = "cp1252"
	maxHeaderFields = 512
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV decodes a CSV export. Bytes that are not valid UTF-8 are decoded
// as Latin-1, or as Windows-1252 when they use its 0x80-0x9F printable range.
func ReadCSV(r io.Reader) (Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Table{}, fmt.Errorf("read csv: %w", err)
	}
	text, enc, err := decode(raw)
	if err != nil {
		return Table{}, err
	}
	cr := csv.NewReader(bytes.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv (%s): %w", enc, err)
	}
	if len(rows) == 0 {
		return Table{}, errors.New("csv has no header row")
	}
	if len(rows[0]) > maxHeaderFields {
		return Table{}, fmt.Errorf("csv header has %d fields", len(rows[0]))
	}
	return Table{Header: rows[0], Rows: rows[1:], Encoding: enc}, nil
}

func decode(raw []byte) ([]byte, string, error) {
	if utf8.Valid(raw) {
		return bytes.TrimPrefix(raw, utf8BOM), EncodingUTF8, nil
	}
	var dec *encoding.Decoder
	name := EncodingLatin1
	dec = charmap.ISO8859_1.NewDecoder()
	if usesC1Range(raw) {
		dec = charmap.Windows1252.NewDecoder()
		name = EncodingCP1252
	}
	out, err := dec.Bytes(raw)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", name, err)
	}
	return out, name, nil
}

// usesC1Range reports bytes that Latin-1 maps to control characters.
func usesC1Range(raw []byte) bool {
	for _, b := range raw {
		if b >= 0x80 && b <= 0x9F {
			return true
		}
	}
	return false
}

// ReadExcel reads the named worksheet (DefaultSheet when empty) of an
// .xlsx/.xlsm workbook.
func ReadExcel(r io.Reader, sheet string) (Table, error) {
	if sheet == "" {
		sheet = DefaultSheet
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	idx, err := f.GetSheetIndex(sheet)
	if err != nil || idx < 0 {
		return Table{}, fmt.Errorf("sheet %q not found (have %v)", sheet, f.GetSheetList())
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return Table{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return Table{}, fmt.Errorf("sheet %q is empty", sheet)
	}
	return Table{Header: rows[0], Rows: rows[1:], Encoding: "xlsx"}, nil
}
