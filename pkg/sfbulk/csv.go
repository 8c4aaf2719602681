package sfbulk

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// EncodeCSV writes header and rows in the given format, ready for Upload.
func EncodeCSV(format ContentFormat, header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer

	writer := csv.NewWriter(&buf)
	writer.Comma = format.ColumnDelimiter.Rune()
	writer.UseCRLF = format.LineEnding == LineEndingCRLF

	if len(header) > 0 {
		err := writer.Write(header)
		if err != nil {
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}

	err := writer.WriteAll(rows)
	if err != nil {
		return nil, fmt.Errorf("writing rows: %w", err)
	}

	return buf.Bytes(), nil
}
