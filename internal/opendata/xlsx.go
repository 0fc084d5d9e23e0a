package opendata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSXToCSV writes the first sheet of a workbook as CSV. Short rows are
// padded to the header width.
func XLSXToCSV(r io.Reader, w io.Writer) error {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("sheet %q is empty", sheets[0])
	}

	width := len(rows[0])
	cw := csv.NewWriter(w)
	for _, row := range rows {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			row = padded
		}
		if err := cw.Write(row[:width]); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
