// Copyright 2025 James Ross
package reportformat

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const spreadsheetSheet = "Sheet1"
const spreadsheetContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Spreadsheet emits a single-worksheet workbook: the first row's keys are
// the header; each subsequent row is appended via excelize's StreamWriter,
// which commits rows incrementally rather than buffering the full sheet.
func Spreadsheet(ctx context.Context, rows RowIterator, opts Options) Result {
	return pipeResult(spreadsheetContentType, "xlsx", func(w io.Writer) error {
		f := excelize.NewFile()
		defer f.Close()

		sw, err := f.NewStreamWriter(spreadsheetSheet)
		if err != nil {
			return err
		}

		var keys []string
		rowIdx := 1
		first := true
		for {
			row, ok, err := rows.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if first {
				keys = headerKeys(row)
				cell, _ := excelize.CoordinatesToCellName(1, rowIdx)
				if err := sw.SetRow(cell, toInterfaceSlice(keys)); err != nil {
					return err
				}
				rowIdx++
				first = false
			}
			m := rowMap(row)
			values := make([]interface{}, len(keys))
			for i, k := range keys {
				values[i] = spreadsheetCell(m[k])
			}
			cell, _ := excelize.CoordinatesToCellName(1, rowIdx)
			if err := sw.SetRow(cell, values); err != nil {
				return err
			}
			rowIdx++
		}
		if err := sw.Flush(); err != nil {
			return err
		}
		_, err = f.WriteTo(w)
		return err
	})
}

func toInterfaceSlice(keys []string) []interface{} {
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

func spreadsheetCell(v interface{}) interface{} {
	if v == nil {
		return ""
	}
	switch v.(type) {
	case string, int, int32, int64, float32, float64, bool:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
