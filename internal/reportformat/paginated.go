// Copyright 2025 James Ross
package reportformat

import (
	"context"
	"fmt"
	"io"

	"github.com/phpdave11/gofpdf"

	"github.com/flyingrobots/reportgen/internal/reporterr"
)

// PaginatedDocument emits a title page reading "Report", then one text line
// per row of the form "<index>. <JSON(row)>". If opts.DocumentMaxRows is
// set and more rows than that arrive, generation fails with
// DocumentRowLimitExceeded and the stream is destroyed.
func PaginatedDocument(ctx context.Context, rows RowIterator, opts Options) Result {
	return pipeResult("application/pdf", "pdf", func(w io.Writer) error {
		pdf := gofpdf.New("P", "mm", "A4", "")
		pdf.SetAutoPageBreak(true, 15)
		pdf.AddPage()
		pdf.SetFont("Arial", "B", 16)
		pdf.CellFormat(0, 10, "Report", "", 1, "C", false, 0, "")
		pdf.Ln(4)
		pdf.SetFont("Arial", "", 10)

		var keys []string
		idx := 0
		for {
			row, ok, err := rows.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			idx++
			if idx == 1 {
				keys = headerKeys(row)
			}
			if opts.DocumentMaxRows > 0 && idx > opts.DocumentMaxRows {
				return reporterr.New(reporterr.KindDocumentRowLimitExceeded,
					"document row limit exceeded: more than %d rows", opts.DocumentMaxRows)
			}
			b, err := marshalRowJSON(keys, row)
			if err != nil {
				return err
			}
			pdf.MultiCell(0, 6, fmt.Sprintf("%d. %s", idx, string(b)), "", "", false)
		}
		if err := pdf.Error(); err != nil {
			return err
		}
		return pdf.Output(w)
	})
}
