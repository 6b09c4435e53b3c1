// Copyright 2025 James Ross
package reportformat

import (
	"bufio"
	"context"
	"io"
)

// JSONArray emits `[` + comma-separated JSON-serialized rows + `]`. Empty
// input emits exactly `[]`.
func JSONArray(ctx context.Context, rows RowIterator, opts Options) Result {
	return pipeResult("application/json", "json", func(w io.Writer) error {
		bw := bufio.NewWriterSize(w, opts.bufferSize())
		defer bw.Flush()

		if _, err := bw.Write([]byte{'['}); err != nil {
			return err
		}

		var keys []string
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
				first = false
			} else if _, err := bw.Write([]byte{','}); err != nil {
				return err
			}
			b, err := marshalRowJSON(keys, row)
			if err != nil {
				return err
			}
			if _, err := bw.Write(b); err != nil {
				return err
			}
		}
		_, err := bw.Write([]byte{']'})
		return err
	})
}
