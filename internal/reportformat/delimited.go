// Copyright 2025 James Ross
package reportformat

import (
	"bufio"
	"context"
	"io"
	"strings"

	goccyjson "github.com/goccy/go-json"
)

// Delimited emits a comma-separated stream: the header line is the first
// row's keys; values are quoted iff they contain a comma, a double quote, or
// a newline, with embedded quotes doubled. Lines are LF-terminated.
//
// This hand-rolls the quoting rule rather than using encoding/csv: the
// standard writer also quotes fields that start with a space or contain a
// carriage return, which would violate the literal "quoted iff it contains `,`,
// `"`, or `\n`" invariant this format is tested against.
func Delimited(ctx context.Context, rows RowIterator, opts Options) Result {
	return pipeResult("text/csv", "csv", func(w io.Writer) error {
		bw := bufio.NewWriterSize(w, opts.bufferSize())
		defer bw.Flush()

		var keys []string
		first := true
		for {
			row, ok, err := rows.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if first {
				keys = headerKeys(row)
				if err := writeCSVLine(bw, keys); err != nil {
					return err
				}
				first = false
			}
			m := rowMap(row)
			fields := make([]string, len(keys))
			for i, k := range keys {
				cell, err := csvCell(m[k])
				if err != nil {
					return err
				}
				fields[i] = cell
			}
			if err := writeCSVLine(bw, fields); err != nil {
				return err
			}
		}
	})
}

func writeCSVLine(w io.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if _, err := w.Write([]byte{','}); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, quoteCSVField(f)); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{'\n'})
	return err
}

func quoteCSVField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	b.WriteString(strings.ReplaceAll(s, `"`, `""`))
	b.WriteByte('"')
	return b.String()
}

func csvCell(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := goccyjson.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
