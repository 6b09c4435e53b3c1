// Copyright 2025 James Ross
package reportformat

import (
	"context"
	"io"

	goccyjson "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Row is one already-normalized source document, in its original field
// order. Using bson.D (rather than a plain map) lets the header/schema of
// delimited, JSON-array, and spreadsheet output be derived from the first
// row's key ordering, as the streaming format generators require.
type Row = bson.D

// RowIterator is a pull-based, single-consumer source of rows, mirroring
// the mongo-driver cursor's Next/Decode shape so callers can wrap either a
// live cursor or an in-memory/snapshot-backed sequence behind the same
// interface.
type RowIterator interface {
	// Next advances to the next row. It returns ok=false when the
	// sequence is exhausted (err is nil in that case).
	Next(ctx context.Context) (row Row, ok bool, err error)
}

// Options tunes the byte-level pipelines shared by every generator.
type Options struct {
	BufferBytes     int
	DocumentMaxRows int
}

func (o Options) bufferSize() int {
	if o.BufferBytes > 0 {
		return o.BufferBytes
	}
	return 32 * 1024
}

// Result is what every generator returns: a byte stream consumed exactly
// once, plus the MIME type and file extension for the artifact key.
type Result struct {
	Body        io.ReadCloser
	ContentType string
	Extension   string
}

// SliceIterator adapts a pre-materialized slice of rows (e.g. the reduce
// engine's finalized output, or an NDJSON snapshot's replay) to RowIterator.
type SliceIterator struct {
	rows []Row
	pos  int
}

func NewSliceIterator(rows []Row) *SliceIterator {
	return &SliceIterator{rows: rows}
}

func (s *SliceIterator) Next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.pos >= len(s.rows) {
		return nil, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

func rowMap(row Row) map[string]interface{} {
	m := make(map[string]interface{}, len(row))
	for _, e := range row {
		m[e.Key] = e.Value
	}
	return m
}

func headerKeys(first Row) []string {
	keys := make([]string, len(first))
	for i, e := range first {
		keys[i] = e.Key
	}
	return keys
}

// marshalRowJSON serializes row as a JSON object following keys in order;
// keys absent from row are emitted as null, matching "subsequent rows with
// different key sets use the first row's key list and substitute missing
// values as empty."
func marshalRowJSON(keys []string, row Row) ([]byte, error) {
	m := rowMap(row)
	buf := make([]byte, 0, 64*len(keys))
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := goccyjson.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		v, ok := m[k]
		if !ok || v == nil {
			buf = append(buf, "null"...)
			continue
		}
		vb, err := goccyjson.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// pipeResult wires a writer function into an io.Pipe so callers receive a
// Result.Body immediately while the generator streams into it on its own
// goroutine; any error returned by write is surfaced to the reader via
// CloseWithError, which the archive/upload tee then propagates and
// destroys the stream on, per spec.
func pipeResult(contentType, extension string, write func(w io.Writer) error) Result {
	pr, pw := io.Pipe()
	go func() {
		err := write(pw)
		_ = pw.CloseWithError(err)
	}()
	return Result{Body: pr, ContentType: contentType, Extension: extension}
}
