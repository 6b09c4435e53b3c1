// Copyright 2025 James Ross
package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goccyjson "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/flyingrobots/reportgen/internal/reportformat"
	"github.com/flyingrobots/reportgen/internal/reporterr"
)

// Path builds the NDJSON snapshot file name per the layout
// "<tmpDir>/snapshot-<jobId>-<epochMs>-<uuid>.ndjson".
func Path(tmpDir, jobID string, epochMs int64) string {
	return filepath.Join(tmpDir, fmt.Sprintf("snapshot-%s-%d-%s.ndjson", jobID, epochMs, uuid.NewString()))
}

// WriteResult is returned by WriteSnapshot once the source is exhausted.
type WriteResult struct {
	Path     string
	RowCount int64
	Bytes    int64
}

// pair is how one row is serialized on disk: a JSON array of [key, value]
// 2-element arrays, in field order. A plain JSON object would lose field
// order on decode (Go map iteration is unordered), and the archive-snapshot
// plan depends on replaying rows in their original field order so the
// format generators derive the same header from the first row every pass.
type pair [2]interface{}

func toPairs(row reportformat.Row) []pair {
	out := make([]pair, len(row))
	for i, e := range row {
		out[i] = pair{e.Key, e.Value}
	}
	return out
}

func fromPairs(pairs []pair) reportformat.Row {
	row := make(reportformat.Row, len(pairs))
	for i, p := range pairs {
		key, _ := p[0].(string)
		row[i].Key = key
		row[i].Value = p[1]
	}
	return row
}

// WriteSnapshot drains rows into an NDJSON file at path: one JSON-array-
// encoded row per LF-terminated line. It creates path's directory if
// needed, and aborts with reporterr.KindSnapshotSizeExceeded the moment
// cumulative bytes would exceed maxBytes (maxBytes<=0 means unbounded),
// destroying the partial file. onProgress, if non-nil, is invoked after
// every row with the running row/byte counts.
func WriteSnapshot(ctx context.Context, rows reportformat.RowIterator, path string, maxBytes int64, bufferBytes int, onProgress func(rowCount, bytes int64)) (WriteResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("snapshot: create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return WriteResult{}, fmt.Errorf("snapshot: create file: %w", err)
	}

	if bufferBytes <= 0 {
		bufferBytes = 32 * 1024
	}
	bw := bufio.NewWriterSize(f, bufferBytes)

	var rowCount, total int64
	abort := func(cause error) (WriteResult, error) {
		bw.Flush()
		f.Close()
		os.Remove(path)
		return WriteResult{}, cause
	}

	for {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		row, ok, err := rows.Next(ctx)
		if err != nil {
			return abort(fmt.Errorf("snapshot: read row: %w", err))
		}
		if !ok {
			break
		}
		encoded, err := goccyjson.Marshal(toPairs(row))
		if err != nil {
			return abort(fmt.Errorf("snapshot: encode row: %w", err))
		}
		lineLen := int64(len(encoded) + 1)
		if maxBytes > 0 && total+lineLen > maxBytes {
			return abort(reporterr.New(reporterr.KindSnapshotSizeExceeded, "snapshot exceeded %d bytes at row %d", maxBytes, rowCount+1))
		}
		if _, err := bw.Write(encoded); err != nil {
			return abort(fmt.Errorf("snapshot: write row: %w", err))
		}
		if err := bw.WriteByte('\n'); err != nil {
			return abort(fmt.Errorf("snapshot: write newline: %w", err))
		}
		total += lineLen
		rowCount++
		if onProgress != nil {
			onProgress(rowCount, total)
		}
	}

	if err := bw.Flush(); err != nil {
		return abort(fmt.Errorf("snapshot: flush: %w", err))
	}
	if err := f.Close(); err != nil {
		return WriteResult{}, fmt.Errorf("snapshot: close: %w", err)
	}
	return WriteResult{Path: path, RowCount: rowCount, Bytes: total}, nil
}

// Remove deletes a snapshot file unconditionally; callers log rather than
// raise any error it returns, matching the job processor's guaranteed
// cleanup step.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	return os.Remove(path)
}

// reader is a lazy, forward-only RowIterator replaying an NDJSON snapshot.
type reader struct {
	f  *os.File
	br *bufio.Reader
}

// Open returns a RowIterator over the snapshot at path plus a closer the
// caller must invoke once the sequence is exhausted or abandoned.
func Open(path string, bufferBytes int) (reportformat.RowIterator, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: open: %w", err)
	}
	if bufferBytes <= 0 {
		bufferBytes = 32 * 1024
	}
	return &reader{f: f, br: bufio.NewReaderSize(f, bufferBytes)}, f.Close, nil
}

func (r *reader) Next(ctx context.Context) (reportformat.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	for {
		line, err := r.br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) == 0 {
			if err == io.EOF {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, fmt.Errorf("snapshot: read line: %w", err)
			}
			continue
		}
		var pairs []pair
		if unmarshalErr := goccyjson.Unmarshal(bytes.TrimRight(line, "\n"), &pairs); unmarshalErr != nil {
			return nil, false, fmt.Errorf("snapshot: decode row: %w", unmarshalErr)
		}
		return fromPairs(pairs), true, nil
	}
}
