// Copyright 2025 James Ross
package jobprocessor

import (
	"context"
	"fmt"
	"io"

	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/reduce"
	"github.com/flyingrobots/reportgen/internal/reportformat"
	"github.com/flyingrobots/reportgen/internal/reporterr"
	"github.com/flyingrobots/reportgen/internal/snapshot"
)

// planOutcome is the fully-assembled, ready-to-upload output of one of the
// four plan modes: the byte stream, its content type/extension, the archive
// entry names (if any), the snapshot file to clean up afterwards (if one was
// created), and the counters the upload/stats steps read once the stream
// has finished draining.
type planOutcome struct {
	Body         io.ReadCloser
	ContentType  string
	Extension    string
	ZipStrategy  string
	Entries      []string
	SnapshotPath string
	RowsIn       *int64
	RowsOut      *int64
	PeakBytes    *uint64
}

// buildPlan picks exactly one of the four plan modes per the resolved job:
// reduce (a reduceSpec is present), archive-multipass or archive-snapshot
// (format=archive with no reduceSpec, branching on worker.zip_multipass), or
// raw otherwise.
func (p *Processor) buildPlan(ctx context.Context, job *docstore.Job, collection string) (*planOutcome, error) {
	switch {
	case job.ReduceSpec != nil:
		return p.planReduce(ctx, job, collection)
	case job.Format == "archive" && p.cfg.Worker.ZipMultipass:
		return p.planArchiveMultipass(ctx, job, collection)
	case job.Format == "archive":
		return p.planArchiveSnapshot(ctx, job, collection)
	default:
		return p.planRaw(ctx, job, collection)
	}
}

func (p *Processor) planReduce(ctx context.Context, job *docstore.Job, collection string) (*planOutcome, error) {
	src := &docstore.ReduceRangeSource{Reader: p.reader, Collection: collection, BatchSize: p.cfg.Worker.CursorBatchSize}
	opts := reduce.Options{
		DefaultChunks:           p.cfg.Reduce.DefaultChunks,
		PartitionCapMax:         p.cfg.Reduce.PartitionCapMax,
		PartitionMaxConcurrency: p.cfg.Reduce.PartitionMaxConcurrency,
		MaxGroups:               p.cfg.Reduce.MaxGroups,
		StreamingAccumulator:    p.cfg.Reduce.StreamingAccumulator,
	}
	var part reduce.PartitionSpec
	if job.PartitionSpec != nil {
		part = *job.PartitionSpec
	}

	result, err := reduce.Run(ctx, src, job.TenantID, job.Filters, *job.ReduceSpec, part, opts)
	if err != nil {
		return nil, err
	}

	peak := new(uint64)
	rows := samplePeakIterator(reportformat.NewSliceIterator(result.Rows), peak)
	genOpts := reportformat.Options{BufferBytes: p.cfg.Worker.BufferBytes, DocumentMaxRows: p.cfg.Worker.DocumentMaxRows}
	res, err := generatorFor(ctx, job.Format, rows, genOpts)
	if err != nil {
		return nil, err
	}

	var entries []string
	if job.Compression == docstore.CompressionZip && job.Format != "archive" {
		res, entries = wrapSingleEntryArchive(ctx, res)
	}

	rowsIn, rowsOut := result.RowsIn, result.RowsOut
	return &planOutcome{
		Body:        res.Body,
		ContentType: res.ContentType,
		Extension:   res.Extension,
		Entries:     entries,
		RowsIn:      &rowsIn,
		RowsOut:     &rowsOut,
		PeakBytes:   peak,
	}, nil
}

func (p *Processor) planRaw(ctx context.Context, job *docstore.Job, collection string) (*planOutcome, error) {
	rowsIn := new(int64)
	rowsOut := new(int64)
	peak := new(uint64)

	rows, err := p.openRawCursor(ctx, job.TenantID, collection, job.Filters)
	if err != nil {
		return nil, err
	}

	genOpts := reportformat.Options{BufferBytes: p.cfg.Worker.BufferBytes, DocumentMaxRows: p.cfg.Worker.DocumentMaxRows}
	res, err := generatorFor(ctx, job.Format, instrument(rows, rowsIn, rowsOut, peak), genOpts)
	if err != nil {
		return nil, err
	}

	var entries []string
	if job.Compression == docstore.CompressionZip && job.Format != "archive" {
		res, entries = wrapSingleEntryArchive(ctx, res)
	}

	return &planOutcome{
		Body:        res.Body,
		ContentType: res.ContentType,
		Extension:   res.Extension,
		Entries:     entries,
		RowsIn:      rowsIn,
		RowsOut:     rowsOut,
		PeakBytes:   peak,
	}, nil
}

func (p *Processor) planArchiveMultipass(ctx context.Context, job *docstore.Job, collection string) (*planOutcome, error) {
	if len(job.IncludeFormats) == 0 {
		return nil, reporterr.New(reporterr.KindArchiveRequiresIncludeFormats, "archive format requires includeFormats")
	}

	_, maxHex, ok, err := p.reader.IDBounds(ctx, job.TenantID, collection, job.Filters)
	if err != nil {
		return nil, err
	}

	rowsIn := new(int64)
	rowsOut := new(int64)
	peak := new(uint64)
	genOpts := reportformat.Options{BufferBytes: p.cfg.Worker.BufferBytes, DocumentMaxRows: p.cfg.Worker.DocumentMaxRows}

	entries := make([]string, 0, len(job.IncludeFormats))
	archiveEntries := make([]reportformat.ArchiveEntry, 0, len(job.IncludeFormats))

	for i, f := range job.IncludeFormats {
		rows, err := p.openBoundedCursor(ctx, job.TenantID, collection, job.Filters, maxHex, ok)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			rows = instrument(rows, rowsIn, rowsOut, peak)
		} else {
			rows = samplePeakIterator(rows, peak)
		}

		res, err := generatorFor(ctx, f, rows, genOpts)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("report.%s", res.Extension)
		entries = append(entries, name)
		archiveEntries = append(archiveEntries, reportformat.ArchiveEntry{Name: name, Body: res.Body})
	}

	final := reportformat.Archive(ctx, archiveEntries)
	return &planOutcome{
		Body:        final.Body,
		ContentType: final.ContentType,
		Extension:   final.Extension,
		Entries:     entries,
		ZipStrategy: "multipass",
		RowsIn:      rowsIn,
		RowsOut:     rowsOut,
		PeakBytes:   peak,
	}, nil
}

func (p *Processor) planArchiveSnapshot(ctx context.Context, job *docstore.Job, collection string) (*planOutcome, error) {
	if len(job.IncludeFormats) == 0 {
		return nil, reporterr.New(reporterr.KindArchiveRequiresIncludeFormats, "archive format requires includeFormats")
	}

	rawRows, err := p.openRawCursor(ctx, job.TenantID, collection, job.Filters)
	if err != nil {
		return nil, err
	}

	peak := new(uint64)
	path := snapshot.Path(p.cfg.Worker.SnapshotDir, job.ID.Hex(), p.now().UnixMilli())
	wr, err := snapshot.WriteSnapshot(ctx, samplePeakIterator(rawRows, peak), path, p.cfg.Worker.ReportTmpMaxBytes, p.cfg.Worker.BufferBytes, nil)
	if err != nil {
		return nil, err
	}

	genOpts := reportformat.Options{BufferBytes: p.cfg.Worker.BufferBytes, DocumentMaxRows: p.cfg.Worker.DocumentMaxRows}
	entries := make([]string, 0, len(job.IncludeFormats))
	archiveEntries := make([]reportformat.ArchiveEntry, 0, len(job.IncludeFormats))

	for _, f := range job.IncludeFormats {
		reader, closeFn, err := snapshot.Open(path, p.cfg.Worker.BufferBytes)
		if err != nil {
			_ = snapshot.Remove(path)
			return nil, err
		}
		res, err := generatorFor(ctx, f, autoClose(reader, closeFn), genOpts)
		if err != nil {
			_ = snapshot.Remove(path)
			return nil, err
		}
		name := fmt.Sprintf("report.%s", res.Extension)
		entries = append(entries, name)
		archiveEntries = append(archiveEntries, reportformat.ArchiveEntry{Name: name, Body: res.Body})
	}

	final := reportformat.Archive(ctx, archiveEntries)
	rowsIn, rowsOut := wr.RowCount, wr.RowCount
	return &planOutcome{
		Body:         final.Body,
		ContentType:  final.ContentType,
		Extension:    final.Extension,
		Entries:      entries,
		ZipStrategy:  "snapshot",
		SnapshotPath: path,
		RowsIn:       &rowsIn,
		RowsOut:      &rowsOut,
		PeakBytes:    peak,
	}, nil
}

// openRawCursor opens a sorted cursor bounded at the dataset's current max
// identifier, or an empty iterator if the source has no matching rows.
func (p *Processor) openRawCursor(ctx context.Context, tenantID, collection string, filters map[string]interface{}) (reportformat.RowIterator, error) {
	_, maxHex, ok, err := p.reader.IDBounds(ctx, tenantID, collection, filters)
	if err != nil {
		return nil, err
	}
	return p.openBoundedCursor(ctx, tenantID, collection, filters, maxHex, ok)
}

func (p *Processor) openBoundedCursor(ctx context.Context, tenantID, collection string, filters map[string]interface{}, maxHex string, ok bool) (reportformat.RowIterator, error) {
	if !ok {
		return reportformat.NewSliceIterator(nil), nil
	}
	cursor, err := p.reader.SortedCursor(ctx, tenantID, collection, filters, maxHex, p.cfg.Worker.CursorBatchSize)
	if err != nil {
		return nil, err
	}
	return &closingCursor{cursor: cursor}, nil
}

// generatorFor dispatches to the single-format generator named by format.
// Archive is assembled by the callers above from multiple generatorFor
// results, never dispatched here directly.
func generatorFor(ctx context.Context, format string, rows reportformat.RowIterator, opts reportformat.Options) (reportformat.Result, error) {
	switch format {
	case "delimited":
		return reportformat.Delimited(ctx, rows, opts), nil
	case "structured-object":
		return reportformat.JSONArray(ctx, rows, opts), nil
	case "spreadsheet":
		return reportformat.Spreadsheet(ctx, rows, opts), nil
	case "paginated-document":
		return reportformat.PaginatedDocument(ctx, rows, opts), nil
	default:
		return reportformat.Result{}, fmt.Errorf("jobprocessor: unsupported format %q", format)
	}
}

// wrapSingleEntryArchive wraps a non-archive generator's output as a
// one-entry ZIP, for compression=zip jobs that did not request the archive
// format itself.
func wrapSingleEntryArchive(ctx context.Context, res reportformat.Result) (reportformat.Result, []string) {
	name := fmt.Sprintf("report.%s", res.Extension)
	wrapped := reportformat.Archive(ctx, []reportformat.ArchiveEntry{{Name: name, Body: res.Body}})
	return wrapped, []string{name}
}
