// Copyright 2025 James Ross
package jobprocessor

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/reportformat"
)

// closingCursor adapts a docstore.RowCursor to reportformat.RowIterator,
// closing the underlying cursor the moment it is exhausted or errors.
type closingCursor struct {
	cursor docstore.RowCursor
	closed bool
}

func (c *closingCursor) Next(ctx context.Context) (reportformat.Row, bool, error) {
	row, ok, err := c.cursor.Next(ctx)
	if (!ok || err != nil) && !c.closed {
		c.closed = true
		_ = c.cursor.Close(ctx)
	}
	return row, ok, err
}

// autoCloseIterator wraps any RowIterator with a close function invoked once
// the sequence is exhausted or errors, for sources (like a snapshot replay)
// that hold an *os.File open behind the iterator.
type autoCloseIterator struct {
	inner   reportformat.RowIterator
	closeFn func() error
	closed  bool
}

func autoClose(inner reportformat.RowIterator, closeFn func() error) reportformat.RowIterator {
	return &autoCloseIterator{inner: inner, closeFn: closeFn}
}

func (a *autoCloseIterator) Next(ctx context.Context) (reportformat.Row, bool, error) {
	row, ok, err := a.inner.Next(ctx)
	if (!ok || err != nil) && !a.closed {
		a.closed = true
		_ = a.closeFn()
	}
	return row, ok, err
}

// instrumentedIterator counts rows as they stream out (when rowsIn/rowsOut
// are non-nil) and tracks the process's heap high-watermark at each row
// boundary, generalizing the teacher pack's batch-boundary memory sampling
// precedent to a per-row cadence.
type instrumentedIterator struct {
	inner   reportformat.RowIterator
	rowsIn  *int64
	rowsOut *int64
	peak    *uint64
}

// instrument counts every row as both input and output (the raw/archive
// plan modes read one row in and emit exactly one row out).
func instrument(inner reportformat.RowIterator, rowsIn, rowsOut *int64, peak *uint64) reportformat.RowIterator {
	return &instrumentedIterator{inner: inner, rowsIn: rowsIn, rowsOut: rowsOut, peak: peak}
}

// samplePeakIterator only tracks the memory high-watermark, for passes whose
// row counts are already known by other means (a reduce result, or a later
// archive-multipass/snapshot pass that must not double-count rows).
func samplePeakIterator(inner reportformat.RowIterator, peak *uint64) reportformat.RowIterator {
	return &instrumentedIterator{inner: inner, peak: peak}
}

func (it *instrumentedIterator) Next(ctx context.Context) (reportformat.Row, bool, error) {
	row, ok, err := it.inner.Next(ctx)
	if ok {
		if it.rowsIn != nil {
			atomic.AddInt64(it.rowsIn, 1)
		}
		if it.rowsOut != nil {
			atomic.AddInt64(it.rowsOut, 1)
		}
		if it.peak != nil {
			sampleHeapPeak(it.peak)
		}
	}
	return row, ok, err
}

func sampleHeapPeak(peak *uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	for {
		old := atomic.LoadUint64(peak)
		if ms.HeapAlloc <= old {
			return
		}
		if atomic.CompareAndSwapUint64(peak, old, ms.HeapAlloc) {
			return
		}
	}
}
