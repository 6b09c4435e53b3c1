// Copyright 2025 James Ross
package reportformat

import (
	"archive/zip"
	"context"
	"io"

	kflate "github.com/klauspost/compress/flate"
)

// ArchiveEntry is one named member of an archive, streamed in emission order.
type ArchiveEntry struct {
	Name string
	Body io.Reader
}

// Archive concatenates ordered entries into a ZIP archive at deflate level
// 9, streaming each entry's bytes as they arrive. An error reading any entry
// propagates and destroys the archive output.
func Archive(ctx context.Context, entries []ArchiveEntry) Result {
	return pipeResult("application/zip", "zip", func(w io.Writer) error {
		zw := zip.NewWriter(w)
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return kflate.NewWriter(out, kflate.BestCompression)
		})

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
			if err != nil {
				return err
			}
			if _, err := io.Copy(fw, e.Body); err != nil {
				return err
			}
			if rc, ok := e.Body.(io.Closer); ok {
				_ = rc.Close()
			}
		}
		return zw.Close()
	})
}
