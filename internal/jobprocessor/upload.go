// Copyright 2025 James Ross
package jobprocessor

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// countingHashReader tees every byte read from the wrapped generator output
// through a running SHA-256 digest and a byte counter, so the final size and
// checksum are known only once the upload has fully drained the stream,
// never upfront.
type countingHashReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func newCountingHashReader(r io.Reader) *countingHashReader {
	return &countingHashReader{r: r, h: sha256.New()}
}

func (c *countingHashReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.h.Write(p[:n])
		c.n += int64(n)
	}
	return n, err
}

func (c *countingHashReader) size() int64 { return c.n }

func (c *countingHashReader) checksum() string { return hex.EncodeToString(c.h.Sum(nil)) }
