// Copyright 2025 James Ross
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// noopAdapter discards uploaded bytes and issues a placeholder URL. It backs
// storage.mode=noop, used when storage.policy=optional and external storage
// is disabled (cfg.Storage.EnableExternal=false) so a job can still reach a
// terminal uploaded state in environments without object storage configured.
type noopAdapter struct{}

func newNoopAdapter() Adapter { return noopAdapter{} }

func (noopAdapter) Mode() string { return "noop" }

func (noopAdapter) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := io.Copy(io.Discard, body)
	return err
}

func (noopAdapter) SignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("noop://%s?ttl=%s", key, ttl), nil
}
