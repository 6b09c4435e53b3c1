// Copyright 2025 James Ross
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/flyingrobots/reportgen/internal/config"
)

// filesystemAdapter writes artifacts under a local root directory and signs
// download URLs with an HMAC over key+expiry, for local development and
// integration tests against a real filesystem instead of S3.
type filesystemAdapter struct {
	root      string
	secret    []byte
	signedTTL time.Duration
}

func newFilesystemAdapter(cfg *config.Config) (Adapter, error) {
	root := cfg.Storage.FilesystemRoot
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create filesystem root %q: %w", root, err)
	}
	secret := []byte(cfg.Storage.SecretAccessKey)
	if len(secret) == 0 {
		secret = []byte("reportgen-filesystem-dev-secret")
	}
	return &filesystemAdapter{root: root, secret: secret, signedTTL: cfg.Storage.SignedURLTTL}, nil
}

func (a *filesystemAdapter) Mode() string { return "filesystem" }

func (a *filesystemAdapter) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	path := filepath.Join(a.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: create directory for %q: %w", key, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("storage: create %q: %w", key, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	return nil
}

func (a *filesystemAdapter) SignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = a.signedTTL
	}
	expires := time.Now().Add(ttl).Unix()
	sig := a.sign(key, expires)
	return fmt.Sprintf("file://%s?expires=%d&sig=%s", filepath.ToSlash(filepath.Join(a.root, key)), expires, sig), nil
}

func (a *filesystemAdapter) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'.'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignedURL checks an HMAC produced by SignDownload, rejecting expired
// or tampered signatures. It exists for the intake/admin surface that serves
// local-mode download redirects without going through S3.
func (a *filesystemAdapter) VerifySignedURL(key, sigHex string, expires int64) bool {
	if time.Now().Unix() > expires {
		return false
	}
	expected := a.sign(key, expires)
	return hmac.Equal([]byte(expected), []byte(sigHex))
}
