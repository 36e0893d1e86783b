package ioutils

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// Transport fetches a URL into a local file.
type Transport interface {
	DownloadFile(ctx context.Context, url, destPath string, onProgress func(written, total int64)) error
}

// PartSuffix is appended to a destination path while its transfer is in flight.
const PartSuffix = ".part"

// Operator performs verified downloads and file system primitives that
// tolerate transient contention.
type Operator struct {
	transport Transport
	download  RetryPolicy
	fs        RetryPolicy
	logger    *slog.Logger

	rename func(oldpath, newpath string) error
}

// NewOperator creates an Operator. download governs whole-transfer retries,
// fsPolicy governs individual file system calls.
func NewOperator(transport Transport, download, fsPolicy RetryPolicy, logger *slog.Logger) *Operator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operator{
		transport: transport,
		download:  download,
		fs:        fsPolicy,
		logger:    logger,
		rename:    os.Rename,
	}
}

// Download fetches url into dest.
//
// The body is streamed into dest+".part", checked with CheckIntegrity and then
// renamed onto dest. Failed or rejected attempts delete the part file before
// the next attempt. ctx is checked before every attempt and aborts an
// in-flight transfer.
func (o *Operator) Download(ctx context.Context, url, dest string, onProgress func(written, total int64)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !o.EnsureDir(ctx, filepath.Dir(dest)) {
		return fmt.Errorf("create directory for %s", dest)
	}

	part := dest + PartSuffix
	attempt := func() error {
		if err := o.transport.DownloadFile(ctx, url, part, onProgress); err != nil {
			o.SafeDelete(context.WithoutCancel(ctx), part)
			return err
		}

		if res := CheckIntegrity(part, url); !res.Valid {
			o.SafeDelete(context.WithoutCancel(ctx), part)
			return fmt.Errorf("%w: %s", ErrIntegrity, res.Reason)
		}

		return o.Move(ctx, part, dest)
	}

	return Retry(ctx, o.download, attempt, func(n int, err error) {
		o.logger.Warn("retrying download", "url", url, "attempt", n, "max", o.download.MaxAttempts, "error", err)
	})
}

// CheckIntegrity validates path against the format its source URL implies.
func (o *Operator) CheckIntegrity(path, sourceURL string) IntegrityResult {
	return CheckIntegrity(path, sourceURL)
}

// EnsureDir creates path and its parents, retrying transient failures.
func (o *Operator) EnsureDir(ctx context.Context, path string) bool {
	err := o.fsRetry(ctx, "mkdir", path, func() error {
		return EnsureDir(path)
	})
	return err == nil
}

// SafeDelete removes a single file. A missing file counts as deleted.
func (o *Operator) SafeDelete(ctx context.Context, path string) bool {
	err := o.fsRetry(ctx, "delete", path, func() error {
		err := os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	})
	return err == nil
}

// RemoveAll removes path and everything below it.
func (o *Operator) RemoveAll(ctx context.Context, path string) error {
	return o.fsRetry(ctx, "remove", path, func() error {
		return os.RemoveAll(path)
	})
}

// Move renames src onto dst, copying when they live on different devices.
func (o *Operator) Move(ctx context.Context, src, dst string) error {
	return o.fsRetry(ctx, "move", src, func() error {
		err := o.rename(src, dst)
		if errors.Is(err, syscall.EXDEV) {
			if err := CopyFile(ctx, src, dst); err != nil {
				return err
			}
			return os.Remove(src)
		}
		return err
	})
}

func (o *Operator) fsRetry(ctx context.Context, op, path string, fn func() error) error {
	err := RetryIf(ctx, o.fs, IsTransientFS, fn, func(n int, err error) {
		o.logger.Debug("retrying file operation", "op", op, "path", path, "attempt", n, "error", err)
	})
	if err != nil {
		o.logger.Warn("file operation failed", "op", op, "path", path, "error", err)
	}
	return err
}
