package ioutils

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"math"
	"net"
	"syscall"
	"time"

	"github.com/handiism/pixiv-downloader/internal/http"
)

// ErrIntegrity marks a downloaded file that failed CheckIntegrity.
var ErrIntegrity = errors.New("integrity check failed")

// RetryPolicy describes a capped exponential backoff.
//
// The delay before retry n (0-based) is Cooldown * Exponent^n, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	Cooldown    time.Duration
	Exponent    float64
	MaxDelay    time.Duration
}

// Delay returns the wait before the retry following attempt try.
func (p RetryPolicy) Delay(try int) time.Duration {
	exp := p.Exponent
	if exp < 1 {
		exp = 1
	}
	d := time.Duration(float64(p.Cooldown) * math.Pow(exp, float64(try)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// Retry runs op until it succeeds, returns a non-retryable error, the attempt
// budget runs out, or ctx is done. onRetry, if set, is called before each wait.
func Retry(ctx context.Context, p RetryPolicy, op func() error, onRetry func(attempt int, err error)) error {
	return RetryIf(ctx, p, IsRetryable, op, onRetry)
}

// RetryIf is Retry with a caller supplied classification.
func RetryIf(ctx context.Context, p RetryPolicy, retryable func(error) bool, op func() error, onRetry func(attempt int, err error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for try := 0; try < attempts; try++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = op()
		if err == nil {
			return nil
		}
		if !retryable(err) || try == attempts-1 {
			return err
		}

		if onRetry != nil {
			onRetry(try+1, err)
		}
		if waitErr := wait(ctx, p.Delay(try)); waitErr != nil {
			return err
		}
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRetryable reports whether err belongs to a class of failure that may
// clear on its own.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrIntegrity) {
		return true
	}

	var se *http.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}

	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.EROFS) {
		return false
	}
	if IsTransientFS(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	// Unclassified failures come from the transport; give them the retry budget.
	return true
}

// IsTransientFS reports file system errors caused by contention: locked or
// busy files, permission flaps and descriptor exhaustion.
func IsTransientFS(err error) bool {
	switch {
	case errors.Is(err, fs.ErrPermission),
		errors.Is(err, syscall.EBUSY),
		errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE):
		return true
	}
	return false
}
