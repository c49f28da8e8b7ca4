// SPDX-License-Identifier: MIT
package capture

import "context"

// Source delivers mono PCM frames to the producer loop.
type Source interface {
	// ReadFrame fills buf and returns the number of samples written. It
	// blocks for at most the configured read timeout; (0, nil) means no data
	// arrived. Errors wrap ErrTransientRead or ErrSourceClosed.
	ReadFrame(buf []int16) (int, error)

	// Release stops the underlying device. It is idempotent and safe to call
	// while another goroutine is inside ReadFrame, which then returns
	// ErrSourceClosed.
	Release() error
}

// Acquirer opens a Source for cfg. Failures wrap ErrUnsupported,
// ErrPermissionDenied or ErrInitFailed.
type Acquirer func(ctx context.Context, cfg Config) (Source, error)
