package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// DefaultRetryBufferMaxMemoryBytes controls how large an object is buffered
// in memory to make PUT retries seekable. Larger objects are spooled to a
// temp file.
const DefaultRetryBufferMaxMemoryBytes int64 = 16 << 20 // 16 MiB

type retryableBody struct {
	reader  io.ReadSeeker
	size    int64
	cleanup func() error
}

func (b *retryableBody) Reader() io.ReadSeeker { return b.reader }

// Size is the number of buffered bytes.
func (b *retryableBody) Size() int64 { return b.size }

func (b *retryableBody) Close() error {
	if b.cleanup == nil {
		return nil
	}
	return b.cleanup()
}

func newRetryableBody(ctx context.Context, src io.ReadCloser, size int64, maxMemoryBytes int64) (*retryableBody, error) {
	defer func() { _ = src.Close() }()

	if maxMemoryBytes <= 0 {
		maxMemoryBytes = DefaultRetryBufferMaxMemoryBytes
	}

	// Unknown size is treated as large and spooled.
	if size >= 0 && size <= maxMemoryBytes {
		data, err := io.ReadAll(io.LimitReader(src, size))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != size {
			return nil, fmt.Errorf("short read: got %d of %d bytes", len(data), size)
		}
		return &retryableBody{reader: bytes.NewReader(data), size: size}, nil
	}

	f, err := os.CreateTemp("", "jobsync-put-buffer-*")
	if err != nil {
		return nil, err
	}
	discard := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		discard()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, err
	}

	return &retryableBody{
		reader: f,
		size:   n,
		cleanup: func() error {
			closeErr := f.Close()
			rmErr := os.Remove(f.Name())
			if closeErr != nil {
				return fmt.Errorf("close temp file: %w", closeErr)
			}
			if rmErr != nil {
				return fmt.Errorf("remove temp file: %w", rmErr)
			}
			return nil
		},
	}, nil
}

// ctxReader stops long spools when ctx ends.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
