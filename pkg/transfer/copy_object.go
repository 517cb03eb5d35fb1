package transfer

import (
	"context"
	"fmt"

	"github.com/3leaps/jobsync/pkg/provider"
)

// CopyObject streams a single object from srcKey to dstKey.
//
// expectedSize is optional; when > 0 it is compared against the content length
// reported by GetObject to detect stale listings.
func CopyObject(ctx context.Context, src, dst provider.Provider, srcKey, dstKey string, expectedSize, retryBufferMaxMemoryBytes int64) (int64, error) {
	getter, ok := src.(provider.ObjectGetter)
	if !ok {
		return 0, fmt.Errorf("source provider does not support GetObject")
	}
	putter, ok := dst.(provider.ObjectPutter)
	if !ok {
		return 0, fmt.Errorf("target provider does not support PutObject")
	}

	body, gotSize, err := getter.GetObject(ctx, srcKey)
	if err != nil {
		return 0, err
	}
	if expectedSize > 0 && gotSize >= 0 && expectedSize != gotSize {
		_ = body.Close()
		return 0, &SizeMismatchError{Key: srcKey, Expected: expectedSize, Got: gotSize}
	}

	// The S3 SDK retries PUTs and needs a seekable body.
	retryBody, err := newRetryableBody(ctx, body, gotSize, retryBufferMaxMemoryBytes)
	if err != nil {
		return 0, err
	}
	defer func() { _ = retryBody.Close() }()

	if err := putter.PutObject(ctx, dstKey, retryBody.Reader(), retryBody.Size()); err != nil {
		return 0, err
	}
	return retryBody.Size(), nil
}
