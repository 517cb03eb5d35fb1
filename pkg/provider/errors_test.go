package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"missing object", &ProviderError{Op: "Head", Provider: ProviderS3, Bucket: "b", Key: "k", Err: ErrNotFound}, ClassNotFound},
		{"missing bucket", fmt.Errorf("list: %w", ErrBucketNotFound), ClassNotFound},
		{"denied", &ProviderError{Op: "PutObject", Provider: ProviderFile, Bucket: "/srv", Err: ErrAccessDenied}, ClassDenied},
		{"bad credentials", ErrInvalidCredentials, ClassDenied},
		{"throttled", ErrThrottled, ClassThrottled},
		{"unavailable", ErrProviderUnavailable, ClassUnavailable},
		{"unmapped provider failure", &ProviderError{Op: "GetObject", Provider: ProviderS3, Err: errors.New("reset by peer")}, ClassOther},
		{"not a storage error", context.Canceled, ClassNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClass_Retryable(t *testing.T) {
	assert.True(t, ClassThrottled.Retryable())
	assert.True(t, ClassUnavailable.Retryable())
	assert.False(t, ClassDenied.Retryable())
	assert.False(t, ClassNotFound.Retryable())
	assert.False(t, ClassNone.Retryable())
}

func TestProviderError_Location(t *testing.T) {
	fileErr := &ProviderError{Op: "DeleteObject", Provider: ProviderFile, Bucket: "/srv/spaces", Key: "alice_1/out.txt", Err: ErrAccessDenied}
	assert.Equal(t, "file:///srv/spaces/alice_1/out.txt", fileErr.Location())
	assert.Equal(t, "file DeleteObject file:///srv/spaces/alice_1/out.txt: access denied", fileErr.Error())

	assert.Empty(t, (&ProviderError{Op: "New", Provider: ProviderS3}).Location())
	assert.True(t, IsDenied(fileErr))
	assert.False(t, IsDenied(ErrNotFound))
}
