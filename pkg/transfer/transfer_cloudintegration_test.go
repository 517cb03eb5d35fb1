//go:build cloudintegration

package transfer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobsync/pkg/match"
	"github.com/3leaps/jobsync/pkg/provider/file"
	"github.com/3leaps/jobsync/pkg/provider/s3"
	"github.com/3leaps/jobsync/pkg/transfer"
	"github.com/3leaps/jobsync/test/cloudtest"
)

func TestCopyTree_LocalToS3AndBack(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()
	bucket := cloudtest.CreateBucket(t, ctx)

	remote, err := s3.New(ctx, s3.Config{Bucket: bucket, Endpoint: cloudtest.Endpoint, Region: cloudtest.Region, AccessKeyID: cloudtest.TestAccessKeyID, SecretAccessKey: cloudtest.TestSecretAccessKey, ForcePathStyle: true})
	require.NoError(t, err)
	defer remote.Close()

	inDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "input.csv"), []byte("1,2,3"), 0o644))
	local, err := file.New(file.Config{BaseDir: inDir})
	require.NoError(t, err)

	all, err := match.Selectors(nil)
	require.NoError(t, err)

	sum, err := transfer.CopyTree(ctx, local, "", remote, "user_1/input", all, transfer.TreeOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.ObjectsTransferred)
	assert.Equal(t, []byte("1,2,3"), cloudtest.GetObject(t, ctx, bucket, "user_1/input/input.csv"))

	outDir := t.TempDir()
	back, err := file.New(file.Config{BaseDir: outDir})
	require.NoError(t, err)
	_, err = transfer.CopyTree(ctx, remote, "user_1/input", back, "", all, transfer.TreeOptions{})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(outDir, "input.csv"))
	require.NoError(t, err)
	assert.Equal(t, "1,2,3", string(got))
}
