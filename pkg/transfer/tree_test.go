package transfer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobsync/pkg/match"
	"github.com/3leaps/jobsync/pkg/provider"
	"github.com/3leaps/jobsync/pkg/provider/file"
)

func newFileProvider(t *testing.T) (*file.Provider, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := file.New(file.Config{BaseDir: dir})
	require.NoError(t, err)
	return p, dir
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	require.NoError(t, filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		out = append(out, filepath.ToSlash(rel))
		return nil
	}))
	sort.Strings(out)
	return out
}

func TestCopyTree_SelectsRelativeToPrefix(t *testing.T) {
	ctx := context.Background()
	src, srcDir := newFileProvider(t)
	dst, dstDir := newFileProvider(t)

	writeFiles(t, srcDir, map[string]string{
		"space/42/result.txt":    "r",
		"space/42/logs/run.log":  "l",
		"space/42/scratch.tmp":   "t",
		"space/43/other.txt":     "o",
		"elsewhere/result.txt":   "x",
		"space/42/.cache/ignore": "h",
	})

	m, err := match.Selectors([]string{"*.txt", "logs/**"})
	require.NoError(t, err)

	sum, err := CopyTree(ctx, src, "space/42", dst, "local", m, TreeOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.ObjectsTransferred)
	assert.Equal(t, int64(2), sum.BytesTransferred)
	assert.Equal(t, []string{"local/logs/run.log", "local/result.txt"}, listFiles(t, dstDir))
}

func TestCopyTree_AllWhenNoSelectors(t *testing.T) {
	ctx := context.Background()
	src, srcDir := newFileProvider(t)
	dst, dstDir := newFileProvider(t)
	writeFiles(t, srcDir, map[string]string{"a.txt": "a", "sub/b.bin": "bb"})

	m, err := match.Selectors(nil)
	require.NoError(t, err)

	sum, err := CopyTree(ctx, src, "", dst, "/", m, TreeOptions{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.ObjectsMatched)
	assert.Equal(t, int64(3), sum.BytesTransferred)
	assert.Equal(t, []string{"a.txt", "sub/b.bin"}, listFiles(t, dstDir))
}

func TestCopyTree_EmptySourceIsNotAnError(t *testing.T) {
	src, _ := newFileProvider(t)
	dst, _ := newFileProvider(t)
	m, err := match.Selectors([]string{"**"})
	require.NoError(t, err)

	sum, err := CopyTree(context.Background(), src, "missing", dst, "out", m, TreeOptions{})
	require.NoError(t, err)
	assert.Zero(t, sum.ObjectsListed)
}

type listOnly struct{ provider.Provider }

func TestCopyTree_TargetWithoutPut(t *testing.T) {
	src, srcDir := newFileProvider(t)
	dst, _ := newFileProvider(t)
	writeFiles(t, srcDir, map[string]string{"a.txt": "a"})
	m, err := match.Selectors(nil)
	require.NoError(t, err)

	_, err = CopyTree(context.Background(), src, "", listOnly{dst}, "", m, TreeOptions{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "PutObject"))
}

func TestDirPrefix(t *testing.T) {
	assert.Equal(t, "", dirPrefix(""))
	assert.Equal(t, "", dirPrefix("/"))
	assert.Equal(t, "a/b/", dirPrefix("/a/b"))
	assert.Equal(t, "a/b/", dirPrefix("a//b/"))
}
