package dataspace

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func tree(t *testing.T, root string) []string {
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

func TestClient_CreateAndDeleteFolder(t *testing.T) {
	ctx := context.Background()
	c := NewClient(Config{})
	defer c.Close()

	space := t.TempDir()
	folder, err := Join("file://"+space, "user_1")
	require.NoError(t, err)

	require.NoError(t, c.CreateFolder(ctx, folder))
	st, err := os.Stat(filepath.Join(space, "user_1"))
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	writeTree(t, filepath.Join(space, "user_1"), map[string]string{"a.txt": "a", "sub/b.txt": "b"})
	require.NoError(t, c.DeleteFolder(ctx, folder))
	_, err = os.Stat(filepath.Join(space, "user_1"))
	assert.True(t, os.IsNotExist(err))

	// The enclosing space survives.
	_, err = os.Stat(space)
	assert.NoError(t, err)
}

func TestClient_UploadThenDownload(t *testing.T) {
	ctx := context.Background()
	c := NewClient(Config{Concurrency: 2})
	defer c.Close()

	in := t.TempDir()
	writeTree(t, in, map[string]string{
		"data.csv":        "1,2",
		"nested/more.csv": "3,4",
		"notes.md":        "skip",
	})

	space := t.TempDir()
	remote := "file://" + filepath.ToSlash(space) + "/job"

	n, err := c.Upload(ctx, in, remote, []string{"**/*.csv", "*.csv"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"job/data.csv", "job/nested/more.csv"}, tree(t, space))

	out := filepath.Join(t.TempDir(), "out")
	n, err = c.Download(ctx, remote, nil, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"data.csv", "nested/more.csv"}, tree(t, out))

	got, err := os.ReadFile(filepath.Join(out, "nested", "more.csv"))
	require.NoError(t, err)
	assert.Equal(t, "3,4", string(got))
}

func TestClient_DownloadEmptySpace(t *testing.T) {
	c := NewClient(Config{})
	out := filepath.Join(t.TempDir(), "out")

	n, err := c.Download(context.Background(), "file://"+filepath.ToSlash(t.TempDir()), []string{"*.txt"}, out)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, err := os.Stat(out)
	require.NoError(t, err, "download creates the local folder")
	assert.True(t, st.IsDir())
}

func TestClient_UploadMissingLocalFolder(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "missing"), "file:///tmp/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClient_InvalidURL(t *testing.T) {
	c := NewClient(Config{})
	assert.ErrorIs(t, c.CreateFolder(context.Background(), "gs://bucket/x"), ErrUnsupportedScheme)
	_, err := c.Download(context.Background(), "not a url", nil, t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestClient_ExcludesApplyToBothDirections(t *testing.T) {
	ctx := context.Background()
	c := NewClient(Config{Excludes: []string{"**/*.tmp"}})
	defer c.Close()

	in := t.TempDir()
	writeTree(t, in, map[string]string{"keep.txt": "k", "scratch.tmp": "s", "sub/x.tmp": "x"})
	space := t.TempDir()
	remote := "file://" + filepath.ToSlash(space)

	n, err := c.Upload(ctx, in, remote, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"keep.txt"}, tree(t, space))

	writeTree(t, space, map[string]string{"late.tmp": "l"})
	out := t.TempDir()
	n, err = c.Download(ctx, remote, nil, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"keep.txt"}, tree(t, out))
}
