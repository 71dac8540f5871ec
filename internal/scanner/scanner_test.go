package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestScan_FiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello")
	writeFile(t, filepath.Join(dir, "b.md"), "# hi")
	writeFile(t, filepath.Join(dir, "c.bin"), "\x00\x01")

	res, err := Scan(dir, Options{AllowedExtensions: DefaultExtensions}, nil)
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "a.txt", filepath.Base(res.Files[0].Path))
	assert.Equal(t, "b.md", filepath.Base(res.Files[1].Path))
}

func TestScan_OrdersDepthFirstByNameAscending(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	writeFile(t, filepath.Join(dir, "a", "z.txt"), "z")
	writeFile(t, filepath.Join(dir, "a", "a.txt"), "a")

	res, err := Scan(dir, Options{Recursive: true, AllowedExtensions: DefaultExtensions}, nil)
	require.NoError(t, err)
	require.Len(t, res.Files, 3)
	assert.Equal(t, filepath.Join(dir, "a", "a.txt"), res.Files[0].Path)
	assert.Equal(t, filepath.Join(dir, "a", "z.txt"), res.Files[1].Path)
	assert.Equal(t, filepath.Join(dir, "b.txt"), res.Files[2].Path)
}

func TestScan_NonRecursiveSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.txt"), "top")
	writeFile(t, filepath.Join(dir, "sub", "nested.txt"), "nested")

	res, err := Scan(dir, Options{Recursive: false, AllowedExtensions: DefaultExtensions}, nil)
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, filepath.Join(dir, "top.txt"), res.Files[0].Path)
}

func TestScan_FiltersBySize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "small.txt"), "tiny")
	writeFile(t, filepath.Join(dir, "big.txt"), "this file is definitely bigger than the limit")

	res, err := Scan(dir, Options{AllowedExtensions: DefaultExtensions, MaxFileSize: 10}, nil)
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "small.txt", filepath.Base(res.Files[0].Path))
}

func TestScan_UnreadableEntryIsWarnedNotAborted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ok.txt"), "fine")
	unreadable := filepath.Join(dir, "locked.txt")
	writeFile(t, unreadable, "secret")
	require.NoError(t, os.Chmod(unreadable, 0o000))
	defer os.Chmod(unreadable, 0o644)

	res, err := Scan(dir, Options{AllowedExtensions: DefaultExtensions}, nil)
	require.NoError(t, err)
	var names []string
	for _, f := range res.Files {
		names = append(names, filepath.Base(f.Path))
	}
	assert.Contains(t, names, "ok.txt")
}

func TestScan_MissingDirectoryIsDirectoryUnavailable(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "does-not-exist"), Options{}, nil)
	require.Error(t, err)
}

func TestScan_ComputesHashAndPopulatesBloom(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "same content")
	writeFile(t, filepath.Join(dir, "b.txt"), "same content")

	res, err := Scan(dir, Options{AllowedExtensions: DefaultExtensions, ComputeHash: true}, nil)
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.NotEmpty(t, res.Files[0].ContentHash)
	assert.Equal(t, res.Files[0].ContentHash, res.Files[1].ContentHash)
	require.NotNil(t, res.HashBloom)
	assert.True(t, res.HashBloom.TestString(res.Files[0].ContentHash))
	assert.False(t, res.HashBloom.TestString("not-a-real-hash-in-this-round"))
}

func TestScan_EmitsProgress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.txt"), "b")

	progress := make(chan Progress, 8)
	res, err := Scan(dir, Options{AllowedExtensions: DefaultExtensions}, progress)
	require.NoError(t, err)
	close(progress)

	var last Progress
	for p := range progress {
		last = p
	}
	assert.Equal(t, len(res.Files), last.FilesAccepted)
}

func TestScan_ExcludeGlobFiltersMatchingPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.txt"), "keep")
	writeFile(t, filepath.Join(dir, "draft.txt"), "draft")

	res, err := Scan(dir, Options{AllowedExtensions: DefaultExtensions, ExcludeGlobs: []string{"draft*"}}, nil)
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "keep.txt", filepath.Base(res.Files[0].Path))
}
