package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
)

// run executes one CLI invocation against an in-memory catalog whose
// "data" fileset lives in dir.
func run(t *testing.T, dir, stdin string, args ...string) (string, error) {
	t.Helper()
	base := []string{
		"--metadata", "memory",
		"--metalake", "ml",
		"--fileset", "cat.sch.data=file://" + dir,
		"--retries", "1",
		"--log-level", "error",
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(base, args...))
	err := root.Execute()
	return out.String(), err
}

const dataRoot = "gvfs://fileset/cat/sch/data"

func TestPutCatStat(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "hello gvfs", "put", "-", dataRoot+"/greeting.txt")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello gvfs", string(data))

	out, err := run(t, dir, "", "cat", dataRoot+"/greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello gvfs", out)

	out, err = run(t, dir, "", "stat", dataRoot+"/greeting.txt")
	require.NoError(t, err)
	var st types.FileStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, dataRoot+"/greeting.txt", st.Path)
	assert.Equal(t, int64(10), st.Size)
	assert.Equal(t, 1, st.Replication)
	assert.Equal(t, int64(32<<20), st.BlockSize)

	_, err = run(t, dir, "again", "put", "-", dataRoot+"/greeting.txt")
	assert.True(t, vfserrors.IsPermanentBackend(err), "got %v", err)
	_, err = run(t, dir, "again", "put", "-f", "-", dataRoot+"/greeting.txt")
	require.NoError(t, err)
}

func TestPutFromFileAndAppend(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("one"), 0o644))

	_, err := run(t, dir, "", "put", src, dataRoot+"/log.txt")
	require.NoError(t, err)
	_, err = run(t, dir, "two", "append", "-", dataRoot+"/log.txt")
	require.NoError(t, err)

	out, err := run(t, dir, "", "cat", dataRoot+"/log.txt")
	require.NoError(t, err)
	assert.Equal(t, "onetwo", out)
}

func TestMkdirLsMvRm(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "", "mkdir", dataRoot+"/a/b")
	assert.True(t, vfserrors.IsPermanentBackend(err), "got %v", err)
	_, err = run(t, dir, "", "mkdir", "-p", dataRoot+"/a/b")
	require.NoError(t, err)
	_, err = run(t, dir, "x", "put", "-", dataRoot+"/a/file.txt")
	require.NoError(t, err)

	out, err := run(t, dir, "", "ls", dataRoot+"/a")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "d"))
	assert.True(t, strings.HasSuffix(lines[0], dataRoot+"/a/b"))
	assert.True(t, strings.HasSuffix(lines[1], dataRoot+"/a/file.txt"))

	_, err = run(t, dir, "", "mv", dataRoot+"/a/file.txt", dataRoot+"/moved.txt")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "moved.txt"))

	_, err = run(t, dir, "", "rm", dataRoot+"/a")
	assert.True(t, vfserrors.IsPermanentBackend(err), "a still holds b, got %v", err)
	_, err = run(t, dir, "", "rm", "-r", dataRoot+"/a")
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "a"))

	out, err = run(t, dir, "", "rm", dataRoot+"/a")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to delete")
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "x", "put", "-", dataRoot+"/here.txt")
	require.NoError(t, err)

	for path, want := range map[string]string{
		dataRoot:                           "true",
		dataRoot + "/here.txt":             "true",
		dataRoot + "/gone.txt":             "false",
		"gvfs://fileset/cat/sch/missing/x": "false",
	} {
		out, err := run(t, dir, "", "exists", path)
		require.NoError(t, err, path)
		assert.Equal(t, want, strings.TrimSpace(out), path)
	}
}

func TestProviders(t *testing.T) {
	out, err := run(t, t.TempDir(), "", "providers")
	require.NoError(t, err)

	for _, p := range []string{"gcs", "hdfs", "local", "memory", "oss", "s3"} {
		assert.Contains(t, out, p)
	}
	assert.Contains(t, out, "128.0 MB")
}

func TestErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "", "stat", "gvfs://fileset/cat/sch/missing")
	assert.True(t, vfserrors.IsNotFound(err), "got %v", err)

	_, err = run(t, dir, "", "stat", "s3://bucket/key")
	assert.True(t, vfserrors.IsInvalidPath(err), "got %v", err)

	_, err = run(t, dir, "", "--metadata", "ldap", "providers")
	assert.Equal(t, vfserrors.ErrCodeInvalidConfig, vfserrors.CodeOf(err))

	_, err = run(t, dir, "", "--fileset", "broken", "providers")
	assert.Equal(t, vfserrors.ErrCodeInvalidConfig, vfserrors.CodeOf(err))

	_, err = run(t, dir, "", "-D", "fs.gravitino.block.size=lots", "providers")
	assert.Equal(t, vfserrors.ErrCodeInvalidConfig, vfserrors.CodeOf(err))
}

func TestDescribe(t *testing.T) {
	err := vfserrors.NotFound("fileset ml.cat.sch.x")
	assert.Contains(t, describe(err), "Verify the metalake")
	assert.Equal(t, "plain", describe(assertError("plain")))
}

type assertError string

func (e assertError) Error() string { return string(e) }
