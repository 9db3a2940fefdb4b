package s3

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/http"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/gvfs/pkg/types"
)

func newTestFS(t *testing.T) (*FileSystem, *fakeAPI) {
	t.Helper()
	api := newFakeAPI()
	logger := &log.Logger{Handler: discard.New(), Level: log.DebugLevel}
	return NewFileSystemWithClient(api, nil, logger), api
}

func names(entries []types.FileStatus) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestParseLocation(t *testing.T) {
	loc, err := parseLocation("oss://bucket/fileset/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "oss://bucket", loc.head)
	assert.Equal(t, "bucket", loc.bucket)
	assert.Equal(t, "fileset/a.txt", loc.key)
	assert.Equal(t, "fileset/a.txt/", loc.dirPrefix())

	loc, err = parseLocation("s3a://bucket")
	require.NoError(t, err)
	assert.Equal(t, "", loc.key)
	assert.Equal(t, "", loc.dirPrefix())
	assert.Equal(t, "s3a://bucket/", loc.uri(""))

	for _, bad := range []string{"/no/scheme", "s3a:///key"} {
		_, err := parseLocation(bad)
		assert.ErrorIs(t, err, fs.ErrInvalid, bad)
	}
}

func TestCreateThenOpen(t *testing.T) {
	fsys, api := newTestFS(t)
	ctx := context.Background()

	w, err := fsys.Create(ctx, "s3a://bucket/fs/a.txt", true)
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello ")
	require.NoError(t, err)
	_, err = io.WriteString(w, "world")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	got, ok := api.get("bucket", "fs/a.txt")
	require.True(t, ok)
	assert.Equal(t, "hello world", got)

	r, err := fsys.Open(ctx, "s3a://bucket/fs/a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello world", string(data))
}

func TestCreateWithoutOverwrite(t *testing.T) {
	fsys, api := newTestFS(t)
	api.put("bucket", "fs/a.txt", "old")

	_, err := fsys.Create(context.Background(), "s3a://bucket/fs/a.txt", false)
	assert.ErrorIs(t, err, fs.ErrExist)

	got, _ := api.get("bucket", "fs/a.txt")
	assert.Equal(t, "old", got)
}

func TestOpenMissing(t *testing.T) {
	fsys, _ := newTestFS(t)

	_, err := fsys.Open(context.Background(), "oss://bucket/fs/missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, IsTransient(err))

	var nsk *s3types.NoSuchKey
	assert.ErrorAs(t, err, &nsk, "SDK error stays in the chain")
}

func TestAppendUnsupported(t *testing.T) {
	fsys, _ := newTestFS(t)

	_, err := fsys.Append(context.Background(), "oss://bucket/fs/a.txt")
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestStat(t *testing.T) {
	fsys, api := newTestFS(t)
	ctx := context.Background()
	api.put("bucket", "fs/a.txt", "12345")
	api.put("bucket", "fs/dir/b.txt", "x")

	st, err := fsys.Stat(ctx, "s3a://bucket/fs/a.txt")
	require.NoError(t, err)
	assert.False(t, st.IsDir)
	assert.Equal(t, int64(5), st.Size)
	assert.Equal(t, "a.txt", st.Name)
	assert.Equal(t, 1, st.Replication)
	assert.Equal(t, int64(DefaultBlockSize), st.BlockSize)

	st, err = fsys.Stat(ctx, "s3a://bucket/fs/dir")
	require.NoError(t, err)
	assert.True(t, st.IsDir)
	assert.Equal(t, "s3a://bucket/fs/dir", st.Path)

	_, err = fsys.Stat(ctx, "s3a://bucket/fs/nope")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestList(t *testing.T) {
	fsys, api := newTestFS(t)
	ctx := context.Background()
	api.put("bucket", "fs/", "")
	api.put("bucket", "fs/a.txt", "a")
	api.put("bucket", "fs/dir/b.txt", "b")
	api.put("bucket", "fs/dir/sub/c.txt", "c")
	api.put("bucket", "other/d.txt", "d")

	entries, err := fsys.List(ctx, "s3a://bucket/fs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "dir"}, names(entries))
	for _, e := range entries {
		switch e.Name {
		case "dir":
			assert.True(t, e.IsDir)
			assert.Equal(t, "s3a://bucket/fs/dir", e.Path)
		case "a.txt":
			assert.Equal(t, "s3a://bucket/fs/a.txt", e.Path)
		}
	}

	entries, err = fsys.List(ctx, "s3a://bucket/fs/a.txt")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)

	_, err = fsys.List(ctx, "s3a://bucket/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMkdirListsEmpty(t *testing.T) {
	fsys, api := newTestFS(t)
	ctx := context.Background()

	ok, err := fsys.Mkdir(ctx, "gs://bucket/fs/new", true)
	require.NoError(t, err)
	assert.True(t, ok)
	_, exists := api.get("bucket", "fs/new/")
	assert.True(t, exists)

	entries, err := fsys.List(ctx, "gs://bucket/fs/new")
	require.NoError(t, err)
	assert.Empty(t, entries)

	api.put("bucket", "fs/file", "x")
	_, err = fsys.Mkdir(ctx, "gs://bucket/fs/file", false)
	assert.ErrorIs(t, err, fs.ErrExist)
}

func TestDelete(t *testing.T) {
	fsys, api := newTestFS(t)
	ctx := context.Background()
	api.put("bucket", "fs/a.txt", "a")
	api.put("bucket", "fs/dir/b.txt", "b")
	api.put("bucket", "fs/dir/sub/c.txt", "c")
	api.put("bucket", "fs/empty/", "")

	ok, err := fsys.Delete(ctx, "s3a://bucket/fs/a.txt", false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fsys.Delete(ctx, "s3a://bucket/fs/missing", true)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fsys.Delete(ctx, "s3a://bucket/fs/dir", false)
	assert.ErrorIs(t, err, ErrNotEmpty)

	ok, err = fsys.Delete(ctx, "s3a://bucket/fs/empty", false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fsys.Delete(ctx, "s3a://bucket/fs/dir", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, api.keys("bucket"))
}

func TestRename(t *testing.T) {
	fsys, api := newTestFS(t)
	ctx := context.Background()
	api.put("bucket", "fs/a.txt", "a")
	api.put("bucket", "fs/dir/b c.txt", "b")
	api.put("bucket", "fs/dir/sub/c.txt", "c")
	api.put("bucket", "fs/taken", "t")

	ok, err := fsys.Rename(ctx, "s3a://bucket/fs/a.txt", "s3a://bucket/fs/renamed.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fsys.Rename(ctx, "s3a://bucket/fs/dir", "s3a://bucket/fs/moved")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fsys.Rename(ctx, "s3a://bucket/fs/renamed.txt", "s3a://bucket/fs/taken")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fsys.Rename(ctx, "s3a://bucket/fs/moved", "s3a://bucket/fs/moved/inner")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	_, err = fsys.Rename(ctx, "s3a://bucket/fs/ghost", "s3a://bucket/fs/ghost2")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.Equal(t, []string{
		"fs/moved/b c.txt",
		"fs/moved/sub/c.txt",
		"fs/renamed.txt",
		"fs/taken",
	}, api.keys("bucket"))
}

func TestDefaults(t *testing.T) {
	fsys := NewFileSystemWithClient(newFakeAPI(), &Config{Region: "r", BlockSize: 1 << 20, PartSize: minPartSize}, nil)

	n, err := fsys.DefaultReplication(context.Background(), "oss://b/k")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bs, err := fsys.DefaultBlockSize(context.Background(), "oss://b/k")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), bs)
}

func TestIsTransient(t *testing.T) {
	status := func(code int) error {
		return &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
			Err:      errors.New("response error"),
		}
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, true},
		{"internal error", &smithy.GenericAPIError{Code: "InternalError"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"503", status(503), true},
		{"429", status(429), true},
		{"404", status(404), false},
		{"no such key", translateError(&s3types.NoSuchKey{}, "GetObject", "s3a://b/k"), false},
		{"forbidden", translateError(status(403), "GetObject", "s3a://b/k"), false},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTranslateErrorPermission(t *testing.T) {
	err := translateError(&smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: 403}},
		Err:      errors.New("denied"),
	}, "HeadObject", "s3a://b/k")
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.Contains(t, err.Error(), "s3a://b/k")
}

func TestCopySource(t *testing.T) {
	assert.Equal(t, "bucket/dir/a%20b.txt", copySource("bucket", "dir/a b.txt"))
	assert.Equal(t, "bucket/a%3Fb", copySource("bucket", "a?b"))
}
