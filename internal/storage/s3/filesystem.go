package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objectfs/gvfs/pkg/types"
)

const (
	// DefaultBlockSize is the block size object stores report.
	DefaultBlockSize = 64 << 20

	minPartSize = 5 << 20

	// deleteBatch is the largest key count DeleteObjects accepts.
	deleteBatch = 1000
)

// ErrNotEmpty is returned when a non-recursive delete meets a directory with
// children.
var ErrNotEmpty = errors.New("directory not empty")

// FileSystem serves object store URIs of the form scheme://bucket/key.
// Directories are key prefixes; Mkdir writes a "key/" marker object.
type FileSystem struct {
	cm     *ClientManager
	config *Config
	logger log.Interface
}

// NewFileSystem builds a filesystem over an S3 client made from cfg.
func NewFileSystem(ctx context.Context, cfg *Config, logger log.Interface) (*FileSystem, error) {
	cm, err := NewClientManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return newFileSystem(cm), nil
}

// NewFileSystemWithClient builds a filesystem over an existing API client.
// CargoShip uploads are not available on it.
func NewFileSystemWithClient(api API, cfg *Config, logger log.Interface) *FileSystem {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	return newFileSystem(newClientManager(api, cfg, logger))
}

func newFileSystem(cm *ClientManager) *FileSystem {
	return &FileSystem{cm: cm, config: cm.config, logger: cm.logger}
}

// location is a parsed object URI.
type location struct {
	head   string // scheme://bucket
	bucket string
	key    string
}

func parseLocation(uri string) (location, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return location{}, fmt.Errorf("%s: not an object store URI: %w", uri, fs.ErrInvalid)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return location{}, fmt.Errorf("%s: missing bucket: %w", uri, fs.ErrInvalid)
	}
	return location{
		head:   scheme + "://" + bucket,
		bucket: bucket,
		key:    strings.Trim(key, "/"),
	}, nil
}

func (l location) uri(key string) string {
	key = strings.Trim(key, "/")
	if key == "" {
		return l.head + "/"
	}
	return l.head + "/" + key
}

// dirPrefix is the listing prefix for the children of l.
func (l location) dirPrefix() string {
	if l.key == "" {
		return ""
	}
	return l.key + "/"
}

func (f *FileSystem) api() API {
	return f.cm.GetClient()
}

// Open opens an object for reading.
func (f *FileSystem) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := parseLocation(uri)
	if err != nil {
		return nil, err
	}
	if loc.key == "" {
		return nil, fmt.Errorf("open %s: is a directory: %w", uri, fs.ErrInvalid)
	}

	out, err := f.api().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	})
	if err != nil {
		return nil, translateError(err, "GetObject", uri)
	}
	return out.Body, nil
}

// Create starts an upload. The object becomes visible when the writer is
// closed.
func (f *FileSystem) Create(ctx context.Context, uri string, overwrite bool) (io.WriteCloser, error) {
	loc, err := parseLocation(uri)
	if err != nil {
		return nil, err
	}
	if loc.key == "" {
		return nil, fmt.Errorf("create %s: is a directory: %w", uri, fs.ErrInvalid)
	}

	if !overwrite {
		exists, err := f.objectExists(ctx, loc)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("create %s: %w", uri, fs.ErrExist)
		}
	}

	if t := f.cm.GetTransporter(loc.bucket); t != nil {
		return f.newCargoShipWriter(ctx, t, loc), nil
	}
	return f.newUploadWriter(ctx, loc), nil
}

// Append is not supported by object stores.
func (f *FileSystem) Append(_ context.Context, uri string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("append %s: %w", uri, errors.ErrUnsupported)
}

// Delete removes an object, or with recursive set every object under a
// directory prefix.
func (f *FileSystem) Delete(ctx context.Context, uri string, recursive bool) (bool, error) {
	loc, err := parseLocation(uri)
	if err != nil {
		return false, err
	}

	if loc.key != "" {
		exists, err := f.objectExists(ctx, loc)
		if err != nil {
			return false, err
		}
		if exists {
			_, err := f.api().DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(loc.bucket),
				Key:    aws.String(loc.key),
			})
			if err != nil {
				return false, translateError(err, "DeleteObject", uri)
			}
			return true, nil
		}
	}

	keys, err := f.listKeys(ctx, loc.bucket, loc.dirPrefix())
	if err != nil {
		return false, translateError(err, "ListObjectsV2", uri)
	}
	if len(keys) == 0 {
		return false, nil
	}
	if !recursive && (len(keys) > 1 || keys[0] != loc.dirPrefix()) {
		return false, fmt.Errorf("delete %s: %w", uri, ErrNotEmpty)
	}
	if err := f.deleteKeys(ctx, loc.bucket, keys); err != nil {
		return false, translateError(err, "DeleteObjects", uri)
	}
	return true, nil
}

// Rename copies src to dst and deletes src. A directory is moved object by
// object, so a failure part way leaves both trees partially populated.
// Rename reports false without changes when dst already exists.
func (f *FileSystem) Rename(ctx context.Context, src, dst string) (bool, error) {
	from, err := parseLocation(src)
	if err != nil {
		return false, err
	}
	to, err := parseLocation(dst)
	if err != nil {
		return false, err
	}
	if from.key == "" || to.key == "" {
		return false, fmt.Errorf("rename %s: bucket root: %w", src, fs.ErrInvalid)
	}
	if from.bucket == to.bucket && (to.key == from.key || strings.HasPrefix(to.key, from.key+"/")) {
		return false, fmt.Errorf("rename %s to %s: destination inside source: %w", src, dst, fs.ErrInvalid)
	}

	if _, err := f.Stat(ctx, dst); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	st, err := f.Stat(ctx, src)
	if err != nil {
		return false, err
	}

	if !st.IsDir {
		if err := f.copyObject(ctx, from.bucket, from.key, to.bucket, to.key); err != nil {
			return false, translateError(err, "CopyObject", src)
		}
		if err := f.deleteKeys(ctx, from.bucket, []string{from.key}); err != nil {
			return false, translateError(err, "DeleteObjects", src)
		}
		return true, nil
	}

	keys, err := f.listKeys(ctx, from.bucket, from.dirPrefix())
	if err != nil {
		return false, translateError(err, "ListObjectsV2", src)
	}
	for _, k := range keys {
		target := to.dirPrefix() + strings.TrimPrefix(k, from.dirPrefix())
		if err := f.copyObject(ctx, from.bucket, k, to.bucket, target); err != nil {
			return false, translateError(err, "CopyObject", from.uri(k))
		}
	}
	if err := f.deleteKeys(ctx, from.bucket, keys); err != nil {
		return false, translateError(err, "DeleteObjects", src)
	}
	f.logger.WithFields(log.Fields{
		"src":     src,
		"dst":     dst,
		"objects": len(keys),
	}).Debug("directory renamed")
	return true, nil
}

// List returns the direct children of a directory, or the status of uri
// itself when it names an object.
func (f *FileSystem) List(ctx context.Context, uri string) ([]types.FileStatus, error) {
	loc, err := parseLocation(uri)
	if err != nil {
		return nil, err
	}

	prefix := loc.dirPrefix()
	var entries []types.FileStatus
	p := s3.NewListObjectsV2Paginator(f.api(), &s3.ListObjectsV2Input{
		Bucket:    aws.String(loc.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, translateError(err, "ListObjectsV2", uri)
		}
		for _, cp := range page.CommonPrefixes {
			dir := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			entries = append(entries, types.FileStatus{
				Path:  loc.uri(dir),
				Name:  path.Base(dir),
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			entries = append(entries, f.objectStatus(loc, obj))
		}
	}
	if len(entries) > 0 || loc.key == "" {
		return entries, nil
	}

	st, err := f.Stat(ctx, uri)
	if err != nil {
		return nil, err
	}
	if st.IsDir {
		return nil, nil
	}
	return []types.FileStatus{st}, nil
}

// Stat describes an object, or a directory when objects exist under the
// key prefix.
func (f *FileSystem) Stat(ctx context.Context, uri string) (types.FileStatus, error) {
	loc, err := parseLocation(uri)
	if err != nil {
		return types.FileStatus{}, err
	}
	if loc.key == "" {
		return types.FileStatus{Path: loc.uri(""), Name: "", IsDir: true}, nil
	}

	out, err := f.api().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	})
	switch {
	case err == nil:
		return types.FileStatus{
			Path:        loc.uri(loc.key),
			Name:        path.Base(loc.key),
			Size:        aws.ToInt64(out.ContentLength),
			ModTime:     aws.ToTime(out.LastModified),
			BlockSize:   f.config.BlockSize,
			Replication: 1,
		}, nil
	case !isNotFound(err):
		return types.FileStatus{}, translateError(err, "HeadObject", uri)
	}

	list, err := f.api().ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(loc.bucket),
		Prefix:  aws.String(loc.dirPrefix()),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return types.FileStatus{}, translateError(err, "ListObjectsV2", uri)
	}
	if len(list.Contents) == 0 && len(list.CommonPrefixes) == 0 {
		return types.FileStatus{}, fmt.Errorf("stat %s: %w", uri, fs.ErrNotExist)
	}
	return types.FileStatus{Path: loc.uri(loc.key), Name: path.Base(loc.key), IsDir: true}, nil
}

// Mkdir writes a directory marker. Object stores have no parent directories
// to create, so recursive makes no difference.
func (f *FileSystem) Mkdir(ctx context.Context, uri string, _ bool) (bool, error) {
	loc, err := parseLocation(uri)
	if err != nil {
		return false, err
	}
	if loc.key == "" {
		return true, nil
	}

	exists, err := f.objectExists(ctx, loc)
	if err != nil {
		return false, err
	}
	if exists {
		return false, fmt.Errorf("mkdir %s: file exists: %w", uri, fs.ErrExist)
	}

	_, err = f.api().PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(loc.bucket),
		Key:           aws.String(loc.dirPrefix()),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return false, translateError(err, "PutObject", uri)
	}
	return true, nil
}

// DefaultReplication is always 1; replication is the store's concern.
func (f *FileSystem) DefaultReplication(context.Context, string) (int, error) {
	return 1, nil
}

// DefaultBlockSize returns the configured block size.
func (f *FileSystem) DefaultBlockSize(context.Context, string) (int64, error) {
	return f.config.BlockSize, nil
}

// IsTransient reports whether err is worth retrying.
func (f *FileSystem) IsTransient(err error) bool {
	return IsTransient(err)
}

// Close releases nothing; the SDK client holds no long-lived connections
// that need closing.
func (f *FileSystem) Close() error {
	f.logger.Debug("object store client closed")
	return nil
}

func (f *FileSystem) objectExists(ctx context.Context, loc location) (bool, error) {
	_, err := f.api().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, translateError(err, "HeadObject", loc.uri(loc.key))
	}
}

func (f *FileSystem) objectStatus(loc location, obj s3types.Object) types.FileStatus {
	key := aws.ToString(obj.Key)
	return types.FileStatus{
		Path:        loc.uri(key),
		Name:        path.Base(key),
		Size:        aws.ToInt64(obj.Size),
		ModTime:     aws.ToTime(obj.LastModified),
		BlockSize:   f.config.BlockSize,
		Replication: 1,
	}
}

// listKeys returns every key under prefix, descending into sub prefixes.
func (f *FileSystem) listKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(f.api(), &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (f *FileSystem) deleteKeys(ctx context.Context, bucket string, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		ids := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, s3types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := f.api().DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete %s: %s: %s (%d failed)",
				aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message), len(out.Errors))
		}
	}
	return nil
}

func (f *FileSystem) copyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := f.api().CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(srcBucket, srcKey)),
	})
	return err
}

// copySource renders bucket/key with each key segment URL-escaped.
func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segs, "/")
}
