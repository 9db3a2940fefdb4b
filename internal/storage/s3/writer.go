package s3

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
)

// uploadWriter streams writes through a pipe into the SDK upload manager,
// which switches to a multipart upload once a part fills.
type uploadWriter struct {
	pw     *io.PipeWriter
	uri    string
	done   chan error
	once   sync.Once
	result error
}

func (f *FileSystem) newUploadWriter(ctx context.Context, loc location) *uploadWriter {
	pr, pw := io.Pipe()
	w := &uploadWriter{pw: pw, uri: loc.uri(loc.key), done: make(chan error, 1)}

	uploader := manager.NewUploader(f.api(), func(u *manager.Uploader) {
		u.PartSize = f.config.PartSize
	})
	input := &s3.PutObjectInput{
		Bucket:       aws.String(loc.bucket),
		Key:          aws.String(loc.key),
		Body:         pr,
		StorageClass: ConvertTierToStorageClass(f.config.StorageClass),
	}

	go func() {
		_, err := uploader.Upload(ctx, input)
		// Unblock a writer still feeding a failed upload.
		pr.CloseWithError(uploadFailed(err))
		w.done <- err
	}()
	return w
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *uploadWriter) Close() error {
	w.once.Do(func() {
		_ = w.pw.Close()
		if err := <-w.done; err != nil {
			w.result = translateError(err, "Upload", w.uri)
		}
	})
	return w.result
}

func uploadFailed(err error) error {
	if err == nil {
		return fs.ErrClosed
	}
	return err
}

// cargoShipWriter buffers the object and hands it to the CargoShip
// transporter on Close, falling back to PutObject if that fails.
type cargoShipWriter struct {
	ctx         context.Context
	fs          *FileSystem
	transporter *cargoships3.Transporter
	loc         location
	buf         bytes.Buffer
	closed      bool
}

func (f *FileSystem) newCargoShipWriter(ctx context.Context, t *cargoships3.Transporter, loc location) *cargoShipWriter {
	return &cargoShipWriter{ctx: ctx, fs: f, transporter: t, loc: loc}
}

func (w *cargoShipWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *cargoShipWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	data := w.buf.Bytes()
	logger := w.fs.logger.WithFields(log.Fields{
		"bucket": w.loc.bucket,
		"key":    w.loc.key,
		"size":   len(data),
	})

	archive := cargoships3.Archive{
		Key:          w.loc.key,
		Reader:       bytes.NewReader(data),
		Size:         int64(len(data)),
		StorageClass: ConvertTierToCargoShipStorageClass(w.fs.config.StorageClass),
		Metadata: map[string]string{
			"gvfs-upload": "true",
		},
	}
	start := time.Now()
	result, err := w.transporter.Upload(w.ctx, archive)
	if err == nil {
		logger.WithFields(log.Fields{
			"throughput": result.Throughput,
			"duration":   result.Duration,
		}).Debug("CargoShip optimized upload completed")
		return nil
	}
	logger.WithError(err).WithField("elapsed", time.Since(start)).Warn("CargoShip upload failed, falling back to standard S3")

	_, err = w.fs.api().PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.loc.bucket),
		Key:           aws.String(w.loc.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		StorageClass:  ConvertTierToStorageClass(w.fs.config.StorageClass),
	})
	if err != nil {
		return translateError(err, "PutObject", w.loc.uri(w.loc.key))
	}
	return nil
}

var (
	_ io.WriteCloser = (*uploadWriter)(nil)
	_ io.WriteCloser = (*cargoShipWriter)(nil)
)
