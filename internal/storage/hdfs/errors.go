package hdfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"strings"
	"syscall"
)

// remoteError matches exceptions relayed from a namenode or datanode.
type remoteError interface {
	error
	Exception() string
}

// Java exceptions a namenode raises while failing over or starting up.
var transientExceptions = []string{
	"StandbyException",
	"RetriableException",
	"SafeModeException",
	"ObserverRetryOnActiveException",
	"LeaseExpiredException",
	"NotReplicatedYetException",
}

// IsTransient reports whether err is namenode failover, safe mode or a
// network failure.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrExist), errors.Is(err, fs.ErrPermission):
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return true
	}

	var re remoteError
	if errors.As(err, &re) {
		exception := re.Exception()
		for _, name := range transientExceptions {
			if strings.HasSuffix(exception, name) {
				return true
			}
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
