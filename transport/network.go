package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/TraceLTRC/pdrive-cli/errs"
)

// ClassifyNetwork turns a request error that carries no http status into a
// classified error. Caller cancellation is returned untouched.
func ClassifyNetwork(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var classified *errs.Error
	if errors.As(err, &classified) {
		return err
	}
	if IsTransientNetworkError(err) {
		return errs.Wrap(errs.KindServer, op, err)
	}
	return errs.Wrap(errs.KindClient, op, err)
}

func IsTransientNetworkError(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var operr *net.OpError
	if errors.As(err, &operr) {
		return true
	}
	var dnserr *net.DNSError
	if errors.As(err, &dnserr) {
		return dnserr.IsTemporary || dnserr.IsTimeout
	}
	return false
}
