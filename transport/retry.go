package transport

import (
	"context"
	"time"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type retryTransport struct {
	impl    ITransport
	backoff Backoff
	sleep   func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps impl so that retryable failures (server errors, network
// timeouts) are repeated with exponential backoff. Other errors pass through.
func WithRetry(impl ITransport, b Backoff) ITransport {
	return &retryTransport{impl: impl, backoff: b, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.C:
		return nil
	}
}

func (r *retryTransport) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	st := retryState{}
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errs.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		var ok bool
		st, ok = r.backoff.next(st)
		if !ok {
			logutil.GetLogger(ctx).Error("retry budget exhausted", zap.String("op", op), zap.Int("attempt", st.attempt+1), zap.Error(err))
			return err
		}
		logutil.GetLogger(ctx).Debug("call failed, wait retry", zap.String("op", op), zap.Int("attempt", st.attempt), zap.Duration("delay", st.nextDelay), zap.Error(err))
		if serr := r.sleep(ctx, st.nextDelay); serr != nil {
			return err
		}
	}
}

func (r *retryTransport) Name() string {
	return r.impl.Name()
}

func (r *retryTransport) InitiateMultipart(ctx context.Context, target *entity.UploadTarget) (*entity.MultipartUpload, error) {
	var rs *entity.MultipartUpload
	err := r.do(ctx, "initiate_multipart", func(ctx context.Context) error {
		var err error
		rs, err = r.impl.InitiateMultipart(ctx, target)
		return err
	})
	return rs, err
}

func (r *retryTransport) UploadPart(ctx context.Context, target *entity.UploadTarget, uploadID string, index int, body []byte, digest entity.PartDigest) (*entity.PartResult, error) {
	var rs *entity.PartResult
	err := r.do(ctx, "upload_part", func(ctx context.Context) error {
		var err error
		rs, err = r.impl.UploadPart(ctx, target, uploadID, index, body, digest)
		return err
	})
	return rs, err
}

func (r *retryTransport) CompleteMultipart(ctx context.Context, target *entity.UploadTarget, uploadID string, parts []entity.PartResult) (*entity.ObjectDescriptor, error) {
	var rs *entity.ObjectDescriptor
	err := r.do(ctx, "complete_multipart", func(ctx context.Context) error {
		var err error
		rs, err = r.impl.CompleteMultipart(ctx, target, uploadID, parts)
		return err
	})
	return rs, err
}

func (r *retryTransport) AbortMultipart(ctx context.Context, target *entity.UploadTarget, uploadID string) error {
	return r.do(ctx, "abort_multipart", func(ctx context.Context) error {
		return r.impl.AbortMultipart(ctx, target, uploadID)
	})
}

func (r *retryTransport) PutSingle(ctx context.Context, target *entity.UploadTarget, body []byte, digest entity.PartDigest) (*entity.ObjectDescriptor, error) {
	var rs *entity.ObjectDescriptor
	err := r.do(ctx, "put_single", func(ctx context.Context) error {
		var err error
		rs, err = r.impl.PutSingle(ctx, target, body, digest)
		return err
	})
	return rs, err
}
