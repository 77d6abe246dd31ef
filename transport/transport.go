package transport

import (
	"context"
	"net/http"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
)

// ITransport 负责所有与远端存储之间的网络交互
type ITransport interface {
	Name() string
	// InitiateMultipart starts a multipart upload. The returned key replaces
	// target.ObjectKey in every later call on the upload.
	InitiateMultipart(ctx context.Context, target *entity.UploadTarget) (*entity.MultipartUpload, error)
	UploadPart(ctx context.Context, target *entity.UploadTarget, uploadID string, index int, body []byte, digest entity.PartDigest) (*entity.PartResult, error)
	CompleteMultipart(ctx context.Context, target *entity.UploadTarget, uploadID string, parts []entity.PartResult) (*entity.ObjectDescriptor, error)
	AbortMultipart(ctx context.Context, target *entity.UploadTarget, uploadID string) error
	PutSingle(ctx context.Context, target *entity.UploadTarget, body []byte, digest entity.PartDigest) (*entity.ObjectDescriptor, error)
}

// ClassifyStatus maps a non-2xx http status to the error taxonomy.
func ClassifyStatus(op string, code int, msg string) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errs.New(errs.KindAuth, op, "status code:%d, msg:%s", code, msg)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return errs.New(errs.KindServer, op, "status code:%d, msg:%s", code, msg)
	case code >= 400:
		return errs.New(errs.KindClient, op, "status code:%d, msg:%s", code, msg)
	}
	return errs.New(errs.KindServer, op, "unexpected status code:%d, msg:%s", code, msg)
}
