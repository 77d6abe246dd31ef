package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/hasher"
	"github.com/TraceLTRC/pdrive-cli/transport"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

const (
	defaultRegion  = "us-east-1"
	defaultTimeout = 10 * time.Minute
)

type s3Transport struct {
	c      *config
	client *s3.Client
}

// New builds an s3 multipart transport. Endpoint and token are taken from the
// upload target of every call, requests are authorized with a bearer token
// instead of sigv4.
func New(ctx context.Context, opts ...Option) (transport.ITransport, error) {
	c := &config{
		Region:  defaultRegion,
		Timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	var httpClient awsconfig.HTTPClient = awshttp.NewBuildableClient().WithTimeout(c.Timeout)
	if c.HttpClient != nil {
		httpClient = c.HttpClient
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.Region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
		awsconfig.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config:%w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return &s3Transport{c: c, client: client}, nil
}

func (t *s3Transport) Name() string {
	return "s3"
}

func bearerAuth(token string) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Finalize.Add(middleware.FinalizeMiddlewareFunc("PdriveBearerAuth", func(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
			if req, ok := in.Request.(*smithyhttp.Request); ok {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			return next.HandleFinalize(ctx, in)
		}), middleware.After)
	}
}

func (t *s3Transport) callOpts(target *entity.UploadTarget) func(*s3.Options) {
	return func(o *s3.Options) {
		o.BaseEndpoint = aws.String(strings.TrimRight(target.Endpoint, "/"))
		o.APIOptions = append(o.APIOptions, bearerAuth(target.Token))
	}
}

// classify maps sdk errors onto the error taxonomy.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidPart", "InvalidPartOrder", "EntityTooSmall":
			return errs.Wrap(errs.KindInconsistentState, op, err)
		case "BadDigest", "InvalidDigest", "XAmzContentSHA256Mismatch", "XAmzContentChecksumMismatch":
			return errs.Wrap(errs.KindIntegrity, op, err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return errs.Wrap(errs.KindServer, op, err)
		}
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) && status.HTTPStatusCode() > 0 {
		return transport.ClassifyStatus(op, status.HTTPStatusCode(), err.Error())
	}
	return transport.ClassifyNetwork(ctx, op, err)
}

func b64(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	return aws.String(base64.StdEncoding.EncodeToString(b))
}

func (t *s3Transport) verify(op string, digest entity.PartDigest, etag string, checksum *string) error {
	if len(digest.MD5) > 0 && !hasher.MatchETag(etag, hex.EncodeToString(digest.MD5)) {
		return errs.New(errs.KindIntegrity, op, "etag mismatch, server:%s, local:%s", etag, hex.EncodeToString(digest.MD5))
	}
	if checksum != nil && len(*checksum) > 0 && len(digest.SHA256) > 0 {
		local := base64.StdEncoding.EncodeToString(digest.SHA256)
		// multipart objects report "<base64>-<n>", parts report the plain value
		if *checksum != local && !strings.Contains(*checksum, "-") {
			return errs.New(errs.KindIntegrity, op, "sha256 mismatch, server:%s, local:%s", *checksum, local)
		}
	}
	return nil
}

func (t *s3Transport) InitiateMultipart(ctx context.Context, target *entity.UploadTarget) (*entity.MultipartUpload, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(target.Bucket),
		Key:    aws.String(target.ObjectKey),
	}
	if len(target.ContentType) > 0 {
		input.ContentType = aws.String(target.ContentType)
	}
	if t.c.ChecksumSHA256 {
		input.ChecksumAlgorithm = s3types.ChecksumAlgorithmSha256
	}
	out, err := t.client.CreateMultipartUpload(ctx, input, t.callOpts(target))
	if err != nil {
		return nil, classify(ctx, "initiate_multipart", err)
	}
	uploadID := aws.ToString(out.UploadId)
	if len(uploadID) == 0 {
		return nil, errs.New(errs.KindServer, "initiate_multipart", "no upload id in response")
	}
	key := aws.ToString(out.Key)
	if len(key) == 0 {
		key = target.ObjectKey
	}
	return &entity.MultipartUpload{UploadID: uploadID, Key: key}, nil
}

func (t *s3Transport) UploadPart(ctx context.Context, target *entity.UploadTarget, uploadID string, index int, body []byte, digest entity.PartDigest) (*entity.PartResult, error) {
	input := &s3.UploadPartInput{
		Bucket:        aws.String(target.Bucket),
		Key:           aws.String(target.ObjectKey),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(index + 1)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentMD5:    b64(digest.MD5),
	}
	if t.c.ChecksumSHA256 {
		input.ChecksumSHA256 = b64(digest.SHA256)
	}
	out, err := t.client.UploadPart(ctx, input, t.callOpts(target))
	if err != nil {
		return nil, classify(ctx, "upload_part", err)
	}
	etag := aws.ToString(out.ETag)
	if err := t.verify("upload_part", digest, etag, out.ChecksumSHA256); err != nil {
		return nil, err
	}
	return &entity.PartResult{
		Index:  index,
		ETag:   etag,
		Digest: digest,
		Size:   int64(len(body)),
	}, nil
}

func (t *s3Transport) CompleteMultipart(ctx context.Context, target *entity.UploadTarget, uploadID string, parts []entity.PartResult) (*entity.ObjectDescriptor, error) {
	sorted := make([]entity.PartResult, len(parts))
	copy(sorted, parts)
	entity.SortParts(sorted)
	completed := make([]s3types.CompletedPart, 0, len(sorted))
	for _, p := range sorted {
		cp := s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.Index + 1)),
		}
		if t.c.ChecksumSHA256 {
			cp.ChecksumSHA256 = b64(p.Digest.SHA256)
		}
		completed = append(completed, cp)
	}
	out, err := t.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(target.Bucket),
		Key:             aws.String(target.ObjectKey),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	}, t.callOpts(target))
	if err != nil {
		return nil, classify(ctx, "complete_multipart", err)
	}
	obj, err := t.stat(ctx, target)
	if err != nil {
		return nil, err
	}
	if etag := aws.ToString(out.ETag); len(etag) > 0 {
		obj.ETag = hasher.NormalizeETag(etag)
	}
	if loc := aws.ToString(out.Location); len(loc) > 0 {
		obj.Location = loc
	}
	return obj, nil
}

func (t *s3Transport) AbortMultipart(ctx context.Context, target *entity.UploadTarget, uploadID string) error {
	_, err := t.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(target.Bucket),
		Key:      aws.String(target.ObjectKey),
		UploadId: aws.String(uploadID),
	}, t.callOpts(target))
	return classify(ctx, "abort_multipart", err)
}

func (t *s3Transport) PutSingle(ctx context.Context, target *entity.UploadTarget, body []byte, digest entity.PartDigest) (*entity.ObjectDescriptor, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(target.Bucket),
		Key:           aws.String(target.ObjectKey),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentMD5:    b64(digest.MD5),
	}
	if len(target.ContentType) > 0 {
		input.ContentType = aws.String(target.ContentType)
	}
	if t.c.ChecksumSHA256 {
		input.ChecksumSHA256 = b64(digest.SHA256)
	}
	out, err := t.client.PutObject(ctx, input, t.callOpts(target))
	if err != nil {
		return nil, classify(ctx, "put_single", err)
	}
	etag := aws.ToString(out.ETag)
	if err := t.verify("put_single", digest, etag, out.ChecksumSHA256); err != nil {
		return nil, err
	}
	obj, err := t.stat(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(etag) > 0 {
		obj.ETag = hasher.NormalizeETag(etag)
	}
	return obj, nil
}

func (t *s3Transport) stat(ctx context.Context, target *entity.UploadTarget) (*entity.ObjectDescriptor, error) {
	out, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(target.Bucket),
		Key:    aws.String(target.ObjectKey),
	}, t.callOpts(target))
	if err != nil {
		return nil, classify(ctx, "head_object", err)
	}
	return &entity.ObjectDescriptor{
		Bucket:   target.Bucket,
		Key:      target.ObjectKey,
		Size:     aws.ToInt64(out.ContentLength),
		ETag:     hasher.NormalizeETag(aws.ToString(out.ETag)),
		Location: strings.TrimRight(target.Endpoint, "/") + "/" + target.Bucket + "/" + target.ObjectKey,
	}, nil
}
