package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/hasher"
	"github.com/TraceLTRC/pdrive-cli/transport"
)

const (
	defaultTimeout     = 10 * time.Minute
	maxErrorBodyLength = 4096
	maxBodyLength      = 1 << 20
)

type workerTransport struct {
	c   *config
	cli *http.Client
}

// New creates a transport that speaks the pdrive gateway protocol.
func New(opts ...Option) transport.ITransport {
	c := &config{
		Timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	cli := c.Client
	if cli == nil {
		cli = &http.Client{
			Timeout: c.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				IdleConnTimeout:     20 * time.Second,
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 8,
			},
		}
	}
	return &workerTransport{c: c, cli: cli}
}

func (w *workerTransport) Name() string {
	return "worker"
}

func (w *workerTransport) buildUrl(target *entity.UploadTarget, api string, args ...interface{}) string {
	return strings.TrimRight(target.Endpoint, "/") + fmt.Sprintf(api, args...)
}

func (w *workerTransport) newRequest(ctx context.Context, method string, target *entity.UploadTarget, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errs.Wrap(errs.KindClient, "build_request", err)
	}
	req.Header.Set("Authorization", "Bearer "+target.Token)
	if len(target.Bucket) > 0 {
		req.Header.Set(HeaderBucket, target.Bucket)
	}
	return req, nil
}

func (w *workerTransport) send(ctx context.Context, op string, req *http.Request) ([]byte, error) {
	rsp, err := w.cli.Do(req)
	if err != nil {
		return nil, transport.ClassifyNetwork(ctx, op, err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(rsp.Body, maxErrorBodyLength))
		if rsp.StatusCode == http.StatusConflict && op == "complete_multipart" {
			return nil, errs.New(errs.KindInconsistentState, op, "status code:%d, msg:%s", rsp.StatusCode, strings.TrimSpace(string(msg)))
		}
		return nil, transport.ClassifyStatus(op, rsp.StatusCode, strings.TrimSpace(string(msg)))
	}
	raw, err := io.ReadAll(io.LimitReader(rsp.Body, maxBodyLength))
	if err != nil {
		return nil, transport.ClassifyNetwork(ctx, op, fmt.Errorf("read response:%w", err))
	}
	return raw, nil
}

func (w *workerTransport) call(ctx context.Context, op string, req *http.Request, out interface{}) error {
	raw, err := w.send(ctx, op, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return transport.ClassifyNetwork(ctx, op, fmt.Errorf("decode response:%w", err))
	}
	return nil
}

// callObject reads an object response. The first gateway release answers
// upload and finish with the bare object key as text.
func (w *workerTransport) callObject(ctx context.Context, op string, req *http.Request) (*ObjectResponse, bool, error) {
	raw, err := w.send(ctx, op, req)
	if err != nil {
		return nil, false, err
	}
	text := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(text, "{") {
		if len(text) == 0 {
			return nil, false, errs.New(errs.KindServer, op, "empty response")
		}
		return &ObjectResponse{Key: text}, true, nil
	}
	rsp := &ObjectResponse{}
	if err := json.Unmarshal(raw, rsp); err != nil {
		return nil, false, transport.ClassifyNetwork(ctx, op, fmt.Errorf("decode response:%w", err))
	}
	return rsp, false, nil
}

func applyDigest(req *http.Request, digest entity.PartDigest) {
	if len(digest.MD5) > 0 {
		req.Header.Set("Content-MD5", base64.StdEncoding.EncodeToString(digest.MD5))
	}
	if len(digest.SHA256) > 0 {
		req.Header.Set(HeaderSha256, hex.EncodeToString(digest.SHA256))
	}
}

func verifyDigest(op string, digest entity.PartDigest, etag string, sha string) error {
	if len(digest.MD5) > 0 && !hasher.MatchETag(etag, hex.EncodeToString(digest.MD5)) {
		return errs.New(errs.KindIntegrity, op, "etag mismatch, server:%s, local:%s", etag, hex.EncodeToString(digest.MD5))
	}
	if len(sha) > 0 && len(digest.SHA256) > 0 && !strings.EqualFold(sha, hex.EncodeToString(digest.SHA256)) {
		return errs.New(errs.KindIntegrity, op, "sha256 mismatch, server:%s, local:%s", sha, hex.EncodeToString(digest.SHA256))
	}
	return nil
}

func (w *workerTransport) InitiateMultipart(ctx context.Context, target *entity.UploadTarget) (*entity.MultipartUpload, error) {
	req, err := w.newRequest(ctx, http.MethodPost, target, w.buildUrl(target, apiInitiate, url.PathEscape(target.ObjectKey)), nil)
	if err != nil {
		return nil, err
	}
	if len(target.ContentType) > 0 {
		req.Header.Set("X-Pdrive-Content-Type", target.ContentType)
	}
	rsp := &InitiateResponse{}
	if err := w.call(ctx, "initiate_multipart", req, rsp); err != nil {
		return nil, err
	}
	if len(rsp.UploadId) == 0 {
		return nil, errs.New(errs.KindServer, "initiate_multipart", "no upload id in response")
	}
	key := rsp.Key
	if len(key) == 0 {
		key = target.ObjectKey
	}
	return &entity.MultipartUpload{UploadID: rsp.UploadId, Key: key}, nil
}

func (w *workerTransport) UploadPart(ctx context.Context, target *entity.UploadTarget, uploadID string, index int, body []byte, digest entity.PartDigest) (*entity.PartResult, error) {
	partNumber := index + 1
	u := w.buildUrl(target, apiPutPart, url.PathEscape(target.ObjectKey), url.PathEscape(uploadID)) + "?partNumber=" + strconv.Itoa(partNumber)
	req, err := w.newRequest(ctx, http.MethodPut, target, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	applyDigest(req, digest)
	rsp := &PartResponse{}
	if err := w.call(ctx, "upload_part", req, rsp); err != nil {
		return nil, err
	}
	if rsp.PartNumber != 0 && int(rsp.PartNumber) != partNumber {
		return nil, errs.New(errs.KindInconsistentState, "upload_part", "part number mismatch, sent:%d, recv:%d", partNumber, rsp.PartNumber)
	}
	if err := verifyDigest("upload_part", digest, rsp.ETag, rsp.Sha256); err != nil {
		return nil, err
	}
	return &entity.PartResult{
		Index:  index,
		ETag:   rsp.ETag,
		Digest: digest,
		Size:   int64(len(body)),
	}, nil
}

func (w *workerTransport) CompleteMultipart(ctx context.Context, target *entity.UploadTarget, uploadID string, parts []entity.PartResult) (*entity.ObjectDescriptor, error) {
	sorted := make([]entity.PartResult, len(parts))
	copy(sorted, parts)
	entity.SortParts(sorted)
	in := make([]FinishPart, 0, len(sorted))
	for _, p := range sorted {
		in = append(in, FinishPart{PartNumber: int32(p.Index + 1), ETag: p.ETag})
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, errs.Wrap(errs.KindClient, "complete_multipart", err)
	}
	req, err := w.newRequest(ctx, http.MethodPost, target, w.buildUrl(target, apiFinish, url.PathEscape(target.ObjectKey), url.PathEscape(uploadID)), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	rsp, text, err := w.callObject(ctx, "complete_multipart", req)
	if err != nil {
		return nil, err
	}
	if text {
		// the size is what the gateway accepted part by part
		for _, p := range sorted {
			rsp.Size += p.Size
		}
	}
	return w.toDescriptor(target, rsp), nil
}

func (w *workerTransport) AbortMultipart(ctx context.Context, target *entity.UploadTarget, uploadID string) error {
	req, err := w.newRequest(ctx, http.MethodDelete, target, w.buildUrl(target, apiAbort, url.PathEscape(target.ObjectKey), url.PathEscape(uploadID)), nil)
	if err != nil {
		return err
	}
	return w.call(ctx, "abort_multipart", req, nil)
}

func (w *workerTransport) PutSingle(ctx context.Context, target *entity.UploadTarget, body []byte, digest entity.PartDigest) (*entity.ObjectDescriptor, error) {
	req, err := w.newRequest(ctx, http.MethodPost, target, w.buildUrl(target, apiSingleUpload, url.PathEscape(target.ObjectKey)), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(body))
	contentType := target.ContentType
	if len(contentType) == 0 {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	applyDigest(req, digest)
	rsp, text, err := w.callObject(ctx, "put_single", req)
	if err != nil {
		return nil, err
	}
	if text {
		rsp.Size = int64(len(body))
	}
	if err := verifyDigest("put_single", digest, rsp.ETag, rsp.Sha256); err != nil {
		return nil, err
	}
	return w.toDescriptor(target, rsp), nil
}

func (w *workerTransport) toDescriptor(target *entity.UploadTarget, rsp *ObjectResponse) *entity.ObjectDescriptor {
	key := rsp.Key
	if len(key) == 0 {
		key = target.ObjectKey
	}
	location := rsp.Location
	if len(location) == 0 {
		location = strings.TrimRight(target.Endpoint, "/") + "/" + key
	}
	return &entity.ObjectDescriptor{
		Bucket:   target.Bucket,
		Key:      key,
		Size:     rsp.Size,
		ETag:     hasher.NormalizeETag(rsp.ETag),
		Location: location,
	}
}
