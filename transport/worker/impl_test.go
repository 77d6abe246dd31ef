package worker_test

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/hasher"
	"github.com/TraceLTRC/pdrive-cli/mockserver"
	"github.com/TraceLTRC/pdrive-cli/transport/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret-token"

func setupGateway(t *testing.T) (*mockserver.Server, *entity.UploadTarget) {
	gw := mockserver.New(testToken)
	svr := httptest.NewServer(gw.Handler())
	t.Cleanup(svr.Close)
	return gw, &entity.UploadTarget{
		Endpoint:  svr.URL,
		Token:     testToken,
		Bucket:    "media",
		ObjectKey: "dir/video.mp4",
	}
}

func digestOf(b []byte) entity.PartDigest {
	m := md5.Sum(b)
	s := sha256.Sum256(b)
	return entity.PartDigest{MD5: m[:], SHA256: s[:]}
}

func TestMultipartRoundTrip(t *testing.T) {
	gw, target := setupGateway(t)
	tr := worker.New(worker.WithTimeout(10 * time.Second))
	ctx := context.Background()

	mu, err := tr.InitiateMultipart(ctx, target)
	require.NoError(t, err)
	require.NotEmpty(t, mu.UploadID)
	assert.Equal(t, target.ObjectKey, mu.Key)
	uploadID := mu.UploadID

	chunks := [][]byte{[]byte("hello "), []byte("multipart "), []byte("world")}
	var parts []entity.PartResult
	comp := hasher.NewComposite()
	for _, i := range []int{2, 0, 1} {
		d := digestOf(chunks[i])
		rs, err := tr.UploadPart(ctx, target, uploadID, i, chunks[i], d)
		require.NoError(t, err)
		assert.Equal(t, i, rs.Index)
		parts = append(parts, *rs)
		comp.Add(i, d)
	}
	obj, err := tr.CompleteMultipart(ctx, target, uploadID, parts)
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello multipart world")), obj.Size)
	assert.Equal(t, comp.ETag(), obj.ETag)
	assert.Equal(t, "dir/video.mp4", obj.Key)

	data, ok := gw.Object("media", "dir/video.mp4")
	require.True(t, ok)
	assert.Equal(t, "hello multipart world", string(data))
}

func TestPutSingle(t *testing.T) {
	gw, target := setupGateway(t)
	tr := worker.New()
	body := []byte("small file")
	obj, err := tr.PutSingle(context.Background(), target, body, digestOf(body))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), obj.Size)
	assert.Equal(t, 1, gw.Singles())
	assert.Equal(t, 0, gw.Inits())
}

func TestAuthError(t *testing.T) {
	_, target := setupGateway(t)
	target.Token = "wrong"
	tr := worker.New()
	_, err := tr.InitiateMultipart(context.Background(), target)
	assert.True(t, errs.Is(err, errs.KindAuth))
}

func TestServerAndClientErrors(t *testing.T) {
	gw, target := setupGateway(t)
	gw.PartFault = func(partNumber int, attempt int) int {
		if partNumber == 1 {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadRequest
	}
	tr := worker.New()
	ctx := context.Background()
	mu, err := tr.InitiateMultipart(ctx, target)
	require.NoError(t, err)
	uploadID := mu.UploadID

	_, err = tr.UploadPart(ctx, target, uploadID, 0, []byte("x"), digestOf([]byte("x")))
	assert.True(t, errs.Is(err, errs.KindServer))
	_, err = tr.UploadPart(ctx, target, uploadID, 1, []byte("x"), digestOf([]byte("x")))
	assert.True(t, errs.Is(err, errs.KindClient))
}

func TestIntegrityError(t *testing.T) {
	gw, target := setupGateway(t)
	gw.PartCorrupt = func(partNumber int, attempt int) bool { return true }
	tr := worker.New()
	ctx := context.Background()
	mu, err := tr.InitiateMultipart(ctx, target)
	require.NoError(t, err)
	uploadID := mu.UploadID
	_, err = tr.UploadPart(ctx, target, uploadID, 0, []byte("abc"), digestOf([]byte("abc")))
	assert.True(t, errs.Is(err, errs.KindIntegrity))
}

func TestCompleteInconsistent(t *testing.T) {
	_, target := setupGateway(t)
	tr := worker.New()
	ctx := context.Background()
	mu, err := tr.InitiateMultipart(ctx, target)
	require.NoError(t, err)
	uploadID := mu.UploadID
	rs, err := tr.UploadPart(ctx, target, uploadID, 0, []byte("abc"), digestOf([]byte("abc")))
	require.NoError(t, err)
	fake := entity.PartResult{Index: 1, ETag: "\"00000000000000000000000000000000\""}
	_, err = tr.CompleteMultipart(ctx, target, uploadID, []entity.PartResult{*rs, fake})
	assert.True(t, errs.Is(err, errs.KindInconsistentState))
}

func TestAbort(t *testing.T) {
	gw, target := setupGateway(t)
	tr := worker.New()
	ctx := context.Background()
	mu, err := tr.InitiateMultipart(ctx, target)
	require.NoError(t, err)
	uploadID := mu.UploadID
	assert.Equal(t, 1, gw.PendingUploads())
	require.NoError(t, tr.AbortMultipart(ctx, target, uploadID))
	assert.Equal(t, 1, gw.Aborts())
	assert.Equal(t, 0, gw.PendingUploads())
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	svr := httptest.NewServer(http.NotFoundHandler())
	endpoint := svr.URL
	svr.Close()
	tr := worker.New(worker.WithTimeout(time.Second))
	_, err := tr.InitiateMultipart(context.Background(), &entity.UploadTarget{Endpoint: endpoint, Token: "x", ObjectKey: "k"})
	assert.True(t, errs.IsRetryable(err))
}

func TestServerAssignedKey(t *testing.T) {
	gw, target := setupGateway(t)
	gw.KeyPrefix = "u1/"
	gw.PlainText = true
	tr := worker.New()
	ctx := context.Background()

	mu, err := tr.InitiateMultipart(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "u1/dir/video.mp4", mu.Key)

	// the requested key is unknown to the gateway
	_, err = tr.UploadPart(ctx, target, mu.UploadID, 0, []byte("abc"), digestOf([]byte("abc")))
	assert.True(t, errs.Is(err, errs.KindClient))

	remote := *target
	remote.ObjectKey = mu.Key
	rs, err := tr.UploadPart(ctx, &remote, mu.UploadID, 0, []byte("abc"), digestOf([]byte("abc")))
	require.NoError(t, err)
	obj, err := tr.CompleteMultipart(ctx, &remote, mu.UploadID, []entity.PartResult{*rs})
	require.NoError(t, err)
	assert.Equal(t, "u1/dir/video.mp4", obj.Key)
	assert.Equal(t, int64(3), obj.Size)
	data, ok := gw.Object("media", "u1/dir/video.mp4")
	require.True(t, ok)
	assert.Equal(t, "abc", string(data))

	body := []byte("tiny")
	obj, err = tr.PutSingle(ctx, target, body, digestOf(body))
	require.NoError(t, err)
	assert.Equal(t, "u1/dir/video.mp4", obj.Key)
	assert.Equal(t, int64(len(body)), obj.Size)
	assert.Empty(t, obj.ETag)
}

func TestAbortServerAssignedKey(t *testing.T) {
	gw, target := setupGateway(t)
	gw.KeyPrefix = "u1/"
	tr := worker.New()
	ctx := context.Background()
	mu, err := tr.InitiateMultipart(ctx, target)
	require.NoError(t, err)
	remote := *target
	remote.ObjectKey = mu.Key
	require.NoError(t, tr.AbortMultipart(ctx, &remote, mu.UploadID))
	assert.Equal(t, 0, gw.PendingUploads())
}
