package uploader

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/TraceLTRC/pdrive-cli/dao"
	"github.com/TraceLTRC/pdrive-cli/dao/cache"
	"github.com/TraceLTRC/pdrive-cli/db"
	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/hasher"

	"github.com/stretchr/testify/require"
)

type partHookFunc func(ctx context.Context, index int, attempt int) error

type fakeTransport struct {
	mu        sync.Mutex
	inits     int
	completes int
	aborts    int
	singles   int
	attempts  map[int]int
	success   map[int]int
	parts     map[int][]byte
	// failAfter > 0 rejects parts with an auth error once that many parts succeeded.
	failAfter int
	succeeded int
	sizeDelta int64
	// keyPrefix is prepended to the key handed out by initiate.
	keyPrefix   string
	completeErr error
	// keys records the object key of every call on a multipart upload.
	keys map[string]int

	partHook partHookFunc
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		attempts: make(map[int]int),
		success:  make(map[int]int),
		parts:    make(map[int][]byte),
		keys:     make(map[string]int),
	}
}

func (f *fakeTransport) Name() string {
	return "fake"
}

func (f *fakeTransport) InitiateMultipart(ctx context.Context, target *entity.UploadTarget) (*entity.MultipartUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return &entity.MultipartUpload{UploadID: fmt.Sprintf("upload-%d", f.inits), Key: f.keyPrefix + target.ObjectKey}, nil
}

func (f *fakeTransport) UploadPart(ctx context.Context, target *entity.UploadTarget, uploadID string, index int, body []byte, digest entity.PartDigest) (*entity.PartResult, error) {
	f.mu.Lock()
	f.keys[target.ObjectKey]++
	f.attempts[index]++
	attempt := f.attempts[index]
	if f.failAfter > 0 && f.succeeded >= f.failAfter {
		f.mu.Unlock()
		return nil, errs.New(errs.KindAuth, "upload_part", "token expired")
	}
	hook := f.partHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, index, attempt); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded++
	f.success[index]++
	f.parts[index] = append([]byte(nil), body...)
	sum := md5.Sum(body)
	return &entity.PartResult{
		Index:  index,
		ETag:   "\"" + hex.EncodeToString(sum[:]) + "\"",
		Digest: digest,
		Size:   int64(len(body)),
	}, nil
}

func (f *fakeTransport) CompleteMultipart(ctx context.Context, target *entity.UploadTarget, uploadID string, parts []entity.PartResult) (*entity.ObjectDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	f.keys[target.ObjectKey]++
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	comp := hasher.NewComposite()
	var size int64
	for _, p := range parts {
		body, ok := f.parts[p.Index]
		if !ok {
			return nil, errs.New(errs.KindInconsistentState, "complete_multipart", "part:%d not uploaded", p.Index)
		}
		m := md5.Sum(body)
		comp.Add(p.Index, entity.PartDigest{MD5: m[:]})
		size += int64(len(body))
	}
	return &entity.ObjectDescriptor{
		Bucket: target.Bucket,
		Key:    target.ObjectKey,
		Size:   size + f.sizeDelta,
		ETag:   comp.ETag(),
	}, nil
}

func (f *fakeTransport) AbortMultipart(ctx context.Context, target *entity.UploadTarget, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	f.keys[target.ObjectKey]++
	return nil
}

func (f *fakeTransport) PutSingle(ctx context.Context, target *entity.UploadTarget, body []byte, digest entity.PartDigest) (*entity.ObjectDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles++
	sum := md5.Sum(body)
	return &entity.ObjectDescriptor{
		Bucket: target.Bucket,
		Key:    target.ObjectKey,
		Size:   int64(len(body)) + f.sizeDelta,
		ETag:   hex.EncodeToString(sum[:]),
	}, nil
}

func (f *fakeTransport) assembled() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rs []byte
	for i := 0; i < len(f.parts); i++ {
		rs = append(rs, f.parts[i]...)
	}
	return rs
}

func newTestStore(t *testing.T) ISessionStore {
	dbc, err := db.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	return NewSessionStore(cache.NewSessionDao(dao.NewSessionDao(dbc)))
}

func writeTestFile(t *testing.T, size int) (string, []byte) {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(file, data, 0644))
	return file, data
}

func testTarget() *entity.UploadTarget {
	return &entity.UploadTarget{
		Endpoint:  "http://127.0.0.1:9000",
		Token:     "token",
		Bucket:    "media",
		ObjectKey: "payload.bin",
	}
}
