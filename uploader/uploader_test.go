package uploader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/progress"
	"github.com/TraceLTRC/pdrive-cli/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPartSize = 1024

var fastBackoff = transport.Backoff{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 5}

func smallParts(opts ...Option) []Option {
	return append([]Option{
		WithMinPartSizeFloor(0),
		WithPartSize(testPartSize),
		WithAbortRetry(1, time.Millisecond),
	}, opts...)
}

func TestSingleShot(t *testing.T) {
	file, _ := writeTestFile(t, 3*1024*1024)
	tr := newFakeTransport()
	store := newTestStore(t)
	up := New(tr, store, WithPartSize(5*1024*1024))
	out, err := up.StartUpload(context.Background(), file, testTarget())
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateCompleted, out.State)
	assert.Equal(t, int64(3*1024*1024), out.Object.Size)
	assert.NotEmpty(t, out.Digest)
	assert.Equal(t, 1, tr.singles)
	assert.Equal(t, 0, tr.inits)
	assert.Equal(t, 0, tr.completes)
	list, err := up.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, len(list))
}

func TestServerErrorRetriedPerPart(t *testing.T) {
	file, data := writeTestFile(t, 5*testPartSize)
	tr := newFakeTransport()
	tr.partHook = func(ctx context.Context, index int, attempt int) error {
		if index == 2 && attempt <= 3 {
			return errs.New(errs.KindServer, "upload_part", "status:503")
		}
		return nil
	}
	up := New(transport.WithRetry(tr, fastBackoff), newTestStore(t), smallParts()...)
	out, err := up.StartUpload(context.Background(), file, testTarget())
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStateCompleted, out.State)
	for i := 0; i < 5; i++ {
		expect := 1
		if i == 2 {
			expect = 4
		}
		assert.Equal(t, expect, tr.attempts[i], "index:%d", i)
	}
	assert.Equal(t, data, tr.assembled())
	assert.Equal(t, int64(len(data)), out.Uploaded)
}

func TestIntegrityFailureBeyondBound(t *testing.T) {
	file, _ := writeTestFile(t, 4*testPartSize)
	tr := newFakeTransport()
	tr.partHook = func(ctx context.Context, index int, attempt int) error {
		if index == 1 {
			return errs.New(errs.KindIntegrity, "upload_part", "etag mismatch")
		}
		return nil
	}
	store := newTestStore(t)
	up := New(transport.WithRetry(tr, fastBackoff), store, smallParts(WithPartRetries(3))...)
	out, err := up.StartUpload(context.Background(), file, testTarget())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindIntegrity))
	assert.Equal(t, entity.SessionStateFailed, out.State)
	assert.False(t, out.Resumable)
	assert.Equal(t, "IntegrityError", out.ErrKind)
	assert.Equal(t, 4, tr.attempts[1])
	assert.Equal(t, 1, tr.aborts)
	assert.Equal(t, 0, tr.completes)
	_, err = store.Load(context.Background(), out.SessionID)
	assert.True(t, errs.Is(err, errs.KindSessionNotFound))
}

func TestResumeAfterEachPart(t *testing.T) {
	ctx := context.Background()
	file, data := writeTestFile(t, 5*testPartSize+100)

	straight := New(newFakeTransport(), newTestStore(t), smallParts()...)
	expect, err := straight.StartUpload(ctx, file, testTarget())
	require.NoError(t, err)

	tr := newFakeTransport()
	tr.failAfter = 1
	store := newTestStore(t)
	up := New(tr, store, smallParts(WithConcurrency(1))...)
	out, err := up.StartUpload(ctx, file, testTarget())
	require.Error(t, err)
	assert.True(t, out.Resumable)
	assert.Equal(t, entity.SessionStateFailed, out.State)
	assert.Equal(t, "AuthError", out.ErrKind)
	sid := out.SessionID

	for i := 2; ; i++ {
		sess, err := store.Load(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, entity.SessionStateInProgress, sess.State)
		assert.Equal(t, i-1, len(sess.CompletedParts))
		tr.mu.Lock()
		tr.failAfter = i
		tr.mu.Unlock()
		out, err = up.ResumeUpload(ctx, sid, "token")
		if err == nil {
			break
		}
		require.True(t, out.Resumable, "err:%v", err)
		require.Less(t, i, 10)
	}
	assert.Equal(t, entity.SessionStateCompleted, out.State)
	assert.Equal(t, expect.Digest, out.Digest)
	assert.Equal(t, expect.Object.ETag, out.Object.ETag)
	assert.Equal(t, data, tr.assembled())
	assert.Equal(t, 1, tr.inits)
	for i := 0; i < 6; i++ {
		assert.Equal(t, 1, tr.success[i], "index:%d", i)
	}
}

func TestResumeCompletedIsNoop(t *testing.T) {
	ctx := context.Background()
	file, _ := writeTestFile(t, 3*testPartSize)
	tr := newFakeTransport()
	up := New(tr, newTestStore(t), smallParts()...)
	out, err := up.StartUpload(ctx, file, testTarget())
	require.NoError(t, err)
	calls := tr.succeeded

	for i := 0; i < 2; i++ {
		again, err := up.ResumeUpload(ctx, out.SessionID, "token")
		require.NoError(t, err)
		assert.Equal(t, entity.SessionStateCompleted, again.State)
		assert.Equal(t, out.Digest, again.Digest)
		assert.Equal(t, out.Object.ETag, again.Object.ETag)
	}
	assert.Equal(t, calls, tr.succeeded)
	assert.Equal(t, 1, tr.inits)
	assert.Equal(t, 1, tr.completes)
}

func TestCancelAborts(t *testing.T) {
	file, _ := writeTestFile(t, 4*testPartSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := newFakeTransport()
	tr.partHook = func(ctx context.Context, index int, attempt int) error {
		if index == 1 {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
	store := newTestStore(t)
	up := New(tr, store, smallParts(WithConcurrency(1))...)
	out, err := up.StartUpload(ctx, file, testTarget())
	require.Error(t, err)
	assert.Equal(t, entity.SessionStateAborted, out.State)
	assert.Equal(t, "CanceledError", out.ErrKind)
	assert.Equal(t, 1, tr.aborts)
	_, err = store.Load(context.Background(), out.SessionID)
	assert.True(t, errs.Is(err, errs.KindSessionNotFound))
}

func interruptedSession(t *testing.T) (*fakeTransport, ISessionStore, *Uploader, string, string) {
	file, _ := writeTestFile(t, 3*testPartSize)
	tr := newFakeTransport()
	tr.failAfter = 1
	store := newTestStore(t)
	up := New(tr, store, smallParts(WithConcurrency(1), WithLockOwner("owner-a"))...)
	out, err := up.StartUpload(context.Background(), file, testTarget())
	require.Error(t, err)
	require.True(t, out.Resumable)
	return tr, store, up, out.SessionID, file
}

func TestResumeLocked(t *testing.T) {
	ctx := context.Background()
	_, store, up, sid, _ := interruptedSession(t)
	ok, err := store.Lock(ctx, sid, "owner-b", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = up.ResumeUpload(ctx, sid, "token")
	assert.True(t, errs.Is(err, errs.KindSessionLocked), "err:%v", err)

	require.NoError(t, store.Unlock(ctx, sid, "owner-b"))
	_, err = up.ResumeUpload(ctx, sid, "")
	assert.True(t, errs.Is(err, errs.KindConfig))
}

func TestResumeChangedFile(t *testing.T) {
	ctx := context.Background()
	tr, _, up, sid, file := interruptedSession(t)
	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte("more"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	tr.failAfter = 0
	_, err = up.ResumeUpload(ctx, sid, "token")
	assert.True(t, errs.Is(err, errs.KindInconsistentState), "err:%v", err)
}

func TestResumeUnknownSession(t *testing.T) {
	up := New(newFakeTransport(), newTestStore(t))
	_, err := up.ResumeUpload(context.Background(), "missing", "token")
	assert.True(t, errs.Is(err, errs.KindSessionNotFound))
}

func TestAbortSession(t *testing.T) {
	ctx := context.Background()
	tr, store, up, sid, _ := interruptedSession(t)
	require.NoError(t, up.AbortSession(ctx, sid, "token"))
	assert.Equal(t, 1, tr.aborts)
	_, err := store.Load(ctx, sid)
	assert.True(t, errs.Is(err, errs.KindSessionNotFound))
}

func TestPruneSessions(t *testing.T) {
	ctx := context.Background()
	tr, _, up, sid, _ := interruptedSession(t)
	file, _ := writeTestFile(t, 2*testPartSize)
	tr.mu.Lock()
	tr.failAfter = 0
	tr.mu.Unlock()
	done, err := up.StartUpload(ctx, file, testTarget())
	require.NoError(t, err)

	list, err := up.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, len(list))
	cnt, err := up.PruneSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cnt)
	list, err = up.ListSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, len(list))
	assert.Equal(t, sid, list[0].SessionID)
	assert.NotEqual(t, done.SessionID, list[0].SessionID)
}

func TestSizeMismatchFails(t *testing.T) {
	file, _ := writeTestFile(t, 3*testPartSize)
	tr := newFakeTransport()
	tr.sizeDelta = 1
	up := New(tr, newTestStore(t), smallParts()...)
	out, err := up.StartUpload(context.Background(), file, testTarget())
	require.Error(t, err)
	assert.Equal(t, entity.SessionStateFailed, out.State)
	assert.Equal(t, "InconsistentStateError", out.ErrKind)
	assert.Equal(t, 1, tr.aborts)
}

func TestInvalidInput(t *testing.T) {
	up := New(newFakeTransport(), newTestStore(t), smallParts()...)
	ctx := context.Background()
	_, err := up.StartUpload(ctx, "/not/exist/file", testTarget())
	assert.True(t, errs.Is(err, errs.KindIO))

	empty, _ := writeTestFile(t, 0)
	_, err = up.StartUpload(ctx, empty, testTarget())
	assert.True(t, errs.Is(err, errs.KindInvalidSize))

	file, _ := writeTestFile(t, 10)
	target := testTarget()
	target.Token = ""
	_, err = up.StartUpload(ctx, file, target)
	assert.True(t, errs.Is(err, errs.KindConfig))
}

func TestProgressEvents(t *testing.T) {
	file, _ := writeTestFile(t, 3*testPartSize)
	var events []*progress.Event
	rep := progress.ReporterFunc(func(e *progress.Event) {
		events = append(events, e)
	})
	up := New(newFakeTransport(), newTestStore(t), smallParts(WithConcurrency(1), WithReporter(rep))...)
	_, err := up.StartUpload(context.Background(), file, testTarget())
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, progress.EventUploadStarted, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, progress.EventUploadCompleted, last.Type)
	assert.Equal(t, int64(3*testPartSize), last.Uploaded)
	completed := 0
	for _, e := range events {
		if e.Type == progress.EventPartCompleted {
			completed++
		}
	}
	assert.Equal(t, 3, completed)
}

type stateRecorder struct {
	ISessionStore
	states []entity.SessionState
}

func (r *stateRecorder) SaveState(ctx context.Context, sess *entity.UploadSession) error {
	r.states = append(r.states, sess.State)
	return r.ISessionStore.SaveState(ctx, sess)
}

func TestCompleteInconsistent(t *testing.T) {
	ctx := context.Background()
	file, _ := writeTestFile(t, 3*testPartSize)
	tr := newFakeTransport()
	tr.completeErr = errs.New(errs.KindInconsistentState, "complete_multipart", "part count mismatch")
	store := &stateRecorder{ISessionStore: newTestStore(t)}
	up := New(tr, store, smallParts()...)
	out, err := up.StartUpload(ctx, file, testTarget())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInconsistentState))
	assert.Equal(t, entity.SessionStateFailed, out.State)
	assert.False(t, out.Resumable)
	assert.Equal(t, 1, tr.completes)
	assert.Equal(t, 1, tr.aborts)
	assert.Contains(t, store.states, entity.SessionStateVerifying)
	_, err = store.Load(ctx, out.SessionID)
	assert.True(t, errs.Is(err, errs.KindSessionNotFound))
}

func TestServerAssignedKey(t *testing.T) {
	ctx := context.Background()
	file, data := writeTestFile(t, 3*testPartSize)
	tr := newFakeTransport()
	tr.keyPrefix = "srv/"
	tr.failAfter = 1
	store := newTestStore(t)
	up := New(tr, store, smallParts(WithConcurrency(1))...)
	out, err := up.StartUpload(ctx, file, testTarget())
	require.Error(t, err)
	require.True(t, out.Resumable)
	sess, err := store.Load(ctx, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "srv/payload.bin", sess.RemoteKey)
	assert.Equal(t, "payload.bin", sess.Target.ObjectKey)

	tr.mu.Lock()
	tr.failAfter = 0
	tr.mu.Unlock()
	out, err = New(tr, store, smallParts()...).ResumeUpload(ctx, out.SessionID, "token")
	require.NoError(t, err)
	assert.Equal(t, "srv/payload.bin", out.Object.Key)
	assert.Equal(t, data, tr.assembled())
	assert.Equal(t, 0, tr.keys["payload.bin"])
	// two part calls before the auth failure, two on resume, then complete
	assert.Equal(t, 5, tr.keys["srv/payload.bin"])
}

func TestFileChangedDuringUpload(t *testing.T) {
	file, _ := writeTestFile(t, 3*testPartSize)
	tr := newFakeTransport()
	tr.partHook = func(ctx context.Context, index int, attempt int) error {
		if index != 0 {
			return nil
		}
		f, err := os.OpenFile(file, os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.WriteAt([]byte("changed"), 0)
		return err
	}
	up := New(tr, newTestStore(t), smallParts(WithConcurrency(1))...)
	out, err := up.StartUpload(context.Background(), file, testTarget())
	require.Error(t, err)
	assert.Equal(t, "InconsistentStateError", out.ErrKind)
	assert.Equal(t, 0, tr.completes)
	assert.Equal(t, 1, tr.aborts)
}

func TestFileSHA256(t *testing.T) {
	ctx := context.Background()
	for _, size := range []int{100, 3*testPartSize + 7} {
		file, data := writeTestFile(t, size)
		out, err := New(newFakeTransport(), newTestStore(t), smallParts()...).StartUpload(ctx, file, testTarget())
		require.NoError(t, err)
		sum := sha256.Sum256(data)
		assert.Equal(t, hex.EncodeToString(sum[:]), out.FileSHA256, "size:%d", size)
	}
}

func TestListSessionsByState(t *testing.T) {
	ctx := context.Background()
	tr, _, up, sid, _ := interruptedSession(t)
	file, _ := writeTestFile(t, 2*testPartSize)
	tr.mu.Lock()
	tr.failAfter = 0
	tr.mu.Unlock()
	done, err := up.StartUpload(ctx, file, testTarget())
	require.NoError(t, err)

	list, err := up.ListSessions(ctx, entity.SessionStateCompleted)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, done.SessionID, list[0].SessionID)
	list, err = up.ListSessions(ctx, entity.SessionStateInProgress, entity.SessionStatePlanning)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sid, list[0].SessionID)
}
