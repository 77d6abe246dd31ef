// Package uploader drives upload sessions: planning, the bounded part worker
// pool, persistence after every part, verification, resume and abort.
package uploader

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/hasher"
	"github.com/TraceLTRC/pdrive-cli/planner"
	"github.com/TraceLTRC/pdrive-cli/progress"
	"github.com/TraceLTRC/pdrive-cli/transport"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/retry"
	"go.uber.org/zap"
)

const defaultContentType = "application/octet-stream"

type Uploader struct {
	c     *config
	tr    transport.ITransport
	store ISessionStore
	pl    *planner.Planner
}

func New(tr transport.ITransport, store ISessionStore, opts ...Option) *Uploader {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.PartRetries < 0 {
		c.PartRetries = 0
	}
	if c.Reporter == nil {
		c.Reporter = progress.Nop()
	}
	if len(c.Owner) == 0 {
		c.Owner = NewOwner()
	}
	return &Uploader{
		c:     c,
		tr:    tr,
		store: store,
		pl:    planner.New(c.MinPartSizeFloor),
	}
}

func validateTarget(target *entity.UploadTarget) error {
	if target == nil {
		return errs.New(errs.KindConfig, "validate_target", "no upload target")
	}
	if len(target.Endpoint) == 0 {
		return errs.New(errs.KindConfig, "validate_target", "no endpoint")
	}
	if len(target.Token) == 0 {
		return errs.New(errs.KindConfig, "validate_target", "no token")
	}
	return nil
}

func detectContentType(ctx context.Context, file string) string {
	mt, err := mimetype.DetectFile(file)
	if err != nil {
		logutil.GetLogger(ctx).Debug("detect content type failed, use default", zap.String("file", file), zap.Error(err))
		return defaultContentType
	}
	return mt.String()
}

func (u *Uploader) plan(fileSize int64) (*entity.ChunkPlan, error) {
	if u.c.AutoPartSize {
		return u.pl.AutoPlan(fileSize, u.c.PartSize, u.c.MaxPartCount)
	}
	return u.pl.Plan(fileSize, u.c.PartSize, u.c.MaxPartCount)
}

func persisted(sess *entity.UploadSession) bool {
	return !sess.Plan.IsSingle()
}

func (u *Uploader) event(sess *entity.UploadSession, typ progress.EventType) *progress.Event {
	return &progress.Event{
		Type:      typ,
		Time:      time.Now(),
		SessionID: sess.SessionID,
		FilePath:  sess.FilePath,
		ObjectKey: sess.Target.ObjectKey,
		PartSize:  sess.Plan.PartSize,
		PartCount: sess.Plan.Count(),
		Total:     sess.Plan.FileSize,
		State:     sess.State.String(),
	}
}

// StartUpload uploads filePath to target in a new session. Once a session
// exists the returned outcome is always set, err is the outcome error.
func (u *Uploader) StartUpload(ctx context.Context, filePath string, target *entity.UploadTarget) (*entity.UploadOutcome, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "start_upload", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "start_upload", err)
	}
	if info.IsDir() {
		return nil, errs.New(errs.KindIO, "start_upload", "%s is a directory", abs)
	}
	plan, err := u.plan(info.Size())
	if err != nil {
		return nil, err
	}
	fp, err := hasher.Fingerprint(abs)
	if err != nil {
		return nil, err
	}
	tgt := *target
	if len(tgt.ObjectKey) == 0 {
		tgt.ObjectKey = filepath.Base(abs)
	}
	if len(tgt.ContentType) == 0 {
		tgt.ContentType = detectContentType(ctx, abs)
	}
	now := time.Now().UnixMilli()
	sess := &entity.UploadSession{
		SessionID:      uuid.NewString(),
		Target:         tgt,
		FilePath:       abs,
		Fingerprint:    fp,
		Plan:           plan,
		CompletedParts: make(map[int]entity.PartResult, plan.Count()),
		State:          entity.SessionStatePlanning,
		Ctime:          now,
		Mtime:          now,
	}
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sess.SessionID))
	logger.Info("start upload", zap.String("file", abs), zap.String("key", tgt.ObjectKey),
		zap.Int64("size", plan.FileSize), zap.Int64("part_size", plan.PartSize), zap.Int("part_count", plan.Count()))
	u.c.Reporter.OnEvent(u.event(sess, progress.EventUploadStarted))
	if plan.IsSingle() {
		return u.putSingle(ctx, sess)
	}
	if err := u.store.Create(ctx, sess, u.c.Owner); err != nil {
		return nil, errs.Wrap(errs.KindIO, "start_upload", err)
	}
	defer u.unlock(ctx, sess.SessionID)
	return u.drive(ctx, sess)
}

// ResumeUpload continues a persisted session, parts already recorded are not
// sent again. Resuming a completed session returns its cached outcome.
func (u *Uploader) ResumeUpload(ctx context.Context, sid string, token string) (*entity.UploadOutcome, error) {
	sess, err := u.store.Load(ctx, sid)
	if err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sid))
	if sess.State == entity.SessionStateCompleted {
		if sess.Outcome == nil {
			return nil, errs.New(errs.KindInconsistentState, "resume_upload", "completed session:%s has no outcome", sid)
		}
		logger.Info("session already completed, return cached outcome")
		return sess.Outcome, nil
	}
	if sess.State.IsTerminal() {
		return nil, errs.New(errs.KindInconsistentState, "resume_upload", "session:%s is %s", sid, sess.State)
	}
	if len(token) == 0 {
		return nil, errs.New(errs.KindConfig, "resume_upload", "no token")
	}
	if err := u.lock(ctx, sid); err != nil {
		return nil, err
	}
	defer u.unlock(ctx, sid)
	fp, err := hasher.Fingerprint(sess.FilePath)
	if err != nil {
		return nil, err
	}
	if fp != sess.Fingerprint {
		return nil, errs.New(errs.KindInconsistentState, "resume_upload", "file:%s changed since the session started", sess.FilePath)
	}
	sess.Target.Token = token
	logger.Info("resume upload", zap.String("state", sess.State.String()),
		zap.Int("done_parts", len(sess.CompletedParts)), zap.Int("part_count", sess.Plan.Count()))
	ev := u.event(sess, progress.EventUploadResumed)
	ev.Uploaded = sess.UploadedBytes()
	u.c.Reporter.OnEvent(ev)
	return u.drive(ctx, sess)
}

// AbortSession cancels the remote upload of a persisted session and removes
// it. Completed sessions are only removed locally.
func (u *Uploader) AbortSession(ctx context.Context, sid string, token string) error {
	sess, err := u.store.Load(ctx, sid)
	if err != nil {
		return err
	}
	if sess.State != entity.SessionStateCompleted && len(sess.UploadID) > 0 {
		if len(token) == 0 {
			return errs.New(errs.KindConfig, "abort_session", "no token")
		}
		if err := u.lock(ctx, sid); err != nil {
			return err
		}
		defer u.unlock(ctx, sid)
		sess.Target.Token = token
		if err := u.tr.AbortMultipart(ctx, sess.RemoteTarget(), sess.UploadID); err != nil {
			// a client error here mostly means the upload is already gone
			if !errs.Is(err, errs.KindClient) {
				return err
			}
			logutil.GetLogger(ctx).Warn("abort remote upload failed, drop local session anyway", zap.String("session_id", sid), zap.Error(err))
		}
	}
	if err := u.store.Delete(ctx, sid, false); err != nil {
		return errs.Wrap(errs.KindIO, "abort_session", err)
	}
	logutil.GetLogger(ctx).Info("session aborted", zap.String("session_id", sid))
	return nil
}

// ListSessions returns the sessions in any of states, all when none given.
func (u *Uploader) ListSessions(ctx context.Context, states ...entity.SessionState) ([]*entity.UploadSession, error) {
	return u.store.List(ctx, states...)
}

// PruneSessions removes the records of finished sessions and returns how many
// were removed.
func (u *Uploader) PruneSessions(ctx context.Context) (int, error) {
	list, err := u.store.List(ctx, entity.SessionStateCompleted, entity.SessionStateAborted, entity.SessionStateFailed)
	if err != nil {
		return 0, err
	}
	cnt := 0
	for _, sess := range list {
		if err := u.store.Delete(ctx, sess.SessionID, false); err != nil {
			return cnt, err
		}
		cnt++
	}
	return cnt, nil
}

func (u *Uploader) lock(ctx context.Context, sid string) error {
	ok, err := u.store.Lock(ctx, sid, u.c.Owner, u.c.LockStale)
	if err != nil {
		return errs.Wrap(errs.KindIO, "lock_session", err)
	}
	if ok {
		return nil
	}
	sess, err := u.store.Load(ctx, sid)
	if err != nil {
		return err
	}
	if !ownerGone(sess.LockOwner) {
		return errs.New(errs.KindSessionLocked, "lock_session", "session:%s is used by %s", sid, sess.LockOwner)
	}
	ok, err = u.store.Takeover(ctx, sid, sess.LockOwner, u.c.Owner)
	if err != nil {
		return errs.Wrap(errs.KindIO, "lock_session", err)
	}
	if !ok {
		return errs.New(errs.KindSessionLocked, "lock_session", "session:%s is used by another process", sid)
	}
	logutil.GetLogger(ctx).Warn("took over session left by exited process", zap.String("session_id", sid), zap.String("prev_owner", sess.LockOwner))
	return nil
}

func (u *Uploader) unlock(ctx context.Context, sid string) {
	if err := u.store.Unlock(context.WithoutCancel(ctx), sid, u.c.Owner); err != nil {
		logutil.GetLogger(ctx).Error("unlock session failed", zap.String("session_id", sid), zap.Error(err))
	}
}

// drive moves a multipart session from its current state to a terminal one.
func (u *Uploader) drive(ctx context.Context, sess *entity.UploadSession) (*entity.UploadOutcome, error) {
	if len(sess.UploadID) == 0 {
		mu, err := u.tr.InitiateMultipart(ctx, &sess.Target)
		if err != nil {
			return u.fail(ctx, sess, err)
		}
		sess.UploadID = mu.UploadID
		sess.RemoteKey = mu.Key
		sess.State = entity.SessionStateInProgress
		if err := u.store.SaveState(ctx, sess); err != nil {
			// nobody could find this upload again, drop it now
			u.abortRemote(ctx, sess)
			sess.UploadID = ""
			sess.RemoteKey = ""
			sess.State = entity.SessionStatePlanning
			return u.fail(ctx, sess, errs.Wrap(errs.KindIO, "save_session", err))
		}
		logutil.GetLogger(ctx).Debug("multipart upload initiated", zap.String("session_id", sess.SessionID), zap.String("upload_id", sess.UploadID))
	}
	if sess.State == entity.SessionStatePlanning || sess.State == entity.SessionStateInProgress {
		sess.State = entity.SessionStateInProgress
		if err := u.uploadParts(ctx, sess); err != nil {
			return u.fail(ctx, sess, err)
		}
		sess.State = entity.SessionStateVerifying
		if err := u.store.SaveState(ctx, sess); err != nil {
			return u.fail(ctx, sess, errs.Wrap(errs.KindIO, "save_session", err))
		}
	}
	return u.complete(ctx, sess)
}

func verifyObject(size int64, etag string, obj *entity.ObjectDescriptor) error {
	if obj == nil {
		return errs.New(errs.KindInconsistentState, "verify", "no object descriptor")
	}
	if obj.Size != size {
		return errs.New(errs.KindInconsistentState, "verify", "size mismatch, remote:%d, local:%d", obj.Size, size)
	}
	if len(etag) > 0 && !hasher.MatchETag(obj.ETag, etag) {
		return errs.New(errs.KindIntegrity, "verify", "etag mismatch, remote:%s, local:%s", obj.ETag, etag)
	}
	return nil
}

func (u *Uploader) complete(ctx context.Context, sess *entity.UploadSession) (*entity.UploadOutcome, error) {
	parts := sess.SortedParts()
	if len(parts) != sess.Plan.Count() {
		return u.fail(ctx, sess, errs.New(errs.KindInconsistentState, "complete", "recorded parts:%d, planned:%d", len(parts), sess.Plan.Count()))
	}
	sum, err := u.verifyLocal(sess, parts)
	if err != nil {
		return u.fail(ctx, sess, err)
	}
	obj, err := u.tr.CompleteMultipart(ctx, sess.RemoteTarget(), sess.UploadID, parts)
	if err != nil {
		return u.fail(ctx, sess, err)
	}
	comp := hasher.NewCompositeFromParts(parts)
	if err := verifyObject(sess.Plan.FileSize, comp.ETag(), obj); err != nil {
		return u.fail(ctx, sess, err)
	}
	return u.succeed(ctx, sess, obj, comp.SumHex(), sum)
}

// verifyLocal re-reads the file once and checks every chunk against the
// recorded part digest. It returns the sha256 of the whole file.
func (u *Uploader) verifyLocal(sess *entity.UploadSession, parts []entity.PartResult) (string, error) {
	f, err := os.Open(sess.FilePath)
	if err != nil {
		return "", errs.Wrap(errs.KindIO, "verify_local", err)
	}
	defer f.Close()
	whole, digests, err := hasher.SumChunks(f, sess.Plan.Chunks, nil)
	if err != nil {
		return "", err
	}
	for i, d := range digests {
		if len(parts[i].Digest.SHA256) > 0 && !bytes.Equal(parts[i].Digest.SHA256, d.SHA256) {
			return "", errs.New(errs.KindInconsistentState, "verify_local", "file changed during upload, part:%d", parts[i].Index)
		}
	}
	return whole.SHA256Hex(), nil
}

func (u *Uploader) putSingle(ctx context.Context, sess *entity.UploadSession) (*entity.UploadOutcome, error) {
	f, err := os.Open(sess.FilePath)
	if err != nil {
		return u.fail(ctx, sess, errs.Wrap(errs.KindIO, "open_file", err))
	}
	defer f.Close()
	chunk := sess.Plan.Chunks[0]
	var obj *entity.ObjectDescriptor
	var part entity.PartResult
	err = u.sendChunk(ctx, sess, f, chunk, func(ctx context.Context, body []byte, digest entity.PartDigest) error {
		rs, err := u.tr.PutSingle(ctx, &sess.Target, body, digest)
		if err != nil {
			return err
		}
		obj = rs
		part = entity.PartResult{Index: chunk.Index, ETag: rs.ETag, Digest: digest, Size: chunk.Length}
		return nil
	})
	if err != nil {
		return u.fail(ctx, sess, err)
	}
	sess.CompletedParts[chunk.Index] = part
	sess.State = entity.SessionStateVerifying
	ev := u.event(sess, progress.EventPartCompleted)
	ev.Index = chunk.Index
	ev.Uploaded = chunk.Length
	u.c.Reporter.OnEvent(ev)
	if err := verifyObject(sess.Plan.FileSize, "", obj); err != nil {
		return u.fail(ctx, sess, err)
	}
	return u.succeed(ctx, sess, obj, hasher.NewCompositeFromParts([]entity.PartResult{part}).SumHex(), hex.EncodeToString(part.Digest.SHA256))
}

func (u *Uploader) succeed(ctx context.Context, sess *entity.UploadSession, obj *entity.ObjectDescriptor, digest string, fileSum string) (*entity.UploadOutcome, error) {
	out := &entity.UploadOutcome{
		SessionID:  sess.SessionID,
		State:      entity.SessionStateCompleted,
		Object:     obj,
		Digest:     digest,
		FileSHA256: fileSum,
		Uploaded:   sess.Plan.FileSize,
	}
	sess.State = entity.SessionStateCompleted
	sess.LastError = ""
	sess.Outcome = out
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sess.SessionID))
	if persisted(sess) {
		sctx := context.WithoutCancel(ctx)
		if err := u.store.SaveState(sctx, sess); err != nil {
			logger.Error("save completed session failed", zap.Error(err))
		}
		if err := u.store.Delete(sctx, sess.SessionID, true); err != nil {
			logger.Error("drop session parts failed", zap.Error(err))
		}
	}
	logger.Info("upload completed", zap.String("key", obj.Key), zap.Int64("size", obj.Size),
		zap.String("etag", obj.ETag), zap.String("digest", digest))
	ev := u.event(sess, progress.EventUploadCompleted)
	ev.Uploaded = out.Uploaded
	u.c.Reporter.OnEvent(ev)
	return out, nil
}

// fail moves the session to its terminal state for err. Cancellation aborts,
// failures that leave the remote upload usable keep the record for resume,
// everything else aborts the remote upload and drops the record.
func (u *Uploader) fail(ctx context.Context, sess *entity.UploadSession, err error) (*entity.UploadOutcome, error) {
	out := &entity.UploadOutcome{
		SessionID: sess.SessionID,
		Uploaded:  sess.UploadedBytes(),
		ErrKind:   errs.KindOf(err).String(),
		Err:       err,
	}
	sess.LastError = err.Error()
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sess.SessionID))
	sctx := context.WithoutCancel(ctx)
	switch {
	case ctx.Err() != nil:
		out.State = entity.SessionStateAborted
		out.ErrKind = errs.KindCanceled.String()
		sess.State = entity.SessionStateAborted
		logger.Warn("upload canceled, abort session", zap.Error(err))
		u.abortRemote(ctx, sess)
		u.dropSession(sctx, sess)
	case persisted(sess) && errs.IsResumable(err):
		// auth failures land here too, the remote upload stays so a resume
		// with a corrected token can finish it
		out.State = entity.SessionStateFailed
		out.Resumable = true
		logger.Error("upload interrupted, session can be resumed", zap.String("state", sess.State.String()), zap.Error(err))
		if serr := u.store.SaveState(sctx, sess); serr != nil {
			logger.Error("save session failed", zap.Error(serr))
		}
	default:
		out.State = entity.SessionStateFailed
		sess.State = entity.SessionStateFailed
		logger.Error("upload failed, abort session", zap.Error(err))
		u.abortRemote(ctx, sess)
		u.dropSession(sctx, sess)
	}
	ev := u.event(sess, progress.EventUploadFailed)
	ev.State = out.State.String()
	ev.Uploaded = out.Uploaded
	ev.Err = err
	u.c.Reporter.OnEvent(ev)
	return out, err
}

func (u *Uploader) dropSession(ctx context.Context, sess *entity.UploadSession) {
	if !persisted(sess) {
		return
	}
	if err := u.store.Delete(ctx, sess.SessionID, false); err != nil {
		logutil.GetLogger(ctx).Error("delete session failed", zap.String("session_id", sess.SessionID), zap.Error(err))
	}
}

// abortRemote is best effort, it runs detached from ctx so cleanup still
// happens after cancellation.
func (u *Uploader) abortRemote(ctx context.Context, sess *entity.UploadSession) {
	if len(sess.UploadID) == 0 {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.c.AbortTimeout)
	defer cancel()
	err := retry.RetryDo(actx, u.c.AbortRetry, u.c.AbortInterval, func(ctx context.Context) error {
		return u.tr.AbortMultipart(ctx, sess.RemoteTarget(), sess.UploadID)
	})
	if err != nil {
		logutil.GetLogger(ctx).Error("abort remote upload failed", zap.String("session_id", sess.SessionID),
			zap.String("upload_id", sess.UploadID), zap.Error(err))
		return
	}
	logutil.GetLogger(ctx).Info("remote upload aborted", zap.String("session_id", sess.SessionID), zap.String("upload_id", sess.UploadID))
}
