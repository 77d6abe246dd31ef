package uploader

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/TraceLTRC/pdrive-cli/dao"
	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/planner"
)

// ISessionStore keeps upload sessions across process restarts. The token of
// a target is never stored.
type ISessionStore interface {
	Create(ctx context.Context, s *entity.UploadSession, owner string) error
	Load(ctx context.Context, sid string) (*entity.UploadSession, error)
	SaveState(ctx context.Context, s *entity.UploadSession) error
	SavePart(ctx context.Context, sid string, part entity.PartResult) error
	Delete(ctx context.Context, sid string, keepRecord bool) error
	// List returns the sessions in any of states, all sessions when none given.
	List(ctx context.Context, states ...entity.SessionState) ([]*entity.UploadSession, error)
	Lock(ctx context.Context, sid string, owner string, stale time.Duration) (bool, error)
	Unlock(ctx context.Context, sid string, owner string) error
	// Takeover hands the lock from a dead owner to owner.
	Takeover(ctx context.Context, sid string, from string, owner string) (bool, error)
}

type daoStore struct {
	d dao.ISessionDao
}

// NewSessionStore maps upload sessions onto the session tables.
func NewSessionStore(d dao.ISessionDao) ISessionStore {
	return &daoStore{d: d}
}

func (s *daoStore) Create(ctx context.Context, sess *entity.UploadSession, owner string) error {
	var lockTime int64
	if len(owner) > 0 {
		lockTime = time.Now().UnixMilli()
	}
	_, err := s.d.CreateSession(ctx, &entity.CreateSessionRequest{
		Item: &entity.SessionInfoItem{
			SessionId:    sess.SessionID,
			FilePath:     sess.FilePath,
			FileSize:     sess.Plan.FileSize,
			Fingerprint:  strconv.FormatUint(sess.Fingerprint, 16),
			Endpoint:     sess.Target.Endpoint,
			Bucket:       sess.Target.Bucket,
			ObjectKey:    sess.Target.ObjectKey,
			ContentType:  sess.Target.ContentType,
			UploadId:     sess.UploadID,
			RemoteKey:    sess.RemoteKey,
			PartSize:     sess.Plan.PartSize,
			PartCount:    int32(sess.Plan.Count()),
			SessionState: uint32(sess.State),
			LastError:    sess.LastError,
			LockOwner:    owner,
			LockTime:     lockTime,
		},
	})
	if err != nil {
		return fmt.Errorf("create session:%w", err)
	}
	return nil
}

func (s *daoStore) Load(ctx context.Context, sid string) (*entity.UploadSession, error) {
	rsp, err := s.d.GetSession(ctx, &entity.GetSessionRequest{SessionId: sid})
	if err != nil {
		return nil, fmt.Errorf("get session:%w", err)
	}
	if rsp.Item == nil {
		return nil, errs.New(errs.KindSessionNotFound, "load_session", "session:%s not found", sid)
	}
	return toSession(rsp.Item, rsp.Parts)
}

func (s *daoStore) SaveState(ctx context.Context, sess *entity.UploadSession) error {
	state := uint32(sess.State)
	req := &entity.UpdateSessionRequest{
		SessionId:    sess.SessionID,
		UploadId:     &sess.UploadID,
		RemoteKey:    &sess.RemoteKey,
		SessionState: &state,
		LastError:    &sess.LastError,
	}
	if sess.Outcome != nil {
		raw, err := json.Marshal(sess.Outcome)
		if err != nil {
			return fmt.Errorf("encode outcome:%w", err)
		}
		outcome := string(raw)
		req.Outcome = &outcome
	}
	if _, err := s.d.UpdateSession(ctx, req); err != nil {
		return fmt.Errorf("update session:%w", err)
	}
	return nil
}

func (s *daoStore) SavePart(ctx context.Context, sid string, part entity.PartResult) error {
	_, err := s.d.CreateSessionPart(ctx, &entity.CreateSessionPartRequest{
		Item: &entity.SessionPartItem{
			SessionId:  sid,
			PartIndex:  int32(part.Index),
			PartSize:   part.Size,
			ETag:       part.ETag,
			PartMd5:    hex.EncodeToString(part.Digest.MD5),
			PartSha256: hex.EncodeToString(part.Digest.SHA256),
		},
	})
	if err != nil {
		return fmt.Errorf("save part:%w", err)
	}
	return nil
}

func (s *daoStore) Delete(ctx context.Context, sid string, keepRecord bool) error {
	if _, err := s.d.DeleteSession(ctx, &entity.DeleteSessionRequest{SessionId: sid, KeepRecord: keepRecord}); err != nil {
		return fmt.Errorf("delete session:%w", err)
	}
	return nil
}

func (s *daoStore) List(ctx context.Context, states ...entity.SessionState) ([]*entity.UploadSession, error) {
	req := &entity.ListSessionRequest{}
	for _, st := range states {
		req.States = append(req.States, uint32(st))
	}
	rsp, err := s.d.ListSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list session:%w", err)
	}
	rs := make([]*entity.UploadSession, 0, len(rsp.List))
	for _, item := range rsp.List {
		// parts are only needed for progress, the full record is loaded on resume
		sess, err := toSession(item, nil)
		if err != nil {
			return nil, err
		}
		rs = append(rs, sess)
	}
	return rs, nil
}

func (s *daoStore) Lock(ctx context.Context, sid string, owner string, stale time.Duration) (bool, error) {
	rsp, err := s.d.LockSession(ctx, &entity.LockSessionRequest{
		SessionId: sid,
		Owner:     owner,
		StaleMs:   stale.Milliseconds(),
	})
	if err != nil {
		return false, fmt.Errorf("lock session:%w", err)
	}
	return rsp.Locked, nil
}

func (s *daoStore) Unlock(ctx context.Context, sid string, owner string) error {
	if _, err := s.d.UnlockSession(ctx, &entity.UnlockSessionRequest{SessionId: sid, Owner: owner}); err != nil {
		return fmt.Errorf("unlock session:%w", err)
	}
	return nil
}

func (s *daoStore) Takeover(ctx context.Context, sid string, from string, owner string) (bool, error) {
	rsp, err := s.d.TakeoverSession(ctx, &entity.TakeoverSessionRequest{SessionId: sid, From: from, Owner: owner})
	if err != nil {
		return false, fmt.Errorf("takeover session:%w", err)
	}
	return rsp.Locked, nil
}

func toSession(item *entity.SessionInfoItem, parts []*entity.SessionPartItem) (*entity.UploadSession, error) {
	fp, err := strconv.ParseUint(item.Fingerprint, 16, 64)
	if err != nil {
		return nil, errs.New(errs.KindInconsistentState, "load_session", "bad fingerprint:%s", item.Fingerprint)
	}
	// the floor was checked when the session was planned
	plan, err := planner.New(0).Plan(item.FileSize, item.PartSize, int(item.PartCount))
	if err != nil {
		return nil, errs.Wrap(errs.KindInconsistentState, "load_session", err)
	}
	if plan.Count() != int(item.PartCount) {
		return nil, errs.New(errs.KindInconsistentState, "load_session", "part count mismatch, stored:%d, planned:%d", item.PartCount, plan.Count())
	}
	sess := &entity.UploadSession{
		SessionID: item.SessionId,
		Target: entity.UploadTarget{
			Endpoint:    item.Endpoint,
			Bucket:      item.Bucket,
			ObjectKey:   item.ObjectKey,
			ContentType: item.ContentType,
		},
		FilePath:       item.FilePath,
		Fingerprint:    fp,
		Plan:           plan,
		UploadID:       item.UploadId,
		RemoteKey:      item.RemoteKey,
		LockOwner:      item.LockOwner,
		CompletedParts: make(map[int]entity.PartResult, len(parts)),
		State:          entity.SessionState(item.SessionState),
		LastError:      item.LastError,
		Ctime:          item.Ctime,
		Mtime:          item.Mtime,
	}
	if len(item.Outcome) > 0 {
		outcome := &entity.UploadOutcome{}
		if err := json.Unmarshal([]byte(item.Outcome), outcome); err != nil {
			return nil, errs.Wrap(errs.KindInconsistentState, "load_session", err)
		}
		sess.Outcome = outcome
	}
	for _, p := range parts {
		idx := int(p.PartIndex)
		if idx < 0 || idx >= plan.Count() {
			return nil, errs.New(errs.KindInconsistentState, "load_session", "part index:%d out of plan", idx)
		}
		md5sum, err := hex.DecodeString(p.PartMd5)
		if err != nil {
			return nil, errs.Wrap(errs.KindInconsistentState, "load_session", err)
		}
		shasum, err := hex.DecodeString(p.PartSha256)
		if err != nil {
			return nil, errs.Wrap(errs.KindInconsistentState, "load_session", err)
		}
		sess.CompletedParts[idx] = entity.PartResult{
			Index:  idx,
			ETag:   p.ETag,
			Digest: entity.PartDigest{MD5: md5sum, SHA256: shasum},
			Size:   p.PartSize,
		}
	}
	return sess, nil
}
