package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/TraceLTRC/pdrive-cli/entity"

	"github.com/didi/gendry/builder"
	"github.com/xxxsen/common/database"
	"github.com/xxxsen/common/database/dbkit"
)

type ISessionDao interface {
	CreateSession(ctx context.Context, req *entity.CreateSessionRequest) (*entity.CreateSessionResponse, error)
	GetSession(ctx context.Context, req *entity.GetSessionRequest) (*entity.GetSessionResponse, error)
	UpdateSession(ctx context.Context, req *entity.UpdateSessionRequest) (*entity.UpdateSessionResponse, error)
	CreateSessionPart(ctx context.Context, req *entity.CreateSessionPartRequest) (*entity.CreateSessionPartResponse, error)
	DeleteSession(ctx context.Context, req *entity.DeleteSessionRequest) (*entity.DeleteSessionResponse, error)
	ListSession(ctx context.Context, req *entity.ListSessionRequest) (*entity.ListSessionResponse, error)
	LockSession(ctx context.Context, req *entity.LockSessionRequest) (*entity.LockSessionResponse, error)
	UnlockSession(ctx context.Context, req *entity.UnlockSessionRequest) (*entity.UnlockSessionResponse, error)
	TakeoverSession(ctx context.Context, req *entity.TakeoverSessionRequest) (*entity.TakeoverSessionResponse, error)
}

type sessionDaoImpl struct {
	dbc database.IDatabase
}

func NewSessionDao(dbc database.IDatabase) ISessionDao {
	return &sessionDaoImpl{
		dbc: dbc,
	}
}

func (s *sessionDaoImpl) table() string {
	return "upload_session_tab"
}

func (s *sessionDaoImpl) partTable() string {
	return "upload_part_tab"
}

func (s *sessionDaoImpl) CreateSession(ctx context.Context, req *entity.CreateSessionRequest) (*entity.CreateSessionResponse, error) {
	item := req.Item
	now := time.Now().UnixMilli()
	data := []map[string]interface{}{
		{
			"session_id":    item.SessionId,
			"file_path":     item.FilePath,
			"file_size":     item.FileSize,
			"fingerprint":   item.Fingerprint,
			"endpoint":      item.Endpoint,
			"bucket":        item.Bucket,
			"object_key":    item.ObjectKey,
			"content_type":  item.ContentType,
			"upload_id":     item.UploadId,
			"remote_key":    item.RemoteKey,
			"part_size":     item.PartSize,
			"part_count":    item.PartCount,
			"session_state": item.SessionState,
			"last_error":    item.LastError,
			"outcome":       item.Outcome,
			"lock_owner":    item.LockOwner,
			"lock_time":     item.LockTime,
			"ctime":         now,
			"mtime":         now,
		},
	}
	sql, args, err := builder.BuildInsert(s.table(), data)
	if err != nil {
		return nil, err
	}
	if _, err := s.dbc.ExecContext(ctx, sql, args...); err != nil {
		return nil, err
	}
	return &entity.CreateSessionResponse{}, nil
}

func (s *sessionDaoImpl) GetSession(ctx context.Context, req *entity.GetSessionRequest) (*entity.GetSessionResponse, error) {
	where := map[string]interface{}{
		"session_id": req.SessionId,
		"_limit":     []uint{0, 1},
	}
	rs := make([]*entity.SessionInfoItem, 0, 1)
	if err := dbkit.SimpleQuery(ctx, s.dbc, s.table(), where, &rs, dbkit.ScanWithTagName("json")); err != nil {
		return nil, err
	}
	rsp := &entity.GetSessionResponse{}
	if len(rs) == 0 {
		return rsp, nil
	}
	rsp.Item = rs[0]
	pwhere := map[string]interface{}{
		"session_id": req.SessionId,
		"_orderby":   "part_index asc",
	}
	parts := make([]*entity.SessionPartItem, 0, rs[0].PartCount)
	if err := dbkit.SimpleQuery(ctx, s.dbc, s.partTable(), pwhere, &parts, dbkit.ScanWithTagName("json")); err != nil {
		return nil, err
	}
	rsp.Parts = parts
	return rsp, nil
}

func (s *sessionDaoImpl) UpdateSession(ctx context.Context, req *entity.UpdateSessionRequest) (*entity.UpdateSessionResponse, error) {
	where := map[string]interface{}{
		"session_id": req.SessionId,
	}
	update := map[string]interface{}{
		"mtime": time.Now().UnixMilli(),
	}
	if req.UploadId != nil {
		update["upload_id"] = *req.UploadId
	}
	if req.RemoteKey != nil {
		update["remote_key"] = *req.RemoteKey
	}
	if req.SessionState != nil {
		update["session_state"] = *req.SessionState
	}
	if req.LastError != nil {
		update["last_error"] = *req.LastError
	}
	if req.Outcome != nil {
		update["outcome"] = *req.Outcome
	}
	sql, args, err := builder.BuildUpdate(s.table(), where, update)
	if err != nil {
		return nil, err
	}
	rs, err := s.dbc.ExecContext(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	affect, err := rs.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affect == 0 {
		return nil, fmt.Errorf("session:%s not found", req.SessionId)
	}
	return &entity.UpdateSessionResponse{}, nil
}

// CreateSessionPart records one finished part and refreshes the session lock
// in a single transaction, a crash leaves either both or neither.
func (s *sessionDaoImpl) CreateSessionPart(ctx context.Context, req *entity.CreateSessionPartRequest) (*entity.CreateSessionPartResponse, error) {
	item := req.Item
	now := time.Now().UnixMilli()
	err := s.dbc.OnTransation(ctx, func(ctx context.Context, qe database.IQueryExecer) error {
		delWhere := map[string]interface{}{
			"session_id": item.SessionId,
			"part_index": item.PartIndex,
		}
		sql, args, err := builder.BuildDelete(s.partTable(), delWhere)
		if err != nil {
			return err
		}
		if _, err := qe.ExecContext(ctx, sql, args...); err != nil {
			return err
		}
		data := []map[string]interface{}{
			{
				"session_id":  item.SessionId,
				"part_index":  item.PartIndex,
				"part_size":   item.PartSize,
				"etag":        item.ETag,
				"part_md5":    item.PartMd5,
				"part_sha256": item.PartSha256,
				"ctime":       now,
				"mtime":       now,
			},
		}
		sql, args, err = builder.BuildInsert(s.partTable(), data)
		if err != nil {
			return err
		}
		if _, err := qe.ExecContext(ctx, sql, args...); err != nil {
			return err
		}
		where := map[string]interface{}{
			"session_id": item.SessionId,
		}
		update := map[string]interface{}{
			"mtime":     now,
			"lock_time": now,
		}
		sql, args, err = builder.BuildUpdate(s.table(), where, update)
		if err != nil {
			return err
		}
		rs, err := qe.ExecContext(ctx, sql, args...)
		if err != nil {
			return err
		}
		affect, err := rs.RowsAffected()
		if err != nil {
			return err
		}
		if affect == 0 {
			return fmt.Errorf("session:%s not found", item.SessionId)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entity.CreateSessionPartResponse{}, nil
}

func (s *sessionDaoImpl) DeleteSession(ctx context.Context, req *entity.DeleteSessionRequest) (*entity.DeleteSessionResponse, error) {
	err := s.dbc.OnTransation(ctx, func(ctx context.Context, qe database.IQueryExecer) error {
		where := map[string]interface{}{
			"session_id": req.SessionId,
		}
		sql, args, err := builder.BuildDelete(s.partTable(), where)
		if err != nil {
			return err
		}
		if _, err := qe.ExecContext(ctx, sql, args...); err != nil {
			return err
		}
		if req.KeepRecord {
			return nil
		}
		sql, args, err = builder.BuildDelete(s.table(), where)
		if err != nil {
			return err
		}
		_, err = qe.ExecContext(ctx, sql, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entity.DeleteSessionResponse{}, nil
}

func (s *sessionDaoImpl) ListSession(ctx context.Context, req *entity.ListSessionRequest) (*entity.ListSessionResponse, error) {
	where := map[string]interface{}{
		"_orderby": "id asc",
	}
	if len(req.States) > 0 {
		states := make([]interface{}, 0, len(req.States))
		for _, st := range req.States {
			states = append(states, st)
		}
		where["session_state in"] = states
	}
	rs := make([]*entity.SessionInfoItem, 0, 16)
	if err := dbkit.SimpleQuery(ctx, s.dbc, s.table(), where, &rs, dbkit.ScanWithTagName("json")); err != nil {
		return nil, err
	}
	return &entity.ListSessionResponse{List: rs}, nil
}

func (s *sessionDaoImpl) LockSession(ctx context.Context, req *entity.LockSessionRequest) (*entity.LockSessionResponse, error) {
	now := time.Now().UnixMilli()
	sql := fmt.Sprintf("UPDATE %s SET lock_owner = ?, lock_time = ? WHERE session_id = ? AND (lock_owner = '' OR lock_owner = ? OR lock_time < ?)", s.table())
	rs, err := s.dbc.ExecContext(ctx, sql, req.Owner, now, req.SessionId, req.Owner, now-req.StaleMs)
	if err != nil {
		return nil, err
	}
	affect, err := rs.RowsAffected()
	if err != nil {
		return nil, err
	}
	return &entity.LockSessionResponse{Locked: affect > 0}, nil
}

func (s *sessionDaoImpl) UnlockSession(ctx context.Context, req *entity.UnlockSessionRequest) (*entity.UnlockSessionResponse, error) {
	sql := fmt.Sprintf("UPDATE %s SET lock_owner = '', lock_time = 0 WHERE session_id = ? AND lock_owner = ?", s.table())
	if _, err := s.dbc.ExecContext(ctx, sql, req.SessionId, req.Owner); err != nil {
		return nil, err
	}
	return &entity.UnlockSessionResponse{}, nil
}

func (s *sessionDaoImpl) TakeoverSession(ctx context.Context, req *entity.TakeoverSessionRequest) (*entity.TakeoverSessionResponse, error) {
	sql := fmt.Sprintf("UPDATE %s SET lock_owner = ?, lock_time = ? WHERE session_id = ? AND lock_owner = ?", s.table())
	rs, err := s.dbc.ExecContext(ctx, sql, req.Owner, time.Now().UnixMilli(), req.SessionId, req.From)
	if err != nil {
		return nil, err
	}
	affect, err := rs.RowsAffected()
	if err != nil {
		return nil, err
	}
	return &entity.TakeoverSessionResponse{Locked: affect > 0}, nil
}
