package cache

import (
	"context"
	"time"

	"github.com/TraceLTRC/pdrive-cli/cacheapi"
	cachewrap "github.com/TraceLTRC/pdrive-cli/cacheapi/adaptor"
	"github.com/TraceLTRC/pdrive-cli/dao"
	"github.com/TraceLTRC/pdrive-cli/entity"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const (
	defaultMaxSessionCacheSize    = 256
	defaultSessionCacheExpireTime = 10 * time.Minute
)

type sessionDao struct {
	dao.ISessionDao
	cache cacheapi.ICache[string, *entity.GetSessionResponse]
}

// NewSessionDao caches GetSession results, every write on a session drops its entry.
func NewSessionDao(impl dao.ISessionDao) dao.ISessionDao {
	cc := lru.NewLRU[string, *entity.GetSessionResponse](defaultMaxSessionCacheSize, nil, defaultSessionCacheExpireTime)
	return &sessionDao{
		ISessionDao: impl,
		cache:       cachewrap.WrapExpirableLruCache(cc),
	}
}

func (s *sessionDao) evict(ctx context.Context, sid string) {
	if err := s.cache.Del(ctx, sid); err != nil {
		logutil.GetLogger(ctx).Error("evict session cache failed", zap.String("session_id", sid), zap.Error(err))
	}
}

func (s *sessionDao) GetSession(ctx context.Context, req *entity.GetSessionRequest) (*entity.GetSessionResponse, error) {
	rsp, ok, err := cacheapi.Load(ctx, s.cache, req.SessionId, func(ctx context.Context, sid string) (*entity.GetSessionResponse, bool, error) {
		rsp, err := s.ISessionDao.GetSession(ctx, &entity.GetSessionRequest{SessionId: sid})
		if err != nil {
			return nil, false, err
		}
		return rsp, rsp.Item != nil, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return &entity.GetSessionResponse{}, nil
	}
	return rsp, nil
}

func (s *sessionDao) UpdateSession(ctx context.Context, req *entity.UpdateSessionRequest) (*entity.UpdateSessionResponse, error) {
	defer s.evict(ctx, req.SessionId)
	return s.ISessionDao.UpdateSession(ctx, req)
}

func (s *sessionDao) CreateSessionPart(ctx context.Context, req *entity.CreateSessionPartRequest) (*entity.CreateSessionPartResponse, error) {
	defer s.evict(ctx, req.Item.SessionId)
	return s.ISessionDao.CreateSessionPart(ctx, req)
}

func (s *sessionDao) DeleteSession(ctx context.Context, req *entity.DeleteSessionRequest) (*entity.DeleteSessionResponse, error) {
	defer s.evict(ctx, req.SessionId)
	return s.ISessionDao.DeleteSession(ctx, req)
}

func (s *sessionDao) LockSession(ctx context.Context, req *entity.LockSessionRequest) (*entity.LockSessionResponse, error) {
	defer s.evict(ctx, req.SessionId)
	return s.ISessionDao.LockSession(ctx, req)
}

func (s *sessionDao) UnlockSession(ctx context.Context, req *entity.UnlockSessionRequest) (*entity.UnlockSessionResponse, error) {
	defer s.evict(ctx, req.SessionId)
	return s.ISessionDao.UnlockSession(ctx, req)
}

func (s *sessionDao) TakeoverSession(ctx context.Context, req *entity.TakeoverSessionRequest) (*entity.TakeoverSessionResponse, error) {
	defer s.evict(ctx, req.SessionId)
	return s.ISessionDao.TakeoverSession(ctx, req)
}
