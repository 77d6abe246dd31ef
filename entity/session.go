package entity

type SessionInfoItem struct {
	Id           uint64 `json:"id"`
	SessionId    string `json:"session_id"`
	FilePath     string `json:"file_path"`
	FileSize     int64  `json:"file_size"`
	Fingerprint  string `json:"fingerprint"`
	Endpoint     string `json:"endpoint"`
	Bucket       string `json:"bucket"`
	ObjectKey    string `json:"object_key"`
	ContentType  string `json:"content_type"`
	UploadId     string `json:"upload_id"`
	RemoteKey    string `json:"remote_key"`
	PartSize     int64  `json:"part_size"`
	PartCount    int32  `json:"part_count"`
	SessionState uint32 `json:"session_state"`
	LastError    string `json:"last_error"`
	Outcome      string `json:"outcome"`
	LockOwner    string `json:"lock_owner"`
	LockTime     int64  `json:"lock_time"`
	Ctime        int64  `json:"ctime"`
	Mtime        int64  `json:"mtime"`
}

type SessionPartItem struct {
	Id         uint64 `json:"id"`
	SessionId  string `json:"session_id"`
	PartIndex  int32  `json:"part_index"`
	PartSize   int64  `json:"part_size"`
	ETag       string `json:"etag"`
	PartMd5    string `json:"part_md5"`
	PartSha256 string `json:"part_sha256"`
	Ctime      int64  `json:"ctime"`
	Mtime      int64  `json:"mtime"`
}

type CreateSessionRequest struct {
	Item *SessionInfoItem
}

type CreateSessionResponse struct {
}

type GetSessionRequest struct {
	SessionId string
}

type GetSessionResponse struct {
	Item  *SessionInfoItem
	Parts []*SessionPartItem
}

type UpdateSessionRequest struct {
	SessionId    string
	UploadId     *string
	RemoteKey    *string
	SessionState *uint32
	LastError    *string
	Outcome      *string
}

type UpdateSessionResponse struct {
}

type CreateSessionPartRequest struct {
	Item *SessionPartItem
}

type CreateSessionPartResponse struct {
}

type DeleteSessionRequest struct {
	SessionId  string
	KeepRecord bool //仅删除分片, 保留会话记录
}

type DeleteSessionResponse struct {
}

type ListSessionRequest struct {
	States []uint32
}

type ListSessionResponse struct {
	List []*SessionInfoItem
}

type LockSessionRequest struct {
	SessionId string
	Owner     string
	StaleMs   int64
}

type LockSessionResponse struct {
	Locked bool
}

// TakeoverSessionRequest moves a lock from From to Owner, it only succeeds
// while From still holds it.
type TakeoverSessionRequest struct {
	SessionId string
	From      string
	Owner     string
}

type TakeoverSessionResponse struct {
	Locked bool
}

type UnlockSessionRequest struct {
	SessionId string
	Owner     string
}

type UnlockSessionResponse struct {
}
