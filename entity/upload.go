package entity

import (
	"fmt"
	"sort"
	"strings"
)

// UploadTarget 描述一次上传的远端位置, 上传期间不可变
type UploadTarget struct {
	Endpoint    string `json:"endpoint"`
	Token       string `json:"-"`
	Bucket      string `json:"bucket"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
}

type Chunk struct {
	Index  int   `json:"index"`
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// PartNumber is the 1-based number used on the wire.
func (c Chunk) PartNumber() int32 {
	return int32(c.Index + 1)
}

type ChunkPlan struct {
	FileSize int64   `json:"file_size"`
	PartSize int64   `json:"part_size"`
	Chunks   []Chunk `json:"chunks"`
}

func (p *ChunkPlan) IsSingle() bool {
	return len(p.Chunks) == 1
}

func (p *ChunkPlan) Count() int {
	return len(p.Chunks)
}

type PartDigest struct {
	MD5    []byte `json:"md5"`
	SHA256 []byte `json:"sha256"`
}

type PartResult struct {
	Index  int        `json:"index"`
	ETag   string     `json:"etag"`
	Digest PartDigest `json:"digest"`
	Size   int64      `json:"size"`
}

func SortParts(parts []PartResult) {
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].Index < parts[j].Index
	})
}

type ObjectDescriptor struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	ETag     string `json:"etag"`
	Location string `json:"location"`
}

type SessionState uint32

const (
	SessionStatePlanning SessionState = iota + 1
	SessionStateInProgress
	SessionStateVerifying
	SessionStateCompleted
	SessionStateAborted
	SessionStateFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionStatePlanning:
		return "Planning"
	case SessionStateInProgress:
		return "InProgress"
	case SessionStateVerifying:
		return "Verifying"
	case SessionStateCompleted:
		return "Completed"
	case SessionStateAborted:
		return "Aborted"
	case SessionStateFailed:
		return "Failed"
	}
	return fmt.Sprintf("SessionState(%d)", uint32(s))
}

// ParseSessionState is the inverse of String, case insensitive.
func ParseSessionState(v string) (SessionState, bool) {
	for st := SessionStatePlanning; st <= SessionStateFailed; st++ {
		if strings.EqualFold(st.String(), v) {
			return st, true
		}
	}
	return 0, false
}

func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted || s == SessionStateAborted || s == SessionStateFailed
}

// MultipartUpload identifies a remote multipart upload. Key is the object key
// the server assigned, later part calls must address it.
type MultipartUpload struct {
	UploadID string `json:"upload_id"`
	Key      string `json:"key"`
}

type UploadSession struct {
	SessionID      string
	Target         UploadTarget
	FilePath       string
	Fingerprint    uint64
	Plan           *ChunkPlan
	UploadID       string
	RemoteKey      string
	LockOwner      string
	CompletedParts map[int]PartResult
	State          SessionState
	LastError      string
	Outcome        *UploadOutcome
	Ctime          int64
	Mtime          int64
}

// RemoteTarget is the target the calls on the multipart upload go to.
func (s *UploadSession) RemoteTarget() *UploadTarget {
	t := s.Target
	if len(s.RemoteKey) > 0 {
		t.ObjectKey = s.RemoteKey
	}
	return &t
}

// PendingChunks returns the plan entries that have no recorded part yet.
func (s *UploadSession) PendingChunks() []Chunk {
	rs := make([]Chunk, 0, len(s.Plan.Chunks))
	for _, c := range s.Plan.Chunks {
		if _, ok := s.CompletedParts[c.Index]; ok {
			continue
		}
		rs = append(rs, c)
	}
	return rs
}

func (s *UploadSession) UploadedBytes() int64 {
	var total int64
	for _, p := range s.CompletedParts {
		total += p.Size
	}
	return total
}

func (s *UploadSession) SortedParts() []PartResult {
	rs := make([]PartResult, 0, len(s.CompletedParts))
	for _, p := range s.CompletedParts {
		rs = append(rs, p)
	}
	SortParts(rs)
	return rs
}

type UploadOutcome struct {
	SessionID  string            `json:"session_id"`
	State      SessionState      `json:"state"`
	Object     *ObjectDescriptor `json:"object,omitempty"`
	Digest     string            `json:"digest,omitempty"`
	FileSHA256 string            `json:"file_sha256,omitempty"`
	Uploaded   int64             `json:"uploaded"`
	ErrKind    string            `json:"err_kind,omitempty"`
	Err        error             `json:"-"`
	Resumable  bool              `json:"resumable"`
}
