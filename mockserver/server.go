// Package mockserver is an in-memory implementation of the pdrive gateway
// protocol with fault injection, used to exercise the client end to end.
package mockserver

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/TraceLTRC/pdrive-cli/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FaultFunc decides the status code to fail a part request with. 0 lets the
// request through.
type FaultFunc func(partNumber int, attempt int) int

// CorruptFunc decides whether the etag returned for a part is corrupted.
type CorruptFunc func(partNumber int, attempt int) bool

type upload struct {
	bucket string
	key    string
	parts  map[int][]byte
}

type Server struct {
	mu           sync.Mutex
	token        string
	objects      map[string][]byte
	uploads      map[string]*upload
	partAttempts map[int]int
	aborts       int
	inits        int
	singles      int
	completes    int

	PartFault   FaultFunc
	PartCorrupt CorruptFunc
	// SizeDelta is added to the size reported on completion.
	SizeDelta int64
	// KeyPrefix is prepended to every key the gateway stores an object under.
	KeyPrefix string
	// PlainText replies to /upload and finish with the bare key.
	PlainText bool
}

type initiateResponse struct {
	Key      string `json:"key"`
	UploadId string `json:"uploadId"`
}

type partResponse struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Sha256     string `json:"sha256"`
}

type finishPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type objectResponse struct {
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag"`
	Sha256 string `json:"sha256,omitempty"`
}

func New(token string) *Server {
	return &Server{
		token:        token,
		objects:      make(map[string][]byte),
		uploads:      make(map[string]*upload),
		partAttempts: make(map[int]int),
	}
}

func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.UseRawPath = true
	engine.UnescapePathValues = true
	engine.Use(s.authMiddleware())
	engine.POST("/upload/:key", s.putSingle)
	engine.POST("/upload-part/init/:key", s.initiate)
	engine.PUT("/upload-part/put/:key/:uploadId", s.putPart)
	engine.POST("/upload-part/finish/:key/:uploadId", s.finish)
	engine.DELETE("/upload-part/abort/:key/:uploadId", s.abort)
	return engine
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, err := auth.Authenticate(c, auth.MapTokenMatch(map[string]string{s.token: "tester"}))
		if err != nil {
			c.String(http.StatusUnauthorized, "Wrong token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func objectName(bucket, key string) string {
	return bucket + "/" + key
}

func md5Hex(b []byte) string {
	v := md5.Sum(b)
	return hex.EncodeToString(v[:])
}

func sha256Hex(b []byte) string {
	v := sha256.Sum256(b)
	return hex.EncodeToString(v[:])
}

func checkContentMD5(c *gin.Context, body []byte) bool {
	v := c.GetHeader("Content-MD5")
	if len(v) == 0 {
		return true
	}
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return false
	}
	sum := md5.Sum(body)
	return string(raw) == string(sum[:])
}

func (s *Server) putSingle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	if !checkContentMD5(c, body) {
		c.String(http.StatusBadRequest, "BadDigest")
		return
	}
	key := s.KeyPrefix + c.Param("key")
	bucket := c.GetHeader("X-Pdrive-Bucket")
	s.mu.Lock()
	s.singles++
	s.objects[objectName(bucket, key)] = body
	s.mu.Unlock()
	if s.PlainText {
		c.String(http.StatusOK, key)
		return
	}
	c.JSON(http.StatusOK, &objectResponse{Key: key, Size: int64(len(body)) + s.SizeDelta, ETag: "\"" + md5Hex(body) + "\"", Sha256: sha256Hex(body)})
}

func (s *Server) initiate(c *gin.Context) {
	id := uuid.NewString()
	key := s.KeyPrefix + c.Param("key")
	s.mu.Lock()
	s.inits++
	s.uploads[id] = &upload{bucket: c.GetHeader("X-Pdrive-Bucket"), key: key, parts: make(map[int][]byte)}
	s.mu.Unlock()
	c.JSON(http.StatusOK, &initiateResponse{Key: key, UploadId: id})
}

func (s *Server) putPart(c *gin.Context) {
	partNumber, err := strconv.Atoi(c.Query("partNumber"))
	if err != nil || partNumber <= 0 {
		c.String(http.StatusBadRequest, "invalid partNumber")
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	s.partAttempts[partNumber]++
	attempt := s.partAttempts[partNumber]
	up, ok := s.uploads[c.Param("uploadId")]
	s.mu.Unlock()
	if !ok || up.key != c.Param("key") {
		c.String(http.StatusNotFound, "NoSuchUpload")
		return
	}
	if s.PartFault != nil {
		if code := s.PartFault(partNumber, attempt); code != 0 {
			c.String(code, "injected failure")
			return
		}
	}
	if !checkContentMD5(c, body) {
		c.String(http.StatusBadRequest, "BadDigest")
		return
	}
	etag := md5Hex(body)
	if s.PartCorrupt != nil && s.PartCorrupt(partNumber, attempt) {
		etag = md5Hex(append([]byte("corrupt"), body...))
	}
	s.mu.Lock()
	up.parts[partNumber] = body
	s.mu.Unlock()
	c.JSON(http.StatusOK, &partResponse{PartNumber: partNumber, ETag: "\"" + etag + "\""})
}

func (s *Server) finish(c *gin.Context) {
	var parts []finishPart
	if err := c.ShouldBindJSON(&parts); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes++
	up, ok := s.uploads[c.Param("uploadId")]
	if !ok || up.key != c.Param("key") {
		c.String(http.StatusNotFound, "NoSuchUpload")
		return
	}
	if len(parts) != len(up.parts) {
		c.String(http.StatusConflict, fmt.Sprintf("part count mismatch, sent:%d, stored:%d", len(parts), len(up.parts)))
		return
	}
	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber }) {
		c.String(http.StatusConflict, "InvalidPartOrder")
		return
	}
	var data []byte
	var md5s []byte
	for _, p := range parts {
		body, ok := up.parts[p.PartNumber]
		if !ok || !strings.EqualFold(strings.Trim(p.ETag, "\""), md5Hex(body)) {
			c.String(http.StatusConflict, fmt.Sprintf("InvalidPart:%d", p.PartNumber))
			return
		}
		data = append(data, body...)
		sum := md5.Sum(body)
		md5s = append(md5s, sum[:]...)
	}
	s.objects[objectName(up.bucket, up.key)] = data
	delete(s.uploads, c.Param("uploadId"))
	if s.PlainText {
		c.String(http.StatusOK, up.key)
		return
	}
	etag := fmt.Sprintf("\"%s-%d\"", md5Hex(md5s), len(parts))
	c.JSON(http.StatusOK, &objectResponse{Key: up.key, Size: int64(len(data)) + s.SizeDelta, ETag: etag})
}

func (s *Server) abort(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts++
	if up, ok := s.uploads[c.Param("uploadId")]; !ok || up.key != c.Param("key") {
		c.String(http.StatusNotFound, "NoSuchUpload")
		return
	}
	delete(s.uploads, c.Param("uploadId"))
	c.Status(http.StatusNoContent)
}

func (s *Server) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.objects[objectName(bucket, key)]
	return v, ok
}

func (s *Server) PartAttempts(partNumber int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partAttempts[partNumber]
}

func (s *Server) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

func (s *Server) Inits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

func (s *Server) Singles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.singles
}

func (s *Server) Completes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completes
}

func (s *Server) PendingUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}
