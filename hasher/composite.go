package hasher

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/TraceLTRC/pdrive-cli/entity"
)

// Composite aggregates part digests that may arrive in any order.
// The results only depend on the set of parts, not on arrival order.
type Composite struct {
	mu    sync.Mutex
	parts map[int]entity.PartDigest
}

func NewComposite() *Composite {
	return &Composite{parts: make(map[int]entity.PartDigest)}
}

func NewCompositeFromParts(parts []entity.PartResult) *Composite {
	c := NewComposite()
	for _, p := range parts {
		c.Add(p.Index, p.Digest)
	}
	return c
}

func (c *Composite) Add(index int, d entity.PartDigest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parts[index] = d
}

func (c *Composite) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.parts)
}

func (c *Composite) sorted() []entity.PartDigest {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := make([]int, 0, len(c.parts))
	for i := range c.parts {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	rs := make([]entity.PartDigest, 0, len(idx))
	for _, i := range idx {
		rs = append(rs, c.parts[i])
	}
	return rs
}

// ETag returns the etag an S3 compatible store reports for the completed
// multipart object: hex(md5(md5_1 || ... || md5_n))-n.
func (c *Composite) ETag() string {
	parts := c.sorted()
	h := md5.New()
	for _, p := range parts {
		_, _ = h.Write(p.MD5)
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(h.Sum(nil)), len(parts))
}

// Sum is the aggregate sha256 over the part sha256 values in index order.
func (c *Composite) Sum() []byte {
	parts := c.sorted()
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write(p.SHA256)
	}
	return h.Sum(nil)
}

func (c *Composite) SumHex() string {
	return hex.EncodeToString(c.Sum())
}

// MatchETag compares a server etag with the locally computed one.
// Etags that are not md5 based (e.g. sse-kms objects) can't be checked and are
// reported as matching.
func MatchETag(server string, expect string) bool {
	server = NormalizeETag(server)
	if !isMD5ETag(server) {
		return true
	}
	return strings.EqualFold(server, expect)
}

func NormalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, "\"")
}

func isMD5ETag(etag string) bool {
	body := etag
	if i := strings.LastIndexByte(etag, '-'); i >= 0 {
		body = etag[:i]
		if i == len(etag)-1 {
			return false
		}
		for _, ch := range etag[i+1:] {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	if len(body) != 32 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}
