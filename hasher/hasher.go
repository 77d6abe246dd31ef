package hasher

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"

	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
)

const (
	defaultReadBufferSize = 64 * 1024
)

type Digest struct {
	MD5    []byte
	SHA256 []byte
	Size   int64
}

func (d *Digest) ToPartDigest() entity.PartDigest {
	return entity.PartDigest{MD5: d.MD5, SHA256: d.SHA256}
}

func (d *Digest) MD5Hex() string {
	return hex.EncodeToString(d.MD5)
}

func (d *Digest) SHA256Hex() string {
	return hex.EncodeToString(d.SHA256)
}

// Hasher computes md5 and sha256 of everything written to it.
type Hasher struct {
	md5v    hash.Hash
	sha256v hash.Hash
	size    int64
}

func New() *Hasher {
	return &Hasher{
		md5v:    md5.New(),
		sha256v: sha256.New(),
	}
}

func (h *Hasher) Write(p []byte) (int, error) {
	_, _ = h.md5v.Write(p)
	_, _ = h.sha256v.Write(p)
	h.size += int64(len(p))
	return len(p), nil
}

func (h *Hasher) Digest() *Digest {
	return &Digest{
		MD5:    h.md5v.Sum(nil),
		SHA256: h.sha256v.Sum(nil),
		Size:   h.size,
	}
}

func (h *Hasher) Reset() {
	h.md5v.Reset()
	h.sha256v.Reset()
	h.size = 0
}

// FileHasher 一次遍历同时得到分片摘要和整个文件的摘要
type FileHasher struct {
	whole *Hasher
	chunk *Hasher
}

func NewFileHasher() *FileHasher {
	return &FileHasher{
		whole: New(),
		chunk: New(),
	}
}

func (f *FileHasher) Write(p []byte) (int, error) {
	_, _ = f.whole.Write(p)
	return f.chunk.Write(p)
}

// Cut finishes the digest of the current chunk and starts a new one.
func (f *FileHasher) Cut() *Digest {
	d := f.chunk.Digest()
	f.chunk.Reset()
	return d
}

func (f *FileHasher) Sum() *Digest {
	return f.whole.Digest()
}

// SumChunks streams r once in plan order and returns the whole file digest
// with one digest per chunk. buf is allocated when nil.
func SumChunks(r io.Reader, chunks []entity.Chunk, buf []byte) (*Digest, []*Digest, error) {
	if len(buf) == 0 {
		buf = make([]byte, defaultReadBufferSize)
	}
	fh := NewFileHasher()
	rs := make([]*Digest, 0, len(chunks))
	for _, c := range chunks {
		n, err := io.CopyBuffer(fh, onlyReader{io.LimitReader(r, c.Length)}, buf)
		if err != nil {
			return nil, nil, errs.Wrap(errs.KindIO, "hash_stream", err)
		}
		if n != c.Length {
			return nil, nil, errs.New(errs.KindIO, "hash_stream", "short read on chunk:%d, read:%d, want:%d", c.Index, n, c.Length)
		}
		rs = append(rs, fh.Cut())
	}
	return fh.Sum(), rs, nil
}

// ReadChunk fills dst from r at the chunk boundary and digests it in the same pass.
func ReadChunk(r io.ReaderAt, c entity.Chunk, dst []byte) ([]byte, *Digest, error) {
	if int64(cap(dst)) < c.Length {
		dst = make([]byte, c.Length)
	}
	dst = dst[:c.Length]
	n, err := r.ReadAt(dst, c.Offset)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == c.Length) {
		return nil, nil, errs.Wrap(errs.KindIO, "read_chunk", err)
	}
	h := New()
	_, _ = h.Write(dst)
	return dst, h.Digest(), nil
}

// onlyReader hides WriterTo so CopyBuffer really uses the given buffer.
type onlyReader struct {
	io.Reader
}
